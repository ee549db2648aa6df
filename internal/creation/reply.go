package creation

import (
	"encoding/xml"
	"io"

	"github.com/google/uuid"
)

const (
	StatOK    = "OK"
	StatError = "ERROR"
)

// Reply is the lobby's answer format for creation requests.
type Reply struct {
	Stat  string    `json:"stat"`
	Msg   string    `json:"msg,omitempty"`
	Games *GameList `json:"glst,omitempty"`
}

type GameList struct {
	Count int     `json:"cnt" xml:"cnt"`
	Game  GameRef `json:"game" xml:"game"`
}

type GameRef struct {
	ID string `json:"gid" xml:"gid"`
}

func OK(id uuid.UUID) Reply {
	return Reply{Stat: StatOK, Games: &GameList{Count: 1, Game: GameRef{ID: id.String()}}}
}

func Failure(msg string) Reply {
	return Reply{Stat: StatError, Msg: msg}
}

// WriteXML writes the reply as a sequence of top-level elements with no
// enclosing root: <stat/>, then <msg/> and <glst/> when set.
func (r Reply) WriteXML(w io.Writer) error {
	enc := xml.NewEncoder(w)
	if err := enc.EncodeElement(r.Stat, xml.StartElement{Name: xml.Name{Local: "stat"}}); err != nil {
		return err
	}
	if r.Msg != "" {
		if err := enc.EncodeElement(r.Msg, xml.StartElement{Name: xml.Name{Local: "msg"}}); err != nil {
			return err
		}
	}
	if r.Games != nil {
		if err := enc.EncodeElement(r.Games, xml.StartElement{Name: xml.Name{Local: "glst"}}); err != nil {
			return err
		}
	}
	return enc.Flush()
}
