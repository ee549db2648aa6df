package notify

import (
	"bytes"
	"encoding/json"
)

const (
	envelopeMethod  = "game-updates"
	envelopeID      = 7224
	envelopeVersion = "2.0"
)

// Envelope is the wrapper the lobby expects around every batch of updates.
type Envelope struct {
	Method  string `json:"method"`
	ID      int    `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Params  Params `json:"params"`
}

type Params struct {
	Payload Payload `json:"payload"`
}

type Payload struct {
	Update   UpdateList        `json:"update,omitempty"`
	Outcomes []json.RawMessage `json:"outcomes,omitempty"`
}

// UpdateList marshals as a bare object when it holds exactly one update and
// as an array otherwise. The lobby distinguishes the two shapes.
type UpdateList []Update

func (l UpdateList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]Update(l))
}

func (l *UpdateList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var u Update
		if err := json.Unmarshal(data, &u); err != nil {
			return err
		}
		*l = UpdateList{u}
		return nil
	}
	var list []Update
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*l = list
	return nil
}

// NewEnvelope wraps a batch of updates.
func NewEnvelope(updates []Update) Envelope {
	return Envelope{
		Method:  envelopeMethod,
		ID:      envelopeID,
		JSONRPC: envelopeVersion,
		Params:  Params{Payload: Payload{Update: UpdateList(updates)}},
	}
}

// Marshal serializes the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}
