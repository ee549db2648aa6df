package notify

import (
	"context"

	"github.com/google/uuid"
	apperrors "github.com/jason-s-yu/raven/internal/errors"
	"github.com/jason-s-yu/raven/internal/models"
	"github.com/sirupsen/logrus"
)

// Protocol translates session events into update batches and pushes them
// through a Transport. It holds no per-session state; callers pass the
// session ID and role assignment on every call.
type Protocol struct {
	transport Transport
	title     Title
	logger    *logrus.Logger
}

// NewProtocol binds the protocol to a transport and the hosted game's title.
func NewProtocol(transport Transport, title Title, logger *logrus.Logger) *Protocol {
	return &Protocol{transport: transport, title: title, logger: logger}
}

// Move marks activeRole as the player the game is waiting on and every other role as pending.
func (p *Protocol) Move(ctx context.Context, sessionID uuid.UUID, roles map[string]string, activeRole string) error {
	active, ok := roles[activeRole]
	if !ok {
		return apperrors.New(apperrors.CodeInvalidRole, "invalid role: %s", activeRole)
	}
	updates := make([]Update, 0, len(roles))
	for _, role := range sortedKeys(roles) {
		if role == activeRole {
			continue
		}
		updates = append(updates, BuildUpdate(p.title, sessionID, roles[role], models.StatePending))
	}
	updates = append(updates, BuildUpdate(p.title, sessionID, active, models.StateAttention))

	p.log(sessionID).WithField("role", activeRole).Infof("notifying lobby that it's %s's turn", active)
	p.deliver(ctx, updates)
	return nil
}

// Forfeit ends the game: the forfeiting player gets Forfeit, everyone else Win, all with score 0.
func (p *Protocol) Forfeit(ctx context.Context, sessionID uuid.UUID, roles map[string]string, forfeitingRole string) error {
	loser, ok := roles[forfeitingRole]
	if !ok {
		return apperrors.New(apperrors.CodeInvalidRole, "invalid role: %s", forfeitingRole)
	}
	updates := make([]Update, 0, len(roles))
	for _, role := range sortedKeys(roles) {
		gamingID := roles[role]
		outcome := models.OutcomeWin
		if gamingID == loser {
			outcome = models.OutcomeForfeit
		}
		updates = append(updates, BuildUpdate(p.title, sessionID, gamingID, models.StateOver,
			WithScore(0), WithOutcome(outcome)))
	}

	p.log(sessionID).WithField("role", forfeitingRole).Info("notifying lobby of forfeit")
	p.deliver(ctx, updates)
	return nil
}

// Draw ends the game as a draw for everyone. No score is reported.
func (p *Protocol) Draw(ctx context.Context, sessionID uuid.UUID, roles map[string]string) {
	updates := make([]Update, 0, len(roles))
	for _, role := range sortedKeys(roles) {
		updates = append(updates, BuildUpdate(p.title, sessionID, roles[role], models.StateOver,
			WithOutcome(models.OutcomeDraw)))
	}

	p.log(sessionID).Info("notifying lobby that the game is a draw")
	p.deliver(ctx, updates)
}

// Gameover ends the game with a winner. Each role's score is taken from scores when present.
func (p *Protocol) Gameover(ctx context.Context, sessionID uuid.UUID, roles map[string]string, winningRole string, scores map[string]int) error {
	winner, ok := roles[winningRole]
	if !ok {
		return apperrors.New(apperrors.CodeInvalidRole, "invalid role: %s", winningRole)
	}
	updates := make([]Update, 0, len(roles))
	for _, role := range sortedKeys(roles) {
		gamingID := roles[role]
		opts := []UpdateOption{WithOutcome(models.OutcomeLose)}
		if gamingID == winner {
			opts[0] = WithOutcome(models.OutcomeWin)
		}
		if score, ok := scores[role]; ok {
			opts = append(opts, WithScore(score))
		}
		updates = append(updates, BuildUpdate(p.title, sessionID, gamingID, models.StateOver, opts...))
	}

	p.log(sessionID).WithField("role", winningRole).Info("notifying lobby that it's gameover")
	p.deliver(ctx, updates)
	return nil
}

// SetPlayerState reports an explicit role -> state map. Every role and state
// is validated before anything is delivered.
func (p *Protocol) SetPlayerState(ctx context.Context, sessionID uuid.UUID, roles map[string]string, states map[string]models.AttentionState) error {
	for _, role := range sortedKeys(states) {
		if _, ok := roles[role]; !ok {
			return apperrors.New(apperrors.CodeInvalidRole, "invalid role: %s", role)
		}
		if !states[role].Valid() {
			return apperrors.New(apperrors.CodeInvalidState,
				"invalid state: '%s'. Must be one of ATTN, PEND or OVER", states[role])
		}
	}
	p.deliver(ctx, BuildUpdates(p.title, sessionID, roles, states))
	return nil
}

func (p *Protocol) deliver(ctx context.Context, updates []Update) {
	if len(updates) == 0 {
		return
	}
	p.transport.Deliver(ctx, updates)
}

func (p *Protocol) log(sessionID uuid.UUID) *logrus.Entry {
	return p.logger.WithField("session", sessionID)
}
