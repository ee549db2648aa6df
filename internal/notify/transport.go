package notify

import (
	"context"
	"fmt"

	"github.com/jason-s-yu/raven/internal/config"
	"github.com/sirupsen/logrus"
)

// Transport delivers batches of updates to the lobby. Delivery is
// fire-and-forget: failures are logged by the transport and never reach the caller.
type Transport interface {
	Deliver(ctx context.Context, updates []Update)
	// Close waits for in-flight deliveries and releases the transport's resources.
	Close() error
}

// CreateRequestHandler handles one lobby-originated creation request and
// returns the reply body. followUp, if non-nil, runs once the reply has been
// published and the request acknowledged. A non-nil error means the request
// could not be processed and should be redelivered.
type CreateRequestHandler func(ctx context.Context, body []byte) (reply []byte, followUp func(context.Context), err error)

// CreationServer is implemented by transports that also receive creation
// requests from the lobby. Serve blocks until ctx is done or the transport fails.
type CreationServer interface {
	ServeCreateRequests(ctx context.Context, h CreateRequestHandler) error
}

// NewTransport builds the transport selected by cfg.LobbyMode. The choice is
// made once per process.
func NewTransport(ctx context.Context, cfg *config.Config, slug string, ledger ReplyLedger, logger *logrus.Logger) (Transport, error) {
	switch cfg.LobbyMode {
	case config.ModeWebService:
		return NewWebService(cfg.EGS, logger), nil
	case config.ModeAMQP:
		return DialBroker(ctx, cfg.Rabbit.WithDefaults(slug), ledger, logger)
	default:
		return nil, fmt.Errorf("unknown lobby mode %q", cfg.LobbyMode)
	}
}
