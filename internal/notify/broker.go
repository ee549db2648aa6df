package notify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/jason-s-yu/raven/internal/config"
	apperrors "github.com/jason-s-yu/raven/internal/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// ReplyLedger remembers the reply sent for each creation request so a
// redelivered request is answered again instead of creating a second session.
type ReplyLedger interface {
	Lookup(ctx context.Context, correlationID string) (reply []byte, found bool, err error)
	Remember(ctx context.Context, correlationID string, reply []byte) error
}

// amqpChannel is the subset of *amqp.Channel the broker uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// notifyBacklog bounds the updates waiting to be published.
const notifyBacklog = 256

// Broker talks to the lobby through a message broker. Outbound updates are
// published to the notification queue; inbound creation requests are consumed
// from the creation queue and answered on their reply-to queue.
type Broker struct {
	cfg    config.Rabbit
	conn   *amqp.Connection
	ledger ReplyLedger
	logger *logrus.Logger

	// mu serializes every publish and acknowledgement on the shared channel.
	mu sync.Mutex
	ch amqpChannel

	outbox    chan []byte
	stop      chan struct{}
	drained   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// DialBroker connects, declares the topology and returns a ready broker.
func DialBroker(ctx context.Context, cfg config.Rabbit, ledger ReplyLedger, logger *logrus.Logger) (*Broker, error) {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(cfg.Username, cfg.Password),
		Host:   cfg.Host,
	}
	if cfg.VHost != "" {
		u.Path = "/" + cfg.VHost
		u.RawPath = "/" + url.PathEscape(cfg.VHost)
	}
	conn, err := amqp.Dial(u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker at %s: %w", cfg.Host, err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open broker channel: %w", err)
	}

	b := newBroker(cfg, ch, ledger, logger)
	b.conn = conn
	if err := b.declareTopology(); err != nil {
		b.Close()
		return nil, err
	}
	logger.Infof("broker transport ready on exchange %q (create=%s notify=%s pattern=%s)",
		cfg.Exchange, cfg.CreateQueue, cfg.NotifyQueue, cfg.RoutingPattern)
	return b, nil
}

func newBroker(cfg config.Rabbit, ch amqpChannel, ledger ReplyLedger, logger *logrus.Logger) *Broker {
	b := &Broker{
		cfg:     cfg,
		ch:      ch,
		ledger:  ledger,
		logger:  logger,
		outbox:  make(chan []byte, notifyBacklog),
		stop:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	go b.publishLoop()
	return b
}

func (b *Broker) declareTopology() error {
	if err := b.ch.ExchangeDeclare(b.cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", b.cfg.Exchange, err)
	}
	for _, q := range []string{b.cfg.CreateQueue, b.cfg.NotifyQueue} {
		if _, err := b.ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
		if err := b.ch.QueueBind(q, b.cfg.RoutingPattern, b.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", q, err)
		}
	}
	return nil
}

// Deliver queues the batch for the notification queue and returns without
// waiting on the broker. No reply is expected. Batches are published in order.
func (b *Broker) Deliver(_ context.Context, updates []Update) {
	body, err := NewEnvelope(updates).Marshal()
	if err != nil {
		b.logger.Errorf("failed to marshal lobby updates: %v", err)
		return
	}
	select {
	case <-b.stop:
		b.logDeliveryFailure(errors.New("broker transport is closed"))
		return
	default:
	}
	select {
	case b.outbox <- body:
	default:
		b.logDeliveryFailure(fmt.Errorf("%d updates already waiting", notifyBacklog))
	}
}

// publishLoop publishes queued batches until Close, then flushes what is left.
func (b *Broker) publishLoop() {
	defer close(b.drained)
	for {
		select {
		case body := <-b.outbox:
			b.publishUpdate(body)
		case <-b.stop:
			for {
				select {
				case body := <-b.outbox:
					b.publishUpdate(body)
				default:
					return
				}
			}
		}
	}
}

func (b *Broker) publishUpdate(body []byte) {
	err := b.publish(context.Background(), b.cfg.NotifyQueue, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		b.logDeliveryFailure(err)
	}
}

func (b *Broker) logDeliveryFailure(err error) {
	err = apperrors.Wrap(apperrors.CodeDeliveryFailure, err, "publish to %s", b.cfg.NotifyQueue)
	b.logger.WithField("code", apperrors.CodeDeliveryFailure).Errorf("error notifying lobby: %v", err)
}

// ServeCreateRequests consumes the creation queue until ctx is done.
func (b *Broker) ServeCreateRequests(ctx context.Context, h CreateRequestHandler) error {
	b.mu.Lock()
	deliveries, err := b.ch.Consume(b.cfg.CreateQueue, "", false, false, false, false, nil)
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("consume %s: %w", b.cfg.CreateQueue, err)
	}
	b.logger.Infof("waiting for creation requests on %s", b.cfg.CreateQueue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("broker closed the creation request stream")
			}
			b.handleCreateRequest(ctx, d, h)
		}
	}
}

// handleCreateRequest answers one creation request. The message is acked only
// after the reply is published; a failed publish requeues it.
func (b *Broker) handleCreateRequest(ctx context.Context, d amqp.Delivery, h CreateRequestHandler) {
	log := b.logger.WithFields(logrus.Fields{
		"correlation_id": d.CorrelationId,
		"reply_to":       d.ReplyTo,
	})
	log.Debugf("creation request: %s", string(d.Body))

	if reply, found := b.lookupReply(ctx, d.CorrelationId); found {
		log.Info("creation request redelivered, replaying recorded reply")
		b.replyAndAck(ctx, d, reply, nil, log)
		return
	}

	reply, followUp, err := h(ctx, d.Body)
	if err != nil {
		log.Errorf("creation request failed, requeueing: %v", err)
		b.settle(func() error { return d.Nack(false, true) }, log)
		return
	}

	if b.ledger != nil && d.CorrelationId != "" {
		if err := b.ledger.Remember(ctx, d.CorrelationId, reply); err != nil {
			log.Warnf("failed to record creation reply: %v", err)
		}
	}
	b.replyAndAck(ctx, d, reply, followUp, log)
}

func (b *Broker) lookupReply(ctx context.Context, correlationID string) ([]byte, bool) {
	if b.ledger == nil || correlationID == "" {
		return nil, false
	}
	reply, found, err := b.ledger.Lookup(ctx, correlationID)
	if err != nil {
		b.logger.Warnf("reply ledger lookup for %s failed: %v", correlationID, err)
		return nil, false
	}
	return reply, found
}

func (b *Broker) replyAndAck(ctx context.Context, d amqp.Delivery, reply []byte, followUp func(context.Context), log *logrus.Entry) {
	if d.ReplyTo != "" {
		err := b.publish(ctx, d.ReplyTo, amqp.Publishing{
			ContentType:   "application/json",
			CorrelationId: d.CorrelationId,
			Body:          reply,
		})
		if err != nil {
			log.Errorf("failed to publish creation reply, requeueing: %v", err)
			b.settle(func() error { return d.Nack(false, true) }, log)
			return
		}
	} else {
		log.Warn("creation request has no reply-to, dropping reply")
	}

	if !b.settle(func() error { return d.Ack(false) }, log) {
		return
	}
	if followUp != nil {
		followUp(ctx)
	}
}

// settle runs an ack/nack under the channel lock.
func (b *Broker) settle(fn func() error, log *logrus.Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := fn(); err != nil {
		log.Errorf("failed to settle creation request: %v", err)
		return false
	}
	return true
}

// publish sends msg to the named queue through the default exchange.
func (b *Broker) publish(ctx context.Context, queue string, msg amqp.Publishing) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ch.PublishWithContext(ctx, "", queue, false, false, msg)
}

// Close publishes any queued updates, then shuts the channel and connection.
func (b *Broker) Close() error {
	b.closeOnce.Do(func() {
		close(b.stop)
		<-b.drained

		b.mu.Lock()
		defer b.mu.Unlock()
		var errs []error
		if b.ch != nil {
			errs = append(errs, b.ch.Close())
		}
		if b.conn != nil {
			errs = append(errs, b.conn.Close())
		}
		b.closeErr = errors.Join(errs...)
	})
	return b.closeErr
}
