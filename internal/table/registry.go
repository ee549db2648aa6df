// internal/table/registry.go
package table

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/raven/internal/game"
	"github.com/jason-s-yu/raven/internal/models"
	"github.com/sirupsen/logrus"
)

// Registry maps session IDs to live tables. At most one table exists per session.
type Registry struct {
	mu     sync.Mutex
	tables map[uuid.UUID]*Table

	factory  game.Factory
	store    Store
	notifier Notifier
	logger   *logrus.Logger
	now      func() time.Time
}

func NewRegistry(factory game.Factory, store Store, notifier Notifier, logger *logrus.Logger) *Registry {
	return &Registry{
		tables:   make(map[uuid.UUID]*Table),
		factory:  factory,
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// FindOrCreate returns the live table for sess, building it from the
// persisted record if none is loaded. Concurrent callers for the same
// session always receive the same instance.
func (r *Registry) FindOrCreate(ctx context.Context, sess *models.Session) (*Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tables[sess.ID]; ok {
		return t, nil
	}
	t, err := newTable(ctx, sess, r.factory, r.store, r.notifier, r.logger)
	if err != nil {
		return nil, err
	}
	t.now = r.now
	t.idleSince = r.now()
	r.tables[sess.ID] = t
	return t, nil
}

// Get returns the live table for id, if loaded.
func (r *Registry) Get(id uuid.UUID) (*Table, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tables[id]
	return t, ok
}

// Evict unloads t and disconnects everyone attached to it. A table that has
// already been replaced in the registry is only closed.
func (r *Registry) Evict(t *Table) {
	r.mu.Lock()
	if cur, ok := r.tables[t.ID()]; ok && cur == t {
		delete(r.tables, t.ID())
	}
	r.mu.Unlock()

	t.close()
	r.logger.WithField("session", t.ID()).Warn("table evicted")
}

// Len is the number of loaded tables.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tables)
}

// TotalConnectedPlayers sums the attached identities across all tables.
func (r *Registry) TotalConnectedPlayers() int {
	r.mu.Lock()
	tables := make([]*Table, 0, len(r.tables))
	for _, t := range r.tables {
		tables = append(tables, t)
	}
	r.mu.Unlock()

	total := 0
	for _, t := range tables {
		total += t.ConnectedCount()
	}
	return total
}

// Reap unloads tables nobody has been attached to for longer than idle.
func (r *Registry) Reap(now time.Time, idle time.Duration) []uuid.UUID {
	cutoff := now.Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()
	var reaped []uuid.UUID
	for id, t := range r.tables {
		if t.closeIfIdle(cutoff) {
			delete(r.tables, id)
			reaped = append(reaped, id)
		}
	}
	return reaped
}

// RunReaper calls Reap every interval until ctx is cancelled.
func (r *Registry) RunReaper(ctx context.Context, interval, idle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if ids := r.Reap(r.now(), idle); len(ids) > 0 {
				r.logger.Infof("unloaded %d idle table(s), %d loaded", len(ids), r.Len())
			}
		}
	}
}
