// Package dispatch serializes inbound updates per chat. Updates for one chat
// run one at a time in arrival order; different chats run concurrently.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/h1v3-io/helpdesk/internal/connector"
	"github.com/h1v3-io/helpdesk/pkg/protocol"
)

type unit struct {
	id  string
	upd connector.Update
}

// lane is one chat's queue. A lane exists only while it has work; its
// worker deletes it when drained.
type lane struct {
	pending []unit
}

// Dispatcher fans updates out to per-chat lanes.
type Dispatcher struct {
	mu      sync.Mutex
	lanes   map[protocol.ChatID]*lane
	handler connector.Handler
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// New creates a Dispatcher that runs handler for every update.
func New(handler connector.Handler, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		lanes:   make(map[protocol.ChatID]*lane),
		handler: handler,
		logger:  logger,
	}
}

// Dispatch enqueues upd on its chat's lane and returns immediately. Its
// signature matches connector.Handler so it can sit in front of the engine.
func (d *Dispatcher) Dispatch(ctx context.Context, upd connector.Update) error {
	u := unit{id: uuid.NewString(), upd: upd}

	d.mu.Lock()
	defer d.mu.Unlock()

	if l, ok := d.lanes[upd.ChatID]; ok {
		l.pending = append(l.pending, u)
		d.logger.Debug("update queued", "chat_id", int64(upd.ChatID), "unit", u.id, "depth", len(l.pending))
		return nil
	}

	d.lanes[upd.ChatID] = &lane{pending: []unit{u}}
	d.wg.Add(1)
	go d.drain(ctx, upd.ChatID)
	return nil
}

func (d *Dispatcher) drain(ctx context.Context, id protocol.ChatID) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		l := d.lanes[id]
		if len(l.pending) == 0 {
			delete(d.lanes, id)
			d.mu.Unlock()
			return
		}
		u := l.pending[0]
		l.pending = l.pending[1:]
		d.mu.Unlock()

		d.run(ctx, u)
	}
}

func (d *Dispatcher) run(ctx context.Context, u unit) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("update handler panicked",
				"chat_id", int64(u.upd.ChatID),
				"unit", u.id,
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()

	if err := d.handler(ctx, u.upd); err != nil {
		d.logger.Error("update failed",
			"chat_id", int64(u.upd.ChatID),
			"unit", u.id,
			"kind", u.upd.Kind.String(),
			"error", err,
		)
	}
}

// Active returns the number of chats with queued or running work.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.lanes)
}

// Wait blocks until every lane has drained.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
