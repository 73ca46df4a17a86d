// Package dispatch fans deletion events out to interested parties: subscriber
// webhooks, a Redis channel, an S3 receipt archive and live WebSocket clients.
//
// Dispatch runs after a delete has been committed. Sink failures are logged
// and never reach the caller of the delete.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/neuroweave/internal/store"
)

const defaultTimeout = 10 * time.Second

// Event is published once per successful delete.
type Event struct {
	Type    string        `json:"type"`
	MemID   string        `json:"mem_id"`
	Receipt store.Receipt `json:"receipt"`
}

// EventDeleted is the type of every event published today.
const EventDeleted = "memory.deleted"

// Sink receives events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// Dispatcher publishes to all registered sinks in parallel.
type Dispatcher struct {
	mu      sync.RWMutex
	sinks   []Sink
	timeout time.Duration
	wg      sync.WaitGroup
}

// New creates a Dispatcher. Each dispatch is bounded by timeout (default 10s).
func New(timeout time.Duration, sinks ...Sink) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Dispatcher{sinks: sinks, timeout: timeout}
}

// Add registers another sink.
func (d *Dispatcher) Add(s Sink) {
	d.mu.Lock()
	d.sinks = append(d.sinks, s)
	d.mu.Unlock()
}

// Sinks returns the names of the registered sinks.
func (d *Dispatcher) Sinks() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// EnvelopeDeleted starts an asynchronous dispatch of r. The request context's
// values are kept; its cancellation is not.
func (d *Dispatcher) EnvelopeDeleted(ctx context.Context, r store.Receipt) {
	ev := Event{Type: EventDeleted, MemID: r.MemID, Receipt: r}
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		if err := d.Publish(ctx, ev); err != nil {
			slog.Warn("dispatch.failed", "mem_id", ev.MemID, "error", err)
		}
	}()
}

// Publish delivers ev to every sink and waits for all of them. The returned
// error joins the failures of individual sinks.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) error {
	d.mu.RLock()
	sinks := append([]Sink(nil), d.sinks...)
	d.mu.RUnlock()

	errs := make([]error, len(sinks))
	var g errgroup.Group
	for i, s := range sinks {
		g.Go(func() error {
			if err := s.Publish(ctx, ev); err != nil {
				errs[i] = fmt.Errorf("%s: %w", s.Name(), err)
				return nil
			}
			slog.Debug("dispatch.delivered", "sink", s.Name(), "mem_id", ev.MemID)
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// Wait blocks until in-flight dispatches finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
