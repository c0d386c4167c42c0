// Package jobs adapts a cron scheduler into the keyed recurring-job engine
// the rest of the service drives. Jobs are addressed by opaque string keys;
// upserting an existing key replaces its schedule and payload atomically
// from the caller's point of view.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"pushpoint/internal/types"
)

// Handler is invoked when a registered job fires. Implementations must not
// panic and must not block indefinitely; the engine recovers panics but a
// stuck handler delays nothing else only because each job runs in its own
// goroutine.
type Handler func(ctx context.Context, key string, payload types.PushPayload)

// CronEngine is an in-process JobEngine backed by robfig/cron. Entries live
// only as long as the process; the boot-time resync pass rebuilds them from
// the schedule store.
type CronEngine struct {
	cron    *cron.Cron
	handler Handler
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewCronEngine creates an engine that dispatches fired jobs to handler.
func NewCronEngine(handler Handler, logger *slog.Logger) *CronEngine {
	if logger == nil {
		logger = slog.Default()
	}
	cl := &cronLogger{logger: logger}
	return &CronEngine{
		cron: cron.New(
			cron.WithChain(cron.Recover(cl)),
		),
		handler: handler,
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins firing registered jobs. Safe to call before or after Upsert.
func (e *CronEngine) Start() {
	e.cron.Start()
}

// Stop halts scheduling and waits for in-flight jobs to finish, or for ctx
// to expire, whichever comes first.
func (e *CronEngine) Stop(ctx context.Context) error {
	stopCtx := e.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Upsert registers the job identified by key with the given five-field cron
// spec and IANA timezone, replacing any existing entry under the same key.
func (e *CronEngine) Upsert(_ context.Context, key, cronSpec, timezone string, payload types.PushPayload) error {
	spec := cronSpec
	if timezone != "" {
		spec = "CRON_TZ=" + timezone + " " + cronSpec
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id, err := e.cron.AddFunc(spec, func() {
		e.handler(context.Background(), key, payload)
	})
	if err != nil {
		return fmt.Errorf("jobs: add entry %q: %w", key, err)
	}

	if prev, ok := e.entries[key]; ok {
		e.cron.Remove(prev)
	}
	e.entries[key] = id
	return nil
}

// Cancel removes the job identified by key. Unknown keys are a no-op.
func (e *CronEngine) Cancel(_ context.Context, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if id, ok := e.entries[key]; ok {
		e.cron.Remove(id)
		delete(e.entries, key)
	}
	return nil
}

// Len reports the number of live entries.
func (e *CronEngine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// Has reports whether a job is registered under key.
func (e *CronEngine) Has(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.entries[key]
	return ok
}

// cronLogger adapts slog to the cron.Logger interface used by the panic
// recovery chain.
type cronLogger struct {
	logger *slog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	args := append([]interface{}{"error", err}, keysAndValues...)
	l.logger.Error(msg, args...)
}
