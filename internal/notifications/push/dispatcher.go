// Package push delivers fired notification jobs to their destination
// devices. The Dispatcher sits between the job engine and the push
// transport: it is the engine's fire callback, and it must never let a bad
// payload or a provider outage take the scheduler loop down.
package push

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"pushpoint/internal/types"
)

// DefaultSendTimeout bounds one delivery attempt end to end, including the
// transport's internal retries.
const DefaultSendTimeout = 30 * time.Second

// Transport delivers one notification to one destination. Implemented by
// external.ExpoClient.
type Transport interface {
	IsValidDestination(token string) bool
	Send(ctx context.Context, destination, title, body string) error
}

// Dispatcher handles fired jobs. All failures are terminal for the
// occurrence: they are logged and counted, never propagated, and the job
// stays registered for its next scheduled firing.
type Dispatcher struct {
	transport Transport
	metrics   Metrics
	logger    *slog.Logger
	timeout   time.Duration
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithSendTimeout overrides the per-delivery timeout.
func WithSendTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.timeout = d
		}
	}
}

func NewDispatcher(transport Transport, metrics Metrics, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		transport: transport,
		metrics:   metrics,
		logger:    logger,
		timeout:   DefaultSendTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends payload to its destination. Matches the jobs.Handler
// signature.
func (d *Dispatcher) Dispatch(ctx context.Context, key string, payload types.PushPayload) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.ErrorContext(ctx, "panic during dispatch",
				"job_key", key,
				"panic", r,
			)
		}
	}()

	// The destination may have been valid at registration time and gone
	// stale since. Re-check before spending a network call on it.
	if !d.transport.IsValidDestination(payload.Destination) {
		d.logger.WarnContext(ctx, "skipping dispatch to malformed destination",
			"job_key", key,
		)
		d.metrics.RecordDelivery(ctx, ResultInvalidDestination)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.transport.Send(sendCtx, payload.Destination, payload.Title, payload.Body)
	d.metrics.RecordLatency(ctx, time.Since(start))

	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeValidationInvalidDestination {
			d.logger.WarnContext(ctx, "destination no longer registered",
				"job_key", key,
			)
			d.metrics.RecordDelivery(ctx, ResultInvalidDestination)
			return
		}
		d.logger.ErrorContext(ctx, "push delivery failed",
			"job_key", key,
			"error", err,
		)
		d.metrics.RecordDelivery(ctx, ResultFailure)
		return
	}

	d.logger.InfoContext(ctx, "push delivered", "job_key", key)
	d.metrics.RecordDelivery(ctx, ResultSuccess)
}
