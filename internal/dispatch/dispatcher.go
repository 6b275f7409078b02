// Package dispatch turns bus messages into handler calls: decode, ledger
// check, route, bounded retry, ledger write, quarantine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/sukirti1329/s3-system/internal/bus"
	"github.com/sukirti1329/s3-system/internal/deadletter"
	"github.com/sukirti1329/s3-system/internal/ledger"
	"github.com/sukirti1329/s3-system/internal/shared/events"
	"github.com/sukirti1329/s3-system/internal/shared/logger"
)

// ErrMissingAggregate is returned (wrapped) by handlers when the entity an
// event refers to does not exist. The event is logged and recorded as
// processed; retrying cannot make the entity appear.
var ErrMissingAggregate = errors.New("aggregate not found")

type Handler func(ctx context.Context, env events.Envelope) error

// Routes is the finite set of event types a consumer handles.
type Routes map[events.Type]Handler

type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeMissing     Outcome = "missing_aggregate"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeQuarantined Outcome = "quarantined"
)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks a handler error as not worth retrying. The message goes
// straight to quarantine.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type Config struct {
	// Service names the consumer in logs and dead letters.
	Service string
	// MaxAttempts bounds handler runs per delivery, first run included.
	MaxAttempts  int
	RetryInitial time.Duration
	RetryMax     time.Duration
}

type Dispatcher struct {
	cfg         Config
	routes      Routes
	ledger      ledger.Ledger
	deadLetters deadletter.Store
	metrics     *Metrics
	log         *slog.Logger
	now         func() time.Time
}

func New(cfg Config, routes Routes, l ledger.Ledger, dl deadletter.Store, m *Metrics, log *slog.Logger) (*Dispatcher, error) {
	if l == nil {
		return nil, errors.New("dispatch: nil ledger")
	}
	if dl == nil {
		return nil, errors.New("dispatch: nil dead-letter store")
	}
	if len(routes) == 0 {
		return nil, errors.New("dispatch: no routes")
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 200 * time.Millisecond
	}
	if cfg.RetryMax < cfg.RetryInitial {
		cfg.RetryMax = cfg.RetryInitial
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		cfg:         cfg,
		routes:      routes,
		ledger:      l,
		deadLetters: dl,
		metrics:     m,
		log:         log.With(slog.String("service", cfg.Service)),
		now:         func() time.Time { return time.Now().UTC() },
	}, nil
}

// Handle processes one delivery. A nil error means msg may be acknowledged.
// The only error returned is the context's: the message was abandoned and
// must be delivered again.
func (d *Dispatcher) Handle(ctx context.Context, msg bus.Message) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	start := time.Now()

	env, err := events.Decode(msg.Value)
	if err != nil {
		if errors.Is(err, events.ErrUnknownEventType) {
			d.log.Warn("event_unknown_type",
				slog.String("event_id", env.ID),
				slog.String("event_type", string(env.Type)),
				slog.String("topic", msg.Topic),
			)
			return d.done(env.Type, OutcomeSkipped, start), nil
		}
		rec := deadletter.FromMessage(d.cfg.Service, msg)
		rec.EventID = env.ID
		rec.Reason = deadletter.ReasonDecodeError
		rec.LastError = err.Error()
		d.log.Error("event_decode_failed",
			slog.String("topic", msg.Topic),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
			slog.String("err", err.Error()),
		)
		if err := d.quarantine(ctx, rec); err != nil {
			return "", err
		}
		return d.done(env.Type, OutcomeQuarantined, start), nil
	}

	log := d.log.With(
		slog.String("event_id", env.ID),
		slog.String("event_type", string(env.Type)),
		slog.String("key", env.PartitionKey()),
	)
	ctx = logger.WithContext(ctx, log)

	handler, ok := d.routes[env.Type]
	if !ok {
		log.Debug("event_not_routed")
		return d.done(env.Type, OutcomeSkipped, start), nil
	}

	var seen bool
	err = d.retryForever(ctx, "ledger_seen", func() error {
		var err error
		seen, err = d.ledger.Seen(ctx, env.ID)
		return err
	})
	if err != nil {
		return "", err
	}
	if seen {
		log.Info("event_skip_duplicate")
		return d.done(env.Type, OutcomeDuplicate, start), nil
	}

	outcome := OutcomeApplied
	attempts := 0
	err = d.retryHandler(ctx, env, func() error {
		attempts++
		err := handler(ctx, env)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrMissingAggregate):
			outcome = OutcomeMissing
			log.Warn("event_missing_aggregate", slog.String("err", err.Error()))
			return nil
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		default:
			var perm *permanentError
			if errors.As(err, &perm) {
				return backoff.Permanent(err)
			}
			return err
		}
	})
	if err != nil {
		if ctx.Err() != nil {
			log.Warn("event_abandoned", slog.String("err", ctx.Err().Error()))
			return "", ctx.Err()
		}
		rec := deadletter.FromMessage(d.cfg.Service, msg)
		rec.EventID = env.ID
		rec.EventType = string(env.Type)
		rec.Reason = deadletter.ReasonHandlerFailed
		rec.LastError = err.Error()
		rec.Attempts = attempts
		log.Error("event_handler_failed", slog.Int("attempts", attempts), slog.String("err", err.Error()))
		if err := d.quarantine(ctx, rec); err != nil {
			return "", err
		}
		return d.done(env.Type, OutcomeQuarantined, start), nil
	}

	// The handler's effects are durable now; only the ledger write is retried.
	entry := ledger.EntryFor(env, d.now())
	if err := d.retryForever(ctx, "ledger_record", func() error {
		return d.ledger.Record(ctx, entry)
	}); err != nil {
		return "", err
	}

	if outcome == OutcomeApplied {
		log.Info("event_applied", slog.Int("attempts", attempts))
	}
	return d.done(env.Type, outcome, start), nil
}

func (d *Dispatcher) retryHandler(ctx context.Context, env events.Envelope, op backoff.Operation) error {
	eb := d.exponential()
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.cfg.MaxAttempts-1)), ctx)

	return backoff.RetryNotify(op, b, func(err error, wait time.Duration) {
		if d.metrics != nil {
			d.metrics.RetriesTotal.WithLabelValues(string(env.Type)).Inc()
		}
		logger.FromContext(ctx, d.log).Warn("event_retry",
			slog.String("err", err.Error()),
			slog.String("backoff", wait.String()),
		)
	})
}

// retryForever keeps trying infrastructure calls that have no sensible give-up
// point (ledger, dead-letter store) until they succeed or ctx ends.
func (d *Dispatcher) retryForever(ctx context.Context, op string, fn func() error) error {
	b := backoff.WithContext(d.exponential(), ctx)
	err := backoff.RetryNotify(fn, b, func(err error, wait time.Duration) {
		if d.metrics != nil {
			d.metrics.InfraErrorsTotal.WithLabelValues(op).Inc()
		}
		logger.FromContext(ctx, d.log).Error("dispatch_store_error",
			slog.String("op", op),
			slog.String("err", err.Error()),
			slog.String("backoff", wait.String()),
		)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (d *Dispatcher) exponential() *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.cfg.RetryInitial
	eb.MaxInterval = d.cfg.RetryMax
	eb.MaxElapsedTime = 0
	return eb
}

func (d *Dispatcher) quarantine(ctx context.Context, rec deadletter.Record) error {
	var stored deadletter.Record
	err := d.retryForever(ctx, "quarantine", func() error {
		var err error
		stored, err = d.deadLetters.Quarantine(ctx, rec)
		return err
	})
	if err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.QuarantinedTotal.WithLabelValues(rec.Reason).Inc()
	}
	d.log.Warn("event_quarantined",
		slog.String("dead_letter_id", stored.ID),
		slog.String("event_id", rec.EventID),
		slog.String("reason", rec.Reason),
		slog.String("topic", rec.Topic),
		slog.Int("partition", rec.Partition),
		slog.Int64("offset", rec.Offset),
	)
	return nil
}

func (d *Dispatcher) done(t events.Type, o Outcome, start time.Time) Outcome {
	if d.metrics != nil {
		label := string(t)
		if label == "" {
			label = "unknown"
		}
		d.metrics.EventsTotal.WithLabelValues(label, string(o)).Inc()
		d.metrics.HandleSeconds.WithLabelValues(string(o)).Observe(time.Since(start).Seconds())
	}
	return o
}
