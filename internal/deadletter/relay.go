package deadletter

import (
	"context"
	"log/slog"
	"time"

	"github.com/sukirti1329/s3-system/internal/bus"
)

// Relay republishes requeued dead letters to their original topic with the
// original key and bytes. Consumers see the same event id again, so anything
// that was in fact applied before is absorbed by their ledger.
type Relay struct {
	Store   Store
	Sink    bus.Sink
	Log     *slog.Logger
	Metrics *Metrics

	BatchSize         int
	PollInterval      time.Duration
	ProcessingTimeout time.Duration
}

func (r *Relay) Run(ctx context.Context) error {
	interval := r.PollInterval
	if interval <= 0 {
		interval = time.Second
	}

	r.Log.Info("relay_start",
		slog.Int("batch_size", r.BatchSize),
		slog.String("poll_interval", interval.String()),
		slog.String("processing_timeout", r.ProcessingTimeout.String()),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Log.Info("relay_shutdown")
			return nil
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs one poll: recover stalled replays, claim a batch, republish it.
// It returns the number of records replayed.
func (r *Relay) Tick(ctx context.Context) int {
	if r.Metrics != nil {
		r.Metrics.PollsTotal.Inc()
	}

	if n, err := r.Store.ResetStuck(ctx, r.ProcessingTimeout); err != nil {
		r.storeError("reset_stuck")
		r.Log.Error("deadletter_reset_failed", slog.String("err", err.Error()))
	} else if n > 0 {
		if r.Metrics != nil {
			r.Metrics.RequeuedStuck.Add(float64(n))
		}
		r.Log.Warn("deadletter_requeued_stuck", slog.Int64("count", n))
	}

	recs, err := r.Store.ClaimRequeued(ctx, r.BatchSize)
	if err != nil {
		r.storeError("claim")
		r.Log.Error("deadletter_claim_failed", slog.String("err", err.Error()))
		return 0
	}
	if len(recs) == 0 {
		if r.Metrics != nil {
			r.Metrics.LagSeconds.Set(0)
		}
		return 0
	}
	if r.Metrics != nil {
		r.Metrics.ClaimedTotal.Add(float64(len(recs)))
		r.Metrics.LagSeconds.Set(time.Since(recs[0].CreatedAt).Seconds())
	}

	replayed := 0
	for _, rec := range recs {
		log := r.Log.With(
			slog.String("dead_letter_id", rec.ID),
			slog.String("event_id", rec.EventID),
			slog.String("topic", rec.Topic),
			slog.Int("attempts", rec.Attempts),
		)

		if err := r.Sink.Publish(ctx, rec.Topic, rec.Key, rec.Value); err != nil {
			if r.Metrics != nil {
				r.Metrics.FailedTotal.WithLabelValues(rec.Topic).Inc()
			}
			log.Error("deadletter_replay_failed", slog.String("err", err.Error()))
			if err := r.Store.MarkFailed(ctx, rec.ID, err.Error()); err != nil {
				r.storeError("mark_failed")
				log.Error("deadletter_mark_failed_failed", slog.String("err", err.Error()))
			}
			continue
		}

		if err := r.Store.MarkReplayed(ctx, rec.ID); err != nil {
			// The message is already on the bus; a later replay is harmless.
			r.storeError("mark_replayed")
			log.Error("deadletter_mark_replayed_failed", slog.String("err", err.Error()))
			continue
		}
		if r.Metrics != nil {
			r.Metrics.ReplayedTotal.WithLabelValues(rec.Topic).Inc()
		}
		log.Info("deadletter_replayed")
		replayed++
	}
	return replayed
}

func (r *Relay) storeError(op string) {
	if r.Metrics != nil {
		r.Metrics.StoreErrorTotal.WithLabelValues(op).Inc()
	}
}
