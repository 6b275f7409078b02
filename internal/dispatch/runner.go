package dispatch

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/sukirti1329/s3-system/internal/bus"
)

const commitTimeout = 5 * time.Second

type reopener interface {
	Reopen()
}

// Runner pulls from a Source and fans messages out to lanes by key hash. One
// key always maps to one lane, and a lane handles its messages one at a time,
// so events of one entity are never processed concurrently and keep their
// partition order.
type Runner struct {
	Source     bus.Source
	Dispatcher *Dispatcher
	Lanes      int
	// CommitEvery batches offset commits; zero commits as soon as the
	// contiguous prefix moves.
	CommitEvery time.Duration
	Metrics     *Metrics
	Log         *slog.Logger
}

func (r *Runner) Run(ctx context.Context) error {
	if r.Source == nil || r.Dispatcher == nil {
		return errors.New("dispatch: runner needs a source and a dispatcher")
	}
	n := r.Lanes
	if n < 1 {
		n = 1
	}
	log := r.Log
	if log == nil {
		log = slog.Default()
	}

	tracker := newCommitTracker()
	finished := make(chan bus.Message, 256)

	lanes := make([]chan bus.Message, n)
	var wg sync.WaitGroup
	for i := range lanes {
		ch := make(chan bus.Message, 64)
		lanes[i] = ch
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range ch {
				if _, err := r.Dispatcher.Handle(ctx, msg); err != nil {
					// abandoned; stays uncommitted and comes back after restart
					continue
				}
				finished <- msg
			}
		}()
	}

	committed := make(chan struct{})
	go func() {
		defer close(committed)
		r.commitLoop(log, tracker, finished)
	}()

	log.Info("consumer_start", slog.Int("lanes", n))

	failures := 0
	for {
		msg, err := r.Source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, bus.ErrClosed) {
				break
			}
			failures++
			log.Error("consumer_fetch_failed", slog.Int("consecutive", failures), slog.String("err", err.Error()))
			if ro, ok := r.Source.(reopener); ok && failures%3 == 0 {
				log.Warn("consumer_reopen")
				ro.Reopen()
			}
			select {
			case <-ctx.Done():
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		failures = 0

		tracker.track(msg)
		select {
		case lanes[laneFor(msg.Key, n)] <- msg:
			continue
		case <-ctx.Done():
		}
		break
	}

	for _, ch := range lanes {
		close(ch)
	}
	wg.Wait()
	close(finished)
	<-committed

	log.Info("consumer_stop", slog.Int("uncommitted", tracker.inflight()))
	return nil
}

func laneFor(key []byte, n int) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}

func (r *Runner) commitLoop(log *slog.Logger, tracker *commitTracker, finished <-chan bus.Message) {
	var (
		pending []bus.Message
		tick    <-chan time.Time
	)
	if r.CommitEvery > 0 {
		t := time.NewTicker(r.CommitEvery)
		defer t.Stop()
		tick = t.C
	}

	flush := func() {
		if len(pending) == 0 {
			return
		}
		// Commits outlive the run context so finished work is not redone
		// after a clean shutdown.
		cctx, cancel := context.WithTimeout(context.Background(), commitTimeout)
		defer cancel()
		msgs := batch(pending)
		if err := r.Source.Commit(cctx, msgs...); err != nil {
			if r.Metrics != nil {
				r.Metrics.CommitErrors.Inc()
			}
			log.Error("consumer_commit_failed", slog.String("err", err.Error()))
			return
		}
		pending = pending[:0]
	}

	for {
		select {
		case msg, ok := <-finished:
			if !ok {
				flush()
				return
			}
			if m, advanced := tracker.finish(msg); advanced {
				pending = append(pending, m)
				if tick == nil {
					flush()
				}
			}
		case <-tick:
			flush()
		}
	}
}
