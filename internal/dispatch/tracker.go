package dispatch

import (
	"sort"
	"sync"

	"github.com/sukirti1329/s3-system/internal/bus"
)

type topicPartition struct {
	topic     string
	partition int
}

type partitionState struct {
	// fetched offsets not yet committable, in fetch order
	pending []int64
	done    map[int64]bus.Message
}

// commitTracker finds, per partition, the highest offset below which every
// fetched message has finished. Lanes finish out of order; committing past an
// unfinished message would lose it on restart.
type commitTracker struct {
	mu    sync.Mutex
	parts map[topicPartition]*partitionState
}

func newCommitTracker() *commitTracker {
	return &commitTracker{parts: make(map[topicPartition]*partitionState)}
}

func (t *commitTracker) track(msg bus.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	k := topicPartition{msg.Topic, msg.Partition}
	ps, ok := t.parts[k]
	if !ok {
		ps = &partitionState{done: make(map[int64]bus.Message)}
		t.parts[k] = ps
	}
	ps.pending = append(ps.pending, msg.Offset)
}

// finish marks msg done and returns the message to commit for its partition,
// if the contiguous prefix moved.
func (t *commitTracker) finish(msg bus.Message) (bus.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.parts[topicPartition{msg.Topic, msg.Partition}]
	if !ok {
		return bus.Message{}, false
	}
	ps.done[msg.Offset] = msg

	var (
		last     bus.Message
		advanced bool
	)
	for len(ps.pending) > 0 {
		m, ok := ps.done[ps.pending[0]]
		if !ok {
			break
		}
		delete(ps.done, ps.pending[0])
		ps.pending = ps.pending[1:]
		last, advanced = m, true
	}
	return last, advanced
}

// inflight reports fetched but unfinished messages, for shutdown logs.
func (t *commitTracker) inflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, ps := range t.parts {
		n += len(ps.pending)
	}
	return n
}

// batch collapses commit candidates to the highest offset per partition.
func batch(msgs []bus.Message) []bus.Message {
	best := make(map[topicPartition]bus.Message, len(msgs))
	for _, m := range msgs {
		k := topicPartition{m.Topic, m.Partition}
		if cur, ok := best[k]; !ok || m.Offset > cur.Offset {
			best[k] = m
		}
	}
	out := make([]bus.Message, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Partition < out[j].Partition
	})
	return out
}
