package bus

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

type partitionKey struct {
	topic     string
	partition int
}

// Memory is an in-process partitioned log with consumer-group offsets.
type Memory struct {
	mu         sync.Mutex
	partitions int
	logs       map[string][][]Message
	committed  map[string]map[partitionKey]int64
	wake       chan struct{}
}

func NewMemory(partitions int) *Memory {
	if partitions < 1 {
		partitions = 1
	}
	return &Memory{
		partitions: partitions,
		logs:       make(map[string][][]Message),
		committed:  make(map[string]map[partitionKey]int64),
		wake:       make(chan struct{}),
	}
}

func (m *Memory) partitionFor(key []byte) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(m.partitions))
}

func (m *Memory) Publish(ctx context.Context, topic string, key, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if topic == "" {
		return fmt.Errorf("bus: empty topic")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	parts, ok := m.logs[topic]
	if !ok {
		parts = make([][]Message, m.partitions)
		m.logs[topic] = parts
	}
	p := m.partitionFor(key)
	parts[p] = append(parts[p], Message{
		Topic:     topic,
		Partition: p,
		Offset:    int64(len(parts[p])),
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), value...),
		Time:      time.Now().UTC(),
	})

	close(m.wake)
	m.wake = make(chan struct{})
	return nil
}

// Messages returns a copy of everything published to topic, ordered by
// partition and offset.
func (m *Memory) Messages(topic string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Message
	for _, part := range m.logs[topic] {
		out = append(out, part...)
	}
	return out
}

// Committed returns the next offset group will read on topic/partition.
func (m *Memory) Committed(group, topic string, partition int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.committed[group][partitionKey{topic, partition}]
}

// Subscribe joins group on topics. A new subscription resumes at the group's
// committed offsets, which is how tests simulate a consumer restart.
func (m *Memory) Subscribe(group string, topics ...string) *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.committed[group]; !ok {
		m.committed[group] = make(map[partitionKey]int64)
	}
	sorted := append([]string(nil), topics...)
	sort.Strings(sorted)

	cursor := make(map[partitionKey]int64)
	for k, v := range m.committed[group] {
		cursor[k] = v
	}
	return &Subscription{bus: m, group: group, topics: sorted, cursor: cursor}
}

type Subscription struct {
	bus    *Memory
	group  string
	topics []string

	// guarded by bus.mu
	cursor map[partitionKey]int64
	next   int
	closed bool
}

var _ Source = (*Subscription)(nil)

func (s *Subscription) Fetch(ctx context.Context) (Message, error) {
	for {
		s.bus.mu.Lock()
		if s.closed {
			s.bus.mu.Unlock()
			return Message{}, ErrClosed
		}
		if msg, ok := s.nextLocked(); ok {
			s.bus.mu.Unlock()
			return msg, nil
		}
		wake := s.bus.wake
		s.bus.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-wake:
		}
	}
}

// nextLocked scans partitions round-robin so one busy partition cannot starve
// the others.
func (s *Subscription) nextLocked() (Message, bool) {
	n := len(s.topics) * s.bus.partitions
	for i := 0; i < n; i++ {
		slot := (s.next + i) % n
		topic := s.topics[slot/s.bus.partitions]
		p := slot % s.bus.partitions

		parts := s.bus.logs[topic]
		if parts == nil {
			continue
		}
		k := partitionKey{topic, p}
		off := s.cursor[k]
		if off < int64(len(parts[p])) {
			s.cursor[k] = off + 1
			s.next = slot + 1
			return parts[p][off], true
		}
	}
	return Message{}, false
}

func (s *Subscription) Commit(ctx context.Context, msgs ...Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	committed := s.bus.committed[s.group]
	for _, msg := range msgs {
		k := partitionKey{msg.Topic, msg.Partition}
		if next := msg.Offset + 1; next > committed[k] {
			committed[k] = next
		}
	}
	return nil
}

func (s *Subscription) Close() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.bus.wake)
		s.bus.wake = make(chan struct{})
	}
	return nil
}
