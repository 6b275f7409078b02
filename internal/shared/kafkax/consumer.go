package kafkax

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sukirti1329/s3-system/internal/bus"
)

// Consumer is a consumer-group reader over one or more topics.
type Consumer struct {
	mu  sync.Mutex
	r   *kafka.Reader
	cfg ConsumerConfig
}

var _ bus.Source = (*Consumer)(nil)

type ConsumerConfig struct {
	Brokers []string
	Topics  []string
	GroupID string

	// StartOffset controls where a NEW consumer group starts reading when it has no committed offsets.
	// Supported values: "first" | "last". Default: "first".
	StartOffset string

	MinBytes int
	MaxBytes int
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafkax: no brokers")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("kafkax: no topics")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("kafkax: empty group id")
	}
	c := &Consumer{cfg: cfg}
	c.r = newReader(cfg)
	return c, nil
}

func newReader(cfg ConsumerConfig) *kafka.Reader {
	minB := cfg.MinBytes
	maxB := cfg.MaxBytes
	if minB == 0 {
		minB = 1
	}
	if maxB == 0 {
		maxB = 10e6
	}

	// Losing events on a fresh group is worse than replaying them; the ledger
	// absorbs the replay.
	start := kafka.FirstOffset
	if strings.EqualFold(cfg.StartOffset, "last") {
		start = kafka.LastOffset
	}

	// NOTE: MaxWait/Backoffs keep FetchMessage from hanging on transient broker/metadata issues.
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupTopics:    cfg.Topics,
		GroupID:        cfg.GroupID,
		StartOffset:    start,
		MinBytes:       minB,
		MaxBytes:       maxB,
		MaxWait:        500 * time.Millisecond,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: 1 * time.Second,
		// Commits are explicit and driven by the dispatcher's commit tracker.
		CommitInterval: 0,
	})
}

func (c *Consumer) reader() (*kafka.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.r == nil {
		return nil, bus.ErrClosed
	}
	return c.r, nil
}

func (c *Consumer) Fetch(ctx context.Context) (bus.Message, error) {
	r, err := c.reader()
	if err != nil {
		return bus.Message{}, err
	}
	m, err := r.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return bus.Message{}, bus.ErrClosed
		}
		return bus.Message{}, err
	}
	return bus.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Value:     m.Value,
		Time:      m.Time,
	}, nil
}

func (c *Consumer) Commit(ctx context.Context, msgs ...bus.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	r, err := c.reader()
	if err != nil {
		return err
	}
	km := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		km = append(km, kafka.Message{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset})
	}
	return r.CommitMessages(ctx, km...)
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.r == nil {
		return nil
	}
	err := c.r.Close()
	c.r = nil
	return err
}

// Reopen closes the underlying reader and recreates it using the original config.
// Useful when broker metadata becomes stale or after transient network errors.
func (c *Consumer) Reopen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.r != nil {
		_ = c.r.Close()
	}
	c.r = newReader(c.cfg)
}
