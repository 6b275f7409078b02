// Package bus describes the partitioned, at-least-once message log the
// services talk through. Kafka implements it in production (see kafkax);
// Memory implements it in-process for tests and local runs.
package bus

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("bus: closed")

type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// Sink publishes one keyed message. Messages with equal keys land on the same
// partition and are delivered in publish order.
type Sink interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Source is a consumer-group subscription. Commit marks msgs and everything
// before them on the same partition as consumed; anything fetched but not
// committed is delivered again after a restart.
type Source interface {
	Fetch(ctx context.Context) (Message, error)
	Commit(ctx context.Context, msgs ...Message) error
	Close() error
}
