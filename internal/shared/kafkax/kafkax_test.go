package kafkax

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sukirti1329/s3-system/internal/bus"
)

func TestShouldReset(t *testing.T) {
	assert.True(t, shouldReset(errors.New("dial tcp 10.0.0.1:9092: connection refused")))
	assert.True(t, shouldReset(errors.New("unexpected EOF")))
	assert.False(t, shouldReset(errors.New("message too large")))
	assert.False(t, shouldReset(nil))
}

func TestConstructorsValidate(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{Topics: []string{"t"}, GroupID: "g"})
	assert.Error(t, err)
	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"b:9092"}, GroupID: "g"})
	assert.Error(t, err)
	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"b:9092"}, Topics: []string{"t"}})
	assert.Error(t, err)

	_, err = NewProducer(ProducerConfig{})
	assert.Error(t, err)
}

func TestClosedClientsReportErrClosed(t *testing.T) {
	p, err := NewProducer(ProducerConfig{Brokers: []string{"127.0.0.1:1"}})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish(context.Background(), "t", []byte("k"), []byte("v")), bus.ErrClosed)

	c, err := NewConsumer(ConsumerConfig{Brokers: []string{"127.0.0.1:1"}, Topics: []string{"t"}, GroupID: "g"})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	_, err = c.Fetch(context.Background())
	assert.ErrorIs(t, err, bus.ErrClosed)
	assert.ErrorIs(t, c.Commit(context.Background(), bus.Message{Topic: "t"}), bus.ErrClosed)
}
