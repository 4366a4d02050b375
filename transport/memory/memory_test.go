package memory

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/message"
	"github.com/c360/ustreamer/transport"
	"github.com/c360/ustreamer/uri"
)

var topic = uri.MustParse("//ecu/1236/1/8001")

type collector struct {
	mu   sync.Mutex
	msgs []*message.Message
}

func (c *collector) OnReceive(m *message.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestSendDeliversToMatchingListeners(t *testing.T) {
	ctx := context.Background()
	bus := New("bus")

	all := &collector{}
	hostOnly := &collector{}
	_, err := bus.RegisterListener(ctx, transport.Filter{Source: uri.Any()}, all)
	require.NoError(t, err)
	_, err = bus.RegisterListener(ctx, transport.Filter{Source: uri.AnyIn("host")}, hostOnly)
	require.NoError(t, err)

	require.NoError(t, bus.Send(ctx, message.NewPublish(topic, nil)))

	assert.Equal(t, 1, all.count())
	assert.Equal(t, 0, hostOnly.count())
	assert.Equal(t, 1, bus.SentCount())
	assert.Equal(t, 2, bus.RegisterCalls())
}

func TestDeliverDoesNotRecord(t *testing.T) {
	bus := New("bus")
	c := &collector{}
	_, err := bus.RegisterListener(context.Background(), transport.Filter{Source: uri.Any()}, c)
	require.NoError(t, err)

	bus.Deliver(message.NewPublish(topic, nil))
	assert.Equal(t, 1, c.count())
	assert.Equal(t, 0, bus.SentCount())
}

func TestUnregister(t *testing.T) {
	ctx := context.Background()
	bus := New("bus")
	c := &collector{}

	reg, err := bus.RegisterListener(ctx, transport.Filter{Source: uri.Any()}, c)
	require.NoError(t, err)
	assert.Equal(t, 1, bus.ListenerCount())

	require.NoError(t, bus.UnregisterListener(ctx, reg))
	require.NoError(t, bus.UnregisterListener(ctx, reg), "second unregister is a no-op")
	assert.Equal(t, 0, bus.ListenerCount())
	assert.Equal(t, 1, bus.UnregisterCalls())

	require.NoError(t, bus.Send(ctx, message.NewPublish(topic, nil)))
	assert.Equal(t, 0, c.count())
}

func TestFailSends(t *testing.T) {
	ctx := context.Background()
	bus := New("bus")

	boom := stderrors.New("link down")
	bus.FailSends(func(*message.Message) error { return boom })

	err := bus.Send(ctx, message.NewPublish(topic, nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, errors.CodeUnavailable, errors.CodeOf(err))
	assert.Equal(t, 0, bus.SentCount())

	bus.FailSends(nil)
	require.NoError(t, bus.Send(ctx, message.NewPublish(topic, nil)))
	assert.Equal(t, 1, bus.SentCount())
}

func TestClosedAndInvalid(t *testing.T) {
	ctx := context.Background()
	bus := New("bus")

	_, err := bus.RegisterListener(ctx, transport.Filter{}, nil)
	assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))

	require.NoError(t, bus.Close())
	err = bus.Send(ctx, message.NewPublish(topic, nil))
	assert.Equal(t, errors.CodeUnavailable, errors.CodeOf(err))
	_, err = bus.RegisterListener(ctx, transport.Filter{Source: uri.Any()}, &collector{})
	assert.Equal(t, errors.CodeUnavailable, errors.CodeOf(err))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = New("other").Send(cancelled, message.NewPublish(topic, nil))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitForSent(t *testing.T) {
	bus := New("bus")
	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = bus.Send(context.Background(), message.NewPublish(topic, nil))
	}()
	assert.True(t, bus.WaitForSent(1, time.Second))
	assert.False(t, bus.WaitForSent(2, 20*time.Millisecond))

	bus.ClearSent()
	assert.Empty(t, bus.Sent())
}
