package natsbus

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/message"
	"github.com/c360/ustreamer/transport"
	"github.com/c360/ustreamer/uri"
)

// fakeClient routes publishes to subscriptions with NATS subject matching.
type fakeClient struct {
	mu         sync.Mutex
	subs       map[*nats.Subscription]fakeSub
	published  []string
	publishErr error
}

type fakeSub struct {
	pattern string
	handler func(context.Context, string, []byte)
}

func newFakeClient() *fakeClient {
	return &fakeClient{subs: make(map[*nats.Subscription]fakeSub)}
}

func subjectMatches(pattern, subject string) bool {
	p := strings.Split(pattern, ".")
	s := strings.Split(subject, ".")
	for i, tok := range p {
		if tok == ">" {
			return len(s) > i
		}
		if i >= len(s) || (tok != "*" && tok != s[i]) {
			return false
		}
	}
	return len(p) == len(s)
}

func (c *fakeClient) Publish(ctx context.Context, subject string, data []byte) error {
	c.mu.Lock()
	if c.publishErr != nil {
		c.mu.Unlock()
		return c.publishErr
	}
	c.published = append(c.published, subject)
	var handlers []func(context.Context, string, []byte)
	for _, s := range c.subs {
		if subjectMatches(s.pattern, subject) {
			handlers = append(handlers, s.handler)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h(ctx, subject, data)
	}
	return nil
}

func (c *fakeClient) Subscribe(_ context.Context, subject string, handler func(context.Context, string, []byte)) (*nats.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub := &nats.Subscription{}
	c.subs[sub] = fakeSub{pattern: subject, handler: handler}
	return sub, nil
}

func (c *fakeClient) Unsubscribe(sub *nats.Subscription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, sub)
	return nil
}

func (c *fakeClient) patterns() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, s := range c.subs {
		out = append(out, s.pattern)
	}
	return out
}

var (
	topic  = uri.MustParse("//ecu/1236/1/8001")
	method = uri.MustParse("//host/4000/1/7")
	caller = uri.MustParse("//ecu/1236/1/0")
)

func TestSubject(t *testing.T) {
	assert.Equal(t, "up.ecu.1236.1.8001._", Subject("up", topic, nil))
	assert.Equal(t, "up.ecu.1236.1.0.host.4000.1.7", Subject("up", caller, &method))
	assert.Equal(t, "up.vehicle%2Elocal.1.1.8001._",
		Subject("up", uri.MustParse("//vehicle.local/1/1/8001"), nil))
	assert.Equal(t, "up.-.1.1.8001._", Subject("up", uri.New("", 1, 1, 0x8001), nil))
}

func TestFilterSubject(t *testing.T) {
	assert.Equal(t, "up.*.*.*.*.>", FilterSubject("up", transport.SinkAuthority("host")))
	assert.Equal(t, "up.ecu.1236.1.8001.>", FilterSubject("up", transport.Filter{Source: topic}))
	assert.Equal(t, "up.ecu.*.1.*.>",
		FilterSubject("up", transport.Filter{Source: uri.New("ecu", 0x0002FFFF, 1, uri.WildcardResource)}))
}

func collect(ch chan *message.Message) transport.Listener {
	return transport.ListenerFunc(func(m *message.Message) { ch <- m })
}

func TestTransport_SendAndReceive(t *testing.T) {
	client := newFakeClient()
	tr := New(client)
	ctx := context.Background()

	got := make(chan *message.Message, 4)
	reg, err := tr.RegisterListener(ctx, transport.SinkAuthority("host"), collect(got))
	require.NoError(t, err)
	assert.Equal(t, 1, tr.ListenerCount())

	pub := message.NewPublish(topic, []byte("p"))
	require.NoError(t, tr.Send(ctx, pub))

	req := message.NewRequest(caller, method, time.Second, []byte("r"))
	require.NoError(t, tr.Send(ctx, req))

	// Addressed elsewhere: subject matches, filter rejects it
	other := uri.MustParse("//body/1/1/7")
	require.NoError(t, tr.Send(ctx, message.NewRequest(caller, other, time.Second, nil)))

	require.Len(t, got, 2)
	first := <-got
	assert.Equal(t, pub.ID, first.ID)
	assert.Equal(t, []byte("p"), first.Payload)
	second := <-got
	assert.Equal(t, req.ID, second.ID)
	assert.Equal(t, method, *second.Sink)

	require.NoError(t, tr.UnregisterListener(ctx, reg))
	require.NoError(t, tr.UnregisterListener(ctx, reg))
	assert.Empty(t, client.patterns())

	require.NoError(t, tr.Send(ctx, pub))
	assert.Empty(t, got)
}

func TestTransport_CBORCodecAndPrefix(t *testing.T) {
	client := newFakeClient()
	tr := New(client, WithCodec(message.CBORCodec{}), WithPrefix("veh"))
	ctx := context.Background()

	got := make(chan *message.Message, 1)
	_, err := tr.RegisterListener(ctx, transport.Filter{Source: topic}, collect(got))
	require.NoError(t, err)
	assert.Equal(t, []string{"veh.ecu.1236.1.8001.>"}, client.patterns())

	require.NoError(t, tr.Send(ctx, message.NewPublish(topic, []byte("x"))))
	require.Len(t, got, 1)
	assert.Equal(t, []string{"veh.ecu.1236.1.8001._"}, client.published)
}

func TestTransport_UndecodableBodyDropped(t *testing.T) {
	client := newFakeClient()
	tr := New(client)
	ctx := context.Background()

	got := make(chan *message.Message, 1)
	_, err := tr.RegisterListener(ctx, transport.Filter{Source: uri.Any()}, collect(got))
	require.NoError(t, err)

	require.NoError(t, client.Publish(ctx, "up.ecu.1.1.8001._", []byte("not a message")))
	assert.Empty(t, got)
}

func TestTransport_SendErrorKeepsCode(t *testing.T) {
	client := newFakeClient()
	client.publishErr = errors.Unavailable(stderrors.New("down"), "Client", "Publish", "publish")
	tr := New(client)

	err := tr.Send(context.Background(), message.NewPublish(topic, nil))
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}

func TestTransport_NilListener(t *testing.T) {
	_, err := New(newFakeClient()).RegisterListener(context.Background(), transport.Filter{Source: uri.Any()}, nil)
	assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))
}
