package streamer

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/message"
	"github.com/c360/ustreamer/metric"
	"github.com/c360/ustreamer/subscription"
	fixtures "github.com/c360/ustreamer/testutil"
	"github.com/c360/ustreamer/transport/memory"
	"github.com/c360/ustreamer/uri"
)

var (
	hostTopic = uri.MustParse("//host/1236/1/8001")
	ecuTopic  = uri.MustParse("//ecu/1236/1/8001")
	ecuSubA   = uri.MustParse("//ecu/10/1/0")
	ecuSubB   = uri.MustParse("//ecu/11/1/0")
	hostSub   = uri.MustParse("//host/20/1/0")
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Observe(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (r *recorder) dropped(reason string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == EventDropped && e.Reason == reason {
			n++
		}
	}
	return n
}

func (r *recorder) waitDropped(t *testing.T, reason string, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.dropped(reason) >= n },
		time.Second, 5*time.Millisecond, "waiting for %d %s drops", n, reason)
}

type fixture struct {
	host, bus *memory.Transport
	hostEP    Endpoint
	busEP     Endpoint
	cache     *subscription.Cache
	events    *recorder
	router    *Router
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.WaitTimeout = 10 * time.Millisecond
	cfg.Retry = errors.RetryConfig{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}
	return cfg
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		host:   memory.New("host"),
		bus:    memory.New("bus"),
		cache:  subscription.NewCache(),
		events: &recorder{},
	}
	f.hostEP = Endpoint{Name: "host", Authority: "host", Transport: f.host}
	f.busEP = Endpoint{Name: "bus", Authority: "ecu", Transport: f.bus}
	f.router = NewRouter(f.cache, append([]Option{WithConfig(fastConfig()), WithObserver(f.events)}, opts...)...)
	t.Cleanup(func() {
		_ = f.router.Close(context.Background())
	})
	return f
}

func (f *fixture) subscribe(t *testing.T, topic, subscriber uri.URI) {
	t.Helper()
	require.NoError(t, f.cache.Upsert(topic, subscription.NewRecord(topic, subscriber)))
}

func (f *fixture) addRule(t *testing.T, src, dst Endpoint) RuleHandle {
	t.Helper()
	h, err := f.router.AddForwardingRule(context.Background(), src, dst)
	require.NoError(t, err)
	require.False(t, h.IsZero())
	return h
}

func TestAddForwardingRule_Duplicate(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, f.hostEP, f.busEP)

	_, err := f.router.AddForwardingRule(context.Background(), f.hostEP, f.busEP)
	require.Error(t, err)
	assert.Equal(t, errors.CodeAlreadyExists, errors.CodeOf(err))
	assert.ErrorIs(t, err, errors.ErrRuleExists)

	assert.Equal(t, 1, f.host.ListenerCount())
	assert.Equal(t, 1, f.host.RegisterCalls())
	assert.Len(t, f.router.Rules(), 1)
}

func TestAddForwardingRule_InvalidEndpoint(t *testing.T) {
	f := newFixture(t)

	_, err := f.router.AddForwardingRule(context.Background(), Endpoint{Name: "host", Transport: f.host}, f.busEP)
	assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))

	_, err = f.router.AddForwardingRule(context.Background(), f.hostEP, Endpoint{Name: "bus", Authority: "ecu"})
	assert.Equal(t, errors.CodeInvalidArgument, errors.CodeOf(err))
	assert.Equal(t, 0, f.host.RegisterCalls())
}

func TestPublish_NoSubscribersDropped(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, f.hostEP, f.busEP)

	f.host.Deliver(message.NewPublish(hostTopic, []byte("x")))

	f.events.waitDropped(t, "no_subscribers", 1)
	assert.Equal(t, 0, f.bus.SentCount())
}

func TestPublish_ForwardedToSubscribedAuthority(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, hostTopic, ecuSubA)
	f.addRule(t, f.hostEP, f.busEP)

	m := message.NewPublish(hostTopic, []byte("x"))
	f.host.Deliver(m)

	require.True(t, f.bus.WaitForSent(1, time.Second))
	sent := f.bus.Sent()[0]
	assert.Equal(t, m.ID, sent.ID)
	assert.Equal(t, hostTopic, sent.Source, "source untouched without rewrite")
}

func TestPublish_SubscriberBehindOtherAuthority(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, hostTopic, uri.MustParse("//cloud/10/1/0"))
	f.addRule(t, f.hostEP, f.busEP)

	f.host.Deliver(message.NewPublish(hostTopic, nil))

	f.events.waitDropped(t, "no_subscribers", 1)
	assert.Equal(t, 0, f.bus.SentCount())
}

func TestPublish_WildcardAuthoritySubscriber(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, hostTopic, uri.MustParse("//*/10/1/0"))
	f.addRule(t, f.hostEP, f.busEP)

	f.host.Deliver(message.NewPublish(hostTopic, nil))

	assert.True(t, f.bus.WaitForSent(1, time.Second))
}

func TestRequestAndResponse_ForwardedUnconditionally(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, f.hostEP, f.busEP)

	req := message.NewRequest(uri.MustParse("//host/55/1/0"), uri.MustParse("//ecu/1236/1/1"), time.Minute, nil)
	f.host.Deliver(req)
	require.True(t, f.bus.WaitForSent(1, time.Second))

	resp := message.NewResponse(message.NewRequest(uri.MustParse("//ecu/1/1/0"), uri.MustParse("//host/2/1/1"), time.Minute, nil), nil)
	f.host.Deliver(resp)
	require.True(t, f.bus.WaitForSent(2, time.Second))
	assert.Equal(t, message.KindResponse, f.bus.Sent()[1].Kind)
}

func TestNotification_AddressedToDestination(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, f.hostEP, f.busEP)

	f.host.Deliver(message.NewNotification(hostTopic, uri.MustParse("//ecu/5/1/0"), nil))
	assert.True(t, f.bus.WaitForSent(1, time.Second))
}

func TestNotification_AddressedElsewhereUsesCache(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, f.hostEP, f.busEP)

	n := message.NewNotification(hostTopic, uri.MustParse("//cloud/5/1/0"), nil)
	f.host.Deliver(n)
	f.events.waitDropped(t, "no_subscribers", 1)

	f.subscribe(t, hostTopic, ecuSubA)
	f.host.Deliver(n.Clone())
	assert.True(t, f.bus.WaitForSent(1, time.Second))
}

func TestMalformedMessagesDropped(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, hostTopic, ecuSubA)
	f.addRule(t, f.hostEP, f.busEP)

	req := message.NewRequest(hostSub, uri.MustParse("//ecu/2/1/1"), time.Minute, nil)
	req.Sink = nil
	f.host.Deliver(req)

	notif := message.NewNotification(hostTopic, ecuSubA, nil)
	notif.Sink = nil
	f.host.Deliver(notif)

	pub := message.NewPublish(hostTopic, nil)
	sink := ecuSubA
	pub.Sink = &sink
	f.host.Deliver(pub)

	f.events.waitDropped(t, "invalid", 3)
	assert.Equal(t, 0, f.bus.SentCount())
	assert.Equal(t, 0, f.events.count(EventForwarded))
}

func TestUnknownKindDropped(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, hostTopic, ecuSubA)
	f.addRule(t, f.hostEP, f.busEP)

	m := message.NewPublish(hostTopic, nil)
	m.Kind = message.KindUnspecified
	f.host.Deliver(m)

	f.events.waitDropped(t, "invalid", 1)
	assert.Equal(t, 0, f.bus.SentCount())
}

func TestExpiredMessageDropped(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, f.hostEP, f.busEP)

	req := message.NewRequest(uri.MustParse("//host/55/1/0"), uri.MustParse("//ecu/1236/1/1"), time.Millisecond, nil)
	time.Sleep(5 * time.Millisecond)
	f.host.Deliver(req)

	f.events.waitDropped(t, "expired", 1)
	assert.Equal(t, 0, f.bus.SentCount())
}

func TestRemoveForwardingRule_StopsForwarding(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, hostTopic, ecuSubA)
	h := f.addRule(t, f.hostEP, f.busEP)

	ctx := context.Background()
	require.NoError(t, f.router.RemoveForwardingRule(ctx, h))
	require.NoError(t, f.router.RemoveForwardingRule(ctx, h))

	assert.Equal(t, 0, f.host.ListenerCount())
	assert.Equal(t, 1, f.host.UnregisterCalls())
	assert.Empty(t, f.router.Rules())

	f.host.Deliver(message.NewPublish(hostTopic, nil))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, 0, f.bus.SentCount())
	assert.Equal(t, 1, f.events.count(EventRuleRemoved))
}

func TestRemoveForwardingRule_StaleHandle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.addRule(t, f.hostEP, f.busEP)
	require.NoError(t, f.router.RemoveForwardingRule(ctx, old))
	current := f.addRule(t, f.hostEP, f.busEP)

	require.NoError(t, f.router.RemoveForwardingRule(ctx, old))
	require.NoError(t, f.router.RemoveForwardingRule(ctx, RuleHandle{}))
	assert.Equal(t, 1, f.host.ListenerCount())

	rules := f.router.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, current, rules[0].Handle)
	assert.Equal(t, "host->bus", rules[0].Name)
}

func TestEndToEnd_StaticFileThenRemoval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	path := fixtures.WriteSubscriptions(t, t.TempDir(), fixtures.Subscriptions{
		hostTopic.String(): {ecuSubA.String(), ecuSubB.String()},
	})
	require.NoError(t, f.cache.Refresh(ctx, subscription.NewStaticFile(path)))
	require.Len(t, f.cache.Fetch(hostTopic), 2)

	f.addRule(t, f.hostEP, f.busEP)

	f.host.Deliver(message.NewPublish(hostTopic, []byte("1")))
	require.True(t, f.bus.WaitForSent(1, time.Second))

	assert.True(t, f.cache.Remove(hostTopic, ecuSubA))
	assert.True(t, f.cache.Remove(hostTopic, ecuSubB))
	assert.Empty(t, f.cache.Fetch(hostTopic))

	f.host.Deliver(message.NewPublish(hostTopic, []byte("2")))
	f.events.waitDropped(t, "no_subscribers", 1)
	assert.Equal(t, 1, f.bus.SentCount())
}

func TestBidirectional_LoopAvoidance(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, hostTopic, ecuSubA)
	f.subscribe(t, hostTopic, hostSub)
	f.addRule(t, f.hostEP, f.busEP)
	f.addRule(t, f.busEP, f.hostEP)

	f.host.Deliver(message.NewPublish(hostTopic, nil))

	require.True(t, f.bus.WaitForSent(1, time.Second))
	f.events.waitDropped(t, "loop", 1)
	assert.Equal(t, 0, f.host.SentCount())
}

func TestBidirectional_RewriteAndEchoSuppression(t *testing.T) {
	f := newFixture(t)
	f.busEP.RewriteAuthority = true
	f.subscribe(t, hostTopic, ecuSubA)
	// Without echo suppression the rewritten copy would be forwarded back.
	f.subscribe(t, ecuTopic, hostSub)
	f.addRule(t, f.hostEP, f.busEP)
	f.addRule(t, f.busEP, f.hostEP)

	m := message.NewPublish(hostTopic, nil)
	f.host.Deliver(m)

	require.True(t, f.bus.WaitForSent(1, time.Second))
	sent := f.bus.Sent()[0]
	assert.Equal(t, ecuTopic, sent.Source)
	assert.Equal(t, hostTopic, m.Source, "received message not mutated")

	f.events.waitDropped(t, "echo", 1)
	assert.Equal(t, 0, f.host.SentCount())
}

func TestFanOut_SameMessageToTwoDestinations(t *testing.T) {
	f := newFixture(t)
	cloud := memory.New("cloud")
	cloudEP := Endpoint{Name: "cloud", Authority: "cloud", Transport: cloud}
	f.subscribe(t, hostTopic, ecuSubA)
	f.subscribe(t, hostTopic, uri.MustParse("//cloud/1/1/0"))
	f.addRule(t, f.hostEP, f.busEP)
	f.addRule(t, f.hostEP, cloudEP)

	f.host.Deliver(message.NewPublish(hostTopic, nil))

	assert.True(t, f.bus.WaitForSent(1, time.Second))
	assert.True(t, cloud.WaitForSent(1, time.Second))
}

func TestSend_RetriesTransientFailures(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, hostTopic, ecuSubA)
	f.addRule(t, f.hostEP, f.busEP)

	var calls atomic.Int32
	f.bus.FailSends(func(*message.Message) error {
		if calls.Add(1) <= 2 {
			return errors.ErrConnectionLost
		}
		return nil
	})

	f.host.Deliver(message.NewPublish(hostTopic, nil))

	require.True(t, f.bus.WaitForSent(1, time.Second))
	assert.Equal(t, 2, f.events.count(EventSendRetry))
	assert.Equal(t, int32(3), calls.Load())
}

func TestSend_MaxDelayBelowInitialDelay(t *testing.T) {
	cfg := fastConfig()
	cfg.Retry.InitialDelay = 10 * time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	f := newFixture(t, WithConfig(cfg))
	f.subscribe(t, hostTopic, ecuSubA)
	f.addRule(t, f.hostEP, f.busEP)

	var calls atomic.Int32
	f.bus.FailSends(func(*message.Message) error {
		if calls.Add(1) == 1 {
			return errors.ErrConnectionLost
		}
		return nil
	})

	f.host.Deliver(message.NewPublish(hostTopic, nil))

	require.True(t, f.bus.WaitForSent(1, time.Second))
	assert.Equal(t, 1, f.events.count(EventSendRetry))
	assert.Equal(t, 0, f.events.dropped("send_failed"))
}

func TestSend_GivesUpAfterMaxRetries(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, hostTopic, ecuSubA)
	f.addRule(t, f.hostEP, f.busEP)

	var calls atomic.Int32
	f.bus.FailSends(func(*message.Message) error {
		calls.Add(1)
		return errors.ErrConnectionLost
	})

	f.host.Deliver(message.NewPublish(hostTopic, nil))

	f.events.waitDropped(t, "send_failed", 1)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, 3, f.events.count(EventSendRetry))
	assert.Equal(t, 0, f.bus.SentCount())
}

type rejectingTransport struct {
	*memory.Transport
	calls atomic.Int32
}

func (r *rejectingTransport) Send(context.Context, *message.Message) error {
	r.calls.Add(1)
	return errors.NotFound(stderrors.New("no route"), "test", "Send", "route")
}

func TestSend_NonTransientNotRetried(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, hostTopic, ecuSubA)
	rt := &rejectingTransport{Transport: memory.New("bus")}
	f.addRule(t, f.hostEP, Endpoint{Name: "bus", Authority: "ecu", Transport: rt})

	f.host.Deliver(message.NewPublish(hostTopic, nil))

	f.events.waitDropped(t, "send_failed", 1)
	assert.Equal(t, int32(1), rt.calls.Load())
	assert.Equal(t, 0, f.events.count(EventSendRetry))
}

type blockingTransport struct {
	*memory.Transport
	release chan struct{}
	entered atomic.Int32
}

func (b *blockingTransport) Send(ctx context.Context, m *message.Message) error {
	b.entered.Add(1)
	<-b.release
	return b.Transport.Send(ctx, m)
}

func (b *blockingTransport) waitEntered(t *testing.T, n int32) {
	t.Helper()
	require.Eventually(t, func() bool { return b.entered.Load() >= n },
		time.Second, 5*time.Millisecond, "waiting for %d sends in flight", n)
}

func TestBackpressure_DropsNewestWithoutBlocking(t *testing.T) {
	cfg := fastConfig()
	cfg.QueueSize = 2
	f := newFixture(t, WithConfig(cfg))
	f.subscribe(t, hostTopic, ecuSubA)

	bt := &blockingTransport{Transport: memory.New("bus"), release: make(chan struct{})}
	f.addRule(t, f.hostEP, Endpoint{Name: "bus", Authority: "ecu", Transport: bt})

	delivered := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			f.host.Deliver(message.NewPublish(hostTopic, nil))
		}
		close(delivered)
	}()

	select {
	case <-delivered:
	case <-time.After(time.Second):
		t.Fatal("listener blocked on a full queue")
	}
	assert.GreaterOrEqual(t, f.events.count(EventBackpressure), 7)
	assert.Equal(t, 10, f.events.count(EventReceived))

	rules := f.router.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, int64(f.events.count(EventBackpressure)), rules[0].Queue.Drops)
	assert.LessOrEqual(t, rules[0].Queue.HighWater, int64(2))

	close(bt.release)
	assert.True(t, bt.WaitForSent(1, time.Second))
}

func TestRemoveForwardingRule_WaitsForInFlightSend(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, hostTopic, ecuSubA)

	bt := &blockingTransport{Transport: memory.New("bus"), release: make(chan struct{})}
	h := f.addRule(t, f.hostEP, Endpoint{Name: "bus", Authority: "ecu", Transport: bt})

	f.host.Deliver(message.NewPublish(hostTopic, nil))
	f.host.Deliver(message.NewPublish(hostTopic, nil))
	bt.waitEntered(t, 1)

	removed := make(chan error, 1)
	go func() { removed <- f.router.RemoveForwardingRule(context.Background(), h) }()

	assert.Never(t, func() bool { return len(removed) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	close(bt.release)

	select {
	case err := <-removed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("removal did not complete")
	}
	assert.Equal(t, 1, bt.SentCount(), "queued message discarded after removal")
	assert.Equal(t, 0, f.host.ListenerCount())
}

func TestRemoveForwardingRule_ReAddWhileInFlight(t *testing.T) {
	f := newFixture(t, WithMetrics(metric.NewMetricsRegistry()))
	f.subscribe(t, hostTopic, ecuSubA)

	bt := &blockingTransport{Transport: memory.New("bus"), release: make(chan struct{})}
	busEP := Endpoint{Name: "bus", Authority: "ecu", Transport: bt}
	h := f.addRule(t, f.hostEP, busEP)

	f.host.Deliver(message.NewPublish(hostTopic, nil))
	bt.waitEntered(t, 1)

	removed := make(chan error, 1)
	go func() { removed <- f.router.RemoveForwardingRule(context.Background(), h) }()
	require.Eventually(t, func() bool { return len(f.router.Rules()) == 0 }, time.Second, 5*time.Millisecond)

	h2, err := f.router.AddForwardingRule(context.Background(), f.hostEP, busEP)
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
	assert.Len(t, f.router.Rules(), 1)

	f.host.Deliver(message.NewPublish(hostTopic, nil))
	bt.waitEntered(t, 2)
	close(bt.release)

	select {
	case err := <-removed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("removal did not complete")
	}
	assert.True(t, bt.WaitForSent(2, time.Second))
	assert.Equal(t, 1, f.events.count(EventRuleRemoved))
}

func TestRemoveForwardingRule_TimeoutStillReportsRemoval(t *testing.T) {
	f := newFixture(t)
	f.subscribe(t, hostTopic, ecuSubA)

	bt := &blockingTransport{Transport: memory.New("bus"), release: make(chan struct{})}
	h := f.addRule(t, f.hostEP, Endpoint{Name: "bus", Authority: "ecu", Transport: bt})
	defer close(bt.release)

	f.host.Deliver(message.NewPublish(hostTopic, nil))
	bt.waitEntered(t, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := f.router.RemoveForwardingRule(ctx, h)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	assert.Empty(t, f.router.Rules())
	assert.Equal(t, 1, f.events.count(EventRuleRemoved))
	assert.Equal(t, 0, f.host.ListenerCount())
}

func TestClose_RemovesAllRules(t *testing.T) {
	f := newFixture(t)
	f.addRule(t, f.hostEP, f.busEP)
	f.addRule(t, f.busEP, f.hostEP)

	require.NoError(t, f.router.Close(context.Background()))

	assert.Empty(t, f.router.Rules())
	assert.Equal(t, 0, f.host.ListenerCount())
	assert.Equal(t, 0, f.bus.ListenerCount())
	assert.Equal(t, 2, f.events.count(EventRuleRemoved))

	_, err := f.router.AddForwardingRule(context.Background(), f.hostEP, f.busEP)
	assert.Equal(t, errors.CodeUnavailable, errors.CodeOf(err))
}

func TestMetrics_DefaultObserver(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	host, bus := memory.New("host"), memory.New("bus")
	cache := subscription.NewCache()
	require.NoError(t, cache.Upsert(hostTopic, subscription.NewRecord(hostTopic, ecuSubA)))

	router := NewRouter(cache, WithConfig(fastConfig()), WithMetrics(registry))
	t.Cleanup(func() { _ = router.Close(context.Background()) })

	_, err := router.AddForwardingRule(context.Background(),
		Endpoint{Name: "host", Authority: "host", Transport: host},
		Endpoint{Name: "bus", Authority: "ecu", Transport: bus})
	require.NoError(t, err)

	host.Deliver(message.NewPublish(hostTopic, nil))
	host.Deliver(message.NewPublish(uri.MustParse("//host/1/1/8002"), nil))
	require.True(t, bus.WaitForSent(1, time.Second))

	m := registry.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RulesActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("host->bus", "publish")))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.MessagesForwarded.WithLabelValues("host->bus", "publish")) == 1 &&
			testutil.ToFloat64(m.MessagesDropped.WithLabelValues("host->bus", metric.ReasonNoSubscribers)) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, router.Close(context.Background()))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RulesActive))
}
