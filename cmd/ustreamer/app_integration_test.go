//go:build integration

package main

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/c360/ustreamer/config"
	"github.com/c360/ustreamer/message"
	"github.com/c360/ustreamer/natsclient"
	"github.com/c360/ustreamer/subscription"
	"github.com/c360/ustreamer/testutil"
	"github.com/c360/ustreamer/transport/natsbus"
	"github.com/c360/ustreamer/uri"
)

var (
	hostTopic = uri.MustParse("//vehicle/1236/1/8001")
	ecuSub    = uri.MustParse("//ecu/10/1/0")
)

type AppSuite struct {
	suite.Suite
	nats *natsclient.TestClient
}

func TestAppSuite(t *testing.T) {
	suite.Run(t, new(AppSuite))
}

func (s *AppSuite) SetupSuite() {
	tc, err := natsclient.NewSharedTestClient(natsclient.WithJetStream())
	s.Require().NoError(err)
	s.nats = tc
}

func (s *AppSuite) TearDownSuite() {
	if s.nats != nil {
		s.nats.Terminate()
	}
}

func (s *AppSuite) config() *config.Config {
	cfg := config.Default()
	cfg.Host.Authority = "vehicle"
	cfg.Host.NATS.URLs = []string{s.nats.URL}
	cfg.Host.NATS.MaxReconnects = 0
	cfg.Streamer.WaitTimeout = config.Duration(10 * time.Millisecond)
	return cfg
}

func (s *AppSuite) startApp(cfg *config.Config) (*app, context.CancelFunc) {
	s.Require().NoError(cfg.Validate())
	ctx, cancel := context.WithCancel(context.Background())
	a := newApp(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.Require().NoError(a.start(ctx))

	done := make(chan error, 1)
	go func() { done <- a.run(ctx) }()

	s.T().Cleanup(func() {
		cancel()
		s.NoError(<-done)
		stopCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		s.NoError(a.stop(stopCtx))
	})
	s.Require().NoError(a.nats.Flush(ctx))
	return a, cancel
}

func (s *AppSuite) TestHostPublishReachesSubscribedECU() {
	ecu, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	s.Require().NoError(err)
	defer ecu.Close()

	dir := s.T().TempDir()
	cfg := s.config()
	cfg.Subscriptions.File = testutil.WriteSubscriptions(s.T(), dir, testutil.Subscriptions{
		hostTopic.String(): {ecuSub.String()},
	})
	cfg.Bus.Enabled = true
	cfg.Bus.Authority = "ecu"
	cfg.Bus.ConfigFile = testutil.WriteJSON(s.T(), dir, "bus.json", map[string]any{
		"listen": "127.0.0.1:0",
		"peers":  []map[string]string{{"name": "gw", "address": ecu.LocalAddr().String(), "authority": "ecu"}},
	})

	a, _ := s.startApp(cfg)
	s.Len(a.router.Rules(), 2)
	s.True(a.monitor.Aggregate().IsHealthy())

	sender := natsbus.New(s.nats.NewClient(s.T()))
	pub := message.NewPublish(hostTopic, []byte("speed=42"))
	s.Require().NoError(sender.Send(context.Background(), pub))

	buf := make([]byte, 65535)
	s.Require().NoError(ecu.SetReadDeadline(time.Now().Add(5 * time.Second)))
	n, _, err := ecu.ReadFromUDP(buf)
	s.Require().NoError(err)
	got, err := message.CBORCodec{}.Unmarshal(buf[:n])
	s.Require().NoError(err)
	s.Equal(pub.ID, got.ID)
	s.Equal([]byte("speed=42"), got.Payload)
}

func (s *AppSuite) TestKVBucketChangesReachCache() {
	cfg := s.config()
	cfg.Subscriptions.KVBucket = "ustreamer_subscriptions"

	a, _ := s.startApp(cfg)
	s.Empty(a.cache.Fetch(hostTopic))

	kv := subscription.NewKVSource(s.nats.KVStore(s.T(), cfg.Subscriptions.KVBucket), slog.Default())

	// The watch only sees changes made after it starts, so keep writing
	// until one lands.
	next := uint32(10)
	s.Eventually(func() bool {
		if len(a.cache.Fetch(hostTopic)) > 0 {
			return true
		}
		s.Require().NoError(kv.Subscribe(context.Background(), hostTopic, uri.New("ecu", next, 1, 0)))
		next++
		return false
	}, 5*time.Second, 50*time.Millisecond)
}
