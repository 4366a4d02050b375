// Package udpbus exchanges CBOR-encoded messages with ECU gateway peers over
// UDP, one message per datagram.
package udpbus

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/ustreamer/errors"
	"github.com/c360/ustreamer/message"
	"github.com/c360/ustreamer/metric"
	"github.com/c360/ustreamer/pkg/retry"
	"github.com/c360/ustreamer/transport"
)

// readDeadline bounds each socket read so the loop notices shutdown.
const readDeadline = 100 * time.Millisecond

type peer struct {
	name      string
	authority string
	addr      *net.UDPAddr
}

type listenerEntry struct {
	filter   transport.Filter
	listener transport.Listener
}

// Metrics holds Prometheus metrics for the bus socket
type Metrics struct {
	datagramsSent     prometheus.Counter
	datagramsReceived prometheus.Counter
	bytesReceived     prometheus.Counter
	decodeErrors      prometheus.Counter
	socketErrors      prometheus.Counter
	sendErrors        prometheus.Counter
}

func newMetrics(registry *metric.MetricsRegistry) (*Metrics, error) {
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ustreamer",
			Subsystem: "udpbus",
			Name:      name,
			Help:      help,
		})
	}
	m := &Metrics{
		datagramsSent:     counter("datagrams_sent_total", "Datagrams sent to ECU peers"),
		datagramsReceived: counter("datagrams_received_total", "Datagrams received from ECU peers"),
		bytesReceived:     counter("bytes_received_total", "Bytes received from ECU peers"),
		decodeErrors:      counter("decode_errors_total", "Datagrams that did not decode as a message"),
		socketErrors:      counter("socket_errors_total", "Socket read errors encountered"),
		sendErrors:        counter("send_errors_total", "Datagrams that could not be written to a peer"),
	}

	for name, c := range map[string]prometheus.Counter{
		"datagrams_sent":     m.datagramsSent,
		"datagrams_received": m.datagramsReceived,
		"bytes_received":     m.bytesReceived,
		"decode_errors":      m.decodeErrors,
		"socket_errors":      m.socketErrors,
		"send_errors":        m.sendErrors,
	} {
		if err := registry.RegisterCounter("udpbus", name, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Transport implements transport.Transport over a UDP socket.
type Transport struct {
	cfg         Config
	codec       message.Codec
	logger      *slog.Logger
	metrics     *Metrics
	status      *metric.Metrics
	retryConfig retry.Config

	peers       []peer
	byAuthority map[string]*peer

	mu        sync.RWMutex
	conn      *net.UDPConn
	listeners map[uint64]listenerEntry

	running  atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup

	received atomic.Int64
	errs     atomic.Int64
}

// Option configures a Transport.
type Option func(*Transport) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) error {
		if logger != nil {
			t.logger = logger
		}
		return nil
	}
}

// WithMetrics registers socket metrics in registry and reports connection
// state through its core metrics.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(t *Transport) error {
		if registry == nil {
			return nil
		}
		m, err := newMetrics(registry)
		if err != nil {
			return err
		}
		t.metrics = m
		t.status = registry.CoreMetrics()
		return nil
	}
}

// WithCodec overrides the CBOR codec.
func WithCodec(c message.Codec) Option {
	return func(t *Transport) error {
		if c != nil {
			t.codec = c
		}
		return nil
	}
}

// WithBindRetry sets the retry policy used when binding the socket.
func WithBindRetry(cfg retry.Config) Option {
	return func(t *Transport) error {
		t.retryConfig = cfg
		return nil
	}
}

// New validates cfg and resolves the peers. The socket is bound by Start.
func New(cfg Config, opts ...Option) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.InvalidArgument(err, "udpbus", "New", "validate config")
	}
	if cfg.MaxDatagramSize == 0 {
		cfg.MaxDatagramSize = defaultMaxDatagramSize
	}

	t := &Transport{
		cfg:         cfg,
		codec:       message.CBORCodec{},
		logger:      slog.Default(),
		retryConfig: retry.Quick(),
		byAuthority: make(map[string]*peer),
		listeners:   make(map[uint64]listenerEntry),
	}
	for _, opt := range opts {
		if err := opt(t); err != nil {
			return nil, errors.Internal(err, "udpbus", "New", "apply option")
		}
	}
	t.logger = t.logger.With("transport", "udpbus", "listen", cfg.Listen)

	t.peers = make([]peer, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		addr, err := net.ResolveUDPAddr("udp", p.Address)
		if err != nil {
			return nil, errors.InvalidArgument(
				fmt.Errorf("%w: peer %q: %v", errors.ErrInvalidConfig, p.Name, err),
				"udpbus", "New", "resolve peer")
		}
		t.peers = append(t.peers, peer{name: p.Name, authority: p.Authority, addr: addr})
	}
	for i := range t.peers {
		if a := t.peers[i].authority; a != "" {
			t.byAuthority[a] = &t.peers[i]
		}
	}
	return t, nil
}

// Start binds the socket and starts the read loop. It is idempotent.
func (t *Transport) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running.Load() {
		return nil
	}

	if err := retry.Do(ctx, t.retryConfig, t.bindSocket); err != nil {
		return errors.Internal(err, "udpbus", "Start", "socket binding")
	}

	t.shutdown = make(chan struct{})
	t.running.Store(true)
	t.recordStatus(true)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.readLoop(t.conn, t.shutdown)
	}()

	t.logger.Info("ECU bus started", "local", t.conn.LocalAddr().String(), "peers", len(t.peers))
	return nil
}

// bindSocket creates and binds the UDP socket. Caller holds t.mu.
func (t *Transport) bindSocket() error {
	addr, err := net.ResolveUDPAddr("udp", t.cfg.Listen)
	if err != nil {
		return retry.NonRetryable(fmt.Errorf("resolve %s: %w", t.cfg.Listen, err))
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", t.cfg.Listen, err)
	}

	if t.cfg.SocketBufferSize > 0 {
		if err := conn.SetReadBuffer(t.cfg.SocketBufferSize); err != nil {
			// Some systems cap the buffer size
			t.logger.Warn("Could not set UDP buffer size", "buffer_size", t.cfg.SocketBufferSize, "error", err)
		}
	}

	t.conn = conn
	return nil
}

// Stop closes the socket and waits up to timeout for the read loop to exit.
func (t *Transport) Stop(timeout time.Duration) error {
	t.mu.Lock()
	if !t.running.Load() {
		t.mu.Unlock()
		return nil
	}
	t.running.Store(false)
	close(t.shutdown)
	if t.conn != nil {
		_ = t.conn.Close()
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"udpbus", "Stop", "graceful shutdown")
	}

	t.mu.Lock()
	t.conn = nil
	t.mu.Unlock()
	t.recordStatus(false)
	t.logger.Info("ECU bus stopped", "received", t.received.Load(), "errors", t.errs.Load())
	return nil
}

// LocalAddr returns the bound address, or nil before Start.
func (t *Transport) LocalAddr() *net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Send implements transport.Transport. Messages addressed to an authority a
// peer serves go to that peer; unaddressed messages go to every peer.
func (t *Transport) Send(ctx context.Context, m *message.Message) error {
	if err := ctx.Err(); err != nil {
		return errors.WrapTransient(err, "udpbus", "Send", "send message")
	}

	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil || !t.running.Load() {
		return errors.Unavailable(errors.ErrNoConnection, "udpbus", "Send", "check socket")
	}

	targets, err := t.route(m)
	if err != nil {
		return err
	}

	data, err := t.codec.Marshal(m)
	if err != nil {
		return err
	}
	if len(data) > t.cfg.MaxDatagramSize {
		return errors.InvalidArgument(
			fmt.Errorf("encoded message is %d bytes, limit %d", len(data), t.cfg.MaxDatagramSize),
			"udpbus", "Send", "check datagram size")
	}

	// A fan-out that reached any peer succeeds. Failing it would make the
	// caller retry and duplicate the datagram to the peers that got it.
	var errs []error
	for _, p := range targets {
		if _, err := conn.WriteToUDP(data, p.addr); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", p.name, err))
			if t.metrics != nil {
				t.metrics.sendErrors.Inc()
			}
			continue
		}
		if t.metrics != nil {
			t.metrics.datagramsSent.Inc()
		}
	}
	if len(errs) == len(targets) {
		return errors.Unavailable(stderrors.Join(errs...), "udpbus", "Send", "write datagram")
	}
	for _, err := range errs {
		t.logger.Warn("Datagram not delivered to peer", "message_id", m.ID, "error", err)
	}
	return nil
}

func (t *Transport) route(m *message.Message) ([]*peer, error) {
	if m.Sink != nil {
		if p, ok := t.byAuthority[m.Sink.Authority]; ok {
			return []*peer{p}, nil
		}
		if m.Kind.IsPointToPoint() {
			return nil, errors.NotFound(
				fmt.Errorf("no peer serves authority %q", m.Sink.Authority),
				"udpbus", "Send", "route message")
		}
	}
	if len(t.peers) == 0 {
		return nil, errors.NotFound(fmt.Errorf("no peers configured"), "udpbus", "Send", "route message")
	}
	out := make([]*peer, len(t.peers))
	for i := range t.peers {
		out[i] = &t.peers[i]
	}
	return out, nil
}

// RegisterListener implements transport.Transport.
func (t *Transport) RegisterListener(_ context.Context, f transport.Filter, l transport.Listener) (transport.Registration, error) {
	if l == nil {
		return transport.Registration{}, errors.InvalidArgument(
			fmt.Errorf("nil listener"), "udpbus", "RegisterListener", "register listener")
	}

	reg := transport.NewRegistration(f)
	t.mu.Lock()
	t.listeners[reg.ID()] = listenerEntry{filter: f, listener: l}
	t.mu.Unlock()
	return reg, nil
}

// UnregisterListener implements transport.Transport.
func (t *Transport) UnregisterListener(_ context.Context, r transport.Registration) error {
	t.mu.Lock()
	delete(t.listeners, r.ID())
	t.mu.Unlock()
	return nil
}

func (t *Transport) readLoop(conn *net.UDPConn, shutdown <-chan struct{}) {
	buf := make([]byte, t.cfg.MaxDatagramSize)

	for {
		select {
		case <-shutdown:
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(readDeadline))
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if stderrors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-shutdown:
				return
			default:
			}
			t.errs.Add(1)
			if t.metrics != nil {
				t.metrics.socketErrors.Inc()
			}
			if stderrors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("UDP read failed", "error", err)
			continue
		}

		t.received.Add(1)
		if t.metrics != nil {
			t.metrics.datagramsReceived.Inc()
			t.metrics.bytesReceived.Add(float64(n))
		}

		m, err := t.codec.Unmarshal(buf[:n])
		if err != nil {
			t.errs.Add(1)
			if t.metrics != nil {
				t.metrics.decodeErrors.Inc()
			}
			t.logger.Debug("Dropping undecodable datagram", "from", from.String(), "error", err)
			continue
		}
		t.qualify(m, from)
		t.deliver(m)
	}
}

// qualify fills in what ECUs commonly leave out: the authority of local
// source URIs, taken from the sending peer, and the default application id.
func (t *Transport) qualify(m *message.Message, from *net.UDPAddr) {
	if m.Source.Authority == "" {
		for i := range t.peers {
			p := &t.peers[i]
			if p.authority != "" && p.addr.IP.Equal(from.IP) && p.addr.Port == from.Port {
				m.Source.Authority = p.authority
				break
			}
		}
	}
	if m.Source.EntityID == 0 && t.cfg.DefaultApplicationID != 0 {
		m.Source.EntityID = t.cfg.DefaultApplicationID
	}
}

func (t *Transport) deliver(m *message.Message) {
	t.mu.RLock()
	targets := make([]transport.Listener, 0, len(t.listeners))
	for _, e := range t.listeners {
		if e.filter.Matches(m) {
			targets = append(targets, e.listener)
		}
	}
	t.mu.RUnlock()

	for _, l := range targets {
		l.OnReceive(m)
	}
}

func (t *Transport) recordStatus(connected bool) {
	if t.status != nil {
		t.status.RecordTransportStatus("udpbus", connected)
	}
}
