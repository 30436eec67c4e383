package chatsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"

	"github.com/chatsync-io/chatsync-go/chatsync/internal"
)

// Broker is the transport surface a RoomSession depends on. Transport is
// the production implementation; tests substitute fakes.
type Broker interface {
	// Connected reports whether the broker link is currently established.
	Connected() bool

	// Subscribe registers a handler for message bodies arriving at a
	// destination and returns an opaque subscription id. Fails with
	// ErrNotConnected when the link is down. Subscriptions do not survive
	// a disconnect.
	Subscribe(destination string, handler func(body []byte)) (string, error)

	// Unsubscribe removes a subscription. Unknown ids are a no-op.
	Unsubscribe(id string)

	// Send serializes payload as JSON and publishes it to destination.
	// Fails with ErrNotConnected when the link is down. No delivery
	// acknowledgment is modeled at this layer.
	Send(destination string, payload any) error

	// OnStateChange registers a listener for connection state transitions.
	OnStateChange(fn func(StateEvent))
}

type subscription struct {
	id          string
	destination string
	handler     func(body []byte)
}

// Transport owns the physical STOMP connection to the chat broker: the
// CONNECT handshake, heartbeats, the subscription registry, and autonomous
// reconnection on unexpected loss. Subscriptions are invalidated by any
// disconnect; re-subscribing is the subscriber's responsibility, signalled
// through state change events.
type Transport struct {
	cfg    Config
	logger Logger

	mu        sync.Mutex
	state     ConnectionState
	conn      *internal.Conn
	subs      map[string]*subscription
	subSeq    int
	listeners []func(StateEvent)
	cancel    context.CancelFunc
	writeCh   chan []byte
	closed    bool
}

var _ Broker = (*Transport)(nil)

// NewTransport constructs a transport with the provided config. Use
// DefaultConfig() as a starting point and modify as needed.
func NewTransport(cfg Config) *Transport {
	return &Transport{
		cfg:    cfg,
		logger: noopLogger{},
		state:  StateDisconnected,
		subs:   make(map[string]*subscription),
	}
}

// SetLogger overrides the logger (optional).
func (t *Transport) SetLogger(l Logger) {
	if l == nil {
		return
	}
	t.logger = l
}

// State returns the current connection state.
func (t *Transport) State() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Connected reports whether the transport is currently connected.
func (t *Transport) Connected() bool {
	return t.State() == StateConnected
}

// OnStateChange registers a listener for connection state transitions.
// Listeners are invoked synchronously in registration order.
func (t *Transport) OnStateChange(fn func(StateEvent)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// Connect establishes the connection. A no-op when already connected or
// connecting; fails on a transport that was closed for good. The guard and
// the transition to Connecting share one critical section so concurrent
// calls cannot dial twice.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return NewError(ErrorConnection, "transport closed")
	}
	if t.state != StateDisconnected {
		t.mu.Unlock()
		return nil
	}
	if t.cfg.URL == "" {
		t.mu.Unlock()
		return NewError(ErrorInvalidConfig, "empty URL")
	}
	t.closed = false
	t.state = StateConnecting
	listeners := t.snapshotListeners()
	t.mu.Unlock()

	notify(listeners, StateEvent{OldState: StateDisconnected, NewState: StateConnecting})

	if err := t.dial(ctx); err != nil {
		t.setState(StateDisconnected, err)
		return err
	}
	return nil
}

// Disconnect tears down all active subscriptions and closes the
// connection. Automatic reconnection does not follow an explicit
// disconnect; Connect may be called again later.
func (t *Transport) Disconnect() error {
	return t.shutdown(StateDisconnected)
}

// Close shuts the transport down for good.
func (t *Transport) Close() error {
	return t.shutdown(StateClosed)
}

func (t *Transport) shutdown(final ConnectionState) error {
	t.mu.Lock()
	t.closed = true
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	conn := t.conn
	t.conn = nil
	t.subs = make(map[string]*subscription)
	t.mu.Unlock()

	t.setState(final, nil)
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Subscribe registers a handler for bodies arriving at destination.
func (t *Transport) Subscribe(destination string, handler func(body []byte)) (string, error) {
	t.mu.Lock()
	if t.state != StateConnected {
		t.mu.Unlock()
		return "", ErrNotConnected
	}
	id := fmt.Sprintf("sub-%d", t.subSeq)
	t.subSeq++
	t.subs[id] = &subscription{id: id, destination: destination, handler: handler}
	t.mu.Unlock()

	f := internal.NewFrame(internal.CmdSubscribe)
	f.Set(internal.HdrID, id)
	f.Set(internal.HdrDestination, destination)
	f.Set(internal.HdrAck, "auto")
	if err := t.enqueue(f.Marshal()); err != nil {
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
		return "", err
	}
	return id, nil
}

// Unsubscribe removes a subscription. Unknown ids (for example after a
// disconnect already dropped the registry) are a no-op.
func (t *Transport) Unsubscribe(id string) {
	t.mu.Lock()
	_, known := t.subs[id]
	if known {
		delete(t.subs, id)
	}
	connected := t.state == StateConnected
	t.mu.Unlock()
	if !known || !connected {
		return
	}

	f := internal.NewFrame(internal.CmdUnsubscribe)
	f.Set(internal.HdrID, id)
	if err := t.enqueue(f.Marshal()); err != nil {
		t.logger.Warn("unsubscribe send failed", map[string]any{"id": id, "error": err.Error()})
	}
}

// Send publishes a JSON payload to an application destination.
func (t *Transport) Send(destination string, payload any) error {
	if !t.Connected() {
		return ErrNotConnected
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return WrapError(ErrorSerialization, "marshal payload", err)
	}
	f := internal.NewFrame(internal.CmdSend)
	f.Set(internal.HdrDestination, destination)
	f.Set(internal.HdrContentType, "application/json")
	f.Body = body
	return t.enqueue(f.Marshal())
}

func (t *Transport) enqueue(data []byte) error {
	t.mu.Lock()
	ch := t.writeCh
	t.mu.Unlock()
	if ch == nil {
		return ErrNotConnected
	}

	timeout := t.cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case ch <- data:
		return nil
	case <-time.After(timeout):
		return NewError(ErrorTimeout, "write queue full")
	}
}

// dial opens the websocket, performs the STOMP handshake, and starts the
// read/write/heartbeat loops.
func (t *Transport) dial(ctx context.Context) error {
	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return WrapError(ErrorInvalidConfig, "parse URL", err)
	}

	dialCtx := ctx
	if t.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
		defer cancel()
	}

	ws, _, err := websocket.Dial(dialCtx, u.String(), nil)
	if err != nil {
		return WrapError(ErrorConnection, "dial broker", err)
	}
	conn := internal.NewConn(ws, t.cfg.ReadTimeout, t.cfg.WriteTimeout)

	beatMillis := t.cfg.Heartbeat.Milliseconds()
	connect := internal.NewFrame(internal.CmdConnect)
	connect.Set(internal.HdrAcceptVersion, "1.2")
	connect.Set(internal.HdrHost, u.Host)
	connect.Set(internal.HdrHeartBeat, fmt.Sprintf("%d,%d", beatMillis, beatMillis))
	if t.cfg.Token != "" {
		connect.Set(internal.HdrAuthorization, "Bearer "+t.cfg.Token)
	}
	if err := conn.Write(dialCtx, connect.Marshal()); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake error")
		return WrapError(ErrorConnection, "send CONNECT", err)
	}

	connected, err := awaitConnected(dialCtx, conn)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "handshake error")
		return err
	}

	beat := negotiateHeartbeat(t.cfg.Heartbeat, connected.Get(internal.HdrHeartBeat))
	runCtx, cancel := context.WithCancel(context.Background())

	// The Connected transition happens before the loops start, so a link
	// dying immediately is still seen by connectionLost as a live conn.
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		cancel()
		_ = conn.Close(websocket.StatusNormalClosure, "client disconnect")
		return NewError(ErrorConnection, "transport closed")
	}
	t.conn = conn
	t.cancel = cancel
	t.writeCh = make(chan []byte, 64)
	t.subs = make(map[string]*subscription)
	old := t.state
	t.state = StateConnected
	listeners := t.snapshotListeners()
	t.mu.Unlock()
	notify(listeners, StateEvent{OldState: old, NewState: StateConnected})

	go t.readLoop(runCtx, conn)
	go t.writeLoop(runCtx, conn)
	if beat > 0 {
		go t.heartbeatLoop(runCtx, beat)
	}
	return nil
}

// awaitConnected reads frames until the broker answers the handshake,
// skipping interleaved heartbeats.
func awaitConnected(ctx context.Context, conn *internal.Conn) (*internal.Frame, error) {
	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			return nil, WrapError(ErrorConnection, "await CONNECTED", err)
		}
		if internal.IsHeartbeat(raw) {
			continue
		}
		f, err := internal.ParseFrame(raw)
		if err != nil {
			return nil, WrapError(ErrorMalformedPayload, "parse handshake frame", err)
		}
		switch f.Command {
		case internal.CmdConnected:
			return f, nil
		case internal.CmdError:
			return nil, NewError(ErrorBroker, strings.TrimSpace(string(f.Body)))
		}
	}
}

// negotiateHeartbeat resolves the outgoing beat interval from our proposal
// and the broker's "sx,sy" reply: we must not beat more often than we
// offered, nor less often than the broker expects.
func negotiateHeartbeat(proposed time.Duration, reply string) time.Duration {
	if proposed <= 0 {
		return 0
	}
	_, want, ok := strings.Cut(reply, ",")
	if !ok {
		return proposed
	}
	wantMillis, err := strconv.ParseInt(strings.TrimSpace(want), 10, 64)
	if err != nil || wantMillis <= 0 {
		return proposed
	}
	if d := time.Duration(wantMillis) * time.Millisecond; d > proposed {
		return d
	}
	return proposed
}

func (t *Transport) readLoop(ctx context.Context, conn *internal.Conn) {
	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			t.connectionLost(conn, err)
			return
		}
		if internal.IsHeartbeat(raw) {
			continue
		}
		f, err := internal.ParseFrame(raw)
		if err != nil {
			t.logger.Warn("dropping malformed frame", map[string]any{"error": err.Error()})
			continue
		}
		switch f.Command {
		case internal.CmdMessage:
			t.deliver(f)
		case internal.CmdError:
			t.logger.Error("broker error frame", map[string]any{"body": string(f.Body)})
		}
	}
}

// deliver routes a MESSAGE frame to the handler registered for its
// subscription header, falling back to destination matching.
func (t *Transport) deliver(f *internal.Frame) {
	subID := f.Get(internal.HdrSubscription)
	dest := f.Get(internal.HdrDestination)

	t.mu.Lock()
	var handler func([]byte)
	if sub, ok := t.subs[subID]; ok {
		handler = sub.handler
	} else {
		for _, sub := range t.subs {
			if sub.destination == dest {
				handler = sub.handler
				break
			}
		}
	}
	t.mu.Unlock()

	if handler == nil {
		t.logger.Debug("no subscriber for frame", map[string]any{"destination": dest})
		return
	}
	handler(f.Body)
}

func (t *Transport) writeLoop(ctx context.Context, conn *internal.Conn) {
	t.mu.Lock()
	ch := t.writeCh
	t.mu.Unlock()
	for {
		select {
		case data := <-ch:
			if err := conn.Write(ctx, data); err != nil {
				t.connectionLost(conn, err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) heartbeatLoop(ctx context.Context, beat time.Duration) {
	ticker := time.NewTicker(beat)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			// Best effort; a full queue here means the link is stalling
			// and the read loop will notice shortly.
			_ = t.enqueue(internal.Heartbeat)
		case <-ctx.Done():
			return
		}
	}
}

// connectionLost handles an unexpected link failure: invalidates all
// subscriptions, surfaces the transition, and kicks off reconnection when
// configured. The conn identity check makes duplicate notifications from
// the read and write loops, and late ones after a shutdown or a fresh
// dial, a no-op.
func (t *Transport) connectionLost(conn *internal.Conn, err error) {
	t.mu.Lock()
	if t.closed || t.conn != conn {
		t.mu.Unlock()
		return
	}
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	t.conn = nil
	t.writeCh = nil
	t.subs = make(map[string]*subscription)
	retry := t.cfg.AutoReconnect
	t.mu.Unlock()

	_ = conn.Close(websocket.StatusGoingAway, "connection lost")
	t.logger.Warn("connection lost", map[string]any{"error": err.Error()})
	t.setState(StateDisconnected, err)

	if retry {
		t.setState(StateReconnecting, nil)
		go t.reconnectLoop()
	}
}

func (t *Transport) reconnectLoop() {
	interval := t.cfg.ReconnectInterval
	if interval <= 0 {
		interval = 3 * time.Second
	}
	var policy backoff.BackOff = backoff.NewConstantBackOff(interval)
	if t.cfg.MaxReconnectTries > 0 {
		policy = backoff.WithMaxRetries(policy, uint64(t.cfg.MaxReconnectTries))
	}

	attempt := func() error {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return backoff.Permanent(NewError(ErrorConnection, "transport closed"))
		}
		t.mu.Unlock()
		return t.dial(context.Background())
	}

	// dial itself surfaces the Connected transition on success.
	if err := backoff.Retry(attempt, policy); err != nil {
		t.logger.Error("reconnect abandoned", map[string]any{"error": err.Error()})
		t.mu.Lock()
		closed := t.closed
		t.mu.Unlock()
		if !closed {
			t.setState(StateDisconnected, err)
		}
	}
}

// setState records a transition and notifies listeners outside the lock.
func (t *Transport) setState(next ConnectionState, err error) {
	t.mu.Lock()
	old := t.state
	if old == next {
		t.mu.Unlock()
		return
	}
	t.state = next
	listeners := t.snapshotListeners()
	t.mu.Unlock()

	notify(listeners, StateEvent{OldState: old, NewState: next, Err: err})
}

// snapshotListeners must be called with t.mu held.
func (t *Transport) snapshotListeners() []func(StateEvent) {
	out := make([]func(StateEvent), len(t.listeners))
	copy(out, t.listeners)
	return out
}

func notify(listeners []func(StateEvent), ev StateEvent) {
	for _, fn := range listeners {
		fn(ev)
	}
}
