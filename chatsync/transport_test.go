package chatsync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func mustParseDuration(t *testing.T, s string) time.Duration {
	t.Helper()
	d, err := time.ParseDuration(s)
	if err != nil {
		t.Fatalf("parse duration %q: %v", s, err)
	}
	return d
}

func TestSubscribeRequiresConnection(t *testing.T) {
	tr := NewTransport(DefaultConfig())

	_, err := tr.Subscribe("/topic/room/r1", func([]byte) {})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected not_connected, got %v", err)
	}
}

func TestSendRequiresConnection(t *testing.T) {
	tr := NewTransport(DefaultConfig())

	err := tr.Send(DestSend, ChatMessage{MessageID: "m1"})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected not_connected, got %v", err)
	}
}

func TestUnsubscribeUnknownIsNoop(t *testing.T) {
	tr := NewTransport(DefaultConfig())
	tr.Unsubscribe("sub-404") // must not panic or send
	if tr.State() != StateDisconnected {
		t.Fatalf("unexpected state %s", tr.State())
	}
}

func TestConnectRejectsEmptyURL(t *testing.T) {
	tr := NewTransport(DefaultConfig())

	err := tr.Connect(context.Background())
	if CodeOf(err) != ErrorInvalidConfig {
		t.Fatalf("expected invalid_config, got %v", err)
	}
	if tr.Connected() {
		t.Fatalf("must not be connected")
	}
}

func TestConnectAfterCloseFails(t *testing.T) {
	tr := NewTransport(DefaultConfig())
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	err := tr.Connect(context.Background())
	if CodeOf(err) != ErrorConnection {
		t.Fatalf("expected connection error on a closed transport, got %v", err)
	}
	if tr.State() != StateClosed {
		t.Fatalf("closed transport must stay closed, got %s", tr.State())
	}
}

func TestDisconnectWithoutConnectionIsSafe(t *testing.T) {
	tr := NewTransport(DefaultConfig())
	if err := tr.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if tr.State() != StateDisconnected {
		t.Fatalf("unexpected state %s", tr.State())
	}
}

func TestStateChangeListener(t *testing.T) {
	tr := NewTransport(DefaultConfig())

	var events []StateEvent
	tr.OnStateChange(func(ev StateEvent) { events = append(events, ev) })

	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(events) != 1 || events[0].NewState != StateClosed {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestConnectionStateStrings(t *testing.T) {
	cases := map[ConnectionState]string{
		StateDisconnected: "disconnected",
		StateConnecting:   "connecting",
		StateConnected:    "connected",
		StateReconnecting: "reconnecting",
		StateClosed:       "closed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Fatalf("state %d: expected %q, got %q", state, want, got)
		}
	}
}

func TestNegotiateHeartbeat(t *testing.T) {
	cases := []struct {
		proposed string
		reply    string
		want     string
	}{
		{"10s", "10000,10000", "10s"},
		{"10s", "0,30000", "30s"}, // broker wants beats less often
		{"10s", "", "10s"},
		{"10s", "garbage", "10s"},
		{"0s", "10000,10000", "0s"},
	}
	for _, c := range cases {
		proposed := mustParseDuration(t, c.proposed)
		want := mustParseDuration(t, c.want)
		if got := negotiateHeartbeat(proposed, c.reply); got != want {
			t.Fatalf("negotiate(%s, %q): expected %s, got %s", c.proposed, c.reply, want, got)
		}
	}
}

func TestChatErrorMatching(t *testing.T) {
	err := WrapError(ErrorJoinFailed, "announce join", ErrNotConnected)
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("wrapped sentinel must match")
	}
	if CodeOf(err) != ErrorJoinFailed {
		t.Fatalf("expected outer code, got %v", CodeOf(err))
	}
	if err.Error() == "" {
		t.Fatalf("expected message")
	}
}
