package chatsync

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
)

// fakeBroker records subscribe/send traffic and lets tests drive
// connectivity transitions and inbound delivery.
type fakeBroker struct {
	mu            sync.Mutex
	connected     bool
	subSeq        int
	handlers      map[string]func([]byte)
	dests         map[string]string
	sends         []sentPayload
	calls         []string
	listeners     []func(StateEvent)
	failSubscribe bool
}

type sentPayload struct {
	destination string
	payload     any
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		connected: true,
		handlers:  make(map[string]func([]byte)),
		dests:     make(map[string]string),
	}
}

func (b *fakeBroker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Subscribe(destination string, handler func([]byte)) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return "", ErrNotConnected
	}
	if b.failSubscribe {
		return "", NewError(ErrorConnection, "subscribe refused")
	}
	id := fmt.Sprintf("sub-%d", b.subSeq)
	b.subSeq++
	b.handlers[id] = handler
	b.dests[id] = destination
	b.calls = append(b.calls, "subscribe:"+destination)
	return id, nil
}

func (b *fakeBroker) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
	delete(b.dests, id)
	b.calls = append(b.calls, "unsubscribe:"+id)
}

func (b *fakeBroker) Send(destination string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return ErrNotConnected
	}
	b.sends = append(b.sends, sentPayload{destination: destination, payload: payload})
	b.calls = append(b.calls, "send:"+destination)
	return nil
}

func (b *fakeBroker) OnStateChange(fn func(StateEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, fn)
}

// setConnected flips connectivity and notifies listeners like Transport.
func (b *fakeBroker) setConnected(connected bool) {
	b.mu.Lock()
	b.connected = connected
	listeners := append(make([]func(StateEvent), 0, len(b.listeners)), b.listeners...)
	b.mu.Unlock()

	ev := StateEvent{OldState: StateConnected, NewState: StateDisconnected}
	if connected {
		ev = StateEvent{OldState: StateDisconnected, NewState: StateConnected}
	}
	for _, fn := range listeners {
		fn(ev)
	}
}

// deliver marshals v and hands it to every registered handler.
func (b *fakeBroker) deliver(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	b.mu.Lock()
	handlers := make([]func([]byte), 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()
	for _, h := range handlers {
		h(data)
	}
}

// sendsTo returns the payloads published to one destination.
func (b *fakeBroker) sendsTo(destination string) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []any
	for _, s := range b.sends {
		if s.destination == destination {
			out = append(out, s.payload)
		}
	}
	return out
}

func (b *fakeBroker) callLog() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.calls...)
}
