package chatsync

import (
	"fmt"
	"sync"
	"time"
)

// TypingCoordinator owns one room's typing state: the debounced outbound
// signal for the local user and the live set of remote typers.
//
// StartTyping is debounced so per-keystroke calls collapse into a single
// typing=true send, after which an auto-expiry timer emits typing=false
// when the user goes quiet.
type TypingCoordinator struct {
	broker   Broker
	roomID   string
	id       Identity
	logger   Logger
	debounce time.Duration
	expiry   time.Duration

	mu            sync.Mutex
	debounceTimer *time.Timer
	expiryTimer   *time.Timer
	active        bool // typing=true sent since the last typing=false

	order []string // remote typer user ids in arrival order
	names map[string]string
}

// NewTypingCoordinator constructs a coordinator for one room and one local
// identity. Zero debounce/expiry values in cfg fall back to defaults.
func NewTypingCoordinator(broker Broker, roomID string, id Identity, cfg Config, logger Logger) *TypingCoordinator {
	if logger == nil {
		logger = noopLogger{}
	}
	debounce := cfg.TypingDebounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	expiry := cfg.TypingExpiry
	if expiry <= 0 {
		expiry = 3 * time.Second
	}
	return &TypingCoordinator{
		broker:   broker,
		roomID:   roomID,
		id:       id,
		logger:   logger,
		debounce: debounce,
		expiry:   expiry,
		names:    make(map[string]string),
	}
}

// StartTyping schedules a typing=true send after the debounce window.
// Repeated calls inside the window reset it without stacking sends.
func (t *TypingCoordinator) StartTyping() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.debounceTimer != nil {
		t.debounceTimer.Stop()
	}
	t.debounceTimer = time.AfterFunc(t.debounce, t.fireStart)
}

func (t *TypingCoordinator) fireStart() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.debounceTimer = nil
	if !t.active {
		t.send(true)
		t.active = true
	}
	if t.expiryTimer != nil {
		t.expiryTimer.Stop()
	}
	t.expiryTimer = time.AfterFunc(t.expiry, t.StopTyping)
}

// StopTyping cancels pending timers and, only if typing=true was actually
// sent since the last stop, sends typing=false.
func (t *TypingCoordinator) StopTyping() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelTimers()
	if t.active {
		t.active = false
		t.send(false)
	}
}

// send must be called with t.mu held.
func (t *TypingCoordinator) send(isTyping bool) {
	ti := TypingIndicator{
		RoomID:    t.roomID,
		UserID:    t.id.UserID,
		Username:  t.id.Username,
		IsTyping:  isTyping,
		Timestamp: FormatTimestamp(time.Now()),
	}
	if err := t.broker.Send(DestTyping, ti); err != nil {
		t.logger.Warn("typing indicator send failed", map[string]any{
			"isTyping": isTyping,
			"error":    err.Error(),
		})
	}
}

// Receive folds one inbound typing indicator. Events carrying the local
// user id are discarded.
func (t *TypingCoordinator) Receive(ti TypingIndicator) {
	if ti.UserID == t.id.UserID {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ti.IsTyping {
		if _, ok := t.names[ti.UserID]; !ok {
			t.order = append(t.order, ti.UserID)
		}
		t.names[ti.UserID] = ti.Username
		return
	}
	if _, ok := t.names[ti.UserID]; ok {
		delete(t.names, ti.UserID)
		t.order = remove(t.order, ti.UserID)
	}
}

// TypingUsers returns the display names of remote typers in arrival order.
func (t *TypingCoordinator) TypingUsers() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.order))
	for _, uid := range t.order {
		out = append(out, t.names[uid])
	}
	return out
}

// Text renders the typing indicator line shown under the message list.
func (t *TypingCoordinator) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch n := len(t.order); n {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s님이 입력 중...", t.names[t.order[0]])
	case 2:
		return fmt.Sprintf("%s, %s님이 입력 중...", t.names[t.order[0]], t.names[t.order[1]])
	default:
		return fmt.Sprintf("%s 외 %d명이 입력 중...", t.names[t.order[0]], n-1)
	}
}

// Reset cancels timers and clears all typing state without sending. Used
// on room teardown so no signal fires after cleanup.
func (t *TypingCoordinator) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelTimers()
	t.active = false
	t.order = nil
	t.names = make(map[string]string)
}

// cancelTimers must be called with t.mu held.
func (t *TypingCoordinator) cancelTimers() {
	if t.debounceTimer != nil {
		t.debounceTimer.Stop()
		t.debounceTimer = nil
	}
	if t.expiryTimer != nil {
		t.expiryTimer.Stop()
		t.expiryTimer = nil
	}
}
