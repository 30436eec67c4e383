package chatsync

import (
	"sync"
	"time"
)

// ReadReceiptTracker owns one room's read state: per-message read-by sets
// folded from inbound receipts, and the debounced outbound "read up to
// here" signal for the local user. Rapid MarkAsRead calls (a scroll
// sweeping messages into view) replace the pending target so only the last
// message before the quiet period is reported.
type ReadReceiptTracker struct {
	broker   Broker
	roomID   string
	id       Identity
	logger   Logger
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	pending  string
	lastSent string
	readBy   map[string][]string // messageID -> user ids in arrival order
}

// NewReadReceiptTracker constructs a tracker for one room and one local
// identity. A zero debounce in cfg falls back to the default.
func NewReadReceiptTracker(broker Broker, roomID string, id Identity, cfg Config, logger Logger) *ReadReceiptTracker {
	if logger == nil {
		logger = noopLogger{}
	}
	debounce := cfg.ReadReceiptDebounce
	if debounce <= 0 {
		debounce = time.Second
	}
	return &ReadReceiptTracker{
		broker:   broker,
		roomID:   roomID,
		id:       id,
		logger:   logger,
		debounce: debounce,
		readBy:   make(map[string][]string),
	}
}

// MarkAsRead schedules a read receipt for messageID after the debounce
// window, replacing any pending target.
func (r *ReadReceiptTracker) MarkAsRead(messageID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = messageID
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, r.flush)
}

func (r *ReadReceiptTracker) flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timer = nil
	target := r.pending
	r.pending = ""
	if target == "" || target == r.lastSent {
		return
	}
	rr := ReadReceipt{
		RoomID:    r.roomID,
		UserID:    r.id.UserID,
		MessageID: target,
		Timestamp: FormatTimestamp(time.Now()),
	}
	if err := r.broker.Send(DestRead, rr); err != nil {
		r.logger.Warn("read receipt send failed", map[string]any{
			"messageId": target,
			"error":     err.Error(),
		})
		return
	}
	r.lastSent = target
}

// Receive folds one inbound receipt. A user's own reads never appear in
// the read-by set for their own display, so local receipts are discarded.
func (r *ReadReceiptTracker) Receive(rr ReadReceipt) {
	if rr.UserID == r.id.UserID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !contains(r.readBy[rr.MessageID], rr.UserID) {
		r.readBy[rr.MessageID] = append(r.readBy[rr.MessageID], rr.UserID)
	}
}

// InitializeReadStatus seeds per-message read-by sets from a history page
// that carries pre-existing read-by lists.
func (r *ReadReceiptTracker) InitializeReadStatus(records []MessageRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		if len(rec.ReadBy) > 0 {
			r.readBy[rec.MessageID] = append([]string(nil), rec.ReadBy...)
		}
	}
}

// ReadStatus returns the user ids that read a message, in arrival order.
func (r *ReadReceiptTracker) ReadStatus(messageID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.readBy[messageID]...)
}

// ReadCount returns how many users read a message.
func (r *ReadReceiptTracker) ReadCount(messageID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.readBy[messageID])
}

// IsRead reports whether at least one user read a message.
func (r *ReadReceiptTracker) IsRead(messageID string) bool {
	return r.ReadCount(messageID) > 0
}

// Reset cancels the pending send and drops all folded state.
func (r *ReadReceiptTracker) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.pending = ""
	r.lastSent = ""
	r.readBy = make(map[string][]string)
}
