package chatsync

import "sync"

// ReactionLedger folds reaction events into per-message emoji -> user-id
// sets. ADD is idempotent per user/emoji/message; REMOVE deletes emptied
// emoji keys to keep the map sparse. Reactions targeting messages the room
// does not hold locally are dropped: a benign race with history truncation
// or delivery ordering.
type ReactionLedger struct {
	mu        sync.Mutex
	logger    Logger
	known     func(messageID string) bool
	byMessage map[string]map[string][]string
}

// NewReactionLedger constructs a ledger. known gates which message ids are
// accepted; a nil known accepts everything.
func NewReactionLedger(logger Logger, known func(messageID string) bool) *ReactionLedger {
	if logger == nil {
		logger = noopLogger{}
	}
	return &ReactionLedger{
		logger:    logger,
		known:     known,
		byMessage: make(map[string]map[string][]string),
	}
}

// Apply folds one reaction event into the ledger.
func (l *ReactionLedger) Apply(r Reaction) {
	if l.known != nil && !l.known(r.MessageID) {
		l.logger.Debug("dropping reaction for unknown message", map[string]any{
			"messageId": r.MessageID,
			"emoji":     r.Emoji,
		})
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	switch r.Action {
	case ActionAdd:
		emojis := l.byMessage[r.MessageID]
		if emojis == nil {
			emojis = make(map[string][]string)
			l.byMessage[r.MessageID] = emojis
		}
		if !contains(emojis[r.Emoji], r.UserID) {
			emojis[r.Emoji] = append(emojis[r.Emoji], r.UserID)
		}
	case ActionRemove:
		emojis := l.byMessage[r.MessageID]
		if emojis == nil {
			return
		}
		users := remove(emojis[r.Emoji], r.UserID)
		if len(users) == 0 {
			delete(emojis, r.Emoji)
		} else {
			emojis[r.Emoji] = users
		}
	default:
		l.logger.Warn("unknown reaction action", map[string]any{"action": r.Action})
	}
}

// Seed loads pre-existing reactions from a history page.
func (l *ReactionLedger) Seed(messageID string, reactions map[string][]string) {
	if len(reactions) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	emojis := make(map[string][]string, len(reactions))
	for emoji, users := range reactions {
		emojis[emoji] = append([]string(nil), users...)
	}
	l.byMessage[messageID] = emojis
}

// ReactionCount returns how many users reacted with emoji on a message.
func (l *ReactionLedger) ReactionCount(messageID, emoji string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.byMessage[messageID][emoji])
}

// TotalReactionCount returns the sum over all emoji sets on a message.
func (l *ReactionLedger) TotalReactionCount(messageID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, users := range l.byMessage[messageID] {
		total += len(users)
	}
	return total
}

// HasUserReacted reports whether userID reacted with emoji on a message.
func (l *ReactionLedger) HasUserReacted(messageID, emoji, userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return contains(l.byMessage[messageID][emoji], userID)
}

// UsersForEmoji returns the user ids that reacted with emoji on a message.
func (l *ReactionLedger) UsersForEmoji(messageID, emoji string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.byMessage[messageID][emoji]...)
}

// Snapshot returns a copy of the full emoji map for a message, or nil.
func (l *ReactionLedger) Snapshot(messageID string) map[string][]string {
	l.mu.Lock()
	defer l.mu.Unlock()
	emojis := l.byMessage[messageID]
	if len(emojis) == 0 {
		return nil
	}
	out := make(map[string][]string, len(emojis))
	for emoji, users := range emojis {
		out[emoji] = append([]string(nil), users...)
	}
	return out
}

// Reset drops all folded state.
func (l *ReactionLedger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byMessage = make(map[string]map[string][]string)
}

func contains(users []string, userID string) bool {
	for _, u := range users {
		if u == userID {
			return true
		}
	}
	return false
}

func remove(users []string, userID string) []string {
	out := users[:0]
	for _, u := range users {
		if u != userID {
			out = append(out, u)
		}
	}
	return out
}
