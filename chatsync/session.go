package chatsync

import (
	"context"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxMessageLength is the longest content, in runes after trimming, that
// SendMessage will publish.
const MaxMessageLength = 1000

// HistoryProvider returns a page of past messages for a room, newest
// first, as served by the history API. Implementations may return an empty
// page instead of an error on failure.
type HistoryProvider interface {
	History(ctx context.Context, roomID string, limit int) ([]MessageRecord, error)
}

// RoomSession synchronizes one room: the join/leave state machine, the
// deduplicated message buffer, and the presence, reaction, typing and
// read-receipt trackers folding that room's events. All reads are
// synchronous snapshots of the latest folded state.
//
// A session owns exactly one room. Run one session per room for
// multi-room use; sessions are independent and share nothing but the
// broker they are handed.
type RoomSession struct {
	roomID  string
	broker  Broker
	cfg     Config
	id      Identity
	logger  Logger
	history HistoryProvider

	reactions *ReactionLedger
	typing    *TypingCoordinator
	reads     *ReadReceiptTracker

	mu        sync.Mutex
	state     JoinState
	gen       int // bumped by Leave and connectivity loss to void in-flight joins
	subID     string
	announced bool // USER_JOINED was published for the current membership
	messages  []ChatMessage
	seen      map[string]struct{}
	presence  presenceTracker
	rejoin    bool
}

// NewRoomSession constructs a session bound to an explicitly owned broker.
// A zero identity gets an ephemeral guest identity.
func NewRoomSession(broker Broker, roomID string, id Identity, cfg Config) *RoomSession {
	s := &RoomSession{
		roomID: roomID,
		broker: broker,
		cfg:    cfg,
		id:     orEphemeral(id),
		logger: noopLogger{},
		seen:   make(map[string]struct{}),
	}
	s.reactions = NewReactionLedger(s.logger, s.knowsMessage)
	s.typing = NewTypingCoordinator(broker, roomID, s.id, cfg, s.logger)
	s.reads = NewReadReceiptTracker(broker, roomID, s.id, cfg, s.logger)
	broker.OnStateChange(s.handleConnectivity)
	return s
}

// SetLogger overrides the logger (optional). Call before Join.
func (s *RoomSession) SetLogger(l Logger) {
	if l == nil {
		return
	}
	s.logger = l
	s.reactions.logger = l
	s.typing.logger = l
	s.reads.logger = l
}

// SetHistoryProvider attaches the external history provider used to seed
// the message buffer on join (optional). Call before Join.
func (s *RoomSession) SetHistoryProvider(h HistoryProvider) {
	s.history = h
}

// RoomID returns the room this session synchronizes.
func (s *RoomSession) RoomID() string { return s.roomID }

// Identity returns the local identity attached to outbound payloads.
func (s *RoomSession) Identity() Identity { return s.id }

// State returns the current join state.
func (s *RoomSession) State() JoinState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsJoined reports whether the session is currently joined.
func (s *RoomSession) IsJoined() bool { return s.State() == Joined }

// Join enters the room: seeds the buffer from the history provider when
// one is attached, subscribes to the room topic strictly before announcing
// membership, then marks the session joined. A no-op when the broker is
// not connected or the session is already joining or joined. Failures
// unwind to NotJoined and are returned; there is no automatic retry.
func (s *RoomSession) Join(ctx context.Context) error {
	s.mu.Lock()
	if s.state != NotJoined {
		s.mu.Unlock()
		return nil
	}
	if !s.broker.Connected() {
		s.mu.Unlock()
		s.logger.Debug("join skipped: broker not connected", map[string]any{"roomId": s.roomID})
		return nil
	}
	s.state = Joining
	gen := s.gen
	s.mu.Unlock()

	if s.history != nil {
		limit := s.cfg.HistoryLimit
		if limit <= 0 {
			limit = 50
		}
		records, err := s.history.History(ctx, s.roomID, limit)
		if err != nil {
			s.logger.Warn("history fetch failed", map[string]any{"roomId": s.roomID, "error": err.Error()})
			records = nil
		}
		// A Leave may have raced the fetch; joining must not continue then.
		if !s.stillJoining(gen) {
			return nil
		}
		s.seedHistory(records)
	}

	subID, err := s.broker.Subscribe(RoomTopic(s.roomID), s.handleRoomMessage)
	if err != nil {
		s.abortJoin(gen)
		return WrapError(ErrorJoinFailed, "subscribe to room topic", err)
	}

	s.mu.Lock()
	if s.gen != gen || s.state != Joining {
		s.mu.Unlock()
		// Leave won the race; drop the subscription we just made.
		s.broker.Unsubscribe(subID)
		return nil
	}
	s.subID = subID
	s.mu.Unlock()

	if err := s.broker.Send(DestJoin, s.membershipEvent(EventUserJoined)); err != nil {
		s.broker.Unsubscribe(subID)
		s.abortJoin(gen)
		return WrapError(ErrorJoinFailed, "announce join", err)
	}

	s.mu.Lock()
	if s.gen == gen && s.state == Joining {
		s.state = Joined
		s.announced = true
	}
	s.mu.Unlock()
	s.logger.Info("joined room", map[string]any{"roomId": s.roomID, "userId": s.id.UserID})
	return nil
}

// Leave exits the room: unsubscribes, announces USER_LEFT best-effort when
// still connected, cancels tracker timers, and clears all folded state.
// A no-op when not joined, except that it always cancels a rejoin pending
// from a connectivity gap; safe to call while a Join is in flight, in
// which case the join is cancelled.
func (s *RoomSession) Leave() error {
	s.mu.Lock()
	s.rejoin = false
	if s.state == NotJoined {
		s.mu.Unlock()
		return nil
	}
	s.gen++
	sub := s.subID
	s.subID = ""
	announced := s.announced
	s.announced = false
	s.state = Leaving
	s.mu.Unlock()

	if sub != "" {
		s.broker.Unsubscribe(sub)
	}
	// No USER_LEFT for a membership that never announced USER_JOINED.
	if announced && s.broker.Connected() {
		if err := s.broker.Send(DestLeave, s.membershipEvent(EventUserLeft)); err != nil {
			s.logger.Warn("leave announcement failed", map[string]any{"roomId": s.roomID, "error": err.Error()})
		}
	}

	s.typing.Reset()
	s.reads.Reset()
	s.reactions.Reset()

	s.mu.Lock()
	s.messages = nil
	s.seen = make(map[string]struct{})
	s.presence.reset()
	s.state = NotJoined
	s.mu.Unlock()
	s.logger.Info("left room", map[string]any{"roomId": s.roomID})
	return nil
}

// SendMessage trims and publishes a text message. Empty, whitespace-only
// and over-length content is rejected without a publish.
func (s *RoomSession) SendMessage(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return NewError(ErrorInvalidMessage, "empty message")
	}
	if utf8.RuneCountInString(trimmed) > MaxMessageLength {
		return NewError(ErrorInvalidMessage, "message exceeds length limit")
	}
	if !s.broker.Connected() {
		return ErrNotConnected
	}
	if !s.IsJoined() {
		return ErrNotJoined
	}

	msg := ChatMessage{
		MessageID: uuid.NewString(),
		RoomID:    s.roomID,
		UserID:    s.id.UserID,
		Username:  s.id.Username,
		Content:   trimmed,
		Timestamp: FormatTimestamp(time.Now()),
		Type:      MessageTypeText,
	}
	return s.broker.Send(DestSend, msg)
}

// AddReaction publishes an ADD of emoji by the local user on a message.
func (s *RoomSession) AddReaction(messageID, emoji string) error {
	return s.sendReaction(messageID, emoji, ActionAdd)
}

// RemoveReaction publishes a REMOVE of emoji by the local user on a message.
func (s *RoomSession) RemoveReaction(messageID, emoji string) error {
	return s.sendReaction(messageID, emoji, ActionRemove)
}

// ToggleReaction adds or removes based on the current folded state.
func (s *RoomSession) ToggleReaction(messageID, emoji string) error {
	if s.reactions.HasUserReacted(messageID, emoji, s.id.UserID) {
		return s.RemoveReaction(messageID, emoji)
	}
	return s.AddReaction(messageID, emoji)
}

func (s *RoomSession) sendReaction(messageID, emoji, action string) error {
	if !s.broker.Connected() {
		return ErrNotConnected
	}
	if !s.IsJoined() {
		return ErrNotJoined
	}
	r := Reaction{
		ReactionID: uuid.NewString(),
		MessageID:  messageID,
		RoomID:     s.roomID,
		UserID:     s.id.UserID,
		Username:   s.id.Username,
		Emoji:      emoji,
		Timestamp:  FormatTimestamp(time.Now()),
		Action:     action,
	}
	return s.broker.Send(DestReaction, r)
}

// StartTyping signals that the local user is typing, debounced.
func (s *RoomSession) StartTyping() {
	if s.IsJoined() {
		s.typing.StartTyping()
	}
}

// StopTyping clears the local typing signal.
func (s *RoomSession) StopTyping() {
	s.typing.StopTyping()
}

// MarkAsRead schedules a read receipt for messageID, debounced.
func (s *RoomSession) MarkAsRead(messageID string) {
	if s.IsJoined() {
		s.reads.MarkAsRead(messageID)
	}
}

// Messages returns a copy of the message buffer in arrival order, with
// the current reaction state folded in.
func (s *RoomSession) Messages() []ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChatMessage, len(s.messages))
	copy(out, s.messages)
	for i := range out {
		out[i].Reactions = s.reactions.Snapshot(out[i].MessageID)
	}
	return out
}

// OnlineUsers returns the current online-user count for the room.
func (s *RoomSession) OnlineUsers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presence.count()
}

// TypingText renders the typing indicator line for the presentation layer.
func (s *RoomSession) TypingText() string { return s.typing.Text() }

// TypingUsers returns the display names of remote typers in arrival order.
func (s *RoomSession) TypingUsers() []string { return s.typing.TypingUsers() }

// ReadStatus returns the user ids that read a message.
func (s *RoomSession) ReadStatus(messageID string) []string { return s.reads.ReadStatus(messageID) }

// ReadCount returns how many users read a message.
func (s *RoomSession) ReadCount(messageID string) int { return s.reads.ReadCount(messageID) }

// IsRead reports whether anyone read a message.
func (s *RoomSession) IsRead(messageID string) bool { return s.reads.IsRead(messageID) }

// ReactionCount returns how many users reacted with emoji on a message.
func (s *RoomSession) ReactionCount(messageID, emoji string) int {
	return s.reactions.ReactionCount(messageID, emoji)
}

// TotalReactionCount returns the total reactions on a message.
func (s *RoomSession) TotalReactionCount(messageID string) int {
	return s.reactions.TotalReactionCount(messageID)
}

// HasUserReacted reports whether a user reacted with emoji on a message.
func (s *RoomSession) HasUserReacted(messageID, emoji, userID string) bool {
	return s.reactions.HasUserReacted(messageID, emoji, userID)
}

// UsersForEmoji returns the user ids that reacted with emoji on a message.
func (s *RoomSession) UsersForEmoji(messageID, emoji string) []string {
	return s.reactions.UsersForEmoji(messageID, emoji)
}

// handleRoomMessage classifies one inbound room topic body and routes it
// to the owning tracker. Malformed bodies drop the single frame.
func (s *RoomSession) handleRoomMessage(body []byte) {
	v, err := classifyPayload(body)
	if err != nil {
		s.logger.Warn("dropping malformed payload", map[string]any{"roomId": s.roomID, "error": err.Error()})
		return
	}
	switch ev := v.(type) {
	case TypingIndicator:
		s.typing.Receive(ev)
	case ReadReceipt:
		s.reads.Receive(ev)
	case ChatMessage:
		s.insertMessage(ev)
	case Reaction:
		s.reactions.Apply(ev)
	case ChatEvent:
		s.mu.Lock()
		s.presence.apply(ev)
		s.mu.Unlock()
	}
}

// insertMessage appends a message in arrival order, once per messageId.
func (s *RoomSession) insertMessage(msg ChatMessage) {
	reactions := msg.Reactions
	msg.Reactions = nil // the ledger owns reaction state

	s.mu.Lock()
	if _, dup := s.seen[msg.MessageID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[msg.MessageID] = struct{}{}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()

	if len(reactions) > 0 {
		s.reactions.Seed(msg.MessageID, reactions)
	}
}

// seedHistory folds a newest-first history page into the buffer
// oldest-first, together with its reaction maps and read-by lists.
func (s *RoomSession) seedHistory(records []MessageRecord) {
	for i := len(records) - 1; i >= 0; i-- {
		s.insertMessage(records[i].ChatMessage)
	}
	s.reads.InitializeReadStatus(records)
}

func (s *RoomSession) membershipEvent(eventType string) ChatEvent {
	return ChatEvent{
		EventID:   uuid.NewString(),
		RoomID:    s.roomID,
		EventType: eventType,
		UserID:    s.id.UserID,
		Username:  s.id.Username,
		Timestamp: FormatTimestamp(time.Now()),
	}
}

// knowsMessage gates the reaction ledger to messages the buffer holds.
func (s *RoomSession) knowsMessage(messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[messageID]
	return ok
}

// stillJoining reports whether the join that captured gen is still the
// active one.
func (s *RoomSession) stillJoining(gen int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && s.state == Joining
}

// abortJoin unwinds a failed join back to NotJoined, unless a Leave
// already superseded it.
func (s *RoomSession) abortJoin(gen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gen == gen && s.state == Joining {
		s.state = NotJoined
		s.subID = ""
	}
}

// handleConnectivity observes the broker's state transitions. Losing the
// link voids the subscription and schedules a rejoin; the next connected
// transition replays Join with a fresh subscribe and announcement. The
// message buffer survives the gap; messageId dedup absorbs replays.
func (s *RoomSession) handleConnectivity(ev StateEvent) {
	s.mu.Lock()
	if ev.NewState != StateConnected {
		if s.state == Joined || s.state == Joining {
			s.gen++
			s.state = NotJoined
			s.subID = ""
			s.announced = false
			s.rejoin = true
		}
		s.mu.Unlock()
		return
	}
	rejoin := s.rejoin
	s.rejoin = false
	s.mu.Unlock()

	if rejoin {
		if err := s.Join(context.Background()); err != nil {
			s.logger.Error("rejoin after reconnect failed", map[string]any{
				"roomId": s.roomID,
				"error":  err.Error(),
			})
		}
	}
}
