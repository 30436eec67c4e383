package chatsync

import "time"

// Application destinations the client publishes to.
const (
	DestJoin     = "/app/chat.join"
	DestLeave    = "/app/chat.leave"
	DestSend     = "/app/chat.send"
	DestReaction = "/app/chat.reaction"
	DestTyping   = "/app/chat.typing"
	DestRead     = "/app/chat.read"
)

const topicPrefix = "/topic/room/"

// RoomTopic returns the pub/sub destination a room's events broadcast on.
func RoomTopic(roomID string) string {
	return topicPrefix + roomID
}

// Message types.
const (
	MessageTypeText  = "TEXT"
	MessageTypeJoin  = "JOIN"
	MessageTypeLeave = "LEAVE"
)

// Chat event types.
const (
	EventUserJoined = "USER_JOINED"
	EventUserLeft   = "USER_LEFT"
)

// Reaction actions.
const (
	ActionAdd    = "ADD"
	ActionRemove = "REMOVE"
)

// Reaction emoji vocabulary understood by the broker. The client accepts
// any string; validation is the broker's concern.
const (
	EmojiHeart    = "HEART"
	EmojiLaugh    = "LAUGH"
	EmojiWow      = "WOW"
	EmojiSad      = "SAD"
	EmojiThumbsUp = "THUMBS_UP"
	EmojiFire     = "FIRE"
)

// TimeLayout is the wire timestamp format: local time, second precision,
// no timezone suffix.
const TimeLayout = "2006-01-02T15:04:05"

// FormatTimestamp renders t in the wire timestamp format.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimeLayout)
}

// ChatMessage is a chat message as carried on the wire and retained in the
// room buffer. Immutable once inserted except for Reactions, which only the
// ReactionLedger folds.
type ChatMessage struct {
	MessageID string              `json:"messageId"`
	RoomID    string              `json:"roomId"`
	UserID    string              `json:"userId"`
	Username  string              `json:"username"`
	Content   string              `json:"content"`
	Timestamp string              `json:"timestamp"`
	Type      string              `json:"type"`
	Reactions map[string][]string `json:"reactions,omitempty"`
}

// ChatEvent is a transient membership event (join/leave announcement).
type ChatEvent struct {
	EventID   string         `json:"eventId"`
	RoomID    string         `json:"roomId"`
	EventType string         `json:"eventType"`
	UserID    string         `json:"userId,omitempty"`
	Username  string         `json:"username,omitempty"`
	Timestamp string         `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// OnlineCount returns the authoritative online-user count attached by the
// broker, if any.
func (e ChatEvent) OnlineCount() (int, bool) {
	v, ok := e.Metadata["onlineCount"]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// Reaction is a transient add/remove of one user's emoji on one message.
type Reaction struct {
	ReactionID string `json:"reactionId"`
	MessageID  string `json:"messageId"`
	RoomID     string `json:"roomId"`
	UserID     string `json:"userId"`
	Username   string `json:"username,omitempty"`
	Emoji      string `json:"emoji"`
	Timestamp  string `json:"timestamp,omitempty"`
	Action     string `json:"action"`
}

// TypingIndicator is a transient typing on/off signal for one user.
type TypingIndicator struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	IsTyping  bool   `json:"isTyping"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ReadReceipt is a transient "read up to this message" signal for one user.
type ReadReceipt struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	MessageID string `json:"messageId"`
	Timestamp string `json:"timestamp,omitempty"`
}

// MessageRecord is one history entry as served by the history API: a
// message plus the users that had already read it when the page was built.
type MessageRecord struct {
	ChatMessage
	ReadBy []string `json:"readBy,omitempty"`
}
