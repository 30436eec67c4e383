package chatsync

import "encoding/json"

// roomPayload is the superset of every body shape broadcast on a room
// topic. Pointer fields record which keys were actually present so the
// payload can be classified into exactly one variant.
type roomPayload struct {
	IsTyping   *bool   `json:"isTyping"`
	MessageID  *string `json:"messageId"`
	UserID     *string `json:"userId"`
	Content    *string `json:"content"`
	ReactionID *string `json:"reactionId"`
	EventType  *string `json:"eventType"`
}

// classifyPayload decodes a room topic body into one of the five variant
// types: TypingIndicator, ReadReceipt, ChatMessage, Reaction or ChatEvent.
//
// Precedence resolves shape ambiguity:
//  1. typing flag present            -> TypingIndicator
//  2. messageId+userId, no content
//     and no reactionId              -> ReadReceipt
//  3. messageId and content          -> ChatMessage
//  4. reactionId present             -> Reaction
//  5. eventType present              -> ChatEvent
func classifyPayload(raw []byte) (any, error) {
	var p roomPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, WrapError(ErrorMalformedPayload, "parse room payload", err)
	}

	switch {
	case p.IsTyping != nil:
		var v TypingIndicator
		return v, decodeVariant(raw, &v, "typing indicator")
	case p.MessageID != nil && p.UserID != nil && p.Content == nil && p.ReactionID == nil:
		var v ReadReceipt
		return v, decodeVariant(raw, &v, "read receipt")
	case p.MessageID != nil && p.Content != nil:
		var v ChatMessage
		return v, decodeVariant(raw, &v, "chat message")
	case p.ReactionID != nil:
		var v Reaction
		return v, decodeVariant(raw, &v, "reaction")
	case p.EventType != nil:
		var v ChatEvent
		return v, decodeVariant(raw, &v, "chat event")
	default:
		return nil, NewError(ErrorMalformedPayload, "unrecognized room payload shape")
	}
}

func decodeVariant(raw []byte, v any, kind string) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return WrapError(ErrorMalformedPayload, "decode "+kind, err)
	}
	return nil
}
