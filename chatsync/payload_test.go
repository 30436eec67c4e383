package chatsync

import "testing"

func classify(t *testing.T, raw string) any {
	t.Helper()
	v, err := classifyPayload([]byte(raw))
	if err != nil {
		t.Fatalf("classify %s: %v", raw, err)
	}
	return v
}

func TestClassifyTypingIndicator(t *testing.T) {
	v := classify(t, `{"roomId":"r1","userId":"u2","username":"Bob","isTyping":true}`)
	ti, ok := v.(TypingIndicator)
	if !ok {
		t.Fatalf("expected TypingIndicator, got %T", v)
	}
	if !ti.IsTyping || ti.UserID != "u2" {
		t.Fatalf("unexpected indicator: %+v", ti)
	}
}

func TestClassifyReadReceipt(t *testing.T) {
	v := classify(t, `{"roomId":"r1","userId":"u2","messageId":"m1","timestamp":"2025-01-01T10:00:00"}`)
	rr, ok := v.(ReadReceipt)
	if !ok {
		t.Fatalf("expected ReadReceipt, got %T", v)
	}
	if rr.MessageID != "m1" {
		t.Fatalf("unexpected receipt: %+v", rr)
	}
}

func TestClassifyChatMessage(t *testing.T) {
	v := classify(t, `{"messageId":"m1","roomId":"r1","userId":"u2","username":"Bob","content":"hi","type":"TEXT"}`)
	msg, ok := v.(ChatMessage)
	if !ok {
		t.Fatalf("expected ChatMessage, got %T", v)
	}
	if msg.Content != "hi" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}

func TestClassifyReaction(t *testing.T) {
	v := classify(t, `{"reactionId":"x1","messageId":"m1","roomId":"r1","userId":"u2","emoji":"HEART","action":"ADD"}`)
	r, ok := v.(Reaction)
	if !ok {
		t.Fatalf("expected Reaction, got %T", v)
	}
	if r.Emoji != EmojiHeart || r.Action != ActionAdd {
		t.Fatalf("unexpected reaction: %+v", r)
	}
}

func TestClassifyChatEvent(t *testing.T) {
	v := classify(t, `{"eventId":"e1","roomId":"r1","eventType":"USER_JOINED","userId":"u2","metadata":{"onlineCount":3}}`)
	ev, ok := v.(ChatEvent)
	if !ok {
		t.Fatalf("expected ChatEvent, got %T", v)
	}
	if n, authoritative := ev.OnlineCount(); !authoritative || n != 3 {
		t.Fatalf("expected authoritative count 3, got %+v", ev)
	}
}

// A reaction also carries messageId and userId; the reactionId must win
// over the read-receipt shape, and content must win over both.
func TestClassifyPrecedence(t *testing.T) {
	v := classify(t, `{"reactionId":"x1","messageId":"m1","userId":"u2","emoji":"FIRE","action":"ADD"}`)
	if _, ok := v.(Reaction); !ok {
		t.Fatalf("reactionId must route to Reaction, got %T", v)
	}

	v = classify(t, `{"messageId":"m1","userId":"u2","content":"hi"}`)
	if _, ok := v.(ChatMessage); !ok {
		t.Fatalf("content must route to ChatMessage, got %T", v)
	}

	// Typing flag beats everything.
	v = classify(t, `{"isTyping":false,"messageId":"m1","userId":"u2"}`)
	if _, ok := v.(TypingIndicator); !ok {
		t.Fatalf("isTyping must route to TypingIndicator, got %T", v)
	}
}

func TestClassifyRejectsMalformed(t *testing.T) {
	if _, err := classifyPayload([]byte("{broken")); CodeOf(err) != ErrorMalformedPayload {
		t.Fatalf("expected malformed_payload, got %v", err)
	}
	if _, err := classifyPayload([]byte(`{"something":"else"}`)); CodeOf(err) != ErrorMalformedPayload {
		t.Fatalf("expected malformed_payload for unknown shape, got %v", err)
	}
}
