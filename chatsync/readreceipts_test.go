package chatsync

import (
	"testing"
	"time"
)

func testReceipts(b *fakeBroker, debounce time.Duration) *ReadReceiptTracker {
	cfg := DefaultConfig()
	cfg.ReadReceiptDebounce = debounce
	return NewReadReceiptTracker(b, "r1", Identity{UserID: "u1", Username: "Alice"}, cfg, nil)
}

func receiptSends(b *fakeBroker) []ReadReceipt {
	var out []ReadReceipt
	for _, p := range b.sendsTo(DestRead) {
		out = append(out, p.(ReadReceipt))
	}
	return out
}

func TestMarkAsReadCoalesces(t *testing.T) {
	b := newFakeBroker()
	rt := testReceipts(b, 30*time.Millisecond)

	rt.MarkAsRead("a")
	rt.MarkAsRead("b")
	time.Sleep(100 * time.Millisecond)

	sends := receiptSends(b)
	if len(sends) != 1 {
		t.Fatalf("expected one coalesced receipt, got %d", len(sends))
	}
	if sends[0].MessageID != "b" || sends[0].UserID != "u1" {
		t.Fatalf("expected receipt for the last target, got %+v", sends[0])
	}
}

func TestMarkAsReadSuppressesDuplicates(t *testing.T) {
	b := newFakeBroker()
	rt := testReceipts(b, 10*time.Millisecond)

	rt.MarkAsRead("a")
	time.Sleep(50 * time.Millisecond)
	rt.MarkAsRead("a")
	time.Sleep(50 * time.Millisecond)
	rt.MarkAsRead("c")
	time.Sleep(50 * time.Millisecond)

	sends := receiptSends(b)
	if len(sends) != 2 {
		t.Fatalf("expected 2 sends (a, c), got %d", len(sends))
	}
	if sends[0].MessageID != "a" || sends[1].MessageID != "c" {
		t.Fatalf("unexpected send sequence: %+v", sends)
	}
}

func TestReceiveFoldsRemoteReceipts(t *testing.T) {
	b := newFakeBroker()
	rt := testReceipts(b, time.Minute)

	rt.Receive(ReadReceipt{RoomID: "r1", UserID: "u2", MessageID: "m1"})
	rt.Receive(ReadReceipt{RoomID: "r1", UserID: "u3", MessageID: "m1"})
	rt.Receive(ReadReceipt{RoomID: "r1", UserID: "u2", MessageID: "m1"}) // duplicate
	rt.Receive(ReadReceipt{RoomID: "r1", UserID: "u1", MessageID: "m1"}) // own

	got := rt.ReadStatus("m1")
	if len(got) != 2 || got[0] != "u2" || got[1] != "u3" {
		t.Fatalf("unexpected read status: %v", got)
	}
	if rt.ReadCount("m1") != 2 || !rt.IsRead("m1") {
		t.Fatalf("unexpected counts")
	}
	if rt.IsRead("m2") {
		t.Fatalf("m2 must be unread")
	}
}

func TestInitializeReadStatusSeedsHistory(t *testing.T) {
	b := newFakeBroker()
	rt := testReceipts(b, time.Minute)

	rt.InitializeReadStatus([]MessageRecord{
		{ChatMessage: ChatMessage{MessageID: "m1"}, ReadBy: []string{"u2", "u3"}},
		{ChatMessage: ChatMessage{MessageID: "m2"}},
	})
	if rt.ReadCount("m1") != 2 {
		t.Fatalf("expected seeded count 2, got %d", rt.ReadCount("m1"))
	}
	if rt.IsRead("m2") {
		t.Fatalf("m2 has no readers")
	}
}

func TestResetCancelsPendingReceipt(t *testing.T) {
	b := newFakeBroker()
	rt := testReceipts(b, 20*time.Millisecond)

	rt.MarkAsRead("a")
	rt.Reset()
	time.Sleep(80 * time.Millisecond)

	if sends := receiptSends(b); len(sends) != 0 {
		t.Fatalf("reset must cancel the pending send, got %v", sends)
	}
}
