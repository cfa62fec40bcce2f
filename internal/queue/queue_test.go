package queue

import (
	"testing"
	"time"
)

func TestPopNextPromotesHead(t *testing.T) {
	q := NewMemoryQueue()
	a := &Item{ID: "a"}
	b := &Item{ID: "b"}
	if pos := q.Add(42, a); pos != 1 {
		t.Fatalf("expected position 1, got %d", pos)
	}
	if pos := q.Add(42, b); pos != 2 {
		t.Fatalf("expected position 2, got %d", pos)
	}

	if cur := q.PeekCurrent(42); cur != nil {
		t.Fatalf("expected no current item, got %+v", cur)
	}
	if got := q.PopNext(42); got != a {
		t.Fatalf("expected item a, got %+v", got)
	}
	if cur := q.PeekCurrent(42); cur != a {
		t.Fatalf("expected current a, got %+v", cur)
	}
	if pending := q.Pending(42); len(pending) != 1 || pending[0] != b {
		t.Fatalf("expected [b] pending, got %+v", pending)
	}
	if got := q.PopNext(42); got != b {
		t.Fatalf("expected item b, got %+v", got)
	}
	if got := q.PopNext(42); got != nil {
		t.Fatalf("expected empty pop, got %+v", got)
	}
	if cur := q.PeekCurrent(42); cur != nil {
		t.Fatalf("expected current cleared after empty pop, got %+v", cur)
	}
}

func TestChatsAreIndependent(t *testing.T) {
	q := NewMemoryQueue()
	q.Add(1, &Item{ID: "one"})
	q.Add(2, &Item{ID: "two"})

	q.Clear(1)
	if got := q.PopNext(1); got != nil {
		t.Fatalf("expected chat 1 cleared, got %+v", got)
	}
	if got := q.PopNext(2); got == nil || got.ID != "two" {
		t.Fatalf("expected chat 2 untouched, got %+v", got)
	}
}

func TestClearResetsNowPlaying(t *testing.T) {
	q := NewMemoryQueue()
	item := &Item{ID: "a"}
	q.Add(5, item)
	q.PopNext(5)
	item.NowPlaying = true

	q.Clear(5)
	if item.NowPlaying {
		t.Fatalf("expected now playing cleared")
	}
	q.Clear(5)
}

func TestAddNilIsIgnored(t *testing.T) {
	q := NewMemoryQueue()
	if pos := q.Add(1, nil); pos != 0 {
		t.Fatalf("expected 0 for nil item, got %d", pos)
	}
	if pending := q.Pending(1); len(pending) != 0 {
		t.Fatalf("expected no pending items, got %d", len(pending))
	}
}

func TestDurationLabel(t *testing.T) {
	cases := []struct {
		in   time.Duration
		want string
	}{
		{in: 0, want: "live"},
		{in: 65 * time.Second, want: "1:05"},
		{in: time.Hour + 2*time.Minute + 3*time.Second, want: "1:02:03"},
	}
	for _, tc := range cases {
		item := &Item{Duration: tc.in}
		if got := item.DurationLabel(); got != tc.want {
			t.Fatalf("duration %s: expected %q, got %q", tc.in, tc.want, got)
		}
	}
}
