// Package queue holds the per-chat list of items waiting to be streamed.
package queue

import (
	"fmt"
	"sync"
	"time"
)

// Item is one playable entry. The queue owns it; the orchestrator borrows the
// pointer for a single play attempt.
type Item struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Duration    time.Duration `json:"duration"`
	RequestedBy string        `json:"requested_by"`
	SourceURL   string        `json:"source_url"`
	LocalPath   string        `json:"local_path,omitempty"`
	Video       bool          `json:"video,omitempty"`
	Thumbnail   string        `json:"thumbnail,omitempty"`

	NowPlaying      bool   `json:"now_playing"`
	StatusMessageID string `json:"status_message_id,omitempty"`
}

// DurationLabel renders the duration as m:ss or h:mm:ss.
func (i *Item) DurationLabel() string {
	if i == nil || i.Duration <= 0 {
		return "live"
	}
	total := int(i.Duration / time.Second)
	h, m, s := total/3600, (total%3600)/60, total%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// Queue is a per-chat ordered list with a current slot. PopNext promotes the
// head of the pending list into the current slot.
type Queue interface {
	Add(chatID int64, item *Item) int
	PeekCurrent(chatID int64) *Item
	PopNext(chatID int64) *Item
	Pending(chatID int64) []*Item
	Clear(chatID int64)
}

type chatQueue struct {
	current *Item
	pending []*Item
}

type MemoryQueue struct {
	mu    sync.Mutex
	chats map[int64]*chatQueue
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{chats: make(map[int64]*chatQueue)}
}

// Add appends item and returns its 1-based position among pending items.
func (q *MemoryQueue) Add(chatID int64, item *Item) int {
	if item == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	cq := q.chats[chatID]
	if cq == nil {
		cq = &chatQueue{}
		q.chats[chatID] = cq
	}
	cq.pending = append(cq.pending, item)
	return len(cq.pending)
}

func (q *MemoryQueue) PeekCurrent(chatID int64) *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	cq := q.chats[chatID]
	if cq == nil {
		return nil
	}
	return cq.current
}

// PopNext returns the new current item, or nil when nothing is pending. An
// empty pop also clears the current slot.
func (q *MemoryQueue) PopNext(chatID int64) *Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	cq := q.chats[chatID]
	if cq == nil {
		return nil
	}
	if len(cq.pending) == 0 {
		delete(q.chats, chatID)
		return nil
	}
	next := cq.pending[0]
	cq.pending[0] = nil
	cq.pending = cq.pending[1:]
	cq.current = next
	return next
}

func (q *MemoryQueue) Pending(chatID int64) []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	cq := q.chats[chatID]
	if cq == nil {
		return nil
	}
	out := make([]*Item, len(cq.pending))
	copy(out, cq.pending)
	return out
}

func (q *MemoryQueue) Clear(chatID int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	cq := q.chats[chatID]
	if cq == nil {
		return
	}
	if cq.current != nil {
		cq.current.NowPlaying = false
	}
	delete(q.chats, chatID)
}
