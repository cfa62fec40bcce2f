package state

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type MemoryStore struct {
	mu      sync.Mutex
	records map[int64]CallRecord
	closed  bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[int64]CallRecord)}
}

func (s *MemoryStore) GetAssistant(_ context.Context, chatID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}
	rec, ok := s.records[chatID]
	if !ok || rec.Assistant == "" {
		return "", ErrNoAssistant
	}
	return rec.Assistant, nil
}

func (s *MemoryStore) SetAssistant(_ context.Context, chatID int64, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	rec := s.recordLocked(chatID)
	rec.Assistant = strings.TrimSpace(identity)
	s.saveLocked(rec)
	return nil
}

func (s *MemoryStore) SetPlaying(_ context.Context, chatID int64, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	rec := s.recordLocked(chatID)
	if paused && !rec.Active {
		return ErrNotActive
	}
	rec.Paused = paused
	s.saveLocked(rec)
	return nil
}

func (s *MemoryStore) AddActiveCall(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	rec := s.recordLocked(chatID)
	rec.Active = true
	rec.Paused = false
	s.saveLocked(rec)
	return nil
}

func (s *MemoryStore) RemoveActiveCall(_ context.Context, chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	rec, ok := s.records[chatID]
	if !ok {
		return nil
	}
	rec.Active = false
	rec.Paused = false
	s.saveLocked(rec)
	return nil
}

func (s *MemoryStore) HasActiveCall(_ context.Context, chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed
	}
	return s.records[chatID].Active, nil
}

func (s *MemoryStore) GetCall(_ context.Context, chatID int64) (CallRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return CallRecord{}, false, ErrClosed
	}
	rec, ok := s.records[chatID]
	return rec, ok, nil
}

func (s *MemoryStore) ActiveCalls(_ context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]int64, 0, len(s.records))
	for chatID, rec := range s.records {
		if rec.Active {
			out = append(out, chatID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStore) recordLocked(chatID int64) CallRecord {
	if rec, ok := s.records[chatID]; ok {
		return rec
	}
	return CallRecord{ChatID: chatID}
}

func (s *MemoryStore) saveLocked(rec CallRecord) {
	rec.UpdatedAt = time.Now().UTC()
	s.records[rec.ChatID] = rec
}
