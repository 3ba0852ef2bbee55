package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type MemoryStore struct {
	mu     sync.RWMutex
	nextID int64
	byRef  map[string]*Transaction
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byRef: make(map[string]*Transaction),
		now:   time.Now,
	}
}

func (s *MemoryStore) Create(_ context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byRef[tx.Reference]; exists {
		return fmt.Errorf("transaction %s already exists", tx.Reference)
	}

	s.nextID++
	now := s.now()
	tx.ID = s.nextID
	tx.CreatedAt = now
	tx.UpdatedAt = now

	cp := *tx
	s.byRef[tx.Reference] = &cp
	return nil
}

func (s *MemoryStore) GetByReference(_ context.Context, reference string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.byRef[reference]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, reference string, upd StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byRef[reference]
	if !ok {
		return ErrNotFound
	}

	tx.Status = upd.Status
	if upd.PaidAt != nil {
		paidAt := *upd.PaidAt
		tx.PaidAt = &paidAt
	}
	if upd.Channel != nil {
		channel := *upd.Channel
		tx.Channel = &channel
	}
	tx.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status string, createdBefore time.Time, limit int) ([]Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Transaction
	for _, tx := range s.byRef {
		if tx.Status == status && tx.CreatedAt.Before(createdBefore) {
			out = append(out, *tx)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
