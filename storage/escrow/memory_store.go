package escrow

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"escrow-backend/core/escrow"
)

// MemoryStore holds the task mapping in memory.
// The single RWMutex serializes every mutation, so decide, the write and the
// settle callback of one Update never interleave with another.
type MemoryStore struct {
	mu          sync.RWMutex
	tasks       map[escrow.TaskID]escrow.Task
	settlements map[escrow.TaskID]escrow.Settlement
	nextID      escrow.TaskID
}

// NewMemoryStore returns an empty store whose first task id is 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:       make(map[escrow.TaskID]escrow.Task),
		settlements: make(map[escrow.TaskID]escrow.Settlement),
	}
}

// Create assigns the next id. The counter only advances once settle succeeds.
func (s *MemoryStore) Create(ctx context.Context, t escrow.Task, settle escrow.SettleFunc) (escrow.Task, escrow.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.ID = s.nextID + 1
	s.tasks[t.ID] = t
	receipt, err := settle(ctx, escrow.Change{Task: t})
	if err != nil {
		delete(s.tasks, t.ID)
		return escrow.Task{}, escrow.Transfer{}, err
	}
	s.nextID = t.ID
	return t, receipt, nil
}

func (s *MemoryStore) Get(_ context.Context, id escrow.TaskID) (escrow.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return escrow.Task{}, notFound(id)
	}
	return t, nil
}

func (s *MemoryStore) List(_ context.Context, filter escrow.TaskFilter) ([]escrow.Task, error) {
	s.mu.RLock()
	out := make([]escrow.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.Matches(t) {
			out = append(out, t)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b escrow.Task) int { return cmp.Compare(a.ID, b.ID) })
	return filter.Page(out), nil
}

// Update writes the decided change, then settles. A settle failure restores
// the previous record.
func (s *MemoryStore) Update(ctx context.Context, id escrow.TaskID, decide escrow.DecideFunc, settle escrow.SettleFunc) (escrow.Change, escrow.Transfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.tasks[id]
	if !ok {
		return escrow.Change{}, escrow.Transfer{}, notFound(id)
	}
	change, err := decide(prev)
	if err != nil {
		return escrow.Change{}, escrow.Transfer{}, err
	}
	change.Task.ID = id

	if change.Remove {
		delete(s.tasks, id)
	} else {
		s.tasks[id] = change.Task
	}

	receipt, err := settle(ctx, change)
	if err != nil {
		s.tasks[id] = prev
		return escrow.Change{}, escrow.Transfer{}, err
	}

	if change.Remove {
		s.settlements[id] = escrow.Settlement{
			Task:      change.Task,
			Outcome:   change.Outcome,
			Receipt:   receipt,
			SettledAt: change.Task.UpdatedAt,
		}
	}
	return change, receipt, nil
}

func (s *MemoryStore) Settlement(_ context.Context, id escrow.TaskID) (escrow.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.settlements[id]
	if !ok {
		return escrow.Settlement{}, fmt.Errorf("%w: no settlement for task %d", escrow.ErrTaskNotFound, id)
	}
	return st, nil
}

// Reconcile holds the read lock across both reads. Create and Update settle
// under the write lock, so custody cannot move in between.
func (s *MemoryStore) Reconcile(ctx context.Context, held escrow.HeldFunc) (escrow.Amount, escrow.Amount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var live escrow.Amount
	for _, t := range s.tasks {
		live += t.Deposit
	}
	custody, err := held(ctx)
	if err != nil {
		return 0, 0, err
	}
	return live, custody, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() {}

func notFound(id escrow.TaskID) error {
	return fmt.Errorf("%w: task %d", escrow.ErrTaskNotFound, id)
}
