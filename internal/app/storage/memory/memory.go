package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/footprint-labs/footprint/internal/app/domain/account"
	"github.com/footprint-labs/footprint/internal/app/domain/walk"
	"github.com/footprint-labs/footprint/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu       sync.RWMutex
	nextID   int64
	accounts map[string]account.Account
	walks    map[string][]walk.Walk
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.WalkStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:   1,
		accounts: make(map[string]account.Account),
		walks:    make(map[string][]walk.Walk),
	}
}

func (s *Store) nextIDLocked() int64 {
	id := s.nextID
	s.nextID++
	return id
}

// AccountStore implementation -------------------------------------------------

func (s *Store) CreateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acct.UserID == "" {
		return account.Account{}, fmt.Errorf("user id is required")
	}
	if _, exists := s.accounts[acct.UserID]; exists {
		return account.Account{}, fmt.Errorf("account %s: %w", acct.UserID, storage.ErrConflict)
	}

	now := time.Now().UTC()
	acct.ID = s.nextIDLocked()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	if acct.Status == "" {
		acct.Status = account.StatusActive
	}

	s.accounts[acct.UserID] = acct
	return acct, nil
}

func (s *Store) UpdateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.accounts[acct.UserID]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", acct.UserID, storage.ErrNotFound)
	}

	acct.ID = original.ID
	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = time.Now().UTC()

	s.accounts[acct.UserID] = acct
	return acct, nil
}

func (s *Store) GetAccountByUserID(_ context.Context, userID string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return account.Account{}, fmt.Errorf("account %s: %w", userID, storage.ErrNotFound)
	}
	return acct, nil
}

// WalkStore implementation ----------------------------------------------------

func (s *Store) CreateWalk(_ context.Context, w walk.Walk) (walk.Walk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w.ID = s.nextIDLocked()
	w.Index = len(s.walks[w.UserID]) + 1
	w.CreatedAt = time.Now().UTC()
	if w.Status == "" {
		w.Status = walk.StatusActive
	}
	w.Coordinates = cloneCoordinates(w.Coordinates)

	s.walks[w.UserID] = append(s.walks[w.UserID], w)
	return cloneWalk(w), nil
}

func (s *Store) GetWalk(_ context.Context, userID string, index int) (walk.Walk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.lookupLocked(userID, index)
	if !ok {
		return walk.Walk{}, fmt.Errorf("walk %s/%d: %w", userID, index, storage.ErrNotFound)
	}
	return cloneWalk(w), nil
}

func (s *Store) UpdateWalkStatus(_ context.Context, userID string, index int, status walk.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lookupLocked(userID, index); !ok {
		return fmt.Errorf("walk %s/%d: %w", userID, index, storage.ErrNotFound)
	}
	s.walks[userID][index-1].Status = status
	return nil
}

func (s *Store) ListWalks(_ context.Context, userID string) ([]walk.Walk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []walk.Walk
	for _, w := range s.walks[userID] {
		if w.Status == walk.StatusActive {
			result = append(result, cloneWalk(w))
		}
	}
	return result, nil
}

func (s *Store) lookupLocked(userID string, index int) (walk.Walk, bool) {
	list := s.walks[userID]
	if index < 1 || index > len(list) {
		return walk.Walk{}, false
	}
	return list[index-1], true
}

func cloneWalk(w walk.Walk) walk.Walk {
	w.Coordinates = cloneCoordinates(w.Coordinates)
	return w
}

func cloneCoordinates(in []walk.Coordinate) []walk.Coordinate {
	if in == nil {
		return nil
	}
	out := make([]walk.Coordinate, len(in))
	copy(out, in)
	return out
}
