package storage

import (
	"context"
	"errors"

	"github.com/footprint-labs/footprint/internal/app/domain/account"
	"github.com/footprint-labs/footprint/internal/app/domain/walk"
)

var (
	// ErrNotFound is returned by every store when a record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a record with the same key already exists.
	ErrConflict = errors.New("already exists")
)

// AccountStore persists account records.
type AccountStore interface {
	CreateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	GetAccountByUserID(ctx context.Context, userID string) (account.Account, error)
}

// WalkStore persists walks. CreateWalk assigns the per-user Index.
type WalkStore interface {
	CreateWalk(ctx context.Context, w walk.Walk) (walk.Walk, error)
	GetWalk(ctx context.Context, userID string, index int) (walk.Walk, error)
	UpdateWalkStatus(ctx context.Context, userID string, index int, status walk.Status) error
	ListWalks(ctx context.Context, userID string) ([]walk.Walk, error)
}
