package walks

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/footprint-labs/footprint/internal/app/domain/account"
	"github.com/footprint-labs/footprint/internal/app/domain/walk"
	"github.com/footprint-labs/footprint/internal/app/metrics"
	"github.com/footprint-labs/footprint/internal/app/storage"
	"github.com/footprint-labs/footprint/internal/errors"
	"github.com/footprint-labs/footprint/internal/logging"
)

// AccountChecker resolves the caller's account and rejects users that may not act.
type AccountChecker interface {
	Active(ctx context.Context, userID string) (account.Account, error)
}

// Service records and serves walks on behalf of the resolved caller.
type Service struct {
	accounts AccountChecker
	store    storage.WalkStore
	log      *logging.Logger
}

// New constructs a walk service.
func New(accounts AccountChecker, store storage.WalkStore, log *logging.Logger) *Service {
	if log == nil {
		log = logging.New("walks", "info", "json")
	}
	return &Service{accounts: accounts, store: store, log: log}
}

// Record stores a new walk for userID and assigns its index.
func (s *Service) Record(ctx context.Context, userID string, w walk.Walk) (walk.Walk, error) {
	if _, err := s.accounts.Active(ctx, userID); err != nil {
		return walk.Walk{}, err
	}
	if err := w.Validate(); err != nil {
		return walk.Walk{}, errors.BadRequest(err.Error(), err)
	}

	w.UserID = userID
	w.Status = walk.StatusActive
	created, err := s.store.CreateWalk(ctx, w)
	if err != nil {
		return walk.Walk{}, fmt.Errorf("create walk: %w", err)
	}
	metrics.RecordWalk()

	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"walk_index": created.Index,
		"distance":   created.Distance,
	}).Info("walk recorded")
	return created, nil
}

// Get returns one active walk of userID.
func (s *Service) Get(ctx context.Context, userID string, index int) (walk.Walk, error) {
	if _, err := s.accounts.Active(ctx, userID); err != nil {
		return walk.Walk{}, err
	}
	w, err := s.store.GetWalk(ctx, userID, index)
	if stderrors.Is(err, storage.ErrNotFound) || (err == nil && w.Status != walk.StatusActive) {
		return walk.Walk{}, errors.NotFound("walk")
	}
	if err != nil {
		return walk.Walk{}, fmt.Errorf("get walk: %w", err)
	}
	return w, nil
}

// List returns the active walks of userID ordered by index.
func (s *Service) List(ctx context.Context, userID string) ([]walk.Walk, error) {
	if _, err := s.accounts.Active(ctx, userID); err != nil {
		return nil, err
	}
	items, err := s.store.ListWalks(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list walks: %w", err)
	}
	return items, nil
}

// UpdateStatus changes the status of a walk. Walks are never removed, only made inactive.
func (s *Service) UpdateStatus(ctx context.Context, userID string, index int, status walk.Status) error {
	if status != walk.StatusActive && status != walk.StatusInactive {
		return errors.BadRequest(fmt.Sprintf("unknown walk status %q", status), nil)
	}
	if _, err := s.accounts.Active(ctx, userID); err != nil {
		return err
	}
	err := s.store.UpdateWalkStatus(ctx, userID, index, status)
	if stderrors.Is(err, storage.ErrNotFound) {
		return errors.NotFound("walk")
	}
	if err != nil {
		return fmt.Errorf("update walk status: %w", err)
	}
	s.log.WithContext(ctx).WithField("walk_index", index).WithField("status", status).Info("walk status changed")
	return nil
}
