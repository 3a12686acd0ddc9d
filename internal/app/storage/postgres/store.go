package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/footprint-labs/footprint/internal/app/domain/account"
	"github.com/footprint-labs/footprint/internal/app/domain/walk"
	"github.com/footprint-labs/footprint/internal/app/storage"
)

const uniqueViolation = "23505"

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.AccountStore = (*Store)(nil)
var _ storage.WalkStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: sqlx.NewDb(db, "postgres")}
}

type accountRow struct {
	ID           int64        `db:"id"`
	UserID       string       `db:"user_id"`
	Nickname     string       `db:"nickname"`
	Email        string       `db:"email"`
	ProviderType string       `db:"provider_type"`
	Status       string       `db:"status"`
	LoggedAt     sql.NullTime `db:"logged_at"`
	CreatedAt    time.Time    `db:"created_at"`
	UpdatedAt    time.Time    `db:"updated_at"`
}

func (r accountRow) toDomain() account.Account {
	acct := account.Account{
		ID:           r.ID,
		UserID:       r.UserID,
		Nickname:     r.Nickname,
		Email:        r.Email,
		ProviderType: r.ProviderType,
		Status:       account.Status(r.Status),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.LoggedAt.Valid {
		acct.LoggedAt = r.LoggedAt.Time
	}
	return acct
}

type walkRow struct {
	ID          int64     `db:"id"`
	UserID      string    `db:"user_id"`
	Index       int       `db:"walk_index"`
	StartAt     time.Time `db:"start_at"`
	EndAt       time.Time `db:"end_at"`
	Distance    float64   `db:"distance"`
	Calorie     int       `db:"calorie"`
	Coordinates []byte    `db:"coordinates"`
	Status      string    `db:"status"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r walkRow) toDomain() (walk.Walk, error) {
	w := walk.Walk{
		ID:        r.ID,
		UserID:    r.UserID,
		Index:     r.Index,
		StartAt:   r.StartAt,
		EndAt:     r.EndAt,
		Distance:  r.Distance,
		Calorie:   r.Calorie,
		Status:    walk.Status(r.Status),
		CreatedAt: r.CreatedAt,
	}
	if len(r.Coordinates) > 0 {
		if err := json.Unmarshal(r.Coordinates, &w.Coordinates); err != nil {
			return walk.Walk{}, fmt.Errorf("decode coordinates of walk %d: %w", r.ID, err)
		}
	}
	return w, nil
}

const accountColumns = `id, user_id, nickname, email, provider_type, status, logged_at, created_at, updated_at`

const walkColumns = `id, user_id, walk_index, start_at, end_at, distance, calorie, coordinates, status, created_at`

// --- AccountStore -----------------------------------------------------------

func (s *Store) CreateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now
	if acct.Status == "" {
		acct.Status = account.StatusActive
	}

	err := s.db.QueryRowxContext(ctx, `
		INSERT INTO accounts (user_id, nickname, email, provider_type, status, logged_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, acct.UserID, acct.Nickname, acct.Email, acct.ProviderType, string(acct.Status), nullTime(acct.LoggedAt), acct.CreatedAt, acct.UpdatedAt).Scan(&acct.ID)
	if err != nil {
		return account.Account{}, mapError("account "+acct.UserID, err)
	}
	return acct, nil
}

func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	acct.UpdatedAt = time.Now().UTC()

	err := s.db.QueryRowxContext(ctx, `
		UPDATE accounts
		SET nickname = $2, email = $3, provider_type = $4, status = $5, logged_at = $6, updated_at = $7
		WHERE user_id = $1
		RETURNING id, created_at
	`, acct.UserID, acct.Nickname, acct.Email, acct.ProviderType, string(acct.Status), nullTime(acct.LoggedAt), acct.UpdatedAt).
		Scan(&acct.ID, &acct.CreatedAt)
	if err != nil {
		return account.Account{}, mapError("account "+acct.UserID, err)
	}
	return acct, nil
}

func (s *Store) GetAccountByUserID(ctx context.Context, userID string) (account.Account, error) {
	var row accountRow
	if err := s.db.GetContext(ctx, &row, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID); err != nil {
		return account.Account{}, mapError("account "+userID, err)
	}
	return row.toDomain(), nil
}

// --- WalkStore --------------------------------------------------------------

// CreateWalk locks the owning account row so concurrent submissions get distinct indexes.
func (s *Store) CreateWalk(ctx context.Context, w walk.Walk) (walk.Walk, error) {
	coords, err := json.Marshal(w.Coordinates)
	if err != nil {
		return walk.Walk{}, fmt.Errorf("encode coordinates: %w", err)
	}
	if w.Coordinates == nil {
		coords = []byte("[]")
	}
	if w.Status == "" {
		w.Status = walk.StatusActive
	}
	w.CreatedAt = time.Now().UTC()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return walk.Walk{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var locked int
	if err := tx.GetContext(ctx, &locked, `SELECT 1 FROM accounts WHERE user_id = $1 FOR UPDATE`, w.UserID); err != nil {
		return walk.Walk{}, mapError("account "+w.UserID, err)
	}
	if err := tx.GetContext(ctx, &w.Index, `SELECT COALESCE(MAX(walk_index), 0) + 1 FROM walks WHERE user_id = $1`, w.UserID); err != nil {
		return walk.Walk{}, err
	}

	err = tx.QueryRowxContext(ctx, `
		INSERT INTO walks (user_id, walk_index, start_at, end_at, distance, calorie, coordinates, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, w.UserID, w.Index, w.StartAt, w.EndAt, w.Distance, w.Calorie, coords, string(w.Status), w.CreatedAt).Scan(&w.ID)
	if err != nil {
		return walk.Walk{}, mapError(fmt.Sprintf("walk %s/%d", w.UserID, w.Index), err)
	}

	if err := tx.Commit(); err != nil {
		return walk.Walk{}, err
	}
	return w, nil
}

func (s *Store) GetWalk(ctx context.Context, userID string, index int) (walk.Walk, error) {
	var row walkRow
	err := s.db.GetContext(ctx, &row, `SELECT `+walkColumns+` FROM walks WHERE user_id = $1 AND walk_index = $2`, userID, index)
	if err != nil {
		return walk.Walk{}, mapError(fmt.Sprintf("walk %s/%d", userID, index), err)
	}
	return row.toDomain()
}

func (s *Store) UpdateWalkStatus(ctx context.Context, userID string, index int, status walk.Status) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE walks SET status = $3 WHERE user_id = $1 AND walk_index = $2
	`, userID, index, string(status))
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("walk %s/%d: %w", userID, index, storage.ErrNotFound)
	}
	return nil
}

func (s *Store) ListWalks(ctx context.Context, userID string) ([]walk.Walk, error) {
	var rows []walkRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+walkColumns+` FROM walks
		WHERE user_id = $1 AND status = $2
		ORDER BY walk_index
	`, userID, string(walk.StatusActive))
	if err != nil {
		return nil, err
	}

	result := make([]walk.Walk, 0, len(rows))
	for _, row := range rows {
		w, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, nil
}

func mapError(subject string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", subject, storage.ErrNotFound)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%s: %w", subject, storage.ErrConflict)
	}
	return err
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
