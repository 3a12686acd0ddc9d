package accounts

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/footprint-labs/footprint/internal/app/domain/account"
	"github.com/footprint-labs/footprint/internal/app/storage"
	"github.com/footprint-labs/footprint/internal/errors"
	"github.com/footprint-labs/footprint/internal/logging"
)

const maxNicknameLength = 20

// TokenIssuer mints an access token for a user id.
type TokenIssuer func(userID string) (string, error)

// LoginRequest is the decrypted login body sent by the mobile client after OAuth.
type LoginRequest struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	ProviderType string `json:"providerType"`
}

// LoginResult carries the access token and whether the account was just created.
type LoginResult struct {
	Account account.Account
	Token   string
	Created bool
}

// Service manages accounts and enforces account status for every resolved caller.
type Service struct {
	store  storage.AccountStore
	issuer TokenIssuer
	log    *logging.Logger
	now    func() time.Time
}

// New constructs an account service.
func New(store storage.AccountStore, issuer TokenIssuer, log *logging.Logger) *Service {
	if log == nil {
		log = logging.New("accounts", "info", "json")
	}
	return &Service{store: store, issuer: issuer, log: log, now: time.Now}
}

// Login creates the account on first sight, otherwise checks its status, then issues a token.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return LoginResult{}, errors.BadRequest("userId is required", nil)
	}
	if s.issuer == nil {
		return LoginResult{}, errors.Internal("Token issuing is not configured", nil)
	}

	acct, created, err := s.findOrCreate(ctx, req)
	if err != nil {
		return LoginResult{}, err
	}
	if !created {
		if err := checkStatus(acct); err != nil {
			return LoginResult{}, err
		}
		if acct, err = s.touch(ctx, acct); err != nil {
			return LoginResult{}, err
		}
	}

	token, err := s.issuer(acct.UserID)
	if err != nil {
		return LoginResult{}, errors.Internal("Failed to issue token", err)
	}

	s.log.WithContext(ctx).WithFields(map[string]interface{}{
		"user_id": acct.UserID,
		"created": created,
	}).Info("account logged in")
	return LoginResult{Account: acct, Token: token, Created: created}, nil
}

// findOrCreate returns the account for req.UserID, creating it on first login. A concurrent
// first login that wins the insert leaves this call with the existing account.
func (s *Service) findOrCreate(ctx context.Context, req LoginRequest) (account.Account, bool, error) {
	acct, err := s.store.GetAccountByUserID(ctx, req.UserID)
	if err == nil {
		return acct, false, nil
	}
	if !stderrors.Is(err, storage.ErrNotFound) {
		return account.Account{}, false, fmt.Errorf("load account: %w", err)
	}

	acct, err = s.store.CreateAccount(ctx, account.Account{
		UserID:       req.UserID,
		Nickname:     req.Username,
		Email:        req.Email,
		ProviderType: req.ProviderType,
		Status:       account.StatusActive,
		LoggedAt:     s.now().UTC(),
	})
	if err == nil {
		return acct, true, nil
	}
	if !stderrors.Is(err, storage.ErrConflict) {
		return account.Account{}, false, fmt.Errorf("create account: %w", err)
	}

	acct, err = s.store.GetAccountByUserID(ctx, req.UserID)
	if err != nil {
		return account.Account{}, false, fmt.Errorf("load account: %w", err)
	}
	return acct, false, nil
}

// Active loads the caller's account and rejects inactive, blacklisted or unknown users.
func (s *Service) Active(ctx context.Context, userID string) (account.Account, error) {
	acct, err := s.store.GetAccountByUserID(ctx, userID)
	if stderrors.Is(err, storage.ErrNotFound) {
		return account.Account{}, errors.InvalidUser(err)
	}
	if err != nil {
		return account.Account{}, fmt.Errorf("load account: %w", err)
	}
	if err := checkStatus(acct); err != nil {
		return account.Account{}, err
	}
	return acct, nil
}

// Me returns the caller's account.
func (s *Service) Me(ctx context.Context, userID string) (account.Account, error) {
	return s.Active(ctx, userID)
}

// AutoLogin refreshes the caller's last login time.
func (s *Service) AutoLogin(ctx context.Context, userID string) (account.Account, error) {
	acct, err := s.Active(ctx, userID)
	if err != nil {
		return account.Account{}, err
	}
	return s.touch(ctx, acct)
}

// UpdateNickname changes the caller's nickname.
func (s *Service) UpdateNickname(ctx context.Context, userID, nickname string) (account.Account, error) {
	nickname = strings.TrimSpace(nickname)
	if n := utf8.RuneCountInString(nickname); n == 0 || n > maxNicknameLength {
		return account.Account{}, errors.BadRequest(fmt.Sprintf("nickname must be 1 to %d characters", maxNicknameLength), nil)
	}

	acct, err := s.Active(ctx, userID)
	if err != nil {
		return account.Account{}, err
	}
	acct.Nickname = nickname
	updated, err := s.store.UpdateAccount(ctx, acct)
	if err != nil {
		return account.Account{}, fmt.Errorf("update account: %w", err)
	}
	return updated, nil
}

func (s *Service) touch(ctx context.Context, acct account.Account) (account.Account, error) {
	acct.LoggedAt = s.now().UTC()
	updated, err := s.store.UpdateAccount(ctx, acct)
	if err != nil {
		return account.Account{}, fmt.Errorf("update account: %w", err)
	}
	return updated, nil
}

func checkStatus(acct account.Account) error {
	switch acct.Status {
	case account.StatusInactive:
		return errors.InactiveUser()
	case account.StatusBlack:
		return errors.BlackUser()
	}
	return nil
}
