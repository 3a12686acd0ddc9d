package account

import "time"

// Status gates what an account may do. Only ACTIVE accounts are served.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusInactive Status = "INACTIVE"
	StatusBlack    Status = "BLACK"
)

// Account is a footprint user, keyed by the identity carried in the access token.
type Account struct {
	ID           int64
	UserID       string
	Nickname     string
	Email        string
	ProviderType string
	Status       Status
	LoggedAt     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
