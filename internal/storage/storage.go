// Package storage defines the persistence contracts for account, credential,
// and document state.
package storage

import (
	"context"
	"time"

	"github.com/calcapp/server/internal/platform/errors"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New(errors.CodeNotFound, "record not found")

// ErrConflict indicates a unique constraint rejected a write.
var ErrConflict = errors.New(errors.CodeConflict, "unique constraint violation")

// AccountRecord is one row of persisted account state.
type AccountRecord struct {
	ID          string
	Phase       string
	ProfileJSON string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Credential holds the single active credential slots for one account.
// Each slot is nil until issued; api_key and refresh_token values are
// globally unique across accounts.
type Credential struct {
	AccountID    string
	APIKey       *string
	RefreshToken []byte
	ExternalID   *string
	UpdatedAt    time.Time
}

// AccountStore persists account rows and their dependent document rows.
//
// Deleting an account cascades to credentials, setup data, and calculator
// state; the cascade is enforced by the storage engine, not by callers.
type AccountStore interface {
	// CreateAccount inserts the account row and its empty credential row in
	// one transaction. externalID may be empty; when set it links the new
	// account to a third-party identity and returns ErrConflict if another
	// account already claimed it.
	CreateAccount(ctx context.Context, record AccountRecord, externalID string) error
	GetAccount(ctx context.Context, accountID string) (AccountRecord, error)
	UpdateAccount(ctx context.Context, record AccountRecord) error
	// DeleteAccount removes the account row set. ErrNotFound when absent.
	DeleteAccount(ctx context.Context, accountID string) error

	PutSetup(ctx context.Context, accountID string, setupJSON string, now time.Time) error
	GetSetup(ctx context.Context, accountID string) (string, error)

	PutCalculatorState(ctx context.Context, accountID string, stateJSON string, now time.Time) error
	GetCalculatorState(ctx context.Context, accountID string) (string, error)
}

// CredentialStore persists the per-account credential slots.
type CredentialStore interface {
	// SetAPIKey overwrites the stored api_key slot. ErrConflict when the key
	// collides with another account's key, ErrNotFound when the account is
	// gone.
	SetAPIKey(ctx context.Context, accountID string, key string, now time.Time) error
	// SetRefreshToken overwrites the refresh_token slot unconditionally.
	SetRefreshToken(ctx context.Context, accountID string, token []byte, now time.Time) error
	// SwapRefreshToken replaces the stored refresh token only if it currently
	// equals expected. ErrNotFound signals the compare failed: the slot holds
	// a different token, is empty, or the account is gone. The conditional
	// update is what makes concurrent rotations produce one winner.
	SwapRefreshToken(ctx context.Context, accountID string, expected []byte, next []byte, now time.Time) error
	GetAccountIDByAPIKey(ctx context.Context, key string) (string, error)
	GetAccountIDByExternalID(ctx context.Context, externalID string) (string, error)
}
