package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/calcapp/server/internal/storage"
)

// SetAPIKey overwrites the account's api_key slot with a new value. The
// UNIQUE index across all accounts turns a generator collision into
// storage.ErrConflict so the caller can regenerate.
func (s *Store) SetAPIKey(ctx context.Context, accountID string, key string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("api key is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE credentials
SET api_key = ?, updated_at = ?
WHERE account_id = ?
`, key, toMillis(now), accountID)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("set api key: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set api key rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SetRefreshToken overwrites the account's refresh_token slot.
func (s *Store) SetRefreshToken(ctx context.Context, accountID string, token []byte, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if len(token) == 0 {
		return fmt.Errorf("refresh token is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE credentials
SET refresh_token = ?, updated_at = ?
WHERE account_id = ?
`, token, toMillis(now), accountID)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("set refresh token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("set refresh token rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// SwapRefreshToken replaces the stored refresh token only when it still
// equals expected. The conditional WHERE clause is the whole concurrency
// story: two racing rotations hit the same row and exactly one matches.
func (s *Store) SwapRefreshToken(ctx context.Context, accountID string, expected []byte, next []byte, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}
	if len(expected) == 0 || len(next) == 0 {
		return fmt.Errorf("refresh tokens are required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE credentials
SET refresh_token = ?, updated_at = ?
WHERE account_id = ? AND refresh_token = ?
`, next, toMillis(now), accountID, expected)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("swap refresh token: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("swap refresh token rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// GetAccountIDByAPIKey resolves an api key to its owning account.
func (s *Store) GetAccountIDByAPIKey(ctx context.Context, key string) (string, error) {
	return s.lookupAccountID(ctx, "api_key", key)
}

// GetAccountIDByExternalID resolves a third-party identity to its account.
func (s *Store) GetAccountIDByExternalID(ctx context.Context, externalID string) (string, error) {
	return s.lookupAccountID(ctx, "external_id", externalID)
}

func (s *Store) lookupAccountID(ctx context.Context, column string, value string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.ensureDB(); err != nil {
		return "", err
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("%s is required", column)
	}

	var accountID string
	query := fmt.Sprintf(`SELECT account_id FROM credentials WHERE %s = ?`, column)
	if err := s.sqlDB.QueryRowContext(ctx, query, value).Scan(&accountID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("lookup account by %s: %w", column, err)
	}
	return accountID, nil
}
