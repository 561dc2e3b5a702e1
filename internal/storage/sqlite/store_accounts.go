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

// CreateAccount inserts the account row and its empty credential row in one
// transaction. A non-empty externalID claims the third-party identity at
// insert time; the UNIQUE constraint turns a concurrent claim into
// storage.ErrConflict instead of a second account.
func (s *Store) CreateAccount(ctx context.Context, record storage.AccountRecord, externalID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("account id is required")
	}
	if strings.TrimSpace(record.Phase) == "" {
		return fmt.Errorf("account phase is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO accounts (id, phase, profile_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
`,
		record.ID,
		record.Phase,
		record.ProfileJSON,
		toMillis(record.CreatedAt),
		toMillis(record.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}

	var external any
	if strings.TrimSpace(externalID) != "" {
		external = externalID
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO credentials (account_id, external_id, updated_at)
VALUES (?, ?, ?)
`,
		record.ID,
		external,
		toMillis(record.CreatedAt),
	); err != nil {
		if isUniqueViolation(err) {
			return storage.ErrConflict
		}
		return fmt.Errorf("insert credential row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit account: %w", err)
	}
	return nil
}

// GetAccount fetches an account row by ID.
func (s *Store) GetAccount(ctx context.Context, accountID string) (storage.AccountRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.AccountRecord{}, err
	}
	if err := s.ensureDB(); err != nil {
		return storage.AccountRecord{}, err
	}
	if strings.TrimSpace(accountID) == "" {
		return storage.AccountRecord{}, fmt.Errorf("account id is required")
	}

	var record storage.AccountRecord
	var createdAt int64
	var updatedAt int64
	row := s.sqlDB.QueryRowContext(ctx, `
SELECT id, phase, profile_json, created_at, updated_at
FROM accounts
WHERE id = ?
`, accountID)
	if err := row.Scan(&record.ID, &record.Phase, &record.ProfileJSON, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.AccountRecord{}, storage.ErrNotFound
		}
		return storage.AccountRecord{}, fmt.Errorf("get account: %w", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	record.UpdatedAt = fromMillis(updatedAt)
	return record, nil
}

// UpdateAccount overwrites phase and profile for an existing account.
func (s *Store) UpdateAccount(ctx context.Context, record storage.AccountRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(record.ID) == "" {
		return fmt.Errorf("account id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE accounts
SET phase = ?, profile_json = ?, updated_at = ?
WHERE id = ?
`,
		record.Phase,
		record.ProfileJSON,
		toMillis(record.UpdatedAt),
		record.ID,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteAccount removes the account row. The storage engine cascades the
// delete to credentials, setup data, and calculator state atomically.
func (s *Store) DeleteAccount(ctx context.Context, accountID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}

	result, err := s.sqlDB.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, accountID)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete account rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// PutSetup stores or overwrites the transient setup document.
func (s *Store) PutSetup(ctx context.Context, accountID string, setupJSON string, now time.Time) error {
	return s.putDocument(ctx, "account_setup", "setup_json", accountID, setupJSON, now)
}

// GetSetup fetches the submitted setup document.
func (s *Store) GetSetup(ctx context.Context, accountID string) (string, error) {
	return s.getDocument(ctx, "account_setup", "setup_json", accountID)
}

// PutCalculatorState stores or overwrites the calculator document.
func (s *Store) PutCalculatorState(ctx context.Context, accountID string, stateJSON string, now time.Time) error {
	return s.putDocument(ctx, "calculator_state", "state_json", accountID, stateJSON, now)
}

// GetCalculatorState fetches the calculator document.
func (s *Store) GetCalculatorState(ctx context.Context, accountID string) (string, error) {
	return s.getDocument(ctx, "calculator_state", "state_json", accountID)
}

func (s *Store) putDocument(ctx context.Context, table string, column string, accountID string, doc string, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.ensureDB(); err != nil {
		return err
	}
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("account id is required")
	}

	query := fmt.Sprintf(`
INSERT INTO %s (account_id, %s, created_at, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (account_id) DO UPDATE SET %s = excluded.%s, updated_at = excluded.updated_at
`, table, column, column, column)
	if _, err := s.sqlDB.ExecContext(ctx, query, accountID, doc, toMillis(now), toMillis(now)); err != nil {
		if isForeignKeyViolation(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("put %s: %w", table, err)
	}
	return nil
}

func (s *Store) getDocument(ctx context.Context, table string, column string, accountID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := s.ensureDB(); err != nil {
		return "", err
	}
	if strings.TrimSpace(accountID) == "" {
		return "", fmt.Errorf("account id is required")
	}

	var doc string
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE account_id = ?`, column, table)
	if err := s.sqlDB.QueryRowContext(ctx, query, accountID).Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("get %s: %w", table, err)
	}
	return doc, nil
}
