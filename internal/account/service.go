package account

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/calcapp/server/internal/platform/errors"
	"github.com/calcapp/server/internal/storage"
)

// Notifier receives lifecycle events for delivery to connected clients.
// Delivery is best effort; accounts without an open session drop the event.
type Notifier interface {
	AccountStateChanged(accountID string)
}

// Service drives the account lifecycle state machine over an AccountStore.
type Service struct {
	store    storage.AccountStore
	notifier Notifier
	clock    func() time.Time
}

// NewService creates a lifecycle service. notifier may be nil.
func NewService(store storage.AccountStore, notifier Notifier) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		clock:    time.Now,
	}
}

// WithClock overrides the service clock for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	if clock != nil {
		s.clock = clock
	}
	return s
}

// Register creates a new account in the initial_setup phase together with
// its empty credential row. Every call creates a new account; a fresh UUID
// means no collision handling is needed.
func (s *Service) Register(ctx context.Context) (Account, error) {
	return s.register(ctx, "")
}

// RegisterWithExternalID creates a new account linked to a third-party
// identity. storage.ErrConflict surfaces when the identity is already
// claimed, which callers resolve by re-reading the winner's account.
func (s *Service) RegisterWithExternalID(ctx context.Context, externalID string) (Account, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return Account{}, fmt.Errorf("external id is required")
	}
	return s.register(ctx, externalID)
}

func (s *Service) register(ctx context.Context, externalID string) (Account, error) {
	now := s.clock().UTC()
	record := storage.AccountRecord{
		ID:          uuid.NewString(),
		Phase:       PhaseInitialSetup.String(),
		ProfileJSON: EmptyDocument,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateAccount(ctx, record, externalID); err != nil {
		return Account{}, err
	}
	return recordToAccount(record)
}

// Get returns the account, or storage.ErrNotFound after deletion.
func (s *Service) Get(ctx context.Context, accountID string) (Account, error) {
	record, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return Account{}, err
	}
	return recordToAccount(record)
}

// SubmitSetup overwrites the transient setup document. Allowed only while
// the account is in initial_setup.
func (s *Service) SubmitSetup(ctx context.Context, accountID string, doc json.RawMessage) error {
	current, err := s.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if current.Phase != PhaseInitialSetup {
		return errors.New(errors.CodeInvalidPhase, "setup is only allowed during initial setup")
	}
	return s.store.PutSetup(ctx, accountID, string(doc), s.clock().UTC())
}

// CompleteSetup transitions initial_setup -> normal. It requires a
// previously submitted setup document and notifies any open session.
func (s *Service) CompleteSetup(ctx context.Context, accountID string) error {
	current, err := s.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if current.Phase != PhaseInitialSetup {
		return errors.New(errors.CodeInvalidPhase, "account setup is already complete")
	}

	if _, err := s.store.GetSetup(ctx, accountID); err != nil {
		if errors.CodeOf(err) == errors.CodeNotFound {
			return errors.New(errors.CodeSetupIncomplete, "setup data has not been submitted")
		}
		return err
	}

	record := storage.AccountRecord{
		ID:          current.ID,
		Phase:       PhaseNormal.String(),
		ProfileJSON: string(current.Profile),
		CreatedAt:   current.CreatedAt,
		UpdatedAt:   s.clock().UTC(),
	}
	if err := s.store.UpdateAccount(ctx, record); err != nil {
		return err
	}

	if s.notifier != nil {
		s.notifier.AccountStateChanged(accountID)
	}
	return nil
}

// Delete removes the account and every dependent row. Open sessions are not
// terminated here; the gateway re-checks account existence on next use.
func (s *Service) Delete(ctx context.Context, accountID string) error {
	return s.store.DeleteAccount(ctx, accountID)
}

// PutProfile overwrites the opaque profile document. Last writer wins.
func (s *Service) PutProfile(ctx context.Context, accountID string, doc json.RawMessage) error {
	current, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	current.ProfileJSON = string(doc)
	current.UpdatedAt = s.clock().UTC()
	return s.store.UpdateAccount(ctx, current)
}

// Setup returns the submitted setup document.
func (s *Service) Setup(ctx context.Context, accountID string) (json.RawMessage, error) {
	doc, err := s.store.GetSetup(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(doc), nil
}

// CalculatorState returns the stored calculator document verbatim, or an
// empty document when the account has not written one yet.
func (s *Service) CalculatorState(ctx context.Context, accountID string) (json.RawMessage, error) {
	if _, err := s.store.GetAccount(ctx, accountID); err != nil {
		return nil, err
	}
	doc, err := s.store.GetCalculatorState(ctx, accountID)
	if err != nil {
		if errors.CodeOf(err) == errors.CodeNotFound {
			return json.RawMessage(EmptyDocument), nil
		}
		return nil, err
	}
	return json.RawMessage(doc), nil
}

// PutCalculatorState overwrites the calculator document. The account must
// have completed setup. Concurrent writers race with last-writer-wins
// semantics; there is no optimistic concurrency control.
func (s *Service) PutCalculatorState(ctx context.Context, accountID string, doc json.RawMessage) error {
	current, err := s.Get(ctx, accountID)
	if err != nil {
		return err
	}
	if current.Phase != PhaseNormal {
		return errors.New(errors.CodeInvalidPhase, "calculator is unavailable until setup completes")
	}
	return s.store.PutCalculatorState(ctx, accountID, string(doc), s.clock().UTC())
}

func recordToAccount(record storage.AccountRecord) (Account, error) {
	phase, ok := ParsePhase(record.Phase)
	if !ok {
		return Account{}, fmt.Errorf("unknown account phase %q", record.Phase)
	}
	profile := record.ProfileJSON
	if strings.TrimSpace(profile) == "" {
		profile = EmptyDocument
	}
	return Account{
		ID:        record.ID,
		Phase:     phase,
		Profile:   json.RawMessage(profile),
		CreatedAt: record.CreatedAt,
		UpdatedAt: record.UpdatedAt,
	}, nil
}
