// Package token issues and verifies the three credential kinds: long-lived
// API keys, single-slot refresh tokens, and short-lived signed access tokens.
package token

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/calcapp/server/internal/platform/errors"
	"github.com/calcapp/server/internal/storage"
)

const (
	// apiKeyBytes yields 128 bits of entropy per key, hex encoded.
	apiKeyBytes = 16
	// refreshTokenBytes yields 256 bits of entropy per token.
	refreshTokenBytes = 32

	// maxGenerateAttempts bounds regeneration after a UNIQUE collision.
	// Collisions are negligible by construction, so hitting the bound means
	// something other than luck is broken.
	maxGenerateAttempts = 3
)

// Issuer generates credentials and enforces single-slot replacement.
type Issuer struct {
	creds  storage.CredentialStore
	secret []byte
	ttl    time.Duration
	clock  func() time.Time
}

// NewIssuer creates an issuer signing access tokens with secret, valid for ttl.
func NewIssuer(creds storage.CredentialStore, secret []byte, ttl time.Duration) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("signing secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("access token ttl must be positive")
	}
	return &Issuer{
		creds:  creds,
		secret: secret,
		ttl:    ttl,
		clock:  time.Now,
	}, nil
}

// WithClock overrides the issuer clock for tests.
func (i *Issuer) WithClock(clock func() time.Time) *Issuer {
	if clock != nil {
		i.clock = clock
	}
	return i
}

// IssueAPIKey generates a fresh API key and overwrites the account's slot.
// The prior key is invalid for all future lookups the moment the slot
// updates. A UNIQUE collision with another account's key triggers
// regeneration.
func (i *Issuer) IssueAPIKey(ctx context.Context, accountID string) (string, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		key, err := randomHex(apiKeyBytes)
		if err != nil {
			return "", err
		}
		err = i.creds.SetAPIKey(ctx, accountID, key, i.clock().UTC())
		if err == nil {
			return key, nil
		}
		if errors.CodeOf(err) == errors.CodeConflict {
			continue
		}
		return "", err
	}
	return "", fmt.Errorf("api key generation kept colliding")
}

// IssueRefreshToken generates a fresh refresh token and overwrites the slot.
func (i *Issuer) IssueRefreshToken(ctx context.Context, accountID string) ([]byte, error) {
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		token, err := randomBytes(refreshTokenBytes)
		if err != nil {
			return nil, err
		}
		err = i.creds.SetRefreshToken(ctx, accountID, token, i.clock().UTC())
		if err == nil {
			return token, nil
		}
		if errors.CodeOf(err) == errors.CodeConflict {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("refresh token generation kept colliding")
}

// RotateRefreshToken atomically swaps the stored refresh token for a fresh
// one, but only if presented matches the stored value. Two concurrent
// presentations of the same token produce exactly one winner; the loser
// observes a slot that no longer matches and fails Unauthorized. The old
// token is permanently dead once the swap commits, delivered or not.
func (i *Issuer) RotateRefreshToken(ctx context.Context, accountID string, presented []byte) ([]byte, error) {
	if len(presented) == 0 {
		return nil, errors.New(errors.CodeUnauthorized, "refresh token is required")
	}
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		next, err := randomBytes(refreshTokenBytes)
		if err != nil {
			return nil, err
		}
		err = i.creds.SwapRefreshToken(ctx, accountID, presented, next, i.clock().UTC())
		if err == nil {
			return next, nil
		}
		switch errors.CodeOf(err) {
		case errors.CodeConflict:
			continue
		case errors.CodeNotFound:
			return nil, errors.New(errors.CodeUnauthorized, "refresh token does not match stored value")
		}
		return nil, err
	}
	return nil, fmt.Errorf("refresh token rotation kept colliding")
}

// accessClaims is the JWT claims set carried by access tokens.
type accessClaims struct {
	jwt.RegisteredClaims
}

// IssueAccessToken creates a signed, self-contained access token encoding
// the account identity and an expiry. Verification needs only the signing
// secret; session liveness is tracked separately by the session registry.
func (i *Issuer) IssueAccessToken(accountID string) (string, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return "", fmt.Errorf("account id is required")
	}
	now := i.clock().UTC()
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// VerifyAccessToken checks signature and expiry and returns the account
// identity. It does not consult the database or the session registry.
func (i *Issuer) VerifyAccessToken(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New(errors.CodeUnauthorized, "access token is required")
	}

	var claims accessClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return i.clock().UTC() }),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", mapJWTError(err)
	}

	accountID := strings.TrimSpace(claims.Subject)
	if accountID == "" {
		return "", errors.New(errors.CodeUnauthorized, "access token has no subject")
	}
	return accountID, nil
}

// VerifyAPIKey resolves an API key to its account. Validation is always
// against the current stored value, never a cached one, so a rotated-away
// key fails even for requests already in flight.
func (i *Issuer) VerifyAPIKey(ctx context.Context, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New(errors.CodeUnauthorized, "api key is required")
	}
	accountID, err := i.creds.GetAccountIDByAPIKey(ctx, key)
	if err != nil {
		if errors.CodeOf(err) == errors.CodeNotFound {
			return "", errors.New(errors.CodeUnauthorized, "api key is not recognized")
		}
		return "", err
	}
	return accountID, nil
}

// mapJWTError translates jwt library errors to domain errors.
func mapJWTError(err error) error {
	if stderrors.Is(err, jwt.ErrTokenExpired) {
		return errors.Wrap(errors.CodeExpired, "access token is expired", err)
	}
	return errors.Wrap(errors.CodeUnauthorized, "access token is invalid", err)
}

func randomBytes(length int) ([]byte, error) {
	value := make([]byte, length)
	if _, err := rand.Read(value); err != nil {
		return nil, fmt.Errorf("read random bytes: %w", err)
	}
	return value, nil
}

func randomHex(length int) (string, error) {
	value, err := randomBytes(length)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(value), nil
}
