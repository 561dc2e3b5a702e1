package signin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calcapp/server/internal/platform/errors"
)

func newTokenInfoServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestVerifyIDToken(t *testing.T) {
	server := newTokenInfoServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id_token") != "good-token" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fmt.Fprint(w, `{"aud":"client-1","sub":"1234567890"}`)
	})

	verifier, err := NewGoogleVerifier("client-1")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	verifier.WithEndpoint(server.URL)

	externalID, err := verifier.VerifyIDToken(context.Background(), "good-token")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if externalID != "google:1234567890" {
		t.Fatalf("expected prefixed subject, got %q", externalID)
	}
}

func TestVerifyIDTokenRejected(t *testing.T) {
	server := newTokenInfoServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	verifier, err := NewGoogleVerifier("client-1")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	verifier.WithEndpoint(server.URL)

	_, err = verifier.VerifyIDToken(context.Background(), "bad-token")
	if errors.CodeOf(err) != errors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestVerifyIDTokenWrongAudience(t *testing.T) {
	server := newTokenInfoServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"aud":"someone-else","sub":"1234567890"}`)
	})

	verifier, err := NewGoogleVerifier("client-1")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	verifier.WithEndpoint(server.URL)

	_, err = verifier.VerifyIDToken(context.Background(), "token")
	if errors.CodeOf(err) != errors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestVerifyIDTokenEmpty(t *testing.T) {
	verifier, err := NewGoogleVerifier("client-1")
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	_, err = verifier.VerifyIDToken(context.Background(), "  ")
	if errors.CodeOf(err) != errors.CodeUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestNewGoogleVerifierRequiresAudience(t *testing.T) {
	if _, err := NewGoogleVerifier(" "); err == nil {
		t.Fatal("expected error for empty audience")
	}
}
