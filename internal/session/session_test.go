package session

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/net/websocket"

	"github.com/calcapp/server/internal/storage"
	"github.com/calcapp/server/internal/token"
)

// fakeCredentialStore holds one refresh token slot per account.
type fakeCredentialStore struct {
	refresh map[string][]byte
}

func (f *fakeCredentialStore) SetAPIKey(context.Context, string, string, time.Time) error {
	return nil
}

func (f *fakeCredentialStore) SetRefreshToken(_ context.Context, accountID string, tok []byte, _ time.Time) error {
	f.refresh[accountID] = tok
	return nil
}

func (f *fakeCredentialStore) SwapRefreshToken(_ context.Context, accountID string, expected []byte, next []byte, _ time.Time) error {
	current, ok := f.refresh[accountID]
	if !ok || !bytes.Equal(current, expected) {
		return storage.ErrNotFound
	}
	f.refresh[accountID] = next
	return nil
}

func (f *fakeCredentialStore) GetAccountIDByAPIKey(context.Context, string) (string, error) {
	return "", storage.ErrNotFound
}

func (f *fakeCredentialStore) GetAccountIDByExternalID(context.Context, string) (string, error) {
	return "", storage.ErrNotFound
}

type sessionFixture struct {
	issuer   *token.Issuer
	registry *Registry
	server   *httptest.Server
	creds    *fakeCredentialStore
}

func newSessionFixture(t *testing.T, accountID string, handshakeTimeout time.Duration) *sessionFixture {
	t.Helper()

	creds := &fakeCredentialStore{refresh: make(map[string][]byte)}
	issuer, err := token.NewIssuer(creds, []byte("test-signing-secret"), time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	registry := NewRegistry()
	handler := NewHandler(issuer, registry, handshakeTimeout)

	server := httptest.NewServer(websocket.Handler(func(conn *websocket.Conn) {
		handler.Handle(conn, accountID)
	}))
	t.Cleanup(server.Close)

	return &sessionFixture{
		issuer:   issuer,
		registry: registry,
		server:   server,
		creds:    creds,
	}
}

func (f *sessionFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	conn, err := websocket.Dial(url, "", f.server.URL)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

// handshake sends the refresh token and reads back the rotated pair.
func (f *sessionFixture) handshake(t *testing.T, conn *websocket.Conn, refresh []byte) ([]byte, string) {
	t.Helper()

	if err := websocket.Message.Send(conn, refresh); err != nil {
		t.Fatalf("send refresh token: %v", err)
	}
	var next []byte
	if err := websocket.Message.Receive(conn, &next); err != nil {
		t.Fatalf("receive rotated refresh token: %v", err)
	}
	var accessToken string
	if err := websocket.Message.Receive(conn, &accessToken); err != nil {
		t.Fatalf("receive access token: %v", err)
	}
	return next, accessToken
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestHandshakeRotatesAndActivates(t *testing.T) {
	fixture := newSessionFixture(t, "acct-1", 0)

	first := bytes.Repeat([]byte{0xAA}, 32)
	fixture.creds.refresh["acct-1"] = first

	conn := fixture.dial(t)
	next, accessToken := fixture.handshake(t, conn, first)

	if bytes.Equal(next, first) {
		t.Fatal("expected a rotated refresh token")
	}
	if !bytes.Equal(fixture.creds.refresh["acct-1"], next) {
		t.Fatal("expected the store to hold the rotated token")
	}

	accountID, err := fixture.issuer.VerifyAccessToken(accessToken)
	if err != nil {
		t.Fatalf("verify access token: %v", err)
	}
	if accountID != "acct-1" {
		t.Fatalf("expected acct-1, got %q", accountID)
	}

	waitFor(t, func() bool { return fixture.registry.Active("acct-1", accessToken) })
}

func TestStaleRefreshTokenClosesConnection(t *testing.T) {
	fixture := newSessionFixture(t, "acct-1", 0)

	first := bytes.Repeat([]byte{0xAA}, 32)
	fixture.creds.refresh["acct-1"] = first

	conn := fixture.dial(t)
	fixture.handshake(t, conn, first)

	// The first token was consumed by the rotation above. Presenting it on a
	// new connection must fail and the server closes without responding.
	stale := fixture.dial(t)
	if err := websocket.Message.Send(stale, first); err != nil {
		t.Fatalf("send stale token: %v", err)
	}
	var reply []byte
	if err := websocket.Message.Receive(stale, &reply); err == nil {
		t.Fatalf("expected closed connection, got reply %q", reply)
	}
}

func TestClosingConnectionDeactivatesToken(t *testing.T) {
	fixture := newSessionFixture(t, "acct-1", 0)

	first := bytes.Repeat([]byte{0xAA}, 32)
	fixture.creds.refresh["acct-1"] = first

	conn := fixture.dial(t)
	_, accessToken := fixture.handshake(t, conn, first)

	waitFor(t, func() bool { return fixture.registry.Active("acct-1", accessToken) })

	if err := conn.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	waitFor(t, func() bool { return !fixture.registry.Active("acct-1", accessToken) })
}

func TestNewConnectionReplacesSession(t *testing.T) {
	fixture := newSessionFixture(t, "acct-1", 0)

	first := bytes.Repeat([]byte{0xAA}, 32)
	fixture.creds.refresh["acct-1"] = first

	conn1 := fixture.dial(t)
	second, token1 := fixture.handshake(t, conn1, first)

	waitFor(t, func() bool { return fixture.registry.Active("acct-1", token1) })

	conn2 := fixture.dial(t)
	_, token2 := fixture.handshake(t, conn2, second)

	waitFor(t, func() bool { return fixture.registry.Active("acct-1", token2) })
	if fixture.registry.Active("acct-1", token1) {
		t.Fatal("expected the first session's token to be inactive")
	}

	// The first connection was closed by the replacement.
	var discard []byte
	if err := websocket.Message.Receive(conn1, &discard); err == nil {
		t.Fatal("expected the first connection to be closed")
	}
}

func TestHandshakeTimeout(t *testing.T) {
	fixture := newSessionFixture(t, "acct-1", 50*time.Millisecond)

	conn := fixture.dial(t)

	// Send nothing; the server must give up and close.
	var reply []byte
	errCh := make(chan error, 1)
	go func() {
		errCh <- websocket.Message.Receive(conn, &reply)
	}()
	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected closed connection, got reply %q", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not close the idle connection")
	}
}

func TestAccountStateChangedPush(t *testing.T) {
	fixture := newSessionFixture(t, "acct-1", 0)

	first := bytes.Repeat([]byte{0xAA}, 32)
	fixture.creds.refresh["acct-1"] = first

	conn := fixture.dial(t)
	_, accessToken := fixture.handshake(t, conn, first)
	waitFor(t, func() bool { return fixture.registry.Active("acct-1", accessToken) })

	fixture.registry.AccountStateChanged("acct-1")

	var raw string
	if err := websocket.Message.Receive(conn, &raw); err != nil {
		t.Fatalf("receive event: %v", err)
	}
	var payload struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if payload.Event != EventAccountStateChanged {
		t.Fatalf("expected %q, got %q", EventAccountStateChanged, payload.Event)
	}
}

func TestAccountStateChangedWithoutSessionIsDropped(t *testing.T) {
	registry := NewRegistry()
	registry.AccountStateChanged("nobody")
}

func TestRegistryActiveRequiresMatchingToken(t *testing.T) {
	fixture := newSessionFixture(t, "acct-1", 0)

	first := bytes.Repeat([]byte{0xAA}, 32)
	fixture.creds.refresh["acct-1"] = first

	conn := fixture.dial(t)
	_, accessToken := fixture.handshake(t, conn, first)
	waitFor(t, func() bool { return fixture.registry.Active("acct-1", accessToken) })

	if fixture.registry.Active("acct-1", "some-other-token") {
		t.Fatal("expected mismatched token to be inactive")
	}
	if fixture.registry.Active("acct-2", accessToken) {
		t.Fatal("expected other account to be inactive")
	}
}
