// Package session tracks open WebSocket sessions and runs the refresh-token
// rotation handshake.
//
// Access-token validity is tied to connection liveness through the registry:
// the gateway consults Active before honoring an access token, and closing
// the connection removes the entry. The token's own expiry is only a
// backstop. Nothing here is persisted.
package session

import (
	"encoding/json"
	"log"
	"sync"

	"golang.org/x/net/websocket"
)

// EventAccountStateChanged notifies a connected client that its account
// lifecycle phase changed.
const EventAccountStateChanged = "AccountStateChanged"

// eventPayload is the JSON body of a pushed event text frame.
type eventPayload struct {
	Event string `json:"event"`
}

// Session binds one open connection to the access token issued on it.
type Session struct {
	accountID   string
	accessToken string
	conn        *websocket.Conn

	mu sync.Mutex // serializes writes to conn after the handshake
}

// AccountID returns the account this session authenticates.
func (s *Session) AccountID() string {
	return s.accountID
}

// pushEvent sends an event to the client as a JSON text frame. Events carry
// no acknowledgment; ordering is only the connection's send order.
func (s *Session) pushEvent(name string) error {
	payload, err := json.Marshal(eventPayload{Event: name})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return websocket.Message.Send(s.conn, string(payload))
}

func (s *Session) close() {
	_ = s.conn.Close()
}

// Registry is the in-memory table of open sessions, one per account.
type Registry struct {
	mu        sync.Mutex
	byAccount map[string]*Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{byAccount: make(map[string]*Session)}
}

// Register records a session for the account and returns it. A prior
// session for the same account is closed: a successful rotation on a new
// connection invalidates whatever session the old connection still held.
func (r *Registry) Register(accountID string, accessToken string, conn *websocket.Conn) *Session {
	next := &Session{
		accountID:   accountID,
		accessToken: accessToken,
		conn:        conn,
	}
	r.mu.Lock()
	previous := r.byAccount[accountID]
	r.byAccount[accountID] = next
	r.mu.Unlock()

	if previous != nil {
		previous.close()
	}
	return next
}

// Deregister removes the session if it is still the account's current one.
// The access token issued on this connection is dead from here on.
func (r *Registry) Deregister(s *Session) {
	if s == nil {
		return
	}
	r.mu.Lock()
	if r.byAccount[s.accountID] == s {
		delete(r.byAccount, s.accountID)
	}
	r.mu.Unlock()
}

// Active reports whether accessToken is the token of an open session for
// the account.
func (r *Registry) Active(accountID string, accessToken string) bool {
	r.mu.Lock()
	current := r.byAccount[accountID]
	r.mu.Unlock()
	return current != nil && current.accessToken == accessToken
}

// AccountStateChanged pushes a state-change event to the account's open
// session, if any. Accounts without a session drop the event.
func (r *Registry) AccountStateChanged(accountID string) {
	r.mu.Lock()
	current := r.byAccount[accountID]
	r.mu.Unlock()
	if current == nil {
		return
	}
	if err := current.pushEvent(EventAccountStateChanged); err != nil {
		log.Printf("session: push event to account=%s: %v", accountID, err)
	}
}
