package session

import (
	"context"
	stderrors "errors"
	"io"
	"log"
	"net"
	"time"

	"golang.org/x/net/websocket"

	"github.com/calcapp/server/internal/platform/errors"
	"github.com/calcapp/server/internal/token"
)

// DefaultHandshakeTimeout bounds the wait for the client's refresh token.
const DefaultHandshakeTimeout = 30 * time.Second

// Handler runs the token-rotation handshake once per connection.
//
// Protocol: the client, already authorized at upgrade time by its API key,
// sends its current refresh token as one binary message. The server swaps
// it for a fresh token, answers with the new refresh token (binary) and a
// new access token (text), then holds the connection open. The access token
// stays valid exactly as long as the connection does. Event pushes arrive
// as JSON text frames. On Unauthorized or Timeout the connection is closed
// without an error frame; no authenticated channel exists yet to send one.
type Handler struct {
	issuer           *token.Issuer
	registry         *Registry
	handshakeTimeout time.Duration
}

// NewHandler creates a protocol handler. A non-positive timeout falls back
// to DefaultHandshakeTimeout.
func NewHandler(issuer *token.Issuer, registry *Registry, handshakeTimeout time.Duration) *Handler {
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}
	return &Handler{
		issuer:           issuer,
		registry:         registry,
		handshakeTimeout: handshakeTimeout,
	}
}

// Handle drives the handshake and then blocks until the connection closes.
// accountID is the identity the upgrade request authenticated with its API
// key.
func (h *Handler) Handle(conn *websocket.Conn, accountID string) {
	defer func() {
		_ = conn.Close()
	}()

	ctx := context.Background()
	if request := conn.Request(); request != nil {
		ctx = request.Context()
	}

	if err := conn.SetReadDeadline(time.Now().Add(h.handshakeTimeout)); err != nil {
		log.Printf("session: set handshake deadline for account=%s: %v", accountID, err)
		return
	}

	var presented []byte
	if err := websocket.Message.Receive(conn, &presented); err != nil {
		var netErr net.Error
		if stderrors.As(err, &netErr) && netErr.Timeout() {
			log.Printf("session: handshake timeout for account=%s: %v", accountID,
				errors.New(errors.CodeTimeout, "refresh token did not arrive in time"))
			return
		}
		if !stderrors.Is(err, io.EOF) {
			log.Printf("session: receive refresh token for account=%s: %v", accountID, err)
		}
		return
	}

	// The swap is atomic against concurrent connections presenting the same
	// token: exactly one wins, the other observes a rotated-away slot.
	next, err := h.issuer.RotateRefreshToken(ctx, accountID, presented)
	if err != nil {
		log.Printf("session: rotate refresh token for account=%s: %v", accountID, err)
		return
	}

	accessToken, err := h.issuer.IssueAccessToken(accountID)
	if err != nil {
		log.Printf("session: issue access token for account=%s: %v", accountID, err)
		return
	}

	if err := websocket.Message.Send(conn, next); err != nil {
		// The old token is already dead; the client recovers by logging in
		// again for a fresh pair.
		log.Printf("session: send refresh token for account=%s: %v", accountID, err)
		return
	}
	if err := websocket.Message.Send(conn, accessToken); err != nil {
		log.Printf("session: send access token for account=%s: %v", accountID, err)
		return
	}

	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		log.Printf("session: clear read deadline for account=%s: %v", accountID, err)
		return
	}

	active := h.registry.Register(accountID, accessToken, conn)
	defer h.registry.Deregister(active)

	// Drain until the peer closes. Client frames carry nothing the server
	// consumes today; resource requests travel over HTTP.
	for {
		var discard []byte
		if err := websocket.Message.Receive(conn, &discard); err != nil {
			return
		}
	}
}
