package api

import (
	"context"
	"log"
	"net/http"
	"strings"

	"golang.org/x/net/websocket"

	"github.com/calcapp/server/internal/platform/errors"
)

// wsAccountIDContextKey carries the authenticated account id from the
// upgrade request into the connection handler.
type wsAccountIDContextKey struct{}

// handleConnect upgrades to WebSocket and runs the token-rotation protocol.
// The upgrade itself is authorized by API key; access tokens cannot open
// connections, they are minted by them.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	credential := credentialFromRequest(r)
	if credential == "" {
		log.Printf("api: websocket unauthorized: missing api key remote=%s", r.RemoteAddr)
		writeError(w, errors.New(errors.CodeUnauthorized, "api key is required"))
		return
	}
	if strings.Count(credential, ".") == 2 {
		log.Printf("api: websocket unauthorized: access token presented at upgrade remote=%s", r.RemoteAddr)
		writeError(w, errors.New(errors.CodeUnauthorized, "connections are authorized by api key"))
		return
	}

	accountID, err := s.issuer.VerifyAPIKey(r.Context(), credential)
	if err != nil {
		log.Printf("api: websocket unauthorized: remote=%s err=%v", r.RemoteAddr, err)
		writeError(w, err)
		return
	}

	ctx := context.WithValue(r.Context(), wsAccountIDContextKey{}, accountID)
	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		id := accountID
		if request := conn.Request(); request != nil {
			if resolved, ok := request.Context().Value(wsAccountIDContextKey{}).(string); ok && resolved != "" {
				id = resolved
			}
		}
		s.sessions.Handle(conn, id)
	})
	wsHandler.ServeHTTP(w, r.WithContext(ctx))
}
