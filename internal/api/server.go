// Package api exposes the account and calculator surfaces over HTTP and
// hands WebSocket upgrades to the session protocol handler.
package api

import (
	"net/http"

	"github.com/calcapp/server/internal/account"
	"github.com/calcapp/server/internal/api/signin"
	"github.com/calcapp/server/internal/session"
	"github.com/calcapp/server/internal/storage"
	"github.com/calcapp/server/internal/token"
)

// Server wires the domain services into HTTP handlers.
type Server struct {
	accounts *account.Service
	issuer   *token.Issuer
	creds    storage.CredentialStore
	registry *session.Registry
	sessions *session.Handler
	verifier signin.Verifier

	// debug disables the session-liveness check on access tokens so local
	// clients can call authorized routes without holding a connection open.
	debug bool
}

// NewServer creates the HTTP gateway. verifier may be nil, which disables
// external sign-in.
func NewServer(
	accounts *account.Service,
	issuer *token.Issuer,
	creds storage.CredentialStore,
	registry *session.Registry,
	sessions *session.Handler,
	verifier signin.Verifier,
	debug bool,
) *Server {
	return &Server{
		accounts: accounts,
		issuer:   issuer,
		creds:    creds,
		registry: registry,
		sessions: sessions,
		verifier: verifier,
		debug:    debug,
	}
}

// Handler returns the public route set.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc("/account_api/register", requireMethod(http.MethodPost, s.handleRegister))
	mux.HandleFunc("/account_api/login", requireMethod(http.MethodPost, s.handleLogin))
	mux.HandleFunc("/account_api/sign_in_with_login", requireMethod(http.MethodPost, s.handleSignInWithLogin))

	mux.HandleFunc("/account_api/state", requireMethod(http.MethodGet, s.authorized(s.handleAccountState)))
	mux.HandleFunc("/account_api/profile", s.authorized(s.handleProfile))
	mux.HandleFunc("/account_api/setup", s.authorized(s.handleSetup))
	mux.HandleFunc("/account_api/complete_setup", requireMethod(http.MethodPost, s.authorized(s.handleCompleteSetup)))
	mux.HandleFunc("/account_api/delete", requireMethod(http.MethodPost, s.authorized(s.handleDelete)))

	mux.HandleFunc("/calculator_api/state", s.authorized(s.handleCalculatorState))

	mux.HandleFunc("/common_api/connect", requireMethod(http.MethodGet, s.handleConnect))

	return mux
}

// InternalHandler returns the trusted route set. It carries no
// authentication of its own; deployments bind it to a private address.
func (s *Server) InternalHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/internal_api/check_api_key", requireMethod(http.MethodGet, s.handleCheckAPIKey))
	mux.HandleFunc("/internal_api/account_state", requireMethod(http.MethodGet, s.handleInternalAccountState))

	return mux
}

func requireMethod(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method {
			w.Header().Set("Allow", method)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}
