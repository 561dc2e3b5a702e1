package api

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/calcapp/server/internal/platform/errors"
)

type registerResponse struct {
	AccountID string `json:"account_id"`
}

type loginRequest struct {
	AccountID string `json:"account_id"`
}

type loginResponse struct {
	AccountID    string `json:"account_id"`
	APIKey       string `json:"api_key"`
	RefreshToken string `json:"refresh_token"`
}

type signInRequest struct {
	GoogleToken string `json:"google_token"`
}

type accountStateResponse struct {
	AccountID string          `json:"account_id"`
	Phase     string          `json:"phase"`
	Profile   json.RawMessage `json:"profile"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	acct, err := s.accounts.Register(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, registerResponse{AccountID: acct.ID})
}

// handleLogin issues a fresh api key and refresh token for the account.
// Both slots are overwritten, so any previously issued pair is dead after
// this returns.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var request loginRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.AccountID) == "" {
		writeBadRequest(w, "account_id is required")
		return
	}

	response, err := s.loginAccount(r, request.AccountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) loginAccount(r *http.Request, accountID string) (loginResponse, error) {
	ctx := r.Context()

	if _, err := s.accounts.Get(ctx, accountID); err != nil {
		return loginResponse{}, err
	}

	apiKey, err := s.issuer.IssueAPIKey(ctx, accountID)
	if err != nil {
		return loginResponse{}, err
	}
	refreshToken, err := s.issuer.IssueRefreshToken(ctx, accountID)
	if err != nil {
		return loginResponse{}, err
	}

	return loginResponse{
		AccountID:    accountID,
		APIKey:       apiKey,
		RefreshToken: base64.StdEncoding.EncodeToString(refreshToken),
	}, nil
}

// handleSignInWithLogin verifies a Google ID token, finds or creates the
// linked account, and logs it in. Two clients racing on the same identity
// both land on the account that won the unique-constraint race.
func (s *Server) handleSignInWithLogin(w http.ResponseWriter, r *http.Request) {
	if s.verifier == nil {
		http.Error(w, "external sign-in is not configured", http.StatusServiceUnavailable)
		return
	}

	var request signInRequest
	if !decodeBody(w, r, &request) {
		return
	}
	if strings.TrimSpace(request.GoogleToken) == "" {
		writeBadRequest(w, "google_token is required")
		return
	}

	ctx := r.Context()
	externalID, err := s.verifier.VerifyIDToken(ctx, request.GoogleToken)
	if err != nil {
		writeError(w, err)
		return
	}

	accountID, err := s.resolveExternalAccount(r, externalID)
	if err != nil {
		writeError(w, err)
		return
	}

	response, err := s.loginAccount(r, accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) resolveExternalAccount(r *http.Request, externalID string) (string, error) {
	ctx := r.Context()

	accountID, err := s.creds.GetAccountIDByExternalID(ctx, externalID)
	if err == nil {
		return accountID, nil
	}
	if errors.CodeOf(err) != errors.CodeNotFound {
		return "", err
	}

	acct, err := s.accounts.RegisterWithExternalID(ctx, externalID)
	if err == nil {
		log.Printf("api: registered account=%s for external sign-in", acct.ID)
		return acct.ID, nil
	}
	// A concurrent sign-in claimed the identity first; its account wins.
	if errors.CodeOf(err) == errors.CodeConflict {
		return s.creds.GetAccountIDByExternalID(ctx, externalID)
	}
	return "", err
}

func (s *Server) handleAccountState(w http.ResponseWriter, r *http.Request, accountID string) {
	acct, err := s.accounts.Get(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountStateResponse{
		AccountID: acct.ID,
		Phase:     acct.Phase.String(),
		Profile:   acct.Profile,
	})
}

// handleProfile serves the opaque profile document. Writes are allowed in
// any live phase with last-writer-wins semantics.
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, accountID string) {
	switch r.Method {
	case http.MethodGet:
		acct, err := s.accounts.Get(r.Context(), accountID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeRawJSON(w, http.StatusOK, acct.Profile)

	case http.MethodPost:
		doc, ok := readDocument(w, r)
		if !ok {
			return
		}
		if err := s.accounts.PutProfile(r.Context(), accountID, doc); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct{}{})

	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleSetup accepts the transient setup document during initial setup and
// serves it back for reads.
func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request, accountID string) {
	switch r.Method {
	case http.MethodGet:
		doc, err := s.accounts.Setup(r.Context(), accountID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeRawJSON(w, http.StatusOK, doc)

	case http.MethodPost:
		doc, ok := readDocument(w, r)
		if !ok {
			return
		}
		if err := s.accounts.SubmitSetup(r.Context(), accountID, doc); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct{}{})

	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCompleteSetup(w http.ResponseWriter, r *http.Request, accountID string) {
	if err := s.accounts.CompleteSetup(r.Context(), accountID); err != nil {
		writeError(w, err)
		return
	}
	acct, err := s.accounts.Get(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountStateResponse{
		AccountID: acct.ID,
		Phase:     acct.Phase.String(),
		Profile:   acct.Profile,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, accountID string) {
	if err := s.accounts.Delete(r.Context(), accountID); err != nil {
		writeError(w, err)
		return
	}
	log.Printf("api: deleted account=%s", accountID)
	writeJSON(w, http.StatusOK, struct{}{})
}
