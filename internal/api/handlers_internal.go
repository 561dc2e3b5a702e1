package api

import (
	"net/http"
	"strings"
)

type checkAPIKeyResponse struct {
	AccountID string `json:"account_id"`
}

// handleCheckAPIKey resolves an api key to its account for trusted callers.
func (s *Server) handleCheckAPIKey(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(r.URL.Query().Get("api_key"))
	if key == "" {
		key = credentialFromRequest(r)
	}

	accountID, err := s.issuer.VerifyAPIKey(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, checkAPIKeyResponse{AccountID: accountID})
}

// handleInternalAccountState serves account state by id without credentials.
func (s *Server) handleInternalAccountState(w http.ResponseWriter, r *http.Request) {
	accountID := strings.TrimSpace(r.URL.Query().Get("account_id"))
	if accountID == "" {
		writeBadRequest(w, "account_id is required")
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
