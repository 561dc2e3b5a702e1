package api

import (
	"net/http"
)

// handleCalculatorState serves the per-account calculator document. Reads
// return the stored document verbatim, `{}` before the first write. Writes
// require a set-up account and race with last-writer-wins semantics.
func (s *Server) handleCalculatorState(w http.ResponseWriter, r *http.Request, accountID string) {
	switch r.Method {
	case http.MethodGet:
		doc, err := s.accounts.CalculatorState(r.Context(), accountID)
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
		if err := s.accounts.PutCalculatorState(r.Context(), accountID, doc); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, struct{}{})

	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}
