package api

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/calcapp/server/internal/platform/errors"
)

// maxBodyBytes bounds request bodies; documents are small client blobs.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error errorInfo `json:"error"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// writeRawJSON sends a stored document verbatim instead of re-encoding it.
func writeRawJSON(w http.ResponseWriter, status int, doc json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(doc); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

// writeError maps a domain error to its transport status and a stable body
// code. Internal messages for unknown errors stay in the logs.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	message := err.Error()
	if code == errors.CodeUnknown {
		log.Printf("api: internal error: %v", err)
		message = "internal error"
	}
	writeJSON(w, code.HTTPStatus(), errorBody{Error: errorInfo{
		Code:    string(code),
		Message: message,
	}})
}

// writeBadRequest rejects malformed input at the boundary. Malformed bodies
// never reach the domain layer, so they carry no domain code.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: errorInfo{
		Code:    "BAD_REQUEST",
		Message: message,
	}})
}

// decodeBody decodes a JSON request body into target.
func decodeBody(w http.ResponseWriter, r *http.Request, target any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(target); err != nil {
		writeBadRequest(w, "request body is not valid JSON")
		return false
	}
	return true
}

// readDocument reads the body as one opaque JSON document.
func readDocument(w http.ResponseWriter, r *http.Request) (json.RawMessage, bool) {
	var doc json.RawMessage
	if !decodeBody(w, r, &doc) {
		return nil, false
	}
	if len(doc) == 0 {
		writeBadRequest(w, "request body is required")
		return nil, false
	}
	return doc, true
}
