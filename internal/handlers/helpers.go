package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/ternarybob/reperio/internal/common"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed", "")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteData writes the standard success envelope
func WriteData(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// WriteError writes the standard error envelope. Code is the caller-visible
// error kind and may be empty for plain transport errors.
func WriteError(w http.ResponseWriter, statusCode int, message, code string) error {
	body := map[string]interface{}{
		"success": false,
		"message": message,
	}
	if code != "" {
		body["error"] = code
	}
	return WriteJSON(w, statusCode, body)
}

// WriteServiceError maps a service error onto the HTTP error envelope.
// Resource exhaustion carries a Retry-After hint.
func WriteServiceError(w http.ResponseWriter, err error) error {
	svcErr := common.AsServiceError(err)
	if svcErr.Code == common.CodeResourceExhausted {
		w.Header().Set("Retry-After", "5")
	}
	return WriteError(w, svcErr.HTTPStatus(), svcErr.Message, string(svcErr.Code))
}

// queryInt parses an integer query parameter, returning def when absent
// or malformed
func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// queryBool parses a boolean query parameter, returning def when absent
// or malformed
func queryBool(r *http.Request, key string, def bool) bool {
	if v := r.URL.Query().Get(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
