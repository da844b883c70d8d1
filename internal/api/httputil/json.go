// Package httputil holds the small request/response helpers shared by the
// HTTP handlers: JSON decode and encode, error payload mapping, and the SSE
// response writer.
package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pagemark-io/pagemark/internal/platform/apierr"
)

// DecodeJSON reads the request body into dst, optionally capping its size.
func DecodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	return json.NewDecoder(r.Body).Decode(dst)
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to its HTTP status and a flat {"error": "..."} body.
// Rate-limit and quota errors get fixed user-facing text instead of the raw
// backend message; unclassified errors stay generic.
func WriteError(w http.ResponseWriter, err error) {
	WriteJSON(w, apierr.StatusOf(err), map[string]string{"error": publicMessage(err)})
}

func publicMessage(err error) string {
	var ae *apierr.Error
	if !errors.As(err, &ae) {
		return "internal server error"
	}
	switch ae.Code {
	case apierr.CodeRateLimited:
		return "the model backend is rate limiting requests, try again in a moment"
	case apierr.CodeQuotaExhausted:
		return "the model backend quota is exhausted"
	default:
		return ae.Error()
	}
}
