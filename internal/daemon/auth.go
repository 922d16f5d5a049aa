package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// authMiddleware requires the configured token when one is set. Clients send
// "Authorization: Bearer <token>"; browsers opening the event WebSocket
// cannot set headers and pass ?token=<token> instead.
func authMiddleware(token string, next http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		presented, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok && isWebSocketRequest(r) {
			presented, ok = r.URL.Query().Get("token"), true
		}
		if !ok || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized"}` + "\n"))
			return
		}
		next(w, r)
	}
}
