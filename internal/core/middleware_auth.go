package core

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"sweeper/internal/types"
)

// AdminKeyMiddleware authenticates ops API requests against the configured
// admin key. The key is accepted either as "Authorization: Bearer <key>" or
// in the X-Admin-Key header. Comparison is constant-time.
//
// The ops API is engine-facing; there are no per-user sessions. Webhook
// routes are mounted outside this middleware because providers sign their
// payloads instead.
func (s *Server) AdminKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		presented := extractAdminKey(r)
		if presented == "" {
			Error(w, r, types.NewAppError(
				types.ErrCodeAuthKeyMissing,
				"admin key is required",
				nil,
			))
			return
		}

		expected := s.Config.Security.AdminAPIKey.Unmask()
		if subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) != 1 {
			s.Logger.WarnContext(r.Context(), "admin key rejected",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			Error(w, r, types.NewAppError(
				types.ErrCodeAuthKeyInvalid,
				"admin key is invalid",
				nil,
			))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// extractAdminKey pulls the presented key from the Authorization header
// ("Bearer <key>", scheme case-insensitive per RFC 7235) or the X-Admin-Key
// header.
func extractAdminKey(r *http.Request) string {
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
		return strings.TrimSpace(auth[len(prefix):])
	}
	return strings.TrimSpace(r.Header.Get("X-Admin-Key"))
}
