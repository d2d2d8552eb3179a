package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"mediaflow/internal/logging"
)

// requireToken wraps h with bearer-token authentication. An empty token
// disables the check. Websocket clients that cannot set headers may pass the
// token as ?access_token= instead.
func (s *apiServer) requireToken(token string, h http.HandlerFunc) http.HandlerFunc {
	if token == "" {
		return h
	}
	want := []byte(token)
	return func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok && strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
			got, ok = r.URL.Query().Get("access_token"), true
		}
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			s.log().Debug("api request rejected",
				logging.String("path", r.URL.Path),
				logging.String("remote", r.RemoteAddr),
			)
			s.writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
			return
		}
		h(w, r)
	}
}
