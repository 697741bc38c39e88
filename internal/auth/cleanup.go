package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// CronAuthHeader is presented by the platform scheduler when it invokes
// the cleanup endpoint.
const CronAuthHeader = "X-Cron-Auth-Token"

// CleanupAuthorized reports whether a cleanup request is allowed. Two
// callers are accepted: the platform scheduler presenting the cron secret
// in its own header, and an operator presenting the manual secret as a
// bearer token. An unset secret never matches anything.
func CleanupAuthorized(r *http.Request, cronSecret, manualSecret string) bool {
	if cronSecret != "" && secureEquals(r.Header.Get(CronAuthHeader), cronSecret) {
		return true
	}
	if manualSecret != "" {
		authHeader := r.Header.Get("Authorization")
		if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok && secureEquals(token, manualSecret) {
			return true
		}
	}
	return false
}

func secureEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
