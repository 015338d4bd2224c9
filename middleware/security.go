package middleware

import (
	"net/http"
	"strings"
)

// ValidateFilename rejects requests whose path segments or query values try
// to climb out of a directory. Identities and task names travel in both.
func ValidateFilename(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hasTraversal(r.URL.EscapedPath()) {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "path traversal detected")
			return
		}
		for key, values := range r.URL.Query() {
			for _, value := range values {
				if hasTraversal(value) {
					writeError(w, http.StatusBadRequest, "INVALID_INPUT", "path traversal detected in "+key)
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

func hasTraversal(s string) bool {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "%2e", ".")
	s = strings.ReplaceAll(s, "%2f", "/")
	s = strings.ReplaceAll(s, "%5c", "\\")
	return strings.Contains(s, "../") || strings.Contains(s, "..\\") || strings.HasSuffix(s, "/..")
}
