// Shared-secret authentication between the two tiers. Every internal-tier
// endpoint, and the public-tier endpoints that proxy to it, require the
// token; absence or mismatch yields a uniform 401.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// AuthTokenHeader carries the shared secret between tiers.
	AuthTokenHeader = "X-Auth-Token"
	// authTokenQuery is the query-parameter fallback, kept for clients that
	// cannot set headers (e.g. <img> tags fetching /output).
	authTokenQuery = "auth"
)

// RequireAuthToken returns middleware that rejects requests lacking the
// shared-secret token with 401. The token is read from the X-Auth-Token
// header or, failing that, the "auth" query parameter; comparison is
// constant-time.
func RequireAuthToken(token string) gin.HandlerFunc {
	secret := []byte(token)
	return func(c *gin.Context) {
		got := c.GetHeader(AuthTokenHeader)
		if got == "" {
			got = c.Query(authTokenQuery)
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), secret) != 1 {
			LoggerFrom(c).Warn().Msg("authentication failed: token mismatch or missing")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "unauthorized",
				"error":      "Unauthorized",
				"message":    "Unauthorized",
			})
			return
		}
		c.Next()
	}
}

// maskAuthQuery replaces the value of the auth query parameter so access
// logs never contain the shared secret.
func maskAuthQuery(rawQuery string) string {
	if rawQuery == "" || !strings.Contains(rawQuery, authTokenQuery+"=") {
		return rawQuery
	}
	vals, err := url.ParseQuery(rawQuery)
	if err != nil {
		return ""
	}
	if vals.Has(authTokenQuery) {
		vals.Set(authTokenQuery, "***")
	}
	return vals.Encode()
}
