// Public-tier user sessions. A session is a server-issued opaque user id in
// an HMAC-signed cookie: the browser cannot forge one, and the id doubles as
// the rate-limiting key on the worker tier. Sessions are never stored
// server-side; the signature is the only state.
package middleware

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SessionCookie is the cookie name carrying the signed user id.
const SessionCookie = "forge_session"

// Sessions issues and verifies signed session cookies.
type Sessions struct {
	key []byte
}

// NewSessions builds a session manager keyed by secret. An empty secret gets
// a random per-process key, matching the behavior of a dev deployment: all
// sessions invalidate on restart.
func NewSessions(secret string) *Sessions {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(err) // crypto/rand failure is not recoverable
		}
	}
	return &Sessions{key: key}
}

// sign returns the hex HMAC-SHA256 of userID under the session key.
func (s *Sessions) sign(userID string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(userID))
	return hex.EncodeToString(mac.Sum(nil))
}

// encode produces the cookie value "userID.signature".
func (s *Sessions) encode(userID string) string {
	return userID + "." + s.sign(userID)
}

// decode verifies a cookie value and returns the embedded user id.
func (s *Sessions) decode(value string) (string, bool) {
	id, sig, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(id))) {
		return "", false
	}
	return id, true
}

// setCookie writes the session cookie: Secure, HttpOnly, SameSite=Lax.
func (s *Sessions) setCookie(c *gin.Context, userID string) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     SessionCookie,
		Value:    s.encode(userID),
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	})
}

// Issue returns middleware that guarantees a valid session: an existing
// valid cookie is kept, anything else is replaced with a fresh identity.
// The user id lands in the Gin context under UserIDKey. Mounted on the
// entry route a browser hits first.
func (s *Sessions) Issue() gin.HandlerFunc {
	return func(c *gin.Context) {
		if ck, err := c.Cookie(SessionCookie); err == nil {
			if id, ok := s.decode(ck); ok {
				c.Set(UserIDKey, id)
				c.Next()
				return
			}
		}
		id := uuid.NewString()
		s.setCookie(c, id)
		c.Set(UserIDKey, id)
		c.Next()
	}
}

// Require returns middleware that rejects requests without a valid session
// cookie with 401. It never issues a session itself; clients must visit an
// Issue route first.
func (s *Sessions) Require() gin.HandlerFunc {
	return func(c *gin.Context) {
		ck, err := c.Cookie(SessionCookie)
		if err != nil {
			abortNoSession(c)
			return
		}
		id, ok := s.decode(ck)
		if !ok {
			abortNoSession(c)
			return
		}
		c.Set(UserIDKey, id)
		c.Next()
	}
}

// PeekUserID verifies the session cookie on the request and returns the
// embedded user id, or empty when the cookie is absent or invalid. Unlike
// Require it touches neither the response nor the Gin context, so it can
// run before the session middleware, e.g. inside a rate-limit key function.
func (s *Sessions) PeekUserID(c *gin.Context) string {
	ck, err := c.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	id, ok := s.decode(ck)
	if !ok {
		return ""
	}
	return id
}

// UserID returns the session user id from the Gin context, empty when the
// request has no session.
func UserID(c *gin.Context) string {
	v, _ := c.Get(UserIDKey)
	return asString(v)
}

func abortNoSession(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get(requestIDHeader),
		"code":       "unauthorized",
		"error":      "No user session found",
		"message":    "No user session found",
	})
}
