package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func sessionRouter(s *Sessions) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", s.Issue(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})
	r.POST("/generate", s.Require(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c)})
	})
	return r
}

func sessionCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, ck := range w.Result().Cookies() {
		if ck.Name == SessionCookie {
			return ck
		}
	}
	t.Fatalf("no %s cookie in response", SessionCookie)
	return nil
}

func TestIssue_MintsSignedCookie(t *testing.T) {
	s := NewSessions("secret")
	r := sessionRouter(s)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	ck := sessionCookie(t, w)
	if !ck.HttpOnly || !ck.Secure || ck.SameSite != http.SameSiteLaxMode {
		t.Fatalf("cookie attributes wrong: %+v", ck)
	}

	id, sig, ok := strings.Cut(ck.Value, ".")
	if !ok || sig == "" {
		t.Fatalf("cookie value not id.signature: %q", ck.Value)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("embedded user id is not a uuid: %q", id)
	}
}

func TestIssue_KeepsValidCookie(t *testing.T) {
	s := NewSessions("secret")
	r := sessionRouter(s)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	ck := sessionCookie(t, w)

	// Replay the cookie; no new identity should be minted.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(ck)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)

	for _, c := range w2.Result().Cookies() {
		if c.Name == SessionCookie {
			t.Fatalf("valid cookie was replaced")
		}
	}
	if !strings.Contains(w2.Body.String(), strings.SplitN(ck.Value, ".", 2)[0]) {
		t.Fatalf("handler did not see the existing user id: %s", w2.Body.String())
	}
}

func TestIssue_ReplacesForgedCookie(t *testing.T) {
	s := NewSessions("secret")
	forger := NewSessions("other-secret")
	r := sessionRouter(s)

	forged := &http.Cookie{Name: SessionCookie, Value: forger.encode(uuid.NewString())}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(forged)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	ck := sessionCookie(t, w)
	if ck.Value == forged.Value {
		t.Fatalf("forged cookie survived")
	}
}

func TestRequire_RejectsMissingOrBadCookie(t *testing.T) {
	s := NewSessions("secret")
	r := sessionRouter(s)

	// No cookie.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d; want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"error":"No user session found"`) {
		t.Fatalf("body = %s", w.Body.String())
	}

	// Tampered cookie.
	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: uuid.NewString() + ".deadbeef"})
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	if w2.Code != http.StatusUnauthorized {
		t.Fatalf("tampered cookie: status = %d; want 401", w2.Code)
	}

	// Non-uuid identity, correctly signed.
	req2 := httptest.NewRequest(http.MethodPost, "/generate", nil)
	req2.AddCookie(&http.Cookie{Name: SessionCookie, Value: s.encode("not-a-uuid")})
	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, req2)
	if w3.Code != http.StatusUnauthorized {
		t.Fatalf("non-uuid identity: status = %d; want 401", w3.Code)
	}
}

func TestRequire_AcceptsIssuedCookie(t *testing.T) {
	s := NewSessions("secret")
	r := sessionRouter(s)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	ck := sessionCookie(t, w)

	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	req.AddCookie(ck)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	if w2.Code != http.StatusOK {
		t.Fatalf("status = %d; want 200", w2.Code)
	}
}

func TestNewSessions_EmptySecretStillSigns(t *testing.T) {
	a := NewSessions("")
	b := NewSessions("")

	id := uuid.NewString()
	if _, ok := a.decode(a.encode(id)); !ok {
		t.Fatalf("self-issued cookie rejected")
	}
	// Distinct random keys: cookies do not verify across managers.
	if _, ok := b.decode(a.encode(id)); ok {
		t.Fatalf("cookie verified under a different random key")
	}
}
