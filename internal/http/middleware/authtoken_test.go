package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func authRouter(token string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", RequireAuthToken(token), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func TestRequireAuthToken(t *testing.T) {
	r := authRouter("s3cret")

	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"header match", "/protected", "s3cret", http.StatusOK},
		{"header mismatch", "/protected", "wrong", http.StatusUnauthorized},
		{"missing", "/protected", "", http.StatusUnauthorized},
		{"query match", "/protected?auth=s3cret", "", http.StatusOK},
		{"query mismatch", "/protected?auth=nope", "", http.StatusUnauthorized},
		{"header beats query", "/protected?auth=s3cret", "wrong", http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set(AuthTokenHeader, tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("status = %d; want %d", w.Code, tc.want)
			}
			if tc.want == http.StatusUnauthorized && !strings.Contains(w.Body.String(), `"error":"Unauthorized"`) {
				t.Fatalf("body = %s", w.Body.String())
			}
		})
	}
}

func TestMaskAuthQuery(t *testing.T) {
	if got := maskAuthQuery(""); got != "" {
		t.Fatalf("empty query mangled: %q", got)
	}
	if got := maskAuthQuery("a=1&b=2"); got != "a=1&b=2" {
		t.Fatalf("unrelated query mangled: %q", got)
	}
	got := maskAuthQuery("auth=s3cret&x=1")
	if strings.Contains(got, "s3cret") {
		t.Fatalf("secret leaked into %q", got)
	}
	if !strings.Contains(got, "auth=%2A%2A%2A") && !strings.Contains(got, "auth=***") {
		t.Fatalf("auth not masked: %q", got)
	}
}
