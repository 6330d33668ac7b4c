package handlers_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/infernalforge/forge/internal/config"
	httpapi "github.com/infernalforge/forge/internal/http"
	"github.com/infernalforge/forge/internal/http/handlers"
	"github.com/infernalforge/forge/internal/http/middleware"
	"github.com/infernalforge/forge/internal/upstream"
)

// fakeWorker scripts the internal tier for gateway tests.
func fakeWorker(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /generate", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(upstream.AuthHeader) != testToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var payload map[string]any
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if payload["user_id"] == "" || payload["user_id"] == nil {
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"code":"bad_request","message":"User ID is required"}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"success":true,"job_id":"job-123","status":"processing"}`)
	})
	mux.HandleFunc("GET /status/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if strings.HasSuffix(r.URL.Path, "/job-123") {
			io.WriteString(w, `{"status":"processing","started_at":1700000000}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"code":"not_found","message":"Job not found"}`)
	})
	mux.HandleFunc("GET /output/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/artifact-ok") {
			w.Header().Set("Content-Type", "image/png")
			w.Write([]byte("png-bytes"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"code":"not_found","message":"image not found"}`)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"status":"healthy"}`)
	})
	return httptest.NewServer(mux)
}

func newGatewayRouter(t *testing.T, workerURL string, timeout time.Duration) (*gin.Engine, *middleware.Sessions) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		AuthToken:    testToken,
		MaxBodyBytes: 1 << 20,
		EdgeRPS:      1000,
		EdgeBurst:    1000,
		Pipeline:     config.PipelineConfig{DefaultHeight: 512, DefaultWidth: 512, DefaultSteps: 50},
	}
	client := upstream.New(workerURL, testToken, timeout, timeout)
	sessions := middleware.NewSessions("test-session-secret")
	h := handlers.NewGateway(client, cfg.Pipeline)

	r := gin.New()
	httpapi.RegisterGatewayRoutes(r, h, sessions, cfg)
	return r, sessions
}

// issueSession walks the entry route and returns the minted cookie.
func issueSession(t *testing.T, r *gin.Engine) *http.Cookie {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("index: status = %d", w.Code)
	}
	for _, ck := range w.Result().Cookies() {
		if ck.Name == middleware.SessionCookie {
			return ck
		}
	}
	t.Fatalf("no session cookie issued")
	return nil
}

func TestGatewayGenerate_ProxiesWithSession(t *testing.T) {
	worker := fakeWorker(t)
	defer worker.Close()
	r, _ := newGatewayRouter(t, worker.URL, time.Second)
	ck := issueSession(t, r)

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"prompt":"a red fox"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(ck)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "job-123") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestGatewayGenerate_NoSession(t *testing.T) {
	worker := fakeWorker(t)
	defer worker.Close()
	r, _ := newGatewayRouter(t, worker.URL, time.Second)

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"prompt":"fox"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d; want 401", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"error":"No user session found"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestGatewayGenerate_ValidatesBeforeProxying(t *testing.T) {
	// No worker at all: validation failures must not need one.
	r, _ := newGatewayRouter(t, "http://127.0.0.1:1", time.Second)
	ck := issueSession(t, r)

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"prompt":""}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(ck)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "Prompt is required") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestGatewayGenerate_WorkerUnreachable(t *testing.T) {
	r, _ := newGatewayRouter(t, "http://127.0.0.1:1", time.Second)
	ck := issueSession(t, r)

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"prompt":"a red fox"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(ck)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d; want 502", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Error communicating with worker service") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestGatewayGenerate_WorkerTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, rq *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer slow.Close()

	r, _ := newGatewayRouter(t, slow.URL, 30*time.Millisecond)
	ck := issueSession(t, r)

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"prompt":"a red fox"}`))
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(ck)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d; want 504", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Request timed out") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestGatewayStatus_RequiresTokenAndProxies(t *testing.T) {
	worker := fakeWorker(t)
	defer worker.Close()
	r, _ := newGatewayRouter(t, worker.URL, time.Second)

	// No token: rejected at the gateway, nothing proxied.
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/status/job-123", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d; want 401", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/status/job-123", nil)
	req.Header.Set(middleware.AuthTokenHeader, testToken)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	if w2.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w2.Code, w2.Body.String())
	}
	if !strings.Contains(w2.Body.String(), "processing") {
		t.Fatalf("body = %s", w2.Body.String())
	}

	// Unknown jobs surface the worker's 404 unchanged.
	req3 := httptest.NewRequest(http.MethodGet, "/status/other", nil)
	req3.Header.Set(middleware.AuthTokenHeader, testToken)
	w3 := httptest.NewRecorder()
	r.ServeHTTP(w3, req3)
	if w3.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want 404", w3.Code)
	}
}

func TestGatewayOutput_StreamsArtifact(t *testing.T) {
	worker := fakeWorker(t)
	defer worker.Close()
	r, _ := newGatewayRouter(t, worker.URL, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/output/artifact-ok", nil)
	req.Header.Set(middleware.AuthTokenHeader, testToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if w.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("content type = %q", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Header().Get("Cache-Control"), "no-store") {
		t.Fatalf("cache control = %q", w.Header().Get("Cache-Control"))
	}
	if w.Body.String() != "png-bytes" {
		t.Fatalf("body = %q", w.Body.String())
	}
}

func TestGatewayOutput_ForwardsWorker404(t *testing.T) {
	worker := fakeWorker(t)
	defer worker.Close()
	r, _ := newGatewayRouter(t, worker.URL, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/output/nope", nil)
	req.Header.Set(middleware.AuthTokenHeader, testToken)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d; want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "image not found") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestGatewayHealth(t *testing.T) {
	worker := fakeWorker(t)
	defer worker.Close()
	r, _ := newGatewayRouter(t, worker.URL, time.Second)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "healthy") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestGatewayHealth_WorkerDown(t *testing.T) {
	r, _ := newGatewayRouter(t, "http://127.0.0.1:1", 100*time.Millisecond)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d; want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"error":"Failed to connect to worker service"`) {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestGatewayHealth_WorkerUnhealthy(t *testing.T) {
	sick := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, rq *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"status":"unhealthy","reason":"generation pipeline unavailable"}`)
	}))
	defer sick.Close()

	r, _ := newGatewayRouter(t, sick.URL, time.Second)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d; want 503", w.Code)
	}
	if !strings.Contains(w.Body.String(), "generation pipeline unavailable") {
		t.Fatalf("body = %s", w.Body.String())
	}
}

func TestGatewaySecurityHeadersPresent(t *testing.T) {
	worker := fakeWorker(t)
	defer worker.Close()
	r, _ := newGatewayRouter(t, worker.URL, time.Second)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("security headers missing")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id missing")
	}
}

func TestGatewayEdgeRateLimit(t *testing.T) {
	worker := fakeWorker(t)
	defer worker.Close()

	gin.SetMode(gin.TestMode)
	cfg := config.Config{
		AuthToken:    testToken,
		MaxBodyBytes: 1 << 20,
		EdgeRPS:      0, // no refill
		EdgeBurst:    2,
		Pipeline:     config.PipelineConfig{DefaultHeight: 512, DefaultWidth: 512, DefaultSteps: 50},
	}
	client := upstream.New(worker.URL, testToken, time.Second, time.Second)
	sessions := middleware.NewSessions("test-session-secret")
	r := gin.New()
	httpapi.RegisterGatewayRoutes(r, handlers.NewGateway(client, cfg.Pipeline), sessions, cfg)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d; want 429", w.Code)
	}
}
