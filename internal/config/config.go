// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for both
// tiers of the service: bind addresses, the shared-secret token, rate-limit
// tuning, the output directory, upstream timeouts, logging, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings for the gateway.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "forge-gateway")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RateLimitConfig tunes the admission limiter on the worker tier.
type RateLimitConfig struct {
	Window        time.Duration // sliding window size
	MaxPerUser    int           // admitted requests per user per window
	MaxConcurrent int           // in-flight jobs per user
	MaxGlobal     int           // admitted requests per window across all users
}

// PipelineConfig tunes the generation pipeline.
type PipelineConfig struct {
	DefaultHeight int           // used when a request omits height
	DefaultWidth  int           // used when a request omits width
	DefaultSteps  int           // used when a request omits num_inference_steps
	MinDuration   time.Duration // floor on generation wall-clock time
	WarmupDelay   time.Duration // simulated model load time at startup
}

// Config holds all configuration values for the application.
type Config struct {
	// Shared secret between the two tiers. Startup fails without it.
	AuthToken string // AUTH_TOKEN

	// Server
	GatewayHost       string        // bind host for the public tier
	GatewayPort       string        // just the number
	WorkerHost        string        // bind host for the internal tier
	WorkerPort        string        // just the number
	WorkerURL         string        // base URL the gateway uses to reach the worker
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 90s; must exceed the upstream timeout
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route on the gateway

	// App
	OutputDir       string        // root for generated artifacts
	UpstreamTimeout time.Duration // gateway→worker request timeout
	HealthTimeout   time.Duration // gateway→worker health probe timeout
	SessionSecret   string        // HMAC key for session cookies; random when empty
	MaxBodyBytes    int64         // cap on gateway JSON request bodies

	// Rate limiting (admission, worker tier)
	Rate RateLimitConfig

	// Edge rate limiting (token bucket, gateway tier)
	EdgeRPS   float64 // tokens per second (>= 0)
	EdgeBurst int     // bucket size (>= 1)

	// Generation pipeline
	Pipeline PipelineConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// WorkerAddr returns the internal tier's bind address (host:port).
func (c Config) WorkerAddr() string { return c.WorkerHost + ":" + c.WorkerPort }

// GatewayAddr returns the public tier's bind address (host:port).
func (c Config) GatewayAddr() string { return c.GatewayHost + ":" + c.GatewayPort }

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		AuthToken: strings.TrimSpace(getenv("AUTH_TOKEN", "")),

		// Server
		GatewayHost:       getenv("GATEWAY_HOST", "0.0.0.0"),
		GatewayPort:       getenv("GATEWAY_PORT", "5000"),
		WorkerHost:        getenv("WORKER_HOST", "0.0.0.0"),
		WorkerPort:        getenv("WORKER_PORT", "5001"),
		WorkerURL:         strings.TrimRight(getenv("WORKER_URL", "http://localhost:5001"), "/"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 90*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),

		// App
		OutputDir:       getenv("OUTPUT_DIR", "output"),
		UpstreamTimeout: getdur("UPSTREAM_TIMEOUT", 60*time.Second),
		HealthTimeout:   getdur("HEALTH_TIMEOUT", 2*time.Second),
		SessionSecret:   getenv("SESSION_SECRET", ""),
		MaxBodyBytes:    int64(getint("MAX_BODY_BYTES", 1<<20)),

		// Admission limits
		Rate: RateLimitConfig{
			Window:        getdur("RATE_WINDOW", 60*time.Second),
			MaxPerUser:    getint("RATE_MAX_PER_USER", 3),
			MaxConcurrent: getint("RATE_MAX_CONCURRENT", 2),
			MaxGlobal:     getint("RATE_MAX_GLOBAL", 10),
		},

		// Edge limits
		EdgeRPS:   getfloat("EDGE_RPS", 5.0),
		EdgeBurst: getint("EDGE_BURST", 10),

		// Pipeline
		Pipeline: PipelineConfig{
			DefaultHeight: getint("DEFAULT_HEIGHT", 512),
			DefaultWidth:  getint("DEFAULT_WIDTH", 512),
			DefaultSteps:  getint("DEFAULT_STEPS", 50),
			MinDuration:   getdur("MIN_GENERATION_TIME", 2*time.Second),
			WarmupDelay:   getdur("PIPELINE_WARMUP", 0),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "infernal-forge"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	if cfg.AuthToken == "" {
		return cfg, errors.New("AUTH_TOKEN environment variable is required")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.GatewayPort) == "" || strings.TrimSpace(cfg.WorkerPort) == "" {
		return cfg, errors.New("GATEWAY_PORT and WORKER_PORT must not be empty")
	}
	if !strings.HasPrefix(cfg.WorkerURL, "http://") && !strings.HasPrefix(cfg.WorkerURL, "https://") {
		return cfg, errors.New("WORKER_URL must be an http(s) URL")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.OutputDir) == "" {
		return cfg, errors.New("OUTPUT_DIR must not be empty")
	}
	if cfg.UpstreamTimeout <= 0 || cfg.HealthTimeout <= 0 {
		return cfg, errors.New("UPSTREAM_TIMEOUT and HEALTH_TIMEOUT must be > 0")
	}
	if cfg.Rate.Window <= 0 {
		return cfg, errors.New("RATE_WINDOW must be > 0")
	}
	if cfg.Rate.MaxPerUser < 1 || cfg.Rate.MaxConcurrent < 1 || cfg.Rate.MaxGlobal < 1 {
		return cfg, errors.New("rate limits must be >= 1")
	}
	if cfg.EdgeRPS < 0 {
		return cfg, errors.New("EDGE_RPS must be >= 0")
	}
	if cfg.EdgeBurst < 1 {
		return cfg, errors.New("EDGE_BURST must be >= 1")
	}
	if cfg.Pipeline.DefaultHeight < 64 || cfg.Pipeline.DefaultHeight > 1024 ||
		cfg.Pipeline.DefaultWidth < 64 || cfg.Pipeline.DefaultWidth > 1024 {
		return cfg, errors.New("default dimensions must be between 64 and 1024")
	}
	if cfg.Pipeline.DefaultSteps < 1 || cfg.Pipeline.DefaultSteps > 100 {
		return cfg, errors.New("DEFAULT_STEPS must be between 1 and 100")
	}
	if cfg.Pipeline.MinDuration < 0 || cfg.Pipeline.WarmupDelay < 0 {
		return cfg, errors.New("pipeline durations must be >= 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
