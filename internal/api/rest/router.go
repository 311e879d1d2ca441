package rest

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/claims-fraud-engine/internal/metrics"
)

// Config holds API configuration.
type Config struct {
	Version        string
	MaxBodyBytes   int64
	RequestTimeout time.Duration
	BatchTimeout   time.Duration
	// Limiter throttles /api/ routes; nil disables rate limiting.
	Limiter Limiter
	Health  *HealthService
	Metrics *metrics.Registry
	Logger  *zap.Logger
}

// DefaultConfig returns the defaults used when fields are left empty.
func DefaultConfig() Config {
	return Config{
		Version:        "v1",
		MaxBodyBytes:   1 << 20,
		RequestTimeout: 10 * time.Second,
		BatchTimeout:   2 * time.Minute,
	}
}

// NewRouter builds the API mux and its middleware chain.
func NewRouter(cfg Config, services Services) http.Handler {
	def := DefaultConfig()
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = def.BatchTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Health == nil {
		cfg.Health = NewHealthService(cfg.Version, 0)
	}
	logger := cfg.Logger.With(zap.String("component", "rest"))

	h := &Handler{
		baseHandler: newBaseHandler(cfg.Version, cfg.MaxBodyBytes, logger),
		services:    services,
	}

	mux := http.NewServeMux()
	api := func(pattern string, fn http.HandlerFunc, timeout time.Duration) {
		mux.Handle(pattern, withTimeout(timeout, fn))
	}

	if services.Processor != nil {
		api("POST /api/v1/claims", h.processClaim, cfg.RequestTimeout)
		api("POST /api/v1/claims/batch", h.processBatch, cfg.BatchTimeout)
		api("POST /api/v1/claims/precheck", h.precheck, cfg.RequestTimeout)
		api("POST /api/v1/claims/{id}/persist", h.retryPersist, cfg.RequestTimeout)
	}
	if services.Scorer != nil {
		api("GET /api/v1/claims/{id}/score", h.scoreClaim, cfg.RequestTimeout)
	}
	if services.Alerts != nil {
		api("GET /api/v1/claims/{id}/alerts", h.listAlerts, cfg.RequestTimeout)
	}
	if services.Detector != nil {
		api("GET /api/v1/providers/{id}/upcoding", h.detectUpcoding, cfg.RequestTimeout)
		api("GET /api/v1/providers/{id}/phantom-billing", h.detectPhantomBilling, cfg.RequestTimeout)
	}
	if services.Network != nil {
		api("GET /api/v1/networks/{scope}", h.analyzeNetwork, cfg.BatchTimeout)
	}

	mux.HandleFunc("GET /health", cfg.Health.LivenessHandler(&h.baseHandler))
	mux.HandleFunc("GET /ready", cfg.Health.ReadinessHandler(&h.baseHandler))
	mux.Handle("GET /metrics", metrics.Handler())

	return Chain(mux,
		RecoveryMiddleware(logger),
		RequestIDMiddleware(),
		LoggingMiddleware(logger),
		MetricsMiddleware(cfg.Metrics),
		RateLimitMiddleware(cfg.Limiter, &h.baseHandler),
	)
}
