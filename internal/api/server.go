// Package api exposes the chat relay over HTTP.
//
// The surface is small: a streaming exchange endpoint, a non-streaming
// fallback, a transcript reader, and health probes. All responses are
// JSON except the exchange stream, which is a sequence of "data: "
// events terminated by [DONE].
package api

import (
	"net/http"
	"time"

	"github.com/digilab/digibot/internal/log"
	"github.com/digilab/digibot/internal/relay"
)

// Default rate limit: 10 req/s sustained per IP.
const defaultRateLimit = 10.0

// ServerConfig carries the dependencies and settings for the HTTP layer.
type ServerConfig struct {
	Logger log.Logger
	Relay  *relay.Service
	Turns  TranscriptLoader
	DB     Pinger

	CORSOrigins     []string
	TrustProxy      bool
	RateBurst       int
	ExchangeTimeout time.Duration
}

// NewServer builds the full HTTP handler: routes plus the middleware
// chain (recovery, request id, logging, CORS, rate limiting). Health
// probes sit outside the chain so load balancers are never rate
// limited or logged per hit.
func NewServer(cfg ServerConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	timeout := cfg.ExchangeTimeout
	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 20
	}

	chat := &chatHandler{relay: cfg.Relay, timeout: timeout, logger: logger}
	history := &historyHandler{turns: cfg.Turns, logger: logger}
	health := &healthHandler{db: cfg.DB, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/chat/stream", chat.stream)
	mux.HandleFunc("POST /api/v1/chat", chat.send)
	mux.HandleFunc("GET /api/v1/sessions/{id}/messages", history.messages)

	limiter := newRateLimiter(defaultRateLimit, burst)

	var handler http.Handler = mux
	handler = rateLimitMiddleware(limiter, cfg.TrustProxy, logger)(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = requestIDMiddleware()(handler)
	handler = recoveryMiddleware(logger)(handler)

	root := http.NewServeMux()
	root.HandleFunc("GET /health", health.health)
	root.HandleFunc("GET /ready", health.ready)
	root.Handle("/", withSecurityHeaders(handler))

	return root
}

// withSecurityHeaders applies the standard header set to every response.
func withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setSecurityHeaders(w)
		next.ServeHTTP(w, r)
	})
}
