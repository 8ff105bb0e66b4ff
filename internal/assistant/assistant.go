// Package assistant resolves the active assistant configuration.
//
// Administrators manage configuration rows through an external surface;
// this package only reads them. At most one row is honored as active. When
// no row is active (or the lookup fails), compiled-in defaults apply;
// absence of configuration is the default path, not an error, so Resolve
// never fails a request.
package assistant

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/digilab/digibot/internal/log"
)

// Config is the effective assistant configuration for one exchange.
type Config struct {
	Model       string
	Temperature float32
	MaxTokens   int

	// SystemPrompt overrides the generated default when non-empty.
	SystemPrompt string
}

// Resolver yields the assistant configuration for an exchange.
// Implementations must not fail: when no live configuration is
// available they return their defaults.
type Resolver interface {
	Resolve(ctx context.Context) Config
}

// StaticResolver always returns a fixed configuration. Used as the
// fallback-only resolver and in tests.
type StaticResolver struct {
	Config Config
}

// Resolve returns the fixed configuration.
func (r StaticResolver) Resolve(context.Context) Config {
	return r.Config
}

// StoreResolver reads the active configuration row from PostgreSQL,
// falling back to defaults when none is active or the lookup fails.
//
// The settings table is read-shared across concurrent exchanges with no
// locking; an administrator's change takes effect on the next exchange.
type StoreResolver struct {
	pool     *pgxpool.Pool
	defaults Config
	logger   log.Logger
}

// NewStoreResolver creates a resolver over the given pool.
func NewStoreResolver(pool *pgxpool.Pool, defaults Config, logger log.Logger) *StoreResolver {
	if logger == nil {
		logger = log.NewNop()
	}
	return &StoreResolver{pool: pool, defaults: defaults, logger: logger}
}

// Resolve returns the active configuration, or the defaults when no row
// is active. A lookup failure also resolves to defaults: configuration
// absence must never fail the exchange. If an administrator left several
// rows active, the most recently updated one wins.
func (r *StoreResolver) Resolve(ctx context.Context) Config {
	const q = `
		SELECT model, temperature, max_tokens, COALESCE(system_prompt, '')
		FROM assistant_configs
		WHERE is_active
		ORDER BY updated_at DESC
		LIMIT 1`

	cfg := r.defaults
	var sysPrompt string
	err := r.pool.QueryRow(ctx, q).Scan(&cfg.Model, &cfg.Temperature, &cfg.MaxTokens, &sysPrompt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return r.defaults
	case err != nil:
		r.logger.Warn("assistant config lookup failed, using defaults", "error", err)
		return r.defaults
	}

	cfg.SystemPrompt = sysPrompt
	return cfg
}
