// Package metadata resolves credential configurations by OAuth scope. The
// configuration store is an external collaborator; this package fronts it
// with a cache-aside layer so issuance does not pay a lookup round-trip per
// request.
package metadata

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"attest/internal/credential"
	"attest/pkg/sentinel"
)

// Source is the authoritative configuration collaborator.
type Source interface {
	// ByScope returns the configuration granted by scope.
	// Returns sentinel.ErrNotFound when no configuration matches.
	ByScope(ctx context.Context, scope string) (credential.Metadata, error)
}

// Cache is the cache-aside store. Misses are (zero, false, nil); errors are
// degradations, never failures.
type Cache interface {
	Get(ctx context.Context, scope string) (credential.Metadata, bool, error)
	Set(ctx context.Context, scope string, meta credential.Metadata, ttl time.Duration) error
	Delete(ctx context.Context, scope string) error
}

// Resolver answers scope lookups through the cache.
type Resolver struct {
	source Source
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

type Option func(*Resolver)

func WithCache(cache Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = cache
		r.ttl = ttl
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) { r.logger = logger }
}

func NewResolver(source Source, opts ...Option) *Resolver {
	r := &Resolver{source: source, ttl: 5 * time.Minute, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ByScope resolves a configuration, consulting the cache first. Cache faults
// are logged and fall through to the source.
func (r *Resolver) ByScope(ctx context.Context, scope string) (credential.Metadata, error) {
	if r.cache != nil {
		meta, ok, err := r.cache.Get(ctx, scope)
		if err != nil {
			r.logger.WarnContext(ctx, "metadata cache read failed", "scope", scope, "error", err)
		} else if ok {
			return meta, nil
		}
	}

	meta, err := r.source.ByScope(ctx, scope)
	if err != nil {
		return credential.Metadata{}, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, scope, meta, r.ttl); err != nil {
			r.logger.WarnContext(ctx, "metadata cache write failed", "scope", scope, "error", err)
		}
	}
	return meta, nil
}

// FirstMatch resolves the first scope in order that names a configuration.
// Returns sentinel.ErrNotFound when none do.
func (r *Resolver) FirstMatch(ctx context.Context, scopes []string) (credential.Metadata, error) {
	for _, scope := range scopes {
		meta, err := r.ByScope(ctx, scope)
		if err == nil {
			return meta, nil
		}
		if !errors.Is(err, sentinel.ErrNotFound) {
			return credential.Metadata{}, err
		}
	}
	return credential.Metadata{}, sentinel.ErrNotFound
}

// Invalidate drops the cached entry for scope after a configuration change.
func (r *Resolver) Invalidate(ctx context.Context, scope string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, scope); err != nil {
		r.logger.WarnContext(ctx, "metadata cache invalidation failed", "scope", scope, "error", err)
	}
}
