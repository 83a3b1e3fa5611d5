package cache

import (
	"context"
	"time"
)

// PrefixFunc derives a key prefix from the request context, usually through
// TenantPrefix.
type PrefixFunc func(ctx context.Context) string

// StaticPrefix returns a PrefixFunc that ignores ctx.
func StaticPrefix(prefix string) PrefixFunc {
	return func(context.Context) string { return prefix }
}

// Cached wraps a read so that its result is served through GetOrSet under
// prefix(ctx):op:hash(args).
func Cached[A, T any](s *Service, prefix PrefixFunc, op string, ttl time.Duration, fn func(ctx context.Context, args A) (T, error)) func(ctx context.Context, args A) (T, error) {
	return func(ctx context.Context, args A) (T, error) {
		key := GenerateKey(prefix(ctx), op, args)
		return GetOrSet(ctx, s, key, ttl, func(ctx context.Context) (T, error) {
			return fn(ctx, args)
		})
	}
}

// Invalidates wraps a write so that every prefix is invalidated after fn
// succeeds. Nothing is invalidated when fn fails. An invalidation failure
// after a successful write is logged and does not fail the write.
func Invalidates[A, T any](s *Service, fn func(ctx context.Context, args A) (T, error), prefixes ...PrefixFunc) func(ctx context.Context, args A) (T, error) {
	return func(ctx context.Context, args A) (T, error) {
		v, err := fn(ctx, args)
		if err != nil {
			return v, err
		}
		for _, p := range prefixes {
			prefix := p(ctx)
			if _, ierr := s.InvalidateByPrefix(ctx, prefix); ierr != nil {
				s.logger.Error().Err(ierr).Str("prefix", prefix).Msg("cache invalidation after write failed")
			}
		}
		return v, nil
	}
}
