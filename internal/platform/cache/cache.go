// Package cache is a key-addressed get-or-compute cache with TTL and
// prefix invalidation.
//
// Keys are built by GenerateKey as prefix:operation:hash. Tenant-owned data
// must carry the tenant id in the prefix (see TenantPrefix) so that two
// tenants calling with identical arguments never share an entry.
//
// Concurrent misses on the same key compute independently unless the
// service is built WithSingleFlight.
package cache

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/clinicore/practice/internal/platform/metrics"
	"github.com/clinicore/practice/internal/platform/reqctx"
)

// DefaultTTL applies when a caller passes a non-positive ttl and the
// service has no configured default.
const DefaultTTL = 5 * time.Minute

// Backend stores opaque values. Backends may evict on their own after ttl;
// the Service additionally checks expiry on every lookup.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Service is the cache front end shared by read paths.
type Service struct {
	backend      Backend
	defaultTTL   time.Duration
	singleFlight bool
	group        singleflight.Group
	now          func() time.Time
	logger       zerolog.Logger
}

type Option func(*Service)

// WithDefaultTTL sets the ttl used when callers pass zero.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.defaultTTL = ttl
		}
	}
}

// WithSingleFlight coalesces concurrent misses for the same key into one
// compute call.
func WithSingleFlight(enabled bool) Option {
	return func(s *Service) { s.singleFlight = enabled }
}

// WithClock replaces time.Now for expiry decisions.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns a cache service over backend. Without WithDefaultTTL a ttl of
// zero passed to GetOrSet falls back to the package default.
func New(backend Backend, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		backend:    backend,
		defaultTTL: DefaultTTL,
		now:        time.Now,
		logger:     logger.With().Str("component", "cache").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateKey returns prefix:operation:hash where hash is the xxhash64 of
// the canonical JSON form of args. Object keys are sorted, so two maps with
// the same entries in a different insertion order produce the same key.
func GenerateKey(prefix, operation string, args ...any) string {
	canon, err := canonical(args)
	if err != nil {
		canon = []byte(fmt.Sprintf("%#v", args))
	}
	return prefix + ":" + operation + ":" + strconv.FormatUint(xxhash.Sum64(canon), 16)
}

func canonical(args []any) ([]byte, error) {
	if args == nil {
		args = []any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// encoding/json writes map keys in sorted order.
	return json.Marshal(generic)
}

// TenantPrefix scopes base to the tenant active in ctx.
func TenantPrefix(ctx context.Context, base string) string {
	tenantID, ok := reqctx.TenantID(ctx)
	if !ok {
		tenantID = "_"
	}
	return base + ":" + tenantID
}

// GetOrSet returns the cached value for key, or calls compute once, stores
// its result until now+ttl and returns it. A compute error is returned
// unchanged and nothing is stored. Backend failures degrade to a miss.
func GetOrSet[T any](ctx context.Context, s *Service, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	if v, ok := lookup[T](ctx, s, key); ok {
		return v, nil
	}
	if !s.singleFlight {
		return computeAndStore(ctx, s, key, ttl, compute)
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		return computeAndStore(ctx, s, key, ttl, compute)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func lookup[T any](ctx context.Context, s *Service, key string) (T, bool) {
	var zero T
	raw, found, err := s.backend.Get(ctx, key)
	if err != nil {
		metrics.CacheRequests.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("cache lookup failed")
		return zero, false
	}
	if !found {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		return zero, false
	}
	expiresAt, payload, err := decodeEntry(raw)
	if err != nil || !s.now().Before(expiresAt) {
		metrics.CacheRequests.WithLabelValues("miss").Inc()
		if err := s.backend.Delete(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("cache delete of expired entry failed")
		}
		return zero, false
	}
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		metrics.CacheRequests.WithLabelValues("error").Inc()
		s.logger.Warn().Err(err).Str("key", key).Msg("cache entry undecodable")
		return zero, false
	}
	metrics.CacheRequests.WithLabelValues("hit").Inc()
	return v, true
}

func computeAndStore[T any](ctx context.Context, s *Service, key string, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, error) {
	v, err := compute(ctx)
	if err != nil {
		return v, err
	}
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache value not serializable, skipping store")
		return v, nil
	}
	if err := s.backend.Set(ctx, key, encodeEntry(s.now().Add(ttl), payload), ttl); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("cache store failed")
	}
	return v, nil
}

// InvalidateByPrefix removes every entry whose key starts with prefix.
func (s *Service) InvalidateByPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, errors.New("cache: empty invalidation prefix")
	}
	n, err := s.backend.DeletePrefix(ctx, prefix)
	if err != nil {
		return n, fmt.Errorf("cache: invalidate %q: %w", prefix, err)
	}
	metrics.CacheInvalidations.Add(float64(n))
	s.logger.Debug().Str("prefix", prefix).Int("removed", n).Msg("cache invalidated")
	return n, nil
}

// Entries are stored as an 8-byte big-endian expiry (unix nanoseconds)
// followed by the JSON payload.
func encodeEntry(expiresAt time.Time, payload []byte) []byte {
	buf := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint64(buf, uint64(expiresAt.UnixNano()))
	copy(buf[8:], payload)
	return buf
}

func decodeEntry(raw []byte) (time.Time, []byte, error) {
	if len(raw) < 8 {
		return time.Time{}, nil, errors.New("cache: short entry")
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(raw))), raw[8:], nil
}
