// Package cache provides the message, session and query cache layers. Each
// layer reads the shared coordination store first and falls back to a
// private in-process map when the shared store misses or is unavailable.
// Caches are never authoritative.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/npezzotti/go-chatcore/internal/stats"
	"github.com/rs/zerolog"
)

const (
	defaultTTL             = 5 * time.Minute
	defaultLocalMaxEntries = 1000
)

// Store is the shared tier. *coord.Client satisfies it.
type Store interface {
	CacheGet(ctx context.Context, key string) ([]byte, bool)
	CacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) bool
	CacheDelete(ctx context.Context, key string) bool
	CacheDeletePattern(ctx context.Context, pattern string) int
}

type Options struct {
	TTL             time.Duration
	LocalMaxEntries int
}

type Layer struct {
	namespace string
	store     Store
	local     *localCache
	ttl       time.Duration
	log       zerolog.Logger
	stats     stats.StatsProvider
}

func NewLayer(namespace string, store Store, opts Options, logger zerolog.Logger, sp stats.StatsProvider) *Layer {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.LocalMaxEntries <= 0 {
		opts.LocalMaxEntries = defaultLocalMaxEntries
	}
	if sp == nil {
		sp = stats.Discard
	}
	return &Layer{
		namespace: namespace,
		store:     store,
		local:     newLocalCache(opts.LocalMaxEntries),
		ttl:       opts.TTL,
		log:       logger.With().Str("component", "cache").Str("layer", namespace).Logger(),
		stats:     sp,
	}
}

// Key builds "<namespace>:<part>...:<hash>" where hash is xxhash64 of the
// JSON encoding of params. Map keys encode sorted, so field order never
// changes the key.
func (l *Layer) Key(params any, parts ...string) string {
	var b strings.Builder
	b.WriteString(l.namespace)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	b.WriteByte(':')
	b.WriteString(hashParams(params))
	return b.String()
}

func hashParams(params any) string {
	data, err := json.Marshal(params)
	if err != nil {
		data = []byte(fmt.Sprintf("%#v", params))
	}
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// Get decodes the cached value for key into dst and reports whether one was
// found in either tier.
func (l *Layer) Get(ctx context.Context, key string, dst any) bool {
	if raw, ok := l.store.CacheGet(ctx, key); ok {
		err := json.Unmarshal(raw, dst)
		if err == nil {
			l.stats.Incr(stats.CacheHits, l.namespace, "shared")
			return true
		}
		l.log.Warn().Err(err).Str("key", key).Msg("discarding undecodable shared entry")
	}

	if raw, ok := l.local.get(key); ok {
		if err := json.Unmarshal(raw, dst); err == nil {
			l.stats.Incr(stats.CacheHits, l.namespace, "local")
			return true
		}
		l.local.delete(key)
	}

	l.stats.Incr(stats.CacheMisses, l.namespace)
	return false
}

// Set writes value to both tiers. A ttl of zero uses the layer default.
func (l *Layer) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = l.ttl
	}
	data, err := json.Marshal(value)
	if err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("cache set: encode value")
		return
	}

	l.local.set(key, data, ttl)
	l.store.CacheSet(ctx, key, data, ttl)
}

func (l *Layer) Delete(ctx context.Context, key string) {
	l.local.delete(key)
	l.store.CacheDelete(ctx, key)
}

// InvalidatePrefix drops every key under "<namespace>:<parts...>:" from both
// tiers and returns the number of shared keys deleted.
func (l *Layer) InvalidatePrefix(ctx context.Context, parts ...string) int {
	l.InvalidateLocal(parts...)
	return l.store.CacheDeletePattern(ctx, l.pattern(parts...))
}

// InvalidateLocal drops matching keys from the in-process tier only.
func (l *Layer) InvalidateLocal(parts ...string) int {
	return l.local.deletePrefix(l.prefix(parts...))
}

func (l *Layer) prefix(parts ...string) string {
	return l.namespace + ":" + strings.Join(parts, ":") + ":"
}

func (l *Layer) pattern(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = escapeGlob(p)
	}
	return l.namespace + ":" + strings.Join(escaped, ":") + ":*"
}

func escapeGlob(s string) string {
	if !strings.ContainsAny(s, `*?[]\`) {
		return s
	}
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
