package cache

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// TTLClass hints at how long a cached entry should live absent an
// explicit override.
type TTLClass string

const (
	TTLStatic  TTLClass = "static"
	TTLDynamic TTLClass = "dynamic"

	staticTTLSeconds  = 3600
	dynamicTTLSeconds = 300
)

// Key derives the cache key as cache_domain/prefix/url_encode(namespace)/fingerprint(query).
func (c *Cache) Key(namespace, query string) string {
	return strings.Join([]string{
		c.Domain, c.Prefix, url.QueryEscape(namespace), fingerprint(query),
	}, "/")
}

// NamespaceKey is the base key invalidate_namespace deletes directly,
// scoped to a namespace with no query component.
func (c *Cache) NamespaceKey(namespace string) string {
	return strings.Join([]string{c.Domain, c.Prefix, url.QueryEscape(namespace)}, "/")
}

func fingerprint(query string) string {
	trimmed := strings.TrimSpace(query)
	return fmt.Sprintf("%016x", xxhash.Sum64String(trimmed))
}

// EffectiveTTL implements the §4.12 TTL rule:
// min(max_ttl, ttl_override ?? class-default ?? default_ttl).
func (c *Cache) EffectiveTTL(override *int, class TTLClass) int {
	ttl := c.DefaultTTL
	switch class {
	case TTLStatic:
		ttl = staticTTLSeconds
	case TTLDynamic:
		ttl = dynamicTTLSeconds
	}
	if override != nil && *override > 0 {
		ttl = *override
	}
	if c.MaxTTL > 0 && ttl > c.MaxTTL {
		ttl = c.MaxTTL
	}
	return ttl
}
