// Package cache implements the broker's edge response cache (spec
// §4.12): a facade over an HTTP-like key-value substrate (pkg/cache/substrate)
// that adds key derivation, admission, TTL computation, stale-while-revalidate,
// warming, tag-based invalidation, and an optimistic-write flow for
// read-your-writes consistency.
//
// Grounded on the teacher's pkg/storage.Store + pkg/events.Broker pair:
// the substrate is the storage half, broadcast.go is the cross-instance
// invalidation half, and this file is the facade gluing them together the
// way pkg/manager glues storage and events for cluster state.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"golang.org/x/sync/semaphore"

	"github.com/cuemby/shardbroker/pkg/cache/substrate"
	"github.com/cuemby/shardbroker/pkg/log"
	"github.com/cuemby/shardbroker/pkg/metrics"
	"github.com/cuemby/shardbroker/pkg/types"
)

const (
	optimisticTTLSeconds = 60

	defaultWarmConcurrency = 10
)

// Cache is the edge response cache facade.
type Cache struct {
	Substrate   substrate.Substrate
	Broadcaster *Broadcaster

	Domain     string
	Prefix     string
	MaxTTL     int
	DefaultTTL int

	// OnInvalidation, if set, is called for every local invalidate_entry
	// in addition to the broadcast, mirroring the spec's "on_invalidation
	// callback for cross-instance coherence".
	OnInvalidation func(InvalidationEvent)
}

// Config configures a new Cache.
type Config struct {
	Domain     string
	Prefix     string
	MaxTTL     int
	DefaultTTL int
}

// New builds a Cache over the given substrate.
func New(sub substrate.Substrate, cfg Config) *Cache {
	maxTTL := cfg.MaxTTL
	if maxTTL <= 0 {
		maxTTL = staticTTLSeconds
	}
	defaultTTL := cfg.DefaultTTL
	if defaultTTL <= 0 {
		defaultTTL = dynamicTTLSeconds
	}
	return &Cache{
		Substrate:   sub,
		Broadcaster: NewBroadcaster(),
		Domain:      cfg.Domain,
		Prefix:      cfg.Prefix,
		MaxTTL:      maxTTL,
		DefaultTTL:  defaultTTL,
	}
}

// Entry is a cache hit handed back to a caller.
type Entry struct {
	Data         []byte
	CachedAt     time.Time
	Age          time.Duration
	CacheControl string
	Tags         []string
	Version      string
	IsStale      bool
	Optimistic   bool
}

// PutOptions controls how Put writes an entry.
type PutOptions struct {
	TTLOverride             *int
	TTLClass                TTLClass
	StaleWhileRevalidateSec int
	Tags                    []string
	Version                 string
	NoCache                 bool
}

// Get implements the §4.12 "Get" bullet: total-requests/miss/hit
// counters, version-gated miss, and age/staleness derived from the
// stored Cache-Control header. expectedVersion is compared lexically
// against the cached version header; an empty expectedVersion never
// forces a miss.
func (c *Cache) Get(namespace, query, expectedVersion string) (Entry, bool) {
	metrics.CacheRequestsTotal.Inc()

	key := c.Key(namespace, query)
	rec, ok, err := c.Substrate.Get(key)
	if err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("key", key).Msg("cache get failed")
	}
	if !ok {
		metrics.CacheMissesTotal.Inc()
		return Entry{}, false
	}
	if expectedVersion != "" && rec.Version != "" && rec.Version < expectedVersion {
		metrics.CacheMissesTotal.Inc()
		return Entry{}, false
	}

	age := time.Since(rec.CachedAt)
	maxAge, swr := parseCacheControl(rec.CacheControl)
	isStale := maxAge >= 0 && age > time.Duration(maxAge)*time.Second && age <= time.Duration(maxAge+swr)*time.Second

	if isStale {
		metrics.CacheStaleHitsTotal.Inc()
	} else {
		metrics.CacheHitsTotal.Inc()
	}

	return Entry{
		Data:         rec.Data,
		CachedAt:     rec.CachedAt,
		Age:          age,
		CacheControl: rec.CacheControl,
		Tags:         rec.CacheTags,
		Version:      rec.Version,
		IsStale:      isStale,
		Optimistic:   rec.Optimistic,
	}, true
}

// Put implements the §4.12 "Put" bullet. Admission (should_cache) is
// checked first; a non-cacheable query is a silent no-op, matching the
// spec's "best-effort" framing. Errors from the substrate are logged,
// never returned, per spec ("errors in put are swallowed").
func (c *Cache) Put(namespace, query string, data []byte, opts PutOptions) {
	if !ShouldCache(query, opts.NoCache) {
		return
	}
	c.populate(namespace, query, data, opts, false)
}

// populate writes an entry unconditionally, bypassing admission — used
// by Put (after admission passed) and by warming/optimistic writes
// (which bypass admission by design).
func (c *Cache) populate(namespace, query string, data []byte, opts PutOptions, optimistic bool) {
	ttl := opts.StaleWhileRevalidateSec
	maxAge := c.EffectiveTTL(opts.TTLOverride, opts.TTLClass)

	var cacheControl string
	if ttl > 0 {
		cacheControl = fmt.Sprintf("max-age=%d, stale-while-revalidate=%d", maxAge, ttl)
	} else {
		cacheControl = fmt.Sprintf("public, max-age=%d, s-maxage=%d", maxAge, maxAge)
	}

	tags := opts.Tags
	if tags == nil {
		tags = TagsForQuery(namespace, query)
	}

	version := opts.Version
	if version == "" {
		version = versionFromData(data)
	}

	rec := types.CachedResponseRecord{
		Data:         data,
		CachedAt:     time.Now(),
		CacheControl: cacheControl,
		CacheTags:    tags,
		Version:      version,
		Optimistic:   optimistic,
	}

	key := c.Key(namespace, query)
	if err := c.Substrate.Put(key, rec); err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("key", key).Msg("cache put failed")
		return
	}
	metrics.CacheBytesWrittenTotal.Add(float64(len(data)))
}

func versionFromData(data []byte) string {
	var wrapper struct {
		Version json.RawMessage `json:"_version"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil || wrapper.Version == nil {
		return ""
	}
	s := strings.Trim(string(wrapper.Version), `"`)
	return s
}

// parseCacheControl extracts max-age and stale-while-revalidate
// seconds from a Cache-Control string built by EffectiveTTL/populate.
// Returns maxAge=-1 if absent (caller treats it as never-stale).
func parseCacheControl(cc string) (maxAge, swr int) {
	maxAge = -1
	for _, part := range strings.Split(cc, ",") {
		part = strings.TrimSpace(part)
		switch {
		case strings.HasPrefix(part, "max-age="):
			if v, err := strconv.Atoi(strings.TrimPrefix(part, "max-age=")); err == nil {
				maxAge = v
			}
		case strings.HasPrefix(part, "stale-while-revalidate="):
			if v, err := strconv.Atoi(strings.TrimPrefix(part, "stale-while-revalidate=")); err == nil {
				swr = v
			}
		}
	}
	return maxAge, swr
}

// Revalidator fetches a fresh result for a query, used by GetOrRevalidate
// for both background (stale) and synchronous (expired) refreshes.
type Revalidator func(ctx context.Context) ([]byte, error)

// GetOrRevalidate implements the full §4.12 "Stale-while-revalidate"
// state machine on top of Get: fresh hits return immediately, stale
// hits return immediately but schedule a fire-and-forget background
// refresh, and expired entries block on a synchronous refresh.
func (c *Cache) GetOrRevalidate(ctx context.Context, namespace, query, expectedVersion string, opts PutOptions, revalidate Revalidator) (Entry, error) {
	key := c.Key(namespace, query)
	metrics.CacheRequestsTotal.Inc()

	rec, ok, err := c.Substrate.Get(key)
	if err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("key", key).Msg("cache get failed")
	}

	if ok && !(expectedVersion != "" && rec.Version != "" && rec.Version < expectedVersion) {
		age := time.Since(rec.CachedAt)
		maxAge, swr := parseCacheControl(rec.CacheControl)

		switch {
		case maxAge < 0 || age <= time.Duration(maxAge)*time.Second:
			metrics.CacheHitsTotal.Inc()
			return Entry{Data: rec.Data, CachedAt: rec.CachedAt, Age: age, CacheControl: rec.CacheControl, Tags: rec.CacheTags, Version: rec.Version}, nil

		case age <= time.Duration(maxAge+swr)*time.Second:
			metrics.CacheStaleHitsTotal.Inc()
			go c.backgroundRevalidate(namespace, query, opts, revalidate)
			return Entry{Data: rec.Data, CachedAt: rec.CachedAt, Age: age, CacheControl: rec.CacheControl, Tags: rec.CacheTags, Version: rec.Version, IsStale: true}, nil
		}
	}

	metrics.CacheMissesTotal.Inc()
	fresh, err := revalidate(ctx)
	if err != nil {
		return Entry{}, err
	}
	c.populate(namespace, query, fresh, opts, false)
	return Entry{Data: fresh, CachedAt: time.Now()}, nil
}

// backgroundRevalidate runs detached from the request's context (per
// spec: "must not hold references to the caller's cancellation scope").
// Its errors are logged only; the stale entry is left intact on failure.
func (c *Cache) backgroundRevalidate(namespace, query string, opts PutOptions, revalidate Revalidator) {
	fresh, err := revalidate(context.Background())
	if err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("namespace", namespace).Msg("background revalidation failed")
		return
	}
	c.populate(namespace, query, fresh, opts, false)
}

// WarmItem is one query/result pair processed by Warm.
type WarmItem struct {
	Namespace string
	Query     string
	Opts      PutOptions
}

// Fetch produces the data to populate for a warm candidate.
type Fetch func(ctx context.Context, item WarmItem) ([]byte, error)

// Warm implements §4.12 "Warming": it keeps at most maxConcurrency
// (default 10) fetches in flight, starting the next item as soon as one
// finishes rather than in fixed batches. With skipCached, items whose
// key is already cached are skipped. Results are stored via populate
// (bypassing admission) since warming is an explicit prefetch decision,
// not organic traffic. A failed fetch is logged and skipped; Warm
// returns an error only when ctx ends first.
func (c *Cache) Warm(ctx context.Context, items []WarmItem, fetch Fetch, maxConcurrency int, skipCached bool) error {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultWarmConcurrency
	}
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CacheWarmBatchDuration)

	sem := semaphore.NewWeighted(int64(maxConcurrency))

	for _, item := range items {
		item := item
		if skipCached {
			if _, ok, _ := c.Substrate.Get(c.Key(item.Namespace, item.Query)); ok {
				continue
			}
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return err
		}
		go func() {
			defer sem.Release(1)
			data, err := fetch(ctx, item)
			if err != nil {
				log.WithComponent("cache").Warn().Err(err).Str("query", item.Query).Msg("warm fetch failed")
				return
			}
			c.populate(item.Namespace, item.Query, data, item.Opts, false)
		}()
	}

	if err := sem.Acquire(ctx, int64(maxConcurrency)); err != nil {
		return err
	}
	return nil
}

// AccessLogEntry is one (namespace, query) access count sample fed to
// WarmByAccessPattern.
type AccessLogEntry struct {
	Namespace string
	Query     string
	Count     int
}

// WarmByAccessPattern implements "warm_by_access_pattern": filters the
// access log by a minimum access count, then delegates to Warm.
func (c *Cache) WarmByAccessPattern(ctx context.Context, accessLog []AccessLogEntry, fetch Fetch, minCount, maxConcurrency int) error {
	var items []WarmItem
	for _, entry := range accessLog {
		if entry.Count < minCount {
			continue
		}
		items = append(items, WarmItem{Namespace: entry.Namespace, Query: entry.Query})
	}
	return c.Warm(ctx, items, fetch, maxConcurrency, true)
}

// InvalidateByTags is the "invalidate_by_tags" placeholder: the
// substrate contract here has no tag index to purge against directly
// (§6 describes match/put/delete by key, not by tag), so this reports
// the count the caller requested without a side effect, matching the
// spec's explicit "placeholder for a tag purge API".
func (c *Cache) InvalidateByTags(tags []string) (bool, int) {
	return true, len(tags)
}

// InvalidateNamespace invalidates the namespace's derived tag set and
// deletes the namespace base key.
func (c *Cache) InvalidateNamespace(namespace string) {
	tags := TagsForNamespace(namespace)
	c.InvalidateByTags(tags)
	key := c.NamespaceKey(namespace)
	if err := c.Substrate.Delete(key); err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("key", key).Msg("invalidate namespace delete failed")
	}
}

// InvalidateEntry deletes one request's cache entry and, if a
// broadcaster/callback is configured, publishes an invalidation event
// for cross-instance coherence.
func (c *Cache) InvalidateEntry(namespace, query string, tags []string) {
	key := c.Key(namespace, query)
	if err := c.Substrate.Delete(key); err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("key", key).Msg("invalidate entry delete failed")
		return
	}
	event := InvalidationEvent{Tags: tags, Keys: []string{key}}
	c.Broadcaster.Publish(event)
	if c.OnInvalidation != nil {
		c.OnInvalidation(event)
	}
}

// MutationInvalidation describes a mutation's cache-invalidation blast
// radius (§4.12 invalidate_on_mutation).
type MutationInvalidation struct {
	EntityID            string
	Operation           string
	AffectedTags        []string
	CascadeInvalidation bool
}

// InvalidateOnMutation invalidates each affected tag, deletes the
// entity's direct key, and — if cascade is requested — the entity's
// derived collection keys.
func (c *Cache) InvalidateOnMutation(m MutationInvalidation) int {
	invalidated, _ := c.InvalidateByTags(m.AffectedTags)
	count := 0
	if invalidated {
		count = len(m.AffectedTags)
	}

	entityKey := c.Key("", m.EntityID)
	if err := c.Substrate.Delete(entityKey); err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("key", entityKey).Msg("invalidate on mutation failed")
	}

	if m.CascadeInvalidation {
		derived := []string{
			m.EntityID + ".friends",
			m.EntityID + ".posts",
			m.EntityID + "s?limit=10",
		}
		for _, q := range derived {
			if err := c.Substrate.Delete(c.Key("", q)); err != nil {
				log.WithComponent("cache").Warn().Err(err).Str("query", q).Msg("cascade invalidation failed")
			}
		}
	}

	return count
}

// HandleRemoteInvalidation deletes the local key named in a remote
// instance's invalidation event.
func (c *Cache) HandleRemoteInvalidation(event InvalidationEvent) {
	for _, key := range event.Keys {
		if err := c.Substrate.Delete(key); err != nil {
			log.WithComponent("cache").Warn().Err(err).Str("key", key).Msg("remote invalidation delete failed")
		}
	}
}

// ConflictResolution selects how ResolveConflict reconciles an
// optimistic/server disagreement.
type ConflictResolution string

const (
	ResolveServer ConflictResolution = "server"
	ResolveClient ConflictResolution = "client"
	ResolveMerge  ConflictResolution = "merge"
)

// Conflict reports an optimistic-write/server-data disagreement.
type Conflict struct {
	HasConflict    bool
	OptimisticData []byte
	ServerData     []byte
}

// PopulateOptimistic writes a speculative entry ahead of server
// confirmation, with a short 60s TTL and the optimistic marker set.
func (c *Cache) PopulateOptimistic(namespace, query string, data []byte, tags []string) {
	c.populate(namespace, query, data, PutOptions{
		TTLOverride: intPtr(optimisticTTLSeconds),
		Tags:        tags,
	}, true)
}

// ConfirmOptimistic overwrites an optimistic entry with the
// server-confirmed value at full TTL, clearing the optimistic marker.
func (c *Cache) ConfirmOptimistic(namespace, query string, data []byte, opts PutOptions) {
	c.populate(namespace, query, data, opts, false)
}

// RollbackOptimistic deletes a speculative entry that never got
// confirmed.
func (c *Cache) RollbackOptimistic(namespace, query string) {
	key := c.Key(namespace, query)
	if err := c.Substrate.Delete(key); err != nil {
		log.WithComponent("cache").Warn().Err(err).Str("key", key).Msg("rollback optimistic failed")
	}
}

// CheckConflict compares the cached optimistic entry's version and
// scalar `name` field against server data. A conflict requires the
// cached entry to be optimistic, the server version to be strictly
// newer, and the `name` field to actually differ.
func (c *Cache) CheckConflict(namespace, query string, serverVersion string, serverData []byte) Conflict {
	rec, ok, err := c.Substrate.Get(c.Key(namespace, query))
	if err != nil || !ok || !rec.Optimistic {
		return Conflict{}
	}
	if !(serverVersion > rec.Version) {
		return Conflict{}
	}
	if scalarField(rec.Data, "name") == scalarField(serverData, "name") {
		return Conflict{}
	}
	return Conflict{HasConflict: true, OptimisticData: rec.Data, ServerData: serverData}
}

// ResolveConflict picks server, client, or a shallow merge of the two
// JSON objects, then confirms the resolved value.
func (c *Cache) ResolveConflict(namespace, query string, conflict Conflict, strategy ConflictResolution, opts PutOptions) []byte {
	var resolved []byte
	switch strategy {
	case ResolveClient:
		resolved = conflict.OptimisticData
	case ResolveMerge:
		resolved = shallowMerge(conflict.OptimisticData, conflict.ServerData)
	default:
		resolved = conflict.ServerData
	}
	c.ConfirmOptimistic(namespace, query, resolved, opts)
	return resolved
}

func scalarField(data []byte, field string) string {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return ""
	}
	v, ok := obj[field]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func shallowMerge(client, server []byte) []byte {
	var clientObj, serverObj map[string]interface{}
	_ = json.Unmarshal(client, &clientObj)
	_ = json.Unmarshal(server, &serverObj)
	if clientObj == nil {
		clientObj = map[string]interface{}{}
	}
	for k, v := range serverObj {
		clientObj[k] = v
	}
	out, err := json.Marshal(clientObj)
	if err != nil {
		return server
	}
	return out
}

func intPtr(v int) *int { return &v }

// HitRate reports hits/max(1, total), read from the live counters
// (best-effort snapshot, per spec's "monotonic, eventually consistent"
// shared-state note for cache metrics).
func HitRate() float64 {
	total := counterValue(metrics.CacheRequestsTotal)
	if total < 1 {
		total = 1
	}
	return counterValue(metrics.CacheHitsTotal) / total
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}
