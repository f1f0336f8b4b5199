package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/shardbroker/pkg/cache/substrate"
)

func newTestCache() *Cache {
	return New(substrate.NewMemSubstrate(), Config{
		Domain:     "cache_domain",
		Prefix:     "v1",
		MaxTTL:     3600,
		DefaultTTL: 300,
	})
}

func TestInferRequestType(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  RequestType
	}{
		{"lookup", `MATCH ($id: "a") RETURN *`, RequestQuery},
		{"insert", `INSERT ($id: "a")`, RequestMutation},
		{"delete lowercase", `delete from shard where $id = "a"`, RequestMutation},
		{"subscribe", `SUBSCRIBE ($id: "a")`, RequestSubscription},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, InferRequestType(tc.query))
		})
	}
}

func TestShouldCache(t *testing.T) {
	assert.True(t, ShouldCache(`MATCH ($id: "a") RETURN *`, false))
	assert.False(t, ShouldCache(`MATCH ($id: "a") RETURN *`, true), "no_cache overrides admission")
	assert.False(t, ShouldCache(`INSERT ($id: "a")`, false), "mutation never admitted")
	assert.False(t, ShouldCache(`MATCH (a) WHERE a.ts > NOW() RETURN *`, false), "timestamp-sensitive filter never admitted")
}

func TestKeyDerivation(t *testing.T) {
	c := newTestCache()
	k1 := c.Key("https://graph.example.com/users", `MATCH ($id: "a") RETURN *`)
	k2 := c.Key("https://graph.example.com/users", `MATCH ($id: "a") RETURN *  `)
	assert.Equal(t, k1, k2, "fingerprint trims whitespace before hashing")

	k3 := c.Key("https://graph.example.com/users", `MATCH ($id: "b") RETURN *`)
	assert.NotEqual(t, k1, k3)

	assert.Contains(t, k1, "cache_domain/v1/")
}

func TestEffectiveTTL(t *testing.T) {
	c := newTestCache()

	assert.Equal(t, 3600, c.EffectiveTTL(nil, TTLStatic))
	assert.Equal(t, 300, c.EffectiveTTL(nil, TTLDynamic))
	assert.Equal(t, 300, c.EffectiveTTL(nil, ""))

	override := 100
	assert.Equal(t, 100, c.EffectiveTTL(&override, TTLStatic))

	huge := 999999
	assert.Equal(t, 3600, c.EffectiveTTL(&huge, TTLStatic), "capped at max_ttl")
}

func TestPutThenGet_Hit(t *testing.T) {
	c := newTestCache()
	ns := "https://graph.example.com/users"
	query := `MATCH ($id: "a") RETURN *`

	c.Put(ns, query, []byte(`{"$id":"a"}`), PutOptions{})

	entry, ok := c.Get(ns, query, "")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"$id":"a"}`), entry.Data)
	assert.False(t, entry.IsStale)
}

func TestPut_NonCacheableIsNoop(t *testing.T) {
	c := newTestCache()
	ns := "https://graph.example.com/users"
	query := `INSERT ($id: "a")`

	c.Put(ns, query, []byte(`{"$id":"a"}`), PutOptions{})

	_, ok := c.Get(ns, query, "")
	assert.False(t, ok)
}

func TestGet_Miss(t *testing.T) {
	c := newTestCache()
	_, ok := c.Get("ns", "query", "")
	assert.False(t, ok)
}

func TestGet_ExpectedVersionGatesMiss(t *testing.T) {
	c := newTestCache()
	ns, query := "ns", `MATCH ($id: "a") RETURN *`

	c.Put(ns, query, []byte(`{"_version":"5"}`), PutOptions{})

	_, ok := c.Get(ns, query, "3")
	assert.True(t, ok, "expected version not newer than cached -> hit")

	_, ok = c.Get(ns, query, "9")
	assert.False(t, ok, "expected version newer than cached -> miss")
}

func TestVersionFromData(t *testing.T) {
	assert.Equal(t, "7", versionFromData([]byte(`{"_version":"7","$id":"a"}`)))
	assert.Equal(t, "", versionFromData([]byte(`{"$id":"a"}`)))
	assert.Equal(t, "", versionFromData([]byte(`not json`)))
}

func TestGetOrRevalidate_FreshHitSkipsRevalidator(t *testing.T) {
	c := newTestCache()
	ns, query := "ns", `MATCH ($id: "a") RETURN *`
	c.Put(ns, query, []byte(`{"$id":"a"}`), PutOptions{})

	called := false
	entry, err := c.GetOrRevalidate(context.Background(), ns, query, "", PutOptions{}, func(ctx context.Context) ([]byte, error) {
		called = true
		return []byte(`{"$id":"a","fresh":true}`), nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.False(t, entry.IsStale)
}

func TestGetOrRevalidate_ExpiredRunsSynchronousRefresh(t *testing.T) {
	c := newTestCache()
	ns, query := "ns", `MATCH ($id: "a") RETURN *`

	ttl := 1
	c.populate(ns, query, []byte(`{"$id":"a","v":"old"}`), PutOptions{TTLOverride: &ttl}, false)
	// force the stored entry into the distant past so it reads as fully expired
	rec, ok, err := c.Substrate.Get(c.Key(ns, query))
	require.NoError(t, err)
	require.True(t, ok)
	rec.CachedAt = time.Now().Add(-time.Hour)
	require.NoError(t, c.Substrate.Put(c.Key(ns, query), rec))

	called := false
	entry, err := c.GetOrRevalidate(context.Background(), ns, query, "", PutOptions{}, func(ctx context.Context) ([]byte, error) {
		called = true
		return []byte(`{"$id":"a","v":"new"}`), nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, []byte(`{"$id":"a","v":"new"}`), entry.Data)
}

func TestGetOrRevalidate_StaleSchedulesBackgroundRefresh(t *testing.T) {
	c := newTestCache()
	ns, query := "ns", `MATCH ($id: "a") RETURN *`

	shortTTL := 1
	c.populate(ns, query, []byte(`{"$id":"a","v":"old"}`), PutOptions{TTLOverride: &shortTTL, StaleWhileRevalidateSec: 60}, false)
	rec, _, _ := c.Substrate.Get(c.Key(ns, query))
	rec.CachedAt = time.Now().Add(-5 * time.Second)
	require.NoError(t, c.Substrate.Put(c.Key(ns, query), rec))
	maxAge, swr := parseCacheControl(rec.CacheControl)
	require.Equal(t, 1, maxAge)
	require.Greater(t, swr, 0)

	refreshed := make(chan struct{})
	entry, err := c.GetOrRevalidate(context.Background(), ns, query, "", PutOptions{StaleWhileRevalidateSec: 60}, func(ctx context.Context) ([]byte, error) {
		close(refreshed)
		return []byte(`{"$id":"a","v":"new"}`), nil
	})
	require.NoError(t, err)
	assert.True(t, entry.IsStale)
	assert.Equal(t, []byte(`{"$id":"a","v":"old"}`), entry.Data, "stale hit returns the old value immediately")

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("background revalidation never ran")
	}
}

func TestTagsForNamespace(t *testing.T) {
	tags := TagsForNamespace("https://graph.example.com/users")
	assert.Contains(t, tags, "host:graph.example.com")
	assert.Contains(t, tags, "ns:graph.example.com/users")

	tags = TagsForNamespace("raw-namespace")
	assert.Equal(t, []string{"ns:raw-namespace"}, tags)
}

func TestTagsForQuery(t *testing.T) {
	query := `MATCH (a: "https://graph.example.com/entities/42") WHERE a.name = "x" AND a.age > 5 RETURN a.posts`
	tags := TagsForQuery("https://graph.example.com", query)

	assert.Contains(t, tags, "entity:/entities/42")
	assert.Contains(t, tags, "prop:name")
	assert.Contains(t, tags, "prop:age")
	assert.Contains(t, tags, "prop:posts")
}

func TestTagsForQuery_SkipsCommonTLDs(t *testing.T) {
	query := `MATCH (a: "https://graph.example.com/x") RETURN a.com, a.org`
	tags := TagsForQuery("ns", query)
	for _, tag := range tags {
		assert.NotEqual(t, "prop:com", tag)
		assert.NotEqual(t, "prop:org", tag)
	}
}

func TestInvalidateEntry_BroadcastsAndCallsHook(t *testing.T) {
	c := newTestCache()
	ns, query := "ns", `MATCH ($id: "a") RETURN *`
	c.Put(ns, query, []byte(`{"$id":"a"}`), PutOptions{})

	sub := c.Broadcaster.Subscribe()
	var hookEvent InvalidationEvent
	c.OnInvalidation = func(e InvalidationEvent) { hookEvent = e }

	c.InvalidateEntry(ns, query, []string{"ns:a"})

	_, ok := c.Get(ns, query, "")
	assert.False(t, ok)

	select {
	case event := <-sub:
		assert.Equal(t, []string{"ns:a"}, event.Tags)
	case <-time.After(time.Second):
		t.Fatal("no invalidation event broadcast")
	}
	assert.Equal(t, []string{"ns:a"}, hookEvent.Tags)
}

func TestInvalidateOnMutation_CascadeDeletesDerivedKeys(t *testing.T) {
	c := newTestCache()
	c.Put("", "42.friends", []byte(`[]`), PutOptions{})
	c.Put("", "42.posts", []byte(`[]`), PutOptions{})
	require.True(t, func() bool { _, ok := c.Get("", "42.friends", ""); return ok }())

	count := c.InvalidateOnMutation(MutationInvalidation{
		EntityID:            "42",
		Operation:            "update",
		AffectedTags:         []string{"ns:a", "ns:b"},
		CascadeInvalidation: true,
	})
	assert.Equal(t, 2, count)

	_, ok := c.Get("", "42.friends", "")
	assert.False(t, ok)
	_, ok = c.Get("", "42.posts", "")
	assert.False(t, ok)
}

func TestHandleRemoteInvalidation(t *testing.T) {
	c := newTestCache()
	ns, query := "ns", `MATCH ($id: "a") RETURN *`
	c.Put(ns, query, []byte(`{"$id":"a"}`), PutOptions{})
	key := c.Key(ns, query)

	c.HandleRemoteInvalidation(InvalidationEvent{Keys: []string{key}})

	_, ok := c.Get(ns, query, "")
	assert.False(t, ok)
}

func TestOptimisticFlow_ConfirmOverwritesMarker(t *testing.T) {
	c := newTestCache()
	ns, query := "ns", `MATCH ($id: "a") RETURN *`

	c.PopulateOptimistic(ns, query, []byte(`{"$id":"a","name":"tentative"}`), nil)
	entry, ok := c.Get(ns, query, "")
	require.True(t, ok)
	assert.True(t, entry.Optimistic)

	c.ConfirmOptimistic(ns, query, []byte(`{"$id":"a","name":"confirmed"}`), PutOptions{})
	entry, ok = c.Get(ns, query, "")
	require.True(t, ok)
	assert.False(t, entry.Optimistic)
	assert.Equal(t, []byte(`{"$id":"a","name":"confirmed"}`), entry.Data)
}

func TestOptimisticFlow_Rollback(t *testing.T) {
	c := newTestCache()
	ns, query := "ns", `MATCH ($id: "a") RETURN *`

	c.PopulateOptimistic(ns, query, []byte(`{"$id":"a"}`), nil)
	c.RollbackOptimistic(ns, query)

	_, ok := c.Get(ns, query, "")
	assert.False(t, ok)
}

func TestCheckConflict(t *testing.T) {
	c := newTestCache()
	ns, query := "ns", `MATCH ($id: "a") RETURN *`

	c.PopulateOptimistic(ns, query, []byte(`{"$id":"a","name":"mine","_version":"1"}`), nil)

	conflict := c.CheckConflict(ns, query, "2", []byte(`{"$id":"a","name":"theirs"}`))
	assert.True(t, conflict.HasConflict)

	noConflict := c.CheckConflict(ns, query, "2", []byte(`{"$id":"a","name":"mine"}`))
	assert.False(t, noConflict.HasConflict, "identical name is not a conflict even if versions differ")

	stale := c.CheckConflict(ns, query, "0", []byte(`{"$id":"a","name":"theirs"}`))
	assert.False(t, stale.HasConflict, "server version not newer than cached is not a conflict")
}

func TestResolveConflict_Server(t *testing.T) {
	c := newTestCache()
	ns, query := "ns", `MATCH ($id: "a") RETURN *`
	conflict := Conflict{
		HasConflict:    true,
		OptimisticData: []byte(`{"$id":"a","name":"mine"}`),
		ServerData:     []byte(`{"$id":"a","name":"theirs"}`),
	}

	resolved := c.ResolveConflict(ns, query, conflict, ResolveServer, PutOptions{})
	assert.JSONEq(t, `{"$id":"a","name":"theirs"}`, string(resolved))

	entry, ok := c.Get(ns, query, "")
	require.True(t, ok)
	assert.False(t, entry.Optimistic)
}

func TestResolveConflict_Merge(t *testing.T) {
	c := newTestCache()
	conflict := Conflict{
		OptimisticData: []byte(`{"$id":"a","name":"mine","extra":1}`),
		ServerData:     []byte(`{"$id":"a","name":"theirs"}`),
	}
	resolved := c.ResolveConflict("ns", "q", conflict, ResolveMerge, PutOptions{})

	var merged map[string]interface{}
	require.NoError(t, json.Unmarshal(resolved, &merged))
	assert.Equal(t, "theirs", merged["name"], "server fields win on overlap")
	assert.Equal(t, float64(1), merged["extra"], "client-only fields survive the merge")
}

func TestWarm_PopulatesBypassingAdmission(t *testing.T) {
	c := newTestCache()
	items := []WarmItem{
		{Namespace: "ns", Query: `INSERT ($id: "a")`},
		{Namespace: "ns", Query: `MATCH ($id: "b") RETURN *`},
	}

	err := c.Warm(context.Background(), items, func(ctx context.Context, item WarmItem) ([]byte, error) {
		return []byte(fmt.Sprintf(`{"query":%q}`, item.Query)), nil
	}, 2, false)
	require.NoError(t, err)

	_, ok := c.Get("ns", `INSERT ($id: "a")`, "")
	assert.True(t, ok, "warm bypasses should_cache admission")
	_, ok = c.Get("ns", `MATCH ($id: "b") RETURN *`, "")
	assert.True(t, ok)
}

func TestWarmByAccessPattern_FiltersByMinCount(t *testing.T) {
	c := newTestCache()
	log := []AccessLogEntry{
		{Namespace: "ns", Query: "hot", Count: 10},
		{Namespace: "ns", Query: "cold", Count: 1},
	}

	var fetched []string
	err := c.WarmByAccessPattern(context.Background(), log, func(ctx context.Context, item WarmItem) ([]byte, error) {
		fetched = append(fetched, item.Query)
		return []byte(`{}`), nil
	}, 5, 10)
	require.NoError(t, err)

	assert.Contains(t, fetched, "hot")
	assert.NotContains(t, fetched, "cold")
}

func TestInvalidateByTags_ReportsRequestedCount(t *testing.T) {
	c := newTestCache()
	success, count := c.InvalidateByTags([]string{"a", "b", "c"})
	assert.True(t, success)
	assert.Equal(t, 3, count)
}
