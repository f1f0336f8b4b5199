package cache

import (
	"net/url"
	"regexp"
	"strings"
)

// RequestType classifies a query string for cache admission (§4.12).
type RequestType string

const (
	RequestQuery        RequestType = "query"
	RequestMutation     RequestType = "mutation"
	RequestSubscription RequestType = "subscription"
)

var (
	mutationKeyword     = regexp.MustCompile(`(?i)\b(MUTATE|INSERT|DELETE|UPDATE)\b`)
	subscriptionKeyword = regexp.MustCompile(`(?i)\bSUBSCRIBE\b`)
	propertyTraversal   = regexp.MustCompile(`\.([A-Za-z_][A-Za-z0-9_]*)\b`)
	entityURL           = regexp.MustCompile(`https?://[^\s"')]+`)
)

var skipTLDs = map[string]bool{
	"com": true, "org": true, "net": true, "io": true, "dev": true,
}

// InferRequestType classifies a query string the way the shard DSL's
// keyword scan does: mutation keywords win over subscription, anything
// else is a plain query.
func InferRequestType(query string) RequestType {
	switch {
	case mutationKeyword.MatchString(query):
		return RequestMutation
	case subscriptionKeyword.MatchString(query):
		return RequestSubscription
	default:
		return RequestQuery
	}
}

// ShouldCache implements the admission check: only plain queries, not
// explicitly opted out, and not shaped like a mutation or a
// timestamp-sensitive filter (NOW()/CURRENT_TIMESTAMP).
func ShouldCache(query string, noCache bool) bool {
	if noCache {
		return false
	}
	if InferRequestType(query) != RequestQuery {
		return false
	}
	if timestampSensitive(query) {
		return false
	}
	return true
}

var timestampFilter = regexp.MustCompile(`(?i)\b(NOW\(\)|CURRENT_TIMESTAMP)\b`)

func timestampSensitive(query string) bool {
	return timestampFilter.MatchString(query)
}

// TagsForNamespace emits tags for a cache namespace (§4.12 "tag
// generation"). A URL-shaped namespace emits a host tag and a
// host+path tag; anything else emits a single raw tag.
func TagsForNamespace(namespace string) []string {
	if u, err := url.Parse(namespace); err == nil && u.Scheme != "" && u.Host != "" {
		return dedupeTags([]string{
			"ns:" + u.Host + u.Path,
			"host:" + u.Host,
		})
	}
	return []string{"ns:" + namespace}
}

// TagsForQuery combines namespace tags with tags derived from the
// query body: the first entity URL's path, and any dotted property
// traversal that isn't actually a common TLD suffix.
func TagsForQuery(namespace, query string) []string {
	tags := TagsForNamespace(namespace)

	if m := entityURL.FindString(query); m != "" {
		if u, err := url.Parse(m); err == nil && u.Path != "" {
			tags = append(tags, "entity:"+u.Path)
		}
	}

	for _, m := range propertyTraversal.FindAllStringSubmatch(query, -1) {
		name := m[1]
		if skipTLDs[strings.ToLower(name)] {
			continue
		}
		tags = append(tags, "prop:"+name)
	}

	return dedupeTags(tags)
}

func dedupeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
