// Package router implements the hasher and shard router (spec §4.1):
// namespace extraction from an entity ID, and a stable FNV-1a hash of the
// namespace into one of a fixed number of shard buckets.
package router

import (
	"fmt"
	"hash/fnv"
	"net/url"

	"github.com/cuemby/shardbroker/pkg/types"
)

// NumBuckets is the fixed shard bucket count. It must be identical
// everywhere a route is computed for routes to remain compatible; 16
// matches the reference implementation.
const NumBuckets = 16

// NamespaceOf extracts the namespace of an entity ID: host plus first
// path segment (with trailing slash), dropping query and fragment. A
// bare host yields "https://host/". Deterministic and idempotent: any
// entity ID sharing a namespace always produces the identical Namespace
// value. An ID that is not an absolute URL returns an error.
func NamespaceOf(entityID string) (types.Namespace, error) {
	u, err := url.Parse(entityID)
	if err != nil {
		return "", fmt.Errorf("parse entity id %q: %w", entityID, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("entity id %q is not an absolute URL", entityID)
	}

	segment := firstPathSegment(u.Path)
	ns := fmt.Sprintf("%s://%s/%s", u.Scheme, u.Host, segment)
	return types.Namespace(ns), nil
}

// firstPathSegment returns the first non-empty path segment, or "" for a
// bare host. The caller appends the trailing slash itself.
func firstPathSegment(path string) string {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	start := i
	for i < len(path) && path[i] != '/' {
		i++
	}
	if start == i {
		return ""
	}
	seg := path[start:i]
	return seg + "/"
}

// ShardOf hashes a namespace into a stable shard ID of the form
// "shard-<bucket>-<hex>", where bucket = fnv1a_32(namespace) mod
// NumBuckets.
func ShardOf(ns types.Namespace) types.ShardID {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ns))
	sum := h.Sum32()
	bucket := int(sum % NumBuckets)
	return types.ShardID(fmt.Sprintf("shard-%d-%04x", bucket, sum&0xffff))
}

// Route is the result of routing a single entity ID.
type Route struct {
	Namespace types.Namespace
	ShardID   types.ShardID
}

// RouteEntity computes the namespace and shard ID for an entity ID in one call.
func RouteEntity(entityID string) (Route, error) {
	ns, err := NamespaceOf(entityID)
	if err != nil {
		return Route{}, err
	}
	return Route{Namespace: ns, ShardID: ShardOf(ns)}, nil
}
