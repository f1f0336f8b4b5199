/*
Package types defines the broker's core data model: entities, namespaces,
shards, query plans, results, circuit-breaker records, and cached response
records.

Entities are opaque maps rather than a closed struct hierarchy — shards own
the schema of what they return, and the broker only ever reaches into a
few well-known $-prefixed fields plus whatever ordinary fields a query's
filter/aggregate/order-by clauses name.
*/
package types
