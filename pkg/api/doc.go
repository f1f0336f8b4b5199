// Package api exposes the broker process's operational HTTP surface:
// /health (liveness), /ready (readiness against the breaker store and
// cache substrate), /metrics (Prometheus), POST /admin/reset-breakers
// (the spec's test-oriented reset_circuit_breakers hook, for driving a
// live process rather than an in-process Go caller), and GET
// /admin/breakers (a read-only snapshot of every shard's breaker state,
// the natural read-side companion to the reset hook). It does not carry
// the client↔broker query transport — that wire protocol is out of
// scope per the broker specification (§1), and the orchestrator's
// client interface (§6) is a Go API (pkg/orchestrator, pkg/planner,
// pkg/cache), not a generated RPC stub.
package api
