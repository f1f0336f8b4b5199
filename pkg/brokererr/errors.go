// Package brokererr carries the broker's error taxonomy (spec §7):
// validation, transient/non-transient shard errors, circuit-open,
// timeout, quorum failure, and malformed response. Each kind is a small
// struct error so callers can errors.As it and inspect shard/code, while
// still composing with fmt.Errorf's %w wrapping everywhere else.
package brokererr

import "fmt"

// Kind discriminates the error taxonomy from spec §7.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindTransientShard     Kind = "transient_shard"
	KindNonTransientShard  Kind = "non_transient_shard"
	KindCircuitOpen        Kind = "circuit_open"
	KindTimeout            Kind = "timeout"
	KindQuorumFailure      Kind = "quorum_failure"
	KindMalformedResponse  Kind = "malformed_response"
)

// Error is the broker's structured error type. ShardID and Code are
// optional and empty when not applicable (e.g. validation errors).
type Error struct {
	Kind    Kind
	ShardID string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.ShardID != "" && e.Code != "":
		return fmt.Sprintf("%s: shard=%s code=%s: %s", e.Kind, e.ShardID, e.Code, e.Message)
	case e.ShardID != "":
		return fmt.Sprintf("%s: shard=%s: %s", e.Kind, e.ShardID, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the step executor should retry this error.
// Only transient shard errors are retryable (§7).
func (e *Error) Retryable() bool {
	return e.Kind == KindTransientShard
}

// Validation constructs a non-retryable validation error (empty query,
// missing MATCH/RETURN, unknown step kind).
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// TransientShard constructs a retryable shard error.
func TransientShard(shardID, code, message string) *Error {
	return &Error{Kind: KindTransientShard, ShardID: shardID, Code: code, Message: message}
}

// NonTransientShard constructs a non-retryable shard error (4xx, 501, or
// a validator-reported error envelope).
func NonTransientShard(shardID, code, message string) *Error {
	return &Error{Kind: KindNonTransientShard, ShardID: shardID, Code: code, Message: message}
}

// CircuitOpen constructs the fail-fast error raised when a step is
// rejected by an open circuit breaker. Downstream it is treated exactly
// like a non-transient shard error (§7).
func CircuitOpen(shardID string) *Error {
	return &Error{Kind: KindCircuitOpen, ShardID: shardID, Code: "CIRCUIT_OPEN", Message: "Circuit breaker open"}
}

// Timeout constructs a fatal timeout error, either per-step or per-query.
func Timeout(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message}
}

// QuorumFailure constructs the fatal, all-or-nothing quorum error.
func QuorumFailure(message string) *Error {
	return &Error{Kind: KindQuorumFailure, Message: message}
}

// MalformedResponse constructs the validator's MALFORMED_RESPONSE error,
// wrapped as a shard error by the executor.
func MalformedResponse(shardID, message string) *Error {
	return &Error{Kind: KindMalformedResponse, ShardID: shardID, Code: "MALFORMED_RESPONSE", Message: message}
}
