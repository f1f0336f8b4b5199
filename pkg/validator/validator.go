// Package validator discriminates shard reply bodies into a tagged
// Success/Error union (spec §4.2) and offers an optional schema
// validator for entity payloads (type checks, bounds, coercion,
// sanitization, partial mode).
package validator

// Outcome is the tagged union produced by ParseEnvelope. Exactly one of
// Data (when OK) or Err (when !OK) is meaningful.
type Outcome struct {
	OK   bool
	Data interface{}
	Err  *EnvelopeError
}

// EnvelopeError is the Error{code, message, shard_id?, path?, errors?}
// branch of the discriminated union.
type EnvelopeError struct {
	Code    string
	Message string
	ShardID string
	Path    string
	Errors  []string
}

func malformed(message string) Outcome {
	return Outcome{OK: false, Err: &EnvelopeError{Code: "MALFORMED_RESPONSE", Message: message}}
}

// ParseEnvelope accepts arbitrary decoded JSON (the result of
// json.Unmarshal into interface{}) and classifies it per spec §4.2:
//
//  1. New envelope: {success: true, data: T} or {success: false, error: {...}}.
//  2. Legacy: a bare array is Success{data: array}.
//
// Every other shape is MALFORMED_RESPONSE.
func ParseEnvelope(decoded interface{}) Outcome {
	if decoded == nil {
		return malformed("response body is null")
	}

	if arr, ok := decoded.([]interface{}); ok {
		return Outcome{OK: true, Data: arr}
	}

	obj, ok := decoded.(map[string]interface{})
	if !ok {
		return malformed("response body is neither an object nor an array")
	}

	successRaw, has := obj["success"]
	if !has {
		return malformed("response object missing 'success' field")
	}
	success, ok := successRaw.(bool)
	if !ok {
		return malformed("'success' field is not a boolean")
	}

	if !success {
		errRaw, has := obj["error"]
		if !has {
			return malformed("success=false but 'error' field missing")
		}
		errObj, ok := errRaw.(map[string]interface{})
		if !ok {
			return malformed("success=false but 'error' field is not an object")
		}

		code, ok := errObj["code"].(string)
		if !ok {
			return malformed("error object missing string 'code'")
		}
		message, ok := errObj["message"].(string)
		if !ok {
			return malformed("error object missing string 'message'")
		}

		envErr := &EnvelopeError{Code: code, Message: message}
		if shardID, ok := errObj["shard_id"].(string); ok {
			envErr.ShardID = shardID
		}
		if path, ok := errObj["path"].(string); ok {
			envErr.Path = path
		}
		if rawErrs, ok := errObj["errors"].([]interface{}); ok {
			for _, e := range rawErrs {
				if s, ok := e.(string); ok {
					envErr.Errors = append(envErr.Errors, s)
				}
			}
		}
		return Outcome{OK: false, Err: envErr}
	}

	data, has := obj["data"]
	if !has {
		return malformed("success=true but 'data' field missing")
	}
	return Outcome{OK: true, Data: data}
}
