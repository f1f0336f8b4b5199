package validator

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldType is a JSON-ish primitive type tag recognized by Schema.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeBoolean FieldType = "boolean"
	TypeArray   FieldType = "array"
	TypeObject  FieldType = "object"
)

// PredicateResult is what a custom per-field predicate returns: whether
// the value is valid, plus an optional message.
type PredicateResult struct {
	Valid   bool
	Message string
}

// Schema describes the shape one field (or, recursively, a nested
// object/array) must satisfy.
type Schema struct {
	Type       FieldType
	Required   bool
	Nullable   bool
	Minimum    *float64
	Maximum    *float64
	Format     string // currently only "email" is recognized
	Properties map[string]*Schema
	Items      *Schema
	Predicate  func(interface{}) PredicateResult
}

// FieldError is one schema-validation failure, with a dotted path
// ("profile.personal.age") or bracketed array index ("items[2]").
type FieldError struct {
	Path    string
	Message string
}

// Options configures a single Validate call.
type Options struct {
	// CollectAll gathers every error found; otherwise validation
	// short-circuits on the first failure.
	CollectAll bool

	// Coerce turns "42" -> 42 and "true"/"false" -> bool before the type
	// check runs.
	Coerce bool

	// Sanitize removes RemoveFields and redacts RedactFields to the
	// literal string "[REDACTED]" before validation runs.
	RemoveFields []string
	RedactFields []string

	// CrossField runs before schema validation and can contribute
	// additional FieldErrors.
	CrossField func(data map[string]interface{}) []FieldError

	// Partial allows missing required fields; Validate then lists them
	// in Result.MissingFields and sets Result.IsPartial.
	Partial bool
}

// Result is the output of Validate.
type Result struct {
	Valid         bool
	Errors        []FieldError
	IsPartial     bool
	MissingFields []string
}

// Sanitize removes RemoveFields and redacts RedactFields on a shallow
// copy of data, leaving the input untouched.
func Sanitize(data map[string]interface{}, remove, redact []string) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	for _, f := range remove {
		delete(out, f)
	}
	for _, f := range redact {
		if _, ok := out[f]; ok {
			out[f] = "[REDACTED]"
		}
	}
	return out
}

// Coerce turns "42" -> float64(42) and "true"/"false" -> bool, leaving
// every other value unchanged. It is applied before a field's type check.
func Coerce(value interface{}, want FieldType) interface{} {
	s, ok := value.(string)
	if !ok {
		return value
	}
	switch want {
	case TypeNumber:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case TypeBoolean:
		switch s {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return value
}

// Validate checks data (expected to be a map[string]interface{} at the
// top level) against schema, applying sanitization and cross-field
// validation first, per spec §4.2.
func Validate(data map[string]interface{}, schema *Schema, opts Options) Result {
	working := data
	if len(opts.RemoveFields) > 0 || len(opts.RedactFields) > 0 {
		working = Sanitize(data, opts.RemoveFields, opts.RedactFields)
	}

	var errs []FieldError
	var missing []string

	if opts.CrossField != nil {
		errs = append(errs, opts.CrossField(working)...)
		if !opts.CollectAll && len(errs) > 0 {
			return Result{Valid: false, Errors: errs}
		}
	}

	fieldErrs, fieldMissing := validateObject("", working, schema, opts)
	errs = append(errs, fieldErrs...)
	missing = append(missing, fieldMissing...)

	isPartial := opts.Partial && len(missing) > 0
	return Result{
		Valid:         len(errs) == 0,
		Errors:        errs,
		IsPartial:     isPartial,
		MissingFields: missing,
	}
}

func validateObject(prefix string, obj map[string]interface{}, schema *Schema, opts Options) ([]FieldError, []string) {
	var errs []FieldError
	var missing []string

	for name, fieldSchema := range schema.Properties {
		path := joinPath(prefix, name)
		value, present := obj[name]

		if !present || value == nil {
			if value == nil && present && fieldSchema.Nullable {
				continue
			}
			if fieldSchema.Required {
				if opts.Partial {
					missing = append(missing, path)
					continue
				}
				errs = append(errs, FieldError{Path: path, Message: "required field missing"})
				if !opts.CollectAll {
					return errs, missing
				}
			}
			continue
		}

		fieldErrs := validateField(path, value, fieldSchema, opts)
		errs = append(errs, fieldErrs...)
		if !opts.CollectAll && len(errs) > 0 {
			return errs, missing
		}
	}

	return errs, missing
}

func validateField(path string, value interface{}, schema *Schema, opts Options) []FieldError {
	var errs []FieldError

	if opts.Coerce {
		value = Coerce(value, schema.Type)
	}

	if !checkType(value, schema.Type) {
		errs = append(errs, FieldError{Path: path, Message: fmt.Sprintf("expected type %s", schema.Type)})
		if !opts.CollectAll {
			return errs
		}
	}

	if schema.Type == TypeNumber {
		if n, ok := asFloat(value); ok {
			if schema.Minimum != nil && n < *schema.Minimum {
				errs = append(errs, FieldError{Path: path, Message: fmt.Sprintf("below minimum %v", *schema.Minimum)})
			}
			if schema.Maximum != nil && n > *schema.Maximum {
				errs = append(errs, FieldError{Path: path, Message: fmt.Sprintf("above maximum %v", *schema.Maximum)})
			}
		}
	}

	if schema.Type == TypeString && schema.Format == "email" {
		if s, ok := value.(string); ok && !looksLikeEmail(s) {
			errs = append(errs, FieldError{Path: path, Message: "invalid email format"})
		}
	}

	if schema.Type == TypeObject && schema.Properties != nil {
		if nested, ok := value.(map[string]interface{}); ok {
			nestedErrs, _ := validateObject(path, nested, schema, opts)
			errs = append(errs, nestedErrs...)
		}
	}

	if schema.Type == TypeArray && schema.Items != nil {
		if arr, ok := value.([]interface{}); ok {
			for i, item := range arr {
				itemPath := fmt.Sprintf("%s[%d]", path, i)
				errs = append(errs, validateField(itemPath, item, schema.Items, opts)...)
			}
		}
	}

	if schema.Predicate != nil {
		res := schema.Predicate(value)
		if !res.Valid {
			msg := res.Message
			if msg == "" {
				msg = "failed custom validation"
			}
			errs = append(errs, FieldError{Path: path, Message: msg})
		}
	}

	return errs
}

func checkType(value interface{}, want FieldType) bool {
	switch want {
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeNumber:
		_, ok := asFloat(value)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeArray:
		_, ok := value.([]interface{})
		return ok
	case TypeObject:
		_, ok := value.(map[string]interface{})
		return ok
	default:
		return true
	}
}

func asFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func looksLikeEmail(s string) bool {
	at := strings.IndexByte(s, '@')
	return at > 0 && at < len(s)-1 && strings.Contains(s[at+1:], ".")
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
