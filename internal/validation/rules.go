// Package validation provides custom validation rules for the application.
package validation

import (
	"encoding/json"
	"regexp"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/callsync/internal/errors"
)

var (
	// eventNameRegex matches provider event names like "recording.available"
	// or "deal_updated".
	eventNameRegex = regexp.MustCompile(`^[a-z0-9]+([._-][a-z0-9]+)*$`)

	// serviceNameRegex matches third-party service identifiers.
	serviceNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// WrapValidationError wraps validation errors as domain ErrInvalidInput
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// EventName validates provider event identifiers (lowercase, dot/underscore
// separated).
var EventName = validation.By(func(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_event_name_type", "must be a string")
	}
	if s == "" {
		return nil // Let Required handle empty strings
	}
	if !eventNameRegex.MatchString(s) {
		return validation.NewError(
			"validation_event_name",
			"must contain only lowercase letters, digits, and separators",
		)
	}
	return nil
})

// ServiceName validates third-party service identifiers.
var ServiceName = validation.By(func(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_service_name_type", "must be a string")
	}
	if s == "" {
		return nil // Let Required handle empty strings
	}
	if !serviceNameRegex.MatchString(s) {
		return validation.NewError(
			"validation_service_name",
			"must start with a letter and contain only lowercase letters, digits, and underscores",
		)
	}
	return nil
})

// JSONObject validates that a byte slice holds a JSON object.
var JSONObject = validation.By(func(value interface{}) error {
	raw, ok := value.([]byte)
	if !ok {
		return validation.NewError("validation_json_type", "must be a byte slice")
	}
	if len(raw) == 0 {
		return nil // Let Required handle empty payloads
	}
	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return validation.NewError("validation_json", "must be a valid json object")
	}
	return nil
})
