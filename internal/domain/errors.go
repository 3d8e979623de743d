package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error codes for the failure taxonomy. Validation and untested-combination
// failures are expected and fully recoverable at the request boundary;
// transform-mismatch and artifact-unavailable are operator-facing.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeUntestedCombination = "UNTESTED_COMBINATION"
	ErrCodeTransformMismatch   = "TRANSFORM_MISMATCH"
	ErrCodeArtifactUnavailable = "ARTIFACT_UNAVAILABLE"
	ErrCodePrediction          = "PREDICTION_ERROR"
	ErrCodeInternalServer      = "INTERNAL_SERVER_ERROR"
)

// Sentinel errors for errors.Is checks across package boundaries.
var (
	// ErrArtifactUnavailable signals that the model/transformer pair is
	// not loaded or incompatible. Surfaces as not-ready, never a crash.
	ErrArtifactUnavailable = errors.New("model artifact unavailable")

	// ErrTransformMismatch signals contract drift between validator and
	// transformer. It must never happen in correct operation and is a
	// fatal internal-consistency failure, not a user input error.
	ErrTransformMismatch = errors.New("feature transform mismatch")
)

// ViolationKind classifies a single schema violation.
type ViolationKind string

const (
	ViolationMissingField ViolationKind = "missing_field"
	ViolationUnknownField ViolationKind = "unknown_field"
	ViolationTypeMismatch ViolationKind = "type_mismatch"
	ViolationOutOfRange   ViolationKind = "out_of_range"
	ViolationInvalidValue ViolationKind = "invalid_value"
	ViolationBadFormat    ViolationKind = "invalid_format"

	// ViolationUntestedCombination marks structurally valid fields whose
	// (condition, drug) pair has no training precedent. Distinct from the
	// enum kinds so callers can choose to warn instead of hard-block.
	ViolationUntestedCombination ViolationKind = "untested_combination"
)

// Violation is one validation failure: the field, the constraint violated,
// and the offending value. Violations accumulate; callers always see the
// complete list, never just the first failure.
type Violation struct {
	Field  string        `json:"field"`
	Kind   ViolationKind `json:"kind"`
	Reason string        `json:"reason"`
	Value  any           `json:"value"`
}

// Error implements the error interface.
func (v Violation) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", v.Field, v.Reason)
}

// NewViolation creates a Violation.
func NewViolation(field string, kind ViolationKind, reason string, value any) Violation {
	return Violation{Field: field, Kind: kind, Reason: reason, Value: value}
}

// ValidationError aggregates every violation found on one record.
type ValidationError struct {
	Violations []Violation
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Error()
	}
	return fmt.Sprintf("record failed validation with %d violation(s): %s",
		len(e.Violations), strings.Join(parts, "; "))
}

// OnlyUntestedCombination reports whether every violation is the
// untested-combination kind. The service layer uses this to apply the
// configured warn-instead-of-block policy.
func (e *ValidationError) OnlyUntestedCombination() bool {
	if len(e.Violations) == 0 {
		return false
	}
	for _, v := range e.Violations {
		if v.Kind != ViolationUntestedCombination {
			return false
		}
	}
	return true
}

// ServiceError is the standardized error envelope returned over HTTP for
// operator-facing failures. Internal detail stays in logs; callers get the
// code, a generic message, and a request ID to quote when escalating.
type ServiceError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewServiceError creates a ServiceError with timestamp.
func NewServiceError(code, message, details, requestID string) *ServiceError {
	return &ServiceError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}
