package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestViolation_Error(t *testing.T) {
	v := NewViolation(FieldAge, ViolationOutOfRange, "must be in range [18, 100]", 150)

	assert.Equal(t, "validation error for field 'Age': must be in range [18, 100]", v.Error())
	assert.Equal(t, 150, v.Value)
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Violations: []Violation{
		NewViolation(FieldAge, ViolationOutOfRange, "too large", 150),
		NewViolation(FieldGender, ViolationMissingField, "field is required", nil),
	}}

	assert.Contains(t, err.Error(), "2 violation(s)")
	assert.Contains(t, err.Error(), "Age")
	assert.Contains(t, err.Error(), "Gender")
}

func TestValidationError_OnlyUntestedCombination(t *testing.T) {
	only := &ValidationError{Violations: []Violation{
		NewViolation(FieldDrugName, ViolationUntestedCombination, "no training precedent", "Metformin"),
	}}
	assert.True(t, only.OnlyUntestedCombination())

	mixed := &ValidationError{Violations: []Violation{
		NewViolation(FieldDrugName, ViolationUntestedCombination, "no training precedent", "Metformin"),
		NewViolation(FieldAge, ViolationOutOfRange, "too large", 150),
	}}
	assert.False(t, mixed.OnlyUntestedCombination())

	empty := &ValidationError{}
	assert.False(t, empty.OnlyUntestedCombination())
}

func TestNewServiceError(t *testing.T) {
	err := NewServiceError(ErrCodeValidation, "Request failed schema validation", "", "req-123")

	assert.Equal(t, ErrCodeValidation, err.Code)
	assert.Equal(t, "req-123", err.RequestID)
	assert.False(t, err.Timestamp.IsZero())
	assert.Equal(t, "VALIDATION_ERROR: Request failed schema validation", err.Error())
}
