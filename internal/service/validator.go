// Package service implements the schema-contract core: record validation,
// feature transformation, and clamped prediction. All three derive from
// the same loaded SchemaContract so a value rejected at one surface is
// never silently accepted at another.
package service

import (
	"fmt"
	"math"
	"sort"

	"github.com/treatment-outcome-server/internal/domain"
)

// Validator checks raw records against the schema contract and the
// combinations table. It is a pure function of its inputs: no side
// effects, no retained state beyond the contract reference.
type Validator struct {
	contract *domain.SchemaContract
}

// NewValidator creates a validator bound to a loaded contract.
func NewValidator(contract *domain.SchemaContract) *Validator {
	return &Validator{contract: contract}
}

// ValidateRequest validates a single prediction request. The training
// label must not appear on requests. combinations may be nil to skip the
// (condition, drug) gate. Violations accumulate; the caller always
// receives the complete list.
func (v *Validator) ValidateRequest(raw domain.RawRecord, combinations *domain.CombinationSet) (*domain.Record, []domain.Violation) {
	return v.validate(raw, combinations, false)
}

// ValidateTrainingRow validates one batch row, which must carry the
// Improvement_Score label in the contract's score range. The combination
// gate is skipped: the combinations table is derived from the validated
// training set, so it does not exist yet when rows are checked.
func (v *Validator) ValidateTrainingRow(raw domain.RawRecord) (*domain.Record, []domain.Violation) {
	return v.validate(raw, nil, true)
}

func (v *Validator) validate(raw domain.RawRecord, combinations *domain.CombinationSet, trainingRow bool) (*domain.Record, []domain.Violation) {
	var violations []domain.Violation
	rec := &domain.Record{}
	c := v.contract

	expected := make(map[string]struct{})
	for _, f := range domain.RequestFields() {
		expected[f] = struct{}{}
	}
	if trainingRow {
		expected[domain.FieldScore] = struct{}{}
	}

	add := func(field string, kind domain.ViolationKind, reason string, value any) {
		violations = append(violations, domain.NewViolation(field, kind, reason, value))
	}

	// Patient identifier: format-matched only, content is opaque.
	if id, ok, vio := stringField(raw, domain.FieldPatientID); vio != nil {
		violations = append(violations, *vio)
	} else if ok {
		if !c.MatchesPatientID(id) {
			add(domain.FieldPatientID, domain.ViolationBadFormat,
				fmt.Sprintf("must match pattern %s", c.PatientIDPattern), id)
		} else {
			rec.PatientID = id
		}
	}

	// Age: integer, inclusive range.
	if age, ok, vio := intField(raw, domain.FieldAge); vio != nil {
		violations = append(violations, *vio)
	} else if ok {
		if !c.AgeRange.Contains(age) {
			add(domain.FieldAge, domain.ViolationOutOfRange,
				fmt.Sprintf("must be in range [%d, %d]", c.AgeRange.Min, c.AgeRange.Max), age)
		} else {
			rec.Age = age
		}
	}

	// Categorical enums.
	for _, spec := range []struct {
		field string
		dst   *string
	}{
		{domain.FieldGender, &rec.Gender},
		{domain.FieldCondition, &rec.Condition},
		{domain.FieldDrugName, &rec.DrugName},
		{domain.FieldSideEffects, &rec.SideEffects},
	} {
		val, ok, vio := stringField(raw, spec.field)
		if vio != nil {
			violations = append(violations, *vio)
			continue
		}
		if !ok {
			continue
		}
		if !contains(c.CategoricalValues(spec.field), val) {
			add(spec.field, domain.ViolationInvalidValue,
				fmt.Sprintf("must be one of %v", c.CategoricalValues(spec.field)), val)
			continue
		}
		*spec.dst = val
	}

	// Dosage: exact membership in the enumerated set, not a range.
	// Comparison is against the canonical contract values so serialization
	// drift (50.00000001 for 50.0) is rejected rather than absorbed.
	if dosage, ok, vio := floatField(raw, domain.FieldDosage); vio != nil {
		violations = append(violations, *vio)
	} else if ok {
		if !c.ValidDosage(dosage) {
			add(domain.FieldDosage, domain.ViolationInvalidValue,
				fmt.Sprintf("must be one of %v", c.Dosages), dosage)
		} else {
			rec.Dosage = dosage
		}
	}

	// Treatment duration: integer, inclusive range.
	if dur, ok, vio := intField(raw, domain.FieldDuration); vio != nil {
		violations = append(violations, *vio)
	} else if ok {
		if !c.DurationRange.Contains(dur) {
			add(domain.FieldDuration, domain.ViolationOutOfRange,
				fmt.Sprintf("must be in range [%d, %d]", c.DurationRange.Min, c.DurationRange.Max), dur)
		} else {
			rec.Duration = dur
		}
	}

	// Improvement score: required label on training rows, forbidden on
	// API requests.
	if trainingRow {
		if score, ok, vio := floatField(raw, domain.FieldScore); vio != nil {
			violations = append(violations, *vio)
		} else if ok {
			if !c.ScoreRange.Contains(score) {
				add(domain.FieldScore, domain.ViolationOutOfRange,
					fmt.Sprintf("must be in range [%g, %g]", c.ScoreRange.Min, c.ScoreRange.Max), score)
			} else {
				rec.Score = score
				rec.HasScore = true
			}
		}
	}

	// Unknown fields, in deterministic order.
	var unknown []string
	for field := range raw {
		if _, ok := expected[field]; !ok {
			unknown = append(unknown, field)
		}
	}
	sort.Strings(unknown)
	for _, field := range unknown {
		add(field, domain.ViolationUnknownField, "field is not part of the schema", raw[field])
	}

	// Combination gate: a clinical-safety signal, distinct from enum
	// violations, checked only when both fields are individually valid.
	if combinations != nil && rec.Condition != "" && rec.DrugName != "" {
		if !combinations.Contains(rec.Condition, rec.DrugName) {
			add(domain.FieldDrugName, domain.ViolationUntestedCombination,
				fmt.Sprintf("combination (%s, %s) has no training precedent", rec.Condition, rec.DrugName),
				rec.DrugName)
		}
	}

	if len(violations) > 0 {
		return nil, violations
	}
	return rec, nil
}

// stringField extracts a required string field. Returns the value, whether
// it was present and typed correctly, and a violation otherwise.
func stringField(raw domain.RawRecord, field string) (string, bool, *domain.Violation) {
	val, present := raw[field]
	if !present || val == nil {
		v := domain.NewViolation(field, domain.ViolationMissingField, "field is required", nil)
		return "", false, &v
	}
	s, ok := val.(string)
	if !ok {
		v := domain.NewViolation(field, domain.ViolationTypeMismatch,
			fmt.Sprintf("expected string, got %T", val), val)
		return "", false, &v
	}
	return s, true, nil
}

// intField extracts a required integer field. JSON decoding produces
// float64 for all numbers, so integral floats are accepted; fractional
// values and non-numeric types are type violations, never coerced.
func intField(raw domain.RawRecord, field string) (int, bool, *domain.Violation) {
	val, present := raw[field]
	if !present || val == nil {
		v := domain.NewViolation(field, domain.ViolationMissingField, "field is required", nil)
		return 0, false, &v
	}
	switch n := val.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case float64:
		if n != math.Trunc(n) {
			v := domain.NewViolation(field, domain.ViolationTypeMismatch,
				"expected integer, got fractional number", val)
			return 0, false, &v
		}
		return int(n), true, nil
	default:
		v := domain.NewViolation(field, domain.ViolationTypeMismatch,
			fmt.Sprintf("expected integer, got %T", val), val)
		return 0, false, &v
	}
}

// floatField extracts a required numeric field.
func floatField(raw domain.RawRecord, field string) (float64, bool, *domain.Violation) {
	val, present := raw[field]
	if !present || val == nil {
		v := domain.NewViolation(field, domain.ViolationMissingField, "field is required", nil)
		return 0, false, &v
	}
	switch n := val.(type) {
	case float64:
		return n, true, nil
	case int:
		return float64(n), true, nil
	case int64:
		return float64(n), true, nil
	default:
		v := domain.NewViolation(field, domain.ViolationTypeMismatch,
			fmt.Sprintf("expected number, got %T", val), val)
		return 0, false, &v
	}
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
