// Package domain contains the core business entities for treatment outcome
// prediction: the schema contract, patient treatment records, feature
// vectors, and the violation taxonomy shared by the batch pipeline and the
// inference service.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Canonical field names. These match the column headers of the source
// dataset and the JSON keys of the prediction API.
const (
	FieldPatientID   = "Patient_ID"
	FieldAge         = "Age"
	FieldGender      = "Gender"
	FieldCondition   = "Condition"
	FieldDrugName    = "Drug_Name"
	FieldDosage      = "Dosage_mg"
	FieldDuration    = "Treatment_Duration_days"
	FieldSideEffects = "Side_Effects"
	FieldScore       = "Improvement_Score"
)

// IntRange is an inclusive integer range. Values exactly at Min or Max are
// inside the range.
type IntRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether v lies in the inclusive range.
func (r IntRange) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// UnmarshalYAML accepts the two-element list form used by the contract
// file, e.g. `age_range: [18, 100]`.
func (r *IntRange) UnmarshalYAML(value *yaml.Node) error {
	var pair []int
	if err := value.Decode(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("range must have exactly 2 elements, got %d", len(pair))
	}
	r.Min, r.Max = pair[0], pair[1]
	return nil
}

// FloatRange is an inclusive floating-point range.
type FloatRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains reports whether v lies in the inclusive range.
func (r FloatRange) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// UnmarshalYAML accepts the two-element list form, e.g. `score_range: [0, 10]`.
func (r *FloatRange) UnmarshalYAML(value *yaml.Node) error {
	var pair []float64
	if err := value.Decode(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("range must have exactly 2 elements, got %d", len(pair))
	}
	r.Min, r.Max = pair[0], pair[1]
	return nil
}

// SchemaContract is the single authority on field types, bounds, and
// allowed values. The validator, the feature transformer, and the dropdown
// export all derive from the same loaded contract; no component keeps its
// own copy of a bound.
type SchemaContract struct {
	PatientIDPattern string     `yaml:"patient_id_pattern" json:"patient_id_pattern"`
	AgeRange         IntRange   `yaml:"age_range" json:"age_range"`
	DurationRange    IntRange   `yaml:"duration_range" json:"duration_range"`
	ScoreRange       FloatRange `yaml:"score_range" json:"score_range"`
	Genders          []string   `yaml:"gender_values" json:"gender_values"`
	Conditions       []string   `yaml:"condition_values" json:"condition_values"`
	Drugs            []string   `yaml:"drug_values" json:"drug_values"`
	SideEffects      []string   `yaml:"side_effect_values" json:"side_effect_values"`
	Dosages          []float64  `yaml:"dosage_values" json:"dosage_values"`

	idPattern *regexp.Regexp
}

// LoadContract reads and validates a schema contract from a YAML file.
// A malformed contract is a startup error, never a request-time surprise.
func LoadContract(path string) (*SchemaContract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read contract file: %w", err)
	}
	return ParseContract(data)
}

// ParseContract parses and validates a schema contract from YAML bytes.
func ParseContract(data []byte) (*SchemaContract, error) {
	var c SchemaContract
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse contract: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid contract: %w", err)
	}
	return &c, nil
}

// Validate checks the contract for internal consistency. Every enum must
// be non-empty and duplicate-free, every range ordered, and the patient ID
// pattern must compile.
func (c *SchemaContract) Validate() error {
	if c.PatientIDPattern == "" {
		return fmt.Errorf("patient_id_pattern is required")
	}
	re, err := regexp.Compile(c.PatientIDPattern)
	if err != nil {
		return fmt.Errorf("patient_id_pattern does not compile: %w", err)
	}
	c.idPattern = re

	if c.AgeRange.Min > c.AgeRange.Max {
		return fmt.Errorf("age_range is inverted: [%d, %d]", c.AgeRange.Min, c.AgeRange.Max)
	}
	if c.DurationRange.Min > c.DurationRange.Max {
		return fmt.Errorf("duration_range is inverted: [%d, %d]", c.DurationRange.Min, c.DurationRange.Max)
	}
	if c.ScoreRange.Min > c.ScoreRange.Max {
		return fmt.Errorf("score_range is inverted: [%g, %g]", c.ScoreRange.Min, c.ScoreRange.Max)
	}

	enums := map[string][]string{
		"gender_values":      c.Genders,
		"condition_values":   c.Conditions,
		"drug_values":        c.Drugs,
		"side_effect_values": c.SideEffects,
	}
	for name, values := range enums {
		if len(values) == 0 {
			return fmt.Errorf("%s must not be empty", name)
		}
		seen := make(map[string]struct{}, len(values))
		for _, v := range values {
			if v == "" {
				return fmt.Errorf("%s contains an empty value", name)
			}
			if _, dup := seen[v]; dup {
				return fmt.Errorf("%s contains duplicate value %q", name, v)
			}
			seen[v] = struct{}{}
		}
	}

	if len(c.Dosages) == 0 {
		return fmt.Errorf("dosage_values must not be empty")
	}
	seen := make(map[float64]struct{}, len(c.Dosages))
	for _, d := range c.Dosages {
		if d <= 0 {
			return fmt.Errorf("dosage_values contains non-positive value %g", d)
		}
		if _, dup := seen[d]; dup {
			return fmt.Errorf("dosage_values contains duplicate value %g", d)
		}
		seen[d] = struct{}{}
	}

	return nil
}

// MatchesPatientID reports whether id matches the contract's identifier
// pattern. The pattern gates format only; identifier content is opaque.
func (c *SchemaContract) MatchesPatientID(id string) bool {
	if c.idPattern == nil {
		c.idPattern = regexp.MustCompile(c.PatientIDPattern)
	}
	return c.idPattern.MatchString(id)
}

// ValidDosage reports whether v equals one of the enumerated dosages.
// Membership is exact equality against the canonical contract values;
// dosage is a discrete set, not a continuous range.
func (c *SchemaContract) ValidDosage(v float64) bool {
	for _, d := range c.Dosages {
		if v == d {
			return true
		}
	}
	return false
}

// CategoricalValues returns the allowed values of a categorical field in
// contract order, or nil for non-categorical fields. The transformer and
// the dropdown export both read category layouts through this accessor.
func (c *SchemaContract) CategoricalValues(field string) []string {
	switch field {
	case FieldGender:
		return c.Genders
	case FieldCondition:
		return c.Conditions
	case FieldDrugName:
		return c.Drugs
	case FieldSideEffects:
		return c.SideEffects
	default:
		return nil
	}
}

// CategoricalFields returns the categorical field names in their fixed
// feature-layout order.
func CategoricalFields() []string {
	return []string{FieldGender, FieldCondition, FieldDrugName, FieldSideEffects}
}

// NumericFields returns the numeric feature field names in their fixed
// feature-layout order.
func NumericFields() []string {
	return []string{FieldAge, FieldDosage, FieldDuration}
}

// RequestFields returns every field expected on a prediction request.
func RequestFields() []string {
	return []string{
		FieldPatientID, FieldAge, FieldGender, FieldCondition,
		FieldDrugName, FieldDosage, FieldDuration, FieldSideEffects,
	}
}

// DropdownValues is the read-only enum export consumed by external UIs, so
// a frontend never duplicates contract bounds.
type DropdownValues struct {
	Genders     []string  `json:"genders"`
	Conditions  []string  `json:"conditions"`
	Drugs       []string  `json:"drugs"`
	SideEffects []string  `json:"side_effects"`
	Dosages     []float64 `json:"dosages"`
}

// Dropdowns returns the full allowed-value list of every categorical field
// plus the dosage set, as declared in the contract.
func (c *SchemaContract) Dropdowns() DropdownValues {
	return DropdownValues{
		Genders:     append([]string(nil), c.Genders...),
		Conditions:  append([]string(nil), c.Conditions...),
		Drugs:       append([]string(nil), c.Drugs...),
		SideEffects: append([]string(nil), c.SideEffects...),
		Dosages:     append([]float64(nil), c.Dosages...),
	}
}

// Hash returns a short content hash of the contract. Artifacts record the
// hash of the contract they were fit under so that drift between a
// persisted transformer and the serving contract is detected at load time.
func (c *SchemaContract) Hash() string {
	// JSON marshaling of the struct is deterministic for fixed field order.
	data, err := json.Marshal(c)
	if err != nil {
		// Contract is plain data; marshal cannot fail for a valid contract.
		panic(fmt.Sprintf("contract hash: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:8])
}
