package domain

// RawRecord is an untyped field-name-to-value mapping as received from a
// caller: one CSV row or one JSON request body. Values carry whatever
// primitive type the source produced; the validator owns type checking.
type RawRecord map[string]any

// Record is a patient treatment record that has passed validation. It is
// never mutated after creation; the transformer derives new values from it.
type Record struct {
	PatientID   string  `json:"Patient_ID"`
	Age         int     `json:"Age"`
	Gender      string  `json:"Gender"`
	Condition   string  `json:"Condition"`
	DrugName    string  `json:"Drug_Name"`
	Dosage      float64 `json:"Dosage_mg"`
	Duration    int     `json:"Treatment_Duration_days"`
	SideEffects string  `json:"Side_Effects"`

	// Score is the training label. It is populated only on records
	// validated as training rows, never on API requests.
	Score    float64 `json:"Improvement_Score,omitempty"`
	HasScore bool    `json:"-"`
}

// NumericValue returns the value of a numeric feature field.
// It panics on a non-numeric field name; feature layouts are fixed by the
// contract, so an unknown field here is a programming error.
func (r *Record) NumericValue(field string) float64 {
	switch field {
	case FieldAge:
		return float64(r.Age)
	case FieldDosage:
		return r.Dosage
	case FieldDuration:
		return float64(r.Duration)
	default:
		panic("not a numeric feature field: " + field)
	}
}

// CategoricalValue returns the value of a categorical feature field.
func (r *Record) CategoricalValue(field string) string {
	switch field {
	case FieldGender:
		return r.Gender
	case FieldCondition:
		return r.Condition
	case FieldDrugName:
		return r.DrugName
	case FieldSideEffects:
		return r.SideEffects
	default:
		panic("not a categorical feature field: " + field)
	}
}

// FeatureVector is the fixed-width numeric encoding of one validated
// record. Width and column order are fixed when the transformer is fit and
// identical between training and inference.
type FeatureVector []float64
