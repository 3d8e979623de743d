package service

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/treatment-outcome-server/internal/domain"
)

// NumericStat holds the frozen fit-time scaling statistics of one numeric
// feature column.
type NumericStat struct {
	Field  string  `json:"field"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// CategoricalBlock is one one-hot block: a field and its fixed-position
// indicator columns, one per contract enum value.
type CategoricalBlock struct {
	Field  string   `json:"field"`
	Values []string `json:"values"`
}

// FeatureTransformer maps a validated record to a fixed-width numeric
// feature vector: scaled numerics first, then one one-hot block per
// categorical field. Category positions enumerate from the schema
// contract, never from observed data, so every transformer fit under the
// same contract uses an identical column layout regardless of which rows
// appeared in a given training run.
//
// All fields are exported for JSON artifact persistence; the struct is
// read-only after Fit.
type FeatureTransformer struct {
	Numeric      []NumericStat      `json:"numeric"`
	Categorical  []CategoricalBlock `json:"categorical"`
	ContractHash string             `json:"contract_hash"`
}

// FitTransformer computes scaling statistics over the validated training
// records and freezes the column layout. Fitting is deterministic and
// independent of row order: means and deviations are symmetric in their
// inputs and the layout comes from the contract alone.
func FitTransformer(records []domain.Record, contract *domain.SchemaContract) (*FeatureTransformer, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("cannot fit transformer on empty record set")
	}

	t := &FeatureTransformer{ContractHash: contract.Hash()}

	column := make([]float64, len(records))
	for _, field := range domain.NumericFields() {
		for i := range records {
			column[i] = records[i].NumericValue(field)
		}
		mean, std := stat.MeanStdDev(column, nil)
		if std == 0 || len(records) < 2 {
			// Constant column: center only, leave the scale at unit.
			std = 1
		}
		t.Numeric = append(t.Numeric, NumericStat{Field: field, Mean: mean, StdDev: std})
	}

	for _, field := range domain.CategoricalFields() {
		values := contract.CategoricalValues(field)
		t.Categorical = append(t.Categorical, CategoricalBlock{
			Field:  field,
			Values: append([]string(nil), values...),
		})
	}

	return t, nil
}

// Width returns the fixed feature-vector width.
func (t *FeatureTransformer) Width() int {
	w := len(t.Numeric)
	for _, block := range t.Categorical {
		w += len(block.Values)
	}
	return w
}

// Transform encodes one validated record. It is total over any record that
// passed validation under the same contract version; a category unseen at
// fit time means the validator and transformer disagree about the contract
// and is reported as ErrTransformMismatch, never encoded as a zero block.
func (t *FeatureTransformer) Transform(rec *domain.Record) (domain.FeatureVector, error) {
	vec := make(domain.FeatureVector, 0, t.Width())

	for _, ns := range t.Numeric {
		vec = append(vec, (rec.NumericValue(ns.Field)-ns.Mean)/ns.StdDev)
	}

	for _, block := range t.Categorical {
		value := rec.CategoricalValue(block.Field)
		hit := -1
		for i, v := range block.Values {
			if v == value {
				hit = i
				break
			}
		}
		if hit < 0 {
			return nil, fmt.Errorf("%w: field %s value %q has no column in the fitted layout",
				domain.ErrTransformMismatch, block.Field, value)
		}
		for i := range block.Values {
			if i == hit {
				vec = append(vec, 1)
			} else {
				vec = append(vec, 0)
			}
		}
	}

	if len(vec) != t.Width() {
		return nil, fmt.Errorf("%w: produced width %d, layout expects %d",
			domain.ErrTransformMismatch, len(vec), t.Width())
	}
	return vec, nil
}

// Validate checks that a loaded transformer is internally coherent and was
// fit under the given contract. Called at artifact load time so drift is
// an explicit ArtifactUnavailable condition, not a silent misprediction.
func (t *FeatureTransformer) Validate(contract *domain.SchemaContract) error {
	if t.ContractHash != contract.Hash() {
		return fmt.Errorf("%w: transformer was fit under contract %s, serving contract is %s",
			domain.ErrArtifactUnavailable, t.ContractHash, contract.Hash())
	}
	if len(t.Numeric) != len(domain.NumericFields()) {
		return fmt.Errorf("%w: transformer has %d numeric columns, expected %d",
			domain.ErrArtifactUnavailable, len(t.Numeric), len(domain.NumericFields()))
	}
	for _, ns := range t.Numeric {
		if ns.StdDev == 0 {
			return fmt.Errorf("%w: zero std_dev for %s", domain.ErrArtifactUnavailable, ns.Field)
		}
	}
	for _, block := range t.Categorical {
		declared := contract.CategoricalValues(block.Field)
		if len(block.Values) != len(declared) {
			return fmt.Errorf("%w: %s has %d columns, contract declares %d values",
				domain.ErrArtifactUnavailable, block.Field, len(block.Values), len(declared))
		}
	}
	return nil
}
