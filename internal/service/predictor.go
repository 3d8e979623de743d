package service

import (
	"fmt"
	"math"

	"github.com/treatment-outcome-server/internal/domain"
)

// Predictor wraps a fitted regression model with the output contract:
// every score is clamped into the schema contract's target range before it
// leaves this type, and every prediction is attributable to a model
// version. State is read-only after construction, so one Predictor serves
// concurrent requests without locking.
type Predictor struct {
	model   domain.Model
	lo, hi  float64
	version string
}

// NewPredictor creates a predictor for a fitted model. version is the
// artifact content-hash identifier attached to every response.
func NewPredictor(model domain.Model, scoreRange domain.FloatRange, version string) (*Predictor, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: no model", domain.ErrArtifactUnavailable)
	}
	if version == "" {
		return nil, fmt.Errorf("%w: model has no version identifier", domain.ErrArtifactUnavailable)
	}
	return &Predictor{model: model, lo: scoreRange.Min, hi: scoreRange.Max, version: version}, nil
}

// Predict returns the clamped score for one feature vector. The underlying
// regression model is not guaranteed to respect output bounds; clamping is
// a mandatory post-condition, not an optimization. Scores are rounded to
// two decimals, matching the precision the outcome scale is recorded at.
func (p *Predictor) Predict(features domain.FeatureVector) (float64, error) {
	if len(features) != p.model.NumFeatures() {
		return 0, fmt.Errorf("%w: vector width %d, model expects %d",
			domain.ErrTransformMismatch, len(features), p.model.NumFeatures())
	}

	raw, err := p.model.Predict(features)
	if err != nil {
		return 0, fmt.Errorf("model prediction failed: %w", err)
	}

	clamped := math.Min(math.Max(raw, p.lo), p.hi)
	return math.Round(clamped*100) / 100, nil
}

// Version returns the identifier of the wrapped model artifact.
func (p *Predictor) Version() string {
	return p.version
}
