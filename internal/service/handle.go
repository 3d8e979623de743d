package service

import (
	"fmt"
	"sync/atomic"

	"github.com/treatment-outcome-server/internal/domain"
)

// ModelBundle is one fully-formed serving artifact set: the fitted
// transformer, the clamping predictor, and the combinations table,
// all produced by the same training run. Bundles are immutable; rotation
// replaces the whole bundle, never a member.
type ModelBundle struct {
	Transformer  *FeatureTransformer
	Predictor    *Predictor
	Combinations *domain.CombinationSet
	Version      string
}

// Validate checks cross-member coherence: the transformer's width must
// match the model's expected input and versions must agree.
func (b *ModelBundle) Validate() error {
	if b.Transformer == nil || b.Predictor == nil || b.Combinations == nil {
		return fmt.Errorf("%w: incomplete bundle", domain.ErrArtifactUnavailable)
	}
	if b.Version == "" || b.Predictor.Version() != b.Version {
		return fmt.Errorf("%w: bundle version %q does not match predictor version %q",
			domain.ErrArtifactUnavailable, b.Version, b.Predictor.Version())
	}
	if b.Transformer.Width() != b.Predictor.model.NumFeatures() {
		return fmt.Errorf("%w: transformer width %d, model expects %d",
			domain.ErrArtifactUnavailable, b.Transformer.Width(), b.Predictor.model.NumFeatures())
	}
	return nil
}

// ModelHandle is the explicitly owned, swappable reference to the current
// serving bundle. Readers always observe one fully-formed bundle; Swap
// publishes a complete replacement atomically, so a request in flight
// during rotation sees either the fully-old or fully-new artifact pair,
// never old transformer with new model.
//
// The handle is injected into the API layer rather than accessed through a
// global so tests can substitute fakes.
type ModelHandle struct {
	current atomic.Pointer[ModelBundle]
}

// NewModelHandle returns an empty handle. Current returns
// ErrArtifactUnavailable until the first Swap.
func NewModelHandle() *ModelHandle {
	return &ModelHandle{}
}

// Current returns the serving bundle, or ErrArtifactUnavailable when no
// coherent artifact pair has been published yet.
func (h *ModelHandle) Current() (*ModelBundle, error) {
	b := h.current.Load()
	if b == nil {
		return nil, domain.ErrArtifactUnavailable
	}
	return b, nil
}

// Ready reports whether a bundle is published.
func (h *ModelHandle) Ready() bool {
	return h.current.Load() != nil
}

// Swap validates and publishes a new bundle. The bundle must be fully
// constructed before this call; Swap refuses incoherent bundles so the
// handle can never point at a partially-loaded state.
func (h *ModelHandle) Swap(b *ModelBundle) error {
	if err := b.Validate(); err != nil {
		return err
	}
	h.current.Store(b)
	return nil
}
