package domain

// Model is a fitted regression model over fixed-width feature vectors.
// Implementations must be immutable after fitting so a single instance can
// serve concurrent predictions without locking.
type Model interface {
	// Predict returns the raw (unclamped) regression output for one
	// feature vector. The width must equal NumFeatures.
	Predict(features []float64) (float64, error)

	// NumFeatures returns the feature width the model was fit with.
	NumFeatures() int
}
