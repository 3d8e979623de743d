package pipeline

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/treatment-outcome-server/internal/artifact"
	"github.com/treatment-outcome-server/internal/domain"
)

// evaluate computes RMSE, MAE, and R² of the model over the held-out
// partition. Predictions are the raw model outputs; clamping is a serving
// concern and would mask regression quality here.
func evaluate(model domain.Model, x [][]float64, y []float64) (artifact.Metrics, error) {
	if len(x) == 0 {
		return artifact.Metrics{}, fmt.Errorf("empty test partition")
	}

	predictions := make([]float64, len(x))
	for i, features := range x {
		p, err := model.Predict(features)
		if err != nil {
			return artifact.Metrics{}, fmt.Errorf("prediction failed on test sample %d: %w", i, err)
		}
		predictions[i] = p
	}

	var sumSq, sumAbs float64
	for i := range y {
		diff := predictions[i] - y[i]
		sumSq += diff * diff
		sumAbs += math.Abs(diff)
	}
	n := float64(len(y))

	meanY := stat.Mean(y, nil)
	var ssTot float64
	for _, v := range y {
		d := v - meanY
		ssTot += d * d
	}
	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - sumSq/ssTot
	}

	return artifact.Metrics{
		RMSE:        round4(math.Sqrt(sumSq / n)),
		MAE:         round4(sumAbs / n),
		R2:          round4(r2),
		TestSamples: len(y),
	}, nil
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
