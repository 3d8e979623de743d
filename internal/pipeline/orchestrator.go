// Package pipeline runs the batch training flow: ingest, validate, fit,
// split, train, evaluate, persist. Stages execute in strict order, each a
// hard gate with an enforced wall-clock timeout; any failure aborts the
// run without touching previously published artifacts.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/treatment-outcome-server/internal/artifact"
	"github.com/treatment-outcome-server/internal/domain"
	"github.com/treatment-outcome-server/internal/service"
	"github.com/treatment-outcome-server/pkg/rforest"
)

// RowViolations pairs a data row with the violations found on it.
type RowViolations struct {
	Row        int                `json:"row"`
	Violations []domain.Violation `json:"violations"`
}

// DatasetError reports a dataset that failed validation. It carries every
// failing row: training on partially-invalid data is a harder failure
// mode than training on no data, so the run aborts with the full list
// instead of skipping rows.
type DatasetError struct {
	Rows []RowViolations
}

// Error implements the error interface.
func (e *DatasetError) Error() string {
	total := 0
	for _, r := range e.Rows {
		total += len(r.Violations)
	}
	return fmt.Sprintf("dataset failed validation: %d violation(s) across %d row(s)", total, len(e.Rows))
}

// StageError reports which pipeline stage failed.
type StageError struct {
	Stage string
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %q failed: %v", e.Stage, e.Err)
}

// Unwrap supports errors.Is/As through the stage wrapper.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Orchestrator sequences the batch training pipeline. It runs as a single
// sequential job; stages are never reordered or overlapped, since each
// stage's output is the next stage's required input.
type Orchestrator struct {
	contract *domain.SchemaContract
	cfg      domain.PipelineConfig
	store    *artifact.Store
	log      *logrus.Logger
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(contract *domain.SchemaContract, cfg domain.PipelineConfig, store *artifact.Store, log *logrus.Logger) *Orchestrator {
	return &Orchestrator{contract: contract, cfg: cfg, store: store, log: log}
}

// Result summarizes a completed training run.
type Result struct {
	RunID    string
	Manifest *artifact.Manifest
	Metrics  artifact.Metrics
}

// runState threads intermediate products between stages.
type runState struct {
	raw          []domain.RawRecord
	validated    []domain.Record
	transformer  *service.FeatureTransformer
	combinations *domain.CombinationSet
	x            [][]float64
	y            []float64
	xTrain       [][]float64
	yTrain       []float64
	xTest        [][]float64
	yTest        []float64
	forest       *rforest.Forest
	metrics      artifact.Metrics
	manifest     *artifact.Manifest
}

// Run executes every stage in order and returns the run result.
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	runID := uuid.New().String()
	log := o.log.WithField("run_id", runID)
	log.WithField("raw_data", o.cfg.RawDataPath).Info("Starting training pipeline")

	state := &runState{}
	stages := []struct {
		name string
		fn   func(context.Context, *runState) error
	}{
		{"ingest", o.stageIngest},
		{"validate", o.stageValidate},
		{"preprocess", o.stagePreprocess},
		{"split", o.stageSplit},
		{"train", o.stageTrain},
		{"evaluate", o.stageEvaluate},
		{"persist", o.stagePersist},
	}

	for _, stage := range stages {
		start := time.Now()
		if err := o.runStage(ctx, stage.name, stage.fn, state); err != nil {
			log.WithError(err).WithField("stage", stage.name).Error("Pipeline aborted")
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"stage":    stage.name,
			"duration": time.Since(start),
		}).Info("Stage completed")
	}

	log.WithFields(logrus.Fields{
		"version":      state.manifest.Version,
		"rmse":         state.metrics.RMSE,
		"mae":          state.metrics.MAE,
		"r2":           state.metrics.R2,
		"test_samples": state.metrics.TestSamples,
	}).Info("Training pipeline completed")

	return &Result{RunID: runID, Manifest: state.manifest, Metrics: state.metrics}, nil
}

// runStage enforces the per-stage wall-clock timeout. A stuck stage is
// abandoned and reported by name; it must not hang the whole run.
func (o *Orchestrator) runStage(ctx context.Context, name string, fn func(context.Context, *runState) error, state *runState) error {
	timeout := o.cfg.StageTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(stageCtx, state)
	}()

	select {
	case err := <-done:
		if err != nil {
			return &StageError{Stage: name, Err: err}
		}
		return nil
	case <-stageCtx.Done():
		return &StageError{Stage: name, Err: stageCtx.Err()}
	}
}

func (o *Orchestrator) stageIngest(_ context.Context, state *runState) error {
	raw, err := ReadCSV(o.cfg.RawDataPath)
	if err != nil {
		return err
	}
	o.log.WithField("rows", len(raw)).Info("Ingested raw rows")
	state.raw = raw
	return nil
}

func (o *Orchestrator) stageValidate(_ context.Context, state *runState) error {
	validator := service.NewValidator(o.contract)

	var failed []RowViolations
	validated := make([]domain.Record, 0, len(state.raw))
	for i, raw := range state.raw {
		rec, violations := validator.ValidateTrainingRow(raw)
		if len(violations) > 0 {
			failed = append(failed, RowViolations{Row: i + 1, Violations: violations})
			continue
		}
		validated = append(validated, *rec)
	}

	if len(failed) > 0 {
		for _, row := range failed {
			for _, v := range row.Violations {
				o.log.WithFields(logrus.Fields{
					"row":   row.Row,
					"field": v.Field,
					"kind":  v.Kind,
					"value": v.Value,
				}).Error("Row failed validation")
			}
		}
		return &DatasetError{Rows: failed}
	}

	o.log.WithField("rows", len(validated)).Info("All rows passed schema validation")
	state.validated = validated
	return nil
}

func (o *Orchestrator) stagePreprocess(_ context.Context, state *runState) error {
	transformer, err := service.FitTransformer(state.validated, o.contract)
	if err != nil {
		return err
	}
	combinations := domain.DeriveCombinations(state.validated)

	x := make([][]float64, len(state.validated))
	y := make([]float64, len(state.validated))
	for i := range state.validated {
		vec, err := transformer.Transform(&state.validated[i])
		if err != nil {
			return err
		}
		x[i] = vec
		y[i] = state.validated[i].Score
	}

	o.log.WithFields(logrus.Fields{
		"feature_width": transformer.Width(),
		"combinations":  combinations.Len(),
	}).Info("Fitted feature transformer")

	state.transformer = transformer
	state.combinations = combinations
	state.x = x
	state.y = y
	return nil
}

// stageSplit partitions deterministically: a fixed-seed shuffle of row
// indices followed by a ratio cut. The same seed and dataset always
// produce the same partitions.
func (o *Orchestrator) stageSplit(_ context.Context, state *runState) error {
	n := len(state.x)
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewSource(o.cfg.RandomSeed))
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	testN := int(float64(n) * o.cfg.TestSplit)
	if testN < 1 {
		testN = 1
	}
	if testN >= n {
		return fmt.Errorf("test split %.2f leaves no training rows for %d samples", o.cfg.TestSplit, n)
	}

	for i, j := range idx {
		if i < testN {
			state.xTest = append(state.xTest, state.x[j])
			state.yTest = append(state.yTest, state.y[j])
		} else {
			state.xTrain = append(state.xTrain, state.x[j])
			state.yTrain = append(state.yTrain, state.y[j])
		}
	}

	o.log.WithFields(logrus.Fields{
		"train_rows": len(state.xTrain),
		"test_rows":  len(state.xTest),
	}).Info("Split dataset")
	return nil
}

func (o *Orchestrator) stageTrain(_ context.Context, state *runState) error {
	params := rforest.Params{
		NumTrees:        o.cfg.NumTrees,
		MaxDepth:        o.cfg.MaxDepth,
		MinSamplesSplit: o.cfg.MinSamplesSplit,
		MinSamplesLeaf:  o.cfg.MinSamplesLeaf,
		Seed:            o.cfg.RandomSeed,
	}

	forest, err := rforest.Fit(state.xTrain, state.yTrain, params)
	if err != nil {
		return err
	}
	state.forest = forest

	o.logFeatureImportances(state)
	return nil
}

func (o *Orchestrator) stageEvaluate(_ context.Context, state *runState) error {
	metrics, err := evaluate(state.forest, state.xTest, state.yTest)
	if err != nil {
		return err
	}
	o.log.WithFields(logrus.Fields{
		"rmse":         metrics.RMSE,
		"mae":          metrics.MAE,
		"r2":           metrics.R2,
		"test_samples": metrics.TestSamples,
	}).Info("Evaluated model on held-out partition")
	state.metrics = metrics
	return nil
}

func (o *Orchestrator) stagePersist(_ context.Context, state *runState) error {
	manifest, err := o.store.Save(state.transformer, state.forest, state.combinations, state.metrics)
	if err != nil {
		return err
	}
	state.manifest = manifest
	return nil
}

// logFeatureImportances logs the top columns by impurity decrease, named
// after the transformer's layout.
func (o *Orchestrator) logFeatureImportances(state *runState) {
	names := featureNames(state.transformer)
	importances := state.forest.FeatureImportances()

	type pair struct {
		name string
		imp  float64
	}
	pairs := make([]pair, len(importances))
	for i := range importances {
		pairs[i] = pair{names[i], importances[i]}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].imp > pairs[j].imp })

	top := 10
	if len(pairs) < top {
		top = len(pairs)
	}
	for _, p := range pairs[:top] {
		o.log.WithFields(logrus.Fields{
			"feature":    p.name,
			"importance": fmt.Sprintf("%.4f", p.imp),
		}).Info("Feature importance")
	}
}

func featureNames(t *service.FeatureTransformer) []string {
	var names []string
	for _, ns := range t.Numeric {
		names = append(names, ns.Field)
	}
	for _, block := range t.Categorical {
		for _, v := range block.Values {
			names = append(names, block.Field+"="+v)
		}
	}
	return names
}
