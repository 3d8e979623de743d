// Package artifact persists and loads versioned model artifacts: the
// fitted transformer, the regression forest, the combinations table, a
// metrics document, and a manifest binding them together. Compatibility is
// an explicit contract checked at load time; a stale or tampered artifact
// surfaces as ErrArtifactUnavailable, never as a cryptic decode crash.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/treatment-outcome-server/internal/domain"
	"github.com/treatment-outcome-server/internal/service"
	"github.com/treatment-outcome-server/pkg/rforest"
)

// Artifact file names. The manifest sits at the store root; blobs live in
// a subdirectory named after the manifest version.
const (
	manifestFile     = "manifest.json"
	modelFile        = "model.json"
	transformerFile  = "transformer.json"
	combinationsFile = "combinations.json"
	metricsFile      = "metrics.json"
)

// formatVersion is bumped whenever the serialized layout of any blob
// changes incompatibly.
const formatVersion = 1

// producer identifies the code that wrote an artifact set.
const producer = "outcome-pipeline/1.0.0"

// Manifest records what an artifact set is and what produced it. The
// version is a content hash of the defining inputs, so two runs over the
// same code, data, and parameters produce the same identifier.
type Manifest struct {
	FormatVersion      int       `json:"format_version"`
	Version            string    `json:"version"`
	CreatedAt          time.Time `json:"created_at"`
	Producer           string    `json:"producer"`
	ModelType          string    `json:"model_type"`
	ContractHash       string    `json:"contract_hash"`
	ModelSHA256        string    `json:"model_sha256"`
	TransformerSHA256  string    `json:"transformer_sha256"`
	CombinationsSHA256 string    `json:"combinations_sha256"`
}

// Metrics is the evaluation document persisted next to the model.
type Metrics struct {
	RMSE        float64 `json:"rmse"`
	MAE         float64 `json:"mae"`
	R2          float64 `json:"r2"`
	TestSamples int     `json:"test_samples"`
}

// Store reads and writes artifact sets under a single directory.
type Store struct {
	dir string
	log *logrus.Logger
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, log *logrus.Logger) *Store {
	return &Store{dir: dir, log: log}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// ManifestPath returns the path of the manifest file. The artifact watcher
// keys reloads off this file.
func (s *Store) ManifestPath() string {
	return filepath.Join(s.dir, manifestFile)
}

// Save persists a complete artifact set. Blobs land in a subdirectory
// named after the content version; the root manifest is renamed into place
// last and is the only publish point. A failure at any earlier step leaves
// the previously published set fully intact and loadable.
func (s *Store) Save(t *service.FeatureTransformer, forest *rforest.Forest, combos *domain.CombinationSet, metrics Metrics) (*Manifest, error) {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	modelData, err := json.Marshal(forest)
	if err != nil {
		return nil, fmt.Errorf("failed to encode model: %w", err)
	}
	transformerData, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transformer: %w", err)
	}
	combosData, err := json.Marshal(combos)
	if err != nil {
		return nil, fmt.Errorf("failed to encode combinations: %w", err)
	}
	metricsData, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode metrics: %w", err)
	}

	manifest := &Manifest{
		FormatVersion:      formatVersion,
		Version:            contentVersion(modelData, transformerData, combosData, t.ContractHash),
		CreatedAt:          time.Now().UTC(),
		Producer:           producer,
		ModelType:          "random_forest",
		ContractHash:       t.ContractHash,
		ModelSHA256:        sha256Hex(modelData),
		TransformerSHA256:  sha256Hex(transformerData),
		CombinationsSHA256: sha256Hex(combosData),
	}
	manifestData, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}

	verDir := filepath.Join(s.dir, manifest.Version)
	if err := os.MkdirAll(verDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create version directory: %w", err)
	}
	blobs := []struct {
		name string
		data []byte
	}{
		{modelFile, modelData},
		{transformerFile, transformerData},
		{combinationsFile, combosData},
		{metricsFile, metricsData},
	}
	for _, blob := range blobs {
		if err := writeAtomic(verDir, blob.name, blob.data); err != nil {
			return nil, err
		}
	}
	if err := writeAtomic(s.dir, manifestFile, manifestData); err != nil {
		return nil, err
	}
	s.pruneStale(manifest.Version)

	s.log.WithFields(logrus.Fields{
		"version":      manifest.Version,
		"dir":          s.dir,
		"combinations": combos.Len(),
		"trees":        len(forest.Trees),
	}).Info("Artifact set persisted")

	return manifest, nil
}

// LoadBundle reads and verifies the artifact set and assembles a serving
// bundle. Any missing file, hash mismatch, format skew, or contract drift
// is reported as ErrArtifactUnavailable.
func (s *Store) LoadBundle(contract *domain.SchemaContract) (*service.ModelBundle, *Manifest, error) {
	manifestData, err := os.ReadFile(s.ManifestPath())
	if err != nil {
		return nil, nil, fmt.Errorf("%w: reading manifest: %v", domain.ErrArtifactUnavailable, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, nil, fmt.Errorf("%w: decoding manifest: %v", domain.ErrArtifactUnavailable, err)
	}
	if manifest.FormatVersion != formatVersion {
		return nil, nil, fmt.Errorf("%w: artifact format version %d, this build reads %d",
			domain.ErrArtifactUnavailable, manifest.FormatVersion, formatVersion)
	}
	if manifest.ModelType != "random_forest" {
		return nil, nil, fmt.Errorf("%w: unsupported model type %q",
			domain.ErrArtifactUnavailable, manifest.ModelType)
	}

	verDir := filepath.Join(s.dir, manifest.Version)
	modelData, err := readVerified(verDir, modelFile, manifest.ModelSHA256)
	if err != nil {
		return nil, nil, err
	}
	transformerData, err := readVerified(verDir, transformerFile, manifest.TransformerSHA256)
	if err != nil {
		return nil, nil, err
	}
	combosData, err := readVerified(verDir, combinationsFile, manifest.CombinationsSHA256)
	if err != nil {
		return nil, nil, err
	}

	var forest rforest.Forest
	if err := json.Unmarshal(modelData, &forest); err != nil {
		return nil, nil, fmt.Errorf("%w: decoding model: %v", domain.ErrArtifactUnavailable, err)
	}
	var transformer service.FeatureTransformer
	if err := json.Unmarshal(transformerData, &transformer); err != nil {
		return nil, nil, fmt.Errorf("%w: decoding transformer: %v", domain.ErrArtifactUnavailable, err)
	}
	combos := domain.NewCombinationSet()
	if err := json.Unmarshal(combosData, combos); err != nil {
		return nil, nil, fmt.Errorf("%w: decoding combinations: %v", domain.ErrArtifactUnavailable, err)
	}

	if err := transformer.Validate(contract); err != nil {
		return nil, nil, err
	}

	predictor, err := service.NewPredictor(&forest, contract.ScoreRange, manifest.Version)
	if err != nil {
		return nil, nil, err
	}

	bundle := &service.ModelBundle{
		Transformer:  &transformer,
		Predictor:    predictor,
		Combinations: combos,
		Version:      manifest.Version,
	}
	if err := bundle.Validate(); err != nil {
		return nil, nil, err
	}

	s.log.WithFields(logrus.Fields{
		"version":      manifest.Version,
		"created_at":   manifest.CreatedAt,
		"producer":     manifest.Producer,
		"combinations": combos.Len(),
	}).Info("Artifact bundle loaded")

	return bundle, &manifest, nil
}

// LoadMetrics reads the evaluation metrics of the published artifact set.
func (s *Store) LoadMetrics() (*Metrics, error) {
	manifestData, err := os.ReadFile(s.ManifestPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	data, err := os.ReadFile(filepath.Join(s.dir, manifest.Version, metricsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read metrics: %w", err)
	}
	var m Metrics
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode metrics: %w", err)
	}
	return &m, nil
}

// pruneStale removes version directories other than the one just
// published. Best effort: a directory held open by a concurrent reader is
// simply left for the next publish.
func (s *Store) pruneStale(keep string) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == keep || !strings.HasPrefix(e.Name(), "v-") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.dir, e.Name())); err != nil {
			s.log.WithError(err).WithField("version", e.Name()).Warn("Failed to prune stale artifact set")
		}
	}
}

func readVerified(dir, name, wantSHA string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", domain.ErrArtifactUnavailable, name, err)
	}
	if got := sha256Hex(data); got != wantSHA {
		return nil, fmt.Errorf("%w: %s hash mismatch: manifest records %s, file is %s",
			domain.ErrArtifactUnavailable, name, wantSHA, got)
	}
	return data, nil
}

func writeAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish %s: %w", name, err)
	}
	return nil
}

// contentVersion derives the artifact version from the inputs that define
// it, mirroring the "v-" + short-hash identifiers the serving layer
// attaches to responses.
func contentVersion(modelData, transformerData, combosData []byte, contractHash string) string {
	h := sha256.New()
	h.Write(modelData)
	h.Write(transformerData)
	h.Write(combosData)
	h.Write([]byte(contractHash))
	return "v-" + hex.EncodeToString(h.Sum(nil))[:8]
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
