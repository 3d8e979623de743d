package artifact

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/treatment-outcome-server/internal/domain"
	"github.com/treatment-outcome-server/internal/service"
)

// Watcher observes the artifact directory and rotates the serving handle
// when a new artifact set is published. The replacement bundle is fully
// constructed and verified before the swap, so in-flight requests never
// see a partially-loaded artifact.
type Watcher struct {
	store    *Store
	contract *domain.SchemaContract
	handle   *service.ModelHandle
	log      *logrus.Logger

	// debounce absorbs the burst of filesystem events one Save emits.
	debounce time.Duration
}

// NewWatcher creates a watcher wiring the store to the serving handle.
func NewWatcher(store *Store, contract *domain.SchemaContract, handle *service.ModelHandle, log *logrus.Logger) *Watcher {
	return &Watcher{
		store:    store,
		contract: contract,
		handle:   handle,
		log:      log,
		debounce: 500 * time.Millisecond,
	}
}

// Run watches until ctx is cancelled. Failed reloads keep the previous
// bundle serving; the operator fixes the artifact and the next event
// retries.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	// On a fresh deployment the directory does not exist until the first
	// pipeline run publishes into it; create it so the watch can start.
	if err := os.MkdirAll(w.store.Dir(), 0755); err != nil {
		return err
	}
	if err := fsw.Add(w.store.Dir()); err != nil {
		return err
	}

	w.log.WithField("dir", w.store.Dir()).Info("Watching artifact directory for model rotation")

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			// Only the manifest publish marks a complete artifact set.
			if event.Name != w.store.ManifestPath() {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			w.reload()

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Warn("Artifact watcher error")
		}
	}
}

func (w *Watcher) reload() {
	bundle, manifest, err := w.store.LoadBundle(w.contract)
	if err != nil {
		w.log.WithError(err).Error("Artifact rotation failed, keeping current bundle")
		return
	}

	previous := ""
	if cur, err := w.handle.Current(); err == nil {
		previous = cur.Version
	}
	if previous == bundle.Version {
		w.log.WithField("version", bundle.Version).Debug("Artifact unchanged, skipping rotation")
		return
	}

	if err := w.handle.Swap(bundle); err != nil {
		w.log.WithError(err).Error("Artifact rotation rejected incoherent bundle")
		return
	}

	w.log.WithFields(logrus.Fields{
		"previous": previous,
		"version":  manifest.Version,
	}).Info("Model rotated")
}
