// Package watcher turns new geometry files arriving in the input
// directory into initial optimize jobs (§6 Watcher contract). The
// debounced single-timer fsnotify loop is ported from chainwatch's
// InboxWatcher; deck synthesis follows the original pipeline's
// XYZHandler.on_created / _generate_inp_from_xyz.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/naonao34567890/orcapipe/internal/common"
	"github.com/naonao34567890/orcapipe/internal/deckgen"
	"github.com/naonao34567890/orcapipe/internal/models"
	"github.com/naonao34567890/orcapipe/internal/pathutil"
)

const debounceInterval = 200 * time.Millisecond

// Watcher implements interfaces.Watcher.
type Watcher struct {
	inputDir   string
	waitingDir string
	cfg        *common.OrcaConfig
	logger     *common.Logger
	debounce   time.Duration
}

// New creates a Watcher over inputDir, staging generated decks into
// waitingDir.
func New(inputDir, waitingDir string, cfg *common.OrcaConfig, logger *common.Logger) *Watcher {
	return &Watcher{
		inputDir:   inputDir,
		waitingDir: waitingDir,
		cfg:        cfg,
		logger:     logger,
		debounce:   debounceInterval,
	}
}

// Run watches inputDir for new *.xyz files and submits an optimize job
// for each. Blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context, submit func(*models.Job) error) error {
	if err := os.MkdirAll(w.inputDir, 0755); err != nil {
		return fmt.Errorf("failed to create input dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.inputDir); err != nil {
		return fmt.Errorf("failed to watch input dir %s: %w", w.inputDir, err)
	}

	var mu sync.Mutex
	ready := make(map[string]bool)

	// Single debounce timer — resets on each event, no per-file goroutines.
	debounceTimer := time.NewTimer(w.debounce)
	if !debounceTimer.Stop() {
		<-debounceTimer.C
	}

	flush := func() {
		mu.Lock()
		batch := make([]string, 0, len(ready))
		for p := range ready {
			batch = append(batch, p)
		}
		ready = make(map[string]bool)
		mu.Unlock()

		for _, path := range batch {
			w.handleNewGeometry(path, submit)
		}
	}

	for {
		select {
		case <-ctx.Done():
			debounceTimer.Stop()
			flush()
			return nil

		case <-debounceTimer.C:
			flush()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) || !isGeometryFile(event.Name) {
				continue
			}
			mu.Lock()
			ready[event.Name] = true
			mu.Unlock()

			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("fsnotify watch error")
		}
	}
}

func isGeometryFile(path string) bool {
	return strings.HasSuffix(path, ".xyz")
}

// handleNewGeometry synthesizes an optimize deck from a new XYZ file,
// stages both into the waiting directory, and submits the job. Failures
// are logged; a bad geometry file never aborts the watcher.
func (w *Watcher) handleNewGeometry(xyzPath string, submit func(*models.Job) error) {
	w.logger.Info().Str("path", xyzPath).Msg("Detected new geometry file")

	atoms, err := deckgen.ParseXYZFile(xyzPath)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", xyzPath).Msg("Failed to parse geometry file")
		return
	}

	deck := deckgen.FormatDeck(w.cfg, "Opt", atoms)

	stem := strings.TrimSuffix(filepath.Base(xyzPath), filepath.Ext(xyzPath))
	if err := os.MkdirAll(w.waitingDir, 0755); err != nil {
		w.logger.Warn().Err(err).Msg("Failed to create waiting dir")
		return
	}

	xyzDest := pathutil.UniquePath(filepath.Join(w.waitingDir, stem+".xyz"))
	inpDest := pathutil.UniquePath(filepath.Join(w.waitingDir, stem+"_opt.inp"))

	if err := os.WriteFile(inpDest, []byte(deck), 0644); err != nil {
		w.logger.Warn().Err(err).Str("path", inpDest).Msg("Failed to write input deck")
		return
	}
	if err := os.Rename(xyzPath, xyzDest); err != nil {
		w.logger.Warn().Err(err).Str("path", xyzPath).Msg("Failed to move geometry into waiting dir")
		return
	}

	job := &models.Job{
		JobID:         pathutil.UniqueJobID(stem, string(models.KindOptimize)),
		Kind:          models.KindOptimize,
		InputDeckPath: inpDest,
		GeometryPath:  xyzDest,
		Status:        models.StatusWaiting,
	}
	if err := submit(job); err != nil {
		w.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to submit job for new geometry")
		return
	}
	w.logger.Info().Str("job_id", job.JobID).Msg("Queued optimize job")
}
