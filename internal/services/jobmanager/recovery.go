package jobmanager

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/naonao34567890/orcapipe/internal/classifier"
	"github.com/naonao34567890/orcapipe/internal/models"
	"github.com/naonao34567890/orcapipe/internal/outputresolver"
	"github.com/naonao34567890/orcapipe/internal/pathutil"
)

// recover reconstructs in-memory state from disk (§4.5.2). It is
// invoked once at Start and is idempotent: running it twice against
// the same on-disk state produces the same in-memory state.
func (m *Manager) recover(ctx context.Context) error {
	if err := m.recoverQueued(); err != nil {
		return err
	}
	if err := m.recoverRunning(ctx); err != nil {
		return err
	}
	return m.recoverOrphanDecks()
}

// recoverQueued re-enqueues queued records verbatim into the in-memory
// FIFO (§4.5.2 step 1).
func (m *Manager) recoverQueued() error {
	jobs, err := m.store.LoadQueue()
	if err != nil {
		return fmt.Errorf("failed to load queued jobs: %w", err)
	}
	for _, job := range jobs {
		m.pending.push(job)
	}
	if len(jobs) > 0 {
		m.logger.Info().Int("count", len(jobs)).Msg("Recovered queued jobs")
	}
	return nil
}

// recoverRunning reconciles running records against the three
// sub-cases of §4.5.2 step 2.
func (m *Manager) recoverRunning(ctx context.Context) error {
	jobs, err := m.store.LoadRunning()
	if err != nil {
		return fmt.Errorf("failed to load running jobs: %w", err)
	}

	for _, job := range jobs {
		stem := strings.TrimSuffix(filepath.Base(job.InputDeckPath), filepath.Ext(job.InputDeckPath))
		molecule := pathutil.StripKindSuffix(stem)

		outputPath, found := "", false
		if job.WorkDir != "" && dirExists(job.WorkDir) {
			outputPath, found = outputresolver.Resolve(job.WorkDir, stem)
		}
		if !found {
			outputPath, found = m.resolveInProducts(molecule, stem)
		}

		if !found {
			m.requeueRunning(job)
			continue
		}

		data, err := os.ReadFile(outputPath)
		if err != nil {
			m.requeueRunning(job)
			continue
		}
		outcome, reason := classifier.Classify(string(data))
		job.ErrorMessage = reason

		switch outcome {
		case models.OutcomeSuccess, models.OutcomeFatal:
			epoch := time.Now().Unix()
			job.TerminalOutcome = models.TerminalFromOutcome(outcome)
			job.Status = models.StatusCompleted
			if job.WorkDir != "" && dirExists(job.WorkDir) {
				archiveDir, archErr := m.archiver.Archive(ctx, job, outcome, epoch)
				if archErr != nil {
					m.logger.Warn().Err(archErr).Str("job_id", job.JobID).Msg("Failed to archive during recovery")
				} else if outcome == models.OutcomeSuccess && job.Kind == models.KindOptimize {
					m.chainOptimization(archiveDir, job)
				}
			}
			if err := m.store.RemoveRunning(job.JobID); err != nil {
				m.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to remove recovered job from running")
			}
			if err := m.store.AppendCompleted(job); err != nil {
				m.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to append recovered job to completed")
			}
			// Recovery never sets fatalSeen — the operator inspects and restarts (§4.5.2).
		default:
			m.requeueRunning(job)
		}
	}
	return nil
}

// requeueRunning removes job from the running list and re-enqueues it
// with status=waiting and retries unchanged.
func (m *Manager) requeueRunning(job *models.Job) {
	if err := m.store.RemoveRunning(job.JobID); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to remove stale running record")
	}
	job.Status = models.StatusWaiting
	job.WorkDir = ""
	if err := m.store.Enqueue(job); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to re-enqueue recovered job")
		return
	}
	m.pending.push(job)
}

// resolveInProducts looks for stem's primary output anywhere under
// products/{molecule}/ — the fallback location when work_dir no longer
// exists (§4.5.2 step 2b).
func (m *Manager) resolveInProducts(molecule, stem string) (string, bool) {
	moleculeDir := filepath.Join(m.productsDir, molecule)
	entries, err := os.ReadDir(moleculeDir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if path, found := outputresolver.Resolve(filepath.Join(moleculeDir, e.Name()), stem); found {
			return path, true
		}
	}
	return "", false
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// recoverOrphanDecks submits a job for every unpaired *.inp left in the
// waiting directory (§4.5.2 step 3) — decks written by the watcher or a
// prior ChainBuilder run that never made it into the queue before a
// crash.
func (m *Manager) recoverOrphanDecks() error {
	entries, err := os.ReadDir(m.waitingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to scan waiting dir: %w", err)
	}

	// Decks already owned by a pending or completed job are not orphans.
	known := make(map[string]bool)
	for _, job := range m.pending.snapshot() {
		known[job.InputDeckPath] = true
	}
	if completed, err := m.store.LoadCompleted(); err == nil {
		for _, job := range completed {
			known[job.InputDeckPath] = true
		}
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".inp" || known[filepath.Join(m.waitingDir, name)] {
			continue
		}

		stem := strings.TrimSuffix(name, ".inp")
		kind := models.KindOptimize
		if strings.HasSuffix(stem, "_freq") {
			kind = models.KindFrequency
		}

		deckPath := filepath.Join(m.waitingDir, name)
		var geometryPath string
		for _, xyzName := range []string{stem + ".xyz", pathutil.StripKindSuffix(stem) + ".xyz"} {
			xyzCandidate := filepath.Join(m.waitingDir, xyzName)
			if _, err := os.Stat(xyzCandidate); err == nil {
				geometryPath = xyzCandidate
				break
			}
		}

		job := &models.Job{
			JobID:         pathutil.UniqueJobID(pathutil.StripKindSuffix(stem), string(kind)),
			Kind:          kind,
			InputDeckPath: deckPath,
			GeometryPath:  geometryPath,
			Status:        models.StatusWaiting,
		}
		if err := m.Submit(job); err != nil {
			m.logger.Warn().Err(err).Str("deck", deckPath).Msg("Failed to submit orphan deck found during recovery")
			continue
		}
		m.logger.Info().Str("job_id", job.JobID).Str("deck", deckPath).Msg("Recovered orphan deck from waiting dir")
	}
	return nil
}
