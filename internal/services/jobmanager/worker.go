package jobmanager

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/naonao34567890/orcapipe/internal/models"
)

// workerLoop is one sequential worker: dequeue, execute, finalize,
// repeat until ctx is cancelled or a fatal outcome is seen (§4.5).
func (m *Manager) workerLoop(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, ok := m.dequeue(ctx)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		if m.fatalSeen.Load() {
			// A sibling worker already halted the pipeline; leave this job
			// queued durably and exit without dispatching it.
			m.pending.push(job)
			return
		}

		if !m.runStep(ctx, job) {
			return
		}
	}
}

// runStep executes one dequeued job through to a terminal or
// re-queued disposition. Returns false if the worker should exit
// (fatal outcome observed).
func (m *Manager) runStep(ctx context.Context, job *models.Job) bool {
	stem := strings.TrimSuffix(filepath.Base(job.InputDeckPath), filepath.Ext(job.InputDeckPath))
	epoch := time.Now().Unix()
	workDir := m.mintWorkDir(stem, job.Kind, epoch)

	job.WorkDir = workDir
	job.Status = models.StatusRunning
	job.StartTime = time.Now()

	m.running.mu.Lock()
	m.running.jobs[workDir] = job
	m.running.mu.Unlock()

	if err := m.store.AddRunning(job); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to persist running transition")
	}
	if err := m.store.Dequeue(job.JobID); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to persist queued removal")
	}

	// The solver run is detached from shutdown cancellation so Stop never
	// kills an in-flight solver process (§5 cancellation).
	outcome, reason := m.executor.Run(context.WithoutCancel(ctx), job, workDir)
	job.EndTime = time.Now()
	job.ErrorMessage = reason

	m.running.mu.Lock()
	delete(m.running.jobs, workDir)
	m.running.mu.Unlock()
	if err := m.store.RemoveRunning(job.JobID); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to persist running removal")
	}

	return m.finalize(ctx, job, outcome, epoch)
}

// finalize applies the outcome handling table (§4.5) and returns false
// if the worker that owns job should exit (fatal outcome).
func (m *Manager) finalize(ctx context.Context, job *models.Job, outcome models.Outcome, epoch int64) bool {
	logger := m.logger.Info().Str("job_id", job.JobID).Str("outcome", string(outcome))
	logger.Msg("Job finished execution")

	switch outcome {
	case models.OutcomeIncomplete:
		if job.Retries < m.maxRetries {
			job.Retries++
			if _, err := m.archiver.Archive(ctx, job, outcome, epoch); err != nil {
				m.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to archive incomplete attempt")
			}
			retryJob := job.Clone()
			retryJob.Status = models.StatusWaiting
			retryJob.WorkDir = ""
			if err := m.Submit(retryJob); err != nil {
				m.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to re-submit incomplete job")
			}
			return true
		}
		// retries exhausted: degrade to recoverable (§4.5 outcome table).
		outcome = models.OutcomeRecoverable
	}

	job.TerminalOutcome = models.TerminalFromOutcome(outcome)
	job.Status = models.StatusCompleted

	archiveDir, err := m.archiver.Archive(ctx, job, outcome, epoch)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to archive finished job")
	}
	if err := m.store.AppendCompleted(job); err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to persist completed job")
	}

	if outcome == models.OutcomeSuccess && job.Kind == models.KindOptimize && archiveDir != "" {
		m.chainOptimization(archiveDir, job)
	}

	if outcome == models.OutcomeFatal {
		m.fatalSeen.Store(true)
		m.notifier.SendError(fmt.Sprintf("Fatal solver outcome for job %s: %s", job.JobID, job.ErrorMessage))
		m.logger.Error().Str("job_id", job.JobID).Msg("Fatal outcome observed, halting worker")
		return false
	}

	return true
}

// chainOptimization synthesizes and submits a follow-up frequency job
// from a successful optimization's archived output (§4.5 step 5).
func (m *Manager) chainOptimization(archiveDir string, job *models.Job) {
	freqJob, ok, err := m.chainBuilder.Build(archiveDir, job)
	if err != nil {
		m.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("Failed to build follow-up frequency job")
		return
	}
	if !ok {
		return
	}
	if err := m.Submit(freqJob); err != nil {
		m.logger.Warn().Err(err).Str("job_id", freqJob.JobID).Msg("Failed to submit chained frequency job")
	}
}
