// Package interfaces defines the contracts the job orchestration core
// depends on, decoupling the scheduler from its collaborators'
// concrete types. A Manager is constructed with implementations of
// these interfaces injected — no package-level globals, no
// back-pointers (see SPEC_FULL.md §9 on the notifier/scheduler cycle).
package interfaces

import (
	"context"

	"github.com/naonao34567890/orcapipe/internal/models"
)

// StateStore persists the three job lists durably across crashes.
type StateStore interface {
	LoadQueue() ([]*models.Job, error)
	LoadRunning() ([]*models.Job, error)
	LoadCompleted() ([]*models.Job, error)

	Enqueue(job *models.Job) error
	Dequeue(jobID string) error
	AddRunning(job *models.Job) error
	RemoveRunning(jobID string) error
	AppendCompleted(job *models.Job) error
}

// Executor runs one attempt of one job in an isolated working
// directory and classifies the result.
type Executor interface {
	Run(ctx context.Context, job *models.Job, workDir string) (models.Outcome, string)
}

// Archiver moves a finished working directory into the products tree
// and triggers best-effort post-archive hooks.
type Archiver interface {
	Archive(ctx context.Context, job *models.Job, outcome models.Outcome, epoch int64) (string, error)
}

// ChainBuilder synthesizes a follow-up frequency job from a successful
// optimization's archived output.
type ChainBuilder interface {
	Build(archiveDir string, job *models.Job) (*models.Job, bool, error)
}

// Notifier is consumed by the scheduler for fatal alerts and workload
// drain notifications. It holds only a countFn — never a back-pointer
// to the scheduler — so the scheduler/notifier reference never cycles.
type Notifier interface {
	SendError(message string)
	WatchPendingCount(ctx context.Context, countFn func() int, threshold int, debounceSeconds int)
}

// Watcher produces initial optimize jobs from new geometry files. Run
// blocks until ctx is cancelled.
type Watcher interface {
	Run(ctx context.Context, submit func(*models.Job) error) error
}
