// Package jobmanager implements the Scheduler (§4.5): a bounded worker
// pool that dequeues jobs, executes them, archives the result, and
// chains follow-up frequency jobs from successful optimizations — with
// crash recovery, retry policy, and fatal-stop semantics. Structurally
// ported from the original job-manager's worker-pool/safeGo pattern,
// generalized from a market-data collection queue to the solver
// pipeline's queued/running/completed model.
package jobmanager

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/naonao34567890/orcapipe/internal/common"
	"github.com/naonao34567890/orcapipe/internal/interfaces"
	"github.com/naonao34567890/orcapipe/internal/models"
	"github.com/naonao34567890/orcapipe/internal/pathutil"
)

// Manager is the Scheduler: a bounded worker pool over a durable job
// queue. Constructed with its collaborators injected — no globals, no
// back-pointer from the notifier (§9).
type Manager struct {
	store        interfaces.StateStore
	executor     interfaces.Executor
	archiver     interfaces.Archiver
	chainBuilder interfaces.ChainBuilder
	notifier     interfaces.Notifier
	logger       *common.Logger

	workingDir  string
	waitingDir  string
	productsDir string
	maxParallel int
	maxRetries  int

	notifyThreshold       int
	notifyDebounceSeconds int

	pending *fifoQueue
	running struct {
		mu   sync.Mutex
		jobs map[string]*models.Job // work_dir name -> owning job
	}

	fatalSeen atomic.Bool
	cancel    context.CancelFunc
	group     *errgroup.Group
}

// New constructs a Manager. maxParallel and maxRetries come from
// configuration (§6); workingDir/waitingDir are the roots the worker
// mints work_dir names under and stages chained decks into.
func New(
	store interfaces.StateStore,
	executor interfaces.Executor,
	archiver interfaces.Archiver,
	chainBuilder interfaces.ChainBuilder,
	notifier interfaces.Notifier,
	logger *common.Logger,
	workingDir, waitingDir, productsDir string,
	maxParallel, maxRetries int,
) *Manager {
	return NewWithNotifyConfig(store, executor, archiver, chainBuilder, notifier, logger,
		workingDir, waitingDir, productsDir, maxParallel, maxRetries, 0, 0)
}

// NewWithNotifyConfig is New plus the drain-notification threshold and
// debounce window (§6 notification.threshold / notification.debounce_seconds).
func NewWithNotifyConfig(
	store interfaces.StateStore,
	executor interfaces.Executor,
	archiver interfaces.Archiver,
	chainBuilder interfaces.ChainBuilder,
	notifier interfaces.Notifier,
	logger *common.Logger,
	workingDir, waitingDir, productsDir string,
	maxParallel, maxRetries int,
	notifyThreshold, notifyDebounceSeconds int,
) *Manager {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	m := &Manager{
		store:                 store,
		executor:              executor,
		archiver:              archiver,
		chainBuilder:          chainBuilder,
		notifier:              notifier,
		logger:                logger,
		workingDir:            workingDir,
		waitingDir:            waitingDir,
		productsDir:           productsDir,
		maxParallel:           maxParallel,
		maxRetries:            maxRetries,
		notifyThreshold:       notifyThreshold,
		notifyDebounceSeconds: notifyDebounceSeconds,
		pending:               newFifoQueue(),
	}
	m.running.jobs = make(map[string]*models.Job)
	return m
}

// safeGo submits fn to the worker-pool's errgroup with panic recovery,
// mirroring the original worker-pool's protection against one bad job
// killing the process.
func (m *Manager) safeGo(name string, fn func()) {
	m.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in scheduler goroutine")
			}
		}()
		fn()
		return nil
	})
}

// Start runs crash recovery once, then launches the worker pool and the
// notifier's drain-watch loop. Safe to call only once per Manager.
func (m *Manager) Start(ctx context.Context) error {
	if err := m.recover(ctx); err != nil {
		return fmt.Errorf("crash recovery failed: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.group, _ = errgroup.WithContext(runCtx)

	for i := 0; i < m.maxParallel; i++ {
		workerID := i
		m.safeGo(fmt.Sprintf("worker-%d", workerID), func() { m.workerLoop(runCtx, workerID) })
	}

	m.safeGo("notifier-drain-watch", func() {
		m.notifier.WatchPendingCount(runCtx, m.WeightedPending, m.notifyThreshold, m.notifyDebounceSeconds)
	})

	m.logger.Info().Int("max_parallel", m.maxParallel).Int("max_retries", m.maxRetries).Msg("Scheduler started")
	return nil
}

// Stop cancels the worker pool and waits for in-flight steps to return
// their goroutines. Running solver processes are allowed to complete —
// they are not killed (§5 cancellation).
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.group != nil {
		m.group.Wait()
	}
	m.logger.Info().Msg("Scheduler stopped")
}

// Submit enqueues job durably and wakes a worker.
func (m *Manager) Submit(job *models.Job) error {
	if job.Status == "" {
		job.Status = models.StatusWaiting
	}
	if err := m.store.Enqueue(job); err != nil {
		return fmt.Errorf("failed to persist queued job %s: %w", job.JobID, err)
	}
	m.pending.push(job)
	return nil
}

// HasFatal reports whether a worker has observed a fatal outcome. The
// host loop polls this to initiate shutdown.
func (m *Manager) HasFatal() bool {
	return m.fatalSeen.Load()
}

// WeightedPending returns Σ weight over (queued ∪ running) (§4.5.1).
func (m *Manager) WeightedPending() int {
	total := 0
	for _, job := range m.pending.snapshot() {
		total += job.Kind.Weight()
	}

	m.running.mu.Lock()
	for _, job := range m.running.jobs {
		total += job.Kind.Weight()
	}
	m.running.mu.Unlock()

	return total
}

// dequeue blocks for up to ~1s waiting for a pending job, returning
// (nil, false) on timeout so callers can observe ctx cancellation and
// fatalSeen promptly (§4.5 scheduling model).
func (m *Manager) dequeue(ctx context.Context) (*models.Job, bool) {
	if job, ok := m.pending.tryPop(); ok {
		return job, true
	}
	select {
	case <-ctx.Done():
		return nil, false
	case <-m.pending.notify:
		job, ok := m.pending.tryPop()
		return job, ok
	case <-time.After(common.WatcherDequeueTimeout):
		return nil, false
	}
}

// mintWorkDir picks the next free work_dir name under workingDir,
// disambiguated by _1, _2, ... suffixes (§4.5 step 1).
func (m *Manager) mintWorkDir(stem string, kind models.Kind, epoch int64) string {
	base := filepath.Join(m.workingDir, fmt.Sprintf("%s_%s_%d", stem, kind, epoch))
	return pathutil.UniquePath(base)
}
