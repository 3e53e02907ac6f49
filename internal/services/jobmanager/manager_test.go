package jobmanager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naonao34567890/orcapipe/internal/common"
	"github.com/naonao34567890/orcapipe/internal/models"
	"github.com/naonao34567890/orcapipe/internal/statestore"
)

// --- mocks ---

type mockExecutor struct {
	mu      sync.Mutex
	calls   int
	runFunc func(calls int, job *models.Job) (models.Outcome, string)
}

func (m *mockExecutor) Run(ctx context.Context, job *models.Job, workDir string) (models.Outcome, string) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()
	return m.runFunc(n, job)
}

type mockArchiver struct {
	mu    sync.Mutex
	calls int
}

func (a *mockArchiver) Archive(ctx context.Context, job *models.Job, outcome models.Outcome, epoch int64) (string, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	return fmt.Sprintf("/products/%s/%s_%s_%d", job.JobID, job.Kind, outcome, epoch), nil
}

type mockChainBuilder struct {
	built atomic.Bool
}

func (c *mockChainBuilder) Build(archiveDir string, job *models.Job) (*models.Job, bool, error) {
	c.built.Store(true)
	return &models.Job{
		JobID:         job.JobID + "_freq",
		Kind:          models.KindFrequency,
		InputDeckPath: "/waiting/" + job.JobID + "_freq.inp",
		Status:        models.StatusWaiting,
	}, true, nil
}

type mockNotifier struct {
	mu          sync.Mutex
	errorCalls  int
	lastMessage string
}

func (n *mockNotifier) SendError(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errorCalls++
	n.lastMessage = message
}

func (n *mockNotifier) WatchPendingCount(ctx context.Context, countFn func() int, threshold, debounceSeconds int) {
	<-ctx.Done()
}

func newTestManager(t *testing.T, executor *mockExecutor, archiver *mockArchiver, chain *mockChainBuilder, notifier *mockNotifier, maxRetries int) (*Manager, *statestore.Store) {
	t.Helper()
	stateDir := t.TempDir()
	store, err := statestore.New(stateDir, common.NewSilentLogger())
	require.NoError(t, err)

	m := New(store, executor, archiver, chain, notifier, common.NewSilentLogger(),
		t.TempDir(), t.TempDir(), t.TempDir(), 1, maxRetries)
	return m, store
}

func waitForCompleted(t *testing.T, store *statestore.Store, n int) []*models.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		completed, err := store.LoadCompleted()
		require.NoError(t, err)
		if len(completed) >= n {
			return completed
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d completed jobs", n)
	return nil
}

func TestSubmitSuccessfulOptimizeChainsFrequencyJob(t *testing.T) {
	executor := &mockExecutor{runFunc: func(int, *models.Job) (models.Outcome, string) {
		return models.OutcomeSuccess, ""
	}}
	archiver := &mockArchiver{}
	chain := &mockChainBuilder{}
	notifier := &mockNotifier{}
	m, store := newTestManager(t, executor, archiver, chain, notifier, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.NoError(t, m.Submit(&models.Job{JobID: "job-1", Kind: models.KindOptimize, InputDeckPath: "/waiting/water_opt.inp"}))

	completed := waitForCompleted(t, store, 1)
	assert.Equal(t, models.TerminalSuccess, completed[0].TerminalOutcome)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !chain.built.Load() {
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, chain.built.Load())
}

func TestFatalOutcomeHaltsPipelineAndNotifies(t *testing.T) {
	executor := &mockExecutor{runFunc: func(int, *models.Job) (models.Outcome, string) {
		return models.OutcomeFatal, "Fatal error: Unknown basis set"
	}}
	archiver := &mockArchiver{}
	chain := &mockChainBuilder{}
	notifier := &mockNotifier{}
	m, store := newTestManager(t, executor, archiver, chain, notifier, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.NoError(t, m.Submit(&models.Job{JobID: "job-1", Kind: models.KindOptimize, InputDeckPath: "/waiting/water_opt.inp"}))

	completed := waitForCompleted(t, store, 1)
	assert.Equal(t, models.TerminalFatalFail, completed[0].TerminalOutcome)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && !m.HasFatal() {
		time.Sleep(10 * time.Millisecond)
	}
	assert.True(t, m.HasFatal())
	assert.False(t, chain.built.Load())

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Equal(t, 1, notifier.errorCalls)
}

func TestRecoverableOutcomeNoRetryNoFatal(t *testing.T) {
	executor := &mockExecutor{runFunc: func(int, *models.Job) (models.Outcome, string) {
		return models.OutcomeRecoverable, "Recoverable error: SCF NOT CONVERGED"
	}}
	archiver := &mockArchiver{}
	chain := &mockChainBuilder{}
	notifier := &mockNotifier{}
	m, store := newTestManager(t, executor, archiver, chain, notifier, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.NoError(t, m.Submit(&models.Job{JobID: "job-1", Kind: models.KindOptimize, InputDeckPath: "/waiting/water_opt.inp"}))

	completed := waitForCompleted(t, store, 1)
	assert.Equal(t, models.TerminalRecoverableFail, completed[0].TerminalOutcome)
	assert.Equal(t, 0, completed[0].Retries)
	assert.False(t, m.HasFatal())
}

func TestIncompleteRetriesThenDegradesToRecoverable(t *testing.T) {
	executor := &mockExecutor{runFunc: func(int, *models.Job) (models.Outcome, string) {
		return models.OutcomeIncomplete, "No termination marker found"
	}}
	archiver := &mockArchiver{}
	chain := &mockChainBuilder{}
	notifier := &mockNotifier{}
	m, store := newTestManager(t, executor, archiver, chain, notifier, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.NoError(t, m.Submit(&models.Job{JobID: "job-1", Kind: models.KindOptimize, InputDeckPath: "/waiting/water_opt.inp"}))

	completed := waitForCompleted(t, store, 1)
	assert.Equal(t, models.TerminalRecoverableFail, completed[0].TerminalOutcome)
	assert.Equal(t, 2, completed[0].Retries)

	executor.mu.Lock()
	attempts := executor.calls
	executor.mu.Unlock()
	assert.Equal(t, 3, attempts)

	archiver.mu.Lock()
	archiveCalls := archiver.calls
	archiver.mu.Unlock()
	assert.Equal(t, 3, archiveCalls)
}

func TestWeightedPendingCountsQueuedAndRunning(t *testing.T) {
	block := make(chan struct{})
	executor := &mockExecutor{runFunc: func(int, *models.Job) (models.Outcome, string) {
		<-block
		return models.OutcomeSuccess, ""
	}}
	archiver := &mockArchiver{}
	chain := &mockChainBuilder{}
	notifier := &mockNotifier{}
	m, _ := newTestManager(t, executor, archiver, chain, notifier, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer func() {
		close(block)
		m.Stop()
	}()

	require.NoError(t, m.Submit(&models.Job{JobID: "job-1", Kind: models.KindOptimize, InputDeckPath: "/waiting/water_opt.inp"}))
	require.NoError(t, m.Submit(&models.Job{JobID: "job-2", Kind: models.KindFrequency, InputDeckPath: "/waiting/water_freq.inp"}))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && m.WeightedPending() != 3 {
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, 3, m.WeightedPending())
}
