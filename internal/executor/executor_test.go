package executor

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naonao34567890/orcapipe/internal/common"
	"github.com/naonao34567890/orcapipe/internal/models"
)

// writeMockSolver creates a tiny shell script standing in for the
// solver executable: it writes outputText to "<stem>.out" in its
// working directory, mirroring test_mock_orca.py's approach of
// exercising the pipeline without a real solver install.
func writeMockSolver(t *testing.T, dir, outputText string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("mock solver script is POSIX shell only")
	}
	path := filepath.Join(dir, "mock_solver.sh")
	script := "#!/bin/sh\nstem=$(basename \"$1\" .inp)\ncat > \"$stem.out\" <<'EOF'\n" + outputText + "\nEOF\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func newTestJob(t *testing.T, dir string) *models.Job {
	t.Helper()
	deckPath := filepath.Join(dir, "water_opt.inp")
	require.NoError(t, os.WriteFile(deckPath, []byte("! B3LYP def2-SVP Opt\n"), 0644))
	return &models.Job{JobID: "job-1", Kind: models.KindOptimize, InputDeckPath: deckPath}
}

func TestRunSuccess(t *testing.T) {
	inputDir := t.TempDir()
	workDir := filepath.Join(t.TempDir(), "water_optimize_1700000000")
	solver := writeMockSolver(t, t.TempDir(), "ORCA TERMINATED NORMALLY")

	job := newTestJob(t, inputDir)
	ex := New(solver, common.NewSilentLogger())

	outcome, reason := ex.Run(context.Background(), job, workDir)
	assert.Equal(t, models.OutcomeSuccess, outcome)
	assert.Empty(t, reason)

	_, err := os.Stat(filepath.Join(workDir, ".lock"))
	assert.True(t, os.IsNotExist(err), "lock sentinel must be removed on return")
}

func TestRunFatalOutcome(t *testing.T) {
	inputDir := t.TempDir()
	workDir := filepath.Join(t.TempDir(), "water_optimize_1700000001")
	solver := writeMockSolver(t, t.TempDir(), "Unknown basis set requested")

	job := newTestJob(t, inputDir)
	ex := New(solver, common.NewSilentLogger())

	outcome, reason := ex.Run(context.Background(), job, workDir)
	assert.Equal(t, models.OutcomeFatal, outcome)
	assert.Contains(t, reason, "Fatal error")
}

func TestRunMissingExecutableIsFatal(t *testing.T) {
	inputDir := t.TempDir()
	workDir := filepath.Join(t.TempDir(), "water_optimize_1700000002")
	job := newTestJob(t, inputDir)
	ex := New(filepath.Join(inputDir, "does-not-exist"), common.NewSilentLogger())

	outcome, reason := ex.Run(context.Background(), job, workDir)
	assert.Equal(t, models.OutcomeFatal, outcome)
	assert.NotEmpty(t, reason)
}

func TestRunNoOutputProducedIsFatal(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("mock solver script is POSIX shell only")
	}
	inputDir := t.TempDir()
	workDir := filepath.Join(t.TempDir(), "water_optimize_1700000003")
	scriptDir := t.TempDir()
	path := filepath.Join(scriptDir, "silent_solver.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho oops 1>&2\nexit 1\n"), 0755))

	job := newTestJob(t, inputDir)
	ex := New(path, common.NewSilentLogger())

	outcome, reason := ex.Run(context.Background(), job, workDir)
	assert.Equal(t, models.OutcomeFatal, outcome)
	assert.Contains(t, reason, "no output file produced")
}
