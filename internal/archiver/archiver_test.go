package archiver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naonao34567890/orcapipe/internal/common"
	"github.com/naonao34567890/orcapipe/internal/models"
)

type recordingPlotter struct {
	called bool
}

func (p *recordingPlotter) Plot(outputPath, plotPath, molecule string, kind models.Kind) error {
	p.called = true
	return nil
}

type recordingMolden struct {
	called bool
}

func (m *recordingMolden) Convert(ctx context.Context, workDir, gbwBase string) error {
	m.called = true
	return nil
}

func newJobWithWorkDir(t *testing.T, productsDir string) (*models.Job, string) {
	t.Helper()
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "water_opt.inp"), []byte("deck"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "water_opt.out"), []byte("ORCA TERMINATED NORMALLY"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "water_opt.gbw"), []byte{0, 1, 2}, 0644))

	job := &models.Job{
		JobID:         "job-1",
		Kind:          models.KindOptimize,
		InputDeckPath: filepath.Join(workDir, "water_opt.inp"),
		WorkDir:       workDir,
	}
	return job, workDir
}

func TestArchiveMovesAllContentsAndRemovesWorkDir(t *testing.T) {
	productsDir := t.TempDir()
	job, workDir := newJobWithWorkDir(t, productsDir)
	a := New(productsDir, false, nil, nil, common.NewSilentLogger())

	target, err := a.Archive(context.Background(), job, models.OutcomeSuccess, 1700000000)
	require.NoError(t, err)

	assert.Contains(t, target, filepath.Join(productsDir, "water"))
	assert.Contains(t, filepath.Base(target), "optimize_success_1700000000")

	entries, err := os.ReadDir(target)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	_, statErr := os.Stat(workDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestArchiveCollisionSafeNaming(t *testing.T) {
	productsDir := t.TempDir()
	job1, _ := newJobWithWorkDir(t, productsDir)
	a := New(productsDir, false, nil, nil, common.NewSilentLogger())

	target1, err := a.Archive(context.Background(), job1, models.OutcomeSuccess, 1700000000)
	require.NoError(t, err)

	job2, _ := newJobWithWorkDir(t, productsDir)
	target2, err := a.Archive(context.Background(), job2, models.OutcomeSuccess, 1700000000)
	require.NoError(t, err)

	assert.NotEqual(t, target1, target2)
}

func TestArchiveRunsHooksOnSuccess(t *testing.T) {
	productsDir := t.TempDir()
	job, _ := newJobWithWorkDir(t, productsDir)
	plotter := &recordingPlotter{}
	molden := &recordingMolden{}
	a := New(productsDir, true, molden, plotter, common.NewSilentLogger())

	_, err := a.Archive(context.Background(), job, models.OutcomeSuccess, 1700000001)
	require.NoError(t, err)

	assert.True(t, plotter.called)
	assert.True(t, molden.called)
}

func TestArchiveSkipsHooksOnFatal(t *testing.T) {
	productsDir := t.TempDir()
	job, _ := newJobWithWorkDir(t, productsDir)
	plotter := &recordingPlotter{}
	molden := &recordingMolden{}
	a := New(productsDir, true, molden, plotter, common.NewSilentLogger())

	_, err := a.Archive(context.Background(), job, models.OutcomeFatal, 1700000002)
	require.NoError(t, err)

	assert.False(t, plotter.called)
	assert.False(t, molden.called)
}
