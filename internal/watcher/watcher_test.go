package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naonao34567890/orcapipe/internal/common"
	"github.com/naonao34567890/orcapipe/internal/models"
)

func TestRunSubmitsJobForNewGeometry(t *testing.T) {
	inputDir := t.TempDir()
	waitingDir := t.TempDir()
	cfg := &common.OrcaConfig{
		Method: "B3LYP", BasisSet: "def2-SVP", Charge: 0, Multiplicity: 1,
		NProcs: "4", MaxCore: "2000", SolventModel: "none",
	}
	w := New(inputDir, waitingDir, cfg, common.NewSilentLogger())
	w.debounce = 20 * time.Millisecond

	submitted := make(chan *models.Job, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(j *models.Job) error {
			submitted <- j
			return nil
		})
	}()

	// Give the watcher time to register before the file arrives.
	time.Sleep(100 * time.Millisecond)
	xyzPath := filepath.Join(inputDir, "water.xyz")
	require.NoError(t, os.WriteFile(xyzPath, []byte("3\nwater\nO 0 0 0\nH 1 0 0\nH -1 0 0\n"), 0644))

	select {
	case job := <-submitted:
		assert.Equal(t, models.KindOptimize, job.Kind)
		assert.FileExists(t, job.InputDeckPath)
		assert.FileExists(t, job.GeometryPath)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not submit a job for the new geometry file")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
