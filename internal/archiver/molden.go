package archiver

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/naonao34567890/orcapipe/internal/common"
)

// Orca2MklConverter shells out to orca_2mkl to produce a .molden.input
// file alongside a .gbw artifact, the same external-tool invocation
// pattern the executor uses for the solver itself.
type Orca2MklConverter struct {
	binPath string
	logger  *common.Logger
}

// NewOrca2MklConverter returns nil if binPath is empty, disabling the
// hook entirely (Archive treats a nil MoldenConverter as "no hook").
func NewOrca2MklConverter(binPath string, logger *common.Logger) *Orca2MklConverter {
	if binPath == "" {
		return nil
	}
	return &Orca2MklConverter{binPath: binPath, logger: logger}
}

// Convert runs `orca_2mkl <gbwBase> -molden` inside workDir.
func (c *Orca2MklConverter) Convert(ctx context.Context, workDir, gbwBase string) error {
	cmd := exec.CommandContext(ctx, c.binPath, gbwBase, "-molden")
	cmd.Dir = workDir

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("orca_2mkl failed for %s: %w: %s", gbwBase, err, stderr.String())
	}
	c.logger.Debug().Str("gbw", gbwBase).Str("work_dir", workDir).Msg("Molden conversion complete")
	return nil
}
