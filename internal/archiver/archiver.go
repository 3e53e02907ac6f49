// Package archiver moves a finished working directory into the
// products tree and triggers best-effort post-archive hooks (§4.6).
package archiver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/naonao34567890/orcapipe/internal/common"
	"github.com/naonao34567890/orcapipe/internal/models"
	"github.com/naonao34567890/orcapipe/internal/outputresolver"
	"github.com/naonao34567890/orcapipe/internal/pathutil"
)

// MoldenConverter invokes the auxiliary output converter on a .gbw
// artifact to emit a Molden-format file alongside it. Best-effort.
type MoldenConverter interface {
	Convert(ctx context.Context, workDir, gbwBase string) error
}

// EnergyPlotter renders an energy-trajectory plot from a resolved
// primary output. Best-effort.
type EnergyPlotter interface {
	Plot(outputPath, plotPath, molecule string, kind models.Kind) error
}

// Archiver implements interfaces.Archiver.
type Archiver struct {
	productsDir    string
	generateMolden bool
	molden         MoldenConverter
	plotter        EnergyPlotter
	logger         *common.Logger
}

// New creates an Archiver rooted at productsDir. molden and plotter may
// be nil to disable their respective post-archive hooks.
func New(productsDir string, generateMolden bool, molden MoldenConverter, plotter EnergyPlotter, logger *common.Logger) *Archiver {
	return &Archiver{
		productsDir:    productsDir,
		generateMolden: generateMolden,
		molden:         molden,
		plotter:        plotter,
		logger:         logger,
	}
}

// Archive moves job's work_dir into products/{molecule}/{kind}_{tag}_{epoch}[_N]/
// and runs best-effort post-archive hooks for success/recoverable outcomes.
func (a *Archiver) Archive(ctx context.Context, job *models.Job, outcome models.Outcome, epoch int64) (string, error) {
	stem := strings.TrimSuffix(filepath.Base(job.InputDeckPath), filepath.Ext(job.InputDeckPath))
	molecule := pathutil.StripKindSuffix(stem)
	tag := models.ArchiveTag(outcome)

	base := filepath.Join(a.productsDir, molecule, fmt.Sprintf("%s_%s_%d", job.Kind, tag, epoch))
	target := pathutil.UniquePath(base)

	if err := os.MkdirAll(target, 0755); err != nil {
		return "", fmt.Errorf("failed to create archive dir %s: %w", target, err)
	}

	if err := moveContents(job.WorkDir, target); err != nil {
		return "", fmt.Errorf("failed to archive work dir %s: %w", job.WorkDir, err)
	}

	if err := os.Remove(job.WorkDir); err != nil {
		a.logger.Warn().Err(err).Str("work_dir", job.WorkDir).Msg("Failed to remove emptied work dir")
	}

	if outcome == models.OutcomeSuccess || outcome == models.OutcomeRecoverable {
		a.runPostArchiveHooks(ctx, target, molecule, job.Kind, stem)
	}

	return target, nil
}

func (a *Archiver) runPostArchiveHooks(ctx context.Context, dir, molecule string, kind models.Kind, stem string) {
	if a.generateMolden && a.molden != nil {
		entries, err := os.ReadDir(dir)
		if err == nil {
			for _, e := range entries {
				if strings.HasSuffix(e.Name(), ".gbw") {
					gbwBase := strings.TrimSuffix(e.Name(), ".gbw")
					if err := a.molden.Convert(ctx, dir, gbwBase); err != nil {
						a.logger.Warn().Err(err).Str("file", e.Name()).Msg("Molden conversion failed")
					}
				}
			}
		}
	}

	if a.plotter != nil {
		if outputPath, found := outputresolver.Resolve(dir, stem); found {
			plotPath := filepath.Join(dir, molecule+"_energy.png")
			if err := a.plotter.Plot(outputPath, plotPath, molecule, kind); err != nil {
				a.logger.Warn().Err(err).Str("output", outputPath).Msg("Energy plot generation failed")
			}
		}
	}
}

// moveContents moves every entry out of src into dst, falling back to
// copy+delete when rename fails across filesystems.
func moveContents(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to read work dir %s: %w", src, err)
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if err := moveEntry(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func moveEntry(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Cross-filesystem rename fails with EXDEV; fall back to copy+delete.
	if err := copyPath(src, dst); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	if err := os.RemoveAll(src); err != nil {
		return fmt.Errorf("failed to remove source %s after copy: %w", src, err)
	}
	return nil
}

func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		if err := os.MkdirAll(dst, info.Mode()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyPath(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return nil
	}
	return copyFile(src, dst, info.Mode())
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
