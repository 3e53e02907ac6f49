// Package executor runs a single solver invocation in an isolated
// working directory and classifies its result (§4.4). Ported from the
// original pipeline's subprocess dispatch in job.ORCAJob.run, with the
// safe-read backoff from safe_file_utils.safe_read_text folded in.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/naonao34567890/orcapipe/internal/classifier"
	"github.com/naonao34567890/orcapipe/internal/common"
	"github.com/naonao34567890/orcapipe/internal/models"
	"github.com/naonao34567890/orcapipe/internal/outputresolver"
)

const lockFileName = ".lock"

// safeReadMaxAttempts and safeReadInitialDelay fix the backoff schedule
// for §4.4.1: up to 5 attempts, starting at 100ms, doubling each time.
const (
	safeReadMaxAttempts  = 5
	safeReadInitialDelay = 100 * time.Millisecond
)

const stderrReasonPrefixLen = 500

// Executor runs solver processes.
type Executor struct {
	solverPath string
	logger     *common.Logger
}

// New creates an Executor that invokes the solver at solverPath.
func New(solverPath string, logger *common.Logger) *Executor {
	return &Executor{solverPath: solverPath, logger: logger}
}

// Run executes one attempt of job in workDir (§4.4 protocol). The
// caller guarantees workDir is unique and does not yet exist.
func (e *Executor) Run(ctx context.Context, job *models.Job, workDir string) (models.Outcome, string) {
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return models.OutcomeFatal, fmt.Sprintf("failed to create work dir: %v", err)
	}

	lockPath := filepath.Join(workDir, lockFileName)
	if err := os.WriteFile(lockPath, []byte("running"), 0644); err != nil {
		return models.OutcomeFatal, fmt.Sprintf("failed to write lock sentinel: %v", err)
	}
	defer os.Remove(lockPath)

	deckName := filepath.Base(job.InputDeckPath)
	if err := copyFile(job.InputDeckPath, filepath.Join(workDir, deckName)); err != nil {
		return models.OutcomeFatal, fmt.Sprintf("failed to stage input deck: %v", err)
	}
	if job.GeometryPath != "" {
		geomName := filepath.Base(job.GeometryPath)
		if err := copyFile(job.GeometryPath, filepath.Join(workDir, geomName)); err != nil {
			e.logger.Warn().Err(err).Str("geometry", job.GeometryPath).Msg("Failed to stage geometry file")
		}
	}

	stem := strings.TrimSuffix(deckName, filepath.Ext(deckName))

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.solverPath, deckName)
	cmd.Dir = workDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); !ok {
			// Spawn itself failed: missing executable, permission denied, etc (§4.4 step 7).
			return models.OutcomeFatal, fmt.Sprintf("failed to spawn solver: %v", err)
		}
		// Non-zero exit is not authoritative — the solver reports outcome via its
		// output file, not its exit code (§4.4 step 4).
	}

	outputPath, found := outputresolver.Resolve(workDir, stem)
	if !found {
		prefix := truncate(stderr.String(), stderrReasonPrefixLen)
		return models.OutcomeFatal, fmt.Sprintf("no output file produced; stderr: %s", prefix)
	}

	text, err := safeReadText(outputPath)
	if err != nil {
		return models.OutcomeFatal, fmt.Sprintf("failed to read output file %s: %v", outputPath, err)
	}

	return classifier.Classify(text)
}

// safeReadText reads path with exponential backoff: up to 5 attempts,
// starting at 100ms and doubling, retrying only lock-contention-style
// errors. Bytes are decoded as UTF-8 with invalid sequences replaced.
func safeReadText(path string) (string, error) {
	delay := safeReadInitialDelay
	var lastErr error

	for attempt := 0; attempt < safeReadMaxAttempts; attempt++ {
		data, err := os.ReadFile(path)
		if err == nil {
			return toValidUTF8(data), nil
		}
		lastErr = err
		if !isRetryableReadErr(err) {
			return "", err
		}
		if attempt < safeReadMaxAttempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return "", lastErr
}

func isRetryableReadErr(err error) bool {
	return os.IsPermission(err) || strings.Contains(err.Error(), "busy") || strings.Contains(err.Error(), "text file busy")
}

func toValidUTF8(data []byte) string {
	if utf8.Valid(data) {
		return string(data)
	}
	return strings.ToValidUTF8(string(data), "�")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
