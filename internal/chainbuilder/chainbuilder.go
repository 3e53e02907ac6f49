// Package chainbuilder synthesizes a follow-up frequency job from a
// successful optimization's archived output (§4.7): it extracts the
// final Cartesian coordinate block and writes a new input deck.
package chainbuilder

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/naonao34567890/orcapipe/internal/common"
	"github.com/naonao34567890/orcapipe/internal/deckgen"
	"github.com/naonao34567890/orcapipe/internal/models"
	"github.com/naonao34567890/orcapipe/internal/outputresolver"
	"github.com/naonao34567890/orcapipe/internal/pathutil"
)

const coordBlockHeader = "CARTESIAN COORDINATES (ANGSTROEM)"

// ChainBuilder implements interfaces.ChainBuilder.
type ChainBuilder struct {
	waitingDir string
	cfg        *common.OrcaConfig
}

// New creates a ChainBuilder that writes follow-up decks to waitingDir.
func New(waitingDir string, cfg *common.OrcaConfig) *ChainBuilder {
	return &ChainBuilder{waitingDir: waitingDir, cfg: cfg}
}

// Build reads the primary output in archiveDir, extracts the final
// coordinate block, and writes a frequency deck to waiting/. ok is
// false (with no error) when no coordinate block could be found — the
// caller should treat that as "nothing to chain", not a failure.
func (c *ChainBuilder) Build(archiveDir string, job *models.Job) (*models.Job, bool, error) {
	stem := strings.TrimSuffix(filepath.Base(job.InputDeckPath), filepath.Ext(job.InputDeckPath))
	molecule := pathutil.StripKindSuffix(stem)

	outputPath, found := outputresolver.Resolve(archiveDir, stem)
	if !found {
		return nil, false, fmt.Errorf("no primary output found in %s", archiveDir)
	}
	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read archived output %s: %w", outputPath, err)
	}

	atoms := ExtractFinalCoordinates(string(data))
	if len(atoms) == 0 {
		return nil, false, nil
	}

	deck := deckgen.FormatDeck(c.cfg, "Freq", atoms)

	if err := os.MkdirAll(c.waitingDir, 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create waiting dir: %w", err)
	}
	deckPath := pathutil.UniquePath(filepath.Join(c.waitingDir, molecule+"_freq.inp"))
	if err := os.WriteFile(deckPath, []byte(deck), 0644); err != nil {
		return nil, false, fmt.Errorf("failed to write frequency deck %s: %w", deckPath, err)
	}

	freqJob := &models.Job{
		JobID:         pathutil.UniqueJobID(molecule, string(models.KindFrequency)),
		Kind:          models.KindFrequency,
		InputDeckPath: deckPath,
		Status:        models.StatusWaiting,
	}
	return freqJob, true, nil
}

// ExtractFinalCoordinates scans text for repetitions of the coordinate
// block header and returns the atoms of the last such block. Within the
// block, only lines whose first field is alphabetic and whose final
// three fields parse as floats are kept — robust to the solver's
// variable column layout (§4.7).
func ExtractFinalCoordinates(text string) []deckgen.Atom {
	lines := strings.Split(text, "\n")

	lastHeaderLine := -1
	for i, line := range lines {
		if strings.Contains(line, coordBlockHeader) {
			lastHeaderLine = i
		}
	}
	if lastHeaderLine == -1 {
		return nil
	}

	var atoms []deckgen.Atom
	for i := lastHeaderLine + 1; i < len(lines); i++ {
		fields := strings.Fields(lines[i])
		if len(fields) < 4 {
			if len(atoms) > 0 {
				break
			}
			continue
		}
		element := fields[0]
		if !isAlphabetic(element) {
			if len(atoms) > 0 {
				break
			}
			continue
		}
		n := len(fields)
		x, errX := strconv.ParseFloat(fields[n-3], 64)
		y, errY := strconv.ParseFloat(fields[n-2], 64)
		z, errZ := strconv.ParseFloat(fields[n-1], 64)
		if errX != nil || errY != nil || errZ != nil {
			if len(atoms) > 0 {
				break
			}
			continue
		}
		atoms = append(atoms, deckgen.Atom{Element: element, X: x, Y: y, Z: z})
	}
	return atoms
}

func isAlphabetic(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
