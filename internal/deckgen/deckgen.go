// Package deckgen formats solver input decks shared by the watcher
// (initial optimize jobs from *.xyz geometries) and ChainBuilder
// (follow-up frequency jobs from extracted coordinates). Ported from
// the original pipeline's main.XYZHandler._generate_inp_from_xyz.
package deckgen

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/naonao34567890/orcapipe/internal/common"
)

// Atom is one line of a Cartesian coordinate block.
type Atom struct {
	Element string
	X, Y, Z float64
}

// ParseXYZFile reads a standard XYZ file: atom count, comment line,
// then one "element x y z" line per atom.
func ParseXYZFile(path string) ([]Atom, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open xyz file %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read xyz file %s: %w", path, err)
	}
	if len(lines) < 2 {
		return nil, fmt.Errorf("invalid xyz file %s: too few lines", path)
	}

	numAtoms, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, fmt.Errorf("invalid xyz header in %s: first line must be atom count", path)
	}
	if len(lines) < 2+numAtoms {
		return nil, fmt.Errorf("invalid xyz file %s: missing coordinate lines", path)
	}

	atoms := make([]Atom, 0, numAtoms)
	for i := 2; i < 2+numAtoms; i++ {
		fields := strings.Fields(lines[i])
		if len(fields) < 4 {
			return nil, fmt.Errorf("invalid coordinate format at line %d in %s", i+1, path)
		}
		x, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate value at line %d in %s: %w", i+1, path, err)
		}
		y, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate value at line %d in %s: %w", i+1, path, err)
		}
		z, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid coordinate value at line %d in %s: %w", i+1, path, err)
		}
		atoms = append(atoms, Atom{Element: fields[0], X: x, Y: y, Z: z})
	}
	return atoms, nil
}

// solventKeyword returns the " MODEL(Solventname)" fragment, or "" when
// the configured model is not one of CPCM/SMD/COSMO (§4.7).
func solventKeyword(cfg *common.OrcaConfig) string {
	model := cfg.NormalizedSolventModel()
	if model == "" {
		return ""
	}
	name := strings.TrimSpace(cfg.SolventName)
	if name == "" {
		name = "water"
	}
	capitalized := strings.ToUpper(name[:1]) + strings.ToLower(name[1:])
	return fmt.Sprintf(" %s(%s)", model, capitalized)
}

// FormatDeck synthesizes a solver input deck for directive ("Opt" or
// "Freq") over the given atoms, per §4.7's deck synthesis format.
func FormatDeck(cfg *common.OrcaConfig, directive string, atoms []Atom) string {
	firstLine := fmt.Sprintf("! %s %s %s%s", cfg.Method, cfg.BasisSet, directive, solventKeyword(cfg))
	if kw := strings.TrimSpace(cfg.ExtraKeywords); kw != "" {
		firstLine += " " + kw
	}

	lines := []string{
		firstLine,
		"",
		fmt.Sprintf("%%pal nprocs %s end", cfg.NProcs),
		fmt.Sprintf("%%maxcore %s", cfg.MaxCore),
		"",
		fmt.Sprintf("* xyz %d %d", cfg.Charge, cfg.Multiplicity),
	}
	for _, a := range atoms {
		lines = append(lines, fmt.Sprintf("%2s %12.6f %12.6f %12.6f", a.Element, a.X, a.Y, a.Z))
	}
	lines = append(lines, "*")

	return strings.Join(lines, "\n") + "\n"
}
