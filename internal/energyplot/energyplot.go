// Package energyplot extracts an optimization's energy trajectory from
// solver output and renders it as a PNG line chart. Ported from the
// original pipeline's energy_plot_utils.extract_energy_trajectory /
// plot_energy_trajectory, with rendering grounded on the portfolio
// growth-chart renderer's use of wcharczuk/go-chart.
package energyplot

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/naonao34567890/orcapipe/internal/models"
)

// Point is one (cycle, energy) sample of an optimization trajectory.
type Point struct {
	Cycle  int
	Energy float64
}

var cycleMarkerPattern = regexp.MustCompile(`(?i)\*{4,}.*CYCLE\s+(\d+).*\*{4,}`)

var energyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`FINAL SINGLE POINT ENERGY\s+([+-]?\d+\.\d+)`),
	regexp.MustCompile(`Total Energy\s*:\s*([+-]?\d+\.\d+)\s*Eh`),
	regexp.MustCompile(`E\(0\)\s*=\s*([+-]?\d+\.\d+)`),
}

type energyMatch struct {
	pos   int
	value float64
}

// ExtractTrajectory pulls (cycle, energy) samples out of solver output
// text, preferring to pair energies with the cycle marker they follow;
// falling back to sequential numbering when no cycle markers are found.
func ExtractTrajectory(text string) []Point {
	var matches []energyMatch
	for _, re := range energyPatterns {
		for _, m := range re.FindAllStringSubmatchIndex(text, -1) {
			val, err := strconv.ParseFloat(text[m[2]:m[3]], 64)
			if err != nil {
				continue
			}
			matches = append(matches, energyMatch{pos: m[0], value: val})
		}
	}

	cycleLocs := cycleMarkerPattern.FindAllStringSubmatchIndex(text, -1)

	var trajectory []Point
	if len(cycleLocs) > 0 && len(matches) > 0 {
		for i, loc := range cycleLocs {
			cycleNum, err := strconv.Atoi(text[loc[2]:loc[3]])
			if err != nil {
				continue
			}
			cyclePos := loc[1]
			nextPos := len(text)
			if i+1 < len(cycleLocs) {
				nextPos = cycleLocs[i+1][0]
			}
			for _, m := range matches {
				if m.pos >= cyclePos && m.pos < nextPos {
					trajectory = append(trajectory, Point{Cycle: cycleNum, Energy: m.value})
					break
				}
			}
		}
	}

	if len(trajectory) == 0 {
		for i, m := range matches {
			trajectory = append(trajectory, Point{Cycle: i + 1, Energy: m.value})
		}
	}

	trajectory = dedupeSorted(trajectory)
	return trajectory
}

func dedupeSorted(points []Point) []Point {
	seen := make(map[Point]bool, len(points))
	deduped := points[:0]
	for _, p := range points {
		if !seen[p] {
			seen[p] = true
			deduped = append(deduped, p)
		}
	}
	sort.Slice(deduped, func(i, j int) bool { return deduped[i].Cycle < deduped[j].Cycle })
	return deduped
}

// Renderer renders energy trajectories to PNG files.
type Renderer struct{}

// NewRenderer creates an energy-trajectory Renderer.
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Plot reads outputPath, extracts its energy trajectory, and writes a
// PNG line chart to plotPath. It is a no-op (no error) when no energy
// samples are found — post-archive hooks are best-effort (§4.6).
func (r *Renderer) Plot(outputPath, plotPath, molecule string, kind models.Kind) error {
	data, err := os.ReadFile(outputPath)
	if err != nil {
		return fmt.Errorf("failed to read output %s: %w", outputPath, err)
	}

	trajectory := ExtractTrajectory(string(data))
	if len(trajectory) < 2 {
		return nil
	}

	xValues := make([]float64, len(trajectory))
	yValues := make([]float64, len(trajectory))
	for i, p := range trajectory {
		xValues[i] = float64(p.Cycle)
		yValues[i] = p.Energy
	}

	series := chart.ContinuousSeries{
		Name: "Energy (Hartree)",
		Style: chart.Style{
			StrokeColor: drawing.ColorFromHex("2563eb"),
			StrokeWidth: 2.5,
		},
		XValues: xValues,
		YValues: yValues,
	}

	graph := chart.Chart{
		Title:  fmt.Sprintf("Energy Trajectory - %s (%s)", molecule, kind),
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{Name: "Optimization Cycle"},
		YAxis: chart.YAxis{Name: "Energy (Hartree)"},
		Series: []chart.Series{
			series,
		},
	}

	f, err := os.Create(plotPath)
	if err != nil {
		return fmt.Errorf("failed to create plot file %s: %w", plotPath, err)
	}
	defer f.Close()

	if err := graph.Render(chart.PNG, f); err != nil {
		return fmt.Errorf("chart render failed: %w", err)
	}
	return nil
}
