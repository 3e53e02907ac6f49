// Package classifier implements the solver output-text classification
// state machine (§4.3): a pure function mapping raw output text to one
// of success/fatal/recoverable/incomplete, with a human-readable reason.
// Ported from the original pipeline's is_orca_definitely_complete,
// which threaded completion/recoverable/fatal as three booleans; this
// package collapses that into a single total-function Outcome.
package classifier

import (
	"regexp"
	"strings"

	"github.com/naonao34567890/orcapipe/internal/models"
)

const normalTerminationMarker = "ORCA TERMINATED NORMALLY"

// fatalPatterns require immediate pipeline stop: they are configuration
// or environment errors no retry can fix.
var fatalPatterns = compilePatterns([]string{
	`Unknown basis set`,
	`Unknown method`,
	`Unknown functional`,
	`Unknown key`,
	`Syntax error`,
	`Cannot find executable`,
	`License error`,
	`Out of memory`,
	`Disk full`,
	`Permission denied`,
	`ABORTING THE RUN`,
	`FATAL ERROR`,
})

// recoverablePatterns are system- or chemistry-specific failures that
// do not indicate a broken configuration.
var recoverablePatterns = compilePatterns([]string{
	`SCF NOT CONVERGED`,
	`CONVERGENCE NOT REACHED`,
	`OPTIMIZATION FAILED`,
	`GEOMETRY OPTIMIZATION FAILED`,
	`SYMMETRY PROBLEMS`,
	`ENERGY TOO HIGH`,
	`NEGATIVE FREQUENCIES`,
	`MAXIMUM NUMBER OF CYCLES REACHED`,
	`SCF CONVERGENCE FAILURE`,
})

var genericErrorPattern = regexp.MustCompile(`(?i)ERROR`)

func compilePatterns(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(`(?i)` + p)
	}
	return compiled
}

// Classify parses solver output text and returns exactly one outcome
// with a reason, in the decision order fixed by §4.3: success marker,
// then fatal patterns, then recoverable patterns, then a generic ERROR
// token, then incomplete. The function performs no I/O and is total.
func Classify(text string) (models.Outcome, string) {
	if strings.Contains(text, normalTerminationMarker) {
		return models.OutcomeSuccess, ""
	}

	for _, re := range fatalPatterns {
		if re.MatchString(text) {
			return models.OutcomeFatal, "Fatal error: " + re.String()
		}
	}

	for _, re := range recoverablePatterns {
		if re.MatchString(text) {
			return models.OutcomeRecoverable, "Recoverable error: " + re.String()
		}
	}

	if genericErrorPattern.MatchString(text) {
		return models.OutcomeRecoverable, "Generic error (assumed recoverable)"
	}

	return models.OutcomeIncomplete, "No termination marker found — likely interrupted"
}
