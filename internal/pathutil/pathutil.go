// Package pathutil provides collision-safe naming helpers shared by the
// watcher, Scheduler, Archiver, and ChainBuilder. Ported from the
// original pipeline's path_utils.unique_path / unique_job_id.
package pathutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// UniquePath returns base unchanged if nothing exists there yet,
// otherwise disambiguates with _1, _2, ... suffixes inserted before the
// extension until a free path is found.
func UniquePath(base string) string {
	if !exists(base) {
		return base
	}

	dir := filepath.Dir(base)
	name := filepath.Base(base)
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", stem, i, ext))
		if !exists(candidate) {
			return candidate
		}
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// UniqueJobID mints a process-unique, human-readable job id from a
// stem and job kind, suffixed with a short uuid fragment.
func UniqueJobID(stem string, kind string) string {
	return fmt.Sprintf("%s_%s_%s", stem, kind, uuid.New().String()[:6])
}

// StripKindSuffix strips a trailing _opt or _freq suffix from a stem to
// recover the bare molecule name used for the products tree (§4.6).
func StripKindSuffix(stem string) string {
	stem = strings.TrimSuffix(stem, "_opt")
	stem = strings.TrimSuffix(stem, "_freq")
	return stem
}
