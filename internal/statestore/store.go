// Package statestore implements the crash-safe, file-backed persistence
// for the three job lists the scheduler depends on: queued, running, and
// completed. Ported from the atomic temp-file+rename pattern used by the
// original storage layer's JSON file store.
package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/naonao34567890/orcapipe/internal/common"
	"github.com/naonao34567890/orcapipe/internal/models"
)

const (
	queueFile     = "queue.json"
	runningFile   = "running.json"
	completedFile = "completed.json"
)

// Store is a durable, crash-safe persistence layer for the three job
// lists. Each list lives in its own file, guarded by its own mutex, and
// is rewritten atomically on every mutation (§4.1).
type Store struct {
	dir string

	queueMu     sync.Mutex
	runningMu   sync.Mutex
	completedMu sync.Mutex

	logger *common.Logger
}

// New creates a Store rooted at dir, creating it if necessary, and
// sweeps any orphaned temp files left behind by a prior crash.
func New(dir string, logger *common.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state dir %s: %w", dir, err)
	}
	s := &Store{dir: dir, logger: logger}
	s.sweepTemps()
	return s, nil
}

// sweepTemps removes orphaned .tmp-* files left by a write that crashed
// after temp-file creation but before rename (§4.1 failure semantics).
func (s *Store) sweepTemps() {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			path := filepath.Join(s.dir, e.Name())
			if err := os.Remove(path); err == nil {
				s.logger.Warn().Str("path", path).Msg("Removed orphaned state temp file")
			}
		}
	}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// readList loads an ordered job list, treating an absent or unparseable
// file as an empty list (logging the latter).
func (s *Store) readList(name string) ([]*models.Job, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Job{}, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if len(data) == 0 {
		return []*models.Job{}, nil
	}
	var jobs []*models.Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		s.logger.Warn().Err(err).Str("file", name).Msg("Unparseable state file, treating as empty")
		return []*models.Job{}, nil
	}
	return jobs, nil
}

// writeList rewrites name atomically: write to a sibling temp file in
// the same directory, then rename over the target so a crash never
// leaves a partially written list observable.
func (s *Store) writeList(name string, jobs []*models.Job) error {
	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(name)); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// LoadQueue returns the queued job list.
func (s *Store) LoadQueue() ([]*models.Job, error) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	return s.readList(queueFile)
}

// LoadRunning returns the running job list.
func (s *Store) LoadRunning() ([]*models.Job, error) {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()
	return s.readList(runningFile)
}

// LoadCompleted returns the completed job list.
func (s *Store) LoadCompleted() ([]*models.Job, error) {
	s.completedMu.Lock()
	defer s.completedMu.Unlock()
	return s.readList(completedFile)
}

// Enqueue appends job to the queued list, idempotently: a record
// already present with the same JobID is left untouched.
func (s *Store) Enqueue(job *models.Job) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	jobs, err := s.readList(queueFile)
	if err != nil {
		return err
	}
	for _, existing := range jobs {
		if existing.JobID == job.JobID {
			return nil
		}
	}
	jobs = append(jobs, job)
	return s.writeList(queueFile, jobs)
}

// Dequeue removes the record with jobID from the queued list.
func (s *Store) Dequeue(jobID string) error {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	jobs, err := s.readList(queueFile)
	if err != nil {
		return err
	}
	filtered := jobs[:0]
	for _, j := range jobs {
		if j.JobID != jobID {
			filtered = append(filtered, j)
		}
	}
	return s.writeList(queueFile, filtered)
}

// AddRunning appends job to the running list.
func (s *Store) AddRunning(job *models.Job) error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	jobs, err := s.readList(runningFile)
	if err != nil {
		return err
	}
	jobs = append(jobs, job)
	return s.writeList(runningFile, jobs)
}

// RemoveRunning removes the record with jobID from the running list.
func (s *Store) RemoveRunning(jobID string) error {
	s.runningMu.Lock()
	defer s.runningMu.Unlock()

	jobs, err := s.readList(runningFile)
	if err != nil {
		return err
	}
	filtered := jobs[:0]
	for _, j := range jobs {
		if j.JobID != jobID {
			filtered = append(filtered, j)
		}
	}
	return s.writeList(runningFile, filtered)
}

// AppendCompleted appends job to the completed list unconditionally;
// history may contain multiple records per molecule but the scheduler
// guarantees only one per job_id attempt stream (§3 invariants).
func (s *Store) AppendCompleted(job *models.Job) error {
	s.completedMu.Lock()
	defer s.completedMu.Unlock()

	jobs, err := s.readList(completedFile)
	if err != nil {
		return err
	}
	jobs = append(jobs, job)
	return s.writeList(completedFile, jobs)
}
