package jobs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"redub/internal/services"
)

// Store persists jobs in one JSON file.
type Store struct {
	path string

	mu       sync.Mutex
	fileLock *flock.Flock
}

// Open creates a store backed by the given JSON file, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure jobs dir: %w", err)
	}
	return &Store{
		path:     path,
		fileLock: flock.New(path + ".lock"),
	}, nil
}

// Create registers a new pending job and returns it.
func (s *Store) Create(filename, inputPath, workdir, sourceURL string) (Job, error) {
	job := Job{
		ID:        uuid.NewString(),
		Filename:  filename,
		InputPath: inputPath,
		Workdir:   workdir,
		Status:    StatusPending,
		SourceURL: sourceURL,
		CreatedAt: time.Now().UTC(),
	}
	err := s.modify(func(all map[string]Job) error {
		all[job.ID] = job
		return nil
	})
	if err != nil {
		return Job{}, err
	}
	return job, nil
}

// Get returns the job with the given id.
func (s *Store) Get(id string) (Job, error) {
	var job Job
	err := s.read(func(all map[string]Job) error {
		found, ok := all[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "", "get", fmt.Sprintf("job %s", id), nil)
		}
		job = found
		return nil
	})
	return job, err
}

// List returns all jobs, newest first.
func (s *Store) List() ([]Job, error) {
	var list []Job
	err := s.read(func(all map[string]Job) error {
		list = make([]Job, 0, len(all))
		for _, job := range all {
			list = append(list, job)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	return list, nil
}

// Update applies fn to the stored job and persists the result. Status
// regressions are rejected and completed is final; a failed job may move
// back to processing (or on to completed) when it is resumed.
func (s *Store) Update(id string, fn func(*Job)) (Job, error) {
	var updated Job
	err := s.modify(func(all map[string]Job) error {
		job, ok := all[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "", "update", fmt.Sprintf("job %s", id), nil)
		}
		before := job.Status
		fn(&job)
		if job.ID != id {
			return services.Wrap(services.ErrValidation, "", "update", "job id is immutable", nil)
		}
		if job.Status != before && !legalTransition(before, job.Status) {
			return services.Wrap(services.ErrValidation, "", "update",
				fmt.Sprintf("illegal status transition %s -> %s", before, job.Status), nil)
		}
		all[id] = job
		updated = job
		return nil
	})
	return updated, err
}

func legalTransition(from, to Status) bool {
	if from == StatusCompleted {
		return false
	}
	if from == StatusFailed {
		return to == StatusProcessing || to == StatusCompleted
	}
	return to.rank() >= from.rank()
}

// Delete removes the job record along with its input file and workdir.
// Deleting an unknown id fails with a not-found error.
func (s *Store) Delete(id string) error {
	var input, workdir string
	err := s.modify(func(all map[string]Job) error {
		job, ok := all[id]
		if !ok {
			return services.Wrap(services.ErrNotFound, "", "delete", fmt.Sprintf("job %s", id), nil)
		}
		input = job.InputPath
		workdir = job.Workdir
		delete(all, id)
		return nil
	})
	if err != nil {
		return err
	}
	if workdir != "" {
		_ = os.RemoveAll(workdir)
	}
	if input != "" {
		_ = os.Remove(input)
	}
	return nil
}

func (s *Store) read(fn func(map[string]Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fileLock.Lock(); err != nil {
		return fmt.Errorf("lock jobs file: %w", err)
	}
	defer s.fileLock.Unlock() //nolint:errcheck

	all, err := s.load()
	if err != nil {
		return err
	}
	return fn(all)
}

func (s *Store) modify(fn func(map[string]Job) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fileLock.Lock(); err != nil {
		return fmt.Errorf("lock jobs file: %w", err)
	}
	defer s.fileLock.Unlock() //nolint:errcheck

	all, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(all); err != nil {
		return err
	}
	return s.save(all)
}

func (s *Store) load() (map[string]Job, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]Job{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}
	all := map[string]Job{}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("decode jobs file: %w", err)
	}
	return all, nil
}

func (s *Store) save(all map[string]Job) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encode jobs file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write jobs file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("write jobs file: %w", err)
	}
	return nil
}
