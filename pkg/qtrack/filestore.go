package qtrack

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore persists experiments and run records as JSON files under a root
// directory (".quill" by convention).
type FileStore struct {
	root string

	mu sync.Mutex
}

type experimentIndex struct {
	NextID      int           `json:"next_id"`
	Experiments []*Experiment `json:"experiments"`
}

// RunRecord is the persisted state of one run.
type RunRecord struct {
	ID           string            `json:"id"`
	ExperimentID string            `json:"experiment_id"`
	Status       string            `json:"status"`
	Tags         map[string]string `json:"tags"`
	CreatedAt    time.Time         `json:"created_at"`
	EndedAt      *time.Time        `json:"ended_at,omitempty"`
}

// NewFileStore opens (creating if needed) a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "runs"), 0o755); err != nil {
		return nil, fmt.Errorf("creating tracking directory: %w", err)
	}
	s := &FileStore{root: dir}

	// The default experiment always exists.
	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	if len(index.Experiments) == 0 {
		index.Experiments = append(index.Experiments, &Experiment{ID: DefaultExperimentID, Name: "Default"})
		index.NextID = 1
		if err := s.saveIndex(index); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *FileStore) indexPath() string {
	return filepath.Join(s.root, "experiments.json")
}

func (s *FileStore) runPath(runID string) string {
	return filepath.Join(s.root, "runs", runID, "run.json")
}

func (s *FileStore) loadIndex() (*experimentIndex, error) {
	var index experimentIndex
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return &index, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading experiment index: %w", err)
	}
	if err := json.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("parsing experiment index: %w", err)
	}
	return &index, nil
}

func (s *FileStore) saveIndex(index *experimentIndex) error {
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.indexPath(), data, 0o644)
}

func (s *FileStore) GetExperimentByName(_ context.Context, name string) (*Experiment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, exp := range index.Experiments {
		if exp.Name == name {
			return exp, nil
		}
	}
	return nil, nil
}

func (s *FileStore) CreateExperiment(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index, err := s.loadIndex()
	if err != nil {
		return "", err
	}
	exp := &Experiment{ID: strconv.Itoa(index.NextID), Name: name}
	index.NextID++
	index.Experiments = append(index.Experiments, exp)
	if err := s.saveIndex(index); err != nil {
		return "", err
	}
	return exp.ID, nil
}

func (s *FileStore) CreateRun(_ context.Context, experimentID string, tags map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runID := uuid.NewString()
	record := &RunRecord{
		ID:           runID,
		ExperimentID: experimentID,
		Status:       StatusScheduled,
		Tags:         map[string]string{},
		CreatedAt:    time.Now(),
	}
	for k, v := range tags {
		record.Tags[k] = v
	}
	if err := s.saveRun(record); err != nil {
		return "", err
	}
	return runID, nil
}

func (s *FileStore) SetTag(_ context.Context, runID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.GetRun(runID)
	if err != nil {
		return err
	}
	record.Tags[key] = value
	return s.saveRun(record)
}

func (s *FileStore) UpdateRunStatus(_ context.Context, runID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.GetRun(runID)
	if err != nil {
		return err
	}
	record.Status = status
	if status == StatusFinished || status == StatusFailed || status == StatusKilled {
		now := time.Now()
		record.EndedAt = &now
	}
	return s.saveRun(record)
}

// GetRun reads a run record back; callers other than the store itself use it
// to inspect recorded state.
func (s *FileStore) GetRun(runID string) (*RunRecord, error) {
	data, err := os.ReadFile(s.runPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s not found", runID)
		}
		return nil, fmt.Errorf("reading run record: %w", err)
	}
	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parsing run record: %w", err)
	}
	return &record, nil
}

func (s *FileStore) saveRun(record *RunRecord) error {
	dir := filepath.Dir(s.runPath(record.ID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.runPath(record.ID), data, 0o644)
}
