package store

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"venuszero/internal/core/domain"
	"venuszero/internal/core/port"

	"go.uber.org/zap"
)

const (
	historyFile = "consumption_history.json"
	weeklyFile  = "weekly_charge.json"
)

// FileStore persists controller state as JSON files. Writes go through
// a temp file plus rename so a crash mid-write never leaves a corrupt
// state file behind.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

func NewFileStore(dir string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) LoadHistory() ([]domain.ConsumptionSample, error) {
	var samples []domain.ConsumptionSample
	err := s.load(historyFile, &samples)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return samples, err
}

func (s *FileStore) SaveHistory(samples []domain.ConsumptionSample) error {
	return s.save(historyFile, samples)
}

func (s *FileStore) LoadWeeklyState() (*domain.WeeklyChargeState, error) {
	var state domain.WeeklyChargeState
	err := s.load(weeklyFile, &state)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *FileStore) SaveWeeklyState(state domain.WeeklyChargeState) error {
	return s.save(weeklyFile, state)
}

func (s *FileStore) load(name string, out any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *FileStore) save(name string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	s.logger.Debug("store: state saved", zap.String("file", name))
	return nil
}

// ensure interface compliance
var _ port.StateStore = (*FileStore)(nil)
