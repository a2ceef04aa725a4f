package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/thelightscope/lightscope-updater/internal/config"
	"github.com/thelightscope/lightscope-updater/internal/domain/release"
)

// Repository defines persistence operations for the installed state.
type Repository interface {
	Load(ctx context.Context) (*release.InstalledState, error)
	Save(ctx context.Context, state *release.InstalledState) error
}

// FileRepository persists the installed state to a JSON file on disk.
type FileRepository struct {
	// path is the filesystem location of the JSON state file.
	path string
	// mu protects concurrent access to the state file and cache.
	mu sync.Mutex
	// cached is the last state read or written. Callers receive clones, so
	// mutating a returned state never leaks back into the repository.
	cached *release.InstalledState
}

// ErrNotFound is returned when the state file does not exist yet.
var ErrNotFound = errors.New("state not found")

// installedStateRecord is the on-disk JSON shape of the installed state.
type installedStateRecord struct {
	CurrentVersion string    `json:"current_version"`
	ArtifactPath   string    `json:"artifact_path"`
	BackupPath     string    `json:"backup_path"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load returns a copy of the state, reading the file only when nothing has
// been loaded or saved through this repository yet.
func (r *FileRepository) Load(_ context.Context) (*release.InstalledState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cached != nil {
		return r.cached.Clone(), nil
	}

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var record installedStateRecord
	if err = json.Unmarshal(contents, &record); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	r.cached = &release.InstalledState{
		CurrentVersion: record.CurrentVersion,
		ArtifactPath:   record.ArtifactPath,
		BackupPath:     record.BackupPath,
		UpdatedAt:      record.UpdatedAt,
	}

	return r.cached.Clone(), nil
}

// Save writes the state to disk using JSON representation.
func (r *FileRepository) Save(_ context.Context, state *release.InstalledState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record := installedStateRecord{
		CurrentVersion: state.CurrentVersion,
		ArtifactPath:   state.ArtifactPath,
		BackupPath:     state.BackupPath,
		UpdatedAt:      state.UpdatedAt,
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err = os.WriteFile(r.path, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	r.cached = state.Clone()

	return nil
}
