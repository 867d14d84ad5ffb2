package runstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"k8s.io/apimachinery/pkg/labels"

	v1 "github.com/prh-dash/dash-status/api/v1"
)

const (
	localRunStoreDir = "data"
)

// LocalRunStore implements the RunStorage interface using the local filesystem.
// It stores each run as a separate JSON file in a directory.
type LocalRunStore struct {
	Directory string
}

var _ RunStorage = (*LocalRunStore)(nil)

// NewLocalRunStore creates a new LocalRunStore in dataDir, falling back to the default data directory.
func NewLocalRunStore(dataDir string) (*LocalRunStore, error) {
	if dataDir == "" {
		dataDir = localRunStoreDir
	}

	if _, err := os.Stat(dataDir); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to check run store directory: %w", err)
		}
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create run store directory: %w", err)
		}
		log.Printf("Created local run store directory %q", dataDir)
	} else {
		log.Printf("Using existing local run store directory %q", dataDir)
	}

	testFile := filepath.Join(dataDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0644); err != nil {
		return nil, fmt.Errorf("run store directory is not writable: %w", err)
	}
	os.Remove(testFile) //nolint:errcheck

	return &LocalRunStore{Directory: dataDir}, nil
}

func (l *LocalRunStore) runPath(runID uuid.UUID) string {
	return filepath.Join(l.Directory, runID.String()+".json")
}

// ListRuns lists all runs that match the given label selector.
func (l *LocalRunStore) ListRuns(ctx context.Context, selector string) ([]v1.RunObject, error) {
	sel, err := labels.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("failed to parse label selector: %w", err)
	}

	runs := []v1.RunObject{}
	var skippedFiles []string

	walkErr := filepath.WalkDir(l.Directory, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("error accessing path %s: %w", path, err)
		}
		if d.IsDir() || filepath.Ext(path) != ".json" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: Error reading run file %s: %v", path, err)
			skippedFiles = append(skippedFiles, path)
			return nil
		}

		var run v1.RunObject
		if err := json.Unmarshal(data, &run); err != nil {
			log.Printf("Warning: Error unmarshaling run from file %s: %v", path, err)
			skippedFiles = append(skippedFiles, path)
			return nil
		}

		runLabels := labels.Set{}
		if run.Labels != nil {
			runLabels = labels.Set(*run.Labels)
		}
		if sel.Matches(runLabels) {
			runs = append(runs, run)
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("error walking run store directory: %w", walkErr)
	}

	if len(skippedFiles) > 0 {
		log.Printf("Warning: Skipped %d corrupted or unreadable run files", len(skippedFiles))
	}

	sortNewestFirst(runs)
	return runs, nil
}

// GetRun retrieves a single run by its ID.
func (l *LocalRunStore) GetRun(ctx context.Context, runID uuid.UUID) (*v1.RunObject, error) {
	data, err := os.ReadFile(l.runPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newNotFound(runID)
		}
		return nil, fmt.Errorf("failed to read run file: %w", err)
	}

	var run v1.RunObject
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

// CreateRun stores a new run as a JSON file, written atomically.
func (l *LocalRunStore) CreateRun(ctx context.Context, run v1.RunObject) (*v1.RunObject, error) {
	if run.Id == (uuid.UUID{}) {
		return nil, fmt.Errorf("run ID cannot be empty")
	}

	filePath := l.runPath(run.Id)
	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		return nil, newAlreadyExists(run.Id)
	}

	run = withSystemLabels(run)
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal run: %w", err)
	}

	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return nil, fmt.Errorf("failed to write run file: %w", err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		os.Remove(tempPath) //nolint:errcheck
		return nil, fmt.Errorf("failed to finalize run file: %w", err)
	}

	return &run, nil
}

// DeleteRun deletes a run's JSON file.
func (l *LocalRunStore) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	if runID == (uuid.UUID{}) {
		return fmt.Errorf("run ID cannot be empty")
	}

	filePath := l.runPath(runID)
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		return newNotFound(runID)
	}
	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete run file: %w", err)
	}
	return nil
}
