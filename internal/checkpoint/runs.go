package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunInfo summarizes one run directory for listing.
type RunInfo struct {
	RunID      string
	Snapshots  int
	LatestStep int
	UpdatedAt  time.Time
}

// ListRuns scans baseDir for run directories and summarizes each. Runs with
// no snapshot files still appear with zero snapshots.
func ListRuns(baseDir string) ([]RunInfo, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read checkpoints dir: %w", err)
	}

	var runs []RunInfo

	for _, entry := range entries {
		if !entry.IsDir() || !ValidRunID(entry.Name()) {
			continue
		}

		info := RunInfo{RunID: entry.Name()}

		st := NewStore(filepath.Join(baseDir, entry.Name()), MinKeep)

		steps, stepsErr := st.Steps()
		if stepsErr != nil {
			return nil, stepsErr
		}

		info.Snapshots = len(steps)
		if len(steps) > 0 {
			info.LatestStep = steps[len(steps)-1]

			stat, statErr := os.Stat(st.DataPath(info.LatestStep))
			if statErr == nil {
				info.UpdatedAt = stat.ModTime()
			}
		}

		runs = append(runs, info)
	}

	return runs, nil
}

// RemoveRun deletes a run directory and everything under it. The run id is
// validated first so a malformed id can never escape baseDir.
func RemoveRun(baseDir, runID string) error {
	if !ValidRunID(runID) {
		return fmt.Errorf("invalid run id %q", runID)
	}

	removeErr := os.RemoveAll(filepath.Join(baseDir, runID))
	if removeErr != nil {
		return fmt.Errorf("remove run %s: %w", runID, removeErr)
	}

	return nil
}
