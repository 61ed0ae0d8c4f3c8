// Package checkpoint persists research state snapshots durably and recovers
// the newest intact one after a crash. Every snapshot is written atomically
// (temp file, fsync, rename) with a SHA-256 sidecar; reads verify the hash
// and quarantine anything that fails it.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/Sumatoshi-tech/scout/internal/persist"
	"github.com/Sumatoshi-tech/scout/internal/state"
)

// Sentinel errors for checkpoint recovery.
var (
	// ErrCheckpointCorrupt reports a snapshot whose bytes do not match the
	// sidecar digest, or whose sidecar is missing.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

	// ErrNoCheckpoint reports a run directory with no intact snapshot left.
	ErrNoCheckpoint = errors.New("no valid checkpoint")
)

const (
	// QuarantineDirName holds snapshots that failed verification.
	QuarantineDirName = "quarantine"

	// MinKeep is the rotation floor: the newest snapshot plus one fallback
	// always survive.
	MinKeep = 2

	sidecarExt  = ".sha256"
	dataPrefix  = "checkpoint_"
	dataExt     = ".json"
	stepDigits  = 4
	runIDPrefix = "run-"
)

// runIDPattern validates externally supplied run ids before they are used
// as path components.
var runIDPattern = regexp.MustCompile(`^run-[0-9a-f]{12}$`)

// NewRunID returns a fresh run id of the form "run-{12 hex}".
func NewRunID() string {
	u := uuid.New()

	return runIDPrefix + hex.EncodeToString(u[:6])
}

// ValidRunID reports whether id is a well-formed run id.
func ValidRunID(id string) bool {
	return runIDPattern.MatchString(id)
}

// Envelope is the on-disk snapshot document: resume metadata around the
// serialized state.
type Envelope struct {
	Step    int             `json:"step"`
	Node    string          `json:"node"`
	SavedAt string          `json:"saved_at"`
	State   json.RawMessage `json:"state"`
}

// Snapshot is a decoded, verified checkpoint.
type Snapshot struct {
	Step    int
	Node    string
	SavedAt string
	State   *state.ResearchState
	Path    string
}

// Store reads and writes the snapshots of one run directory.
type Store struct {
	dir     string
	maxKeep int
}

// NewStore creates a store over runDir keeping at most maxKeep snapshots
// after rotation, floored at MinKeep.
func NewStore(runDir string, maxKeep int) *Store {
	if maxKeep < MinKeep {
		maxKeep = MinKeep
	}

	return &Store{dir: runDir, maxKeep: maxKeep}
}

// Dir returns the run directory this store operates on.
func (st *Store) Dir() string {
	return st.dir
}

// DataPath returns the snapshot file path for a step.
func (st *Store) DataPath(step int) string {
	return filepath.Join(st.dir, fmt.Sprintf("%s%0*d%s", dataPrefix, stepDigits, step, dataExt))
}

// Save writes a snapshot for the given step and producing node, then
// rotates old snapshots. Returns the written file path. Any write failure
// leaves no partial file under the final name and propagates.
func (st *Store) Save(s *state.ResearchState, step int, node string) (string, error) {
	stateDoc, err := state.Encode(s)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}

	env := Envelope{
		Step:    step,
		Node:    node,
		SavedAt: state.NowUTC(),
		State:   stateDoc,
	}

	data, marshalErr := persist.MarshalStable(env)
	if marshalErr != nil {
		return "", fmt.Errorf("encode checkpoint: %w", marshalErr)
	}

	path := st.DataPath(step)

	writeErr := persist.WriteFileAtomic(path, data, persist.FilePerm)
	if writeErr != nil {
		return "", fmt.Errorf("write checkpoint %d: %w", step, writeErr)
	}

	digest := sha256.Sum256(data)

	sidecarErr := persist.WriteFileAtomic(path+sidecarExt, []byte(hex.EncodeToString(digest[:])+"\n"), persist.FilePerm)
	if sidecarErr != nil {
		return "", fmt.Errorf("write checkpoint %d sidecar: %w", step, sidecarErr)
	}

	rotateErr := st.rotate()
	if rotateErr != nil {
		return "", rotateErr
	}

	return path, nil
}

// Load reads and verifies the snapshot at path. Hash mismatch or a missing
// sidecar returns ErrCheckpointCorrupt.
func (st *Store) Load(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	sidecar, sidecarErr := os.ReadFile(path + sidecarExt)
	if sidecarErr != nil {
		return nil, fmt.Errorf("%w: sidecar unreadable: %w", ErrCheckpointCorrupt, sidecarErr)
	}

	digest := sha256.Sum256(data)
	if hex.EncodeToString(digest[:]) != strings.TrimSpace(string(sidecar)) {
		return nil, fmt.Errorf("%w: %s hash mismatch", ErrCheckpointCorrupt, filepath.Base(path))
	}

	var env Envelope

	unmarshalErr := json.Unmarshal(data, &env)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCheckpointCorrupt, filepath.Base(path), unmarshalErr)
	}

	decoded, decodeErr := state.Decode(env.State)
	if decodeErr != nil {
		return nil, fmt.Errorf("decode checkpoint state: %w", decodeErr)
	}

	return &Snapshot{
		Step:    env.Step,
		Node:    env.Node,
		SavedAt: env.SavedAt,
		State:   decoded,
		Path:    path,
	}, nil
}

// Latest returns the newest intact snapshot. Corrupt snapshots are moved to
// quarantine (data file and sidecar) and iteration continues with the next
// older one. ErrNoCheckpoint when nothing intact remains.
func (st *Store) Latest() (*Snapshot, error) {
	steps, err := st.steps()
	if err != nil {
		return nil, err
	}

	for i := len(steps) - 1; i >= 0; i-- {
		path := st.DataPath(steps[i])

		snap, loadErr := st.Load(path)
		if loadErr == nil {
			return snap, nil
		}

		if errors.Is(loadErr, ErrCheckpointCorrupt) {
			quarantineErr := st.Quarantine(path)
			if quarantineErr != nil {
				return nil, quarantineErr
			}

			continue
		}

		return nil, loadErr
	}

	return nil, ErrNoCheckpoint
}

// Quarantine moves a snapshot and its sidecar into the quarantine
// directory, preserving file names.
func (st *Store) Quarantine(path string) error {
	qdir := filepath.Join(st.dir, QuarantineDirName)

	mkErr := os.MkdirAll(qdir, persist.DirPerm)
	if mkErr != nil {
		return fmt.Errorf("create quarantine dir: %w", mkErr)
	}

	moveErr := os.Rename(path, filepath.Join(qdir, filepath.Base(path)))
	if moveErr != nil && !os.IsNotExist(moveErr) {
		return fmt.Errorf("quarantine %s: %w", filepath.Base(path), moveErr)
	}

	sidecar := path + sidecarExt

	sidecarErr := os.Rename(sidecar, filepath.Join(qdir, filepath.Base(sidecar)))
	if sidecarErr != nil && !os.IsNotExist(sidecarErr) {
		return fmt.Errorf("quarantine %s: %w", filepath.Base(sidecar), sidecarErr)
	}

	return nil
}

// Steps returns the step numbers of all snapshot files, ascending,
// regardless of validity.
func (st *Store) Steps() ([]int, error) {
	return st.steps()
}

func (st *Store) steps() ([]int, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read run dir: %w", err)
	}

	var steps []int

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, dataPrefix) || !strings.HasSuffix(name, dataExt) {
			continue
		}

		var step int

		_, scanErr := fmt.Sscanf(name, dataPrefix+"%d"+dataExt, &step)
		if scanErr != nil {
			continue
		}

		steps = append(steps, step)
	}

	sort.Ints(steps)

	return steps, nil
}

// rotate removes the oldest snapshots beyond the retention limit.
func (st *Store) rotate() error {
	steps, err := st.steps()
	if err != nil {
		return err
	}

	if len(steps) <= st.maxKeep {
		return nil
	}

	var errs []error

	for _, step := range steps[:len(steps)-st.maxKeep] {
		path := st.DataPath(step)

		removeErr := os.Remove(path)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			errs = append(errs, fmt.Errorf("rotate %s: %w", filepath.Base(path), removeErr))
		}

		sidecarRemoveErr := os.Remove(path + sidecarExt)
		if sidecarRemoveErr != nil && !os.IsNotExist(sidecarRemoveErr) {
			errs = append(errs, fmt.Errorf("rotate %s sidecar: %w", filepath.Base(path), sidecarRemoveErr))
		}
	}

	return errors.Join(errs...)
}
