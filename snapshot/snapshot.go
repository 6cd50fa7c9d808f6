// Package snapshot implements the Snapshot Store Contract: an append-only,
// label-keyed record of branch and HEAD state written before and after a
// mutating invocation, so an external `undo` collaborator can restore a
// prior state. The on-disk layout is this package's own concern; nothing
// outside core treats it as a stable format.
package snapshot

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/stackforge/gitstack/cmd/gitstack/cli/validation"
	"github.com/stackforge/gitstack/gitrepo"
)

// Entry records one branch's commit id at snapshot time.
type Entry struct {
	Branch string           `yaml:"branch"`
	Commit gitrepo.CommitID `yaml:"commit"`
}

// Snapshot is one recorded repository state.
type Snapshot struct {
	Label     string    `yaml:"label"`
	CreatedAt time.Time `yaml:"created_at"`
	Head      string    `yaml:"head"`
	Entries   []Entry   `yaml:"entries"`
}

// Store is the interface the planner and executor depend on; a real
// invocation uses FileStore, tests use an in-memory fake.
type Store interface {
	Write(s Snapshot) error
	Latest() (*Snapshot, error)
	ByLabel(label string) (*Snapshot, error)
}

// FileStore persists snapshots as one YAML file per label under dir,
// appending a short uuid suffix so repeated labels (e.g. two "pre"
// snapshots in the same session) never collide.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	//nolint:gosec // snapshot directory is repository-local metadata, not sensitive
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Write appends a new snapshot file. label is validated the same way a
// user-facing snapshot identifier would be, since it ends up in a file
// name.
func (s *FileStore) Write(snap Snapshot) error {
	if err := validation.ValidateSnapshotLabel(snap.Label); err != nil {
		return err
	}

	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	filename := fmt.Sprintf("%s-%s-%s.yaml", snap.CreatedAt.UTC().Format("20060102T150405Z"), snap.Label, uuid.NewString()[:8])
	path := filepath.Join(s.dir, filename)
	//nolint:gosec // snapshot files are repository-local metadata, not sensitive
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", snap.Label, err)
	}
	return nil
}

// Latest returns the most recently written snapshot across all labels, or
// nil if the store is empty.
func (s *FileStore) Latest() (*Snapshot, error) {
	files, err := s.listFiles()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	return s.load(files[len(files)-1])
}

// ByLabel returns the most recently written snapshot with the given label,
// or nil if none exists.
func (s *FileStore) ByLabel(label string) (*Snapshot, error) {
	files, err := s.listFiles()
	if err != nil {
		return nil, err
	}
	for i := len(files) - 1; i >= 0; i-- {
		snap, err := s.load(files[i])
		if err != nil {
			return nil, err
		}
		if snap.Label == label {
			return snap, nil
		}
	}
	return nil, nil
}

func (s *FileStore) listFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("listing snapshot directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // filenames are timestamp-prefixed, so lexical order is chronological
	return names, nil
}

func (s *FileStore) load(name string) (*Snapshot, error) {
	//nolint:gosec // filename enumerated from our own directory listing
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", name, err)
	}
	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot %s: %w", name, err)
	}
	return &snap, nil
}

// CaptureCurrentState builds a Snapshot from the repository's current
// branch tips and HEAD, for the executor to pass to Write.
func CaptureCurrentState(repo *gitrepo.Repo, label string, now time.Time) (Snapshot, error) {
	branches, err := repo.LocalBranches()
	if err != nil {
		return Snapshot{}, err
	}
	entries := make([]Entry, 0, len(branches))
	for _, b := range branches {
		entries = append(entries, Entry{Branch: b.Name, Commit: b.Local})
	}

	head, err := repo.Head()
	if err != nil {
		return Snapshot{}, err
	}

	return Snapshot{
		Label:     label,
		CreatedAt: now,
		Head:      string(head),
		Entries:   entries,
	}, nil
}
