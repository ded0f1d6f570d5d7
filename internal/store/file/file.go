// Package file keeps ledger state in a JSON file inside the project
// directory. Reads and transactions run on an in-memory store; every commit
// rewrites the file before the new state becomes visible.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cleared-dev/ledger/internal/apperr"
	"github.com/cleared-dev/ledger/internal/store"
	"github.com/cleared-dev/ledger/internal/store/memory"
)

// DefaultPath is the state file location relative to the project directory.
const DefaultPath = "ledger/state.json"

type document struct {
	Revision int64           `json:"revision"`
	State    memory.Snapshot `json:"state"`
}

// Store is a memory store backed by a state file.
type Store struct {
	*memory.Store
	path     string
	revision int64
}

var _ store.Store = (*Store)(nil)

// Open loads the state file at path, or starts empty when it does not exist.
func Open(path string, opts ...memory.Option) (*Store, error) {
	s := &Store{path: path}
	s.Store = memory.New(append(opts, memory.WithCommitHook(s.save))...)

	doc, err := read(path)
	if err != nil {
		return nil, err
	}
	s.revision = doc.Revision
	s.Restore(doc.State)
	return s, nil
}

// Path returns the state file location.
func (s *Store) Path() string { return s.path }

func read(path string) (document, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return document{}, nil
	}
	if err != nil {
		return document{}, fmt.Errorf("reading ledger state: %w", err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, fmt.Errorf("parsing ledger state %s: %w", path, err)
	}
	return doc, nil
}

// save runs under the memory store's write lock. It refuses to overwrite a
// file another process committed to after this one loaded it.
func (s *Store) save(_ context.Context, snap memory.Snapshot) error {
	disk, err := read(s.path)
	if err != nil {
		return err
	}
	if disk.Revision != s.revision {
		return apperr.New(apperr.CodeLockTimeout,
			"%s was updated by another process (revision %d, loaded %d); run the command again", s.path, disk.Revision, s.revision)
	}

	doc := document{Revision: s.revision + 1, State: snap}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger state: %w", err)
	}
	if err := writeAtomic(s.path, append(data, '\n')); err != nil {
		return err
	}
	s.revision = doc.Revision
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("creating temp state file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("syncing %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
