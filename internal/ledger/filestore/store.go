// Package filestore persists the ledger as two JSON files, one for the
// active units and one for the event log. Each file is rewritten in full on
// every save through a temporary file and a rename.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/odyssey-erp/stalltally/internal/ledger"
)

var _ ledger.Store = (*Store)(nil)

// Store is the file-backed ledger store.
type Store struct {
	unitsPath string
	logPath   string
}

// New returns a store writing to the given paths. Parent directories are
// created on first save.
func New(unitsPath, logPath string) *Store {
	return &Store{unitsPath: unitsPath, logPath: logPath}
}

// Save writes both files. Both are attempted even if the first fails.
func (s *Store) Save(ctx context.Context, snap ledger.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var errs []error
	units, err := ledger.EncodeUnits(snap.Units)
	if err != nil {
		errs = append(errs, fmt.Errorf("filestore: encode units: %w", err))
	} else if err := writeFile(s.unitsPath, units); err != nil {
		errs = append(errs, err)
	}

	events, err := ledger.EncodeLog(snap.Events)
	if err != nil {
		errs = append(errs, fmt.Errorf("filestore: encode log: %w", err))
	} else if err := writeFile(s.logPath, events); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Load reads both files. A missing file loads as empty.
func (s *Store) Load(ctx context.Context) (ledger.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return ledger.Snapshot{}, err
	}
	var (
		snap ledger.Snapshot
		errs []error
	)
	if raw, err := readFile(s.unitsPath); err != nil {
		errs = append(errs, err)
	} else if raw != nil {
		if snap.Units, err = ledger.DecodeUnits(raw); err != nil {
			errs = append(errs, fmt.Errorf("filestore: %s: %w", s.unitsPath, err))
		}
	}
	if raw, err := readFile(s.logPath); err != nil {
		errs = append(errs, err)
	} else if raw != nil {
		if snap.Events, err = ledger.DecodeLog(raw); err != nil {
			errs = append(errs, fmt.Errorf("filestore: %s: %w", s.logPath, err))
		}
	}
	return snap, errors.Join(errs...)
}

// Close implements ledger.Store.
func (s *Store) Close() error {
	return nil
}

func readFile(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: read %q: %w: %w", path, ledger.ErrIO, err)
	}
	return raw, nil
}

func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filestore: create dir %q: %w: %w", dir, ledger.ErrIO, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("filestore: create temp for %q: %w: %w", path, ledger.ErrIO, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: write %q: %w: %w", path, ledger.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("filestore: sync %q: %w: %w", path, ledger.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close %q: %w: %w", path, ledger.ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("filestore: replace %q: %w: %w", path, ledger.ErrIO, err)
	}
	return nil
}
