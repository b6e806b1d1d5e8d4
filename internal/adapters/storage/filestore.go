package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alejandrodnm/binarybot/internal/ledger"
)

// FileStore guarda el snapshot del ledger como un único JSON. Cada escritura
// es atómica (tmp + fsync + rename): un crash deja el snapshot anterior o el
// nuevo, nunca uno a medias.
type FileStore struct {
	path string
}

// NewFileStore crea el directorio de path si no existe.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("storage.NewFileStore: mkdir: %w", err)
	}
	return &FileStore{path: path}, nil
}

// SaveSnapshot implementa ports.SnapshotStore.
func (f *FileStore) SaveSnapshot(_ context.Context, st ledger.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("storage.FileStore.SaveSnapshot: marshal: %w", err)
	}
	if err := writeFileAtomic(f.path, data, 0o644); err != nil {
		return fmt.Errorf("storage.FileStore.SaveSnapshot: %w", err)
	}
	return nil
}

// LoadSnapshot implementa ports.SnapshotStore. Un fichero inexistente es
// found=false, no un error.
func (f *FileStore) LoadSnapshot(_ context.Context) (ledger.State, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return ledger.State{}, false, nil
	}
	if err != nil {
		return ledger.State{}, false, fmt.Errorf("storage.FileStore.LoadSnapshot: read: %w", err)
	}
	var st ledger.State
	if err := json.Unmarshal(data, &st); err != nil {
		return ledger.State{}, false, fmt.Errorf("storage.FileStore.LoadSnapshot: decode %s: %w", f.path, err)
	}
	return st, true, nil
}

// writeFileAtomic escribe data en path vía fichero temporal + fsync + rename,
// y hace fsync del directorio padre (best-effort).
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
