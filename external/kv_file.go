package external

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
)

// FileKV is a JSON-file-backed LocalKV: one file per key under root,
// written atomically via a temp file plus rename so a process crash
// mid-write never leaves a torn file for the next read to trip over.
// Adapted from the snapshot-plus-replay shape of a distributed KV
// store's persistence layer, narrowed here to one file per key instead
// of one snapshot file for the whole keyspace, since LocalKV's contract
// is already per-key atomicity rather than a whole-store transaction.
type FileKV struct {
	mu   sync.Mutex
	root string
}

// NewFileKV opens (creating if necessary) a FileKV rooted at dir.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("external.NewFileKV: %w", err)
	}
	return &FileKV{root: dir}, nil
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.root, url.PathEscape(key)+".json")
}

// Get returns the bytes stored under key. ok is false, with a nil
// error, when the key has never been written.
func (f *FileKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("external.FileKV.Get %q: %w", key, err)
	}
	return b, true, nil
}

// Set stores value under key by writing to a sibling temp file,
// fsyncing it, then renaming over the target path. The rename is
// atomic on every OS this runs on, so a reader never observes a
// partially-written file.
func (f *FileKV) Set(ctx context.Context, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.root, "tmp-*")
	if err != nil {
		return fmt.Errorf("external.FileKV.Set %q: %w", key, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("external.FileKV.Set %q: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("external.FileKV.Set %q: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("external.FileKV.Set %q: %w", key, err)
	}
	if err := os.Rename(tmpPath, f.path(key)); err != nil {
		return fmt.Errorf("external.FileKV.Set %q: %w", key, err)
	}
	return nil
}
