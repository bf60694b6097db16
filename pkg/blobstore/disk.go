package blobstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/wavsnet/operator/pkg/digest"
)

// DiskStore is the on-disk Store implementation, grounded on the
// original implementation's FileStorage: blobs live at
// <root>/<hex0:2>/<hex2:4>/<hex>, keeping per-directory fan-out bounded
// by hashing rather than by a directory index.
type DiskStore struct {
	root string
}

// NewDiskStore creates root (and any missing parents) and returns a
// Store rooted there.
func NewDiskStore(root string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root %q: %w", root, err)
	}
	return &DiskStore{root: root}, nil
}

func (s *DiskStore) pathFor(d digest.Digest) string {
	l1, l2 := d.ShardPath()
	return filepath.Join(s.root, l1, l2, d.Hex())
}

func (s *DiskStore) Put(data []byte) (digest.Digest, error) {
	d := digest.Of(data)
	path := s.pathFor(d)

	if _, err := os.Stat(path); err == nil {
		return d, nil // idempotent: identical content already stored
	} else if !os.IsNotExist(err) {
		return digest.Digest{}, fmt.Errorf("blobstore: stat %q: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return digest.Digest{}, fmt.Errorf("blobstore: mkdir for %q: %w", path, err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return digest.Digest{}, fmt.Errorf("blobstore: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return digest.Digest{}, fmt.Errorf("blobstore: finalize %q: %w", path, err)
	}
	return d, nil
}

func (s *DiskStore) Get(d digest.Digest) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(d))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", d, err)
	}
	return data, nil
}

func (s *DiskStore) Exists(d digest.Digest) (bool, error) {
	_, err := os.Stat(s.pathFor(d))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("blobstore: stat %s: %w", d, err)
}

// List walks the directory tree and reconstructs every stored digest
// from its filename, mirroring the original's digests() walk.
func (s *DiskStore) List() ([]digest.Digest, error) {
	var out []digest.Digest
	err := filepath.WalkDir(s.root, func(path string, de os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		if filepath.Ext(path) == ".tmp" {
			return nil
		}
		d, parseErr := digest.Parse("sha256:" + de.Name())
		if parseErr != nil {
			return nil // not a blob file we recognize; skip rather than fail the whole walk
		}
		out = append(out, d)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: list %q: %w", s.root, err)
	}
	return out, nil
}

// Reset removes and recreates the store root, discarding all blobs.
func (s *DiskStore) Reset() error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("blobstore: reset remove %q: %w", s.root, err)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("blobstore: reset recreate %q: %w", s.root, err)
	}
	return nil
}
