package blobstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// AppDataStore hands out one content-addressed Store per service id,
// each rooted at its own subdirectory of root (spec §6's
// <data_dir>/app/<service_id>/ persisted-state layout). This is the
// per-service filesystem isolation boundary: unlike the shared
// component blob store, a digest written by one service's Store is
// invisible to every other service's Store, since they are rooted at
// different directories rather than sharing one digest namespace.
type AppDataStore struct {
	root string

	mu     sync.Mutex
	stores map[string]*DiskStore
}

// NewAppDataStore returns an AppDataStore rooted at root. root itself
// is created lazily, per service, by ForService.
func NewAppDataStore(root string) *AppDataStore {
	return &AppDataStore{root: root, stores: make(map[string]*DiskStore)}
}

// ForService returns the Store for serviceID, opening (and caching) its
// backing directory on first use.
func (a *AppDataStore) ForService(serviceID string) (Store, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.stores[serviceID]; ok {
		return s, nil
	}
	s, err := NewDiskStore(filepath.Join(a.root, serviceID))
	if err != nil {
		return nil, fmt.Errorf("blobstore: open app data store for %s: %w", serviceID, err)
	}
	a.stores[serviceID] = s
	return s, nil
}

// RemoveService evicts serviceID's cached Store and deletes its
// directory and every blob in it (spec §4.H's remove_service cleanup).
// Removing a service with no app data on disk is not an error.
func (a *AppDataStore) RemoveService(serviceID string) error {
	a.mu.Lock()
	delete(a.stores, serviceID)
	a.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(a.root, serviceID)); err != nil {
		return fmt.Errorf("blobstore: remove app data for %s: %w", serviceID, err)
	}
	return nil
}
