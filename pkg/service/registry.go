package service

import (
	"fmt"

	"github.com/wavsnet/operator/pkg/digest"
	"github.com/wavsnet/operator/pkg/kv"
	"github.com/wavsnet/operator/pkg/operrs"
)

const servicesTable = "services"

// Registry is the single authoritative store for services, backed by
// the typed KV store (spec §4.B), adapted from the reference engine's
// decomposed registry/{function_store,ipfs_store,invocation_logger}
// shape onto one KV-backed store rather than SQL + IPFS.
type Registry struct {
	store kv.Store
	table kv.Table[Service]
}

// NewRegistry wraps store with the "services" table.
func NewRegistry(store kv.Store) *Registry {
	return &Registry{store: store, table: kv.NewTable[Service](store, servicesTable)}
}

// Save persists svc, overwriting any existing entry at the same id.
// Concurrent callers are serialized by the underlying KV store.
func (r *Registry) Save(id digest.Digest, svc Service) error {
	if err := svc.Validate(); err != nil {
		return fmt.Errorf("service: %w", err)
	}
	return r.table.Set([]byte(id.Hex()), svc)
}

// Get returns the service stored at id, or ErrServiceNotFound.
func (r *Registry) Get(id digest.Digest) (Service, error) {
	svc, err := r.table.Get([]byte(id.Hex()))
	if err != nil {
		if err == kv.ErrNotFound {
			return Service{}, operrs.ErrServiceNotFound
		}
		return Service{}, err
	}
	return svc, nil
}

// Exists reports whether id has a stored service.
func (r *Registry) Exists(id digest.Digest) (bool, error) {
	_, err := r.Get(id)
	if err == nil {
		return true, nil
	}
	if err == operrs.ErrServiceNotFound {
		return false, nil
	}
	return false, err
}

// Remove deletes the entry at id. It is not an error to remove an
// absent id (idempotent, matching dispatcher's remove_service).
func (r *Registry) Remove(id digest.Digest) error {
	return r.table.Delete([]byte(id.Hex()))
}

// List performs a lexicographic-by-id range scan between start and end
// (hex-encoded digests; empty strings mean unbounded on that side).
func (r *Registry) List(start, end string) ([]Service, error) {
	rng := kv.Range{}
	if start != "" {
		rng.Start = kv.Inclusive([]byte(start))
	}
	if end != "" {
		rng.End = kv.Inclusive([]byte(end))
	}
	entries, err := r.table.Range(rng)
	if err != nil {
		return nil, err
	}
	out := make([]Service, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Value)
	}
	return out, nil
}

// Add registers a brand new service, failing with ErrServiceExists if
// its computed id is already present.
func (r *Registry) Add(svc Service) (digest.Digest, error) {
	id, err := svc.ID()
	if err != nil {
		return digest.Digest{}, err
	}
	exists, err := r.Exists(id)
	if err != nil {
		return digest.Digest{}, err
	}
	if exists {
		return digest.Digest{}, operrs.ErrServiceExists
	}
	if err := r.Save(id, svc); err != nil {
		return digest.Digest{}, err
	}
	return id, nil
}

// Replace performs the atomic change_service rewrite: the caller is
// responsible for the "store new components before removing the old
// service" ordering at the dispatcher layer; Replace itself is a single
// KV write, which the underlying store already serializes.
func (r *Registry) Replace(id digest.Digest, newSvc Service) error {
	computed, err := newSvc.ID()
	if err != nil {
		return err
	}
	if !computed.Equal(id) {
		return fmt.Errorf("service: %w: expected %s, got %s", operrs.ErrIDMismatch, id, computed)
	}
	return r.Save(id, newSvc)
}
