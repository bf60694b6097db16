package dispatcher

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/wavsnet/operator/pkg/blobstore"
	"github.com/wavsnet/operator/pkg/digest"
	"github.com/wavsnet/operator/pkg/kv"
	"github.com/wavsnet/operator/pkg/oplog"
	"github.com/wavsnet/operator/pkg/service"
	"github.com/wavsnet/operator/pkg/trigger"
)

// fakeManagerQuerier returns a fixed URI per manager address, or an
// error if not present.
type fakeManagerQuerier struct {
	uris map[string]string
}

func (f *fakeManagerQuerier) GetServiceURI(ctx context.Context, manager service.Manager) (string, error) {
	uri, ok := f.uris[manager.Address]
	if !ok {
		return "", errNotFound
	}
	return uri, nil
}

var errNotFound = &fetchError{"manager address not configured"}

type fetchError struct{ msg string }

func (e *fetchError) Error() string { return e.msg }

// fakeFetcher serves fixed byte payloads keyed by URI.
type fakeFetcher struct {
	docs map[string][]byte
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{docs: make(map[string][]byte)}
}

func (f *fakeFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	b, ok := f.docs[uri]
	if !ok {
		return nil, &fetchError{"no document at " + uri}
	}
	return b, nil
}

func componentWithDigest(blobs blobstore.Store, bytes []byte) (service.Component, digest.Digest) {
	d, _ := blobs.Put(bytes)
	return service.Component{
		Source: service.ComponentSource{Digest: &d},
	}, d
}

func buildDispatcher() (*Dispatcher, *fakeFetcher, *fakeManagerQuerier, blobstore.Store) {
	store := kv.NewMemStore()
	registry := service.NewRegistry(store)
	triggers := trigger.NewManager(store)
	blobs := blobstore.NewMemStore()
	fetcher := newFakeFetcher()
	manager := &fakeManagerQuerier{uris: make(map[string]string)}
	logger := oplog.New(zapcore.AddSync(io.Discard), false).With(oplog.ComponentDispatcher)
	return New(registry, triggers, blobs, nil, fetcher, manager, logger), fetcher, manager, blobs
}

func testService(blobs blobstore.Store) (service.Service, []byte) {
	comp, _ := componentWithDigest(blobs, []byte("wasm-bytes"))
	svc := service.Service{
		Manager: service.Manager{
			Chain:   service.ChainKey{Namespace: service.NamespaceEVM, ID: "1"},
			Address: "0xabc",
		},
		Name: "example",
		Components: map[service.ComponentID]service.Component{
			"comp-a": comp,
		},
		Workflows: map[service.WorkflowID]service.Workflow{
			"wf-a": {
				Trigger:   service.Trigger{Kind: service.TriggerManual},
				Component: "comp-a",
				Submit:    service.Submit{Kind: service.SubmitNone},
			},
		},
		Status: service.StatusActive,
	}
	raw, _ := json.Marshal(svc)
	return svc, raw
}

func TestAddServiceRegistersServiceAndTriggers(t *testing.T) {
	d, fetcher, manager, _ := buildDispatcher()
	svc, raw := testService(d.blobs)

	manager.uris[svc.Manager.Address] = "https://example.test/service.json"
	fetcher.docs["https://example.test/service.json"] = raw

	id, err := d.AddService(context.Background(), svc.Manager)
	require.NoError(t, err)

	got, err := d.registry.Get(id)
	require.NoError(t, err)
	require.Equal(t, svc.Name, got.Name)

	exists, err := d.registry.Exists(id)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestAddServiceFailsWhenComponentDigestMissing(t *testing.T) {
	d, fetcher, manager, blobs := buildDispatcher()
	missing := digest.Of([]byte("not-stored"))
	svc := service.Service{
		Manager: service.Manager{
			Chain:   service.ChainKey{Namespace: service.NamespaceEVM, ID: "1"},
			Address: "0xdead",
		},
		Name: "broken",
		Components: map[service.ComponentID]service.Component{
			"comp-a": {Source: service.ComponentSource{Digest: &missing}},
		},
		Workflows: map[service.WorkflowID]service.Workflow{
			"wf-a": {
				Trigger:   service.Trigger{Kind: service.TriggerManual},
				Component: "comp-a",
				Submit:    service.Submit{Kind: service.SubmitNone},
			},
		},
		Status: service.StatusActive,
	}
	raw, _ := json.Marshal(svc)
	manager.uris[svc.Manager.Address] = "https://example.test/broken.json"
	fetcher.docs["https://example.test/broken.json"] = raw

	_, err := d.AddService(context.Background(), svc.Manager)
	require.Error(t, err)

	exists, _ := blobs.Exists(missing)
	require.False(t, exists)
}

func TestChangeServiceReplacesAtomically(t *testing.T) {
	d, fetcher, manager, _ := buildDispatcher()
	svc, raw := testService(d.blobs)
	manager.uris[svc.Manager.Address] = "https://example.test/service.json"
	fetcher.docs["https://example.test/service.json"] = raw

	id, err := d.AddService(context.Background(), svc.Manager)
	require.NoError(t, err)

	newComp, _ := componentWithDigest(d.blobs, []byte("new-wasm-bytes"))
	updated := svc
	updated.Components = map[service.ComponentID]service.Component{"comp-a": newComp}
	updated.Name = "example-v2"
	updatedRaw, _ := json.Marshal(updated)
	fetcher.docs["https://example.test/v2.json"] = updatedRaw

	err = d.ChangeService(context.Background(), id, "https://example.test/v2.json")
	require.NoError(t, err)

	got, err := d.registry.Get(id)
	require.NoError(t, err)
	require.Equal(t, "example-v2", got.Name)
}

func TestReconcileAppliesChangedService(t *testing.T) {
	d, fetcher, manager, _ := buildDispatcher()
	svc, raw := testService(d.blobs)
	manager.uris[svc.Manager.Address] = "https://example.test/service.json"
	fetcher.docs["https://example.test/service.json"] = raw

	id, err := d.AddService(context.Background(), svc.Manager)
	require.NoError(t, err)

	newComp, _ := componentWithDigest(d.blobs, []byte("reconciled-bytes"))
	updated := svc
	updated.Components = map[service.ComponentID]service.Component{"comp-a": newComp}
	updated.Name = "example-reconciled"
	updatedRaw, _ := json.Marshal(updated)

	// Manager now points at the updated document.
	manager.uris[svc.Manager.Address] = "https://example.test/reconciled.json"
	fetcher.docs["https://example.test/reconciled.json"] = updatedRaw

	err = d.Reconcile(context.Background())
	require.NoError(t, err)

	got, err := d.registry.Get(id)
	require.NoError(t, err)
	require.Equal(t, "example-reconciled", got.Name)
}

func TestRemoveServiceIsIdempotent(t *testing.T) {
	d, fetcher, manager, _ := buildDispatcher()
	svc, raw := testService(d.blobs)
	manager.uris[svc.Manager.Address] = "https://example.test/service.json"
	fetcher.docs["https://example.test/service.json"] = raw

	id, err := d.AddService(context.Background(), svc.Manager)
	require.NoError(t, err)

	require.NoError(t, d.RemoveService(id))
	require.NoError(t, d.RemoveService(id))

	exists, err := d.registry.Exists(id)
	require.NoError(t, err)
	require.False(t, exists)
}
