package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/wavsnet/operator/pkg/blobstore"
	"github.com/wavsnet/operator/pkg/engine/hostcaps"
	"github.com/wavsnet/operator/pkg/kv"
	"github.com/wavsnet/operator/pkg/service"
)

// nopWasm exports _start and returns immediately without touching
// stdout, matching the minimal WASI module used across the node
// codebase's own engine tests.
var nopWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x0a, 0x01, 0x06, 0x5f, 0x73, 0x74, 0x61, 0x72, 0x74, 0x00, 0x00,
	0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b,
}

func TestExecuteFailsCleanlyWhenGuestWritesNoResponse(t *testing.T) {
	blobs := blobstore.NewMemStore()
	d, err := blobs.Put(nopWasm)
	require.NoError(t, err)

	eng, err := New(blobs, 4, zap.NewNop())
	require.NoError(t, err)
	defer eng.Close(context.Background())

	store := kv.NewMemStore()
	perms := service.Permissions{AllowedHTTPHosts: service.AllowedHosts{None: true}}
	caps := hostcaps.New("svc-a", store, nil, nil, perms, hostcaps.NewBudget(100))

	comp := service.Component{Permissions: perms}
	action := service.TriggerAction{Data: service.TriggerData{Kind: service.DataManual}}

	// The nop module never writes a WasmResponse to stdout, so Execute
	// must surface a guest fault rather than return a zero-value success.
	_, err = eng.Execute(context.Background(), "svc-a", d, comp, action, caps)
	require.Error(t, err)

	stats := eng.Stats("svc-a")
	require.Equal(t, int64(1), stats.Invocations)
}

func TestExecutePopulatesCache(t *testing.T) {
	blobs := blobstore.NewMemStore()
	d, err := blobs.Put(nopWasm)
	require.NoError(t, err)

	eng, err := New(blobs, 4, zap.NewNop())
	require.NoError(t, err)
	defer eng.Close(context.Background())

	store := kv.NewMemStore()
	perms := service.Permissions{AllowedHTTPHosts: service.AllowedHosts{None: true}}
	caps := hostcaps.New("svc-a", store, nil, nil, perms, hostcaps.NewBudget(100))
	comp := service.Component{Permissions: perms}
	action := service.TriggerAction{Data: service.TriggerData{Kind: service.DataManual}}

	_, _ = eng.Execute(context.Background(), "svc-a", d, comp, action, caps)
	require.Equal(t, 1, eng.CacheSize())
}

func TestExecuteFailsOnMissingBlob(t *testing.T) {
	blobs := blobstore.NewMemStore()
	missing, err := blobstore.NewMemStore().Put([]byte("never-stored-elsewhere"))
	require.NoError(t, err)

	eng, err := New(blobs, 4, zap.NewNop())
	require.NoError(t, err)
	defer eng.Close(context.Background())

	store := kv.NewMemStore()
	perms := service.Permissions{AllowedHTTPHosts: service.AllowedHosts{None: true}}
	caps := hostcaps.New("svc-a", store, nil, nil, perms, hostcaps.NewBudget(100))
	comp := service.Component{Permissions: perms}
	action := service.TriggerAction{Data: service.TriggerData{Kind: service.DataManual}}

	_, err = eng.Execute(context.Background(), "svc-a", missing, comp, action, caps)
	require.Error(t, err)

	stats := eng.Stats("svc-a")
	require.Equal(t, int64(1), stats.Compile)
}
