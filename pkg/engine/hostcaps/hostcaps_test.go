package hostcaps

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavsnet/operator/pkg/blobstore"
	"github.com/wavsnet/operator/pkg/kv"
	"github.com/wavsnet/operator/pkg/operrs"
	"github.com/wavsnet/operator/pkg/service"
)

func TestBudgetExhaustsAfterLimit(t *testing.T) {
	b := NewBudget(2)
	require.NoError(t, b.consume())
	require.NoError(t, b.consume())
	require.ErrorIs(t, b.consume(), operrs.ErrOutOfFuel)
	require.Equal(t, uint64(0), b.Remaining())
}

func TestNilBudgetIsUnlimited(t *testing.T) {
	var b *Budget
	require.NoError(t, b.consume())
	require.Equal(t, uint64(0), b.Remaining())
}

func TestKVScopedPerService(t *testing.T) {
	store := kv.NewMemStore()
	perms := service.Permissions{AllowedHTTPHosts: service.AllowedHosts{None: true}}

	a := New("svc-a", store, nil, nil, perms, NewBudget(10))
	bCaps := New("svc-b", store, nil, nil, perms, NewBudget(10))

	require.NoError(t, a.KVSet([]byte("k"), []byte("from-a")))
	_, err := bCaps.KVGet([]byte("k"))
	require.ErrorIs(t, err, operrs.ErrDigestNotFound)

	v, err := a.KVGet([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("from-a"), v)
}

func TestHTTPFetchRejectsDisallowedHost(t *testing.T) {
	store := kv.NewMemStore()
	perms := service.Permissions{AllowedHTTPHosts: service.AllowedHosts{Only: []string{"allowed.example"}}}
	c := New("svc-a", store, nil, nil, perms, NewBudget(10))

	_, _, err := c.HTTPFetch(context.Background(), http.MethodGet, "http://denied.example/", "denied.example", nil, nil)
	require.Error(t, err)
}

func TestHTTPFetchAllowsListedHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	store := kv.NewMemStore()
	perms := service.Permissions{AllowedHTTPHosts: service.AllowedHosts{Only: []string{srv.Listener.Addr().String()}}}
	c := New("svc-a", store, nil, nil, perms, NewBudget(10))

	body, status, err := c.HTTPFetch(context.Background(), http.MethodGet, srv.URL, srv.Listener.Addr().String(), nil, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", string(body))
}

func TestFSDeniedWithoutPermission(t *testing.T) {
	store := kv.NewMemStore()
	perms := service.Permissions{AllowedHTTPHosts: service.AllowedHosts{None: true}, FileSystem: false}
	c := New("svc-a", store, nil, blobstore.NewMemStore(), perms, NewBudget(10))

	_, err := c.FSWrite([]byte("hello"))
	require.Error(t, err)
}

func TestFSRoundTripWithPermission(t *testing.T) {
	store := kv.NewMemStore()
	perms := service.Permissions{AllowedHTTPHosts: service.AllowedHosts{None: true}, FileSystem: true}
	c := New("svc-a", store, nil, blobstore.NewMemStore(), perms, NewBudget(10))

	hexDigest, err := c.FSWrite([]byte("hello"))
	require.NoError(t, err)

	data, err := c.FSRead(hexDigest)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)
}
