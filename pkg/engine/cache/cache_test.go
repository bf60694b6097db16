package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wavsnet/operator/pkg/digest"
)

func TestGetOrComputeCachesAfterFirstCompile(t *testing.T) {
	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	c := NewModuleCache(2, zap.NewNop())
	d := digest.Of([]byte("module-a"))

	calls := 0
	compute := func() (wazero.CompiledModule, error) {
		calls++
		return runtime.CompileModule(ctx, nopWasm)
	}

	m1, err := c.GetOrCompute(d, compute)
	require.NoError(t, err)
	m2, err := c.GetOrCompute(d, compute)
	require.NoError(t, err)

	require.Same(t, m1, m2)
	require.Equal(t, 1, calls)
	require.Equal(t, 1, c.Size())
}

func TestEvictsOldestWhenOverCapacity(t *testing.T) {
	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	c := NewModuleCache(1, zap.NewNop())
	compute := func() (wazero.CompiledModule, error) { return runtime.CompileModule(ctx, nopWasm) }

	_, err := c.GetOrCompute(digest.Of([]byte("a")), compute)
	require.NoError(t, err)
	_, err = c.GetOrCompute(digest.Of([]byte("b")), compute)
	require.NoError(t, err)

	require.LessOrEqual(t, c.Size(), 1)
}

func TestDeleteClosesAndRemoves(t *testing.T) {
	ctx := context.Background()
	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)

	c := NewModuleCache(2, zap.NewNop())
	d := digest.Of([]byte("module-a"))
	_, err := c.GetOrCompute(d, func() (wazero.CompiledModule, error) { return runtime.CompileModule(ctx, nopWasm) })
	require.NoError(t, err)

	c.Delete(ctx, d)
	_, ok := c.Get(d)
	require.False(t, ok)
	require.Equal(t, 0, c.Size())
}

var nopWasm = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x04, 0x01, 0x60, 0x00, 0x00,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x0a, 0x01, 0x06, 0x5f, 0x73, 0x74, 0x61, 0x72, 0x74, 0x00, 0x00,
	0x0a, 0x04, 0x01, 0x02, 0x00, 0x0b,
}
