package submission

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wavsnet/operator/pkg/kv"
)

func testSeed() []byte {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	return seed
}

func TestSignerForIsDeterministicAcrossCalls(t *testing.T) {
	store := kv.NewMemStore()
	vault, err := NewKeyVault(testSeed(), store)
	require.NoError(t, err)

	key1, idx1, err := vault.SignerFor("svc-a")
	require.NoError(t, err)
	key2, idx2, err := vault.SignerFor("svc-a")
	require.NoError(t, err)

	require.Equal(t, idx1, idx2)
	require.Equal(t, key1.D, key2.D)
}

func TestSignerForAllocatesDistinctIndicesPerService(t *testing.T) {
	store := kv.NewMemStore()
	vault, err := NewKeyVault(testSeed(), store)
	require.NoError(t, err)

	_, idxA, err := vault.SignerFor("svc-a")
	require.NoError(t, err)
	_, idxB, err := vault.SignerFor("svc-b")
	require.NoError(t, err)

	require.NotEqual(t, idxA, idxB)
}

func TestKeyVaultRecoversAllocationAcrossRestart(t *testing.T) {
	store := kv.NewMemStore()
	vault1, err := NewKeyVault(testSeed(), store)
	require.NoError(t, err)
	_, idxA, err := vault1.SignerFor("svc-a")
	require.NoError(t, err)

	vault2, err := NewKeyVault(testSeed(), store)
	require.NoError(t, err)
	_, idxB, err := vault2.SignerFor("svc-b")
	require.NoError(t, err)

	require.NotEqual(t, idxA, idxB)

	// svc-a keeps its original index under the restarted vault too.
	_, idxAAgain, err := vault2.SignerFor("svc-a")
	require.NoError(t, err)
	require.Equal(t, idxA, idxAAgain)
}

func TestNewKeyVaultRejectsBadSeedLength(t *testing.T) {
	store := kv.NewMemStore()
	_, err := NewKeyVault([]byte("short"), store)
	require.Error(t, err)
}
