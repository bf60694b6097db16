package trigger_test

import (
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"github.com/wavsnet/operator/pkg/service"
	"github.com/wavsnet/operator/pkg/trigger"
)

var testEvmChain = service.ChainKey{Namespace: service.NamespaceEVM, ID: "1"}
var testCosmosChain = service.ChainKey{Namespace: service.NamespaceCosmos, ID: "cosmoshub-4"}
var testEvmAddress = ethcommon.HexToAddress("0xabc")
var testEvmEventHash = ethcommon.HexToHash("0xdeadbeef")

func evmConfig(serviceID, workflowID string) service.TriggerConfig {
	return service.TriggerConfig{
		ServiceID:  serviceID,
		WorkflowID: workflowID,
		Trigger: service.Trigger{
			Kind:      service.TriggerEvmContractEvent,
			Chain:     testEvmChain,
			Address:   testEvmAddress.Hex(),
			EventHash: testEvmEventHash.Hex(),
		},
	}
}

func TestIndexesAddAndMatch(t *testing.T) {
	ix := trigger.NewIndexes()
	cfg := evmConfig("svc1", "wf1")
	id := ix.Add(cfg)
	require.NotZero(t, id)

	key := service.EvmEventKey{Chain: testEvmChain, Address: testEvmAddress.Hex(), EventHash: testEvmEventHash.Hex()}
	matches := ix.MatchEvm(key)
	require.Equal(t, []trigger.LookupID{id}, matches)

	got, ok := ix.Config(id)
	require.True(t, ok)
	require.Equal(t, cfg, got)
}

func TestIndexesRemoveLeavesNoOrphans(t *testing.T) {
	ix := trigger.NewIndexes()
	cfg := evmConfig("svc1", "wf1")
	id := ix.Add(cfg)

	removedID, ok := ix.Remove("svc1", "wf1")
	require.True(t, ok)
	require.Equal(t, id, removedID)

	key := service.EvmEventKey{Chain: testEvmChain, Address: testEvmAddress.Hex(), EventHash: testEvmEventHash.Hex()}
	require.Empty(t, ix.MatchEvm(key))
	require.Empty(t, ix.ListByService("svc1"))

	_, ok = ix.Config(id)
	require.False(t, ok)
}

func TestIndexesRemoveUnknownIsNoop(t *testing.T) {
	ix := trigger.NewIndexes()
	_, ok := ix.Remove("nope", "nope")
	require.False(t, ok)
}

func TestIndexesRemoveService(t *testing.T) {
	ix := trigger.NewIndexes()
	ix.Add(evmConfig("svc1", "wf1"))
	ix.Add(evmConfig("svc1", "wf2"))
	ix.Add(evmConfig("svc2", "wf1"))

	removed := ix.RemoveService("svc1")
	require.Len(t, removed, 2)
	require.Empty(t, ix.ListByService("svc1"))
	require.Len(t, ix.ListByService("svc2"), 1)
}

func TestIndexesMatchCosmos(t *testing.T) {
	ix := trigger.NewIndexes()
	cfg := service.TriggerConfig{
		ServiceID:  "svc1",
		WorkflowID: "wf1",
		Trigger: service.Trigger{
			Kind:      service.TriggerCosmosContractEvt,
			Chain:     testCosmosChain,
			Address:   "cosmos1abc",
			EventType: "wasm-transfer",
		},
	}
	id := ix.Add(cfg)

	key := service.CosmosEventKey{Chain: testCosmosChain, Address: "cosmos1abc", EventType: "wasm-transfer"}
	require.Equal(t, []trigger.LookupID{id}, ix.MatchCosmos(key))
}
