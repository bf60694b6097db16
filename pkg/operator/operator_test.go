package operator

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/wavsnet/operator/pkg/blobstore"
	"github.com/wavsnet/operator/pkg/chainconfig"
	"github.com/wavsnet/operator/pkg/cosmosclient"
	"github.com/wavsnet/operator/pkg/dispatcher"
	"github.com/wavsnet/operator/pkg/evmclient"
	"github.com/wavsnet/operator/pkg/kv"
	"github.com/wavsnet/operator/pkg/oplog"
	"github.com/wavsnet/operator/pkg/service"
	"github.com/wavsnet/operator/pkg/submission"
	"github.com/wavsnet/operator/pkg/trigger"
)

func testOplog() *oplog.Logger {
	return oplog.New(zapcore.AddSync(io.Discard), false)
}

// buildTestOperator wires an Operator directly from in-memory backends,
// bypassing NewOperator's disk-backed stores so tests don't touch the
// filesystem.
func buildTestOperator(t *testing.T) *Operator {
	t.Helper()
	store := kv.NewMemStore()
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	vault, err := submission.NewKeyVault(seed, store)
	require.NoError(t, err)

	logger := testOplog()
	chains := chainconfig.New()
	return &Operator{
		cfg:        Config{}.withDefaults(),
		logger:     logger,
		store:      store,
		blobs:      blobstore.NewMemStore(),
		appData:    blobstore.NewAppDataStore(t.TempDir()),
		chains:     chains,
		registry:   service.NewRegistry(store),
		triggers:   trigger.NewManager(store),
		querier:    dispatcher.NewChainManagerQuerier(chains),
		vault:      vault,
		worker:     submission.NewWorker(vault, submission.NewAggregatorClient(), store, logger.With(oplog.ComponentSubmission)),
		evmClients: make(map[service.ChainKey]*evmclient.Client),
		cosmos:     cosmosclient.NewClient(logger.With(oplog.ComponentEVMClient)),
	}
}

func TestConfigWithDefaultsFillsZeroValues(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Equal(t, 64, cfg.ModuleCacheSize)
	require.NotZero(t, cfg.BlockPollInterval)
	require.NotZero(t, cfg.CronTickInterval)
}

func buildService(workflowID service.WorkflowID, wf service.Workflow) service.Service {
	return service.Service{
		Manager:    service.Manager{Chain: service.ChainKey{Namespace: service.NamespaceDev, ID: "d"}, Address: "addr"},
		Name:       "svc",
		Components: map[service.ComponentID]service.Component{"compa": {}},
		Workflows:  map[service.WorkflowID]service.Workflow{workflowID: wf},
		Status:     service.StatusActive,
	}
}

func TestRunActionFailsWhenWorkflowMissing(t *testing.T) {
	o := buildTestOperator(t)
	svc := buildService("wfa", service.Workflow{Component: "compa"})
	id, err := o.registry.Add(svc)
	require.NoError(t, err)

	action := service.TriggerAction{Config: service.TriggerConfig{ServiceID: id.Hex(), WorkflowID: "missing"}}
	err = o.runAction(context.Background(), action)
	require.Error(t, err)
}

func TestRunActionFailsWhenComponentMissing(t *testing.T) {
	o := buildTestOperator(t)
	svc := buildService("wfa", service.Workflow{Component: "compa"})
	id, err := o.registry.Add(svc)
	require.NoError(t, err)

	// Mutate the stored service so its workflow now references a
	// component id that was never added. Registry.Save runs Validate and
	// would reject this, so the record is written straight into the
	// registry's "services" table.
	svc.Workflows["wfa"] = service.Workflow{Component: "ghost"}
	require.NoError(t, kv.NewTable[service.Service](o.store, "services").Set([]byte(id.Hex()), svc))

	action := service.TriggerAction{Config: service.TriggerConfig{ServiceID: id.Hex(), WorkflowID: "wfa"}}
	err = o.runAction(context.Background(), action)
	require.Error(t, err)
}

func TestSubmitResultPostsEnvelopeToAggregator(t *testing.T) {
	var gotBody submission.SubmitRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	o := buildTestOperator(t)
	action := service.TriggerAction{
		Config: service.TriggerConfig{ServiceID: "svcidhexhexhex", WorkflowID: "wfa"},
		Data:   service.TriggerData{Kind: service.DataManual, ManualPayload: []byte("hi")},
	}
	wf := service.Workflow{Submit: service.Submit{Kind: service.SubmitAggregator, URL: srv.URL}}
	resp := service.WasmResponse{Payload: []byte("out")}

	err := o.submitResult(context.Background(), action, wf, resp)
	require.NoError(t, err)
	o.wg.Wait()

	require.Equal(t, service.ID("svcidhexhexhex"), gotBody.Envelope.ServiceID)
}

func TestEnsureEvmClientsForStartsConfiguredChain(t *testing.T) {
	o := buildTestOperator(t)
	ctx, cancel := context.WithCancel(context.Background())
	o.runCtx = ctx
	defer cancel()

	chain := service.ChainKey{Namespace: service.NamespaceEVM, ID: "test"}
	require.NoError(t, o.chains.RegisterEVM(chain, chainconfig.EVMChainConfig{WSEndpoints: []string{"ws://127.0.0.1:1"}}))

	svc := buildService("wfa", service.Workflow{
		Trigger:   service.Trigger{Kind: service.TriggerEvmContractEvent, Chain: chain, Address: "0xabc", EventHash: "0xdead"},
		Component: "compa",
	})
	o.ensureEvmClientsFor(svc)

	o.mu.Lock()
	_, running := o.evmClients[chain]
	o.mu.Unlock()
	require.True(t, running)
}
