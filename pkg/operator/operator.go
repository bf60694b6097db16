// Package operator wires every component (A through I) into one running
// process: chain listeners feed the trigger manager, matched
// TriggerActions run through the WASM engine, and aggregator-bound
// results flow through the submission worker. Grounded on the reference
// node's pkg/node/node.go: a config-holding struct, a constructor that
// opens every backing store once, and a set of per-concern start*(ctx)
// methods launched from Start.
package operator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wavsnet/operator/pkg/blobstore"
	"github.com/wavsnet/operator/pkg/chainconfig"
	"github.com/wavsnet/operator/pkg/cosmosclient"
	"github.com/wavsnet/operator/pkg/digest"
	"github.com/wavsnet/operator/pkg/dispatcher"
	"github.com/wavsnet/operator/pkg/engine"
	"github.com/wavsnet/operator/pkg/engine/hostcaps"
	"github.com/wavsnet/operator/pkg/evmclient"
	"github.com/wavsnet/operator/pkg/kv"
	"github.com/wavsnet/operator/pkg/oplog"
	"github.com/wavsnet/operator/pkg/operrs"
	"github.com/wavsnet/operator/pkg/service"
	"github.com/wavsnet/operator/pkg/submission"
	"github.com/wavsnet/operator/pkg/trigger"
)

// ChainEntry is one statically-configured chain_spec, tagged by
// namespace (spec §1's chain_spec config surface; layered file/env
// discovery is left to cmd/operator).
type ChainEntry struct {
	Key    service.ChainKey
	EVM    *chainconfig.EVMChainConfig
	Cosmos *chainconfig.CosmosChainConfig
}

// Config is everything NewOperator needs to bring up every subsystem.
type Config struct {
	DataDir           string
	MasterSeed        []byte
	IPFSGateway       string
	ModuleCacheSize   int
	BlockPollInterval time.Duration
	CronTickInterval  time.Duration
	Chains            []ChainEntry
	Managers          []service.Manager
}

func (c Config) withDefaults() Config {
	if c.ModuleCacheSize == 0 {
		c.ModuleCacheSize = 64
	}
	if c.BlockPollInterval == 0 {
		c.BlockPollInterval = 5 * time.Second
	}
	if c.CronTickInterval == 0 {
		c.CronTickInterval = time.Second
	}
	return c
}

// Operator owns every long-lived subsystem and the goroutines pumping
// chain events through the trigger manager and engine.
type Operator struct {
	cfg    Config
	logger *oplog.Logger

	store    kv.Store
	blobs    blobstore.Store
	appData  *blobstore.AppDataStore
	chains   *chainconfig.Config
	registry *service.Registry
	triggers *trigger.Manager
	querier  *dispatcher.ChainManagerQuerier
	fetcher  *dispatcher.HTTPFetcher
	dispatch *dispatcher.Dispatcher
	eng      *engine.Engine
	vault    *submission.KeyVault
	worker   *submission.Worker

	mu         sync.Mutex
	evmClients map[service.ChainKey]*evmclient.Client
	cosmos     *cosmosclient.Client

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewOperator opens the data directory's backing stores and constructs
// every subsystem. It does not start any goroutine; call Start for that.
func NewOperator(cfg Config, logger *oplog.Logger) (*Operator, error) {
	cfg = cfg.withDefaults()

	store, err := kv.OpenLevelStore("operator", cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("operator: open kv store: %w", err)
	}
	blobs, err := blobstore.NewDiskStore(filepath.Join(cfg.DataDir, "ca"))
	if err != nil {
		return nil, fmt.Errorf("operator: open blob store: %w", err)
	}
	appData := blobstore.NewAppDataStore(filepath.Join(cfg.DataDir, "app"))

	chains := chainconfig.New()
	for _, ce := range cfg.Chains {
		switch {
		case ce.EVM != nil:
			if err := chains.RegisterEVM(ce.Key, *ce.EVM); err != nil {
				return nil, fmt.Errorf("operator: register chain %s: %w", ce.Key, err)
			}
		case ce.Cosmos != nil:
			if err := chains.RegisterCosmos(ce.Key, *ce.Cosmos); err != nil {
				return nil, fmt.Errorf("operator: register chain %s: %w", ce.Key, err)
			}
		default:
			return nil, fmt.Errorf("operator: chain entry %s has no EVM or Cosmos config", ce.Key)
		}
	}

	registry := service.NewRegistry(store)
	triggers := trigger.NewManager(store)
	querier := dispatcher.NewChainManagerQuerier(chains)
	fetcher := dispatcher.NewHTTPFetcher(cfg.IPFSGateway)
	dispatch := dispatcher.New(registry, triggers, blobs, appData, fetcher, querier, logger.With(oplog.ComponentDispatcher))

	eng, err := engine.New(blobs, cfg.ModuleCacheSize, logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("operator: construct engine: %w", err)
	}

	vault, err := submission.NewKeyVault(cfg.MasterSeed, store)
	if err != nil {
		return nil, fmt.Errorf("operator: construct key vault: %w", err)
	}
	worker := submission.NewWorker(vault, submission.NewAggregatorClient(), store, logger.With(oplog.ComponentSubmission))

	return &Operator{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		blobs:      blobs,
		appData:    appData,
		chains:     chains,
		registry:   registry,
		triggers:   triggers,
		querier:    querier,
		fetcher:    fetcher,
		dispatch:   dispatch,
		eng:        eng,
		vault:      vault,
		worker:     worker,
		evmClients: make(map[service.ChainKey]*evmclient.Client),
		cosmos:     cosmosclient.NewClient(logger.With(oplog.ComponentEVMClient)),
	}, nil
}

// Start reconciles persisted services against on-chain state,
// registers any statically-configured managers, brings up every chain
// listener, and launches the tick loops. It returns once startup work
// is done; the pumps and tick loops keep running in background
// goroutines until ctx is cancelled or Stop is called.
func (o *Operator) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	o.runCtx = ctx
	o.cancel = cancel
	log := o.logger.With(oplog.ComponentOperator)

	if err := o.dispatch.Reconcile(ctx); err != nil {
		log.Warn("startup reconciliation failed", zap.Error(err))
	}

	for _, m := range o.cfg.Managers {
		if _, err := o.dispatch.AddService(ctx, m); err != nil {
			if operrs.IsConflict(err) {
				continue
			}
			log.Error("failed to register configured manager", zap.String("address", m.Address), zap.Error(err))
		}
	}

	svcs, err := o.registry.List("", "")
	if err != nil {
		return fmt.Errorf("operator: list registered services: %w", err)
	}

	o.startEvmClients()
	for _, svc := range svcs {
		o.bringUpCosmosSubscriptions(svc)
	}

	o.wg.Add(1)
	go o.pumpCosmosEvents(ctx)

	o.wg.Add(1)
	go o.runBlockPollLoop(ctx)

	o.wg.Add(1)
	go o.runCronLoop(ctx)

	log.Info("operator started", zap.Int("services", len(svcs)), zap.Int("evm_chains", len(o.evmClients)))
	return nil
}

// Stop cancels every background goroutine, waits for them to exit, and
// closes every backing store.
func (o *Operator) Stop() error {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()

	o.mu.Lock()
	o.querier.Close()
	o.mu.Unlock()

	if err := o.eng.Close(context.Background()); err != nil {
		o.logger.With(oplog.ComponentOperator).Warn("engine close failed", zap.Error(err))
	}
	return o.store.Close()
}

// startEvmClients brings up one evmclient.Client per configured EVM
// chain, subscribed to every log on that chain (spec §9's "subscribe
// broad, route precise via the trigger indexes" — pkg/trigger exposes
// no API to enumerate the exact (address, topic) pairs registered for a
// chain, so filtering happens in trigger.Manager.ProcessEvmLog instead
// of at the RPC subscription).
func (o *Operator) startEvmClients() {
	ctx := o.runCtx
	log := o.logger.With(oplog.ComponentEVMClient)
	for _, key := range o.chains.ChainKeys(service.NamespaceEVM) {
		o.mu.Lock()
		_, running := o.evmClients[key]
		o.mu.Unlock()
		if running {
			continue
		}
		cfg, ok := o.chains.Get(key)
		if !ok || cfg.EVM == nil {
			continue
		}
		client := evmclient.NewClient(evmclient.Config{
			Endpoints: cfg.EVM.WSEndpoints,
			Priority:  cfg.EVM.Priority,
		}, log)
		client.EnableLogs(evmclient.LogFilter{})

		o.mu.Lock()
		o.evmClients[key] = client
		o.mu.Unlock()

		chain := key
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			if err := client.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("evm client run exited", zap.String("chain", chain.String()), zap.Error(err))
			}
		}()

		o.wg.Add(1)
		go o.pumpEvmLogs(ctx, chain, client)
	}
}

func (o *Operator) pumpEvmLogs(ctx context.Context, chain service.ChainKey, client *evmclient.Client) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case l, ok := <-client.Logs:
			if !ok {
				return
			}
			actions := o.triggers.ProcessEvmLog(chain, l)
			o.dispatchActions(ctx, actions)
		}
	}
}

// bringUpCosmosSubscriptions walks svc's workflows and opens one
// cosmosclient subscription per distinct Cosmos contract-event trigger.
// pkg/trigger's Indexes has no "list every key for chain X" method
// (lookup.go exposes only MatchCosmos/ListByService), so the needed
// subscription set is derived straight from the service definition
// instead. Subscriptions are always rooted in o.runCtx, not a caller's
// ctx, since cosmosclient.Subscribe derives the forwarding goroutine's
// lifetime from the context passed in.
func (o *Operator) bringUpCosmosSubscriptions(svc service.Service) {
	ctx := o.runCtx
	log := o.logger.With(oplog.ComponentEVMClient)
	for _, wf := range svc.Workflows {
		if wf.Trigger.Kind != service.TriggerCosmosContractEvt {
			continue
		}
		cfg, ok := o.chains.Get(wf.Trigger.Chain)
		if !ok || cfg.Cosmos == nil {
			log.Warn("no cosmos chain config for trigger", zap.String("chain", wf.Trigger.Chain.String()))
			continue
		}
		key := service.CosmosEventKey{Chain: wf.Trigger.Chain, Address: wf.Trigger.Address, EventType: wf.Trigger.EventType}
		if err := o.cosmos.Subscribe(ctx, cfg.Cosmos.RPCEndpoint, key); err != nil {
			log.Error("cosmos subscribe failed", zap.String("chain", wf.Trigger.Chain.String()), zap.String("address", wf.Trigger.Address), zap.Error(err))
		}
	}
}

func (o *Operator) pumpCosmosEvents(ctx context.Context) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-o.cosmos.Events:
			if !ok {
				return
			}
			actions := o.triggers.ProcessCosmosEvent(ev.Key.Chain, ev.Key.Address, ev.Key.EventType, ev.Data)
			o.dispatchActions(ctx, actions)
		}
	}
}

// runBlockPollLoop advances every configured chain's block scheduler at
// cfg.BlockPollInterval. Polling (rather than pkg/evmclient's push-based
// header subscription) keeps block_interval triggers chain-agnostic,
// since Cosmos has no equivalent push channel in this module.
func (o *Operator) runBlockPollLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.BlockPollInterval)
	defer ticker.Stop()

	allKeys := append(o.chains.ChainKeys(service.NamespaceEVM), o.chains.ChainKeys(service.NamespaceCosmos)...)
	log := o.logger.With(oplog.ComponentOperator)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, chain := range allKeys {
				height, err := o.querier.LatestHeight(ctx, chain)
				if err != nil {
					log.Warn("block height poll failed", zap.String("chain", chain.String()), zap.Error(err))
					continue
				}
				actions, err := o.triggers.ProcessBlockTick(chain, height)
				if err != nil {
					log.Warn("block tick processing failed", zap.String("chain", chain.String()), zap.Error(err))
					continue
				}
				o.dispatchActions(ctx, actions)
			}
		}
	}
}

func (o *Operator) runCronLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.CronTickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			actions := o.triggers.ProcessCronTick(now)
			o.dispatchActions(ctx, actions)
		}
	}
}

// dispatchActions runs every action against its target component and,
// for aggregator-bound workflows, hands the result to the submission
// worker. One action's failure is logged and does not block its
// siblings.
func (o *Operator) dispatchActions(ctx context.Context, actions []service.TriggerAction) {
	for _, action := range actions {
		if err := o.runAction(ctx, action); err != nil {
			o.logger.With(oplog.ComponentOperator).Error("trigger action failed",
				zap.String("service_id", action.Config.ServiceID),
				zap.String("workflow_id", action.Config.WorkflowID),
				zap.Error(err))
		}
	}
}

func (o *Operator) runAction(ctx context.Context, action service.TriggerAction) error {
	id, err := digest.FromHex(action.Config.ServiceID)
	if err != nil {
		return fmt.Errorf("operator: decode service id: %w", err)
	}
	svc, err := o.registry.Get(id)
	if err != nil {
		return fmt.Errorf("operator: load service: %w", err)
	}
	wf, ok := svc.Workflows[action.Config.WorkflowID]
	if !ok {
		return fmt.Errorf("operator: workflow %s not found on service %s", action.Config.WorkflowID, action.Config.ServiceID)
	}
	comp, ok := svc.Components[wf.Component]
	if !ok {
		return fmt.Errorf("operator: component %s not found on service %s", wf.Component, action.Config.ServiceID)
	}
	compDigest, err := dispatcher.ComponentDigest(comp)
	if err != nil {
		return err
	}

	fuelLimit := engine.DefaultFuelLimit()
	if comp.FuelLimit != nil {
		fuelLimit = *comp.FuelLimit
	}

	// The guest filesystem capability is scoped to this service's own
	// app-data directory, never the shared component blob store, so one
	// service can't read or write another's files by guessing a digest
	// (spec §6's <data_dir>/app/<service_id>/ isolation).
	var fsStore blobstore.Store
	if comp.Permissions.FileSystem {
		fsStore, err = o.appData.ForService(action.Config.ServiceID)
		if err != nil {
			return fmt.Errorf("operator: open app data store: %w", err)
		}
	}
	caps := hostcaps.New(action.Config.ServiceID, o.store, o.querier, fsStore, comp.Permissions, hostcaps.NewBudget(fuelLimit))

	responses, err := o.eng.Execute(ctx, action.Config.ServiceID, compDigest, comp, action, caps)
	if err != nil {
		return fmt.Errorf("operator: execute component: %w", err)
	}

	if wf.Submit.Kind != service.SubmitAggregator {
		return nil
	}

	// A single guest invocation may produce more than one WasmResponse,
	// each forcing its own event_id via EventIDSalt; every one of them
	// gets its own submission.
	var errs []error
	for _, resp := range responses {
		if err := o.submitResult(ctx, action, wf, resp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Operator) submitResult(ctx context.Context, action service.TriggerAction, wf service.Workflow, resp service.WasmResponse) error {
	eventID, err := service.ComputeEventID(action.Data, resp.EventIDSalt)
	if err != nil {
		return fmt.Errorf("operator: compute event id: %w", err)
	}
	msg := service.ChainMessage{
		ServiceID:     action.Config.ServiceID,
		WorkflowID:    action.Config.WorkflowID,
		TriggerData:   action.Data,
		WasmResult:    resp,
		EventID:       eventID,
		AggregatorURL: wf.Submit.URL,
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.worker.Submit(ctx, msg); err != nil {
			o.logger.With(oplog.ComponentSubmission).Error("submission failed",
				zap.String("service_id", string(msg.ServiceID)),
				zap.String("event_id", msg.EventID.Hex()),
				zap.Error(err))
		}
	}()
	return nil
}

// AddService fetches and registers the service published by manager,
// bringing up whatever chain listeners its workflows need.
func (o *Operator) AddService(ctx context.Context, manager service.Manager) (digest.Digest, error) {
	id, err := o.dispatch.AddService(ctx, manager)
	if err != nil {
		return digest.Digest{}, err
	}
	svc, err := o.registry.Get(id)
	if err != nil {
		return id, err
	}
	o.bringUpCosmosSubscriptions(svc)
	o.ensureEvmClientsFor(svc)
	return id, nil
}

// ensureEvmClientsFor brings up an EVM client for any chain svc's
// workflows reference that isn't already running. startEvmClients is
// idempotent per chain key, so this is safe to call after every
// AddService.
func (o *Operator) ensureEvmClientsFor(svc service.Service) {
	for _, wf := range svc.Workflows {
		if wf.Trigger.Kind == service.TriggerEvmContractEvent {
			o.startEvmClients()
			return
		}
	}
}
