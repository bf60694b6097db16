package trigger

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/wavsnet/operator/pkg/kv"
	"github.com/wavsnet/operator/pkg/service"
)

// ChainBringup is emitted the first time a contract-event trigger
// touching a previously-unseen chain is registered, signaling the caller
// to start listening to that chain (spec §4.F). Block-interval and cron
// triggers never produce one.
type ChainBringup struct {
	Chain service.ChainKey
}

// Manager multiplexes EVM log events, Cosmos events, block ticks, and
// cron ticks into TriggerActions, owning the LookupId arena and the
// per-chain block/cron schedulers (spec §4.F).
type Manager struct {
	store         kv.Store
	indexes       *Indexes
	blockSchedule map[service.ChainKey]*BlockIntervalScheduler
	cron          *CronScheduler
	seenChains    map[service.ChainKey]struct{}
}

// NewManager constructs an empty Manager. store backs the persisted
// block-scheduler high-water marks.
func NewManager(store kv.Store) *Manager {
	return &Manager{
		store:         store,
		indexes:       NewIndexes(),
		blockSchedule: make(map[service.ChainKey]*BlockIntervalScheduler),
		cron:          NewCronScheduler(),
		seenChains:    make(map[service.ChainKey]struct{}),
	}
}

// AddTrigger registers cfg, wiring it into the block or cron scheduler
// when its kind requires one. It returns a non-nil ChainBringup the
// first time an EVM or Cosmos contract-event trigger referencing a given
// chain is added.
func (m *Manager) AddTrigger(cfg service.TriggerConfig, now time.Time) (LookupID, *ChainBringup, error) {
	id := m.indexes.Add(cfg)

	var bringup *ChainBringup
	switch cfg.Trigger.Kind {
	case service.TriggerEvmContractEvent, service.TriggerCosmosContractEvt:
		if _, seen := m.seenChains[cfg.Trigger.Chain]; !seen {
			m.seenChains[cfg.Trigger.Chain] = struct{}{}
			bringup = &ChainBringup{Chain: cfg.Trigger.Chain}
		}
	case service.TriggerBlockInterval:
		sched, err := m.blockScheduler(cfg.Trigger.Chain)
		if err != nil {
			return 0, nil, err
		}
		var start uint64
		if cfg.Trigger.StartBlock != nil {
			start = *cfg.Trigger.StartBlock
		}
		if cfg.Trigger.NBlocks == 0 {
			return 0, nil, fmt.Errorf("trigger: block_interval trigger requires n_blocks > 0")
		}
		sched.Add(id, cfg.Trigger.NBlocks, start, cfg.Trigger.EndBlock)
	case service.TriggerCron:
		var start, end *time.Time
		if cfg.Trigger.StartTime != nil {
			t := time.Unix(*cfg.Trigger.StartTime, 0)
			start = &t
		}
		if cfg.Trigger.EndTime != nil {
			t := time.Unix(*cfg.Trigger.EndTime, 0)
			end = &t
		}
		if err := m.cron.Add(id, cfg.Trigger.Schedule, now, start, end); err != nil {
			m.indexes.Remove(cfg.ServiceID, cfg.WorkflowID)
			return 0, nil, err
		}
	}
	return id, bringup, nil
}

// RemoveTrigger deregisters the trigger for (serviceID, workflowID) from
// every index and scheduler it may be wired into.
func (m *Manager) RemoveTrigger(serviceID, workflowID string) {
	id, ok := m.indexes.Remove(serviceID, workflowID)
	if !ok {
		return
	}
	for _, sched := range m.blockSchedule {
		sched.Remove(id)
	}
	m.cron.Remove(id)
}

// RemoveService removes every trigger registered for serviceID.
func (m *Manager) RemoveService(serviceID string) {
	cfgs := m.indexes.ListByService(serviceID)
	for _, cfg := range cfgs {
		m.RemoveTrigger(cfg.ServiceID, cfg.WorkflowID)
	}
}

func (m *Manager) blockScheduler(chain service.ChainKey) (*BlockIntervalScheduler, error) {
	if s, ok := m.blockSchedule[chain]; ok {
		return s, nil
	}
	s, err := NewBlockIntervalScheduler(chain.String(), m.store)
	if err != nil {
		return nil, err
	}
	m.blockSchedule[chain] = s
	return s, nil
}

func (m *Manager) actionsFor(ids []LookupID, data service.TriggerData) []service.TriggerAction {
	actions := make([]service.TriggerAction, 0, len(ids))
	for _, id := range ids {
		cfg, ok := m.indexes.Config(id)
		if !ok {
			continue
		}
		actions = append(actions, service.TriggerAction{Config: cfg, Data: data})
	}
	return actions
}

// ProcessEvmLog matches an inbound EVM log against every registered EVM
// contract-event trigger and returns the resulting TriggerActions.
func (m *Manager) ProcessEvmLog(chain service.ChainKey, l types.Log) []service.TriggerAction {
	if len(l.Topics) == 0 {
		return nil
	}
	key := service.EvmEventKey{Chain: chain, Address: l.Address.Hex(), EventHash: l.Topics[0].Hex()}
	ids := m.indexes.MatchEvm(key)

	topics := make([]string, len(l.Topics))
	for i, t := range l.Topics {
		topics[i] = t.Hex()
	}
	data := service.TriggerData{
		Kind:          service.DataEvmLog,
		EvmLogAddress: l.Address.Hex(),
		EvmLogTopics:  topics,
		EvmLogData:    l.Data,
	}
	return m.actionsFor(ids, data)
}

// ProcessCosmosEvent matches an inbound Cosmos event against every
// registered Cosmos contract-event trigger.
func (m *Manager) ProcessCosmosEvent(chain service.ChainKey, address, eventType string, raw []byte) []service.TriggerAction {
	key := service.CosmosEventKey{Chain: chain, Address: address, EventType: eventType}
	ids := m.indexes.MatchCosmos(key)
	data := service.TriggerData{
		Kind:            service.DataCosmosEvt,
		CosmosEventType: eventType,
		CosmosEventData: raw,
	}
	return m.actionsFor(ids, data)
}

// ProcessBlockTick advances the block-interval scheduler for chain to
// height and returns the resulting TriggerActions.
func (m *Manager) ProcessBlockTick(chain service.ChainKey, height uint64) ([]service.TriggerAction, error) {
	sched, ok := m.blockSchedule[chain]
	if !ok {
		return nil, nil
	}
	ids, err := sched.Tick(height)
	if err != nil {
		return nil, err
	}
	data := service.TriggerData{Kind: service.DataBlock, BlockHeight: height}
	return m.actionsFor(ids, data), nil
}

// ProcessCronTick advances the cron scheduler to now and returns the
// resulting TriggerActions.
func (m *Manager) ProcessCronTick(now time.Time) []service.TriggerAction {
	ids := m.cron.Tick(now)
	data := service.TriggerData{Kind: service.DataCronTick, CronTickUnix: now.Unix()}
	return m.actionsFor(ids, data)
}

// Manual synthesizes a single TriggerAction for a manually invoked
// workflow, bypassing every index.
func (m *Manager) Manual(cfg service.TriggerConfig, payload []byte) service.TriggerAction {
	return service.TriggerAction{
		Config: cfg,
		Data:   service.TriggerData{Kind: service.DataManual, ManualPayload: payload},
	}
}
