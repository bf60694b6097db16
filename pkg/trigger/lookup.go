// Package trigger implements Components E and F: the LookupId arena and
// forward/reverse indexes, the block-interval and cron schedulers, and
// the trigger manager that multiplexes event sources into TriggerActions.
package trigger

import (
	"sync"

	"github.com/wavsnet/operator/pkg/service"
)

// LookupID is the monotonically increasing key every trigger index
// stores instead of an owning reference (spec §3, §9).
type LookupID uint64

// Indexes owns the arena of registered trigger configs and every
// forward/reverse lookup over them. All mutation is symmetric: a write
// to a forward index is mirrored in by_service_workflow, and a removal
// that empties a per-key set removes the key itself, leaving no orphan
// entries (spec §4.E).
type Indexes struct {
	mu sync.Mutex

	nextID  uint64
	configs map[LookupID]service.TriggerConfig

	byEvmEvent    map[service.EvmEventKey]map[LookupID]struct{}
	byCosmosEvent map[service.CosmosEventKey]map[LookupID]struct{}

	// service_id -> workflow_id -> LookupID
	byServiceWorkflow map[string]map[string]LookupID
}

// NewIndexes constructs an empty Indexes.
func NewIndexes() *Indexes {
	return &Indexes{
		configs:           make(map[LookupID]service.TriggerConfig),
		byEvmEvent:        make(map[service.EvmEventKey]map[LookupID]struct{}),
		byCosmosEvent:     make(map[service.CosmosEventKey]map[LookupID]struct{}),
		byServiceWorkflow: make(map[string]map[string]LookupID),
	}
}

// Add registers cfg, allocating and returning a fresh LookupID. The
// caller is responsible for also wiring cfg.Trigger into the block or
// cron scheduler when its kind requires one.
func (ix *Indexes) Add(cfg service.TriggerConfig) LookupID {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.nextID++
	id := LookupID(ix.nextID)
	ix.configs[id] = cfg

	switch cfg.Trigger.Kind {
	case service.TriggerEvmContractEvent:
		key := service.EvmEventKey{Chain: cfg.Trigger.Chain, Address: cfg.Trigger.Address, EventHash: cfg.Trigger.EventHash}
		set, ok := ix.byEvmEvent[key]
		if !ok {
			set = make(map[LookupID]struct{})
			ix.byEvmEvent[key] = set
		}
		set[id] = struct{}{}
	case service.TriggerCosmosContractEvt:
		key := service.CosmosEventKey{Chain: cfg.Trigger.Chain, Address: cfg.Trigger.Address, EventType: cfg.Trigger.EventType}
		set, ok := ix.byCosmosEvent[key]
		if !ok {
			set = make(map[LookupID]struct{})
			ix.byCosmosEvent[key] = set
		}
		set[id] = struct{}{}
	}

	byWf, ok := ix.byServiceWorkflow[cfg.ServiceID]
	if !ok {
		byWf = make(map[string]LookupID)
		ix.byServiceWorkflow[cfg.ServiceID] = byWf
	}
	byWf[cfg.WorkflowID] = id

	return id
}

// Remove deletes the trigger registered for (serviceID, workflowID),
// removing the config, the forward index entry, and the reverse
// mapping, with no residual entries left behind.
func (ix *Indexes) Remove(serviceID, workflowID string) (LookupID, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	byWf, ok := ix.byServiceWorkflow[serviceID]
	if !ok {
		return 0, false
	}
	id, ok := byWf[workflowID]
	if !ok {
		return 0, false
	}
	delete(byWf, workflowID)
	if len(byWf) == 0 {
		delete(ix.byServiceWorkflow, serviceID)
	}

	cfg, ok := ix.configs[id]
	if ok {
		switch cfg.Trigger.Kind {
		case service.TriggerEvmContractEvent:
			key := service.EvmEventKey{Chain: cfg.Trigger.Chain, Address: cfg.Trigger.Address, EventHash: cfg.Trigger.EventHash}
			if set, ok := ix.byEvmEvent[key]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(ix.byEvmEvent, key)
				}
			}
		case service.TriggerCosmosContractEvt:
			key := service.CosmosEventKey{Chain: cfg.Trigger.Chain, Address: cfg.Trigger.Address, EventType: cfg.Trigger.EventType}
			if set, ok := ix.byCosmosEvent[key]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(ix.byCosmosEvent, key)
				}
			}
		}
	}
	delete(ix.configs, id)
	return id, true
}

// MatchEvm returns every LookupId bound to key.
func (ix *Indexes) MatchEvm(key service.EvmEventKey) []LookupID {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	set := ix.byEvmEvent[key]
	out := make([]LookupID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// MatchCosmos returns every LookupId bound to key.
func (ix *Indexes) MatchCosmos(key service.CosmosEventKey) []LookupID {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	set := ix.byCosmosEvent[key]
	out := make([]LookupID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Config returns the TriggerConfig registered for id.
func (ix *Indexes) Config(id LookupID) (service.TriggerConfig, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	cfg, ok := ix.configs[id]
	return cfg, ok
}

// ListByService returns every TriggerConfig registered for serviceID.
func (ix *Indexes) ListByService(serviceID string) []service.TriggerConfig {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	byWf := ix.byServiceWorkflow[serviceID]
	out := make([]service.TriggerConfig, 0, len(byWf))
	for _, id := range byWf {
		out = append(out, ix.configs[id])
	}
	return out
}

// RemoveService removes every trigger registered for serviceID.
func (ix *Indexes) RemoveService(serviceID string) []LookupID {
	ix.mu.Lock()
	workflowIDs := make([]string, 0)
	for wf := range ix.byServiceWorkflow[serviceID] {
		workflowIDs = append(workflowIDs, wf)
	}
	ix.mu.Unlock()

	var removed []LookupID
	for _, wf := range workflowIDs {
		if id, ok := ix.Remove(serviceID, wf); ok {
			removed = append(removed, id)
		}
	}
	return removed
}
