// Package evmclient implements Component D: the EVM websocket
// connection supervisor and subscription state machine, grounded on
// the original implementation's
// subsystems/trigger/streams/evm_stream/client/subscription.rs.
//
// This file isolates the subscription bookkeeping as a pure state
// machine, decoupled from the actual websocket I/O in connection.go, so
// the state transitions (the hard part) are unit-testable without a
// network.
package evmclient

import (
	"sync"
)

// SubscriptionKind is one of the three subscribable EVM streams.
type SubscriptionKind int

const (
	KindBlocks SubscriptionKind = iota
	KindLogs
	KindPendingTransactions
)

func (k SubscriptionKind) String() string {
	switch k {
	case KindBlocks:
		return "newHeads"
	case KindLogs:
		return "logs"
	case KindPendingTransactions:
		return "newPendingTransactions"
	default:
		return "unknown"
	}
}

// LogFilter is the composite filter identity for the logs subscription;
// a change in filter identity always forces a fresh subscribe per
// spec §4.D.3.
type LogFilter struct {
	Addresses []string
	Topics    [][]string
}

// Equal reports whether f and other describe the same filter.
func (f LogFilter) Equal(other LogFilter) bool {
	if len(f.Addresses) != len(other.Addresses) || len(f.Topics) != len(other.Topics) {
		return false
	}
	for i := range f.Addresses {
		if f.Addresses[i] != other.Addresses[i] {
			return false
		}
	}
	for i := range f.Topics {
		if len(f.Topics[i]) != len(other.Topics[i]) {
			return false
		}
		for j := range f.Topics[i] {
			if f.Topics[i][j] != other.Topics[i][j] {
				return false
			}
		}
	}
	return true
}

// RpcID is a 64-bit JSON-RPC request id, allocated once and never reused
// for the lifetime of the process; ids outlive any single connection.
type RpcID uint64

// SubID is the server-assigned subscription id returned by eth_subscribe.
type SubID string

// State is a per-kind subscription lifecycle state, mirroring the
// Disabled/PendingSubscribe/InFlight/Active/Unsubscribing diagram in
// spec §4.D.
type State int

const (
	StateDisabled State = iota
	StatePendingSubscribe
	StateInFlight
	StateActive
	StateUnsubscribing
)

// ActionKind discriminates the two outbound RPCs the machine can ask
// the connection layer to send.
type ActionKind int

const (
	ActionSubscribe ActionKind = iota
	ActionUnsubscribe
)

// Action is an outbound intent the caller (connection.go) must actually
// send over the websocket and correlate the eventual response back via
// OnSubscribeAck / OnUnsubscribeAck.
type Action struct {
	Kind      ActionKind
	RpcID     RpcID
	SubKind   SubscriptionKind
	Filter    LogFilter // meaningful only for KindLogs subscribes
	Unsub     SubID     // meaningful only for ActionUnsubscribe
}

type intent struct {
	action  ActionKind
	subKind SubscriptionKind
	filter  LogFilter
	target  SubID
}

type kindEntry struct {
	desired bool
	filter  LogFilter
	state   State

	inFlightID         RpcID
	unsubscribeOnLand  bool
	activeID           SubID
}

// Machine is the subscription state machine for one connection's
// lifetime worth of bookkeeping; connection.go calls SetConnected on
// every Connected and Disconnected edge, which clears it, per the
// invariant that no Active survives a Disconnected transition.
type Machine struct {
	mu         sync.Mutex
	nextRpcID  uint64
	connected  bool
	kinds      map[SubscriptionKind]*kindEntry
	inFlight   map[RpcID]intent
}

// NewMachine constructs an empty, disconnected Machine.
func NewMachine() *Machine {
	m := &Machine{
		kinds:    make(map[SubscriptionKind]*kindEntry),
		inFlight: make(map[RpcID]intent),
	}
	for _, k := range []SubscriptionKind{KindBlocks, KindLogs, KindPendingTransactions} {
		m.kinds[k] = &kindEntry{}
	}
	return m
}

func (m *Machine) allocRpcID() RpcID {
	m.nextRpcID++
	return RpcID(m.nextRpcID)
}

// reconcile computes the actions needed to bring kind's actual state in
// line with its desired flag, applying the two rules from spec §4.D.3:
// do not duplicate in-flight intent, and late-unsubscribe-on-land.
// Must be called with mu held.
func (m *Machine) reconcile(kind SubscriptionKind) []Action {
	e := m.kinds[kind]
	var actions []Action

	if e.desired {
		switch e.state {
		case StateDisabled:
			id := m.allocRpcID()
			m.inFlight[id] = intent{action: ActionSubscribe, subKind: kind, filter: e.filter}
			e.state = StateInFlight
			e.inFlightID = id
			e.unsubscribeOnLand = false
			actions = append(actions, Action{Kind: ActionSubscribe, RpcID: id, SubKind: kind, Filter: e.filter})
		case StateInFlight:
			// already subscribing; do not duplicate.
		case StateActive:
			// already active with the current filter identity; nothing to do.
		case StateUnsubscribing, StatePendingSubscribe:
			// a reversal arrived mid-flight; the ack handlers drive the
			// next step once the in-flight RPC lands.
		}
	} else {
		switch e.state {
		case StateInFlight:
			// late-unsubscribe-on-land: mark it, do not cancel the wire
			// request (there may be none to cancel), wait for the ack.
			e.unsubscribeOnLand = true
		case StateActive:
			id := m.allocRpcID()
			m.inFlight[id] = intent{action: ActionUnsubscribe, subKind: kind, target: e.activeID}
			e.state = StateUnsubscribing
			actions = append(actions, Action{Kind: ActionUnsubscribe, RpcID: id, SubKind: kind, Unsub: e.activeID})
		}
	}
	return actions
}

// EnableBlocks toggles on the newHeads subscription.
func (m *Machine) EnableBlocks() []Action { return m.setDesired(KindBlocks, true, LogFilter{}) }

// DisableBlocks toggles off the newHeads subscription.
func (m *Machine) DisableBlocks() []Action { return m.setDesired(KindBlocks, false, LogFilter{}) }

// EnablePendingTransactions toggles on the mempool subscription.
func (m *Machine) EnablePendingTransactions() []Action {
	return m.setDesired(KindPendingTransactions, true, LogFilter{})
}

// DisablePendingTransactions toggles off the mempool subscription.
func (m *Machine) DisablePendingTransactions() []Action {
	return m.setDesired(KindPendingTransactions, false, LogFilter{})
}

// EnableLogs toggles on the logs subscription with filter. A changed
// filter identity always forces a fresh subscribe (unsubscribe any
// current one first).
func (m *Machine) EnableLogs(filter LogFilter) []Action {
	m.mu.Lock()
	e := m.kinds[KindLogs]
	filterChanged := !e.filter.Equal(filter) && (e.state == StateActive || e.state == StateInFlight)
	if filterChanged {
		m.mu.Unlock()
		actions := m.DisableLogs()
		m.mu.Lock()
		e.filter = filter
		e.desired = true
		actions = append(actions, m.reconcileWhenDesiredSettles(KindLogs)...)
		m.mu.Unlock()
		return actions
	}
	e.filter = filter
	e.desired = true
	actions := m.reconcile(KindLogs)
	m.mu.Unlock()
	return actions
}

// reconcileWhenDesiredSettles is reconcile(kind) but only fires a fresh
// subscribe once the kind has actually returned to Disabled (the
// preceding DisableLogs may still be in flight as Unsubscribing).
// Must be called with mu held.
func (m *Machine) reconcileWhenDesiredSettles(kind SubscriptionKind) []Action {
	e := m.kinds[kind]
	if e.state != StateDisabled {
		return nil
	}
	return m.reconcile(kind)
}

// DisableLogs toggles off the logs subscription.
func (m *Machine) DisableLogs() []Action { return m.setDesired(KindLogs, false, LogFilter{}) }

func (m *Machine) setDesired(kind SubscriptionKind, desired bool, filter LogFilter) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.kinds[kind]
	e.desired = desired
	if desired {
		e.filter = filter
	}
	return m.reconcile(kind)
}

// OnSubscribeAck handles the server's response to a subscribe RPC. If
// the kind was disabled while the subscribe was in flight
// (unsubscribeOnLand), this immediately issues the unsubscribe and
// never enters the subscription into the active map.
func (m *Machine) OnSubscribeAck(rpcID RpcID, subID SubID) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.inFlight[rpcID]
	if !ok || in.action != ActionSubscribe {
		return nil
	}
	delete(m.inFlight, rpcID)
	e := m.kinds[in.subKind]

	if e.unsubscribeOnLand {
		e.unsubscribeOnLand = false
		unsubID := m.allocRpcID()
		m.inFlight[unsubID] = intent{action: ActionUnsubscribe, subKind: in.subKind, target: subID}
		e.state = StateUnsubscribing
		return []Action{{Kind: ActionUnsubscribe, RpcID: unsubID, SubKind: in.subKind, Unsub: subID}}
	}

	e.state = StateActive
	e.activeID = subID
	return nil
}

// OnUnsubscribeAck handles the server's response to an unsubscribe RPC.
func (m *Machine) OnUnsubscribeAck(rpcID RpcID, success bool) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	in, ok := m.inFlight[rpcID]
	if !ok || in.action != ActionUnsubscribe {
		return nil
	}
	delete(m.inFlight, rpcID)
	e := m.kinds[in.subKind]

	if success {
		e.activeID = ""
	}
	e.state = StateDisabled
	return m.reconcile(in.subKind)
}

// PendingActionKind reports whether rpcID is currently in flight as a
// subscribe or an unsubscribe, so the connection layer knows how to
// decode the JSON-RPC result before calling the matching Ack method.
func (m *Machine) PendingActionKind(rpcID RpcID) (ActionKind, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.inFlight[rpcID]
	return in.action, ok
}

// SetConnected records a connection state transition. Either edge clears
// every in-flight and active subscription: no Active persists across a
// Disconnected edge, and RPC ids issued before a fresh Connected (for
// example while no socket was open yet) are never awaited. On a fresh
// Connected, every still-desired kind is then resubscribed from scratch.
func (m *Machine) SetConnected(connected bool) []Action {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.connected = connected
	m.inFlight = make(map[RpcID]intent)
	for _, e := range m.kinds {
		e.state = StateDisabled
		e.activeID = ""
		e.unsubscribeOnLand = false
	}
	if !connected {
		return nil
	}

	var actions []Action
	for kind := range m.kinds {
		actions = append(actions, m.reconcile(kind)...)
	}
	return actions
}

// ActiveSubscriptionID returns the server-assigned id currently active
// for kind, if any.
func (m *Machine) ActiveSubscriptionID(kind SubscriptionKind) (SubID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.kinds[kind]
	return e.activeID, e.state == StateActive
}

// KindForSubscription finds which kind owns subID, used to route
// inbound subscription events. Returns false if no active subscription
// matches (mismatched ids are dropped per spec §4.D.4).
func (m *Machine) KindForSubscription(subID SubID) (SubscriptionKind, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for kind, e := range m.kinds {
		if e.state == StateActive && e.activeID == subID {
			return kind, true
		}
	}
	return 0, false
}
