// Package service implements the data model from spec §3 (Service,
// Workflow, Component, Trigger, TriggerAction, ChainMessage) and the
// registry CRUD from spec §4.B, adapted from the reference engine's
// decomposed pkg/serverless/registry package shape onto the typed KV
// store instead of SQL + IPFS.
package service

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/wavsnet/operator/pkg/digest"
)

// ChainNamespace is one of the three chain namespaces a ChainKey may
// belong to.
type ChainNamespace string

const (
	NamespaceCosmos ChainNamespace = "cosmos"
	NamespaceEVM    ChainNamespace = "evm"
	NamespaceDev    ChainNamespace = "dev"
)

// ChainKey identifies a chain configuration entry.
type ChainKey struct {
	Namespace ChainNamespace `json:"namespace"`
	ID        string         `json:"id"`
}

var chainKeyPattern = regexp.MustCompile(`^([a-z]+):(.+)$`)

// ParseChainKey parses "ns:id" into a ChainKey.
func ParseChainKey(s string) (ChainKey, error) {
	m := chainKeyPattern.FindStringSubmatch(s)
	if m == nil {
		return ChainKey{}, fmt.Errorf("service: malformed chain key %q", s)
	}
	ns := ChainNamespace(m[1])
	switch ns {
	case NamespaceCosmos, NamespaceEVM, NamespaceDev:
	default:
		return ChainKey{}, fmt.Errorf("service: unknown chain namespace %q", m[1])
	}
	return ChainKey{Namespace: ns, ID: m[2]}, nil
}

func (k ChainKey) String() string {
	return string(k.Namespace) + ":" + k.ID
}

var idPattern = regexp.MustCompile(`^[a-z0-9]{3,64}$`)

// ValidID reports whether s satisfies the lowercase-alphanumeric,
// length 3-64 constraint shared by ServiceId/WorkflowId/ComponentId.
func ValidID(s string) bool {
	return idPattern.MatchString(s)
}

type (
	ID          = string
	WorkflowID  = string
	ComponentID = string
)

// Manager is the on-chain contract that authoritatively publishes a
// service's canonical URI.
type Manager struct {
	Chain   ChainKey `json:"chain"`
	Address string   `json:"address"`
}

// ComponentSource is a tagged variant: exactly one of Digest, Registry,
// or Download is set.
type ComponentSource struct {
	Digest   *digest.Digest    `json:"digest,omitempty"`
	Registry *RegistrySource   `json:"registry,omitempty"`
	Download *DownloadSource   `json:"download,omitempty"`
}

type RegistrySource struct {
	Digest  digest.Digest `json:"digest"`
	Package string        `json:"package"`
	Domain  string        `json:"domain,omitempty"`
	Version string        `json:"version,omitempty"`
}

type DownloadSource struct {
	URL    string        `json:"url"`
	Digest digest.Digest `json:"digest"`
}

// AllowedHosts is a tagged variant for HTTP host permissions.
type AllowedHosts struct {
	All  bool     `json:"all,omitempty"`
	Only []string `json:"only,omitempty"`
	None bool     `json:"none,omitempty"`
}

// Permissions gates the host capabilities available to a component.
type Permissions struct {
	AllowedHTTPHosts AllowedHosts `json:"allowed_http_hosts"`
	FileSystem       bool         `json:"file_system"`
}

// Component carries everything needed to load and sandbox a WASM guest.
type Component struct {
	Source           ComponentSource   `json:"source"`
	EnvKeys          []string          `json:"env_keys"`
	Config           map[string]string `json:"config"`
	FuelLimit        *uint64           `json:"fuel_limit,omitempty"`
	TimeLimitSeconds *uint64           `json:"time_limit_seconds,omitempty"`
	Permissions      Permissions       `json:"permissions"`
}

// TriggerKind discriminates the Trigger tagged variant.
type TriggerKind string

const (
	TriggerManual            TriggerKind = "manual"
	TriggerEvmContractEvent  TriggerKind = "evm_contract_event"
	TriggerCosmosContractEvt TriggerKind = "cosmos_contract_event"
	TriggerBlockInterval     TriggerKind = "block_interval"
	TriggerCron              TriggerKind = "cron"
)

// Trigger is the closed tagged variant from spec §3. Exactly the field
// set matching Kind is populated.
type Trigger struct {
	Kind TriggerKind `json:"kind"`

	// EvmContractEvent / CosmosContractEvent
	Chain     ChainKey `json:"chain,omitempty"`
	Address   string   `json:"address,omitempty"`
	EventHash string   `json:"event_hash,omitempty"` // EVM
	EventType string   `json:"event_type,omitempty"` // Cosmos

	// BlockInterval
	NBlocks    uint64  `json:"n_blocks,omitempty"`
	StartBlock *uint64 `json:"start_block,omitempty"`
	EndBlock   *uint64 `json:"end_block,omitempty"`

	// Cron
	Schedule  string `json:"schedule,omitempty"`
	StartTime *int64 `json:"start_time,omitempty"` // unix seconds
	EndTime   *int64 `json:"end_time,omitempty"`
}

// EvmEventKey is the composite key for the EVM subscription slot.
type EvmEventKey struct {
	Chain     ChainKey
	Address   string
	EventHash string
}

// CosmosEventKey is the composite key for the Cosmos subscription slot.
type CosmosEventKey struct {
	Chain     ChainKey
	Address   string
	EventType string
}

// SubmitKind discriminates how a workflow's result is delivered.
type SubmitKind string

const (
	SubmitNone       SubmitKind = "none"
	SubmitAggregator SubmitKind = "aggregator"
)

type Submit struct {
	Kind      SubmitKind `json:"kind"`
	URL       string     `json:"url,omitempty"`
	Component ComponentID `json:"component,omitempty"`
	Chain     ChainKey   `json:"chain,omitempty"`
}

// Workflow is a (trigger, component, submit) triple.
type Workflow struct {
	Trigger   Trigger     `json:"trigger"`
	Component ComponentID `json:"component"`
	Submit    Submit      `json:"submit"`
}

// Status is the extensible service lifecycle state; spec currently
// defines only Active.
type Status string

const StatusActive Status = "active"

// Service is the unit of registration.
type Service struct {
	Manager    Manager                `json:"manager"`
	Name       string                 `json:"name"`
	Components map[ComponentID]Component `json:"components"`
	Workflows  map[WorkflowID]Workflow   `json:"workflows"`
	Status     Status                 `json:"status"`
}

// Validate checks the structural invariant from spec §3: every
// workflow's component reference must exist in Components.
func (s *Service) Validate() error {
	for wfID, wf := range s.Workflows {
		if _, ok := s.Components[wf.Component]; !ok {
			return fmt.Errorf("service: workflow %q references unknown component %q", wfID, wf.Component)
		}
	}
	return nil
}

// CanonicalBytes returns the deterministic byte encoding used as the
// hash input for ID(). JSON with sorted map keys (Go's encoding/json
// already sorts map[string]X keys) gives a stable encoding here.
func (s *Service) CanonicalBytes() ([]byte, error) {
	return json.Marshal(s)
}

// ID computes the content-addressed service identity:
// Digest(canonical_bytes(service_without_id)).
func (s *Service) ID() (digest.Digest, error) {
	b, err := s.CanonicalBytes()
	if err != nil {
		return digest.Digest{}, err
	}
	return digest.Of(b), nil
}

// TriggerConfig identifies which service/workflow a matched trigger
// belongs to.
type TriggerConfig struct {
	ServiceID  ID          `json:"service_id"`
	WorkflowID WorkflowID  `json:"workflow_id"`
	Trigger    Trigger     `json:"trigger"`
}

// TriggerDataKind discriminates the TriggerAction payload variant.
type TriggerDataKind string

const (
	DataEvmLog    TriggerDataKind = "evm_log"
	DataCosmosEvt TriggerDataKind = "cosmos_event"
	DataBlock     TriggerDataKind = "block"
	DataCronTick  TriggerDataKind = "cron_tick"
	DataManual    TriggerDataKind = "manual"
)

// TriggerData carries the matched event.
type TriggerData struct {
	Kind TriggerDataKind `json:"kind"`

	EvmLogAddress string          `json:"evm_log_address,omitempty"`
	EvmLogTopics  []string        `json:"evm_log_topics,omitempty"`
	EvmLogData    []byte          `json:"evm_log_data,omitempty"`

	CosmosEventType string `json:"cosmos_event_type,omitempty"`
	CosmosEventData []byte `json:"cosmos_event_data,omitempty"`

	BlockHeight uint64 `json:"block_height,omitempty"`

	CronTickUnix int64 `json:"cron_tick_unix,omitempty"`

	ManualPayload []byte `json:"manual_payload,omitempty"`
}

// TriggerAction is what the trigger manager emits into the engine.
type TriggerAction struct {
	Config TriggerConfig `json:"config"`
	Data   TriggerData   `json:"data"`
}

// WasmResponse is one output of a single engine execution.
type WasmResponse struct {
	Payload      []byte  `json:"payload"`
	EventIDSalt  *string `json:"event_id_salt,omitempty"`
}

// ChainMessage is the engine's output envelope, submitted to the
// aggregator.
type ChainMessage struct {
	ServiceID     ID            `json:"service_id"`
	WorkflowID    WorkflowID    `json:"workflow_id"`
	TriggerData   TriggerData   `json:"trigger_data"`
	WasmResult    WasmResponse  `json:"wasm_result"`
	EventID       digest.Digest `json:"event_id"`
	AggregatorURL string        `json:"aggregator_url"`
	SignerHDIndex uint32        `json:"signer_hd_index"`
}

// ComputeEventID derives the deterministic event_id: a digest over
// (trigger_data, event_id_salt?). Two honest operators processing the
// same trigger must produce byte-identical results, so this hashes the
// JSON-canonical encoding of the pair rather than anything
// process-local.
func ComputeEventID(data TriggerData, salt *string) (digest.Digest, error) {
	payload := struct {
		TriggerData TriggerData `json:"trigger_data"`
		Salt        *string     `json:"event_id_salt,omitempty"`
	}{TriggerData: data, Salt: salt}
	b, err := json.Marshal(payload)
	if err != nil {
		return digest.Digest{}, err
	}
	return digest.Of(b), nil
}
