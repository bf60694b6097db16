// Package chainconfig implements Component C: the namespace-keyed chain
// configuration lookup. Per spec §1, layered config-file discovery is an
// external concern; this package only defines the struct shape and the
// in-memory lookup, following the construction pattern of
// certenIO-certen-validator's pkg/ethereum client and the reference
// node's pkg/config struct style.
package chainconfig

import (
	"fmt"
	"sync"

	"github.com/wavsnet/operator/pkg/service"
)

// EVMChainConfig is an EVM-namespace chain_spec: an ordered list of
// candidate websocket endpoints for failover, an optional HTTP
// endpoint, and a priority index naming the endpoint dialed first (the
// client then fails over to each following endpoint in order, wrapping
// around).
type EVMChainConfig struct {
	ChainID      uint64   `yaml:"chain_id"`
	WSEndpoints  []string `yaml:"ws_endpoints"`
	HTTPEndpoint string   `yaml:"http_endpoint,omitempty"`
	Faucet       string   `yaml:"faucet,omitempty"`
	Priority     int      `yaml:"priority,omitempty"`
}

// CosmosChainConfig is a Cosmos-namespace chain_spec.
type CosmosChainConfig struct {
	ChainID      string `yaml:"chain_id"`
	RPCEndpoint  string `yaml:"rpc_endpoint"`
	GRPCEndpoint string `yaml:"grpc_endpoint,omitempty"`
}

// AnyChainConfig is the tagged union returned by lookups: exactly one of
// EVM or Cosmos is set.
type AnyChainConfig struct {
	EVM    *EVMChainConfig
	Cosmos *CosmosChainConfig
}

// Config is the two-level namespace -> id -> chain_spec mapping. The
// zero value is usable; Register populates it. Config is safe for
// concurrent reads and writes since the dispatcher and trigger manager
// both query it from independent goroutines (spec §9: "expose it via an
// explicitly passed handle rather than a singleton").
type Config struct {
	mu     sync.RWMutex
	chains map[service.ChainKey]AnyChainConfig
}

// New returns an empty Config.
func New() *Config {
	return &Config{chains: make(map[service.ChainKey]AnyChainConfig)}
}

// RegisterEVM adds or replaces the EVM chain_spec for key.
func (c *Config) RegisterEVM(key service.ChainKey, cfg EVMChainConfig) error {
	if key.Namespace != service.NamespaceEVM {
		return fmt.Errorf("chainconfig: %s is not an evm chain key", key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chains[key] = AnyChainConfig{EVM: &cfg}
	return nil
}

// RegisterCosmos adds or replaces the Cosmos chain_spec for key.
func (c *Config) RegisterCosmos(key service.ChainKey, cfg CosmosChainConfig) error {
	if key.Namespace != service.NamespaceCosmos {
		return fmt.Errorf("chainconfig: %s is not a cosmos chain key", key)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chains[key] = AnyChainConfig{Cosmos: &cfg}
	return nil
}

// Get returns the chain_spec for key, if any.
func (c *Config) Get(key service.ChainKey) (AnyChainConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.chains[key]
	return cfg, ok
}

// ChainKeys returns every registered key in the given namespace.
func (c *Config) ChainKeys(ns service.ChainNamespace) []service.ChainKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []service.ChainKey
	for k := range c.chains {
		if k.Namespace == ns {
			out = append(out, k)
		}
	}
	return out
}
