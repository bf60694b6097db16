package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wavsnet/operator/pkg/chainconfig"
	"github.com/wavsnet/operator/pkg/operator"
	"github.com/wavsnet/operator/pkg/service"
)

// fileConfig is the on-disk YAML shape for the operator's chain_spec
// table and the managers to watch at startup, mirroring the reference
// node's pkg/config struct style (plain struct tags, no env layering).
type fileConfig struct {
	DataDir     string           `yaml:"data_dir"`
	IPFSGateway string           `yaml:"ipfs_gateway"`
	MasterSeed  string           `yaml:"master_seed_hex"`
	Chains      []chainEntryYAML `yaml:"chains"`
	Managers    []managerYAML    `yaml:"managers"`
}

type chainEntryYAML struct {
	Namespace    string   `yaml:"namespace"`
	ID           string   `yaml:"id"`
	ChainIDEvm   uint64   `yaml:"chain_id,omitempty"`
	ChainIDCosm  string   `yaml:"cosmos_chain_id,omitempty"`
	WSEndpoints  []string `yaml:"ws_endpoints,omitempty"`
	HTTPEndpoint string   `yaml:"http_endpoint,omitempty"`
	RPCEndpoint  string   `yaml:"rpc_endpoint,omitempty"`
	GRPCEndpoint string   `yaml:"grpc_endpoint,omitempty"`
	Faucet       string   `yaml:"faucet,omitempty"`
	Priority     int      `yaml:"priority,omitempty"`
}

type managerYAML struct {
	Namespace string `yaml:"namespace"`
	ChainID   string `yaml:"chain_id"`
	Address   string `yaml:"address"`
}

// loadFileConfig reads and parses path.
func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config yaml: %w", err)
	}
	return &cfg, nil
}

// chainEntries converts the YAML chain table into operator.ChainEntry
// values, dispatching on namespace.
func (fc *fileConfig) chainEntries() ([]operator.ChainEntry, error) {
	var out []operator.ChainEntry
	for _, ce := range fc.Chains {
		key := service.ChainKey{Namespace: service.ChainNamespace(ce.Namespace), ID: ce.ID}
		switch key.Namespace {
		case service.NamespaceEVM:
			out = append(out, operator.ChainEntry{
				Key: key,
				EVM: &chainconfig.EVMChainConfig{
					ChainID:      ce.ChainIDEvm,
					WSEndpoints:  ce.WSEndpoints,
					HTTPEndpoint: ce.HTTPEndpoint,
					Faucet:       ce.Faucet,
					Priority:     ce.Priority,
				},
			})
		case service.NamespaceCosmos:
			out = append(out, operator.ChainEntry{
				Key: key,
				Cosmos: &chainconfig.CosmosChainConfig{
					ChainID:      ce.ChainIDCosm,
					RPCEndpoint:  ce.RPCEndpoint,
					GRPCEndpoint: ce.GRPCEndpoint,
				},
			})
		default:
			return nil, fmt.Errorf("config: chain %s has unsupported namespace %q", ce.ID, ce.Namespace)
		}
	}
	return out, nil
}

func (fc *fileConfig) managers() []service.Manager {
	var out []service.Manager
	for _, m := range fc.Managers {
		key := service.ChainKey{Namespace: service.ChainNamespace(m.Namespace), ID: m.ChainID}
		out = append(out, service.Manager{Chain: key, Address: m.Address})
	}
	return out
}
