package dispatcher

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	cmtbytes "github.com/cometbft/cometbft/libs/bytes"
	rpcclient "github.com/cometbft/cometbft/rpc/client"
	cmthttp "github.com/cometbft/cometbft/rpc/client/http"

	"github.com/wavsnet/operator/pkg/chainconfig"
	"github.com/wavsnet/operator/pkg/service"
)

// ManagerQuerier resolves a Service's on-chain manager contract to its
// currently published service URI (spec §4.H's add_service/startup
// reconciliation "query manager.contract.getServiceURI()" step).
type ManagerQuerier interface {
	GetServiceURI(ctx context.Context, manager service.Manager) (string, error)
}

// ChainManagerQuerier implements ManagerQuerier for both EVM (`eth_call`
// against the view selector `getServiceURI()`) and Cosmos (a wasm smart
// query `{"wavs_service_uri": {}}`) managers, grounded on
// certenIO-certen-validator/pkg/ethereum/client.go's call/ABI idiom for
// the EVM side and pkg/cosmosclient's cmthttp connection for the Cosmos
// side.
type ChainManagerQuerier struct {
	chains *chainconfig.Config

	mu        sync.Mutex
	ethConns  map[string]*ethclient.Client
	cosmConns map[string]*cmthttp.HTTP
}

// NewChainManagerQuerier constructs a ChainManagerQuerier resolving RPC
// endpoints from chains.
func NewChainManagerQuerier(chains *chainconfig.Config) *ChainManagerQuerier {
	return &ChainManagerQuerier{
		chains:    chains,
		ethConns:  make(map[string]*ethclient.Client),
		cosmConns: make(map[string]*cmthttp.HTTP),
	}
}

var getServiceURISelector = crypto.Keccak256([]byte("getServiceURI()"))[:4]

var stringOutput = mustAbiArguments()

func mustAbiArguments() abi.Arguments {
	strType, err := abi.NewType("string", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: strType}}
}

// GetServiceURI dispatches on manager.Chain.Namespace.
func (q *ChainManagerQuerier) GetServiceURI(ctx context.Context, manager service.Manager) (string, error) {
	switch manager.Chain.Namespace {
	case service.NamespaceEVM:
		return q.getServiceURIEvm(ctx, manager)
	case service.NamespaceCosmos:
		return q.getServiceURICosmos(ctx, manager)
	default:
		return "", fmt.Errorf("dispatcher: unsupported manager chain namespace %q", manager.Chain.Namespace)
	}
}

func (q *ChainManagerQuerier) ethConn(manager service.Manager) (*ethclient.Client, error) {
	cfg, ok := q.chains.Get(manager.Chain)
	if !ok || cfg.EVM == nil {
		return nil, fmt.Errorf("dispatcher: no evm chain config for %s", manager.Chain)
	}
	endpoint := cfg.EVM.HTTPEndpoint
	if endpoint == "" && len(cfg.EVM.WSEndpoints) > 0 {
		endpoint = cfg.EVM.WSEndpoints[0]
	}
	if endpoint == "" {
		return nil, fmt.Errorf("dispatcher: no usable rpc endpoint for %s", manager.Chain)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if c, ok := q.ethConns[endpoint]; ok {
		return c, nil
	}
	c, err := ethclient.Dial(endpoint)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: dial evm rpc %s: %w", endpoint, err)
	}
	q.ethConns[endpoint] = c
	return c, nil
}

func (q *ChainManagerQuerier) getServiceURIEvm(ctx context.Context, manager service.Manager) (string, error) {
	client, err := q.ethConn(manager)
	if err != nil {
		return "", err
	}
	addr := common.HexToAddress(manager.Address)
	result, err := client.CallContract(ctx, ethereum.CallMsg{
		To:   &addr,
		Data: getServiceURISelector,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("dispatcher: getServiceURI call: %w", err)
	}
	out, err := stringOutput.Unpack(result)
	if err != nil {
		return "", fmt.Errorf("dispatcher: decode getServiceURI result: %w", err)
	}
	uri, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("dispatcher: getServiceURI did not return a string")
	}
	return uri, nil
}

func (q *ChainManagerQuerier) cosmConn(manager service.Manager) (*cmthttp.HTTP, error) {
	cfg, ok := q.chains.Get(manager.Chain)
	if !ok || cfg.Cosmos == nil {
		return nil, fmt.Errorf("dispatcher: no cosmos chain config for %s", manager.Chain)
	}
	endpoint := cfg.Cosmos.RPCEndpoint

	q.mu.Lock()
	defer q.mu.Unlock()
	if c, ok := q.cosmConns[endpoint]; ok {
		return c, nil
	}
	c, err := cmthttp.New(endpoint, "/websocket")
	if err != nil {
		return nil, fmt.Errorf("dispatcher: dial cosmos rpc %s: %w", endpoint, err)
	}
	if err := c.Start(); err != nil {
		return nil, fmt.Errorf("dispatcher: start cosmos rpc client %s: %w", endpoint, err)
	}
	q.cosmConns[endpoint] = c
	return c, nil
}

// wasmQueryPath is the legacy ABCI query path cosmos-sdk's x/wasm module
// exposes for contract smart queries.
const wasmQueryPath = "/cosmwasm.wasm.v1.Query/SmartContractState"

func (q *ChainManagerQuerier) getServiceURICosmos(ctx context.Context, manager service.Manager) (string, error) {
	client, err := q.cosmConn(manager)
	if err != nil {
		return "", err
	}
	query := cmtbytes.HexBytes(`{"wavs_service_uri":{}}`)
	res, err := client.ABCIQueryWithOptions(ctx, wasmQueryPath, query, rpcclient.ABCIQueryOptions{})
	if err != nil {
		return "", fmt.Errorf("dispatcher: wasm smart query: %w", err)
	}
	if res.Response.Code != 0 {
		return "", fmt.Errorf("dispatcher: wasm smart query failed: %s", res.Response.Log)
	}

	var uri string
	trimmed := strings.Trim(string(res.Response.Value), `"`)
	if err := json.Unmarshal(res.Response.Value, &uri); err != nil {
		uri = trimmed
	}
	return uri, nil
}

// evmQueryParams is the params payload for a Query call against an EVM
// chain: a raw eth_call against to with the given calldata.
type evmQueryParams struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

// Query implements hostcaps.ChainQuerier, giving a guest component a
// narrow, permission-gated on-chain read: an eth_call for EVM chains, a
// wasm smart query for Cosmos chains. method is advisory only — both
// chain kinds currently support exactly one query shape — and is kept so
// a future chain kind can discriminate on it without breaking the
// interface.
func (q *ChainManagerQuerier) Query(ctx context.Context, chain service.ChainKey, method string, params []byte) ([]byte, error) {
	switch chain.Namespace {
	case service.NamespaceEVM:
		var p evmQueryParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("dispatcher: decode evm query params: %w", err)
		}
		client, err := q.ethConnFor(chain)
		if err != nil {
			return nil, err
		}
		calldata, err := hexDecode(p.Data)
		if err != nil {
			return nil, fmt.Errorf("dispatcher: decode evm query calldata: %w", err)
		}
		to := common.HexToAddress(p.To)
		return client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: calldata}, nil)

	case service.NamespaceCosmos:
		client, err := q.cosmConnFor(chain)
		if err != nil {
			return nil, err
		}
		res, err := client.ABCIQueryWithOptions(ctx, wasmQueryPath, cmtbytes.HexBytes(params), rpcclient.ABCIQueryOptions{})
		if err != nil {
			return nil, fmt.Errorf("dispatcher: cosmos chain query: %w", err)
		}
		if res.Response.Code != 0 {
			return nil, fmt.Errorf("dispatcher: cosmos chain query failed: %s", res.Response.Log)
		}
		return res.Response.Value, nil

	default:
		return nil, fmt.Errorf("dispatcher: unsupported chain namespace %q", chain.Namespace)
	}
}

func hexDecode(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

// LatestHeight returns chain's current block height, used by the
// operator's block_interval poll loop (spec §3's block_interval
// trigger applies uniformly to EVM and Cosmos chains, but only EVM
// exposes a push-based header subscription in pkg/evmclient; polling
// both namespaces the same way keeps the scheduler chain-agnostic).
func (q *ChainManagerQuerier) LatestHeight(ctx context.Context, chain service.ChainKey) (uint64, error) {
	switch chain.Namespace {
	case service.NamespaceEVM:
		client, err := q.ethConnFor(chain)
		if err != nil {
			return 0, err
		}
		return client.BlockNumber(ctx)

	case service.NamespaceCosmos:
		client, err := q.cosmConnFor(chain)
		if err != nil {
			return 0, err
		}
		status, err := client.Status(ctx)
		if err != nil {
			return 0, fmt.Errorf("dispatcher: cosmos status: %w", err)
		}
		return uint64(status.SyncInfo.LatestBlockHeight), nil

	default:
		return 0, fmt.Errorf("dispatcher: unsupported chain namespace %q", chain.Namespace)
	}
}

// ethConnFor and cosmConnFor resolve a connection directly from a
// ChainKey rather than a service.Manager, for callers (the generic
// Query path) that have no manager address at hand.
func (q *ChainManagerQuerier) ethConnFor(chain service.ChainKey) (*ethclient.Client, error) {
	return q.ethConn(service.Manager{Chain: chain})
}

func (q *ChainManagerQuerier) cosmConnFor(chain service.ChainKey) (*cmthttp.HTTP, error) {
	return q.cosmConn(service.Manager{Chain: chain})
}

// Close tears down every cached connection.
func (q *ChainManagerQuerier) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range q.ethConns {
		c.Close()
	}
	for _, c := range q.cosmConns {
		_ = c.Stop()
	}
}
