// Package hostcaps implements the guest capability bag Component G
// exposes: scoped keyvalue, gated HTTP fetch, chain query, and per-service
// filesystem, adapted from the node codebase's pkg/serverless/hostfunctions
// package onto the operator's permission model and fuel budget.
package hostcaps

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/wavsnet/operator/pkg/blobstore"
	"github.com/wavsnet/operator/pkg/digest"
	"github.com/wavsnet/operator/pkg/kv"
	"github.com/wavsnet/operator/pkg/operrs"
	"github.com/wavsnet/operator/pkg/service"
)

// ChainQuerier resolves an on-chain read the guest requests. Wired to
// the EVM/Cosmos clients by the dispatcher when it starts an execution.
type ChainQuerier interface {
	Query(ctx context.Context, chain service.ChainKey, method string, params []byte) ([]byte, error)
}

// Budget is a decrementing host-call allowance standing in for
// wasmtime-style fuel metering, which wazero does not expose (DESIGN.md
// Open Question 4). Every capability call consumes one unit; exhausting
// it fails the call with operrs.ErrOutOfFuel.
type Budget struct {
	mu        sync.Mutex
	remaining uint64
}

// NewBudget constructs a Budget with limit units available. A zero limit
// allows no capability calls at all; only a nil *Budget is unlimited.
func NewBudget(limit uint64) *Budget {
	return &Budget{remaining: limit}
}

func (b *Budget) consume() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remaining == 0 {
		return operrs.ErrOutOfFuel
	}
	b.remaining--
	return nil
}

// Remaining reports the unconsumed budget.
func (b *Budget) Remaining() uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

// Caps is the sealed capability bag bound to one execution: a
// service-scoped keyvalue table, an HTTP client gated by the component's
// allowed-host list, a chain-query callback, and a per-service blob
// filesystem. A nil field in Caps means the capability is unavailable to
// this component (e.g. file_system: false).
type Caps struct {
	ServiceID string
	Budget    *Budget

	kv         kv.Store
	httpClient *http.Client
	allowed    service.AllowedHosts
	chain      ChainQuerier
	fs         blobstore.Store
	fsEnabled  bool
}

// New constructs a Caps bound to serviceID, scoping the keyvalue table
// name and the blob filesystem root to the service.
func New(serviceID string, store kv.Store, chain ChainQuerier, fs blobstore.Store, perms service.Permissions, budget *Budget) *Caps {
	return &Caps{
		ServiceID:  serviceID,
		Budget:     budget,
		kv:         store,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		allowed:    perms.AllowedHTTPHosts,
		chain:      chain,
		fs:         fs,
		fsEnabled:  perms.FileSystem,
	}
}

func (c *Caps) kvTable() string {
	return "guest_kv:" + c.ServiceID
}

// KVGet reads key from the component's scoped keyvalue table.
func (c *Caps) KVGet(key []byte) ([]byte, error) {
	if err := c.Budget.consume(); err != nil {
		return nil, err
	}
	v, err := c.kv.Get(c.kvTable(), key)
	if err == kv.ErrNotFound {
		return nil, operrs.ErrDigestNotFound
	}
	return v, err
}

// KVSet writes key/value to the component's scoped keyvalue table.
func (c *Caps) KVSet(key, value []byte) error {
	if err := c.Budget.consume(); err != nil {
		return err
	}
	return c.kv.Set(c.kvTable(), key, value)
}

// KVDelete removes key from the component's scoped keyvalue table.
func (c *Caps) KVDelete(key []byte) error {
	if err := c.Budget.consume(); err != nil {
		return err
	}
	return c.kv.Delete(c.kvTable(), key)
}

func (c *Caps) hostAllowed(host string) bool {
	if c.allowed.None {
		return false
	}
	if c.allowed.All {
		return true
	}
	for _, h := range c.allowed.Only {
		if h == host {
			return true
		}
	}
	return false
}

// HTTPFetch performs an outbound HTTP request on the guest's behalf,
// rejecting hosts not present in the component's allowed_http_hosts.
func (c *Caps) HTTPFetch(ctx context.Context, method, url, host string, headers map[string]string, body []byte) ([]byte, int, error) {
	if err := c.Budget.consume(); err != nil {
		return nil, 0, err
	}
	if !c.hostAllowed(host) {
		return nil, 0, fmt.Errorf("hostcaps: host %q not in allowed_http_hosts", host)
	}

	var bodyReader io.Reader
	if len(body) > 0 {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, 0, fmt.Errorf("hostcaps: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, &operrs.TransientError{Op: "http_fetch", Cause: err}
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("hostcaps: read response: %w", err)
	}
	return respBody, resp.StatusCode, nil
}

// ChainQuery resolves an on-chain read via the wired ChainQuerier.
func (c *Caps) ChainQuery(ctx context.Context, chain service.ChainKey, method string, params []byte) ([]byte, error) {
	if err := c.Budget.consume(); err != nil {
		return nil, err
	}
	if c.chain == nil {
		return nil, fmt.Errorf("hostcaps: no chain querier wired")
	}
	return c.chain.Query(ctx, chain, method, params)
}

// FSRead reads a service-scoped blob by its digest in text form (the
// "sha256:<hex>" string FSWrite returns).
func (c *Caps) FSRead(hexDigest string) ([]byte, error) {
	if !c.fsEnabled {
		return nil, fmt.Errorf("hostcaps: file_system permission not granted")
	}
	if err := c.Budget.consume(); err != nil {
		return nil, err
	}
	d, err := digest.Parse(hexDigest)
	if err != nil {
		return nil, &operrs.DataError{What: "fs_read digest", Cause: err}
	}
	return c.fs.Get(d)
}

// FSWrite writes data into the service-scoped filesystem, returning its
// content digest.
func (c *Caps) FSWrite(data []byte) (string, error) {
	if !c.fsEnabled {
		return "", fmt.Errorf("hostcaps: file_system permission not granted")
	}
	if err := c.Budget.consume(); err != nil {
		return "", err
	}
	d, err := c.fs.Put(data)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}
