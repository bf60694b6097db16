// Package cosmosclient implements the Cosmos contract-event stream
// (spec §4.D's EVM subscription model, supplemented for the Cosmos
// namespace per §9): a single CometBFT RPC websocket subscription per
// registered (chain, contract, event_type) tuple.
package cosmosclient

import (
	"context"
	"fmt"
	"sync"

	cmthttp "github.com/cometbft/cometbft/rpc/client/http"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	"go.uber.org/zap"

	"github.com/wavsnet/operator/pkg/oplog"
	"github.com/wavsnet/operator/pkg/service"
)

// Event is a matched Cosmos contract event, forwarded to the trigger
// manager the same way a routed EVM log is.
type Event struct {
	Key  service.CosmosEventKey
	Data []byte
}

// Client owns one CometBFT RPC/websocket connection per chain and
// fans out wasm contract events from every subscribed query.
type Client struct {
	logger *oplog.Scoped

	mu      sync.Mutex
	clients map[string]*cmthttp.HTTP // rpc endpoint -> connected client
	subs    map[service.CosmosEventKey]context.CancelFunc

	eventsQ *unboundedQueue[Event]

	// Events is a dedicated, effectively unbounded delivery channel
	// (backed by eventsQ): a burst of contract events never drops one on
	// the floor the way a fixed-capacity buffered channel would (spec
	// §4.F/§5).
	Events <-chan Event
}

// NewClient constructs an empty Client.
func NewClient(logger *oplog.Scoped) *Client {
	eventsQ := newUnboundedQueue[Event]()
	return &Client{
		logger:  logger,
		clients: make(map[string]*cmthttp.HTTP),
		subs:    make(map[service.CosmosEventKey]context.CancelFunc),
		eventsQ: eventsQ,
		Events:  eventsQ.Out(),
	}
}

func (c *Client) connFor(endpoint string) (*cmthttp.HTTP, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cl, ok := c.clients[endpoint]; ok {
		return cl, nil
	}
	cl, err := cmthttp.New(endpoint, "/websocket")
	if err != nil {
		return nil, fmt.Errorf("cosmosclient: create rpc client for %s: %w", endpoint, err)
	}
	if err := cl.Start(); err != nil {
		return nil, fmt.Errorf("cosmosclient: start rpc client for %s: %w", endpoint, err)
	}
	c.clients[endpoint] = cl
	return cl, nil
}

// wasmEventQuery builds the CometBFT event-subscription query matching
// wasm contract events emitted by address for the given event type.
func wasmEventQuery(address, eventType string) string {
	return fmt.Sprintf("tm.event='Tx' AND wasm._contract_address='%s' AND wasm.action='%s'", address, eventType)
}

// Subscribe opens (or reuses) the connection to endpoint and starts
// forwarding matched events for key onto c.Events. Re-subscribing an
// already-active key is a no-op.
func (c *Client) Subscribe(ctx context.Context, endpoint string, key service.CosmosEventKey) error {
	c.mu.Lock()
	if _, active := c.subs[key]; active {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	cl, err := c.connFor(endpoint)
	if err != nil {
		return err
	}

	subCtx, cancel := context.WithCancel(ctx)
	query := wasmEventQuery(key.Address, key.EventType)
	out, err := cl.Subscribe(subCtx, subscriberName(key), query)
	if err != nil {
		cancel()
		return fmt.Errorf("cosmosclient: subscribe %q: %w", query, err)
	}

	c.mu.Lock()
	c.subs[key] = cancel
	c.mu.Unlock()

	go c.forward(subCtx, key, out)
	return nil
}

// Unsubscribe tears down the subscription for key, if any.
func (c *Client) Unsubscribe(key service.CosmosEventKey) {
	c.mu.Lock()
	cancel, ok := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func subscriberName(key service.CosmosEventKey) string {
	return fmt.Sprintf("operator-%s-%s-%s", key.Chain, key.Address, key.EventType)
}

func (c *Client) forward(ctx context.Context, key service.CosmosEventKey, out <-chan coretypes.ResultEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-out:
			if !ok {
				return
			}
			raw, err := encodeResultEvent(res)
			if err != nil {
				c.logger.Warn("failed to encode cosmos event", zap.Error(err))
				continue
			}
			c.eventsQ.Send(Event{Key: key, Data: raw})
		}
	}
}

// Close stops every underlying RPC client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, cancel := range c.subs {
		cancel()
	}
	c.subs = make(map[service.CosmosEventKey]context.CancelFunc)
	for endpoint, cl := range c.clients {
		if err := cl.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("cosmosclient: stop %s: %w", endpoint, err)
		}
	}
	c.clients = make(map[string]*cmthttp.HTTP)
	return firstErr
}
