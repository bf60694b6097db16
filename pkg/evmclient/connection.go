package evmclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wavsnet/operator/pkg/oplog"
)

// Config configures a Client's candidate endpoints and reconnect
// behavior.
type Config struct {
	// Endpoints is the ordered list of candidate websocket endpoints;
	// Priority is the index of the one the supervisor dials first. After
	// a failed dial or a dropped connection it moves on to the next
	// endpoint in list order, wrapping around.
	Endpoints []string
	Priority  int

	BackoffBase time.Duration
	BackoffMax  time.Duration
}

func (c Config) withDefaults() Config {
	if c.BackoffBase == 0 {
		c.BackoffBase = 250 * time.Millisecond
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
	return c
}

// Client is the connection supervisor: it maintains exactly one active
// websocket at a time, cycling through candidate endpoints with backoff
// on disconnect, and drives a Machine's subscription bookkeeping across
// reconnects (spec §4.D.1/5).
type Client struct {
	cfg    Config
	logger *oplog.Scoped
	mach   *Machine

	blocksQ     *unboundedQueue[*types.Header]
	logsQ       *unboundedQueue[types.Log]
	pendingTxsQ *unboundedQueue[string]

	// Blocks, Logs, and PendingTxs are dedicated, effectively unbounded
	// delivery channels (backed by blocksQ/logsQ/pendingTxsQ): a burst of
	// events never drops one on the floor the way a fixed-capacity
	// buffered channel would (spec §4.F/§5).
	Blocks     <-chan *types.Header
	Logs       <-chan types.Log
	PendingTxs <-chan string

	mu   sync.Mutex
	conn *websocket.Conn

	desiredLogFilter LogFilter
}

// NewClient constructs a Client. Call Run to start the supervisor loop.
func NewClient(cfg Config, logger *oplog.Scoped) *Client {
	cfg = cfg.withDefaults()
	blocksQ := newUnboundedQueue[*types.Header]()
	logsQ := newUnboundedQueue[types.Log]()
	pendingTxsQ := newUnboundedQueue[string]()
	return &Client{
		cfg:         cfg,
		logger:      logger,
		mach:        NewMachine(),
		blocksQ:     blocksQ,
		logsQ:       logsQ,
		pendingTxsQ: pendingTxsQ,
		Blocks:      blocksQ.Out(),
		Logs:        logsQ.Out(),
		PendingTxs:  pendingTxsQ.Out(),
	}
}

// EnableLogs, DisableLogs, EnableBlocks, DisableBlocks,
// EnablePendingTransactions, DisablePendingTransactions toggle the
// desired subscription set; actions are sent immediately if connected.
func (c *Client) EnableLogs(f LogFilter) { c.apply(c.mach.EnableLogs(f)) }
func (c *Client) DisableLogs()           { c.apply(c.mach.DisableLogs()) }
func (c *Client) EnableBlocks()          { c.apply(c.mach.EnableBlocks()) }
func (c *Client) DisableBlocks()         { c.apply(c.mach.DisableBlocks()) }
func (c *Client) EnablePendingTransactions() {
	c.apply(c.mach.EnablePendingTransactions())
}
func (c *Client) DisablePendingTransactions() {
	c.apply(c.mach.DisablePendingTransactions())
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcFrame struct {
	ID     *uint64         `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Method string `json:"method,omitempty"`
	Params *struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params,omitempty"`
}

func (c *Client) apply(actions []Action) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return // queued implicitly: Machine will replay desired state on the next Connected edge
	}
	for _, a := range actions {
		c.send(conn, a)
	}
}

func (c *Client) send(conn *websocket.Conn, a Action) {
	var req rpcRequest
	req.JSONRPC = "2.0"
	req.ID = uint64(a.RpcID)
	switch a.Kind {
	case ActionSubscribe:
		switch a.SubKind {
		case KindBlocks:
			req.Method = "eth_subscribe"
			req.Params = []interface{}{"newHeads"}
		case KindPendingTransactions:
			req.Method = "eth_subscribe"
			req.Params = []interface{}{"newPendingTransactions"}
		case KindLogs:
			req.Method = "eth_subscribe"
			req.Params = []interface{}{"logs", map[string]interface{}{
				"address": a.Filter.Addresses,
				"topics":  a.Filter.Topics,
			}}
		}
	case ActionUnsubscribe:
		req.Method = "eth_unsubscribe"
		req.Params = []interface{}{string(a.Unsub)}
	}
	if err := conn.WriteJSON(req); err != nil {
		c.logger.Warn("failed to send subscription rpc", zap.Error(err), zap.String("method", req.Method))
	}
}

// Run drives the connection supervisor until ctx is canceled, cycling
// through candidate endpoints with backoff whenever the current one
// drops.
func (c *Client) Run(ctx context.Context) error {
	if len(c.cfg.Endpoints) == 0 {
		return fmt.Errorf("evmclient: no candidate endpoints configured")
	}
	idx := c.cfg.Priority % len(c.cfg.Endpoints)
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		endpoint := c.cfg.Endpoints[idx]
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
		if err != nil {
			c.logger.Warn("dial failed, advancing to next endpoint", zap.String("endpoint", endpoint), zap.Error(err))
			idx = (idx + 1) % len(c.cfg.Endpoints)
			attempt++
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(attempt, c.cfg.BackoffBase, c.cfg.BackoffMax)):
			}
			continue
		}

		c.logger.Info("connected", zap.String("endpoint", endpoint))
		attempt = 0
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		actions := c.mach.SetConnected(true)
		c.apply(actions)

		err = c.readLoop(ctx, conn)

		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.mach.SetConnected(false)
		conn.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("connection dropped, failing over", zap.String("endpoint", endpoint), zap.Error(err))
		idx = (idx + 1) % len(c.cfg.Endpoints)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var frame rpcFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		c.routeFrame(frame)
	}
}

func (c *Client) routeFrame(frame rpcFrame) {
	if frame.ID != nil {
		c.routeResponse(RpcID(*frame.ID), frame.Result, frame.Error)
		return
	}
	if frame.Method == "eth_subscription" && frame.Params != nil {
		c.routeSubscriptionEvent(SubID(frame.Params.Subscription), frame.Params.Result)
	}
}

func (c *Client) routeResponse(id RpcID, result json.RawMessage, rpcErr *struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}) {
	kind, ok := c.mach.PendingActionKind(id)
	if !ok {
		return // not ours, or already resolved
	}
	if rpcErr != nil {
		c.logger.Warn("rpc error response", zap.Uint64("id", uint64(id)), zap.String("message", rpcErr.Message))
		return
	}

	switch kind {
	case ActionSubscribe:
		var subID string
		if err := json.Unmarshal(result, &subID); err != nil {
			c.logger.Warn("malformed subscribe ack", zap.Error(err))
			return
		}
		c.apply(c.mach.OnSubscribeAck(id, SubID(subID)))
	case ActionUnsubscribe:
		var ok bool
		if err := json.Unmarshal(result, &ok); err != nil {
			c.logger.Warn("malformed unsubscribe ack", zap.Error(err))
			return
		}
		c.apply(c.mach.OnUnsubscribeAck(id, ok))
	}
}

func (c *Client) routeSubscriptionEvent(subID SubID, result json.RawMessage) {
	kind, ok := c.mach.KindForSubscription(subID)
	if !ok {
		c.logger.Debug("dropping event for unknown subscription", zap.String("sub_id", string(subID)))
		return
	}
	switch kind {
	case KindBlocks:
		var header types.Header
		if err := json.Unmarshal(result, &header); err != nil {
			c.logger.Warn("malformed newHeads event", zap.Error(err))
			return
		}
		c.blocksQ.Send(&header)
	case KindLogs:
		var l types.Log
		if err := json.Unmarshal(result, &l); err != nil {
			c.logger.Warn("malformed logs event", zap.Error(err))
			return
		}
		c.logsQ.Send(l)
	case KindPendingTransactions:
		var hash string
		if err := json.Unmarshal(result, &hash); err != nil {
			return
		}
		c.pendingTxsQ.Send(hash)
	}
}
