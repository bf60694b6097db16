package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wavsnet/operator/pkg/engine/hostcaps"
	"github.com/wavsnet/operator/pkg/service"
)

// httpFetchReq is the wire shape a guest sends to the http_fetch host
// function, adapted from the node codebase's hHTTPFetch JSON argument
// convention.
type httpFetchReq struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Host    string            `json:"host"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    []byte            `json:"body,omitempty"`
}

type httpFetchResp struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

func httpFetchRequest(ctx context.Context, caps *hostcaps.Caps, raw []byte) ([]byte, error) {
	var req httpFetchReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("engine: decode http_fetch request: %w", err)
	}
	body, status, err := caps.HTTPFetch(ctx, req.Method, req.URL, req.Host, req.Headers, req.Body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(httpFetchResp{Status: status, Body: body})
}

// chainQueryReq is the wire shape a guest sends to the chain_query host
// function.
type chainQueryReq struct {
	Chain  service.ChainKey `json:"chain"`
	Method string           `json:"method"`
	Params []byte           `json:"params,omitempty"`
}

func chainQueryRequest(ctx context.Context, caps *hostcaps.Caps, raw []byte) ([]byte, error) {
	var req chainQueryReq
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("engine: decode chain_query request: %w", err)
	}
	return caps.ChainQuery(ctx, req.Chain, req.Method, req.Params)
}
