package dispatcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// URIFetcher resolves a service URI (http(s):// or ipfs://, spec §4.H)
// to its bytes.
type URIFetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// HTTPFetcher fetches http(s):// URIs directly and ipfs:// URIs by
// rewriting them onto an HTTP gateway, the way the node codebase's own
// `hostfunctions/http.go` builds a plain `net/http` request and reads
// the body whole.
type HTTPFetcher struct {
	client      *http.Client
	ipfsGateway string
}

// NewHTTPFetcher constructs an HTTPFetcher. ipfsGateway is the base URL
// (e.g. "https://ipfs.io/ipfs/") an ipfs://<cid>/<path> URI is rewritten
// onto.
func NewHTTPFetcher(ipfsGateway string) *HTTPFetcher {
	return &HTTPFetcher{
		client:      &http.Client{Timeout: 30 * time.Second},
		ipfsGateway: ipfsGateway,
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	resolved := uri
	if strings.HasPrefix(uri, "ipfs://") {
		if f.ipfsGateway == "" {
			return nil, fmt.Errorf("dispatcher: no ipfs gateway configured to resolve %s", uri)
		}
		resolved = strings.TrimRight(f.ipfsGateway, "/") + "/" + strings.TrimPrefix(uri, "ipfs://")
	} else if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return nil, fmt.Errorf("dispatcher: unsupported service uri scheme: %s", uri)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: build request for %s: %w", resolved, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: fetch %s: %w", resolved, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("dispatcher: fetch %s: status %d", resolved, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: read body from %s: %w", resolved, err)
	}
	return body, nil
}
