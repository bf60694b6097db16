package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wavsnet/operator/pkg/operrs"
)

// postOutcome classifies the result of one aggregator POST, following
// spec §4.I's "2xx = accepted, 4xx non-throttle = fatal, 5xx/429 =
// retryable" rule.
type postOutcome int

const (
	postOK postOutcome = iota
	postRetryable
	postFatal
)

// AggregatorClient is the HTTP client for the two aggregator endpoints
// (spec §5's wire protocol), grounded on the reference engine's plain
// net/http usage in pkg/serverless/hostfunctions' outbound fetch path.
type AggregatorClient struct {
	client *http.Client
}

// NewAggregatorClient constructs an AggregatorClient with a bounded
// per-request timeout.
func NewAggregatorClient() *AggregatorClient {
	return &AggregatorClient{client: &http.Client{Timeout: 15 * time.Second}}
}

// RegisterService POSTs {"service_id": id} to "{aggregatorURL}/register-service".
func (c *AggregatorClient) RegisterService(ctx context.Context, aggregatorURL, serviceID string) error {
	body, err := json.Marshal(struct {
		ServiceID string `json:"service_id"`
	}{serviceID})
	if err != nil {
		return err
	}
	_, err = c.post(ctx, aggregatorURL+"/register-service", body)
	return err
}

// submit POSTs req to "{aggregatorURL}/submit" and classifies the
// result.
func (c *AggregatorClient) submit(ctx context.Context, aggregatorURL string, req SubmitRequest) (postOutcome, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return postFatal, fmt.Errorf("submission: encode submit request: %w", err)
	}
	status, err := c.post(ctx, aggregatorURL+"/submit", body)
	if err != nil {
		return postRetryable, err
	}
	return classifyStatus(status), nil
}

func (c *AggregatorClient) post(ctx context.Context, url string, body []byte) (int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("submission: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return 0, &operrs.TransientError{Op: "aggregator_post", Cause: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func classifyStatus(status int) postOutcome {
	switch {
	case status >= 200 && status < 300:
		return postOK
	case status == http.StatusTooManyRequests:
		return postRetryable
	case status >= 500:
		return postRetryable
	case status >= 400:
		return postFatal
	default:
		return postRetryable
	}
}
