package submission

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/wavsnet/operator/pkg/kv"
	"github.com/wavsnet/operator/pkg/oplog"
	"github.com/wavsnet/operator/pkg/service"
)

var (
	errPostFatal     = errors.New("submission: aggregator rejected envelope (fatal)")
	errPostRetryable = errors.New("submission: aggregator post failed (retryable)")
)

const (
	baseBackoff  = 500 * time.Millisecond
	maxBackoff   = 5 * time.Minute
	maxAttempts  = 8
	failureTable = "submission_failures"
)

// SubmissionFailure is the dead-letter record persisted once retries
// are exhausted or a POST returns a fatal status, grounded on the
// reference engine's invoke.go DLQMessage shape, retargeted at
// ChainMessages instead of function invocations.
type SubmissionFailure struct {
	ServiceID  service.ID         `json:"service_id"`
	WorkflowID service.WorkflowID `json:"workflow_id"`
	EventID    string             `json:"event_id"`
	Error      string             `json:"error"`
	FailedAt   time.Time          `json:"failed_at"`
}

// Worker drives the per-ChainMessage state machine
// Received → Signed → Posted(ok|retryable_err|fatal_err) described in
// spec §4.I.
type Worker struct {
	vault      *KeyVault
	aggregator *AggregatorClient
	failures   kv.Table[SubmissionFailure]
	logger     *oplog.Scoped
}

// NewWorker constructs a Worker backed by store for its DLQ table.
func NewWorker(vault *KeyVault, aggregator *AggregatorClient, store kv.Store, logger *oplog.Scoped) *Worker {
	return &Worker{
		vault:      vault,
		aggregator: aggregator,
		failures:   kv.NewTable[SubmissionFailure](store, failureTable),
		logger:     logger,
	}
}

// Submit signs msg and posts it to its configured aggregator, retrying
// retryable failures with bounded exponential backoff and falling back
// to the dead-letter table on exhaustion or a fatal response. Since the
// aggregator is responsible for deduplication via event_id, at-least-
// once delivery (and a caller that retries Submit itself) is acceptable
// per spec.
func (w *Worker) Submit(ctx context.Context, msg service.ChainMessage) error {
	key, hdIndex, err := w.vault.SignerFor(string(msg.ServiceID))
	if err != nil {
		return err
	}
	req, err := BuildEnvelope(msg, key, hdIndex)
	if err != nil {
		w.recordFailure(msg, err)
		return err
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		outcome, err := w.aggregator.submit(ctx, msg.AggregatorURL, req)
		if err == nil && outcome == postOK {
			return nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fatalOrRetryableError(outcome)
		}

		if outcome == postFatal {
			w.logger.Error("submission fatal", zap.String("service_id", string(msg.ServiceID)), zap.String("event_id", req.EventID.Hex()), zap.Error(lastErr))
			w.recordFailure(msg, lastErr)
			return lastErr
		}

		w.logger.Warn("submission retry", zap.String("service_id", string(msg.ServiceID)), zap.Int("attempt", attempt+1), zap.Error(lastErr))

		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoffDelay(attempt)):
			}
		}
	}

	w.logger.Error("submission exhausted retries", zap.String("service_id", string(msg.ServiceID)), zap.Error(lastErr))
	w.recordFailure(msg, lastErr)
	return lastErr
}

func fatalOrRetryableError(outcome postOutcome) error {
	if outcome == postFatal {
		return errPostFatal
	}
	return errPostRetryable
}

func (w *Worker) recordFailure(msg service.ChainMessage, cause error) {
	rec := SubmissionFailure{
		ServiceID:  msg.ServiceID,
		WorkflowID: msg.WorkflowID,
		EventID:    msg.EventID.Hex(),
		Error:      cause.Error(),
		FailedAt:   time.Now(),
	}
	if err := w.failures.Set([]byte(msg.EventID.Hex()), rec); err != nil {
		w.logger.Error("failed to persist submission failure", zap.Error(err))
	}
}

// backoffDelay implements exponential backoff doubling from baseBackoff,
// capped at maxBackoff, with ±20% jitter — grounded on
// pkg/rqlite/rqlite.go's exponentialBackoff.
func backoffDelay(attempt int) time.Duration {
	delay := baseBackoff * time.Duration(1<<uint(attempt))
	if delay > maxBackoff {
		delay = maxBackoff
	}
	jitter := time.Duration(float64(delay) * 0.2 * (2*rand.Float64() - 1))
	return delay + jitter
}
