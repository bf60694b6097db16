package submission

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/wavsnet/operator/pkg/digest"
	"github.com/wavsnet/operator/pkg/kv"
	"github.com/wavsnet/operator/pkg/oplog"
	"github.com/wavsnet/operator/pkg/service"
)

func testLogger() *oplog.Scoped {
	return oplog.New(zapcore.AddSync(io.Discard), false).With(oplog.ComponentSubmission)
}

func testMessage(aggregatorURL string) service.ChainMessage {
	data := service.TriggerData{Kind: service.DataManual, ManualPayload: []byte("hello")}
	eventID, _ := service.ComputeEventID(data, nil)
	return service.ChainMessage{
		ServiceID:     "svc-a",
		WorkflowID:    "wf-a",
		TriggerData:   data,
		WasmResult:    service.WasmResponse{Payload: []byte("hello")},
		EventID:       eventID,
		AggregatorURL: aggregatorURL,
	}
}

func TestWorkerSubmitSucceedsOnFirstAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req SubmitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, service.ID("svc-a"), req.Envelope.ServiceID)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := kv.NewMemStore()
	vault, err := NewKeyVault(testSeed(), store)
	require.NoError(t, err)
	worker := NewWorker(vault, NewAggregatorClient(), store, testLogger())

	err = worker.Submit(context.Background(), testMessage(srv.URL))
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestWorkerSubmitDropsToDLQOnFatalStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	store := kv.NewMemStore()
	vault, err := NewKeyVault(testSeed(), store)
	require.NoError(t, err)
	worker := NewWorker(vault, NewAggregatorClient(), store, testLogger())

	msg := testMessage(srv.URL)
	err = worker.Submit(context.Background(), msg)
	require.Error(t, err)

	rec, err := worker.failures.Get([]byte(msg.EventID.Hex()))
	require.NoError(t, err)
	require.Equal(t, msg.EventID.Hex(), rec.EventID)
}

func TestWorkerSubmitRetriesOnRetryableStatusThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := kv.NewMemStore()
	vault, err := NewKeyVault(testSeed(), store)
	require.NoError(t, err)
	worker := NewWorker(vault, NewAggregatorClient(), store, testLogger())

	err = worker.Submit(context.Background(), testMessage(srv.URL))
	require.NoError(t, err)
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestBuildEnvelopeRejectsMismatchedEventID(t *testing.T) {
	store := kv.NewMemStore()
	vault, err := NewKeyVault(testSeed(), store)
	require.NoError(t, err)
	key, idx, err := vault.SignerFor("svc-a")
	require.NoError(t, err)

	msg := testMessage("https://example.test")
	msg.EventID = digest.Of([]byte("wrong"))

	_, err = BuildEnvelope(msg, key, idx)
	require.Error(t, err)
}
