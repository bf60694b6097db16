package evmclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestUnboundedQueuePreservesFIFOOrder(t *testing.T) {
	q := newUnboundedQueue[int]()
	for i := 0; i < 5; i++ {
		q.Send(i)
	}
	for i := 0; i < 5; i++ {
		select {
		case v := <-q.Out():
			require.Equal(t, i, v)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for value %d", i)
		}
	}
}

// TestUnboundedQueueAcceptsBurstsFasterThanItDrains asserts that Send
// never blocks on a slow consumer: every value sent before Out() is
// drained at all is still delivered, none dropped.
func TestUnboundedQueueAcceptsBurstsFasterThanItDrains(t *testing.T) {
	q := newUnboundedQueue[int]()
	const n = 10_000

	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			q.Send(i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sends blocked on a slow/absent consumer")
	}

	for i := 0; i < n; i++ {
		select {
		case v := <-q.Out():
			require.Equal(t, i, v)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out draining value %d", i)
		}
	}
}

func TestUnboundedQueueDrainsBufferedValuesAfterClose(t *testing.T) {
	q := newUnboundedQueue[int]()
	q.Send(1)
	q.Send(2)
	q.Close()

	got := make([]int, 0, 2)
	for v := range q.Out() {
		got = append(got, v)
	}
	require.Equal(t, []int{1, 2}, got)
}
