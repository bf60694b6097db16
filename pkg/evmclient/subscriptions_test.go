package evmclient_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wavsnet/operator/pkg/evmclient"
)

func TestEnableBlocksSendsSingleSubscribe(t *testing.T) {
	m := evmclient.NewMachine()
	actions := m.EnableBlocks()
	require.Len(t, actions, 1)
	require.Equal(t, evmclient.ActionSubscribe, actions[0].Kind)
	require.Equal(t, evmclient.KindBlocks, actions[0].SubKind)

	// A second enable while still in flight must not duplicate intent.
	actions = m.EnableBlocks()
	require.Empty(t, actions)
}

func TestSubscribeAckActivates(t *testing.T) {
	m := evmclient.NewMachine()
	actions := m.EnableBlocks()
	id := actions[0].RpcID

	actions = m.OnSubscribeAck(id, "0xsub1")
	require.Empty(t, actions)

	subID, active := m.ActiveSubscriptionID(evmclient.KindBlocks)
	require.True(t, active)
	require.Equal(t, evmclient.SubID("0xsub1"), subID)
}

func TestLateUnsubscribeOnLand(t *testing.T) {
	m := evmclient.NewMachine()
	actions := m.EnableBlocks()
	id := actions[0].RpcID

	// Disable while the subscribe is still in flight.
	disableActions := m.DisableBlocks()
	require.Empty(t, disableActions, "nothing to send yet, no wire request to cancel")

	// Ack arrives for the now-unwanted subscription.
	actions = m.OnSubscribeAck(id, "0xsub1")
	require.Len(t, actions, 1)
	require.Equal(t, evmclient.ActionUnsubscribe, actions[0].Kind)
	require.Equal(t, evmclient.SubID("0xsub1"), actions[0].Unsub)

	// It must never have been entered as active.
	_, active := m.ActiveSubscriptionID(evmclient.KindBlocks)
	require.False(t, active)
}

func TestDisconnectClearsActiveAndReconnectResubscribesOnce(t *testing.T) {
	m := evmclient.NewMachine()
	actions := m.EnableBlocks()
	id := actions[0].RpcID
	m.OnSubscribeAck(id, "0xsub1")

	_, active := m.ActiveSubscriptionID(evmclient.KindBlocks)
	require.True(t, active)

	// Disconnect clears it.
	none := m.SetConnected(false)
	require.Empty(t, none)
	_, active = m.ActiveSubscriptionID(evmclient.KindBlocks)
	require.False(t, active)

	// Reconnect resubscribes exactly once.
	actions = m.SetConnected(true)
	require.Len(t, actions, 1)
	require.Equal(t, evmclient.ActionSubscribe, actions[0].Kind)
	require.Equal(t, evmclient.KindBlocks, actions[0].SubKind)
}

func TestLogsFilterChangeForcesResubscribe(t *testing.T) {
	m := evmclient.NewMachine()
	f1 := evmclient.LogFilter{Addresses: []string{"0xA"}}
	actions := m.EnableLogs(f1)
	require.Len(t, actions, 1)
	id := actions[0].RpcID
	m.OnSubscribeAck(id, "0xsub-logs-1")

	f2 := evmclient.LogFilter{Addresses: []string{"0xB"}}
	actions = m.EnableLogs(f2)
	require.NotEmpty(t, actions)
	require.Equal(t, evmclient.ActionUnsubscribe, actions[0].Kind)
}

func TestMismatchedSubscriptionEventIsDropped(t *testing.T) {
	m := evmclient.NewMachine()
	_, ok := m.KindForSubscription("never-seen")
	require.False(t, ok)
}
