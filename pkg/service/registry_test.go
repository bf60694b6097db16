package service_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wavsnet/operator/pkg/kv"
	"github.com/wavsnet/operator/pkg/operrs"
	"github.com/wavsnet/operator/pkg/service"
)

func echoService(name string) service.Service {
	return service.Service{
		Manager: service.Manager{Chain: service.ChainKey{Namespace: service.NamespaceEVM, ID: "anvil"}, Address: "0xA"},
		Name:    name,
		Components: map[string]service.Component{
			"echo": {
				EnvKeys: []string{},
				Config:  map[string]string{},
			},
		},
		Workflows: map[string]service.Workflow{
			"main": {
				Trigger: service.Trigger{
					Kind:      service.TriggerEvmContractEvent,
					Chain:     service.ChainKey{Namespace: service.NamespaceEVM, ID: "anvil"},
					Address:   "0xA",
					EventHash: "0xdead",
				},
				Component: "echo",
				Submit:    service.Submit{Kind: service.SubmitNone},
			},
		},
		Status: service.StatusActive,
	}
}

func TestRegistryAddGetRemove(t *testing.T) {
	reg := service.NewRegistry(kv.NewMemStore())
	svc := echoService("echo-service")

	id, err := reg.Add(svc)
	require.NoError(t, err)

	_, err = reg.Add(svc)
	require.ErrorIs(t, err, operrs.ErrServiceExists)

	got, err := reg.Get(id)
	require.NoError(t, err)
	require.Equal(t, svc.Name, got.Name)

	require.NoError(t, reg.Remove(id))
	_, err = reg.Get(id)
	require.ErrorIs(t, err, operrs.ErrServiceNotFound)
}

func TestRegistryRejectsDanglingWorkflowComponent(t *testing.T) {
	reg := service.NewRegistry(kv.NewMemStore())
	svc := echoService("broken")
	svc.Workflows["main"] = service.Workflow{Component: "does-not-exist"}

	_, err := reg.Add(svc)
	require.Error(t, err)
}

func TestRegistryReplaceRequiresMatchingID(t *testing.T) {
	reg := service.NewRegistry(kv.NewMemStore())
	svc := echoService("echo-service")
	id, err := reg.Add(svc)
	require.NoError(t, err)

	other := echoService("different-name")
	err = reg.Replace(id, other)
	require.ErrorIs(t, err, operrs.ErrIDMismatch)
}

func TestIdenticalServicesHaveIdenticalID(t *testing.T) {
	a := echoService("same")
	b := echoService("same")

	idA, err := a.ID()
	require.NoError(t, err)
	idB, err := b.ID()
	require.NoError(t, err)
	require.True(t, idA.Equal(idB))
}
