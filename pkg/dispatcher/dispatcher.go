// Package dispatcher implements Component H: service ingress/egress,
// on-chain URI fetch and diff, and trigger (re)registration, grounded on
// the node codebase's pkg/serverless/registry.go + invoke.go
// orchestration shape generalized from "deploy function, invoke it over
// HTTP" to "register a service, let the trigger manager run it".
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wavsnet/operator/pkg/blobstore"
	"github.com/wavsnet/operator/pkg/digest"
	"github.com/wavsnet/operator/pkg/oplog"
	"github.com/wavsnet/operator/pkg/service"
	"github.com/wavsnet/operator/pkg/trigger"
)

// maxReconcileInFlight bounds startup reconciliation concurrency per
// spec §4.H.
const maxReconcileInFlight = 10

// Dispatcher owns the service registry and orchestrates the trigger
// manager and the blob store on add/remove/change.
type Dispatcher struct {
	registry *service.Registry
	triggers *trigger.Manager
	blobs    blobstore.Store
	appData  *blobstore.AppDataStore
	fetcher  URIFetcher
	manager  ManagerQuerier
	logger   *oplog.Scoped
}

// New constructs a Dispatcher. appData may be nil, in which case
// RemoveService skips per-service filesystem cleanup (used by tests
// that don't exercise the file_system capability).
func New(registry *service.Registry, triggers *trigger.Manager, blobs blobstore.Store, appData *blobstore.AppDataStore, fetcher URIFetcher, manager ManagerQuerier, logger *oplog.Scoped) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		triggers: triggers,
		blobs:    blobs,
		appData:  appData,
		fetcher:  fetcher,
		manager:  manager,
		logger:   logger,
	}
}

// AddService queries manager.getServiceURI(), fetches the service JSON
// from the resolved URI, stores referenced component blobs, persists the
// service, and registers its triggers (spec §4.H's add_service).
func (d *Dispatcher) AddService(ctx context.Context, manager service.Manager) (digest.Digest, error) {
	uri, err := d.manager.GetServiceURI(ctx, manager)
	if err != nil {
		return digest.Digest{}, fmt.Errorf("dispatcher: resolve service uri: %w", err)
	}
	svc, err := d.fetchService(ctx, uri)
	if err != nil {
		return digest.Digest{}, err
	}
	return d.addFetchedService(ctx, svc)
}

func (d *Dispatcher) fetchService(ctx context.Context, uri string) (service.Service, error) {
	raw, err := d.fetcher.Fetch(ctx, uri)
	if err != nil {
		return service.Service{}, fmt.Errorf("dispatcher: fetch service json from %s: %w", uri, err)
	}
	var svc service.Service
	if err := json.Unmarshal(raw, &svc); err != nil {
		return service.Service{}, fmt.Errorf("dispatcher: decode service json from %s: %w", uri, err)
	}
	return svc, nil
}

func (d *Dispatcher) addFetchedService(ctx context.Context, svc service.Service) (digest.Digest, error) {
	if err := d.storeComponents(ctx, svc); err != nil {
		return digest.Digest{}, err
	}
	id, err := d.registry.Add(svc)
	if err != nil {
		return digest.Digest{}, err
	}
	d.registerTriggers(id, svc)
	d.logger.Info("service added", zap.String("service_id", id.Hex()), zap.String("name", svc.Name))
	return id, nil
}

func (d *Dispatcher) storeComponents(ctx context.Context, svc service.Service) error {
	for componentID, comp := range svc.Components {
		if _, err := resolveComponent(ctx, d.blobs, d.fetcher, comp); err != nil {
			return fmt.Errorf("dispatcher: resolve component %q: %w", componentID, err)
		}
	}
	return nil
}

func (d *Dispatcher) registerTriggers(id digest.Digest, svc service.Service) {
	now := time.Now()
	for workflowID, wf := range svc.Workflows {
		cfg := service.TriggerConfig{ServiceID: id.Hex(), WorkflowID: workflowID, Trigger: wf.Trigger}
		if _, err := d.triggers.AddTrigger(cfg, now); err != nil {
			d.logger.Warn("failed to register trigger", zap.String("service_id", id.Hex()), zap.String("workflow_id", workflowID), zap.String("error", err.Error()))
		}
	}
}

// RemoveService removes the registry entry and drops every trigger
// registered for it. It is idempotent: removing an absent id is not an
// error (spec §4.H's remove_service).
func (d *Dispatcher) RemoveService(id digest.Digest) error {
	if err := d.registry.Remove(id); err != nil {
		return err
	}
	d.triggers.RemoveService(id.Hex())
	if d.appData != nil {
		if err := d.appData.RemoveService(id.Hex()); err != nil {
			d.logger.Warn("failed to remove app data", zap.String("service_id", id.Hex()), zap.Error(err))
		}
	}
	d.logger.Info("service removed", zap.String("service_id", id.Hex()))
	return nil
}

// ChangeService fetches the replacement service from uri, asserts its
// id equals id, and performs an atomic replace: new components are
// stored before the old service/triggers are touched, so there is no
// await-gap where a trigger could fire with a service whose components
// are missing (spec §4.H's change_service).
func (d *Dispatcher) ChangeService(ctx context.Context, id digest.Digest, uri string) error {
	newSvc, err := d.fetchService(ctx, uri)
	if err != nil {
		return err
	}
	return d.changeServiceInner(ctx, id, newSvc)
}

func (d *Dispatcher) changeServiceInner(ctx context.Context, id digest.Digest, newSvc service.Service) error {
	if err := d.storeComponents(ctx, newSvc); err != nil {
		return err
	}
	if err := d.registry.Replace(id, newSvc); err != nil {
		return err
	}
	// Re-register triggers under the same service id (same signer
	// hd-index at the submission layer, which derives solely from id).
	d.triggers.RemoveService(id.Hex())
	d.registerTriggers(id, newSvc)
	d.logger.Info("service changed", zap.String("service_id", id.Hex()))
	return nil
}

// Reconcile re-queries every persisted service's on-chain URI and
// applies changeServiceInner when the fetched hash differs, bounded to
// maxReconcileInFlight concurrent operations (spec §4.H's startup
// reconciliation).
func (d *Dispatcher) Reconcile(ctx context.Context) error {
	services, err := d.registry.List("", "")
	if err != nil {
		return fmt.Errorf("dispatcher: list services: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxReconcileInFlight)

	for _, svc := range services {
		svc := svc
		g.Go(func() error {
			return d.reconcileOne(gctx, svc)
		})
	}
	return g.Wait()
}

func (d *Dispatcher) reconcileOne(ctx context.Context, svc service.Service) error {
	id, err := svc.ID()
	if err != nil {
		return err
	}
	uri, err := d.manager.GetServiceURI(ctx, svc.Manager)
	if err != nil {
		d.logger.Warn("reconcile: failed to resolve service uri", zap.String("service_id", id.Hex()), zap.String("error", err.Error()))
		return nil
	}
	fresh, err := d.fetchService(ctx, uri)
	if err != nil {
		d.logger.Warn("reconcile: failed to fetch service", zap.String("service_id", id.Hex()), zap.String("error", err.Error()))
		return nil
	}
	freshID, err := fresh.ID()
	if err != nil {
		return err
	}
	if freshID.Equal(id) {
		return nil
	}
	return d.changeServiceInner(ctx, id, fresh)
}
