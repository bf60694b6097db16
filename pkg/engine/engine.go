// Package engine implements Component G: a fuel/time-bounded wazero
// execution engine wrapping a compiled-module cache and a sealed
// host-capability bag, grounded on the node codebase's
// pkg/serverless/engine.go (runtime setup, host module registration,
// timeout handling) generalized from "deploy function, call over HTTP"
// to "run a WASM component against one matched TriggerAction".
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wavsnet/operator/pkg/blobstore"
	"github.com/wavsnet/operator/pkg/digest"
	"github.com/wavsnet/operator/pkg/engine/cache"
	"github.com/wavsnet/operator/pkg/engine/execution"
	"github.com/wavsnet/operator/pkg/engine/hostcaps"
	"github.com/wavsnet/operator/pkg/operrs"
	"github.com/wavsnet/operator/pkg/service"
)

const (
	defaultTimeLimitSeconds = 30
	defaultFuelLimit        = 10_000
)

// Engine compiles, caches, and executes components against matched
// triggers.
type Engine struct {
	runtime  wazero.Runtime
	cache    *cache.ModuleCache
	executor *execution.Executor
	blobs    blobstore.Store
	logger   *zap.Logger

	statsMu sync.Mutex
	stats   map[string]*ComponentStats
}

// ComponentStats tallies guest faults for one service, per spec §5's
// supplemented fault-counter feature.
type ComponentStats struct {
	Invocations int64
	Compile     int64
	Fuel        int64
	Time        int64
	Trap        int64
}

// New constructs an Engine. moduleCacheSize bounds the number of
// compiled modules kept resident.
func New(blobs blobstore.Store, moduleCacheSize int, logger *zap.Logger) (*Engine, error) {
	ctx := context.Background()
	runtimeConfig := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return nil, fmt.Errorf("engine: instantiate WASI: %w", err)
	}

	return &Engine{
		runtime:  runtime,
		cache:    cache.NewModuleCache(moduleCacheSize, logger),
		executor: execution.NewExecutor(runtime, logger),
		blobs:    blobs,
		logger:   logger,
		stats:    make(map[string]*ComponentStats),
	}, nil
}

// Execute runs comp (whose WASM bytes live in the blob store under d)
// against action, scoping host capabilities to caps, and returns every
// WasmResponse the guest produced — one guest invocation may emit
// several, each destined for its own submission (spec §4.G). The
// component's fuel_limit becomes caps.Budget's allowance; the caller is
// expected to have constructed caps with a Budget sized from
// comp.FuelLimit.
func (e *Engine) Execute(ctx context.Context, serviceID string, d digest.Digest, comp service.Component, action service.TriggerAction, caps *hostcaps.Caps) ([]service.WasmResponse, error) {
	st := e.statsFor(serviceID)
	e.bump(&st.Invocations)

	compiled, err := e.cache.GetOrCompute(d, func() (wazero.CompiledModule, error) {
		wasmBytes, err := e.blobs.Get(d)
		if err != nil {
			return nil, fmt.Errorf("engine: fetch component bytes: %w", err)
		}
		return e.runtime.CompileModule(ctx, wasmBytes)
	})
	if err != nil {
		e.bump(&st.Compile)
		return nil, &operrs.GuestError{Kind: operrs.GuestCompile, ServiceID: serviceID, Component: d.String(), Cause: err}
	}

	closer, err := e.registerHostModule(ctx, caps)
	if err != nil {
		return nil, fmt.Errorf("engine: register host module: %w", err)
	}
	defer closer.Close(ctx)

	timeout := time.Duration(defaultTimeLimitSeconds) * time.Second
	if comp.TimeLimitSeconds != nil {
		timeout = time.Duration(*comp.TimeLimitSeconds) * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := e.executor.Run(execCtx, compiled, d.String(), action, comp.EnvKeys)
	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded {
			e.bump(&st.Time)
			return nil, &operrs.GuestError{Kind: operrs.GuestTime, ServiceID: serviceID, Component: d.String(), Cause: operrs.ErrOutOfTime}
		}
		if caps.Budget.Remaining() == 0 {
			e.bump(&st.Fuel)
			return nil, &operrs.GuestError{Kind: operrs.GuestFuel, ServiceID: serviceID, Component: d.String(), Cause: operrs.ErrOutOfFuel}
		}
		e.bump(&st.Trap)
		return nil, &operrs.GuestError{Kind: operrs.GuestTrap, ServiceID: serviceID, Component: d.String(), Cause: err}
	}
	return resp, nil
}

// Precompile eagerly compiles and caches a component's bytes.
func (e *Engine) Precompile(ctx context.Context, d digest.Digest) error {
	_, err := e.cache.GetOrCompute(d, func() (wazero.CompiledModule, error) {
		wasmBytes, err := e.blobs.Get(d)
		if err != nil {
			return nil, fmt.Errorf("engine: fetch component bytes: %w", err)
		}
		return e.runtime.CompileModule(ctx, wasmBytes)
	})
	return err
}

// Invalidate drops d from the module cache.
func (e *Engine) Invalidate(ctx context.Context, d digest.Digest) {
	e.cache.Delete(ctx, d)
}

// Stats returns a snapshot of serviceID's fault counters.
func (e *Engine) Stats(serviceID string) ComponentStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	if st, ok := e.stats[serviceID]; ok {
		return *st
	}
	return ComponentStats{}
}

// CacheSize reports the number of compiled modules currently cached.
func (e *Engine) CacheSize() int {
	return e.cache.Size()
}

// Close releases the module cache and the wazero runtime.
func (e *Engine) Close(ctx context.Context) error {
	e.cache.Clear(ctx)
	return e.runtime.Close(ctx)
}

func (e *Engine) statsFor(serviceID string) *ComponentStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	st, ok := e.stats[serviceID]
	if !ok {
		st = &ComponentStats{}
		e.stats[serviceID] = st
	}
	return st
}

func (e *Engine) bump(counter *int64) {
	e.statsMu.Lock()
	*counter++
	e.statsMu.Unlock()
}

// DefaultFuelLimit is used when a component declares no fuel_limit.
func DefaultFuelLimit() uint64 { return defaultFuelLimit }
