package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wavsnet/operator/pkg/engine/hostcaps"
)

// registerHostModule wires Caps onto the wazero runtime under module name
// "env", following the node codebase's packed-ptr/len calling convention
// (pkg/serverless/engine.go's registerHostModule / writeToGuest): every
// call reads its arguments out of guest memory by (ptr,len) pairs and, on
// success, allocates a guest buffer via the module's exported malloc to
// hand results back, returning (ptr<<32|len) or 0 on any failure.
func (e *Engine) registerHostModule(ctx context.Context, caps *hostcaps.Caps) (api.Closer, error) {
	return e.runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, keyPtr, keyLen uint32) uint64 {
			key, ok := mod.Memory().Read(keyPtr, keyLen)
			if !ok {
				return 0
			}
			val, err := caps.KVGet(key)
			if err != nil {
				return 0
			}
			return writeToGuest(ctx, mod, val, e.logger)
		}).Export("kv_get").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, keyPtr, keyLen, valPtr, valLen uint32) uint32 {
			key, ok := mod.Memory().Read(keyPtr, keyLen)
			if !ok {
				return 0
			}
			val, ok := mod.Memory().Read(valPtr, valLen)
			if !ok {
				return 0
			}
			if err := caps.KVSet(key, val); err != nil {
				return 0
			}
			return 1
		}).Export("kv_set").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, keyPtr, keyLen uint32) uint32 {
			key, ok := mod.Memory().Read(keyPtr, keyLen)
			if !ok {
				return 0
			}
			if err := caps.KVDelete(key); err != nil {
				return 0
			}
			return 1
		}).Export("kv_delete").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, reqPtr, reqLen uint32) uint64 {
			raw, ok := mod.Memory().Read(reqPtr, reqLen)
			if !ok {
				return 0
			}
			resp, err := httpFetchRequest(ctx, caps, raw)
			if err != nil {
				e.logger.Debug("guest http_fetch rejected", zap.Error(err))
				return 0
			}
			return writeToGuest(ctx, mod, resp, e.logger)
		}).Export("http_fetch").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, reqPtr, reqLen uint32) uint64 {
			raw, ok := mod.Memory().Read(reqPtr, reqLen)
			if !ok {
				return 0
			}
			resp, err := chainQueryRequest(ctx, caps, raw)
			if err != nil {
				e.logger.Debug("guest chain_query rejected", zap.Error(err))
				return 0
			}
			return writeToGuest(ctx, mod, resp, e.logger)
		}).Export("chain_query").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, digestPtr, digestLen uint32) uint64 {
			hexDigest, ok := mod.Memory().Read(digestPtr, digestLen)
			if !ok {
				return 0
			}
			data, err := caps.FSRead(string(hexDigest))
			if err != nil {
				return 0
			}
			return writeToGuest(ctx, mod, data, e.logger)
		}).Export("fs_read").
		NewFunctionBuilder().WithFunc(func(ctx context.Context, mod api.Module, dataPtr, dataLen uint32) uint64 {
			data, ok := mod.Memory().Read(dataPtr, dataLen)
			if !ok {
				return 0
			}
			hexDigest, err := caps.FSWrite(data)
			if err != nil {
				return 0
			}
			return writeToGuest(ctx, mod, []byte(hexDigest), e.logger)
		}).Export("fs_write").
		Instantiate(ctx)
}

// writeToGuest allocates a buffer in the guest's linear memory via its
// exported malloc and copies data into it, packing (ptr<<32|len) as the
// host-function return value — the node codebase's calling convention
// (pkg/serverless/engine.go's writeToGuest).
func writeToGuest(ctx context.Context, mod api.Module, data []byte, logger *zap.Logger) uint64 {
	if len(data) == 0 {
		return 0
	}
	malloc := mod.ExportedFunction("malloc")
	if malloc == nil {
		logger.Warn("guest module missing malloc export, cannot return host call result")
		return 0
	}
	results, err := malloc.Call(ctx, uint64(len(data)))
	if err != nil {
		logger.Error("malloc call failed", zap.Error(err))
		return 0
	}
	ptr := uint32(results[0])
	if !mod.Memory().Write(ptr, data) {
		logger.Error("failed to write host call result into guest memory")
		return 0
	}
	return (uint64(ptr) << 32) | uint64(len(data))
}
