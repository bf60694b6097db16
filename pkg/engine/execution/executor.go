// Package execution runs a compiled WASM component against one
// TriggerAction over WASI stdio, adapted from the node codebase's
// pkg/serverless/execution/executor.go stdin/stdout convention onto
// JSON-encoded TriggerAction in, newline-delimited WasmResponse out.
package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wavsnet/operator/pkg/service"
)

// envPrefix is the only host environment namespace ever exposed to a
// guest. A component's env_keys allowlist can only ever grant access to
// vars already under this prefix, so a service definition fetched from
// an attacker-influenced on-chain URI cannot widen its own env access by
// naming an arbitrary host var.
const envPrefix = "WAVS_ENV_"

// Executor instantiates a compiled module over WASI stdio for a single
// invocation.
type Executor struct {
	runtime wazero.Runtime
	logger  *zap.Logger
}

// NewExecutor constructs an Executor bound to runtime.
func NewExecutor(runtime wazero.Runtime, logger *zap.Logger) *Executor {
	return &Executor{runtime: runtime, logger: logger}
}

// Run instantiates compiled with action JSON-encoded on stdin, scoping
// env to the component's env_keys allowlist intersected with envPrefix,
// and decodes stdout as one or more newline-delimited WasmResponse
// objects — one guest invocation can emit several, each later submitted
// as its own event. A non-empty stderr is logged at debug, never treated
// as failure on its own — only a non-zero WASI exit, an instantiate
// error, or a guest that produces no well-formed response fails the
// call.
func (e *Executor) Run(ctx context.Context, compiled wazero.CompiledModule, moduleName string, action service.TriggerAction, envKeys []string) ([]service.WasmResponse, error) {
	input, err := json.Marshal(action)
	if err != nil {
		return nil, fmt.Errorf("execution: encode trigger action: %w", err)
	}

	stdin := bytes.NewReader(input)
	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)

	cfg := wazero.NewModuleConfig().
		WithName(moduleName).
		WithStdin(stdin).
		WithStdout(stdout).
		WithStderr(stderr).
		WithArgs(moduleName)

	for _, key := range envKeys {
		if !strings.HasPrefix(key, envPrefix) {
			e.logger.Warn("ignoring env_keys entry without WAVS_ENV_ prefix", zap.String("component", moduleName), zap.String("key", key))
			continue
		}
		if v, ok := os.LookupEnv(key); ok {
			cfg = cfg.WithEnv(key, v)
		}
	}

	instance, err := e.runtime.InstantiateModule(ctx, compiled, cfg)
	if err != nil {
		if stderr.Len() > 0 {
			e.logger.Warn("guest stderr on failed instantiate", zap.String("component", moduleName), zap.String("stderr", stderr.String()))
		}
		return nil, err
	}
	defer instance.Close(ctx)

	if stderr.Len() > 0 {
		e.logger.Debug("guest stderr", zap.String("component", moduleName), zap.String("stderr", stderr.String()))
	}

	return decodeResponses(stdout.Bytes())
}

// decodeResponses parses raw as one JSON-encoded service.WasmResponse
// per non-empty line, so a guest can force a distinct event_id per
// response by writing one line per desired submission (spec §4.G).
func decodeResponses(raw []byte) ([]service.WasmResponse, error) {
	lines := bytes.Split(bytes.TrimSpace(raw), []byte("\n"))
	responses := make([]service.WasmResponse, 0, len(lines))
	for _, line := range lines {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var resp service.WasmResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("execution: decode guest response: %w", err)
		}
		responses = append(responses, resp)
	}
	if len(responses) == 0 {
		return nil, fmt.Errorf("execution: guest produced no response")
	}
	return responses, nil
}
