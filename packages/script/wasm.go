package script

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// WasmBackend runs WASI modules under wazero with no filesystem access and a
// bounded memory. The script reads its ScriptContext as JSON on stdin and
// writes an Outcome as JSON on stdout; stderr is captured as logs.
type WasmBackend struct {
	cacheConfig wazero.CompilationCache
}

// NewWasmBackend returns a backend with a shared compilation cache so a
// script reused across tests compiles once.
func NewWasmBackend() *WasmBackend {
	return &WasmBackend{cacheConfig: wazero.NewCompilationCache()}
}

func (b *WasmBackend) Language() string { return "wasm" }

// Execute instantiates the module and runs its _start export. Guest exit
// code 0 means the outcome on stdout is authoritative; any other exit code
// is a script failure carrying stderr as the message.
func (b *WasmBackend) Execute(ctx context.Context, source []byte, sc *ScriptContext, limits Limits) (*Outcome, error) {
	limits = limits.orDefaults()
	ctx, cancel := context.WithTimeout(ctx, limits.Timeout)
	defer cancel()

	rcfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(limits.MemoryPages).
		WithCloseOnContextDone(true).
		WithCompilationCache(b.cacheConfig)
	runtime := wazero.NewRuntimeWithConfig(ctx, rcfg)
	defer runtime.Close(context.Background())

	wasi_snapshot_preview1.MustInstantiate(ctx, runtime)

	stdin, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("marshal script context: %w", err)
	}

	var stdout, stderr bytes.Buffer
	mcfg := wazero.NewModuleConfig().
		WithName(sc.TestName).
		WithStdin(bytes.NewReader(stdin)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithArgs("validator")

	start := time.Now()
	mod, err := runtime.InstantiateWithConfig(ctx, source, mcfg)
	elapsed := time.Since(start)

	if err != nil {
		var exitErr *sys.ExitError
		switch {
		case errors.As(err, &exitErr) && exitErr.ExitCode() == 0:
			// normal termination, fall through to the outcome on stdout
		case errors.As(err, &exitErr):
			return &Outcome{
				Success:  false,
				Message:  failureMessage(exitErr.ExitCode(), &stderr),
				Logs:     stderr.String(),
				Duration: elapsed,
			}, nil
		case ctx.Err() != nil:
			return nil, fmt.Errorf("script %q: %w", sc.TestName, ctx.Err())
		default:
			return nil, fmt.Errorf("script %q: %w", sc.TestName, err)
		}
	}

	outcome, err := decodeOutcome(&stdout)
	if err != nil {
		return nil, fmt.Errorf("script %q: %w", sc.TestName, err)
	}
	outcome.Logs = stderr.String()
	outcome.Duration = elapsed
	if mod != nil && mod.Memory() != nil {
		outcome.MemoryUsed = uint64(mod.Memory().Size())
	}
	return outcome, nil
}

func failureMessage(code uint32, stderr *bytes.Buffer) string {
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		return fmt.Sprintf("script exited with code %d", code)
	}
	return msg
}

func decodeOutcome(stdout *bytes.Buffer) (*Outcome, error) {
	data := bytes.TrimSpace(stdout.Bytes())
	if len(data) == 0 {
		return nil, errors.New("no outcome on stdout")
	}
	outcome := &Outcome{}
	if err := json.Unmarshal(data, outcome); err != nil {
		return nil, fmt.Errorf("malformed outcome: %w", err)
	}
	return outcome, nil
}
