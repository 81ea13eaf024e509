package transforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/ladleworks/ladle/pkg/engine"
)

const (
	// wasmTimeout bounds one batch invocation of a custom transform.
	wasmTimeout = 60 * time.Second

	// wasmMemoryLimitPages caps module memory at 16MB (64KB pages).
	wasmMemoryLimitPages = 256
)

// WASMTransform runs a custom transform compiled to a WASI command module.
// The module is invoked once per batch: it receives the batch rows as a JSON
// array on stdin and writes the transformed rows as a JSON array on stdout.
// A non-zero exit status fails the batch, with stderr as the error message.
type WASMTransform struct {
	name     string
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	options  map[string]any
}

// LoadWASMTransform compiles a WASM module from disk. The transform type name
// is the file name without its .wasm extension.
func LoadWASMTransform(ctx context.Context, path string) (*WASMTransform, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM module: %w", err)
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(wasmMemoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to compile WASM module: %w", err)
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	return &WASMTransform{
		name:     name,
		runtime:  runtime,
		compiled: compiled,
	}, nil
}

// Factory returns a registry factory that produces instances of this
// transform bound to per-step options. Options are passed to the module
// through the LADLE_OPTIONS environment variable as JSON.
func (t *WASMTransform) Factory() Factory {
	return func(options map[string]any) (engine.Transform, error) {
		return &WASMTransform{
			name:     t.name,
			runtime:  t.runtime,
			compiled: t.compiled,
			options:  options,
		}, nil
	}
}

func (t *WASMTransform) Name() string { return t.name }

func (t *WASMTransform) Apply(ctx context.Context, b *engine.Batch) (*engine.Batch, error) {
	input, err := json.Marshal(b.Rows)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, wasmTimeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	moduleConfig := wazero.NewModuleConfig().
		WithName(""). // anonymous, so one compiled module can run concurrently
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithArgs(t.name)

	if t.options != nil {
		optJSON, err := json.Marshal(t.options)
		if err != nil {
			return nil, fmt.Errorf("failed to encode options: %w", err)
		}
		moduleConfig = moduleConfig.WithEnv("LADLE_OPTIONS", string(optJSON))
	}

	module, err := t.runtime.InstantiateModule(runCtx, t.compiled, moduleConfig)
	if err != nil {
		// A clean proc_exit(0) still surfaces as an ExitError.
		exitErr, ok := err.(*sys.ExitError)
		if !ok {
			return nil, fmt.Errorf("failed to run custom transform %q: %w", t.name, err)
		}
		if exitErr.ExitCode() != 0 {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = fmt.Sprintf("exit code %d", exitErr.ExitCode())
			}
			return nil, fmt.Errorf("custom transform %q failed: %s", t.name, msg)
		}
	}
	if module != nil {
		defer module.Close(runCtx)
	}

	var rows []engine.Row
	if err := json.Unmarshal(stdout.Bytes(), &rows); err != nil {
		return nil, fmt.Errorf("custom transform %q produced invalid output: %w", t.name, err)
	}

	return &engine.Batch{Seq: b.Seq, Rows: rows}, nil
}

// Close releases the WASM runtime.
func (t *WASMTransform) Close(ctx context.Context) error {
	if t.runtime != nil {
		return t.runtime.Close(ctx)
	}
	return nil
}

// RegisterCustomTransforms loads every WASM module listed in paths, resolved
// relative to baseDir, and registers each as a transform type.
func RegisterCustomTransforms(ctx context.Context, r *Registry, baseDir string, paths []string) ([]*WASMTransform, error) {
	loaded := make([]*WASMTransform, 0, len(paths))
	for _, p := range paths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		wt, err := LoadWASMTransform(ctx, p)
		if err != nil {
			closeAll(ctx, loaded)
			return nil, err
		}
		if err := r.Register(wt.Name(), wt.Factory()); err != nil {
			wt.Close(ctx)
			closeAll(ctx, loaded)
			return nil, err
		}
		loaded = append(loaded, wt)
	}
	return loaded, nil
}

func closeAll(ctx context.Context, transforms []*WASMTransform) {
	for _, t := range transforms {
		_ = t.Close(ctx)
	}
}
