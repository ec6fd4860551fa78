package evaluator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

// DefaultWasmMemoryLimitPages caps module memory at 64MiB.
const DefaultWasmMemoryLimitPages = 1024

// IsWasmExecutable reports whether a job executable is a WebAssembly module.
func IsWasmExecutable(executable string) bool {
	return strings.EqualFold(filepath.Ext(executable), ".wasm")
}

// ExitCodeError is returned when a job exits with a non-zero code.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("exited with code %d", e.Code)
}

// wasmRunner runs WASI command modules. Compiled modules are cached across
// runs; every run gets its own runtime so jobs share no state.
type wasmRunner struct {
	cache            wazero.CompilationCache
	memoryLimitPages uint32
}

func newWasmRunner() *wasmRunner {
	return &wasmRunner{
		cache:            wazero.NewCompilationCache(),
		memoryLimitPages: DefaultWasmMemoryLimitPages,
	}
}

type wasmJob struct {
	path   string
	args   []string
	env    map[string]string
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// run executes the module with the run path mounted as the guest root.
func (w *wasmRunner) run(ctx context.Context, runPath string, job wasmJob) error {
	code, err := os.ReadFile(job.path)
	if err != nil {
		return fmt.Errorf("failed to read module: %w", err)
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithCompilationCache(w.cache).
		WithMemoryLimitPages(w.memoryLimitPages).
		WithCloseOnContextDone(true)

	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)
	defer runtime.Close(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to compile module: %w", err)
	}

	moduleConfig := wazero.NewModuleConfig().
		WithName("").
		WithArgs(append([]string{filepath.Base(job.path)}, job.args...)...).
		WithStdout(job.stdout).
		WithStderr(job.stderr).
		WithFSConfig(wazero.NewFSConfig().WithDirMount(runPath, "/")).
		WithSysWalltime().
		WithSysNanotime()
	if job.stdin != nil {
		moduleConfig = moduleConfig.WithStdin(job.stdin)
	}

	keys := make([]string, 0, len(job.env))
	for k := range job.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		moduleConfig = moduleConfig.WithEnv(k, job.env[k])
	}

	mod, err := runtime.InstantiateModule(ctx, compiled, moduleConfig)
	if mod != nil {
		mod.Close(ctx)
	}
	if err == nil {
		return nil
	}

	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if exitErr.ExitCode() == 0 {
			return nil
		}
		return &ExitCodeError{Code: int(exitErr.ExitCode())}
	}
	return err
}
