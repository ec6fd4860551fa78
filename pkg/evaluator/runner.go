package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/histmatch/pkg/engine"
	"github.com/openfroyo/histmatch/pkg/parameters"
)

// stderrTailLines is how much of a failed job's stderr goes into ERROR.
const stderrTailLines = 20

// JobRunner executes the job list of a run path in order, stopping at the
// first failure. It writes OK or ERROR into the run path.
type JobRunner struct {
	wasm   *wasmRunner
	logger zerolog.Logger
}

// NewJobRunner creates a job runner.
func NewJobRunner(logger zerolog.Logger) *JobRunner {
	return &JobRunner{
		wasm:   newWasmRunner(),
		logger: logger.With().Str("component", "job_runner").Logger(),
	}
}

// Run executes jobs.json in runPath.
func (r *JobRunner) Run(ctx context.Context, runPath string) error {
	jf, err := engine.ReadJobsFile(runPath)
	if err != nil {
		return r.fail(runPath, &JobError{Reason: err.Error()})
	}

	env := BaseEnvironment(os.Environ(), jf)
	for _, job := range jf.JobList {
		if err := ctx.Err(); err != nil {
			return r.fail(runPath, &JobError{Job: job.Name, Reason: err.Error()})
		}

		start := time.Now()
		if err := r.runJob(ctx, runPath, env, jf.GlobalEnvironment, job); err != nil {
			var je *JobError
			if !errors.As(err, &je) {
				je = &JobError{Job: job.Name, Reason: err.Error()}
			}
			return r.fail(runPath, je)
		}
		r.logger.Debug().
			Str("run_path", runPath).
			Str("job", job.Name).
			Dur("duration", time.Since(start)).
			Msg("Job completed")
	}

	return WriteOK(runPath)
}

func (r *JobRunner) fail(runPath string, je *JobError) error {
	if err := WriteError(runPath, je); err != nil {
		r.logger.Warn().Err(err).Str("run_path", runPath).Msg("Failed to write ERROR file")
	}
	return je
}

func (r *JobRunner) runJob(ctx context.Context, runPath string, base, global map[string]string, job engine.JobEntry) error {
	jobErr := func(format string, args ...interface{}) *JobError {
		return &JobError{Job: job.Name, Reason: fmt.Sprintf(format, args...)}
	}

	if job.StartFile != "" {
		if _, err := os.Stat(parameters.RunPathFile(runPath, job.StartFile)); err != nil {
			return jobErr("start file %s not found", job.StartFile)
		}
	}

	if len(job.ExecEnv) > 0 {
		data, err := json.MarshalIndent(job.ExecEnv, "", "  ")
		if err != nil {
			return err
		}
		if err := parameters.WriteFile(filepath.Join(runPath, ExecEnvFileName(job.Name)), data); err != nil {
			return err
		}
	}

	stdoutPath := parameters.RunPathFile(runPath, job.Stdout)
	stderrPath := parameters.RunPathFile(runPath, job.Stderr)
	stdout, err := os.Create(stdoutPath)
	if err != nil {
		return fmt.Errorf("failed to create stdout file: %w", err)
	}
	defer stdout.Close()
	stderr, err := os.Create(stderrPath)
	if err != nil {
		return fmt.Errorf("failed to create stderr file: %w", err)
	}
	defer stderr.Close()

	var stdin io.Reader
	if job.Stdin != "" {
		f, err := os.Open(parameters.RunPathFile(runPath, job.Stdin))
		if err != nil {
			return jobErr("failed to open stdin: %v", err)
		}
		defer f.Close()
		stdin = f
	}

	jobCtx := ctx
	if job.MaxRunningMinutes > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, time.Duration(job.MaxRunningMinutes)*time.Minute)
		defer cancel()
	}

	env := JobEnvironment(base, job)
	start := time.Now()

	if IsWasmExecutable(job.Executable) {
		path := job.Executable
		if !filepath.IsAbs(path) {
			path = filepath.Join(runPath, path)
		}
		err = r.wasm.run(jobCtx, runPath, wasmJob{
			path:   path,
			args:   job.ArgList,
			env:    guestEnvironment(global, job.Environment),
			stdin:  stdin,
			stdout: stdout,
			stderr: stderr,
		})
	} else {
		cmd := exec.CommandContext(jobCtx, job.Executable, job.ArgList...)
		cmd.Dir = runPath
		cmd.Env = env
		cmd.Stdin = stdin
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		cmd.WaitDelay = 5 * time.Second
		err = cmd.Run()
	}

	if err != nil {
		stderr.Sync()
		je := &JobError{Job: job.Name, StderrTail: tail(stderrPath, stderrTailLines)}
		var exitErr *exec.ExitError
		var codeErr *ExitCodeError
		switch {
		case ctx.Err() == nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded):
			je.Reason = fmt.Sprintf("exceeded max running time of %d minutes", job.MaxRunningMinutes)
		case errors.As(err, &exitErr):
			je.Reason = fmt.Sprintf("exited with code %d", exitErr.ExitCode())
		case errors.As(err, &codeErr):
			je.Reason = codeErr.Error()
		default:
			je.Reason = err.Error()
		}
		return je
	}

	if job.ErrorFile != "" {
		if _, err := os.Stat(parameters.RunPathFile(runPath, job.ErrorFile)); err == nil {
			return jobErr("error file %s found", job.ErrorFile)
		}
	}

	if job.TargetFile != "" {
		info, err := os.Stat(parameters.RunPathFile(runPath, job.TargetFile))
		if err != nil {
			return jobErr("target file %s not produced", job.TargetFile)
		}
		if info.ModTime().Before(start.Truncate(time.Second)) {
			return jobErr("target file %s not updated", job.TargetFile)
		}
	}

	return nil
}

// guestEnvironment is the environment of a wasm job. Modules do not see
// the host environment.
func guestEnvironment(global, job map[string]string) map[string]string {
	env := make(map[string]string, len(global)+len(job))
	for k, v := range global {
		env[k] = v
	}
	for k, v := range job {
		env[k] = v
	}
	return env
}

// ExecEnvFileName is the file a job's exec_env is written to.
func ExecEnvFileName(job string) string {
	return job + "_exec_env.json"
}

// BaseEnvironment applies the global update path and environment of jf to
// environ. Update path entries are prepended to any existing value.
func BaseEnvironment(environ []string, jf *engine.JobsFile) map[string]string {
	env := make(map[string]string, len(environ)+len(jf.GlobalEnvironment))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	for k, v := range jf.GlobalUpdatePath {
		if old, ok := env[k]; ok && old != "" {
			v = v + string(os.PathListSeparator) + old
		}
		env[k] = v
	}
	for k, v := range jf.GlobalEnvironment {
		env[k] = v
	}
	return env
}

// JobEnvironment overlays the job's own environment onto base and returns
// it in KEY=VALUE form, sorted by key.
func JobEnvironment(base map[string]string, job engine.JobEntry) []string {
	merged := make(map[string]string, len(base)+len(job.Environment))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range job.Environment {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + merged[k]
	}
	return out
}

// LocalDriver runs the job list in-process on this machine.
type LocalDriver struct {
	runner *JobRunner
}

// NewLocalDriver creates a local driver.
func NewLocalDriver(logger zerolog.Logger) *LocalDriver {
	return &LocalDriver{runner: NewJobRunner(logger)}
}

// Name implements Driver.
func (d *LocalDriver) Name() string { return DriverLocal }

// Run implements Driver.
func (d *LocalDriver) Run(ctx context.Context, arg engine.RunArg) error {
	return d.runner.Run(ctx, arg.RunPath)
}
