package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/histmatch/pkg/engine"
	"github.com/openfroyo/histmatch/pkg/parameters"
	ssht "github.com/openfroyo/histmatch/pkg/transports/ssh"
)

// downloadTimeout bounds copying a run path back after the remote run,
// which happens even when the run itself was cancelled.
const downloadTimeout = 5 * time.Minute

// SSHDriver runs realizations on a remote host. The run path is uploaded
// under remoteDir, the job list runs through a generated shell script and
// the directory is copied back so results load locally.
type SSHDriver struct {
	transport ssht.Transport
	remoteDir string
	logger    zerolog.Logger
}

// NewSSHDriver creates a driver using transport. The transport connects on
// first use.
func NewSSHDriver(transport ssht.Transport, remoteDir string, logger zerolog.Logger) *SSHDriver {
	return &SSHDriver{
		transport: transport,
		remoteDir: remoteDir,
		logger:    logger.With().Str("component", "ssh_driver").Logger(),
	}
}

// Name implements Driver.
func (d *SSHDriver) Name() string { return DriverSSH }

// Close closes the transport.
func (d *SSHDriver) Close() error {
	return d.transport.Close()
}

// RemotePath is where the run path of arg lives on the remote host.
func (d *SSHDriver) RemotePath(arg engine.RunArg) string {
	return path.Join(d.remoteDir, arg.RunID)
}

// Run implements Driver.
func (d *SSHDriver) Run(ctx context.Context, arg engine.RunArg) error {
	jf, err := engine.ReadJobsFile(arg.RunPath)
	if err != nil {
		return &JobError{Reason: err.Error()}
	}
	if err := d.prepare(arg.RunPath, jf); err != nil {
		return err
	}

	if err := d.transport.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	remote := d.RemotePath(arg)
	if err := d.transport.UploadDirectory(ctx, arg.RunPath, remote); err != nil {
		return fmt.Errorf("failed to upload run path: %w", err)
	}

	start := time.Now()
	result, runErr := d.transport.Run(ctx, "sh "+shellQuote(path.Join(remote, DispatchScriptName)))

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), downloadTimeout)
	defer cancel()
	dlErr := d.transport.DownloadDirectory(dctx, remote, arg.RunPath)

	logger := d.logger.With().Int("realization", arg.Realization).Str("remote", remote).Logger()
	if result != nil {
		logger = logger.With().Int("exit_code", result.ExitCode).Logger()
	}
	logger.Debug().Dur("duration", time.Since(start)).Msg("Remote run finished")

	if dlErr != nil {
		logger.Error().Err(dlErr).Msg("Failed to download run path")
	}

	status, content, err := ReadStatus(arg.RunPath)
	if err != nil {
		return err
	}
	switch {
	case status == StatusError:
		return &JobError{Reason: "remote job failed", StderrTail: content}
	case runErr != nil:
		return fmt.Errorf("remote execution failed: %w", runErr)
	case dlErr != nil:
		return fmt.Errorf("failed to download run path: %w", dlErr)
	case status != StatusOK:
		return &JobError{Reason: "remote run finished without writing " + OKFile}
	}
	return nil
}

// prepare writes the dispatch script and the exec_env files into runPath.
func (d *SSHDriver) prepare(runPath string, jf *engine.JobsFile) error {
	for _, job := range jf.JobList {
		if len(job.ExecEnv) == 0 {
			continue
		}
		data, err := json.MarshalIndent(job.ExecEnv, "", "  ")
		if err != nil {
			return err
		}
		if err := parameters.WriteFile(filepath.Join(runPath, ExecEnvFileName(job.Name)), data); err != nil {
			return err
		}
	}
	return parameters.WriteFile(filepath.Join(runPath, DispatchScriptName), []byte(DispatchScript(jf)))
}
