package evaluator

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/openfroyo/histmatch/pkg/engine"
)

// DefaultPollInterval is how often the queue driver checks for status
// files when no filesystem event arrives.
const DefaultPollInterval = 2 * time.Second

// QueueDriver hands each realization to an external submit command and
// waits for the job to leave OK or ERROR in the run path. The submit
// command is invoked as "<command> <runpath> <jobname>" and should return
// once the job is queued.
type QueueDriver struct {
	command      []string
	pollInterval time.Duration
	logger       zerolog.Logger
}

// NewQueueDriver creates a queue driver. submitCommand is split on whitespace.
func NewQueueDriver(submitCommand string, logger zerolog.Logger) (*QueueDriver, error) {
	command := strings.Fields(submitCommand)
	if len(command) == 0 {
		return nil, fmt.Errorf("queue driver requires a submit command")
	}
	return &QueueDriver{
		command:      command,
		pollInterval: DefaultPollInterval,
		logger:       logger.With().Str("component", "queue_driver").Logger(),
	}, nil
}

// Name implements Driver.
func (d *QueueDriver) Name() string { return DriverQueue }

// Run submits the realization and blocks until its status is known or ctx ends.
func (d *QueueDriver) Run(ctx context.Context, arg engine.RunArg) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(arg.RunPath); err != nil {
		return fmt.Errorf("failed to watch %s: %w", arg.RunPath, err)
	}

	args := append(append([]string(nil), d.command[1:]...), arg.RunPath, arg.JobName)
	cmd := exec.CommandContext(ctx, d.command[0], args...)
	cmd.Dir = arg.RunPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return &JobError{
			Reason:     fmt.Sprintf("submit failed: %v", err),
			StderrTail: strings.TrimSpace(string(out)),
		}
	}

	d.logger.Debug().
		Int("realization", arg.Realization).
		Str("job_name", arg.JobName).
		Str("output", strings.TrimSpace(string(out))).
		Msg("Realization submitted")

	return d.waitForStatus(ctx, arg.RunPath, watcher)
}

func (d *QueueDriver) waitForStatus(ctx context.Context, runPath string, watcher *fsnotify.Watcher) error {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	events, errs := watcher.Events, watcher.Errors

	for {
		status, content, err := ReadStatus(runPath)
		if err != nil {
			return err
		}
		switch status {
		case StatusOK:
			return nil
		case StatusError:
			return &JobError{Reason: "job reported failure", StderrTail: content}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.logger.Trace().Str("file", event.Name).Str("op", event.Op.String()).Msg("Run path changed")
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.logger.Warn().Err(err).Str("run_path", runPath).Msg("Watcher error, polling")
		}
	}
}
