package evaluator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/histmatch/pkg/engine"
)

// submitScript finishes the job in the background, failing when the run
// path contains a file named "fail".
const submitScript = `#!/bin/sh
cd "$1" || exit 1
(
	sleep 0.2
	if [ -f fail ]; then
		printf 'job: sim\nreason: simulator crashed\n' > ERROR.tmp && mv ERROR.tmp ERROR
	else
		echo "$2" > OK.tmp && mv OK.tmp OK
	fi
) > /dev/null 2>&1 &
echo "queued $2"
`

func writeSubmitScript(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "submit.sh")
	if err := os.WriteFile(path, []byte(submitScript), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNewQueueDriver(t *testing.T) {
	if _, err := NewQueueDriver("  ", zerolog.Nop()); err == nil {
		t.Error("expected error for empty submit command")
	}

	d, err := NewQueueDriver("sbatch --parsable", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewQueueDriver failed: %v", err)
	}
	if d.Name() != DriverQueue || len(d.command) != 2 {
		t.Errorf("unexpected driver %+v", d)
	}
}

func TestQueueDriver_Run(t *testing.T) {
	d, err := NewQueueDriver("sh "+writeSubmitScript(t), zerolog.Nop())
	if err != nil {
		t.Fatalf("NewQueueDriver failed: %v", err)
	}
	d.pollInterval = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("ok", func(t *testing.T) {
		runPath := t.TempDir()
		if err := d.Run(ctx, engine.RunArg{RunPath: runPath, JobName: "sim-0"}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		if got := strings.TrimSpace(readFile(t, filepath.Join(runPath, OKFile))); got != "sim-0" {
			t.Errorf("expected job name in OK, got %q", got)
		}
	})

	t.Run("error", func(t *testing.T) {
		runPath := t.TempDir()
		if err := os.WriteFile(filepath.Join(runPath, "fail"), nil, 0o644); err != nil {
			t.Fatal(err)
		}
		err := d.Run(ctx, engine.RunArg{RunPath: runPath, JobName: "sim-1"})
		var je *JobError
		if !errors.As(err, &je) || !strings.Contains(je.StderrTail, "simulator crashed") {
			t.Fatalf("expected job error with ERROR content, got %v", err)
		}
	})
}

func TestQueueDriver_SubmitFailure(t *testing.T) {
	d, err := NewQueueDriver("false", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewQueueDriver failed: %v", err)
	}

	err = d.Run(context.Background(), engine.RunArg{RunPath: t.TempDir(), JobName: "sim-0"})
	if err == nil || !strings.Contains(err.Error(), "submit failed") {
		t.Errorf("expected submit failure, got %v", err)
	}
}

func TestQueueDriver_Timeout(t *testing.T) {
	d, err := NewQueueDriver("true", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewQueueDriver failed: %v", err)
	}
	d.pollInterval = 20 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err = d.Run(ctx, engine.RunArg{RunPath: t.TempDir(), JobName: "sim-0"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
