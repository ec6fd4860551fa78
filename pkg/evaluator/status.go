package evaluator

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openfroyo/histmatch/pkg/parameters"
)

// Status files written into a run path when its forward model finishes.
const (
	OKFile    = "OK"
	ErrorFile = "ERROR"
)

// Status is the outcome recorded in a run path.
type Status int

const (
	// StatusNone means neither OK nor ERROR exists yet.
	StatusNone Status = iota
	StatusOK
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	default:
		return "none"
	}
}

// JobError describes why a forward model step failed.
type JobError struct {
	Job        string
	Reason     string
	StderrTail string
	Time       time.Time
}

func (e *JobError) Error() string {
	if e.Job == "" {
		return e.Reason
	}
	return fmt.Sprintf("job %s failed: %s", e.Job, e.Reason)
}

// WriteOK marks the run path as successfully completed.
func WriteOK(runPath string) error {
	content := fmt.Sprintf("All jobs complete %s\n", time.Now().Format(time.RFC3339))
	return parameters.WriteFile(filepath.Join(runPath, OKFile), []byte(content))
}

// WriteError records a failure in the run path.
func WriteError(runPath string, je *JobError) error {
	if je.Time.IsZero() {
		je.Time = time.Now()
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "job: %s\n", je.Job)
	fmt.Fprintf(&b, "reason: %s\n", je.Reason)
	if je.StderrTail != "" {
		fmt.Fprintf(&b, "stderr:\n%s\n", strings.TrimRight(je.StderrTail, "\n"))
	}
	fmt.Fprintf(&b, "time: %s\n", je.Time.Format(time.RFC3339))
	return parameters.WriteFile(filepath.Join(runPath, ErrorFile), b.Bytes())
}

// ReadStatus reports the status of a run path. For StatusError the
// content of the ERROR file is returned as well.
func ReadStatus(runPath string) (Status, string, error) {
	if _, err := os.Stat(filepath.Join(runPath, OKFile)); err == nil {
		return StatusOK, "", nil
	} else if !os.IsNotExist(err) {
		return StatusNone, "", err
	}

	data, err := os.ReadFile(filepath.Join(runPath, ErrorFile))
	if err == nil {
		return StatusError, strings.TrimSpace(string(data)), nil
	}
	if !os.IsNotExist(err) {
		return StatusNone, "", err
	}
	return StatusNone, "", nil
}

// ClearStatus removes OK and ERROR before a new attempt.
func ClearStatus(runPath string) error {
	for _, name := range []string{OKFile, ErrorFile} {
		if err := os.Remove(filepath.Join(runPath, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// tail returns at most n trailing lines of the file at path.
func tail(path string, n int) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
