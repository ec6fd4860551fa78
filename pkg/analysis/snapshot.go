package analysis

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/openfroyo/histmatch/pkg/parameters"
)

// ReportFileName is the update report written under the log directory.
const ReportFileName = "update_report.json"

// ParameterSnapshot records what happened to one parameter key.
type ParameterSnapshot struct {
	Key         string              `json:"key"`
	Impl        parameters.ImplType `json:"impl_type"`
	Size        int                 `json:"size"`
	Transformed bool                `json:"transformed"`
}

// SmootherSnapshot describes one update step.
type SmootherSnapshot struct {
	SourceCase   string              `json:"source_case"`
	TargetCase   string              `json:"target_case"`
	RunID        string              `json:"run_id"`
	Module       string              `json:"module"`
	Realizations []int               `json:"realizations"`
	Parameters   []ParameterSnapshot `json:"parameters"`
	StartedAt    time.Time           `json:"started_at"`
	FinishedAt   time.Time           `json:"finished_at"`
}

// Duration is the wall time of the update.
func (s *SmootherSnapshot) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// WriteReport writes the snapshot to <logPath>/<run id>/update_report.json
// and returns the file path.
func WriteReport(logPath string, s *SmootherSnapshot) (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode update report: %w", err)
	}
	path := filepath.Join(logPath, s.RunID, ReportFileName)
	if err := parameters.WriteFile(path, append(data, '\n')); err != nil {
		return "", err
	}
	return path, nil
}

// ReadReport reads a report written by WriteReport.
func ReadReport(path string) (*SmootherSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s SmootherSnapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse update report: %w", err)
	}
	return &s, nil
}
