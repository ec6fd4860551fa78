package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// Loader reads policies from .rego and .json files.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a new policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		logger: logger.With().Str("component", "policy-loader").Logger(),
	}
}

// LoadFromPaths loads policies from a list of file or directory paths.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var all []Policy
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		policies, err := l.loadFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", path, err)
		}
		all = append(all, policies...)
	}

	l.logger.Debug().
		Int("total", len(all)).
		Int("sources", len(paths)).
		Msg("Policies loaded from paths")

	return all, nil
}

func (l *Loader) loadFromPath(path string) ([]Policy, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	if !info.IsDir() {
		p, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		return []Policy{*p}, nil
	}

	var policies []Policy
	err = filepath.WalkDir(path, func(file string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isPolicyFile(file) {
			return nil
		}
		p, err := l.LoadFile(file)
		if err != nil {
			return err
		}
		policies = append(policies, *p)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}
	return policies, nil
}

func isPolicyFile(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".rego" || ext == ".json"
}

// LoadFile loads one policy. A .rego file becomes a policy named after the
// file; its leading comment block is the description and may contain a
// "severity: error" line. A .json file holds a Policy document.
func (l *Loader) LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var p *Policy
	switch filepath.Ext(path) {
	case ".rego":
		description, severity, err := parseRegoHeader(string(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		p = &Policy{
			Name:        strings.TrimSuffix(filepath.Base(path), ".rego"),
			Description: description,
			Rego:        string(data),
			Severity:    severity,
			Enabled:     true,
		}
	case ".json":
		p, err = parseJSONPolicy(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported file type: %s", path)
	}
	p.Source = path

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Str("severity", string(p.Severity)).Msg("Policy loaded from file")
	return p, nil
}

func parseJSONPolicy(data []byte) (*Policy, error) {
	var doc struct {
		Policy
		Enabled *bool `json:"enabled"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON policy: %w", err)
	}
	p := doc.Policy
	if p.Name == "" {
		return nil, fmt.Errorf("policy has no name")
	}
	if p.Rego == "" {
		return nil, fmt.Errorf("policy %s has no rego source", p.Name)
	}
	if p.Severity == "" {
		p.Severity = SeverityWarning
	}
	if !p.Severity.valid() {
		return nil, fmt.Errorf("policy %s has invalid severity %q", p.Name, p.Severity)
	}
	p.Enabled = doc.Enabled == nil || *doc.Enabled
	return &p, nil
}

// parseRegoHeader reads the first comment block of a rego file. Lines
// other than "severity: <level>" are joined into the description.
func parseRegoHeader(content string) (string, Severity, error) {
	severity := SeverityWarning
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if trimmed != "" && len(lines) > 0 {
				break
			}
			continue
		}
		comment := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		if value, ok := strings.CutPrefix(comment, "severity:"); ok {
			severity = Severity(strings.TrimSpace(value))
			if !severity.valid() {
				return "", "", fmt.Errorf("invalid severity %q", severity)
			}
			continue
		}
		if comment != "" {
			lines = append(lines, comment)
		}
	}
	return strings.Join(lines, " "), severity, nil
}
