package parameters

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Option keys recognised in keyword definitions.
const (
	OptForwardInit     = "FORWARD_INIT"
	OptInitFiles       = "INIT_FILES"
	OptOutputFile      = "OUTPUT_FILE"
	OptResultFile      = "RESULT_FILE"
	OptInputFormat     = "INPUT_FORMAT"
	OptReportSteps     = "REPORT_STEPS"
	OptBaseSurface     = "BASE_SURFACE"
	OptInitTransform   = "INIT_TRANSFORM"
	OptOutputTransform = "OUTPUT_TRANSFORM"
	OptInputTransform  = "INPUT_TRANSFORM"
	OptMin             = "MIN"
	OptMax             = "MAX"
	OptKeys            = "KEYS"
)

// OptionDict collects KEY:VALUE pairs from args[offset:]. Tokens without a
// colon are positional and skipped. Malformed pairs are dropped with a
// warning rather than failing the whole definition.
func OptionDict(args []string, offset int) map[string]string {
	options := make(map[string]string)
	if offset > len(args) {
		return options
	}
	for _, pair := range args[offset:] {
		if !strings.Contains(pair, ":") {
			continue
		}
		parts := strings.Split(pair, ":")
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			options[parts[0]] = parts[1]
			continue
		}
		log.Warn().
			Str("argument", pair).
			Msgf("Ignoring argument %s not properly formatted should be of type ARG:VAL", pair)
	}
	return options
}

// ParseBool converts FORWARD_INIT style text. Any casing of true/false is
// accepted; anything else logs an error and yields false.
func ParseBool(text string) bool {
	switch strings.ToLower(text) {
	case "true":
		return true
	case "false":
		return false
	default:
		log.Error().Str("value", text).Msgf("Failed to parse %s as bool! Using FORWARD_INIT:FALSE", text)
		return false
	}
}

// ParseRangeString expands "0-3,5,7-8" into [0 1 2 3 5 7 8].
// The empty string yields no steps.
func ParseRangeString(s string) ([]int, error) {
	var out []int
	s = strings.TrimSpace(s)
	if s == "" {
		return out, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if lo, hi, found := strings.Cut(part, "-"); found {
			start, err := strconv.Atoi(strings.TrimSpace(lo))
			if err != nil {
				return nil, fmt.Errorf("invalid range %q: %w", part, err)
			}
			end, err := strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("invalid range %q: %w", part, err)
			}
			if end < start {
				return nil, fmt.Errorf("invalid range %q: end before start", part)
			}
			for i := start; i <= end; i++ {
				out = append(out, i)
			}
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid range element %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// resolvePath makes path absolute relative to baseDir.
func resolvePath(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
