package parameters

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// GenDataConfig is a report-step indexed result vector produced by the
// forward model.
type GenDataConfig struct {
	key         string
	resultFile  string
	inputFormat string
	reportSteps []int
}

// ParseGenData parses "NAME RESULT_FILE:file%d [REPORT_STEPS:0-3,5] [INPUT_FORMAT:ASCII]".
func ParseGenData(args []string) (*GenDataConfig, error) {
	if len(args) < 1 || args[0] == "" {
		return nil, fmt.Errorf("GEN_DATA needs a NAME")
	}
	name := args[0]
	options := OptionDict(args, 1)

	cfg := &GenDataConfig{
		key:         name,
		resultFile:  options[OptResultFile],
		inputFormat: valueOr(options, OptInputFormat, "ASCII"),
	}
	if cfg.inputFormat != "ASCII" {
		log.Warn().Str("gen_data", name).Str("input_format", cfg.inputFormat).
			Msgf("Only ASCII INPUT_FORMAT is supported for GEN_DATA %s, got %s", name, cfg.inputFormat)
	}

	var errs []string
	if cfg.resultFile == "" {
		errs = append(errs, "Missing required RESULT_FILE")
	}
	steps, err := ParseRangeString(options[OptReportSteps])
	if err != nil {
		errs = append(errs, fmt.Sprintf("REPORT_STEPS: %v", err))
	}
	if len(steps) > 0 && !strings.Contains(cfg.resultFile, "%d") {
		errs = append(errs, "RESULT_FILE must contain %d when REPORT_STEPS are given")
	}
	if len(errs) > 0 {
		return nil, &ValidationError{Keyword: string(ImplGenData), Name: name, Errors: errs}
	}
	if len(steps) == 0 {
		steps = []int{0}
	}
	cfg.reportSteps = steps
	return cfg, nil
}

// Describe implements Config.
func (c *GenDataConfig) Describe() Meta {
	return Meta{
		Key:         c.key,
		Impl:        ImplGenData,
		Var:         VarDynamicResult,
		ForwardInit: true,
		OutputFile:  c.resultFile,
	}
}

// ReportSteps returns the configured report steps.
func (c *GenDataConfig) ReportSteps() []int {
	return c.reportSteps
}

// Sample implements Config. Results are never sampled.
func (c *GenDataConfig) Sample(context.Context, Store, []int, Seed) error {
	return nil
}

// Materialize implements Config. Results are never written into a run path.
func (c *GenDataConfig) Materialize(context.Context, Store, string, int) error {
	return nil
}

// LoadFromRunPath reads the result file of every report step and stores it
// as "KEY@step". All missing or unreadable steps are reported together.
func (c *GenDataConfig) LoadFromRunPath(ctx context.Context, store Store, runPath string, realization int) error {
	var errs []error
	for _, step := range c.reportSteps {
		path := RunPathFile(runPath, realizationFile(c.resultFile, step))
		values, err := readResultValues(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		arr := Array{Shape: []int{len(values)}, Data: values}
		if err := store.SaveArray(ctx, ResponseName(c.key, step), realization, arr); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ResponseName is the storage name of one report step of a result.
func ResponseName(key string, step int) string {
	return key + "@" + strconv.Itoa(step)
}

func readResultValues(path string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open result file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Split(bufio.ScanWords)
	var values []float64
	for scanner.Scan() {
		v, err := strconv.ParseFloat(scanner.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid value %q", path, scanner.Text())
		}
		values = append(values, v)
	}
	return values, scanner.Err()
}

func (c *GenDataConfig) isConfig() {}
