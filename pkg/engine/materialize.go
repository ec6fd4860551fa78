package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/histmatch/pkg/parameters"
)

// BackupTimeFormat is appended to the name of a replaced export file.
const BackupTimeFormat = "2006-01-02_15-04-05Z"

// ValueExport is the exported GEN_KW vector of one parameter group.
type ValueExport struct {
	Key    string
	Values parameters.GenKwValues
}

// loadGenKw loads every GEN_KW vector of a realization and checks it against
// the declared prior count.
func (o *Orchestrator) loadGenKw(ctx context.Context, store EnsembleStore, arg RunArg) (map[string]parameters.GenKwValues, error) {
	out := make(map[string]parameters.GenKwValues)
	for _, key := range o.ensembleConfig.GenKwKeys() {
		cfg, _ := o.ensembleConfig.Get(key)
		if skipForwardInit(cfg, arg.Iteration) {
			continue
		}
		kw := cfg.(*parameters.GenKwConfig)
		values, err := kw.Load(ctx, store, arg.Realization)
		if err != nil {
			var mismatch *parameters.SizeMismatchError
			if errors.As(err, &mismatch) {
				return nil, NewConfigMismatchError(arg.Realization, mismatch)
			}
			return nil, err
		}
		out[key] = values
	}
	return out, nil
}

// writeParameterFiles writes the parameter files of one realization and the
// value exports. Forward-init parameters are not written at iteration 0
// since the forward model produces them.
func (o *Orchestrator) writeParameterFiles(ctx context.Context, store EnsembleStore, arg RunArg, genKw map[string]parameters.GenKwValues) error {
	var exports []ValueExport
	for _, key := range o.ensembleConfig.ParameterKeys() {
		cfg, _ := o.ensembleConfig.Get(key)
		if skipForwardInit(cfg, arg.Iteration) {
			continue
		}
		switch c := cfg.(type) {
		case *parameters.GenKwConfig:
			if err := c.Render(arg.RunPath, genKw[key]); err != nil {
				return err
			}
			exports = append(exports, ValueExport{Key: key, Values: genKw[key]})
		case *parameters.ExtParamConfig:
			if err := c.Materialize(ctx, store, arg.RunPath, arg.Realization); err != nil {
				return err
			}
		default:
			if err := cfg.Materialize(ctx, store, arg.RunPath, arg.Realization); err != nil {
				return err
			}
		}
	}
	return o.writeExports(arg.RunPath, exports)
}

func skipForwardInit(cfg parameters.Config, iteration int) bool {
	return iteration == 0 && cfg.Describe().ForwardInit
}

func (o *Orchestrator) writeExports(runPath string, exports []ValueExport) error {
	return WriteValueExports(runPath, o.exportName, exports, func(from, to string) {
		o.logger.Debug().Str("file", from).Str("backup", to).
			Str("code", ErrCodeFileSystemConflict).Msg("Backed up existing export")
	})
}

// WriteValueExports writes <base>.txt and <base>.json into runPath. Existing
// files are renamed to a timestamped backup first. Nothing is written when
// there is nothing to export. NaN and infinite values are rejected before
// any file is touched.
func WriteValueExports(runPath, base string, exports []ValueExport, onBackup func(from, to string)) error {
	for _, exp := range exports {
		for i, v := range exp.Values.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return NewSerializationError(
					fmt.Sprintf("%s:%s", exp.Key, exp.Values.Keys[i]),
					fmt.Sprintf("cannot export non-finite value %v", v))
			}
		}
	}

	txtPath := parameters.RunPathFile(runPath, base+".txt")
	jsonPath := parameters.RunPathFile(runPath, base+".json")
	now := time.Now()

	if err := backupIfExisting(txtPath, now, onBackup); err != nil {
		return err
	}
	if len(exports) > 0 {
		if err := parameters.WriteFile(txtPath, FormatValuesText(exports)); err != nil {
			return err
		}
	}

	if err := backupIfExisting(jsonPath, now, onBackup); err != nil {
		return err
	}
	if len(exports) > 0 {
		data, err := FormatValuesJSON(exports)
		if err != nil {
			return err
		}
		if err := parameters.WriteFile(jsonPath, data); err != nil {
			return err
		}
	}
	return nil
}

func backupIfExisting(path string, now time.Time, onBackup func(from, to string)) error {
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	backup, err := freeBackupName(path + "_backup_" + now.Format(BackupTimeFormat))
	if err != nil {
		return err
	}
	if err := os.Rename(path, backup); err != nil {
		return NewConflictError(fmt.Sprintf("failed to back up %s", path), err).
			WithCode(ErrCodeFileSystemConflict).
			WithResource(path).
			WithOperation("backup")
	}
	if onBackup != nil {
		onBackup(path, backup)
	}
	return nil
}

// freeBackupName returns base, or base with the first free "_<n>" suffix
// when a backup was already taken within the same second.
func freeBackupName(base string) (string, error) {
	name := base
	for n := 1; ; n++ {
		_, err := os.Lstat(name)
		if os.IsNotExist(err) {
			return name, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to stat %s: %w", name, err)
		}
		name = fmt.Sprintf("%s_%d", base, n)
	}
}

// FormatValuesText renders one "<group>:<name> <value>" line per value.
func FormatValuesText(exports []ValueExport) []byte {
	var buf bytes.Buffer
	for _, exp := range exports {
		for i, name := range exp.Values.Keys {
			fmt.Fprintf(&buf, "%s:%s %s\n", exp.Key, name, parameters.FormatSignificant(exp.Values.Values[i]))
		}
	}
	return buf.Bytes()
}

// FormatValuesJSON renders the exports as a JSON object holding one nested
// object per group followed by one "<group>:<name>" entry per value. Numbers
// use their shortest round-trip representation.
func FormatValuesJSON(exports []ValueExport) ([]byte, error) {
	var entries []string
	for _, exp := range exports {
		var inner []string
		for i, name := range exp.Values.Keys {
			v, err := formatJSONFloat(exp.Values.Values[i])
			if err != nil {
				return nil, err
			}
			inner = append(inner, quoteJSON(name)+" : "+v)
		}
		entries = append(entries, quoteJSON(exp.Key)+" : "+jsonObject(inner))
	}
	for _, exp := range exports {
		for i, name := range exp.Values.Keys {
			v, err := formatJSONFloat(exp.Values.Values[i])
			if err != nil {
				return nil, err
			}
			entries = append(entries, quoteJSON(exp.Key+":"+name)+" : "+v)
		}
	}
	return []byte(jsonObject(entries)), nil
}

func jsonObject(entries []string) string {
	if len(entries) == 0 {
		return "{}"
	}
	return "{\n" + strings.Join(entries, ", \n") + "\n}"
}

func quoteJSON(s string) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	return strings.TrimSuffix(buf.String(), "\n")
}

// formatJSONFloat uses fixed notation for decimal exponents in [-4, 16) and
// exponent notation otherwise. Integral values keep a ".0" suffix.
func formatJSONFloat(v float64) (string, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return "", NewSerializationError("", fmt.Sprintf("cannot export non-finite value %v", v))
	}

	sci := strconv.FormatFloat(v, 'e', -1, 64)
	exp, err := strconv.Atoi(sci[strings.IndexByte(sci, 'e')+1:])
	if err != nil {
		return "", fmt.Errorf("failed to format %v: %w", v, err)
	}
	if exp < -4 || exp >= 16 {
		return sci, nil
	}

	fixed := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(fixed, ".") {
		fixed += ".0"
	}
	return fixed, nil
}
