package parameters

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// PriorFunction names a prior distribution.
type PriorFunction string

const (
	PriorNormal          PriorFunction = "NORMAL"
	PriorLogNormal       PriorFunction = "LOGNORMAL"
	PriorTruncatedNormal PriorFunction = "TRUNCATED_NORMAL"
	PriorUniform         PriorFunction = "UNIFORM"
	PriorLogUniform      PriorFunction = "LOGUNIF"
	PriorDUniform        PriorFunction = "DUNIF"
	PriorTriangular      PriorFunction = "TRIANGULAR"
	PriorErrf            PriorFunction = "ERRF"
	PriorDErrf           PriorFunction = "DERRF"
	PriorConst           PriorFunction = "CONST"
	PriorRaw             PriorFunction = "RAW"
)

// priorArgs lists the argument names of each prior, in file order.
var priorArgs = map[PriorFunction][]string{
	PriorNormal:          {"MEAN", "STD"},
	PriorLogNormal:       {"MEAN", "STD"},
	PriorTruncatedNormal: {"MEAN", "STD", "MIN", "MAX"},
	PriorUniform:         {"MIN", "MAX"},
	PriorLogUniform:      {"MIN", "MAX"},
	PriorDUniform:        {"STEPS", "MIN", "MAX"},
	PriorTriangular:      {"XMIN", "XMODE", "XMAX"},
	PriorErrf:            {"MIN", "MAX", "SKEWNESS", "WIDTH"},
	PriorDErrf:           {"STEPS", "MIN", "MAX", "SKEWNESS", "WIDTH"},
	PriorConst:           {"VALUE"},
	PriorRaw:             {},
}

// Prior is the distribution of one GEN_KW scalar.
type Prior struct {
	// Name is the scalar name used as template tag and export key.
	Name string `json:"name"`

	// Function is the distribution family.
	Function PriorFunction `json:"function"`

	// Args holds the distribution arguments keyed by argument name.
	Args map[string]float64 `json:"args"`
}

// NewPrior validates and builds a prior from positional arguments.
func NewPrior(name string, fn PriorFunction, args []float64) (Prior, error) {
	names, ok := priorArgs[fn]
	if !ok {
		return Prior{}, fmt.Errorf("unknown prior function %q for %s", fn, name)
	}
	if len(args) != len(names) {
		return Prior{}, fmt.Errorf("prior %s %s takes %d arguments, got %d", name, fn, len(names), len(args))
	}

	p := Prior{Name: name, Function: fn, Args: make(map[string]float64, len(names))}
	for i, n := range names {
		p.Args[n] = args[i]
	}
	if err := p.Validate(); err != nil {
		return Prior{}, err
	}
	return p, nil
}

// Validate checks the distribution arguments.
func (p Prior) Validate() error {
	a := p.Args
	switch p.Function {
	case PriorLogNormal:
		if a["MEAN"] < 0 {
			return fmt.Errorf("negative MEAN %g for %s distributed parameter %s", a["MEAN"], p.Function, p.Name)
		}
		if a["STD"] < 0 {
			return fmt.Errorf("negative STD %g for %s distributed parameter %s", a["STD"], p.Function, p.Name)
		}
	case PriorNormal, PriorTruncatedNormal:
		if a["STD"] < 0 {
			return fmt.Errorf("negative STD %g for %s distributed parameter %s", a["STD"], p.Function, p.Name)
		}
		if p.Function == PriorTruncatedNormal && a["MIN"] > a["MAX"] {
			return fmt.Errorf("MIN above MAX for %s distributed parameter %s", p.Function, p.Name)
		}
	case PriorUniform, PriorDUniform, PriorErrf, PriorDErrf:
		if a["MIN"] >= a["MAX"] {
			return fmt.Errorf("MIN must be below MAX for %s distributed parameter %s", p.Function, p.Name)
		}
		if (p.Function == PriorDUniform || p.Function == PriorDErrf) && a["STEPS"] < 2 {
			return fmt.Errorf("STEPS must be at least 2 for %s distributed parameter %s", p.Function, p.Name)
		}
		if (p.Function == PriorErrf || p.Function == PriorDErrf) && a["WIDTH"] <= 0 {
			return fmt.Errorf("WIDTH must be positive for %s distributed parameter %s", p.Function, p.Name)
		}
	case PriorLogUniform:
		if a["MIN"] <= 0 || a["MIN"] >= a["MAX"] {
			return fmt.Errorf("LOGUNIF parameter %s needs 0 < MIN < MAX", p.Name)
		}
	case PriorTriangular:
		if !(a["XMIN"] <= a["XMODE"] && a["XMODE"] <= a["XMAX"] && a["XMIN"] < a["XMAX"]) {
			return fmt.Errorf("TRIANGULAR parameter %s needs XMIN <= XMODE <= XMAX", p.Name)
		}
	}
	return nil
}

// Transform maps a standard normal draw onto the prior distribution.
func (p Prior) Transform(z float64) float64 {
	a := p.Args
	switch p.Function {
	case PriorNormal:
		return a["MEAN"] + a["STD"]*z
	case PriorLogNormal:
		mean, std := a["MEAN"], a["STD"]
		if mean == 0 {
			return 0
		}
		mu := math.Log(mean * mean / math.Sqrt(std*std+mean*mean))
		sigma := math.Sqrt(math.Log(std*std/(mean*mean) + 1))
		return math.Exp(mu + sigma*z)
	case PriorTruncatedNormal:
		return math.Min(math.Max(a["MEAN"]+a["STD"]*z, a["MIN"]), a["MAX"])
	case PriorUniform:
		return a["MIN"] + (a["MAX"]-a["MIN"])*normCDF(z)
	case PriorLogUniform:
		lo, hi := math.Log(a["MIN"]), math.Log(a["MAX"])
		return math.Exp(lo + (hi-lo)*normCDF(z))
	case PriorDUniform:
		return discretize(normCDF(z), a["STEPS"], a["MIN"], a["MAX"])
	case PriorTriangular:
		return triangular(normCDF(z), a["XMIN"], a["XMODE"], a["XMAX"])
	case PriorErrf:
		y := normCDF((z + a["SKEWNESS"]) / a["WIDTH"])
		return a["MIN"] + (a["MAX"]-a["MIN"])*y
	case PriorDErrf:
		y := normCDF((z + a["SKEWNESS"]) / a["WIDTH"])
		return discretize(y, a["STEPS"], a["MIN"], a["MAX"])
	case PriorConst:
		return a["VALUE"]
	default:
		return z
	}
}

// ReadPriors reads a priors file with one "NAME FUNCTION ARGS..." line per
// scalar. Blank lines and lines starting with "#" or "--" are ignored.
func ReadPriors(path string) ([]Prior, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open priors file: %w", err)
	}
	defer f.Close()

	priors, err := ParsePriors(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return priors, nil
}

// ParsePriors parses priors from r.
func ParsePriors(r io.Reader) ([]Prior, error) {
	var priors []Prior
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") || strings.HasPrefix(text, "--") {
			continue
		}

		fields := strings.Fields(text)
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: expected NAME FUNCTION [ARGS...]", line)
		}

		args := make([]float64, 0, len(fields)-2)
		for _, f := range fields[2:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid argument %q: %w", line, f, err)
			}
			args = append(args, v)
		}

		p, err := NewPrior(fields[0], PriorFunction(strings.ToUpper(fields[1])), args)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("line %d: duplicate parameter %s", line, p.Name)
		}
		seen[p.Name] = true
		priors = append(priors, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return priors, nil
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func discretize(y, steps, lo, hi float64) float64 {
	bin := math.Floor(y * steps)
	if bin >= steps {
		bin = steps - 1
	}
	return lo + bin/(steps-1)*(hi-lo)
}

func triangular(u, lo, mode, hi float64) float64 {
	fc := (mode - lo) / (hi - lo)
	if u < fc {
		return lo + math.Sqrt(u*(hi-lo)*(mode-lo))
	}
	return hi - math.Sqrt((1-u)*(hi-lo)*(hi-mode))
}
