package parameters

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Grid holds the dimensions of a structured reservoir grid.
type Grid struct {
	NX int `json:"nx"`
	NY int `json:"ny"`
	NZ int `json:"nz"`
}

// Size returns the number of cells.
func (g Grid) Size() int {
	return g.NX * g.NY * g.NZ
}

// GridLoader loads grid geometry. Binary grid formats are provided by
// external services behind this interface.
type GridLoader interface {
	LoadGrid(path string) (Grid, error)
}

// GRDECLGridLoader reads the SPECGRID keyword of a text grid file.
type GRDECLGridLoader struct{}

// LoadGrid implements GridLoader.
func (GRDECLGridLoader) LoadGrid(path string) (Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return Grid{}, fmt.Errorf("failed to open grid file: %w", err)
	}
	defer f.Close()

	tokens, err := readTokens(f, "SPECGRID")
	if err != nil {
		return Grid{}, fmt.Errorf("%s: %w", path, err)
	}
	if len(tokens) < 3 {
		return Grid{}, fmt.Errorf("%s: SPECGRID needs NX NY NZ", path)
	}
	var dims [3]int
	for i := range dims {
		if dims[i], err = strconv.Atoi(tokens[i]); err != nil {
			return Grid{}, fmt.Errorf("%s: invalid SPECGRID dimension %q", path, tokens[i])
		}
	}
	g := Grid{NX: dims[0], NY: dims[1], NZ: dims[2]}
	if g.NX <= 0 || g.NY <= 0 || g.NZ <= 0 {
		return Grid{}, fmt.Errorf("%s: invalid grid dimensions %dx%dx%d", path, g.NX, g.NY, g.NZ)
	}
	return g, nil
}

// ReadGRDECL reads the values of keyword from a GRDECL file. When keyword is
// empty the first keyword in the file is read.
func ReadGRDECL(path, keyword string) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	values, err := readKeyword(f, keyword)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return values, nil
}

// WriteGRDECL writes values under keyword, six values per line.
func WriteGRDECL(path, keyword string, values []float64) error {
	var buf bytes.Buffer
	buf.WriteString(keyword)
	buf.WriteByte('\n')
	for i, v := range values {
		buf.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		if (i+1)%6 == 0 || i == len(values)-1 {
			buf.WriteByte('\n')
		} else {
			buf.WriteByte(' ')
		}
	}
	buf.WriteString("/\n")
	return WriteFile(path, buf.Bytes())
}

// readKeyword scans GRDECL text for keyword and returns its values up to the
// terminating "/". "N*value" repeat counts are expanded.
func readKeyword(r io.Reader, keyword string) ([]float64, error) {
	tokens, err := readTokens(r, keyword)
	if err != nil {
		return nil, err
	}
	values := make([]float64, 0, len(tokens))
	for _, tok := range tokens {
		expanded, err := expandToken(tok)
		if err != nil {
			return nil, err
		}
		values = append(values, expanded...)
	}
	return values, nil
}

// readTokens returns the raw tokens of keyword up to the terminating "/".
// "--" comments are skipped.
func readTokens(r io.Reader, keyword string) ([]string, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	inside := false
	var tokens []string
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "--"); i >= 0 {
			line = line[:i]
		}
		for _, tok := range strings.Fields(line) {
			if !inside {
				if isKeyword(tok) && (keyword == "" || tok == keyword) {
					inside = true
				}
				continue
			}
			if tok == "/" {
				return tokens, nil
			}
			end := strings.HasSuffix(tok, "/")
			if tok = strings.TrimSuffix(tok, "/"); tok != "" {
				tokens = append(tokens, tok)
			}
			if end {
				return tokens, nil
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !inside {
		if keyword == "" {
			return nil, fmt.Errorf("no keyword found")
		}
		return nil, fmt.Errorf("keyword %s not found", keyword)
	}
	return nil, fmt.Errorf("keyword %s not terminated by '/'", keyword)
}

func isKeyword(tok string) bool {
	if tok == "" {
		return false
	}
	c := tok[0]
	return c >= 'A' && c <= 'Z'
}

func expandToken(tok string) ([]float64, error) {
	if count, value, found := strings.Cut(tok, "*"); found {
		n, err := strconv.Atoi(count)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid repeat count in %q", tok)
		}
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value in %q: %w", tok, err)
		}
		out := make([]float64, n)
		for i := range out {
			out[i] = v
		}
		return out, nil
	}
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid value %q: %w", tok, err)
	}
	return []float64{v}, nil
}
