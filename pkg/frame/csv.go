package frame

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/pgzip"
)

const (
	gzipExt  = ".gz"
	dirMode  = 0o755
	boolTrue = "True"
)

// missingTokens are read as missing cells, matching the NA set the raw
// extracts were written with.
var missingTokens = map[string]bool{
	"":     true,
	"NA":   true,
	"N/A":  true,
	"n/a":  true,
	"NaN":  true,
	"nan":  true,
	"-NaN": true,
	"-nan": true,
	"NULL": true,
	"null": true,
	"None": true,
	"#N/A": true,
	"#NA":  true,
	"<NA>": true,
}

// ReadFile reads a CSV file, decompressing it when the name ends in .gz.
func ReadFile(path string) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = bufio.NewReader(f)
	if strings.HasSuffix(path, gzipExt) {
		zr, err := pgzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("opening gzip stream %s: %w", path, err)
		}
		defer zr.Close()
		r = zr
	}

	fr, err := ReadCSV(r)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return fr, nil
}

// ReadCSV reads a CSV stream with a header row. A column is numeric when
// every present cell parses as a float (True/False count as 1/0).
func ReadCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("missing header row")
		}
		return nil, fmt.Errorf("reading header: %w", err)
	}
	names := append([]string(nil), header...)
	if len(names) > 0 {
		names[0] = strings.TrimPrefix(names[0], "\ufeff")
	}

	raw := make([][]string, len(names))
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading record: %w", err)
		}
		for i, v := range rec {
			raw[i] = append(raw[i], v)
		}
	}

	cols := make([]*Column, len(names))
	for i, name := range names {
		cols[i] = inferColumn(name, raw[i])
	}
	return New(cols...)
}

func inferColumn(name string, vals []string) *Column {
	nums := make([]float64, len(vals))
	for i, v := range vals {
		if missingTokens[v] {
			nums[i] = math.NaN()
			continue
		}
		n, ok := parseNumber(v)
		if !ok {
			strs := make([]string, len(vals))
			for j, s := range vals {
				if !missingTokens[s] {
					strs[j] = s
				}
			}
			return NewCategorical(name, strs)
		}
		nums[i] = n
	}
	return NewNumeric(name, nums)
}

func parseNumber(v string) (float64, bool) {
	switch v {
	case boolTrue:
		return 1, true
	case "False":
		return 0, true
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// WriteFile writes the frame as CSV, creating parent directories and
// compressing when the name ends in .gz.
func (f *Frame) WriteFile(path string) (retErr error) {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("creating dir for %s: %w", path, err)
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && retErr == nil {
			retErr = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	bw := bufio.NewWriter(out)
	var w io.Writer = bw
	var zw *pgzip.Writer
	if strings.HasSuffix(path, gzipExt) {
		zw = pgzip.NewWriter(bw)
		w = zw
	}

	if err := f.WriteCSV(w); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return fmt.Errorf("closing gzip stream %s: %w", path, err)
		}
	}
	return bw.Flush()
}

// WriteCSV writes a header row and one record per row. Missing cells are
// written empty.
func (f *Frame) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Names()); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	rec := make([]string, len(f.cols))
	for i := 0; i < f.rows; i++ {
		for j, c := range f.cols {
			rec[j] = c.Format(i)
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// Format renders cell i the way WriteCSV does.
func (c *Column) Format(i int) string {
	if c.Kind == Categorical {
		return c.Strs[i]
	}
	v := c.Nums[i]
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
