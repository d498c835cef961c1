package prep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mchmarny/credscore/pkg/frame"
	"golang.org/x/sync/errgroup"
)

const (
	TableApplicationTrain = "application_train"
	TableApplicationTest  = "application_test"
	TableBureau           = "bureau"
	TableBureauBalance    = "bureau_balance"
	TableCreditCard       = "credit_card_balance"
	TableInstallments     = "installments_payments"
	TablePrevious         = "previous_application"
	TablePOSCash          = "POS_CASH_balance"

	TrainOutput = "train_processed.csv"
	TestOutput  = "test_processed.csv"

	bureauPrefix   = "BUREAU"
	previousPrefix = "PREV"
	bureauIDCol    = "SK_ID_BUREAU"
	previousIDCol  = "SK_ID_PREV"

	loadConcurrencyDefault = 4
)

// RawTables lists the raw extract names in load order.
var RawTables = []string{
	TableApplicationTrain,
	TableApplicationTest,
	TableBureau,
	TableBureauBalance,
	TableCreditCard,
	TableInstallments,
	TablePrevious,
	TablePOSCash,
}

var ErrNoApplicationData = errors.New("no application table found")

// Tables maps raw table names to their loaded frames.
type Tables map[string]*frame.Frame

// FindRaw returns the path of a raw table in dir, preferring the plain
// .csv file over .csv.gz. ok is false when neither exists.
func FindRaw(dir, table string) (path string, ok bool) {
	for _, ext := range []string{".csv", ".csv.gz"} {
		p := filepath.Join(dir, table+ext)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}

// LoadRaw reads every known raw table present in dir. Absent tables are
// logged and skipped. Up to concurrency files are parsed at once.
func LoadRaw(ctx context.Context, dir string, concurrency int) (Tables, error) {
	if concurrency < 1 {
		concurrency = loadConcurrencyDefault
	}
	slog.Info("loading raw data", "dir", dir)

	var mu sync.Mutex
	tables := make(Tables)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, name := range RawTables {
		path, ok := FindRaw(dir, name)
		if !ok {
			slog.Warn("raw table not found", "table", name, "dir", dir)
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			slog.Info("loading table", "file", filepath.Base(path))
			f, err := frame.ReadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", name, err)
			}
			slog.Debug("table loaded", "table", name, "rows", f.Len(), "cols", f.Width())
			mu.Lock()
			tables[name] = f
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return tables, nil
}

// Options configure a preprocessing run.
type Options struct {
	RawDir       string
	ProcessedDir string
	Concurrency  int
}

// Output describes one written table.
type Output struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
	Rows int    `json:"rows" yaml:"rows"`
	Cols int    `json:"cols" yaml:"cols"`
}

// Result summarizes a preprocessing run.
type Result struct {
	Loaded   map[string]int            `json:"loaded" yaml:"loaded"`
	Encoding map[string]*EncodeSummary `json:"encoding,omitempty" yaml:"encoding,omitempty"`
	Outputs  []*Output                 `json:"outputs" yaml:"outputs"`
	Duration string                    `json:"duration" yaml:"duration"`
}

// Run loads the raw tables, cleans the application tables, aggregates the
// bureau and previous-application tables per applicant, merges them and
// writes the processed train and test tables.
func Run(ctx context.Context, opts Options) (*Result, error) {
	start := time.Now()
	if opts.RawDir == "" || opts.ProcessedDir == "" {
		return nil, errors.New("raw and processed directories are required")
	}

	data, err := LoadRaw(ctx, opts.RawDir, opts.Concurrency)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Loaded:   make(map[string]int, len(data)),
		Encoding: make(map[string]*EncodeSummary),
		Outputs:  make([]*Output, 0, 2),
	}
	for k, v := range data {
		res.Loaded[k] = v.Len()
	}

	if data[TableApplicationTrain] == nil && data[TableApplicationTest] == nil {
		return nil, fmt.Errorf("%w in %s", ErrNoApplicationData, opts.RawDir)
	}

	secondary := make([]*frame.Frame, 0, 2)
	if b, ok := data[TableBureau]; ok {
		slog.Info("preprocessing bureau data")
		agg, err := Aggregate(b, KeyColumn, bureauPrefix, bureauIDCol)
		if err != nil {
			return nil, fmt.Errorf("aggregating bureau: %w", err)
		}
		secondary = append(secondary, agg)
	}
	if p, ok := data[TablePrevious]; ok {
		slog.Info("preprocessing previous applications")
		agg, err := Aggregate(p, KeyColumn, previousPrefix, previousIDCol)
		if err != nil {
			return nil, fmt.Errorf("aggregating previous applications: %w", err)
		}
		secondary = append(secondary, agg)
	}

	targets := []struct{ table, output string }{
		{TableApplicationTrain, TrainOutput},
		{TableApplicationTest, TestOutput},
	}
	for _, t := range targets {
		app, ok := data[t.table]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		slog.Info("cleaning application data", "table", t.table)
		clean, sum, err := CleanApplication(app)
		if err != nil {
			return nil, fmt.Errorf("cleaning %s: %w", t.table, err)
		}
		res.Encoding[t.table] = sum

		merged := clean
		for _, s := range secondary {
			if merged, err = MergeLeft(merged, s, KeyColumn); err != nil {
				return nil, fmt.Errorf("merging into %s: %w", t.table, err)
			}
		}

		path := filepath.Join(opts.ProcessedDir, t.output)
		slog.Info("saving processed data", "path", path)
		if err := merged.WriteFile(path); err != nil {
			return nil, err
		}
		res.Outputs = append(res.Outputs, &Output{
			Name: t.table,
			Path: path,
			Rows: merged.Len(),
			Cols: merged.Width(),
		})
	}

	res.Duration = time.Since(start).String()
	slog.Info("data processing complete", "outputs", len(res.Outputs), "duration", res.Duration)
	return res, nil
}
