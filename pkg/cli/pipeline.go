package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/mchmarny/credscore/pkg/data"
	"github.com/mchmarny/credscore/pkg/features"
	"github.com/mchmarny/credscore/pkg/frame"
	"github.com/mchmarny/credscore/pkg/medians"
	"github.com/mchmarny/credscore/pkg/prep"
	"github.com/mchmarny/credscore/pkg/quality"
	"github.com/mchmarny/credscore/pkg/scaling"
)

const matrixFileName = "train_features.csv"

var (
	rawDirFlag = &cli.StringFlag{
		Name:  "raw",
		Usage: "Directory with the raw extracts (default: paths.rawDir from config)",
	}

	processedDirFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "Directory to write the processed tables into (default: paths.processedDir from config)",
	}

	concurrencyFlag = &cli.IntFlag{
		Name:  "concurrency",
		Usage: "Number of raw files parsed at once",
		Value: 4,
	}

	inputFileFlag = &cli.StringFlag{
		Name:  "file",
		Usage: "Processed table to read (default: train_processed.csv in paths.processedDir)",
	}

	strictFlag = &cli.BoolFlag{
		Name:  "strict",
		Usage: "Exit with an error when a check fails",
	}

	artifactOutFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "Path of the artifact to write (default: from config)",
	}

	featureNamesFlag = &cli.StringFlag{
		Name:  "features",
		Usage: "CSV file with a feature column listing the model features (default: paths.featureNames from config)",
	}

	matrixFlag = &cli.BoolFlag{
		Name:  "matrix",
		Usage: "Also write the scaled feature matrix into paths.featuresDir",
	}

	preprocessCmd = &cli.Command{
		Name:   "preprocess",
		Usage:  "Clean, aggregate and merge the raw extracts into processed tables",
		Flags:  []cli.Flag{rawDirFlag, processedDirFlag, concurrencyFlag},
		Action: cmdPreprocess,
	}

	qualityCmd = &cli.Command{
		Name:   "quality",
		Usage:  "Run data-quality checks over a processed table",
		Flags:  []cli.Flag{inputFileFlag, strictFlag},
		Action: cmdQuality,
	}

	mediansCmd = &cli.Command{
		Name:   "medians",
		Usage:  "Compute the feature medians used to default missing applicant inputs",
		Flags:  []cli.Flag{inputFileFlag, artifactOutFlag},
		Action: cmdMedians,
	}

	scalingCmd = &cli.Command{
		Name:   "scaling",
		Usage:  "Fit the median imputer and robust scaler on the engineered features",
		Flags:  []cli.Flag{inputFileFlag, featureNamesFlag, artifactOutFlag, matrixFlag},
		Action: cmdScaling,
	}
)

func processedFile(cmd *cli.Command, cfg *appConfig) string {
	if p := cmd.String(inputFileFlag.Name); p != "" {
		return p
	}
	return filepath.Join(cfg.Config.Paths.ProcessedDir, prep.TrainOutput)
}

func cmdPreprocess(ctx context.Context, cmd *cli.Command) error {
	start := time.Now()
	cfg := getConfig(cmd)

	opts := prep.Options{
		RawDir:       cmd.String(rawDirFlag.Name),
		ProcessedDir: cmd.String(processedDirFlag.Name),
		Concurrency:  cmd.Int(concurrencyFlag.Name),
	}
	if opts.RawDir == "" {
		opts.RawDir = cfg.Config.Paths.RawDir
	}
	if opts.ProcessedDir == "" {
		opts.ProcessedDir = cfg.Config.Paths.ProcessedDir
	}

	run := &data.Run{Step: cmd.Name, Input: opts.RawDir, Output: opts.ProcessedDir}
	res, err := prep.Run(ctx, opts)
	if err == nil && len(res.Outputs) > 0 {
		run.Rows = res.Outputs[0].Rows
		run.Cols = res.Outputs[0].Cols
	}
	recordRun(cfg.DB, run, start, err)
	if err != nil {
		return err
	}
	return encode(cmd, res)
}

func cmdQuality(_ context.Context, cmd *cli.Command) error {
	start := time.Now()
	cfg := getConfig(cmd)
	path := processedFile(cmd, cfg)

	run := &data.Run{Step: cmd.Name, Input: path}
	report, err := func() (*quality.Report, error) {
		f, err := frame.ReadFile(path)
		if err != nil {
			return nil, err
		}
		run.Rows, run.Cols = f.Len(), f.Width()
		r := quality.Run(f, quality.DefaultThresholds())
		if r.Failed() {
			return r, errors.New("data-quality checks failed")
		}
		return r, nil
	}()
	recordRun(cfg.DB, run, start, err)
	if report == nil {
		return err
	}

	if encErr := encode(cmd, report); encErr != nil {
		return encErr
	}
	if err != nil && cmd.Bool(strictFlag.Name) {
		return err
	}
	return nil
}

func cmdMedians(_ context.Context, cmd *cli.Command) error {
	start := time.Now()
	cfg := getConfig(cmd)
	path := processedFile(cmd, cfg)
	out := cmd.String(artifactOutFlag.Name)
	if out == "" {
		out = cfg.Config.Paths.Medians
	}

	run := &data.Run{Step: cmd.Name, Input: path, Output: out}
	m, err := func() (medians.Medians, error) {
		f, err := frame.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if d, err := features.Derive(f); err != nil {
			slog.Warn("engineered features not derived, using processed columns only", "error", err)
		} else {
			f = d
		}
		m := medians.Compute(f)
		run.Rows, run.Cols = f.Len(), len(m)
		return m, medians.Save(out, m)
	}()
	recordRun(cfg.DB, run, start, err)
	if err != nil {
		return err
	}

	slog.Info("medians saved", "path", out, "features", len(m))
	return encode(cmd, map[string]any{
		"path":     out,
		"features": len(m),
	})
}

// expectedFeatures reads the feature list, falling back to the scoring
// front-end's list when the file does not exist.
func expectedFeatures(path string) ([]string, error) {
	names, err := features.ReadNames(path)
	if err == nil {
		return names, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		slog.Debug("feature list not found, using defaults", "path", path)
		return features.Expected, nil
	}
	return nil, err
}

func cmdScaling(_ context.Context, cmd *cli.Command) error {
	start := time.Now()
	cfg := getConfig(cmd)
	path := processedFile(cmd, cfg)
	out := cmd.String(artifactOutFlag.Name)
	if out == "" {
		out = cfg.Config.Paths.Preprocessor
	}
	namesPath := cmd.String(featureNamesFlag.Name)
	if namesPath == "" {
		namesPath = cfg.Config.Paths.FeatureNames
	}

	run := &data.Run{Step: cmd.Name, Input: path, Output: out}
	p, err := func() (*scaling.Preprocessor, error) {
		expected, err := expectedFeatures(namesPath)
		if err != nil {
			return nil, err
		}
		f, err := frame.ReadFile(path)
		if err != nil {
			return nil, err
		}
		m, err := scaling.BuildMatrix(f, expected)
		if err != nil {
			return nil, fmt.Errorf("building feature matrix: %w", err)
		}
		p, err := scaling.Fit(m)
		if err != nil {
			return nil, err
		}
		run.Rows, run.Cols = m.Len(), m.Width()
		if err := p.Save(out); err != nil {
			return nil, err
		}
		if !cmd.Bool(matrixFlag.Name) {
			return p, nil
		}
		scaled, err := p.TransformFrame(m)
		if err != nil {
			return nil, err
		}
		return p, scaled.WriteFile(filepath.Join(cfg.Config.Paths.FeaturesDir, matrixFileName))
	}()
	recordRun(cfg.DB, run, start, err)
	if err != nil {
		return err
	}

	return encode(cmd, map[string]any{
		"path":      out,
		"features":  len(p.Features),
		"rows":      p.Rows,
		"fitted_at": p.FittedAt,
	})
}
