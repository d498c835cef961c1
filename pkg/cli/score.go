package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/mchmarny/credscore/pkg/config"
	"github.com/mchmarny/credscore/pkg/data"
	"github.com/mchmarny/credscore/pkg/features"
	"github.com/mchmarny/credscore/pkg/medians"
	"github.com/mchmarny/credscore/pkg/model"
	"github.com/mchmarny/credscore/pkg/scaling"
	"github.com/mchmarny/credscore/pkg/scoring"
)

const (
	defaultTopFeatures = 10
	defaultListLimit   = 50
)

var (
	modelFlag = &cli.StringFlag{
		Name:  "model",
		Usage: "Path to the LightGBM JSON model dump (default: paths.model from config)",
	}

	topFlag = &cli.IntFlag{
		Name:  "top",
		Usage: "Number of features to list",
		Value: defaultTopFeatures,
	}

	importanceTypeFlag = &cli.StringFlag{
		Name:  "type",
		Usage: "Importance type [split, gain]",
		Value: string(model.ImportanceSplit),
	}

	applicantFileFlag = &cli.StringFlag{
		Name:  "file",
		Usage: "YAML or JSON file with the applicant answers",
	}

	noSaveFlag = &cli.BoolFlag{
		Name:  "no-save",
		Usage: "Do not store the score in the history",
	}

	limitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "Maximum number of records to list",
		Value: defaultListLimit,
	}

	modelFeaturesFlag = &cli.StringFlag{
		Name:  "features",
		Usage: "CSV file with a feature column naming the model features, for dumps without names",
	}

	stepFlag = &cli.StringFlag{
		Name:  "step",
		Usage: "Only list runs of this step",
	}

	inspectCmd = &cli.Command{
		Name:   "inspect",
		Usage:  "Show the model summary and its most important features",
		Flags:  []cli.Flag{modelFlag, modelFeaturesFlag, topFlag, importanceTypeFlag},
		Action: cmdInspect,
	}

	scoreCmd = &cli.Command{
		Name:  "score",
		Usage: "Score a credit applicant",
		UsageText: `credscore score --file applicant.yaml
   credscore score --age 45 --income 120000 --credit 300000 --ext-source-2 0.7`,
		Flags:  append([]cli.Flag{applicantFileFlag, modelFlag, modelFeaturesFlag, noSaveFlag}, applicantFlags...),
		Action: cmdScore,
	}

	historyCmd = &cli.Command{
		Name:   "history",
		Usage:  "List scored applicants",
		Flags:  []cli.Flag{limitFlag},
		Action: cmdHistory,
	}

	runsCmd = &cli.Command{
		Name:   "runs",
		Usage:  "List pipeline runs",
		Flags:  []cli.Flag{stepFlag, limitFlag},
		Action: cmdRuns,
	}

	statusCmd = &cli.Command{
		Name:   "status",
		Usage:  "Show the number of stored records",
		Action: cmdStatus,
	}
)

// InspectResult summarizes a model.
type InspectResult struct {
	Name        string               `json:"name" yaml:"name"`
	Objective   string               `json:"objective" yaml:"objective"`
	Trees       int                  `json:"trees" yaml:"trees"`
	Features    int                  `json:"features" yaml:"features"`
	Importance  model.ImportanceType `json:"importance_type" yaml:"importance_type"`
	TopFeatures []*model.Importance  `json:"top_features" yaml:"top_features"`
}

// loadModel reads the model dump and, when a feature list exists, applies
// its names to the model.
func loadModel(path, namesPath string) (*model.Model, error) {
	m, err := model.Load(path)
	if err != nil {
		return nil, err
	}
	if namesPath == "" {
		return m, nil
	}
	names, err := features.ReadNames(namesPath)
	if err != nil {
		return nil, err
	}
	if err := m.WithFeatureNames(names); err != nil {
		return nil, err
	}
	return m, nil
}

// scoringModel loads the model used for scoring. An explicit names file
// always applies. Otherwise the configured feature list applies when it
// exists, and a dump with anonymous feature names cannot be used without one.
func scoringModel(conf *config.Config, modelPath, namesPath string) (*model.Model, error) {
	if modelPath == "" {
		modelPath = conf.Paths.Model
	}
	if namesPath != "" {
		return loadModel(modelPath, namesPath)
	}

	m, err := model.Load(modelPath)
	if err != nil {
		return nil, err
	}

	listPath := conf.Paths.FeatureNames
	var names []string
	if listPath != "" {
		names, err = features.ReadNames(listPath)
	}
	switch {
	case listPath == "" || errors.Is(err, os.ErrNotExist):
		if m.Anonymous() {
			return nil, fmt.Errorf("%w: model %s has anonymous feature names, set paths.feature_names or --features",
				model.ErrFeatureMismatch, modelPath)
		}
		return m, nil
	case err != nil:
		return nil, err
	}

	if err := m.WithFeatureNames(names); err != nil {
		if m.Anonymous() {
			return nil, fmt.Errorf("applying %s: %w", listPath, err)
		}
		slog.Warn("feature list does not match the model, keeping the model names",
			"path", listPath, "error", err)
		return m, nil
	}
	slog.Debug("applied feature names", "path", listPath, "features", len(names))
	return m, nil
}

// newScorer loads the model and the artifacts the config points to. The
// medians are optional; the preprocessor is required when scaling is on.
func newScorer(conf *config.Config, modelPath, namesPath string) (*scoring.Scorer, error) {
	m, err := scoringModel(conf, modelPath, namesPath)
	if err != nil {
		return nil, err
	}

	opts := []scoring.Option{
		scoring.WithScale(scoring.Scale{Base: conf.Scoring.Base, Range: conf.Scoring.Range}),
		scoring.WithBands(scoring.Bands{Low: conf.Scoring.LowRisk, Medium: conf.Scoring.MediumRisk}),
	}

	med, err := medians.Load(conf.Paths.Medians)
	switch {
	case err == nil:
		opts = append(opts, scoring.WithDefaults(med))
	case errors.Is(err, os.ErrNotExist):
		slog.Warn("feature medians not found, missing inputs default to 0", "path", conf.Paths.Medians)
	default:
		return nil, err
	}

	if conf.Scoring.Scale {
		p, err := scaling.Load(conf.Paths.Preprocessor)
		if err != nil {
			return nil, err
		}
		opts = append(opts, scoring.WithPreprocessor(p))
	}

	return scoring.NewScorer(m, opts...)
}

func cmdInspect(_ context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)
	kind, err := model.ParseImportanceType(cmd.String(importanceTypeFlag.Name))
	if err != nil {
		return err
	}

	path := cmd.String(modelFlag.Name)
	if path == "" {
		path = cfg.Config.Paths.Model
	}
	m, err := loadModel(path, cmd.String(modelFeaturesFlag.Name))
	if err != nil {
		return err
	}

	return encode(cmd, &InspectResult{
		Name:        m.Name,
		Objective:   m.Objective,
		Trees:       len(m.Trees),
		Features:    len(m.FeatureNames),
		Importance:  kind,
		TopFeatures: m.TopImportances(cmd.Int(topFlag.Name), kind),
	})
}

// saveScore stores the applicant and its result.
func saveScore(ctx context.Context, db *sql.DB, s *scoring.Scorer, a *scoring.Applicant, source string) (*scoring.Result, *data.ScoreRecord, error) {
	res, err := s.Score(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling applicant: %w", err)
	}
	rec := &data.ScoreRecord{
		Applicant:   string(b),
		Probability: res.Probability,
		CreditScore: res.CreditScore,
		Band:        string(res.Band),
		Decision:    res.Decision,
		Model:       s.Model().Name,
		Source:      source,
		ScoredAt:    res.ScoredAt,
	}
	if err := data.SaveScore(db, rec); err != nil {
		return nil, nil, err
	}
	return res, rec, nil
}

func cmdScore(ctx context.Context, cmd *cli.Command) error {
	cfg := getConfig(cmd)

	a := scoring.DefaultApplicant()
	if p := cmd.String(applicantFileFlag.Name); p != "" {
		var err error
		if a, err = scoring.LoadApplicant(p); err != nil {
			return err
		}
	}
	applyApplicantFlags(cmd, a)

	s, err := newScorer(cfg.Config, cmd.String(modelFlag.Name), cmd.String(modelFeaturesFlag.Name))
	if err != nil {
		return err
	}

	if cmd.Bool(noSaveFlag.Name) {
		res, err := s.Score(ctx, a)
		if err != nil {
			return err
		}
		return encode(cmd, res)
	}

	res, rec, err := saveScore(ctx, cfg.DB, s, a, data.SourceCLI)
	if err != nil {
		return err
	}
	slog.Debug("score saved", "id", rec.ID)
	return encode(cmd, res)
}

func cmdHistory(_ context.Context, cmd *cli.Command) error {
	list, err := data.ListScores(getConfig(cmd).DB, cmd.Int(limitFlag.Name))
	if err != nil {
		return err
	}
	return encode(cmd, list)
}

func cmdRuns(_ context.Context, cmd *cli.Command) error {
	list, err := data.ListRuns(getConfig(cmd).DB, cmd.String(stepFlag.Name), cmd.Int(limitFlag.Name))
	if err != nil {
		return err
	}
	return encode(cmd, list)
}

func cmdStatus(_ context.Context, cmd *cli.Command) error {
	state, err := data.GetDataState(getConfig(cmd).DB)
	if err != nil {
		return err
	}
	return encode(cmd, state)
}
