package cli

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/mchmarny/credscore/pkg/auth"
	"github.com/mchmarny/credscore/pkg/config"
	"github.com/mchmarny/credscore/pkg/data"
	"github.com/mchmarny/credscore/pkg/features"
	"github.com/mchmarny/credscore/pkg/scaling"
)

// testModel scores applicants whose mean external score is at most 0.5
// as high risk (raw 1) and the rest as low risk (raw -2).
const testModel = `{
  "name": "tree",
  "version": "v4",
  "num_class": 1,
  "num_tree_per_iteration": 1,
  "objective": "binary sigmoid:1",
  "average_output": false,
  "feature_names": ["EXT_SOURCE_MEAN", "CREDIT_TO_ANNUITY_RATIO"],
  "tree_info": [
    {
      "tree_index": 0,
      "tree_structure": {
        "split_feature": 0,
        "split_gain": 12.5,
        "threshold": 0.5,
        "decision_type": "<=",
        "default_left": true,
        "missing_type": "None",
        "left_child": {"leaf_value": 1.0},
        "right_child": {"leaf_value": -2.0}
      }
    },
    {
      "tree_index": 1,
      "tree_structure": {
        "split_feature": 1,
        "split_gain": 3,
        "threshold": 1000,
        "decision_type": "<=",
        "default_left": true,
        "missing_type": "None",
        "left_child": {"leaf_value": 0},
        "right_child": {"leaf_value": 0}
      }
    }
  ]
}`

const (
	highRiskScore = 447
	lowRiskScore  = 784
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, data.Init(dbPath))
	db, err := data.GetDB(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

type testEnv struct {
	dir    string
	db     string
	config string
	model  string
}

// newTestEnv writes a config pointing at a test model inside a temp dir and
// points HOME there so nothing touches the real home dir.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)

	e := &testEnv{
		dir:    dir,
		db:     filepath.Join(dir, data.DataFileName),
		config: filepath.Join(dir, config.FileName),
		model:  filepath.Join(dir, "model.json"),
	}
	require.NoError(t, os.WriteFile(e.model, []byte(testModel), 0o600))

	c := config.Default()
	c.Paths.RawDir = filepath.Join(dir, "raw")
	c.Paths.ProcessedDir = filepath.Join(dir, "processed")
	c.Paths.FeaturesDir = filepath.Join(dir, "features")
	c.Paths.Model = e.model
	c.Paths.Medians = filepath.Join(dir, "medians.json")
	c.Paths.Preprocessor = filepath.Join(dir, "preprocessor.json")
	c.Paths.FeatureNames = filepath.Join(dir, "feature_names.csv")
	require.NoError(t, config.Save(dir, c))
	return e
}

// run executes the app with the root flags of e and returns its output.
func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.Reader = strings.NewReader(stdin)

	full := append([]string{appName, "--db", e.db, "--config", e.config, "--format", formatJSON}, args...)
	err := app.Run(context.Background(), full)
	return out.String(), err
}

func (e *testEnv) openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := data.GetDB(e.db)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestStatus(t *testing.T) {
	e := newTestEnv(t)
	out, err := e.run(t, "", "status")
	require.NoError(t, err)

	var state map[string]int64
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	assert.Equal(t, int64(0), state["scores"])
	assert.Equal(t, int64(0), state["runs"])
}

func TestScoreCommand(t *testing.T) {
	e := newTestEnv(t)
	out, err := e.run(t, "", "score",
		"--ext-source-1", "0.8",
		"--ext-source-2", "0.8",
		"--ext-source-3", "0.8",
		"--age", "45",
	)
	require.NoError(t, err)

	var res struct {
		CreditScore int    `json:"credit_score"`
		Band        string `json:"band"`
		Decision    string `json:"decision"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, lowRiskScore, res.CreditScore)
	assert.Equal(t, "low", res.Band)
	assert.Equal(t, "Approved", res.Decision)

	list, err := data.ListScores(e.openDB(t), 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, data.SourceCLI, list[0].Source)
	assert.Contains(t, list[0].Applicant, `"age":45`)
}

func TestScoreCommand_AnonymousModel(t *testing.T) {
	e := newTestEnv(t)
	anon := strings.Replace(testModel, `["EXT_SOURCE_MEAN", "CREDIT_TO_ANNUITY_RATIO"]`, `["Column_0", "Column_1"]`, 1)
	require.NoError(t, os.WriteFile(e.model, []byte(anon), 0o600))

	score := func(ext string) (int, error) {
		out, err := e.run(t, "", "score", "--no-save",
			"--ext-source-1", ext,
			"--ext-source-2", ext,
			"--ext-source-3", ext,
		)
		if err != nil {
			return 0, err
		}
		var res struct {
			CreditScore int `json:"credit_score"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &res))
		return res.CreditScore, nil
	}

	_, err := score("0.9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anonymous feature names")

	names := "feature\nEXT_SOURCE_MEAN\nCREDIT_TO_ANNUITY_RATIO\n"
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "feature_names.csv"), []byte(names), 0o600))

	low, err := score("0.9")
	require.NoError(t, err)
	high, err := score("0.1")
	require.NoError(t, err)
	assert.Equal(t, lowRiskScore, low)
	assert.Equal(t, highRiskScore, high)
}

func TestHistory(t *testing.T) {
	e := newTestEnv(t)
	// migrate the database before writing to it directly
	_, err := e.run(t, "", "status")
	require.NoError(t, err)

	db := e.openDB(t)
	for _, band := range []string{"low", "high"} {
		require.NoError(t, data.SaveScore(db, &data.ScoreRecord{Applicant: "{}", Band: band, Source: data.SourceCLI}))
	}

	out, err := e.run(t, "", "history", "--limit", "1")
	require.NoError(t, err)
	var list []*data.ScoreRecord
	require.NoError(t, json.Unmarshal([]byte(out), &list))
	assert.Len(t, list, 1)
}

const rawApplication = `SK_ID_CURR,TARGET,NAME_CONTRACT_TYPE,CODE_GENDER,NAME_INCOME_TYPE,DAYS_EMPLOYED,AMT_ANNUITY,AMT_INCOME_TOTAL
1,0,Cash loans,M,Working,-1000,2000,100000
2,1,Revolving loans,F,Pensioner,365243,,200000
3,0,Cash loans,,State servant,-3000,4000,150000
`

func TestPreprocessQualityRuns(t *testing.T) {
	e := newTestEnv(t)
	raw := filepath.Join(e.dir, "raw")
	processed := filepath.Join(e.dir, "processed")
	require.NoError(t, os.MkdirAll(raw, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(raw, "application_train.csv"), []byte(rawApplication), 0o600))

	_, err := e.run(t, "", "preprocess", "--raw", raw, "--out", processed)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(processed, "train_processed.csv"))

	out, err := e.run(t, "", "quality", "--file", filepath.Join(processed, "train_processed.csv"), "--strict")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "PASS"`)

	out, err = e.run(t, "", "runs")
	require.NoError(t, err)
	var runs []*data.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, data.RunStatusOK, r.Status)
		assert.Equal(t, 3, r.Rows)
	}
}

const processedTable = `SK_ID_CURR,AMT_CREDIT,AMT_ANNUITY,AMT_GOODS_PRICE,AMT_INCOME_TOTAL,DAYS_BIRTH,DAYS_EMPLOYED,EXT_SOURCE_1,EXT_SOURCE_2,EXT_SOURCE_3
1,200000,10000,180000,50000,-10950,-1825,0.5,0.6,0.7
2,400000,20000,350000,90000,-14600,-3650,0.2,0.3,
3,300000,15000,270000,70000,-12775,-730,,0.4,0.5
4,100000,5000,90000,30000,-9125,-365,0.9,0.8,0.7
`

func TestMediansAndScaling(t *testing.T) {
	e := newTestEnv(t)
	table := filepath.Join(e.dir, "processed.csv")
	require.NoError(t, os.WriteFile(table, []byte(processedTable), 0o600))

	medPath := filepath.Join(e.dir, "medians.json")
	out, err := e.run(t, "", "medians", "--file", table, "--out", medPath)
	require.NoError(t, err)
	assert.Contains(t, out, medPath)
	assert.FileExists(t, medPath)

	prePath := filepath.Join(e.dir, "preprocessor.json")
	_, err = e.run(t, "", "scaling",
		"--file", table,
		"--out", prePath,
		"--features", filepath.Join(e.dir, "missing.csv"),
		"--matrix",
	)
	require.NoError(t, err)

	p, err := scaling.Load(prePath)
	require.NoError(t, err)
	assert.Equal(t, features.Expected, p.Features)
	assert.Equal(t, 4, p.Rows)
	assert.FileExists(t, filepath.Join(e.dir, "features", matrixFileName))
}

func TestInspect(t *testing.T) {
	e := newTestEnv(t)
	out, err := e.run(t, "", "inspect", "--top", "1", "--type", "gain")
	require.NoError(t, err)

	var res InspectResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.Trees)
	assert.Equal(t, 2, res.Features)
	require.Len(t, res.TopFeatures, 1)
	assert.Equal(t, features.ExtSourceMean, res.TopFeatures[0].Feature)
	assert.InDelta(t, 12.5, res.TopFeatures[0].Value, 1e-9)
}

func TestReset(t *testing.T) {
	e := newTestEnv(t)
	_, err := e.run(t, "", "status")
	require.NoError(t, err)
	db := e.openDB(t)
	require.NoError(t, data.SaveScore(db, &data.ScoreRecord{Applicant: "{}", Band: "low", Source: data.SourceCLI}))

	out, err := e.run(t, "n\n", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted.")
	list, err := data.ListScores(db, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	out, err = e.run(t, "", "reset", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Reset complete.")
	list, err = data.ListScores(db, 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAuthToken(t *testing.T) {
	keyring.MockInit()
	e := newTestEnv(t)

	out, err := e.run(t, "", "auth", "--token", "secret-token")
	require.NoError(t, err)
	assert.Contains(t, out, "Token saved")

	token, err := auth.NewTokenStore(e.dir).Get()
	require.NoError(t, err)
	assert.Equal(t, "secret-token", token)
}

func TestYAMLFormat(t *testing.T) {
	e := newTestEnv(t)
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	err := app.Run(context.Background(), []string{appName, "--db", e.db, "--config", e.config, "--format", "yml", "status"})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "scores: 0")
}
