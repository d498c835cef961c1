package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mchmarny/credscore/pkg/data"
	"github.com/mchmarny/credscore/pkg/model"
	"github.com/mchmarny/credscore/pkg/scoring"
)

func setupRouter(t *testing.T) (*http.ServeMux, func() []*data.ScoreRecord) {
	t.Helper()
	m, err := model.Parse(strings.NewReader(testModel))
	require.NoError(t, err)
	s, err := scoring.NewScorer(m)
	require.NoError(t, err)
	db := setupTestDB(t)

	list := func() []*data.ScoreRecord {
		l, err := data.ListScores(db, 10)
		require.NoError(t, err)
		return l
	}
	return makeRouter(db, s), list
}

func serve(mux http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	mux, _ := setupRouter(t)
	w := serve(mux, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestHomeView(t *testing.T) {
	mux, _ := setupRouter(t)
	w := serve(mux, http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "Calculate score")
	assert.Contains(t, body, `<option value="Higher education">`)
	assert.Contains(t, body, "EXT_SOURCE_MEAN")
}

func TestStaticAssets(t *testing.T) {
	mux, _ := setupRouter(t)
	w := serve(mux, http.MethodGet, "/static/assets/css/app.css", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "band-high")
}

func TestScoreAPIHandler(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		score  int
		band   scoring.Band
	}{
		{"high risk defaults", `{}`, http.StatusOK, highRiskScore, scoring.BandHigh},
		{"low risk", `{"ext_source_1":0.8,"ext_source_2":0.8,"ext_source_3":0.8}`, http.StatusOK, lowRiskScore, scoring.BandLow},
		{"invalid age", `{"age":10}`, http.StatusBadRequest, 0, ""},
		{"invalid option", `{"occupation":"Astronaut"}`, http.StatusBadRequest, 0, ""},
		{"malformed", `{"age":`, http.StatusBadRequest, 0, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux, list := setupRouter(t)
			w := serve(mux, http.MethodPost, "/api/score", "application/json", tt.body)
			require.Equal(t, tt.status, w.Code, w.Body.String())

			if tt.status != http.StatusOK {
				var e map[string]string
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e))
				assert.NotEmpty(t, e["error"])
				assert.Empty(t, list())
				return
			}

			var res scoring.Result
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
			assert.Equal(t, tt.score, res.CreditScore)
			assert.Equal(t, tt.band, res.Band)
			assert.Len(t, res.Factors, 3)

			saved := list()
			require.Len(t, saved, 1)
			assert.Equal(t, data.SourceServer, saved[0].Source)
			assert.Equal(t, tt.score, saved[0].CreditScore)
		})
	}
}

func TestScoreViewHandler(t *testing.T) {
	mux, list := setupRouter(t)

	form := url.Values{}
	form.Set("age", "40")
	form.Set("ext_source_1", "0.9")
	form.Set("ext_source_2", "0.9")
	form.Set("ext_source_3", "0.9")
	form.Set("own_car", "on")

	w := serve(mux, http.MethodPost, "/score", "application/x-www-form-urlencoded", form.Encode())
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `<span id="credit-score">784</span>`)
	assert.Contains(t, w.Body.String(), scoring.DecisionApproved)

	saved := list()
	require.Len(t, saved, 1)
	assert.Contains(t, saved[0].Applicant, `"own_car":true`)
	assert.Contains(t, saved[0].Applicant, `"own_realty":false`)
}

func TestScoreViewHandler_Invalid(t *testing.T) {
	mux, list := setupRouter(t)
	w := serve(mux, http.MethodPost, "/score", "application/x-www-form-urlencoded", "income=lots")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "income must be a number")
	assert.Empty(t, list())
}

func TestImportanceAPIHandler(t *testing.T) {
	mux, _ := setupRouter(t)

	w := serve(mux, http.MethodGet, "/api/model/importance?type=gain&top=1", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var imp []*model.Importance
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &imp))
	require.Len(t, imp, 1)
	assert.Equal(t, "EXT_SOURCE_MEAN", imp[0].Feature)
	assert.InDelta(t, 12.5, imp[0].Value, 1e-9)

	w = serve(mux, http.MethodGet, "/api/model/importance", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &imp))
	assert.Len(t, imp, 2)

	w = serve(mux, http.MethodGet, "/api/model/importance?type=cover", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestScoresAPIHandler(t *testing.T) {
	mux, _ := setupRouter(t)
	for range 3 {
		w := serve(mux, http.MethodPost, "/api/score", "application/json", `{}`)
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := serve(mux, http.MethodGet, "/api/scores?limit=2", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []*data.ScoreRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Len(t, list, 2)
}

func TestScoreAPIGetHandler(t *testing.T) {
	mux, list := setupRouter(t)
	w := serve(mux, http.MethodPost, "/api/score", "application/json", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	saved := list()
	require.Len(t, saved, 1)

	w = serve(mux, http.MethodGet, fmt.Sprintf("/api/scores/%d", saved[0].ID), "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec data.ScoreRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, saved[0].ID, rec.ID)
	assert.Equal(t, highRiskScore, rec.CreditScore)

	w = serve(mux, http.MethodGet, "/api/scores/999", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = serve(mux, http.MethodGet, "/api/scores/abc", "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryParamInt(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 7},
		{"n=3", 3},
		{"n=abc", 7},
		{"n=0", 7},
		{"n=1000", 7},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
		assert.Equal(t, tt.want, queryParamInt(r, "n", 7, 100), tt.query)
	}
}

func TestDict(t *testing.T) {
	m, err := dict("a", 1, "b", "x")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": "x"}, m)

	_, err = dict("a")
	assert.Error(t, err)
	_, err = dict(1, 2)
	assert.Error(t, err)
}
