package cli

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/mchmarny/credscore/pkg/data"
	"github.com/mchmarny/credscore/pkg/model"
	"github.com/mchmarny/credscore/pkg/scoring"
)

const (
	maxRequestBytes     = 1 << 20
	importanceTopLimit  = 100
	scoreListLimitMax   = 500
	importanceTopOnPage = 10
)

var templateFuncs = template.FuncMap{
	"pct":  func(p float64) string { return fmt.Sprintf("%.1f%%", p*100) },
	"num":  func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
	"dict": dict,
}

// dict builds a map from alternating keys and values so a template can
// pass several arguments to another template.
func dict(kv ...any) (map[string]any, error) {
	if len(kv)%2 != 0 {
		return nil, errors.New("dict requires key value pairs")
	}
	m := make(map[string]any, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			return nil, fmt.Errorf("dict key %v is not a string", kv[i])
		}
		m[k] = kv[i+1]
	}
	return m, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryParamInt(r *http.Request, key string, def, maxVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}

	i, err := strconv.Atoi(v)
	if err != nil {
		slog.Error("error converting query string to int", "value", v, "error", err)
		return def
	}

	if i < 1 || i > maxVal {
		return def
	}
	return i
}

// scoreStatus maps a scoring error to the HTTP status and message shown
// to the caller.
func scoreStatus(err error) (int, string) {
	if errors.Is(err, scoring.ErrInvalidApplicant) {
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "failed to score applicant"
}

type homeView struct {
	Version     string
	Applicant   *scoring.Applicant
	Result      *scoring.Result
	Error       string
	Options     map[string][]string
	ModelName   string
	Importances []*model.Importance
}

func newHomeView(s *scoring.Scorer, a *scoring.Applicant) *homeView {
	return &homeView{
		Version:   version,
		Applicant: a,
		Options: map[string][]string{
			"gender":            scoring.Genders,
			"education":         scoring.Educations,
			"family_status":     scoring.FamilyStatuses,
			"housing_type":      scoring.HousingTypes,
			"occupation":        scoring.Occupations,
			"organization_type": scoring.Organizations,
		},
		ModelName:   s.Model().Name,
		Importances: s.Model().TopImportances(importanceTopOnPage, model.ImportanceGain),
	}
}

func render(w http.ResponseWriter, tmpl *template.Template, status int, v *homeView) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := tmpl.ExecuteTemplate(w, "home", v); err != nil {
		slog.Error("template render failed", "error", err)
	}
}

func homeViewHandler(tmpl *template.Template, s *scoring.Scorer) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		render(w, tmpl, http.StatusOK, newHomeView(s, scoring.DefaultApplicant()))
	}
}

// parseApplicantForm reads the form answers on top of the defaults. An
// unchecked checkbox is absent from the form and reads as false.
func parseApplicantForm(r *http.Request) (*scoring.Applicant, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %v", scoring.ErrInvalidApplicant, err)
	}
	a := scoring.DefaultApplicant()

	strs := map[string]*string{
		"gender":            &a.Gender,
		"education":         &a.Education,
		"family_status":     &a.FamilyStatus,
		"housing_type":      &a.HousingType,
		"occupation":        &a.Occupation,
		"organization_type": &a.OrganizationType,
	}
	for k, p := range strs {
		if v := r.PostForm.Get(k); v != "" {
			*p = v
		}
	}

	ints := map[string]*int{
		"age":              &a.Age,
		"employment_years": &a.EmploymentYears,
	}
	for k, p := range ints {
		v := r.PostForm.Get(k)
		if v == "" {
			continue
		}
		i, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be a whole number", scoring.ErrInvalidApplicant, k)
		}
		*p = i
	}

	floats := map[string]*float64{
		"income":       &a.Income,
		"credit":       &a.Credit,
		"annuity":      &a.Annuity,
		"goods_price":  &a.GoodsPrice,
		"ext_source_1": &a.ExtSource1,
		"ext_source_2": &a.ExtSource2,
		"ext_source_3": &a.ExtSource3,
	}
	for k, p := range floats {
		v := r.PostForm.Get(k)
		if v == "" {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be a number", scoring.ErrInvalidApplicant, k)
		}
		*p = f
	}

	a.OwnCar = r.PostForm.Get("own_car") != ""
	a.OwnRealty = r.PostForm.Get("own_realty") != ""
	return a, nil
}

func scoreViewHandler(tmpl *template.Template, db *sql.DB, s *scoring.Scorer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBytes)
		a, err := parseApplicantForm(r)
		if err != nil {
			v := newHomeView(s, scoring.DefaultApplicant())
			v.Error = err.Error()
			render(w, tmpl, http.StatusBadRequest, v)
			return
		}

		v := newHomeView(s, a)
		res, _, err := saveScore(r.Context(), db, s, a, data.SourceServer)
		if err != nil {
			status, msg := scoreStatus(err)
			if status == http.StatusInternalServerError {
				slog.Error("failed to score applicant", "error", err)
			}
			v.Error = msg
			render(w, tmpl, status, v)
			return
		}
		v.Result = res
		render(w, tmpl, http.StatusOK, v)
	}
}

func scoreAPIHandler(db *sql.DB, s *scoring.Scorer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a := scoring.DefaultApplicant()
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(a); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		res, rec, err := saveScore(r.Context(), db, s, a, data.SourceServer)
		if err != nil {
			status, msg := scoreStatus(err)
			if status == http.StatusInternalServerError {
				slog.Error("failed to score applicant", "error", err)
			}
			writeError(w, status, msg)
			return
		}
		slog.Debug("score saved", "id", rec.ID)
		writeJSON(w, http.StatusOK, res)
	}
}

func importanceAPIHandler(s *scoring.Scorer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, err := model.ParseImportanceType(r.URL.Query().Get("type"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		n := queryParamInt(r, "top", defaultTopFeatures, importanceTopLimit)
		writeJSON(w, http.StatusOK, s.Model().TopImportances(n, kind))
	}
}

func scoresAPIHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryParamInt(r, "limit", defaultListLimit, scoreListLimitMax)
		list, err := data.ListScores(db, limit)
		if err != nil {
			slog.Error("failed to list scores", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to list scores")
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func scoreAPIGetHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil || id < 1 {
			writeError(w, http.StatusBadRequest, "invalid score id")
			return
		}
		rec, err := data.GetScore(db, id)
		if err != nil {
			if errors.Is(err, data.ErrNotFound) {
				writeError(w, http.StatusNotFound, "score not found")
				return
			}
			slog.Error("failed to get score", "id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to get score")
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
