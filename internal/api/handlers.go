package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadtool/internal/company"
	"github.com/sells-group/leadtool/internal/ingest"
	"github.com/sells-group/leadtool/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api: store query failed", zap.String("path", r.URL.Path), zap.Error(err))
	if model.IsTransient(err) {
		writeError(w, http.StatusServiceUnavailable, "store busy, retry")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}

// query reads typed query parameters, remembering the first parse failure.
type query struct {
	r   *http.Request
	err error
}

func (q *query) str(key string) string { return q.r.URL.Query().Get(key) }

func (q *query) int(key string) int {
	v := q.str(key)
	if v == "" || q.err != nil {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		q.err = eris.Errorf("%s must be a non-negative integer", key)
	}
	return n
}

func (q *query) int64(key string) int64 {
	v := q.str(key)
	if v == "" || q.err != nil {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		q.err = eris.Errorf("%s must be a non-negative integer", key)
	}
	return n
}

func (q *query) bool(key string) *bool {
	v := q.str(key)
	if v == "" || q.err != nil {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		q.err = eris.Errorf("%s must be true or false", key)
		return nil
	}
	return &b
}

func (q *query) period(key string) model.Period {
	v := q.str(key)
	if v == "" || q.err != nil {
		return model.Period{}
	}
	p, err := model.ParsePeriod(v)
	if err != nil {
		q.err = eris.Errorf("%s must be YYYY-MM", key)
	}
	return p
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listCompanies(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	f := company.CompanyFilter{
		Period:   q.period("period"),
		Name:     q.str("name"),
		Category: q.str("category"),
		Location: q.str("location"),
		Limit:    q.int("limit"),
		Offset:   q.int("offset"),
	}
	if active := q.bool("active"); active != nil {
		f.ActiveOnly = *active
	}
	if q.err != nil {
		writeError(w, http.StatusBadRequest, q.err.Error())
		return
	}

	companies, err := s.store.ListCompanies(r.Context(), f)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if companies == nil {
		companies = []company.Company{}
	}
	writeJSON(w, http.StatusOK, companies)
}

func (s *Server) getCompany(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be an integer")
		return
	}
	detail, err := s.store.GetCompany(r.Context(), id)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if detail == nil {
		writeError(w, http.StatusNotFound, "company not found")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) companyStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CompanyStats(r.Context())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listContacts(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	f := company.ContactFilter{
		CompanyID:  q.int64("company_id"),
		Email:      q.str("email"),
		Title:      q.str("title"),
		Department: q.str("department"),
		IsPrimary:  q.bool("primary"),
		Period:     q.period("period"),
		Limit:      q.int("limit"),
		Offset:     q.int("offset"),
	}
	if active := q.bool("active"); active != nil {
		f.ActiveOnly = *active
	}
	if q.err != nil {
		writeError(w, http.StatusBadRequest, q.err.Error())
		return
	}

	contacts, err := s.store.ListContacts(r.Context(), f)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if contacts == nil {
		contacts = []company.Contact{}
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) contactStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.ContactStats(r.Context())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	limit := q.int("limit")
	if q.err != nil {
		writeError(w, http.StatusBadRequest, q.err.Error())
		return
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) listRejected(w http.ResponseWriter, r *http.Request) {
	q := &query{r: r}
	limit := q.int("limit")
	if q.err != nil {
		writeError(w, http.StatusBadRequest, q.err.Error())
		return
	}
	recs, err := s.store.ListRejected(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.RejectedRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// startRunRequest is the optional body of POST /runs.
type startRunRequest struct {
	Period string `json:"period"`
	Force  bool   `json:"force"`
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	if s.opts.Launcher == nil || s.opts.Sources == nil {
		writeError(w, http.StatusServiceUnavailable, "manual runs are not enabled")
		return
	}

	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	period := model.PeriodOf(s.opts.Now().UTC())
	if req.Period != "" {
		p, err := model.ParsePeriod(req.Period)
		if err != nil {
			writeError(w, http.StatusBadRequest, "period must be YYYY-MM")
			return
		}
		period = p
	}

	src, err := s.opts.Sources(period)
	if err != nil {
		zap.L().Error("api: build sources", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not build sources")
		return
	}

	runID, done, err := s.opts.Launcher.Launch(s.opts.BaseContext, period, src, ingest.RunOptions{Force: req.Force})
	switch {
	case errors.Is(err, model.ErrRunActive):
		writeError(w, http.StatusConflict, "a run is already active")
		return
	case err != nil:
		zap.L().Error("api: start run", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start run")
		return
	}

	go func() {
		res := <-done
		if res.Err != nil {
			zap.L().Error("api: manual run failed", zap.String("run_id", runID), zap.Error(res.Err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"run_id": runID,
		"period": period.String(),
	})
}
