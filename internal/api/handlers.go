package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"

	"github.com/pbaille/reads/internal/domain"
	"github.com/pbaille/reads/internal/fetcher"
	"github.com/pbaille/reads/internal/logging"
	"github.com/pbaille/reads/internal/service"
	"github.com/pbaille/reads/internal/store"
	"github.com/pbaille/reads/internal/validation"
)

const (
	maxBodyBytes = 1 << 20
	defaultLimit = 20
)

var errBadRequest = errors.New("bad request")

type applyTestRequest struct {
	ReaderID     string               `json:"reader_id" validate:"required"`
	Age          string               `json:"age"`
	TestConcepts domain.ConceptVector `json:"test_concepts"`
}

type analyzeTextRequest struct {
	ReaderID string `json:"reader_id" validate:"required"`
	Text     string `json:"text" validate:"required_without=URL"`
	URL      string `json:"url" validate:"omitempty,url"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) putProfile(w http.ResponseWriter, r *http.Request) {
	var req domain.ReaderProfile
	if !s.decode(w, r, &req) {
		return
	}
	p, err := s.svc.PutProfile(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) profileMeta(w http.ResponseWriter, r *http.Request) {
	m, err := s.svc.ProfileMeta(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) profileHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	events, err := s.svc.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) applyTest(w http.ResponseWriter, r *http.Request) {
	var req applyTestRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.TestConcepts == nil {
		req.TestConcepts = domain.ConceptVector{}
	}
	up, err := s.svc.ApplyTest(r.Context(), req.ReaderID, req.Age, req.TestConcepts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, up.Profile)
}

// analyzeText accepts either prose or a link; prose that is only a link is
// fetched as well
func (s *Server) analyzeText(w http.ResponseWriter, r *http.Request) {
	var req analyzeTextRequest
	if !s.decode(w, r, &req) {
		return
	}

	var (
		up  *service.Update
		err error
	)
	switch {
	case req.URL != "":
		up, err = s.svc.AnalyzeURL(r.Context(), req.ReaderID, req.URL)
	case fetcher.IsURL(req.Text) && !strings.ContainsAny(strings.TrimSpace(req.Text), " \n\t"):
		up, err = s.svc.AnalyzeURL(r.Context(), req.ReaderID, strings.TrimSpace(req.Text))
	default:
		up, err = s.svc.AnalyzeText(r.Context(), req.ReaderID, req.Text)
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"profile": up.Profile,
	})
}

func (s *Server) gaps(w http.ResponseWriter, r *http.Request) {
	gaps, err := s.svc.Gaps(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gaps)
}

func (s *Server) recommendations(w http.ResponseWriter, r *http.Request) {
	topN, err := intParam(r, "top_n", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	useSaved, err := boolParam(r, "use_saved", true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	recs, err := s.svc.Recommendations(r.Context(), chi.URLParam(r, "id"), topN, useSaved)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) savedRecommendations(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	snaps, err := s.svc.SavedRecommendations(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) works(w http.ResponseWriter, r *http.Request) {
	works, err := s.svc.Works(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, works)
}

// decode reads a JSON body into v and validates it, writing the error
// response itself when it returns false
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.fail(w, r, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err))
		return false
	}
	if _, ok := v.(*domain.ReaderProfile); ok {
		// validated by the service with the concept weights
		return true
	}
	if err := validation.Struct(v); err != nil {
		s.fail(w, r, err)
		return false
	}
	return true
}

// fail maps a service error to a status code and writes it
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var verr *validation.Error
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  verr.Error(),
			"fields": verr.Fields,
		})
		return
	}

	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.WithContext(r.Context(), s.logger).Error().Err(err).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, service.ErrTextTooShort),
		errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, fetcher.ErrNoText):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrAnalyzerUnavailable),
		errors.Is(err, service.ErrNoAnalyzer),
		errors.Is(err, service.ErrNoFetcher):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", errBadRequest, name)
	}
	return n, nil
}

func boolParam(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", errBadRequest, name)
	}
	return b, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
