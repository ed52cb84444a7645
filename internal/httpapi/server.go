// Package httpapi is the transport edge: a chi router translating HTTP
// requests into internal/pipeline.Request values and internal/query /
// internal/aggregator / internal/credential calls into JSON responses.
// It follows a chi.NewRouter + middleware chain + route-grouped
// token-auth shape, generalized from a single-route proxy to the
// moderation service's full endpoint set.
package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/yanolja/modgate"
	"github.com/yanolja/modgate/internal/aggregator"
	"github.com/yanolja/modgate/internal/apierr"
	"github.com/yanolja/modgate/internal/credential"
	"github.com/yanolja/modgate/internal/monitoring"
	"github.com/yanolja/modgate/internal/pipeline"
	"github.com/yanolja/modgate/internal/query"
)

// Server wires every HTTP endpoint over the service's collaborators.
type Server struct {
	pipeline   *pipeline.Pipeline
	creds      *credential.Manager
	query      *query.Service
	aggregator *aggregator.Worker
	metrics    *monitoring.Metrics
	logger     *zap.SugaredLogger
	adminToken string

	router *chi.Mux
}

// Options configures a Server.
type Options struct {
	Pipeline    *pipeline.Pipeline
	Credentials *credential.Manager
	Query       *query.Service
	Aggregator  *aggregator.Worker
	Metrics     *monitoring.Metrics
	Logger      *zap.SugaredLogger
	AdminToken  string
	CORSOrigins []string
}

// New builds a Server with every route mounted.
func New(opts Options) *Server {
	s := &Server{
		pipeline:   opts.Pipeline,
		creds:      opts.Credentials,
		query:      opts.Query,
		aggregator: opts.Aggregator,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		adminToken: opts.AdminToken,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, middleware.RealIP)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	r.Use(corsMiddleware.Handler)

	r.Post("/v1/filter", s.handleFilter)
	r.Post("/v1/filter/batch", s.handleFilterBatch)
	r.Post("/v1/filter/text", s.handleFilterText)
	r.Post("/v1/filter/image", s.handleFilterImage)

	r.Get("/v1/apikey", s.handleGetAPIKey)
	r.Post("/v1/apikey/revoke", s.handleRevokeAPIKey)
	r.Get("/v1/apikey/validate", s.handleValidateAPIKey)

	r.Get("/stats/summary", s.handleStatsSummary)
	r.Get("/stats/performance", s.handleStatsPerformance)
	r.Get("/stats/ai-monitor", s.handleStatsAIMonitor)
	r.Get("/stats/historical", s.handleStatsHistorical)
	r.Get("/stats/combined", s.handleStatsCombined)
	r.Get("/stats/user/{id}", s.handleStatsUser)
	r.Post("/stats/aggregate", s.handleStatsAggregate)

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	}

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: message})
}

// statusFor maps an apierr.Kind (or an unwrapped plain error) to an HTTP
// status code.
func statusFor(err error) int {
	switch apierr.KindOf(err) {
	case apierr.KindValidation:
		return http.StatusBadRequest
	case apierr.KindAuth:
		return http.StatusUnauthorized
	case apierr.KindRateLimit:
		return http.StatusTooManyRequests
	case apierr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// credentialKey extracts the caller's bearer token or apiKey query param,
// whichever is present, not yet validated.
func credentialKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("apiKey")
}

func (s *Server) runFilter(w http.ResponseWriter, r *http.Request, body filterRequestBody) {
	req := &pipeline.Request{
		Filter:        body.toFilterRequest(),
		Method:        r.Method,
		URL:           r.URL.Path,
		NoCache:       r.URL.Query().Get("noCache") == "true",
		CredentialKey: credentialKey(r),
		RemoteIP:      remoteIP(r),
	}

	start := time.Now()
	result, meta, err := s.pipeline.Run(r.Context(), req)
	for k, v := range pipeline.RateLimitHeaders(meta.RateLimit) {
		w.Header().Set(k, v)
	}
	if err != nil {
		if apierr.KindOf(err) == apierr.KindRateLimit {
			w.Header().Set("Retry-After", strconv.Itoa(int(meta.RateLimit.RetryAfter.Seconds())))
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.Header().Set("X-Processing-Time", strconv.FormatInt(time.Since(start).Milliseconds(), 10))
	writeJSON(w, http.StatusOK, toFilterResultBody(result))
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	var body filterRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.runFilter(w, r, body)
}

func (s *Server) handleFilterText(w http.ResponseWriter, r *http.Request) {
	var body filterRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	body.Image = ""
	s.runFilter(w, r, body)
}

func (s *Server) handleFilterImage(w http.ResponseWriter, r *http.Request) {
	var body filterRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Image == "" {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}
	s.runFilter(w, r, body)
}

func (s *Server) handleFilterBatch(w http.ResponseWriter, r *http.Request) {
	var body batchRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	credKey := credentialKey(r)
	remote := remoteIP(r)
	results := make([]filterResultBody, len(body.Items))
	for i, item := range body.Items {
		req := &pipeline.Request{
			Filter:        item.toFilterRequest(),
			Method:        http.MethodPost,
			URL:           "/v1/filter/batch",
			CredentialKey: credKey,
			RemoteIP:      remote,
		}
		result, _, err := s.pipeline.Run(r.Context(), req)
		if err != nil {
			result = apierrResult(err)
		}
		results[i] = toFilterResultBody(result)
	}
	writeJSON(w, http.StatusOK, results)
}

// apierrResult turns a per-item pipeline failure inside a batch into an
// error-flagged result so one bad item doesn't fail the whole batch.
func apierrResult(err error) modgate.FilterResult {
	return modgate.FilterResult{
		Blocked: false,
		Flags:   []string{string(modgate.FlagError)},
		Reason:  err.Error(),
	}
}

func (s *Server) handleGetAPIKey(w http.ResponseWriter, r *http.Request) {
	cred, err := s.creds.ForIP(r.Context(), remoteIP(r))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, apiKeyBody{
		Key:       cred.Key,
		UserID:    cred.CallerID,
		CreatedAt: cred.CreatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	var body revokeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Key == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	found, err := s.creds.Revoke(r.Context(), body.Key)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "credential not found")
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleValidateAPIKey(w http.ResponseWriter, r *http.Request) {
	key := credentialKey(r)
	cred, err := s.creds.Validate(r.Context(), key)
	if err != nil {
		writeJSON(w, http.StatusOK, apiKeyValidateBody{Valid: false})
		return
	}
	writeJSON(w, http.StatusOK, apiKeyValidateBody{
		Valid:      true,
		UserID:     cred.CallerID,
		CreatedAt:  cred.CreatedAt.UTC().Format(time.RFC3339),
		LastUsedAt: cred.LastUsedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	window := query.Window(r.URL.Query().Get("window"))
	if window == "" {
		window = query.WindowToday
	}
	summary, err := s.query.Summary(r.Context(), window)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleStatsPerformance(w http.ResponseWriter, r *http.Request) {
	from, to := parseDateRange(r)
	rows, err := s.query.TimeSeries(r.Context(), from, to, true)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleStatsAIMonitor(w http.ResponseWriter, r *http.Request) {
	from, to := parseDateRange(r)
	rows, err := s.query.ContentFlags(r.Context(), from, to)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleStatsHistorical(w http.ResponseWriter, r *http.Request) {
	from, to := parseDateRange(r)
	hourly := r.URL.Query().Get("hourly") == "true"
	rows, err := s.query.TimeSeries(r.Context(), from, to, hourly)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleStatsCombined(w http.ResponseWriter, r *http.Request) {
	window := query.Window(r.URL.Query().Get("window"))
	if window == "" {
		window = query.WindowToday
	}
	summary, err := s.query.Summary(r.Context(), window)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	from, to := parseDateRange(r)
	historical, err := s.query.TimeSeries(r.Context(), from, to, false)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"summary":    summary,
		"historical": historical,
	})
}

func (s *Server) handleStatsUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	from, to := parseDateRange(r)
	rows, err := s.query.UserActivity(r.Context(), id, from, to)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleStatsAggregate(w http.ResponseWriter, r *http.Request) {
	if !s.isAdminRequest(r) {
		writeError(w, http.StatusUnauthorized, "admin token required")
		return
	}
	go s.aggregator.Run(context.Background(), false)
	writeJSON(w, http.StatusAccepted, map[string]any{"success": true, "status": "processing"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.query.Health(r.Context())
	status := http.StatusOK
	if health.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}

// isAdminRequest reports whether r presents the admin credential: either
// the raw configured token via X-Admin-Token/bearer, or a signed admin JWT
// (scope "admin") whose secret is the configured admin token. An empty
// adminToken disables the admin path entirely (every request is rejected).
func (s *Server) isAdminRequest(r *http.Request) bool {
	if s.adminToken == "" {
		return false
	}
	token := r.Header.Get("X-Admin-Token")
	if token == "" {
		token = credentialKey(r)
	}
	if token == s.adminToken {
		return true
	}
	return credential.ValidateAdminToken(token, s.adminToken)
}

// remoteIP returns the caller's address as resolved by middleware.RealIP
// (which already prefers X-Forwarded-For/X-Real-IP over the raw socket
// address), stripped of its port.
func remoteIP(r *http.Request) string {
	idx := strings.LastIndex(r.RemoteAddr, ":")
	if idx == -1 {
		return r.RemoteAddr
	}
	return r.RemoteAddr[:idx]
}

func parseDateRange(r *http.Request) (time.Time, time.Time) {
	now := time.Now().UTC()
	from := now.AddDate(0, 0, -7)
	to := now

	if v := r.URL.Query().Get("from"); v != "" {
		if parsed, err := time.Parse("2006-01-02", v); err == nil {
			from = parsed
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if parsed, err := time.Parse("2006-01-02", v); err == nil {
			to = parsed
		}
	}
	return from, to
}
