package apihttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/bruhmeric/torrentwave/internal/domain"
	"github.com/bruhmeric/torrentwave/internal/providers/jackett"
	"github.com/bruhmeric/torrentwave/internal/search"
	"github.com/bruhmeric/torrentwave/internal/settings"
)

const (
	SessionCookieName = "torrentwave_session"

	maxQueryLength      = 500
	defaultRateLimit    = 50
	defaultRateBurst    = 100
	defaultSessionTTL   = 30 * time.Minute
	connectionTestOKMsg = "Connection successful!"
	healthCheckTimeout  = 2 * time.Second
)

type SessionService interface {
	Session(id string) (*search.Session, string)
	Lookup(id string) (*search.Session, bool)
	SessionCount() int
}

type SettingsService interface {
	Current() jackett.Settings
	View() settings.View
	Update(ctx context.Context, patch settings.Patch) (settings.View, error)
}

type CategoryService interface {
	Categories(ctx context.Context, settings jackett.Settings) ([]domain.Category, error)
	Invalidate()
}

// HealthCheck reports whether an optional dependency is usable.
type HealthCheck func(ctx context.Context) error

type ConnectionTester interface {
	TestConnection(ctx context.Context, settings jackett.Settings) error
}

type Server struct {
	sessions   SessionService
	settings   SettingsService
	categories CategoryService
	tester     ConnectionTester
	logger     *slog.Logger
	rateLimit  float64
	rateBurst  int
	sessionTTL time.Duration
	checks     map[string]HealthCheck
	proxies    trustedProxies
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithCategories(categories CategoryService) ServerOption {
	return func(s *Server) {
		s.categories = categories
	}
}

func WithConnectionTester(tester ConnectionTester) ServerOption {
	return func(s *Server) {
		s.tester = tester
	}
}

func WithRateLimit(rps float64, burst int) ServerOption {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.rateLimit = rps
			s.rateBurst = burst
		}
	}
}

// WithHealthCheck adds a named dependency check to /health. A failing check
// marks the service degraded but keeps it live.
func WithHealthCheck(name string, check HealthCheck) ServerOption {
	return func(s *Server) {
		name = strings.TrimSpace(name)
		if name == "" || check == nil {
			return
		}
		if s.checks == nil {
			s.checks = make(map[string]HealthCheck)
		}
		s.checks[name] = check
	}
}

// WithTrustedProxies names the reverse proxies (CIDRs or addresses) whose
// forwarding headers identify the client for logs and rate limiting.
func WithTrustedProxies(values []string) ServerOption {
	return func(s *Server) {
		proxies, invalid := parseTrustedProxies(values)
		s.proxies = proxies
		if len(invalid) > 0 && s.logger != nil {
			s.logger.Warn("ignoring invalid trusted proxies", slog.Any("values", invalid))
		}
	}
}

// WithSessionTTL sets the session cookie lifetime; it should match the idle
// TTL of the session store.
func WithSessionTTL(ttl time.Duration) ServerOption {
	return func(s *Server) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

func NewServer(sessions SessionService, settingsService SettingsService, options ...ServerOption) *Server {
	server := &Server{
		sessions:   sessions,
		settings:   settingsService,
		logger:     slog.Default(),
		rateLimit:  defaultRateLimit,
		rateBurst:  defaultRateBurst,
		sessionTTL: defaultSessionTTL,
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/search", s.handleSearch)
	mux.HandleFunc("/api/results", s.handleResults)
	mux.HandleFunc("/api/categories", s.handleCategories)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/settings/test", s.handleSettingsTest)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, s.proxies, mux), "torrentwave",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	limited := rateLimitMiddleware(newClientLimiter(s.rateLimit, s.rateBurst), s.proxies, metricsMiddleware(traced))
	return requestIDMiddleware(recoveryMiddleware(s.logger, limited))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	checks := make(map[string]string, len(s.checks))
	if len(s.checks) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()
		for name, check := range s.checks {
			if err := check(ctx); err != nil {
				checks[name] = err.Error()
				status = "degraded"
				continue
			}
			checks[name] = "ok"
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    status,
		"sessions":  s.sessions.SessionCount(),
		"checks":    checks,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/search" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "Please enter a search term.")
		return
	}
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}
	var sortSpec *domain.SortSpec
	if r.URL.Query().Has("sortBy") {
		spec, err := search.ParseSort(r.URL.Query().Get("sortBy"), r.URL.Query().Get("sortOrder"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		sortSpec = &spec
	}

	session := s.session(w, r)
	if sortSpec != nil && *sortSpec != session.Sort() {
		session.SetSort(*sortSpec)
	}
	categories := parseCategories(r.URL.Query()["category"])
	snapshot, err := session.Search(r.Context(), s.settings.Current(), jackett.SearchRequest{
		Query:      query,
		Categories: categories,
	})
	if err != nil {
		s.writeSearchError(w, query, err)
		return
	}

	failedIndexers := 0
	for _, indexer := range snapshot.Indexers {
		if indexer.Error != "" {
			failedIndexers++
		}
	}
	s.logger.Info("search completed",
		slog.String("query", truncate(query, 80)),
		slog.Any("categories", categories),
		slog.Int("totalResults", snapshot.TotalResults),
		slog.Int("failedIndexers", failedIndexers),
	)
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) writeSearchError(w http.ResponseWriter, query string, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		// The caller went away; there is nobody to answer.
		return
	case errors.Is(err, search.ErrStaleSearch):
		writeError(w, http.StatusConflict, "superseded", "A newer search replaced this one.")
		return
	}
	s.logger.Warn("search request failed",
		slog.String("query", truncate(query, 80)),
		slog.String("kind", string(jackett.KindOf(err))),
		slog.String("error", err.Error()),
	)
	writeUpstreamError(w, err)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/results" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	params := r.URL.Query()

	var toggle domain.SortKey
	if raw := strings.TrimSpace(params.Get("toggle")); raw != "" {
		key, ok := domain.ParseSortKey(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid_request", search.ErrInvalidSortKey.Error())
			return
		}
		toggle = key
	}
	var sortSpec *domain.SortSpec
	if params.Has("sortBy") {
		spec, err := search.ParseSort(params.Get("sortBy"), params.Get("sortOrder"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		sortSpec = &spec
	}
	page := 0
	if params.Has("page") {
		value, err := strconv.Atoi(strings.TrimSpace(params.Get("page")))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid page")
			return
		}
		page = value
	}

	session, ok := s.existingSession(w, r)
	if !ok {
		writeJSON(w, http.StatusOK, search.EmptySnapshot())
		return
	}
	var snapshot search.Snapshot
	switch {
	case toggle != "":
		snapshot = session.RequestSort(toggle)
	case sortSpec != nil && *sortSpec != session.Sort():
		snapshot = session.SetSort(*sortSpec)
	case params.Has("page"):
		snapshot = session.SetPage(page)
	default:
		snapshot = session.View()
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/categories" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.categories == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "category service is not configured")
		return
	}

	items, err := s.categories.Categories(r.Context(), s.settings.Current())
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Warn("category fetch failed",
			slog.String("kind", string(jackett.KindOf(err))),
			slog.String("error", err.Error()),
		)
		writeUpstreamError(w, err)
		return
	}
	if items == nil {
		items = []domain.Category{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/settings" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.settings.View())
	case http.MethodPatch:
		var patch settings.Patch
		if err := decodeJSONBody(r, &patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		view, err := s.settings.Update(r.Context(), patch)
		if err != nil {
			if errors.Is(err, settings.ErrInvalidServerURL) {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
			s.logger.Error("settings update failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to save settings")
			return
		}
		if s.categories != nil {
			s.categories.Invalidate()
		}
		writeJSON(w, http.StatusOK, view)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleSettingsTest checks the saved settings, or the values in the body
// when given, against the Jackett server without saving anything.
func (s *Server) handleSettingsTest(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/settings/test" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.tester == nil {
		writeError(w, http.StatusNotImplemented, "not_configured", "connection test is not configured")
		return
	}

	var patch settings.Patch
	if err := decodeJSONBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	target := s.settings.Current()
	if patch.ServerURL != nil {
		target.ServerURL = strings.TrimSpace(*patch.ServerURL)
	}
	if patch.APIKey != nil {
		target.APIKey = strings.TrimSpace(*patch.APIKey)
	}

	if err := s.tester.TestConnection(r.Context(), target); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.logger.Info("jackett connection test failed",
			slog.String("server", jackett.SanitizeBaseURL(target.ServerURL)),
			slog.String("error", err.Error()),
		)
		writeUpstreamError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"message": connectionTestOKMsg,
	})
}

// session resolves the caller's search session and refreshes its cookie.
func (s *Server) session(w http.ResponseWriter, r *http.Request) *search.Session {
	var id string
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		id = cookie.Value
	}
	session, effectiveID := s.sessions.Session(id)
	s.setSessionCookie(w, r, effectiveID)
	return session
}

// existingSession resolves the caller's session without opening a new one.
func (s *Server) existingSession(w http.ResponseWriter, r *http.Request) (*search.Session, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return nil, false
	}
	session, ok := s.sessions.Lookup(cookie.Value)
	if !ok {
		return nil, false
	}
	s.setSessionCookie(w, r, session.ID())
	return session, true
}

func (s *Server) setSessionCookie(w http.ResponseWriter, r *http.Request, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeUpstreamError maps an error kind to an HTTP status; the message is
// passed through as-is.
func writeUpstreamError(w http.ResponseWriter, err error) {
	classified := jackett.Classify(err)
	switch classified.Kind {
	case jackett.KindConfig:
		writeError(w, http.StatusPreconditionFailed, "not_configured", classified.Message)
	case jackett.KindConnectivity:
		writeError(w, http.StatusBadGateway, "upstream_unreachable", classified.Message)
	case jackett.KindAPI:
		writeError(w, http.StatusBadGateway, "upstream_error", classified.Message)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", classified.Message)
	}
}

// parseCategories accepts repeated and comma-separated category ids.
func parseCategories(values []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			value := strings.TrimSpace(part)
			if value == "" {
				continue
			}
			if _, exists := seen[value]; exists {
				continue
			}
			seen[value] = struct{}{}
			out = append(out, value)
		}
	}
	return out
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
