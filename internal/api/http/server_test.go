package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bruhmeric/torrentwave/internal/domain"
	"github.com/bruhmeric/torrentwave/internal/providers/jackett"
	"github.com/bruhmeric/torrentwave/internal/search"
	"github.com/bruhmeric/torrentwave/internal/settings"
)

type fakeSearcher struct {
	mu          sync.Mutex
	lastRequest jackett.SearchRequest
	lastConfig  jackett.Settings
	callCount   int
	count       int
	err         error
}

func (f *fakeSearcher) Search(ctx context.Context, cfg jackett.Settings, request jackett.SearchRequest) (jackett.SearchResponse, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	f.lastRequest = request
	f.lastConfig = cfg
	if f.err != nil {
		return jackett.SearchResponse{}, f.err
	}
	items := make([]domain.TorrentResult, 0, f.count)
	for i := 0; i < f.count; i++ {
		items = append(items, domain.TorrentResult{
			ID:      i + 1,
			Title:   fmt.Sprintf("%s %03d", request.Query, i+1),
			Seeders: domain.IntPtr(i),
		})
	}
	return jackett.SearchResponse{
		Results:  items,
		Indexers: []domain.IndexerStatus{{ID: "1337x", Name: "1337x", Status: 2, Results: f.count}},
	}, nil
}

type fakeCategories struct {
	items         []domain.Category
	err           error
	invalidations int
}

func (f *fakeCategories) Invalidate() {
	f.invalidations++
}

func (f *fakeCategories) Categories(ctx context.Context, cfg jackett.Settings) ([]domain.Category, error) {
	_ = ctx
	_ = cfg
	return f.items, f.err
}

type fakeTester struct {
	lastConfig jackett.Settings
	err        error
}

func (f *fakeTester) TestConnection(ctx context.Context, cfg jackett.Settings) error {
	_ = ctx
	f.lastConfig = cfg
	return f.err
}

type testEnv struct {
	searcher   *fakeSearcher
	settings   *settings.Service
	categories *fakeCategories
	tester     *fakeTester
	handler    http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		searcher:   &fakeSearcher{count: 120},
		settings:   settings.NewService(settings.NewMemoryStore(), jackett.Settings{ServerURL: "http://jackett:9117", APIKey: "0123456789abcdef"}, nil),
		categories: &fakeCategories{items: []domain.Category{{ID: "2000", Name: "Movies"}}},
		tester:     &fakeTester{},
	}
	server := NewServer(search.NewService(env.searcher), env.settings,
		WithCategories(env.categories),
		WithConnectionTester(env.tester),
	)
	env.handler = server.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range cookies {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == SessionCookieName {
			return cookie
		}
	}
	t.Fatalf("expected %s cookie in response", SessionCookieName)
	return nil
}

func decodeSnapshot(t *testing.T, rec *httptest.ResponseRecorder) search.Snapshot {
	t.Helper()
	var snapshot search.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snapshot); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return snapshot
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var payload struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return payload.Error.Code, payload.Error.Message
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHealthReportsDependencyChecks(t *testing.T) {
	sessions := search.NewService(&fakeSearcher{count: 1})
	sessions.Session("")
	server := NewServer(sessions, settings.NewService(nil, jackett.Settings{}, nil),
		WithHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
		WithHealthCheck("disk", func(context.Context) error { return nil }),
	)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected a degraded service to stay live, got %d", rec.Code)
	}
	var payload struct {
		Status   string            `json:"status"`
		Sessions int               `json:"sessions"`
		Checks   map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Status != "degraded" || payload.Sessions != 1 {
		t.Fatalf("unexpected health: %+v", payload)
	}
	if payload.Checks["redis"] != "connection refused" || payload.Checks["disk"] != "ok" {
		t.Fatalf("unexpected checks: %+v", payload.Checks)
	}
}

func TestSearchMissingQuery(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/search?q=%20%20", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if _, message := decodeError(t, rec); message != "Please enter a search term." {
		t.Fatalf("unexpected message: %q", message)
	}
	if env.searcher.callCount != 0 {
		t.Fatalf("expected no upstream search")
	}
}

func TestSearchRejectsMethodAndUnknownSort(t *testing.T) {
	env := newTestEnv(t)
	if rec := env.do(t, http.MethodPost, "/api/search?q=x", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec := env.do(t, http.MethodGet, "/api/search?q=x&sortBy=magnet", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSearchReturnsFirstPageAndSetsSession(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/search?q=ubuntu&category=2000,5000&category=2000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	cookie := sessionCookie(t, rec)
	if !cookie.HttpOnly || cookie.Value == "" {
		t.Fatalf("unexpected session cookie: %+v", cookie)
	}

	snapshot := decodeSnapshot(t, rec)
	if snapshot.Page != 1 || snapshot.TotalPages != 3 || snapshot.TotalResults != 120 || len(snapshot.Items) != 50 {
		t.Fatalf("unexpected view: page=%d pages=%d total=%d items=%d", snapshot.Page, snapshot.TotalPages, snapshot.TotalResults, len(snapshot.Items))
	}
	if snapshot.Sort != domain.DefaultSortSpec() || *snapshot.Items[0].Seeders != 119 {
		t.Fatalf("expected default seeders-descending order, got %+v", snapshot.Sort)
	}
	if len(snapshot.Indexers) != 1 {
		t.Fatalf("expected indexer statuses, got %+v", snapshot.Indexers)
	}

	got := env.searcher.lastRequest
	if got.Query != "ubuntu" || strings.Join(got.Categories, ",") != "2000,5000" {
		t.Fatalf("unexpected upstream request: %+v", got)
	}
	if env.searcher.lastConfig.APIKey != "0123456789abcdef" {
		t.Fatalf("expected current settings to be used, got %+v", env.searcher.lastConfig)
	}
}

func TestResultsPaginationAndSortWithinSession(t *testing.T) {
	env := newTestEnv(t)
	cookie := sessionCookie(t, env.do(t, http.MethodGet, "/api/search?q=ubuntu", ""))

	page2 := decodeSnapshot(t, env.do(t, http.MethodGet, "/api/results?page=2", "", cookie))
	if page2.Page != 2 || len(page2.Items) != 50 || *page2.Items[0].Seeders != 69 {
		t.Fatalf("unexpected page 2: page=%d first=%d", page2.Page, *page2.Items[0].Seeders)
	}

	sorted := decodeSnapshot(t, env.do(t, http.MethodGet, "/api/results?sortBy=seeders&sortOrder=asc&page=3", "", cookie))
	if sorted.Page != 1 {
		t.Fatalf("expected sort change to reset page, got %d", sorted.Page)
	}
	if *sorted.Items[0].Seeders != 0 {
		t.Fatalf("expected ascending order, got %d", *sorted.Items[0].Seeders)
	}

	same := decodeSnapshot(t, env.do(t, http.MethodGet, "/api/results?sortBy=seeders&sortOrder=asc&page=3", "", cookie))
	if same.Page != 3 || len(same.Items) != 20 {
		t.Fatalf("expected unchanged sort to honor page, got page=%d items=%d", same.Page, len(same.Items))
	}

	clamped := decodeSnapshot(t, env.do(t, http.MethodGet, "/api/results?page=0", "", cookie))
	if clamped.Page != 1 {
		t.Fatalf("expected page clamp, got %d", clamped.Page)
	}

	if env.searcher.callCount != 1 {
		t.Fatalf("expected pagination to stay local, got %d upstream calls", env.searcher.callCount)
	}
}

func TestResultsToggleSort(t *testing.T) {
	env := newTestEnv(t)
	cookie := sessionCookie(t, env.do(t, http.MethodGet, "/api/search?q=ubuntu", ""))

	first := decodeSnapshot(t, env.do(t, http.MethodGet, "/api/results?toggle=Seeders", "", cookie))
	if first.Sort.Direction != domain.SortAscending {
		t.Fatalf("expected toggle of active descending key to flip, got %+v", first.Sort)
	}
	second := decodeSnapshot(t, env.do(t, http.MethodGet, "/api/results?toggle=title", "", cookie))
	if second.Sort != (domain.SortSpec{Key: domain.SortKeyTitle, Direction: domain.SortDescending}) {
		t.Fatalf("expected a new key to sort descending, got %+v", second.Sort)
	}
	if rec := env.do(t, http.MethodGet, "/api/results?toggle=nope", "", cookie); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown key, got %d", rec.Code)
	}
}

func TestResultsWithoutSessionIsEmpty(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/results", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	snapshot := decodeSnapshot(t, rec)
	if snapshot.Searched || snapshot.TotalResults != 0 || snapshot.Items == nil {
		t.Fatalf("unexpected empty snapshot: %+v", snapshot)
	}
}

func TestResultsWithUnknownSessionDoesNotOpenOne(t *testing.T) {
	sessions := search.NewService(&fakeSearcher{count: 1})
	handler := NewServer(sessions, settings.NewService(nil, jackett.Settings{}, nil)).Handler()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/results?page=2", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "6f1c1f4e-2d7c-4d55-9a43-1b1f0f3b9d2a"})
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Fatalf("expected no session cookie, got %v", rec.Result().Cookies())
	}
	if got := sessions.SessionCount(); got != 0 {
		t.Fatalf("expected no session to be opened, got %d", got)
	}
	if snapshot := decodeSnapshot(t, rec); snapshot.Page != 1 || snapshot.PageSize != 50 {
		t.Fatalf("unexpected empty view: %+v", snapshot)
	}
}

func TestSearchErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"config", jackett.NewConfigError("Jackett URL and API Key must be provided."), http.StatusPreconditionFailed, "not_configured"},
		{"connectivity", &jackett.Error{Kind: jackett.KindConnectivity, Message: "cannot reach"}, http.StatusBadGateway, "upstream_unreachable"},
		{"api", jackett.NewAPIError("bad query", "", 400), http.StatusBadGateway, "upstream_error"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.searcher.err = tc.err
			rec := env.do(t, http.MethodGet, "/api/search?q=ubuntu", "")
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			code, message := decodeError(t, rec)
			if code != tc.code {
				t.Fatalf("expected code %q, got %q", tc.code, code)
			}
			if message != jackett.Classify(tc.err).Message {
				t.Fatalf("expected message to pass through, got %q", message)
			}
		})
	}
}

func TestSearchFailureClearsSessionResults(t *testing.T) {
	env := newTestEnv(t)
	cookie := sessionCookie(t, env.do(t, http.MethodGet, "/api/search?q=ubuntu", ""))

	env.searcher.err = jackett.NewAPIError("bad query", "", 400)
	if rec := env.do(t, http.MethodGet, "/api/search?q=debian", "", cookie); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	snapshot := decodeSnapshot(t, env.do(t, http.MethodGet, "/api/results", "", cookie))
	if snapshot.TotalResults != 0 {
		t.Fatalf("expected results to be cleared, got %d", snapshot.TotalResults)
	}
}

func TestCategoriesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/categories", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Items []domain.Category `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Items[0].Name != "Movies" {
		t.Fatalf("unexpected categories: %+v", payload.Items)
	}

	env.categories.err = jackett.NewAPIError("Invalid API key. Please check your Jackett settings.", "100", 0)
	rec = env.do(t, http.MethodGet, "/api/categories", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestSettingsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/settings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "0123456789abcdef") {
		t.Fatalf("api key leaked in settings view: %s", rec.Body.String())
	}
	var view settings.View
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !view.Configured || view.APIKeyPreview != "0123...cdef" {
		t.Fatalf("unexpected view: %+v", view)
	}

	rec = env.do(t, http.MethodPatch, "/api/settings", `{"serverUrl":"https://jackett.example.org","apiKey":""}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if view.Configured || view.ServerURL != "https://jackett.example.org" {
		t.Fatalf("unexpected updated view: %+v", view)
	}
	if env.categories.invalidations != 1 {
		t.Fatalf("expected the category cache to be dropped after a settings change, got %d", env.categories.invalidations)
	}

	if rec = env.do(t, http.MethodPatch, "/api/settings", `{"endpoint":"x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
	if rec = env.do(t, http.MethodPatch, "/api/settings", `{"serverUrl":"http://[::1"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid url, got %d", rec.Code)
	}
	if rec = env.do(t, http.MethodDelete, "/api/settings", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if env.categories.invalidations != 1 {
		t.Fatalf("rejected updates must keep the category cache, got %d invalidations", env.categories.invalidations)
	}
}

func TestSettingsTestEndpoint(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/settings/test", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.tester.lastConfig.ServerURL != "http://jackett:9117" {
		t.Fatalf("expected saved settings to be tested, got %+v", env.tester.lastConfig)
	}

	rec = env.do(t, http.MethodPost, "/api/settings/test", `{"apiKey":"candidate"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if env.tester.lastConfig.APIKey != "candidate" || env.tester.lastConfig.ServerURL != "http://jackett:9117" {
		t.Fatalf("expected body values to override, got %+v", env.tester.lastConfig)
	}
	if env.settings.Current().APIKey != "0123456789abcdef" {
		t.Fatalf("connection test must not save settings")
	}

	env.tester.err = jackett.NewAPIError("Connection successful, but the API Key seems to be invalid.", "", 401)
	rec = env.do(t, http.MethodPost, "/api/settings/test", "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if _, message := decodeError(t, rec); !strings.Contains(message, "API Key seems to be invalid") {
		t.Fatalf("unexpected message: %q", message)
	}

	if rec = env.do(t, http.MethodGet, "/api/settings/test", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestOptionalServicesNotConfigured(t *testing.T) {
	server := NewServer(search.NewService(&fakeSearcher{}), settings.NewService(nil, jackett.Settings{}, nil))
	handler := server.Handler()
	for _, target := range []struct{ method, path string }{
		{http.MethodGet, "/api/categories"},
		{http.MethodPost, "/api/settings/test"},
	} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(target.method, target.path, nil))
		if rec.Code != http.StatusNotImplemented {
			t.Fatalf("%s: expected 501, got %d", target.path, rec.Code)
		}
	}
}

func TestRateLimitRejectsBursts(t *testing.T) {
	server := NewServer(search.NewService(&fakeSearcher{}), settings.NewService(nil, jackett.Settings{}, nil), WithRateLimit(1, 1))
	handler := server.Handler()

	statuses := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
		statuses = append(statuses, rec.Code)
	}
	if statuses[0] != http.StatusOK || statuses[1] != http.StatusTooManyRequests {
		t.Fatalf("unexpected statuses: %v", statuses)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected health to bypass the limiter, got %d", rec.Code)
	}
}

func TestRecoveryMiddlewareReturnsJSON(t *testing.T) {
	handler := recoveryMiddleware(slog.Default(), http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/search", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if code, _ := decodeError(t, rec); code != "internal_error" {
		t.Fatalf("unexpected code: %q", code)
	}
}

func TestNormalizeRoute(t *testing.T) {
	cases := map[string]string{
		"/api/search":        "/api/search",
		"/api/settings/test": "/api/settings/test",
		"/health":            "/health",
		"/favicon.ico":       "/other",
	}
	for path, want := range cases {
		if got := normalizeRoute(path); got != want {
			t.Errorf("normalizeRoute(%q) = %q, want %q", path, got, want)
		}
	}
}
