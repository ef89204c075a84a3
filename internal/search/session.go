package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bruhmeric/torrentwave/internal/domain"
	"github.com/bruhmeric/torrentwave/internal/metrics"
	"github.com/bruhmeric/torrentwave/internal/providers/jackett"
	"github.com/bruhmeric/torrentwave/internal/results"
)

// Snapshot is what a visitor sees: the current page plus the search that
// produced it.
type Snapshot struct {
	domain.PageView
	Query    string                 `json:"query"`
	Searched bool                   `json:"searched"`
	Loading  bool                   `json:"loading"`
	Indexers []domain.IndexerStatus `json:"indexers,omitempty"`
}

// EmptySnapshot is the view of a visitor who has not searched yet.
func EmptySnapshot() Snapshot {
	return Snapshot{
		PageView: domain.PageView{
			Items:    []domain.TorrentResult{},
			Page:     1,
			PageSize: results.DefaultPageSize,
			Sort:     domain.DefaultSortSpec(),
		},
	}
}

// Session holds one visitor's results, sort and page. Only the latest search
// may publish results; an older one that finishes late gets ErrStaleSearch.
type Session struct {
	id       string
	searcher Searcher
	limiter  *semaphore.Weighted
	logger   *slog.Logger

	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	loading    bool
	searched   bool
	query      string
	results    []domain.TorrentResult
	indexers   []domain.IndexerStatus
	sort       domain.SortSpec
	sorted     []domain.TorrentResult
	sortedFor  domain.SortSpec
	page       int
	lastSeen   time.Time
}

func newSession(id string, searcher Searcher, limiter *semaphore.Weighted, logger *slog.Logger, now time.Time) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:       id,
		searcher: searcher,
		limiter:  limiter,
		logger:   logger,
		sort:     domain.DefaultSortSpec(),
		page:     1,
		lastSeen: now,
	}
}

func (s *Session) ID() string {
	return s.id
}

// Search replaces the session's results with those of a new upstream search.
// Starting a search cancels the one still in flight. On failure the results
// are cleared and sort and page are kept. A search abandoned by its caller
// leaves the previous state untouched.
func (s *Session) Search(ctx context.Context, settings jackett.Settings, request jackett.SearchRequest) (Snapshot, error) {
	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.generation++
	generation := s.generation
	prevQuery, prevPage := s.query, s.page
	s.cancel = cancel
	s.loading = true
	s.searched = true
	s.query = strings.TrimSpace(request.Query)
	s.page = 1
	s.mu.Unlock()

	response, err := s.runSearch(searchCtx, settings, request)

	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		metrics.StaleSearchesTotal.Inc()
		s.logger.Debug("discarded superseded search", slog.String("query", request.Query))
		return Snapshot{}, ErrStaleSearch
	}
	s.cancel = nil
	s.loading = false
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		// The caller went away; what the visitor saw before stays.
		s.query, s.page = prevQuery, prevPage
		return Snapshot{}, err
	}
	s.indexers = response.Indexers
	s.setResultsLocked(response.Results)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Info("search failed",
				slog.String("query", request.Query),
				slog.String("kind", string(jackett.KindOf(err))),
				slog.String("error", err.Error()),
			)
		}
		return Snapshot{}, err
	}
	return s.snapshotLocked(), nil
}

func (s *Session) runSearch(ctx context.Context, settings jackett.Settings, request jackett.SearchRequest) (jackett.SearchResponse, error) {
	if s.limiter != nil {
		if err := s.limiter.Acquire(ctx, 1); err != nil {
			return jackett.SearchResponse{}, err
		}
		defer s.limiter.Release(1)
	}
	return s.searcher.Search(ctx, settings, request)
}

func (s *Session) View() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) Sort() domain.SortSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sort
}

// SetSort applies spec and returns to the first page.
func (s *Session) SetSort(spec domain.SortSpec) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sort = spec
	s.page = 1
	return s.snapshotLocked()
}

// RequestSort mirrors a click on a column header: the active column while
// descending flips to ascending, anything else sorts descending.
func (s *Session) RequestSort(key domain.SortKey) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	direction := domain.SortDescending
	if s.sort.Key == key && s.sort.Direction == domain.SortDescending {
		direction = domain.SortAscending
	}
	s.sort = domain.SortSpec{Key: key, Direction: direction}
	s.page = 1
	return s.snapshotLocked()
}

// SetPage moves to page, clamped to at least 1.
func (s *Session) SetPage(page int) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = max(page, 1)
	return s.snapshotLocked()
}

func (s *Session) setResultsLocked(items []domain.TorrentResult) {
	s.results = items
	s.sorted = nil
}

func (s *Session) snapshotLocked() Snapshot {
	if s.sorted == nil || s.sortedFor != s.sort {
		s.sorted = results.Sort(s.results, s.sort)
		s.sortedFor = s.sort
	}
	return Snapshot{
		PageView: domain.PageView{
			Items:        results.Paginate(s.sorted, s.page, results.DefaultPageSize),
			Page:         s.page,
			PageSize:     results.DefaultPageSize,
			TotalPages:   results.TotalPages(len(s.sorted), results.DefaultPageSize),
			TotalResults: len(s.sorted),
			Sort:         s.sort,
		},
		Query:    s.query,
		Searched: s.searched,
		Loading:  s.loading,
		Indexers: s.indexers,
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) lastSeenAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.generation++
}
