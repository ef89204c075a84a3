package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/bruhmeric/torrentwave/internal/domain"
	"github.com/bruhmeric/torrentwave/internal/metrics"
	"github.com/bruhmeric/torrentwave/internal/providers/jackett"
)

var (
	ErrStaleSearch    = errors.New("search superseded by a newer one")
	ErrInvalidSortKey = errors.New("unknown sort field")
)

const (
	defaultIdleTTL               = 30 * time.Minute
	defaultMaxConcurrentSearches = 8
	minJanitorInterval           = 10 * time.Second
)

// Searcher runs one upstream search. *jackett.Client satisfies it.
type Searcher interface {
	Search(ctx context.Context, settings jackett.Settings, request jackett.SearchRequest) (jackett.SearchResponse, error)
}

// Service owns the per-visitor search sessions and bounds how many upstream
// searches run at once across all of them.
type Service struct {
	searcher   Searcher
	logger     *slog.Logger
	idleTTL    time.Duration
	limiter    *semaphore.Weighted
	now        func() time.Time
	mu         sync.Mutex
	sessions   map[string]*Session
	janitorRun atomic.Bool
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithIdleTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.idleTTL = ttl
		}
	}
}

func WithMaxConcurrentSearches(limit int) ServiceOption {
	return func(s *Service) {
		if limit > 0 {
			s.limiter = semaphore.NewWeighted(int64(limit))
		}
	}
}

func NewService(searcher Searcher, opts ...ServiceOption) *Service {
	svc := &Service{
		searcher: searcher,
		logger:   slog.Default(),
		idleTTL:  defaultIdleTTL,
		limiter:  semaphore.NewWeighted(defaultMaxConcurrentSearches),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Session returns the live session for id, or opens a new one when id is
// blank, malformed or unknown. The second return value is the id in effect.
func (s *Service) Session(id string) (*Session, string) {
	now := s.now()
	key := strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := uuid.Parse(key); err == nil {
		if session := s.sessions[key]; session != nil {
			session.touch(now)
			return session, key
		}
	}

	key = uuid.NewString()
	session := newSession(key, s.searcher, s.limiter, s.logger.With(slog.String("session", key)), now)
	s.sessions[key] = session
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return session, key
}

// Lookup returns an existing session without creating one.
func (s *Service) Lookup(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[strings.TrimSpace(id)]
	if ok {
		session.touch(s.now())
	}
	return session, ok
}

func (s *Service) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// StartBackground runs the idle-session janitor until ctx is done. Calling
// it more than once is a no-op.
func (s *Service) StartBackground(ctx context.Context) {
	if !s.janitorRun.CompareAndSwap(false, true) {
		return
	}
	go s.runJanitor(ctx)
}

func (s *Service) runJanitor(ctx context.Context) {
	interval := s.idleTTL / 4
	if interval < minJanitorInterval {
		interval = minJanitorInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := s.evictIdle(s.now()); evicted > 0 {
				s.logger.Debug("evicted idle search sessions", slog.Int("count", evicted))
			}
		}
	}
}

// evictIdle drops sessions untouched for longer than the idle TTL and
// cancels any search they still have in flight.
func (s *Service) evictIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, session := range s.sessions {
		if now.Sub(session.lastSeenAt()) <= s.idleTTL {
			continue
		}
		session.close()
		delete(s.sessions, id)
		evicted++
	}
	metrics.ActiveSessions.Set(float64(len(s.sessions)))
	return evicted
}

// ParseSort resolves user-supplied sort parameters. A blank field keeps the
// default sort.
func ParseSort(field, order string) (domain.SortSpec, error) {
	if strings.TrimSpace(field) == "" {
		return domain.DefaultSortSpec(), nil
	}
	key, ok := domain.ParseSortKey(field)
	if !ok {
		return domain.SortSpec{}, ErrInvalidSortKey
	}
	return domain.SortSpec{Key: key, Direction: domain.NormalizeSortDirection(order)}, nil
}
