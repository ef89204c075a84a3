package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/bruhmeric/torrentwave/internal/domain"
	"github.com/bruhmeric/torrentwave/internal/metrics"
	"github.com/bruhmeric/torrentwave/internal/providers/jackett"
)

const (
	defaultCategoryTTL          = 6 * time.Hour
	defaultCategoryFetchTimeout = 30 * time.Second
)

// CategorySource fetches the taxonomy from upstream. *jackett.Client
// satisfies it.
type CategorySource interface {
	Categories(ctx context.Context, settings jackett.Settings) ([]domain.Category, error)
}

// CategoryCache is an optional shared tier behind the in-process cache.
type CategoryCache interface {
	Get(ctx context.Context, key string) ([]domain.Category, bool, error)
	Set(ctx context.Context, key string, categories []domain.Category, ttl time.Duration) error
}

type cachedCategories struct {
	categories []domain.Category
	expiresAt  time.Time
}

// Catalog serves the category taxonomy once per server configuration.
// Concurrent requests for the same configuration share one upstream fetch;
// failures are not cached.
type Catalog struct {
	source       CategorySource
	shared       CategoryCache
	ttl          time.Duration
	fetchTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
	group        singleflight.Group
	mu           sync.RWMutex
	local        map[string]cachedCategories
}

type CatalogOption func(*Catalog)

func WithCategoryTTL(ttl time.Duration) CatalogOption {
	return func(c *Catalog) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCategoryFetchTimeout bounds one upstream taxonomy fetch. The fetch is
// shared between callers, so it does not follow any one caller's deadline.
func WithCategoryFetchTimeout(timeout time.Duration) CatalogOption {
	return func(c *Catalog) {
		if timeout > 0 {
			c.fetchTimeout = timeout
		}
	}
}

func WithSharedCategoryCache(cache CategoryCache) CatalogOption {
	return func(c *Catalog) {
		c.shared = cache
	}
}

func WithCatalogLogger(logger *slog.Logger) CatalogOption {
	return func(c *Catalog) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewCatalog(source CategorySource, opts ...CatalogOption) *Catalog {
	catalog := &Catalog{
		source:       source,
		ttl:          defaultCategoryTTL,
		fetchTimeout: defaultCategoryFetchTimeout,
		logger:       slog.Default(),
		now:          time.Now,
		local:        make(map[string]cachedCategories),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(catalog)
		}
	}
	return catalog
}

func (c *Catalog) Categories(ctx context.Context, settings jackett.Settings) ([]domain.Category, error) {
	if !settings.Configured() {
		return nil, jackett.NewConfigError("Jackett URL and API Key must be provided.")
	}
	key := settingsFingerprint(settings)
	if categories, ok := c.lookupLocal(key); ok {
		metrics.CategoryCacheHitsTotal.Inc()
		return categories, nil
	}

	// The shared fetch outlives any single caller: one visitor leaving must
	// not fail the others waiting on the same key.
	flight := c.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()
		return c.fetch(fetchCtx, key, settings)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-flight:
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Val.([]domain.Category), nil
	}
}

func (c *Catalog) fetch(ctx context.Context, key string, settings jackett.Settings) ([]domain.Category, error) {
	if categories, ok := c.lookupLocal(key); ok {
		metrics.CategoryCacheHitsTotal.Inc()
		return categories, nil
	}
	if categories, ok := c.lookupShared(ctx, key); ok {
		metrics.CategoryCacheHitsTotal.Inc()
		c.storeLocal(key, categories)
		return categories, nil
	}
	metrics.CategoryCacheMissesTotal.Inc()
	categories, err := c.source.Categories(ctx, settings)
	if err != nil {
		return nil, err
	}
	c.storeLocal(key, categories)
	c.storeShared(ctx, key, categories)
	return categories, nil
}

// Invalidate forgets every cached taxonomy in this process.
func (c *Catalog) Invalidate() {
	c.mu.Lock()
	c.local = make(map[string]cachedCategories)
	c.mu.Unlock()
}

func (c *Catalog) lookupLocal(key string) ([]domain.Category, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.local[key]
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.categories, true
}

func (c *Catalog) storeLocal(key string, categories []domain.Category) {
	c.mu.Lock()
	c.local[key] = cachedCategories{categories: categories, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *Catalog) lookupShared(ctx context.Context, key string) ([]domain.Category, bool) {
	if c.shared == nil {
		return nil, false
	}
	categories, ok, err := c.shared.Get(ctx, key)
	if err != nil {
		c.logger.Warn("category cache read failed", slog.String("error", err.Error()))
		return nil, false
	}
	return categories, ok
}

func (c *Catalog) storeShared(ctx context.Context, key string, categories []domain.Category) {
	if c.shared == nil {
		return
	}
	if err := c.shared.Set(ctx, key, categories, c.ttl); err != nil {
		c.logger.Warn("category cache write failed", slog.String("error", err.Error()))
	}
}

// settingsFingerprint keys caches by server and credentials without keeping
// the API key in clear text.
func settingsFingerprint(settings jackett.Settings) string {
	sum := sha256.Sum256([]byte(jackett.SanitizeBaseURL(settings.ServerURL) + "\n" + strings.TrimSpace(settings.APIKey)))
	return hex.EncodeToString(sum[:16])
}
