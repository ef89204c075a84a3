package jackett

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bruhmeric/torrentwave/internal/domain"
	"github.com/bruhmeric/torrentwave/internal/metrics"
	"github.com/bruhmeric/torrentwave/internal/providers/common"
)

const (
	defaultUserAgent = "torrentwave/1.0"

	maxSearchBodyBytes = 32 * 1024 * 1024
	maxCapsBodyBytes   = 4 * 1024 * 1024
	maxErrorBodyBytes  = 64 * 1024
)

type Config struct {
	UserAgent string
	Client    *http.Client
	Trackers  []string
	Logger    *slog.Logger
	// Now feeds the cache-busting parameter; defaults to time.Now.
	Now func() time.Time
}

// Client talks to the aggregated "all indexers" endpoints of a Jackett
// server. The server address and API key are supplied per call.
type Client struct {
	userAgent string
	client    *http.Client
	trackers  []string
	logger    *slog.Logger
	now       func() time.Time
}

type SearchRequest struct {
	Query      string
	Categories []string
}

type SearchResponse struct {
	Results  []domain.TorrentResult
	Indexers []domain.IndexerStatus
}

func NewClient(cfg Config) *Client {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	trackers := cfg.Trackers
	if len(trackers) == 0 {
		trackers = append([]string(nil), common.PublicTrackers...)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Client{
		userAgent: userAgent,
		client:    client,
		trackers:  trackers,
		logger:    logger,
		now:       now,
	}
}

// Search queries every configured indexer through Jackett and returns the
// normalized hits in upstream order. It makes exactly one request.
func (c *Client) Search(ctx context.Context, settings Settings, request SearchRequest) (SearchResponse, error) {
	if !settings.Configured() {
		return SearchResponse{}, NewConfigError("Jackett URL and API Key must be provided.")
	}
	query := strings.TrimSpace(request.Query)
	if query == "" {
		return SearchResponse{}, NewConfigError("Please enter a search term.")
	}

	params := url.Values{}
	params.Set("apikey", strings.TrimSpace(settings.APIKey))
	params.Set("Query", query)
	for _, category := range request.Categories {
		if value := strings.TrimSpace(category); value != "" {
			params.Add("Category[]", value)
		}
	}
	params.Set("_", strconv.FormatInt(c.now().UnixMilli(), 10))
	endpoint := SanitizeBaseURL(settings.ServerURL) + searchPath + "?" + params.Encode()

	resp, err := c.get(ctx, "search", endpoint, "application/json")
	if err != nil {
		return SearchResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := errorFromResponse(resp)
		c.logger.Warn("jackett search rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("error", apiErr.Message),
		)
		return SearchResponse{}, apiErr
	}

	var payload searchPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSearchBodyBytes)).Decode(&payload); err != nil {
		if cancelled(ctx) {
			return SearchResponse{}, ctx.Err()
		}
		return SearchResponse{}, &Error{Kind: KindAPI, Message: "Jackett returned a malformed search response.", Status: resp.StatusCode, Err: err}
	}

	results, err := c.normalizeResults(payload.results())
	if err != nil {
		return SearchResponse{}, err
	}
	indexers := payload.indexerStatuses()
	for _, indexer := range indexers {
		if indexer.Error != "" {
			c.logger.Debug("jackett indexer reported an error",
				slog.String("indexer", indexer.ID),
				slog.String("error", indexer.Error),
			)
		}
	}
	metrics.SearchResultsCount.Observe(float64(len(results)))
	return SearchResponse{Results: results, Indexers: indexers}, nil
}

// Categories fetches the Torznab capabilities of the aggregated endpoint and
// returns its category taxonomy.
func (c *Client) Categories(ctx context.Context, settings Settings) ([]domain.Category, error) {
	if !settings.Configured() {
		return nil, NewConfigError("Jackett URL and API Key must be provided.")
	}
	params := url.Values{}
	params.Set("t", "caps")
	params.Set("apikey", strings.TrimSpace(settings.APIKey))
	endpoint := SanitizeBaseURL(settings.ServerURL) + capabilitiesPath + "?" + params.Encode()

	resp, err := c.get(ctx, "caps", endpoint, "application/xml,text/xml")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewAPIError(fmt.Sprintf("Failed to fetch categories with status: %d", resp.StatusCode), "", resp.StatusCode)
	}
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxCapsBodyBytes))
	if err != nil {
		if cancelled(ctx) {
			return nil, ctx.Err()
		}
		return nil, Classify(err)
	}
	categories, err := ParseCapabilities(payload)
	if err != nil {
		c.logger.Warn("jackett capabilities rejected", slog.String("error", err.Error()))
		return nil, err
	}
	return categories, nil
}

// TestConnection issues a cheap search to confirm the server is reachable
// and accepts the API key.
func (c *Client) TestConnection(ctx context.Context, settings Settings) error {
	if !settings.Configured() {
		return NewConfigError("Jackett URL and API Key must be provided for testing.")
	}
	params := url.Values{}
	params.Set("apikey", strings.TrimSpace(settings.APIKey))
	params.Set("Query", "test")
	params.Set("_", strconv.FormatInt(c.now().UnixMilli(), 10))
	endpoint := SanitizeBaseURL(settings.ServerURL) + searchPath + "?" + params.Encode()

	resp, err := c.get(ctx, "test", endpoint, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewAPIError("Connection successful, but the API Key seems to be invalid.", "", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return NewAPIError(fmt.Sprintf("Connection failed with server status: %d. Check if the server is running correctly.", resp.StatusCode), "", resp.StatusCode)
	}
	return nil
}

// get performs one GET. Transport failures come back classified; a
// cancelled context comes back as the context error.
func (c *Client) get(ctx context.Context, operation, endpoint, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		metrics.UpstreamRequestsTotal.WithLabelValues(operation, "invalid_request").Inc()
		return nil, Classify(fmt.Errorf("invalid Jackett address: %w", err))
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)

	startedAt := time.Now()
	resp, err := c.client.Do(req)
	metrics.UpstreamRequestDuration.WithLabelValues(operation).Observe(time.Since(startedAt).Seconds())
	if err != nil {
		if cancelled(ctx) {
			metrics.UpstreamRequestsTotal.WithLabelValues(operation, "cancelled").Inc()
			return nil, ctx.Err()
		}
		metrics.UpstreamRequestsTotal.WithLabelValues(operation, "transport_error").Inc()
		c.logger.Warn("jackett request failed",
			slog.String("operation", operation),
			slog.String("host", req.URL.Host),
			slog.String("error", err.Error()),
		)
		return nil, Classify(err)
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()
	return resp, nil
}

// cancelled reports whether the caller gave up on the call. A passed
// deadline is not a cancellation and is classified like any other timeout.
func cancelled(ctx context.Context) bool {
	return errors.Is(ctx.Err(), context.Canceled)
}

// errorFromResponse prefers the "error" field of a JSON body and falls back
// to a message carrying the HTTP status.
func errorFromResponse(resp *http.Response) *Error {
	message := fmt.Sprintf("HTTP error! Status: %d", resp.StatusCode)
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err == nil {
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
			message = payload.Error
		}
	}
	return NewAPIError(message, "", resp.StatusCode)
}

func (c *Client) normalizeResults(items []rawResult) ([]domain.TorrentResult, error) {
	results := make([]domain.TorrentResult, 0, len(items))
	for index, item := range items {
		result, err := item.toResult(index+1, c.trackers)
		if err != nil {
			return nil, &Error{
				Kind:    KindAPI,
				Message: fmt.Sprintf("Jackett returned an invalid result at position %d: %s", index+1, err.Error()),
				Err:     err,
			}
		}
		results = append(results, result)
	}
	return results, nil
}

type searchPayload struct {
	Results  *[]rawResult `json:"Results"`
	Indexers []rawIndexer `json:"Indexers"`
}

func (p searchPayload) results() []rawResult {
	if p.Results == nil {
		return nil
	}
	return *p.Results
}

func (p searchPayload) indexerStatuses() []domain.IndexerStatus {
	if len(p.Indexers) == 0 {
		return nil
	}
	out := make([]domain.IndexerStatus, 0, len(p.Indexers))
	for _, indexer := range p.Indexers {
		out = append(out, domain.IndexerStatus{
			ID:      indexer.ID,
			Name:    indexer.Name,
			Status:  indexer.Status,
			Results: indexer.Results,
			Error:   stringValue(indexer.Error),
		})
	}
	return out
}

type rawIndexer struct {
	ID      string  `json:"ID"`
	Name    string  `json:"Name"`
	Status  int     `json:"Status"`
	Results int     `json:"Results"`
	Error   *string `json:"Error"`
}

type rawResult struct {
	Title        *string `json:"Title"`
	CategoryDesc *string `json:"CategoryDesc"`
	Size         *int64  `json:"Size"`
	Seeders      *int    `json:"Seeders"`
	Peers        *int    `json:"Peers"`
	PublishDate  *string `json:"PublishDate"`
	Tracker      *string `json:"Tracker"`
	TrackerID    *string `json:"TrackerId"`
	Details      *string `json:"Details"`
	Link         *string `json:"Link"`
	InfoHash     *string `json:"InfoHash"`
	MagnetURI    *string `json:"MagnetUri"`
}

var (
	errMissingTitle       = errors.New("missing Title")
	errInvalidPublishDate = errors.New("missing or unparseable PublishDate")
	errNegativeNumber     = errors.New("negative Size, Seeders or Peers")
)

func (r rawResult) toResult(id int, trackers []string) (domain.TorrentResult, error) {
	title := strings.TrimSpace(stringValue(r.Title))
	if title == "" {
		return domain.TorrentResult{}, errMissingTitle
	}
	publishDate := strings.TrimSpace(stringValue(r.PublishDate))
	publishedAt, ok := common.ParseTimestamp(publishDate)
	if !ok {
		return domain.TorrentResult{}, errInvalidPublishDate
	}
	if (r.Size != nil && *r.Size < 0) || (r.Seeders != nil && *r.Seeders < 0) || (r.Peers != nil && *r.Peers < 0) {
		return domain.TorrentResult{}, errNegativeNumber
	}

	result := domain.TorrentResult{
		ID:           id,
		Title:        title,
		CategoryDesc: strings.TrimSpace(stringValue(r.CategoryDesc)),
		Size:         r.Size,
		Seeders:      r.Seeders,
		Peers:        r.Peers,
		PublishDate:  publishDate,
		PublishedAt:  publishedAt,
		Tracker:      strings.TrimSpace(stringValue(r.Tracker)),
		TrackerID:    strings.TrimSpace(stringValue(r.TrackerID)),
		Details:      strings.TrimSpace(stringValue(r.Details)),
		Link:         strings.TrimSpace(stringValue(r.Link)),
		InfoHash:     common.NormalizeInfoHash(stringValue(r.InfoHash)),
		MagnetURI:    strings.TrimSpace(stringValue(r.MagnetURI)),
	}
	if result.Size != nil {
		result.SizeHuman = common.FormatBytes(*result.Size, 2)
	}
	if result.MagnetURI == "" && result.InfoHash != "" {
		result.MagnetURI = common.BuildMagnet(result.InfoHash, result.Title, trackers)
	}
	return result, nil
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
