// Package settings holds the Jackett server address and API key the service
// searches with, seeded from the environment and editable at runtime.
package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bruhmeric/torrentwave/internal/providers/jackett"
)

var ErrInvalidServerURL = errors.New("invalid Jackett server URL")

const storeTimeout = 3 * time.Second

// View is the client-facing form of the settings. The API key itself is
// never returned.
type View struct {
	ServerURL     string `json:"serverUrl"`
	HasAPIKey     bool   `json:"hasApiKey"`
	APIKeyPreview string `json:"apiKeyPreview,omitempty"`
	Configured    bool   `json:"configured"`
}

// Patch updates only the fields that are set.
type Patch struct {
	ServerURL *string `json:"serverUrl"`
	APIKey    *string `json:"apiKey"`
}

type Service struct {
	store    Store
	defaults jackett.Settings
	logger   *slog.Logger
	mu       sync.RWMutex
	current  jackett.Settings
}

func NewService(store Store, defaults jackett.Settings, logger *slog.Logger) *Service {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	defaults = jackett.Settings{
		ServerURL: strings.TrimSpace(defaults.ServerURL),
		APIKey:    strings.TrimSpace(defaults.APIKey),
	}
	svc := &Service{
		store:    store,
		defaults: defaults,
		logger:   logger,
		current:  defaults,
	}
	svc.restore()
	return svc
}

// restore prefers persisted settings over the environment defaults. A store
// failure is logged and the defaults stay in effect.
func (s *Service) restore() {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	stored, ok, err := s.store.Load(ctx)
	if err != nil {
		s.logger.Warn("settings store unavailable, using environment defaults", slog.String("error", err.Error()))
		return
	}
	if !ok {
		return
	}
	s.mu.Lock()
	s.current = stored
	s.mu.Unlock()
}

func (s *Service) Current() jackett.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

func (s *Service) View() View {
	return viewOf(s.Current())
}

// Update applies patch, persists the result and returns the new view. The
// in-memory settings change only when the store accepted them.
func (s *Service) Update(ctx context.Context, patch Patch) (View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.current
	if patch.ServerURL != nil {
		next.ServerURL = strings.TrimSpace(*patch.ServerURL)
		if err := validateServerURL(next.ServerURL); err != nil {
			return viewOf(s.current), err
		}
	}
	if patch.APIKey != nil {
		next.APIKey = strings.TrimSpace(*patch.APIKey)
	}
	if next == s.current {
		return viewOf(next), nil
	}

	storeCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := s.store.Save(storeCtx, next); err != nil {
		return viewOf(s.current), fmt.Errorf("save settings: %w", err)
	}
	s.current = next
	s.logger.Info("jackett settings updated",
		slog.String("server", jackett.SanitizeBaseURL(next.ServerURL)),
		slog.Bool("configured", next.Configured()),
	)
	return viewOf(next), nil
}

func viewOf(settings jackett.Settings) View {
	return View{
		ServerURL:     settings.ServerURL,
		HasAPIKey:     settings.APIKey != "",
		APIKeyPreview: previewAPIKey(settings.APIKey),
		Configured:    settings.Configured(),
	}
}

// validateServerURL accepts a blank value (unconfigured) or anything that
// parses to a host once sanitized.
func validateServerURL(raw string) error {
	if raw == "" {
		return nil
	}
	parsed, err := url.Parse(jackett.SanitizeBaseURL(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidServerURL, err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidServerURL)
	}
	return nil
}

func previewAPIKey(apiKey string) string {
	value := strings.TrimSpace(apiKey)
	if value == "" {
		return ""
	}
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:4] + "..." + value[len(value)-4:]
}
