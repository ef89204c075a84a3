package settings

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/bruhmeric/torrentwave/internal/providers/jackett"
)

const (
	defaultRedisKey = "torrentwave:settings:v1"

	fieldServerURL = "serverUrl"
	fieldAPIKey    = "apiKey"
)

// Store persists the Jackett connection settings. Load reports false when
// nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (jackett.Settings, bool, error)
	Save(ctx context.Context, settings jackett.Settings) error
}

// RedisStore keeps the settings in one Redis hash.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	storeKey := strings.TrimSpace(key)
	if storeKey == "" {
		storeKey = defaultRedisKey
	}
	return &RedisStore{client: client, key: storeKey}
}

func (s *RedisStore) Load(ctx context.Context) (jackett.Settings, bool, error) {
	items, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return jackett.Settings{}, false, nil
		}
		return jackett.Settings{}, false, err
	}
	if len(items) == 0 {
		return jackett.Settings{}, false, nil
	}
	return jackett.Settings{
		ServerURL: strings.TrimSpace(items[fieldServerURL]),
		APIKey:    strings.TrimSpace(items[fieldAPIKey]),
	}, true, nil
}

// Save writes both fields; blank fields are removed from the hash so an
// emptied value does not come back on the next load.
func (s *RedisStore) Save(ctx context.Context, settings jackett.Settings) error {
	values := map[string]string{
		fieldServerURL: strings.TrimSpace(settings.ServerURL),
		fieldAPIKey:    strings.TrimSpace(settings.APIKey),
	}
	var set []any
	var drop []string
	for field, value := range values {
		if value == "" {
			drop = append(drop, field)
			continue
		}
		set = append(set, field, value)
	}

	pipe := s.client.TxPipeline()
	if len(drop) > 0 {
		pipe.HDel(ctx, s.key, drop...)
	}
	if len(set) > 0 {
		pipe.HSet(ctx, s.key, set...)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// MemoryStore is used when no Redis is configured; settings last for the
// life of the process.
type MemoryStore struct {
	mu       sync.Mutex
	settings jackett.Settings
	saved    bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(context.Context) (jackett.Settings, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, m.saved, nil
}

func (m *MemoryStore) Save(_ context.Context, settings jackett.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = jackett.Settings{
		ServerURL: strings.TrimSpace(settings.ServerURL),
		APIKey:    strings.TrimSpace(settings.APIKey),
	}
	m.saved = true
	return nil
}
