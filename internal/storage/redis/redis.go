// Package redis stores the tracked-process snapshot in a Redis hash, one
// field per identity.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/tokikanri/tokikanri/internal/config"
	"github.com/tokikanri/tokikanri/internal/storage"
)

// Store implements storage.Store on a Redis hash
type Store struct {
	client *redis.Client
	key    string
}

type entry struct {
	AccumulatedMS int64  `json:"accumulated_ms"`
	DisplayName   string `json:"display_name,omitempty"`
	IsMedia       bool   `json:"is_media"`
}

// Open connects to Redis and verifies the connection
func Open(cfg config.RedisConfig) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	key := cfg.Key
	if key == "" {
		key = "tokikanri:processes"
	}
	return &Store{client: client, key: key}, nil
}

func (s *Store) Name() string { return "redis" }

// Load reads every field of the hash
func (s *Store) Load(ctx context.Context) ([]storage.Record, error) {
	data, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrap(err, "failed to read tracked processes")
	}

	records := make([]storage.Record, 0, len(data))
	for id, raw := range data {
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, errors.Wrapf(err, "corrupt entry for %s", id)
		}
		records = append(records, storage.Record{
			Identity:      id,
			AccumulatedMS: e.AccumulatedMS,
			DisplayName:   e.DisplayName,
			IsMedia:       e.IsMedia,
		})
	}
	return records, nil
}

// Save replaces the hash in a MULTI/EXEC transaction
func (s *Store) Save(ctx context.Context, records []storage.Record) error {
	fields := make([]interface{}, 0, 2*len(records))
	for _, r := range records {
		data, err := json.Marshal(entry{AccumulatedMS: r.AccumulatedMS, DisplayName: r.DisplayName, IsMedia: r.IsMedia})
		if err != nil {
			return errors.Wrapf(err, "failed to encode %s", r.Identity)
		}
		fields = append(fields, r.Identity, string(data))
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key)
	if len(fields) > 0 {
		pipe.HSet(ctx, s.key, fields...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to save tracked processes")
	}
	return nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}
