package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const redisMaxMergeAttempts = 10

// RedisConfig configures Redis access for the document store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps one hash per collection, field = document id, value =
// JSON body. Merges run under WATCH so they stay atomic per document.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis document store: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string) *RedisStore {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "firealert"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) key(collection string) string {
	return s.prefix + ":docs:" + collection
}

func (s *RedisStore) NewID() string {
	return uuid.NewString()
}

func (s *RedisStore) Get(ctx context.Context, collection, id string) (Doc, error) {
	raw, err := s.client.HGet(ctx, s.key(collection), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return decodeBody(id, raw)
}

func (s *RedisStore) Create(ctx context.Context, collection, id string, doc Doc) error {
	body, err := encodeBody(id, doc)
	if err != nil {
		return err
	}
	ok, err := s.client.HSetNX(ctx, s.key(collection), id, body).Result()
	if err != nil {
		return fmt.Errorf("failed to create %s/%s: %w", collection, id, err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) Set(ctx context.Context, collection, id string, doc Doc, merge bool) error {
	key := s.key(collection)
	if !merge {
		body, err := encodeBody(id, doc)
		if err != nil {
			return err
		}
		if err := s.client.HSet(ctx, key, id, body).Err(); err != nil {
			return fmt.Errorf("failed to set %s/%s: %w", collection, id, err)
		}
		return nil
	}

	patch := copyDoc(doc)
	txf := func(tx *redis.Tx) error {
		var current map[string]interface{}
		raw, err := tx.HGet(ctx, key, id).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &current); err != nil {
				return fmt.Errorf("failed to decode document %s: %w", id, err)
			}
		}
		body, err := encodeBody(id, MergePatch(current, patch))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, body)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisMaxMergeAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			log.Debugf("Merge of %s/%s raced, retrying (attempt %d)", collection, id, attempt+1)
			continue
		}
		return fmt.Errorf("failed to merge %s/%s: %w", collection, id, err)
	}
	return fmt.Errorf("failed to merge %s/%s: too many concurrent writers", collection, id)
}

func (s *RedisStore) Update(ctx context.Context, collection, id string, patch Doc, conds ...Filter) error {
	if err := validateFilters(conds); err != nil {
		return err
	}
	key := s.key(collection)
	patch = copyDoc(patch)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, id).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		current, err := decodeBody(id, raw)
		if err != nil {
			return err
		}
		if !Matches(current, conds) {
			return ErrConflict
		}
		body, err := encodeBody(id, MergePatch(current, patch))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, id, body)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < redisMaxMergeAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict):
			return err
		case errors.Is(err, redis.TxFailedErr):
			log.Debugf("Update of %s/%s raced, retrying (attempt %d)", collection, id, attempt+1)
			continue
		}
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	return fmt.Errorf("failed to update %s/%s: too many concurrent writers", collection, id)
}

func (s *RedisStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Doc, error) {
	if err := validateFilters(filters); err != nil {
		return nil, err
	}
	all, err := s.client.HGetAll(ctx, s.key(collection)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", collection, err)
	}
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Doc
	for _, id := range ids {
		d, err := decodeBody(id, []byte(all[id]))
		if err != nil {
			log.Errorf("Skipping undecodable document %s/%s: %v", collection, id, err)
			continue
		}
		if Matches(d, filters) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, collection, id string) (bool, error) {
	n, err := s.client.HDel(ctx, s.key(collection), id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return n > 0, nil
}
