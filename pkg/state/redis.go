package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisStatePrefix = "ladle:state:"
	redisRunsPrefix  = "ladle:runs:"

	// redisRunHistoryCap bounds the per-recipe run history list.
	redisRunHistoryCap = 200
)

// RedisStore persists state in Redis. Suitable when multiple workers share
// state or when the scheduler runs recipes from more than one host.
type RedisStore struct {
	client *redis.Client
	addr   string
	db     int
}

// NewRedisStore creates a Redis-backed state store.
func NewRedisStore(addr string, db int) (*RedisStore, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	return &RedisStore{addr: addr, db: db}, nil
}

// Init connects to Redis and verifies the connection.
func (s *RedisStore) Init(ctx context.Context) error {
	s.client = redis.NewClient(&redis.Options{
		Addr:         s.addr,
		DB:           s.db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	})

	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis at %s: %w", s.addr, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// LoadState retrieves the state for a recipe.
func (s *RedisStore) LoadState(ctx context.Context, recipe string) (*State, error) {
	data, err := s.client.Get(ctx, redisStatePrefix+recipe).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	st := &State{}
	if err := json.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return st, nil
}

// SaveState stores the state for a recipe.
func (s *RedisStore) SaveState(ctx context.Context, st *State) error {
	if st.Recipe == "" {
		return fmt.Errorf("state recipe name is required")
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	if err := s.client.Set(ctx, redisStatePrefix+st.Recipe, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// DeleteState removes the state for a recipe. Missing state is not an error.
func (s *RedisStore) DeleteState(ctx context.Context, recipe string) error {
	if err := s.client.Del(ctx, redisStatePrefix+recipe).Err(); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// ListStates returns the recipe names that have saved state.
func (s *RedisStore) ListStates(ctx context.Context) ([]string, error) {
	var names []string
	iter := s.client.Scan(ctx, 0, redisStatePrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		names = append(names, strings.TrimPrefix(iter.Val(), redisStatePrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan states: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// RecordRun pushes a run record onto the per-recipe history list.
func (s *RedisStore) RecordRun(ctx context.Context, run *RunRecord) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to encode run record: %w", err)
	}

	key := redisRunsPrefix + run.Recipe
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, redisRunHistoryCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs for a recipe, newest first. An empty
// recipe name scans history across all recipes.
func (s *RedisStore) ListRuns(ctx context.Context, recipe string, limit int) ([]*RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var keys []string
	if recipe != "" {
		keys = []string{redisRunsPrefix + recipe}
	} else {
		iter := s.client.Scan(ctx, 0, redisRunsPrefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan run history: %w", err)
		}
	}

	var runs []*RunRecord
	for _, key := range keys {
		entries, err := s.client.LRange(ctx, key, 0, int64(limit-1)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read run history: %w", err)
		}
		for _, entry := range entries {
			run := &RunRecord{}
			if err := json.Unmarshal([]byte(entry), run); err != nil {
				return nil, fmt.Errorf("failed to decode run record: %w", err)
			}
			runs = append(runs, run)
		}
	}

	sort.SliceStable(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}
