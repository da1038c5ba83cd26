// Package redis provides a Redis-backed crawler.CheckpointStore.
//
// Completed ids live in the set checkpoint:<target>:completed and their
// records in the hash checkpoint:<target>:records. Both are written in one
// MULTI/EXEC transaction.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

const keyPrefix = "checkpoint:"

// Config describes the Redis connection.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store implements crawler.CheckpointStore.
type Store struct {
	client redis.UniversalClient
}

// New connects to Redis and pings it.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("checkpoint.redis_addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &Store{client: client}, nil
}

func completedKey(target string) string {
	return keyPrefix + target + ":completed"
}

func recordsKey(target string) string {
	return keyPrefix + target + ":records"
}

// Load returns the members of the target's completed set.
func (s *Store) Load(ctx context.Context, target string) (crawler.CrawlState, error) {
	ids, err := s.client.SMembers(ctx, completedKey(target)).Result()
	if err != nil {
		return crawler.CrawlState{}, fmt.Errorf("load checkpoints: %w", err)
	}
	state := crawler.NewCrawlState(target)
	for _, id := range ids {
		state.Completed[id] = struct{}{}
	}
	return state, nil
}

// RecordCompleted adds id to the completed set and stores its record.
func (s *Store) RecordCompleted(ctx context.Context, target, id string, record crawler.Record) error {
	if id == "" {
		return errors.New("checkpoint id is required")
	}
	if record == nil {
		record = crawler.Record{}
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, completedKey(target), id)
		pipe.HSetNX(ctx, recordsKey(target), id, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("record checkpoint: %w", err)
	}
	return nil
}

// IsCompleted reports whether id is in the target's completed set.
func (s *Store) IsCompleted(ctx context.Context, target, id string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, completedKey(target), id).Result()
	if err != nil {
		return false, fmt.Errorf("check checkpoint: %w", err)
	}
	return ok, nil
}

// Close closes the client.
func (s *Store) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
