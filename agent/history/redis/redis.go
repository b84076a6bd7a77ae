//
// Tencent is pleased to support the open source community by making trpc-kernel-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-kernel-go is licensed under the Apache License Version 2.0.
//
//

// Package redis provides a history.Store on redis lists.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"trpc.group/trpc-go/trpc-kernel-go/agent/history"
	"trpc.group/trpc-go/trpc-kernel-go/model"
)

const defaultKeyPrefix = "trpc-kernel:thread:"

var _ history.Store = (*Store)(nil)

// Store keeps each thread in a redis list of JSON messages:
// <prefix><thread id> -> list [Message(json)] (ttl)
type Store struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	limit     int
}

// Option configures the store.
type Option func(*Store)

// WithRedisClient sets the redis client.
func WithRedisClient(c redis.UniversalClient) Option {
	return func(s *Store) { s.client = c }
}

// WithURL builds a client from a redis URL such as redis://localhost:6379/0.
func WithURL(url string) Option {
	return func(s *Store) {
		opts, err := redis.ParseURL(url)
		if err != nil {
			return
		}
		s.client = redis.NewClient(opts)
	}
}

// WithKeyPrefix sets the prefix of thread keys.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithTTL expires threads ttl after their last append.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) { s.ttl = ttl }
}

// WithLimit keeps only the last n messages of each thread.
func WithLimit(n int) Option {
	return func(s *Store) { s.limit = n }
}

// New creates a store. A client is required.
func New(opts ...Option) (*Store, error) {
	s := &Store{keyPrefix: defaultKeyPrefix}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		return nil, errors.New("redis client is required")
	}
	return s, nil
}

func (s *Store) key(threadID string) string { return s.keyPrefix + threadID }

// Load implements history.Store.
func (s *Store) Load(ctx context.Context, threadID string) ([]*model.Message, error) {
	raw, err := s.client.LRange(ctx, s.key(threadID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load thread %s failed: %w", threadID, err)
	}
	out := make([]*model.Message, 0, len(raw))
	for _, r := range raw {
		m := &model.Message{}
		if err := json.Unmarshal([]byte(r), m); err != nil {
			return nil, fmt.Errorf("unmarshal message failed: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Append implements history.Store.
func (s *Store) Append(ctx context.Context, threadID string, msgs ...*model.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	values := make([]any, len(msgs))
	for i, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message failed: %w", err)
		}
		values[i] = b
	}
	key := s.key(threadID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, values...)
	if s.limit > 0 {
		pipe.LTrim(ctx, key, -int64(s.limit), -1)
	}
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append to thread %s failed: %w", threadID, err)
	}
	return nil
}

// Clear implements history.Store.
func (s *Store) Clear(ctx context.Context, threadID string) error {
	if err := s.client.Del(ctx, s.key(threadID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("clear thread %s failed: %w", threadID, err)
	}
	return nil
}
