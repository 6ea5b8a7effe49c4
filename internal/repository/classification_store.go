package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	classificationKeyPrefix = "sla:classification:"
	reminderKeyPrefix       = "sla:reminder:"
)

// ClassificationStore remembers the last classification per ticket and which
// reminders were already sent.
type ClassificationStore interface {
	// Swap stores the classification and returns the previous one, or "" if none.
	Swap(ctx context.Context, ticketID, classification string) (string, error)
	// ClaimReminder returns true for the first caller with a given key.
	ClaimReminder(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, ticketID string) error
}

type redisClassificationStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisClassificationStore builds a Redis-backed store. Keys expire after ttl.
func NewRedisClassificationStore(client *redis.Client, ttl time.Duration) ClassificationStore {
	return &redisClassificationStore{client: client, ttl: ttl}
}

func (s *redisClassificationStore) Swap(ctx context.Context, ticketID, classification string) (string, error) {
	prev, err := s.client.SetArgs(ctx, classificationKeyPrefix+ticketID, classification, redis.SetArgs{
		Get: true,
		TTL: s.ttl,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return prev, err
}

func (s *redisClassificationStore) ClaimReminder(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, reminderKeyPrefix+key, 1, s.ttl).Result()
}

// Forget drops the classification and any reminder claims of a finished ticket.
func (s *redisClassificationStore) Forget(ctx context.Context, ticketID string) error {
	keys := []string{classificationKeyPrefix + ticketID}
	iter := s.client.Scan(ctx, 0, reminderKeyPrefix+ticketID+":*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return s.client.Del(ctx, keys...).Err()
}

// MemoryClassificationStore is the in-process fallback used when Redis is unreachable.
// Reminder claims expire after ttl like their Redis counterparts; zero keeps them until
// the ticket is forgotten.
type MemoryClassificationStore struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
	last      map[string]string
	reminders map[string]time.Time
}

// NewMemoryClassificationStore builds an empty store.
func NewMemoryClassificationStore(ttl time.Duration) *MemoryClassificationStore {
	return &MemoryClassificationStore{
		ttl:       ttl,
		now:       time.Now,
		last:      make(map[string]string),
		reminders: make(map[string]time.Time),
	}
}

func (s *MemoryClassificationStore) Swap(_ context.Context, ticketID, classification string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.last[ticketID]
	s.last[ticketID] = classification
	return prev, nil
}

func (s *MemoryClassificationStore) ClaimReminder(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.sweep(now)
	if claimedAt, ok := s.reminders[key]; ok && !s.expired(claimedAt, now) {
		return false, nil
	}
	s.reminders[key] = now
	return true, nil
}

func (s *MemoryClassificationStore) Forget(_ context.Context, ticketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, ticketID)
	prefix := ticketID + ":"
	for key := range s.reminders {
		if strings.HasPrefix(key, prefix) {
			delete(s.reminders, key)
		}
	}
	return nil
}

// Len reports the number of reminder claims held.
func (s *MemoryClassificationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reminders)
}

func (s *MemoryClassificationStore) expired(claimedAt, now time.Time) bool {
	return s.ttl > 0 && now.Sub(claimedAt) >= s.ttl
}

// sweep drops expired claims, at most once per minute.
func (s *MemoryClassificationStore) sweep(now time.Time) {
	if s.ttl <= 0 || now.Sub(s.lastSweep) < time.Minute {
		return
	}
	s.lastSweep = now
	for key, claimedAt := range s.reminders {
		if s.expired(claimedAt, now) {
			delete(s.reminders, key)
		}
	}
}
