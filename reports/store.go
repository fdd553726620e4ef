package reports

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/mmdatafocus/pathway_backend/models"
	"github.com/redis/go-redis/v9"
)

var ErrNotFound = errors.New("report not found")

type Store interface {
	Save(ctx context.Context, r *models.Report) error
	Get(ctx context.Context, id string) (*models.Report, error)
}

type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string]models.Report
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string]models.Report)}
}

func (s *MemoryStore) Save(_ context.Context, r *models.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[r.ID] = *r
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

const redisKeyPrefix = "Report:"

// RedisStore keeps reports as JSON values. A zero ttl stores without expiry.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Save(ctx context.Context, r *models.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+r.ID, data, s.ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Report, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var r models.Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
