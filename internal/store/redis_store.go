package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/veoflow/api/internal/model"
)

// RedisStore keeps each project as a JSON document under project:<id>, with
// an index set per owner.
type RedisStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisStore(redisClient *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{redis: redisClient, ttl: ttl}
}

func projectKey(id string) string {
	return fmt.Sprintf("project:%s", id)
}

func ownerKey(ownerID string) string {
	return fmt.Sprintf("projects:%s", ownerID)
}

func (s *RedisStore) Create(ctx context.Context, p *model.Project) error {
	if err := s.Save(ctx, p); err != nil {
		return err
	}
	if err := s.redis.SAdd(ctx, ownerKey(p.OwnerID), p.ID).Err(); err != nil {
		return fmt.Errorf("failed to index project: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.Project, error) {
	data, err := s.redis.Get(ctx, projectKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return decodeProject(data)
}

func (s *RedisStore) Save(ctx context.Context, p *model.Project) error {
	p.UpdatedAt = time.Now()
	data, err := encodeProject(p)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, projectKey(p.ID), data, s.ttl).Err()
}

func (s *RedisStore) ListByOwner(ctx context.Context, ownerID string) ([]*model.Project, error) {
	ids, err := s.redis.SMembers(ctx, ownerKey(ownerID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = projectKey(id)
	}
	values, err := s.redis.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	projects := make([]*model.Project, 0, len(values))
	var expired []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		p, err := decodeProject([]byte(raw))
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	if len(expired) > 0 {
		s.redis.SRem(ctx, ownerKey(ownerID), expired...)
	}

	sortNewestFirst(projects)
	return projects, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrProjectNotFound) {
			return nil
		}
		return err
	}
	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, projectKey(id))
	pipe.SRem(ctx, ownerKey(p.OwnerID), id)
	_, err = pipe.Exec(ctx)
	return err
}

func encodeProject(p *model.Project) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal project: %w", err)
	}
	return data, nil
}

func decodeProject(data []byte) (*model.Project, error) {
	var p model.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal project: %w", err)
	}
	return &p, nil
}
