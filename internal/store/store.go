package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/veoflow/api/internal/config"
	"github.com/veoflow/api/internal/model"
)

// ErrProjectNotFound is returned when no project has the requested id
var ErrProjectNotFound = errors.New("project not found")

// ProjectStore persists the full pipeline state of a project. Save is called
// after every state transition.
type ProjectStore interface {
	Create(ctx context.Context, p *model.Project) error
	Get(ctx context.Context, id string) (*model.Project, error)
	Save(ctx context.Context, p *model.Project) error
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Project, error)
	Delete(ctx context.Context, id string) error
}

// New returns the store selected by cfg.Driver
func New(cfg *config.StoreConfig, rdb *redis.Client) (ProjectStore, error) {
	switch cfg.Driver {
	case "", "redis":
		return NewRedisStore(rdb, cfg.ProjectTTL), nil
	case "postgres", "mysql", "sqlite":
		return NewSQLStore(cfg.Driver, cfg.DSN)
	case "memory":
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func sortNewestFirst(projects []*model.Project) {
	sort.Slice(projects, func(i, j int) bool {
		return projects[i].CreatedAt.After(projects[j].CreatedAt)
	})
}

// MemoryStore keeps projects in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{projects: make(map[string][]byte)}
}

func (s *MemoryStore) Create(ctx context.Context, p *model.Project) error {
	return s.Save(ctx, p)
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Project, error) {
	s.mu.RLock()
	data, ok := s.projects[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrProjectNotFound
	}
	return decodeProject(data)
}

func (s *MemoryStore) Save(ctx context.Context, p *model.Project) error {
	p.UpdatedAt = time.Now()
	data, err := encodeProject(p)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.projects[p.ID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string) ([]*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Project
	for _, data := range s.projects {
		p, err := decodeProject(data)
		if err != nil {
			return nil, err
		}
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	delete(s.projects, id)
	s.mu.Unlock()
	return nil
}
