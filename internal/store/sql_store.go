package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/veoflow/api/internal/model"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// projectRecord is the row layout. The scene list and config travel in State
// as JSON; owner and phase are columns so they can be queried.
type projectRecord struct {
	ID        string `gorm:"primaryKey;size:64"`
	OwnerID   string `gorm:"size:191;index"`
	Phase     string `gorm:"size:32"`
	State     []byte `gorm:"not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (projectRecord) TableName() string { return "projects" }

// SQLStore persists projects through gorm on postgres, mysql or sqlite
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore opens the database and migrates the projects table
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("store DSN is required for driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	return NewSQLStoreFromDB(db)
}

// NewSQLStoreFromDB wraps an existing connection
func NewSQLStoreFromDB(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&projectRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate projects: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Create(ctx context.Context, p *model.Project) error {
	rec, err := toRecord(p)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*model.Project, error) {
	var rec projectRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return decodeProject(rec.State)
}

func (s *SQLStore) Save(ctx context.Context, p *model.Project) error {
	rec, err := toRecord(p)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(rec).Error; err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

func (s *SQLStore) ListByOwner(ctx context.Context, ownerID string) ([]*model.Project, error) {
	var recs []projectRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	projects := make([]*model.Project, 0, len(recs))
	for i := range recs {
		p, err := decodeProject(recs[i].State)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, nil
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&projectRecord{}).Error
}

func toRecord(p *model.Project) (*projectRecord, error) {
	p.UpdatedAt = time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = p.UpdatedAt
	}
	state, err := encodeProject(p)
	if err != nil {
		return nil, err
	}
	return &projectRecord{
		ID:        p.ID,
		OwnerID:   p.OwnerID,
		Phase:     string(p.Phase),
		State:     state,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}, nil
}
