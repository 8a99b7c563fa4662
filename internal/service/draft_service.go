package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/veoflow/api/internal/model"
)

// DraftService keeps the editor's script and duration between sessions
type DraftService struct {
	redis *redis.Client
}

func NewDraftService(redisClient *redis.Client) *DraftService {
	return &DraftService{redis: redisClient}
}

func draftKey(userID string) string {
	return fmt.Sprintf("draft:%s", userID)
}

// Load returns the saved draft, or an empty script with the default duration
func (s *DraftService) Load(ctx context.Context, userID string) (*model.Draft, error) {
	fields, err := s.redis.HGetAll(ctx, draftKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load draft: %w", err)
	}

	draft := &model.Draft{
		Script:   fields[model.DraftScriptKey],
		Duration: fields[model.DraftTimeKey],
	}
	if draft.Duration == "" {
		draft.Duration = model.DefaultDuration
	}
	return draft, nil
}

// Save normalizes the duration to MM:SS and stores both fields
func (s *DraftService) Save(ctx context.Context, userID string, req *model.SaveDraftRequest) (*model.Draft, error) {
	duration := model.DefaultDuration
	if strings.TrimSpace(req.Duration) != "" {
		duration = model.FormatDuration(req.Duration)
	}

	draft := &model.Draft{Script: req.Script, Duration: duration}
	err := s.redis.HSet(ctx, draftKey(userID),
		model.DraftScriptKey, draft.Script,
		model.DraftTimeKey, draft.Duration,
	).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to save draft: %w", err)
	}
	return draft, nil
}
