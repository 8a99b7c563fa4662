package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/veoflow/api/internal/client"
	"github.com/veoflow/api/internal/model"
	"github.com/veoflow/api/internal/pkg/logger"
	"github.com/veoflow/api/internal/retry"
)

// CredentialProvider decides whether a user may start generation and which
// key their requests use.
type CredentialProvider interface {
	HasCredential(ctx context.Context, ownerID string) (bool, error)
	RequestCredential(ctx context.Context, ownerID string) (bool, error)
	Resolve(ctx context.Context, ownerID string) (string, error)
	Invalidate(ctx context.Context, ownerID string) error
}

// KeyProber checks that an API key is accepted
type KeyProber interface {
	Ping(ctx context.Context) error
}

const (
	credentialKeyField   = "apiKey"
	credentialValidField = "valid"
)

// CredentialService stores per-user Gemini keys in Redis and falls back to
// the server key for users who never connected one.
type CredentialService struct {
	redis       *redis.Client
	prober      KeyProber
	fallbackKey string
	log         *logger.Logger
}

func NewCredentialService(redisClient *redis.Client, prober KeyProber, fallbackKey string, log *logger.Logger) *CredentialService {
	if log == nil {
		log = logger.Nop()
	}
	return &CredentialService{
		redis:       redisClient,
		prober:      prober,
		fallbackKey: fallbackKey,
		log:         log,
	}
}

func credentialKey(ownerID string) string {
	return fmt.Sprintf("credential:%s", ownerID)
}

func (s *CredentialService) load(ctx context.Context, ownerID string) (apiKey string, valid bool, stored bool, err error) {
	fields, err := s.redis.HGetAll(ctx, credentialKey(ownerID)).Result()
	if err != nil {
		return "", false, false, err
	}
	if len(fields) == 0 {
		return s.fallbackKey, s.fallbackKey != "", false, nil
	}
	apiKey = fields[credentialKeyField]
	if apiKey == "" {
		apiKey = s.fallbackKey
	}
	return apiKey, fields[credentialValidField] == "1" && apiKey != "", true, nil
}

// HasCredential reports whether a usable key is selected for the user
func (s *CredentialService) HasCredential(ctx context.Context, ownerID string) (bool, error) {
	_, valid, _, err := s.load(ctx, ownerID)
	return valid, err
}

// RequestCredential probes the user's key (or the server key) and records
// the outcome. A rejected key returns false without an error.
func (s *CredentialService) RequestCredential(ctx context.Context, ownerID string) (bool, error) {
	apiKey, _, _, err := s.load(ctx, ownerID)
	if err != nil {
		return false, err
	}
	if apiKey == "" {
		return false, nil
	}

	if err := s.prober.Ping(client.WithAPIKey(ctx, apiKey)); err != nil {
		if !isRejectedKey(err) {
			return false, fmt.Errorf("credential probe failed: %w", err)
		}
		s.log.Info("credential rejected", "owner", ownerID, "error", err)
		return false, s.setValid(ctx, ownerID, false)
	}
	return true, s.setValid(ctx, ownerID, true)
}

// Resolve returns the key generation requests for this user should carry
func (s *CredentialService) Resolve(ctx context.Context, ownerID string) (string, error) {
	apiKey, _, _, err := s.load(ctx, ownerID)
	return apiKey, err
}

// Invalidate forces RequestCredential before the next run
func (s *CredentialService) Invalidate(ctx context.Context, ownerID string) error {
	return s.setValid(ctx, ownerID, false)
}

// Set stores a user key and probes it
func (s *CredentialService) Set(ctx context.Context, ownerID, apiKey string) (bool, error) {
	if apiKey != "" {
		err := s.redis.HSet(ctx, credentialKey(ownerID),
			credentialKeyField, apiKey,
			credentialValidField, "0",
		).Err()
		if err != nil {
			return false, err
		}
	}
	return s.RequestCredential(ctx, ownerID)
}

// Delete forgets the user's key
func (s *CredentialService) Delete(ctx context.Context, ownerID string) error {
	return s.redis.Del(ctx, credentialKey(ownerID)).Err()
}

// Status returns the user-facing credential state
func (s *CredentialService) Status(ctx context.Context, ownerID string) (*model.CredentialStatus, error) {
	ok, err := s.HasCredential(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return &model.CredentialStatus{HasCredential: ok}, nil
}

func (s *CredentialService) setValid(ctx context.Context, ownerID string, valid bool) error {
	v := "0"
	if valid {
		v = "1"
	}
	return s.redis.HSet(ctx, credentialKey(ownerID), credentialValidField, v).Err()
}

// isRejectedKey is true for 4xx answers other than rate limiting.
func isRejectedKey(err error) bool {
	var sc retry.StatusCoder
	if !errors.As(err, &sc) {
		return false
	}
	code := sc.HTTPStatusCode()
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}
