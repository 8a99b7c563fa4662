package model

import "time"

// SceneDurationSeconds is the length of one generated clip.
const SceneDurationSeconds = 8

// Scene status
type SceneStatus string

const (
	SceneStatusPending    SceneStatus = "pending"
	SceneStatusGenerating SceneStatus = "generating"
	SceneStatusCompleted  SceneStatus = "completed"
	SceneStatusFailed     SceneStatus = "failed"
)

// Scene is one 8-second segment of the output video.
type Scene struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Prompt      string      `json:"prompt"`
	Status      SceneStatus `json:"status"`

	MediaURI         string            `json:"mediaUri,omitempty"`
	LocalMediaHandle string            `json:"localMediaHandle,omitempty"`
	MediaURL         string            `json:"mediaUrl,omitempty"`
	Generation       *GenerationResult `json:"generation,omitempty"`

	Error     string     `json:"error,omitempty"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// GenerationResult is the decoded outcome of a finished video operation.
// ContinuationHandle seeds the next scene's request.
type GenerationResult struct {
	RemoteURI          string      `json:"remoteUri"`
	ContinuationHandle string      `json:"continuationHandle,omitempty"`
	AspectRatio        AspectRatio `json:"aspectRatio,omitempty"`
}

// IsReady reports whether the scene finished and its clip is stored locally.
// Ready scenes are skipped on resume.
func (s *Scene) IsReady() bool {
	return s.Status == SceneStatusCompleted && s.LocalMediaHandle != ""
}

// ContinuationHandle returns the handle a following scene may extend, or ""
// when this scene cannot seed a continuation.
func (s *Scene) ContinuationHandle() string {
	if s == nil || s.Status != SceneStatusCompleted || s.Generation == nil {
		return ""
	}
	return s.Generation.ContinuationHandle
}
