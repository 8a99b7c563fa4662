package model

import "time"

// Pipeline phase
type Phase string

const (
	PhaseIdle             Phase = "IDLE"
	PhaseAnalyzingScript  Phase = "ANALYZING_SCRIPT"
	PhaseGeneratingVideos Phase = "GENERATING_VIDEOS"
	PhaseCompleted        Phase = "COMPLETED"
)

// Generation modes
type GenerationMode string

const (
	ModeFast    GenerationMode = "fast"
	ModeQuality GenerationMode = "quality"
)

// Aspect ratios
type AspectRatio string

const (
	AspectLandscape AspectRatio = "16:9"
	AspectPortrait  AspectRatio = "9:16"
)

// NoCursor marks that no scene is being generated.
const NoCursor = -1

// ProjectConfig is fixed once the first scene exists.
type ProjectConfig struct {
	Duration       string         `json:"duration"`
	Mode           GenerationMode `json:"mode"`
	AspectRatio    AspectRatio    `json:"aspectRatio"`
	ReferenceImage string         `json:"referenceImage,omitempty"`
}

// DefaultProjectConfig mirrors the editor defaults.
func DefaultProjectConfig() ProjectConfig {
	return ProjectConfig{
		Duration:    DefaultDuration,
		Mode:        ModeQuality,
		AspectRatio: AspectLandscape,
	}
}

// Banner is the persistent, classified error shown for a project.
type Banner struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Project holds the pipeline state for one script.
type Project struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"ownerId"`
	Script    string        `json:"script"`
	Config    ProjectConfig `json:"config"`
	Scenes    []Scene       `json:"scenes"`
	Phase     Phase         `json:"phase"`
	Cursor    int           `json:"cursor"`
	Banner    *Banner       `json:"banner,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// TargetSceneCount is the number of scenes the configured duration needs.
func (p *Project) TargetSceneCount() int {
	return TargetSceneCount(TotalSeconds(p.Config.Duration))
}

// ConfigLocked reports whether the configuration can no longer change.
func (p *Project) ConfigLocked() bool {
	return len(p.Scenes) > 0
}

// IsBusy reports whether a run is in flight.
func (p *Project) IsBusy() bool {
	return p.Phase == PhaseAnalyzingScript || p.Phase == PhaseGeneratingVideos
}

// Sequenced reports whether scenes are rendered as a chain.
func (p *Project) Sequenced() bool {
	return len(p.Scenes) > 1
}

func (p *Project) HasFailedScenes() bool {
	for i := range p.Scenes {
		if p.Scenes[i].Status == SceneStatusFailed {
			return true
		}
	}
	return false
}

// IsInterrupted reports a partially generated sequence.
func (p *Project) IsInterrupted() bool {
	completed, other := false, false
	for i := range p.Scenes {
		if p.Scenes[i].Status == SceneStatusCompleted {
			completed = true
		} else {
			other = true
		}
	}
	return completed && other
}

// Progress is the completed share of scenes, 0-100.
func (p *Project) Progress() int {
	if len(p.Scenes) == 0 {
		return 0
	}
	done := 0
	for i := range p.Scenes {
		if p.Scenes[i].Status == SceneStatusCompleted {
			done++
		}
	}
	return done * 100 / len(p.Scenes)
}

// RecoverInterrupted returns a project left mid-run by a dead process to an
// idle state. A scene caught generating goes back to pending so resume picks
// it up. It reports whether anything changed.
func (p *Project) RecoverInterrupted() bool {
	if !p.IsBusy() {
		return false
	}
	for i := range p.Scenes {
		if p.Scenes[i].Status == SceneStatusGenerating {
			p.Scenes[i].Status = SceneStatusPending
		}
	}
	p.Phase = PhaseIdle
	p.Cursor = NoCursor
	return true
}

// CreateProjectRequest represents the request body for project creation
type CreateProjectRequest struct {
	Script         string         `json:"script" validate:"max=50000"`
	Duration       string         `json:"duration,omitempty" validate:"omitempty,max=8"`
	Mode           GenerationMode `json:"mode,omitempty" validate:"omitempty,oneof=fast quality"`
	AspectRatio    AspectRatio    `json:"aspectRatio,omitempty" validate:"omitempty,oneof=16:9 9:16"`
	ReferenceImage string         `json:"referenceImage,omitempty" validate:"omitempty,datauri"`
}

// UpdateScriptRequest replaces the project's script text
type UpdateScriptRequest struct {
	Script string `json:"script" validate:"max=50000"`
}

// UpdateConfigRequest changes the generation settings before scenes exist
type UpdateConfigRequest struct {
	Duration       *string         `json:"duration,omitempty" validate:"omitempty,max=8"`
	Mode           *GenerationMode `json:"mode,omitempty" validate:"omitempty,oneof=fast quality"`
	AspectRatio    *AspectRatio    `json:"aspectRatio,omitempty" validate:"omitempty,oneof=16:9 9:16"`
	ReferenceImage *string         `json:"referenceImage,omitempty" validate:"omitempty,datauri|len=0"`
}

// ResetRequest must carry an explicit confirmation
type ResetRequest struct {
	Confirm bool `json:"confirm"`
}

// ProjectResponse is the project state plus derived flags
type ProjectResponse struct {
	*Project
	TargetSceneCount int  `json:"targetSceneCount"`
	Progress         int  `json:"progress"`
	HasProgress      bool `json:"hasProgress"`
	HasFailedScenes  bool `json:"hasFailedScenes"`
	IsInterrupted    bool `json:"isInterrupted"`
	ConfigLocked     bool `json:"configLocked"`
}

// NewProjectResponse derives the read-only flags for a project.
func NewProjectResponse(p *Project) *ProjectResponse {
	return &ProjectResponse{
		Project:          p,
		TargetSceneCount: p.TargetSceneCount(),
		Progress:         p.Progress(),
		HasProgress:      len(p.Scenes) > 0,
		HasFailedScenes:  p.HasFailedScenes(),
		IsInterrupted:    p.IsInterrupted(),
		ConfigLocked:     p.ConfigLocked(),
	}
}

// RunResponse is returned when a run or scene retry is queued
type RunResponse struct {
	ProjectID  string    `json:"projectId"`
	Phase      Phase     `json:"phase"`
	SceneIndex *int      `json:"sceneIndex,omitempty"`
	QueuedAt   time.Time `json:"queuedAt"`
}
