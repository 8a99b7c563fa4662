package model

// PipelineTaskPayload is the asynq payload for run and scene-retry tasks
type PipelineTaskPayload struct {
	ProjectID  string `json:"projectId"`
	OwnerID    string `json:"ownerId"`
	SceneIndex *int   `json:"sceneIndex,omitempty"`
}
