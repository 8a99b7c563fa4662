package model

// Draft field names, kept stable so saved drafts reload verbatim
const (
	DraftScriptKey = "veoflow_script"
	DraftTimeKey   = "veoflow_time"
)

// Draft is the editor text and duration saved between sessions
type Draft struct {
	Script   string `json:"script"`
	Duration string `json:"duration"`
}

// SaveDraftRequest represents the request body for saving a draft
type SaveDraftRequest struct {
	Script   string `json:"script" validate:"max=50000"`
	Duration string `json:"duration" validate:"max=8"`
}
