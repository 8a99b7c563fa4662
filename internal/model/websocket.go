package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeScene    = "scene"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage reports a phase or cursor change
type WSProgressMessage struct {
	Type        string `json:"type"`
	ProjectID   string `json:"projectId"`
	Progress    int    `json:"progress"`
	Phase       Phase  `json:"phase"`
	Cursor      int    `json:"cursor"`
	CurrentStep string `json:"currentStep,omitempty"`
}

// WSSceneMessage carries the latest state of one scene
type WSSceneMessage struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
	Index     int    `json:"index"`
	Scene     Scene  `json:"scene"`
}

// WSCompleteMessage represents pipeline completion
type WSCompleteMessage struct {
	Type      string      `json:"type"`
	ProjectID string      `json:"projectId"`
	Result    interface{} `json:"result"`
}

// WSErrorMessage represents an error
type WSErrorMessage struct {
	Type      string  `json:"type"`
	ProjectID string  `json:"projectId"`
	Error     WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
