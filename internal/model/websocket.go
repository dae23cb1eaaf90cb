package model

// WebSocket message types
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage represents a progress update for a transform job
type WSProgressMessage struct {
	Type        string    `json:"type"`
	JobID       string    `json:"jobId"`
	Status      JobStatus `json:"status"`
	Percentage  int       `json:"percentage"`
	CurrentStep string    `json:"currentStep,omitempty"`
}

// WSCompleteMessage carries the output of a completed transform job
type WSCompleteMessage struct {
	Type   string     `json:"type"`
	JobID  string     `json:"jobId"`
	Output *JobOutput `json:"output"`
}

// WSErrorMessage carries the sanitized error of a failed transform job
type WSErrorMessage struct {
	Type  string    `json:"type"`
	JobID string    `json:"jobId"`
	Error *JobError `json:"error"`
}
