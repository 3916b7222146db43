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

// WSProgressMessage carries the latest progress snapshot of a job
type WSProgressMessage struct {
	Type       string  `json:"type"`
	JobType    JobType `json:"jobType"`
	SessionID  string  `json:"sessionId,omitempty"`
	IsRunning  bool    `json:"isRunning"`
	Percentage int     `json:"percentage"`
	Message    string  `json:"message"`
}

// WSCompleteMessage is sent once when a run finishes successfully
type WSCompleteMessage struct {
	Type      string         `json:"type"`
	JobType   JobType        `json:"jobType"`
	SessionID string         `json:"sessionId"`
	Status    SessionStatus  `json:"status"`
	Metrics   SessionMetrics `json:"metrics"`
}

// WSErrorMessage is sent once when a run fails or is cancelled
type WSErrorMessage struct {
	Type      string        `json:"type"`
	JobType   JobType       `json:"jobType"`
	SessionID string        `json:"sessionId,omitempty"`
	Status    SessionStatus `json:"status"`
	Error     WSError       `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
