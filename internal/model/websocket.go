package model

// WebSocket message types
const (
	WSMessageTypeStatus    = "status"
	WSMessageTypeCompleted = "completed"
	WSMessageTypeError     = "error"
)

// WSStatusMessage is pushed on every orchestrator status transition
type WSStatusMessage struct {
	Type    string    `json:"type"`
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
	Attempt int       `json:"attempt,omitempty"`
}

// WSCompletedMessage is pushed when a job reaches COMPLETED
type WSCompletedMessage struct {
	Type     string `json:"type"`
	JobID    string `json:"jobId"`
	VideoURL string `json:"videoUrl"`
	Attempts int    `json:"attempts"`
}

// WSErrorMessage is pushed when a job reaches FAILED
type WSErrorMessage struct {
	Type    string `json:"type"`
	JobID   string `json:"jobId"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
