package model

import "time"

// Job status
type JobStatus string

const (
	JobStatusPending        JobStatus = "pending"
	JobStatusGeneratingCode JobStatus = "generating_code"
	JobStatusRendering      JobStatus = "rendering"
	JobStatusFixingCode     JobStatus = "fixing_code"
	JobStatusCompleted      JobStatus = "completed"
	JobStatusFailed         JobStatus = "failed"
)

// ActiveStatuses are the non-terminal states counted toward the
// per-user concurrency cap.
var ActiveStatuses = []JobStatus{
	JobStatusPending, JobStatusGeneratingCode, JobStatusRendering, JobStatusFixingCode,
}

// Terminal reports whether no further transitions may leave the status.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Job represents one prompt-to-animation unit of work
type Job struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	Prompt         string    `json:"prompt"`
	Status         JobStatus `json:"status" gorm:"index"`
	UserID         *string   `json:"userId,omitempty" gorm:"index"`
	ConversationID *string   `json:"conversationId,omitempty" gorm:"index"`
	GeneratedCode  *string   `json:"code,omitempty"`
	VideoURL       *string   `json:"videoUrl,omitempty"`
	StorageKey     *string   `json:"-"`
	ExecutionLog   *string   `json:"executionLog,omitempty"`
	ErrorMessage   *string   `json:"errorMessage,omitempty"`
	Attempts       int       `json:"attempts"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// AnimationJobPayload is the asynq task payload for an animation job
type AnimationJobPayload struct {
	JobID      string `json:"jobId"`
	Prompt     string `json:"prompt"`
	Credential string `json:"credential"`
}

// GenerateRequest is the body for POST /api/jobs/generate
type GenerateRequest struct {
	Prompt         string  `json:"prompt" validate:"required,min=10,max=1000"`
	ConversationID *string `json:"conversationId,omitempty" validate:"omitempty,uuid4"`
}

// GenerateResponse is returned after a job is accepted
type GenerateResponse struct {
	JobID   string    `json:"jobId"`
	Status  JobStatus `json:"status"`
	Message string    `json:"message"`
}

// JobStatusResponse is returned when polling a job
type JobStatusResponse struct {
	JobID        string    `json:"jobId"`
	Status       JobStatus `json:"status"`
	Code         *string   `json:"code,omitempty"`
	VideoURL     *string   `json:"videoUrl,omitempty"`
	ErrorMessage *string   `json:"errorMessage,omitempty"`
	ExecutionLog *string   `json:"executionLog,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// PaginatedJobsResponse wraps a job listing
type PaginatedJobsResponse struct {
	Jobs   []Job `json:"jobs"`
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// StatsResponse summarizes the job table
type StatsResponse struct {
	TotalJobs   int64   `json:"totalJobs"`
	Pending     int64   `json:"pending"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	SuccessRate float64 `json:"successRate"`
}
