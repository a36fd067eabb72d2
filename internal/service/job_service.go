package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/animgen/api/internal/admission"
	"github.com/animgen/api/internal/client"
	"github.com/animgen/api/internal/model"
	"github.com/animgen/api/internal/store"
	"github.com/animgen/api/internal/worker"
)

// ErrNotAuthorized indicates the caller does not own the resource
var ErrNotAuthorized = errors.New("not authorized")

// JobService handles job submission and lifecycle queries
type JobService struct {
	store       *store.Store
	admission   *admission.Controller
	asynqClient *asynq.Client
	storage     client.StorageClient
	workDir     string
	taskTimeout time.Duration
}

// NewJobService creates a new job service. storage may be nil in
// local-storage mode.
func NewJobService(
	jobStore *store.Store,
	admissionController *admission.Controller,
	asynqClient *asynq.Client,
	storage client.StorageClient,
	workDir string,
	taskTimeout time.Duration,
) *JobService {
	return &JobService{
		store:       jobStore,
		admission:   admissionController,
		asynqClient: asynqClient,
		storage:     storage,
		workDir:     workDir,
		taskTimeout: taskTimeout,
	}
}

// Submit admits and enqueues a new animation job. user is nil for
// anonymous submissions. Admission rejections carry no side effects and
// are surfaced synchronously; no job record exists for a rejected
// request.
func (s *JobService) Submit(ctx context.Context, req *model.GenerateRequest, user *model.User) (*model.GenerateResponse, error) {
	userID := ""
	personalKey := ""
	if user != nil {
		userID = user.ID
		if user.APIKey != nil {
			personalKey = *user.APIKey
		}
	}

	decision, err := s.admission.Admit(ctx, userID, personalKey)
	if err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	var owner *string
	if userID != "" {
		owner = &userID
	}

	job, err := s.store.CreateJob(ctx, jobID, req.Prompt, owner, req.ConversationID)
	if err != nil {
		s.rollbackAdmission(ctx, userID, decision)
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	task, err := newAnimationTask(jobID, req.Prompt, decision.Credential)
	if err != nil {
		s.rollbackAdmission(ctx, userID, decision)
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	// The orchestrator owns the retry budget; the queue must not
	// re-deliver a failed task on top of it.
	_, err = s.asynqClient.Enqueue(task,
		asynq.Queue("animation"),
		asynq.MaxRetry(0),
		asynq.Timeout(s.taskTimeout),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		s.rollbackAdmission(ctx, userID, decision)
		if uerr := s.store.UpdateError(ctx, jobID, "Failed to queue job for processing"); uerr != nil {
			log.Printf("Failed to mark unqueued job %s as failed: %v", jobID, uerr)
		}
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	log.Printf("Job %s queued for prompt: %.50s", jobID, req.Prompt)

	return &model.GenerateResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Job queued for processing",
	}, nil
}

// Status returns the current state of a job. Jobs with an owner are only
// visible to that owner; anonymous jobs are visible to anyone holding
// the id.
func (s *JobService) Status(ctx context.Context, jobID, userID string) (*model.JobStatusResponse, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != nil && *job.UserID != userID {
		return nil, ErrNotAuthorized
	}

	return &model.JobStatusResponse{
		JobID:        job.ID,
		Status:       job.Status,
		Code:         job.GeneratedCode,
		VideoURL:     job.VideoURL,
		ErrorMessage: job.ErrorMessage,
		ExecutionLog: job.ExecutionLog,
		Attempts:     job.Attempts,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}, nil
}

// List returns a page of the user's jobs
func (s *JobService) List(ctx context.Context, userID string, limit, offset int) (*model.PaginatedJobsResponse, error) {
	jobs, total, err := s.store.ListJobs(ctx, userID, "", limit, offset)
	if err != nil {
		return nil, err
	}
	return &model.PaginatedJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// ListPublic returns a page of completed jobs for the gallery
func (s *JobService) ListPublic(ctx context.Context, limit, offset int) (*model.PaginatedJobsResponse, error) {
	jobs, total, err := s.store.ListJobs(ctx, "", model.JobStatusCompleted, limit, offset)
	if err != nil {
		return nil, err
	}
	return &model.PaginatedJobsResponse{
		Jobs:   jobs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// Delete removes a job and cascades artifact deletion. Deletion does not
// signal a running orchestrator; its next persistence write fails with a
// not-found error and the run stops on its own.
func (s *JobService) Delete(ctx context.Context, jobID, userID string) error {
	job, err := s.store.DeleteJob(ctx, jobID, userID)
	if err != nil {
		return err
	}

	if job.StorageKey != nil && s.storage != nil {
		if err := s.storage.Delete(ctx, *job.StorageKey); err != nil {
			log.Printf("Failed to delete artifact %s for job %s: %v", *job.StorageKey, jobID, err)
		}
	}
	if err := os.RemoveAll(filepath.Join(s.workDir, jobID)); err != nil {
		log.Printf("Failed to remove work dir for job %s: %v", jobID, err)
	}
	return nil
}

// Stats aggregates job counts
func (s *JobService) Stats(ctx context.Context) (*model.StatsResponse, error) {
	return s.store.Stats(ctx)
}

// rollbackAdmission undoes the credit reservation when a job could not
// actually be started after admission succeeded
func (s *JobService) rollbackAdmission(ctx context.Context, userID string, decision *admission.Decision) {
	if userID == "" || decision.UsedPersonalKey {
		return
	}
	if err := s.store.RefundCredit(ctx, userID); err != nil {
		log.Printf("Failed to refund credit for user %s: %v", userID, err)
	}
}

func newAnimationTask(jobID, prompt, credential string) (*asynq.Task, error) {
	payload := model.AnimationJobPayload{
		JobID:      jobID,
		Prompt:     prompt,
		Credential: credential,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(worker.TaskTypeAnimation, data), nil
}
