// Package store persists jobs, users and conversations in a relational
// database through GORM. SQLite is the default for development; Postgres
// is selected via config for production.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/animgen/api/internal/config"
	"github.com/animgen/api/internal/model"
)

var (
	// ErrJobNotFound indicates the job record does not exist (possibly
	// deleted while a worker was still processing it).
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal indicates a write was refused because the job already
	// reached COMPLETED or FAILED.
	ErrJobTerminal = errors.New("job already in terminal state")

	// ErrInsufficientCredits indicates the conditional credit decrement
	// found no balance to reserve.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrUserNotFound indicates no such user record.
	ErrUserNotFound = errors.New("user not found")

	// ErrConversationNotFound indicates no such conversation record.
	ErrConversationNotFound = errors.New("conversation not found")
)

// Store wraps the database handle
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the schema
func Open(cfg *config.DatabaseConfig) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&model.Job{}, &model.User{}, &model.Conversation{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection (used by tests)
func NewWithDB(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&model.Job{}, &model.User{}, &model.Conversation{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// --- Jobs ---

// CreateJob inserts a new job in PENDING state
func (s *Store) CreateJob(ctx context.Context, id, prompt string, userID, conversationID *string) (*model.Job, error) {
	job := &model.Job{
		ID:             id,
		Prompt:         prompt,
		Status:         model.JobStatusPending,
		UserID:         userID,
		ConversationID: conversationID,
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// GetJob fetches a job by id
func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateStatus moves a job to a new non-terminal working status. Jobs
// already in a terminal state are never moved back; a deleted record
// surfaces as ErrJobNotFound so an in-flight worker can stop gracefully.
func (s *Store) UpdateStatus(ctx context.Context, id string, status model.JobStatus) error {
	res := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status NOT IN ?", id, []model.JobStatus{model.JobStatusCompleted, model.JobStatusFailed}).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

// UpdateAttempts records the current attempt number on the job
func (s *Store) UpdateAttempts(ctx context.Context, id string, attempts int) error {
	return s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ?", id).
		Update("attempts", attempts).Error
}

// UpdateResult marks a job COMPLETED with its artifact and log. Writing
// the same result twice is harmless; a job already FAILED is left alone
// so at most one terminal outcome is ever persisted.
func (s *Store) UpdateResult(ctx context.Context, id, videoURL, executionLog, code string, storageKey *string) error {
	res := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status <> ?", id, model.JobStatusFailed).
		Updates(map[string]interface{}{
			"status":         model.JobStatusCompleted,
			"video_url":      videoURL,
			"execution_log":  executionLog,
			"generated_code": code,
			"storage_key":    storageKey,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

// UpdateError marks a job FAILED with a human-readable message. A job
// already COMPLETED is left alone.
func (s *Store) UpdateError(ctx context.Context, id, message string) error {
	res := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ? AND status <> ?", id, model.JobStatusCompleted).
		Updates(map[string]interface{}{
			"status":        model.JobStatusFailed,
			"error_message": message,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.missingOrTerminal(ctx, id)
	}
	return nil
}

// UpdateCode stores the latest generated code (overwritten on every
// generation or fix, never appended)
func (s *Store) UpdateCode(ctx context.Context, id, code string) error {
	return s.db.WithContext(ctx).Model(&model.Job{}).
		Where("id = ?", id).
		Update("generated_code", code).Error
}

// DeleteJob removes a job owned by userID; returns the deleted record so
// the caller can cascade artifact deletion
func (s *Store) DeleteJob(ctx context.Context, id, userID string) (*model.Job, error) {
	var job model.Job
	err := s.db.WithContext(ctx).First(&job, "id = ? AND user_id = ?", id, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Delete(&job).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ListJobs returns a page of jobs, newest first. userID and status filter
// when non-empty.
func (s *Store) ListJobs(ctx context.Context, userID string, status model.JobStatus, limit, offset int) ([]model.Job, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Job{})
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var jobs []model.Job
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&jobs).Error
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// CountActive counts a user's jobs in any non-terminal status
func (s *Store) CountActive(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Job{}).
		Where("user_id = ? AND status IN ?", userID, model.ActiveStatuses).
		Count(&count).Error
	return count, err
}

// Stats aggregates job counts for the ops endpoint
func (s *Store) Stats(ctx context.Context) (*model.StatsResponse, error) {
	var total, pending, completed, failed int64
	db := s.db.WithContext(ctx).Model(&model.Job{})

	if err := db.Count(&total).Error; err != nil {
		return nil, err
	}
	if err := db.Where("status = ?", model.JobStatusPending).Count(&pending).Error; err != nil {
		return nil, err
	}
	if err := db.Where("status = ?", model.JobStatusCompleted).Count(&completed).Error; err != nil {
		return nil, err
	}
	if err := db.Where("status = ?", model.JobStatusFailed).Count(&failed).Error; err != nil {
		return nil, err
	}

	rate := 0.0
	if total > 0 {
		rate = float64(completed) / float64(total) * 100
	}
	return &model.StatsResponse{
		TotalJobs:   total,
		Pending:     pending,
		Completed:   completed,
		Failed:      failed,
		SuccessRate: rate,
	}, nil
}

func (s *Store) missingOrTerminal(ctx context.Context, id string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Job{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrJobNotFound
	}
	return ErrJobTerminal
}

// --- Users ---

// GetUser fetches a user by id
func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByClerkID fetches a user by external identity id
func (s *Store) GetUserByClerkID(ctx context.Context, clerkID string) (*model.User, error) {
	var user model.User
	err := s.db.WithContext(ctx).First(&user, "clerk_id = ?", clerkID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new user record
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

// UpdateAPIKey stores a rotated personal API key
func (s *Store) UpdateAPIKey(ctx context.Context, userID, apiKey string) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		Update("api_key", apiKey)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeductCredit reserves one credit with a single conditional decrement.
// Two concurrent callers racing on a balance of one cannot both pass:
// the losing UPDATE matches zero rows.
func (s *Store) DeductCredit(ctx context.Context, userID string) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND credits > 0", userID).
		UpdateColumn("credits", gorm.Expr("credits - 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientCredits
	}
	return nil
}

// RefundCredit returns a reserved credit (used when enqueueing fails
// after admission succeeded)
func (s *Store) RefundCredit(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("credits", gorm.Expr("credits + 1")).Error
}

// IncrementUsage bumps the user's generation counter
func (s *Store) IncrementUsage(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ?", userID).
		UpdateColumn("generation_count", gorm.Expr("generation_count + 1")).Error
}

// --- Conversations ---

// CreateConversation inserts a new conversation for a user
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (*model.Conversation, error) {
	conv := &model.Conversation{
		ID:     uuid.New().String(),
		UserID: userID,
		Title:  title,
	}
	if err := s.db.WithContext(ctx).Create(conv).Error; err != nil {
		return nil, err
	}
	return conv, nil
}

// GetConversation fetches a conversation with its jobs, scoped to the owner
func (s *Store) GetConversation(ctx context.Context, id, userID string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).
		Preload("Jobs", func(db *gorm.DB) *gorm.DB {
			return db.Order("created_at ASC")
		}).
		First(&conv, "id = ? AND user_id = ?", id, userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

// ListConversations returns a user's conversations, newest first
func (s *Store) ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&convs).Error
	return convs, err
}

// UpdateConversationTitle renames a conversation, scoped to the owner
func (s *Store) UpdateConversationTitle(ctx context.Context, id, userID, title string) (*model.Conversation, error) {
	res := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]interface{}{"title": title, "updated_at": time.Now()})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrConversationNotFound
	}
	var conv model.Conversation
	if err := s.db.WithContext(ctx).First(&conv, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation removes a conversation, scoped to the owner. Jobs in
// the conversation are kept but detached.
func (s *Store) DeleteConversation(ctx context.Context, id, userID string) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&model.Conversation{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return s.db.WithContext(ctx).Model(&model.Job{}).
		Where("conversation_id = ?", id).
		Update("conversation_id", nil).Error
}
