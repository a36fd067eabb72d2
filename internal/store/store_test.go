package store

import (
	"context"
	"errors"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/animgen/api/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	s, err := NewWithDB(db)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return s
}

func seedUser(t *testing.T, s *Store, id string, credits int) {
	t.Helper()
	err := s.CreateUser(context.Background(), &model.User{
		ID:      id,
		Email:   id + "@example.com",
		Credits: credits,
		Plan:    "free",
	})
	if err != nil {
		t.Fatalf("failed to seed user: %v", err)
	}
}

func seedJob(t *testing.T, s *Store, id string, userID *string) *model.Job {
	t.Helper()
	job, err := s.CreateJob(context.Background(), id, "draw a circle", userID, nil)
	if err != nil {
		t.Fatalf("failed to seed job: %v", err)
	}
	return job
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedJob(t, s, "j1", nil)

	job, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("GetJob() error: %v", err)
	}
	if job.Status != model.JobStatusPending {
		t.Errorf("new job status = %s, want pending", job.Status)
	}

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("GetJob(missing) error = %v, want ErrJobNotFound", err)
	}
}

func TestUpdateStatusGuards(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedJob(t, s, "j1", nil)

	if err := s.UpdateStatus(ctx, "j1", model.JobStatusRendering); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}

	if err := s.UpdateError(ctx, "j1", "boom"); err != nil {
		t.Fatalf("UpdateError() error: %v", err)
	}

	// Terminal jobs never move back to a working state.
	err := s.UpdateStatus(ctx, "j1", model.JobStatusRendering)
	if !errors.Is(err, ErrJobTerminal) {
		t.Errorf("UpdateStatus(terminal) error = %v, want ErrJobTerminal", err)
	}

	err = s.UpdateStatus(ctx, "missing", model.JobStatusRendering)
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("UpdateStatus(missing) error = %v, want ErrJobNotFound", err)
	}
}

func TestTerminalOutcomeIsExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedJob(t, s, "j1", nil)
	if err := s.UpdateResult(ctx, "j1", "/videos/j1.mp4", "log", "code", nil); err != nil {
		t.Fatalf("UpdateResult() error: %v", err)
	}

	// Re-writing the same completion is harmless.
	if err := s.UpdateResult(ctx, "j1", "/videos/j1.mp4", "log", "code", nil); err != nil {
		t.Errorf("repeated UpdateResult() error: %v", err)
	}

	// A completed job cannot also fail.
	if err := s.UpdateError(ctx, "j1", "late failure"); !errors.Is(err, ErrJobTerminal) {
		t.Errorf("UpdateError(completed) error = %v, want ErrJobTerminal", err)
	}

	job, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != model.JobStatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.ErrorMessage != nil {
		t.Errorf("error message set on a completed job: %q", *job.ErrorMessage)
	}

	// And the other way round: a failed job cannot complete.
	seedJob(t, s, "j2", nil)
	if err := s.UpdateError(ctx, "j2", "boom"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateResult(ctx, "j2", "/videos/j2.mp4", "log", "code", nil); !errors.Is(err, ErrJobTerminal) {
		t.Errorf("UpdateResult(failed) error = %v, want ErrJobTerminal", err)
	}
}

func TestDeductCreditConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 1)

	if err := s.DeductCredit(ctx, "u1"); err != nil {
		t.Fatalf("DeductCredit() error: %v", err)
	}

	// Balance is now zero; a second reservation must fail, not go negative.
	if err := s.DeductCredit(ctx, "u1"); !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("DeductCredit(empty) error = %v, want ErrInsufficientCredits", err)
	}

	user, err := s.GetUser(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if user.Credits != 0 {
		t.Errorf("credits = %d, want 0", user.Credits)
	}

	if err := s.RefundCredit(ctx, "u1"); err != nil {
		t.Fatalf("RefundCredit() error: %v", err)
	}
	user, _ = s.GetUser(ctx, "u1")
	if user.Credits != 1 {
		t.Errorf("credits after refund = %d, want 1", user.Credits)
	}
}

func TestCountActiveIgnoresTerminalJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUser(t, s, "u1", 5)
	uid := "u1"

	seedJob(t, s, "j1", &uid)
	seedJob(t, s, "j2", &uid)
	seedJob(t, s, "j3", &uid)
	if err := s.UpdateResult(ctx, "j1", "/videos/j1.mp4", "log", "code", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateError(ctx, "j2", "boom"); err != nil {
		t.Fatal(err)
	}

	count, err := s.CountActive(ctx, "u1")
	if err != nil {
		t.Fatalf("CountActive() error: %v", err)
	}
	if count != 1 {
		t.Errorf("CountActive() = %d, want 1", count)
	}
}

func TestDeleteJobScopedToOwner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := "u1"
	seedJob(t, s, "j1", &uid)

	if _, err := s.DeleteJob(ctx, "j1", "someone-else"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("DeleteJob(wrong owner) error = %v, want ErrJobNotFound", err)
	}

	job, err := s.DeleteJob(ctx, "j1", "u1")
	if err != nil {
		t.Fatalf("DeleteJob() error: %v", err)
	}
	if job.ID != "j1" {
		t.Errorf("deleted job id = %s, want j1", job.ID)
	}

	if _, err := s.GetJob(ctx, "j1"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("job still present after delete")
	}
}

func TestListJobsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	uid := "u1"
	seedJob(t, s, "j1", &uid)
	seedJob(t, s, "j2", &uid)
	seedJob(t, s, "j3", nil)
	if err := s.UpdateResult(ctx, "j2", "/videos/j2.mp4", "log", "code", nil); err != nil {
		t.Fatal(err)
	}

	jobs, total, err := s.ListJobs(ctx, "u1", "", 10, 0)
	if err != nil {
		t.Fatalf("ListJobs() error: %v", err)
	}
	if total != 2 || len(jobs) != 2 {
		t.Errorf("ListJobs(u1) total=%d len=%d, want 2/2", total, len(jobs))
	}

	jobs, total, err = s.ListJobs(ctx, "", model.JobStatusCompleted, 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || jobs[0].ID != "j2" {
		t.Errorf("ListJobs(completed) = %v total=%d, want only j2", jobs, total)
	}
}

func TestUpdateAPIKeyMissingUser(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateAPIKey(context.Background(), "missing", "abc")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("UpdateAPIKey(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedJob(t, s, "j1", nil)
	seedJob(t, s, "j2", nil)
	seedJob(t, s, "j3", nil)
	seedJob(t, s, "j4", nil)
	if err := s.UpdateResult(ctx, "j1", "/videos/j1.mp4", "log", "code", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateResult(ctx, "j2", "/videos/j2.mp4", "log", "code", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateError(ctx, "j3", "boom"); err != nil {
		t.Fatal(err)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error: %v", err)
	}
	if stats.TotalJobs != 4 || stats.Completed != 2 || stats.Failed != 1 || stats.Pending != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.SuccessRate != 50.0 {
		t.Errorf("SuccessRate = %v, want 50", stats.SuccessRate)
	}
}

func TestConversationLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "u1", "circle studies")
	if err != nil {
		t.Fatalf("CreateConversation() error: %v", err)
	}

	uid := "u1"
	if _, err := s.CreateJob(ctx, "j1", "draw a circle", &uid, &conv.ID); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetConversation(ctx, conv.ID, "u1")
	if err != nil {
		t.Fatalf("GetConversation() error: %v", err)
	}
	if len(got.Jobs) != 1 || got.Jobs[0].ID != "j1" {
		t.Errorf("conversation jobs = %v, want [j1]", got.Jobs)
	}

	if _, err := s.GetConversation(ctx, conv.ID, "intruder"); !errors.Is(err, ErrConversationNotFound) {
		t.Errorf("GetConversation(wrong owner) error = %v, want ErrConversationNotFound", err)
	}

	renamed, err := s.UpdateConversationTitle(ctx, conv.ID, "u1", "square studies")
	if err != nil {
		t.Fatalf("UpdateConversationTitle() error: %v", err)
	}
	if renamed.Title != "square studies" {
		t.Errorf("title = %q", renamed.Title)
	}

	if err := s.DeleteConversation(ctx, conv.ID, "u1"); err != nil {
		t.Fatalf("DeleteConversation() error: %v", err)
	}

	// Jobs survive the deletion, detached from the thread.
	job, err := s.GetJob(ctx, "j1")
	if err != nil {
		t.Fatalf("job deleted with its conversation: %v", err)
	}
	if job.ConversationID != nil {
		t.Errorf("job still references deleted conversation %q", *job.ConversationID)
	}
}
