package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hibiken/asynq"

	"github.com/animgen/api/internal/generator"
	"github.com/animgen/api/internal/model"
	"github.com/animgen/api/internal/renderer"
	"github.com/animgen/api/internal/store"
)

type fakeStore struct {
	statuses   []model.JobStatus
	attempts   []int
	codes      []string
	resultURL  string
	resultLog  string
	resultCode string
	errMessage string
	completed  bool
	failed     bool

	statusErr error
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id string, status model.JobStatus) error {
	if f.statusErr != nil {
		return f.statusErr
	}
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeStore) UpdateAttempts(ctx context.Context, id string, attempts int) error {
	f.attempts = append(f.attempts, attempts)
	return nil
}

func (f *fakeStore) UpdateCode(ctx context.Context, id, code string) error {
	f.codes = append(f.codes, code)
	return nil
}

func (f *fakeStore) UpdateResult(ctx context.Context, id, videoURL, executionLog, code string, storageKey *string) error {
	f.completed = true
	f.resultURL = videoURL
	f.resultLog = executionLog
	f.resultCode = code
	return nil
}

func (f *fakeStore) UpdateError(ctx context.Context, id, message string) error {
	f.failed = true
	f.errMessage = message
	return nil
}

type fakeGenerator struct {
	code      string
	genErr    error
	fixes     []string
	fixErr    error
	fixCalls  int
	summaries []string
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt, credential string) (string, error) {
	return f.code, f.genErr
}

func (f *fakeGenerator) Fix(ctx context.Context, prompt, failedCode, errorSummary string, attempt int, credential string) (string, error) {
	f.fixCalls++
	f.summaries = append(f.summaries, errorSummary)
	if f.fixErr != nil {
		return "", f.fixErr
	}
	if len(f.fixes) >= f.fixCalls {
		return f.fixes[f.fixCalls-1], nil
	}
	return failedCode, nil
}

type fakeRenderer struct {
	results []error // one entry per attempt; nil means success
	codes   []string
	calls   int
}

func (f *fakeRenderer) Render(ctx context.Context, jobID, code string) (*renderer.Result, error) {
	f.codes = append(f.codes, code)
	idx := f.calls
	f.calls++
	if idx < len(f.results) && f.results[idx] != nil {
		return nil, f.results[idx]
	}
	return &renderer.Result{
		VideoPath: filepath.Join("work", jobID, "media", "output.mp4"),
		Log:       "render ok",
	}, nil
}

func newTask(t *testing.T, jobID string) *asynq.Task {
	t.Helper()
	data, err := json.Marshal(model.AnimationJobPayload{
		JobID:      jobID,
		Prompt:     "draw a circle",
		Credential: "key",
	})
	if err != nil {
		t.Fatal(err)
	}
	return asynq.NewTask(TaskTypeAnimation, data)
}

func newWorker(st *fakeStore, gen *fakeGenerator, rnd *fakeRenderer) *AnimationWorker {
	return NewAnimationWorker(st, gen, rnd, nil, nil, "work", 3, 0)
}

func renderError(stderr string) *renderer.RenderError {
	return &renderer.RenderError{Stderr: stderr, ExitCode: 1}
}

func TestProcessFirstRenderSucceeds(t *testing.T) {
	st := &fakeStore{}
	gen := &fakeGenerator{code: "class GeneratedAnimation: pass"}
	rnd := &fakeRenderer{}
	w := newWorker(st, gen, rnd)

	if err := w.ProcessTask(context.Background(), newTask(t, "job1")); err != nil {
		t.Fatalf("ProcessTask() error: %v", err)
	}

	wantStatuses := []model.JobStatus{model.JobStatusGeneratingCode, model.JobStatusRendering}
	if len(st.statuses) != len(wantStatuses) {
		t.Fatalf("statuses = %v, want %v", st.statuses, wantStatuses)
	}
	for i, s := range wantStatuses {
		if st.statuses[i] != s {
			t.Errorf("statuses[%d] = %s, want %s", i, st.statuses[i], s)
		}
	}
	if !st.completed {
		t.Error("job not completed")
	}
	if strings.Contains(st.resultLog, "attempts") {
		t.Errorf("first-try success should not be annotated: %q", st.resultLog)
	}
	if rnd.calls != 1 {
		t.Errorf("render calls = %d, want 1", rnd.calls)
	}
	if gen.fixCalls != 0 {
		t.Errorf("fix calls = %d, want 0", gen.fixCalls)
	}
}

func TestProcessFixThenSucceed(t *testing.T) {
	st := &fakeStore{}
	gen := &fakeGenerator{
		code:  "broken code",
		fixes: []string{"fixed code"},
	}
	rnd := &fakeRenderer{results: []error{
		renderError("NameError: name 'Circel' is not defined"),
		nil,
	}}
	w := newWorker(st, gen, rnd)

	if err := w.ProcessTask(context.Background(), newTask(t, "job1")); err != nil {
		t.Fatalf("ProcessTask() error: %v", err)
	}

	if !st.completed || st.failed {
		t.Fatalf("completed=%v failed=%v, want completed only", st.completed, st.failed)
	}
	if gen.fixCalls != 1 {
		t.Fatalf("fix calls = %d, want 1", gen.fixCalls)
	}
	if got := gen.summaries[0]; got != "NameError: name 'Circel' is not defined" {
		t.Errorf("fix received summary %q", got)
	}
	if rnd.codes[1] != "fixed code" {
		t.Errorf("second render used %q, want the fixed code", rnd.codes[1])
	}
	if st.resultCode != "fixed code" {
		t.Errorf("persisted code = %q, want the fixed code", st.resultCode)
	}
	if !strings.Contains(st.resultLog, "Render succeeded after 2 attempts.") {
		t.Errorf("log missing recovery annotation: %q", st.resultLog)
	}

	var sawFixing bool
	for _, s := range st.statuses {
		if s == model.JobStatusFixingCode {
			sawFixing = true
		}
	}
	if !sawFixing {
		t.Errorf("statuses %v never entered fixing_code", st.statuses)
	}
}

func TestProcessExhaustsAttempts(t *testing.T) {
	st := &fakeStore{}
	gen := &fakeGenerator{code: "broken code"}
	rnd := &fakeRenderer{results: []error{
		renderError("ValueError: first"),
		renderError("ValueError: second"),
		renderError("ValueError: third"),
	}}
	w := newWorker(st, gen, rnd)

	if err := w.ProcessTask(context.Background(), newTask(t, "job1")); err == nil {
		t.Fatal("ProcessTask() returned nil for an exhausted job")
	}

	if rnd.calls != 3 {
		t.Errorf("render calls = %d, want exactly 3", rnd.calls)
	}
	if gen.fixCalls != 2 {
		t.Errorf("fix calls = %d, want 2 (no fix after the final render)", gen.fixCalls)
	}
	if !st.failed {
		t.Fatal("job not failed")
	}
	if st.errMessage != "ValueError: third" {
		t.Errorf("error message = %q, want the last classified summary", st.errMessage)
	}
	if st.completed {
		t.Error("job completed and failed")
	}
}

func TestProcessTimeoutIsTerminal(t *testing.T) {
	st := &fakeStore{}
	gen := &fakeGenerator{code: "slow code"}
	rnd := &fakeRenderer{results: []error{
		&renderer.RenderError{Timeout: true},
	}}
	w := newWorker(st, gen, rnd)

	if err := w.ProcessTask(context.Background(), newTask(t, "job1")); err == nil {
		t.Fatal("ProcessTask() returned nil for a timed-out job")
	}

	if rnd.calls != 1 {
		t.Errorf("render calls = %d, want 1 (timeout consumes the budget)", rnd.calls)
	}
	if gen.fixCalls != 0 {
		t.Errorf("fix calls = %d, want 0", gen.fixCalls)
	}
	if !st.failed {
		t.Fatal("job not failed")
	}
	if !strings.Contains(st.errMessage, "timed out") {
		t.Errorf("error message = %q, want a timeout explanation", st.errMessage)
	}
}

func TestProcessGenerationFailureIsTerminal(t *testing.T) {
	st := &fakeStore{}
	gen := &fakeGenerator{genErr: generator.ErrSecurityViolation}
	rnd := &fakeRenderer{}
	w := newWorker(st, gen, rnd)

	if err := w.ProcessTask(context.Background(), newTask(t, "job1")); err == nil {
		t.Fatal("ProcessTask() returned nil for a failed generation")
	}

	if rnd.calls != 0 {
		t.Errorf("render calls = %d, want 0", rnd.calls)
	}
	if !st.failed {
		t.Error("job not failed")
	}
}

func TestProcessFixFailureRetriesUnchangedCode(t *testing.T) {
	st := &fakeStore{}
	gen := &fakeGenerator{
		code:   "original code",
		fixErr: errors.New("model unavailable"),
	}
	rnd := &fakeRenderer{results: []error{
		renderError("TypeError: bad call"),
		nil,
	}}
	w := newWorker(st, gen, rnd)

	if err := w.ProcessTask(context.Background(), newTask(t, "job1")); err != nil {
		t.Fatalf("ProcessTask() error: %v", err)
	}

	if rnd.calls != 2 {
		t.Fatalf("render calls = %d, want 2", rnd.calls)
	}
	if rnd.codes[0] != rnd.codes[1] {
		t.Errorf("retry changed the code: %q then %q", rnd.codes[0], rnd.codes[1])
	}
	// Only the initial generation persisted code; the failed fix must not.
	if len(st.codes) != 1 {
		t.Errorf("code persisted %d times, want 1", len(st.codes))
	}
	if !st.completed {
		t.Error("job not completed")
	}
}

func TestProcessDeletedJobStopsQuietly(t *testing.T) {
	st := &fakeStore{statusErr: store.ErrJobNotFound}
	gen := &fakeGenerator{code: "code"}
	rnd := &fakeRenderer{}
	w := newWorker(st, gen, rnd)

	if err := w.ProcessTask(context.Background(), newTask(t, "job1")); err != nil {
		t.Fatalf("ProcessTask() error = %v, want nil for a deleted job", err)
	}
	if rnd.calls != 0 {
		t.Errorf("render calls = %d, want 0", rnd.calls)
	}
}

func TestProcessAttemptNumbersRecorded(t *testing.T) {
	st := &fakeStore{}
	gen := &fakeGenerator{code: "code"}
	rnd := &fakeRenderer{results: []error{
		renderError("ValueError: x"),
		nil,
	}}
	w := newWorker(st, gen, rnd)

	if err := w.ProcessTask(context.Background(), newTask(t, "job1")); err != nil {
		t.Fatalf("ProcessTask() error: %v", err)
	}
	want := []int{1, 2}
	if len(st.attempts) != len(want) {
		t.Fatalf("attempts = %v, want %v", st.attempts, want)
	}
	for i, a := range want {
		if st.attempts[i] != a {
			t.Errorf("attempts[%d] = %d, want %d", i, st.attempts[i], a)
		}
	}
}
