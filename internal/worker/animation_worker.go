// Package worker drives a single animation job from code generation
// through rendering, with a bounded self-correction loop: a failed render
// is classified and fed back to the AI for a fixed number of attempts.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"

	"github.com/animgen/api/internal/classify"
	"github.com/animgen/api/internal/client"
	"github.com/animgen/api/internal/model"
	"github.com/animgen/api/internal/renderer"
	"github.com/animgen/api/internal/store"
	"github.com/animgen/api/internal/websocket"
)

// TaskTypeAnimation is the asynq task type for animation jobs
const TaskTypeAnimation = "animation:process"

// errJobGone signals that the job record disappeared or already reached a
// terminal state; the run stops quietly instead of crashing the worker.
var errJobGone = errors.New("job record gone or terminal")

// CodeGenerator produces and repairs scene code
type CodeGenerator interface {
	Generate(ctx context.Context, prompt, credential string) (string, error)
	Fix(ctx context.Context, prompt, failedCode, errorSummary string, attempt int, credential string) (string, error)
}

// Renderer executes scene code and produces a video
type Renderer interface {
	Render(ctx context.Context, jobID, code string) (*renderer.Result, error)
}

// JobStore persists job state transitions
type JobStore interface {
	UpdateStatus(ctx context.Context, id string, status model.JobStatus) error
	UpdateAttempts(ctx context.Context, id string, attempts int) error
	UpdateCode(ctx context.Context, id, code string) error
	UpdateResult(ctx context.Context, id, videoURL, executionLog, code string, storageKey *string) error
	UpdateError(ctx context.Context, id, message string) error
}

// AnimationWorker processes animation jobs
type AnimationWorker struct {
	store       JobStore
	generator   CodeGenerator
	renderer    Renderer
	storage     client.StorageClient
	hub         *websocket.Hub
	workDir     string
	maxAttempts int
	softTimeout time.Duration
}

// NewAnimationWorker creates a new animation worker. storage may be nil,
// in which case artifacts are served from the local work directory.
func NewAnimationWorker(
	jobStore JobStore,
	codeGenerator CodeGenerator,
	sceneRenderer Renderer,
	storage client.StorageClient,
	hub *websocket.Hub,
	workDir string,
	maxAttempts int,
	softTimeout time.Duration,
) *AnimationWorker {
	return &AnimationWorker{
		store:       jobStore,
		generator:   codeGenerator,
		renderer:    sceneRenderer,
		storage:     storage,
		hub:         hub,
		workDir:     workDir,
		maxAttempts: maxAttempts,
		softTimeout: softTimeout,
	}
}

// ProcessTask handles one animation task from the queue. The queue
// enforces its own hard timeout; the soft timeout here only logs a
// warning so a hung render is visible before the hard limit fires.
func (w *AnimationWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.AnimationJobPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w", err)
	}

	log.Printf("Starting animation job %s", payload.JobID)

	if w.softTimeout > 0 {
		warn := time.AfterFunc(w.softTimeout, func() {
			log.Printf("Job %s still running after %s (soft timeout)", payload.JobID, w.softTimeout)
		})
		defer warn.Stop()
	}

	err := w.process(ctx, &payload)
	if errors.Is(err, errJobGone) {
		log.Printf("Job %s record gone, stopping", payload.JobID)
		return nil
	}
	return err
}

func (w *AnimationWorker) process(ctx context.Context, payload *model.AnimationJobPayload) error {
	jobID := payload.JobID

	if err := w.transition(ctx, jobID, model.JobStatusGeneratingCode, 0); err != nil {
		return err
	}

	code, err := w.generator.Generate(ctx, payload.Prompt, payload.Credential)
	if err != nil {
		// Unsafe or unusable initial code is terminal: there is nothing
		// worth fixing yet.
		w.failJob(ctx, jobID, err.Error())
		return err
	}
	if err := w.store.UpdateCode(ctx, jobID, code); err != nil {
		log.Printf("Failed to persist generated code for job %s: %v", jobID, err)
	}

	var lastSummary string
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err := w.transition(ctx, jobID, model.JobStatusRendering, attempt); err != nil {
			return err
		}

		result, renderErr := w.renderer.Render(ctx, jobID, code)
		if renderErr == nil {
			return w.complete(ctx, jobID, code, result, attempt)
		}

		var rerr *renderer.RenderError
		if !errors.As(renderErr, &rerr) {
			w.failJob(ctx, jobID, fmt.Sprintf("Rendering failed: %v", renderErr))
			return renderErr
		}

		if rerr.Timeout {
			// A timeout is structural, not a fixable code defect; it
			// consumes all remaining attempts.
			w.failJob(ctx, jobID, "Render timed out; the scene is too expensive to render within the allowed time")
			return renderErr
		}

		lastSummary = classify.Classify(rerr.Stderr)
		log.Printf("Job %s render attempt %d/%d failed: %s", jobID, attempt, w.maxAttempts, lastSummary)

		if attempt == w.maxAttempts {
			w.failJob(ctx, jobID, lastSummary)
			return renderErr
		}

		if err := w.transition(ctx, jobID, model.JobStatusFixingCode, attempt); err != nil {
			return err
		}

		fixed, fixErr := w.generator.Fix(ctx, payload.Prompt, code, lastSummary, attempt+1, payload.Credential)
		if fixErr != nil {
			// A failed fix is not fatal to the job: retry the render with
			// the unchanged previous code on the next iteration.
			log.Printf("Job %s fix attempt %d failed: %v; retrying render with previous code", jobID, attempt+1, fixErr)
			continue
		}

		code = fixed
		if err := w.store.UpdateCode(ctx, jobID, code); err != nil {
			log.Printf("Failed to persist fixed code for job %s: %v", jobID, err)
		}
	}

	w.failJob(ctx, jobID, lastSummary)
	return fmt.Errorf("render failed after %d attempts", w.maxAttempts)
}

func (w *AnimationWorker) complete(ctx context.Context, jobID, code string, result *renderer.Result, attempt int) error {
	executionLog := result.Log
	if attempt > 1 {
		executionLog = fmt.Sprintf("Render succeeded after %d attempts.\n\n%s", attempt, executionLog)
	}

	videoURL, storageKey := w.publishArtifact(ctx, jobID, result.VideoPath)

	if err := w.store.UpdateResult(ctx, jobID, videoURL, executionLog, code, storageKey); err != nil {
		if w.stopped(err) {
			return errJobGone
		}
		return fmt.Errorf("failed to save result for job %s: %w", jobID, err)
	}

	if w.hub != nil {
		w.hub.BroadcastCompleted(jobID, videoURL, attempt)
	}
	log.Printf("Animation job %s completed after %d attempt(s)", jobID, attempt)
	return nil
}

// publishArtifact uploads the video when remote storage is configured and
// falls back to a local static URL otherwise.
func (w *AnimationWorker) publishArtifact(ctx context.Context, jobID, videoPath string) (string, *string) {
	if w.storage != nil {
		file, err := os.Open(videoPath)
		if err != nil {
			log.Printf("Failed to open artifact for job %s: %v", jobID, err)
			return w.localURL(jobID, videoPath), nil
		}
		defer file.Close()

		key := fmt.Sprintf("videos/%s.mp4", jobID)
		url, err := w.storage.Upload(ctx, key, file, "video/mp4")
		if err != nil {
			log.Printf("Failed to upload artifact for job %s: %v", jobID, err)
			return w.localURL(jobID, videoPath), nil
		}
		return url, &key
	}
	return w.localURL(jobID, videoPath), nil
}

func (w *AnimationWorker) localURL(jobID, videoPath string) string {
	rel, err := filepath.Rel(w.workDir, videoPath)
	if err != nil {
		rel = filepath.Join(jobID, filepath.Base(videoPath))
	}
	return "/videos/" + filepath.ToSlash(rel)
}

// transition persists a status change before the work it announces, so a
// poller never observes a stale state while work continues.
func (w *AnimationWorker) transition(ctx context.Context, jobID string, status model.JobStatus, attempt int) error {
	if err := w.store.UpdateStatus(ctx, jobID, status); err != nil {
		if w.stopped(err) {
			return errJobGone
		}
		return fmt.Errorf("failed to update status for job %s: %w", jobID, err)
	}
	if attempt > 0 && status == model.JobStatusRendering {
		if err := w.store.UpdateAttempts(ctx, jobID, attempt); err != nil {
			log.Printf("Failed to update attempt count for job %s: %v", jobID, err)
		}
	}
	if w.hub != nil {
		w.hub.BroadcastStatus(jobID, status, attempt)
	}
	return nil
}

func (w *AnimationWorker) failJob(ctx context.Context, jobID, message string) {
	if err := w.store.UpdateError(ctx, jobID, message); err != nil {
		if !w.stopped(err) {
			log.Printf("Failed to mark job %s as failed: %v", jobID, err)
		}
	}
	if w.hub != nil {
		w.hub.BroadcastError(jobID, "JOB_FAILED", message)
	}
}

func (w *AnimationWorker) stopped(err error) bool {
	return errors.Is(err, store.ErrJobNotFound) || errors.Is(err, store.ErrJobTerminal)
}
