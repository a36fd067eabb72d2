// Package renderer invokes the external manim process against generated
// scene code. Each job renders inside its own working directory so
// concurrent jobs on one worker host cannot clobber each other's files.
package renderer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/animgen/api/internal/config"
)

// RenderError reports a failed render attempt
type RenderError struct {
	Stderr   string
	ExitCode int
	Timeout  bool
}

func (e *RenderError) Error() string {
	if e.Timeout {
		return "render timed out"
	}
	return fmt.Sprintf("render failed with exit code %d", e.ExitCode)
}

// Result is a successful render outcome
type Result struct {
	VideoPath string
	Log       string
}

// ManimRenderer runs manim as a bounded subprocess
type ManimRenderer struct {
	pythonBin  string
	quality    string
	sceneName  string
	outputFile string
	workDir    string
	timeout    time.Duration
}

// New creates a ManimRenderer from config
func New(cfg *config.ManimConfig) *ManimRenderer {
	return &ManimRenderer{
		pythonBin:  cfg.PythonBin,
		quality:    cfg.Quality,
		sceneName:  cfg.SceneName,
		outputFile: cfg.OutputFile,
		workDir:    cfg.WorkDir,
		timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
	}
}

// WorkDir returns the root under which per-job directories are created
func (r *ManimRenderer) WorkDir() string {
	return r.workDir
}

// Render writes code to the job's working directory, runs manim under the
// configured hard timeout, and returns the newest produced video file.
// A timeout is reported as RenderError{Timeout: true} and must not be
// retried with identical code.
func (r *ManimRenderer) Render(ctx context.Context, jobID, code string) (*Result, error) {
	jobDir := filepath.Join(r.workDir, jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	// One slot per job: each attempt overwrites the previous one.
	sceneFile := filepath.Join(jobDir, "scene.py")
	if err := os.WriteFile(sceneFile, []byte(code), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write scene file: %w", err)
	}

	mediaDir := filepath.Join(jobDir, "media")

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, r.pythonBin, "-m", "manim",
		sceneFile, r.sceneName, r.quality,
		"--media_dir", mediaDir,
		"-o", r.outputFile,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Printf("Starting manim render for job %s: %s", jobID, strings.Join(cmd.Args, " "))
	err := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		return nil, &RenderError{
			Stderr:  stderr.String(),
			Timeout: true,
		}
	}

	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return nil, &RenderError{
			Stderr:   stderr.String(),
			ExitCode: exitCode,
		}
	}

	videoPath, err := locateNewestOutput(mediaDir, ".mp4")
	if err != nil {
		// Zero exit but nothing produced; classifiable and fixable like
		// any other render failure.
		return nil, &RenderError{
			Stderr: fmt.Sprintf("render completed but no output file was found in %s", mediaDir),
		}
	}

	return &Result{
		VideoPath: videoPath,
		Log:       fmt.Sprintf("STDOUT:\n%s\n\nSTDERR:\n%s", stdout.String(), stderr.String()),
	}, nil
}

// Cleanup removes a job's working directory
func (r *ManimRenderer) Cleanup(jobID string) error {
	return os.RemoveAll(filepath.Join(r.workDir, jobID))
}

// locateNewestOutput finds the most recently modified file with the given
// extension anywhere under dir. Manim nests output under quality-specific
// subdirectories, so the walk is recursive.
func locateNewestOutput(dir, ext string) (string, error) {
	var newest string
	var newestTime time.Time

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ext) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = path
			newestTime = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if newest == "" {
		return "", fmt.Errorf("no %s file found under %s", ext, dir)
	}
	return newest, nil
}
