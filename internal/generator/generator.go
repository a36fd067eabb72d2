// Package generator wraps the AI completion call for Manim scene code:
// prompt composition, response cleaning and the mandatory deny-list scan
// that runs before any code may reach the renderer.
package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/animgen/api/internal/client"
)

var (
	// ErrGenerationFailed indicates the AI call errored or returned no code.
	ErrGenerationFailed = errors.New("code generation failed")

	// ErrSecurityViolation indicates generated code matched the deny-list.
	// Code carrying this error must never be handed to the renderer.
	ErrSecurityViolation = errors.New("generated code contains dangerous pattern")
)

const systemInstruction = `You are an expert Manim animator.
Generate ONLY the Python code for a Manim scene.
Do not include explanations or markdown.
The class must be named 'GeneratedAnimation'.
Use Manim Community Edition syntax.`

// Generator produces and repairs Manim scene code through a completion client
type Generator struct {
	client      client.CompletionClient
	denyList    []string
	maxAttempts int
}

// New creates a Generator. denyList entries are matched case-insensitively
// against every generated or fixed response.
func New(completionClient client.CompletionClient, denyList []string, maxAttempts int) *Generator {
	return &Generator{
		client:      completionClient,
		denyList:    denyList,
		maxAttempts: maxAttempts,
	}
}

// Generate produces scene code for a user prompt
func (g *Generator) Generate(ctx context.Context, prompt, credential string) (string, error) {
	fullPrompt := fmt.Sprintf("%s\n\nRequest: %s", systemInstruction, prompt)

	response, err := g.client.Complete(ctx, fullPrompt, credential)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if strings.TrimSpace(response) == "" {
		return "", fmt.Errorf("%w: AI returned empty response", ErrGenerationFailed)
	}

	code := cleanResponse(response)
	if err := g.sanitize(code); err != nil {
		return "", err
	}

	return code, nil
}

// Fix asks the model for a complete corrected replacement of code that
// failed to render. attempt is the 1-indexed number of the upcoming
// render attempt.
func (g *Generator) Fix(ctx context.Context, prompt, failedCode, errorSummary string, attempt int, credential string) (string, error) {
	fixPrompt := fmt.Sprintf(`%s

IMPORTANT: The previous code you generated failed with an error. You must fix it.

Original Request: %s

Previous Code That Failed:
`+"```python\n%s\n```"+`

Error Message:
%s

Fix Attempt: %d/%d

Instructions:
1. Analyze the error message carefully - the error type and line number are crucial
2. Find the EXACT line causing the error and fix it
3. Generate COMPLETE corrected code (not just the fix)
4. Double-check all .center, .top, .bottom, .left, .right - they should be .get_center(), .get_top(), etc.
5. Return ONLY the complete corrected Python code, no explanations

Generate the fixed code now:`,
		systemInstruction, prompt, failedCode, errorSummary, attempt, g.maxAttempts)

	response, err := g.client.Complete(ctx, fixPrompt, credential)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	if strings.TrimSpace(response) == "" {
		return "", fmt.Errorf("%w: AI returned empty response when fixing code", ErrGenerationFailed)
	}

	code := cleanResponse(response)
	if err := g.sanitize(code); err != nil {
		return "", err
	}

	return code, nil
}

// cleanResponse strips markdown fences and any narrative text the model
// wrapped around the code. When narrative is present, only the contiguous
// block starting at the first top-level import/class/def is kept.
func cleanResponse(response string) string {
	clean := strings.ReplaceAll(response, "```python", "")
	clean = strings.ReplaceAll(clean, "```", "")
	clean = strings.TrimSpace(clean)

	var codeLines []string
	inCode := false
	for _, line := range strings.Split(clean, "\n") {
		if !inCode && (strings.HasPrefix(line, "from ") || strings.HasPrefix(line, "import ") ||
			strings.HasPrefix(line, "class ") || strings.HasPrefix(line, "def ")) {
			inCode = true
		}
		if inCode {
			codeLines = append(codeLines, line)
		}
	}

	if len(codeLines) == 0 {
		return clean
	}
	return strings.Join(codeLines, "\n")
}

// sanitize scans code against the deny-list, case-insensitively
func (g *Generator) sanitize(code string) error {
	lower := strings.ToLower(code)
	for _, pattern := range g.denyList {
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return fmt.Errorf("%w: %q", ErrSecurityViolation, pattern)
		}
	}
	return nil
}
