// Package classify reduces raw manim/python stderr into a short error
// summary suitable for storing on the job and for feeding back into a
// fix prompt. Classification is heuristic: when no structured exception
// line is found it falls through to a last-line guess, and that is an
// accepted outcome rather than a bug.
package classify

import (
	"fmt"
	"regexp"
	"strings"
)

// UnknownError is returned when the renderer produced no diagnostics at all.
const UnknownError = "Unknown error occurred during rendering"

var (
	// CSI sequences plus stray cursor controls that rich-formatted
	// tracebacks embed in stderr.
	ansiRe = regexp.MustCompile(`\x1b\[[0-9;?]*[A-Za-z]|\x1b\][^\x07]*\x07`)

	// "NameError: name 'PINK_D' is not defined", "ValueError: ...",
	// "manim.utils.SomeException: ..." anywhere in the text.
	exceptionRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_.]*(?:Error|Exception): .+`)

	// Leading Error-style token on a line.
	errorTokenRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*(?:Error|Exception)\b`)

	// Rich traceback pointer line: "❱ 12 │ circle.shift(x=1)".
	pointerRe = regexp.MustCompile(`❱\s*(\d+)\s*(.+)`)

	boxDrawingReplacer = strings.NewReplacer(
		"│", "", "┃", "", "╭", "", "╮", "", "╰", "", "╯", "",
		"─", "", "━", "", "┆", "", "├", "", "┤", "",
	)
)

// Classify extracts a concise error summary from raw render stderr.
// It is deterministic: the same input always yields the same summary.
//
// Rules are applied in priority order, first match wins:
//  1. strip terminal escape sequences
//  2. the last "<Kind>Error: ..." / "<Kind>Exception: ..." occurrence,
//     verbatim (the last frame of a trace is the root cause)
//  3. an Error-style line among the last 5 non-empty lines
//  4. a traceback pointer line, reported as "Error near line N: <code>"
//  5. "Runtime Error: <last non-empty line>", or a fixed sentinel for
//     empty input
func Classify(stderr string) string {
	text := ansiRe.ReplaceAllString(stderr, "")

	if matches := exceptionRe.FindAllString(text, -1); len(matches) > 0 {
		return strings.TrimSpace(matches[len(matches)-1])
	}

	lines := nonEmptyLines(text)

	tail := lines
	if len(tail) > 5 {
		tail = tail[len(tail)-5:]
	}
	for i := len(tail) - 1; i >= 0; i-- {
		line := tail[i]
		if errorTokenRe.MatchString(line) || strings.Contains(line, "Exception:") {
			return line
		}
	}

	if m := pointerRe.FindStringSubmatch(text); m != nil {
		code := strings.TrimSpace(boxDrawingReplacer.Replace(m[2]))
		return fmt.Sprintf("Error near line %s: %s", m[1], code)
	}

	if len(lines) > 0 {
		return "Runtime Error: " + lines[len(lines)-1]
	}

	return UnknownError
}

func nonEmptyLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
