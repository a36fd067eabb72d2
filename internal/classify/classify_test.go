package classify

import (
	"strings"
	"testing"
)

func TestClassifyExceptionLine(t *testing.T) {
	stderr := `Traceback (most recent call last):
  File "scene.py", line 12, in construct
    circle.set_color(PINK_D)
NameError: name 'PINK_D' is not defined`

	got := Classify(stderr)
	want := "NameError: name 'PINK_D' is not defined"
	if got != want {
		t.Errorf("Classify() = %q, want %q", got, want)
	}
}

func TestClassifyLastExceptionWins(t *testing.T) {
	stderr := `ValueError: bad value earlier in the trace
some chained context
TypeError: unsupported operand type(s) for +: 'Mobject' and 'int'`

	got := Classify(stderr)
	if !strings.HasPrefix(got, "TypeError:") {
		t.Errorf("Classify() = %q, want the last exception line", got)
	}
}

func TestClassifyStripsANSI(t *testing.T) {
	stderr := "\x1b[31mNameError: name 'Circel' is not defined\x1b[0m"

	got := Classify(stderr)
	want := "NameError: name 'Circel' is not defined"
	if got != want {
		t.Errorf("Classify() = %q, want %q", got, want)
	}
	if strings.Contains(got, "\x1b") {
		t.Errorf("Classify() left escape sequences in %q", got)
	}
}

func TestClassifyErrorTokenInTail(t *testing.T) {
	// No "<Kind>Error: message" form, but an Error-style line near the end.
	stderr := `rendering started
partial progress 40%
CustomRenderError in stage two
done`

	got := Classify(stderr)
	if got != "CustomRenderError in stage two" {
		t.Errorf("Classify() = %q, want the Error-style tail line", got)
	}
}

func TestClassifyPointerLine(t *testing.T) {
	stderr := `╭─ Traceback ─╮
│ scene.py    │
❱ 12 │ circle.shift(x=1)
╰─────────────╯`

	got := Classify(stderr)
	want := "Error near line 12: circle.shift(x=1)"
	if got != want {
		t.Errorf("Classify() = %q, want %q", got, want)
	}
}

func TestClassifyRuntimeFallback(t *testing.T) {
	stderr := "something went wrong\nin an unstructured way"

	got := Classify(stderr)
	want := "Runtime Error: in an unstructured way"
	if got != want {
		t.Errorf("Classify() = %q, want %q", got, want)
	}
}

func TestClassifyEmptyInput(t *testing.T) {
	for _, in := range []string{"", "   \n\t\n"} {
		if got := Classify(in); got != UnknownError {
			t.Errorf("Classify(%q) = %q, want %q", in, got, UnknownError)
		}
	}
}

func TestClassifyDeterministic(t *testing.T) {
	stderr := `progress line
AttributeError: 'Circle' object has no attribute 'top'
more output`

	first := Classify(stderr)
	for i := 0; i < 10; i++ {
		if got := Classify(stderr); got != first {
			t.Fatalf("Classify() not deterministic: %q then %q", first, got)
		}
	}
}
