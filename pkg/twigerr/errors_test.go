package twigerr

import (
	"errors"
	"io"
	"testing"
)

func TestMessageDecoration(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{
			name:     "dot restored after suffixes",
			err:      NewSyntaxError("index.twig", 3, "Unknown %q tag.", "foo"),
			expected: `Unknown "foo" tag in "index.twig" at line 3.`,
		},
		{
			name:     "question mark restored",
			err:      NewRuntimeError("a.twig", 1, nil, "Did you mean %q?", "bar"),
			expected: `Did you mean "bar" in "a.twig" at line 1?`,
		},
		{
			name:     "no punctuation",
			err:      NewSyntaxError("", 7, "Unexpected end of template"),
			expected: "Unexpected end of template at line 7",
		},
		{
			name:     "no location",
			err:      NewRuntimeError("", 0, nil, "Division by zero."),
			expected: "Division by zero.",
		},
		{
			name:     "cause appended",
			err:      NewRuntimeError("t", 2, io.EOF, "Loading failed."),
			expected: `Loading failed in "t" at line 2.: EOF`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestLocateKeepsKnownPosition(t *testing.T) {
	err := NewSyntaxError("", 0, "boom")
	err.Locate("x.twig", 4)
	if err.Template != "x.twig" || err.Line != 4 {
		t.Fatalf("Locate did not fill defaults: %+v", err)
	}
	err.Locate("y.twig", 9)
	if err.Template != "x.twig" || err.Line != 4 {
		t.Fatalf("Locate overwrote a known position: %+v", err)
	}
}

func TestCompileErrorUnwrap(t *testing.T) {
	cause := errors.New("linkage")
	err := &CompileError{Kind: InstantiationFailed, Name: "__TwigTemplate_x", Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatal("CompileError does not unwrap to its cause")
	}
	if got := err.Error(); got != "compiling __TwigTemplate_x: instantiation failed: linkage" {
		t.Fatalf("unexpected message %q", got)
	}
}
