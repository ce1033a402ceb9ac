// Package twigerr holds the error kinds raised while parsing, compiling and
// rendering templates.
package twigerr

import (
	"fmt"
	"strings"
)

// SyntaxError is raised by the lexer and the parsers. Template and Line are
// filled from the token stream when the raiser did not know them.
type SyntaxError struct {
	Message  string
	Template string
	Line     int
}

// NewSyntaxError builds a SyntaxError with a formatted message.
func NewSyntaxError(template string, line int, format string, args ...any) *SyntaxError {
	return &SyntaxError{Message: fmt.Sprintf(format, args...), Template: template, Line: line}
}

func (e *SyntaxError) Error() string {
	return decorate(e.Message, e.Template, e.Line)
}

// Locate fills in the template name and line when they are still unknown.
func (e *SyntaxError) Locate(template string, line int) *SyntaxError {
	if e.Template == "" {
		e.Template = template
	}
	if e.Line <= 0 {
		e.Line = line
	}
	return e
}

// RuntimeError is raised while a compiled template renders. Cause holds the
// underlying failure of a host method or loader, if any.
type RuntimeError struct {
	Message  string
	Template string
	Line     int
	Cause    error
}

// NewRuntimeError builds a RuntimeError with a formatted message.
func NewRuntimeError(template string, line int, cause error, format string, args ...any) *RuntimeError {
	return &RuntimeError{Message: fmt.Sprintf(format, args...), Template: template, Line: line, Cause: cause}
}

func (e *RuntimeError) Error() string {
	msg := decorate(e.Message, e.Template, e.Line)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *RuntimeError) Unwrap() error { return e.Cause }

// Locate fills in the template name and line when they are still unknown.
func (e *RuntimeError) Locate(template string, line int) *RuntimeError {
	if e.Template == "" {
		e.Template = template
	}
	if e.Line <= 0 {
		e.Line = line
	}
	return e
}

// CompileKind tells the two dynamic compilation failures apart.
type CompileKind int

const (
	// BadName means the loaded program did not define the expected unit.
	BadName CompileKind = iota + 1
	// InstantiationFailed means the unit could not be turned into a template.
	InstantiationFailed
)

func (k CompileKind) String() string {
	switch k {
	case BadName:
		return "bad generated name"
	case InstantiationFailed:
		return "instantiation failed"
	}
	return fmt.Sprintf("CompileKind(%d)", int(k))
}

// CompileError is returned by the dynamic compiler. It is never retried.
type CompileError struct {
	Kind  CompileKind
	Name  string
	Cause error
}

func (e *CompileError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("compiling %s: %s", e.Name, e.Kind)
	}
	return fmt.Sprintf("compiling %s: %s: %v", e.Name, e.Kind, e.Cause)
}

func (e *CompileError) Unwrap() error { return e.Cause }

// decorate appends the template name and line before the final "." or "?".
func decorate(msg, template string, line int) string {
	var tail string
	switch {
	case strings.HasSuffix(msg, "."):
		msg, tail = msg[:len(msg)-1], "."
	case strings.HasSuffix(msg, "?"):
		msg, tail = msg[:len(msg)-1], "?"
	}
	var b strings.Builder
	b.WriteString(msg)
	if template != "" {
		fmt.Fprintf(&b, " in %q", template)
	}
	if line > 0 {
		fmt.Fprintf(&b, " at line %d", line)
	}
	b.WriteString(tail)
	return b.String()
}
