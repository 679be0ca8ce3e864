package errors

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// StackFrame is a single frame of a captured stack.
type StackFrame struct {
	File           string
	LineNumber     int
	Name           string
	Package        string
	ProgramCounter uintptr
}

// NewStackFrame resolves a program counter into a frame.
func NewStackFrame(pc uintptr) StackFrame {
	frame := StackFrame{ProgramCounter: pc}
	fn := runtime.FuncForPC(pc - 1)
	if fn == nil {
		return frame
	}
	frame.Package, frame.Name = packageAndName(fn)
	frame.File, frame.LineNumber = fn.FileLine(pc - 1)
	return frame
}

// Func returns the function containing the frame.
func (frame *StackFrame) Func() *runtime.Func {
	if frame.ProgramCounter == 0 {
		return nil
	}
	return runtime.FuncForPC(frame.ProgramCounter)
}

// String formats the frame like a panic trace.
func (frame *StackFrame) String() string {
	return fmt.Sprintf("%s:%d (0x%x)\n\t%s.%s\n", frame.File, frame.LineNumber, frame.ProgramCounter, frame.Package, frame.Name)
}

// Short returns "pkg.Func file.go:123".
func (frame *StackFrame) Short() string {
	return fmt.Sprintf("%s.%s %s:%d", filepath.Base(frame.Package), frame.Name, filepath.Base(frame.File), frame.LineNumber)
}

func packageAndName(fn *runtime.Func) (string, string) {
	name := fn.Name()
	pkg := ""

	// The package path may contain dots, so split on the last slash first.
	if lastslash := strings.LastIndex(name, "/"); lastslash >= 0 {
		pkg += name[:lastslash] + "/"
		name = name[lastslash+1:]
	}
	if period := strings.Index(name, "."); period >= 0 {
		pkg += name[:period]
		name = name[period+1:]
	}
	return pkg, name
}
