// Package errors provides an error type that carries a gRPC status code, a
// message that is safe to show to API callers, optional structured details,
// and the stack at the point the error was created.
//
// The status code acts as the error kind throughout authcore. Internal
// packages only ever pick a code; the HTTP status is derived from it at the
// transport boundary via HTTPStatusCode.
//
//	var ErrKeyNotFound = errors.NewC("api key not found", codes.PermissionDenied)
//
//	func (m *Manager) Revoke(ctx context.Context, userID, keyID string) error {
//		if err := m.store.DeleteAPIKey(ctx, keyID, userID); err != nil {
//			if errors.Is(err, storage.ErrNotFound) {
//				return errors.Mark(ErrKeyNotFound, 0)
//			}
//			return errors.WrapPrefix(err, "apikey: revoke", 0)
//		}
//		return nil
//	}
package errors

import (
	"bytes"
	"fmt"
	"net/http"
	"reflect"
	"runtime"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/runtime/protoiface"
)

// MaxStackDepth is the maximum number of stackframes captured on any error.
var MaxStackDepth = 50

// Error is an error with an attached stacktrace and status code.
type Error struct {
	Err    error
	stack  []uintptr
	frames []StackFrame
	prefix string

	code           codes.Code
	details        []protoiface.MessageV1
	httpStatusCode int
	publicMessage  string
}

// New makes an Error from the given value with codes.Unknown. Non-error values
// are formatted with %v.
func New(e any) *Error {
	return newError(toError(e), codes.Unknown, 1)
}

// NewC makes an Error with a status code.
func NewC(e any, code codes.Code) *Error {
	return newError(toError(e), code, 1)
}

// Codef formats a message and returns it as an Error with the given code.
func Codef(code codes.Code, format string, a ...any) *Error {
	return newError(fmt.Errorf(format, a...), code, 1)
}

// Errorf is a drop-in replacement for fmt.Errorf that records a stack.
func Errorf(format string, a ...any) *Error {
	return newError(fmt.Errorf(format, a...), codes.Unknown, 1)
}

// Wrap makes an Error from the given value. An existing *Error is returned
// unchanged. The skip parameter indicates how far up the stack to start the
// stacktrace, 0 being the caller of Wrap.
func Wrap(e any, skip int) *Error {
	if e == nil {
		return nil
	}
	if err, ok := e.(*Error); ok {
		return err
	}
	return newError(toError(e), codes.Unknown, 1+skip)
}

// MaybeWrap wraps err if it is non-nil, otherwise it returns a nil error
// interface rather than a typed nil.
func MaybeWrap(err error, skip int) error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1+skip)
}

// WrapPrefix wraps an error and prefixes its message. Code, details and public
// message from an existing *Error are kept.
func WrapPrefix(e any, prefix string, skip int) *Error {
	if e == nil {
		return nil
	}
	err := Wrap(e, 1+skip)
	if err.prefix != "" {
		prefix = prefix + ": " + err.prefix
	}
	cp := err.clone()
	cp.prefix = prefix
	return cp
}

// Mark returns a copy of the error with the stack reset to the point Mark was
// called. It is used to return sentinel errors with a useful trace.
func Mark(e any, skip int) *Error {
	if e == nil {
		return nil
	}
	err, ok := e.(*Error)
	if !ok {
		return Wrap(e, 1+skip)
	}
	cp := err.clone()
	cp.stack = callers(3 + skip)
	cp.frames = nil
	return cp
}

// WithPublicMessage wraps err and sets the message returned to callers.
func WithPublicMessage(err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).WithPublicMessage(msg)
}

// WithCode wraps err and sets its status code.
func WithCode(err error, code codes.Code) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).WithCode(code)
}

// WithHTTPStatusCode wraps err and overrides the HTTP status derived from its
// code.
func WithHTTPStatusCode(err error, code int) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).WithHTTPStatusCode(code)
}

// WithDetails wraps err and attaches structured details.
func WithDetails(err error, details ...protoiface.MessageV1) *Error {
	if err == nil {
		return nil
	}
	return Wrap(err, 1).WithDetails(details...)
}

func (err *Error) Error() string {
	if err.prefix != "" {
		return err.prefix + ": " + err.Err.Error()
	}
	return err.Err.Error()
}

// Unwrap returns the underlying error.
func (err *Error) Unwrap() error {
	return err.Err
}

// Is matches copies made by Mark and WrapPrefix against the error they were
// made from.
func (err *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Err == nil || err.Err == nil {
		return false
	}
	if !reflect.TypeOf(t.Err).Comparable() || reflect.TypeOf(t.Err) != reflect.TypeOf(err.Err) {
		return false
	}
	return t.Err == err.Err
}

// Code returns the status code associated with the error.
func (err *Error) Code() codes.Code {
	return err.code
}

// WithCode sets the status code.
func (err *Error) WithCode(code codes.Code) *Error {
	err.code = code
	return err
}

// Details returns attached details.
func (err *Error) Details() []protoiface.MessageV1 {
	return err.details
}

// WithDetails appends details.
func (err *Error) WithDetails(details ...protoiface.MessageV1) *Error {
	err.details = append(err.details, details...)
	return err
}

// PublicMessage returns the message that may be shown to callers. It falls
// back to the full error string when none was set.
func (err *Error) PublicMessage() string {
	if err.publicMessage != "" {
		return err.publicMessage
	}
	return err.Error()
}

// WithPublicMessage sets the caller-facing message.
func (err *Error) WithPublicMessage(msg string) *Error {
	err.publicMessage = msg
	return err
}

// WithUserPresentableMessage is an alias for WithPublicMessage.
func (err *Error) WithUserPresentableMessage(msg string) *Error {
	return err.WithPublicMessage(msg)
}

// WithHTTPStatusCode overrides the HTTP status derived from the code.
func (err *Error) WithHTTPStatusCode(code int) *Error {
	err.httpStatusCode = code
	return err
}

// HTTPStatusCode returns the HTTP status for the error.
func (err *Error) HTTPStatusCode() int {
	if err.httpStatusCode != 0 {
		return err.httpStatusCode
	}
	return httpStatusFromCode(err.code)
}

// GRPCStatus returns a status object for the error, using the public message.
func (err *Error) GRPCStatus() *status.Status {
	st := status.New(err.code, err.PublicMessage())
	if len(err.details) > 0 {
		if withDetails, derr := st.WithDetails(err.details...); derr == nil {
			st = withDetails
		}
	}
	return st
}

// Callers returns the raw program counters of the stack.
func (err *Error) Callers() []uintptr {
	return err.stack
}

// StackFrames returns the parsed stack.
func (err *Error) StackFrames() []StackFrame {
	if err.frames == nil {
		err.frames = make([]StackFrame, len(err.stack))
		for i, pc := range err.stack {
			err.frames[i] = NewStackFrame(pc)
		}
	}
	return err.frames
}

// Stack returns the callstack formatted like runtime/debug.Stack.
func (err *Error) Stack() []byte {
	var buf bytes.Buffer
	for _, frame := range err.StackFrames() {
		buf.WriteString(frame.String())
	}
	return buf.Bytes()
}

// MinimalStack returns up to depth frames, one per line, in a compact form
// suitable for structured logs. A depth of 0 returns all frames.
func (err *Error) MinimalStack(depth int) []string {
	frames := err.StackFrames()
	if depth > 0 && depth < len(frames) {
		frames = frames[:depth]
	}
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Short())
	}
	return out
}

// ErrorStack returns the error type, message and stack.
func (err *Error) ErrorStack() string {
	return err.TypeName() + " " + err.Error() + "\n" + string(err.Stack())
}

// TypeName returns the type of the wrapped error, e.g. *errors.errorString.
func (err *Error) TypeName() string {
	return reflect.TypeOf(err.Err).String()
}

func (err *Error) clone() *Error {
	cp := *err
	cp.details = append([]protoiface.MessageV1(nil), err.details...)
	return &cp
}

// Code returns the status code of err. Nil errors are codes.OK. The chain is
// searched for anything exposing Code(); otherwise codes.Unknown.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	var ce codedError
	if As(err, &ce) {
		return ce.Code()
	}
	return codes.Unknown
}

// HTTPStatusCode returns the HTTP status of err. Nil errors are 200. Errors
// without a status are 500.
func HTTPStatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var he httpError
	if As(err, &he) {
		return he.HTTPStatusCode()
	}
	var ce codedError
	if As(err, &ce) {
		return httpStatusFromCode(ce.Code())
	}
	return http.StatusInternalServerError
}

// PublicMessage returns the caller-facing message of err, or fallback when the
// error does not carry one.
func PublicMessage(err error, fallback string) string {
	var e *Error
	if As(err, &e) && e.publicMessage != "" {
		return e.publicMessage
	}
	return fallback
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type codedError interface {
	Code() codes.Code
}

type httpError interface {
	HTTPStatusCode() int
}

func toError(e any) error {
	if err, ok := e.(error); ok {
		return err
	}
	return fmt.Errorf("%v", e)
}

func newError(err error, code codes.Code, skip int) *Error {
	return &Error{
		Err:   err,
		stack: callers(3 + skip),
		code:  code,
	}
}

func callers(skip int) []uintptr {
	stack := make([]uintptr, MaxStackDepth)
	n := runtime.Callers(skip, stack)
	return stack[:n]
}
