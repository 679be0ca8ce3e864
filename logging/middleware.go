package logging

import (
	"context"
	"net/http"
	"reflect"
	"time"

	"github.com/dpup/authcore/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc/codes"
)

const stackSize = 5

// Middleware opens a logging scope named after the route, recovers panics and
// writes one summary line per request. Fields tracked during the request with
// Track or TrackError are included on that line.
func Middleware(name string, root Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := root
			if z, ok := logger.(*ZapLogger); ok {
				// Stack traces on the summary line point at this middleware, which
				// isn't useful. Errors carry their own minimal stack.
				logger = &ZapLogger{z: z.z.Desugar().WithOptions(zap.AddStacktrace(zapcore.PanicLevel)).Sugar()}
			}
			ctx := With(r.Context(), logger.Named(name))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			defer func() {
				if p := recover(); p != nil {
					Track(ctx, "error.panic", true)
					err := errors.NewC(p, codes.Internal)
					TrackError(ctx, err)
					if !rec.wroteHeader {
						http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					}
				}

				l := FromContext(ctx).
					With("http.method", r.Method).
					With("http.status", rec.status).
					With("http.duration", time.Since(start))
				switch {
				case rec.status >= 500:
					l.Error("request failed")
				case rec.status >= 400:
					l.Warn("request rejected")
				default:
					l.Info("request complete")
				}
			}()

			next.ServeHTTP(rec, r.WithContext(ctx))
		})
	}
}

// TrackError adds error fields to the current scope.
func TrackError(ctx context.Context, err error) {
	Track(ctx, "error.type", reflect.TypeOf(err).String())
	Track(ctx, "error.message", err.Error())
	Track(ctx, "error.http_status", errors.HTTPStatusCode(err))

	var e *errors.Error
	if errors.As(err, &e) {
		Track(ctx, "error.stack_trace", e.MinimalStack(stackSize))
		Track(ctx, "error.original_type", e.TypeName())
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
