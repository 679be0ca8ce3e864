// Package serverutil holds the HTTP boundary helpers shared by authcore's
// handlers: JSON encoding, request decoding and the mapping from error codes to
// HTTP responses.
package serverutil

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/dpup/authcore/errors"
	"github.com/dpup/authcore/logging"
	"google.golang.org/genproto/googleapis/rpc/code"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/protoadapt"
)

// Maximum accepted size of a JSON request body.
const maxBodyBytes = 1 << 20

// JSONHandler returns a value to encode as JSON, or an error. Handlers that
// need a status other than 200 return a Response.
type JSONHandler func(r *http.Request) (any, error)

// Response lets a JSONHandler pick the status code and set cookies. A nil
// Body writes no content.
type Response struct {
	Status  int
	Body    any
	Cookies []*http.Cookie
}

// ErrorResponse is the body of every error returned by the API.
type ErrorResponse struct {
	StatusCode int               `json:"statusCode"`
	Error      string            `json:"error"`
	Message    string            `json:"message"`
	Code       int32             `json:"code"`
	CodeName   string            `json:"codeName"`
	Details    []json.RawMessage `json:"details,omitempty"`
}

// Handle adapts a JSONHandler to http.Handler.
func Handle(fn JSONHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := fn(r)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if res, ok := resp.(Response); ok {
			for _, c := range res.Cookies {
				http.SetCookie(w, c)
			}
			if res.Body == nil {
				w.WriteHeader(res.Status)
				return
			}
			WriteJSON(w, res.Status, res.Body)
			return
		}
		WriteJSON(w, http.StatusOK, resp)
	})
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "error encoding response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

// WriteError tracks err on the request's logging scope and writes an
// ErrorResponse. The HTTP status is derived from the error's code. Messages
// of internal errors are only exposed when they carry a public message.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	logging.TrackError(r.Context(), err)
	WriteJSON(w, errors.HTTPStatusCode(err), NewErrorResponse(err))
}

// NewErrorResponse builds the response body for err.
func NewErrorResponse(err error) ErrorResponse {
	status := errors.HTTPStatusCode(err)
	c := errors.Code(err)

	msg := err.Error()
	switch c {
	case codes.Unknown, codes.Internal, codes.DataLoss:
		msg = errors.PublicMessage(err, "internal error")
	default:
		msg = errors.PublicMessage(err, msg)
	}

	resp := ErrorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    msg,
		Code:       int32(c),
		CodeName:   code.Code_name[int32(c)],
	}

	var e *errors.Error
	if errors.As(err, &e) {
		for _, d := range e.Details() {
			if b, merr := protojson.Marshal(protoadapt.MessageV2Of(d)); merr == nil {
				resp.Details = append(resp.Details, b)
			}
		}
	}
	return resp
}

// DecodeJSON reads a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.NewC(err, codes.InvalidArgument).WithPublicMessage("invalid request body")
	}
	return nil
}
