package syncsdk

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/cooklang/cooksync/internal/syncmsg"
	"github.com/imroc/req/v3"
)

var (
	// config
	ErrNoServerURL = errors.New("sdk: server url missing")
	ErrNoToken     = errors.New("sdk: token missing")

	// raised before a request is sent
	ErrInvalidRequest = errors.New("sdk: invalid request")

	// server answers
	ErrUnauthorized  = errors.New("sdk: unauthorized")
	ErrQuotaExceeded = errors.New("sdk: quota exceeded")
	ErrConflict      = errors.New("sdk: conflict")
	ErrCorruptChunk  = errors.New("sdk: corrupt chunk")
	ErrChunkNotFound = errors.New("sdk: chunk not found")
	ErrRateLimited   = errors.New("sdk: rate limited")

	// events
	ErrEventsNotConnected = errors.New("sdk: events not connected")
)

type SDKError interface {
	error
	ErrorCode() string
	ErrorMessage() string
}

// APIError is returned when the server answered with an error status
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Status  int    `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: %d %s - %s", e.Status, e.Code, e.Message)
}

func (e *APIError) ErrorCode() string    { return e.Code }
func (e *APIError) ErrorMessage() string { return e.Message }

// Unwrap maps the answer to one of the package sentinels
func (e *APIError) Unwrap() error {
	switch {
	case e.Code == syncmsg.CodeAuthInvalidCredentials || e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden:
		return ErrUnauthorized
	case e.Code == syncmsg.CodeQuotaExceeded || e.Status == http.StatusInsufficientStorage:
		return ErrQuotaExceeded
	case e.Code == syncmsg.CodeConflict || e.Status == http.StatusConflict:
		return ErrConflict
	case e.Code == syncmsg.CodeChunkCorrupt:
		return ErrCorruptChunk
	case e.Code == syncmsg.CodeChunkNotFound:
		return ErrChunkNotFound
	case e.Code == syncmsg.CodeRateLimited || e.Status == http.StatusTooManyRequests:
		return ErrRateLimited
	case e.Code == syncmsg.CodeInvalidRequest || e.Code == syncmsg.CodeInvalidPath:
		return ErrInvalidRequest
	}
	return nil
}

// Temporary reports whether retrying the same request may succeed
func (e *APIError) Temporary() bool {
	if e.Status == http.StatusTooManyRequests || e.Status == http.StatusRequestTimeout {
		return true
	}
	return e.Status >= 500 && e.Status != http.StatusInsufficientStorage && e.Status != http.StatusNotImplemented
}

var _ SDKError = (*APIError)(nil)

// NetworkError is returned when a request never produced a response
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Temporary() bool { return true }

// ValidationError is raised locally, nothing was sent
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("sdk: invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

// IsTemporary reports whether err is worth retrying
func IsTemporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

// handleAPIError is a helper function that handles the common error pattern
// An error status wins over requestErr: req reports a body it could not
// decode as a request error, and the status is what callers classify on.
func handleAPIError(resp *req.Response, requestErr error, operation string) error {
	if resp != nil && resp.IsErrorState() {
		apiErr, ok := resp.ErrorResult().(*APIError)
		if !ok || apiErr == nil || apiErr.Code == "" {
			apiErr = &APIError{Code: syncmsg.CodeUnknownError, Message: http.StatusText(resp.StatusCode)}
		}
		apiErr.Status = resp.StatusCode
		return fmt.Errorf("%s: %w", operation, apiErr)
	}

	if requestErr != nil {
		return &NetworkError{Op: operation, Err: requestErr}
	}
	return nil
}

// transportError is the part of a request error that is not about the body.
// req fails to decode a non JSON error body and reports that as err.
func transportError(resp *req.Response, err error) error {
	if resp != nil && resp.IsErrorState() {
		return nil
	}
	return err
}

// decodeErrorBody is handleAPIError for responses read by hand
func decodeErrorBody(resp *req.Response, operation string) error {
	apiErr := &APIError{Status: resp.StatusCode}
	body, _ := resp.ToBytes()
	if len(body) == 0 || jsonUnmarshal(body, apiErr) != nil || apiErr.Code == "" {
		apiErr.Code = syncmsg.CodeUnknownError
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	return fmt.Errorf("%s: %w", operation, apiErr)
}
