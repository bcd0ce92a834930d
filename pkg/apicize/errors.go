// Package apicize holds the primitives shared by every layer of the
// execution engine: the error taxonomy and the helpers for classifying
// failures as they propagate through dispatch, scripting and aggregation.
package apicize

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies an engine failure. Kinds, not Go types, are what
// callers branch on; every error produced by the engine carries exactly one.
type ErrorKind string

const (
	// KindError is the catch-all for failures with only a description.
	KindError ErrorKind = "Error"
	// KindHTTP covers transport, DNS, TLS and connection failures.
	KindHTTP ErrorKind = "Http"
	// KindTimeout indicates the per-request deadline elapsed.
	KindTimeout ErrorKind = "Timeout"
	// KindOAuth2Client indicates a token endpoint or client build failure.
	KindOAuth2Client ErrorKind = "OAuth2Client"
	// KindFileAccess indicates a missing or out-of-sandbox file.
	KindFileAccess ErrorKind = "FileAccess"
	// KindSerialization indicates a JSON or CSV parse failure.
	KindSerialization ErrorKind = "Serialization"
	// KindFailedTest indicates the test script failed to compile or threw,
	// as opposed to a test assertion reporting success=false.
	KindFailedTest ErrorKind = "FailedTest"
	// KindAsync indicates a spawned task could not be joined.
	KindAsync ErrorKind = "Async"
	// KindCancelled indicates cooperative cancellation was observed.
	KindCancelled ErrorKind = "Cancelled"
	// KindInvalidID indicates an unknown request or group identifier.
	KindInvalidID ErrorKind = "InvalidId"
)

// Error is the engine's error value. Only Kind and Description are always
// populated; the remaining fields qualify particular kinds.
type Error struct {
	Kind        ErrorKind `json:"type"`
	Description string    `json:"description"`
	URL         string    `json:"url,omitempty"`
	Context     string    `json:"context,omitempty"`
	Name        string    `json:"name,omitempty"`
	FileName    string    `json:"fileName,omitempty"`

	source error
}

func (e *Error) Error() string {
	var sb strings.Builder
	switch e.Kind {
	case KindTimeout:
		sb.WriteString("Timeout")
		if e.URL != "" {
			sb.WriteString(" - ")
			sb.WriteString(e.URL)
		}
	case KindHTTP:
		if e.Context != "" {
			sb.WriteString(e.Context)
			sb.WriteString(" - ")
		}
		sb.WriteString(e.Description)
		if e.URL != "" {
			fmt.Fprintf(&sb, " (%s)", e.URL)
		}
	case KindFileAccess:
		if e.FileName != "" {
			sb.WriteString(e.FileName)
			sb.WriteString(" - ")
		}
		sb.WriteString(e.Description)
	case KindSerialization:
		if e.Name != "" {
			sb.WriteString(e.Name)
			sb.WriteString(" - ")
		}
		sb.WriteString(e.Description)
	case KindCancelled:
		sb.WriteString("Cancelled")
	default:
		sb.WriteString(e.Description)
	}
	return sb.String()
}

// Unwrap exposes the wrapped source for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.source
}

// NewError returns a catch-all error with a description.
func NewError(format string, args ...any) *Error {
	return &Error{Kind: KindError, Description: fmt.Sprintf(format, args...)}
}

// HTTPError wraps a transport failure, keeping the URL and an optional
// context label for display.
func HTTPError(err error, url, context string) *Error {
	return &Error{
		Kind:        KindHTTP,
		Description: err.Error(),
		URL:         url,
		Context:     context,
		source:      err,
	}
}

// TimeoutError reports that the per-request deadline elapsed.
func TimeoutError(url string) *Error {
	return &Error{Kind: KindTimeout, Description: "Timeout", URL: url}
}

// OAuth2Error wraps a failure during token retrieval or token client build.
func OAuth2Error(description string, err error) *Error {
	e := &Error{Kind: KindOAuth2Client, Description: description, source: err}
	if err != nil {
		e.Context = err.Error()
	}
	return e
}

// FileAccessError reports a missing or out-of-sandbox file.
func FileAccessError(fileName string, err error) *Error {
	return &Error{
		Kind:        KindFileAccess,
		Description: err.Error(),
		FileName:    fileName,
		source:      err,
	}
}

// SerializationError wraps a JSON or CSV parse failure for the named
// variable or data set.
func SerializationError(name string, err error) *Error {
	return &Error{
		Kind:        KindSerialization,
		Description: err.Error(),
		Name:        name,
		source:      err,
	}
}

// FailedTestError reports a script compile or runtime failure.
func FailedTestError(description string) *Error {
	return &Error{Kind: KindFailedTest, Description: description}
}

// AsyncError reports that a spawned task could not be joined.
func AsyncError(id string, err error) *Error {
	return &Error{Kind: KindAsync, Description: err.Error(), Name: id, source: err}
}

// CancelledError reports cooperative cancellation.
func CancelledError() *Error {
	return &Error{Kind: KindCancelled, Description: "Cancelled"}
}

// InvalidIDError reports an unknown request or group identifier.
func InvalidIDError(id string) *Error {
	return &Error{Kind: KindInvalidID, Description: fmt.Sprintf("Invalid request ID %q", id)}
}

// KindOf returns the kind carried by err, or KindError when err is not an
// engine error. Context cancellation maps to KindCancelled so that callers
// can treat ctx.Err() and engine cancellations uniformly.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCancelled
	}
	return KindError
}

// IsCancelled reports whether err represents cooperative cancellation.
func IsCancelled(err error) bool {
	return err != nil && KindOf(err) == KindCancelled
}
