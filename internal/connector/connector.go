// Package connector delivers rendered posts to external publishing platforms.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Payload is the rendered content handed to a destination.
type Payload struct {
	IdempotencyKey  string
	PostID          uint
	VersionID       uint
	VersionNumber   int
	Title           string
	Slug            string
	Markdown        string
	HTML            string
	Excerpt         string
	MetaDescription string
	TargetKeyword   string
	Tags            []string
	WordCount       int
	CanonicalURL    string
}

// Result describes a successful publication.
type Result struct {
	URL         string
	RemoteID    string
	PublishedAt time.Time
}

// Preview is what a destination would receive, produced without publishing.
type Preview struct {
	Destination string         `json:"destination"`
	Method      string         `json:"method"`
	Endpoint    string         `json:"endpoint"`
	HTML        string         `json:"html"`
	Body        map[string]any `json:"body"`
	Warnings    []string       `json:"warnings"`
	Errors      []string       `json:"errors"`
}

// Valid reports whether the preview found no blocking problems.
func (p Preview) Valid() bool { return len(p.Errors) == 0 }

// Connector publishes to one destination. Implementations must be safe for
// concurrent use.
type Connector interface {
	Publish(ctx context.Context, payload Payload) (Result, error)
	Preview(ctx context.Context, payload Payload) (Preview, error)
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Kind classifies a connector failure.
type Kind string

const (
	// KindTransient failures may succeed when retried: timeouts, network
	// errors, 5xx, 408, 425 and 429 responses.
	KindTransient Kind = "transient"
	// KindRejected failures are final: validation errors and other 4xx.
	KindRejected Kind = "rejected"
)

// Error is returned by connectors for every failed call.
type Error struct {
	Destination string
	Kind        Kind
	StatusCode  int
	Message     string
	Err         error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (%d): %s", e.Destination, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Destination, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient reports whether retrying may help.
func (e *Error) Transient() bool { return e.Kind == KindTransient }

// Transient builds a retryable error.
func Transient(destination, message string, err error) *Error {
	return &Error{Destination: destination, Kind: KindTransient, Message: message, Err: err}
}

// Rejected builds a final error.
func Rejected(destination string, status int, message string) *Error {
	return &Error{Destination: destination, Kind: KindRejected, StatusCode: status, Message: message}
}

// KindForStatus maps an HTTP status code of a failed response to a Kind.
func KindForStatus(code int) Kind {
	switch {
	case code >= 500, code == http.StatusRequestTimeout, code == http.StatusTooEarly, code == http.StatusTooManyRequests:
		return KindTransient
	default:
		return KindRejected
	}
}

// IsTransient classifies any error returned from a connector call. Errors
// that are not *Error are treated as transport failures and retried, except
// for cancellation of the caller's context.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Transient()
	}
	return !errors.Is(err, context.Canceled)
}

// Message returns the remote message of a connector error, or err.Error().
func Message(err error) string {
	var cerr *Error
	if errors.As(err, &cerr) && cerr.Message != "" {
		return cerr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func basicChecks(p Payload) []string {
	var errs []string
	if p.Title == "" {
		errs = append(errs, "title is required")
	}
	if p.HTML == "" {
		errs = append(errs, "content is empty")
	}
	return errs
}
