package service

import (
	"errors"
	"fmt"
	"strings"

	"github.com/postpipe/internal/db"
)

var (
	ErrPostNotFound          = errors.New("post not found")
	ErrVersionNotFound       = errors.New("version not found")
	ErrPublishRecordNotFound = errors.New("publish record not found")
	ErrInvalidTransition     = errors.New("invalid transition")
	ErrQaGateFailed          = errors.New("qa gate failed")
	ErrPublishInProgress     = errors.New("publish already in progress for destination")
	ErrConnectorTransient    = errors.New("connector failed after retries")
	ErrConnectorRejected     = errors.New("connector rejected the payload")
	ErrScheduleInPast        = errors.New("scheduled time must be in the future")
	ErrNotCancellable        = errors.New("only pending publish records can be cancelled")
	ErrNotRetryable          = errors.New("only failed publish records can be retried")
	ErrDestinationNotFound   = errors.New("destination not found")
	ErrSlugTaken             = errors.New("slug already used in this organisation")
	ErrPostArchived          = errors.New("post is archived")
	ErrInvalidDiffRange      = errors.New("diff requires two different versions of the same post")
	ErrUnknownCheck          = errors.New("unknown qa check")
	ErrNotPublishable        = errors.New("post must be in review or published to publish")
	ErrInvalidInput          = errors.New("invalid input")
	ErrAIAPIKeyMissing       = errors.New("ai api key is not configured")
	ErrInvalidOutline        = errors.New("generated outline does not match schema")
)

// TransitionError is returned when the state machine refuses a status change.
type TransitionError struct {
	PostID uint
	From   db.PostStatus
	To     db.PostStatus
	Reason string
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("invalid transition for post %d: %s -> %s", e.PostID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// GateError reports a failing QA verdict.
type GateError struct {
	PostID    uint
	VersionID uint
	Verdict   db.CheckStatus
	Failing   []db.CheckType
}

func (e *GateError) Error() string {
	names := make([]string, 0, len(e.Failing))
	for _, c := range e.Failing {
		names = append(names, string(c))
	}
	return fmt.Sprintf("qa gate failed for post %d version %d: verdict %s (%s)", e.PostID, e.VersionID, e.Verdict, strings.Join(names, ", "))
}

func (e *GateError) Is(target error) bool {
	return target == ErrQaGateFailed
}
