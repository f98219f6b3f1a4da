package service

import (
	"errors"
	"fmt"

	"github.com/postpipe/internal/db"
	"gorm.io/gorm"
)

// transitionContext carries what guards may inspect. tx is the transaction
// that will write the new status.
type transitionContext struct {
	tx      *gorm.DB
	post    *db.Post
	current *db.Version
}

// guardFailure is a refused precondition; it becomes a TransitionError.
type guardFailure string

func (g guardFailure) Error() string { return string(g) }

type transitionGuard func(tc *transitionContext) error

// transitionTable is the complete list of legal status changes.
var transitionTable = map[db.PostStatus]map[db.PostStatus]transitionGuard{
	db.PostStatusDraft: {
		db.PostStatusOutline: requireTitle,
	},
	db.PostStatusOutline: {
		db.PostStatusWriting: requireOutline,
	},
	db.PostStatusWriting: {
		db.PostStatusReview: requireBody,
	},
	db.PostStatusReview: {
		db.PostStatusWriting:   unconditional,
		db.PostStatusPublished: requirePassingGateAndPublication,
	},
	db.PostStatusPublished: {
		db.PostStatusArchived: unconditional,
	},
}

// CanTransition reports whether from -> to is in the transition table.
func CanTransition(from, to db.PostStatus) bool {
	_, ok := transitionTable[from][to]
	return ok
}

// AllowedTransitions lists the statuses reachable from from, in lifecycle order.
func AllowedTransitions(from db.PostStatus) []db.PostStatus {
	var out []db.PostStatus
	for _, to := range db.PostStatuses {
		if CanTransition(from, to) {
			out = append(out, to)
		}
	}
	return out
}

func unconditional(*transitionContext) error { return nil }

func requireTitle(tc *transitionContext) error {
	if tc.current == nil || tc.current.Title == "" {
		return guardFailure("title is empty")
	}
	return nil
}

func requireOutline(tc *transitionContext) error {
	if tc.current == nil || !tc.current.HasOutline() {
		return guardFailure("current version has no outline section with level >= 1")
	}
	return nil
}

func requireBody(tc *transitionContext) error {
	if tc.current == nil || tc.current.WordCount == 0 {
		return guardFailure("current version has no content")
	}
	return nil
}

// requirePassingGateAndPublication checks the QA verdict of the current
// version and that a published record exists for it. When called from the
// publish path the record was marked published earlier in the same tx.
func requirePassingGateAndPublication(tc *transitionContext) error {
	if tc.current == nil {
		return guardFailure("post has no current version")
	}
	verdict, results, err := verdictTx(tc.tx, tc.post.ID, tc.current.ID)
	if err != nil {
		return err
	}
	if verdict == db.CheckStatusFail {
		return &GateError{PostID: tc.post.ID, VersionID: tc.current.ID, Verdict: verdict, Failing: failingChecks(results)}
	}

	var published int64
	if err := tc.tx.Model(&db.PublishRecord{}).
		Where("post_id = ? AND version_id = ? AND status = ?", tc.post.ID, tc.current.ID, db.PublishStatusPublished).
		Count(&published).Error; err != nil {
		return err
	}
	if published == 0 {
		return guardFailure("no successful publish record for the current version")
	}
	return nil
}

// applyTransition is the single writer of Post.Status. post must have been
// loaded through tx.
func applyTransition(tx *gorm.DB, post *db.Post, to db.PostStatus) error {
	from := post.Status
	if !to.Valid() {
		return &TransitionError{PostID: post.ID, From: from, To: to, Reason: "unknown status"}
	}
	guard, ok := transitionTable[from][to]
	if !ok {
		return &TransitionError{PostID: post.ID, From: from, To: to}
	}

	current, err := currentVersionTx(tx, post.ID)
	if err != nil && !errors.Is(err, ErrVersionNotFound) {
		return err
	}
	if err := guard(&transitionContext{tx: tx, post: post, current: current}); err != nil {
		var refused guardFailure
		if errors.As(err, &refused) {
			return &TransitionError{PostID: post.ID, From: from, To: to, Reason: string(refused)}
		}
		return err
	}

	res := tx.Model(&db.Post{}).
		Where("id = ? AND status = ?", post.ID, from).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("update post status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return &TransitionError{PostID: post.ID, From: from, To: to, Reason: "status changed concurrently"}
	}
	post.Status = to
	return nil
}
