package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/postpipe/internal/db"
	"github.com/postpipe/internal/render"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// Score thresholds shared by the built-in checks.
const (
	PassScore    = 80
	WarningScore = 60
)

// StatusForScore maps a 0-100 score to a check status.
func StatusForScore(score float64) db.CheckStatus {
	switch {
	case score >= PassScore:
		return db.CheckStatusPass
	case score >= WarningScore:
		return db.CheckStatusWarning
	default:
		return db.CheckStatusFail
	}
}

// CheckInput is what a checker sees of the version under evaluation.
type CheckInput struct {
	Post    *db.Post
	Version *db.Version
	HTML    string
	Doc     render.Document
}

// CheckOutcome is a checker's report. An empty Status is derived from Score.
type CheckOutcome struct {
	Status db.CheckStatus
	Score  float64
	Issues []db.QAIssue
}

// Checker evaluates one aspect of a version.
type Checker interface {
	Type() db.CheckType
	Check(ctx context.Context, in CheckInput) (CheckOutcome, error)
}

// QAService runs checks against the current version and stores the results.
type QAService struct {
	core
	checkers map[db.CheckType]Checker
	defaults []db.CheckType
	timeout  time.Duration
	renderer *render.Renderer
}

func newQAService(c core, timeout time.Duration, defaults []db.CheckType, renderer *render.Renderer) *QAService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	s := &QAService{core: c, checkers: make(map[db.CheckType]Checker), timeout: timeout, renderer: renderer}
	for _, checker := range BuiltinCheckers() {
		s.checkers[checker.Type()] = checker
	}
	if defaults == nil {
		defaults = []db.CheckType{db.CheckTypeSEO, db.CheckTypeReadability, db.CheckTypeGrammar, db.CheckTypeTone, db.CheckTypeFactCheck}
	}
	s.defaults = defaults
	return s
}

// RegisterChecker adds or replaces the checker for its type.
func (s *QAService) RegisterChecker(c Checker) {
	s.checkers[c.Type()] = c
}

// DefaultChecks returns the checks used when none are requested.
func (s *QAService) DefaultChecks() []db.CheckType {
	return append([]db.CheckType(nil), s.defaults...)
}

// Evaluate runs checks against the post's current version and replaces the
// post's stored results. A nil checks slice runs the default set. An empty
// non-nil slice stores no results but marks the version evaluated, so the
// gate passes it without running the defaults.
func (s *QAService) Evaluate(ctx context.Context, postID uint, checks []db.CheckType) ([]db.QACheckResult, error) {
	unlock := s.locks.Lock(postKey(postID))
	defer unlock()
	return s.evaluateLocked(ctx, postID, checks)
}

func (s *QAService) evaluateLocked(ctx context.Context, postID uint, checks []db.CheckType) ([]db.QACheckResult, error) {
	if checks == nil {
		checks = s.defaults
	}
	checks = dedupeChecks(checks)
	for _, ct := range checks {
		if _, ok := s.checkers[ct]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCheck, ct)
		}
	}

	gdb := s.db.WithContext(ctx)
	post, err := loadPostTx(gdb, postID)
	if err != nil {
		return nil, err
	}
	version, err := currentVersionTx(gdb, postID)
	if err != nil {
		return nil, err
	}

	input, err := s.buildInput(post, version)
	if err != nil {
		return nil, err
	}

	outcomes := make([]CheckOutcome, len(checks))
	var g errgroup.Group
	for i, ct := range checks {
		checker := s.checkers[ct]
		g.Go(func() error {
			outcomes[i] = s.runCheck(ctx, checker, input)
			return nil
		})
	}
	_ = g.Wait()

	now := s.clock.Now()
	results := make([]db.QACheckResult, len(checks))
	for i, ct := range checks {
		results[i] = db.QACheckResult{
			PostID:      postID,
			VersionID:   version.ID,
			CheckType:   ct,
			Status:      outcomes[i].Status,
			Score:       outcomes[i].Score,
			Issues:      db.EncodeIssues(outcomes[i].Issues),
			EvaluatedAt: now,
		}
	}

	names := make([]string, len(checks))
	for i, ct := range checks {
		names[i] = string(ct)
	}
	run := db.QARun{PostID: postID, VersionID: version.ID, Checks: strings.Join(names, ","), EvaluatedAt: now}

	err = gdb.Transaction(func(tx *gorm.DB) error {
		if err := clearQATx(tx, postID); err != nil {
			return err
		}
		if err := tx.Create(&run).Error; err != nil {
			return err
		}
		if len(results) == 0 {
			return nil
		}
		return tx.Create(&results).Error
	})
	if err != nil {
		return nil, fmt.Errorf("store qa results: %w", err)
	}

	s.logger.Info("qa evaluated", "post_id", postID, "version_id", version.ID, "checks", len(results), "verdict", Verdict(results))
	return results, nil
}

// runCheck bounds a checker by the check timeout. Errors and timeouts are
// recorded as a failing check.
func (s *QAService) runCheck(ctx context.Context, checker Checker, input CheckInput) CheckOutcome {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	type result struct {
		outcome CheckOutcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := checker.Check(ctx, input)
		done <- result{outcome, err}
	}()

	var res result
	select {
	case res = <-done:
	case <-ctx.Done():
		res.err = fmt.Errorf("check timed out: %w", ctx.Err())
	}
	if res.err != nil {
		s.logger.Warn("qa check failed", "check", checker.Type(), "error", res.err)
		return CheckOutcome{
			Status: db.CheckStatusFail,
			Issues: []db.QAIssue{{Severity: "error", Message: res.err.Error()}},
		}
	}

	outcome := res.outcome
	if outcome.Score < 0 {
		outcome.Score = 0
	}
	if outcome.Score > 100 {
		outcome.Score = 100
	}
	if outcome.Status == "" {
		outcome.Status = StatusForScore(outcome.Score)
	}
	return outcome
}

func (s *QAService) buildInput(post *db.Post, version *db.Version) (CheckInput, error) {
	html, err := s.renderer.HTML(version.ContentHash, version.Content)
	if err != nil {
		return CheckInput{}, err
	}
	doc, err := render.Inspect(html)
	if err != nil {
		return CheckInput{}, err
	}
	return CheckInput{Post: post, Version: version, HTML: html, Doc: doc}, nil
}

// LatestResults returns the stored results for the post's current version.
func (s *QAService) LatestResults(ctx context.Context, postID uint) ([]db.QACheckResult, error) {
	gdb := s.db.WithContext(ctx)
	if _, err := loadPostTx(gdb, postID); err != nil {
		return nil, err
	}
	version, err := currentVersionTx(gdb, postID)
	if err != nil {
		return nil, err
	}
	return resultsForVersionTx(gdb, postID, version.ID)
}

// ensureEvaluated runs the default checks when the current version has never
// been evaluated. An evaluation with an empty check set counts. The caller
// holds the post lock.
func (s *QAService) ensureEvaluated(ctx context.Context, postID uint) error {
	gdb := s.db.WithContext(ctx)
	version, err := currentVersionTx(gdb, postID)
	if err != nil {
		return err
	}
	var count int64
	if err := gdb.Model(&db.QARun{}).Where("post_id = ? AND version_id = ?", postID, version.ID).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	_, err = s.evaluateLocked(ctx, postID, nil)
	return err
}

// Verdict aggregates results: fail beats warning beats pass. Pending counts
// as fail and an empty set passes.
func Verdict(results []db.QACheckResult) db.CheckStatus {
	verdict := db.CheckStatusPass
	for _, r := range results {
		switch r.Status {
		case db.CheckStatusFail, db.CheckStatusPending:
			return db.CheckStatusFail
		case db.CheckStatusWarning:
			verdict = db.CheckStatusWarning
		case db.CheckStatusPass:
		default:
			return db.CheckStatusFail
		}
	}
	return verdict
}

func verdictTx(tx *gorm.DB, postID, versionID uint) (db.CheckStatus, []db.QACheckResult, error) {
	results, err := resultsForVersionTx(tx, postID, versionID)
	if err != nil {
		return "", nil, err
	}
	return Verdict(results), results, nil
}

func resultsForVersionTx(tx *gorm.DB, postID, versionID uint) ([]db.QACheckResult, error) {
	var results []db.QACheckResult
	if err := tx.Where("post_id = ? AND version_id = ?", postID, versionID).Order("check_type asc").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func failingChecks(results []db.QACheckResult) []db.CheckType {
	var out []db.CheckType
	for _, r := range results {
		if r.Status == db.CheckStatusFail || r.Status == db.CheckStatusPending {
			out = append(out, r.CheckType)
		}
	}
	return out
}

// clearQATx drops the post's stored results and evaluation markers.
func clearQATx(tx *gorm.DB, postID uint) error {
	if err := tx.Where("post_id = ?", postID).Delete(&db.QACheckResult{}).Error; err != nil {
		return err
	}
	return tx.Where("post_id = ?", postID).Delete(&db.QARun{}).Error
}

func dedupeChecks(checks []db.CheckType) []db.CheckType {
	seen := make(map[db.CheckType]bool, len(checks))
	out := make([]db.CheckType, 0, len(checks))
	for _, c := range checks {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// seoScore reads the current version's seo result, if any.
func seoScore(tx *gorm.DB, postID uint) (*float64, error) {
	version, err := currentVersionTx(tx, postID)
	if err != nil {
		if errors.Is(err, ErrVersionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var result db.QACheckResult
	err = tx.Where("post_id = ? AND version_id = ? AND check_type = ?", postID, version.ID, db.CheckTypeSEO).First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	score := result.Score
	return &score, nil
}
