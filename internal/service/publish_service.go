package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/postpipe/internal/connector"
	"github.com/postpipe/internal/db"
	"github.com/postpipe/internal/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const instrumentationName = "github.com/postpipe/internal/service"

var defaultBackoff = []time.Duration{time.Second, 5 * time.Second, 25 * time.Second}

// PublishRequest asks for the current version of a post to be delivered to
// one destination.
type PublishRequest struct {
	PostID        uint
	DestinationID string
	DryRun        bool
	// AdvanceStatus moves a post in review to published in the same
	// transaction that marks the record published.
	AdvanceStatus bool
	Actor         string
}

// PublishResult is returned by Publish and Retry. Record is set whenever a
// record exists, including on connector failure. Superseded is a scheduled
// record closed because Record had already published the same version.
type PublishResult struct {
	Record       *db.PublishRecord  `json:"record"`
	Preview      *connector.Preview `json:"preview,omitempty"`
	Reused       bool               `json:"reused"`
	Superseded   *db.PublishRecord  `json:"superseded,omitempty"`
	Advanced     bool               `json:"advanced"`
	AdvanceError string             `json:"advance_error,omitempty"`
}

type publishMetrics struct {
	attempts metric.Int64Counter
	outcomes metric.Int64Counter
	duration metric.Float64Histogram
}

// PublishService drives publish attempts against destination connectors.
type PublishService struct {
	core
	qa          *QAService
	connectors  *connector.Registry
	renderer    *render.Renderer
	maxAttempts int
	backoff     []time.Duration
	timeout     time.Duration
	sleep       func(ctx context.Context, d time.Duration) error
	tracer      trace.Tracer
	metrics     publishMetrics
}

func newPublishService(c core, qa *QAService, opts Options) *PublishService {
	s := &PublishService{
		core:        c,
		qa:          qa,
		connectors:  opts.Connectors,
		renderer:    opts.Renderer,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		timeout:     opts.ConnectorTimeout,
		sleep:       opts.sleep,
		tracer:      otel.Tracer(instrumentationName),
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 3
	}
	if len(s.backoff) == 0 {
		s.backoff = defaultBackoff
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}

	meter := otel.Meter(instrumentationName)
	s.metrics.attempts, _ = meter.Int64Counter("postpipe.publish.attempts",
		metric.WithDescription("Connector publish calls"),
		metric.WithUnit("{attempt}"),
	)
	s.metrics.outcomes, _ = meter.Int64Counter("postpipe.publish.outcomes",
		metric.WithDescription("Publish records reaching a terminal status"),
		metric.WithUnit("{record}"),
	)
	s.metrics.duration, _ = meter.Float64Histogram("postpipe.publish.attempt.duration",
		metric.WithDescription("Connector call duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	return s
}

// Publish delivers the post's current version to a destination. See
// PublishRequest for dry runs and status advancement.
func (s *PublishService) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	conn, ok := s.connectors.Get(req.DestinationID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDestinationNotFound, req.DestinationID)
	}
	if req.DryRun {
		return s.dryRun(ctx, conn, req)
	}

	record, version, post, reused, err := s.claim(ctx, req)
	if err != nil {
		return nil, err
	}
	if reused {
		return &PublishResult{Record: record, Reused: true}, nil
	}

	payload, err := s.buildPayload(post, version, record.IdempotencyKey)
	if err != nil {
		return s.failBeforeAttempt(ctx, record, req.Actor, err)
	}
	return s.runAttempts(ctx, conn, record, payload, req.AdvanceStatus, req.Actor)
}

func (s *PublishService) dryRun(ctx context.Context, conn connector.Connector, req PublishRequest) (*PublishResult, error) {
	gdb := s.db.WithContext(ctx)
	post, err := loadPostTx(gdb, req.PostID)
	if err != nil {
		return nil, err
	}
	version, err := currentVersionTx(gdb, req.PostID)
	if err != nil {
		return nil, err
	}

	key := uuid.NewString()
	payload, err := s.buildPayload(post, version, key)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	preview, err := conn.Preview(callCtx, payload)
	if err != nil {
		return nil, classifyConnectorError(err)
	}

	record := &db.PublishRecord{
		IdempotencyKey: key,
		PostID:         post.ID,
		VersionID:      version.ID,
		DestinationID:  req.DestinationID,
		Status:         db.PublishStatusPending,
		ErrorMessage:   strings.Join(preview.Errors, "; "),
		DryRun:         true,
		RequestedBy:    req.Actor,
		CreatedAt:      s.clock.Now(),
	}
	s.logger.Info("publish dry run", "post_id", post.ID, "destination", req.DestinationID, "valid", preview.Valid())
	return &PublishResult{Record: record, Preview: &preview}, nil
}

// claim validates the post and gate, then creates the record and moves it
// to publishing. Locks are released before any connector call.
func (s *PublishService) claim(ctx context.Context, req PublishRequest) (*db.PublishRecord, *db.Version, *db.Post, bool, error) {
	unlockPost := s.locks.Lock(postKey(req.PostID))
	defer unlockPost()

	post, version, err := s.checkPublishable(ctx, req.PostID)
	if err != nil {
		return nil, nil, nil, false, err
	}

	unlockDest := s.locks.Lock(destinationKey(req.PostID, req.DestinationID))
	defer unlockDest()

	var record *db.PublishRecord
	reused := false
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := publishedRecordTx(tx, req.PostID, req.DestinationID, version.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			record, reused = existing, true
			return nil
		}

		if err := ensureNoActiveRecord(tx, req.PostID, req.DestinationID); err != nil {
			return err
		}

		now := s.clock.Now()
		record = &db.PublishRecord{
			IdempotencyKey: uuid.NewString(),
			PostID:         req.PostID,
			VersionID:      version.ID,
			DestinationID:  req.DestinationID,
			Status:         db.PublishStatusPending,
			RequestedBy:    req.Actor,
		}
		if err := tx.Create(record).Error; err != nil {
			if db.IsUniqueViolation(err) {
				return ErrPublishInProgress
			}
			return err
		}
		if err := appendEventTx(tx, record, "", db.PublishStatusPending, "", false, req.Actor, now); err != nil {
			return err
		}
		return moveRecordTx(tx, record, db.PublishStatusPending, db.PublishStatusPublishing, "", false, req.Actor, now)
	})
	if err != nil {
		return nil, nil, nil, false, err
	}
	if reused {
		s.logger.Info("publish reused existing record", "post_id", req.PostID, "destination", req.DestinationID, "record_id", record.ID)
	}
	return record, version, post, reused, nil
}

// checkPublishable loads the post and its current version and consults the
// QA gate, evaluating the default checks when no results exist. The caller
// holds the post lock.
func (s *PublishService) checkPublishable(ctx context.Context, postID uint) (*db.Post, *db.Version, error) {
	gdb := s.db.WithContext(ctx)
	post, err := loadPostTx(gdb, postID)
	if err != nil {
		return nil, nil, err
	}
	if post.Status != db.PostStatusReview && post.Status != db.PostStatusPublished {
		return nil, nil, fmt.Errorf("%w (post %d is %s)", ErrNotPublishable, post.ID, post.Status)
	}
	if err := s.qa.ensureEvaluated(ctx, postID); err != nil {
		return nil, nil, err
	}
	version, err := currentVersionTx(gdb, postID)
	if err != nil {
		return nil, nil, err
	}
	verdict, results, err := verdictTx(gdb, postID, version.ID)
	if err != nil {
		return nil, nil, err
	}
	if verdict == db.CheckStatusFail {
		return nil, nil, &GateError{PostID: postID, VersionID: version.ID, Verdict: verdict, Failing: failingChecks(results)}
	}
	return post, version, nil
}

// Retry puts a failed record back into publishing. Attempt numbering
// continues from the record's previous attempts.
func (s *PublishService) Retry(ctx context.Context, recordID uint, actor string) (*PublishResult, error) {
	record, err := s.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.Status != db.PublishStatusFailed {
		return nil, fmt.Errorf("%w (record %d is %s)", ErrNotRetryable, record.ID, record.Status)
	}
	conn, ok := s.connectors.Get(record.DestinationID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDestinationNotFound, record.DestinationID)
	}

	var published *db.PublishRecord
	post, version, err := func() (*db.Post, *db.Version, error) {
		unlockPost := s.locks.Lock(postKey(record.PostID))
		defer unlockPost()

		post, version, err := s.checkPublishable(ctx, record.PostID)
		if err != nil {
			return nil, nil, err
		}
		if version.ID != record.VersionID {
			return nil, nil, fmt.Errorf("%w: version of record %d is no longer current, publish again", ErrNotRetryable, record.ID)
		}

		unlockDest := s.locks.Lock(destinationKey(record.PostID, record.DestinationID))
		defer unlockDest()
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			// another record may have published this version since the failure
			existing, err := publishedRecordTx(tx, record.PostID, record.DestinationID, record.VersionID)
			if err != nil {
				return err
			}
			if existing != nil {
				published = existing
				return nil
			}
			if err := ensureNoActiveRecord(tx, record.PostID, record.DestinationID); err != nil {
				return err
			}
			return moveRecordTx(tx, record, db.PublishStatusFailed, db.PublishStatusPublishing, "", false, actor, s.clock.Now())
		})
		return post, version, err
	}()
	if err != nil {
		return nil, err
	}
	if published != nil {
		s.logger.Info("retry skipped, version already published", "record_id", record.ID, "published_record_id", published.ID)
		return &PublishResult{Record: published, Reused: true}, nil
	}

	payload, err := s.buildPayload(post, version, record.IdempotencyKey)
	if err != nil {
		return s.failBeforeAttempt(ctx, record, actor, err)
	}
	s.logger.Info("publish retry", "record_id", record.ID, "destination", record.DestinationID, "actor", actor)
	return s.runAttempts(ctx, conn, record, payload, false, actor)
}

// runAttempts calls the connector until success, a rejection or the attempt
// budget is spent. The record is in publishing on entry and terminal on
// return. Cancelling ctx does not interrupt an in-flight publish.
func (s *PublishService) runAttempts(ctx context.Context, conn connector.Connector, record *db.PublishRecord, payload connector.Payload, advance bool, actor string) (*PublishResult, error) {
	ctx = context.WithoutCancel(ctx)
	destAttr := attribute.String("destination", record.DestinationID)

	for attempt := 1; ; attempt++ {
		record.AttemptCount++
		if err := s.db.WithContext(ctx).Model(&db.PublishRecord{}).
			Where("id = ?", record.ID).
			Update("attempt_count", record.AttemptCount).Error; err != nil {
			return &PublishResult{Record: record}, fmt.Errorf("record attempt: %w", err)
		}

		result, err := s.callConnector(ctx, conn, record, payload)
		s.metrics.attempts.Add(ctx, 1, metric.WithAttributes(destAttr, attribute.Bool("success", err == nil)))

		if err == nil {
			return s.finishPublished(ctx, record, result, advance, actor)
		}

		message := connector.Message(err)
		if !connector.IsTransient(err) {
			s.logger.Warn("publish rejected", "record_id", record.ID, "destination", record.DestinationID, "attempt", record.AttemptCount, "error", message)
			return s.finishFailed(ctx, record, message, false, actor, fmt.Errorf("%w: %w", ErrConnectorRejected, err))
		}
		if attempt >= s.maxAttempts {
			s.logger.Warn("publish retries exhausted", "record_id", record.ID, "destination", record.DestinationID, "attempts", record.AttemptCount, "error", message)
			return s.finishFailed(ctx, record, message, true, actor, fmt.Errorf("%w: %w", ErrConnectorTransient, err))
		}

		if err := appendEventTx(s.db.WithContext(ctx), record, db.PublishStatusPublishing, db.PublishStatusPublishing, message, true, actor, s.clock.Now()); err != nil {
			return &PublishResult{Record: record}, err
		}
		wait := s.backoff[min(attempt-1, len(s.backoff)-1)]
		s.logger.Info("publish attempt failed, retrying", "record_id", record.ID, "destination", record.DestinationID, "attempt", record.AttemptCount, "backoff", wait, "error", message)
		if err := s.sleep(ctx, wait); err != nil {
			return s.finishFailed(ctx, record, message, true, actor, fmt.Errorf("%w: %w", ErrConnectorTransient, err))
		}
	}
}

func (s *PublishService) callConnector(ctx context.Context, conn connector.Connector, record *db.PublishRecord, payload connector.Payload) (connector.Result, error) {
	ctx, span := s.tracer.Start(ctx, "connector.publish", trace.WithAttributes(
		attribute.String("destination", record.DestinationID),
		attribute.Int64("record_id", int64(record.ID)),
		attribute.Int("attempt", record.AttemptCount),
	))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := conn.Publish(callCtx, payload)
	s.metrics.duration.Record(ctx, float64(time.Since(start).Milliseconds()),
		metric.WithAttributes(attribute.String("destination", record.DestinationID)))
	if err == nil && callCtx.Err() != nil {
		// the connector ignored the deadline; treat the late answer as lost
		err = connector.Transient(record.DestinationID, "connector call timed out", callCtx.Err())
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return connector.Result{}, err
	}
	return result, nil
}

func (s *PublishService) finishPublished(ctx context.Context, record *db.PublishRecord, result connector.Result, advance bool, actor string) (*PublishResult, error) {
	unlockPost := s.locks.Lock(postKey(record.PostID))
	defer unlockPost()

	publishedAt := result.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = s.clock.Now()
	}
	out := &PublishResult{Record: record}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record.PublishedURL = result.URL
		record.RemoteID = result.RemoteID
		record.PublishedAt = &publishedAt
		record.ErrorMessage = ""
		if err := tx.Model(&db.PublishRecord{}).Where("id = ?", record.ID).Updates(map[string]any{
			"published_url": record.PublishedURL,
			"remote_id":     record.RemoteID,
			"published_at":  publishedAt,
			"error_message": "",
		}).Error; err != nil {
			return err
		}
		if err := moveRecordTx(tx, record, db.PublishStatusPublishing, db.PublishStatusPublished, "", false, actor, s.clock.Now()); err != nil {
			return err
		}
		if err := tx.Model(&db.Post{}).Where("id = ?", record.PostID).Update("last_published_at", publishedAt).Error; err != nil {
			return err
		}

		if !advance {
			return nil
		}
		post, err := loadPostTx(tx, record.PostID)
		if err != nil {
			return err
		}
		if post.Status != db.PostStatusReview {
			return nil
		}
		// guard failures write nothing, so the record still commits
		err = applyTransition(tx, post, db.PostStatusPublished)
		switch {
		case err == nil:
			out.Advanced = true
		case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrQaGateFailed):
			out.AdvanceError = err.Error()
		default:
			return err
		}
		return nil
	})
	if err != nil {
		s.logger.Error("failed to record publish success", "record_id", record.ID, "url", result.URL, "error", err)
		return out, fmt.Errorf("record publish success: %w", err)
	}

	s.metrics.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("destination", record.DestinationID),
		attribute.String("status", string(db.PublishStatusPublished)),
	))
	s.logger.Info("published", "record_id", record.ID, "post_id", record.PostID, "destination", record.DestinationID, "url", record.PublishedURL, "attempts", record.AttemptCount, "advanced", out.Advanced)
	return out, nil
}

func (s *PublishService) finishFailed(ctx context.Context, record *db.PublishRecord, message string, transient bool, actor string, cause error) (*PublishResult, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		record.ErrorMessage = message
		if err := tx.Model(&db.PublishRecord{}).Where("id = ?", record.ID).Update("error_message", message).Error; err != nil {
			return err
		}
		return moveRecordTx(tx, record, db.PublishStatusPublishing, db.PublishStatusFailed, message, transient, actor, s.clock.Now())
	})
	if err != nil {
		return &PublishResult{Record: record}, fmt.Errorf("record publish failure: %w", err)
	}
	s.metrics.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("destination", record.DestinationID),
		attribute.String("status", string(db.PublishStatusFailed)),
	))
	return &PublishResult{Record: record}, cause
}

// failBeforeAttempt closes a claimed record when no connector call can be
// made, e.g. the payload could not be rendered.
func (s *PublishService) failBeforeAttempt(ctx context.Context, record *db.PublishRecord, actor string, cause error) (*PublishResult, error) {
	return s.finishFailed(context.WithoutCancel(ctx), record, cause.Error(), false, actor, cause)
}

func (s *PublishService) buildPayload(post *db.Post, version *db.Version, key string) (connector.Payload, error) {
	html, err := s.renderer.HTML(version.ContentHash, version.Content)
	if err != nil {
		return connector.Payload{}, err
	}
	plain, err := render.PlainText(version.Content)
	if err != nil {
		return connector.Payload{}, err
	}
	payload := connector.Payload{
		IdempotencyKey:  key,
		PostID:          post.ID,
		VersionID:       version.ID,
		VersionNumber:   version.VersionNumber,
		Title:           version.Title,
		Slug:            version.Slug,
		Markdown:        version.Content,
		HTML:            html,
		Excerpt:         render.Excerpt(version.MetaDescription, plain, 200),
		MetaDescription: version.MetaDescription,
		TargetKeyword:   post.TargetKeyword,
		Tags:            render.ExtractTags(version.Content, post.TargetKeyword, 10),
		WordCount:       version.WordCount,
	}
	if canonical, ok := post.Settings["canonical_url"].(string); ok {
		payload.CanonicalURL = canonical
	}
	return payload, nil
}

// ListRecords returns the post's publish records, newest first.
func (s *PublishService) ListRecords(ctx context.Context, postID uint) ([]db.PublishRecord, error) {
	gdb := s.db.WithContext(ctx)
	if _, err := loadPostTx(gdb, postID); err != nil {
		return nil, err
	}
	var records []db.PublishRecord
	if err := gdb.Where("post_id = ?", postID).Order("id desc").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// GetRecord loads one publish record.
func (s *PublishService) GetRecord(ctx context.Context, recordID uint) (*db.PublishRecord, error) {
	var record db.PublishRecord
	if err := s.db.WithContext(ctx).First(&record, recordID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPublishRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// Events returns the record's status history in order.
func (s *PublishService) Events(ctx context.Context, recordID uint) ([]db.PublishEvent, error) {
	if _, err := s.GetRecord(ctx, recordID); err != nil {
		return nil, err
	}
	var events []db.PublishEvent
	if err := s.db.WithContext(ctx).Where("publish_record_id = ?", recordID).Order("id asc").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func classifyConnectorError(err error) error {
	if connector.IsTransient(err) {
		return fmt.Errorf("%w: %w", ErrConnectorTransient, err)
	}
	return fmt.Errorf("%w: %w", ErrConnectorRejected, err)
}

// publishedRecordTx returns the published record for the version on the
// destination, or nil when there is none.
func publishedRecordTx(tx *gorm.DB, postID uint, destinationID string, versionID uint) (*db.PublishRecord, error) {
	var existing db.PublishRecord
	err := tx.Where("post_id = ? AND destination_id = ? AND version_id = ? AND status = ?",
		postID, destinationID, versionID, db.PublishStatusPublished).
		Order("id desc").First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

// finishSuperseded closes a claimed scheduled record whose version is already
// on the destination. The record ends cancelled with a reason naming the
// published record, and the result carries that published record.
func (s *PublishService) finishSuperseded(ctx context.Context, record, published *db.PublishRecord, version *db.Version, actor string) (*PublishResult, error) {
	ctx = context.WithoutCancel(ctx)
	reason := fmt.Sprintf("version %d already published by record %d", version.VersionNumber, published.ID)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&db.PublishRecord{}).Where("id = ?", record.ID).
			Updates(map[string]any{"error_message": reason, "version_id": version.ID}).Error; err != nil {
			return err
		}
		record.ErrorMessage = reason
		record.VersionID = version.ID
		return moveRecordTx(tx, record, db.PublishStatusPublishing, db.PublishStatusCancelled, reason, false, actor, s.clock.Now())
	})
	if err != nil {
		return &PublishResult{Record: record}, fmt.Errorf("close superseded record: %w", err)
	}
	s.logger.Info("scheduled publish superseded", "record_id", record.ID, "published_record_id", published.ID)
	return &PublishResult{Record: published, Reused: true, Superseded: record}, nil
}

func ensureNoActiveRecord(tx *gorm.DB, postID uint, destinationID string) error {
	var active int64
	if err := tx.Model(&db.PublishRecord{}).
		Where("post_id = ? AND destination_id = ? AND status IN ?", postID, destinationID,
			[]db.PublishStatus{db.PublishStatusPending, db.PublishStatusPublishing}).
		Count(&active).Error; err != nil {
		return err
	}
	if active > 0 {
		return ErrPublishInProgress
	}
	return nil
}

// moveRecordTx changes a record's status only if it still has status from,
// and appends the matching event.
func moveRecordTx(tx *gorm.DB, record *db.PublishRecord, from, to db.PublishStatus, message string, transient bool, actor string, at time.Time) error {
	res := tx.Model(&db.PublishRecord{}).
		Where("id = ? AND status = ?", record.ID, from).
		Updates(map[string]any{"status": to, "updated_at": at})
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error) {
			return ErrPublishInProgress
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("publish record %d is no longer %s", record.ID, from)
	}
	record.Status = to
	return appendEventTx(tx, record, from, to, message, transient, actor, at)
}

func appendEventTx(tx *gorm.DB, record *db.PublishRecord, from, to db.PublishStatus, message string, transient bool, actor string, at time.Time) error {
	event := db.PublishEvent{
		PublishRecordID: record.ID,
		Attempt:         record.AttemptCount,
		FromStatus:      from,
		ToStatus:        to,
		ErrorMessage:    message,
		Transient:       transient,
		Actor:           actor,
		OccurredAt:      at,
	}
	if err := tx.Create(&event).Error; err != nil {
		return fmt.Errorf("append publish event: %w", err)
	}
	return nil
}

// fireScheduled publishes a record the scheduler has already moved from
// pending to publishing. The record is bound to the version that is current
// now, and the gate is consulted as for a direct publish.
func (s *PublishService) fireScheduled(ctx context.Context, record *db.PublishRecord, actor string) (*PublishResult, error) {
	conn, ok := s.connectors.Get(record.DestinationID)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrDestinationNotFound, record.DestinationID)
		return s.failBeforeAttempt(ctx, record, actor, err)
	}

	var published *db.PublishRecord
	post, version, err := func() (*db.Post, *db.Version, error) {
		unlockPost := s.locks.Lock(postKey(record.PostID))
		defer unlockPost()

		post, version, err := s.checkPublishable(ctx, record.PostID)
		if err != nil {
			return nil, nil, err
		}
		published, err = publishedRecordTx(s.db.WithContext(ctx), record.PostID, record.DestinationID, version.ID)
		if err != nil {
			return nil, nil, err
		}
		if published != nil {
			return post, version, nil
		}
		if version.ID != record.VersionID {
			if err := s.db.WithContext(ctx).Model(&db.PublishRecord{}).
				Where("id = ?", record.ID).
				Update("version_id", version.ID).Error; err != nil {
				return nil, nil, err
			}
			record.VersionID = version.ID
		}
		return post, version, nil
	}()
	if err != nil {
		s.logger.Warn("scheduled publish not runnable", "record_id", record.ID, "error", err)
		return s.failBeforeAttempt(ctx, record, actor, err)
	}
	if published != nil {
		return s.finishSuperseded(ctx, record, published, version, actor)
	}

	payload, err := s.buildPayload(post, version, record.IdempotencyKey)
	if err != nil {
		return s.failBeforeAttempt(ctx, record, actor, err)
	}
	return s.runAttempts(ctx, conn, record, payload, false, actor)
}
