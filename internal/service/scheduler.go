package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/postpipe/internal/db"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const schedulerActor = "scheduler"

// Scheduler holds scheduled publishes and fires them when due.
type Scheduler struct {
	core
	publish     *PublishService
	concurrency int
}

func newScheduler(c core, publish *PublishService, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scheduler{core: c, publish: publish, concurrency: concurrency}
}

// SweepReport summarises one sweep.
type SweepReport struct {
	Due       int `json:"due"`
	Claimed   int `json:"claimed"`
	Published int `json:"published"`
	Failed    int `json:"failed"`
	// Skipped counts records closed because their version was already
	// published to the destination.
	Skipped int `json:"skipped"`
}

// Schedule creates a pending record that fires at at. The version is bound
// when the record fires.
func (s *Scheduler) Schedule(ctx context.Context, postID uint, destinationID string, at time.Time, actor string) (*db.PublishRecord, error) {
	if !at.After(s.clock.Now()) {
		return nil, ErrScheduleInPast
	}
	if _, ok := s.publish.connectors.Get(destinationID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrDestinationNotFound, destinationID)
	}

	unlockPost := s.locks.Lock(postKey(postID))
	defer unlockPost()
	unlockDest := s.locks.Lock(destinationKey(postID, destinationID))
	defer unlockDest()

	var record *db.PublishRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := loadPostTx(tx, postID)
		if err != nil {
			return err
		}
		if post.Status == db.PostStatusArchived {
			return ErrPostArchived
		}
		version, err := currentVersionTx(tx, postID)
		if err != nil {
			return err
		}
		if err := ensureNoActiveRecord(tx, postID, destinationID); err != nil {
			return err
		}

		scheduledAt := at.UTC()
		record = &db.PublishRecord{
			IdempotencyKey: uuid.NewString(),
			PostID:         postID,
			VersionID:      version.ID,
			DestinationID:  destinationID,
			Status:         db.PublishStatusPending,
			ScheduledAt:    &scheduledAt,
			RequestedBy:    actor,
		}
		if err := tx.Create(record).Error; err != nil {
			if db.IsUniqueViolation(err) {
				return ErrPublishInProgress
			}
			return err
		}
		return appendEventTx(tx, record, "", db.PublishStatusPending, "", false, actor, s.clock.Now())
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("publish scheduled", "record_id", record.ID, "post_id", postID, "destination", destinationID, "at", at.UTC(), "actor", actor)
	return record, nil
}

// Cancel stops a pending record. The record is kept with status cancelled.
func (s *Scheduler) Cancel(ctx context.Context, recordID uint, actor string) (*db.PublishRecord, error) {
	var record db.PublishRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&record, recordID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPublishRecordNotFound
			}
			return err
		}
		if record.Status != db.PublishStatusPending {
			return fmt.Errorf("%w (record %d is %s)", ErrNotCancellable, record.ID, record.Status)
		}

		reason := "cancelled by " + actor
		now := s.clock.Now()
		res := tx.Model(&db.PublishRecord{}).
			Where("id = ? AND status = ?", record.ID, db.PublishStatusPending).
			Updates(map[string]any{"status": db.PublishStatusCancelled, "error_message": reason, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// the sweep claimed it first
			return fmt.Errorf("%w (record %d already fired)", ErrNotCancellable, record.ID)
		}
		record.Status = db.PublishStatusCancelled
		record.ErrorMessage = reason
		return appendEventTx(tx, &record, db.PublishStatusPending, db.PublishStatusCancelled, reason, false, actor, now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("scheduled publish cancelled", "record_id", record.ID, "actor", actor)
	return &record, nil
}

// SweepOnce fires every due pending record. Each record is claimed with a
// compare-and-swap on its status, so concurrent sweeps never run one twice.
func (s *Scheduler) SweepOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.clock.Now()

	var due []db.PublishRecord
	if err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?", db.PublishStatusPending, now).
		Order("scheduled_at asc").
		Find(&due).Error; err != nil {
		return report, fmt.Errorf("find due records: %w", err)
	}
	report.Due = len(due)

	var claimed []*db.PublishRecord
	for i := range due {
		ok, err := s.claim(ctx, &due[i], now)
		if err != nil {
			return report, err
		}
		if ok {
			claimed = append(claimed, &due[i])
		}
	}
	report.Claimed = len(claimed)

	outcomes := make([]db.PublishStatus, len(claimed))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, record := range claimed {
		g.Go(func() error {
			result, err := s.publish.fireScheduled(gctx, record, schedulerActor)
			switch {
			case result != nil && result.Superseded != nil:
				outcomes[i] = db.PublishStatusCancelled
			case result != nil && result.Record != nil:
				outcomes[i] = result.Record.Status
			}
			if err != nil {
				s.logger.Warn("scheduled publish failed", "record_id", record.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, status := range outcomes {
		switch status {
		case db.PublishStatusPublished:
			report.Published++
		case db.PublishStatusFailed:
			report.Failed++
		case db.PublishStatusCancelled:
			report.Skipped++
		}
	}
	if report.Due > 0 {
		s.logger.Info("scheduler sweep", "due", report.Due, "claimed", report.Claimed, "published", report.Published, "failed", report.Failed, "skipped", report.Skipped)
	}
	return report, nil
}

func (s *Scheduler) claim(ctx context.Context, record *db.PublishRecord, now time.Time) (bool, error) {
	claimed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.PublishRecord{}).
			Where("id = ? AND status = ?", record.ID, db.PublishStatusPending).
			Updates(map[string]any{"status": db.PublishStatusPublishing, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		claimed = true
		record.Status = db.PublishStatusPublishing
		return appendEventTx(tx, record, db.PublishStatusPending, db.PublishStatusPublishing, "", false, schedulerActor, now)
	})
	if err != nil {
		return false, fmt.Errorf("claim record %d: %w", record.ID, err)
	}
	return claimed, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", "interval", interval, "concurrency", s.concurrency)
	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}
