package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/postpipe/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RejectsPastTimes(t *testing.T) {
	env := newTestEnv(t)
	post := env.reviewPost(t, "Guide")

	_, err := env.svc.Scheduler.Schedule(context.Background(), post.ID, "fake", testStart.Add(-time.Minute), "alice")
	require.ErrorIs(t, err, ErrScheduleInPast)
	_, err = env.svc.Scheduler.Schedule(context.Background(), post.ID, "fake", testStart, "alice")
	require.ErrorIs(t, err, ErrScheduleInPast)
	_, err = env.svc.Scheduler.Schedule(context.Background(), post.ID, "nowhere", testStart.Add(time.Hour), "alice")
	require.ErrorIs(t, err, ErrDestinationNotFound)
}

func TestScheduler_SweepFiresDueRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.reviewPost(t, "Guide")

	record, err := env.svc.Scheduler.Schedule(ctx, post.ID, "fake", testStart.Add(time.Hour), "alice")
	require.NoError(t, err)
	assert.Equal(t, db.PublishStatusPending, record.Status)

	report, err := env.svc.Scheduler.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report, "nothing is due yet")

	// the version is bound when the record fires
	_, _, err = env.svc.Posts.EditContent(ctx, post.ID, EditInput{VersionFields: VersionFields{MetaDescription: strPtr("Updated before launch.")}})
	require.NoError(t, err)
	current, err := env.svc.Versions.CurrentVersion(ctx, post.ID)
	require.NoError(t, err)

	env.clock.Advance(2 * time.Hour)
	report, err = env.svc.Scheduler.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Due: 1, Claimed: 1, Published: 1}, report)

	fired, err := env.svc.Publish.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PublishStatusPublished, fired.Status)
	assert.Equal(t, current.ID, fired.VersionID)
	assert.Equal(t, 1, fired.AttemptCount)

	events := env.events(t, record.ID)
	require.Len(t, events, 3)
	assert.Equal(t, schedulerActor, events[1].Actor)

	report, err = env.svc.Scheduler.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Claimed, "a fired record is never claimed twice")
	assert.EqualValues(t, 1, env.conn.calls.Load())
}

func TestScheduler_CancelledRecordIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.reviewPost(t, "Guide")

	record, err := env.svc.Scheduler.Schedule(ctx, post.ID, "fake", testStart.Add(time.Hour), "alice")
	require.NoError(t, err)

	_, err = env.svc.Publish.Publish(ctx, PublishRequest{PostID: post.ID, DestinationID: "fake"})
	require.ErrorIs(t, err, ErrPublishInProgress, "a pending schedule blocks a direct publish to the same destination")

	cancelled, err := env.svc.Scheduler.Cancel(ctx, record.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, db.PublishStatusCancelled, cancelled.Status)
	assert.Equal(t, "cancelled by bob", cancelled.ErrorMessage)

	env.clock.Advance(2 * time.Hour)
	report, err := env.svc.Scheduler.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Due)
	assert.Zero(t, env.conn.calls.Load())

	_, err = env.svc.Scheduler.Cancel(ctx, record.ID, "bob")
	require.ErrorIs(t, err, ErrNotCancellable)
}

func TestScheduler_FailsWhenGateFailsAtFireTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.reviewPost(t, "Guide")

	record, err := env.svc.Scheduler.Schedule(ctx, post.ID, "fake", testStart.Add(time.Minute), "alice")
	require.NoError(t, err)

	env.svc.QA.RegisterChecker(stubChecker{typ: db.CheckTypeSEO, score: 10})
	env.clock.Advance(time.Hour)
	report, err := env.svc.Scheduler.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	fired, err := env.svc.Publish.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PublishStatusFailed, fired.Status)
	assert.Contains(t, fired.ErrorMessage, "qa gate failed")
	assert.Zero(t, env.conn.calls.Load())
}

func TestScheduler_ConcurrentSweepsFireOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.reviewPost(t, "Guide")

	record, err := env.svc.Scheduler.Schedule(ctx, post.ID, "fake", testStart.Add(time.Minute), "alice")
	require.NoError(t, err)
	env.clock.Advance(time.Hour)

	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		reports [2]SweepReport
		errs    [2]error
	)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			reports[i], errs[i] = env.svc.Scheduler.SweepOnce(ctx)
		}()
	}
	close(start)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, reports[0].Claimed+reports[1].Claimed)
	assert.Equal(t, 1, reports[0].Published+reports[1].Published)
	assert.EqualValues(t, 1, env.conn.calls.Load())

	var claims int
	for _, e := range env.events(t, record.ID) {
		if e.FromStatus == db.PublishStatusPending && e.ToStatus == db.PublishStatusPublishing {
			claims++
		}
	}
	assert.Equal(t, 1, claims)

	fired, err := env.svc.Publish.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PublishStatusPublished, fired.Status)
	assert.Equal(t, 1, fired.AttemptCount)
}

func TestScheduler_AlreadyPublishedVersionIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.reviewPost(t, "Guide")

	published, err := env.svc.Publish.Publish(ctx, PublishRequest{PostID: post.ID, DestinationID: "fake"})
	require.NoError(t, err)
	current, err := env.svc.Versions.CurrentVersion(ctx, post.ID)
	require.NoError(t, err)

	record, err := env.svc.Scheduler.Schedule(ctx, post.ID, "fake", testStart.Add(time.Minute), "alice")
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	report, err := env.svc.Scheduler.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Due: 1, Claimed: 1, Skipped: 1}, report)
	assert.EqualValues(t, 1, env.conn.calls.Load(), "the connector is not called for the skipped record")

	fired, err := env.svc.Publish.GetRecord(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PublishStatusCancelled, fired.Status)
	assert.Equal(t, fmt.Sprintf("version %d already published by record %d", current.VersionNumber, published.Record.ID), fired.ErrorMessage)
	assert.Zero(t, fired.AttemptCount)

	events := env.events(t, record.ID)
	last := events[len(events)-1]
	assert.Equal(t, db.PublishStatusPublishing, last.FromStatus)
	assert.Equal(t, db.PublishStatusCancelled, last.ToStatus)
	assert.Equal(t, schedulerActor, last.Actor)
}

func TestScheduler_RunStopsWithContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.svc.Scheduler.Run(ctx, 10*time.Millisecond) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}
