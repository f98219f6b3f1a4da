package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/postpipe/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostService_FullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	post := env.createPost(t, "Guide")
	assert.Equal(t, db.PostStatusDraft, post.Status)
	assert.Equal(t, "guide", post.Slug)

	_, err := env.svc.Posts.RequestTransition(ctx, post.ID, db.PostStatusPublished, "alice")
	require.ErrorIs(t, err, ErrInvalidTransition)

	outline := []db.OutlineSection{{Level: 2, Heading: "Setup"}}
	v2, afterOutline, err := env.svc.Posts.EditContent(ctx, post.ID, EditInput{VersionFields: VersionFields{Outline: &outline}, Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 2, v2.VersionNumber)
	assert.Equal(t, db.PostStatusOutline, afterOutline.Status)

	v3, afterBody, err := env.svc.Posts.EditContent(ctx, post.ID, EditInput{VersionFields: VersionFields{Content: strPtr(guideBody)}, Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 3, v3.VersionNumber)
	assert.True(t, v3.HasOutline(), "outline carries over from the previous version")
	assert.Equal(t, db.PostStatusWriting, afterBody.Status)
	assert.Equal(t, v3.WordCount, afterBody.WordCount)

	reviewed, err := env.svc.Posts.RequestTransition(ctx, post.ID, db.PostStatusReview, "alice")
	require.NoError(t, err)
	assert.Equal(t, db.PostStatusReview, reviewed.Status)

	result, err := env.svc.Publish.Publish(ctx, PublishRequest{PostID: post.ID, DestinationID: "fake", AdvanceStatus: true, Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, db.PublishStatusPublished, result.Record.Status)
	assert.Equal(t, v3.ID, result.Record.VersionID)
	assert.Equal(t, "https://fake.example/guide", result.Record.PublishedURL)
	assert.True(t, result.Advanced)

	published, err := env.svc.Posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PostStatusPublished, published.Status)
	require.NotNil(t, published.LastPublishedAt)
	require.NotNil(t, published.SEOScore)
	assert.InDelta(t, 90, *published.SEOScore, 0.001)

	archived, err := env.svc.Posts.RequestTransition(ctx, post.ID, db.PostStatusArchived, "alice")
	require.NoError(t, err)
	assert.Equal(t, db.PostStatusArchived, archived.Status)

	_, _, err = env.svc.Posts.EditContent(ctx, post.ID, EditInput{VersionFields: VersionFields{Content: strPtr("late edit")}})
	require.ErrorIs(t, err, ErrPostArchived)
}

func TestPostService_TransitionErrorsLeaveStatusUnchanged(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, "Guide")

	_, err := env.svc.Posts.RequestTransition(ctx, post.ID, db.PostStatusWriting, "alice")
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, db.PostStatusDraft, te.From)
	assert.Equal(t, db.PostStatusWriting, te.To)

	// draft -> outline is in the table, but the guard needs an outline on outline -> writing
	_, err = env.svc.Posts.RequestTransition(ctx, post.ID, db.PostStatusOutline, "alice")
	require.NoError(t, err)
	_, err = env.svc.Posts.RequestTransition(ctx, post.ID, db.PostStatusWriting, "alice")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Reason, "outline")

	reloaded, err := env.svc.Posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, db.PostStatusOutline, reloaded.Status)

	_, err = env.svc.Posts.RequestTransition(ctx, post.ID, db.PostStatus("bogus"), "alice")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestPostService_ReviewToPublishedNeedsPassingGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.reviewPost(t, "Guide")

	env.svc.QA.RegisterChecker(stubChecker{typ: db.CheckTypeSEO, score: 20})
	_, err := env.svc.Posts.RequestTransition(ctx, post.ID, db.PostStatusPublished, "alice")
	require.ErrorIs(t, err, ErrQaGateFailed)
	var gate *GateError
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, []db.CheckType{db.CheckTypeSEO}, gate.Failing)

	_, err = env.svc.Publish.Publish(ctx, PublishRequest{PostID: post.ID, DestinationID: "fake"})
	require.ErrorIs(t, err, ErrQaGateFailed)
	assert.Zero(t, env.conn.calls.Load())
}

func TestPostService_ReviewToPublishedNeedsPublishRecord(t *testing.T) {
	env := newTestEnv(t)
	post := env.reviewPost(t, "Guide")

	_, err := env.svc.Posts.RequestTransition(context.Background(), post.ID, db.PostStatusPublished, "alice")
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Reason, "publish record")
}

func TestPostService_CreateAssignsUniqueSlugs(t *testing.T) {
	env := newTestEnv(t)
	first := env.createPost(t, "Go Guide")
	second := env.createPost(t, "Go Guide")
	third := env.createPost(t, "Go Guide")

	assert.Equal(t, "go-guide", first.Slug)
	assert.Equal(t, "go-guide-2", second.Slug)
	assert.Equal(t, "go-guide-3", third.Slug)

	other, err := env.svc.Posts.CreatePost(context.Background(), PostInput{OrgID: "acme", Title: "Go Guide"})
	require.NoError(t, err)
	assert.Equal(t, "go-guide", other.Slug, "slugs are scoped per organisation")

	_, _, err = env.svc.Posts.EditContent(context.Background(), second.ID, EditInput{VersionFields: VersionFields{Slug: strPtr("go-guide")}})
	require.ErrorIs(t, err, ErrSlugTaken)
}

func TestPostService_ConcurrentEditsKeepOneCurrentVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, "Guide")

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			content := fmt.Sprintf("edit number %d", i)
			if _, _, err := env.svc.Posts.EditContent(ctx, post.ID, EditInput{VersionFields: VersionFields{Content: &content}}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent edit failed: %v", err)
	}

	versions, err := env.svc.Versions.ListVersions(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, versions, writers+1)

	seen := make(map[int]bool)
	current := 0
	for _, v := range versions {
		assert.False(t, seen[v.VersionNumber], "duplicate version number %d", v.VersionNumber)
		seen[v.VersionNumber] = true
		if v.IsCurrent {
			current++
		}
	}
	assert.Equal(t, 1, current)
	assert.Equal(t, writers+1, versions[0].VersionNumber)
	assert.True(t, versions[0].IsCurrent)
}

func TestPostService_ListFiltersAndCounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createPost(t, "Alpha notes")
	env.createPost(t, "Beta notes")
	env.reviewPost(t, "Gamma guide")

	all, err := env.svc.Posts.List(ctx, PostFilter{})
	require.NoError(t, err)
	assert.EqualValues(t, 3, all.Total)
	assert.EqualValues(t, 2, all.StatusCounts[db.PostStatusDraft])
	assert.EqualValues(t, 1, all.StatusCounts[db.PostStatusReview])
	assert.Equal(t, 1, all.TotalPages)

	drafts, err := env.svc.Posts.List(ctx, PostFilter{Status: "draft", Search: "beta"})
	require.NoError(t, err)
	require.Len(t, drafts.Posts, 1)
	assert.Equal(t, "Beta notes", drafts.Posts[0].Title)

	paged, err := env.svc.Posts.List(ctx, PostFilter{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Len(t, paged.Posts, 1)
	assert.Equal(t, 2, paged.TotalPages)
}

func TestPostService_GetMissingPost(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.svc.Posts.GetByID(context.Background(), 404)
	assert.True(t, errors.Is(err, ErrPostNotFound))
}
