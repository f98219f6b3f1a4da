package service

import (
	"context"
	"strings"
	"testing"

	"github.com/postpipe/internal/db"
	"github.com/postpipe/internal/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// applyLines rebuilds the target side of a field diff.
func applyLines(fd FieldDiff) string {
	var out []string
	for _, line := range fd.Lines {
		if line.Kind != "-" {
			out = append(out, line.Text)
		}
	}
	return strings.Join(out, "\n")
}

func TestVersionService_DiffRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, "Guide")

	old := "Hello there.\n\n## Setup\n\nInstall it.\n\n## Usage\n\nRun it."
	changed := "Hello there, reader.\n\n## Setup\n\nInstall it.\n\n## Usage\n\nRun it twice.\nThen stop."
	v2, _, err := env.svc.Posts.EditContent(ctx, post.ID, EditInput{VersionFields: VersionFields{Content: &old}})
	require.NoError(t, err)
	v3, _, err := env.svc.Posts.EditContent(ctx, post.ID, EditInput{VersionFields: VersionFields{Content: &changed, Title: strPtr("Guide, revised")}})
	require.NoError(t, err)

	forward, err := env.svc.Versions.Diff(ctx, post.ID, v2.ID, v3.ID)
	require.NoError(t, err)
	assert.Equal(t, DiffForward, forward.Direction)
	assert.Equal(t, changed, applyLines(forward.Content))
	assert.True(t, forward.Title.Changed)
	assert.False(t, forward.MetaDescription.Changed)
	assert.Equal(t, v3.WordCount-v2.WordCount, forward.WordsAdded-forward.WordsRemoved)
	assert.Equal(t, []string{render.PreambleSection, "Usage"}, forward.ChangedSections)
	assert.Contains(t, forward.Unified, "+Then stop.")

	backward, err := env.svc.Versions.Diff(ctx, post.ID, v3.ID, v2.ID)
	require.NoError(t, err)
	assert.Equal(t, DiffBackward, backward.Direction)
	assert.Equal(t, old, applyLines(backward.Content))
	assert.Equal(t, v2.ID, backward.BaseVersionID)
	assert.Equal(t, v3.ID, backward.HeadVersionID)
	assert.Equal(t, forward.ChangedSections, backward.ChangedSections)

	_, err = env.svc.Versions.Diff(ctx, post.ID, v2.ID, v2.ID)
	require.ErrorIs(t, err, ErrInvalidDiffRange)

	other := env.createPost(t, "Other")
	otherVersion, err := env.svc.Versions.CurrentVersion(ctx, other.ID)
	require.NoError(t, err)
	_, err = env.svc.Versions.Diff(ctx, post.ID, v2.ID, otherVersion.ID)
	require.ErrorIs(t, err, ErrVersionNotFound)
}

func TestVersionService_RestoreCreatesNewVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, "Guide")

	first, err := env.svc.Versions.CurrentVersion(ctx, post.ID)
	require.NoError(t, err)
	_, _, err = env.svc.Posts.EditContent(ctx, post.ID, EditInput{VersionFields: VersionFields{Title: strPtr("Renamed"), Content: strPtr("new body")}})
	require.NoError(t, err)

	restored, err := env.svc.Versions.RestoreVersion(ctx, post.ID, first.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, restored.VersionNumber)
	assert.Equal(t, "Guide", restored.Title)
	assert.Equal(t, first.ContentHash, restored.ContentHash)
	assert.Equal(t, "restored from version 1", restored.ChangeSummary)
	assert.Equal(t, db.ChangeTypeMinor, restored.ChangeType)

	reloaded, err := env.svc.Posts.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "Guide", reloaded.Title)
	assert.Equal(t, "guide", reloaded.Slug)

	versions, err := env.svc.Versions.ListVersions(ctx, post.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 3, "restoring never rewrites history")
}

func TestVersionService_EditDropsStaleQAResults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	post := env.createPost(t, "Guide")

	results, err := env.svc.QA.Evaluate(ctx, post.ID, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	_, err = env.svc.Versions.CreateVersion(ctx, post.ID, VersionFields{Content: strPtr("changed")}, db.ChangeTypeMajor, "alice")
	require.NoError(t, err)

	latest, err := env.svc.QA.LatestResults(ctx, post.ID)
	require.NoError(t, err)
	assert.Empty(t, latest)

	_, err = env.svc.Versions.CreateVersion(ctx, post.ID, VersionFields{}, db.ChangeType("rewrite"), "alice")
	require.ErrorIs(t, err, ErrInvalidInput)
}
