package main

import (
	"context"
	"testing"

	"github.com/postpipe/internal/connector"
	"github.com/postpipe/internal/db"
	"github.com/postpipe/internal/service"
	"gorm.io/gorm/logger"
)

func setupSeedTestDB(t *testing.T) *service.Services {
	t.Helper()

	gdb, err := db.Open("file:seed-posts?mode=memory&cache=shared", logger.Default.LogMode(logger.Silent))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	db.DB = gdb
	t.Cleanup(func() { _ = db.Close(gdb) })

	registry := connector.NewRegistry()
	registry.Register(connector.Destination{ID: "stub", Type: "stub", Name: "Stub"}, connector.NewStub("stub", "https://stub.local"))
	// no default checks, so the gate always passes
	return service.New(gdb, service.Options{Connectors: registry, DefaultChecks: []db.CheckType{}})
}

func TestCreateTestPostsCoversEveryStatus(t *testing.T) {
	svc := setupSeedTestDB(t)
	ctx := context.Background()

	created, err := createTestPosts(ctx, svc, "stub")
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if created != len(seedPosts) {
		t.Fatalf("expected %d posts, got %d", len(seedPosts), created)
	}

	var posts []db.Post
	if err := db.DB.Order("id asc").Find(&posts).Error; err != nil {
		t.Fatalf("failed to list posts: %v", err)
	}
	for i, post := range posts {
		if post.Status != seedPosts[i].target {
			t.Fatalf("post %q: expected status %s, got %s", post.Title, seedPosts[i].target, post.Status)
		}
	}

	var records int64
	db.DB.Model(&db.PublishRecord{}).Where("status = ?", db.PublishStatusPublished).Count(&records)
	if records != 1 {
		t.Fatalf("expected one published record, got %d", records)
	}

	again, err := createTestPosts(ctx, svc, "stub")
	if err != nil {
		t.Fatalf("second seed failed: %v", err)
	}
	if again != 0 {
		t.Fatalf("expected existing posts to be kept, created %d", again)
	}
}
