package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/postpipe/internal/connector"
	"github.com/postpipe/internal/db"
	"github.com/postpipe/internal/render"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	testStart = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	testDBSeq atomic.Int64
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeConnector returns the queued errors in order, then succeeds.
type fakeConnector struct {
	mu       sync.Mutex
	failures []error
	calls    atomic.Int32
	keys     []string
	block    chan struct{}
	started  chan struct{}
}

func (f *fakeConnector) Publish(ctx context.Context, p connector.Payload) (connector.Result, error) {
	n := f.calls.Add(1)
	if f.started != nil && n == 1 {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, p.IdempotencyKey)
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return connector.Result{}, err
	}
	return connector.Result{
		URL:         "https://fake.example/" + p.Slug,
		RemoteID:    fmt.Sprintf("remote-%d", p.VersionNumber),
		PublishedAt: testStart,
	}, nil
}

func (f *fakeConnector) Preview(ctx context.Context, p connector.Payload) (connector.Preview, error) {
	preview := connector.Preview{Destination: "fake", Method: "POST", Endpoint: "https://fake.example/posts", HTML: p.HTML}
	if p.Title == "" {
		preview.Errors = append(preview.Errors, "title is required")
	}
	return preview, nil
}

// stubChecker returns a fixed outcome.
type stubChecker struct {
	typ   db.CheckType
	score float64
	err   error
	delay time.Duration
}

func (c stubChecker) Type() db.CheckType { return c.typ }

func (c stubChecker) Check(ctx context.Context, in CheckInput) (CheckOutcome, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return CheckOutcome{}, ctx.Err()
		}
	}
	if c.err != nil {
		return CheckOutcome{}, c.err
	}
	return CheckOutcome{Score: c.score}, nil
}

type testEnv struct {
	db    *gorm.DB
	svc   *Services
	clock *fakeClock
	conn  *fakeConnector
}

// newTestEnv wires services over a fresh in-memory database. The default QA
// set is a single seo check scoring 90, and backoff waits are skipped.
func newTestEnv(t *testing.T, mutate ...func(*Options)) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:service-%d-%d?mode=memory&cache=shared", testDBSeq.Add(1), time.Now().UnixNano())
	gdb, err := db.Open(dsn, logger.Default.LogMode(logger.Silent))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	renderer, err := render.NewRenderer(16)
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}

	clock := &fakeClock{now: testStart}
	conn := &fakeConnector{}
	registry := connector.NewRegistry()
	registry.Register(connector.Destination{ID: "fake", Type: "stub"}, conn)

	opts := Options{
		Clock:         clock,
		Renderer:      renderer,
		Connectors:    registry,
		DefaultChecks: []db.CheckType{db.CheckTypeSEO},
		sleep:         func(context.Context, time.Duration) error { return nil },
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	svc := New(gdb, opts)
	svc.QA.RegisterChecker(stubChecker{typ: db.CheckTypeSEO, score: 90})
	return &testEnv{db: gdb, svc: svc, clock: clock, conn: conn}
}

func strPtr(s string) *string { return &s }

const guideBody = "## Setup\n\nInstall the tool and run it once.\n\n## Usage\n\nCall the command with a file."

// createPost creates a post titled title in draft with one version.
func (e *testEnv) createPost(t *testing.T, title string) *db.Post {
	t.Helper()
	post, err := e.svc.Posts.CreatePost(context.Background(), PostInput{Title: title, Actor: "alice"})
	if err != nil {
		t.Fatalf("create post: %v", err)
	}
	return post
}

// reviewPost drives a new post to review through outline and writing.
func (e *testEnv) reviewPost(t *testing.T, title string) *db.Post {
	t.Helper()
	ctx := context.Background()
	post := e.createPost(t, title)

	outline := []db.OutlineSection{{Level: 2, Heading: "Setup"}, {Level: 2, Heading: "Usage"}}
	if _, _, err := e.svc.Posts.EditContent(ctx, post.ID, EditInput{VersionFields: VersionFields{Outline: &outline}, Actor: "alice"}); err != nil {
		t.Fatalf("add outline: %v", err)
	}
	if _, _, err := e.svc.Posts.EditContent(ctx, post.ID, EditInput{VersionFields: VersionFields{Content: strPtr(guideBody)}, Actor: "alice"}); err != nil {
		t.Fatalf("add body: %v", err)
	}
	reviewed, err := e.svc.Posts.RequestTransition(ctx, post.ID, db.PostStatusReview, "alice")
	if err != nil {
		t.Fatalf("move to review: %v", err)
	}
	return reviewed
}

func (e *testEnv) events(t *testing.T, recordID uint) []db.PublishEvent {
	t.Helper()
	events, err := e.svc.Publish.Events(context.Background(), recordID)
	if err != nil {
		t.Fatalf("load events: %v", err)
	}
	return events
}
