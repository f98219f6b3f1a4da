package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/postpipe/internal/connector"
	"github.com/postpipe/internal/db"
	"github.com/postpipe/internal/render"
	"github.com/postpipe/internal/router"
	"github.com/postpipe/internal/service"
	"gorm.io/gorm/logger"
)

type e2eSuite struct {
	handler http.Handler
	editor  *localClient
	baseURL string
	svc     *service.Services
	clock   *manualClock
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type localClient struct {
	handler http.Handler
	jar     http.CookieJar
}

func newLocalClient(handler http.Handler) *localClient {
	jar, _ := cookiejar.New(nil)
	return &localClient{handler: handler, jar: jar}
}

func (c *localClient) Do(req *http.Request) (*http.Response, error) {
	for _, cookie := range c.jar.Cookies(req.URL) {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, req)
	resp := w.Result()
	c.jar.SetCookies(req.URL, resp.Cookies())
	return resp, nil
}

func newE2ESuite(t *testing.T) *e2eSuite {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := db.Open(fmt.Sprintf("file:e2e-%d?mode=memory&cache=shared", time.Now().UnixNano()), logger.Default.LogMode(logger.Silent))
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close(gdb) })
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	renderer, err := render.NewRenderer(32)
	if err != nil {
		t.Fatalf("failed to create renderer: %v", err)
	}
	registry := connector.NewRegistry()
	registry.Register(connector.Destination{ID: "blog", Type: "stub", Name: "Company blog"}, connector.NewStub("blog", "https://blog.example.test"))
	registry.Register(connector.Destination{ID: "mirror", Type: "stub", Name: "Mirror"}, connector.NewStub("mirror", "https://mirror.example.test"))

	clock := &manualClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	svc := service.New(gdb, service.Options{
		Clock:         clock,
		Renderer:      renderer,
		Connectors:    registry,
		DefaultChecks: []db.CheckType{db.CheckTypeGrammar, db.CheckTypeTone},
	})

	engine := router.SetupRouter("test-session-secret", svc, nil)
	return &e2eSuite{
		handler: engine,
		editor:  newLocalClient(engine),
		baseURL: "http://example.test",
		svc:     svc,
		clock:   clock,
	}
}

// call sends a JSON request as the editor. The actor header is only sent on
// the first request; later calls rely on the session cookie.
func (s *e2eSuite) call(t *testing.T, method, path string, body any, wantStatus int) map[string]any {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.baseURL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(s.editor.jar.Cookies(req.URL)) == 0 {
		req.Header.Set("X-Actor-ID", "e2e-editor")
	}

	resp, err := s.editor.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, path, wantStatus, resp.StatusCode, raw)
	}
	out := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return out
}

func field(t *testing.T, m map[string]any, keys ...string) any {
	t.Helper()
	var cur any = m
	for _, k := range keys {
		obj, ok := cur.(map[string]any)
		if !ok {
			t.Fatalf("path %v: %v is not an object", keys, cur)
		}
		cur = obj[k]
	}
	return cur
}

func idOf(t *testing.T, m map[string]any, keys ...string) uint {
	t.Helper()
	v, ok := field(t, m, keys...).(float64)
	if !ok {
		t.Fatalf("path %v is not a number", keys)
	}
	return uint(v)
}

const article = "# Release notes\n\nThis release makes the editor faster.\n\n## Editor\n\nPages open quickly now. Saving is instant.\n\n## Publishing\n\nPosts can be scheduled for later. You can cancel a schedule at any time.\n"

func TestE2E_Lifecycle(t *testing.T) {
	s := newE2ESuite(t)

	created := s.call(t, http.MethodPost, "/api/posts", map[string]any{
		"title":            "Release notes",
		"meta_description": "What changed in this release.",
	}, http.StatusCreated)
	postID := idOf(t, created, "post", "ID")
	if got := field(t, created, "post", "AuthorID"); got != "e2e-editor" {
		t.Fatalf("expected author from header, got %v", got)
	}

	t.Run("edits advance the lifecycle", func(t *testing.T) {
		s.call(t, http.MethodPut, fmt.Sprintf("/api/posts/%d/content", postID), map[string]any{
			"outline": []map[string]any{{"level": 2, "heading": "Editor"}, {"level": 2, "heading": "Publishing"}},
		}, http.StatusOK)
		edited := s.call(t, http.MethodPut, fmt.Sprintf("/api/posts/%d/content", postID), map[string]any{
			"content": article,
		}, http.StatusOK)
		if got := field(t, edited, "post", "Status"); got != "writing" {
			t.Fatalf("expected writing, got %v", got)
		}
		// actor comes from the session cookie now
		if got := field(t, edited, "version", "AuthorID"); got != "e2e-editor" {
			t.Fatalf("expected session actor, got %v", got)
		}
	})

	t.Run("publish requires review", func(t *testing.T) {
		s.call(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/publish", postID), map[string]any{"destination_id": "blog"}, http.StatusConflict)
		s.call(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/transitions", postID), map[string]any{"to": "review"}, http.StatusOK)
	})

	t.Run("publish and advance", func(t *testing.T) {
		res := s.call(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/publish", postID), map[string]any{
			"destination_id": "blog",
			"advance_status": true,
		}, http.StatusCreated)
		if got := field(t, res, "record", "PublishedURL"); got != "https://blog.example.test/release-notes" {
			t.Fatalf("unexpected published url %v", got)
		}
		post := s.call(t, http.MethodGet, fmt.Sprintf("/api/posts/%d", postID), nil, http.StatusOK)
		if got := field(t, post, "post", "Status"); got != "published" {
			t.Fatalf("expected published, got %v", got)
		}
		qa := s.call(t, http.MethodGet, fmt.Sprintf("/api/posts/%d/qa", postID), nil, http.StatusOK)
		if got := field(t, qa, "verdict"); got == "fail" {
			t.Fatalf("expected gate to have passed, got %v", got)
		}
	})

	t.Run("schedule fires at the due time", func(t *testing.T) {
		at := s.clock.Now().Add(2 * time.Hour)
		res := s.call(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/schedule", postID), map[string]any{
			"destination_id": "mirror",
			"scheduled_at":   at.Format(time.RFC3339),
		}, http.StatusCreated)
		recordID := idOf(t, res, "record", "ID")

		report, err := s.svc.Scheduler.SweepOnce(context.Background())
		if err != nil || report.Due != 0 {
			t.Fatalf("expected nothing due yet, got %+v (%v)", report, err)
		}

		s.clock.Advance(3 * time.Hour)
		report, err = s.svc.Scheduler.SweepOnce(context.Background())
		if err != nil {
			t.Fatalf("sweep: %v", err)
		}
		if report.Published != 1 {
			t.Fatalf("expected one published record, got %+v", report)
		}

		events := s.call(t, http.MethodGet, fmt.Sprintf("/api/publish-records/%d/events", recordID), nil, http.StatusOK)
		list, _ := field(t, events, "events").([]any)
		var path []string
		for _, e := range list {
			path = append(path, e.(map[string]any)["ToStatus"].(string))
		}
		want := []string{"pending", "publishing", "published"}
		if fmt.Sprint(path) != fmt.Sprint(want) {
			t.Fatalf("expected events %v, got %v", want, path)
		}

		records := s.call(t, http.MethodGet, fmt.Sprintf("/api/posts/%d/publish-records", postID), nil, http.StatusOK)
		if got := len(field(t, records, "records").([]any)); got != 2 {
			t.Fatalf("expected two publish records, got %d", got)
		}
	})

	t.Run("history and archive", func(t *testing.T) {
		versions := s.call(t, http.MethodGet, fmt.Sprintf("/api/posts/%d/versions", postID), nil, http.StatusOK)
		list := field(t, versions, "versions").([]any)
		if len(list) != 3 {
			t.Fatalf("expected 3 versions, got %d", len(list))
		}
		newest := uint(list[0].(map[string]any)["ID"].(float64))
		oldest := uint(list[len(list)-1].(map[string]any)["ID"].(float64))
		diff := s.call(t, http.MethodGet, fmt.Sprintf("/api/posts/%d/diff?from=%d&to=%d", postID, newest, oldest), nil, http.StatusOK)
		if got := field(t, diff, "diff", "direction"); got != "backward" {
			t.Fatalf("expected backward diff, got %v", got)
		}

		s.call(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/transitions", postID), map[string]any{"to": "archived"}, http.StatusOK)
		s.call(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/transitions", postID), map[string]any{"to": "review"}, http.StatusConflict)
		s.call(t, http.MethodPost, fmt.Sprintf("/api/posts/%d/schedule", postID), map[string]any{
			"destination_id": "mirror",
			"scheduled_at":   s.clock.Now().Add(time.Hour).Format(time.RFC3339),
		}, http.StatusConflict)
	})
}
