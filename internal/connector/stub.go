package connector

import (
	"context"
	"strings"
	"time"
)

// Stub accepts every valid payload and returns a deterministic URL. It is
// the default destination in development.
type Stub struct {
	id      string
	baseURL string
	now     func() time.Time
}

// NewStub creates a Stub connector.
func NewStub(id, baseURL string) *Stub {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "https://stub.local"
	}
	return &Stub{id: id, baseURL: baseURL, now: time.Now}
}

// Publish returns <base>/<slug>.
func (s *Stub) Publish(ctx context.Context, p Payload) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, Transient(s.id, err.Error(), err)
	}
	if errs := basicChecks(p); len(errs) > 0 {
		return Result{}, Rejected(s.id, 0, strings.Join(errs, "; "))
	}
	return Result{
		URL:         s.baseURL + "/" + p.Slug,
		RemoteID:    "stub-" + p.IdempotencyKey,
		PublishedAt: s.now().UTC(),
	}, nil
}

// Preview echoes the payload.
func (s *Stub) Preview(_ context.Context, p Payload) (Preview, error) {
	return Preview{
		Destination: s.id,
		Method:      "POST",
		Endpoint:    s.baseURL + "/" + p.Slug,
		HTML:        p.HTML,
		Body: map[string]any{
			"title": p.Title,
			"slug":  p.Slug,
			"tags":  p.Tags,
		},
		Errors: basicChecks(p),
	}, nil
}
