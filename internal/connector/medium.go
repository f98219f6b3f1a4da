package connector

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	defaultMediumAPI = "https://api.medium.com/v1"
	maxMediumTags    = 25
)

// Medium publishes through the Medium integration-token API.
type Medium struct {
	id      string
	baseURL string
	token   string
	status  string
	http    HTTPDoer

	mu     sync.Mutex
	userID string
}

// NewMedium creates a Medium connector. status is the remote publishStatus
// ("public" when empty).
func NewMedium(id, baseURL, token, status string, client HTTPDoer) *Medium {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultMediumAPI
	}
	if strings.TrimSpace(status) == "" {
		status = "public"
	}
	return &Medium{id: id, baseURL: baseURL, token: strings.TrimSpace(token), status: status, http: client}
}

type mediumEnvelope[T any] struct {
	Data T `json:"data"`
}

type mediumUser struct {
	ID string `json:"id"`
}

type mediumPost struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	PublishedAt int64  `json:"publishedAt"`
}

func (m *Medium) header(p Payload) http.Header {
	header := idempotencyHeader(p)
	header.Set("Authorization", "Bearer "+m.token)
	return header
}

// resolveUser looks up and caches the token owner's id.
func (m *Medium) resolveUser(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.userID != "" {
		return m.userID, nil
	}
	var me mediumEnvelope[mediumUser]
	if err := doJSON(ctx, m.http, m.id, http.MethodGet, m.baseURL+"/me", m.header(Payload{}), nil, &me); err != nil {
		return "", err
	}
	if me.Data.ID == "" {
		return "", Rejected(m.id, 0, "token owner has no user id")
	}
	m.userID = me.Data.ID
	return m.userID, nil
}

func (m *Medium) body(p Payload) map[string]any {
	tags := p.Tags
	if len(tags) > maxMediumTags {
		tags = tags[:maxMediumTags]
	}
	body := map[string]any{
		"title":           p.Title,
		"contentFormat":   "html",
		"content":         p.HTML,
		"tags":            tags,
		"publishStatus":   m.status,
		"notifyFollowers": false,
	}
	if p.CanonicalURL != "" {
		body["canonicalUrl"] = p.CanonicalURL
	}
	return body
}

// Publish creates the post under the token owner's profile.
func (m *Medium) Publish(ctx context.Context, p Payload) (Result, error) {
	if errs := m.validate(p); len(errs) > 0 {
		return Result{}, Rejected(m.id, 0, strings.Join(errs, "; "))
	}
	userID, err := m.resolveUser(ctx)
	if err != nil {
		return Result{}, err
	}

	endpoint := m.baseURL + "/users/" + url.PathEscape(userID) + "/posts"
	var created mediumEnvelope[mediumPost]
	if err := doJSON(ctx, m.http, m.id, http.MethodPost, endpoint, m.header(p), m.body(p), &created); err != nil {
		return Result{}, err
	}

	result := Result{URL: created.Data.URL, RemoteID: created.Data.ID}
	if created.Data.PublishedAt > 0 {
		result.PublishedAt = time.UnixMilli(created.Data.PublishedAt).UTC()
	}
	return result, nil
}

// Preview returns the request Medium would receive. The user id segment is
// left as a placeholder so no network call is made.
func (m *Medium) Preview(_ context.Context, p Payload) (Preview, error) {
	preview := Preview{
		Destination: m.id,
		Method:      http.MethodPost,
		Endpoint:    m.baseURL + "/users/{userId}/posts",
		HTML:        p.HTML,
		Body:        m.body(p),
		Errors:      m.validate(p),
	}
	if len(p.Tags) > maxMediumTags {
		preview.Warnings = append(preview.Warnings, "only the first 25 tags are sent")
	}
	if utf8.RuneCountInString(p.Title) > 100 {
		preview.Warnings = append(preview.Warnings, "title is longer than 100 characters")
	}
	return preview, nil
}

func (m *Medium) validate(p Payload) []string {
	errs := basicChecks(p)
	if m.token == "" {
		errs = append(errs, "integration token is not configured")
	}
	return errs
}
