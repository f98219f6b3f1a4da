package connector

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

// WordPress publishes through the WordPress REST API using an application
// password.
type WordPress struct {
	id          string
	baseURL     string
	username    string
	appPassword string
	status      string
	http        HTTPDoer
}

// NewWordPress creates a WordPress connector. status is the remote post
// status ("publish" when empty).
func NewWordPress(id, baseURL, username, appPassword, status string, client HTTPDoer) *WordPress {
	if strings.TrimSpace(status) == "" {
		status = "publish"
	}
	return &WordPress{
		id:          id,
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		username:    strings.TrimSpace(username),
		appPassword: strings.TrimSpace(appPassword),
		status:      status,
		http:        client,
	}
}

type wordPressPost struct {
	ID      int64  `json:"id"`
	Link    string `json:"link"`
	DateGMT string `json:"date_gmt"`
}

func (w *WordPress) endpoint() string {
	return w.baseURL + "/wp-json/wp/v2/posts"
}

func (w *WordPress) body(p Payload) map[string]any {
	return map[string]any{
		"title":   p.Title,
		"content": p.HTML,
		"excerpt": p.Excerpt,
		"slug":    p.Slug,
		"status":  w.status,
		"meta": map[string]any{
			"keywords": strings.Join(p.Tags, ","),
		},
	}
}

// Publish creates the post remotely.
func (w *WordPress) Publish(ctx context.Context, p Payload) (Result, error) {
	if errs := w.validate(p); len(errs) > 0 {
		return Result{}, Rejected(w.id, 0, strings.Join(errs, "; "))
	}

	header := idempotencyHeader(p)
	credentials := base64.StdEncoding.EncodeToString([]byte(w.username + ":" + w.appPassword))
	header.Set("Authorization", "Basic "+credentials)

	var created wordPressPost
	if err := doJSON(ctx, w.http, w.id, http.MethodPost, w.endpoint(), header, w.body(p), &created); err != nil {
		return Result{}, err
	}

	remoteID := fmt.Sprintf("%d", created.ID)
	url := strings.TrimSpace(created.Link)
	if url == "" {
		url = fmt.Sprintf("%s/?p=%d", w.baseURL, created.ID)
	}
	result := Result{URL: url, RemoteID: remoteID}
	if ts, err := time.Parse("2006-01-02T15:04:05", created.DateGMT); err == nil {
		result.PublishedAt = ts.UTC()
	}
	return result, nil
}

// Preview returns the request WordPress would receive.
func (w *WordPress) Preview(_ context.Context, p Payload) (Preview, error) {
	preview := Preview{
		Destination: w.id,
		Method:      http.MethodPost,
		Endpoint:    w.endpoint(),
		HTML:        p.HTML,
		Body:        w.body(p),
		Errors:      w.validate(p),
	}
	if utf8.RuneCountInString(p.Title) > 200 {
		preview.Warnings = append(preview.Warnings, "title is longer than 200 characters")
	}
	if p.Excerpt == "" {
		preview.Warnings = append(preview.Warnings, "excerpt is empty")
	}
	return preview, nil
}

func (w *WordPress) validate(p Payload) []string {
	errs := basicChecks(p)
	if w.baseURL == "" {
		errs = append(errs, "site url is not configured")
	}
	if w.username == "" || w.appPassword == "" {
		errs = append(errs, "application password credentials are not configured")
	}
	return errs
}
