package connector

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	maxGhostMetaDescription = 500
	maxGhostExcerpt         = 300
)

// Ghost publishes through the Ghost Admin API.
type Ghost struct {
	id       string
	baseURL  string
	adminKey string
	status   string
	http     HTTPDoer
}

// NewGhost creates a Ghost connector. baseURL is the admin API root, e.g.
// https://example.ghost.io/ghost/api/admin. status defaults to "published".
func NewGhost(id, baseURL, adminKey, status string, client HTTPDoer) *Ghost {
	if strings.TrimSpace(status) == "" {
		status = "published"
	}
	return &Ghost{
		id:       id,
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		adminKey: strings.TrimSpace(adminKey),
		status:   status,
		http:     client,
	}
}

type ghostPosts struct {
	Posts []ghostPost `json:"posts"`
}

type ghostPost struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	PublishedAt string `json:"published_at"`
}

func (g *Ghost) endpoint() string {
	return g.baseURL + "/posts/?source=html"
}

func (g *Ghost) body(p Payload) map[string]any {
	tags := make([]map[string]string, 0, len(p.Tags))
	for _, tag := range p.Tags {
		tags = append(tags, map[string]string{"name": tag})
	}
	excerpt := p.Excerpt
	if runes := []rune(excerpt); len(runes) > maxGhostExcerpt {
		excerpt = string(runes[:maxGhostExcerpt])
	}
	return map[string]any{
		"posts": []map[string]any{{
			"title":            p.Title,
			"slug":             p.Slug,
			"html":             p.HTML,
			"status":           g.status,
			"meta_description": p.MetaDescription,
			"custom_excerpt":   excerpt,
			"tags":             tags,
		}},
	}
}

// Publish creates the post remotely.
func (g *Ghost) Publish(ctx context.Context, p Payload) (Result, error) {
	if errs := g.validate(p); len(errs) > 0 {
		return Result{}, Rejected(g.id, 0, strings.Join(errs, "; "))
	}

	header := idempotencyHeader(p)
	header.Set("Authorization", "Ghost "+g.adminKey)

	var created ghostPosts
	if err := doJSON(ctx, g.http, g.id, http.MethodPost, g.endpoint(), header, g.body(p), &created); err != nil {
		return Result{}, err
	}
	if len(created.Posts) == 0 {
		return Result{}, Rejected(g.id, 0, "response contained no posts")
	}

	post := created.Posts[0]
	result := Result{URL: post.URL, RemoteID: post.ID}
	if ts, err := time.Parse(time.RFC3339, post.PublishedAt); err == nil {
		result.PublishedAt = ts.UTC()
	}
	return result, nil
}

// Preview returns the request Ghost would receive.
func (g *Ghost) Preview(_ context.Context, p Payload) (Preview, error) {
	preview := Preview{
		Destination: g.id,
		Method:      http.MethodPost,
		Endpoint:    g.endpoint(),
		HTML:        p.HTML,
		Body:        g.body(p),
		Errors:      g.validate(p),
	}
	if utf8.RuneCountInString(p.Excerpt) > maxGhostExcerpt {
		preview.Warnings = append(preview.Warnings, "excerpt is truncated to 300 characters")
	}
	return preview, nil
}

func (g *Ghost) validate(p Payload) []string {
	errs := basicChecks(p)
	if g.baseURL == "" {
		errs = append(errs, "admin api url is not configured")
	}
	if g.adminKey == "" {
		errs = append(errs, "admin api key is not configured")
	}
	if utf8.RuneCountInString(p.MetaDescription) > maxGhostMetaDescription {
		errs = append(errs, "meta description exceeds 500 characters")
	}
	return errs
}
