package render

import (
	"bytes"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
)

var (
	markdownEngine = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify, extension.Table),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	sanitizer = newSanitizer()
)

func newSanitizer() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowImages()
	// heading ids come from WithAutoHeadingID and are kept for anchors
	policy.AllowAttrs("id").OnElements("h1", "h2", "h3", "h4", "h5", "h6")
	policy.RequireNoReferrerOnLinks(true)
	return policy
}

// ToHTML converts markdown into sanitised HTML.
func ToHTML(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := markdownEngine.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return string(sanitizer.SanitizeBytes(buf.Bytes())), nil
}

// Renderer caches rendered HTML by content key. Versions are immutable, so a
// content hash is a safe key and entries never need invalidation.
type Renderer struct {
	cache *lru.Cache[string, string]
}

// NewRenderer creates a Renderer holding up to size entries.
func NewRenderer(size int) (*Renderer, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("create render cache: %w", err)
	}
	return &Renderer{cache: cache}, nil
}

// HTML renders markdown, reusing the cached result for key when present.
// An empty key bypasses the cache.
func (r *Renderer) HTML(key, markdown string) (string, error) {
	if r == nil || key == "" {
		return ToHTML(markdown)
	}
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}
	out, err := ToHTML(markdown)
	if err != nil {
		return "", err
	}
	r.cache.Add(key, out)
	return out, nil
}

// Len reports the number of cached entries.
func (r *Renderer) Len() int {
	if r == nil {
		return 0
	}
	return r.cache.Len()
}
