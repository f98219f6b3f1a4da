package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToHTMLSanitises(t *testing.T) {
	out, err := ToHTML("# Title\n\nHello <script>alert(1)</script> **world**")
	require.NoError(t, err)
	assert.Contains(t, out, `<h1 id="title">Title</h1>`)
	assert.Contains(t, out, "<strong>world</strong>")
	assert.NotContains(t, out, "<script>")
}

func TestRendererCachesByKey(t *testing.T) {
	r, err := NewRenderer(4)
	require.NoError(t, err)

	first, err := r.HTML("hash-1", "# One")
	require.NoError(t, err)
	again, err := r.HTML("hash-1", "# Two")
	require.NoError(t, err)
	assert.Equal(t, first, again, "same key must be served from cache")
	assert.Equal(t, 1, r.Len())

	uncached, err := r.HTML("", "# Two")
	require.NoError(t, err)
	assert.Contains(t, uncached, "Two")
	assert.Equal(t, 1, r.Len())
}

const sectionDoc = `Intro paragraph.

# Setup

Install things.

` + "```sh\n# not a heading\n```" + `

## Details

More.

# Usage

Run it.
`

func TestSectionsUsesTopLevelHeadings(t *testing.T) {
	sections := Sections(sectionDoc)
	require.Len(t, sections, 3)
	assert.Equal(t, PreambleSection, sections[0].Heading)
	assert.Equal(t, "Setup", sections[1].Heading)
	assert.Equal(t, 1, sections[1].Level)
	assert.Contains(t, sections[1].Body, "## Details")
	assert.Contains(t, sections[1].Body, "# not a heading")
	assert.Equal(t, "Usage", sections[2].Heading)
}

func TestSectionsFallsBackToShallowestLevel(t *testing.T) {
	sections := Sections("## A\n\ntext\n\n### A.1\n\n## B\n\nmore\n")
	require.Len(t, sections, 2)
	assert.Equal(t, []string{"A", "B"}, []string{sections[0].Heading, sections[1].Heading})
}

func TestChangedSections(t *testing.T) {
	edited := strings.Replace(sectionDoc, "Run it.", "Run it twice.", 1)
	assert.Equal(t, []string{"Usage"}, ChangedSections(sectionDoc, edited))

	added := sectionDoc + "\n# FAQ\n\nQuestions.\n"
	assert.Equal(t, []string{"FAQ"}, ChangedSections(sectionDoc, added))
	assert.Equal(t, []string{"FAQ"}, ChangedSections(added, sectionDoc))

	assert.Empty(t, ChangedSections(sectionDoc, sectionDoc))
}

func TestChangedSectionsDisambiguatesRepeatedHeadings(t *testing.T) {
	before := "# Step\n\none\n\n# Step\n\ntwo\n"
	after := "# Step\n\none\n\n# Step\n\nthree\n"
	assert.Equal(t, []string{"Step (2)"}, ChangedSections(before, after))
}

func TestInspect(t *testing.T) {
	htmlStr, err := ToHTML("# Guide\n\nSee [docs](https://example.com/docs).\n\n![](https://example.com/a.png)\n\n## Part\n\n- item one\n")
	require.NoError(t, err)

	doc, err := Inspect(htmlStr)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.H1Count())
	require.Len(t, doc.Headings, 2)
	assert.Equal(t, Heading{Level: 2, Text: "Part"}, doc.Headings[1])
	assert.Equal(t, []string{"https://example.com/docs"}, doc.Links)
	assert.Equal(t, 1, doc.Images)
	assert.Equal(t, 1, doc.ImagesNoAlt)
	assert.Contains(t, doc.Paragraphs, Paragraph{Text: "item one"})
	assert.Contains(t, doc.Paragraphs, Paragraph{Text: "See docs.", Links: 1})
}

func TestPlainText(t *testing.T) {
	text, err := PlainText("# Hi\n\nSome *emphasis* here.")
	require.NoError(t, err)
	assert.Equal(t, "Hi Some emphasis here.", text)
}

func TestExtractTags(t *testing.T) {
	content := "Kubernetes clusters. Kubernetes operators manage clusters. Kubernetes is great and the operators help."
	tags := ExtractTags(content, "Cloud Native", 3)
	assert.Equal(t, []string{"cloud native", "kubernetes", "clusters"}, tags)

	assert.Empty(t, ExtractTags("the and for", "", 5))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "meta wins", Excerpt("  meta wins ", "body", 10))
	assert.Equal(t, "short body", Excerpt("", "short\n body", 20))
	assert.Equal(t, "alpha beta…", Excerpt("", "alpha beta gamma", 12))
}
