package render

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Heading is an HTML heading found in a rendered document.
type Heading struct {
	Level int
	Text  string
}

// Paragraph is a block of body text and the number of links inside it.
type Paragraph struct {
	Text  string
	Links int
}

// Document summarises rendered HTML for content checks.
type Document struct {
	Headings    []Heading
	Links       []string
	Images      int
	ImagesNoAlt int
	Paragraphs  []Paragraph
	Text        string
}

// H1Count returns the number of level-1 headings.
func (d Document) H1Count() int {
	n := 0
	for _, h := range d.Headings {
		if h.Level == 1 {
			n++
		}
	}
	return n
}

// Inspect parses rendered HTML and collects headings, links, images and
// paragraphs. List items count as paragraphs unless they wrap <p> elements.
func Inspect(htmlStr string) (Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return Document{}, fmt.Errorf("parse html: %w", err)
	}

	var out Document
	doc.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, s *goquery.Selection) {
		level := int(goquery.NodeName(s)[1] - '0')
		out.Headings = append(out.Headings, Heading{Level: level, Text: strings.TrimSpace(s.Text())})
	})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok && strings.TrimSpace(href) != "" {
			out.Links = append(out.Links, href)
		}
	})
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		out.Images++
		if alt, ok := s.Attr("alt"); !ok || strings.TrimSpace(alt) == "" {
			out.ImagesNoAlt++
		}
	})
	doc.Find("p, li").Each(func(_ int, s *goquery.Selection) {
		if goquery.NodeName(s) == "li" && s.Find("p").Length() > 0 {
			return
		}
		if text := strings.TrimSpace(s.Text()); text != "" {
			out.Paragraphs = append(out.Paragraphs, Paragraph{Text: text, Links: s.Find("a[href]").Length()})
		}
	})
	out.Text = strings.TrimSpace(doc.Text())
	return out, nil
}

// PlainText renders markdown and returns its visible text.
func PlainText(markdown string) (string, error) {
	htmlStr, err := ToHTML(markdown)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlStr))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	return strings.Join(strings.Fields(doc.Text()), " "), nil
}
