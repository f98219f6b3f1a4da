package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// PreambleSection names the text that precedes the first top-level heading.
const PreambleSection = "(preamble)"

// Section is a top-level block of a markdown document: a heading of the
// shallowest level used in the document plus everything up to the next one.
type Section struct {
	Level   int
	Heading string
	Body    string
}

// Sections splits markdown into its top-level sections using goldmark's AST,
// so "#" inside code fences or block quotes is never mistaken for a heading.
func Sections(markdown string) []Section {
	src := []byte(markdown)
	doc := markdownEngine.Parser().Parse(text.NewReader(src))

	type boundary struct {
		level   int
		heading string
		start   int
	}
	var headings []boundary
	minLevel := 0
	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		heading, ok := node.(*ast.Heading)
		if !ok || heading.Lines().Len() == 0 {
			continue
		}
		start := lineStart(src, heading.Lines().At(0).Start)
		headings = append(headings, boundary{level: heading.Level, heading: nodeText(heading, src), start: start})
		if minLevel == 0 || heading.Level < minLevel {
			minLevel = heading.Level
		}
	}

	var sections []Section
	firstStart := len(src)
	var top []boundary
	for _, h := range headings {
		if h.level == minLevel {
			top = append(top, h)
		}
	}
	if len(top) > 0 {
		firstStart = top[0].start
	}
	if preamble := strings.TrimSpace(string(src[:firstStart])); preamble != "" {
		sections = append(sections, Section{Heading: PreambleSection, Body: preamble})
	}
	for i, h := range top {
		end := len(src)
		if i+1 < len(top) {
			end = top[i+1].start
		}
		sections = append(sections, Section{
			Level:   h.level,
			Heading: h.heading,
			Body:    strings.TrimSpace(string(src[h.start:end])),
		})
	}
	return sections
}

// ChangedSections lists the top-level sections that differ between two
// documents: edited, added or removed. Order follows the target document,
// then sections only present in the source.
func ChangedSections(source, target string) []string {
	before := keyed(Sections(source))
	after := keyed(Sections(target))

	var changed []string
	seen := make(map[string]bool)
	for _, s := range after.order {
		seen[s] = true
		if prev, ok := before.body[s]; !ok || prev != after.body[s] {
			changed = append(changed, s)
		}
	}
	for _, s := range before.order {
		if !seen[s] {
			changed = append(changed, s)
		}
	}
	return changed
}

type keyedSections struct {
	order []string
	body  map[string]string
}

// keyed indexes sections by heading; repeated headings get a "(n)" suffix.
func keyed(sections []Section) keyedSections {
	out := keyedSections{body: make(map[string]string, len(sections))}
	counts := make(map[string]int)
	for _, s := range sections {
		name := s.Heading
		counts[name]++
		if counts[name] > 1 {
			name = fmt.Sprintf("%s (%d)", name, counts[name])
		}
		out.order = append(out.order, name)
		out.body[name] = s.Body
	}
	return out
}

func nodeText(n ast.Node, src []byte) string {
	var buf bytes.Buffer
	var walk func(ast.Node)
	walk = func(node ast.Node) {
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			switch t := c.(type) {
			case *ast.Text:
				buf.Write(t.Segment.Value(src))
				if t.SoftLineBreak() {
					buf.WriteByte(' ')
				}
			case *ast.String:
				buf.Write(t.Value)
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return strings.TrimSpace(buf.String())
}

func lineStart(src []byte, pos int) int {
	if pos > len(src) {
		pos = len(src)
	}
	idx := bytes.LastIndexByte(src[:pos], '\n')
	return idx + 1
}
