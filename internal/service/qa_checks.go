package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/postpipe/internal/db"
)

// BuiltinCheckers returns the local checkers for every check type.
func BuiltinCheckers() []Checker {
	return []Checker{seoChecker{}, readabilityChecker{}, grammarChecker{}, toneChecker{}, factChecker{}}
}

type checkFunc struct {
	score  float64
	issues []db.QAIssue
}

func newCheck() *checkFunc { return &checkFunc{score: 100} }

func (c *checkFunc) deduct(points float64, severity, message, location string) {
	c.score -= points
	c.issues = append(c.issues, db.QAIssue{Severity: severity, Message: message, Location: location})
}

func (c *checkFunc) note(message string) {
	c.issues = append(c.issues, db.QAIssue{Severity: "info", Message: message})
}

func (c *checkFunc) outcome() CheckOutcome {
	return CheckOutcome{Score: c.score, Issues: c.issues}
}

// seoChecker averages title, meta description, slug and heading scores.
type seoChecker struct{}

func (seoChecker) Type() db.CheckType { return db.CheckTypeSEO }

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

func (seoChecker) Check(_ context.Context, in CheckInput) (CheckOutcome, error) {
	keyword := strings.ToLower(strings.TrimSpace(in.Post.TargetKeyword))
	v := in.Version

	title := newCheck()
	titleLen := utf8.RuneCountInString(v.Title)
	switch {
	case titleLen < 30:
		title.deduct(20, "warning", fmt.Sprintf("title too short (%d chars), aim for 30-60", titleLen), "title")
	case titleLen > 60:
		title.deduct(15, "warning", fmt.Sprintf("title too long (%d chars), aim for 30-60", titleLen), "title")
	}
	if keyword != "" && !strings.Contains(strings.ToLower(v.Title), keyword) {
		title.deduct(25, "error", fmt.Sprintf("target keyword %q not found in title", keyword), "title")
	}

	meta := newCheck()
	metaLen := utf8.RuneCountInString(v.MetaDescription)
	switch {
	case metaLen == 0:
		meta.deduct(100, "error", "meta description is missing", "meta_description")
	case metaLen < 120:
		meta.deduct(20, "warning", fmt.Sprintf("meta description too short (%d chars), aim for 120-160", metaLen), "meta_description")
	case metaLen > 160:
		meta.deduct(15, "warning", fmt.Sprintf("meta description too long (%d chars), aim for 120-160", metaLen), "meta_description")
	}
	if metaLen > 0 && keyword != "" && !strings.Contains(strings.ToLower(v.MetaDescription), keyword) {
		meta.deduct(25, "error", fmt.Sprintf("target keyword %q not found in meta description", keyword), "meta_description")
	}

	slug := newCheck()
	if len(v.Slug) > 60 {
		slug.deduct(20, "warning", fmt.Sprintf("slug too long (%d chars), keep under 60", len(v.Slug)), "slug")
	}
	if keyword != "" && !strings.Contains(v.Slug, db.Slugify(keyword)) {
		slug.deduct(30, "warning", "target keyword not found in slug, consider "+db.Slugify(keyword), "slug")
	}
	if !slugPattern.MatchString(v.Slug) {
		slug.deduct(15, "warning", "slug should only contain lowercase letters, numbers and hyphens", "slug")
	}
	if strings.Count(v.Slug, "-") > 5 {
		slug.deduct(10, "info", "too many hyphens in slug", "slug")
	}

	headings := newCheck()
	h1, h2, h3 := 0, 0, 0
	for _, h := range in.Doc.Headings {
		switch h.Level {
		case 1:
			h1++
		case 2:
			h2++
		case 3:
			h3++
		}
	}
	switch {
	case h1 == 0:
		headings.deduct(30, "warning", "no H1 heading found", "content")
	case h1 > 1:
		headings.deduct(20, "warning", fmt.Sprintf("multiple H1 headings found (%d)", h1), "content")
	}
	if h2 == 0 {
		headings.deduct(15, "warning", "no H2 headings found, add subheadings", "content")
		if h3 > 0 {
			headings.deduct(10, "info", "H3 headings found without H2 headings", "content")
		}
	}
	if len(in.Doc.Headings) < 3 {
		headings.note("consider adding more headings to structure the content")
	}
	if in.Doc.ImagesNoAlt > 0 {
		headings.note(fmt.Sprintf("%d image(s) without alt text", in.Doc.ImagesNoAlt))
	}

	parts := []*checkFunc{title, meta, slug, headings}
	var total float64
	var issues []db.QAIssue
	for _, p := range parts {
		if p.score < 0 {
			p.score = 0
		}
		total += p.score
		issues = append(issues, p.issues...)
	}
	return CheckOutcome{Score: total / float64(len(parts)), Issues: issues}, nil
}

// readabilityChecker scores Flesch reading ease, grade level and sentence length.
type readabilityChecker struct{}

func (readabilityChecker) Type() db.CheckType { return db.CheckTypeReadability }

func (readabilityChecker) Check(_ context.Context, in CheckInput) (CheckOutcome, error) {
	c := newCheck()
	text := in.Doc.Text
	words := strings.Fields(text)
	if len(words) == 0 {
		c.deduct(100, "error", "content is empty", "content")
		return c.outcome(), nil
	}

	sentences := countSentences(text)
	syllables := 0
	for _, w := range words {
		syllables += countSyllables(w)
	}
	wordsPerSentence := float64(len(words)) / float64(sentences)
	syllablesPerWord := float64(syllables) / float64(len(words))
	flesch := 206.835 - 1.015*wordsPerSentence - 84.6*syllablesPerWord
	grade := 0.39*wordsPerSentence + 11.8*syllablesPerWord - 15.59

	if flesch < 60 {
		c.deduct(20, "warning", fmt.Sprintf("content is complex (Flesch %.1f), aim for 60+", flesch), "content")
	}
	if grade > 8 {
		c.deduct(15, "warning", fmt.Sprintf("grade level %.1f, aim for 8 or lower", grade), "content")
	}
	if wordsPerSentence > 20 {
		c.deduct(10, "info", fmt.Sprintf("average sentence length is %.1f words, aim for 15-20", wordsPerSentence), "content")
	}
	long := 0
	for _, p := range in.Doc.Paragraphs {
		if len(strings.Fields(p.Text)) > 150 {
			long++
		}
	}
	if long > 0 {
		c.note(fmt.Sprintf("%d long paragraph(s), break them up", long))
	}
	return c.outcome(), nil
}

func countSentences(text string) int {
	n := 0
	prevTerminal := false
	for _, r := range text {
		terminal := r == '.' || r == '!' || r == '?'
		if terminal && !prevTerminal {
			n++
		}
		prevTerminal = terminal
	}
	if n == 0 {
		n = 1
	}
	return n
}

// countSyllables approximates English syllables by vowel groups.
func countSyllables(word string) int {
	word = strings.ToLower(strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) }))
	if word == "" {
		return 0
	}
	count := 0
	prevVowel := false
	for _, r := range word {
		vowel := strings.ContainsRune("aeiouy", r)
		if vowel && !prevVowel {
			count++
		}
		prevVowel = vowel
	}
	if strings.HasSuffix(word, "e") && count > 1 && !strings.HasSuffix(word, "le") {
		count--
	}
	if count == 0 {
		count = 1
	}
	return count
}

// grammarChecker flags mechanical mistakes.
type grammarChecker struct{}

func (grammarChecker) Type() db.CheckType { return db.CheckTypeGrammar }

var (
	sentenceStart    = regexp.MustCompile(`[.!?]\s+([a-z])`)
	spaceBeforePunct = regexp.MustCompile(`\w\s+[,.;:!?](\s|$)`)
)

func (grammarChecker) Check(_ context.Context, in CheckInput) (CheckOutcome, error) {
	c := newCheck()
	for _, para := range in.Doc.Paragraphs {
		p := para.Text
		if word := repeatedWord(p); word != "" {
			c.deduct(5, "warning", fmt.Sprintf("repeated word %q", word), excerptOf(p))
		}
		if m := sentenceStart.FindStringSubmatchIndex(p); m != nil {
			c.deduct(5, "warning", "sentence starts with a lowercase letter", excerptOf(p[m[0]:]))
		}
		if spaceBeforePunct.MatchString(p) {
			c.deduct(3, "info", "space before punctuation", excerptOf(p))
		}
		if strings.Contains(p, "  ") {
			c.deduct(2, "info", "double space", excerptOf(p))
		}
	}
	return c.outcome(), nil
}

func repeatedWord(text string) string {
	fields := strings.Fields(text)
	for i := 1; i < len(fields); i++ {
		a := strings.ToLower(strings.Trim(fields[i-1], ",.;:!?\"'()"))
		b := strings.ToLower(strings.Trim(fields[i], ",.;:!?\"'()"))
		if a != "" && a == b && !strings.ContainsAny(fields[i-1], ",.;:!?") {
			return a
		}
	}
	return ""
}

// toneChecker flags shouting, exclamation overuse and hedging.
type toneChecker struct{}

func (toneChecker) Type() db.CheckType { return db.CheckTypeTone }

var hedgeWords = []string{"maybe", "perhaps", "kind of", "sort of", "i think", "i guess", "probably", "basically"}

func (toneChecker) Check(_ context.Context, in CheckInput) (CheckOutcome, error) {
	c := newCheck()
	text := in.Doc.Text
	words := strings.Fields(text)
	if len(words) == 0 {
		return c.outcome(), nil
	}

	if n := strings.Count(text, "!"); n > 3 {
		c.deduct(float64(min(30, 5*(n-3))), "warning", fmt.Sprintf("%d exclamation marks", n), "content")
	}

	shouting := 0
	for _, w := range words {
		w = strings.Trim(w, ",.;:!?\"'()")
		if utf8.RuneCountInString(w) >= 4 && strings.ToUpper(w) == w && strings.ToLower(w) != w {
			shouting++
		}
	}
	if shouting > 2 {
		c.deduct(float64(min(30, 5*shouting)), "warning", fmt.Sprintf("%d all-caps words read as shouting", shouting), "content")
	}

	lower := strings.ToLower(text)
	hedges := 0
	for _, h := range hedgeWords {
		hedges += strings.Count(lower, h)
	}
	if per1000 := float64(hedges) * 1000 / float64(len(words)); per1000 > 10 {
		c.deduct(15, "info", fmt.Sprintf("%d hedging phrases, state claims directly", hedges), "content")
	}
	return c.outcome(), nil
}

// factChecker warns about numeric claims that have no nearby link.
type factChecker struct{}

func (factChecker) Type() db.CheckType { return db.CheckTypeFactCheck }

var claimPattern = regexp.MustCompile(`\b\d+(\.\d+)?\s?(%|percent\b|x\b|times\b|million\b|billion\b)|\b(studies|research|survey|according to)\b`)

func (factChecker) Check(_ context.Context, in CheckInput) (CheckOutcome, error) {
	c := newCheck()
	for _, p := range in.Doc.Paragraphs {
		if p.Links > 0 || !claimPattern.MatchString(strings.ToLower(p.Text)) {
			continue
		}
		c.deduct(10, "warning", "claim without a cited source", excerptOf(p.Text))
	}
	return c.outcome(), nil
}

func excerptOf(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if runes := []rune(s); len(runes) > 60 {
		return string(runes[:60]) + "…"
	}
	return s
}
