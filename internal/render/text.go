package render

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

var tagWordPattern = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)

var commonWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the and for are but not you all can had her was one our out day get has him his
	how man new now old see two way who boy did its let put say she too use with this that they have from word
	what said each which their time will would there could been call first find made may part over come know
	take than into just more other about many then them these some make like long down your also when where
	while were should because here very most such only even well`) {
		commonWords[w] = struct{}{}
	}
}

// ExtractTags picks tags for a post: the target keyword first, then the most
// frequent words longer than three letters that are not common English words.
// Ties keep first-occurrence order. At most limit tags are returned.
func ExtractTags(content, keyword string, limit int) []string {
	if limit <= 0 {
		limit = 10
	}

	freq := make(map[string]int)
	var order []string
	for _, word := range tagWordPattern.FindAllString(strings.ToLower(content), -1) {
		if len(word) <= 3 {
			continue
		}
		if _, common := commonWords[word]; common {
			continue
		}
		if freq[word] == 0 {
			order = append(order, word)
		}
		freq[word]++
	}
	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })

	var tags []string
	seen := make(map[string]bool)
	if kw := strings.ToLower(strings.TrimSpace(keyword)); kw != "" {
		tags = append(tags, kw)
		seen[kw] = true
	}
	for _, word := range order {
		if len(tags) >= limit {
			break
		}
		if seen[word] {
			continue
		}
		seen[word] = true
		tags = append(tags, word)
	}
	if len(tags) > limit {
		tags = tags[:limit]
	}
	return tags
}

// Excerpt returns meta when set, otherwise the leading words of text cut at
// a word boundary to at most maxRunes runes.
func Excerpt(meta, text string, maxRunes int) string {
	if meta = strings.TrimSpace(meta); meta != "" {
		return meta
	}
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if maxRunes <= 0 || len(runes) <= maxRunes {
		return text
	}
	cut := maxRunes
	for cut > 0 && !unicode.IsSpace(runes[cut]) {
		cut--
	}
	if cut == 0 {
		cut = maxRunes
	}
	return strings.TrimSpace(string(runes[:cut])) + "…"
}
