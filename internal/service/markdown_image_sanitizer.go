package service

import (
	"fmt"
	"regexp"
	"strings"
)

var markdownImagePattern = regexp.MustCompile(`!\[[^\]]*]\((<[^>]+>|[^)\s]+)([^)]*)\)`)

// imagePlaceholders maps short image:// tokens back to the original URLs so
// long asset links do not eat into the prompt.
type imagePlaceholders struct {
	originals map[string]string
}

// compressImageURLs replaces Markdown image URLs with image://asset-N tokens.
func compressImageURLs(input string) (string, *imagePlaceholders) {
	p := &imagePlaceholders{}
	if !markdownImagePattern.MatchString(input) {
		return input, p
	}

	p.originals = make(map[string]string)
	index := 1
	result := markdownImagePattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := markdownImagePattern.FindStringSubmatch(match)
		if len(groups) < 3 {
			return match
		}
		original := strings.TrimSuffix(strings.TrimPrefix(groups[1], "<"), ">")
		token := fmt.Sprintf("image://asset-%d", index)
		index++
		p.originals[token] = original
		return strings.Replace(match, groups[1], token, 1)
	})
	return result, p
}

// Count returns how many image URLs were replaced.
func (p *imagePlaceholders) Count() int {
	if p == nil {
		return 0
	}
	return len(p.originals)
}

// Restore puts the original URLs back. Models sometimes wrap the token in
// angle brackets, so both spellings are replaced.
func (p *imagePlaceholders) Restore(input string) string {
	if p.Count() == 0 {
		return input
	}
	output := input
	// longer tokens first so asset-1 never clobbers asset-10
	for i := len(p.originals); i >= 1; i-- {
		token := fmt.Sprintf("image://asset-%d", i)
		original, ok := p.originals[token]
		if !ok {
			continue
		}
		output = strings.ReplaceAll(output, "<"+token+">", original)
		output = strings.ReplaceAll(output, token, original)
	}
	return output
}
