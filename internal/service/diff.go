package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/postpipe/internal/db"
	"github.com/postpipe/internal/render"
)

// DiffDirection tells whether the caller asked for older -> newer.
type DiffDirection string

const (
	DiffForward  DiffDirection = "forward"
	DiffBackward DiffDirection = "backward"
)

// DiffLine is one line of a field diff. Kind is "=", "+" or "-".
type DiffLine struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// FieldDiff is the line diff of one text field, source -> target.
type FieldDiff struct {
	Changed bool       `json:"changed"`
	Lines   []DiffLine `json:"lines"`
}

// VersionDiff compares two versions of a post. Source and target follow the
// caller's argument order; Base and Head are the older and newer version.
type VersionDiff struct {
	PostID          uint          `json:"post_id"`
	SourceVersionID uint          `json:"source_version_id"`
	TargetVersionID uint          `json:"target_version_id"`
	SourceNumber    int           `json:"source_version_number"`
	TargetNumber    int           `json:"target_version_number"`
	BaseVersionID   uint          `json:"base_version_id"`
	HeadVersionID   uint          `json:"head_version_id"`
	Direction       DiffDirection `json:"direction"`

	Title           FieldDiff `json:"title"`
	Content         FieldDiff `json:"content"`
	MetaDescription FieldDiff `json:"meta_description"`

	// WordsAdded - WordsRemoved equals target.WordCount - source.WordCount.
	WordsAdded      int      `json:"words_added"`
	WordsRemoved    int      `json:"words_removed"`
	ChangedSections []string `json:"changed_sections"`
	Unified         string   `json:"unified"`
}

// Diff compares versions a and b of a post. Either order is accepted; the
// older version is taken as the base and Direction records the request.
func (s *VersionService) Diff(ctx context.Context, postID, a, b uint) (*VersionDiff, error) {
	if a == b {
		return nil, ErrInvalidDiffRange
	}
	gdb := s.db.WithContext(ctx)
	if _, err := loadPostTx(gdb, postID); err != nil {
		return nil, err
	}
	source, err := versionOfPostTx(gdb, postID, a)
	if err != nil {
		return nil, err
	}
	target, err := versionOfPostTx(gdb, postID, b)
	if err != nil {
		return nil, err
	}
	return DiffVersions(source, target)
}

// DiffVersions is the pure diff of two loaded versions.
func DiffVersions(source, target *db.Version) (*VersionDiff, error) {
	if source.PostID != target.PostID || source.VersionNumber == target.VersionNumber {
		return nil, ErrInvalidDiffRange
	}

	base, head, direction := source, target, DiffForward
	if source.VersionNumber > target.VersionNumber {
		base, head, direction = target, source, DiffBackward
	}

	out := &VersionDiff{
		PostID:          source.PostID,
		SourceVersionID: source.ID,
		TargetVersionID: target.ID,
		SourceNumber:    source.VersionNumber,
		TargetNumber:    target.VersionNumber,
		BaseVersionID:   base.ID,
		HeadVersionID:   head.ID,
		Direction:       direction,
	}

	inverted := direction == DiffBackward
	out.Title, _, _ = fieldDiff(base.Title, head.Title, inverted)
	out.MetaDescription, _, _ = fieldDiff(base.MetaDescription, head.MetaDescription, inverted)
	out.Content, out.WordsAdded, out.WordsRemoved = fieldDiff(base.Content, head.Content, inverted)
	out.ChangedSections = render.ChangedSections(source.Content, target.Content)

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(source.Content),
		B:        difflib.SplitLines(target.Content),
		FromFile: fmt.Sprintf("version %d", source.VersionNumber),
		ToFile:   fmt.Sprintf("version %d", target.VersionNumber),
		Context:  3,
	})
	if err != nil {
		return nil, fmt.Errorf("unified diff: %w", err)
	}
	out.Unified = unified
	return out, nil
}

// fieldDiff diffs base -> head line by line. When inverted the result reads
// head -> base. It also returns the words on added and removed lines.
func fieldDiff(base, head string, inverted bool) (FieldDiff, int, int) {
	a := strings.Split(base, "\n")
	b := strings.Split(head, "\n")
	matcher := difflib.NewMatcher(a, b)

	var fd FieldDiff
	added, removed := 0, 0
	emit := func(kind string, lines []string) {
		for _, line := range lines {
			fd.Lines = append(fd.Lines, DiffLine{Kind: kind, Text: line})
			switch kind {
			case "+":
				added += db.CountWords(line)
			case "-":
				removed += db.CountWords(line)
			}
		}
	}

	del, ins := "-", "+"
	if inverted {
		del, ins = "+", "-"
	}
	for _, op := range matcher.GetOpCodes() {
		oldLines, newLines := a[op.I1:op.I2], b[op.J1:op.J2]
		switch op.Tag {
		case 'e':
			emit("=", oldLines)
		case 'd':
			emit(del, oldLines)
		case 'i':
			emit(ins, newLines)
		case 'r':
			if inverted {
				emit(ins, newLines)
				emit(del, oldLines)
			} else {
				emit(del, oldLines)
				emit(ins, newLines)
			}
		}
		if op.Tag != 'e' {
			fd.Changed = true
		}
	}
	return fd, added, removed
}
