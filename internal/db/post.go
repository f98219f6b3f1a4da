package db

import (
	"strings"
	"time"
	"unicode"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PostStatus 表示文章在生命周期中的状态。
type PostStatus string

const (
	PostStatusDraft     PostStatus = "draft"
	PostStatusOutline   PostStatus = "outline"
	PostStatusWriting   PostStatus = "writing"
	PostStatusReview    PostStatus = "review"
	PostStatusPublished PostStatus = "published"
	PostStatusArchived  PostStatus = "archived"
)

// PostStatuses 按生命周期顺序列出所有状态。
var PostStatuses = []PostStatus{
	PostStatusDraft,
	PostStatusOutline,
	PostStatusWriting,
	PostStatusReview,
	PostStatusPublished,
	PostStatusArchived,
}

// Valid 判断是否为已知状态。
func (s PostStatus) Valid() bool {
	for _, known := range PostStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Post 定义了文章模型。Title、Slug、WordCount 始终与当前版本保持一致。
type Post struct {
	gorm.Model
	OrgID           string     `gorm:"size:64;not null;default:'';uniqueIndex:idx_posts_org_slug"`
	ProjectID       string     `gorm:"size:64;index"`
	SiteID          string     `gorm:"size:64;index"`
	Title           string     `gorm:"size:255;not null"`
	Slug            string     `gorm:"size:255;not null;uniqueIndex:idx_posts_org_slug"`
	Status          PostStatus `gorm:"size:20;not null;default:'draft';index"`
	TargetKeyword   string     `gorm:"size:255"`
	WordCount       int        `gorm:"not null;default:0"`
	AuthorID        string     `gorm:"size:128;index"`
	Settings        datatypes.JSONMap
	LastPublishedAt *time.Time

	SEOScore *float64 `gorm:"-"`
}

// Slugify 将标题转换为 URL 友好的 slug，仅保留小写字母、数字与连字符。
func Slugify(title string) string {
	var builder strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			builder.WriteRune(r)
			lastHyphen = false
		case !lastHyphen:
			builder.WriteByte('-')
			lastHyphen = true
		}
	}
	slug := strings.Trim(builder.String(), "-")
	if slug == "" {
		return "untitled"
	}
	if runes := []rune(slug); len(runes) > 80 {
		slug = strings.Trim(string(runes[:80]), "-")
	}
	return slug
}

// CountWords 统计以空白分隔的词数。换行只是普通分隔符，
// 这样按行累加的词数与整体词数一致，差异统计依赖这一点。
func CountWords(content string) int {
	return len(strings.Fields(content))
}
