package db

import (
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/blake2b"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ChangeType 标记版本产生的原因。
type ChangeType string

const (
	ChangeTypeMajor     ChangeType = "major"
	ChangeTypeMinor     ChangeType = "minor"
	ChangeTypeDraft     ChangeType = "draft"
	ChangeTypePublished ChangeType = "published"
)

// Valid 判断是否为已知的变更类型。
func (c ChangeType) Valid() bool {
	switch c {
	case ChangeTypeMajor, ChangeTypeMinor, ChangeTypeDraft, ChangeTypePublished:
		return true
	}
	return false
}

// OutlineSection 是大纲中的一个章节。
type OutlineSection struct {
	Level   int      `json:"level"`
	Heading string   `json:"heading"`
	Points  []string `json:"points,omitempty"`
}

// Version 记录文章内容的不可变快照。
type Version struct {
	gorm.Model
	PostID          uint           `gorm:"not null;uniqueIndex:idx_versions_post_number"`
	VersionNumber   int            `gorm:"not null;uniqueIndex:idx_versions_post_number"`
	Title           string         `gorm:"size:255"`
	Content         string         `gorm:"type:text"`
	MetaDescription string         `gorm:"type:text"`
	Slug            string         `gorm:"size:255"`
	Outline         datatypes.JSON `gorm:"type:text"`
	AuthorID        string         `gorm:"size:128"`
	ChangeSummary   string         `gorm:"type:text"`
	ChangeType      ChangeType     `gorm:"size:20;not null"`
	WordCount       int            `gorm:"not null;default:0"`
	ContentHash     string         `gorm:"size:64"`
	IsCurrent       bool           `gorm:"not null;default:false;index"`
}

// TableName 指定自定义表名。
func (Version) TableName() string {
	return "versions"
}

// OutlineSections 解析存储的大纲，数据损坏时返回 nil。
func (v *Version) OutlineSections() []OutlineSection {
	if v == nil || len(v.Outline) == 0 {
		return nil
	}
	var sections []OutlineSection
	if err := json.Unmarshal(v.Outline, &sections); err != nil {
		return nil
	}
	return sections
}

// HasOutline 判断大纲中是否存在 level >= 1 的章节。
func (v *Version) HasOutline() bool {
	for _, section := range v.OutlineSections() {
		if section.Level >= 1 {
			return true
		}
	}
	return false
}

// EncodeOutline 序列化大纲以便存储。
func EncodeOutline(sections []OutlineSection) (datatypes.JSON, error) {
	if len(sections) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(sections)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// ComputeContentHash 计算内容字段的 BLAKE2b-256 摘要。
func ComputeContentHash(title, content, metaDescription string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(content))
	h.Write([]byte{0})
	h.Write([]byte(metaDescription))
	return hex.EncodeToString(h.Sum(nil))
}
