package db

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// CheckType 是质量检查的类型。
type CheckType string

const (
	CheckTypeSEO         CheckType = "seo"
	CheckTypeReadability CheckType = "readability"
	CheckTypeFactCheck   CheckType = "fact_check"
	CheckTypeGrammar     CheckType = "grammar"
	CheckTypeTone        CheckType = "tone"
)

// CheckStatus 是单项检查的结果。
type CheckStatus string

const (
	CheckStatusPass    CheckStatus = "pass"
	CheckStatusWarning CheckStatus = "warning"
	CheckStatusFail    CheckStatus = "fail"
	CheckStatusPending CheckStatus = "pending"
)

// QAIssue 描述检查发现的单个问题。
type QAIssue struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Location string `json:"location,omitempty"`
}

// QACheckResult 保存某个版本的一项检查结果；新的评估会整体替换旧结果。
type QACheckResult struct {
	ID          uint           `gorm:"primaryKey"`
	PostID      uint           `gorm:"not null;index"`
	VersionID   uint           `gorm:"not null;index"`
	CheckType   CheckType      `gorm:"size:32;not null"`
	Status      CheckStatus    `gorm:"size:16;not null"`
	Score       float64        `gorm:"not null;default:0"`
	Issues      datatypes.JSON `gorm:"type:text"`
	EvaluatedAt time.Time
	CreatedAt   time.Time
}

// TableName 指定自定义表名。
func (QACheckResult) TableName() string {
	return "qa_check_results"
}

// QARun 记录某个版本已完成一次评估，即使检查集合为空也会写入。
// Checks 为逗号分隔的检查类型。
type QARun struct {
	ID          uint      `gorm:"primaryKey"`
	PostID      uint      `gorm:"not null;index"`
	VersionID   uint      `gorm:"not null;index"`
	Checks      string    `gorm:"size:255"`
	EvaluatedAt time.Time `gorm:"not null"`
	CreatedAt   time.Time
}

// TableName 指定自定义表名。
func (QARun) TableName() string {
	return "qa_runs"
}

// IssueList 解析存储的问题列表。
func (r QACheckResult) IssueList() []QAIssue {
	if len(r.Issues) == 0 {
		return nil
	}
	var issues []QAIssue
	if err := json.Unmarshal(r.Issues, &issues); err != nil {
		return nil
	}
	return issues
}

// EncodeIssues 序列化问题列表以便存储。
func EncodeIssues(issues []QAIssue) datatypes.JSON {
	if len(issues) == 0 {
		return datatypes.JSON("[]")
	}
	raw, err := json.Marshal(issues)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}
