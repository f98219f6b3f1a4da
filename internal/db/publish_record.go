package db

import "time"

// PublishStatus 是发布记录的状态。
type PublishStatus string

const (
	PublishStatusPending    PublishStatus = "pending"
	PublishStatusPublishing PublishStatus = "publishing"
	PublishStatusPublished  PublishStatus = "published"
	PublishStatusFailed     PublishStatus = "failed"
	PublishStatusCancelled  PublishStatus = "cancelled"
)

// Active 表示该状态会阻止同一目标平台上的其他发布。
func (s PublishStatus) Active() bool {
	return s == PublishStatusPending || s == PublishStatusPublishing
}

// Terminal 表示除非显式重试，否则不会再发生状态变化。
func (s PublishStatus) Terminal() bool {
	return s == PublishStatusPublished || s == PublishStatusFailed || s == PublishStatusCancelled
}

// PublishRecord 记录一次向某个目标平台投递某个版本的结果。
type PublishRecord struct {
	ID             uint          `gorm:"primaryKey"`
	IdempotencyKey string        `gorm:"size:36;uniqueIndex;not null"`
	PostID         uint          `gorm:"not null;index:idx_publish_records_post_dest"`
	VersionID      uint          `gorm:"not null;index"`
	DestinationID  string        `gorm:"size:64;not null;index:idx_publish_records_post_dest"`
	Status         PublishStatus `gorm:"size:16;not null;index"`
	PublishedURL   string        `gorm:"size:1024"`
	RemoteID       string        `gorm:"size:255"`
	ErrorMessage   string        `gorm:"type:text"`
	ScheduledAt    *time.Time    `gorm:"index"`
	PublishedAt    *time.Time
	AttemptCount   int    `gorm:"not null;default:0"`
	DryRun         bool   `gorm:"not null;default:false"`
	RequestedBy    string `gorm:"size:128"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName 指定自定义表名。
func (PublishRecord) TableName() string {
	return "publish_records"
}

// PublishEvent 是发布记录的追加式状态历史，用于审计重复失败。
type PublishEvent struct {
	ID              uint          `gorm:"primaryKey"`
	PublishRecordID uint          `gorm:"not null;index"`
	Attempt         int           `gorm:"not null;default:0"`
	FromStatus      PublishStatus `gorm:"size:16"`
	ToStatus        PublishStatus `gorm:"size:16;not null"`
	ErrorMessage    string        `gorm:"type:text"`
	Transient       bool          `gorm:"not null;default:false"`
	Actor           string        `gorm:"size:128"`
	OccurredAt      time.Time     `gorm:"not null"`
}

// TableName 指定自定义表名。
func (PublishEvent) TableName() string {
	return "publish_events"
}
