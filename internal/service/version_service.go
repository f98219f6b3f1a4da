package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/postpipe/internal/db"
	"gorm.io/gorm"
)

// VersionService is the append-only store of post snapshots.
type VersionService struct {
	core
}

// VersionFields carries the content of a new version. Nil fields are copied
// from the current version.
type VersionFields struct {
	Title           *string
	Content         *string
	MetaDescription *string
	Slug            *string
	Outline         *[]db.OutlineSection
	ChangeSummary   string
}

// CreateVersion appends a version and makes it current.
func (s *VersionService) CreateVersion(ctx context.Context, postID uint, fields VersionFields, changeType db.ChangeType, actor string) (*db.Version, error) {
	unlock := s.locks.Lock(postKey(postID))
	defer unlock()

	var created *db.Version
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := loadPostTx(tx, postID)
		if err != nil {
			return err
		}
		created, err = createVersionTx(tx, post, fields, changeType, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("version created", "post_id", postID, "version", created.VersionNumber, "change_type", created.ChangeType, "actor", actor)
	return created, nil
}

// RestoreVersion copies an older version into a new current version.
func (s *VersionService) RestoreVersion(ctx context.Context, postID, versionID uint, actor string) (*db.Version, error) {
	unlock := s.locks.Lock(postKey(postID))
	defer unlock()

	var created *db.Version
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err := loadPostTx(tx, postID)
		if err != nil {
			return err
		}
		source, err := versionOfPostTx(tx, postID, versionID)
		if err != nil {
			return err
		}

		outline := source.OutlineSections()
		fields := VersionFields{
			Title:           &source.Title,
			Content:         &source.Content,
			MetaDescription: &source.MetaDescription,
			Slug:            &source.Slug,
			Outline:         &outline,
			ChangeSummary:   fmt.Sprintf("restored from version %d", source.VersionNumber),
		}
		created, err = createVersionTx(tx, post, fields, db.ChangeTypeMinor, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("version restored", "post_id", postID, "source_version_id", versionID, "version", created.VersionNumber, "actor", actor)
	return created, nil
}

// ListVersions returns the post's versions, newest first.
func (s *VersionService) ListVersions(ctx context.Context, postID uint) ([]db.Version, error) {
	gdb := s.db.WithContext(ctx)
	if _, err := loadPostTx(gdb, postID); err != nil {
		return nil, err
	}
	var versions []db.Version
	if err := gdb.Where("post_id = ?", postID).Order("version_number desc").Find(&versions).Error; err != nil {
		return nil, err
	}
	return versions, nil
}

// GetVersion returns one version of a post.
func (s *VersionService) GetVersion(ctx context.Context, postID, versionID uint) (*db.Version, error) {
	gdb := s.db.WithContext(ctx)
	if _, err := loadPostTx(gdb, postID); err != nil {
		return nil, err
	}
	return versionOfPostTx(gdb, postID, versionID)
}

// CurrentVersion returns the post's current version.
func (s *VersionService) CurrentVersion(ctx context.Context, postID uint) (*db.Version, error) {
	gdb := s.db.WithContext(ctx)
	if _, err := loadPostTx(gdb, postID); err != nil {
		return nil, err
	}
	return currentVersionTx(gdb, postID)
}

func versionOfPostTx(tx *gorm.DB, postID, versionID uint) (*db.Version, error) {
	var version db.Version
	if err := tx.Where("id = ? AND post_id = ?", versionID, postID).First(&version).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrVersionNotFound
		}
		return nil, err
	}
	return &version, nil
}

// createVersionTx allocates the next number, demotes the previous current
// row, inserts the new one, mirrors title/slug/word count onto the post and
// drops the post's QA results. The caller holds the post lock.
func createVersionTx(tx *gorm.DB, post *db.Post, fields VersionFields, changeType db.ChangeType, actor string) (*db.Version, error) {
	if post.Status == db.PostStatusArchived {
		return nil, ErrPostArchived
	}
	if changeType == "" {
		changeType = db.ChangeTypeMinor
	}
	if !changeType.Valid() {
		return nil, fmt.Errorf("%w: change type %q", ErrInvalidInput, changeType)
	}

	previous, err := currentVersionTx(tx, post.ID)
	if err != nil && !errors.Is(err, ErrVersionNotFound) {
		return nil, err
	}
	if previous == nil {
		previous = &db.Version{Title: post.Title, Slug: post.Slug}
	}

	next := db.Version{
		PostID:          post.ID,
		Title:           previous.Title,
		Content:         previous.Content,
		MetaDescription: previous.MetaDescription,
		Slug:            previous.Slug,
		Outline:         previous.Outline,
		AuthorID:        actor,
		ChangeSummary:   strings.TrimSpace(fields.ChangeSummary),
		ChangeType:      changeType,
		IsCurrent:       true,
	}
	if fields.Title != nil {
		next.Title = strings.TrimSpace(*fields.Title)
	}
	if fields.Content != nil {
		next.Content = *fields.Content
	}
	if fields.MetaDescription != nil {
		next.MetaDescription = strings.TrimSpace(*fields.MetaDescription)
	}
	if fields.Outline != nil {
		raw, err := db.EncodeOutline(*fields.Outline)
		if err != nil {
			return nil, fmt.Errorf("encode outline: %w", err)
		}
		next.Outline = raw
	}
	if fields.Slug != nil {
		next.Slug = db.Slugify(*fields.Slug)
	}
	if next.Slug == "" {
		next.Slug = db.Slugify(next.Title)
	}
	if next.Slug != post.Slug {
		if err := ensureSlugFree(tx, post, next.Slug); err != nil {
			return nil, err
		}
	}

	next.WordCount = db.CountWords(next.Content)
	next.ContentHash = db.ComputeContentHash(next.Title, next.Content, next.MetaDescription)

	var maxNumber int
	if err := tx.Unscoped().Model(&db.Version{}).
		Where("post_id = ?", post.ID).
		Select("COALESCE(MAX(version_number), 0)").
		Scan(&maxNumber).Error; err != nil {
		return nil, fmt.Errorf("allocate version number: %w", err)
	}
	next.VersionNumber = maxNumber + 1

	if err := tx.Model(&db.Version{}).
		Where("post_id = ? AND is_current = ?", post.ID, true).
		Update("is_current", false).Error; err != nil {
		return nil, fmt.Errorf("demote current version: %w", err)
	}
	if err := tx.Create(&next).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return nil, fmt.Errorf("concurrent version write for post %d: %w", post.ID, err)
		}
		return nil, err
	}

	// results of a superseded version must never gate
	if err := clearQATx(tx, post.ID); err != nil {
		return nil, fmt.Errorf("supersede qa results: %w", err)
	}

	if err := tx.Model(&db.Post{}).Where("id = ?", post.ID).Updates(map[string]any{
		"title":      next.Title,
		"slug":       next.Slug,
		"word_count": next.WordCount,
	}).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrSlugTaken
		}
		return nil, err
	}
	post.Title = next.Title
	post.Slug = next.Slug
	post.WordCount = next.WordCount

	return &next, nil
}

func ensureSlugFree(tx *gorm.DB, post *db.Post, slug string) error {
	var count int64
	if err := tx.Model(&db.Post{}).
		Where("org_id = ? AND slug = ? AND id <> ?", post.OrgID, slug, post.ID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrSlugTaken
	}
	return nil
}
