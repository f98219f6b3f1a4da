package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/postpipe/internal/db"
	"gorm.io/gorm"
)

// PostService wraps post related database operations and is the entry
// point for edits and status changes.
type PostService struct {
	core
	versions   *VersionService
	qa         *QAService
	defaultOrg string
}

// PostFilter describes filters for listing posts.
type PostFilter struct {
	OrgID   string
	Status  string
	Search  string
	Page    int
	PerPage int
}

// PostListResult aggregates paginated list data and counters.
type PostListResult struct {
	Posts        []db.Post
	Total        int64
	StatusCounts map[db.PostStatus]int64
	TotalPages   int
	Page         int
	PerPage      int
}

// PostInput represents fields accepted when creating a post.
type PostInput struct {
	OrgID           string
	ProjectID       string
	SiteID          string
	Title           string
	TargetKeyword   string
	Content         string
	MetaDescription string
	Outline         []db.OutlineSection
	Settings        map[string]any
	Actor           string
}

// EditInput is a content edit. Nil fields keep the current value.
type EditInput struct {
	VersionFields
	ChangeType db.ChangeType
	Actor      string
}

// CreatePost creates a draft post together with its first version.
func (s *PostService) CreatePost(ctx context.Context, input PostInput) (*db.Post, error) {
	orgID := strings.TrimSpace(input.OrgID)
	if orgID == "" {
		orgID = s.defaultOrg
	}
	title := strings.TrimSpace(input.Title)

	post := &db.Post{
		OrgID:         orgID,
		ProjectID:     strings.TrimSpace(input.ProjectID),
		SiteID:        strings.TrimSpace(input.SiteID),
		Title:         title,
		Status:        db.PostStatusDraft,
		TargetKeyword: strings.TrimSpace(input.TargetKeyword),
		AuthorID:      input.Actor,
		Settings:      input.Settings,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slug, err := availableSlug(tx, orgID, db.Slugify(title))
		if err != nil {
			return err
		}
		post.Slug = slug
		if err := tx.Create(post).Error; err != nil {
			if db.IsUniqueViolation(err) {
				return ErrSlugTaken
			}
			return err
		}

		fields := VersionFields{
			Title:           &title,
			Content:         &input.Content,
			MetaDescription: &input.MetaDescription,
			ChangeSummary:   "initial version",
		}
		if len(input.Outline) > 0 {
			fields.Outline = &input.Outline
		}
		_, err = createVersionTx(tx, post, fields, db.ChangeTypeDraft, input.Actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("post created", "post_id", post.ID, "org_id", orgID, "slug", post.Slug, "actor", input.Actor)
	return post, nil
}

// availableSlug returns base, or base-2, base-3... if base is taken in org.
func availableSlug(tx *gorm.DB, orgID, base string) (string, error) {
	candidate := base
	for i := 2; ; i++ {
		var count int64
		if err := tx.Model(&db.Post{}).Where("org_id = ? AND slug = ?", orgID, candidate).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i)
	}
}

// GetByID returns a post with derived fields populated.
func (s *PostService) GetByID(ctx context.Context, id uint) (*db.Post, error) {
	post, err := loadPostTx(s.db.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if err := s.PopulateDerivedFields(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// PopulateDerivedFields fills SEOScore from the current version's seo check.
func (s *PostService) PopulateDerivedFields(ctx context.Context, post *db.Post) error {
	score, err := seoScore(s.db.WithContext(ctx), post.ID)
	if err != nil {
		return err
	}
	post.SEOScore = score
	return nil
}

// List returns posts with pagination and per-status counters.
func (s *PostService) List(ctx context.Context, filter PostFilter) (*PostListResult, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	perPage := filter.PerPage
	if perPage <= 0 || perPage > 100 {
		perPage = 20
	}

	base := s.db.WithContext(ctx).Model(&db.Post{})
	if org := strings.TrimSpace(filter.OrgID); org != "" {
		base = base.Where("org_id = ?", org)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		like := "%" + search + "%"
		base = base.Where("title LIKE ? OR slug LIKE ?", like, like)
	}

	counts := make(map[db.PostStatus]int64)
	var rows []struct {
		Status db.PostStatus
		Count  int64
	}
	if err := base.Session(&gorm.Session{}).Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.Status] = row.Count
	}

	query := base.Session(&gorm.Session{})
	if status := strings.TrimSpace(filter.Status); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}

	var posts []db.Post
	if err := query.Order("updated_at desc").Offset((page - 1) * perPage).Limit(perPage).Find(&posts).Error; err != nil {
		return nil, err
	}
	for i := range posts {
		if err := s.PopulateDerivedFields(ctx, &posts[i]); err != nil {
			return nil, err
		}
	}

	totalPages := int((total + int64(perPage) - 1) / int64(perPage))
	return &PostListResult{
		Posts:        posts,
		Total:        total,
		StatusCounts: counts,
		TotalPages:   totalPages,
		Page:         page,
		PerPage:      perPage,
	}, nil
}

// EditContent creates a new version from the edit and advances the post
// when the edit completes a stage: an outline moves draft to outline, body
// text moves outline to writing.
func (s *PostService) EditContent(ctx context.Context, postID uint, input EditInput) (*db.Version, *db.Post, error) {
	unlock := s.locks.Lock(postKey(postID))
	defer unlock()

	var (
		version *db.Version
		post    *db.Post
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		post, err = loadPostTx(tx, postID)
		if err != nil {
			return err
		}
		version, err = createVersionTx(tx, post, input.VersionFields, input.ChangeType, input.Actor)
		if err != nil {
			return err
		}
		return autoAdvance(tx, post, input.VersionFields)
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("content edited", "post_id", postID, "version", version.VersionNumber, "status", post.Status, "actor", input.Actor)
	return version, post, nil
}

func autoAdvance(tx *gorm.DB, post *db.Post, fields VersionFields) error {
	try := func(to db.PostStatus) error {
		err := applyTransition(tx, post, to)
		if err != nil && !errors.Is(err, ErrInvalidTransition) {
			return err
		}
		return nil
	}

	if post.Status == db.PostStatusDraft && fields.Outline != nil && len(*fields.Outline) > 0 {
		if err := try(db.PostStatusOutline); err != nil {
			return err
		}
	}
	if post.Status == db.PostStatusOutline && fields.Content != nil && strings.TrimSpace(*fields.Content) != "" {
		if err := try(db.PostStatusWriting); err != nil {
			return err
		}
	}
	return nil
}

// RequestTransition asks the state machine to move the post to status to.
// Moving from review to published evaluates the default QA checks first
// when the current version has no results.
func (s *PostService) RequestTransition(ctx context.Context, postID uint, to db.PostStatus, actor string) (*db.Post, error) {
	unlock := s.locks.Lock(postKey(postID))
	defer unlock()

	post, err := loadPostTx(s.db.WithContext(ctx), postID)
	if err != nil {
		return nil, err
	}
	from := post.Status
	if from == db.PostStatusReview && to == db.PostStatusPublished {
		if err := s.qa.ensureEvaluated(ctx, postID); err != nil {
			return nil, err
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		post, err = loadPostTx(tx, postID)
		if err != nil {
			return err
		}
		return applyTransition(tx, post, to)
	})
	if err != nil {
		s.logger.Info("transition refused", "post_id", postID, "from", from, "to", to, "actor", actor, "error", err)
		return nil, err
	}

	s.logger.Info("post transitioned", "post_id", postID, "from", from, "to", to, "actor", actor)
	if err := s.PopulateDerivedFields(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}
