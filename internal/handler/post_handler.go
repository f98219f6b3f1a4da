package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/postpipe/internal/db"
	"github.com/postpipe/internal/service"
)

type createPostRequest struct {
	OrgID           string              `json:"org_id"`
	ProjectID       string              `json:"project_id"`
	SiteID          string              `json:"site_id"`
	Title           string              `json:"title"`
	TargetKeyword   string              `json:"target_keyword"`
	Content         string              `json:"content"`
	MetaDescription string              `json:"meta_description"`
	Outline         []db.OutlineSection `json:"outline"`
	Settings        map[string]any      `json:"settings"`
}

type editContentRequest struct {
	Title           *string              `json:"title"`
	Content         *string              `json:"content"`
	MetaDescription *string              `json:"meta_description"`
	Slug            *string              `json:"slug"`
	Outline         *[]db.OutlineSection `json:"outline"`
	ChangeSummary   string               `json:"change_summary"`
	ChangeType      string               `json:"change_type"`
}

type transitionRequest struct {
	To string `json:"to" binding:"required"`
}

type qaRequest struct {
	Checks []string `json:"checks"`
}

// ListPosts 获取文章列表
func (a *API) ListPosts(c *gin.Context) {
	result, err := a.posts.List(c.Request.Context(), service.PostFilter{
		OrgID:   c.Query("org_id"),
		Status:  c.Query("status"),
		Search:  c.Query("q"),
		Page:    queryInt(c, "page", 1),
		PerPage: queryInt(c, "per_page", 20),
	})
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"posts":         result.Posts,
		"total":         result.Total,
		"status_counts": result.StatusCounts,
		"page":          result.Page,
		"per_page":      result.PerPage,
		"total_pages":   result.TotalPages,
	})
}

// GetPost 获取单篇文章及当前版本
func (a *API) GetPost(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	post, err := a.posts.GetByID(ctx, id)
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	current, err := a.versions.CurrentVersion(ctx, id)
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"post":                post,
		"current_version":     current,
		"allowed_transitions": service.AllowedTransitions(post.Status),
	})
}

// CreatePost 创建新文章
func (a *API) CreatePost(c *gin.Context) {
	var req createPostRequest
	if !bindJSON(c, &req, "invalid post payload") {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		respondError(c, http.StatusBadRequest, "title is required")
		return
	}
	post, err := a.posts.CreatePost(c.Request.Context(), service.PostInput{
		OrgID:           req.OrgID,
		ProjectID:       req.ProjectID,
		SiteID:          req.SiteID,
		Title:           req.Title,
		TargetKeyword:   req.TargetKeyword,
		Content:         req.Content,
		MetaDescription: req.MetaDescription,
		Outline:         req.Outline,
		Settings:        req.Settings,
		Actor:           actorOf(c),
	})
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"post": post})
}

// EditContent 保存内容并生成新版本
func (a *API) EditContent(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req editContentRequest
	if !bindJSON(c, &req, "invalid content payload") {
		return
	}
	version, post, err := a.posts.EditContent(c.Request.Context(), id, service.EditInput{
		VersionFields: service.VersionFields{
			Title:           req.Title,
			Content:         req.Content,
			MetaDescription: req.MetaDescription,
			Slug:            req.Slug,
			Outline:         req.Outline,
			ChangeSummary:   req.ChangeSummary,
		},
		ChangeType: db.ChangeType(req.ChangeType),
		Actor:      actorOf(c),
	})
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post, "version": version})
}

// RequestTransition 请求状态流转
func (a *API) RequestTransition(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req transitionRequest
	if !bindJSON(c, &req, "invalid transition payload") {
		return
	}
	post, err := a.posts.RequestTransition(c.Request.Context(), id, db.PostStatus(strings.TrimSpace(req.To)), actorOf(c))
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post, "allowed_transitions": service.AllowedTransitions(post.Status)})
}

// RunQA 对当前版本执行质量检查
func (a *API) RunQA(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req qaRequest
	if !bindOptionalJSON(c, &req, "invalid qa payload") {
		return
	}
	var checks []db.CheckType
	if req.Checks != nil {
		checks = make([]db.CheckType, 0, len(req.Checks))
		for _, name := range req.Checks {
			checks = append(checks, db.CheckType(strings.TrimSpace(name)))
		}
	}
	results, err := a.qa.Evaluate(c.Request.Context(), id, checks)
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, qaResponse(results))
}

// GetQA 返回当前版本的检查结果
func (a *API) GetQA(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	results, err := a.qa.LatestResults(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, qaResponse(results))
}

type qaResultView struct {
	CheckType db.CheckType   `json:"check_type"`
	Status    db.CheckStatus `json:"status"`
	Score     float64        `json:"score"`
	Issues    []db.QAIssue   `json:"issues"`
	VersionID uint           `json:"version_id"`
}

func qaResponse(results []db.QACheckResult) gin.H {
	views := make([]qaResultView, 0, len(results))
	for i := range results {
		r := &results[i]
		issues := r.IssueList()
		if issues == nil {
			issues = []db.QAIssue{}
		}
		views = append(views, qaResultView{CheckType: r.CheckType, Status: r.Status, Score: r.Score, Issues: issues, VersionID: r.VersionID})
	}
	return gin.H{"verdict": service.Verdict(results), "results": views}
}

// ListVersions 返回版本历史
func (a *API) ListVersions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	versions, err := a.versions.ListVersions(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"versions": versions})
}

// RestoreVersion 以旧版本内容创建新版本
func (a *API) RestoreVersion(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	versionID, ok := idParam(c, "versionID")
	if !ok {
		return
	}
	version, err := a.versions.RestoreVersion(c.Request.Context(), id, versionID, actorOf(c))
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"version": version})
}

// DiffVersions 比较两个版本
func (a *API) DiffVersions(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	from, err := parseUintQuery(c, "from")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseUintQuery(c, "to")
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	diff, err := a.versions.Diff(c.Request.Context(), id, from, to)
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"diff": diff})
}
