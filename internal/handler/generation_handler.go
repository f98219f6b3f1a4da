package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GenerateOutline 调用模型生成大纲
func (a *API) GenerateOutline(c *gin.Context) {
	a.generate(c, false)
}

// GenerateDraft 根据大纲生成正文
func (a *API) GenerateDraft(c *gin.Context) {
	a.generate(c, true)
}

func (a *API) generate(c *gin.Context, draft bool) {
	if a.generation == nil {
		respondError(c, http.StatusServiceUnavailable, "content generation is not configured")
		return
	}
	id, ok := idParam(c, "id")
	if !ok {
		return
	}

	generate := a.generation.GenerateOutline
	if draft {
		generate = a.generation.GenerateDraft
	}
	version, post, err := generate(c.Request.Context(), id, actorOf(c))
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"post": post, "version": version})
}
