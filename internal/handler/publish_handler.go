package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/postpipe/internal/service"
)

type publishRequest struct {
	DestinationID string `json:"destination_id" binding:"required"`
	DryRun        bool   `json:"dry_run"`
	AdvanceStatus bool   `json:"advance_status"`
}

type scheduleRequest struct {
	DestinationID string    `json:"destination_id" binding:"required"`
	ScheduledAt   time.Time `json:"scheduled_at" binding:"required"`
}

// Publish 发布当前版本到目标平台
func (a *API) Publish(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req publishRequest
	if !bindJSON(c, &req, "invalid publish payload") {
		return
	}
	result, err := a.publish.Publish(c.Request.Context(), service.PublishRequest{
		PostID:        id,
		DestinationID: strings.TrimSpace(req.DestinationID),
		DryRun:        req.DryRun,
		AdvanceStatus: req.AdvanceStatus,
		Actor:         actorOf(c),
	})
	a.respondPublishResult(c, result, err)
}

// RetryPublish 重试失败的发布记录
func (a *API) RetryPublish(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	result, err := a.publish.Retry(c.Request.Context(), id, actorOf(c))
	a.respondPublishResult(c, result, err)
}

func (a *API) respondPublishResult(c *gin.Context, result *service.PublishResult, err error) {
	if err != nil {
		var extra gin.H
		// 连接器失败时仍会留下一条失败记录
		if result != nil && result.Record != nil {
			extra = gin.H{"record": result.Record}
		}
		a.respondServiceError(c, err, extra)
		return
	}
	status := http.StatusOK
	if result.Preview == nil && !result.Reused {
		status = http.StatusCreated
	}
	c.JSON(status, result)
}

// SchedulePublish 预约发布
func (a *API) SchedulePublish(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req scheduleRequest
	if !bindJSON(c, &req, "invalid schedule payload") {
		return
	}
	record, err := a.scheduler.Schedule(c.Request.Context(), id, strings.TrimSpace(req.DestinationID), req.ScheduledAt, actorOf(c))
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"record": record})
}

// CancelSchedule 取消预约发布
func (a *API) CancelSchedule(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	record, err := a.scheduler.Cancel(c.Request.Context(), id, actorOf(c))
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"record": record})
}

// ListPublishRecords 返回文章的发布记录
func (a *API) ListPublishRecords(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	records, err := a.publish.ListRecords(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// PublishEvents 返回发布记录的状态历史
func (a *API) PublishEvents(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	events, err := a.publish.Events(c.Request.Context(), id)
	if err != nil {
		a.respondServiceError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

// ListDestinations 列出已配置的目标平台
func (a *API) ListDestinations(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"destinations": a.connectors.Destinations()})
}
