package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/postpipe/internal/service"
)

// statusForError 将服务层错误映射为 HTTP 状态码。
func statusForError(err error) int {
	switch {
	case errors.Is(err, service.ErrPostNotFound),
		errors.Is(err, service.ErrVersionNotFound),
		errors.Is(err, service.ErrPublishRecordNotFound),
		errors.Is(err, service.ErrDestinationNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrQaGateFailed),
		errors.Is(err, service.ErrConnectorRejected),
		errors.Is(err, service.ErrInvalidOutline):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrPublishInProgress),
		errors.Is(err, service.ErrNotCancellable),
		errors.Is(err, service.ErrNotRetryable),
		errors.Is(err, service.ErrSlugTaken),
		errors.Is(err, service.ErrPostArchived),
		errors.Is(err, service.ErrNotPublishable):
		return http.StatusConflict
	case errors.Is(err, service.ErrScheduleInPast),
		errors.Is(err, service.ErrInvalidDiffRange),
		errors.Is(err, service.ErrUnknownCheck),
		errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrConnectorTransient):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrAIAPIKeyMissing):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondServiceError 按映射的状态码输出错误，附带类型化错误中的结构化信息，
// extra 会合并到响应体中。
func (a *API) respondServiceError(c *gin.Context, err error, extra gin.H) {
	status := statusForError(err)
	body := gin.H{"error": err.Error()}

	var te *service.TransitionError
	if errors.As(err, &te) {
		body["from"] = te.From
		body["to"] = te.To
		if te.Reason != "" {
			body["reason"] = te.Reason
		}
		body["allowed"] = service.AllowedTransitions(te.From)
	}
	var ge *service.GateError
	if errors.As(err, &ge) {
		body["verdict"] = ge.Verdict
		body["failing_checks"] = ge.Failing
	}
	for k, v := range extra {
		body[k] = v
	}

	if status >= http.StatusInternalServerError && status != http.StatusBadGateway && status != http.StatusServiceUnavailable {
		a.logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		body["error"] = "internal error"
	}
	c.JSON(status, body)
}
