package handler

import (
	"log/slog"

	"github.com/postpipe/internal/connector"
	"github.com/postpipe/internal/logging"
	"github.com/postpipe/internal/service"
)

// API 汇总 HTTP 处理器共享的依赖。
type API struct {
	posts      *service.PostService
	versions   *service.VersionService
	qa         *service.QAService
	publish    *service.PublishService
	scheduler  *service.Scheduler
	generation *service.GenerationService
	connectors *connector.Registry
	logger     *slog.Logger
}

// NewAPI 基于生命周期服务创建处理器集合。
func NewAPI(svc *service.Services, logger *slog.Logger) *API {
	if logger == nil {
		logger = logging.Discard()
	}
	return &API{
		posts:      svc.Posts,
		versions:   svc.Versions,
		qa:         svc.QA,
		publish:    svc.Publish,
		scheduler:  svc.Scheduler,
		generation: svc.Generation,
		connectors: svc.Connectors,
		logger:     logger,
	}
}
