package handler

import (
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	actorHeader     = "X-Actor-ID"
	actorSessionKey = "actor_id"
	actorContextKey = "actor"
	anonymousActor  = "anonymous"
)

// ActorMiddleware 绑定上游提供的调用者身份。
// X-Actor-ID 请求头优先，并写入会话 cookie 供后续请求使用。
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		actor := strings.TrimSpace(c.GetHeader(actorHeader))
		if actor != "" {
			if stored, _ := session.Get(actorSessionKey).(string); stored != actor {
				session.Set(actorSessionKey, actor)
				_ = session.Save()
			}
		} else if stored, ok := session.Get(actorSessionKey).(string); ok {
			actor = stored
		}
		if actor == "" {
			actor = anonymousActor
		}
		c.Set(actorContextKey, actor)
		c.Next()
	}
}

func actorOf(c *gin.Context) string {
	if actor := c.GetString(actorContextKey); actor != "" {
		return actor
	}
	return anonymousActor
}
