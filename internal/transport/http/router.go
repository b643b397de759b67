package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/liftbank/operations-engine/internal/config"
	"github.com/liftbank/operations-engine/internal/service"
)

func NewRouter(eng *service.Engine, rl config.RateLimitConfig, exponent int32, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogMiddleware(log))
	r.Use(ThrottleMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, eng, exponent)
	return r
}
