package middleware

import (
	"strconv"
	"time"

	"seckill/internal/telemetry"

	"github.com/gin-gonic/gin"
)

// Metrics 记录请求数与耗时。path 用路由模板，避免 ID 把 label 撑爆。
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		start := time.Now()
		c.Next()

		telemetry.HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
