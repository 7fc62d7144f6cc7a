package middleware

import (
	"net/http"
	"strings"

	"sampark/internal/config"

	"github.com/gin-gonic/gin"
)

const (
	defaultCORSMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	defaultCORSHeaders = "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization"
)

// CORSMiddleware CORS 中间件；未启用时不写任何头
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	cc := cfg.Security.CORS
	if !cc.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	methods := defaultCORSMethods
	if len(cc.AllowedMethods) > 0 {
		methods = strings.Join(cc.AllowedMethods, ", ")
	}
	headers := defaultCORSHeaders
	if len(cc.AllowedHeaders) > 0 {
		headers = strings.Join(cc.AllowedHeaders, ", ")
	}
	return func(c *gin.Context) {
		if origin := allowOrigin(cc.AllowedOrigins, c.GetHeader("Origin")); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", headers)
			if origin != "*" {
				c.Header("Vary", "Origin")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// allowOrigin echoes the request origin when it is listed, or "*" for a wildcard.
func allowOrigin(allowed []string, origin string) string {
	if len(allowed) == 0 {
		return "*"
	}
	for _, o := range allowed {
		if o == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(o, origin) {
			return origin
		}
	}
	return ""
}
