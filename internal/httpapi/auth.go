package httpapi

import (
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pwno-io/pwno-mcp/internal/common/config"
	"github.com/pwno-io/pwno-mcp/internal/common/logger"
)

// newAuthMiddleware checks a configurable header against a nonce read
// once at startup from cfg.NonceFile. Auth.Disabled must be set
// explicitly (PWNO_AUTH_DISABLED=true) to skip the check — there is no
// implicit bypass for an empty nonce file.
func newAuthMiddleware(cfg config.AuthConfig, log *logger.Logger) gin.HandlerFunc {
	if cfg.Disabled {
		log.Warn("host control API authentication is disabled")
		return func(c *gin.Context) { c.Next() }
	}

	header := cfg.Header
	if header == "" {
		header = "X-Pwno-Token"
	}

	nonce, err := os.ReadFile(cfg.NonceFile)
	if err != nil {
		log.Fatal("failed to read auth nonce file", zap.String("path", cfg.NonceFile), zap.Error(err))
	}
	expected := strings.TrimSpace(string(nonce))

	return func(c *gin.Context) {
		token := c.GetHeader(header)
		if token == "" || token != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
