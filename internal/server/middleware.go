package server

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/mihaildragos/social-proof-app-sub000/internal/observability/correlation"
	"github.com/mihaildragos/social-proof-app-sub000/internal/orgcontext"
	"go.uber.org/zap"
)

const (
	HeaderOrg         = "X-Org-ID"
	HeaderActor       = "X-Actor-ID"
	HeaderCorrelation = "X-Correlation-ID"
)

// CorrelationMiddleware accepts a caller-supplied correlation ID or mints
// one, and echoes it back on the response.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if header := strings.TrimSpace(c.GetHeader(HeaderCorrelation)); header != "" {
			ctx = correlation.WithID(ctx, header)
		}
		ctx, id := correlation.Ensure(ctx)
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderCorrelation, id)
		c.Next()
	}
}

func RequestLogger(log *zap.Logger) gin.HandlerFunc {
	log = log.Named("http.access")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("correlation_id", correlation.FromContext(c.Request.Context())),
		)
	}
}

// OrgRequired resolves the tenant from the X-Org-ID header. The gateway
// upstream is trusted to have authenticated the caller; this service only
// scopes by the org it asserts.
func (s *Server) OrgRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader(HeaderOrg))
		if header == "" {
			AbortWithError(c, newValidationError("org_id", "invalid_organization", "missing "+HeaderOrg+" header"))
			return
		}

		orgID, err := snowflake.ParseString(header)
		if err != nil || orgID == 0 {
			AbortWithError(c, newValidationError("org_id", "invalid_organization", "malformed "+HeaderOrg+" header"))
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), int64(orgID))
		if actor := strings.TrimSpace(c.GetHeader(HeaderActor)); actor != "" {
			ctx = orgcontext.WithActorID(ctx, actor)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
