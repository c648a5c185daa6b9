package server

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mihaildragos/social-proof-app-sub000/internal/orgcontext"
	usagedomain "github.com/mihaildragos/social-proof-app-sub000/internal/usage/domain"
	"go.uber.org/zap"
)

const maxUsageBatchSize = 100

func (s *Server) RecordUsage(c *gin.Context) {
	if !s.allowUsageIngest(c) {
		return
	}

	var req usagedomain.RecordUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := s.usageSvc.Record(c.Request.Context(), req)
	if err != nil {
		var qErr *usagedomain.QuotaExceededError
		if errors.As(err, &qErr) && s.obsMetrics != nil {
			s.obsMetrics.RecordQuotaDenied(c.Request.Context(), qErr.ResourceType)
		}
		AbortWithError(c, err)
		return
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordUsage(c.Request.Context(), record.ResourceType)
	}
	c.JSON(http.StatusCreated, record)
}

func (s *Server) RecordUsageBatch(c *gin.Context) {
	if !s.allowUsageIngest(c) {
		return
	}

	var reqs []usagedomain.RecordUsageRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if len(reqs) == 0 || len(reqs) > maxUsageBatchSize {
		AbortWithError(c, newValidationError("records", "invalid_request", "batch must contain between 1 and 100 records"))
		return
	}

	results := s.usageSvc.RecordBatch(c.Request.Context(), reqs)

	if s.obsMetrics != nil {
		for _, result := range results {
			if result.Accepted && result.Record != nil {
				s.obsMetrics.RecordUsage(c.Request.Context(), result.Record.ResourceType)
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) CheckQuota(c *gin.Context) {
	resourceType := c.Query("resource_type")
	quantity := int64(1)
	if raw := c.Query("quantity"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			AbortWithError(c, newValidationError("quantity", "invalid_quantity", "quantity must be an integer"))
			return
		}
		quantity = parsed
	}

	status, err := s.usageSvc.CheckQuota(c.Request.Context(), resourceType, quantity)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

func (s *Server) ListUsageSummaries(c *gin.Context) {
	req := usagedomain.ListSummariesRequest{
		ResourceType: c.Query("resource_type"),
	}
	if raw := c.Query("period_start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			AbortWithError(c, newValidationError("period_start", "invalid_request", "period_start must be RFC 3339"))
			return
		}
		req.PeriodStart = &parsed
	}

	summaries, err := s.usageSvc.ListSummaries(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"summaries": summaries})
}

// allowUsageIngest applies the per-org ingest limit. Limiter failures are
// soft; a broken redis must not take the write path down with it.
func (s *Server) allowUsageIngest(c *gin.Context) bool {
	if !s.usageLimiter.Enabled() {
		return true
	}

	ctx := c.Request.Context()
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return true
	}

	result, err := s.usageLimiter.AllowOrg(ctx, orgID.String())
	if err != nil {
		s.log.Warn("usage ingest rate limit check failed, allowing request", zap.Error(err))
		return true
	}
	if result.Allowed {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordRateLimitAllowed(ctx, orgID.String(), c.FullPath())
		}
		return true
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordRateLimitDenied(ctx, orgID.String(), c.FullPath(), "org_rate")
	}
	retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
		Type:    "rate_limited",
		Message: "usage ingest rate limit exceeded",
	}})
	return false
}
