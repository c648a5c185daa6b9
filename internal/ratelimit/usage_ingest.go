package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mihaildragos/social-proof-app-sub000/internal/config"
	redis "github.com/redis/go-redis/v9"
)

const keyUsageIngestOrg = "usage:ingest:org:%s"

// UsageIngestLimiter bounds per-organization usage ingest throughput.
// A nil limiter allows everything, so callers never branch on config.
type UsageIngestLimiter struct {
	enabled bool

	bucket *TokenBucket

	orgRate  float64
	orgBurst int
}

func NewUsageIngestLimiter(cfg config.Config) (*UsageIngestLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.OrgRate <= 0 || limitCfg.OrgBurst <= 0 {
		return nil, errors.New("usage ingest org rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})

	return &UsageIngestLimiter{
		enabled:  true,
		bucket:   NewTokenBucket(client),
		orgRate:  limitCfg.OrgRate,
		orgBurst: limitCfg.OrgBurst,
	}, nil
}

func (l *UsageIngestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

// AllowOrg takes one token from the organization's ingest bucket.
func (l *UsageIngestLimiter) AllowOrg(ctx context.Context, orgID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUsageIngestOrg, strings.TrimSpace(orgID)), l.orgRate, l.orgBurst)
}
