package domain

import (
	"context"
	"errors"
)

type CreateLimitRequest struct {
	ResourceType           string `json:"resource_type"`
	MaxQuantity            *int64 `json:"max_quantity,omitempty"`
	OverageUnitPriceMicros int64  `json:"overage_unit_price_micros"`
}

type CreatePlanRequest struct {
	Name              string               `json:"name"`
	Code              string               `json:"code,omitempty"`
	MonthlyPriceMinor int64                `json:"monthly_price_minor"`
	YearlyPriceMinor  int64                `json:"yearly_price_minor"`
	Currency          string               `json:"currency"`
	Limits            []CreateLimitRequest `json:"limits"`
}

type ListPlanRequest struct {
	IncludeArchived bool
}

type PlanWithLimits struct {
	Plan   Plan        `json:"plan"`
	Limits []PlanLimit `json:"limits"`
}

type Service interface {
	Create(ctx context.Context, req CreatePlanRequest) (*PlanWithLimits, error)
	GetByID(ctx context.Context, id string) (*PlanWithLimits, error)
	List(ctx context.Context, req ListPlanRequest) ([]PlanWithLimits, error)
	Archive(ctx context.Context, id string) error
	// Limit resolves the quota for one resource on a plan; second return is
	// false when the plan does not meter that resource.
	Limit(ctx context.Context, planID, resourceType string) (PlanLimit, bool, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidPlan         = errors.New("invalid_plan")
	ErrInvalidName         = errors.New("invalid_name")
	ErrInvalidCurrency     = errors.New("invalid_currency")
	ErrInvalidPrice        = errors.New("invalid_price")
	ErrInvalidResourceType = errors.New("invalid_resource_type")
	ErrDuplicateCode       = errors.New("duplicate_plan_code")
	ErrPlanNotFound        = errors.New("plan_not_found")
)
