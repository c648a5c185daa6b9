package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/mihaildragos/social-proof-app-sub000/internal/clock"
	"github.com/mihaildragos/social-proof-app-sub000/internal/orgcontext"
	plandomain "github.com/mihaildragos/social-proof-app-sub000/internal/plan/domain"
	"github.com/mihaildragos/social-proof-app-sub000/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  plandomain.Repository
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  plandomain.Repository
}

func NewService(p ServiceParam) plandomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("plan.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Create implements domain.Service.
func (s *Service) Create(ctx context.Context, req plandomain.CreatePlanRequest) (*plandomain.PlanWithLimits, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, plandomain.ErrInvalidOrganization
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, plandomain.ErrInvalidName
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return nil, plandomain.ErrInvalidCurrency
	}

	if req.MonthlyPriceMinor < 0 || req.YearlyPriceMinor < 0 {
		return nil, plandomain.ErrInvalidPrice
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = slug.Make(name)
	} else {
		code = slug.Make(code)
	}

	seen := make(map[string]struct{}, len(req.Limits))
	for _, limit := range req.Limits {
		resourceType := strings.TrimSpace(limit.ResourceType)
		if resourceType == "" {
			return nil, plandomain.ErrInvalidResourceType
		}
		if _, dup := seen[resourceType]; dup {
			return nil, plandomain.ErrInvalidResourceType
		}
		seen[resourceType] = struct{}{}

		if limit.MaxQuantity != nil && *limit.MaxQuantity < 0 {
			return nil, plandomain.ErrInvalidPrice
		}
		if limit.OverageUnitPriceMicros < 0 {
			return nil, plandomain.ErrInvalidPrice
		}
	}

	now := s.clock.Now().UTC()
	plan := plandomain.Plan{
		ID:                s.genID.Generate(),
		OrgID:             orgID,
		Code:              code,
		Name:              name,
		MonthlyPriceMinor: req.MonthlyPriceMinor,
		YearlyPriceMinor:  req.YearlyPriceMinor,
		Currency:          currency,
		IsPublic:          true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	limits := make([]plandomain.PlanLimit, 0, len(req.Limits))
	for i, limit := range req.Limits {
		limits = append(limits, plandomain.PlanLimit{
			ID:                     s.genID.Generate(),
			OrgID:                  orgID,
			PlanID:                 plan.ID,
			ResourceType:           strings.TrimSpace(limit.ResourceType),
			MaxQuantity:            limit.MaxQuantity,
			OverageUnitPriceMicros: limit.OverageUnitPriceMicros,
			Position:               i,
			CreatedAt:              now,
			UpdatedAt:              now,
		})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByCode(ctx, tx, orgID, code)
		if err != nil {
			return err
		}
		if existing != nil {
			return plandomain.ErrDuplicateCode
		}

		if err := s.repo.Insert(ctx, tx, &plan); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return plandomain.ErrDuplicateCode
			}
			return err
		}

		return s.repo.InsertLimits(ctx, tx, limits)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("plan created",
		zap.String("org_id", orgID.String()),
		zap.String("plan_id", plan.ID.String()),
		zap.String("code", code),
	)

	return &plandomain.PlanWithLimits{Plan: plan, Limits: limits}, nil
}

// GetByID implements domain.Service.
func (s *Service) GetByID(ctx context.Context, id string) (*plandomain.PlanWithLimits, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, plandomain.ErrInvalidOrganization
	}

	planID, err := s.parseID(id, plandomain.ErrInvalidPlan)
	if err != nil {
		return nil, err
	}

	plan, err := s.repo.FindByID(ctx, s.db, orgID, planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, plandomain.ErrPlanNotFound
	}

	limits, err := s.repo.ListLimits(ctx, s.db, orgID, planID)
	if err != nil {
		return nil, err
	}

	return &plandomain.PlanWithLimits{Plan: *plan, Limits: limits}, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, req plandomain.ListPlanRequest) ([]plandomain.PlanWithLimits, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, plandomain.ErrInvalidOrganization
	}

	plans, err := s.repo.List(ctx, s.db, orgID, req.IncludeArchived)
	if err != nil {
		return nil, err
	}

	result := make([]plandomain.PlanWithLimits, 0, len(plans))
	for _, plan := range plans {
		limits, err := s.repo.ListLimits(ctx, s.db, orgID, plan.ID)
		if err != nil {
			return nil, err
		}
		result = append(result, plandomain.PlanWithLimits{Plan: plan, Limits: limits})
	}

	return result, nil
}

// Archive implements domain.Service.
func (s *Service) Archive(ctx context.Context, id string) error {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return plandomain.ErrInvalidOrganization
	}

	planID, err := s.parseID(id, plandomain.ErrInvalidPlan)
	if err != nil {
		return err
	}

	plan, err := s.repo.FindByID(ctx, s.db, orgID, planID)
	if err != nil {
		return err
	}
	if plan == nil {
		return plandomain.ErrPlanNotFound
	}

	return s.repo.Archive(ctx, s.db, orgID, planID)
}

// Limit implements domain.Service.
func (s *Service) Limit(ctx context.Context, planID, resourceType string) (plandomain.PlanLimit, bool, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return plandomain.PlanLimit{}, false, plandomain.ErrInvalidOrganization
	}

	id, err := s.parseID(planID, plandomain.ErrInvalidPlan)
	if err != nil {
		return plandomain.PlanLimit{}, false, err
	}

	resourceType = strings.TrimSpace(resourceType)
	if resourceType == "" {
		return plandomain.PlanLimit{}, false, plandomain.ErrInvalidResourceType
	}

	limit, err := s.repo.FindLimit(ctx, s.db, orgID, id, resourceType)
	if err != nil {
		return plandomain.PlanLimit{}, false, err
	}
	if limit == nil {
		return plandomain.PlanLimit{}, false, nil
	}

	return *limit, true, nil
}

func (s *Service) parseID(value string, invalidErr error) (snowflake.ID, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, invalidErr
	}

	id, err := snowflake.ParseString(value)
	if err != nil || id == 0 {
		return 0, invalidErr
	}

	return id, nil
}
