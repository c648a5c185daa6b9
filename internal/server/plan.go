package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	plandomain "github.com/mihaildragos/social-proof-app-sub000/internal/plan/domain"
)

func (s *Server) CreatePlan(c *gin.Context) {
	var req plandomain.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := s.plansvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, plan)
}

func (s *Server) ListPlans(c *gin.Context) {
	req := plandomain.ListPlanRequest{
		IncludeArchived: c.Query("include_archived") == "true",
	}

	plans, err := s.plansvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"plans": plans})
}

func (s *Server) GetPlan(c *gin.Context) {
	plan, err := s.plansvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, plan)
}

func (s *Server) ArchivePlan(c *gin.Context) {
	if err := s.plansvc.Archive(c.Request.Context(), c.Param("id")); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"archived": true})
}
