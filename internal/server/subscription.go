package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/mihaildragos/social-proof-app-sub000/internal/subscription/domain"
)

func (s *Server) CreateSubscription(c *gin.Context) {
	var req subscriptiondomain.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	subscription, err := s.subscriptionSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, subscription)
}

func (s *Server) ListSubscriptions(c *gin.Context) {
	req := subscriptiondomain.ListSubscriptionRequest{
		Status: c.Query("status"),
	}

	subscriptions, err := s.subscriptionSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"subscriptions": subscriptions})
}

func (s *Server) GetSubscription(c *gin.Context) {
	subscription, err := s.subscriptionSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, subscription)
}

func (s *Server) UpdateSubscription(c *gin.Context) {
	var req subscriptiondomain.UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.SubscriptionID = c.Param("id")

	subscription, err := s.subscriptionSvc.Update(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, subscription)
}

func (s *Server) CancelSubscription(c *gin.Context) {
	var req subscriptiondomain.CancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	req.SubscriptionID = c.Param("id")

	subscription, err := s.subscriptionSvc.Cancel(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, subscription)
}
