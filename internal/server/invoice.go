package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	invoicedomain "github.com/mihaildragos/social-proof-app-sub000/internal/invoice/domain"
)

func (s *Server) ListInvoices(c *gin.Context) {
	req := invoicedomain.ListInvoiceRequest{
		Status: c.Query("status"),
	}

	invoices, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

func (s *Server) GetInvoice(c *gin.Context) {
	invoice, err := s.invoiceSvc.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, invoice)
}

func (s *Server) RenderInvoice(c *gin.Context) {
	document, err := s.invoiceSvc.Render(c.Request.Context(), c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="invoice-`+c.Param("id")+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", document)
}
