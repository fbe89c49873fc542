package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/inkwell-ai/inkwell/internal/payment/domain"
)

func (s *Server) CreatePayment(c *gin.Context) {
	var req paymentdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if strings.TrimSpace(req.PlanID) == "" {
		AbortWithError(c, newValidationError("plan_id", "invalid_plan_id", "plan_id is required"))
		return
	}
	if req.AmountMinor < 0 {
		AbortWithError(c, newValidationError("amount_minor", "invalid_amount", "amount must not be negative"))
		return
	}

	resp, err := s.paymentSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (s *Server) ListPayments(c *gin.Context) {
	items, err := s.paymentSvc.History(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": items})
}

func (s *Server) GetPaymentByID(c *gin.Context) {
	paymentID, err := parseSnowflakeParam(c, "payment_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	resp, err := s.paymentSvc.Detail(c.Request.Context(), paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) GetPaymentStatusByReference(c *gin.Context) {
	reference := strings.TrimSpace(c.Param("reference"))
	if reference == "" {
		AbortWithError(c, newValidationError("reference", "invalid_reference", "reference is required"))
		return
	}

	resp, err := s.paymentSvc.StatusByReference(c.Request.Context(), reference)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetPaymentReceipt renders the PDF receipt for a completed payment.
func (s *Server) GetPaymentReceipt(c *gin.Context) {
	paymentID, err := parseSnowflakeParam(c, "payment_id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	pdfBytes, err := s.paymentSvc.Receipt(c.Request.Context(), paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="receipt-`+paymentID.String()+`.pdf"`)
	c.Data(http.StatusOK, "application/pdf", pdfBytes)
}
