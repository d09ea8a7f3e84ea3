package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	ledger "afflink-system/internal/services/ledger/handler"
)

type LedgerHTTPHandler struct {
	ledger *ledger.LedgerHandler
}

func NewLedgerHTTPHandler(ledgerHandler *ledger.LedgerHandler) *LedgerHTTPHandler {
	return &LedgerHTTPHandler{ledger: ledgerHandler}
}

// --- Request & Query Structs for Binding ---

type RecordConversionRequest struct {
	MarketerID           int64   `json:"marketer_id" binding:"required"`
	CustomerID           int64   `json:"customer_id" binding:"required"`
	ProductID            int64   `json:"product_id" binding:"required"`
	TrackingCode         string  `json:"tracking_code" binding:"required"`
	InitialSpendAmount   string  `json:"initial_spend_amount" binding:"required"`
	ConversionDate       string  `json:"conversion_date" binding:"required"`
	CommissionRate       *string `json:"commission_rate"`
	CommissionFlatAmount *string `json:"commission_flat_amount"`
	ClearancePeriodDays  *int32  `json:"clearance_period_days"`
}

type UpdateCommissionStatusRequest struct {
	NewStatus string `json:"new_status" binding:"required"`
	Reason    string `json:"reason"`
}

type AddAdjustmentRequest struct {
	AdjustmentType string `json:"adjustment_type" binding:"required"`
	Amount         string `json:"amount" binding:"required"`
	Reason         string `json:"reason" binding:"required"`
}

type ClawbackRequest struct {
	Amount       string `json:"amount" binding:"required"`
	Reason       string `json:"reason" binding:"required"`
	ClawbackType string `json:"clawback_type" binding:"required"`
	Partial      bool   `json:"partial"`
}

type RecalculateRequest struct {
	NewSpendAmount string `json:"new_spend_amount" binding:"required"`
}

type ListCommissionsQuery struct {
	Page       int     `form:"page,default=1"`
	PageSize   int     `form:"page_size,default=20"`
	MarketerID *int64  `form:"marketer_id"`
	Status     *string `form:"status"`
}

// --- Conversion & Commission Handlers ---

func (h *LedgerHTTPHandler) RecordConversion(c *gin.Context) {
	var req RecordConversionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	conversionDate, err := time.Parse(time.RFC3339, req.ConversionDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("conversion_date must be RFC 3339"))
		return
	}

	commission, err := h.ledger.RecordConversion(c.Request.Context(), ledger.RecordConversionInput{
		MarketerID:           req.MarketerID,
		CustomerID:           req.CustomerID,
		ProductID:            req.ProductID,
		TrackingCode:         req.TrackingCode,
		InitialSpendAmount:   req.InitialSpendAmount,
		ConversionDate:       conversionDate,
		CommissionRate:       req.CommissionRate,
		CommissionFlatAmount: req.CommissionFlatAmount,
		ClearancePeriodDays:  req.ClearancePeriodDays,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse("Conversion recorded successfully", commission))
}

func (h *LedgerHTTPHandler) GetCommission(c *gin.Context) {
	commissionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid commission ID"))
		return
	}

	detail, err := h.ledger.GetCommissionWithAdjustments(c.Request.Context(), commissionID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Commission retrieved successfully", detail))
}

func (h *LedgerHTTPHandler) ListCommissions(c *gin.Context) {
	var query ListCommissionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters: "+err.Error()))
		return
	}

	list, err := h.ledger.ListCommissions(c.Request.Context(), ledger.ListCommissionsInput{
		MarketerID: query.MarketerID,
		Status:     query.Status,
		Page:       query.Page,
		PageSize:   query.PageSize,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, successWithMetaResponse("Commissions retrieved successfully", list.Commissions, gin.H{
		"total_count":     list.TotalCount,
		"next_page_token": list.NextPageToken,
	}))
}

func (h *LedgerHTTPHandler) UpdateCommissionStatus(c *gin.Context) {
	commissionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid commission ID"))
		return
	}

	var req UpdateCommissionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	commission, err := h.ledger.UpdateCommissionStatus(c.Request.Context(), commissionID, req.NewStatus, currentUserID(c), req.Reason)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Commission status updated successfully", commission))
}

func (h *LedgerHTTPHandler) AddAdjustment(c *gin.Context) {
	commissionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid commission ID"))
		return
	}

	var req AddAdjustmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	adjustment, err := h.ledger.AddAdjustment(c.Request.Context(), ledger.AddAdjustmentInput{
		CommissionID:   commissionID,
		AdjustmentType: req.AdjustmentType,
		Amount:         req.Amount,
		Reason:         req.Reason,
		AdminID:        currentUserID(c),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse("Adjustment recorded successfully", adjustment))
}

func (h *LedgerHTTPHandler) ApplyClawback(c *gin.Context) {
	commissionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid commission ID"))
		return
	}

	var req ClawbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	entry, err := h.ledger.ApplyClawback(c.Request.Context(), ledger.ApplyClawbackInput{
		CommissionID: commissionID,
		Amount:       req.Amount,
		Reason:       req.Reason,
		AdminID:      currentUserID(c),
		ClawbackType: req.ClawbackType,
		Partial:      req.Partial,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse("Clawback applied successfully", entry))
}

func (h *LedgerHTTPHandler) RecalculateCommission(c *gin.Context) {
	commissionID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid commission ID"))
		return
	}

	var req RecalculateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	commission, err := h.ledger.RecalculateCommission(c.Request.Context(), commissionID, req.NewSpendAmount, currentUserID(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Commission recalculated successfully", commission))
}

// --- Balance & Analytics Handlers ---

func (h *LedgerHTTPHandler) GetBalance(c *gin.Context) {
	marketerID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid marketer ID"))
		return
	}

	summary, err := h.ledger.GetBalanceSummary(c.Request.Context(), marketerID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Balance retrieved successfully", summary))
}

func (h *LedgerHTTPHandler) GetClawbackAnalytics(c *gin.Context) {
	analytics, err := h.ledger.GetClawbackAnalytics(c.Request.Context())
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Clawback analytics retrieved successfully", analytics))
}
