package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	payouts "afflink-system/internal/services/payouts/handler"
)

type PayoutHTTPHandler struct {
	payouts *payouts.PayoutHandler
}

func NewPayoutHTTPHandler(payoutHandler *payouts.PayoutHandler) *PayoutHTTPHandler {
	return &PayoutHTTPHandler{payouts: payoutHandler}
}

// --- Request & Query Structs for Binding ---

type CreatePaymentMethodRequest struct {
	MethodType     string          `json:"method_type" binding:"required"`
	AccountDetails json.RawMessage `json:"account_details" binding:"required"`
}

type VerifyPaymentMethodRequest struct {
	Approve bool   `json:"approve"`
	Reason  string `json:"reason"`
}

type CreatePayoutRequest struct {
	PaymentMethodID int64  `json:"payment_method_id" binding:"required"`
	Amount          string `json:"amount" binding:"required"`
}

type UpdatePayoutStatusRequest struct {
	NewStatus     string  `json:"new_status" binding:"required"`
	Notes         *string `json:"notes"`
	FailureReason *string `json:"failure_reason"`
	TransactionID *string `json:"transaction_id"`
	ProcessingFee *string `json:"processing_fee"`
}

type BulkProcessRequest struct {
	PayoutIDs     []int64 `json:"payout_ids" binding:"required"`
	ProcessingFee *string `json:"processing_fee"`
	Notes         *string `json:"notes"`
}

type ListPayoutsQuery struct {
	Page       int     `form:"page,default=1"`
	PageSize   int     `form:"page_size,default=20"`
	MarketerID *int64  `form:"marketer_id"`
	Status     *string `form:"status"`
	StartDate  string  `form:"start_date"`
	EndDate    string  `form:"end_date"`
}

// --- Payment Method Handlers ---

func (h *PayoutHTTPHandler) CreatePaymentMethod(c *gin.Context) {
	var req CreatePaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	method, err := h.payouts.CreatePaymentMethod(c.Request.Context(), currentUserID(c), req.MethodType, req.AccountDetails)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse("Payment method created successfully", method))
}

func (h *PayoutHTTPHandler) VerifyPaymentMethod(c *gin.Context) {
	methodID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid payment method ID"))
		return
	}

	var req VerifyPaymentMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	method, err := h.payouts.VerifyPaymentMethod(c.Request.Context(), methodID, currentUserID(c), req.Approve, req.Reason)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Payment method reviewed successfully", method))
}

func (h *PayoutHTTPHandler) ListPaymentMethods(c *gin.Context) {
	methods, err := h.payouts.ListPaymentMethods(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Payment methods retrieved successfully", methods))
}

// --- Payout Request Handlers ---

func (h *PayoutHTTPHandler) CreatePayout(c *gin.Context) {
	var req CreatePayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	payout, err := h.payouts.CreatePayoutRequest(c.Request.Context(), currentUserID(c), req.PaymentMethodID, req.Amount)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, successResponse("Payout requested successfully", payout))
}

func (h *PayoutHTTPHandler) CancelPayout(c *gin.Context) {
	payoutID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid payout ID"))
		return
	}

	payout, err := h.payouts.CancelPayoutRequest(c.Request.Context(), payoutID, currentUserID(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Payout cancelled successfully", payout))
}

func (h *PayoutHTTPHandler) GetPayout(c *gin.Context) {
	payoutID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid payout ID"))
		return
	}

	payout, err := h.payouts.GetPayoutRequest(c.Request.Context(), payoutID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Payout retrieved successfully", payout))
}

func (h *PayoutHTTPHandler) ListPayouts(c *gin.Context) {
	var query ListPayoutsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid query parameters: "+err.Error()))
		return
	}

	input := payouts.ListPayoutsInput{
		MarketerID: query.MarketerID,
		Status:     query.Status,
		Page:       query.Page,
		PageSize:   query.PageSize,
	}
	if query.StartDate != "" {
		from, err := time.Parse(time.RFC3339, query.StartDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("start_date must be RFC 3339"))
			return
		}
		input.From = &from
	}
	if query.EndDate != "" {
		to, err := time.Parse(time.RFC3339, query.EndDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("end_date must be RFC 3339"))
			return
		}
		input.To = &to
	}

	list, err := h.payouts.ListPayoutRequests(c.Request.Context(), input)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, successWithMetaResponse("Payouts retrieved successfully", list.Payouts, gin.H{
		"total_count":     list.TotalCount,
		"next_page_token": list.NextPageToken,
	}))
}

func (h *PayoutHTTPHandler) UpdatePayoutStatus(c *gin.Context) {
	payoutID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid payout ID"))
		return
	}

	var req UpdatePayoutStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	payout, err := h.payouts.UpdatePayoutStatus(c.Request.Context(), payouts.UpdatePayoutStatusInput{
		PayoutID:      payoutID,
		NewStatus:     req.NewStatus,
		AdminID:       currentUserID(c),
		Notes:         req.Notes,
		FailureReason: req.FailureReason,
		TransactionID: req.TransactionID,
		ProcessingFee: req.ProcessingFee,
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Payout status updated successfully", payout))
}

// --- Settlement Handlers ---

func (h *PayoutHTTPHandler) ProcessPayout(c *gin.Context) {
	payoutID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid payout ID"))
		return
	}

	payout, err := h.payouts.ProcessPayout(c.Request.Context(), payoutID, currentUserID(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Payout processed successfully", payout))
}

func (h *PayoutHTTPHandler) ProcessBulkPayouts(c *gin.Context) {
	var req BulkProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("Invalid request format: "+err.Error()))
		return
	}

	summary, err := h.payouts.ProcessBulkPayouts(c.Request.Context(), req.PayoutIDs, req.ProcessingFee, req.Notes, currentUserID(c))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse("Bulk settlement processed", summary))
}
