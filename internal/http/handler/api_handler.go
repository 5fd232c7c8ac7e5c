package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/smallbiznis/returnwatch/internal/credential"
	"github.com/smallbiznis/returnwatch/internal/domain"
	"github.com/smallbiznis/returnwatch/internal/scheduler"
	"github.com/smallbiznis/returnwatch/internal/service"
)

// APIHandler exposes the receipt, deadline, credential, and job endpoints.
type APIHandler struct {
	Receipts  *service.ReceiptService
	Deadlines *service.DeadlineService
	Broker    *credential.Broker
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger
}

// NewAPIHandler creates the handler set.
func NewAPIHandler(receipts *service.ReceiptService, deadlines *service.DeadlineService, broker *credential.Broker, sched *scheduler.Scheduler, logger *zap.Logger) *APIHandler {
	return &APIHandler{Receipts: receipts, Deadlines: deadlines, Broker: broker, Scheduler: sched, Logger: logger}
}

type ingestRequest struct {
	UserID      string  `json:"user_id" binding:"required"`
	Merchant    string  `json:"merchant"`
	OrderID     string  `json:"order_id"`
	PurchasedAt *string `json:"purchased_at"`
	Currency    string  `json:"currency"`
	Total       any     `json:"total"`
}

// IngestReceipt accepts one extracted receipt. Duplicate submissions are safe:
// the dedupe hash collapses them onto the stored row.
func (h *APIHandler) IngestReceipt(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid receipt payload."})
		return
	}

	in := service.IngestReceiptInput{
		UserID:   req.UserID,
		Merchant: req.Merchant,
		OrderID:  req.OrderID,
		Currency: req.Currency,
		Total:    req.Total,
	}
	if req.PurchasedAt != nil {
		in.PurchasedAt = parsePurchaseDate(*req.PurchasedAt)
	}

	out, err := h.Receipts.Ingest(c.Request.Context(), in)
	if err != nil {
		h.writeError(c, err)
		return
	}

	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	resp := gin.H{
		"receipt_id": strconv.FormatInt(out.Receipt.ID, 10),
		"created":    out.Created,
	}
	if out.Deadline != nil {
		resp["deadline_id"] = strconv.FormatInt(out.Deadline.ID, 10)
		resp["due_at"] = out.Deadline.DueAt.UTC().Format(time.RFC3339)
	}
	c.JSON(status, resp)
}

// parsePurchaseDate is forgiving: extraction output arrives in a few shapes.
// An unparseable non-empty value maps to the zero time so the decision engine
// reports it as invalid rather than silently treating it as absent.
func parsePurchaseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	zero := time.Time{}
	return &zero
}

// PreviewDecision evaluates one receipt, optionally against a current price.
// Always a dry run.
func (h *APIHandler) PreviewDecision(c *gin.Context) {
	receiptID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid receipt id."})
		return
	}

	var currentAmount *int64
	if raw := c.Query("current_amount"); raw != "" {
		amount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "current_amount must be an integer of minor units."})
			return
		}
		currentAmount = &amount
	}

	preview, err := h.Receipts.Preview(c.Request.Context(), receiptID, currentAmount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, previewResponse(preview))
}

func previewResponse(p domain.DecisionPreview) gin.H {
	resp := gin.H{
		"suggestion":            string(p.Suggestion),
		"reason":                p.Reason,
		"evaluated_at":          p.EvaluatedAt.UTC().Format(time.RFC3339),
		"total_minor_units":     p.TotalMinorUnits,
		"return_days_remaining": p.ReturnDaysRemaining,
		"adjust_days_remaining": p.AdjustDaysRemaining,
		"policy": gin.H{
			"merchant":                 p.Policy.Merchant,
			"return_window_days":       p.Policy.ReturnWindowDays,
			"price_adjust_window_days": p.Policy.PriceAdjustWindowDays,
			"restocking_fee_pct":       p.Policy.RestockingFeePct,
		},
	}
	if p.PurchasedAt != nil && !p.PurchasedAt.IsZero() {
		resp["purchased_at"] = p.PurchasedAt.UTC().Format(time.RFC3339)
	}
	if p.ReturnWindowEnd != nil {
		resp["return_window_end"] = p.ReturnWindowEnd.UTC().Format(time.RFC3339)
	}
	if p.AdjustWindowEnd != nil {
		resp["adjust_window_end"] = p.AdjustWindowEnd.UTC().Format(time.RFC3339)
	}
	if p.CurrentMinorUnits != nil {
		resp["current_minor_units"] = *p.CurrentMinorUnits
	}
	if p.SavingsMinorUnits != nil {
		resp["savings_minor_units"] = *p.SavingsMinorUnits
	}
	if p.FeeEstimate != nil {
		resp["fee_estimate_minor_units"] = *p.FeeEstimate
	}
	return resp
}

type decideRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	Decision string `json:"decision" binding:"required"`
	Note     string `json:"note"`
}

// DecideDeadline closes a deadline with the user's keep/return choice.
func (h *APIHandler) DecideDeadline(c *gin.Context) {
	deadlineID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid deadline id."})
		return
	}
	var req decideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid decision payload."})
		return
	}

	if err := h.Deadlines.Decide(c.Request.Context(), req.UserID, deadlineID, domain.DeadlineDecision(req.Decision), req.Note); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "decision": req.Decision})
}

type reopenRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// ReopenDeadline reopens a closed deadline and clears both notification gates.
func (h *APIHandler) ReopenDeadline(c *gin.Context) {
	deadlineID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid deadline id."})
		return
	}
	var req reopenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid reopen payload."})
		return
	}

	if err := h.Deadlines.Reopen(c.Request.Context(), req.UserID, deadlineID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "open"})
}

// ConnectorToken hands a live upstream access token to a read connector.
func (h *APIHandler) ConnectorToken(c *gin.Context) {
	userID := c.Param("userID")
	token, err := h.Broker.EnsureAccessToken(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": token, "token_type": "Bearer"})
}

// ReauthorizeCredential flags a user's credential for reauthorization.
func (h *APIHandler) ReauthorizeCredential(c *gin.Context) {
	userID := c.Param("userID")
	if err := h.Broker.Reauthorize(c.Request.Context(), userID); err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": string(domain.CredentialReauthRequired)})
}

// RunNotifications is the external time-based trigger surface for milestone
// batches. Overlapping triggers are safe.
func (h *APIHandler) RunNotifications(c *gin.Context) {
	milestone := domain.Milestone(c.Query("milestone"))
	result, err := h.Scheduler.Run(c.Request.Context(), milestone)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": result.Processed, "sent": result.Sent})
}

// Healthz reports liveness.
func (h *APIHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *APIHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": err.Error()})
	case errors.Is(err, domain.ErrReceiptNotFound), errors.Is(err, domain.ErrDeadlineNotFound), errors.Is(err, domain.ErrCredentialNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "error_description": err.Error()})
	case errors.Is(err, domain.ErrReauthorizeNeeded):
		c.JSON(http.StatusConflict, gin.H{"error": "reauthorize_needed", "error_description": "Stored credential is no longer valid; the user must reauthorize."})
	default:
		h.log().Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal error."})
	}
}

func (h *APIHandler) log() *zap.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return zap.L()
}
