package api

import (
	"net/http"
	"strconv"
	"time"

	"payment-service/internal/domain/errs"
	"payment-service/internal/domain/intent"
	"payment-service/internal/domain/payment"
	"payment-service/internal/service"
	"payment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	payments    *service.PaymentService
	intents     *service.IntentService
	queues      *service.QueueService
	settlements *service.SettlementService
}

// NewHandler creates a new HTTP handler
func NewHandler(
	payments *service.PaymentService,
	intents *service.IntentService,
	queues *service.QueueService,
	settlements *service.SettlementService,
) *Handler {
	return &Handler{
		payments:    payments,
		intents:     intents,
		queues:      queues,
		settlements: settlements,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/payments", h.initiatePayment)
		v1.GET("/payments/:id", h.getPayment)
		v1.GET("/payments/:id/retry-info", h.getRetryInfo)
		v1.POST("/payments/:id/complete-cash", h.completeCash)
		v1.POST("/payments/:id/complete-card", h.completeCard)
		v1.POST("/payments/:id/complete-gift-card", h.completeGiftCard)
		v1.POST("/payments/:id/authorize", h.requestAuthorization)
		v1.POST("/payments/:id/capture", h.capturePayment)
		v1.POST("/payments/:id/refund", h.refundPayment)
		v1.POST("/payments/:id/void", h.voidPayment)
		v1.POST("/payments/:id/adjust-tip", h.adjustTip)
		v1.POST("/payments/:id/fail", h.failCompletion)

		v1.POST("/intents", h.createIntent)
		v1.GET("/intents/:id", h.getIntent)
		v1.POST("/intents/:id", h.updateIntent)
		v1.POST("/intents/:id/attach", h.attachPaymentMethod)
		v1.POST("/intents/:id/confirm", h.confirmIntent)
		v1.POST("/intents/:id/capture", h.captureIntent)
		v1.POST("/intents/:id/cancel", h.cancelIntent)
		v1.POST("/intents/:id/next-action", h.handleNextAction)

		v1.POST("/offline-queue", h.queuePayment)
		v1.GET("/offline-queue/:site_id", h.getQueue)
		v1.POST("/offline-queue/:site_id/entries/:entry_id/cancel", h.cancelQueuedPayment)

		v1.POST("/batches", h.openBatch)
		v1.GET("/batches/:id", h.getBatch)
		v1.GET("/batches/:id/totals", h.getBatchTotals)
		v1.GET("/batches/open", h.findOpenBatch)
		v1.POST("/batches/:id/payments", h.addPaymentToBatch)
		v1.DELETE("/batches/:id/payments/:payment_id", h.removePaymentFromBatch)
		v1.POST("/batches/:id/close", h.closeBatch)
		v1.POST("/batches/:id/settle", h.recordSettlement)
		v1.POST("/batches/:id/settlement-failure", h.recordSettlementFailure)
		v1.POST("/batches/:id/reopen", h.reopenBatch)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	switch {
	case errs.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errs.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errs.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handler) initiatePayment(c *gin.Context) {
	var req service.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	p, err := h.payments.Initiate(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) getPayment(c *gin.Context) {
	p, err := h.payments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) getRetryInfo(c *gin.Context) {
	info, err := h.payments.GetRetryInfo(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

type completeCashRequest struct {
	AmountTendered int64 `json:"amount_tendered" binding:"required"`
	Tip            int64 `json:"tip"`
}

func (h *Handler) completeCash(c *gin.Context) {
	var req completeCashRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	p, err := h.payments.CompleteCash(c.Request.Context(), c.Param("id"), req.AmountTendered, req.Tip)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type completeCardRequest struct {
	GatewayRef  string `json:"gateway_ref" binding:"required"`
	AuthCode    string `json:"auth_code"`
	GatewayName string `json:"gateway_name"`
	Tip         int64  `json:"tip"`
	CardBrand   string `json:"card_brand"`
	Last4       string `json:"last4"`
	ExpMonth    int    `json:"exp_month"`
	ExpYear     int    `json:"exp_year"`
}

func (h *Handler) completeCard(c *gin.Context) {
	var req completeCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	card := payment.CardInfo{
		Brand:    req.CardBrand,
		Last4:    req.Last4,
		ExpMonth: req.ExpMonth,
		ExpYear:  req.ExpYear,
	}
	p, err := h.payments.CompleteCard(c.Request.Context(), c.Param("id"), req.GatewayRef, req.AuthCode, card, req.GatewayName, req.Tip)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type completeGiftCardRequest struct {
	GiftCardID string `json:"gift_card_id" binding:"required"`
	CardNumber string `json:"card_number"`
}

func (h *Handler) completeGiftCard(c *gin.Context) {
	var req completeGiftCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	p, err := h.payments.CompleteGiftCard(c.Request.Context(), c.Param("id"), req.GiftCardID, req.CardNumber)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) requestAuthorization(c *gin.Context) {
	p, err := h.payments.RequestAuthorization(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) capturePayment(c *gin.Context) {
	p, err := h.payments.Capture(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type refundRequest struct {
	Amount   int64  `json:"amount" binding:"required"`
	Reason   string `json:"reason"`
	IssuedBy string `json:"issued_by"`
}

func (h *Handler) refundPayment(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	p, err := h.payments.Refund(c.Request.Context(), c.Param("id"), req.Amount, req.Reason, req.IssuedBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type voidRequest struct {
	VoidedBy string `json:"voided_by"`
	Reason   string `json:"reason"`
}

func (h *Handler) voidPayment(c *gin.Context) {
	var req voidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	p, err := h.payments.Void(c.Request.Context(), c.Param("id"), req.VoidedBy, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type adjustTipRequest struct {
	Tip int64 `json:"tip"`
}

func (h *Handler) adjustTip(c *gin.Context) {
	var req adjustTipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	p, err := h.payments.AdjustTip(c.Request.Context(), c.Param("id"), req.Tip)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type failCompletionRequest struct {
	ErrorCode    string `json:"error_code" binding:"required"`
	ErrorMessage string `json:"error_message"`
}

func (h *Handler) failCompletion(c *gin.Context) {
	var req failCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	p, err := h.payments.FailCompletion(c.Request.Context(), c.Param("id"), req.ErrorCode, req.ErrorMessage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) createIntent(c *gin.Context) {
	var req service.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	in, err := h.intents.Create(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, in)
}

func (h *Handler) getIntent(c *gin.Context) {
	in, err := h.intents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

type updateIntentRequest struct {
	Amount      *int64            `json:"amount,omitempty"`
	Description *string           `json:"description,omitempty"`
	CustomerID  *string           `json:"customer_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (h *Handler) updateIntent(c *gin.Context) {
	var req updateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	in, err := h.intents.Update(c.Request.Context(), c.Param("id"), intent.UpdateParams{
		Amount:      req.Amount,
		Description: req.Description,
		CustomerID:  req.CustomerID,
		Metadata:    req.Metadata,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

type attachMethodRequest struct {
	PaymentMethod string `json:"payment_method" binding:"required"`
}

func (h *Handler) attachPaymentMethod(c *gin.Context) {
	var req attachMethodRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	in, err := h.intents.AttachPaymentMethod(c.Request.Context(), c.Param("id"), req.PaymentMethod)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

func (h *Handler) confirmIntent(c *gin.Context) {
	in, err := h.intents.Confirm(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

type captureIntentRequest struct {
	Amount int64 `json:"amount"`
}

func (h *Handler) captureIntent(c *gin.Context) {
	var req captureIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	in, err := h.intents.Capture(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

type cancelIntentRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelIntent(c *gin.Context) {
	var req cancelIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	in, err := h.intents.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

type nextActionRequest struct {
	ActionData map[string]string `json:"action_data"`
}

func (h *Handler) handleNextAction(c *gin.Context) {
	var req nextActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	in, err := h.intents.HandleNextAction(c.Request.Context(), c.Param("id"), req.ActionData)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, in)
}

func (h *Handler) queuePayment(c *gin.Context) {
	var req service.QueuePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	entry, err := h.queues.QueuePayment(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) getQueue(c *gin.Context) {
	q, err := h.queues.Get(c.Request.Context(), c.Param("site_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

type cancelQueuedRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelQueuedPayment(c *gin.Context) {
	var req cancelQueuedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.queues.CancelPayment(c.Request.Context(), c.Param("site_id"), c.Param("entry_id"), req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (h *Handler) openBatch(c *gin.Context) {
	var req service.OpenBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	b, err := h.settlements.OpenBatch(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *Handler) getBatch(c *gin.Context) {
	b, err := h.settlements.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) getBatchTotals(c *gin.Context) {
	totals, err := h.settlements.GetTotalsByMethod(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, totals)
}

func (h *Handler) findOpenBatch(c *gin.Context) {
	siteID := c.Query("site_id")
	businessDate := c.Query("business_date")
	if siteID == "" || businessDate == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "site_id and business_date are required"})
		return
	}

	b, err := h.settlements.FindOpenBatch(c.Request.Context(), siteID, businessDate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type addPaymentRequest struct {
	PaymentID  string `json:"payment_id" binding:"required"`
	Amount     int64  `json:"amount" binding:"required"`
	Method     string `json:"method" binding:"required"`
	GatewayRef string `json:"gateway_ref"`
}

func (h *Handler) addPaymentToBatch(c *gin.Context) {
	var req addPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	b, err := h.settlements.AddPayment(c.Request.Context(), c.Param("id"), req.PaymentID, req.Amount, req.Method, req.GatewayRef)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handler) removePaymentFromBatch(c *gin.Context) {
	b, err := h.settlements.RemovePayment(c.Request.Context(), c.Param("id"), c.Param("payment_id"), c.Query("reason"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type closeBatchRequest struct {
	ClosedBy string `json:"closed_by"`
}

func (h *Handler) closeBatch(c *gin.Context) {
	var req closeBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	summary, err := h.settlements.CloseBatch(c.Request.Context(), c.Param("id"), req.ClosedBy)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

type recordSettlementRequest struct {
	Reference string `json:"reference" binding:"required"`
	Fees      int64  `json:"fees"`
}

func (h *Handler) recordSettlement(c *gin.Context) {
	var req recordSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	b, err := h.settlements.RecordSettlement(c.Request.Context(), c.Param("id"), req.Reference, req.Fees)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type settlementFailureRequest struct {
	Code    string `json:"code" binding:"required"`
	Message string `json:"message"`
}

func (h *Handler) recordSettlementFailure(c *gin.Context) {
	var req settlementFailureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	b, err := h.settlements.RecordSettlementFailure(c.Request.Context(), c.Param("id"), req.Code, req.Message)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

type reopenBatchRequest struct {
	ReopenedBy string `json:"reopened_by"`
	Reason     string `json:"reason"`
}

func (h *Handler) reopenBatch(c *gin.Context) {
	var req reopenBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	b, err := h.settlements.Reopen(c.Request.Context(), c.Param("id"), req.ReopenedBy, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
