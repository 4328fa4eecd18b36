package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	checkoutService *service.CheckoutService
	orderService    *service.OrderService
	shippingService *service.ShippingService
}

// NewHandler creates a new HTTP handler
func NewHandler(
	checkoutService *service.CheckoutService,
	orderService *service.OrderService,
	shippingService *service.ShippingService,
) *Handler {
	return &Handler{
		checkoutService: checkoutService,
		orderService:    orderService,
		shippingService: shippingService,
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
		v1.POST("/checkout", h.createCheckout)
		v1.GET("/checkout/preview", h.orderPreview)
		v1.GET("/checkout/vnpay/return", h.vnpayReturn)
		v1.GET("/checkout/vnpay/ipn", h.vnpayIPN)

		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/cancel", h.cancelOrder)
		v1.GET("/orders/:id/tracking", h.trackShipment)

		v1.POST("/shipping/rates", h.shippingRates)
		v1.POST("/shipping/shipments", h.createShipment)
		v1.GET("/shipping/cities", h.listCities)
		v1.GET("/shipping/cities/:id/districts", h.listDistricts)
		v1.GET("/shipping/districts/:id/wards", h.listWards)

		admin := v1.Group("/admin")
		{
			admin.GET("/orders", h.adminListOrders)
			admin.PATCH("/orders/:id/status", h.adminUpdateOrderStatus)
		}
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

// createCheckout turns the user's cart into an order.
func (h *Handler) createCheckout(c *gin.Context) {
	var req service.CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	req.ClientIP = c.ClientIP()

	resp, err := h.checkoutService.CreateCheckout(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err, "Failed to create checkout")
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// orderPreview prices the cart without creating an order.
func (h *Handler) orderPreview(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	preview, err := h.checkoutService.GetOrderPreview(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "Failed to build order preview")
		return
	}
	c.JSON(http.StatusOK, preview)
}

// vnpayReturn handles the browser redirect back from the gateway.
func (h *Handler) vnpayReturn(c *gin.Context) {
	result, err := h.checkoutService.ProcessReturn(c.Request.Context(), queryParams(c))
	if err != nil {
		respondError(c, err, "Failed to process payment result")
		return
	}
	c.JSON(http.StatusOK, result)
}

// vnpayIPN handles the gateway's server-to-server notification. It always
// answers 200 with the gateway's ack vocabulary; HTTP errors would only make
// the gateway retry harder.
func (h *Handler) vnpayIPN(c *gin.Context) {
	result, err := h.checkoutService.ProcessIPN(c.Request.Context(), queryParams(c))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"RspCode": "99", "Message": "Unknown error"})
		return
	}
	c.JSON(http.StatusOK, result)
}

// listOrders returns the user's orders.
func (h *Handler) listOrders(c *gin.Context) {
	userID, ok := userIDParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	orders, err := h.orderService.ListOrders(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, err, "Failed to list orders")
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// getOrder returns one of the user's orders with items and payment.
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := uuidPathParam(c, "id")
	if !ok {
		return
	}
	userID, ok := userIDParam(c)
	if !ok {
		return
	}

	detail, err := h.orderService.GetOrderDetail(c.Request.Context(), orderID, userID)
	if err != nil {
		respondError(c, err, "Failed to get order")
		return
	}
	c.JSON(http.StatusOK, detail)
}

type cancelOrderRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
	Reason string    `json:"reason,omitempty"`
}

// cancelOrder cancels one of the user's pending orders.
func (h *Handler) cancelOrder(c *gin.Context) {
	orderID, ok := uuidPathParam(c, "id")
	if !ok {
		return
	}

	var req cancelOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.orderService.CancelOrder(c.Request.Context(), orderID, req.UserID, req.Reason); err != nil {
		respondError(c, err, "Failed to cancel order")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order cancelled"})
}

// trackShipment returns the carrier's tracking state for an order.
func (h *Handler) trackShipment(c *gin.Context) {
	orderID, ok := uuidPathParam(c, "id")
	if !ok {
		return
	}

	shipment, err := h.shippingService.TrackShipment(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err, "Failed to track shipment")
		return
	}
	c.JSON(http.StatusOK, shipment)
}

// shippingRates quotes shipping prices for a delivery region.
func (h *Handler) shippingRates(c *gin.Context) {
	var req service.RatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	rates, err := h.shippingService.GetRates(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err, "Failed to get shipping rates")
		return
	}
	c.JSON(http.StatusOK, gin.H{"rates": rates})
}

// createShipment books a shipment for a confirmed order.
func (h *Handler) createShipment(c *gin.Context) {
	var req service.CreateShipmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	shipment, err := h.shippingService.CreateShipment(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err, "Failed to create shipment")
		return
	}
	c.JSON(http.StatusCreated, shipment)
}

// listCities lists provinces for address selection.
func (h *Handler) listCities(c *gin.Context) {
	cities, err := h.shippingService.GetCities(c.Request.Context())
	if err != nil {
		respondError(c, err, "Failed to list cities")
		return
	}
	c.JSON(http.StatusOK, gin.H{"cities": cities})
}

// listDistricts lists the districts of a province.
func (h *Handler) listDistricts(c *gin.Context) {
	cityID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid city ID"})
		return
	}
	districts, err := h.shippingService.GetDistricts(c.Request.Context(), cityID)
	if err != nil {
		respondError(c, err, "Failed to list districts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"districts": districts})
}

// listWards lists the wards of a district.
func (h *Handler) listWards(c *gin.Context) {
	districtID, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid district ID"})
		return
	}
	wards, err := h.shippingService.GetWards(c.Request.Context(), districtID)
	if err != nil {
		respondError(c, err, "Failed to list wards")
		return
	}
	c.JSON(http.StatusOK, gin.H{"wards": wards})
}

// adminListOrders lists orders across all users, optionally by status.
func (h *Handler) adminListOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	orders, err := h.orderService.ListAllOrders(c.Request.Context(), c.Query("status"), limit, offset)
	if err != nil {
		respondError(c, err, "Failed to list orders")
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// adminUpdateOrderStatus sets an order's status on behalf of an operator.
func (h *Handler) adminUpdateOrderStatus(c *gin.Context) {
	orderID, ok := uuidPathParam(c, "id")
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.orderService.UpdateOrderStatus(c.Request.Context(), orderID, req.Status); err != nil {
		respondError(c, err, "Failed to update order status")
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Order status updated"})
}

// respondError maps service errors to HTTP status codes.
func respondError(c *gin.Context, err error, message string) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, store.ErrOrderNotFound),
		errors.Is(err, store.ErrUserNotFound),
		errors.Is(err, store.ErrProductNotFound),
		errors.Is(err, store.ErrPaymentNotFound),
		errors.Is(err, store.ErrAddressNotFound),
		errors.Is(err, store.ErrShipmentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrCartNotFound),
		errors.Is(err, service.ErrCartEmpty),
		errors.Is(err, service.ErrInvalidPaymentMethod),
		errors.Is(err, service.ErrInvalidStatus),
		errors.Is(err, service.ErrAddressIncomplete):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrCannotCancel),
		errors.Is(err, store.ErrShipmentExists):
		status = http.StatusConflict
	}

	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

// queryParams flattens the query string for signature verification. VNPay
// sends each parameter once; only the first value matters.
func queryParams(c *gin.Context) map[string]string {
	params := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params
}

func uuidPathParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func userIDParam(c *gin.Context) (uuid.UUID, bool) {
	raw := c.Query("user_id")
	if raw == "" {
		raw = c.GetHeader("X-User-ID")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing or invalid user_id"})
		return uuid.Nil, false
	}
	return id, true
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
