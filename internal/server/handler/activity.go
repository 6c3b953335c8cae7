package handler

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/tsa-ledger/internal/activity"
	"github.com/jmerrifield20/tsa-ledger/internal/eventledger"
	"go.uber.org/zap"
)

// ActivityHandler serves the application features whose actions are
// recorded in the ledger.
type ActivityHandler struct {
	svc    *activity.Service
	ledger *eventledger.Ledger
	logger *zap.Logger
}

// NewActivityHandler creates a new ActivityHandler.
func NewActivityHandler(svc *activity.Service, ledger *eventledger.Ledger, logger *zap.Logger) *ActivityHandler {
	return &ActivityHandler{svc: svc, ledger: ledger, logger: logger}
}

// Register mounts the feature routes.
func (h *ActivityHandler) Register(r gin.IRouter) {
	r.POST("/predict", h.Predict)
	r.POST("/simulate", h.Simulate)
	r.GET("/dashboard-data", h.DashboardData)
	r.GET("/dashboard-summary", h.DashboardSummary)
	r.GET("/water-logs", h.WaterLogs)
	r.POST("/orders", h.PlaceOrder)
}

// predictRequest accepts area and yield as JSON numbers or numeric strings,
// since the planner form posts its inputs as text.
type predictRequest struct {
	Crop  string      `json:"crop" binding:"required"`
	Soil  string      `json:"soil" binding:"required"`
	Area  json.Number `json:"area"`
	Yield json.Number `json:"yield" binding:"required"`
}

func (r predictRequest) toPlan() (activity.PlanRequest, error) {
	plan := activity.PlanRequest{Crop: r.Crop, Soil: r.Soil}
	var err error
	if r.Area != "" {
		if plan.Area, err = r.Area.Float64(); err != nil {
			return plan, fmt.Errorf("%w: area must be a number", activity.ErrInvalidRequest)
		}
	}
	if plan.Yield, err = r.Yield.Float64(); err != nil {
		return plan, fmt.Errorf("%w: yield must be a number", activity.ErrInvalidRequest)
	}
	return plan, nil
}

// Predict handles POST /predict, the crop planner.
func (h *ActivityHandler) Predict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	plan, err := req.toPlan()
	if err != nil {
		respondError(c, h.logger, "predict", err)
		return
	}

	result, err := h.svc.Predict(c.Request.Context(), plan)
	if err != nil {
		respondError(c, h.logger, "predict", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Simulate handles POST /simulate, the water simulator.
func (h *ActivityHandler) Simulate(c *gin.Context) {
	var req activity.SimulateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.svc.Simulate(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, "simulate", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// DashboardData handles GET /dashboard-data.
func (h *ActivityHandler) DashboardData(c *gin.Context) {
	data, err := h.svc.Dashboard(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "dashboard", err)
		return
	}
	c.JSON(http.StatusOK, data)
}

// DashboardSummary handles GET /dashboard-summary and aggregates the recorded
// planner and simulator history. Read-only; nothing is recorded.
func (h *ActivityHandler) DashboardSummary(c *gin.Context) {
	c.JSON(http.StatusOK, activity.Summarize(h.ledger.Entries()))
}

// WaterLogs handles GET /water-logs: every water simulation with its
// input and output.
func (h *ActivityHandler) WaterLogs(c *gin.Context) {
	c.JSON(http.StatusOK, h.ledger.Query(eventledger.All(
		eventledger.FeatureIs(activity.FeatureWaterSimulator),
		eventledger.HasPayloadKey("input"),
	)))
}

// PlaceOrder handles POST /orders.
func (h *ActivityHandler) PlaceOrder(c *gin.Context) {
	var req activity.OrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	receipt, err := h.svc.PlaceOrder(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, "place order", err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}
