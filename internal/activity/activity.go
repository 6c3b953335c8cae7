// Package activity implements the TSA application features whose actions
// are recorded in the event ledger: the crop planner, the water simulator,
// the dashboard and order placement.
package activity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/jmerrifield20/tsa-ledger/internal/eventledger"
	"go.uber.org/zap"
)

// Feature labels recorded in the ledger.
const (
	FeatureCropPlanner    = "Crop Planner"
	FeatureWaterSimulator = "Water Simulator"
	FeatureDashboard      = "Dashboard Accessed"
	FeatureOrder          = "Order Placed"
)

// ErrInvalidRequest is returned when a feature request is missing a required
// field or carries an out-of-range value.
var ErrInvalidRequest = errors.New("activity: invalid request")

// Recorder appends feature events. *eventledger.Ledger satisfies it.
type Recorder interface {
	Append(ctx context.Context, feature string, payload any) (eventledger.Entry, error)
}

// Service runs feature requests and records each one in the ledger.
type Service struct {
	rec    Recorder
	logger *zap.Logger
}

// NewService creates a Service that records through rec.
func NewService(rec Recorder, logger *zap.Logger) *Service {
	return &Service{rec: rec, logger: logger}
}

// Record is the ledger payload of an input/output feature.
type Record[In, Out any] struct {
	Input  In  `json:"input"`
	Output Out `json:"output"`
}

// PlanRequest is the crop planner input.
type PlanRequest struct {
	Crop  string  `json:"crop"`
	Soil  string  `json:"soil"`
	Area  float64 `json:"area"`
	Yield float64 `json:"yield"`
}

// PlanResult is the crop planner output.
type PlanResult struct {
	Yield      string   `json:"yield"`
	Companions []string `json:"companions"`
}

var companionCrops = []string{"Beans", "Sunflowers"}

// Predict projects next season's yield as 110% of the past yield, rounded to
// two decimals.
func (s *Service) Predict(ctx context.Context, req PlanRequest) (PlanResult, error) {
	if strings.TrimSpace(req.Crop) == "" || strings.TrimSpace(req.Soil) == "" {
		return PlanResult{}, fmt.Errorf("%w: crop and soil are required", ErrInvalidRequest)
	}
	if req.Area < 0 || req.Yield < 0 {
		return PlanResult{}, fmt.Errorf("%w: area and yield must be non-negative", ErrInvalidRequest)
	}

	predicted := math.Round(req.Yield*1.1*100) / 100
	result := PlanResult{
		Yield:      formatTons(predicted),
		Companions: append([]string(nil), companionCrops...),
	}
	if err := s.record(ctx, FeatureCropPlanner, Record[PlanRequest, PlanResult]{Input: req, Output: result}); err != nil {
		return PlanResult{}, err
	}
	return result, nil
}

// formatTons renders v with at least one decimal place: 11 → "11.0 tons".
func formatTons(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s + " tons"
}

// Irrigation methods understood by the water simulator.
const (
	IrrigationDrip      = "Drip"
	IrrigationSprinkler = "Sprinkler"
)

// SimulateRequest is the water simulator input.
type SimulateRequest struct {
	Irrigation string `json:"irrigation"`
	Soil       string `json:"soil"`
}

// SimulateResult is the water simulator output, in liters.
type SimulateResult struct {
	Used  int `json:"used"`
	Saved int `json:"saved"`
}

const simulatedUsage = 100

// Simulate estimates the water saved by an irrigation method.
func (s *Service) Simulate(ctx context.Context, req SimulateRequest) (SimulateResult, error) {
	if strings.TrimSpace(req.Irrigation) == "" {
		return SimulateResult{}, fmt.Errorf("%w: irrigation is required", ErrInvalidRequest)
	}

	result := SimulateResult{Used: simulatedUsage, Saved: waterSaved(req.Irrigation)}
	if err := s.record(ctx, FeatureWaterSimulator, Record[SimulateRequest, SimulateResult]{Input: req, Output: result}); err != nil {
		return SimulateResult{}, err
	}
	return result, nil
}

func waterSaved(method string) int {
	switch method {
	case IrrigationDrip:
		return 40
	case IrrigationSprinkler:
		return 20
	default:
		return 5
	}
}

// DashboardData is the eco-score document served to the dashboard.
type DashboardData struct {
	EcoScore        string   `json:"ecoScore"`
	WaterSaved      int      `json:"waterSaved"`
	SoilHealth      float64  `json:"soilHealth"`
	YieldEfficiency int      `json:"yieldEfficiency"`
	Labels          []string `json:"labels"`
	History         []int    `json:"history"`
}

// Dashboard returns the dashboard document and records the access.
func (s *Service) Dashboard(ctx context.Context) (DashboardData, error) {
	data := DashboardData{
		EcoScore:        "Silver",
		WaterSaved:      120,
		SoilHealth:      8.5,
		YieldEfficiency: 92,
		Labels:          []string{"Week 1", "Week 2", "Week 3"},
		History:         []int{60, 80, 92},
	}
	if err := s.record(ctx, FeatureDashboard, data); err != nil {
		return DashboardData{}, err
	}
	return data, nil
}

// OrderRequest is an order placed from the storefront.
type OrderRequest struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
}

// OrderReceipt acknowledges a recorded order.
type OrderReceipt struct {
	Item     string `json:"item"`
	Quantity int    `json:"quantity"`
	Index    int    `json:"index"`
	Hash     string `json:"hash"`
}

// PlaceOrder records an order.
func (s *Service) PlaceOrder(ctx context.Context, req OrderRequest) (OrderReceipt, error) {
	if strings.TrimSpace(req.Item) == "" {
		return OrderReceipt{}, fmt.Errorf("%w: item is required", ErrInvalidRequest)
	}
	if req.Quantity <= 0 {
		return OrderReceipt{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidRequest)
	}

	entry, err := s.rec.Append(ctx, FeatureOrder, req)
	if err != nil {
		s.logger.Error("record order", zap.Error(err))
		return OrderReceipt{}, fmt.Errorf("record %s: %w", FeatureOrder, err)
	}
	return OrderReceipt{
		Item:     req.Item,
		Quantity: req.Quantity,
		Index:    entry.Index,
		Hash:     entry.Hash,
	}, nil
}

func (s *Service) record(ctx context.Context, feature string, payload any) error {
	if _, err := s.rec.Append(ctx, feature, payload); err != nil {
		s.logger.Error("record feature event", zap.String("feature", feature), zap.Error(err))
		return fmt.Errorf("record %s: %w", feature, err)
	}
	return nil
}
