package activity

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/jmerrifield20/tsa-ledger/internal/eventledger"
)

// soilScores rates soil types for the dashboard's soil health figure.
var soilScores = map[string]float64{
	"Loamy":  80,
	"Clay":   60,
	"Sandy":  50,
	"Silty":  70,
	"Peaty":  75,
	"Chalky": 55,
}

const defaultSoilScore = 50

// Summary aggregates the planner and simulator history recorded in the ledger.
type Summary struct {
	Predictions     int     `json:"predictions"`
	Simulations     int     `json:"simulations"`
	YieldEfficiency float64 `json:"yieldEfficiency"`
	SoilHealth      float64 `json:"soilHealth"`
	WaterSaved      float64 `json:"waterSaved"`
	LastIndex       int     `json:"lastIndex"`
}

// Tally folds ledger entries into a Summary one at a time, so it can be fed
// from a snapshot and then from a live subscription. The zero value is ready
// to use.
type Tally struct {
	predictions   int
	efficiencyN   int
	efficiencySum float64
	soilSum       float64
	simulations   int
	waterSaved    float64
	lastIndex     int
}

// Add folds e into the tally. Entries of other features are ignored, as are
// planner and simulator entries whose payload does not have the
// {input, output} shape.
func (t *Tally) Add(e eventledger.Entry) {
	if e.Index > t.lastIndex {
		t.lastIndex = e.Index
	}

	payload, ok := e.PayloadMap()
	if !ok {
		return
	}
	input, _ := payload["input"].(map[string]any)
	output, _ := payload["output"].(map[string]any)
	if input == nil || output == nil {
		return
	}

	switch e.Feature {
	case FeatureCropPlanner:
		t.predictions++
		soil, _ := input["soil"].(string)
		if score, ok := soilScores[soil]; ok {
			t.soilSum += score
		} else {
			t.soilSum += defaultSoilScore
		}
		past, okPast := number(input["yield"])
		predicted, okPred := number(output["yield"])
		if okPast && okPred && past > 0 {
			t.efficiencySum += predicted / past * 100
			t.efficiencyN++
		}
	case FeatureWaterSimulator:
		if saved, ok := number(output["saved"]); ok {
			t.simulations++
			t.waterSaved += saved
		}
	}
}

// Summary returns the current aggregate.
func (t *Tally) Summary() Summary {
	s := Summary{
		Predictions: t.predictions,
		Simulations: t.simulations,
		WaterSaved:  t.waterSaved,
		LastIndex:   t.lastIndex,
	}
	if t.efficiencyN > 0 {
		s.YieldEfficiency = round1(t.efficiencySum / float64(t.efficiencyN))
	}
	if t.predictions > 0 {
		s.SoilHealth = math.Round(t.soilSum / float64(t.predictions))
	}
	return s
}

// Summarize aggregates entries.
func Summarize(entries []eventledger.Entry) Summary {
	var t Tally
	for _, e := range entries {
		t.Add(e)
	}
	return t.Summary()
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// number reads a numeric payload value. Strings such as "11.0 tons" yield
// their leading number.
func number(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case string:
		fields := strings.Fields(n)
		if len(fields) == 0 {
			return 0, false
		}
		f, err := strconv.ParseFloat(fields[0], 64)
		return f, err == nil
	default:
		return 0, false
	}
}
