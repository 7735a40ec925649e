// Package reorder is the boundary to the reorder rule engine, which turns
// rolling demand statistics into MAX/MIN/reorder-point values, and the stores
// that persist its output.
package reorder

import (
	"context"
	"fmt"
	"math"

	"stockpulse.io/stockpulse/internal/domain"
)

// Result names the engine outputs the pipeline consumes.
const (
	ResultMax          = "MAX"
	ResultMin          = "MIN"
	ResultPointReorder = "POINT_REORDER"
)

// Input is what the engine sees for one pair.
type Input struct {
	Pair   domain.Pair
	Hybrid bool
	// Stats holds the rolling statistics of the pair by record type.
	Stats map[domain.RecordType]domain.RollingStat
}

// Result maps rule names to values.
type Result map[string]float64

// Orderpoint extracts the MAX/MIN/POINT_REORDER values.
func (r Result) Orderpoint(p domain.Pair, locationID int64) (domain.Orderpoint, error) {
	op := domain.Orderpoint{ProductID: p.ProductID, WarehouseID: p.WarehouseID, LocationID: locationID}
	for name, dst := range map[string]*float64{
		ResultMax:          &op.ProductMaxQty,
		ResultMin:          &op.ProductMinQty,
		ResultPointReorder: &op.PointReorder,
	} {
		v, ok := r[name]
		if !ok {
			return op, fmt.Errorf("rule engine result for %s lacks %s", p, name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return op, fmt.Errorf("rule engine result for %s: %s is not finite", p, name)
		}
		*dst = v
	}
	return op, nil
}

// Engine evaluates reorder rules. Implementations own the evaluation order
// of their rules and must honour ctx.
type Engine interface {
	Evaluate(ctx context.Context, rules *RuleSet, in Input) (Result, error)
}

// Rule is one named step of the formula engine. It reads the results of the
// rules before it from scope.
type Rule struct {
	Name string
	Eval func(scope map[string]float64) float64
}

// FormulaRules are the default rules in evaluation order. Inputs MEAN,
// STDDEV, LEAD_TIME, REVIEW and SERVICE_FACTOR are seeded into the scope.
var FormulaRules = []Rule{
	{Name: "SAFETY_STOCK", Eval: func(s map[string]float64) float64 {
		return s["SERVICE_FACTOR"] * s["STDDEV"] * math.Sqrt(s["LEAD_TIME"])
	}},
	{Name: "DEMAND_LEAD_TIME", Eval: func(s map[string]float64) float64 {
		return s["MEAN"] * s["LEAD_TIME"]
	}},
	{Name: ResultPointReorder, Eval: func(s map[string]float64) float64 {
		return math.Ceil(math.Max(s["DEMAND_LEAD_TIME"]+s["SAFETY_STOCK"], 0))
	}},
	{Name: ResultMin, Eval: func(s map[string]float64) float64 {
		return s[ResultPointReorder]
	}},
	{Name: ResultMax, Eval: func(s map[string]float64) float64 {
		return math.Max(s[ResultMin], math.Ceil(s[ResultMin]+s["MEAN"]*s["REVIEW"]))
	}},
}

// FormulaEngine is the built-in engine: safety stock from the service
// factor, demand standard deviation and lead time.
type FormulaEngine struct {
	Rules []Rule
}

// NewFormulaEngine returns an engine running FormulaRules.
func NewFormulaEngine() *FormulaEngine {
	return &FormulaEngine{Rules: FormulaRules}
}

// Evaluate implements Engine.
func (e *FormulaEngine) Evaluate(ctx context.Context, rules *RuleSet, in Input) (Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rules == nil {
		rules = DefaultRuleSet()
	}
	params := rules.Params(in.Pair)
	rt := params.RecordType
	if in.Hybrid || rules.Hybrid(in.Pair.WarehouseID) {
		rt = domain.RecordCombined
	}
	var ws domain.WindowStats
	if st, ok := in.Stats[rt]; ok {
		ws, _ = st.Window(params.Window)
	}

	scope := map[string]float64{
		"MEAN":           math.Max(ws.Mean, 0),
		"STDDEV":         ws.StdDev,
		"LEAD_TIME":      params.LeadTimeDays,
		"REVIEW":         params.ReviewDays,
		"SERVICE_FACTOR": params.ServiceFactor,
	}
	out := Result{}
	for _, r := range e.Rules {
		v := r.Eval(scope)
		scope[r.Name] = v
		out[r.Name] = v
	}
	return out, nil
}
