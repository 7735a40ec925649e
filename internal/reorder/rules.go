package reorder

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"stockpulse.io/stockpulse/internal/domain"
)

// Params are the resolved inputs of the formula rules for one pair.
type Params struct {
	LeadTimeDays  float64
	ReviewDays    float64
	ServiceFactor float64
	Window        int
	RecordType    domain.RecordType
}

// paramsYAML overrides Params field by field.
type paramsYAML struct {
	LeadTimeDays  *float64 `yaml:"lead_time_days"`
	ReviewDays    *float64 `yaml:"review_days"`
	ServiceFactor *float64 `yaml:"service_factor"`
	Window        *int     `yaml:"window"`
	RecordType    *string  `yaml:"record_type"`
}

func (o paramsYAML) apply(p Params) Params {
	if o.LeadTimeDays != nil {
		p.LeadTimeDays = *o.LeadTimeDays
	}
	if o.ReviewDays != nil {
		p.ReviewDays = *o.ReviewDays
	}
	if o.ServiceFactor != nil {
		p.ServiceFactor = *o.ServiceFactor
	}
	if o.Window != nil {
		p.Window = *o.Window
	}
	if o.RecordType != nil {
		p.RecordType = domain.RecordType(*o.RecordType)
	}
	return p
}

type warehouseYAML struct {
	ID         int64 `yaml:"id"`
	Hybrid     bool  `yaml:"hybrid"`
	paramsYAML `yaml:",inline"`
}

type productYAML struct {
	ID          int64 `yaml:"id"`
	WarehouseID int64 `yaml:"warehouse_id"`
	paramsYAML  `yaml:",inline"`
}

type ruleSetYAML struct {
	Version    string          `yaml:"version"`
	Defaults   paramsYAML      `yaml:"defaults"`
	Warehouses []warehouseYAML `yaml:"warehouses"`
	Products   []productYAML   `yaml:"products"`
}

// RuleSet is an immutable snapshot of reorder parameters. Lookups resolve
// defaults, then warehouse, then product, then product-at-warehouse.
type RuleSet struct {
	Version    string
	defaults   Params
	warehouses map[int64]warehouseYAML
	products   map[domain.Pair]paramsYAML
}

// DefaultParams are used when no rules file overrides them.
func DefaultParams() Params {
	return Params{LeadTimeDays: 7, ReviewDays: 14, ServiceFactor: 1.65, Window: 30, RecordType: domain.RecordSale}
}

// DefaultRuleSet returns a rule set with DefaultParams only.
func DefaultRuleSet() *RuleSet {
	return &RuleSet{
		Version:    "default",
		defaults:   DefaultParams(),
		warehouses: map[int64]warehouseYAML{},
		products:   map[domain.Pair]paramsYAML{},
	}
}

// ParseRuleSet decodes and validates a YAML rule set.
func ParseRuleSet(data []byte) (*RuleSet, error) {
	var raw ruleSetYAML
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	rs := DefaultRuleSet()
	rs.Version = raw.Version
	rs.defaults = raw.Defaults.apply(rs.defaults)
	if err := validate(rs.defaults, "defaults"); err != nil {
		return nil, err
	}
	for _, w := range raw.Warehouses {
		if w.ID <= 0 {
			return nil, fmt.Errorf("rules: warehouse id must be positive, got %d", w.ID)
		}
		if err := validate(w.paramsYAML.apply(rs.defaults), fmt.Sprintf("warehouse %d", w.ID)); err != nil {
			return nil, err
		}
		rs.warehouses[w.ID] = w
	}
	for _, p := range raw.Products {
		if p.ID <= 0 {
			return nil, fmt.Errorf("rules: product id must be positive, got %d", p.ID)
		}
		key := domain.Pair{ProductID: p.ID, WarehouseID: p.WarehouseID}
		rs.products[key] = p.paramsYAML
	}
	for key := range rs.products {
		if err := validate(rs.Params(key), "product "+key.String()); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// LoadRuleSet reads a YAML rule set from path.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	return ParseRuleSet(data)
}

// Params resolves the parameters of a pair.
func (rs *RuleSet) Params(p domain.Pair) Params {
	out := rs.defaults
	if w, ok := rs.warehouses[p.WarehouseID]; ok {
		out = w.paramsYAML.apply(out)
	}
	if o, ok := rs.products[domain.Pair{ProductID: p.ProductID}]; ok {
		out = o.apply(out)
	}
	if p.WarehouseID != 0 {
		if o, ok := rs.products[p]; ok {
			out = o.apply(out)
		}
	}
	return out
}

// Hybrid reports whether the rules mark a warehouse hybrid.
func (rs *RuleSet) Hybrid(warehouseID int64) bool {
	w, ok := rs.warehouses[warehouseID]
	return ok && w.Hybrid
}

// HybridWarehouses lists the warehouses marked hybrid.
func (rs *RuleSet) HybridWarehouses() []int64 {
	var out []int64
	for id, w := range rs.warehouses {
		if w.Hybrid {
			out = append(out, id)
		}
	}
	return out
}

func validate(p Params, where string) error {
	switch {
	case p.LeadTimeDays < 0:
		return fmt.Errorf("rules %s: lead_time_days must not be negative", where)
	case p.ReviewDays < 0:
		return fmt.Errorf("rules %s: review_days must not be negative", where)
	case p.ServiceFactor < 0:
		return fmt.Errorf("rules %s: service_factor must not be negative", where)
	case !domain.ValidWindow(p.Window):
		return fmt.Errorf("rules %s: window %d is not one of %v", where, p.Window, domain.Windows)
	case !p.RecordType.ValidStat():
		return fmt.Errorf("rules %s: unknown record_type %q", where, p.RecordType)
	}
	return nil
}
