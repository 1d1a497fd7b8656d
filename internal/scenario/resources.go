package scenario

import (
	"fmt"
	"maps"
	"math"
	"sort"
	"sync"

	"hegemony-server/internal/shared/errors"
)

// CostMode selects whether ApplyCost spends or returns resources.
type CostMode string

const (
	CostCommit CostMode = "commit"
	CostRefund CostMode = "refund"
)

type CostOptions struct {
	// AllowDebt lets balances go below zero and below the resource minimum.
	AllowDebt bool
}

// ResourceRegistry keeps resource definitions and conversion rules per
// scenario.
type ResourceRegistry struct {
	mu    sync.RWMutex
	defs  map[string]map[string]ResourceDef
	rules map[string]map[string]map[string]ConversionRule
}

func NewResourceRegistry() *ResourceRegistry {
	return &ResourceRegistry{
		defs:  make(map[string]map[string]ResourceDef),
		rules: make(map[string]map[string]map[string]ConversionRule),
	}
}

// Register replaces every definition and rule of scenario.
func (r *ResourceRegistry) Register(scenario string, defs []ResourceDef, rules []ConversionRule) {
	byID := make(map[string]ResourceDef, len(defs))
	for _, d := range defs {
		byID[d.ID] = d
	}

	graph := make(map[string]map[string]ConversionRule)
	for _, rule := range rules {
		if graph[rule.From] == nil {
			graph[rule.From] = make(map[string]ConversionRule)
		}
		graph[rule.From][rule.To] = rule
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[scenario] = byID
	r.rules[scenario] = graph
}

func (r *ResourceRegistry) Definition(scenario, id string) (ResourceDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[scenario][id]
	return d, ok
}

// Definitions returns the scenario's resources sorted by id.
func (r *ResourceRegistry) Definitions(scenario string) []ResourceDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ResourceDef, 0, len(r.defs[scenario]))
	for _, d := range r.defs[scenario] {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CanConvert reports whether a direct conversion from -> to exists.
func (r *ResourceRegistry) CanConvert(scenario, from, to string) bool {
	_, ok := r.ConversionRule(scenario, from, to)
	return ok
}

func (r *ResourceRegistry) ConversionRule(scenario, from, to string) (ConversionRule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.rules[scenario][from][to]
	return rule, ok
}

// Convert returns how much of to is obtained for amount of from, rounded to
// the precision of the target resource.
func (r *ResourceRegistry) Convert(scenario, from, to string, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, errors.Validationf("conversion amount must be positive, got %v", amount)
	}

	rule, ok := r.ConversionRule(scenario, from, to)
	if !ok {
		return 0, errors.Validationf("no conversion from %s to %s in scenario %s", from, to, scenario)
	}

	out := amount*rule.Rate - rule.Fee
	if out < 0 {
		out = 0
	}
	if def, ok := r.Definition(scenario, to); ok {
		out = round(out, def.Precision)
	}
	return out, nil
}

// ValidateCost checks that paying costs from balances is allowed. A negative
// cost is a gain and is checked against the resource maximum.
func (r *ResourceRegistry) ValidateCost(scenario string, balances, costs map[string]float64, opts CostOptions) error {
	_, err := r.settle(scenario, balances, costs, -1, opts)
	return err
}

// ApplyCost returns the balances after committing or refunding costs. The
// input map is not modified.
func (r *ResourceRegistry) ApplyCost(scenario string, balances, costs map[string]float64, mode CostMode, opts CostOptions) (map[string]float64, error) {
	switch mode {
	case CostCommit:
		return r.settle(scenario, balances, costs, -1, opts)
	case CostRefund:
		return r.settle(scenario, balances, costs, 1, opts)
	default:
		return nil, errors.Validationf("unknown cost mode %q", mode)
	}
}

func (r *ResourceRegistry) settle(scenario string, balances, costs map[string]float64, sign float64, opts CostOptions) (map[string]float64, error) {
	out := maps.Clone(balances)
	if out == nil {
		out = make(map[string]float64, len(costs))
	}

	ids := make([]string, 0, len(costs))
	for id := range costs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		def, ok := r.Definition(scenario, id)
		if !ok {
			errs = append(errs, fmt.Errorf("unknown resource %q", id))
			continue
		}

		next := round(out[id]+sign*costs[id], def.Precision)
		if !opts.AllowDebt {
			floor := 0.0
			if def.Min != nil {
				floor = *def.Min
			}
			if next < floor {
				errs = append(errs, fmt.Errorf("insufficient %s: have %v, need %v", id, out[id], costs[id]))
				continue
			}
		}
		if def.Max != nil && next > *def.Max {
			errs = append(errs, fmt.Errorf("%s would exceed maximum %v", id, *def.Max))
			continue
		}
		out[id] = next
	}

	if len(errs) > 0 {
		return nil, errors.WrapValidation("resource cost rejected", errors.Join(errs...))
	}
	return out, nil
}

func round(v float64, precision int) float64 {
	if precision < 0 {
		return v
	}
	p := math.Pow(10, float64(precision))
	return math.Round(v*p) / p
}
