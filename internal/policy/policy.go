// package policy holds the immutable guardrail configuration passed into the
// candidate generator and guardrail selector at call time.
package policy

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

// Tie-break keys accepted in the policy file.
const (
	TieBreakUplift       = "uplift"
	TieBreakDiscountCost = "discount_cost"
	TieBreakMargin       = "margin"
	TieBreakPromotionID  = "promotion_id"
)

// CategoryRule carries the offer economics applied per product category.
type CategoryRule struct {
	MarginBasisPct       float64 `yaml:"margin_basis_pct"`
	MarginFloorPct       float64 `yaml:"margin_floor_pct"`
	MaxDiscountPct       int     `yaml:"max_discount_pct"`
	AllowedDiscountBands []int   `yaml:"allowed_discount_bands"`
	// EIMFloor is the minimum expected incremental margin a candidate in this
	// category must clear to remain eligible.
	EIMFloor float64 `yaml:"eim_floor"`
}

// Policy is the full guardrail configuration for a run. Values are copied on
// load and never mutated afterwards.
type Policy struct {
	FatigueWindowHours     int                     `yaml:"fatigue_window_hours"`
	ModelVersion           string                  `yaml:"model_version"`
	BuildVersion           string                  `yaml:"build_version"`
	CannibalizationPenalty float64                 `yaml:"cannibalization_penalty"`
	TieBreak               []string                `yaml:"tie_break"`
	Default                CategoryRule            `yaml:"default"`
	Categories             map[string]CategoryRule `yaml:"categories"`
}

// FatigueWindow returns the trailing interval during which a prior touch
// disqualifies an offer.
func (p Policy) FatigueWindow() time.Duration {
	return time.Duration(p.FatigueWindowHours) * time.Hour
}

// Rule returns the category rule, falling back to the default rule for
// categories the policy does not name.
func (p Policy) Rule(category string) CategoryRule {
	if r, ok := p.Categories[category]; ok {
		return r
	}
	return p.Default
}

// Validate rejects policies that cannot produce a deterministic, total order.
func (p Policy) Validate() error {
	if p.FatigueWindowHours <= 0 {
		return fmt.Errorf("policy: fatigue_window_hours must be positive, got %d", p.FatigueWindowHours)
	}
	if p.ModelVersion == "" {
		return fmt.Errorf("policy: model_version required")
	}
	for _, key := range p.TieBreak {
		switch key {
		case TieBreakUplift, TieBreakDiscountCost, TieBreakMargin, TieBreakPromotionID:
		default:
			return fmt.Errorf("policy: unknown tie_break key %q", key)
		}
	}
	if len(p.Default.AllowedDiscountBands) == 0 {
		return fmt.Errorf("policy: default.allowed_discount_bands required")
	}
	return nil
}

// Load reads and validates a policy file.
func Load(path string) (Policy, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return parse(b)
}

// Default returns the built-in policy mirroring the production category
// economics.
func Default() Policy {
	p, err := parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default policy invalid: %v", err))
	}
	return p
}

func parse(b []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(b, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}
