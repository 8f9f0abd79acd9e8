package rebill

import (
	"math"
	"sort"
)

// PlanThreshold maps a minimum charged amount to a plan tier.
type PlanThreshold struct {
	MinAmount int64
	Plan      Plan
}

// PlanTable is the single source of truth for amount-to-plan and
// plan-to-amount mapping. The gateway only reports an amount, so every
// place that needs to reconstruct which plan the user paid for goes through
// this table. Keeping it in one place is deliberate: the historical failure
// mode is slightly different thresholds duplicated across call sites.
type PlanTable struct {
	// Thresholds maps minimum monthly amounts to tiers. Amounts below the
	// lowest threshold resolve to PlanFree.
	Thresholds []PlanThreshold

	// MonthlyPrices is the canonical monthly price per paid tier.
	MonthlyPrices map[Plan]int64

	// YearlyDiscount multiplies twelve monthly prices to produce the
	// yearly price.
	YearlyDiscount float64
}

// DefaultPlanTable returns the production tier table: basic 9900,
// plus 19900, pro 29900 per month, yearly at a 30% discount.
func DefaultPlanTable() *PlanTable {
	return &PlanTable{
		Thresholds: []PlanThreshold{
			{MinAmount: 29900, Plan: PlanPro},
			{MinAmount: 19900, Plan: PlanPlus},
			{MinAmount: 9900, Plan: PlanBasic},
		},
		MonthlyPrices: map[Plan]int64{
			PlanBasic: 9900,
			PlanPlus:  19900,
			PlanPro:   29900,
		},
		YearlyDiscount: 0.7,
	}
}

// normalized returns the thresholds sorted by descending MinAmount so
// resolution is independent of the order the table was written in.
func (t *PlanTable) normalized() []PlanThreshold {
	out := make([]PlanThreshold, len(t.Thresholds))
	copy(out, t.Thresholds)
	sort.Slice(out, func(i, j int) bool {
		return out[i].MinAmount > out[j].MinAmount
	})
	return out
}

// PlanForAmount resolves the plan tier a monthly charge amount pays for.
// Amounts below every threshold resolve to PlanFree.
func (t *PlanTable) PlanForAmount(amount int64) Plan {
	for _, th := range t.normalized() {
		if amount >= th.MinAmount {
			return th.Plan
		}
	}
	return PlanFree
}

// PlanForYearlyAmount resolves the plan tier a yearly charge amount pays
// for, using the discounted yearly price points.
func (t *PlanTable) PlanForYearlyAmount(amount int64) Plan {
	for _, th := range t.normalized() {
		if amount >= t.yearlyPrice(th.Plan) {
			return th.Plan
		}
	}
	return PlanFree
}

// AmountForPlan returns the canonical price of a plan under the given
// cycle. PlanFree is always zero. CycleTest charges the monthly price so
// the fast loop exercises real amounts.
func (t *PlanTable) AmountForPlan(plan Plan, cycle Cycle) (int64, error) {
	if plan == PlanFree {
		return 0, nil
	}
	monthly, ok := t.MonthlyPrices[plan]
	if !ok {
		return 0, ErrInvalidPlan
	}
	switch cycle {
	case CycleYearly:
		return t.yearlyPrice(plan), nil
	case CycleMonthly, CycleTest:
		return monthly, nil
	default:
		return 0, ErrInvalidCycle
	}
}

// KnownYearlyAmounts returns the set of yearly price points keyed by
// amount. The ledger reconciler uses it to recognize a yearly payment when
// a historical record carries neither an explicit cycle nor a recognizable
// order name.
func (t *PlanTable) KnownYearlyAmounts() map[int64]Plan {
	out := make(map[int64]Plan, len(t.MonthlyPrices))
	for plan := range t.MonthlyPrices {
		out[t.yearlyPrice(plan)] = plan
	}
	return out
}

func (t *PlanTable) yearlyPrice(plan Plan) int64 {
	monthly := t.MonthlyPrices[plan]
	return int64(math.Round(float64(monthly) * 12 * t.YearlyDiscount))
}
