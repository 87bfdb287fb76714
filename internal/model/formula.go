package model

import "strings"

// Term is one signed input of a Formula.
type Term struct {
	Name IndicatorName
	Sign float64
}

// Formula defines a derived currency indicator as a signed sum of inputs.
type Formula struct {
	Output IndicatorName
	Terms  []Term
}

// Formulas returns the derivation chain in evaluation order. Later formulas
// may depend on the output of earlier ones.
func Formulas() []Formula {
	return []Formula{
		{Output: Contribution, Terms: []Term{{TotalIncome, 1}, {PurchaseOfTradedGoods, -1}, {StockChanges, -1}}},
		{Output: OpEBITDA, Terms: []Term{{Contribution, 1}, {EmployeeCost, -1}, {OtherExpenses, -1}}},
		{Output: OpEBIT, Terms: []Term{{OpEBITDA, 1}, {Depreciation, -1}}},
		{Output: OpPBT, Terms: []Term{{OpEBIT, 1}, {Interest, -1}}},
		{Output: PBT, Terms: []Term{{OpPBT, 1}, {OtherIncome, 1}}},
		{Output: PAT, Terms: []Term{{PBT, 1}, {Tax, -1}}},
	}
}

// Evaluate computes the formula from inds. It reports false when any input
// is missing.
func (f Formula) Evaluate(inds map[IndicatorName]Indicator) (float64, bool) {
	var sum float64
	for _, t := range f.Terms {
		ind, ok := inds[t.Name]
		if !ok {
			return 0, false
		}
		sum += t.Sign * ind.Value
	}
	return sum, true
}

// MinConfidence is the lowest confidence among the formula's inputs.
func (f Formula) MinConfidence(inds map[IndicatorName]Indicator) float64 {
	lowest := 1.0
	for _, t := range f.Terms {
		if ind, ok := inds[t.Name]; ok && ind.Confidence < lowest {
			lowest = ind.Confidence
		}
	}
	return lowest
}

// String renders the formula, e.g. "op_ebit - interest".
func (f Formula) String() string {
	var b strings.Builder
	for i, t := range f.Terms {
		switch {
		case i == 0 && t.Sign < 0:
			b.WriteString("-")
		case i > 0 && t.Sign < 0:
			b.WriteString(" - ")
		case i > 0:
			b.WriteString(" + ")
		}
		b.WriteString(string(t.Name))
	}
	return b.String()
}

// Margins returns the margin indicators in catalog order.
func Margins() []IndicatorSpec {
	return byRole(RoleMargin)
}

// Growths returns the growth indicators in catalog order.
func Growths() []IndicatorSpec {
	return byRole(RoleGrowth)
}

func byRole(r Role) []IndicatorSpec {
	var out []IndicatorSpec
	for _, s := range catalog {
		if s.Role == r {
			out = append(out, s)
		}
	}
	return out
}
