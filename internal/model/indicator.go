package model

// IndicatorName identifies one of the defined quarterly financial indicators.
type IndicatorName string

// Raw indicators, as reported or extracted from a source.
const (
	TotalIncome           IndicatorName = "total_income"
	PurchaseOfTradedGoods IndicatorName = "purchase_of_traded_goods"
	StockChanges          IndicatorName = "stock_changes"
	EmployeeCost          IndicatorName = "employee_cost"
	OtherExpenses         IndicatorName = "other_expenses"
	Depreciation          IndicatorName = "depreciation"
	Interest              IndicatorName = "interest"
	OtherIncome           IndicatorName = "other_income"
	Tax                   IndicatorName = "tax"
	EBITDA                IndicatorName = "ebitda"
	EBIT                  IndicatorName = "ebit"
	PBT                   IndicatorName = "pbt"
	PAT                   IndicatorName = "pat"
	EPS                   IndicatorName = "eps"
	EBITDAMargin          IndicatorName = "ebitda_margin"
	EBITMargin            IndicatorName = "ebit_margin"
	ProfitMargin          IndicatorName = "profit_margin"
)

// Derived indicators, computed from raw inputs.
const (
	Contribution IndicatorName = "contribution"
	OpEBITDA     IndicatorName = "op_ebitda"
	OpEBIT       IndicatorName = "op_ebit"
	OpPBT        IndicatorName = "op_pbt"

	ContributionPct IndicatorName = "contribution_pct"
	OpEBITDAPct     IndicatorName = "op_ebitda_pct"
	OpEBITPct       IndicatorName = "op_ebit_pct"
	OpPBTPct        IndicatorName = "op_pbt_pct"
	PBTPct          IndicatorName = "pbt_pct"
	PATPct          IndicatorName = "pat_pct"

	TotalIncomeGrowthPct IndicatorName = "total_income_growth_pct"
	OpEBITDAGrowthPct    IndicatorName = "op_ebitda_growth_pct"
	PBTGrowthPct         IndicatorName = "pbt_growth_pct"
	PATGrowthPct         IndicatorName = "pat_growth_pct"
)

// Kind is the unit family of an indicator.
type Kind string

const (
	KindCurrency Kind = "currency"  // ₹ crore
	KindPercent  Kind = "percent"   // 0-100 scale
	KindPerShare Kind = "per_share" // ₹ per share
)

// Role describes how an indicator comes into a record.
type Role string

const (
	RoleRaw     Role = "raw"
	RoleDerived Role = "derived"
	RoleMargin  Role = "margin"
	RoleGrowth  Role = "growth"
)

// IndicatorSpec is the catalog entry for one indicator.
type IndicatorSpec struct {
	Name IndicatorName
	Kind Kind
	Role Role
	// NonNegative marks currency indicators that should never be below zero.
	NonNegative bool
	// Base is the indicator a margin or growth figure is computed from.
	Base IndicatorName
}

var catalog = []IndicatorSpec{
	{Name: TotalIncome, Kind: KindCurrency, Role: RoleRaw, NonNegative: true},
	{Name: PurchaseOfTradedGoods, Kind: KindCurrency, Role: RoleRaw, NonNegative: true},
	{Name: StockChanges, Kind: KindCurrency, Role: RoleRaw},
	{Name: EmployeeCost, Kind: KindCurrency, Role: RoleRaw, NonNegative: true},
	{Name: OtherExpenses, Kind: KindCurrency, Role: RoleRaw, NonNegative: true},
	{Name: Depreciation, Kind: KindCurrency, Role: RoleRaw, NonNegative: true},
	{Name: Interest, Kind: KindCurrency, Role: RoleRaw, NonNegative: true},
	{Name: OtherIncome, Kind: KindCurrency, Role: RoleRaw},
	{Name: Tax, Kind: KindCurrency, Role: RoleRaw},
	{Name: EBITDA, Kind: KindCurrency, Role: RoleRaw},
	{Name: EBIT, Kind: KindCurrency, Role: RoleRaw},
	{Name: PBT, Kind: KindCurrency, Role: RoleRaw},
	{Name: PAT, Kind: KindCurrency, Role: RoleRaw},
	{Name: EPS, Kind: KindPerShare, Role: RoleRaw},
	{Name: EBITDAMargin, Kind: KindPercent, Role: RoleRaw},
	{Name: EBITMargin, Kind: KindPercent, Role: RoleRaw},
	{Name: ProfitMargin, Kind: KindPercent, Role: RoleRaw},

	{Name: Contribution, Kind: KindCurrency, Role: RoleDerived},
	{Name: OpEBITDA, Kind: KindCurrency, Role: RoleDerived},
	{Name: OpEBIT, Kind: KindCurrency, Role: RoleDerived},
	{Name: OpPBT, Kind: KindCurrency, Role: RoleDerived},

	{Name: ContributionPct, Kind: KindPercent, Role: RoleMargin, Base: Contribution},
	{Name: OpEBITDAPct, Kind: KindPercent, Role: RoleMargin, Base: OpEBITDA},
	{Name: OpEBITPct, Kind: KindPercent, Role: RoleMargin, Base: OpEBIT},
	{Name: OpPBTPct, Kind: KindPercent, Role: RoleMargin, Base: OpPBT},
	{Name: PBTPct, Kind: KindPercent, Role: RoleMargin, Base: PBT},
	{Name: PATPct, Kind: KindPercent, Role: RoleMargin, Base: PAT},

	{Name: TotalIncomeGrowthPct, Kind: KindPercent, Role: RoleGrowth, Base: TotalIncome},
	{Name: OpEBITDAGrowthPct, Kind: KindPercent, Role: RoleGrowth, Base: OpEBITDA},
	{Name: PBTGrowthPct, Kind: KindPercent, Role: RoleGrowth, Base: PBT},
	{Name: PATGrowthPct, Kind: KindPercent, Role: RoleGrowth, Base: PAT},
}

var catalogIndex = func() map[IndicatorName]IndicatorSpec {
	m := make(map[IndicatorName]IndicatorSpec, len(catalog))
	for _, s := range catalog {
		m[s.Name] = s
	}
	return m
}()

// Catalog returns every defined indicator in display order.
func Catalog() []IndicatorSpec {
	out := make([]IndicatorSpec, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the catalog entry for name.
func Lookup(name IndicatorName) (IndicatorSpec, bool) {
	s, ok := catalogIndex[name]
	return s, ok
}

// KindOf returns the unit family of name. Unknown names are treated as currency.
func KindOf(name IndicatorName) Kind {
	if s, ok := catalogIndex[name]; ok {
		return s.Kind
	}
	return KindCurrency
}

// CriticalIndicators are the five figures a source must supply for its
// result to be accepted without consulting the next source.
func CriticalIndicators() []IndicatorName {
	return []IndicatorName{TotalIncome, EBITDA, EBIT, PBT, PAT}
}

// SourceKind records where an indicator value came from.
type SourceKind string

const (
	SourceAIText      SourceKind = "ai_text"
	SourceScrapedHTML SourceKind = "scraped_html"
	SourceDerived     SourceKind = "derived"
)

// Indicator is a single extracted or computed financial fact.
type Indicator struct {
	Name       IndicatorName `json:"name"`
	Value      float64       `json:"value"`
	Confidence float64       `json:"confidence"`
	RawText    string        `json:"raw_text,omitempty"`
	Source     SourceKind    `json:"source"`
	Location   string        `json:"location,omitempty"`
}

// Completeness is the fraction of catalog indicators present in inds.
func Completeness(inds map[IndicatorName]Indicator) float64 {
	n := 0
	for _, s := range catalog {
		if _, ok := inds[s.Name]; ok {
			n++
		}
	}
	return float64(n) / float64(len(catalog))
}
