package extract

import "github.com/sells-group/finresearch-cli/internal/model"

// Config holds the extraction thresholds and the label dictionary.
type Config struct {
	// Confidence per match style.
	TableConfidence    float64
	KeyValueConfidence float64
	ProseConfidence    float64
	// MinConfidence drops candidates at or below this value.
	MinConfidence float64

	// Context multipliers applied to non-table matches when the text never
	// mentions the hinted company or period.
	CompanyMissPenalty float64
	PeriodMissPenalty  float64

	// PBTEpsilon rejects a pbt that equals total_income within this margin.
	PBTEpsilon float64
	// PATFloor and IncomeCeiling reject a small non-negative pat when
	// total_income is large.
	PATFloor      float64
	IncomeCeiling float64

	// Labels maps each indicator to its label variants in priority order.
	Labels map[model.IndicatorName][]string
}

// DefaultConfig returns the tuned defaults.
func DefaultConfig() Config {
	return Config{
		TableConfidence:    1.0,
		KeyValueConfidence: 0.9,
		ProseConfidence:    0.8,
		MinConfidence:      0,
		CompanyMissPenalty: 0.3,
		PeriodMissPenalty:  0.2,
		PBTEpsilon:         1.0,
		PATFloor:           100,
		IncomeCeiling:      10000,
		Labels:             DefaultLabels(),
	}
}

// DefaultLabels returns the built-in label dictionary. Variants cover AI
// answers as well as the row captions of the Moneycontrol results table.
func DefaultLabels() map[model.IndicatorName][]string {
	return map[model.IndicatorName][]string{
		model.TotalIncome: {
			"total income", "total income from operations", "total revenue",
			"revenue from operations", "net sales/income from operations",
			"net sales", "revenue", "sales",
		},
		model.PurchaseOfTradedGoods: {
			"purchase of traded goods", "purchases of stock-in-trade",
			"purchase of stock-in-trade", "cost of materials consumed",
			"cost of goods sold", "raw material cost", "cogs",
		},
		model.StockChanges: {
			"stock changes", "increase/decrease in stocks",
			"changes in inventories", "change in inventories", "inventory change",
		},
		model.EmployeeCost: {
			"employee cost", "employees cost", "employee benefit expenses",
			"employee benefits expense", "employee expenses", "personnel cost", "staff cost",
		},
		model.OtherExpenses: {
			"other expenses", "other expenditure", "operating expenses", "other costs",
		},
		model.Depreciation: {
			"depreciation", "depreciation and amortisation", "depreciation and amortization",
			"depreciation & amortization", "depreciation & amortisation", "d&a", "amortization",
		},
		model.Interest: {
			"interest", "interest expense", "finance costs", "finance cost",
		},
		model.OtherIncome: {
			"other income", "non-operating income",
		},
		model.Tax: {
			"tax", "tax expense", "total tax expense", "income tax", "provision for tax",
		},
		model.EBITDA: {
			"ebitda", "pbdit", "operating ebitda",
		},
		model.EBIT: {
			"ebit", "pbit", "operating ebit",
		},
		model.PBT: {
			"pbt", "profit before tax", "p/l before tax", "profit/(loss) before tax",
		},
		model.PAT: {
			"pat", "profit after tax", "net profit", "net profit/(loss) for the period",
			"p/l after tax from ord. activities", "net income",
		},
		model.EPS: {
			"eps", "basic eps", "diluted eps", "earnings per share",
		},
		model.EBITDAMargin: {
			"ebitda margin", "operating margin",
		},
		model.EBITMargin: {
			"ebit margin",
		},
		model.ProfitMargin: {
			"profit margin", "net profit margin", "pat margin", "net margin",
		},
	}
}
