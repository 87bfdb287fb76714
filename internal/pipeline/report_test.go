package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finresearch-cli/internal/model"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name model.IndicatorName
		want string
	}{
		{model.TotalIncome, "Total Income"},
		{model.OpEBITDAPct, "Op. EBITDA %"},
		{model.PATGrowthPct, "PAT Growth %"},
		{model.PurchaseOfTradedGoods, "Purchase Of Traded Goods"},
		{model.EPS, "EPS"},
	}
	for _, tt := range tests {
		t.Run(string(tt.name), func(t *testing.T) {
			assert.Equal(t, tt.want, DisplayName(tt.name))
		})
	}
}

func TestFormatReport(t *testing.T) {
	res, err := newPipeline(tcsSources(), nil).Run(context.Background(), q3)
	require.NoError(t, err)

	out := FormatReport(res)
	assert.Contains(t, out, "# TCS Q3 FY2024-25\n")
	assert.Contains(t, out, "Quarter ending December 2024")
	assert.Contains(t, out, "- Source: perplexity+moneycontrol\n")
	assert.Contains(t, out, "| Total Income | ₹ 63973.00 Cr | 90% | perplexity |")
	assert.Contains(t, out, "| PAT | ₹ 12380.00 Cr | 90% | moneycontrol |")
	assert.Contains(t, out, "| PAT % |")
	assert.Contains(t, out, "## Validation\n")
}

func TestFormatReport_Empty(t *testing.T) {
	rec := model.NewRecord(q3)
	rec.Source = model.SourcePartial
	out := FormatReport(&model.Result{Record: rec})
	assert.Contains(t, out, "No indicators found.")
	assert.NotContains(t, out, "## Validation")
}
