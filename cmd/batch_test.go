package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finresearch-cli/internal/model"
)

func TestExpandItems(t *testing.T) {
	items, err := expandItems([]string{"TCS", " Infosys "}, []string{"q1", "3"}, 2025)
	require.NoError(t, err)
	assert.Equal(t, []model.Period{
		{Company: "TCS", Quarter: "Q1", Year: 2025},
		{Company: "TCS", Quarter: "Q3", Year: 2025},
		{Company: "Infosys", Quarter: "Q1", Year: 2025},
		{Company: "Infosys", Quarter: "Q3", Year: 2025},
	}, items)

	items, err = expandItems([]string{"Wipro"}, nil, 2024)
	require.NoError(t, err)
	assert.Len(t, items, 4)
	assert.Equal(t, "Q4", items[3].Quarter)
}

func TestExpandItems_Errors(t *testing.T) {
	tests := []struct {
		name      string
		companies []string
		quarters  []string
		year      int
	}{
		{"no companies", nil, nil, 2025},
		{"blank companies", []string{" ", ""}, nil, 2025},
		{"bad quarter", []string{"TCS"}, []string{"Q5"}, 2025},
		{"missing year", []string{"TCS"}, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := expandItems(tt.companies, tt.quarters, tt.year)
			assert.Error(t, err)
		})
	}
}

func TestLoadBatchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.yaml")
	data := `
items:
  - company: Infosys
    quarter: q3
    year: 2025
  - company: TCS
    quarter: Q4
    year: 2024
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	items, err := loadBatchFile(path)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, model.Period{Company: "Infosys", Quarter: "Q3", Year: 2025}, items[0])
	assert.Equal(t, "Q4", items[1].Quarter)
}

func TestLoadBatchFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := loadBatchFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	cases := map[string]string{
		"empty.yaml":   "items: []\n",
		"quarter.yaml": "items:\n  - company: TCS\n    quarter: Q9\n    year: 2025\n",
		"company.yaml": "items:\n  - quarter: Q1\n    year: 2025\n",
		"syntax.yaml":  "items: [\n",
	}
	for name, body := range cases {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		_, err := loadBatchFile(path)
		assert.Error(t, err, name)
	}
}

func TestPrintSummary(t *testing.T) {
	rec := model.NewRecord(model.Period{Company: "TCS", Quarter: "Q1", Year: 2025})
	rec.Source = "moneycontrol"
	snap := &model.BatchSnapshot{
		ID:        "job-1",
		Succeeded: 1,
		Failed:    1,
		Items: []model.ItemResult{
			{Period: rec.Period, Status: model.ItemSucceeded, Record: rec},
			{Period: model.Period{Company: "Wipro", Quarter: "Q1", Year: 2025}, Status: model.ItemFailed, Error: "no sources answered"},
		},
	}
	assert.NotPanics(t, func() { printSummary(snap) })
}
