package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finresearch-cli/internal/extract"
	"github.com/sells-group/finresearch-cli/internal/model"
)

const answer = `Infosys FY2024-25 Q3 results (quarter ending December 2024)

| Metric | Value (INR Cr) |
|---|---|
| Total Income | 42,994 |
| PBT | 9,100 |
| PAT | 6,806 |
`

func writeAnswer(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "answer.md")
	require.NoError(t, os.WriteFile(path, []byte(answer), 0o644))
	return path
}

func TestExtractHints(t *testing.T) {
	h, err := extractHints("Infosys", "q3", 2025)
	require.NoError(t, err)
	assert.Equal(t, extract.Hints{Company: "Infosys", Quarter: "Q3", Year: 2025}, h)

	h, err = extractHints("", "", 0)
	require.NoError(t, err)
	assert.Empty(t, h.Quarter)

	_, err = extractHints("Infosys", "Q7", 2025)
	assert.Error(t, err)
}

func TestExtractCommand_Text(t *testing.T) {
	withConfig(t)
	path := writeAnswer(t)

	var out bytes.Buffer
	extractCmd.SetOut(&out)
	t.Cleanup(func() { extractCmd.SetOut(nil) })

	require.NoError(t, extractCmd.RunE(extractCmd, []string{path}))
	assert.Contains(t, out.String(), "Total Income")
	assert.Contains(t, out.String(), "42994.00")
	assert.Contains(t, out.String(), "PAT")
}

func TestExtractCommand_JSON(t *testing.T) {
	withConfig(t)
	path := writeAnswer(t)

	extractJSON = true
	t.Cleanup(func() { extractJSON = false })

	var out bytes.Buffer
	extractCmd.SetOut(&out)
	t.Cleanup(func() { extractCmd.SetOut(nil) })

	require.NoError(t, extractCmd.RunE(extractCmd, []string{path}))

	var res extract.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.Equal(t, 6806.0, res.Indicators[model.PAT].Value)
	assert.Equal(t, 42994.0, res.Indicators[model.TotalIncome].Value)
}

func TestExtractCommand_MissingFile(t *testing.T) {
	withConfig(t)
	err := extractCmd.RunE(extractCmd, []string{filepath.Join(t.TempDir(), "nope.md")})
	assert.Error(t, err)
}
