package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finresearch-cli/internal/extract"
	"github.com/sells-group/finresearch-cli/internal/fetcher"
	"github.com/sells-group/finresearch-cli/internal/model"
	"github.com/sells-group/finresearch-cli/internal/resilience"
)

const infosysResults = `<html><body>
<table class="mctable1">
<tr><td>Quarterly Results of Infosys (in Rs. Cr.)</td><td>Mar '25</td><td>Dec '24</td><td>Sep '24</td></tr>
<tr><td>Net Sales/Income from operations</td><td>40,925.00</td><td>41,764.00</td><td>40,986.00</td></tr>
<tr><td>Employees Cost</td><td>21,749.00</td><td>22,069.00</td><td>21,564.00</td></tr>
<tr><td>Depreciation</td><td>1,150.00</td><td>1,203.00</td><td>1,160.00</td></tr>
<tr><td>P/L Before Tax</td><td>9,508.00</td><td>9,423.00</td><td>9,045.00</td></tr>
<tr><td>Net Profit/(Loss) For the Period</td><td>7,033.00</td><td>6,806.00</td><td>6,506.00</td></tr>
</table>
</body></html>`

func TestDirectory(t *testing.T) {
	dir := NewDirectory(DefaultCompanies()...)
	assert.Len(t, dir.Companies(), 14)

	tests := []struct {
		name string
		slug string
		ok   bool
	}{
		{"Infosys", "infosys", true},
		{"infosys ltd.", "infosys", true},
		{"  TECH   MAHINDRA ", "techmahindra", true},
		{"LT Technology Services Limited", "lttechnologyservices", true},
		{"Accenture", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := dir.Lookup(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.slug, c.Slug)
		})
	}

	dir.Add(model.Company{Name: "Sonata Software", Slug: "sonatasoftware", Code: "SS"})
	c, ok := dir.Lookup("sonata software")
	require.True(t, ok)
	assert.Equal(t, "SS", c.Code)
	assert.Len(t, dir.Companies(), 15)
}

func TestQuarterlyResultsURL(t *testing.T) {
	c := model.Company{Name: "Infosys", Slug: "infosys", Code: "IT"}
	assert.Equal(t,
		"https://www.moneycontrol.com/financials/infosys/results/quarterly-results/IT",
		QuarterlyResultsURL(MoneycontrolBaseURL, c))
	assert.Equal(t, "http://x/financials/infosys/results/quarterly-results/IT", QuarterlyResultsURL("http://x/", c))
}

func newTestFetcher() *fetcher.HTTPFetcher {
	return fetcher.NewHTTPFetcher(fetcher.Options{
		RequestsPerSecond: 100,
		Burst:             10,
		Retry:             resilience.Policy{MaxAttempts: 1},
	})
}

func TestMoneycontrol_Extract(t *testing.T) {
	var path string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(infosysResults))
	}))
	defer ts.Close()

	src := NewMoneycontrol(newTestFetcher(), NewDirectory(DefaultCompanies()...), extract.New(extract.DefaultConfig()), ts.URL)
	assert.Equal(t, "moneycontrol", src.Name())

	inds, err := src.Extract(context.Background(), model.Period{Company: "Infosys", Quarter: "Q3", Year: 2025})
	require.NoError(t, err)
	assert.Equal(t, "/financials/infosys/results/quarterly-results/IT", path)

	assert.Equal(t, 41764.0, inds[model.TotalIncome].Value)
	assert.Equal(t, 22069.0, inds[model.EmployeeCost].Value)
	assert.Equal(t, 9423.0, inds[model.PBT].Value)
	assert.Equal(t, 6806.0, inds[model.PAT].Value)
	assert.Equal(t, model.SourceScrapedHTML, inds[model.PAT].Source)
	assert.Equal(t, 1.0, inds[model.PAT].Confidence)
}

func TestMoneycontrol_Errors(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer ts.Close()

	src := NewMoneycontrol(newTestFetcher(), NewDirectory(DefaultCompanies()...), extract.New(extract.DefaultConfig()), ts.URL)

	_, err := src.Extract(context.Background(), model.Period{Company: "Accenture", Quarter: "Q1", Year: 2025})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no directory entry for "Accenture"`)

	_, err = src.Extract(context.Background(), model.Period{Company: "Wipro", Quarter: "Q1", Year: 2025})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source: moneycontrol fetch Wipro/Q1/2025")
}
