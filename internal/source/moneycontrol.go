package source

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/sells-group/finresearch-cli/internal/extract"
	"github.com/sells-group/finresearch-cli/internal/fetcher"
	"github.com/sells-group/finresearch-cli/internal/model"
)

// MoneycontrolBaseURL is the portal root used to build results URLs.
const MoneycontrolBaseURL = "https://www.moneycontrol.com"

// DefaultCompanies is the built-in portal directory.
func DefaultCompanies() []model.Company {
	const sector = "computers-software"
	return []model.Company{
		{Name: "TCS", Slug: "tataconsultancyservices", Code: "TCS", Sector: sector},
		{Name: "Infosys", Slug: "infosys", Code: "IT", Sector: sector},
		{Name: "Wipro", Slug: "wipro", Code: "W", Sector: sector},
		{Name: "Tech Mahindra", Slug: "techmahindra", Code: "TM4", Sector: sector},
		{Name: "HCL Tech", Slug: "hcltechnologies", Code: "HCL02", Sector: sector},
		{Name: "LTIMindtree", Slug: "ltimindtree", Code: "LI12", Sector: sector},
		{Name: "Persistent Systems", Slug: "persistentsystems", Code: "PS05", Sector: sector},
		{Name: "Coforge", Slug: "coforge", Code: "NC13", Sector: sector},
		{Name: "Mphasis", Slug: "mphasis", Code: "MP", Sector: sector},
		{Name: "Cyient", Slug: "cyient", Code: "IL", Sector: sector},
		{Name: "LT Technology Services", Slug: "lttechnologyservices", Code: "LT11", Sector: sector},
		{Name: "Zensar", Slug: "zensartechnologies", Code: "ZT", Sector: sector},
		{Name: "Hexaware", Slug: "hexawaretechnologies", Code: "HT10", Sector: sector},
		{Name: "Birlasoft", Slug: "birlasoft", Code: "KS13", Sector: sector},
	}
}

func directoryKey(name string) string {
	k := cases.Fold().String(strings.TrimSpace(name))
	for _, suffix := range []string{" ltd.", " ltd", " limited"} {
		k = strings.TrimSuffix(k, suffix)
	}
	return strings.Join(strings.Fields(k), " ")
}

// Directory resolves company names to portal identifiers. Lookups ignore
// case and a trailing "Ltd".
type Directory struct {
	mu        sync.RWMutex
	companies map[string]model.Company
}

// NewDirectory creates a directory seeded with companies.
func NewDirectory(companies ...model.Company) *Directory {
	d := &Directory{companies: make(map[string]model.Company, len(companies))}
	d.Add(companies...)
	return d
}

// Add inserts or replaces companies.
func (d *Directory) Add(companies ...model.Company) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range companies {
		d.companies[directoryKey(c.Name)] = c
	}
}

// Lookup finds a company by name.
func (d *Directory) Lookup(name string) (model.Company, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.companies[directoryKey(name)]
	return c, ok
}

// Companies returns every entry sorted by name.
func (d *Directory) Companies() []model.Company {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]model.Company, 0, len(d.companies))
	for _, c := range d.companies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// QuarterlyResultsURL returns the results page for c under base.
func QuarterlyResultsURL(base string, c model.Company) string {
	return fmt.Sprintf("%s/financials/%s/results/quarterly-results/%s", strings.TrimRight(base, "/"), c.Slug, c.Code)
}

// Moneycontrol scrapes the quarterly results table of the portal.
type Moneycontrol struct {
	fetcher   fetcher.Fetcher
	dir       *Directory
	extractor *extract.Extractor
	baseURL   string
}

// NewMoneycontrol creates the portal source. An empty baseURL uses
// MoneycontrolBaseURL.
func NewMoneycontrol(f fetcher.Fetcher, dir *Directory, ex *extract.Extractor, baseURL string) *Moneycontrol {
	if baseURL == "" {
		baseURL = MoneycontrolBaseURL
	}
	return &Moneycontrol{fetcher: f, dir: dir, extractor: ex, baseURL: baseURL}
}

func (m *Moneycontrol) Name() string { return "moneycontrol" }

func (m *Moneycontrol) Extract(ctx context.Context, p model.Period) (map[model.IndicatorName]model.Indicator, error) {
	c, ok := m.dir.Lookup(p.Company)
	if !ok {
		return nil, eris.Errorf("source: moneycontrol has no directory entry for %q", p.Company)
	}
	body, err := m.fetcher.Fetch(ctx, QuarterlyResultsURL(m.baseURL, c))
	if err != nil {
		return nil, eris.Wrapf(err, "source: moneycontrol fetch %s", p.Key())
	}
	res, err := m.extractor.ExtractHTML(string(body), extract.HintsFor(p))
	if err != nil {
		return nil, err
	}
	return res.Indicators, nil
}
