// Package extract pulls quarterly financial indicators out of AI answers and
// scraped results tables.
package extract

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/finresearch-cli/internal/model"
)

// Hints narrow column selection and context scoring. All fields are optional.
type Hints struct {
	Company string
	Quarter string
	Year    int
}

// HintsFor builds hints from a period.
func HintsFor(p model.Period) Hints {
	return Hints{Company: p.Company, Quarter: p.Quarter, Year: p.Year}
}

func (h Hints) quarterNumber() int {
	q, err := model.ParseQuarter(h.Quarter)
	if err != nil {
		return 0
	}
	return int(q[1] - '0')
}

func (h Hints) label() string {
	var parts []string
	if q := h.quarterNumber(); q != 0 {
		parts = append(parts, fmt.Sprintf("Q%d", q))
	}
	if h.Year != 0 {
		parts = append(parts, fmt.Sprintf("FY%d", h.Year))
	}
	if len(parts) == 0 {
		return "any period"
	}
	return strings.Join(parts, " ")
}

// Rejection records a match that was discarded.
type Rejection struct {
	Indicator model.IndicatorName `json:"indicator,omitempty"`
	Reason    string              `json:"reason"`
	RawText   string              `json:"raw_text,omitempty"`
}

// Result is the detailed outcome of one extraction.
type Result struct {
	Indicators map[model.IndicatorName]model.Indicator `json:"indicators"`
	Rejections []Rejection                             `json:"rejections"`
	Source     model.SourceKind                        `json:"source"`
}

type style int

const (
	styleTable style = iota
	styleKeyValue
	styleProse
)

func (s style) String() string {
	switch s {
	case styleTable:
		return "table"
	case styleKeyValue:
		return "key-value"
	}
	return "prose"
}

type matcher struct {
	name    model.IndicatorName
	kind    model.Kind
	variant int
	cell    *regexp.Regexp
	kv      *regexp.Regexp
	prose   *regexp.Regexp
}

type candidate struct {
	ind     model.Indicator
	variant int
	order   int
}

// Extractor matches label variants against normalized lines. It is safe for
// concurrent use.
type Extractor struct {
	cfg      Config
	matchers []matcher
}

// New compiles the label dictionary of cfg.
func New(cfg Config) *Extractor {
	e := &Extractor{cfg: cfg}
	for _, spec := range model.Catalog() {
		for i, variant := range cfg.Labels[spec.Name] {
			v := strings.TrimSpace(strings.ToLower(variant))
			if v == "" {
				continue
			}
			pat := strings.Join(strings.Fields(regexp.QuoteMeta(v)), `\s+`)
			m := matcher{
				name:    spec.Name,
				kind:    spec.Kind,
				variant: i,
				cell:    regexp.MustCompile(`(?i)^` + pat + `(?:\s*\([^)]*\))?\s*[:.]?$`),
				kv:      regexp.MustCompile(`(?i)^` + pat + `(?:\s*\([^)]*\))?\s*[:=]\s*(.*)$`),
				prose:   regexp.MustCompile(`(?i)\b` + pat + `\b`),
			}
			e.matchers = append(e.matchers, m)
		}
	}
	return e
}

// Extract returns the indicators found in text. An empty map is a valid
// result.
func (e *Extractor) Extract(text string, h Hints) (map[model.IndicatorName]model.Indicator, error) {
	res, err := e.ExtractDetailed(text, h)
	if err != nil {
		return nil, err
	}
	return res.Indicators, nil
}

// ExtractDetailed is Extract plus the list of discarded matches. Text is
// read as HTML only when it carries a document or table element; inline
// tags such as <br> in a markdown answer are flattened.
func (e *Extractor) ExtractDetailed(text string, h Hints) (*Result, error) {
	if looksLikeHTML(text) {
		return e.extract(text, h, true, model.SourceScrapedHTML)
	}
	return e.extract(text, h, false, model.SourceAIText)
}

// ExtractAnswer reads an AI answer. The result is tagged ai_text even when
// the answer embeds an HTML table.
func (e *Extractor) ExtractAnswer(text string, h Hints) (*Result, error) {
	return e.extract(text, h, looksLikeHTML(text), model.SourceAIText)
}

// ExtractHTML reads page as a scraped HTML document.
func (e *Extractor) ExtractHTML(page string, h Hints) (*Result, error) {
	return e.extract(page, h, true, model.SourceScrapedHTML)
}

func (e *Extractor) extract(text string, h Hints, asHTML bool, kind model.SourceKind) (*Result, error) {
	res := &Result{
		Indicators: make(map[model.IndicatorName]model.Indicator),
		Source:     kind,
	}
	if strings.TrimSpace(text) == "" {
		return res, nil
	}

	lines, rejs, err := normalize(text, h, asHTML)
	if err != nil {
		return nil, err
	}
	res.Rejections = append(res.Rejections, rejs...)

	penalty := e.contextMultiplier(strings.ToLower(cleanText(text)), h)

	cands := make(map[model.IndicatorName][]candidate)
	unavailable := make(map[model.IndicatorName]string)
	order := 0
	add := func(c candidate) {
		c.order = order
		order++
		cands[c.ind.Name] = append(cands[c.ind.Name], c)
	}

	for _, l := range lines {
		if l.Table {
			e.matchCell(l, res, add, unavailable)
			continue
		}
		e.matchText(l, penalty, res, add, unavailable)
	}

	for _, spec := range model.Catalog() {
		if raw, ok := unavailable[spec.Name]; ok {
			delete(cands, spec.Name)
			res.reject(spec.Name, "marked not available", raw)
		}
	}

	e.choose(cands, res)
	return res, nil
}

func (r *Result) reject(name model.IndicatorName, reason, raw string) {
	r.Rejections = append(r.Rejections, Rejection{Indicator: name, Reason: reason, RawText: raw})
	zap.L().Debug("extract: rejected match",
		zap.String("indicator", string(name)),
		zap.String("reason", reason),
		zap.String("raw", raw),
	)
}

func (e *Extractor) matchCell(l line, res *Result, add func(candidate), unavailable map[model.IndicatorName]string) {
	label := stripMarkup(l.Label)
	for _, m := range e.matchers {
		if !m.cell.MatchString(label) {
			continue
		}
		if emptyCell(l.Cell) {
			return
		}
		if naBeforeFigure(l.Cell) {
			unavailable[m.name] = l.Text
			return
		}
		tok, ok := e.firstAccepted(m, styleTable, l.Cell, res, l.Text)
		if !ok {
			return
		}
		v := tok.Value
		if m.kind == model.KindCurrency {
			v *= tok.scale()
			if tok.Unit == "" {
				v *= l.Scale
			}
		}
		add(candidate{
			ind: model.Indicator{
				Name:       m.name,
				Value:      round(v),
				Confidence: e.cfg.TableConfidence,
				RawText:    l.Text,
				Location:   l.Location,
			},
			variant: m.variant,
		})
		// A row carries one label.
		return
	}
}

var (
	bulletRe   = regexp.MustCompile(`^(?:[-*•+]|\d+[.)])\s+`)
	headingRe  = regexp.MustCompile(`^#+\s*`)
	emphasisRe = regexp.MustCompile(`\*\*|__|\*`)
)

func stripMarkup(s string) string {
	s = strings.TrimSpace(s)
	s = headingRe.ReplaceAllString(s, "")
	s = bulletRe.ReplaceAllString(s, "")
	s = emphasisRe.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

type occurrence struct {
	m          matcher
	start, end int
}

func (e *Extractor) matchText(l line, penalty float64, res *Result, add func(candidate), unavailable map[model.IndicatorName]string) {
	text := stripMarkup(l.Text)

	keyed := make(map[model.IndicatorName]bool)
	for _, m := range e.matchers {
		if keyed[m.name] {
			continue
		}
		sub := m.kv.FindStringSubmatch(text)
		if sub == nil {
			continue
		}
		keyed[m.name] = true
		if naBeforeFigure(sub[1]) {
			unavailable[m.name] = text
			continue
		}
		if tok, ok := e.firstAccepted(m, styleKeyValue, sub[1], res, text); ok {
			add(e.textCandidate(m, tok, e.cfg.KeyValueConfidence*penalty, text, l.Location))
		}
	}

	occs := e.occurrences(text)
	for i, o := range occs {
		if keyed[o.m.name] {
			continue
		}
		end := len(text)
		for _, next := range occs[i+1:] {
			if next.start >= o.end {
				end = next.start
				break
			}
		}
		segment := text[o.end:end]
		if naBeforeFigure(segment) {
			unavailable[o.m.name] = text
			continue
		}
		if tok, ok := e.firstAccepted(o.m, styleProse, segment, res, text); ok {
			add(e.textCandidate(o.m, tok, e.cfg.ProseConfidence*penalty, text, l.Location))
		}
	}
}

// occurrences finds every label in text, dropping those contained in a
// longer label ("tax" inside "profit before tax").
func (e *Extractor) occurrences(text string) []occurrence {
	var all []occurrence
	for _, m := range e.matchers {
		for _, loc := range m.prose.FindAllStringIndex(text, -1) {
			all = append(all, occurrence{m: m, start: loc[0], end: loc[1]})
		}
	}
	var kept []occurrence
	for _, o := range all {
		contained := false
		for _, p := range all {
			if p.start <= o.start && o.end <= p.end && p.end-p.start > o.end-o.start {
				contained = true
				break
			}
		}
		if !contained {
			kept = append(kept, o)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].start != kept[j].start {
			return kept[i].start < kept[j].start
		}
		return kept[i].m.variant < kept[j].m.variant
	})
	// Keep one occurrence per span.
	var out []occurrence
	for _, o := range kept {
		if n := len(out); n > 0 && out[n-1].start == o.start && out[n-1].end == o.end {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (e *Extractor) textCandidate(m matcher, tok token, conf float64, raw, loc string) candidate {
	v := tok.Value
	if m.kind == model.KindCurrency {
		v *= tok.scale()
	}
	return candidate{
		ind: model.Indicator{
			Name:       m.name,
			Value:      round(v),
			Confidence: round(conf),
			RawText:    raw,
			Location:   loc,
		},
		variant: m.variant,
	}
}

// firstAccepted returns the first token in s that fits the indicator kind.
func (e *Extractor) firstAccepted(m matcher, st style, s string, res *Result, raw string) (token, bool) {
	for _, tok := range scanTokens(s) {
		if reason := acceptToken(m.kind, st, tok); reason != "" {
			res.reject(m.name, reason, raw)
			continue
		}
		return tok, true
	}
	return token{}, false
}

// acceptToken returns why tok cannot be the value of an indicator of the
// given kind, or "" when it can.
func acceptToken(kind model.Kind, st style, tok token) string {
	switch kind {
	case model.KindCurrency, model.KindPerShare:
		if tok.Percent {
			return fmt.Sprintf("percent value %q for %s indicator", tok.Raw, kind)
		}
	case model.KindPercent:
		if tok.Currency || tok.Unit != "" {
			return fmt.Sprintf("currency value %q for percent indicator", tok.Raw)
		}
		if st == styleProse && !tok.Percent {
			return fmt.Sprintf("%s value %q without percent sign", st, tok.Raw)
		}
		return ""
	}
	if st != styleProse {
		return ""
	}
	if tok.yearLike() {
		return fmt.Sprintf("year-like value %q", tok.Raw)
	}
	if kind == model.KindCurrency && !tok.Currency && tok.Unit == "" {
		return fmt.Sprintf("prose value %q without currency or unit", tok.Raw)
	}
	return ""
}

// contextMultiplier lowers prose confidence when the text never mentions the
// hinted company or period.
func (e *Extractor) contextMultiplier(lower string, h Hints) float64 {
	mult := 1.0
	if c := strings.ToLower(strings.TrimSpace(h.Company)); c != "" && !strings.Contains(lower, c) {
		mult *= 1 - e.cfg.CompanyMissPenalty
	}
	if (h.quarterNumber() != 0 || h.Year != 0) && !mentionsPeriod(lower, h) {
		mult *= 1 - e.cfg.PeriodMissPenalty
	}
	return mult
}

// choose ranks candidates and applies the extraction-time sanity guards.
func (e *Extractor) choose(cands map[model.IndicatorName][]candidate, res *Result) {
	for name, cs := range cands {
		sort.SliceStable(cs, func(i, j int) bool {
			a, b := cs[i], cs[j]
			if a.ind.Confidence != b.ind.Confidence {
				return a.ind.Confidence > b.ind.Confidence
			}
			if a.variant != b.variant {
				return a.variant < b.variant
			}
			return a.order < b.order
		})
		cands[name] = cs
	}

	income, hasIncome := e.pick(cands[model.TotalIncome], nil, res)
	if hasIncome {
		income.ind.Source = res.Source
		res.Indicators[model.TotalIncome] = income.ind
	}

	for _, spec := range model.Catalog() {
		if spec.Name == model.TotalIncome {
			continue
		}
		var guard func(candidate) string
		if hasIncome {
			guard = e.guardFor(spec.Name, income.ind.Value)
		}
		if c, ok := e.pick(cands[spec.Name], guard, res); ok {
			c.ind.Source = res.Source
			res.Indicators[spec.Name] = c.ind
		}
	}
}

func (e *Extractor) pick(cs []candidate, guard func(candidate) string, res *Result) (candidate, bool) {
	for _, c := range cs {
		if c.ind.Confidence <= 0 || c.ind.Confidence < e.cfg.MinConfidence {
			res.reject(c.ind.Name, fmt.Sprintf("confidence %.2f below threshold", c.ind.Confidence), c.ind.RawText)
			continue
		}
		if guard != nil {
			if reason := guard(c); reason != "" {
				res.reject(c.ind.Name, reason, c.ind.RawText)
				continue
			}
		}
		return c, true
	}
	return candidate{}, false
}

func (e *Extractor) guardFor(name model.IndicatorName, income float64) func(candidate) string {
	switch name {
	case model.PBT:
		return func(c candidate) string {
			if math.Abs(c.ind.Value-income) < e.cfg.PBTEpsilon {
				return "pbt equals total_income, wrong column captured"
			}
			return ""
		}
	case model.PAT:
		return func(c candidate) string {
			if c.ind.Value >= 0 && c.ind.Value < e.cfg.PATFloor && income > e.cfg.IncomeCeiling {
				return fmt.Sprintf("pat %.2f implausibly small for total_income %.2f", c.ind.Value, income)
			}
			return ""
		}
	}
	return nil
}

func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
