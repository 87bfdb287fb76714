package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/unicode/norm"
)

// line is one unit of normalized input. Table rows carry their label and
// the selected value cell; text lines carry the whole line.
type line struct {
	Text  string
	Table bool
	Label string
	Cell  string
	// Scale converts table values to crore when the table header names a
	// smaller unit.
	Scale    float64
	Location string
}

// rawTable is a table before column selection.
type rawTable struct {
	Header []string
	Rows   [][]string
	Scale  float64
	Name   string
}

var (
	htmlRe      = regexp.MustCompile(`(?i)<(?:!doctype|html|body|table)\b`)
	breakTagRe  = regexp.MustCompile(`(?i)<br\s*/?>|</?(?:p|div)\b[^>]*>`)
	inlineTagRe = regexp.MustCompile(`(?i)</?(?:span|b|strong|i|em|u|sup|sub|small|font)\b[^>]*>`)
	delimiterRe = regexp.MustCompile(`^\|?\s*:?-{2,}:?\s*(?:\|\s*:?-{2,}:?\s*)*\|?$`)

	markdownParser = goldmark.New(goldmark.WithExtensions(extension.Table)).Parser()
)

// looksLikeHTML reports whether s is an HTML document or table rather than
// text with a few inline tags.
func looksLikeHTML(s string) bool {
	return htmlRe.MatchString(s)
}

// flattenInlineHTML drops inline tags and turns line-breaking tags into sep.
func flattenInlineHTML(s, sep string) string {
	s = breakTagRe.ReplaceAllString(s, sep)
	return inlineTagRe.ReplaceAllString(s, "")
}

// cleanText folds unicode variants (full-width digits, non-breaking spaces,
// typographic minus) to their plain forms.
func cleanText(s string) string {
	s = norm.NFKC.String(s)
	return strings.NewReplacer(
		"\u2212", "-",
		"\u00a0", " ",
		"\u200b", "",
		"\r\n", "\n",
		"\r", "\n",
	).Replace(s)
}

// normalize turns text or HTML into lines ready for matching.
func normalize(input string, h Hints, asHTML bool) ([]line, []Rejection, error) {
	input = cleanText(input)
	if asHTML {
		return normalizeHTML(input, h)
	}
	lines, rej := normalizeMarkdown(input, h, "")
	return lines, rej, nil
}

func normalizeHTML(input string, h Hints) ([]line, []Rejection, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(input))
	if err != nil {
		return nil, nil, eris.Wrap(err, "extract: parse html")
	}

	var (
		lines []line
		rejs  []Rejection
	)
	doc.Find("table").Each(func(i int, tbl *goquery.Selection) {
		if tbl.ParentsFiltered("table").Length() > 0 {
			return
		}
		var rows [][]string
		tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.ChildrenFiltered("th, td").Each(func(_ int, td *goquery.Selection) {
				cells = append(cells, strings.Join(strings.Fields(td.Text()), " "))
			})
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
		})
		t := splitHeader(rows, 3)
		t.Name = fmt.Sprintf("table %d", i+1)
		l, r := t.lines(h)
		lines = append(lines, l...)
		rejs = append(rejs, r...)
	})

	doc.Find("table, script, style, noscript").Remove()
	rest, err := doc.Html()
	if err != nil {
		return nil, nil, eris.Wrap(err, "extract: render html")
	}
	markdown, err := md.NewConverter("", true, nil).ConvertString(rest)
	if err != nil {
		return nil, nil, eris.Wrap(err, "extract: convert html to markdown")
	}
	l, r := normalizeMarkdown(markdown, h, "html ")
	return append(lines, l...), append(rejs, r...), nil
}

// normalizeMarkdown splits text into table rows and text lines. Runs of
// lines containing pipes are treated as one table.
func normalizeMarkdown(input string, h Hints, prefix string) ([]line, []Rejection) {
	var (
		lines  []line
		rejs   []Rejection
		block  []string
		tables int
	)
	flush := func() {
		if len(block) == 0 {
			return
		}
		tables++
		t := parseMarkdownTable(block)
		t.Name = fmt.Sprintf("%stable %d", prefix, tables)
		l, r := t.lines(h)
		lines = append(lines, l...)
		rejs = append(rejs, r...)
		block = nil
	}

	for i, raw := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(raw)
		if isTableLine(trimmed) {
			// A break inside a cell must not split the row.
			block = append(block, strings.TrimSpace(flattenInlineHTML(trimmed, " ")))
			continue
		}
		flush()
		for _, part := range strings.Split(flattenInlineHTML(trimmed, "\n"), "\n") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			lines = append(lines, line{Text: part, Location: fmt.Sprintf("%sline %d", prefix, i+1)})
		}
	}
	flush()
	return lines, rejs
}

func isTableLine(s string) bool {
	return strings.Count(s, "|") >= 2
}

// parseMarkdownTable reads a block of pipe-separated lines. Blocks with a
// delimiter row go through the GFM table parser; anything else is split by
// hand.
func parseMarkdownTable(block []string) rawTable {
	if len(block) >= 2 && delimiterRe.MatchString(block[1]) {
		if t, ok := parseGFMTable(strings.Join(block, "\n")); ok {
			return t
		}
	}
	var rows [][]string
	for _, l := range block {
		if delimiterRe.MatchString(l) {
			continue
		}
		rows = append(rows, splitPipes(l))
	}
	return splitHeader(rows, 1)
}

func splitPipes(s string) []string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "|")
	s = strings.TrimSuffix(s, "|")
	parts := strings.Split(s, "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}

func parseGFMTable(src string) (rawTable, bool) {
	source := []byte(src)
	doc := markdownParser.Parse(text.NewReader(source))

	var (
		t     rawTable
		found bool
	)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *extast.Table:
			if found {
				return ast.WalkSkipChildren, nil
			}
			found = true
		case *extast.TableHeader:
			t.Header = cellTexts(node, source)
			return ast.WalkSkipChildren, nil
		case *extast.TableRow:
			t.Rows = append(t.Rows, cellTexts(node, source))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if !found {
		return rawTable{}, false
	}
	t.Scale = unitScale(strings.Join(t.Header, " "))
	if _, ok := headerPeriods(t.Header); !ok && looksLikeDataRow(t.Header) {
		// GFM always treats the first row as header; keep it as data when
		// it is really a labeled figure.
		t.Rows = append([][]string{t.Header}, t.Rows...)
		t.Header = nil
	}
	return t, true
}

func cellTexts(row ast.Node, source []byte) []string {
	var cells []string
	for c := row.FirstChild(); c != nil; c = c.NextSibling() {
		if _, ok := c.(*extast.TableCell); !ok {
			continue
		}
		var buf bytes.Buffer
		_ = ast.Walk(c, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
			if !entering {
				return ast.WalkContinue, nil
			}
			switch t := n.(type) {
			case *ast.Text:
				buf.Write(t.Segment.Value(source))
				if t.SoftLineBreak() {
					buf.WriteByte(' ')
				}
			case *ast.String:
				buf.Write(t.Value)
			}
			return ast.WalkContinue, nil
		})
		cells = append(cells, strings.TrimSpace(buf.String()))
	}
	return cells
}

// splitHeader finds the header row among the first maxScan rows: the first
// row naming a fiscal period. Rows above it are captions.
func splitHeader(rows [][]string, maxScan int) rawTable {
	t := rawTable{Scale: 1}
	for i := 0; i < len(rows) && i < maxScan; i++ {
		if _, ok := headerPeriods(rows[i]); ok {
			var caption []string
			for _, r := range rows[:i+1] {
				caption = append(caption, r...)
			}
			t.Header = rows[i]
			t.Rows = rows[i+1:]
			t.Scale = unitScale(strings.Join(caption, " "))
			return t
		}
	}
	t.Rows = rows
	if len(rows) > 0 && !looksLikeDataRow(rows[0]) {
		t.Scale = unitScale(strings.Join(rows[0], " "))
	}
	return t
}

// headerPeriods maps column index to the fiscal period its header names.
func headerPeriods(header []string) (map[int]columnPeriod, bool) {
	out := make(map[int]columnPeriod)
	for i, cell := range header {
		if p, ok := parseColumnPeriod(cell); ok {
			out[i] = p
		}
	}
	return out, len(out) > 0
}

func looksLikeDataRow(cells []string) bool {
	if len(cells) < 2 {
		return false
	}
	for _, c := range cells[1:] {
		if len(scanTokens(c)) > 0 {
			return true
		}
	}
	return false
}

var lakhRe = regexp.MustCompile(`(?i)\b(?:lakhs?|lacs?)\b`)

func unitScale(caption string) float64 {
	if lakhRe.MatchString(caption) {
		return 0.01
	}
	return 1
}

// lines selects the value column for the hinted period and emits one line
// per data row.
func (t rawTable) lines(h Hints) ([]line, []Rejection) {
	col := -1
	if periods, ok := headerPeriods(t.Header); ok {
		col = pickColumn(periods, h)
		if col < 0 {
			return nil, []Rejection{{
				Reason:  fmt.Sprintf("%s has no column for %s", t.Name, h.label()),
				RawText: strings.Join(t.Header, " | "),
			}}
		}
	}

	scale := t.Scale
	if scale == 0 {
		scale = 1
	}
	var out []line
	for i, row := range t.Rows {
		if len(row) < 2 {
			continue
		}
		l := line{
			Table:    true,
			Label:    row[0],
			Scale:    scale,
			Location: fmt.Sprintf("%s row %d", t.Name, i+1),
			Text:     strings.Join(row, " | "),
		}
		switch {
		case col >= 0 && col < len(row):
			l.Cell = row[col]
		case col >= 0:
			continue
		default:
			l.Cell = firstFigure(row[1:])
		}
		out = append(out, l)
	}
	return out, nil
}

// pickColumn returns the first column matching the hints, or -1.
func pickColumn(periods map[int]columnPeriod, h Hints) int {
	best := -1
	for i, p := range periods {
		if i == 0 {
			continue
		}
		if p.matches(h) && (best < 0 || i < best) {
			best = i
		}
	}
	return best
}

// firstFigure returns the first cell holding a number. When none does, an
// explicit "not available" cell is returned so the caller can drop the field.
func firstFigure(cells []string) string {
	var na string
	for _, c := range cells {
		if emptyCell(c) {
			continue
		}
		if len(scanTokens(c)) > 0 {
			return c
		}
		if na == "" && hasNAMarker(c) {
			na = c
		}
	}
	return na
}
