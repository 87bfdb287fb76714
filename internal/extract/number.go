package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

var tokenRe = regexp.MustCompile(`(?i)((?:rs\.?|inr|₹)\s*(?:\(\s*)?)?(-)?(\d{1,3}(?:,\d{2,3})+(?:\.\d+)?|\d+(?:\.\d+)?)(\s*\))?(\s*(?:%|percent\b|per cent\b|crores?\b|cr\b\.?|lakhs?\b|lacs?\b|millions?\b|mn\b|billions?\b|bn\b))?`)

// token is one numeric literal found in a piece of text.
type token struct {
	Raw      string
	Value    float64
	Percent  bool
	Currency bool
	// Unit is the normalized unit word ("crore", "lakh", "million",
	// "billion") or empty.
	Unit string
	// Start is the byte offset of the token in the scanned text.
	Start int
}

// scale converts a value in Unit to crore.
func (t token) scale() float64 {
	switch t.Unit {
	case "lakh":
		return 0.01
	case "million":
		return 0.1
	case "billion":
		return 100
	}
	return 1
}

// yearLike reports whether the token is a bare integer that reads as a
// calendar year.
func (t token) yearLike() bool {
	if t.Percent || t.Currency || t.Unit != "" {
		return false
	}
	if strings.ContainsAny(t.Raw, ".,") {
		return false
	}
	return t.Value >= 1990 && t.Value <= 2100
}

// scanTokens returns every well-delimited number in s, in order. Digits
// glued to letters ("Q3", "FY25", "3rd") are skipped.
func scanTokens(s string) []token {
	var out []token
	for _, m := range tokenRe.FindAllStringSubmatchIndex(s, -1) {
		start, end := m[0], m[1]
		numStart := m[6]
		if m[4] >= 0 {
			numStart = m[4]
		}
		currency := m[2] >= 0
		if currency && precededByWordChar(s, start) {
			// "hours 500": the "rs" belongs to a word.
			currency = false
			start = numStart
		}
		if !currency && precededByWordChar(s, numStart) {
			continue
		}
		if m[10] < 0 && followedByLetter(s, m[7]) {
			continue
		}

		raw := s[m[6]:m[7]]
		v, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", ""), 64)
		if err != nil {
			continue
		}

		neg := m[4] >= 0
		// A closing paren right after the number with an opening paren right
		// before it, or between the currency and the digits, marks an
		// accounting negative.
		if m[8] >= 0 && (openParenBefore(s, start) || openParenBefore(s, m[6])) {
			neg = true
		}
		if neg {
			v = -v
		}

		tok := token{Raw: strings.TrimSpace(s[start:end]), Value: v, Currency: currency, Start: start}
		if m[10] >= 0 {
			unit := strings.ToLower(strings.TrimSpace(s[m[10]:m[11]]))
			switch {
			case unit == "%" || strings.HasPrefix(unit, "per"):
				tok.Percent = true
			case strings.HasPrefix(unit, "cr"):
				tok.Unit = "crore"
			case strings.HasPrefix(unit, "la"):
				tok.Unit = "lakh"
			case strings.HasPrefix(unit, "mi"), unit == "mn":
				tok.Unit = "million"
			case strings.HasPrefix(unit, "bi"), unit == "bn":
				tok.Unit = "billion"
			}
		}
		out = append(out, tok)
	}
	return out
}

func precededByWordChar(s string, i int) bool {
	if i <= 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == ','
}

func followedByLetter(s string, i int) bool {
	if i >= len(s) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return unicode.IsLetter(r)
}

func openParenBefore(s string, i int) bool {
	j := strings.TrimRight(s[:i], " ")
	return strings.HasSuffix(j, "(")
}

var naRe = regexp.MustCompile(`(?i)(\bnot\s+(?:available|disclosed|reported|applicable)\b|\bn/a\b|\bna\b|\bunavailable\b)`)

// hasNAMarker reports whether s explicitly says the figure is unavailable.
func hasNAMarker(s string) bool {
	return naRe.MatchString(s)
}

// naBeforeFigure reports whether s marks a figure unavailable before the
// first number that is not a year. A marker after the figure belongs to
// something else on the line.
func naBeforeFigure(s string) bool {
	head := s
	for _, tok := range scanTokens(s) {
		if !tok.yearLike() {
			head = s[:tok.Start]
			break
		}
	}
	return hasNAMarker(head)
}

// emptyCell reports whether a table cell carries no figure.
func emptyCell(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "-", "--", "—", "–":
		return true
	}
	return false
}
