package scraper

import (
	"strconv"
	"strings"
	"time"
)

// Amount is a parsed funding amount. Exactly one shape is populated: a
// ceiling ("up to"), a range, a fixed value, or the raw text when no
// number could be read.
type Amount struct {
	Min         *float64 `json:"min,omitempty"`
	Max         *float64 `json:"max,omitempty"`
	Fixed       *float64 `json:"fixed,omitempty"`
	Description string   `json:"description,omitempty"`
}

// ParseAmount reads listings such as "Up to $50,000", "$5,000 - $20,000"
// and "$10,000". Anything else is kept as a lowercased description.
func ParseAmount(text string) Amount {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return Amount{}
	}
	fallback := Amount{Description: text}

	switch {
	case strings.Contains(text, "up to"):
		_, rest, _ := strings.Cut(text, "up to")
		v, ok := parseDollars(rest)
		if !ok {
			return fallback
		}
		return Amount{Max: &v}
	case strings.Contains(text, "-"):
		parts := strings.Split(text, "-")
		if len(parts) != 2 {
			return fallback
		}
		lo, okLo := parseDollars(parts[0])
		hi, okHi := parseDollars(parts[1])
		if !okLo || !okHi {
			return fallback
		}
		return Amount{Min: &lo, Max: &hi}
	case strings.Contains(text, "$"):
		v, ok := parseDollars(text)
		if !ok {
			return fallback
		}
		return Amount{Fixed: &v}
	}
	return fallback
}

func parseDollars(s string) (float64, bool) {
	s = strings.NewReplacer("$", "", ",", "").Replace(s)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

// IsZero reports whether nothing was parsed.
func (a Amount) IsZero() bool {
	return a.Min == nil && a.Max == nil && a.Fixed == nil && a.Description == ""
}

// String renders the amount for the grants.amount_string column.
func (a Amount) String() string {
	var s string
	switch {
	case a.Fixed != nil:
		s = formatDollars(*a.Fixed)
	case a.Min != nil && a.Max != nil:
		s = formatDollars(*a.Min) + " - " + formatDollars(*a.Max)
	case a.Max != nil:
		s = "Up to " + formatDollars(*a.Max)
	default:
		s = a.Description
	}
	if len(s) > maxAmountLength {
		s = strings.ToValidUTF8(s[:maxAmountLength], "")
	}
	return s
}

const maxAmountLength = 100

// formatDollars renders whole dollars with thousands separators and keeps
// cents only when present.
func formatDollars(v float64) string {
	raw := strconv.FormatFloat(v, 'f', 2, 64)
	whole, cents, _ := strings.Cut(raw, ".")
	neg := strings.HasPrefix(whole, "-")
	whole = strings.TrimPrefix(whole, "-")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if cents != "00" {
		b.WriteByte('.')
		b.WriteString(cents)
	}
	return b.String()
}

// Layouts accepted by ParseDate, tried in order.
var dateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"January 2, 2006",
	"2 January 2006",
	"02-Jan-2006",
	"2 Jan 2006",
}

// ParseDate parses the closing date formats used by Australian grant
// listings. Day-first numeric dates are assumed.
func ParseDate(text string) (time.Time, bool) {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, text); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
