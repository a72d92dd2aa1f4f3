package listing

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePrice converts a display price ("£1,234", "£1,234.50", "1234") into
// integer pence. Returns false when the string carries no parseable amount.
func ParsePrice(display string) (int64, bool) {
	s := strings.TrimSpace(display)
	if s == "" {
		return 0, false
	}
	s = strings.TrimPrefix(s, "£")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	if pounds, err := strconv.ParseInt(s, 10, 64); err == nil {
		return pounds * 100, true
	}

	// Handle fractional pounds
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return int64(f*100 + 0.5), true
}

// FormatPrice renders integer pence as the display form used by listings
// ("£1,234"; pence shown only when non-zero).
func FormatPrice(pence int64) string {
	pounds := pence / 100
	rem := pence % 100
	if rem == 0 {
		return "£" + groupThousands(pounds)
	}
	return fmt.Sprintf("£%s.%02d", groupThousands(pounds), rem)
}

// ParseMileage converts a display mileage ("1,234", "1,234 miles") into an
// integer number of miles.
func ParseMileage(display string) (int64, bool) {
	s := strings.ToLower(strings.TrimSpace(display))
	if s == "" {
		return 0, false
	}
	s = strings.TrimSuffix(s, "miles")
	s = strings.TrimSuffix(strings.TrimSpace(s), "mi")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	miles, err := strconv.ParseInt(s, 10, 64)
	if err != nil || miles < 0 {
		return 0, false
	}
	return miles, true
}

// FormatMileage renders miles with thousands separators ("1,234")
func FormatMileage(miles int64) string {
	return groupThousands(miles)
}

func groupThousands(n int64) string {
	neg := n < 0
	if neg {
		n = -n
	}
	digits := strconv.FormatInt(n, 10)
	var b strings.Builder
	for i, d := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}
	if neg {
		return "-" + b.String()
	}
	return b.String()
}
