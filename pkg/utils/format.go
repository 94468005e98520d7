package utils

import (
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NotStarted is shown for a zero timestamp.
const NotStarted = "Not started"

const dateLayout = "Jan 2, 2006, 3:04 PM"

// FormatUnits renders an integer token amount with the given number of
// decimals, rounded to at most dp fractional digits, with thousands
// separators and without trailing zeros: 1234567890000000000000 -> "1,234.5679".
func FormatUnits(value *big.Int, decimals, dp int32) string {
	if value == nil {
		return "0"
	}
	s := decimal.NewFromBigInt(value, -decimals).Round(dp).String()

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, fracPart, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	b.WriteString(sign)
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(fracPart)
	}
	return b.String()
}

// TimestampToDate renders a unix timestamp in seconds as a UTC date, or
// NotStarted when it is zero.
func TimestampToDate(ts *big.Int) string {
	if ts == nil || ts.Sign() == 0 {
		return NotStarted
	}
	if !ts.IsInt64() {
		return ts.String()
	}
	return time.Unix(ts.Int64(), 0).UTC().Format(dateLayout)
}

// ShortAddress abbreviates a hex address to its first six and last four
// characters.
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
