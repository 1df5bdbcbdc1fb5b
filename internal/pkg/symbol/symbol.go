// Package symbol canonicalises trading pairs to the concatenated spot form
// ("ETHUSDT") used on the wire and in storage.
package symbol

import (
	"strings"
)

// 去掉交易对里的分隔符，如 ETH/USDT、BTC_USDC、sol-fdusd
var separators = strings.NewReplacer("/", "", "_", "", "-", "", " ", "")

// Normalize upper-cases s, drops a venue settlement suffix (":USDT") and
// removes separators.
func Normalize(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if idx := strings.IndexByte(s, ':'); idx >= 0 {
		s = s[:idx]
	}
	return separators.Replace(s)
}

// NormalizeList normalizes and de-duplicates symbols, keeping first-seen order.
func NormalizeList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if norm := Normalize(s); norm != "" && !seen[norm] {
			seen[norm] = true
			out = append(out, norm)
		}
	}
	return out
}
