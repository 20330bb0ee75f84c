package venue

import (
	"sort"
	"strings"
)

// QuoteAliases maps short-form venue currency codes to their canonical
// equivalent (e.g. "UST" -> "USDT", "EUT" -> "EURT").
var QuoteAliases = map[string]string{
	"UST": "USDT",
	"EUT": "EURT",
}

// CanonicalQuote translates a venue short-form quote code to its canonical
// form, or returns it unchanged if there is no alias.
func CanonicalQuote(quote string) string {
	if alias, ok := QuoteAliases[strings.ToUpper(quote)]; ok {
		return alias
	}
	return strings.ToUpper(quote)
}

// SplitByKnownQuotes is the fallback heuristic fromVenueSymbol uses when a
// venue id isn't indexed in marketsById: it tries each candidate quote
// suffix longest-first (deterministic order), so "BTCUSDT" splits on
// "USDT" rather than the shorter "T" or "USD" matching first.
func SplitByKnownQuotes(venueSymbol string, knownQuotes []string) (base, quote string, ok bool) {
	candidates := make([]string, len(knownQuotes))
	copy(candidates, knownQuotes)
	sort.Slice(candidates, func(i, j int) bool { return len(candidates[i]) > len(candidates[j]) })

	upper := strings.ToUpper(venueSymbol)
	for _, q := range candidates {
		qu := strings.ToUpper(q)
		if strings.HasSuffix(upper, qu) && len(upper) > len(qu) {
			return upper[:len(upper)-len(qu)], CanonicalQuote(qu), true
		}
	}
	return "", "", false
}

// ResolveFromVenueSymbol implements the required lookup order for
// fromVenueSymbol: prefer an indexed marketsById hit, and only fall back to
// heuristic suffix splitting when the id isn't indexed.
func (b *Base) ResolveFromVenueSymbol(venueID string, knownQuotes []string) (canonical string, ok bool) {
	if m, found := b.MarketByVenueID(venueID); found {
		return m.Symbol, true
	}
	base, quote, split := SplitByKnownQuotes(venueID, knownQuotes)
	if !split {
		return "", false
	}
	return base + "/" + quote, true
}
