// Package tokens finds candidate crypto token identifiers in chat text.
package tokens

import (
	"regexp"
	"strings"
)

// MaxCandidates caps the number of identifiers returned by Extract.
const MaxCandidates = 100

var (
	cashtagRe = regexp.MustCompile(`\$[A-Za-z0-9]{2,10}\b`)
	addressRe = regexp.MustCompile(`0x[a-fA-F0-9]{6,}\b`)
	tickerRe  = regexp.MustCompile(`\b[A-Z]{2,10}\b`)
)

// common is the set of bare tickers trusted without a cashtag. Ordinary
// capitalised words match the ticker shape, so anything else is ignored.
var common = map[string]struct{}{
	"BTC": {}, "ETH": {}, "SOL": {}, "ORDI": {}, "DOGE": {}, "TON": {},
	"BNB": {}, "XRP": {}, "ADA": {}, "AVAX": {}, "ARB": {}, "OP": {},
	"PEPE": {}, "WIF": {}, "SHIB": {}, "LINK": {}, "APT": {}, "SUI": {},
}

// IsCommon reports whether sym is one of the allowlisted bare tickers.
func IsCommon(sym string) bool {
	_, ok := common[sym]
	return ok
}

// Extract returns the deduplicated candidates found in text, in the order
// they were first seen: cashtags, then hex addresses, then allowlisted tickers.
// Cashtags are uppercased without the leading $; addresses keep their casing.
func Extract(text string) []string {
	if text == "" {
		return nil
	}

	s := newOrderedSet()
	for _, m := range cashtagRe.FindAllString(text, -1) {
		s.add(strings.ToUpper(strings.TrimPrefix(m, "$")))
	}
	for _, m := range addressRe.FindAllString(text, -1) {
		s.add(m)
	}
	for _, m := range tickerRe.FindAllString(text, -1) {
		if IsCommon(m) {
			s.add(m)
		}
	}

	out := s.items
	if len(out) > MaxCandidates {
		out = out[:MaxCandidates]
	}
	return out
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}
