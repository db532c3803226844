// Package symbol maps application tickers to canonical streaming symbols.
//
// Regional tickers carry an exchange suffix ("RELIANCE.NS"); the streaming
// provider expects an exchange prefix ("NSE:RELIANCE"). Several raw forms can
// map to one canonical symbol.
package symbol

import (
	"sort"
	"strings"
)

// DefaultSuffixes maps exchange suffixes to provider prefixes.
var DefaultSuffixes = map[string]string{
	".NS": "NSE:",
	".BO": "BSE:",
	".L":  "LSE:",
	".TO": "TSX:",
}

type rule struct {
	suffix string
	prefix string
}

// Normalizer rewrites suffix-style tickers into prefix-style symbols.
type Normalizer struct {
	rules []rule // longest suffix first
}

// NewNormalizer creates a normalizer from a suffix → prefix map. A nil map
// uses DefaultSuffixes.
func NewNormalizer(suffixes map[string]string) *Normalizer {
	if suffixes == nil {
		suffixes = DefaultSuffixes
	}

	rules := make([]rule, 0, len(suffixes))
	for suffix, prefix := range suffixes {
		suffix = strings.ToUpper(strings.TrimSpace(suffix))
		if suffix == "" {
			continue
		}
		if !strings.HasPrefix(suffix, ".") {
			suffix = "." + suffix
		}
		rules = append(rules, rule{suffix: suffix, prefix: strings.ToUpper(strings.TrimSpace(prefix))})
	}
	sort.Slice(rules, func(i, j int) bool {
		if len(rules[i].suffix) != len(rules[j].suffix) {
			return len(rules[i].suffix) > len(rules[j].suffix)
		}
		return rules[i].suffix < rules[j].suffix
	})

	return &Normalizer{rules: rules}
}

// Normalize returns the canonical symbol for raw. Symbols that already carry
// an exchange prefix are only upper-cased.
func (n *Normalizer) Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if s == "" || strings.Contains(s, ":") {
		return s
	}

	for _, r := range n.rules {
		base, ok := strings.CutSuffix(s, r.suffix)
		if ok && base != "" {
			return r.prefix + base
		}
	}
	return s
}

// NormalizeAll normalizes raws, dropping empties and duplicates while keeping
// first-seen order.
func (n *Normalizer) NormalizeAll(raws []string) []string {
	seen := make(map[string]struct{}, len(raws))
	out := make([]string, 0, len(raws))
	for _, raw := range raws {
		s := n.Normalize(raw)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
