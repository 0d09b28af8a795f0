package guardian

import (
	"regexp"
)

// Tier maps a fit-score range to the claim language it supports.
type Tier struct {
	Name       string
	Min        float64
	Permitted  []string
	Prohibited []string
}

// Tiers are ordered by ascending Min. Each range is [Min, next Min); the last tier
// has no prohibited phrases.
var Tiers = []Tier{
	{
		Name:      "exploratory",
		Min:       0,
		Permitted: []string{"early signals suggest", "initial conversations indicate", "we are exploring", "hypothesis"},
		Prohibited: []string{
			"proven", "validated", "strong demand", "market leader", "guaranteed",
			"clear product-market fit", "customers love",
		},
	},
	{
		Name:       "emerging",
		Min:        0.25,
		Permitted:  []string{"early evidence indicates", "growing interest", "initial traction", "signals point to"},
		Prohibited: []string{"proven", "strong demand", "market leader", "guaranteed", "clear product-market fit"},
	},
	{
		Name:       "validated",
		Min:        0.5,
		Permitted:  []string{"evidence shows", "validated", "demonstrated demand", "customers are paying"},
		Prohibited: []string{"proven at scale", "market leader", "guaranteed", "dominant"},
	},
	{
		Name:      "strong",
		Min:       0.75,
		Permitted: []string{"proven", "strong demand", "clear product-market fit", "market traction"},
	},
}

// TierFor selects the tier whose range contains score. Scores below zero fall in the
// first tier and scores above one in the last.
func TierFor(score float64) Tier {
	t := Tiers[0]
	for _, candidate := range Tiers[1:] {
		if score >= candidate.Min {
			t = candidate
		}
	}
	return t
}

// unlockScore is the lowest tier minimum at which phrase is no longer prohibited.
func unlockScore(phrase string) float64 {
	for _, t := range Tiers {
		if !contains(t.Prohibited, phrase) {
			return t.Min
		}
	}
	return Tiers[len(Tiers)-1].Min
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

type rule struct {
	phrase      string
	replacement string
	re          *regexp.Regexp
}

// phraseRules match a prohibited phrase anywhere in a string, case-insensitively.
func phraseRules(t Tier) []rule {
	rules := make([]rule, 0, len(t.Prohibited))
	for _, p := range t.Prohibited {
		rules = append(rules, rule{
			phrase:      p,
			replacement: t.Permitted[0],
			re:          phraseRegexp(p),
		})
	}
	return rules
}

var phraseCache = map[string]*regexp.Regexp{}

func init() {
	for _, t := range Tiers {
		for _, p := range t.Prohibited {
			phraseCache[p] = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(p))
		}
	}
}

func phraseRegexp(p string) *regexp.Regexp {
	if re, ok := phraseCache[p]; ok {
		return re
	}
	return regexp.MustCompile(`(?i)` + regexp.QuoteMeta(p))
}

// directEvidenceRules downgrade claims in the traction summary when no DO-direct
// evidence exists, whatever the tier.
var directEvidenceRules = []rule{
	{phrase: "proven", replacement: "indicated", re: regexp.MustCompile(`(?i)\bproven\b`)},
	{phrase: "validated", replacement: "explored", re: regexp.MustCompile(`(?i)\bvalidated\b`)},
}
