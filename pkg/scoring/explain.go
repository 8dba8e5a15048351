package scoring

import (
	"sort"
	"strings"

	"creditguard/pkg/dataset"
)

// fallbackExplanation is emitted when no selected feature produces a phrase.
const fallbackExplanation = "general risk profile"

// maxPhrases caps how many factor phrases appear in one explanation.
const maxPhrases = 3

// explanation selection stops once this many features are collected or this
// share of total importance is covered, whichever trips first.
const (
	maxExplainFeatures   = 5
	importanceCoverage   = 0.60
	highImportanceCutoff = 0.10
)

// featureRule inspects a recovered feature value and returns a risk phrase
// when the value itself indicates elevated risk. A lookup table of closures
// keeps the rule set extensible per feature name.
type featureRule func(value any) (string, bool)

var featureRules = map[string]featureRule{
	"payment_per_month": func(v any) (string, bool) {
		f, ok := asFloat(v)
		switch {
		case ok && f > 500:
			return "monthly payment load is heavy", true
		case ok && f > 300:
			return "monthly payment load is moderate", true
		}
		return "", false
	},
	"credit_amount": func(v any) (string, bool) {
		if f, ok := asFloat(v); ok && f > 10000 {
			return "credit amount is high", true
		}
		return "", false
	},
	"credit_age_ratio": func(v any) (string, bool) {
		if f, ok := asFloat(v); ok && f > 200 {
			return "credit amount is out of proportion to age", true
		}
		return "", false
	},
	"age": func(v any) (string, bool) {
		if f, ok := asFloat(v); ok && (f < 25 || f > 65) {
			return "age falls in a higher-risk bracket", true
		}
		return "", false
	},
	"checking_status": func(v any) (string, bool) {
		switch asString(v) {
		case "<0", "no checking":
			return "checking account status is weak", true
		case "0<=X<200":
			return "checking account balance is low", true
		}
		return "", false
	},
	"savings_status": func(v any) (string, bool) {
		switch asString(v) {
		case "<100", "no known savings":
			return "savings are insufficient", true
		}
		return "", false
	},
	"credit_history": func(v any) (string, bool) {
		switch asString(v) {
		case "delayed previously", "critical/other existing credit":
			return "credit history is problematic", true
		}
		return "", false
	},
	"employment": func(v any) (string, bool) {
		switch asString(v) {
		case "unemployed", "<1":
			return "employment situation is unstable", true
		}
		return "", false
	},
	"housing": func(v any) (string, bool) {
		if asString(v) == "rent" {
			return "housing is rented", true
		}
		return "", false
	},
	"existing_credits": func(v any) (string, bool) {
		if f, ok := asFloat(v); ok && f >= 3 {
			return "number of existing credits is high", true
		}
		return "", false
	},
}

// displayNames gives features a human-readable label for the generic
// phrases. Features absent here fall back to their raw name.
var displayNames = map[string]string{
	"payment_per_month":      "monthly payment load",
	"credit_age_ratio":       "credit-to-age ratio",
	"checking_status":        "checking account status",
	"savings_status":         "savings status",
	"credit_history":         "credit history",
	"credit_amount":          "credit amount",
	"duration":               "loan duration",
	"age":                    "age",
	"employment":             "employment status",
	"purpose":                "loan purpose",
	"housing":                "housing status",
	"installment_commitment": "installment commitment",
	"personal_status":        "personal status",
	"other_parties":          "other parties",
	"residence_since":        "residence duration",
	"property_magnitude":     "property holdings",
	"other_payment_plans":    "other payment plans",
	"existing_credits":       "existing credits",
	"job":                    "job type",
	"num_dependents":         "number of dependents",
	"own_telephone":          "telephone ownership",
	"foreign_worker":         "foreign worker status",
}

type rankedFeature struct {
	name       string
	index      int
	importance float64
}

// explain produces the natural-language rationale for a scored applicant:
// it walks the importance-ranked features, recovers each one's
// human-meaningful value, applies the per-feature rule table, and joins up
// to three phrases.
func explain(snap *Snapshot, vec []float64, derived, raw dataset.Record) string {
	importances := snap.Forest.Importances()
	ranked := make([]rankedFeature, len(snap.FeatureNames))
	for i, name := range snap.FeatureNames {
		ranked[i] = rankedFeature{name: name, index: i, importance: importances[i]}
	}
	sort.SliceStable(ranked, func(a, b int) bool {
		return ranked[a].importance > ranked[b].importance
	})

	var selected []rankedFeature
	cumulative := 0.0
	for _, rf := range ranked {
		if cumulative >= importanceCoverage || len(selected) >= maxExplainFeatures {
			break
		}
		selected = append(selected, rf)
		cumulative += rf.importance
	}

	var phrases []string
	for _, rf := range selected {
		value, ok := recoverValue(snap, rf, vec, derived, raw)
		if !ok {
			continue
		}
		phrase := phraseFor(rf, value)
		phrases = append(phrases, phrase)
		if len(phrases) == maxPhrases {
			break
		}
	}
	if len(phrases) == 0 {
		return fallbackExplanation
	}
	return strings.Join(phrases, ", ")
}

// recoverValue finds the most human-meaningful value for a feature: the
// post-engineering record first, then the raw applicant record, and only as
// a last resort a decode of the integer code in the feature vector.
func recoverValue(snap *Snapshot, rf rankedFeature, vec []float64, derived, raw dataset.Record) (any, bool) {
	if v, ok := derived[rf.name]; ok {
		return v, true
	}
	if v, ok := raw[rf.name]; ok {
		return v, true
	}
	if rf.index < 0 || rf.index >= len(vec) {
		return nil, false
	}
	code := vec[rf.index]
	if snap.Codec.HasColumn(rf.name) {
		if s, err := snap.Codec.Decode(rf.name, int(code)); err == nil {
			return s, true
		}
		return nil, false
	}
	return code, true
}

func phraseFor(rf rankedFeature, value any) string {
	if rule, ok := featureRules[rf.name]; ok {
		if phrase, fired := rule(value); fired {
			return phrase
		}
	}
	name := rf.name
	if dn, ok := displayNames[rf.name]; ok {
		name = dn
	}
	if rf.importance > highImportanceCutoff {
		return name + " is a key factor"
	}
	return name + " is a contributing factor"
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	}
	return 0, false
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
