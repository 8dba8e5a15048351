package scoring

import (
	"strings"
	"testing"
)

func TestFeatureRules(t *testing.T) {
	cases := []struct {
		feature string
		value   any
		fired   bool
		phrase  string
	}{
		{"payment_per_month", float64(600), true, "monthly payment load is heavy"},
		{"payment_per_month", float64(400), true, "monthly payment load is moderate"},
		{"payment_per_month", float64(100), false, ""},
		{"credit_amount", float64(12000), true, "credit amount is high"},
		{"credit_amount", float64(5000), false, ""},
		{"credit_age_ratio", float64(250), true, "credit amount is out of proportion to age"},
		{"age", float64(22), true, "age falls in a higher-risk bracket"},
		{"age", float64(70), true, "age falls in a higher-risk bracket"},
		{"age", float64(40), false, ""},
		{"checking_status", "<0", true, "checking account status is weak"},
		{"checking_status", "no checking", true, "checking account status is weak"},
		{"checking_status", "0<=X<200", true, "checking account balance is low"},
		{"checking_status", ">=200", false, ""},
		{"savings_status", "<100", true, "savings are insufficient"},
		{"savings_status", "500<=X<1000", false, ""},
		{"credit_history", "delayed previously", true, "credit history is problematic"},
		{"employment", "unemployed", true, "employment situation is unstable"},
		{"employment", ">=7", false, ""},
		{"housing", "rent", true, "housing is rented"},
		{"housing", "own", false, ""},
		{"existing_credits", float64(3), true, "number of existing credits is high"},
		{"existing_credits", float64(1), false, ""},
	}
	for _, tc := range cases {
		rule, ok := featureRules[tc.feature]
		if !ok {
			t.Fatalf("no rule for %s", tc.feature)
		}
		phrase, fired := rule(tc.value)
		if fired != tc.fired {
			t.Errorf("%s(%v) fired = %v, want %v", tc.feature, tc.value, fired, tc.fired)
			continue
		}
		if fired && phrase != tc.phrase {
			t.Errorf("%s(%v) = %q, want %q", tc.feature, tc.value, phrase, tc.phrase)
		}
	}
}

func TestPhraseForGenericFactors(t *testing.T) {
	key := phraseFor(rankedFeature{name: "duration", importance: 0.2}, float64(12))
	if key != "loan duration is a key factor" {
		t.Errorf("high-importance phrase = %q", key)
	}
	contrib := phraseFor(rankedFeature{name: "duration", importance: 0.05}, float64(12))
	if contrib != "loan duration is a contributing factor" {
		t.Errorf("low-importance phrase = %q", contrib)
	}
	// a feature with no display name keeps its raw name
	raw := phraseFor(rankedFeature{name: "mystery_column", importance: 0.05}, float64(1))
	if !strings.HasPrefix(raw, "mystery_column") {
		t.Errorf("unnamed feature phrase = %q", raw)
	}
}

func TestPhraseForPrefersRuleOverGeneric(t *testing.T) {
	got := phraseFor(rankedFeature{name: "housing", importance: 0.5}, "rent")
	if got != "housing is rented" {
		t.Errorf("phrase = %q, want rule phrase", got)
	}
}
