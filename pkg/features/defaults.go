package features

// Defaults returns the per-feature fill values used when an applicant record
// omits a trained feature. Categorical defaults are the training-corpus
// mode, numeric defaults the rounded mean, both fixed during dataset
// curation.
func Defaults() map[string]any {
	return map[string]any{
		"credit_history":         "existing paid",
		"employment":             "1<=X<4",
		"installment_commitment": float64(3),
		"personal_status":        "male single",
		"other_parties":          "none",
		"residence_since":        float64(2),
		"property_magnitude":     "real estate",
		"age":                    float64(35),
		"other_payment_plans":    "none",
		"housing":                "own",
		"existing_credits":       float64(1),
		"job":                    "skilled",
		"num_dependents":         float64(1),
		"own_telephone":          "none",
		"foreign_worker":         "yes",
	}
}

// Aliases maps accepted historical field names to the canonical trained
// feature names. Clients predating the schema cleanup still send
// saving_status.
func Aliases() map[string]string {
	return map[string]string{
		"saving_status": "savings_status",
	}
}
