package features

import "creditguard/pkg/dataset"

// Derived feature columns computed from the raw applicant attributes.
const (
	ColPaymentPerMonth = "payment_per_month"
	ColCreditAgeRatio  = "credit_age_ratio"
)

// Raw columns the derived features depend on.
const (
	ColCreditAmount = "credit_amount"
	ColDuration     = "duration"
	ColAge          = "age"
)

// AddDerived appends the domain ratio columns to a frame in place:
// payment_per_month = credit_amount / duration and credit_age_ratio =
// credit_amount / age. Rows missing an input, or with a zero divisor, keep
// the derived attribute absent rather than carrying NaN or Inf into the
// model.
func AddDerived(f *dataset.Frame) {
	f.AddColumn(ColPaymentPerMonth, dataset.Numeric, func(r dataset.Record) (any, bool) {
		return ratio(r, ColCreditAmount, ColDuration)
	})
	f.AddColumn(ColCreditAgeRatio, dataset.Numeric, func(r dataset.Record) (any, bool) {
		return ratio(r, ColCreditAmount, ColAge)
	})
}

// DeriveRecord returns a copy of a single applicant record with the ratio
// attributes added where computable.
func DeriveRecord(r dataset.Record) dataset.Record {
	out := r.Clone()
	if v, ok := ratio(out, ColCreditAmount, ColDuration); ok {
		out[ColPaymentPerMonth] = v
	}
	if v, ok := ratio(out, ColCreditAmount, ColAge); ok {
		out[ColCreditAgeRatio] = v
	}
	return out
}

func ratio(r dataset.Record, num, den string) (any, bool) {
	n, ok := r.Float(num)
	if !ok {
		return nil, false
	}
	d, ok := r.Float(den)
	if !ok || d == 0 {
		return nil, false
	}
	return n / d, true
}
