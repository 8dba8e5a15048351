package scoring

// Decision is the action recommended to the lender.
type Decision string

const (
	Approve Decision = "APPROVE"
	Review  Decision = "REVIEW"
	Reject  Decision = "REJECT"
)

// RiskLevel is the human-facing tier shown alongside the decision.
type RiskLevel string

const (
	LevelLow    RiskLevel = "Low"
	LevelMedium RiskLevel = "Medium"
	LevelHigh   RiskLevel = "High"
)

// BandPolicy maps an integer risk score to a decision tier. It is a
// presentation policy layered on top of (and independent of) the training
// threshold: the threshold tunes what the model calls positive during
// evaluation, the bands tune what a score means to a decision-maker.
type BandPolicy struct {
	ApproveMax int // scores up to and including this approve
	ReviewMax  int // scores up to and including this go to review
}

// DefaultBands is the documented production policy: 0-35 approve, 36-55
// review, 56-100 reject.
func DefaultBands() BandPolicy {
	return BandPolicy{ApproveMax: 35, ReviewMax: 55}
}

// Classify places a score in exactly one band.
func (b BandPolicy) Classify(score int) (Decision, RiskLevel) {
	switch {
	case score <= b.ApproveMax:
		return Approve, LevelLow
	case score <= b.ReviewMax:
		return Review, LevelMedium
	default:
		return Reject, LevelHigh
	}
}
