package model

import "time"

// AdjustmentReason explains a trust score change.
type AdjustmentReason string

// Adjustment reasons.
const (
	ReasonPaidOnTime AdjustmentReason = "paid_on_time"
	ReasonPaidLate   AdjustmentReason = "paid_late"
	ReasonMissed     AdjustmentReason = "missed"
)

// TrustAdjustment is an append-only change to a membership's trust score.
// Delta is the change actually applied after clamping.
type TrustAdjustment struct {
	CreatedAt    time.Time
	MembershipID string
	RoundID      string
	Reason       AdjustmentReason
	ID           int64
	Delta        int
	ScoreAfter   int
}
