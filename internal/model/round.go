package model

import "time"

// MembershipStatus is the state of a member within a circle.
type MembershipStatus string

// Membership status constants.
const (
	MembershipActive    MembershipStatus = "active"
	MembershipSuspended MembershipStatus = "suspended"
	MembershipRemoved   MembershipStatus = "removed"
)

// Membership links an external user to a circle.
type Membership struct {
	JoinedAt     time.Time
	ID           string
	CircleID     string
	UserID       string
	Status       MembershipStatus
	DrawPosition int // 1..N, 0 until the circle is activated
	TrustScore   int
}

// RoundStatus is the lifecycle state of a round.
type RoundStatus string

// Round status constants.
const (
	RoundOpen       RoundStatus = "open"
	RoundCollecting RoundStatus = "collecting"
	RoundPayed      RoundStatus = "payed"
	RoundCancelled  RoundStatus = "cancelled"
)

// IsInProgress reports whether the round still accepts contributions.
func (s RoundStatus) IsInProgress() bool {
	return s == RoundOpen || s == RoundCollecting
}

// Round is one cycle of a circle.
type Round struct {
	DueAt                 time.Time
	OpenedAt              time.Time
	ClosedAt              *time.Time
	ID                    string
	CircleID              string
	Status                RoundStatus
	Index                 int
	ExpectedContributions int
}

// ContributionStatus is the state of a member's contribution for a round.
type ContributionStatus string

// Contribution status constants.
const (
	ContributionPending ContributionStatus = "pending"
	ContributionPaid    ContributionStatus = "paid"
	ContributionLate    ContributionStatus = "late"
	ContributionMissed  ContributionStatus = "missed"
)

// Contribution is a member's payment into a round.
type Contribution struct {
	CreatedAt    time.Time
	PaidAt       *time.Time
	ID           string
	RoundID      string
	MembershipID string
	Status       ContributionStatus
	Amount       int64 // minor currency units
}

// Payout is the hand released to one member at the end of a round.
type Payout struct {
	PaidAt       time.Time
	ID           string
	RoundID      string
	MembershipID string
	Amount       int64 // minor currency units
}

// RoundSummary aggregates a round with its children.
type RoundSummary struct {
	Payout        *Payout
	Round         Round
	Contributions []Contribution
	PaidCount     int
	Collected     int64
	Balance       int64 // collected minus released
}
