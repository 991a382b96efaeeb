package model

import "time"

// RiskLevel grades a transaction.
type RiskLevel int

// Risk levels, ordered.
const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

func (l RiskLevel) String() string {
	switch l {
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "low"
	}
}

// ParseRiskLevel is the inverse of String.
func ParseRiskLevel(s string) RiskLevel {
	switch s {
	case "medium":
		return RiskMedium
	case "high":
		return RiskHigh
	default:
		return RiskLow
	}
}

// Max returns the higher of two levels.
func (l RiskLevel) Max(other RiskLevel) RiskLevel {
	if other > l {
		return other
	}
	return l
}

// Risk flag codes.
const (
	FlagLargeTransaction  = "large_transaction"
	FlagRapidTransactions = "rapid_transactions"
	FlagRoundNumber       = "round_number"
)

// RiskAssessment is the immutable result of evaluating one transaction.
type RiskAssessment struct {
	EvaluatedAt   time.Time
	TransactionID string
	Flags         []string
	RiskLevel     RiskLevel
	Suspicious    bool
}

// HasFlag reports whether the assessment carries the given flag.
func (a *RiskAssessment) HasFlag(flag string) bool {
	for _, f := range a.Flags {
		if f == flag {
			return true
		}
	}
	return false
}
