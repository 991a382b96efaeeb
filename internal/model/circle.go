// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Currency is an ISO-like two or three letter currency code.
type Currency string

// Supported currencies.
const (
	CurrencyJMD Currency = "JMD"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
	CurrencyCAD Currency = "CAD"
	CurrencyEUR Currency = "EUR"
	CurrencyTTD Currency = "TTD"
	CurrencyBBD Currency = "BBD"
)

var supportedCurrencies = map[Currency]int32{
	CurrencyJMD: 2,
	CurrencyUSD: 2,
	CurrencyGBP: 2,
	CurrencyCAD: 2,
	CurrencyEUR: 2,
	CurrencyTTD: 2,
	CurrencyBBD: 2,
}

// Currencies lists the supported currencies in display order.
func Currencies() []Currency {
	return []Currency{CurrencyJMD, CurrencyUSD, CurrencyGBP, CurrencyCAD, CurrencyEUR, CurrencyTTD, CurrencyBBD}
}

// ParseCurrency normalizes and validates a currency code.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("unsupported currency %q", s)
	}
	return c, nil
}

// IsValid reports whether the currency is supported.
func (c Currency) IsValid() bool {
	_, ok := supportedCurrencies[c]
	return ok
}

// MinorUnits returns the number of decimal places used by the currency.
func (c Currency) MinorUnits() int32 {
	if exp, ok := supportedCurrencies[c]; ok {
		return exp
	}
	return 2
}

// CircleStatus is the lifecycle state of a circle.
type CircleStatus string

// Circle status constants.
const (
	CircleStatusPlanned   CircleStatus = "planned"
	CircleStatusActive    CircleStatus = "active"
	CircleStatusCompleted CircleStatus = "completed"
	CircleStatusCancelled CircleStatus = "cancelled"
)

// CanTransitionTo reports whether moving from s to next is allowed.
// planned -> active -> completed, with cancelled reachable from planned or active.
func (s CircleStatus) CanTransitionTo(next CircleStatus) bool {
	switch s {
	case CircleStatusPlanned:
		return next == CircleStatusActive || next == CircleStatusCancelled
	case CircleStatusActive:
		return next == CircleStatusCompleted || next == CircleStatusCancelled
	default:
		return false
	}
}

// Cadence is how often a circle runs a round.
type Cadence string

// Cadence constants.
const (
	CadenceWeekly      Cadence = "weekly"
	CadenceFortnightly Cadence = "fortnightly"
	CadenceMonthly     Cadence = "monthly"
)

// NextDue returns the due date of a round opened at from.
func (c Cadence) NextDue(from time.Time) time.Time {
	switch c {
	case CadenceWeekly:
		return from.AddDate(0, 0, 7)
	case CadenceFortnightly:
		return from.AddDate(0, 0, 14)
	default:
		return from.AddDate(0, 1, 0)
	}
}

// IsValid reports whether the cadence is known.
func (c Cadence) IsValid() bool {
	switch c {
	case CadenceWeekly, CadenceFortnightly, CadenceMonthly:
		return true
	}
	return false
}

// Circle is a rotating savings group.
type Circle struct {
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ID                 string
	Name               string
	Currency           Currency
	Status             CircleStatus
	Cadence            Cadence
	ContributionAmount int64 // minor currency units
	TargetMembers      int
}

// HandAmount is the payout a member receives for a full round.
func (c *Circle) HandAmount(members int) int64 {
	return c.ContributionAmount * int64(members)
}
