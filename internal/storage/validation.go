// Package storage provides the data persistence layer for the pardna ledger.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/Veraticus/pardna/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidDateRange   = errors.New("start date must be before end date")
	ErrInvalidStatus      = errors.New("invalid status")
	ErrInvalidAmount      = errors.New("amount must be a positive number of minor units")
	ErrInvalidCircle      = errors.New("invalid circle")
	ErrInvalidMembership  = errors.New("invalid membership")
	ErrInvalidRound       = errors.New("invalid round")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidSubmission  = errors.New("invalid submission")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateCircle(circle *model.Circle) error {
	if circle == nil {
		return fmt.Errorf("%w: circle", ErrNilParameter)
	}
	if strings.TrimSpace(circle.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidCircle)
	}
	if circle.ContributionAmount <= 0 {
		return fmt.Errorf("%w: %w", ErrInvalidCircle, ErrInvalidAmount)
	}
	if !circle.Currency.IsValid() {
		return fmt.Errorf("%w: unsupported currency %q", ErrInvalidCircle, circle.Currency)
	}
	if circle.TargetMembers <= 0 {
		return fmt.Errorf("%w: target members must be positive", ErrInvalidCircle)
	}
	if circle.ContributionAmount > math.MaxInt64/int64(circle.TargetMembers) {
		return fmt.Errorf("%w: a full hand of %d members overflows: %w", ErrInvalidCircle, circle.TargetMembers, ErrInvalidAmount)
	}
	if !circle.Cadence.IsValid() {
		return fmt.Errorf("%w: unknown cadence %q", ErrInvalidCircle, circle.Cadence)
	}
	return nil
}

func validateMembership(membership *model.Membership) error {
	if membership == nil {
		return fmt.Errorf("%w: membership", ErrNilParameter)
	}
	if strings.TrimSpace(membership.CircleID) == "" {
		return fmt.Errorf("%w: missing circle ID", ErrInvalidMembership)
	}
	if strings.TrimSpace(membership.UserID) == "" {
		return fmt.Errorf("%w: missing user ID", ErrInvalidMembership)
	}
	return nil
}

func validateRound(round *model.Round) error {
	if round == nil {
		return fmt.Errorf("%w: round", ErrNilParameter)
	}
	if strings.TrimSpace(round.CircleID) == "" {
		return fmt.Errorf("%w: missing circle ID", ErrInvalidRound)
	}
	if round.Index < 0 {
		return fmt.Errorf("%w: negative index", ErrInvalidRound)
	}
	if round.DueAt.IsZero() {
		return fmt.Errorf("%w: missing due date", ErrInvalidRound)
	}
	return nil
}

func validateContribution(contribution *model.Contribution) error {
	if contribution == nil {
		return fmt.Errorf("%w: contribution", ErrNilParameter)
	}
	if err := validateString(contribution.RoundID, "roundID"); err != nil {
		return err
	}
	if err := validateString(contribution.MembershipID, "membershipID"); err != nil {
		return err
	}
	if contribution.Amount <= 0 {
		return ErrInvalidAmount
	}
	switch contribution.Status {
	case model.ContributionPending, model.ContributionPaid, model.ContributionLate, model.ContributionMissed:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStatus, contribution.Status)
	}
	return nil
}

func validatePayout(payout *model.Payout) error {
	if payout == nil {
		return fmt.Errorf("%w: payout", ErrNilParameter)
	}
	if err := validateString(payout.RoundID, "roundID"); err != nil {
		return err
	}
	if err := validateString(payout.MembershipID, "membershipID"); err != nil {
		return err
	}
	if payout.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func validateTrustAdjustment(adj *model.TrustAdjustment) error {
	if adj == nil {
		return fmt.Errorf("%w: adjustment", ErrNilParameter)
	}
	if err := validateString(adj.MembershipID, "membershipID"); err != nil {
		return err
	}
	switch adj.Reason {
	case model.ReasonPaidOnTime, model.ReasonPaidLate, model.ReasonMissed:
	default:
		return fmt.Errorf("%w: adjustment reason %s", ErrInvalidStatus, adj.Reason)
	}
	return nil
}

func validateLedgerTransaction(txn *model.LedgerTransaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if !txn.Type.IsValid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTransaction, txn.Type)
	}
	if txn.UserID == "" {
		return fmt.Errorf("%w: missing user ID", ErrInvalidTransaction)
	}
	if txn.OccurredAt.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidTransaction)
	}
	return nil
}

func validateSubmission(sub *model.ComplianceSubmission) error {
	if sub == nil {
		return fmt.Errorf("%w: submission", ErrNilParameter)
	}
	if strings.TrimSpace(sub.IdempotencyKey) == "" {
		return fmt.Errorf("%w: missing idempotency key", ErrInvalidSubmission)
	}
	if sub.ReportType == "" {
		return fmt.Errorf("%w: missing report type", ErrInvalidSubmission)
	}
	return nil
}
