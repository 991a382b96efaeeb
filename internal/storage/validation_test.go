package storage

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/pardna/internal/model"
)

func TestValidateContext(t *testing.T) {
	tests := []struct {
		ctx     context.Context
		name    string
		wantErr bool
	}{
		{
			name:    "valid context",
			ctx:     context.Background(),
			wantErr: false,
		},
		{
			name:    "nil context",
			ctx:     nil,
			wantErr: true,
		},
		{
			name: "canceled context still valid",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			}(),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateContext(tt.ctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateContext() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateString(t *testing.T) {
	tests := []struct {
		name      string
		str       string
		paramName string
		wantErr   bool
	}{
		{name: "valid string", str: "test", paramName: "param"},
		{name: "empty string", str: "", paramName: "param", wantErr: true},
		{name: "whitespace only", str: "   ", paramName: "param", wantErr: true},
		{name: "string with spaces", str: "  test  ", paramName: "param"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateString(tt.str, tt.paramName)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateString() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), tt.paramName) {
				t.Errorf("validateString() error should contain param name %s, got %v", tt.paramName, err)
			}
		})
	}
}

func TestValidateCircle(t *testing.T) {
	valid := func() *model.Circle {
		return &model.Circle{
			Name:               "Friday pardna",
			ContributionAmount: 500000,
			Currency:           model.CurrencyJMD,
			TargetMembers:      3,
			Cadence:            model.CadenceWeekly,
		}
	}

	tests := []struct {
		circle  *model.Circle
		wantErr error
		name    string
	}{
		{name: "valid circle", circle: valid()},
		{name: "nil circle", circle: nil, wantErr: ErrNilParameter},
		{
			name: "missing name",
			circle: func() *model.Circle {
				c := valid()
				c.Name = " "
				return c
			}(),
			wantErr: ErrInvalidCircle,
		},
		{
			name: "zero amount",
			circle: func() *model.Circle {
				c := valid()
				c.ContributionAmount = 0
				return c
			}(),
			wantErr: ErrInvalidAmount,
		},
		{
			name: "unknown currency",
			circle: func() *model.Circle {
				c := valid()
				c.Currency = "XYZ"
				return c
			}(),
			wantErr: ErrInvalidCircle,
		},
		{
			name: "no members",
			circle: func() *model.Circle {
				c := valid()
				c.TargetMembers = 0
				return c
			}(),
			wantErr: ErrInvalidCircle,
		},
		{
			name: "hand overflows",
			circle: func() *model.Circle {
				c := valid()
				c.ContributionAmount = math.MaxInt64/2 + 1
				c.TargetMembers = 2
				return c
			}(),
			wantErr: ErrInvalidAmount,
		},
		{
			name: "largest hand that fits",
			circle: func() *model.Circle {
				c := valid()
				c.ContributionAmount = math.MaxInt64 / 2
				c.TargetMembers = 2
				return c
			}(),
		},
		{
			name: "unknown cadence",
			circle: func() *model.Circle {
				c := valid()
				c.Cadence = "daily"
				return c
			}(),
			wantErr: ErrInvalidCircle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCircle(tt.circle)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("validateCircle() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("validateCircle() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateContribution(t *testing.T) {
	tests := []struct {
		contribution *model.Contribution
		name         string
		wantErr      bool
	}{
		{
			name: "valid pending",
			contribution: &model.Contribution{
				RoundID: "r1", MembershipID: "m1", Amount: 100, Status: model.ContributionPending,
			},
		},
		{
			name:         "nil contribution",
			contribution: nil,
			wantErr:      true,
		},
		{
			name: "missing round",
			contribution: &model.Contribution{
				MembershipID: "m1", Amount: 100, Status: model.ContributionPaid,
			},
			wantErr: true,
		},
		{
			name: "negative amount",
			contribution: &model.Contribution{
				RoundID: "r1", MembershipID: "m1", Amount: -5, Status: model.ContributionPaid,
			},
			wantErr: true,
		},
		{
			name: "unknown status",
			contribution: &model.Contribution{
				RoundID: "r1", MembershipID: "m1", Amount: 100, Status: "refunded",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateContribution(tt.contribution)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateContribution() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateLedgerTransaction(t *testing.T) {
	now := time.Now()
	tests := []struct {
		txn     *model.LedgerTransaction
		name    string
		wantErr bool
	}{
		{
			name: "valid",
			txn:  &model.LedgerTransaction{ID: "t1", Type: model.TxDeposit, UserID: "u1", OccurredAt: now},
		},
		{
			name:    "missing ID",
			txn:     &model.LedgerTransaction{Type: model.TxDeposit, UserID: "u1", OccurredAt: now},
			wantErr: true,
		},
		{
			name:    "unknown type",
			txn:     &model.LedgerTransaction{ID: "t1", Type: "refund", UserID: "u1", OccurredAt: now},
			wantErr: true,
		},
		{
			name:    "missing timestamp",
			txn:     &model.LedgerTransaction{ID: "t1", Type: model.TxPayout, UserID: "u1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateLedgerTransaction(tt.txn)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateLedgerTransaction() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
