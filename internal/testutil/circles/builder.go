// Package circles provides a fluent builder for seeding circles and their
// memberships in tests.
//
// Example usage:
//
//	fixture := circles.NewBuilder(t).
//		WithMembers(3).
//		WithContribution(500000, model.CurrencyJMD).
//		Active().
//		Build(ctx, store)
package circles

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Veraticus/pardna/internal/model"
	"github.com/Veraticus/pardna/internal/service"
)

// Fixture is a seeded circle. Memberships are in draw order when the circle is active.
type Fixture struct {
	Circle      *model.Circle
	Memberships []model.Membership
}

// Member returns the membership at draw position pos, failing the test if absent.
func (f *Fixture) Member(t *testing.T, pos int) model.Membership {
	t.Helper()
	for _, m := range f.Memberships {
		if m.DrawPosition == pos {
			return m
		}
	}
	t.Fatalf("no membership at draw position %d", pos)
	return model.Membership{}
}

// Builder accumulates the shape of a circle before it is written.
type Builder struct {
	t       *testing.T
	name    string
	cadence model.Cadence
	curr    model.Currency
	amount  int64
	members int
	target  int
	active  bool
}

// NewBuilder starts a three-member weekly JMD circle.
func NewBuilder(t *testing.T) *Builder {
	t.Helper()
	return &Builder{
		t:       t,
		name:    "Test pardna",
		cadence: model.CadenceWeekly,
		curr:    model.CurrencyJMD,
		amount:  500000,
		members: 3,
	}
}

// WithName sets the circle name.
func (b *Builder) WithName(name string) *Builder {
	b.name = name
	return b
}

// WithMembers sets how many members join.
func (b *Builder) WithMembers(n int) *Builder {
	b.members = n
	return b
}

// WithTarget sets the target size when it should differ from the member count.
func (b *Builder) WithTarget(n int) *Builder {
	b.target = n
	return b
}

// WithContribution sets the per-round amount and currency.
func (b *Builder) WithContribution(amount int64, currency model.Currency) *Builder {
	b.amount = amount
	b.curr = currency
	return b
}

// WithCadence sets the round cadence.
func (b *Builder) WithCadence(c model.Cadence) *Builder {
	b.cadence = c
	return b
}

// Active assigns draw positions in join order and activates the circle.
func (b *Builder) Active() *Builder {
	b.active = true
	return b
}

// Build writes the circle to store, failing the test on any error.
func (b *Builder) Build(ctx context.Context, store service.Storage) *Fixture {
	b.t.Helper()

	fixture, err := b.build(ctx, store)
	if err != nil {
		b.t.Fatalf("failed to seed circle: %v", err)
	}
	return fixture
}

func (b *Builder) build(ctx context.Context, store service.Storage) (*Fixture, error) {
	target := b.target
	if target == 0 {
		target = b.members
	}

	circle := &model.Circle{
		Name:               b.name,
		ContributionAmount: b.amount,
		Currency:           b.curr,
		TargetMembers:      target,
		Cadence:            b.cadence,
	}
	if err := store.CreateCircle(ctx, circle); err != nil {
		return nil, fmt.Errorf("create circle: %w", err)
	}

	base := time.Now().UTC().Add(-time.Hour)
	positions := make(map[string]int, b.members)
	memberships := make([]model.Membership, 0, b.members)
	for i := 0; i < b.members; i++ {
		m := &model.Membership{
			CircleID: circle.ID,
			UserID:   fmt.Sprintf("user-%d", i+1),
			JoinedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.AddMembership(ctx, m); err != nil {
			return nil, fmt.Errorf("add member %d: %w", i+1, err)
		}
		positions[m.ID] = i + 1
		memberships = append(memberships, *m)
	}

	if b.active {
		if err := store.SetDrawPositions(ctx, circle.ID, positions); err != nil {
			return nil, fmt.Errorf("set draw positions: %w", err)
		}
		if err := store.UpdateCircleStatus(ctx, circle.ID, model.CircleStatusPlanned, model.CircleStatusActive); err != nil {
			return nil, fmt.Errorf("activate: %w", err)
		}
		circle.Status = model.CircleStatusActive
		for i := range memberships {
			memberships[i].DrawPosition = positions[memberships[i].ID]
		}
	}

	return &Fixture{Circle: circle, Memberships: memberships}, nil
}
