package ledger

import (
	"fmt"
	"sort"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/model"
)

// DrawPolicy decides payout order. Assign runs once when a circle activates;
// Recipient picks the membership paid in a given round.
type DrawPolicy interface {
	Assign(memberships []model.Membership) (map[string]int, error)
	Recipient(round *model.Round, memberships []model.Membership) (*model.Membership, error)
}

// JoinOrderPolicy gives the earliest member position 1 and pays positions in
// round order, wrapping at the rotation size.
type JoinOrderPolicy struct{}

// Assign implements DrawPolicy.
func (JoinOrderPolicy) Assign(memberships []model.Membership) (map[string]int, error) {
	ordered := make([]model.Membership, len(memberships))
	copy(ordered, memberships)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].JoinedAt.Equal(ordered[j].JoinedAt) {
			return ordered[i].ID < ordered[j].ID
		}
		return ordered[i].JoinedAt.Before(ordered[j].JoinedAt)
	})

	positions := make(map[string]int, len(ordered))
	for i, m := range ordered {
		positions[m.ID] = i + 1
	}
	return positions, nil
}

// Recipient implements DrawPolicy.
func (JoinOrderPolicy) Recipient(round *model.Round, memberships []model.Membership) (*model.Membership, error) {
	size := rotationSize(memberships)
	if size == 0 {
		return nil, fmt.Errorf("%w: circle %s has no draw positions", common.ErrInvalidState, round.CircleID)
	}

	position := round.Index%size + 1
	for i := range memberships {
		if memberships[i].DrawPosition == position {
			return &memberships[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no membership at draw position %d", common.ErrInvalidState, position)
}

// rotationSize is the number of memberships that hold a draw position.
func rotationSize(memberships []model.Membership) int {
	n := 0
	for _, m := range memberships {
		if m.DrawPosition > 0 {
			n++
		}
	}
	return n
}
