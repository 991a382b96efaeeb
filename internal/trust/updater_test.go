package trust

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pardna/internal/model"
)

// memoryStore is an in-memory TrustStore.
type memoryStore struct {
	scores      map[string]int
	adjustments []model.TrustAdjustment
	mu          sync.Mutex
}

func newMemoryStore() *memoryStore {
	return &memoryStore{scores: make(map[string]int)}
}

func (m *memoryStore) AppendTrustAdjustment(_ context.Context, adj *model.TrustAdjustment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	adj.ID = int64(len(m.adjustments) + 1)
	adj.ScoreAfter = m.scores[adj.MembershipID] + adj.Delta
	m.scores[adj.MembershipID] = adj.ScoreAfter
	m.adjustments = append(m.adjustments, *adj)
	return nil
}

func (m *memoryStore) ListTrustAdjustments(_ context.Context, membershipID string) ([]model.TrustAdjustment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.TrustAdjustment
	for _, adj := range m.adjustments {
		if adj.MembershipID == membershipID {
			out = append(out, adj)
		}
	}
	return out, nil
}

func TestUpdater_OnContributionPaid(t *testing.T) {
	tests := []struct {
		name       string
		start      int
		onTime     bool
		wantScore  int
		wantDelta  int
		wantReason model.AdjustmentReason
	}{
		{name: "on time", start: 10, onTime: true, wantScore: 12, wantDelta: 2, wantReason: model.ReasonPaidOnTime},
		{name: "late", start: 10, onTime: false, wantScore: 11, wantDelta: 1, wantReason: model.ReasonPaidLate},
		{name: "clamped at max", start: 99, onTime: true, wantScore: 100, wantDelta: 1, wantReason: model.ReasonPaidOnTime},
		{name: "already at max", start: 100, onTime: true, wantScore: 100, wantDelta: 0, wantReason: model.ReasonPaidOnTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemoryStore()
			store.scores["m1"] = tt.start
			membership := &model.Membership{ID: "m1", TrustScore: tt.start}

			updater := NewUpdater(DefaultConfig(), nil)
			adj, err := updater.OnContributionPaid(context.Background(), store, membership, "r1", tt.onTime)
			require.NoError(t, err)

			assert.Equal(t, tt.wantScore, adj.ScoreAfter)
			assert.Equal(t, tt.wantDelta, adj.Delta)
			assert.Equal(t, tt.wantReason, adj.Reason)
			assert.Equal(t, tt.wantScore, membership.TrustScore)
		})
	}
}

func TestUpdater_OnContributionMissedClampsAtFloor(t *testing.T) {
	store := newMemoryStore()
	store.scores["m1"] = 3
	membership := &model.Membership{ID: "m1", TrustScore: 3}

	updater := NewUpdater(DefaultConfig(), nil)
	adj, err := updater.OnContributionMissed(context.Background(), store, membership, "r1")
	require.NoError(t, err)

	assert.Equal(t, 0, adj.ScoreAfter)
	assert.Equal(t, -3, adj.Delta)
	assert.Equal(t, model.ReasonMissed, adj.Reason)
}

func TestUpdater_ReplayMatchesLiveScore(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	membership := &model.Membership{ID: "m1"}
	updater := NewUpdater(DefaultConfig(), nil)

	steps := []func() error{
		func() error { _, err := updater.OnContributionPaid(ctx, store, membership, "r1", true); return err },
		func() error { _, err := updater.OnContributionMissed(ctx, store, membership, "r2"); return err },
		func() error { _, err := updater.OnContributionPaid(ctx, store, membership, "r3", false); return err },
		func() error { _, err := updater.OnContributionPaid(ctx, store, membership, "r4", true); return err },
	}
	for _, step := range steps {
		require.NoError(t, step())
	}

	history, err := store.ListTrustAdjustments(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, history, 4)

	assert.Equal(t, membership.TrustScore, updater.Replay(history))
	assert.Equal(t, 3, membership.TrustScore)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.MinScore = 200
	assert.Error(t, bad.Validate())

	negative := DefaultConfig()
	negative.MissedPenalty = -1
	assert.Error(t, negative.Validate())
}
