// Package trust maintains members' trust scores from their contribution history.
package trust

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/model"
	"github.com/Veraticus/pardna/internal/service"
)

// Config holds the score deltas and bounds.
type Config struct {
	OnTimeReward  int
	LateReward    int
	MissedPenalty int
	MinScore      int
	MaxScore      int
}

// DefaultConfig returns the standard reward schedule.
func DefaultConfig() Config {
	return Config{
		OnTimeReward:  2,
		LateReward:    1,
		MissedPenalty: 5,
		MinScore:      0,
		MaxScore:      100,
	}
}

// Validate checks the schedule for contradictions.
func (c Config) Validate() error {
	if c.MinScore > c.MaxScore {
		return fmt.Errorf("%w: trust min score %d exceeds max score %d", common.ErrInvalidConfig, c.MinScore, c.MaxScore)
	}
	if c.OnTimeReward < 0 || c.LateReward < 0 || c.MissedPenalty < 0 {
		return fmt.Errorf("%w: trust deltas must be non-negative", common.ErrInvalidConfig)
	}
	return nil
}

// Updater applies trust adjustments. It writes through whichever store it is
// handed, so callers pass their open transaction to keep the adjustment atomic
// with the contribution that caused it.
type Updater struct {
	logger *slog.Logger
	config Config
}

// NewUpdater creates an updater. A nil logger uses slog.Default().
func NewUpdater(config Config, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{
		config: config,
		logger: logger,
	}
}

// Config returns the updater's schedule.
func (u *Updater) Config() Config {
	return u.config
}

// OnContributionPaid rewards a paid contribution.
func (u *Updater) OnContributionPaid(ctx context.Context, store service.TrustStore, membership *model.Membership, roundID string, onTime bool) (*model.TrustAdjustment, error) {
	reward, reason := u.config.LateReward, model.ReasonPaidLate
	if onTime {
		reward, reason = u.config.OnTimeReward, model.ReasonPaidOnTime
	}
	return u.apply(ctx, store, membership, roundID, reward, reason)
}

// OnContributionMissed penalizes a missed contribution.
func (u *Updater) OnContributionMissed(ctx context.Context, store service.TrustStore, membership *model.Membership, roundID string) (*model.TrustAdjustment, error) {
	return u.apply(ctx, store, membership, roundID, -u.config.MissedPenalty, model.ReasonMissed)
}

func (u *Updater) apply(ctx context.Context, store service.TrustStore, membership *model.Membership, roundID string, delta int, reason model.AdjustmentReason) (*model.TrustAdjustment, error) {
	target := u.Clamp(membership.TrustScore + delta)

	adj := &model.TrustAdjustment{
		MembershipID: membership.ID,
		RoundID:      roundID,
		Delta:        target - membership.TrustScore,
		Reason:       reason,
	}
	if err := store.AppendTrustAdjustment(ctx, adj); err != nil {
		return nil, fmt.Errorf("failed to record trust adjustment: %w", err)
	}
	membership.TrustScore = adj.ScoreAfter

	u.logger.Debug("trust score adjusted",
		"membership_id", membership.ID,
		"round_id", roundID,
		"reason", reason,
		"delta", adj.Delta,
		"score", adj.ScoreAfter)

	return adj, nil
}

// Clamp bounds a score to [MinScore, MaxScore].
func (u *Updater) Clamp(score int) int {
	if score < u.config.MinScore {
		return u.config.MinScore
	}
	if score > u.config.MaxScore {
		return u.config.MaxScore
	}
	return score
}

// Replay recomputes a score from its adjustment history. Deltas are stored
// post-clamp, so the result matches the live score when the history is complete.
func (u *Updater) Replay(history []model.TrustAdjustment) int {
	score := 0
	for _, adj := range history {
		score = u.Clamp(score + adj.Delta)
	}
	return score
}
