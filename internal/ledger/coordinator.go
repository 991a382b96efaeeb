// Package ledger runs the circle rotation: rounds, contributions and payouts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/events"
	"github.com/Veraticus/pardna/internal/model"
	"github.com/Veraticus/pardna/internal/service"
	"github.com/Veraticus/pardna/internal/trust"
)

// Config holds the coordinator's policy knobs.
type Config struct {
	// ContributionGracePeriod is how long after DueAt a pending contribution stays pending.
	ContributionGracePeriod time.Duration
	// MinMembers is the smallest circle that can be activated.
	MinMembers int
}

// DefaultConfig returns the standard coordinator settings.
func DefaultConfig() Config {
	return Config{
		ContributionGracePeriod: 72 * time.Hour,
		MinMembers:              2,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.ContributionGracePeriod < 0 {
		return fmt.Errorf("%w: contribution grace period cannot be negative", common.ErrInvalidConfig)
	}
	if c.MinMembers < 1 {
		return fmt.Errorf("%w: min members must be at least 1", common.ErrInvalidConfig)
	}
	return nil
}

// ContributionResult is returned by RecordContribution. Payout is set when
// this contribution completed the round, or when a duplicate arrives for a
// round that has already paid out.
type ContributionResult struct {
	Contribution *model.Contribution
	Payout       *model.Payout
	Duplicate    bool
}

// Coordinator is the sole writer of rounds, contributions and payouts.
type Coordinator struct {
	store     service.Storage
	trust     *trust.Updater
	publisher service.EventPublisher
	observer  service.TransactionObserver
	policy    DrawPolicy
	locks     *keyedMutex
	logger    *slog.Logger
	now       func() time.Time
	txRetry   service.RetryOptions
	config    Config
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

// WithPublisher sets the event sink. The default discards events into the log.
func WithPublisher(p service.EventPublisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithObserver registers the risk monitor that sees every settled contribution and payout.
func WithObserver(o service.TransactionObserver) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithDrawPolicy replaces the join-order draw policy.
func WithDrawPolicy(p DrawPolicy) Option {
	return func(c *Coordinator) { c.policy = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = common.ComponentLogger(l, "ledger") }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator.
func NewCoordinator(store service.Storage, updater *trust.Updater, config Config, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:  store,
		trust:  updater,
		config: config,
		policy: JoinOrderPolicy{},
		locks:  newKeyedMutex(),
		logger: common.ComponentLogger(nil, "ledger"),
		now:    time.Now,
		txRetry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     200 * time.Millisecond,
			Multiplier:   2,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.publisher == nil {
		c.publisher = events.NewLogPublisher(c.logger)
	}
	return c
}

func circleKey(id string) string { return "circle:" + id }
func roundKey(id string) string  { return "round:" + id }

// effects collects what to announce once the transaction has committed.
type effects struct {
	events   []model.Event
	observed []model.LedgerTransaction
}

func (fx *effects) emit(eventType model.EventType, aggregateID string, data map[string]any) {
	fx.events = append(fx.events, events.New(eventType, aggregateID, data))
}

func (fx *effects) observe(txn model.LedgerTransaction) {
	fx.observed = append(fx.observed, txn)
}

// recordTransactionTx writes txn to the monitored transaction log in the same
// store transaction as the money movement, then queues it for the observer.
// A transaction the observer never assesses is picked up by Monitor.Sweep.
func recordTransactionTx(ctx context.Context, tx service.Transaction, fx *effects, txn model.LedgerTransaction) error {
	if err := tx.SaveLedgerTransaction(ctx, &txn); err != nil {
		return err
	}
	fx.observe(txn)
	return nil
}

// inTx runs fn in a store transaction. A lost compare-and-swap re-runs the
// whole transaction; any other error is returned as is.
func (c *Coordinator) inTx(ctx context.Context, fn func(tx service.Transaction) error) error {
	return common.WithRetry(ctx, func(ctx context.Context) error {
		tx, err := c.store.BeginTx(ctx)
		if err != nil {
			return common.Permanent(err)
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if errors.Is(err, common.ErrConflict) {
				return err
			}
			return common.Permanent(err)
		}

		if err := tx.Commit(); err != nil {
			return common.Permanent(fmt.Errorf("failed to commit: %w", err))
		}
		return nil
	}, c.txRetry)
}

// flush publishes events and feeds the monitor. Failures are logged; the
// ledger change has already committed and unassessed transactions stay in the
// log for the next sweep.
func (c *Coordinator) flush(ctx context.Context, fx effects) {
	for _, event := range fx.events {
		if err := c.publisher.Publish(ctx, event); err != nil {
			c.logger.Warn("failed to publish event", "type", event.Type, "aggregate_id", event.AggregateID, "error", err)
		}
	}
	if c.observer == nil {
		return
	}
	for _, txn := range fx.observed {
		if err := c.observer.Observe(ctx, txn); err != nil {
			common.LogError(err, "transaction monitoring failed", common.Fields{
				"transaction_id": txn.ID,
				"type":           txn.Type,
			})
		}
	}
}

// CreateCircle stores a new planned circle.
func (c *Coordinator) CreateCircle(ctx context.Context, circle *model.Circle) error {
	circle.Status = model.CircleStatusPlanned
	if err := c.store.CreateCircle(ctx, circle); err != nil {
		return err
	}
	c.logger.Info("circle created", "circle_id", circle.ID, "name", circle.Name)
	return nil
}

// JoinCircle adds a user to a planned circle that still has room.
func (c *Coordinator) JoinCircle(ctx context.Context, circleID, userID string) (*model.Membership, error) {
	unlock := c.locks.Lock(circleKey(circleID))
	defer unlock()

	var membership *model.Membership
	err := c.inTx(ctx, func(tx service.Transaction) error {
		circle, err := tx.GetCircle(ctx, circleID)
		if err != nil {
			return err
		}
		if circle.Status != model.CircleStatusPlanned {
			return fmt.Errorf("%w: circle %s is %s and no longer accepts members", common.ErrInvalidState, circleID, circle.Status)
		}

		memberships, err := tx.ListMemberships(ctx, circleID)
		if err != nil {
			return err
		}
		if len(liveMemberships(memberships)) >= circle.TargetMembers {
			return fmt.Errorf("%w: circle %s is full", common.ErrInvalidState, circleID)
		}

		membership = &model.Membership{
			CircleID: circleID,
			UserID:   userID,
			Status:   model.MembershipActive,
			JoinedAt: c.now().UTC(),
		}
		return tx.AddMembership(ctx, membership)
	})
	if err != nil {
		return nil, err
	}
	return membership, nil
}

// ActivateCircle assigns draw positions and moves the circle from planned to active.
func (c *Coordinator) ActivateCircle(ctx context.Context, circleID string) (*model.Circle, error) {
	unlock := c.locks.Lock(circleKey(circleID))
	defer unlock()

	var circle *model.Circle
	err := c.inTx(ctx, func(tx service.Transaction) error {
		var err error
		circle, err = tx.GetCircle(ctx, circleID)
		if err != nil {
			return err
		}
		if circle.Status != model.CircleStatusPlanned {
			return fmt.Errorf("%w: circle %s is %s", common.ErrInvalidState, circleID, circle.Status)
		}

		memberships, err := tx.ListMemberships(ctx, circleID)
		if err != nil {
			return err
		}
		members := liveMemberships(memberships)
		if len(members) < c.config.MinMembers {
			return fmt.Errorf("%w: circle %s has %d members, needs %d", common.ErrInvalidState, circleID, len(members), c.config.MinMembers)
		}

		positions, err := c.policy.Assign(members)
		if err != nil {
			return fmt.Errorf("failed to assign draw positions: %w", err)
		}
		if err := tx.SetDrawPositions(ctx, circleID, positions); err != nil {
			return err
		}
		if err := tx.UpdateCircleStatus(ctx, circleID, model.CircleStatusPlanned, model.CircleStatusActive); err != nil {
			return err
		}
		circle.Status = model.CircleStatusActive
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("circle activated", "circle_id", circleID)
	return circle, nil
}

// CancelCircle cancels a planned or active circle and its in-progress round.
func (c *Coordinator) CancelCircle(ctx context.Context, circleID string) error {
	unlock := c.locks.Lock(circleKey(circleID))
	defer unlock()

	err := c.inTx(ctx, func(tx service.Transaction) error {
		circle, err := tx.GetCircle(ctx, circleID)
		if err != nil {
			return err
		}
		if !circle.Status.CanTransitionTo(model.CircleStatusCancelled) {
			return fmt.Errorf("%w: circle %s is %s", common.ErrInvalidState, circleID, circle.Status)
		}

		round, err := tx.GetActiveRound(ctx, circleID)
		switch {
		case err == nil:
			if err := tx.CompareAndSwapRoundStatus(ctx, round.ID, round.Status, model.RoundCancelled); err != nil {
				return err
			}
		case !errors.Is(err, common.ErrNotFound):
			return err
		}

		return tx.UpdateCircleStatus(ctx, circleID, circle.Status, model.CircleStatusCancelled)
	})
	if err != nil {
		return err
	}

	c.logger.Info("circle cancelled", "circle_id", circleID)
	return nil
}

// OpenNextRound creates the circle's next round with a pending contribution
// for every active member.
func (c *Coordinator) OpenNextRound(ctx context.Context, circleID string) (*model.Round, error) {
	unlock := c.locks.Lock(circleKey(circleID))

	var round *model.Round
	var fx effects
	err := c.inTx(ctx, func(tx service.Transaction) error {
		fx = effects{}

		circle, err := tx.GetCircle(ctx, circleID)
		if err != nil {
			return err
		}
		if circle.Status != model.CircleStatusActive {
			return fmt.Errorf("%w: circle %s is %s", common.ErrCircleNotActive, circleID, circle.Status)
		}

		active, err := tx.GetActiveRound(ctx, circleID)
		switch {
		case err == nil:
			return fmt.Errorf("%w: round %d of circle %s is still %s", common.ErrInvalidState, active.Index, circleID, active.Status)
		case !errors.Is(err, common.ErrNotFound):
			return err
		}

		memberships, err := tx.ListMemberships(ctx, circleID)
		if err != nil {
			return err
		}
		index, err := tx.CountRounds(ctx, circleID)
		if err != nil {
			return err
		}
		if index >= rotationSize(memberships) {
			return fmt.Errorf("%w: every member of circle %s has received a hand", common.ErrInvalidState, circleID)
		}

		contributors := activeMemberships(memberships)
		if len(contributors) == 0 {
			return fmt.Errorf("%w: circle %s has no active members", common.ErrInvalidState, circleID)
		}

		now := c.now().UTC()
		round = &model.Round{
			CircleID:              circleID,
			Index:                 index,
			DueAt:                 circle.Cadence.NextDue(now),
			OpenedAt:              now,
			Status:                model.RoundOpen,
			ExpectedContributions: len(contributors),
		}
		if err := tx.CreateRound(ctx, round); err != nil {
			if errors.Is(err, common.ErrDuplicateEntry) {
				return fmt.Errorf("%w: %w", common.ErrInvalidState, err)
			}
			return err
		}

		for _, m := range contributors {
			pending := &model.Contribution{
				RoundID:      round.ID,
				MembershipID: m.ID,
				Amount:       circle.ContributionAmount,
				Status:       model.ContributionPending,
				CreatedAt:    now,
			}
			if err := tx.CreateContribution(ctx, pending); err != nil {
				return err
			}
		}

		fx.emit(model.EventRoundOpened, round.ID, map[string]any{
			"circle_id": circleID,
			"index":     round.Index,
			"due_at":    round.DueAt,
		})
		return nil
	})
	unlock()
	if err != nil {
		return nil, err
	}

	c.logger.Info("round opened", "circle_id", circleID, "round_id", round.ID, "index", round.Index)
	c.flush(ctx, fx)
	return round, nil
}

// RecordContribution marks a member's contribution paid. A retried call for
// an already paid contribution returns the stored record with Duplicate set.
// The contribution that completes the round releases the payout in the same
// transaction.
func (c *Coordinator) RecordContribution(ctx context.Context, roundID, membershipID string, amount int64) (*ContributionResult, error) {
	unlock := c.locks.Lock(roundKey(roundID))

	var result *ContributionResult
	var fx effects
	err := c.inTx(ctx, func(tx service.Transaction) error {
		fx = effects{}
		var err error
		result, err = c.recordContributionTx(ctx, tx, roundID, membershipID, amount, &fx)
		return err
	})
	unlock()
	if err != nil {
		return nil, err
	}

	if result.Duplicate {
		c.logger.Debug("duplicate contribution absorbed", "round_id", roundID, "membership_id", membershipID)
		return result, nil
	}

	c.logger.Info("contribution recorded",
		"round_id", roundID,
		"membership_id", membershipID,
		"amount", amount,
		"completed_round", result.Payout != nil)
	c.flush(ctx, fx)
	return result, nil
}

func (c *Coordinator) recordContributionTx(ctx context.Context, tx service.Transaction, roundID, membershipID string, amount int64, fx *effects) (*ContributionResult, error) {
	round, err := tx.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	membership, err := tx.GetMembership(ctx, membershipID)
	if err != nil {
		return nil, err
	}
	if membership.CircleID != round.CircleID {
		return nil, fmt.Errorf("%w: membership %s is not part of circle %s", common.ErrInvalidState, membershipID, round.CircleID)
	}

	existing, err := tx.GetContribution(ctx, roundID, membershipID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status == model.ContributionPaid {
		if existing.Amount != amount {
			return nil, fmt.Errorf("%w: already paid %d, got %d", common.ErrAmountMismatch, existing.Amount, amount)
		}
		return duplicateResult(ctx, tx, existing)
	}

	if !round.Status.IsInProgress() {
		return nil, fmt.Errorf("%w: round %s is %s", common.ErrRoundClosed, roundID, round.Status)
	}
	if membership.Status != model.MembershipActive {
		return nil, fmt.Errorf("%w: membership %s is %s", common.ErrInvalidState, membershipID, membership.Status)
	}

	circle, err := tx.GetCircle(ctx, round.CircleID)
	if err != nil {
		return nil, err
	}
	if amount != circle.ContributionAmount {
		return nil, fmt.Errorf("%w: circle %s expects %d, got %d", common.ErrAmountMismatch, circle.ID, circle.ContributionAmount, amount)
	}

	now := c.now().UTC()
	contribution := existing
	if contribution != nil {
		if err := tx.CompareAndSwapContribution(ctx, contribution.ID, contribution.Status, model.ContributionPaid, &now); err != nil {
			return nil, err
		}
		contribution.Status = model.ContributionPaid
		contribution.PaidAt = &now
	} else {
		contribution = &model.Contribution{
			RoundID:      roundID,
			MembershipID: membershipID,
			Amount:       amount,
			Status:       model.ContributionPaid,
			PaidAt:       &now,
			CreatedAt:    now,
		}
		if err := tx.CreateContribution(ctx, contribution); err != nil {
			if errors.Is(err, common.ErrDuplicateEntry) {
				return nil, fmt.Errorf("%w: %w", common.ErrConflict, err)
			}
			return nil, err
		}
	}

	onTime := !now.After(round.DueAt)
	if _, err := c.trust.OnContributionPaid(ctx, tx, membership, roundID, onTime); err != nil {
		return nil, err
	}

	if round.Status == model.RoundOpen {
		if err := tx.CompareAndSwapRoundStatus(ctx, roundID, model.RoundOpen, model.RoundCollecting); err != nil {
			return nil, err
		}
		round.Status = model.RoundCollecting
	}

	fx.emit(model.EventContributionRecorded, contribution.ID, map[string]any{
		"round_id":      roundID,
		"membership_id": membershipID,
		"amount":        amount,
		"on_time":       onTime,
	})
	if err := recordTransactionTx(ctx, tx, fx, model.LedgerTransaction{
		ID:         contribution.ID,
		Type:       model.TxContribution,
		Amount:     amount,
		Currency:   circle.Currency,
		UserID:     membership.UserID,
		CircleID:   circle.ID,
		OccurredAt: now,
	}); err != nil {
		return nil, err
	}

	result := &ContributionResult{Contribution: contribution}

	paid, err := tx.CountContributions(ctx, roundID, model.ContributionPaid)
	if err != nil {
		return nil, err
	}
	if paid >= round.ExpectedContributions {
		payout, _, err := c.releasePayoutTx(ctx, tx, round, circle, fx)
		if err != nil {
			return nil, err
		}
		result.Payout = payout
	}

	return result, nil
}

func duplicateResult(ctx context.Context, tx service.Transaction, existing *model.Contribution) (*ContributionResult, error) {
	result := &ContributionResult{Contribution: existing, Duplicate: true}
	payout, err := tx.GetPayoutByRound(ctx, existing.RoundID)
	switch {
	case err == nil:
		result.Payout = payout
	case !errors.Is(err, common.ErrNotFound):
		return nil, err
	}
	return result, nil
}

// ReleasePayout pays the round's recipient once every expected contribution
// is paid. A round that already paid out returns its payout.
func (c *Coordinator) ReleasePayout(ctx context.Context, roundID string) (*model.Payout, error) {
	unlock := c.locks.Lock(roundKey(roundID))

	var payout *model.Payout
	var alreadyPaid bool
	var fx effects
	err := c.inTx(ctx, func(tx service.Transaction) error {
		fx = effects{}

		round, err := tx.GetRound(ctx, roundID)
		if err != nil {
			return err
		}
		circle, err := tx.GetCircle(ctx, round.CircleID)
		if err != nil {
			return err
		}
		payout, alreadyPaid, err = c.releasePayoutTx(ctx, tx, round, circle, &fx)
		return err
	})
	unlock()
	if err != nil {
		return nil, err
	}

	if !alreadyPaid {
		c.flush(ctx, fx)
	}
	return payout, nil
}

func (c *Coordinator) releasePayoutTx(ctx context.Context, tx service.Transaction, round *model.Round, circle *model.Circle, fx *effects) (*model.Payout, bool, error) {
	existing, err := tx.GetPayoutByRound(ctx, round.ID)
	switch {
	case err == nil:
		return existing, true, nil
	case !errors.Is(err, common.ErrNotFound):
		return nil, false, err
	}

	if !round.Status.IsInProgress() {
		return nil, false, fmt.Errorf("%w: round %s is %s", common.ErrRoundClosed, round.ID, round.Status)
	}

	paid, err := tx.CountContributions(ctx, round.ID, model.ContributionPaid)
	if err != nil {
		return nil, false, err
	}
	if paid < round.ExpectedContributions {
		return nil, false, fmt.Errorf("%w: %d of %d contributions paid", common.ErrIncompleteRound, paid, round.ExpectedContributions)
	}

	memberships, err := tx.ListMemberships(ctx, round.CircleID)
	if err != nil {
		return nil, false, err
	}
	recipient, err := c.policy.Recipient(round, memberships)
	if err != nil {
		return nil, false, err
	}

	now := c.now().UTC()
	payout := &model.Payout{
		RoundID:      round.ID,
		MembershipID: recipient.ID,
		Amount:       circle.HandAmount(round.ExpectedContributions),
		PaidAt:       now,
	}
	if err := tx.CreatePayout(ctx, payout); err != nil {
		if errors.Is(err, common.ErrDuplicateEntry) {
			return nil, false, fmt.Errorf("%w: %w", common.ErrConflict, err)
		}
		return nil, false, err
	}
	if err := tx.CompareAndSwapRoundStatus(ctx, round.ID, round.Status, model.RoundPayed); err != nil {
		return nil, false, err
	}
	round.Status = model.RoundPayed

	fx.emit(model.EventPayoutReleased, round.ID, map[string]any{
		"circle_id":     circle.ID,
		"payout_id":     payout.ID,
		"membership_id": recipient.ID,
		"amount":        payout.Amount,
	})
	if err := recordTransactionTx(ctx, tx, fx, model.LedgerTransaction{
		ID:         payout.ID,
		Type:       model.TxPayout,
		Amount:     payout.Amount,
		Currency:   circle.Currency,
		UserID:     recipient.UserID,
		CircleID:   circle.ID,
		OccurredAt: now,
	}); err != nil {
		return nil, false, err
	}

	if err := c.completeCircleTx(ctx, tx, circle, memberships, fx); err != nil {
		return nil, false, err
	}
	return payout, false, nil
}

// completeCircleTx moves the circle to completed once every rotation slot has been paid.
func (c *Coordinator) completeCircleTx(ctx context.Context, tx service.Transaction, circle *model.Circle, memberships []model.Membership, fx *effects) error {
	if circle.Status != model.CircleStatusActive {
		return nil
	}

	rounds, err := tx.ListRounds(ctx, circle.ID)
	if err != nil {
		return err
	}
	payed := 0
	for _, r := range rounds {
		if r.Status == model.RoundPayed {
			payed++
		}
	}
	if payed < rotationSize(memberships) {
		return nil
	}

	if err := tx.UpdateCircleStatus(ctx, circle.ID, model.CircleStatusActive, model.CircleStatusCompleted); err != nil {
		return err
	}
	circle.Status = model.CircleStatusCompleted
	fx.emit(model.EventCircleCompleted, circle.ID, map[string]any{"rounds": payed})
	return nil
}

// MarkOverdue marks the round's pending contributions late when asOf is past
// the due date plus the grace period. It never closes the round.
func (c *Coordinator) MarkOverdue(ctx context.Context, roundID string, asOf time.Time) ([]model.Contribution, error) {
	unlock := c.locks.Lock(roundKey(roundID))

	var marked []model.Contribution
	var fx effects
	err := c.inTx(ctx, func(tx service.Transaction) error {
		fx = effects{}
		marked = nil

		round, err := tx.GetRound(ctx, roundID)
		if err != nil {
			return err
		}
		if !round.Status.IsInProgress() {
			return nil
		}
		if !asOf.After(round.DueAt.Add(c.config.ContributionGracePeriod)) {
			return nil
		}

		contributions, err := tx.ListContributions(ctx, roundID)
		if err != nil {
			return err
		}
		for _, contribution := range contributions {
			if contribution.Status != model.ContributionPending {
				continue
			}
			if err := tx.CompareAndSwapContribution(ctx, contribution.ID, model.ContributionPending, model.ContributionLate, nil); err != nil {
				return err
			}
			contribution.Status = model.ContributionLate
			marked = append(marked, contribution)

			fx.emit(model.EventContributionOverdue, contribution.ID, map[string]any{
				"round_id":      roundID,
				"membership_id": contribution.MembershipID,
				"due_at":        round.DueAt,
			})
		}
		return nil
	})
	unlock()
	if err != nil {
		return nil, err
	}

	if len(marked) > 0 {
		c.logger.Info("contributions overdue", "round_id", roundID, "count", len(marked))
		c.flush(ctx, fx)
	}
	return marked, nil
}

// MarkMissed records an administrative decision that a member will not pay
// this round, applying the trust penalty.
func (c *Coordinator) MarkMissed(ctx context.Context, roundID, membershipID string) (*model.Contribution, error) {
	unlock := c.locks.Lock(roundKey(roundID))

	var contribution *model.Contribution
	var fx effects
	err := c.inTx(ctx, func(tx service.Transaction) error {
		fx = effects{}

		round, err := tx.GetRound(ctx, roundID)
		if err != nil {
			return err
		}
		if !round.Status.IsInProgress() {
			return fmt.Errorf("%w: round %s is %s", common.ErrRoundClosed, roundID, round.Status)
		}

		contribution, err = tx.GetContribution(ctx, roundID, membershipID)
		if err != nil {
			return err
		}
		if contribution.Status == model.ContributionPaid {
			return fmt.Errorf("%w: contribution %s is already paid", common.ErrInvalidState, contribution.ID)
		}

		if err := tx.CompareAndSwapContribution(ctx, contribution.ID, contribution.Status, model.ContributionMissed, nil); err != nil {
			return err
		}
		contribution.Status = model.ContributionMissed

		membership, err := tx.GetMembership(ctx, membershipID)
		if err != nil {
			return err
		}
		if _, err := c.trust.OnContributionMissed(ctx, tx, membership, roundID); err != nil {
			return err
		}

		fx.emit(model.EventContributionMissed, contribution.ID, map[string]any{
			"round_id":      roundID,
			"membership_id": membershipID,
		})
		return nil
	})
	unlock()
	if err != nil {
		return nil, err
	}

	c.logger.Info("contribution marked missed", "round_id", roundID, "membership_id", membershipID)
	c.flush(ctx, fx)
	return contribution, nil
}

// GetRoundSummary returns a round with its contributions, payout and running balance.
func (c *Coordinator) GetRoundSummary(ctx context.Context, roundID string) (*model.RoundSummary, error) {
	round, err := c.store.GetRound(ctx, roundID)
	if err != nil {
		return nil, err
	}
	contributions, err := c.store.ListContributions(ctx, roundID)
	if err != nil {
		return nil, err
	}

	summary := &model.RoundSummary{
		Round:         *round,
		Contributions: contributions,
	}
	for _, contribution := range contributions {
		if contribution.Status == model.ContributionPaid {
			summary.PaidCount++
			summary.Collected += contribution.Amount
		}
	}

	payout, err := c.store.GetPayoutByRound(ctx, roundID)
	switch {
	case err == nil:
		summary.Payout = payout
	case !errors.Is(err, common.ErrNotFound):
		return nil, err
	}

	summary.Balance = summary.Collected
	if summary.Payout != nil {
		summary.Balance -= summary.Payout.Amount
	}
	return summary, nil
}

// liveMemberships drops removed members.
func liveMemberships(memberships []model.Membership) []model.Membership {
	var out []model.Membership
	for _, m := range memberships {
		if m.Status != model.MembershipRemoved {
			out = append(out, m)
		}
	}
	return out
}

func activeMemberships(memberships []model.Membership) []model.Membership {
	var out []model.Membership
	for _, m := range memberships {
		if m.Status == model.MembershipActive && m.DrawPosition > 0 {
			out = append(out, m)
		}
	}
	return out
}
