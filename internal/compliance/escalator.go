// Package compliance turns risky transactions into regulator filings and
// delivers them at most once per idempotency key.
package compliance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/events"
	"github.com/Veraticus/pardna/internal/model"
	"github.com/Veraticus/pardna/internal/service"
)

// Store is the persistence the escalator needs.
type Store interface {
	service.SubmissionStore
	service.MonitorStore
}

// Config controls delivery.
type Config struct {
	// MaxAttempts bounds regulator calls per submission.
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// AttemptTimeout bounds a single regulator call. A timed out call is retried.
	AttemptTimeout time.Duration
	Workers        int
	PollInterval   time.Duration
	QueueSize      int
	BatchSize      int
}

// DefaultConfig returns the standard delivery settings.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		AttemptTimeout: 10 * time.Second,
		Workers:        4,
		PollInterval:   30 * time.Second,
		QueueSize:      256,
		BatchSize:      50,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", common.ErrInvalidConfig)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be at least 1", common.ErrInvalidConfig)
	}
	if c.AttemptTimeout <= 0 || c.PollInterval <= 0 {
		return fmt.Errorf("%w: attempt timeout and poll interval must be positive", common.ErrInvalidConfig)
	}
	if c.QueueSize < 0 || c.BatchSize < 1 {
		return fmt.Errorf("%w: queue size cannot be negative and batch size must be positive", common.ErrInvalidConfig)
	}
	return nil
}

// Escalator owns every ComplianceSubmission.
type Escalator struct {
	store     Store
	regulator Regulator
	publisher service.EventPublisher
	queue     chan string
	sem       *semaphore.Weighted
	logger    *slog.Logger
	now       func() time.Time
	config    Config
}

// Option customizes an Escalator.
type Option func(*Escalator)

// WithPublisher sets where compliance.failed events go.
func WithPublisher(p service.EventPublisher) Option {
	return func(e *Escalator) { e.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Escalator) { e.logger = common.ComponentLogger(l, "compliance") }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Escalator) { e.now = now }
}

// NewEscalator creates an escalator.
func NewEscalator(store Store, regulator Regulator, config Config, opts ...Option) *Escalator {
	e := &Escalator{
		store:     store,
		regulator: regulator,
		config:    config,
		queue:     make(chan string, config.QueueSize),
		sem:       semaphore.NewWeighted(int64(max(config.Workers, 1))),
		logger:    common.ComponentLogger(nil, "compliance"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.publisher == nil {
		e.publisher = events.NewLogPublisher(e.logger)
	}
	return e
}

// IdempotencyKey derives the submission key for a report about subject,
// which is a transaction ID or a YYYY-MM period.
func IdempotencyKey(reportType model.ReportType, subject string) string {
	sum := sha256.Sum256([]byte(string(reportType) + "|" + subject))
	return hex.EncodeToString(sum[:])
}

// ShouldEscalate reports whether an assessment warrants a filing.
func ShouldEscalate(assessment model.RiskAssessment) bool {
	return assessment.Suspicious || assessment.RiskLevel >= model.RiskHigh
}

type suspiciousActivity struct {
	EvaluatedAt   time.Time             `json:"evaluated_at"`
	OccurredAt    time.Time             `json:"occurred_at"`
	TransactionID string                `json:"transaction_id"`
	Type          model.TransactionType `json:"type"`
	Currency      model.Currency        `json:"currency"`
	UserID        string                `json:"user_id"`
	CircleID      string                `json:"circle_id,omitempty"`
	RiskLevel     string                `json:"risk_level"`
	Flags         []string              `json:"flags"`
	Amount        int64                 `json:"amount"`
	Suspicious    bool                  `json:"suspicious"`
}

// MaybeEscalate files a suspicious activity report for a suspicious or high
// risk assessment. It returns the stored submission and whether this call
// created it; repeated calls for the same transaction return the original.
// Assessments that do not warrant a filing return nil.
func (e *Escalator) MaybeEscalate(ctx context.Context, assessment model.RiskAssessment, txn model.LedgerTransaction) (*model.ComplianceSubmission, bool, error) {
	if !ShouldEscalate(assessment) {
		return nil, false, nil
	}

	payload, err := json.Marshal(suspiciousActivity{
		EvaluatedAt:   assessment.EvaluatedAt,
		OccurredAt:    txn.OccurredAt,
		TransactionID: txn.ID,
		Type:          txn.Type,
		Currency:      txn.Currency,
		UserID:        txn.UserID,
		CircleID:      txn.CircleID,
		RiskLevel:     assessment.RiskLevel.String(),
		Flags:         assessment.Flags,
		Amount:        txn.Amount,
		Suspicious:    assessment.Suspicious,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal report: %w", err)
	}

	sub, created, err := e.store.CreateSubmission(ctx, &model.ComplianceSubmission{
		IdempotencyKey: IdempotencyKey(model.ReportSuspiciousActivity, txn.ID),
		ReportType:     model.ReportSuspiciousActivity,
		Status:         model.SubmissionPending,
		TransactionID:  txn.ID,
		Payload:        payload,
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		e.logger.Info("suspicious activity escalated",
			"transaction_id", txn.ID,
			"risk_level", assessment.RiskLevel.String(),
			"flags", assessment.Flags)
		e.enqueue(sub.IdempotencyKey)
	}
	return sub, created, nil
}

// enqueue hands key to Run without blocking. A full queue is fine; the
// poller finds the pending row.
func (e *Escalator) enqueue(key string) {
	select {
	case e.queue <- key:
	default:
		e.logger.Debug("submission queue full, leaving for poller", "idempotency_key", key)
	}
}

// Submit delivers a pending submission. The submission is first claimed
// (pending to submitted) so only one worker calls the regulator; a lost
// claim returns the current record. Delivery retries transient failures with
// backoff. The outcome is recorded as acknowledged or failed; a failure also
// emits compliance.failed and is returned.
func (e *Escalator) Submit(ctx context.Context, sub *model.ComplianceSubmission) (*model.ComplianceSubmission, error) {
	if sub.Status != model.SubmissionPending {
		return sub, nil
	}

	claimed := *sub
	claimed.Status = model.SubmissionSubmitted
	claimed.UpdatedAt = e.now().UTC()
	if err := e.store.UpdateSubmission(ctx, &claimed, model.SubmissionPending); err != nil {
		if errors.Is(err, common.ErrConflict) {
			e.logger.Debug("submission claimed elsewhere", "idempotency_key", sub.IdempotencyKey)
			return e.store.GetSubmissionByKey(ctx, sub.IdempotencyKey)
		}
		return nil, err
	}

	report := Report{
		IdempotencyKey: claimed.IdempotencyKey,
		Type:           claimed.ReportType,
		TransactionID:  claimed.TransactionID,
		Period:         claimed.Period,
		Payload:        claimed.Payload,
	}

	var reference string
	attempts := 0
	err := common.WithRetry(ctx, func(ctx context.Context) error {
		attempts++
		ref, err := e.regulator.Submit(ctx, report)
		if err != nil {
			return err
		}
		reference = ref
		return nil
	}, service.RetryOptions{
		MaxAttempts:    e.config.MaxAttempts,
		InitialDelay:   e.config.InitialBackoff,
		MaxDelay:       e.config.MaxBackoff,
		AttemptTimeout: e.config.AttemptTimeout,
		Multiplier:     2,
	})

	// Shutting down mid-delivery leaves the row submitted for ResumeInFlight.
	if err != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}

	done := claimed
	done.UpdatedAt = e.now().UTC()
	done.RetryCount = sub.RetryCount + max(attempts-1, 0)
	if err == nil {
		done.Status = model.SubmissionAcknowledged
		done.ExternalReference = reference
		done.LastError = ""
	} else {
		done.Status = model.SubmissionFailed
		done.LastError = err.Error()
	}

	if updateErr := e.store.UpdateSubmission(ctx, &done, model.SubmissionSubmitted); updateErr != nil {
		return nil, fmt.Errorf("failed to record submission outcome: %w", updateErr)
	}

	if err != nil {
		common.LogError(err, "compliance submission failed", common.Fields{
			"idempotency_key": done.IdempotencyKey,
			"report_type":     done.ReportType,
			"transaction_id":  done.TransactionID,
			"period":          done.Period,
			"retry_count":     done.RetryCount,
		})
		event := events.New(model.EventComplianceFailed, done.ID, map[string]any{
			"idempotency_key": done.IdempotencyKey,
			"report_type":     done.ReportType,
			"error":           done.LastError,
		})
		if pubErr := e.publisher.Publish(ctx, event); pubErr != nil {
			e.logger.Warn("failed to publish event", "type", event.Type, "error", pubErr)
		}
		return &done, fmt.Errorf("failed to submit %s report: %w", done.ReportType, err)
	}

	e.logger.Info("compliance submission acknowledged",
		"idempotency_key", done.IdempotencyKey,
		"report_type", done.ReportType,
		"reference", reference)
	return &done, nil
}

// ResumeInFlight puts submissions left in submitted by an interrupted
// delivery back to pending. The regulator dedupes the repeat call.
func (e *Escalator) ResumeInFlight(ctx context.Context) (int, error) {
	stuck, err := e.store.ListSubmissionsByStatus(ctx, model.SubmissionSubmitted, 0)
	if err != nil {
		return 0, err
	}

	resumed := 0
	for i := range stuck {
		sub := stuck[i]
		sub.Status = model.SubmissionPending
		sub.UpdatedAt = e.now().UTC()
		if err := e.store.UpdateSubmission(ctx, &sub, model.SubmissionSubmitted); err != nil {
			if errors.Is(err, common.ErrConflict) {
				continue
			}
			return resumed, err
		}
		resumed++
		e.enqueue(sub.IdempotencyKey)
	}

	if resumed > 0 {
		e.logger.Info("resumed in-flight submissions", "count", resumed)
	}
	return resumed, nil
}

// ListFailed returns submissions that need operator attention.
func (e *Escalator) ListFailed(ctx context.Context) ([]model.ComplianceSubmission, error) {
	return e.store.ListSubmissionsByStatus(ctx, model.SubmissionFailed, 0)
}

// Requeue returns a failed submission to pending so the next run delivers it
// again under the same idempotency key.
func (e *Escalator) Requeue(ctx context.Context, key string) (*model.ComplianceSubmission, error) {
	sub, err := e.store.GetSubmissionByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if sub.Status != model.SubmissionFailed {
		return nil, common.NewUserError(fmt.Sprintf("submission is %s, only failed submissions can be requeued", sub.Status), common.ErrConflict)
	}

	sub.Status = model.SubmissionPending
	sub.LastError = ""
	sub.UpdatedAt = e.now().UTC()
	if err := e.store.UpdateSubmission(ctx, sub, model.SubmissionFailed); err != nil {
		return nil, err
	}

	e.logger.Info("submission requeued", "idempotency_key", key, "report_type", sub.ReportType)
	e.enqueue(key)
	return sub, nil
}

// ProcessPending delivers up to BatchSize pending submissions and waits for
// them. It returns how many were attempted.
func (e *Escalator) ProcessPending(ctx context.Context) (int, error) {
	pending, err := e.store.ListSubmissionsByStatus(ctx, model.SubmissionPending, e.config.BatchSize)
	if err != nil {
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	for i := range pending {
		sub := pending[i]
		if err := e.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer e.sem.Release(1)
			e.deliver(gctx, &sub)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(pending), err
	}
	return len(pending), ctx.Err()
}

// Run delivers submissions until ctx is cancelled. New submissions arrive
// through the queue; pending rows are also polled every PollInterval.
func (e *Escalator) Run(ctx context.Context) error {
	if _, err := e.ResumeInFlight(ctx); err != nil {
		return fmt.Errorf("failed to resume in-flight submissions: %w", err)
	}

	ticker := time.NewTicker(e.config.PollInterval)
	defer ticker.Stop()

	g, gctx := errgroup.WithContext(ctx)
	e.logger.Info("compliance worker started", "workers", e.config.Workers)

	e.poll(gctx, g)
	for {
		select {
		case <-gctx.Done():
			_ = g.Wait()
			e.logger.Info("compliance worker stopped")
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case key := <-e.queue:
			e.dispatch(gctx, g, key)
		case <-ticker.C:
			e.poll(gctx, g)
		}
	}
}

func (e *Escalator) poll(ctx context.Context, g *errgroup.Group) {
	pending, err := e.store.ListSubmissionsByStatus(ctx, model.SubmissionPending, e.config.BatchSize)
	if err != nil {
		if ctx.Err() == nil {
			common.LogError(err, "failed to poll pending submissions", nil)
		}
		return
	}
	for _, sub := range pending {
		e.dispatch(ctx, g, sub.IdempotencyKey)
	}
}

func (e *Escalator) dispatch(ctx context.Context, g *errgroup.Group, key string) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return
	}
	g.Go(func() error {
		defer e.sem.Release(1)
		sub, err := e.store.GetSubmissionByKey(ctx, key)
		if err != nil {
			if ctx.Err() == nil {
				common.LogError(err, "failed to load submission", common.Fields{"idempotency_key": key})
			}
			return nil
		}
		e.deliver(ctx, sub)
		return nil
	})
}

// deliver submits and logs; worker goroutines never fail the group.
func (e *Escalator) deliver(ctx context.Context, sub *model.ComplianceSubmission) {
	if sub.Status != model.SubmissionPending {
		return
	}
	if _, err := e.Submit(ctx, sub); err != nil && ctx.Err() == nil {
		e.logger.Debug("submission not delivered", "idempotency_key", sub.IdempotencyKey, "error", err)
	}
}
