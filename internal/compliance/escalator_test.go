package compliance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/events"
	"github.com/Veraticus/pardna/internal/model"
	"github.com/Veraticus/pardna/internal/testutil"
)

type fakeRegulator struct {
	errs  []error
	calls []Report
	delay time.Duration
	mu    sync.Mutex
}

func (f *fakeRegulator) Submit(ctx context.Context, report Report) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, report)
	n := len(f.calls)
	var err error
	if n <= len(f.errs) {
		err = f.errs[n-1]
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("REF-%d", n), nil
}

func (f *fakeRegulator) Calls() []Report {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Report(nil), f.calls...)
}

func testConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		AttemptTimeout: time.Second,
		Workers:        2,
		PollInterval:   10 * time.Millisecond,
		QueueSize:      16,
		BatchSize:      10,
	}
}

func newTestEscalator(t *testing.T, regulator Regulator, config Config) (*Escalator, *testutil.TestDB, *events.Recorder) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	recorder := events.NewRecorder()
	return NewEscalator(db.Storage, regulator, config, WithPublisher(recorder)), db, recorder
}

func suspiciousTxn(id string) (model.RiskAssessment, model.LedgerTransaction) {
	at := time.Date(2026, 5, 14, 12, 0, 0, 0, time.UTC)
	txn := model.LedgerTransaction{
		ID:         id,
		Type:       model.TxDeposit,
		Amount:     1000000,
		Currency:   model.CurrencyJMD,
		UserID:     "user-1",
		OccurredAt: at,
	}
	assessment := model.RiskAssessment{
		TransactionID: id,
		RiskLevel:     model.RiskHigh,
		Flags:         []string{model.FlagLargeTransaction, model.FlagRapidTransactions},
		Suspicious:    true,
		EvaluatedAt:   at,
	}
	return assessment, txn
}

func TestIdempotencyKey(t *testing.T) {
	a := IdempotencyKey(model.ReportSuspiciousActivity, "tx-1")
	assert.Len(t, a, 64)
	assert.Equal(t, a, IdempotencyKey(model.ReportSuspiciousActivity, "tx-1"))
	assert.NotEqual(t, a, IdempotencyKey(model.ReportSuspiciousActivity, "tx-2"))
	assert.NotEqual(t, a, IdempotencyKey(model.ReportMonthlyAggregate, "tx-1"))
}

func TestShouldEscalate(t *testing.T) {
	tests := []struct {
		name       string
		assessment model.RiskAssessment
		want       bool
	}{
		{name: "low", assessment: model.RiskAssessment{RiskLevel: model.RiskLow}},
		{name: "medium", assessment: model.RiskAssessment{RiskLevel: model.RiskMedium}},
		{name: "high", assessment: model.RiskAssessment{RiskLevel: model.RiskHigh}, want: true},
		{name: "suspicious", assessment: model.RiskAssessment{RiskLevel: model.RiskMedium, Suspicious: true}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldEscalate(tt.assessment))
		})
	}
}

func TestMaybeEscalate(t *testing.T) {
	e, db, _ := newTestEscalator(t, &fakeRegulator{}, testConfig())
	ctx := context.Background()

	assessment, txn := suspiciousTxn("tx-1")

	first, created, err := e.MaybeEscalate(ctx, assessment, txn)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, model.SubmissionPending, first.Status)
	assert.Equal(t, model.ReportSuspiciousActivity, first.ReportType)
	assert.Equal(t, "tx-1", first.TransactionID)
	assert.Contains(t, string(first.Payload), `"risk_level":"high"`)

	second, created, err := e.MaybeEscalate(ctx, assessment, txn)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	pending, err := db.Storage.ListSubmissionsByStatus(ctx, model.SubmissionPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Len(t, e.queue, 1, "only the created submission is queued")

	sub, created, err := e.MaybeEscalate(ctx, model.RiskAssessment{RiskLevel: model.RiskMedium}, model.LedgerTransaction{ID: "tx-2"})
	require.NoError(t, err)
	assert.Nil(t, sub)
	assert.False(t, created)
}

func TestMaybeEscalate_FullQueueDoesNotBlock(t *testing.T) {
	config := testConfig()
	config.QueueSize = 1
	e, db, _ := newTestEscalator(t, &fakeRegulator{}, config)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assessment, txn := suspiciousTxn(fmt.Sprintf("tx-%d", i))
		_, created, err := e.MaybeEscalate(ctx, assessment, txn)
		require.NoError(t, err)
		assert.True(t, created)
	}

	pending, err := db.Storage.ListSubmissionsByStatus(ctx, model.SubmissionPending, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 3)
}

func TestSubmit(t *testing.T) {
	transient := fmt.Errorf("%w: 503", common.ErrTransientExternal)
	terminal := fmt.Errorf("%w: 422", common.ErrTerminalExternal)

	tests := []struct {
		wantErr    error
		name       string
		wantStatus model.SubmissionStatus
		wantRef    string
		errs       []error
		wantCalls  int
		wantRetry  int
	}{
		{
			name:       "acknowledged first time",
			wantStatus: model.SubmissionAcknowledged,
			wantRef:    "REF-1",
			wantCalls:  1,
		},
		{
			name:       "transient failures are retried",
			errs:       []error{transient, transient},
			wantStatus: model.SubmissionAcknowledged,
			wantRef:    "REF-3",
			wantCalls:  3,
			wantRetry:  2,
		},
		{
			name:       "terminal failure stops immediately",
			errs:       []error{terminal},
			wantStatus: model.SubmissionFailed,
			wantErr:    common.ErrTerminalExternal,
			wantCalls:  1,
		},
		{
			name:       "retries exhausted",
			errs:       []error{transient, transient, transient},
			wantStatus: model.SubmissionFailed,
			wantErr:    common.ErrMaxRetries,
			wantCalls:  3,
			wantRetry:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			regulator := &fakeRegulator{errs: tt.errs}
			e, db, recorder := newTestEscalator(t, regulator, testConfig())
			ctx := context.Background()

			assessment, txn := suspiciousTxn("tx-1")
			sub, _, err := e.MaybeEscalate(ctx, assessment, txn)
			require.NoError(t, err)

			done, err := e.Submit(ctx, sub)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}
			require.NotNil(t, done)

			stored, err := db.Storage.GetSubmissionByKey(ctx, sub.IdempotencyKey)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, stored.Status)
			assert.Equal(t, tt.wantRef, stored.ExternalReference)
			assert.Equal(t, tt.wantRetry, stored.RetryCount)
			assert.Len(t, regulator.Calls(), tt.wantCalls)

			for _, call := range regulator.Calls() {
				assert.Equal(t, sub.IdempotencyKey, call.IdempotencyKey)
			}

			failedEvents := recorder.OfType(model.EventComplianceFailed)
			if tt.wantStatus == model.SubmissionFailed {
				assert.NotEmpty(t, stored.LastError)
				assert.Len(t, failedEvents, 1)
				failed, err := e.ListFailed(ctx)
				require.NoError(t, err)
				assert.Len(t, failed, 1)
			} else {
				assert.Empty(t, stored.LastError)
				assert.Empty(t, failedEvents)
			}
		})
	}
}

func TestSubmit_AttemptTimeoutIsTransient(t *testing.T) {
	config := testConfig()
	config.MaxAttempts = 2
	config.AttemptTimeout = 20 * time.Millisecond
	regulator := &fakeRegulator{delay: time.Second}
	e, _, _ := newTestEscalator(t, regulator, config)
	ctx := context.Background()

	assessment, txn := suspiciousTxn("tx-1")
	sub, _, err := e.MaybeEscalate(ctx, assessment, txn)
	require.NoError(t, err)

	done, err := e.Submit(ctx, sub)
	assert.ErrorIs(t, err, common.ErrMaxRetries)
	assert.ErrorIs(t, err, common.ErrTransientExternal)
	assert.Equal(t, model.SubmissionFailed, done.Status)
	assert.Len(t, regulator.Calls(), 2)
}

func TestSubmit_ClaimedOnce(t *testing.T) {
	regulator := &fakeRegulator{delay: 20 * time.Millisecond}
	e, db, _ := newTestEscalator(t, regulator, testConfig())
	ctx := context.Background()

	assessment, txn := suspiciousTxn("tx-1")
	sub, _, err := e.MaybeEscalate(ctx, assessment, txn)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			copied := *sub
			_, err := e.Submit(ctx, &copied)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, regulator.Calls(), 1)
	stored, err := db.Storage.GetSubmissionByKey(ctx, sub.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionAcknowledged, stored.Status)

	again, err := e.Submit(ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, stored.ExternalReference, again.ExternalReference)
	assert.Len(t, regulator.Calls(), 1, "acknowledged submissions are not resent")
}

func TestResumeInFlight(t *testing.T) {
	e, db, _ := newTestEscalator(t, &fakeRegulator{}, testConfig())
	ctx := context.Background()

	assessment, txn := suspiciousTxn("tx-1")
	sub, _, err := e.MaybeEscalate(ctx, assessment, txn)
	require.NoError(t, err)

	stuck := *sub
	stuck.Status = model.SubmissionSubmitted
	require.NoError(t, db.Storage.UpdateSubmission(ctx, &stuck, model.SubmissionPending))

	resumed, err := e.ResumeInFlight(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resumed)

	stored, err := db.Storage.GetSubmissionByKey(ctx, sub.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionPending, stored.Status)

	resumed, err = e.ResumeInFlight(ctx)
	require.NoError(t, err)
	assert.Zero(t, resumed)
}

func TestRequeue(t *testing.T) {
	regulator := &fakeRegulator{errs: []error{fmt.Errorf("%w: 422", common.ErrTerminalExternal)}}
	e, db, _ := newTestEscalator(t, regulator, testConfig())
	ctx := context.Background()

	assessment, txn := suspiciousTxn("tx-1")
	sub, _, err := e.MaybeEscalate(ctx, assessment, txn)
	require.NoError(t, err)

	_, err = e.Requeue(ctx, sub.IdempotencyKey)
	assert.ErrorIs(t, err, common.ErrConflict, "pending submissions cannot be requeued")

	_, err = e.Submit(ctx, sub)
	require.Error(t, err)

	requeued, err := e.Requeue(ctx, sub.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionPending, requeued.Status)
	assert.Empty(t, requeued.LastError)

	_, err = e.Submit(ctx, requeued)
	require.NoError(t, err)

	stored, err := db.Storage.GetSubmissionByKey(ctx, sub.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionAcknowledged, stored.Status)
	assert.Equal(t, "REF-2", stored.ExternalReference)

	calls := regulator.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0].IdempotencyKey, calls[1].IdempotencyKey)

	_, err = e.Requeue(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestProcessPending(t *testing.T) {
	regulator := &fakeRegulator{}
	e, db, _ := newTestEscalator(t, regulator, testConfig())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		assessment, txn := suspiciousTxn(fmt.Sprintf("tx-%d", i))
		_, _, err := e.MaybeEscalate(ctx, assessment, txn)
		require.NoError(t, err)
	}

	n, err := e.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Len(t, regulator.Calls(), 4)

	acknowledged, err := db.Storage.ListSubmissionsByStatus(ctx, model.SubmissionAcknowledged, 0)
	require.NoError(t, err)
	assert.Len(t, acknowledged, 4)

	n, err = e.ProcessPending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRun(t *testing.T) {
	regulator := &fakeRegulator{}
	e, db, _ := newTestEscalator(t, regulator, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	assessment, txn := suspiciousTxn("tx-1")
	sub, _, err := e.MaybeEscalate(context.Background(), assessment, txn)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, err := db.Storage.GetSubmissionByKey(context.Background(), sub.IdempotencyKey)
		return err == nil && stored.Status == model.SubmissionAcknowledged
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}

	assert.Len(t, regulator.Calls(), 1)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Workers = 0
	err := bad.Validate()
	assert.True(t, errors.Is(err, common.ErrInvalidConfig))

	bad = DefaultConfig()
	bad.AttemptTimeout = 0
	assert.Error(t, bad.Validate())
}
