package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/Veraticus/pardna/internal/common"
	"github.com/Veraticus/pardna/internal/compliance"
	"github.com/Veraticus/pardna/internal/config"
	"github.com/Veraticus/pardna/internal/events"
	"github.com/Veraticus/pardna/internal/ledger"
	"github.com/Veraticus/pardna/internal/model"
	"github.com/Veraticus/pardna/internal/risk"
	"github.com/Veraticus/pardna/internal/service"
	"github.com/Veraticus/pardna/internal/storage"
	"github.com/Veraticus/pardna/internal/trust"
)

// app is the wired set of components a command works with.
type app struct {
	cfg         *config.Config
	store       service.Storage
	coordinator *ledger.Coordinator
	escalator   *compliance.Escalator
	monitor     *compliance.Monitor
	engine      *risk.Engine
	closers     []func()
}

// newApp loads configuration, opens and migrates the database, and wires the
// coordinator to the risk monitor and escalator.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	if err := config.EnsureParentDir(cfg.Database.Path); err != nil {
		return nil, err
	}
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logger := slog.Default()

	var publisher service.EventPublisher = events.NewLogPublisher(logger)
	if cfg.NATSConfigured() {
		nats, err := events.NewNATSPublisher(cfg.NATS, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		publisher = nats
		a.closers = append(a.closers, nats.Close)
	}

	var regulator compliance.Regulator = unconfiguredRegulator{}
	if cfg.RegulatorConfigured() {
		regulator, err = compliance.NewHTTPRegulator(ctx, cfg.Regulator)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	a.escalator = compliance.NewEscalator(store, regulator, cfg.Compliance,
		compliance.WithPublisher(publisher),
		compliance.WithLogger(logger))
	a.engine = risk.NewEngine(cfg.Risk)
	a.monitor = compliance.NewMonitor(store, a.engine, a.escalator, logger)
	a.coordinator = ledger.NewCoordinator(store, trust.NewUpdater(cfg.Trust, logger), cfg.Ledger,
		ledger.WithPublisher(publisher),
		ledger.WithObserver(a.monitor),
		ledger.WithLogger(logger))

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// unconfiguredRegulator stands in until regulator.endpoint is set.
// Submissions stay pending and are delivered by a later compliance run.
type unconfiguredRegulator struct{}

func (unconfiguredRegulator) Submit(context.Context, compliance.Report) (string, error) {
	return "", fmt.Errorf("%w: regulator.endpoint is not configured", common.ErrTerminalExternal)
}

// parseAmount converts a major-unit amount such as "5000" or "123.45" to
// minor units of currency.
func parseAmount(s string, currency model.Currency) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, common.NewUserError(fmt.Sprintf("%q is not an amount", s), err)
	}
	minor := d.Shift(currency.MinorUnits())
	if !minor.IsInteger() {
		return 0, common.NewUserError(fmt.Sprintf("%s has more than %d decimal places", s, currency.MinorUnits()), nil)
	}
	if !minor.IsPositive() {
		return 0, common.NewUserError("amount must be positive", nil)
	}
	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, common.NewUserError(fmt.Sprintf("%s is too large", s), nil)
	}
	return minor.IntPart(), nil
}
