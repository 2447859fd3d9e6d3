package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/apptledger/libs/db"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/commission"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/goals"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/loyalty"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/migrations"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/apptledger/services/booking-service/internal/sweeper"
)

// App is bound into every command's Run method.
type App struct {
	Ctx         context.Context
	Pool        *db.Pool
	Logger      *slog.Logger
	Ledger      *loyalty.Ledger
	Tracker     *goals.Tracker
	Commissions *commission.Engine
}

func newApp(ctx context.Context, pool *db.Pool, logger *slog.Logger) *App {
	events := outbox.NewRepository()
	return &App{
		Ctx:         ctx,
		Pool:        pool,
		Logger:      logger,
		Ledger:      loyalty.NewLedger(storage.NewLoyaltyRepository(), pool, events, logger, time.Now),
		Tracker:     goals.NewTracker(storage.NewGoalRepository(), pool, logger),
		Commissions: commission.NewEngine(storage.NewCommissionRepository(), pool, events, logger),
	}
}

// asOf parses an optional RFC3339 instant, defaulting to now.
func asOf(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--at must be RFC3339: %w", err)
	}
	return t, nil
}

type MigrateCmd struct{}

func (c *MigrateCmd) Run(app *App) error {
	applied, err := migrations.Apply(app.Ctx, app.Pool, app.Logger)
	if err != nil {
		return err
	}
	app.Logger.Info("migrations applied", "count", applied)
	return nil
}

type ExpirePointsCmd struct {
	At string `help:"Treat this RFC3339 instant as now."`
}

func (c *ExpirePointsCmd) Run(app *App) error {
	now, err := asOf(c.At)
	if err != nil {
		return err
	}
	n, err := app.Ledger.ExpireStale(app.Ctx, now)
	if err != nil {
		return err
	}
	app.Logger.Info("points expired", "entries", n, "as_of", now.UTC().Format(time.RFC3339))
	return nil
}

type FailGoalsCmd struct {
	At string `help:"Treat this RFC3339 instant as now."`
}

func (c *FailGoalsCmd) Run(app *App) error {
	now, err := asOf(c.At)
	if err != nil {
		return err
	}
	n, err := app.Tracker.FailExpired(app.Ctx, now)
	if err != nil {
		return err
	}
	app.Logger.Info("goals failed", "count", n)
	return nil
}

type RebuildGoalsCmd struct {
	Business string `arg:"" help:"Business id."`
}

func (c *RebuildGoalsCmd) Run(app *App) error {
	rebuilt, err := app.Tracker.Rebuild(app.Ctx, c.Business, time.Now())
	if err != nil {
		return err
	}
	for _, g := range rebuilt {
		app.Logger.Info("goal", "id", g.ID, "type", g.Type, "current", g.Current.String(),
			"target", g.Target.String(), "status", g.Status)
	}
	return nil
}

type MarkPaidCmd struct {
	Records []string `arg:"" help:"Commission record ids."`
}

func (c *MarkPaidCmd) Run(app *App) error {
	for _, id := range c.Records {
		if err := app.Commissions.MarkPaid(app.Ctx, id); err != nil {
			return fmt.Errorf("record %s: %w", id, err)
		}
		app.Logger.Info("commission paid", "record_id", id)
	}
	return nil
}

type SweepCmd struct{}

// Run sweeps once without a leader lock; operators run it by hand.
func (c *SweepCmd) Run(app *App) error {
	res, err := sweeper.New(app.Ledger, app.Tracker, nil, app.Logger, sweeper.Config{}).Sweep(app.Ctx)
	app.Logger.Info("sweep finished", "points_expired", res.PointsExpired, "goals_failed", res.GoalsFailed)
	return err
}
