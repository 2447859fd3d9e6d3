// Package sweeper runs the periodic ledger maintenance: expiring lapsed
// loyalty points and failing overdue goals.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

type PointsExpirer interface {
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}

type GoalExpirer interface {
	FailExpired(ctx context.Context, now time.Time) (int, error)
}

type Config struct {
	Interval time.Duration
	LockKey  string
	// LockTTL bounds how long a crashed holder blocks other instances.
	LockTTL time.Duration
}

type Sweeper struct {
	points PointsExpirer
	goals  GoalExpirer
	locker Locker
	logger *slog.Logger
	now    func() time.Time
	cfg    Config
}

// New builds a sweeper. A nil locker means this process sweeps alone.
func New(points PointsExpirer, goals GoalExpirer, locker Locker, logger *slog.Logger, cfg Config) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.LockKey == "" {
		cfg.LockKey = "booking:sweeper"
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = cfg.Interval
	}
	if locker == nil {
		locker = localLocker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{points: points, goals: goals, locker: locker, logger: logger, now: time.Now, cfg: cfg}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", "err", err)
			}
		}
	}
}

type Result struct {
	Skipped       bool
	PointsExpired int
	GoalsFailed   int
}

// Sweep runs one pass if this instance wins the lock. Both steps run even if
// the first fails.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	release, ok, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		s.logger.Debug("sweep skipped; another instance holds the lock")
		return Result{Skipped: true}, nil
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("sweep lock release failed", "err", err)
		}
	}()

	now := s.now()
	var res Result
	var pointsErr, goalsErr error
	res.PointsExpired, pointsErr = s.points.ExpireStale(ctx, now)
	res.GoalsFailed, goalsErr = s.goals.FailExpired(ctx, now)
	if res.PointsExpired > 0 || res.GoalsFailed > 0 {
		s.logger.Info("sweep finished", "points_expired", res.PointsExpired, "goals_failed", res.GoalsFailed)
	}
	return res, errors.Join(pointsErr, goalsErr)
}
