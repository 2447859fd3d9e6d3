package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/alecthomas/kong"
	charmlog "github.com/charmbracelet/log"
	"github.com/md-rashed-zaman/apptledger/libs/config"
	"github.com/md-rashed-zaman/apptledger/libs/db"
	"github.com/md-rashed-zaman/apptledger/libs/runtime"
	"gopkg.in/natefinch/lumberjack.v2"
)

var CLI struct {
	Database string `help:"PostgreSQL connection string." env:"DATABASE_URL" required:""`
	LogLevel string `help:"Log level (debug, info, warn, error)." env:"LOG_LEVEL" default:"info"`
	LogFile  string `help:"Also write logs to this file, rotated at 10MB." type:"path"`

	Migrate      MigrateCmd      `cmd:"" help:"Apply pending schema migrations."`
	ExpirePoints ExpirePointsCmd `cmd:"" name:"expire-points" help:"Write expiry entries for lapsed loyalty batches."`
	FailGoals    FailGoalsCmd    `cmd:"" name:"fail-goals" help:"Mark unmet goals past their end date as failed."`
	RebuildGoals RebuildGoalsCmd `cmd:"" name:"rebuild-goals" help:"Recompute goal progress from the ledgers."`
	MarkPaid     MarkPaidCmd     `cmd:"" name:"mark-paid" help:"Mark a pending commission record as paid."`
	Sweep        SweepCmd        `cmd:"" help:"Run one expiry sweep (points and goals)."`
}

func main() {
	config.LoadDotEnv()
	kctx := kong.Parse(&CLI,
		kong.Name("ledgerctl"),
		kong.Description("Operator tooling for the booking ledgers"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{Compact: true}),
	)

	logger, closeLog := newLogger(CLI.LogLevel, CLI.LogFile)
	defer closeLog()

	ctx, stop := runtime.SignalContext()
	defer stop()

	pool, err := db.Open(ctx, CLI.Database, db.PoolOptions{MaxConns: 2})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	app := newApp(ctx, pool, logger)
	if err := kctx.Run(app); err != nil {
		logger.Error("command failed", "command", kctx.Command(), "err", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		pool.Close()
		os.Exit(1)
	}
}

// newLogger uses charmbracelet/log as the slog handler so operator output is
// readable on a terminal. With a log file the same records are teed there.
func newLogger(level, file string) (*slog.Logger, func()) {
	var w io.Writer = os.Stderr
	closer := func() {}
	if file != "" {
		rotating := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		}
		w = io.MultiWriter(os.Stderr, rotating)
		closer = func() { _ = rotating.Close() }
	}
	handler := charmlog.NewWithOptions(w, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           charmlog.Level(runtime.ParseLevel(level)),
		Prefix:          "ledgerctl",
	})
	return slog.New(handler), closer
}
