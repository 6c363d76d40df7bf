package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"trackflow/internal/config"
	"trackflow/internal/db"
	"trackflow/internal/pomodoro"
)

func main() {
	today := time.Now().UTC().Format(pomodoro.DayFormat)
	from := flag.String("from", "", "First UTC day to rebuild (YYYY-MM-DD), defaults to -to")
	to := flag.String("to", today, "Last UTC day to rebuild (YYYY-MM-DD)")
	timeout := flag.Duration("timeout", 5*time.Minute, "Give up after this long")
	flag.Parse()

	if *from == "" {
		*from = *to
	}
	start, err := time.Parse(pomodoro.DayFormat, *from)
	if err != nil {
		usage("invalid -from date %q", *from)
	}
	end, err := time.Parse(pomodoro.DayFormat, *to)
	if err != nil {
		usage("invalid -to date %q", *to)
	}
	if end.Before(start) {
		usage("-to %s is before -from %s", *to, *from)
	}

	cfg := config.Load()
	logger := config.MustInitLogger(cfg.Env, cfg.LogLevel)
	defer logger.Sync()

	database, err := db.New(db.Config{
		Driver:         cfg.DBDriver,
		DBPath:         cfg.DBPath,
		DSN:            cfg.DBDSN,
		MigrationsPath: cfg.MigrationsPath,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to open database", zap.Error(err))
	}
	defer database.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var res *pomodoro.Result
	err = database.InTx(ctx, func(tx *db.Tx) error {
		var err error
		res, err = pomodoro.Reconcile(ctx, tx, start, end, logger)
		return err
	})
	if err != nil {
		logger.Fatal("Reconcile failed", zap.Error(err))
	}

	logger.Info("Reconcile finished",
		zap.String("from", res.From),
		zap.String("to", res.To),
		zap.Int("sessions", res.Sessions),
		zap.Int("daily_rows", res.DailyRows),
		zap.Int("time_logs_updated", res.TimeLogsUpdated))
}

func usage(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n\n", args...)
	fmt.Fprintln(os.Stderr, "Usage: reconcile [-from YYYY-MM-DD] [-to YYYY-MM-DD]")
	os.Exit(2)
}
