package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/vibast-solutions/ms-go-checkout/app/storage"
)

var workerMode bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Run checkout-session maintenance commands",
}

var sessionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Purge persisted checkout state older than the session TTL",
	Run: func(_ *cobra.Command, _ []string) {
		cfg, db, cleanup := mustConnect()
		defer cleanup()

		store := storage.NewMySQLStore(db)
		job := func(ctx context.Context) error {
			cutoff := time.Now().Add(-cfg.Checkout.SessionTTL)
			purged, err := store.PurgeStale(ctx, cutoff)
			if err != nil {
				return err
			}
			logrus.WithField("purged", purged).Info("Stale checkout state purged")
			return nil
		}

		if workerMode {
			runWorker("sessions_cleanup", cfg.Checkout.SessionTTL/2, job)
			return
		}
		runJob("sessions_cleanup", func() error { return job(context.Background()) })
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	sessionsCmd.AddCommand(sessionsCleanupCmd)

	rootCmd.PersistentFlags().BoolVar(&workerMode, "worker", false, "Run continuously using the configured interval")
}

func runWorker(name string, interval time.Duration, fn func(ctx context.Context) error) {
	if interval <= 0 {
		logrus.WithField("job", name).Fatal("invalid worker interval")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runJob(name, func() error { return fn(ctx) })

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	for {
		select {
		case <-quit:
			logrus.WithField("job", name).Info("Worker shutdown requested")
			return
		case <-ticker.C:
			runJob(name, func() error { return fn(ctx) })
		}
	}
}

func runJob(name string, fn func() error) {
	start := time.Now()
	err := fn()
	latency := time.Since(start)
	if err != nil {
		logrus.WithError(err).WithField("job", name).WithField("latency", latency.String()).Error("job_failed")
		return
	}
	logrus.WithField("job", name).WithField("latency", latency.String()).Info("job_completed")
}
