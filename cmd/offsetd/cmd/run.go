package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hugolhafner/dskit/backoff"
	"github.com/hugolhafner/extoffset"
	"github.com/hugolhafner/extoffset/errorhandler"
	"github.com/hugolhafner/extoffset/kafka"
	"github.com/hugolhafner/extoffset/offset"
	extotel "github.com/hugolhafner/extoffset/otel"
	"github.com/hugolhafner/extoffset/runner"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Consume the configured topics until interrupted",
	Long: `Start the consume loops. SIGINT or SIGTERM stops every loop, flushes the
offsets they advanced and sweeps the offset cache into the store before exiting.

Examples:
  offsetd run -c offsetd.yaml
  offsetd run -c offsetd.yaml --topics orders,payments --group billing`,
	RunE: runRun,
}

func runRun(cmd *cobra.Command, _ []string) error {
	if err := config.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, config.Store, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("Failed to close offset store", "error", err)
		}
	}()

	reg := newRegistry()
	tel, mp, err := newTelemetry(reg)
	if err != nil {
		return err
	}
	defer func() { _ = mp.Shutdown(context.Background()) }()

	proc, err := newRecordProcessor(config.Processor, log)
	if err != nil {
		return err
	}

	app, err := extoffset.NewApplication(store, proc, applicationOptions(config, tel)...)
	if err != nil {
		return err
	}

	srv := serveMetrics(config.Metrics.Addr, newMux(reg, app.Manager().Health, log), log)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	return app.Run(ctx)
}

func applicationOptions(cfg Config, tel *extotel.Telemetry) []extoffset.ConfigOption {
	opts := []extoffset.ConfigOption{
		extoffset.WithLogger(log),
		extoffset.WithTelemetry(tel),
		extoffset.WithCluster(cfg.Cluster),
		extoffset.WithGroup(cfg.Group),
		extoffset.WithTopics(cfg.Topics...),
		extoffset.WithConsumers(cfg.Consumers),
		extoffset.WithClientFactory(kgoFactory(cfg)),
		extoffset.WithFlush(cfg.Flush.Interval, cfg.Flush.Count),
		extoffset.WithHealthCheckInterval(cfg.HealthCheckInterval),
		extoffset.WithLoopOptions(
			runner.WithQueueCapacity(cfg.Loop.QueueCapacity),
			runner.WithOfferTimeout(cfg.Loop.OfferTimeout),
			runner.WithSessionTimeout(cfg.Loop.SessionTimeout),
			runner.WithWorkerStopTimeout(cfg.Loop.WorkerStopTimeout),
			runner.WithErrorHandler(errorHandler(cfg.Processor)),
		),
		extoffset.WithShutdownOptions(runner.WithBarrierTimeout(cfg.BarrierTimeout)),
		extoffset.WithManagerOptions(offset.WithStoreTimeout(cfg.Store.Timeout)),
	}
	if cfg.Store.EagerFlush > 0 {
		opts = append(opts, extoffset.WithManagerOptions(offset.WithEagerFlush(cfg.Store.EagerFlush)))
	}
	return opts
}

// errorHandler retries processing failures up to MaxAttempts and skips
// undecodable or panicking records.
func errorHandler(cfg ProcessorConfig) errorhandler.Handler {
	skip := errorhandler.LogAndContinue(log)
	if cfg.MaxAttempts <= 1 {
		return skip
	}

	return errorhandler.NewPhaseRouter(
		skip,
		skip,
		errorhandler.WithMaxAttempts(cfg.MaxAttempts, backoff.NewFixed(cfg.RetryBackoff), skip),
		skip,
	)
}

func kgoFactory(cfg Config) extoffset.ClientFactory {
	return func(id int, loader kafka.OffsetLoader) (kafka.Consumer, error) {
		return kafka.NewKgoClient(
			kafka.WithBootstrapServers(cfg.Kafka.Brokers),
			kafka.WithGroupID(cfg.Group),
			kafka.WithSessionTimeout(cfg.Kafka.SessionTimeout),
			kafka.WithMaxPollRecords(cfg.Kafka.MaxPollRecords),
			kafka.WithPollTimeout(cfg.Kafka.PollTimeout),
			kafka.WithResetOffset(cfg.Kafka.ResetOffset),
			kafka.WithOffsetLoader(loader),
			kafka.WithLogger(log.With("loop", id)),
		)
	}
}
