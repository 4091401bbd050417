package cmd

import (
	"fmt"

	"github.com/hugolhafner/extoffset/logger"
	"github.com/hugolhafner/extoffset/plugins/zaplogger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configFlag   string
	logLevelFlag string
	brokersFlag  []string
	groupFlag    string
	topicsFlag   []string

	config Config
	log    logger.Logger
	zapLog *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "offsetd",
	Short: "Kafka consumer with offsets kept in an external store",
	Long: `offsetd consumes Kafka topics with a fixed set of consume loops and keeps
consumer progress in MySQL and/or Redis instead of the group coordinator.

Use "offsetd [command] --help" for more information about a command.`,
	PersistentPreRunE:  initialize,
	PersistentPostRunE: syncLogger,
	SilenceUsage:       true,
	SilenceErrors:      true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringSliceVar(&brokersFlag, "brokers", nil, "Kafka bootstrap servers")
	rootCmd.PersistentFlags().StringVarP(&groupFlag, "group", "g", "", "Consumer group")
	rootCmd.PersistentFlags().StringSliceVarP(&topicsFlag, "topics", "t", nil, "Topics to consume")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(offsetsCmd)
	rootCmd.AddCommand(versionCmd)
}

func initialize(cmd *cobra.Command, _ []string) error {
	if cmd == versionCmd {
		return nil
	}

	cfg, err := LoadConfig(configFlag)
	if err != nil {
		return err
	}
	applyFlags(cmd, &cfg)
	config = cfg

	zapLog, err = newZapLogger(config.Log)
	if err != nil {
		return err
	}
	log = zaplogger.New(zapLog)
	return nil
}

// applyFlags lets explicitly set flags override the config file.
func applyFlags(cmd *cobra.Command, cfg *Config) {
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevelFlag
	}
	if flags.Changed("brokers") {
		cfg.Kafka.Brokers = brokersFlag
	}
	if flags.Changed("group") {
		cfg.Group = groupFlag
	}
	if flags.Changed("topics") {
		cfg.Topics = topicsFlag
	}
}

func newZapLogger(cfg LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	return zc.Build()
}

func syncLogger(*cobra.Command, []string) error {
	if zapLog != nil {
		_ = zapLog.Sync()
	}
	return nil
}
