package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{Version: "dev", Commit: "HEAD", BuildDate: "unknown"}

// SetVersionInfo records build metadata injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	if version != "" {
		versionInfo.Version = version
	}
	if commit != "" {
		versionInfo.Commit = commit
	}
	if buildDate != "" {
		versionInfo.BuildDate = buildDate
	}
	rootCmd.Version = fmt.Sprintf("%s (%s, %s)", versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
}

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "chunkwise",
	Short: "Pre-execution parallelization advisor",
	Long: `chunkwise measures a machine and a workload before committing to a
worker pool, and tells you whether parallelizing is worth it at all.

It profiles cores, memory, spawn cost and chunk overhead, dry-runs a few
items, prices every overhead a pool would pay, and answers with worker
count, chunk size and executor - or with "keep it serial" and the reason.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging()
	},
}

// Execute runs the CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command failed", "err", err)
		return err
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Version = fmt.Sprintf("%s (%s, %s)", versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.chunkwise.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every probe, measurement and candidate at debug level")
}

func initConfig() {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".chunkwise")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CHUNKWISE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		slog.Debug("config loaded", "file", viper.ConfigFileUsed())
	}
}

func setDefaults() {
	viper.SetDefault("sample_size", 5)
	viper.SetDefault("target_chunk_duration", "200ms")
	viper.SetDefault("min_speedup", 1.2)
	viper.SetDefault("prefer_threads_for_io", true)
	viper.SetDefault("adjust_for_load", false)
	viper.SetDefault("load_sample_interval", "250ms")
}

func initLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		}),
	))
}
