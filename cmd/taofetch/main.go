package main

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const shortDescription = `
taofetch - Batch fetchers for the TAO dashboard
`

const longDescription = `
taofetch runs the scheduled data jobs behind the dashboard. Each job writes
its JSON output to a local file and, when Cloudflare KV credentials are
configured, publishes the same payload to Workers KV.

Flags can also be set through TAO_* environment variables, e.g. TAO_OUT_DIR.
`

var (
	cfgFile  string
	logLevel string

	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	rootCmd = &cobra.Command{
		Use:          "taofetch",
		Short:        shortDescription,
		Long:         longDescription,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logging level")

	rootCmd.PersistentFlags().String("out-dir", ".", "Directory job output files are written to")
	cobra.CheckErr(viper.BindPFlag("out_dir", rootCmd.PersistentFlags().Lookup("out-dir")))

	rootCmd.PersistentFlags().Bool("no-publish", false, "Skip the KV upload and only write files")
	cobra.CheckErr(viper.BindPFlag("no_publish", rootCmd.PersistentFlags().Lookup("no-publish")))

	// register all commands
	rootCmd.AddCommand(emissionCmd)
	rootCmd.AddCommand(generateHistoryCmd)
	rootCmd.AddCommand(topSubnetsCmd)
	rootCmd.AddCommand(topWalletsCmd)
	rootCmd.AddCommand(priceHistoryCmd)
	rootCmd.AddCommand(athAtlCmd)
	rootCmd.AddCommand(dexCmd)
	rootCmd.AddCommand(xAlertsCmd)
	rootCmd.AddCommand(treasuryCmd)
}

func initConfig() {
	viper.SetEnvPrefix("TAO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		cobra.CheckErr(err)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		cobra.CheckErr(viper.ReadInConfig())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("job failed", "error", err)
		os.Exit(1)
	}
}
