package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/web3-frozen/tao-metrics/internal/collector"
	"github.com/web3-frozen/tao-metrics/internal/emission"
	"github.com/web3-frozen/tao-metrics/internal/history"
)

var emissionCmd = &cobra.Command{
	Use:   "emission",
	Short: "Compute emission estimates from an issuance history file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		r, err := newRunner(cmd.Context())
		if err != nil {
			return err
		}
		defer r.Close()

		path := viper.GetString("history")
		if path == "" {
			path = r.cfg.HistoryFile
		}
		return r.run(cmd.Context(), job{name: "emission", file: "emission.json", key: collector.ReportKey},
			func(context.Context) (any, error) {
				return emissionFromFile(path, r.cfg.TrimFraction, r.now())
			})
	},
}

var generateHistoryCmd = &cobra.Command{
	Use:   "generate-history",
	Short: "Write a synthetic issuance history for local testing",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := viper.GetString("history_out")
		snaps := history.Generate(
			viper.GetInt("days"),
			viper.GetFloat64("start_issuance"),
			viper.GetFloat64("per_day"),
			time.Now(),
		)
		if err := history.WriteFile(path, snaps); err != nil {
			return err
		}
		logger.Info("wrote synthetic issuance history", "path", path, "snapshots", len(snaps))
		return nil
	},
}

func init() {
	emissionCmd.Flags().String("history", "", "Issuance history file (default $HISTORY_FILE)")
	cobra.CheckErr(viper.BindPFlag("history", emissionCmd.Flags().Lookup("history")))

	generateHistoryCmd.Flags().String("out", "issuance_history.json", "Output file")
	generateHistoryCmd.Flags().Int("days", 7, "Days of history to generate")
	generateHistoryCmd.Flags().Float64("start-issuance", 10_300_000, "Issuance of the first sample in TAO")
	generateHistoryCmd.Flags().Float64("per-day", emission.LegacyDailyEmission, "Emission per day in TAO")
	cobra.CheckErr(viper.BindPFlag("history_out", generateHistoryCmd.Flags().Lookup("out")))
	cobra.CheckErr(viper.BindPFlag("days", generateHistoryCmd.Flags().Lookup("days")))
	cobra.CheckErr(viper.BindPFlag("start_issuance", generateHistoryCmd.Flags().Lookup("start-issuance")))
	cobra.CheckErr(viper.BindPFlag("per_day", generateHistoryCmd.Flags().Lookup("per-day")))
}

// emissionFromFile loads a history file and runs the estimator over it.
func emissionFromFile(path string, trim float64, now time.Time) (emission.Report, error) {
	snaps, err := history.ReadFile(path)
	if err != nil {
		return emission.Report{}, err
	}
	if len(snaps) == 0 {
		return emission.Report{}, fmt.Errorf("%s is empty or missing, run generate-history first", path)
	}
	return emission.New(trim).Estimate(snaps, now), nil
}
