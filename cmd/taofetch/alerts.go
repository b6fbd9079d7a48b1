package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/web3-frozen/tao-metrics/internal/alerts"
	"github.com/web3-frozen/tao-metrics/internal/dedup"
	"github.com/web3-frozen/tao-metrics/internal/fetch"
	"github.com/web3-frozen/tao-metrics/internal/sources"
	"github.com/web3-frozen/tao-metrics/internal/telegram"
)

var xAlertsCmd = &cobra.Command{
	Use:   "x-alerts",
	Short: "Fetch recent alerts from a Nitter RSS feed and relay unseen ones to Telegram",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		r, err := newRunner(cmd.Context())
		if err != nil {
			return err
		}
		defer r.Close()

		user := viper.GetString("username")
		nitter := sources.NewNitter(viper.GetString("nitter_instance"),
			fetch.New(fetch.Options{Timeout: 15 * time.Second, MaxRateLimitWait: 60 * time.Second}, r.logger))

		var dd *dedup.Deduplicator
		if r.rdb != nil {
			dd = dedup.NewWithClient(r.rdb, 30*24*time.Hour)
		}
		since := viper.GetString("since")
		if since == "" && dd != nil {
			if since, err = dd.SinceID(cmd.Context(), user); err != nil {
				r.logger.Warn("read since id failed", "feed", user, "error", err)
			}
		}

		var feed *sources.AlertFeed
		err = r.run(cmd.Context(), job{name: "x_alerts", file: viper.GetString("alerts_out"), key: "x_alerts"},
			func(ctx context.Context) (any, error) {
				f, err := nitter.FetchAlerts(ctx, user, viper.GetInt("max"), since)
				feed = f
				return f, err
			})
		if err != nil {
			return err
		}
		if feed.Skipped {
			r.logger.Warn("alert feed rate limited, skipped", "wait_seconds", feed.WaitSeconds)
			return nil
		}

		notifier := telegram.NewNotifier(r.cfg.TelegramToken, r.cfg.TelegramChatID, r.logger)
		if !notifier.Configured() || dd == nil {
			r.logger.Info("telegram relay disabled", "alerts", len(feed.Alerts))
			return nil
		}
		sent := alerts.NewRelay(user, notifier, dd, r.logger).Forward(cmd.Context(), feed.Alerts)
		r.logger.Info("relayed alerts", "feed", user, "sent", sent, "fetched", len(feed.Alerts))
		return nil
	},
}

func init() {
	xAlertsCmd.Flags().String("out", "x_alerts_latest.json", "Output file")
	xAlertsCmd.Flags().String("since", "", "Only return alerts newer than this status id (default: stored since id)")
	xAlertsCmd.Flags().String("nitter-instance", sources.DefaultNitterInstance, "Nitter instance base URL")
	xAlertsCmd.Flags().String("username", sources.DefaultAlertAccount, "Account to read alerts from")
	xAlertsCmd.Flags().IntP("max", "m", 5, "Max number of alerts to fetch")
	cobra.CheckErr(viper.BindPFlag("alerts_out", xAlertsCmd.Flags().Lookup("out")))
	cobra.CheckErr(viper.BindPFlag("since", xAlertsCmd.Flags().Lookup("since")))
	cobra.CheckErr(viper.BindPFlag("nitter_instance", xAlertsCmd.Flags().Lookup("nitter-instance")))
	cobra.CheckErr(viper.BindPFlag("username", xAlertsCmd.Flags().Lookup("username")))
	cobra.CheckErr(viper.BindPFlag("max", xAlertsCmd.Flags().Lookup("max")))
}
