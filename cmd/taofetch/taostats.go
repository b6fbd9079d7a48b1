package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/web3-frozen/tao-metrics/internal/fetch"
	"github.com/web3-frozen/tao-metrics/internal/sources"
)

var errNoTaostatsKey = errors.New("TAOSTATS_API_KEY is not set")

func (r *runner) taostats() (*sources.Taostats, error) {
	if r.cfg.TaostatsAPIKey == "" {
		return nil, errNoTaostatsKey
	}
	return sources.NewTaostats(fetch.New(sources.TaostatsOptions(r.cfg.TaostatsAPIKey), r.logger)), nil
}

// dailyEmission prefers the estimate from the local history file and falls
// back to the configured constant.
func (r *runner) dailyEmission() float64 {
	rep, err := emissionFromFile(r.cfg.HistoryFile, r.cfg.TrimFraction, r.now())
	if err != nil {
		return r.cfg.DailyEmission
	}
	return rep.DailyOr(r.cfg.DailyEmission)
}

var topSubnetsCmd = &cobra.Command{
	Use:   "top-subnets",
	Short: "Rank subnets by estimated daily emission",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		r, err := newRunner(cmd.Context())
		if err != nil {
			return err
		}
		defer r.Close()

		ts, err := r.taostats()
		if err != nil {
			return err
		}
		return r.run(cmd.Context(), job{name: "top_subnets", file: "top_subnets.json", key: "top_subnets"},
			func(ctx context.Context) (any, error) {
				recs, err := ts.Subnets(ctx)
				if err != nil {
					return nil, err
				}
				return sources.RankSubnets(recs, r.dailyEmission(), viper.GetInt("top_n"), r.cfg.Network, r.now()), nil
			})
	},
}

var topWalletsCmd = &cobra.Command{
	Use:   "top-wallets",
	Short: "Fetch the largest TAO holders with identities and dominance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		r, err := newRunner(cmd.Context())
		if err != nil {
			return err
		}
		defer r.Close()

		ts, err := r.taostats()
		if err != nil {
			return err
		}
		return r.run(cmd.Context(), job{name: "top_wallets", file: "top_wallets.json", key: "top_wallets"},
			func(ctx context.Context) (any, error) {
				var supply float64
				if st, err := ts.Stats(ctx); err != nil {
					r.logger.Warn("circulating supply unavailable, using default", "error", err)
				} else {
					supply, _ = st.Issued.Float64()
				}
				return ts.FetchTopWallets(ctx, viper.GetInt("limit"), supply, r.logger)
			})
	},
}

var priceHistoryCmd = &cobra.Command{
	Use:   "price-history",
	Short: "Fetch daily TAO closes for every chart range and their moving averages",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		r, err := newRunner(cmd.Context())
		if err != nil {
			return err
		}
		defer r.Close()

		ts, err := r.taostats()
		if err != nil {
			return err
		}

		var hist *sources.PriceHistory
		err = r.run(cmd.Context(), job{name: "price_history", file: "price_history.json", key: "price_history"},
			func(ctx context.Context) (any, error) {
				hist = ts.FetchPriceHistory(ctx, r.now(), r.logger)
				if len(hist.Data) == 0 {
					return nil, fmt.Errorf("no price history data fetched")
				}
				return hist, nil
			})
		if err != nil {
			return err
		}

		return r.run(cmd.Context(), job{name: "taostats_aggregates", file: "taostats_aggregates.json", key: "taostats_aggregates"},
			func(context.Context) (any, error) {
				return sources.ComputeAggregates(aggregateSeries(hist), r.now()), nil
			})
	},
}

// aggregateSeries picks the shortest range holding at least a week of
// closes, so the moving averages track the latest days.
func aggregateSeries(h *sources.PriceHistory) []sources.PricePoint {
	var best []sources.PricePoint
	for _, days := range sources.PriceTimeframes {
		pts := h.Data[fmt.Sprint(days)]
		if len(pts) >= 7 {
			return pts
		}
		if len(pts) > len(best) {
			best = pts
		}
	}
	return best
}

func init() {
	topSubnetsCmd.Flags().Int("top-n", 10, "Number of subnets to keep")
	cobra.CheckErr(viper.BindPFlag("top_n", topSubnetsCmd.Flags().Lookup("top-n")))

	topWalletsCmd.Flags().Int("limit", 10, "Number of wallets to fetch")
	cobra.CheckErr(viper.BindPFlag("limit", topWalletsCmd.Flags().Lookup("limit")))
}
