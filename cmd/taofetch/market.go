package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/web3-frozen/tao-metrics/internal/fetch"
	"github.com/web3-frozen/tao-metrics/internal/sources"
)

const athAtlFile = "tao_ath_atl"

var athAtlCmd = &cobra.Command{
	Use:   "ath-atl",
	Short: "Fetch the TAO all-time high and low from CoinGecko",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		r, err := newRunner(cmd.Context())
		if err != nil {
			return err
		}
		defer r.Close()

		cg := sources.NewCoinGecko(fetch.New(fetch.Options{Timeout: 10 * time.Second}, r.logger))
		j := job{
			name:   "ath_atl",
			file:   athAtlFile + ".json",
			key:    athAtlFile,
			copies: []string{backupName(athAtlFile, r.now())},
		}
		return r.run(cmd.Context(), j, func(ctx context.Context) (any, error) {
			return cg.FetchATHATL(ctx)
		})
	},
}

// backupName stamps a file name with the UTC time, e.g.
// tao_ath_atl-20260301T120000Z.json.
func backupName(base string, t time.Time) string {
	return fmt.Sprintf("%s-%s.json", base, t.UTC().Format("20060102T150405Z"))
}

var dexCmd = &cobra.Command{
	Use:   "dex",
	Short: "Fetch wTAO pool stats and recent trades from the CoinMarketCap DEX API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		r, err := newRunner(cmd.Context())
		if err != nil {
			return err
		}
		defer r.Close()

		if r.cfg.CMCAPIToken == "" {
			return errors.New("CMC_API_TOKEN is not set")
		}
		cmc := sources.NewCMC(fetch.New(sources.CMCOptions(r.cfg.CMCAPIToken), r.logger), r.logger)
		return r.run(cmd.Context(), job{name: "dex", file: "dex_data.json", key: "dex_data"},
			func(ctx context.Context) (any, error) {
				return cmc.FetchDex(ctx), nil
			})
	},
}

var treasuryCmd = &cobra.Command{
	Use:   "treasury",
	Short: "Scrape the treasury holdings table with headless Chrome",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		r, err := newRunner(cmd.Context())
		if err != nil {
			return err
		}
		defer r.Close()

		t := sources.NewTreasury(r.logger)
		return r.run(cmd.Context(), job{name: "treasury", file: "treasury_data.json", key: "treasury_data"},
			func(ctx context.Context) (any, error) {
				return t.Fetch(ctx)
			})
	},
}
