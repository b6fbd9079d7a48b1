package sources

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/web3-frozen/tao-metrics/internal/fetch"
)

const coingeckoAPI = "https://api.coingecko.com/api/v3"

type CoinGecko struct {
	client  *fetch.Client
	baseURL string
}

func NewCoinGecko(client *fetch.Client) *CoinGecko {
	return &CoinGecko{client: client, baseURL: coingeckoAPI}
}

type ATHATL struct {
	ATH     float64   `json:"ath"`
	ATHDate string    `json:"ath_date"`
	ATL     float64   `json:"atl"`
	ATLDate string    `json:"atl_date"`
	Source  string    `json:"source"`
	Updated time.Time `json:"updated"`
}

type coinResponse struct {
	MarketData struct {
		ATH     map[string]*float64 `json:"ath"`
		ATHDate map[string]string   `json:"ath_date"`
		ATL     map[string]*float64 `json:"atl"`
		ATLDate map[string]string   `json:"atl_date"`
	} `json:"market_data"`
}

// FetchATHATL returns the all-time high and low in USD. It fails when either
// value is missing so no partial file is ever written.
func (c *CoinGecko) FetchATHATL(ctx context.Context) (*ATHATL, error) {
	var resp coinResponse
	if err := c.client.GetJSON(ctx, c.baseURL+"/coins/bittensor", &resp); err != nil {
		return nil, fmt.Errorf("coingecko: %w", err)
	}
	md := resp.MarketData
	ath, atl := md.ATH["usd"], md.ATL["usd"]
	if ath == nil || atl == nil {
		return nil, errors.New("coingecko: ATH/ATL not found in response")
	}
	return &ATHATL{
		ATH:     *ath,
		ATHDate: md.ATHDate["usd"],
		ATL:     *atl,
		ATLDate: md.ATLDate["usd"],
		Source:  "coingecko",
		Updated: time.Now().UTC(),
	}, nil
}
