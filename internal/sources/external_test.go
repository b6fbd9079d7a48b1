package sources

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/web3-frozen/tao-metrics/internal/fetch"
)

func TestCoinGeckoATHATL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/coins/bittensor" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"market_data":{
			"ath":{"usd":757.6},"ath_date":{"usd":"2024-03-07T18:45:36.466Z"},
			"atl":{"usd":30.83},"atl_date":{"usd":"2023-05-14T08:57:53.732Z"}}}`))
	}))
	defer srv.Close()

	cg := &CoinGecko{client: testClient(srv, fetch.Options{}), baseURL: srv.URL}
	got, err := cg.FetchATHATL(context.Background())
	if err != nil {
		t.Fatalf("FetchATHATL error: %v", err)
	}
	if got.ATH != 757.6 || got.ATL != 30.83 {
		t.Errorf("ATH/ATL = %v/%v, want 757.6/30.83", got.ATH, got.ATL)
	}
	if got.ATHDate != "2024-03-07T18:45:36.466Z" {
		t.Errorf("ATHDate = %q", got.ATHDate)
	}
	if got.Source != "coingecko" {
		t.Errorf("Source = %q, want coingecko", got.Source)
	}
}

func TestCoinGeckoMissingValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"market_data":{"ath":{"usd":757.6}}}`))
	}))
	defer srv.Close()

	cg := &CoinGecko{client: testClient(srv, fetch.Options{}), baseURL: srv.URL}
	if _, err := cg.FetchATHATL(context.Background()); err == nil {
		t.Error("expected error when ATL is missing")
	}
}

func TestPairFromRecordFallbacks(t *testing.T) {
	flat := PairFromRecord(map[string]any{
		"id":                 "123",
		"base_asset_symbol":  "wTAO",
		"quote_asset_symbol": "WETH",
		"price_usd":          "420.1",
		"volume_24h":         1000.0,
		"liquidity_usd":      5e6,
	})
	if flat.Name != "wTAO/WETH" {
		t.Errorf("Name = %q, want wTAO/WETH", flat.Name)
	}
	if flat.PriceUSD != 420.1 || flat.Volume24h != 1000 || flat.Liquidity != 5e6 {
		t.Errorf("flat pair = %+v", flat)
	}
	if flat.Dex != "Uniswap" || flat.Network != "Ethereum" {
		t.Errorf("defaults = %q/%q", flat.Dex, flat.Network)
	}
	if flat.PriceChange24h != nil {
		t.Errorf("PriceChange24h = %v, want nil", *flat.PriceChange24h)
	}

	quoted := PairFromRecord(map[string]any{
		"contract_address": "0xabc",
		"name":             "wTAO/USDC",
		"quote": []any{map[string]any{
			"price":                    419.0,
			"volume_24h":               250.0,
			"liquidity":                1e6,
			"percent_change_price_24h": -2.5,
		}},
	})
	if quoted.ID != "0xabc" || quoted.Name != "wTAO/USDC" {
		t.Errorf("quoted id/name = %q/%q", quoted.ID, quoted.Name)
	}
	if quoted.PriceUSD != 419 || quoted.Volume24h != 250 || quoted.Liquidity != 1e6 {
		t.Errorf("quoted pair = %+v", quoted)
	}
	if quoted.PriceChange24h == nil || *quoted.PriceChange24h != -2.5 {
		t.Errorf("PriceChange24h = %v, want -2.5", quoted.PriceChange24h)
	}
}

func TestDataList(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{`[{"id":"1"},{"id":"2"}]`, 2},
		{`{"id":"1"}`, 1},
		{`{"trades":[{"side":"buy"},{"side":"sell"},{"side":"buy"}]}`, 3},
		{`"nope"`, 0},
		{`null`, 0},
	}
	for _, tt := range tests {
		if got := len(dataList([]byte(tt.raw))); got != tt.want {
			t.Errorf("dataList(%s) len = %d, want %d", tt.raw, got, tt.want)
		}
	}
}

func TestCMCFetchDex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-CMC_PRO_API_KEY") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/v4/dex/pairs/quotes/latest":
			if r.URL.Query().Get("contract_address") == WTAOPools[0] {
				w.Write([]byte(`{"data":[{"id":"pair-1","base_asset_symbol":"wTAO","quote_asset_symbol":"WETH","volume_24h":1500.5}]}`))
				return
			}
			w.Write([]byte(`{"data":{"id":"pair-2","base_asset_symbol":"wTAO","quote_asset_symbol":"USDC","volume_24h":499.5}}`))
		case "/v4/dex/pairs/trade/latest":
			if r.URL.Query().Get("id") != "pair-1" || r.URL.Query().Get("limit") != "50" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			var trades []string
			for i := 0; i < 30; i++ {
				trades = append(trades, fmt.Sprintf(`{"side":"buy","amount":%d,"tx_hash":"0x%02d"}`, i+1, i))
			}
			w.Write([]byte(`{"data":{"trades":[` + strings.Join(trades, ",") + `]}}`))
		}
	}))
	defer srv.Close()

	c := &CMC{client: testClient(srv, CMCOptions("secret")), baseURL: srv.URL, logger: slog.Default()}
	got := c.FetchDex(context.Background())
	if got.PairCount != 2 {
		t.Fatalf("PairCount = %d, want 2", got.PairCount)
	}
	if got.TotalVolume24h != 2000 {
		t.Errorf("TotalVolume24h = %v, want 2000", got.TotalVolume24h)
	}
	if got.Source != "coinmarketcap_dex" {
		t.Errorf("Source = %q", got.Source)
	}
	if got.RecentTrades == nil {
		t.Fatal("RecentTrades is nil")
	}
	if got.RecentTrades.PairID != "pair-1" || got.RecentTrades.PairName != "wTAO/WETH" {
		t.Errorf("RecentTrades pair = %q/%q", got.RecentTrades.PairID, got.RecentTrades.PairName)
	}
	if len(got.RecentTrades.Trades) != 20 {
		t.Errorf("len(trades) = %d, want 20", len(got.RecentTrades.Trades))
	}
}

func TestCMCFetchDexAllPoolsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := &CMC{client: testClient(srv, fetch.Options{}), baseURL: srv.URL, logger: slog.Default()}
	got := c.FetchDex(context.Background())
	if got.PairCount != 0 || got.RecentTrades != nil {
		t.Errorf("got %+v, want empty result", got)
	}
	if got.Pairs == nil {
		t.Error("Pairs should be an empty list, not nil")
	}
}

const nitterRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
<title>bittensor_alert / X</title>
<link>https://nitter.net/bittensor_alert</link>
<item>
  <title>Whale moved 50,000 TAO</title>
  <description>Whale moved 50,000 TAO to Binance</description>
  <pubDate>Sun, 01 Mar 2026 12:00:00 GMT</pubDate>
  <link>https://nitter.net/bittensor_alert/status/1900000000000000003#m</link>
</item>
<item>
  <title>Subnet 19 registered</title>
  <pubDate>Sun, 01 Mar 2026 11:00:00 GMT</pubDate>
  <link>https://nitter.net/bittensor_alert/status/1900000000000000002#m</link>
</item>
<item>
  <title>Old alert</title>
  <pubDate>Sun, 01 Mar 2026 10:00:00 GMT</pubDate>
  <link>https://nitter.net/bittensor_alert/status/1900000000000000001#m</link>
</item>
</channel>
</rss>`

func TestNitterFetchAlerts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bittensor_alert/rss" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(nitterRSS))
	}))
	defer srv.Close()

	n := NewNitter(srv.URL+"/", testClient(srv, fetch.Options{}))
	feed, err := n.FetchAlerts(context.Background(), "", 10, "1900000000000000001")
	if err != nil {
		t.Fatalf("FetchAlerts error: %v", err)
	}
	if feed.Skipped {
		t.Error("feed should not be skipped")
	}
	if len(feed.Alerts) != 2 {
		t.Fatalf("len(alerts) = %d, want 2", len(feed.Alerts))
	}
	first := feed.Alerts[0]
	if first.ID != "1900000000000000003" {
		t.Errorf("ID = %q", first.ID)
	}
	if first.Text != "Whale moved 50,000 TAO to Binance" {
		t.Errorf("Text = %q", first.Text)
	}
	if first.CreatedAt == nil || *first.CreatedAt != "2026-03-01T12:00:00Z" {
		t.Errorf("CreatedAt = %v", first.CreatedAt)
	}
	if feed.Alerts[1].Text != "Subnet 19 registered" {
		t.Errorf("title fallback Text = %q", feed.Alerts[1].Text)
	}

	limited, err := n.FetchAlerts(context.Background(), "bittensor_alert", 1, "")
	if err != nil {
		t.Fatalf("FetchAlerts error: %v", err)
	}
	if len(limited.Alerts) != 1 {
		t.Errorf("len(alerts) = %d, want 1", len(limited.Alerts))
	}
}

func TestNitterSkipsOnLongRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "900")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n := NewNitter(srv.URL, testClient(srv, fetch.Options{}))
	feed, err := n.FetchAlerts(context.Background(), "", 10, "")
	if err != nil {
		t.Fatalf("FetchAlerts error: %v", err)
	}
	if !feed.Skipped {
		t.Error("feed should be skipped")
	}
	if feed.WaitSeconds != 900 {
		t.Errorf("WaitSeconds = %d, want 900", feed.WaitSeconds)
	}
	if len(feed.Alerts) != 0 || feed.Alerts == nil {
		t.Errorf("Alerts = %v, want empty list", feed.Alerts)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestStatusID(t *testing.T) {
	tests := []struct{ link, want string }{
		{"https://nitter.net/u/status/123#m", "123"},
		{"https://x.com/u/status/987654321", "987654321"},
		{"https://nitter.net/u", ""},
	}
	for _, tt := range tests {
		if got := StatusID(tt.link); got != tt.want {
			t.Errorf("StatusID(%q) = %q, want %q", tt.link, got, tt.want)
		}
	}
}

func TestParseTreasuryRows(t *testing.T) {
	raw := `[["5GrwvaEF...","1,250,000 TAO","extra"],["lonely"],["5FHneW46...","250 TAO"]]`
	got, err := ParseTreasuryRows(raw)
	if err != nil {
		t.Fatalf("ParseTreasuryRows error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].Address != "5GrwvaEF..." || got[0].Amount != "1,250,000 TAO" {
		t.Errorf("row 0 = %+v", got[0])
	}
	if _, err := ParseTreasuryRows("not json"); err == nil {
		t.Error("expected error for invalid JSON")
	}
}
