package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/web3-frozen/tao-metrics/internal/fetch"
	"github.com/web3-frozen/tao-metrics/internal/probe"
)

const cmcAPI = "https://pro-api.coinmarketcap.com"

// WTAOPools are the Uniswap pools tracked for wrapped TAO on Ethereum.
var WTAOPools = []string{
	"0x433a00819c771b33fa7223a5b3499b24fbcd1bbc", // wTAO/WETH
	"0xf763Bb342eB3d23C02ccB86312422fe0c1c17E94", // wTAO/USDC
}

type CMC struct {
	client  *fetch.Client
	baseURL string
	logger  *slog.Logger
}

func NewCMC(client *fetch.Client, logger *slog.Logger) *CMC {
	return &CMC{client: client, baseURL: cmcAPI, logger: logger}
}

// CMCOptions sets the API key header.
func CMCOptions(apiKey string) fetch.Options {
	return fetch.Options{
		Timeout: 30 * time.Second,
		Header: http.Header{
			"Accept":            {"application/json"},
			"X-Cmc_pro_api_key": {apiKey},
		},
	}
}

type DexPair struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Dex            string   `json:"dex"`
	Network        string   `json:"network"`
	BaseSymbol     string   `json:"base_symbol"`
	QuoteSymbol    string   `json:"quote_symbol"`
	PriceUSD       float64  `json:"price_usd"`
	Volume24h      float64  `json:"volume_24h"`
	Liquidity      float64  `json:"liquidity"`
	PriceChange24h *float64 `json:"price_change_24h"`
}

type DexTrade struct {
	Timestamp string  `json:"timestamp"`
	Side      string  `json:"side"`
	Amount    float64 `json:"amount"`
	PriceUSD  float64 `json:"price_usd"`
	ValueUSD  float64 `json:"value_usd"`
	TxHash    string  `json:"tx_hash"`
}

type RecentTrades struct {
	PairID   string     `json:"pair_id"`
	PairName string     `json:"pair_name"`
	Trades   []DexTrade `json:"trades"`
}

type DexData struct {
	Pairs          []DexPair     `json:"pairs"`
	TotalVolume24h float64       `json:"total_volume_24h"`
	PairCount      int           `json:"pair_count"`
	RecentTrades   *RecentTrades `json:"recent_trades"`
	Timestamp      time.Time     `json:"_timestamp"`
	Source         string        `json:"_source"`
}

// Field fallbacks for the two response layouts the DEX API has used.
var (
	volumeKeys      = []string{"volume_24h", "volume.h24", "quote.0.volume_24h"}
	liquidityKeys   = []string{"liquidity_usd", "liquidity.usd", "quote.0.liquidity"}
	priceKeys       = []string{"price_usd", "price.usd", "quote.0.price"}
	priceChangeKeys = []string{"price_change_24h", "price_change.h24", "quote.0.percent_change_price_24h"}
)

// PairFromRecord normalizes one pair record.
func PairFromRecord(rec map[string]any) DexPair {
	p := DexPair{
		ID:          probe.FirstString(rec, "", "id", "pair_id", "contract_address"),
		Dex:         probe.FirstString(rec, "Uniswap", "dex_name", "exchange.name", "dex_slug"),
		Network:     probe.FirstString(rec, "Ethereum", "network_name", "network_slug"),
		BaseSymbol:  probe.FirstString(rec, "wTAO", "base_asset_symbol"),
		QuoteSymbol: probe.FirstString(rec, "?", "quote_asset_symbol"),
		PriceUSD:    probe.FirstFloat(rec, 0, priceKeys...),
		Volume24h:   probe.FirstFloat(rec, 0, volumeKeys...),
		Liquidity:   probe.FirstFloat(rec, 0, liquidityKeys...),
	}
	p.Name = probe.FirstString(rec, p.BaseSymbol+"/"+p.QuoteSymbol, "name")
	rules := make(probe.Rules, len(priceChangeKeys))
	for i, k := range priceChangeKeys {
		rules[i] = probe.Rule{Key: k}
	}
	if v, ok := rules.Lookup(rec); ok {
		p.PriceChange24h = &v
	}
	return p
}

// TradeFromRecord normalizes one trade record.
func TradeFromRecord(rec map[string]any) DexTrade {
	return DexTrade{
		Timestamp: probe.FirstString(rec, "", "timestamp", "block_timestamp", "date"),
		Side:      probe.FirstString(rec, "", "side", "type"),
		Amount:    probe.FirstFloat(rec, 0, "amount", "base_amount", "amount_base_asset"),
		PriceUSD:  probe.FirstFloat(rec, 0, "price_usd", "price"),
		ValueUSD:  probe.FirstFloat(rec, 0, "value_usd", "quote_amount", "total_quote"),
		TxHash:    probe.FirstString(rec, "", "tx_hash", "transaction_hash"),
	}
}

// dataList accepts "data": [...] or "data": {...}.
func dataList(raw json.RawMessage) []map[string]any {
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var one map[string]any
	if err := json.Unmarshal(raw, &one); err == nil && one != nil {
		if nested, ok := one["trades"].([]any); ok {
			for _, t := range nested {
				if m, ok := t.(map[string]any); ok {
					list = append(list, m)
				}
			}
			return list
		}
		return []map[string]any{one}
	}
	return nil
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// FetchDex collects pair quotes for every pool and the latest trades of
// the first pair. Pool and trade failures are logged, never fatal.
func (c *CMC) FetchDex(ctx context.Context) *DexData {
	out := &DexData{Pairs: []DexPair{}, Source: "coinmarketcap_dex", Timestamp: time.Now().UTC()}

	for _, pool := range WTAOPools {
		q := url.Values{"network_slug": {"ethereum"}, "contract_address": {pool}}
		var env envelope
		if err := c.client.GetJSON(ctx, c.baseURL+"/v4/dex/pairs/quotes/latest?"+q.Encode(), &env); err != nil {
			c.logger.Warn("dex pool fetch failed", "pool", pool, "error", err)
			continue
		}
		for _, rec := range dataList(env.Data) {
			p := PairFromRecord(rec)
			out.Pairs = append(out.Pairs, p)
			out.TotalVolume24h += p.Volume24h
		}
	}
	out.PairCount = len(out.Pairs)

	if len(out.Pairs) == 0 || out.Pairs[0].ID == "" {
		return out
	}
	top := out.Pairs[0]
	trades, err := c.fetchTrades(ctx, top.ID)
	if err != nil {
		c.logger.Warn("dex trades fetch failed", "pair", top.ID, "error", err)
		return out
	}
	out.RecentTrades = &RecentTrades{PairID: top.ID, PairName: top.Name, Trades: trades}
	return out
}

func (c *CMC) fetchTrades(ctx context.Context, pairID string) ([]DexTrade, error) {
	q := url.Values{"id": {pairID}, "limit": {"50"}}
	var env envelope
	if err := c.client.GetJSON(ctx, c.baseURL+"/v4/dex/pairs/trade/latest?"+q.Encode(), &env); err != nil {
		return nil, err
	}
	recs := dataList(env.Data)
	if recs == nil {
		return nil, fmt.Errorf("no data in trades response")
	}
	if len(recs) > 20 {
		recs = recs[:20]
	}
	trades := make([]DexTrade, 0, len(recs))
	for _, rec := range recs {
		trades = append(trades, TradeFromRecord(rec))
	}
	return trades, nil
}
