// Package sources holds the adapters for the third-party APIs the dashboard
// jobs read from. Each adapter carries its own base URL so tests can point
// it at an httptest server.
package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/tao-metrics/internal/fetch"
	"github.com/web3-frozen/tao-metrics/internal/probe"
)

const taostatsAPI = "https://api.taostats.io/api"

var raoPerTAO = decimal.New(1, 9)

// RaoToTAO converts a rao amount (number or numeric string) to TAO.
func RaoToTAO(v any) decimal.Decimal {
	switch n := v.(type) {
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return decimal.Zero
		}
		return d.Div(raoPerTAO)
	case float64:
		return decimal.NewFromFloat(n).Div(raoPerTAO)
	case int64:
		return decimal.NewFromInt(n).Div(raoPerTAO)
	}
	return decimal.Zero
}

type Taostats struct {
	client  *fetch.Client
	baseURL string
}

func NewTaostats(client *fetch.Client) *Taostats {
	return &Taostats{client: client, baseURL: taostatsAPI}
}

// TaostatsOptions configures a fetch client for Taostats. The free tier
// allows five requests per minute.
func TaostatsOptions(apiKey string) fetch.Options {
	return fetch.Options{
		Timeout: 30 * time.Second,
		RPS:     5.0 / 60,
		Burst:   5,
		Header: http.Header{
			"Accept":        {"application/json"},
			"Authorization": {apiKey},
		},
	}
}

type listResponse struct {
	Data       []map[string]any `json:"data"`
	Pagination struct {
		NextPage *int `json:"next_page"`
	} `json:"pagination"`
}

func (t *Taostats) list(ctx context.Context, path string, q url.Values) (*listResponse, error) {
	u := t.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var resp listResponse
	if err := t.client.GetJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("taostats %s: %w", path, err)
	}
	return &resp, nil
}

// NetworkStats is the subset of /stats/latest the dashboard uses.
type NetworkStats struct {
	BlockNumber uint64
	Issued      decimal.Decimal // TAO
	Subnets     int
	Timestamp   time.Time
}

func (t *Taostats) Stats(ctx context.Context) (*NetworkStats, error) {
	resp, err := t.list(ctx, "/stats/latest/v1", nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("taostats stats: empty response")
	}
	rec := resp.Data[0]
	st := &NetworkStats{
		BlockNumber: uint64(probe.FirstFloat(rec, 0, "block_number", "block")),
		Subnets:     int(probe.FirstFloat(rec, 0, "subnets")),
	}
	if raw, ok := rec["issued"]; ok {
		st.Issued = RaoToTAO(raw)
	}
	if ts := probe.FirstString(rec, "", "timestamp"); ts != "" {
		st.Timestamp, _ = time.Parse(time.RFC3339, ts)
	}
	return st, nil
}

// TotalIssuance implements the collector's issuance source.
func (t *Taostats) TotalIssuance(ctx context.Context) (decimal.Decimal, error) {
	st, err := t.Stats(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if st.Issued.IsZero() {
		return decimal.Zero, fmt.Errorf("taostats stats: issued missing")
	}
	return st.Issued, nil
}

// Subnets returns one loosely shaped record per subnet.
func (t *Taostats) Subnets(ctx context.Context) ([]map[string]any, error) {
	resp, err := t.list(ctx, "/subnet/latest/v1", url.Values{"limit": {"256"}})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Accounts returns the top accounts by total balance.
func (t *Taostats) Accounts(ctx context.Context, limit int) ([]map[string]any, error) {
	resp, err := t.list(ctx, "/account/latest/v1", url.Values{
		"limit": {strconv.Itoa(limit)},
		"order": {"balance_total_desc"},
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Identity returns the on-chain display name for address, or "".
func (t *Taostats) Identity(ctx context.Context, address string) (string, error) {
	resp, err := t.list(ctx, "/identity/v1", url.Values{"address": {address}})
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 {
		return "", nil
	}
	return probe.FirstString(resp.Data[0], "", "display", "name"), nil
}

// PricePoint is one chart sample: [unix_ms, close].
type PricePoint [2]float64

// PriceOHLC returns daily closes between start and end, oldest first,
// following pagination until the API reports no next page.
func (t *Taostats) PriceOHLC(ctx context.Context, start, end time.Time) ([]PricePoint, error) {
	var out []PricePoint
	page := 1
	for guard := 0; guard < 50; guard++ {
		resp, err := t.list(ctx, "/price/ohlc/v1", url.Values{
			"asset":           {"tao"},
			"period":          {"1d"},
			"timestamp_start": {strconv.FormatInt(start.Unix(), 10)},
			"timestamp_end":   {strconv.FormatInt(end.Unix(), 10)},
			"limit":           {"200"},
			"page":            {strconv.Itoa(page)},
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			break
		}
		for _, rec := range resp.Data {
			ts, err := time.Parse(time.RFC3339, probe.FirstString(rec, "", "timestamp"))
			if err != nil {
				continue
			}
			closePrice, ok := probe.ToFloat(rec["close"])
			if !ok || closePrice == 0 {
				continue
			}
			out = append(out, PricePoint{float64(ts.UnixMilli()), closePrice})
		}
		if resp.Pagination.NextPage == nil || *resp.Pagination.NextPage <= page {
			break
		}
		page = *resp.Pagination.NextPage
	}
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out, nil
}
