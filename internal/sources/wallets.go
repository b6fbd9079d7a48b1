package sources

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3-frozen/tao-metrics/internal/probe"
)

// DefaultCirculatingSupply is used for dominance when no live value is known.
const DefaultCirculatingSupply = 10_400_000.0

// KnownIdentities labels exchange wallets that carry no on-chain identity.
var KnownIdentities = map[string]string{
	"5Hd2ze5ug8n1bo3UCAcQsf66VNjKqGos8u6apNfzcU86pg4N": "Binance",
	"5FZiuxCBt8p6PFDisJ9ZEbBaKNVKy6TeemVJd1Z6jscsdjib": "Kucoin",
}

type Wallet struct {
	Rank          int     `json:"rank"`
	Address       string  `json:"address"`
	AddressShort  string  `json:"address_short"`
	BalanceTotal  float64 `json:"balance_total"`
	BalanceFree   float64 `json:"balance_free"`
	BalanceStaked float64 `json:"balance_staked"`
	StakedPercent float64 `json:"staked_percent"`
	Identity      *string `json:"identity"`
	Dominance     float64 `json:"dominance"`
}

type TopWallets struct {
	Wallets   []Wallet  `json:"wallets"`
	Source    string    `json:"_source"`
	Timestamp time.Time `json:"_timestamp"`
	Count     int       `json:"_count"`
}

// ShortAddress renders "5Hd2ze...pg4N" for addresses longer than 12 chars.
func ShortAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

func round(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

// WalletFromRecord converts one Taostats account record.
func WalletFromRecord(rec map[string]any) Wallet {
	addr := probe.FirstString(rec, "", "address.ss58", "address")
	total := RaoToTAO(rec["balance_total"])
	staked := RaoToTAO(rec["balance_staked"])

	w := Wallet{
		Rank:         int(probe.FirstFloat(rec, 0, "rank")),
		Address:      addr,
		AddressShort: ShortAddress(addr),
	}
	w.BalanceTotal, _ = total.Round(2).Float64()
	w.BalanceFree, _ = RaoToTAO(rec["balance_free"]).Round(2).Float64()
	w.BalanceStaked, _ = staked.Round(2).Float64()
	if total.IsPositive() {
		w.StakedPercent, _ = staked.Div(total).Mul(decimal.NewFromInt(100)).Round(1).Float64()
	}
	return w
}

// ApplyDominance sets each wallet's share of supply in percent.
func ApplyDominance(wallets []Wallet, supply float64) {
	for i := range wallets {
		if supply > 0 {
			wallets[i].Dominance = round(wallets[i].BalanceTotal/supply*100, 2)
		}
	}
}

// FetchTopWallets loads the top accounts, resolves identities (known
// exchanges first, then the identity endpoint) and computes dominance.
// Identity lookups are best effort.
func (t *Taostats) FetchTopWallets(ctx context.Context, limit int, supply float64, logger *slog.Logger) (*TopWallets, error) {
	recs, err := t.Accounts(ctx, limit)
	if err != nil {
		return nil, err
	}
	if len(recs) > limit {
		recs = recs[:limit]
	}

	wallets := make([]Wallet, 0, len(recs))
	for _, rec := range recs {
		w := WalletFromRecord(rec)
		if name, ok := KnownIdentities[w.Address]; ok {
			w.Identity = &name
		} else if w.Address != "" {
			name, err := t.Identity(ctx, w.Address)
			if err != nil {
				logger.Warn("identity lookup failed", "address", w.AddressShort, "error", err)
			} else if name != "" {
				w.Identity = &name
			}
		}
		wallets = append(wallets, w)
	}

	if supply <= 0 {
		supply = DefaultCirculatingSupply
	}
	ApplyDominance(wallets, supply)

	return &TopWallets{
		Wallets:   wallets,
		Source:    "taostats",
		Timestamp: time.Now().UTC(),
		Count:     len(wallets),
	}, nil
}
