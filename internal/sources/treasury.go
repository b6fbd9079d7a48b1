package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/chromedp"
)

const treasuryURL = "https://www.coingecko.com/de/treasuries/bittensor"

type TreasuryEntry struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type TreasuryData struct {
	Treasury  []TreasuryEntry `json:"treasury"`
	Source    string          `json:"_source"`
	Timestamp time.Time       `json:"_timestamp"`
}

// Treasury scrapes the treasury holdings table with headless Chrome; the
// page renders its table client-side.
type Treasury struct {
	logger *slog.Logger
	url    string
}

func NewTreasury(logger *slog.Logger) *Treasury {
	return &Treasury{logger: logger, url: treasuryURL}
}

func (t *Treasury) Fetch(ctx context.Context) (*TreasuryData, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	cctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	cctx, cancel = context.WithTimeout(cctx, 60*time.Second)
	defer cancel()

	var resultJSON string
	if err := chromedp.Run(cctx,
		chromedp.Navigate(t.url),
		chromedp.WaitVisible(`table tbody tr`, chromedp.ByQuery),
		chromedp.Evaluate(treasuryJS, &resultJSON),
	); err != nil {
		return nil, fmt.Errorf("chromedp treasury: %w", err)
	}

	entries, err := ParseTreasuryRows(resultJSON)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no treasury rows found")
	}
	t.logger.Info("scraped treasury table", "rows", len(entries))
	return &TreasuryData{Treasury: entries, Source: "coingecko", Timestamp: time.Now().UTC()}, nil
}

// ParseTreasuryRows decodes the [[cell0, cell1, ...], ...] rows produced by
// treasuryJS, keeping rows with at least two cells.
func ParseTreasuryRows(raw string) ([]TreasuryEntry, error) {
	var rows [][]string
	if err := json.Unmarshal([]byte(raw), &rows); err != nil {
		return nil, fmt.Errorf("parse treasury rows: %w", err)
	}
	entries := make([]TreasuryEntry, 0, len(rows))
	for _, cells := range rows {
		if len(cells) < 2 {
			continue
		}
		entries = append(entries, TreasuryEntry{Address: cells[0], Amount: cells[1]})
	}
	return entries, nil
}

// treasuryJS is evaluated in the browser and returns the body rows' cell text.
const treasuryJS = `
(() => {
	const table = document.querySelector('table');
	if (!table) return '[]';
	const rows = [];
	table.querySelectorAll('tbody tr').forEach(row => {
		rows.push(Array.from(row.querySelectorAll('td')).map(td => (td.textContent || '').trim()));
	});
	return JSON.stringify(rows);
})()
`
