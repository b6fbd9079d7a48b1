// Package subtensor talks JSON-RPC to a Subtensor node over a websocket.
package subtensor

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/shopspring/decimal"
)

const (
	// DefaultURL is the public finney entrypoint.
	DefaultURL = "wss://entrypoint-finney.opentensor.ai:443"

	// Storage keys are twox128(pallet) ++ twox128(item).
	totalIssuanceKey = "0x658faa385070e074c85bf6b568cf055557c875e4cff74148e4628f264b974c80"
	totalNetworksKey = "0x658faa385070e074c85bf6b568cf05555f3bb7bcd0a076a48abf8c256d221721"

	callTimeout = 20 * time.Second
)

// raoPerTAO converts the chain's base unit.
var raoPerTAO = decimal.New(1, 9)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client keeps one websocket open and issues one call at a time. A broken
// connection is dropped and redialed on the next call.
type Client struct {
	url    string
	logger *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

func New(url string, logger *slog.Logger) *Client {
	if url == "" {
		url = DefaultURL
	}
	return &Client{url: url, logger: logger}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	return err
}

// Call invokes method and decodes the result into out.
func (c *Client) Call(ctx context.Context, method string, out any, params ...any) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, _, err := websocket.Dial(ctx, c.url, nil)
		if err != nil {
			return fmt.Errorf("ws dial: %w", err)
		}
		conn.SetReadLimit(4 << 20)
		c.conn = conn
		c.logger.Info("subtensor ws connected", "url", c.url)
	}

	c.nextID++
	id := c.nextID
	if params == nil {
		params = []any{}
	}
	if err := wsjson.Write(ctx, c.conn, request{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		c.reset()
		return fmt.Errorf("ws write %s: %w", method, err)
	}

	for {
		var resp response
		if err := wsjson.Read(ctx, c.conn, &resp); err != nil {
			c.reset()
			return fmt.Errorf("ws read %s: %w", method, err)
		}
		if resp.ID != id {
			continue // stale reply or subscription notification
		}
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("decode %s: %w", method, err)
		}
		return nil
	}
}

func (c *Client) reset() {
	if c.conn != nil {
		c.conn.CloseNow() //nolint:errcheck
		c.conn = nil
	}
}

// CurrentBlock returns the best block number.
func (c *Client) CurrentBlock(ctx context.Context) (uint64, error) {
	var header struct {
		Number string `json:"number"`
	}
	if err := c.Call(ctx, "chain_getHeader", &header); err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(header.Number, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse block number %q: %w", header.Number, err)
	}
	return n, nil
}

// TotalIssuance returns cumulative issuance in TAO.
func (c *Client) TotalIssuance(ctx context.Context) (decimal.Decimal, error) {
	raw, err := c.storageUint(ctx, totalIssuanceKey)
	if err != nil {
		return decimal.Zero, fmt.Errorf("total issuance: %w", err)
	}
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), 0).Div(raoPerTAO), nil
}

// TotalNetworks returns the number of registered subnets.
func (c *Client) TotalNetworks(ctx context.Context) (int, error) {
	raw, err := c.storageUint(ctx, totalNetworksKey)
	if err != nil {
		return 0, fmt.Errorf("total networks: %w", err)
	}
	return int(raw), nil
}

// storageUint reads a SCALE little-endian unsigned integer of up to 8 bytes.
func (c *Client) storageUint(ctx context.Context, key string) (uint64, error) {
	var value *string
	if err := c.Call(ctx, "state_getStorage", &value, key); err != nil {
		return 0, err
	}
	if value == nil {
		return 0, errors.New("storage value missing")
	}
	return DecodeUintLE(*value)
}

// DecodeUintLE decodes a 0x-prefixed little-endian integer of 1 to 8 bytes.
func DecodeUintLE(s string) (uint64, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return 0, fmt.Errorf("decode storage hex: %w", err)
	}
	if len(b) == 0 || len(b) > 8 {
		return 0, fmt.Errorf("unexpected storage width %d", len(b))
	}
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:]), nil
}
