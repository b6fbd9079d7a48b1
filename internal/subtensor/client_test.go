package subtensor

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// fakeNode answers JSON-RPC calls from a fixed table.
func fakeNode(t *testing.T, results map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow() //nolint:errcheck

		for {
			var req request
			if err := wsjson.Read(r.Context(), conn, &req); err != nil {
				return
			}
			key := req.Method
			if len(req.Params) > 0 {
				if s, ok := req.Params[0].(string); ok {
					key += ":" + s
				}
			}
			// Interleave a notification to check id matching.
			wsjson.Write(r.Context(), conn, map[string]any{"jsonrpc": "2.0", "method": "chain_newHead", "params": map[string]any{}})

			res, ok := results[key]
			if !ok {
				wsjson.Write(r.Context(), conn, map[string]any{
					"jsonrpc": "2.0", "id": req.ID,
					"error": map[string]any{"code": -32601, "message": "Method not found"},
				})
				continue
			}
			wsjson.Write(r.Context(), conn, map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": res})
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestCurrentBlock(t *testing.T) {
	srv := fakeNode(t, map[string]any{
		"chain_getHeader": map[string]any{"number": "0x4c4b40", "parentHash": "0x00"},
	})
	defer srv.Close()

	c := New(wsURL(srv), slog.Default())
	defer c.Close()

	got, err := c.CurrentBlock(context.Background())
	if err != nil {
		t.Fatalf("CurrentBlock error: %v", err)
	}
	if got != 5_000_000 {
		t.Errorf("CurrentBlock = %d, want 5000000", got)
	}
}

func TestTotalIssuanceAndNetworks(t *testing.T) {
	// 10,300,000.5 TAO in rao, little-endian u64.
	srv := fakeNode(t, map[string]any{
		"state_getStorage:" + totalIssuanceKey: "0x0025fdbecb972400",
		"state_getStorage:" + totalNetworksKey: "0x4100",
	})
	defer srv.Close()

	c := New(wsURL(srv), slog.Default())
	defer c.Close()
	ctx := context.Background()

	iss, err := c.TotalIssuance(ctx)
	if err != nil {
		t.Fatalf("TotalIssuance error: %v", err)
	}
	if iss.String() != "10300000.5" {
		t.Errorf("TotalIssuance = %s, want 10300000.5", iss)
	}

	n, err := c.TotalNetworks(ctx)
	if err != nil {
		t.Fatalf("TotalNetworks error: %v", err)
	}
	if n != 65 {
		t.Errorf("TotalNetworks = %d, want 65", n)
	}
}

func TestCallRPCError(t *testing.T) {
	srv := fakeNode(t, map[string]any{})
	defer srv.Close()

	c := New(wsURL(srv), slog.Default())
	defer c.Close()

	var out json.RawMessage
	err := c.Call(context.Background(), "system_health", &out)
	rpcErr, ok := err.(*RPCError)
	if !ok {
		t.Fatalf("err = %v, want *RPCError", err)
	}
	if rpcErr.Code != -32601 {
		t.Errorf("Code = %d, want -32601", rpcErr.Code)
	}
}

func TestDialFailure(t *testing.T) {
	c := New("ws://127.0.0.1:1", slog.Default())
	if _, err := c.CurrentBlock(context.Background()); err == nil {
		t.Error("expected dial error")
	}
}

func TestDecodeUintLE(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"0x01", 1, false},
		{"0x0001", 256, false},
		{"0xffffffffffffffff", 1<<64 - 1, false},
		{"0x", 0, true},
		{"0xzz", 0, true},
		{"0x000000000000000000", 0, true},
	}
	for _, tt := range tests {
		got, err := DecodeUintLE(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("DecodeUintLE(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("DecodeUintLE(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
