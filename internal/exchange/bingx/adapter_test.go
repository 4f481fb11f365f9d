package bingx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"exchange-hub/internal/exchange"
)

const symbolsResponse = `{"code":0,"msg":"","data":{"symbols":[
	{"symbol":"BTC-USDT","minQty":0.0001,"maxQty":100,"minNotional":1,
	 "maxNotional":100000,"stepSize":0.0001,"tickSize":0.01,"status":1},
	{"symbol":"OLD-USDT","minQty":1,"maxQty":100,"minNotional":1,
	 "maxNotional":100000,"stepSize":1,"tickSize":0.000001,"status":0}
]}}`

func newTestAdapter(t *testing.T, handler http.Handler) *Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewAdapter(NewClient(server.URL, testCreds), zerolog.Nop())
}

func TestGetTickersInfoParsing(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(symbolsResponse))
	}))

	tickers, err := adapter.GetTickersInfo(context.Background(), false)
	if err != nil {
		t.Fatalf("GetTickersInfo: %v", err)
	}
	if len(tickers) != 2 {
		t.Fatalf("got %d tickers, want 2", len(tickers))
	}

	btc := tickers[0]
	if btc.BaseAsset != "BTC" || btc.QuoteAsset != "USDT" {
		t.Errorf("symbol split wrong: %+v", btc)
	}
	if btc.BaseDecimals != 4 || btc.PriceDecimals != 2 {
		t.Errorf("decimals = base %d price %d, want 4 and 2", btc.BaseDecimals, btc.PriceDecimals)
	}
	if !btc.Available {
		t.Error("online pair not available")
	}
	if tickers[1].Available {
		t.Error("offline pair marked available")
	}
}

func TestCompositeOrderIDs(t *testing.T) {
	var queryPath string
	var queriedSymbol, queriedID string
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/openApi/spot/v2/trade/order":
			w.Write([]byte(`{"code":0,"msg":"","data":{"orderId":987654}}`))
		case "/openApi/spot/v1/trade/query":
			queryPath = r.URL.Path
			queriedSymbol = r.URL.Query().Get("symbol")
			queriedID = r.URL.Query().Get("orderId")
			w.Write([]byte(`{"code":0,"msg":"","data":{"orderId":987654,"symbol":"BTC-USDT",
				"price":"25000","origQty":"0.001","executedQty":"0","cummulativeQuoteQty":"0",
				"status":"NEW","type":"LIMIT","side":"BUY"}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	ticker := exchange.Ticker{Symbol: "BTC-USDT", BaseDecimals: 4, PriceDecimals: 2}
	ctx := context.Background()

	orderID, err := adapter.LimitBuy(ctx, ticker, dec("0.001"), exchange.AmountBase, dec("25000"))
	if err != nil {
		t.Fatalf("LimitBuy: %v", err)
	}
	if orderID != "BTC-USDT:987654" {
		t.Fatalf("order id = %q, want composite BTC-USDT:987654", orderID)
	}

	order, err := adapter.GetOrder(ctx, orderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if queryPath == "" || queriedSymbol != "BTC-USDT" || queriedID != "987654" {
		t.Errorf("lookup sent symbol=%q id=%q, want split composite", queriedSymbol, queriedID)
	}
	if order.Status != exchange.StatusOpen {
		t.Errorf("status = %s, want open", order.Status)
	}
}

func TestMalformedOrderIDIsProtocolViolation(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("malformed id reached the network")
	}))

	_, err := adapter.GetOrder(context.Background(), "987654")
	var violation *exchange.ProtocolViolation
	if !errors.As(err, &violation) {
		t.Fatalf("got %v, want ProtocolViolation", err)
	}
}

func TestGetOrderStatusMapping(t *testing.T) {
	tests := []struct {
		exchangeStatus string
		want           exchange.OrderStatus
	}{
		{"NEW", exchange.StatusOpen},
		{"PENDING", exchange.StatusOpen},
		{"PARTIALLY_FILLED", exchange.StatusOpen},
		{"FILLED", exchange.StatusClosed},
		{"CANCELED", exchange.StatusCancelled},
		{"EXPIRED", exchange.StatusCancelled},
		{"FAILED", exchange.StatusFailed},
		{"REJECTED", exchange.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.exchangeStatus, func(t *testing.T) {
			adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprintf(w, `{"code":0,"msg":"","data":{"orderId":1,"symbol":"BTC-USDT",
					"price":"25000","origQty":"0.001","executedQty":"0","cummulativeQuoteQty":"0",
					"status":%q,"type":"LIMIT","side":"BUY"}}`, tt.exchangeStatus)
			}))

			order, err := adapter.GetOrder(context.Background(), "BTC-USDT:1")
			if err != nil {
				t.Fatalf("GetOrder: %v", err)
			}
			if order.Status != tt.want {
				t.Errorf("status = %s, want %s", order.Status, tt.want)
			}
		})
	}
}

func TestGetOrderUnknownStatusIsProtocolViolation(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"msg":"","data":{"orderId":1,"symbol":"BTC-USDT",
			"price":"0","origQty":"0","executedQty":"0","cummulativeQuoteQty":"0",
			"status":"HALTED","type":"LIMIT","side":"BUY"}}`))
	}))

	_, err := adapter.GetOrder(context.Background(), "BTC-USDT:1")
	var violation *exchange.ProtocolViolation
	if !errors.As(err, &violation) {
		t.Fatalf("got %v, want ProtocolViolation", err)
	}
}

func TestGetOrderPriceBackfill(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/openApi/spot/v1/common/symbols" {
			w.Write([]byte(symbolsResponse))
			return
		}
		w.Write([]byte(`{"code":0,"msg":"","data":{"orderId":1,"symbol":"BTC-USDT",
			"price":"0","origQty":"0.002","executedQty":"0.002","cummulativeQuoteQty":"50",
			"status":"FILLED","type":"MARKET","side":"BUY"}}`))
	}))

	order, err := adapter.GetOrder(context.Background(), "BTC-USDT:1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.Price == nil {
		t.Fatal("price not backfilled")
	}
	if order.Price.String() != "25000" {
		t.Errorf("backfilled price = %s, want 25000", order.Price)
	}
}

func TestGetCandlesPagination(t *testing.T) {
	const startMs = int64(1700000000000)
	var startParams []string

	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startParams = append(startParams, r.URL.Query().Get("startTime"))
		startTime, _ := strconv.ParseInt(r.URL.Query().Get("startTime"), 10, 64)

		count := klinePageLimit
		if startTime > startMs {
			count = 2
		}
		rows := make([][]json.Number, 0, count)
		for i := 0; i < count; i++ {
			ts := startTime + int64(i)*60000
			rows = append(rows, []json.Number{
				json.Number(strconv.FormatInt(ts, 10)), "100", "110", "90", "105", "12.5",
			})
		}
		data, _ := json.Marshal(rows)
		fmt.Fprintf(w, `{"code":0,"msg":"","data":%s}`, data)
	}))

	ticker := exchange.Ticker{Symbol: "BTC-USDT"}
	candles, err := adapter.GetCandles(context.Background(), ticker, time.UnixMilli(startMs), time.Minute)
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}

	if len(candles) != klinePageLimit+2 {
		t.Errorf("got %d candles, want %d", len(candles), klinePageLimit+2)
	}
	if len(startParams) != 2 {
		t.Fatalf("made %d requests, want 2", len(startParams))
	}

	// The second page starts one millisecond after the last candle seen.
	lastFirstPage := startMs + int64(klinePageLimit-1)*60000
	if want := strconv.FormatInt(lastFirstPage+1, 10); startParams[1] != want {
		t.Errorf("second page startTime = %s, want %s", startParams[1], want)
	}
}

func TestGetAPIKeyValidity(t *testing.T) {
	t.Run("rejected key", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code":100413,"msg":"Invalid Api-Key ID","data":null}`))
		}))
		valid, err := adapter.GetAPIKeyValidity(context.Background())
		if err != nil {
			t.Errorf("explicit rejection must not be an error: %v", err)
		}
		if valid {
			t.Error("rejected key reported valid")
		}
	})

	t.Run("unreachable exchange", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("bad gateway"))
		}))
		valid, err := adapter.GetAPIKeyValidity(context.Background())
		if err == nil || valid {
			t.Errorf("got (%v, %v), want (false, err)", valid, err)
		}
	})
}

func TestFetchWithdrawalFeesHonorsDefaultFlag(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":0,"msg":"","data":[
			{"coin":"USDT","networkList":[
				{"network":"ERC20","withdrawFee":5,"isDefault":false},
				{"network":"TRC20","withdrawFee":1,"isDefault":true}
			]},
			{"coin":"BTC","networkList":[
				{"network":"BTC","withdrawFee":0.0005,"isDefault":false},
				{"network":"BEP20","withdrawFee":0.00001,"isDefault":false}
			]}
		]}`))
	}))

	fees, err := adapter.FetchWithdrawalFees(context.Background())
	if err != nil {
		t.Fatalf("FetchWithdrawalFees: %v", err)
	}

	usdt := fees["USDT"]
	if usdt.DefaultFee.String() != "1" {
		t.Errorf("USDT default fee = %s, want the flagged TRC20 fee 1", usdt.DefaultFee)
	}
	if usdt.Chains[0].IsDefault || !usdt.Chains[1].IsDefault {
		t.Errorf("USDT chain defaults wrong: %+v", usdt.Chains)
	}

	// No flagged entry: first network is the default.
	btc := fees["BTC"]
	if btc.DefaultFee.String() != "0.0005" || !btc.Chains[0].IsDefault {
		t.Errorf("BTC default fallback wrong: fee %s chains %+v", btc.DefaultFee, btc.Chains)
	}
}

func TestMarketBuyQuoteDenominated(t *testing.T) {
	var gotQuery map[string]string
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for key, values := range r.URL.Query() {
			gotQuery[key] = values[0]
		}
		w.Write([]byte(`{"code":0,"msg":"","data":{"orderId":42}}`))
	}))

	ticker := exchange.Ticker{Symbol: "BTC-USDT", BaseDecimals: 4, QuoteDecimals: 2}
	orderID, err := adapter.MarketBuy(context.Background(), ticker, dec("50.999"), exchange.AmountQuote)
	if err != nil {
		t.Fatalf("MarketBuy: %v", err)
	}
	if orderID != "BTC-USDT:42" {
		t.Errorf("order id = %q", orderID)
	}
	if gotQuery["quoteOrderQty"] != "50.99" {
		t.Errorf("quoteOrderQty = %q, want truncated 50.99", gotQuery["quoteOrderQty"])
	}
	if _, ok := gotQuery["quantity"]; ok {
		t.Error("quote order carried a base quantity")
	}
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}
