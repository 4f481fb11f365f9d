package bitmart

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

const symbolsResponse = `{"code":1000,"message":"OK","data":{"symbols":[
	{"symbol":"BTC_USDT","base_currency":"BTC","quote_currency":"USDT",
	 "base_min_size":"0.0001","min_buy_amount":"5","quote_increment":"0.01",
	 "price_max_precision":2,"trade_status":"trading"},
	{"symbol":"DOGE_USDT","base_currency":"DOGE","quote_currency":"USDT",
	 "base_min_size":"1","min_buy_amount":"5","quote_increment":"0.0001",
	 "price_max_precision":6,"trade_status":"pre-trade"}
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
	if btc.Symbol != "BTC_USDT" || btc.BaseAsset != "BTC" || btc.QuoteAsset != "USDT" {
		t.Errorf("unexpected ticker identity: %+v", btc)
	}
	if btc.BaseDecimals != 4 {
		t.Errorf("base decimals = %d, want 4 (from increment 0.0001)", btc.BaseDecimals)
	}
	if btc.QuoteDecimals != 2 {
		t.Errorf("quote decimals = %d, want 2 (from increment 0.01)", btc.QuoteDecimals)
	}
	if btc.PriceDecimals != 2 {
		t.Errorf("price decimals = %d, want 2", btc.PriceDecimals)
	}
	if !btc.Available {
		t.Error("trading pair not marked available")
	}
	if tickers[1].Available {
		t.Error("pre-trade pair marked available")
	}
}

func TestGetTickersInfoCached(t *testing.T) {
	calls := 0
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(symbolsResponse))
	}))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := adapter.GetTickersInfo(ctx, false); err != nil {
			t.Fatal(err)
		}
	}
	if calls != 1 {
		t.Errorf("network hit %d times, want 1", calls)
	}

	if _, err := adapter.GetTickersInfo(ctx, true); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("force did not bypass cache: %d calls", calls)
	}
}

func orderResponse(order orderData) string {
	data, _ := json.Marshal(order)
	return fmt.Sprintf(`{"code":1000,"message":"OK","data":%s}`, data)
}

func TestGetOrderStatusMapping(t *testing.T) {
	tests := []struct {
		exchangeStatus string
		want           exchange.OrderStatus
	}{
		{"new", exchange.StatusOpen},
		{"partially_filled", exchange.StatusOpen},
		{"filled", exchange.StatusClosed},
		{"canceled", exchange.StatusCancelled},
		{"expired", exchange.StatusCancelled},
		{"partially_canceled", exchange.StatusCancelled},
		{"rejected", exchange.StatusFailed},
		{"failed", exchange.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.exchangeStatus, func(t *testing.T) {
			adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(orderResponse(orderData{
					Symbol: "BTC_USDT", Side: "buy", Type: "limit",
					Status: tt.exchangeStatus, Price: "25000", Size: "0.001",
				})))
			}))

			order, err := adapter.GetOrder(context.Background(), "12345")
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
		w.Write([]byte(orderResponse(orderData{
			Symbol: "BTC_USDT", Side: "buy", Type: "limit", Status: "limbo",
		})))
	}))

	_, err := adapter.GetOrder(context.Background(), "12345")
	var violation *exchange.ProtocolViolation
	if !errors.As(err, &violation) {
		t.Fatalf("got %v, want ProtocolViolation", err)
	}
}

func TestGetOrderPriceBackfill(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/spot/v1/symbols/details" {
			w.Write([]byte(symbolsResponse))
			return
		}
		// Market fills report executed amounts but no price.
		w.Write([]byte(orderResponse(orderData{
			Symbol: "BTC_USDT", Side: "buy", Type: "market", Status: "filled",
			Price: "", FilledSize: "0.002", FilledNotional: "50",
		})))
	}))

	order, err := adapter.GetOrder(context.Background(), "12345")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if order.Price == nil {
		t.Fatal("price not backfilled")
	}
	// 50 / 0.002 = 25000, rounded to the pair's 2 price decimals.
	if order.Price.String() != "25000" {
		t.Errorf("backfilled price = %s, want 25000", order.Price)
	}
}

func TestGetCandlesPagination(t *testing.T) {
	const start = int64(1700000000)
	var afterParams []string

	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		afterParams = append(afterParams, r.URL.Query().Get("after"))
		after, _ := strconv.ParseInt(r.URL.Query().Get("after"), 10, 64)

		var rows [][]string
		count := klinePageLimit
		if after > start {
			count = 3 // short page ends the sequence
		}
		for i := 0; i < count; i++ {
			ts := after + int64(i)*60
			rows = append(rows, []string{
				strconv.FormatInt(ts, 10), "100", "110", "90", "105", "12.5",
			})
		}
		data, _ := json.Marshal(rows)
		fmt.Fprintf(w, `{"code":1000,"message":"OK","data":%s}`, data)
	}))

	ticker := exchange.Ticker{Symbol: "BTC_USDT"}
	candles, err := adapter.GetCandles(context.Background(), ticker, time.Unix(start, 0), time.Minute)
	if err != nil {
		t.Fatalf("GetCandles: %v", err)
	}

	if len(candles) != klinePageLimit+3 {
		t.Errorf("got %d candles, want %d", len(candles), klinePageLimit+3)
	}
	if len(afterParams) != 2 {
		t.Fatalf("made %d requests, want 2", len(afterParams))
	}

	// The second page starts one second after the last candle of the first.
	lastFirstPage := start + int64(klinePageLimit-1)*60
	wantAfter := strconv.FormatInt(lastFirstPage+1, 10)
	if afterParams[1] != wantAfter {
		t.Errorf("second page after = %s, want %s", afterParams[1], wantAfter)
	}

	for i := 1; i < len(candles); i++ {
		if !candles[i].Time.After(candles[i-1].Time) {
			t.Fatalf("candles out of order at %d", i)
		}
	}
}

func TestGetCandlesPageFailureAbortsSequence(t *testing.T) {
	requests := 0
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests > 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var rows [][]string
		for i := 0; i < klinePageLimit; i++ {
			rows = append(rows, []string{strconv.Itoa(1700000000 + i*60), "1", "1", "1", "1", "1"})
		}
		data, _ := json.Marshal(rows)
		fmt.Fprintf(w, `{"code":1000,"message":"OK","data":%s}`, data)
	}))

	candles, err := adapter.GetCandles(context.Background(), exchange.Ticker{Symbol: "BTC_USDT"}, time.Unix(1700000000, 0), time.Minute)
	if err == nil {
		t.Fatal("expected error from failed second page")
	}
	if candles != nil {
		t.Errorf("partial candle set returned alongside error: %d candles", len(candles))
	}
}

func TestMarketBuyInsufficientFunds(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":50020,"message":"Balance not enough","data":{}}`))
	}))

	ticker := exchange.Ticker{Symbol: "BTC_USDT", QuoteDecimals: 2}
	_, err := adapter.MarketBuy(context.Background(), ticker, mustDecimal(t, "50"), exchange.AmountQuote)

	var reported *exchange.ExchangeReportedError
	if !errors.As(err, &reported) {
		t.Fatalf("got %v, want ExchangeReportedError", err)
	}
	if reported.Message != "Balance not enough" {
		t.Errorf("message = %q, want the raw exchange message", reported.Message)
	}
}

func TestCancelOrderResolvesSymbolFirst(t *testing.T) {
	var cancelBody map[string]string
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/spot/v4/query/order":
			w.Write([]byte(orderResponse(orderData{
				Symbol: "BTC_USDT", Side: "buy", Type: "limit", Status: "new", Price: "20000", Size: "0.001",
			})))
		case "/spot/v3/cancel_order":
			json.NewDecoder(r.Body).Decode(&cancelBody)
			w.Write([]byte(`{"code":1000,"message":"OK","data":{"result":true}}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	if err := adapter.CancelOrder(context.Background(), "12345"); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if cancelBody["symbol"] != "BTC_USDT" || cancelBody["order_id"] != "12345" {
		t.Errorf("cancel body = %v, want resolved symbol and id", cancelBody)
	}
}

func TestGetAPIKeyValidity(t *testing.T) {
	t.Run("valid key", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"code":1000,"message":"OK","data":{"wallet":[]}}`))
		}))
		valid, err := adapter.GetAPIKeyValidity(context.Background())
		if err != nil || !valid {
			t.Errorf("got (%v, %v), want (true, nil)", valid, err)
		}
	})

	t.Run("rejected key", func(t *testing.T) {
		adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":30001,"message":"Invalid ACCESS_KEY"}`))
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
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("upstream timeout"))
		}))
		valid, err := adapter.GetAPIKeyValidity(context.Background())
		if err == nil {
			t.Error("outage must surface as an error, not a validity verdict")
		}
		if valid {
			t.Error("unreachable exchange reported valid")
		}
	})
}

func TestWithdrawPassthrough(t *testing.T) {
	var body WithdrawParams
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		w.Write([]byte(`{"code":1000,"message":"OK","data":{"withdraw_id":"121212"}}`))
	}))

	id, err := adapter.Withdraw(context.Background(), exchange.WithdrawRequest{
		Asset:      "XLM",
		Amount:     mustDecimal(t, "25"),
		Address:    "GEXAMPLE",
		Network:    "Stellar Lumens",
		AddressTag: "memo-123",
	})
	if err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if id != "121212" {
		t.Errorf("withdrawal id = %q, want 121212", id)
	}
	if body.Destination != "To Address" {
		t.Errorf("destination = %q, want \"To Address\"", body.Destination)
	}
	if body.Network != "Stellar Lumens" || body.AddressMemo != "memo-123" {
		t.Errorf("network/memo not passed through: %+v", body)
	}
}

func TestFetchWithdrawalFeesFirstNetworkIsDefault(t *testing.T) {
	adapter := newTestAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":1000,"message":"OK","data":{"currencies":[
			{"currency":"BTC","network":[
				{"network":"BTC","withdraw_minfee":"0.0005"},
				{"network":"BEP20","withdraw_minfee":"0.00001"}
			]},
			{"currency":"DELISTED","network":[]}
		]}}`))
	}))

	fees, err := adapter.FetchWithdrawalFees(context.Background())
	if err != nil {
		t.Fatalf("FetchWithdrawalFees: %v", err)
	}

	btc, ok := fees["BTC"]
	if !ok {
		t.Fatal("BTC missing from fee dataset")
	}
	if btc.DefaultFee.String() != "0.0005" {
		t.Errorf("default fee = %s, want first network's 0.0005", btc.DefaultFee)
	}
	if len(btc.Chains) != 2 || !btc.Chains[0].IsDefault || btc.Chains[1].IsDefault {
		t.Errorf("chain defaults wrong: %+v", btc.Chains)
	}
	if _, ok := fees["DELISTED"]; ok {
		t.Error("asset without networks included in dataset")
	}
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatal(err)
	}
	return d
}
