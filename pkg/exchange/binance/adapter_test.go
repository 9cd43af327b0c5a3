package binance

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpexec/pkg/exchange"
)

type orderReply struct {
	status int
	body   string
}

type fakeFutures struct {
	mu           sync.Mutex
	orderReplies []orderReply
	orders       []url.Values
	leverage     []url.Values
	leverageFail bool
	openOrders   string
	cancels      int
}

func (f *fakeFutures) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.URL.Path == "/fapi/v1/leverage":
			f.leverage = append(f.leverage, r.Form)
			if f.leverageFail {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = io.WriteString(w, `{"code":-4028,"msg":"Leverage 300 is not valid"}`)
				return
			}
			_, _ = io.WriteString(w, `{"leverage":3,"maxNotionalValue":"1000000","symbol":"BTCUSDT"}`)
		case r.URL.Path == "/fapi/v1/order" && r.Method == http.MethodPost:
			f.orders = append(f.orders, r.Form)
			reply := orderReply{body: `{"orderId":1,"status":"NEW"}`}
			if len(f.orderReplies) > 0 {
				reply, f.orderReplies = f.orderReplies[0], f.orderReplies[1:]
			}
			if reply.status != 0 {
				w.WriteHeader(reply.status)
			}
			_, _ = io.WriteString(w, reply.body)
		case r.URL.Path == "/fapi/v1/order" && r.Method == http.MethodDelete:
			f.cancels++
			_, _ = io.WriteString(w, `{"orderId":9,"status":"CANCELED"}`)
		case r.URL.Path == "/fapi/v1/openOrders":
			body := f.openOrders
			if body == "" {
				body = "[]"
			}
			_, _ = io.WriteString(w, body)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func newTestAdapter(t *testing.T, f *fakeFutures) *Adapter {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	client := futures.NewClient("key", "secret")
	client.BaseURL = srv.URL
	client.HTTPClient = srv.Client()
	return NewAdapter(client)
}

func TestPlaceEntryMarketOrder(t *testing.T) {
	f := &fakeFutures{orderReplies: []orderReply{{body: `{"orderId":42,"status":"FILLED","avgPrice":"100.1","executedQty":"0.123457"}`}}}
	a := newTestAdapter(t, f)

	res := a.PlaceEntry(context.Background(), exchange.EntryRequest{
		Coin: "btc", Side: exchange.SideShort, Size: 0.1234567, EntryPrice: 100, Leverage: 2.6,
	})
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, "42", res.EntryOID)
	assert.Equal(t, exchange.BackendBinance, res.Backend)

	require.Len(t, f.leverage, 1)
	assert.Equal(t, "3", f.leverage[0].Get("leverage"))
	require.Len(t, f.orders, 1)
	order := f.orders[0]
	assert.Equal(t, "BTCUSDT", order.Get("symbol"))
	assert.Equal(t, "SELL", order.Get("side"))
	assert.Equal(t, "SHORT", order.Get("positionSide"))
	assert.Equal(t, "MARKET", order.Get("type"))
	assert.Equal(t, "0.123457", order.Get("quantity"))
	assert.Empty(t, order.Get("reduceOnly"))
	assert.NotEmpty(t, order.Get("newClientOrderId"))
}

func TestPlaceEntryLeverageFailureIsNotFatal(t *testing.T) {
	f := &fakeFutures{leverageFail: true}
	a := newTestAdapter(t, f)
	res := a.PlaceEntry(context.Background(), exchange.EntryRequest{Coin: "ETH", Side: exchange.SideLong, Size: 1, Leverage: 300})
	assert.True(t, res.Success, "errors: %v", res.Errors)
	assert.Len(t, f.orders, 1)
}

func TestPlaceEntryFailures(t *testing.T) {
	tests := []struct {
		name  string
		reply orderReply
		want  []string
	}{
		{name: "api error", reply: orderReply{status: http.StatusBadRequest, body: `{"code":-2019,"msg":"Margin is insufficient."}`}, want: []string{"entry: -2019 Margin is insufficient."}},
		{name: "rejected status", reply: orderReply{body: `{"orderId":7,"status":"REJECTED"}`}, want: []string{"entry: status=REJECTED"}},
		{name: "expired status", reply: orderReply{body: `{"orderId":7,"status":"EXPIRED"}`}, want: []string{"entry: status=EXPIRED"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := newTestAdapter(t, &fakeFutures{orderReplies: []orderReply{tt.reply}})
			res := a.PlaceEntry(context.Background(), exchange.EntryRequest{Coin: "BTC", Side: exchange.SideLong, Size: 0.01, Leverage: 1})
			assert.False(t, res.Success)
			assert.Equal(t, tt.want, res.Errors)
			assert.NotNil(t, res.Raw)
		})
	}
}

func TestPlaceEntryRejectsZeroQuantity(t *testing.T) {
	f := &fakeFutures{}
	a := newTestAdapter(t, f)
	res := a.PlaceEntry(context.Background(), exchange.EntryRequest{Coin: "BTC", Side: exchange.SideLong, Size: 0.0000001})
	assert.False(t, res.Success)
	assert.Equal(t, []string{"entry: quantity must be positive"}, res.Errors)
	assert.Empty(t, f.orders)
}

func TestClosePositionReduceOnly(t *testing.T) {
	f := &fakeFutures{orderReplies: []orderReply{{body: `{"orderId":55,"status":"FILLED"}`}}}
	a := newTestAdapter(t, f)
	res := a.ClosePosition(context.Background(), exchange.CloseRequest{Coin: "SOL", Side: exchange.SideLong, Size: 3, FallbackPrice: 150})
	require.True(t, res.Success)
	assert.Equal(t, "55", res.CloseOID)
	require.Len(t, f.orders, 1)
	assert.Equal(t, "SELL", f.orders[0].Get("side"))
	assert.Equal(t, "LONG", f.orders[0].Get("positionSide"))
	assert.Equal(t, "true", f.orders[0].Get("reduceOnly"))
}

func TestClosePositionRetriesWithoutReduceOnly(t *testing.T) {
	f := &fakeFutures{orderReplies: []orderReply{
		{status: http.StatusBadRequest, body: `{"code":-1106,"msg":"Parameter 'reduceonly' sent when not required."}`},
		{body: `{"orderId":56,"status":"FILLED"}`},
	}}
	a := newTestAdapter(t, f)
	res := a.ClosePosition(context.Background(), exchange.CloseRequest{Coin: "SOL", Side: exchange.SideShort, Size: 3})
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, "56", res.CloseOID)
	assert.Equal(t, true, res.Extra["reduce_only_retry"])

	require.Len(t, f.orders, 2)
	assert.Equal(t, "true", f.orders[0].Get("reduceOnly"))
	assert.Empty(t, f.orders[1].Get("reduceOnly"))
	assert.Equal(t, "BUY", f.orders[1].Get("side"))
	assert.Equal(t, "SHORT", f.orders[1].Get("positionSide"))
}

func TestClosePositionRetryOnlyOnce(t *testing.T) {
	reject := orderReply{status: http.StatusBadRequest, body: `{"code":-1106,"msg":"Parameter 'reduceonly' sent when not required."}`}
	f := &fakeFutures{orderReplies: []orderReply{reject, reject, reject}}
	a := newTestAdapter(t, f)
	res := a.ClosePosition(context.Background(), exchange.CloseRequest{Coin: "SOL", Side: exchange.SideLong, Size: 1})
	assert.False(t, res.Success)
	assert.Equal(t, []string{"close: -1106 Parameter 'reduceonly' sent when not required."}, res.Errors)
	assert.Len(t, f.orders, 2)
}

func TestClosePositionOtherErrorsDoNotRetry(t *testing.T) {
	f := &fakeFutures{orderReplies: []orderReply{{status: http.StatusBadRequest, body: `{"code":-2022,"msg":"ReduceOnly Order is rejected."}`}}}
	a := newTestAdapter(t, f)
	res := a.ClosePosition(context.Background(), exchange.CloseRequest{Coin: "SOL", Side: exchange.SideLong, Size: 1})
	assert.False(t, res.Success)
	assert.Len(t, f.orders, 1)
}

func TestClosePositionNoSize(t *testing.T) {
	f := &fakeFutures{}
	a := newTestAdapter(t, f)
	res := a.ClosePosition(context.Background(), exchange.CloseRequest{Coin: "SOL", Side: exchange.SideLong, Size: -2})
	assert.True(t, res.Success)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "no position size to close", res.Extra["reason"])
	assert.Empty(t, f.orders)
}

func TestUpdateTPSL(t *testing.T) {
	f := &fakeFutures{
		openOrders: `[{"orderId":100,"symbol":"BTCUSDT","type":"STOP_MARKET","positionSide":"LONG"},{"orderId":101,"symbol":"BTCUSDT","type":"TAKE_PROFIT_MARKET","positionSide":"SHORT"},{"orderId":102,"symbol":"BTCUSDT","type":"LIMIT","positionSide":"LONG"}]`,
		orderReplies: []orderReply{
			{body: `{"orderId":200,"status":"NEW"}`},
			{body: `{"orderId":201,"status":"NEW"}`},
		},
	}
	a := newTestAdapter(t, f)
	sl, tp := 95.5, 120.0
	res := a.UpdateTPSL(context.Background(), exchange.TPSLRequest{Coin: "BTC", Side: exchange.SideLong, Size: 1, StopLoss: &sl, TakeProfit: &tp})
	require.True(t, res.Success, "errors: %v", res.Errors)
	assert.Equal(t, "200", res.SLOID)
	assert.Equal(t, "201", res.TPOID)
	assert.Equal(t, 1, f.cancels, "only the LONG stop order is replaced")

	require.Len(t, f.orders, 2)
	assert.Equal(t, "STOP_MARKET", f.orders[0].Get("type"))
	assert.Equal(t, "95.5", f.orders[0].Get("stopPrice"))
	assert.Equal(t, "SELL", f.orders[0].Get("side"))
	assert.Equal(t, "true", f.orders[0].Get("closePosition"))
	assert.Equal(t, "TAKE_PROFIT_MARKET", f.orders[1].Get("type"))
}

func TestUpdateTPSLPartialFailure(t *testing.T) {
	f := &fakeFutures{orderReplies: []orderReply{
		{status: http.StatusBadRequest, body: `{"code":-2021,"msg":"Order would immediately trigger."}`},
	}}
	a := newTestAdapter(t, f)
	sl := 99.0
	res := a.UpdateTPSL(context.Background(), exchange.TPSLRequest{Coin: "BTC", Side: exchange.SideLong, StopLoss: &sl})
	assert.False(t, res.Success)
	assert.Equal(t, []string{"stop_loss: -2021 Order would immediately trigger."}, res.Errors)
}

func TestUpdateTPSLNothingRequested(t *testing.T) {
	a := newTestAdapter(t, &fakeFutures{})
	res := a.UpdateTPSL(context.Background(), exchange.TPSLRequest{Coin: "BTC", Side: exchange.SideLong})
	assert.True(t, res.Success)
	assert.Equal(t, "no SL/TP values provided", res.Extra["reason"])
}

func TestRegistryRequiresKeys(t *testing.T) {
	_, err := exchange.New(exchange.BackendBinance, &exchange.BackendConfig{APIKey: "k"})
	assert.True(t, errors.Is(err, exchange.ErrMissingCredentials))

	c, err := exchange.New(exchange.BackendBinance, &exchange.BackendConfig{APIKey: "k", APISecret: "s", Testnet: true})
	require.NoError(t, err)
	_, ok := c.(exchange.TPSLUpdater)
	assert.True(t, ok)
}
