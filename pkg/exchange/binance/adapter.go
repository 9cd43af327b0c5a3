package binance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/zeromicro/go-zero/core/logx"

	"perpexec/pkg/exchange"
)

const (
	testnetBaseURL = "https://testnet.binancefuture.com"

	quantityPlaces   = 6
	pricePlaces      = 8
	entryNotAccepted = "Binance futures entry order was not accepted; see raw payload for details."
	closeNotAccepted = "Binance futures close order was not accepted; see raw payload for details."

	reduceOnlyRejectCode = "-1106"
)

var failedStatuses = map[string]struct{}{
	"REJECTED":  {},
	"EXPIRED":   {},
	"CANCELED":  {},
	"CANCELLED": {},
	"ERROR":     {},
}

// Adapter places USDⓈ-M futures market orders in hedge mode.
type Adapter struct {
	client *futures.Client
}

// NewAdapter wraps a configured futures client.
func NewAdapter(client *futures.Client) *Adapter {
	return &Adapter{client: client}
}

func init() {
	exchange.Register(exchange.BackendBinance, func(cfg *exchange.BackendConfig) (exchange.Client, error) {
		if cfg.APIKey == "" || cfg.APISecret == "" {
			return nil, fmt.Errorf("binance futures: api_key/api_secret: %w", exchange.ErrMissingCredentials)
		}
		client := futures.NewClient(cfg.APIKey, cfg.APISecret)
		switch {
		case cfg.BaseURL != "":
			client.BaseURL = cfg.BaseURL
		case cfg.Testnet:
			client.BaseURL = testnetBaseURL
		}
		client.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		return NewAdapter(client), nil
	})
}

// Symbol maps a coin to its USDT-margined perpetual.
func Symbol(coin string) string {
	return strings.ToUpper(strings.TrimSpace(coin)) + "USDT"
}

// Backend implements exchange.Client.
func (a *Adapter) Backend() string { return exchange.BackendBinance }

// PlaceEntry implements exchange.Client. Protective orders are not attached;
// stop-loss and take-profit are enforced by the local monitor.
func (a *Adapter) PlaceEntry(ctx context.Context, req exchange.EntryRequest) (res exchange.EntryResult) {
	defer exchange.RecoverEntry(exchange.BackendBinance, &res)
	res.Backend = exchange.BackendBinance

	symbol := Symbol(req.Coin)
	qty, ok := exchange.FormatQuantity(req.Size, quantityPlaces)
	if !ok {
		res.Errors = []string{"entry: quantity must be positive"}
		return res
	}

	lev := int(math.Max(1, math.Round(req.Leverage)))
	if _, err := a.client.NewChangeLeverageService().Symbol(symbol).Leverage(lev).Do(ctx); err != nil {
		logx.WithContext(ctx).Infof("binance futures: %s set leverage %dx failed, continuing: %v", symbol, lev, err)
	}

	side := futures.SideTypeSell
	if req.Side.IsBuy() {
		side = futures.SideTypeBuy
	}
	resp, err := a.marketOrder(symbol, side, positionSide(req.Side), qty, false).Do(ctx)

	var errs exchange.ErrorList
	collect(&errs, "entry", resp, err)
	res.Extra = map[string]any{"symbol": symbol, "quantity": qty, "leverage": lev}
	if resp != nil {
		res.Raw = resp
		res.EntryOID = strconv.FormatInt(resp.OrderID, 10)
	} else if err != nil {
		res.Raw = map[string]any{"error": err.Error()}
	}
	res.Success = resp != nil && errs.Len() == 0
	if !res.Success && errs.Len() == 0 {
		errs.Add(entryNotAccepted)
	}
	res.Errors = errs.Items()
	return res
}

// ClosePosition implements exchange.Client. The order is reduce-only; when the
// account mode rejects the flag it is retried once without it.
func (a *Adapter) ClosePosition(ctx context.Context, req exchange.CloseRequest) (res exchange.CloseResult) {
	defer exchange.RecoverClose(exchange.BackendBinance, &res)
	if req.Size <= 0 {
		return exchange.NoopClose(exchange.BackendBinance)
	}
	res.Backend = exchange.BackendBinance

	symbol := Symbol(req.Coin)
	qty, ok := exchange.FormatQuantity(req.Size, quantityPlaces)
	if !ok {
		return exchange.NoopClose(exchange.BackendBinance)
	}
	side := futures.SideTypeBuy
	if req.Side.IsBuy() {
		side = futures.SideTypeSell
	}
	ps := positionSide(req.Side)
	res.Extra = map[string]any{"symbol": symbol, "quantity": qty}

	resp, err := a.marketOrder(symbol, side, ps, qty, true).Do(ctx)
	if err != nil && isReduceOnlyRejection(err) {
		logx.WithContext(ctx).Infof("binance futures: %s rejected reduceOnly, retrying without it: %v", symbol, err)
		res.Extra["reduce_only_retry"] = true
		resp, err = a.marketOrder(symbol, side, ps, qty, false).Do(ctx)
	}

	var errs exchange.ErrorList
	collect(&errs, "close", resp, err)
	if resp != nil {
		res.Raw = resp
		res.CloseOID = strconv.FormatInt(resp.OrderID, 10)
	} else if err != nil {
		res.Raw = map[string]any{"error": err.Error()}
	}
	res.Success = resp != nil && errs.Len() == 0
	if !res.Success && errs.Len() == 0 {
		errs.Add(closeNotAccepted)
	}
	res.Errors = errs.Items()
	return res
}

// UpdateTPSL replaces resting stop-market and take-profit-market orders for
// the position side with new close-position triggers.
func (a *Adapter) UpdateTPSL(ctx context.Context, req exchange.TPSLRequest) (res exchange.TPSLResult) {
	defer exchange.RecoverTPSL(exchange.BackendBinance, &res)
	res.Backend = exchange.BackendBinance
	if req.StopLoss == nil && req.TakeProfit == nil {
		res.Success = true
		res.Extra = map[string]any{"reason": "no SL/TP values provided"}
		return res
	}

	symbol := Symbol(req.Coin)
	ps := positionSide(req.Side)
	a.cancelTriggers(ctx, symbol, ps, req.StopLoss != nil, req.TakeProfit != nil)

	side := futures.SideTypeBuy
	if req.Side.IsBuy() {
		side = futures.SideTypeSell
	}
	var errs exchange.ErrorList
	raw := make(map[string]any, 2)
	place := func(label string, typ futures.OrderType, px float64) string {
		resp, err := a.client.NewCreateOrderService().
			Symbol(symbol).
			Side(side).
			PositionSide(ps).
			Type(typ).
			StopPrice(exchange.FormatDecimal(px, pricePlaces)).
			WorkingType(futures.WorkingTypeMarkPrice).
			ClosePosition(true).
			NewClientOrderID(uuid.NewString()).
			Do(ctx)
		collect(&errs, label, resp, err)
		if resp == nil {
			return ""
		}
		raw[label] = resp
		return strconv.FormatInt(resp.OrderID, 10)
	}
	requested, placed := 0, 0
	if req.StopLoss != nil {
		requested++
		if res.SLOID = place("stop_loss", futures.OrderTypeStopMarket, *req.StopLoss); res.SLOID != "" {
			placed++
		}
	}
	if req.TakeProfit != nil {
		requested++
		if res.TPOID = place("take_profit", futures.OrderTypeTakeProfitMarket, *req.TakeProfit); res.TPOID != "" {
			placed++
		}
	}
	res.Raw = raw
	res.Success = placed == requested && errs.Len() == 0
	if !res.Success && errs.Len() == 0 {
		errs.Add("Binance futures TP/SL update was not accepted; see raw payload for details.")
	}
	res.Errors = errs.Items()
	return res
}

func (a *Adapter) cancelTriggers(ctx context.Context, symbol string, ps futures.PositionSideType, sl, tp bool) {
	orders, err := a.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		logx.WithContext(ctx).Errorf("binance futures: list open orders for %s: %v", symbol, err)
		return
	}
	for _, o := range orders {
		if o.PositionSide != ps {
			continue
		}
		replace := (sl && o.Type == futures.OrderTypeStopMarket) || (tp && o.Type == futures.OrderTypeTakeProfitMarket)
		if !replace {
			continue
		}
		if _, err := a.client.NewCancelOrderService().Symbol(symbol).OrderID(o.OrderID).Do(ctx); err != nil {
			logx.WithContext(ctx).Errorf("binance futures: cancel %s order %d: %v", symbol, o.OrderID, err)
		}
	}
}

func (a *Adapter) marketOrder(symbol string, side futures.SideType, ps futures.PositionSideType, qty string, reduceOnly bool) *futures.CreateOrderService {
	svc := a.client.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		PositionSide(ps).
		Type(futures.OrderTypeMarket).
		Quantity(qty).
		NewClientOrderID(uuid.NewString())
	if reduceOnly {
		svc = svc.ReduceOnly(true)
	}
	return svc
}

func positionSide(side exchange.Side) futures.PositionSideType {
	if side == exchange.SideShort {
		return futures.PositionSideTypeShort
	}
	return futures.PositionSideTypeLong
}

func isReduceOnlyRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, reduceOnlyRejectCode) && strings.Contains(msg, "reduceonly")
}

func collect(errs *exchange.ErrorList, label string, resp *futures.CreateOrderResponse, err error) {
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) {
			errs.Labelled(label, fmt.Sprintf("%d %s", apiErr.Code, apiErr.Message))
		} else {
			errs.Labelled(label, err.Error())
		}
		return
	}
	if resp == nil {
		return
	}
	if _, bad := failedStatuses[strings.ToUpper(string(resp.Status))]; bad {
		errs.Labelled(label, "status="+string(resp.Status))
	}
}
