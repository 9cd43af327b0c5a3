package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/zeromicro/go-zero/core/logx"

	"perpexec/pkg/exchange"
)

const (
	priceSigFigs     = 5
	maxPerpDecimals  = 6
	entryNotAccepted = "Hyperliquid order was not accepted; see raw payload for details."
	closeNotAccepted = "Hyperliquid close order was not accepted; see raw payload for details."
)

// Adapter exposes Client through the exchange.Client contract. Entries are
// submitted as one bracket: an IOC entry plus reduce-only stop-loss and
// take-profit triggers grouped with normalTpsl.
type Adapter struct {
	client *Client
}

// NewAdapter wraps an existing client.
func NewAdapter(client *Client) *Adapter {
	return &Adapter{client: client}
}

func init() {
	exchange.Register(exchange.BackendHyperliquid, func(cfg *exchange.BackendConfig) (exchange.Client, error) {
		if cfg.PrivateKey == "" {
			return nil, fmt.Errorf("hyperliquid: private_key: %w", exchange.ErrMissingCredentials)
		}
		opts := []ClientOption{
			WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			WithSlippage(cfg.Slippage),
		}
		if cfg.VaultAddress != "" {
			opts = append(opts, WithVaultAddress(cfg.VaultAddress))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		client, err := NewClient(cfg.PrivateKey, cfg.Testnet, opts...)
		if err != nil {
			return nil, err
		}
		return NewAdapter(client), nil
	})
}

// Backend implements exchange.Client.
func (a *Adapter) Backend() string { return exchange.BackendHyperliquid }

// PlaceEntry implements exchange.Client.
func (a *Adapter) PlaceEntry(ctx context.Context, req exchange.EntryRequest) (res exchange.EntryResult) {
	defer exchange.RecoverEntry(exchange.BackendHyperliquid, &res)
	res.Backend = exchange.BackendHyperliquid

	var errs exchange.ErrorList
	info, err := a.client.AssetInfo(ctx, req.Coin)
	if err != nil {
		errs.Labelled("entry", "asset lookup: "+err.Error())
		res.Errors = errs.Items()
		return res
	}
	szDecimals := int32(min(info.SzDecimals, maxPerpDecimals))
	size, ok := exchange.FormatQuantity(req.Size, szDecimals)
	if !ok {
		res.Errors = []string{"entry: quantity must be positive"}
		return res
	}

	lev := int(math.Round(req.Leverage))
	if err := a.client.UpdateLeverage(ctx, info.Index, true, lev); err != nil {
		logx.WithContext(ctx).Infof("hyperliquid: %s set leverage %dx failed, continuing: %v", info.Name, lev, err)
	}

	pxDecimals := int32(maxPerpDecimals) - szDecimals
	isBuy := req.Side.IsBuy()
	entryPx := exchange.FormatPrice(a.marketable(req.EntryPrice, isBuy), priceSigFigs, pxDecimals)
	orders := []orderPayload{{
		Asset:     info.Index,
		IsBuy:     isBuy,
		LimitPx:   entryPx,
		Sz:        size,
		OrderType: orderTypePayload{Limit: &limitOrderPayload{TIF: tifIOC}},
	}}
	labels := []string{"entry"}
	if req.StopLossPrice > 0 {
		orders = append(orders, a.triggerOrder(info.Index, !isBuy, size, req.StopLossPrice, "sl", pxDecimals))
		labels = append(labels, "stop_loss")
	}
	if req.TakeProfitPrice > 0 {
		orders = append(orders, a.triggerOrder(info.Index, !isBuy, size, req.TakeProfitPrice, "tp", pxDecimals))
		labels = append(labels, "take_profit")
	}
	grouping := groupingNone
	if len(orders) > 1 {
		grouping = groupingNormalTpsl
	}

	res.Extra = map[string]any{"asset": info.Index, "size": size, "limit_px": entryPx, "grouping": grouping}
	body, err := a.client.submitOrders(ctx, orders, grouping)
	res.Raw = rawPayload(body)
	if err != nil {
		errs.Labelled("entry", err.Error())
		res.Errors = errs.Items()
		return res
	}

	accepted, oids := inspectResponse(body, labels, &errs)
	for i, label := range labels {
		switch label {
		case "entry":
			res.EntryOID = oids[i]
		case "stop_loss":
			res.SLOID = oids[i]
		case "take_profit":
			res.TPOID = oids[i]
		}
	}
	res.Success = accepted && errs.Len() == 0
	if !res.Success && errs.Len() == 0 {
		errs.Add(entryNotAccepted)
	}
	res.Errors = errs.Items()
	return res
}

// ClosePosition implements exchange.Client.
func (a *Adapter) ClosePosition(ctx context.Context, req exchange.CloseRequest) (res exchange.CloseResult) {
	defer exchange.RecoverClose(exchange.BackendHyperliquid, &res)
	if req.Size <= 0 {
		return exchange.NoopClose(exchange.BackendHyperliquid)
	}
	res.Backend = exchange.BackendHyperliquid

	var errs exchange.ErrorList
	info, err := a.client.AssetInfo(ctx, req.Coin)
	if err != nil {
		errs.Labelled("close", "asset lookup: "+err.Error())
		res.Errors = errs.Items()
		return res
	}
	szDecimals := int32(min(info.SzDecimals, maxPerpDecimals))
	size, ok := exchange.FormatQuantity(req.Size, szDecimals)
	if !ok {
		return exchange.NoopClose(exchange.BackendHyperliquid)
	}
	isBuy := !req.Side.IsBuy()
	px := exchange.FormatPrice(a.marketable(req.FallbackPrice, isBuy), priceSigFigs, int32(maxPerpDecimals)-szDecimals)
	order := orderPayload{
		Asset:      info.Index,
		IsBuy:      isBuy,
		LimitPx:    px,
		Sz:         size,
		ReduceOnly: true,
		OrderType:  orderTypePayload{Limit: &limitOrderPayload{TIF: tifIOC}},
	}
	res.Extra = map[string]any{"asset": info.Index, "size": size, "limit_px": px}
	body, err := a.client.submitOrders(ctx, []orderPayload{order}, groupingNone)
	res.Raw = rawPayload(body)
	if err != nil {
		errs.Labelled("close", err.Error())
		res.Errors = errs.Items()
		return res
	}
	accepted, oids := inspectResponse(body, []string{"close"}, &errs)
	res.CloseOID = oids[0]
	res.Success = accepted && errs.Len() == 0
	if !res.Success && errs.Len() == 0 {
		errs.Add(closeNotAccepted)
	}
	res.Errors = errs.Items()
	return res
}

func (a *Adapter) marketable(px float64, isBuy bool) float64 {
	if isBuy {
		return px * (1 + a.client.slippage)
	}
	return px * (1 - a.client.slippage)
}

func (a *Adapter) triggerOrder(asset int, isBuy bool, size string, trigger float64, tpsl string, pxDecimals int32) orderPayload {
	triggerPx := exchange.FormatPrice(trigger, priceSigFigs, pxDecimals)
	return orderPayload{
		Asset:      asset,
		IsBuy:      isBuy,
		LimitPx:    exchange.FormatPrice(a.marketable(trigger, isBuy), priceSigFigs, pxDecimals),
		Sz:         size,
		ReduceOnly: true,
		OrderType: orderTypePayload{Trigger: &triggerOrderPayload{
			IsMarket:  true,
			TriggerPx: triggerPx,
			Tpsl:      tpsl,
		}},
	}
}

// inspectResponse walks the nested per-order statuses. It reports whether the
// envelope status was ok and returns one oid slot per label.
func inspectResponse(body []byte, labels []string, errs *exchange.ErrorList) (bool, []string) {
	oids := make([]string, len(labels))
	if !gjson.ValidBytes(body) {
		errs.Labelled(labels[0], "non-JSON response: "+strings.TrimSpace(string(body)))
		return false, oids
	}
	root := gjson.ParseBytes(body)
	accepted := strings.EqualFold(root.Get("status").String(), "ok")
	if resp := root.Get("response"); !accepted && resp.Type == gjson.String {
		errs.Labelled(labels[0], resp.String())
	}
	for _, key := range []string{"exception", "message"} {
		if v := root.Get(key); v.Exists() {
			errs.Labelled(labels[0], v.String())
		}
	}

	statuses := root.Get("response.data.statuses")
	if !statuses.Exists() {
		statuses = root.Get("statuses")
	}
	for i, st := range statuses.Array() {
		label := fmt.Sprintf("order[%d]", i)
		if i < len(labels) {
			label = labels[i]
		}
		switch {
		case st.Type == gjson.String:
			if !okStatus(st.String()) {
				errs.Labelled(label, "status="+st.String())
			}
		case st.Get("error").Exists():
			errs.Labelled(label, st.Get("error").String())
		default:
			if s := st.Get("status"); s.Exists() && !okStatus(s.String()) {
				errs.Labelled(label, "status="+s.String())
			}
			oid := st.Get("resting.oid")
			if !oid.Exists() {
				oid = st.Get("filled.oid")
			}
			if oid.Exists() && i < len(oids) {
				oids[i] = oid.String()
			}
		}
	}
	return accepted, oids
}

func okStatus(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ok", "success", "waitingforfill", "waitingfortrigger":
		return true
	}
	return false
}

func rawPayload(body []byte) any {
	if len(body) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return string(body)
	}
	return v
}
