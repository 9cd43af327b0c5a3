package hyperliquid

import (
	"encoding/json"
	"fmt"
)

// Wire payloads. Field order matters: the action is msgpack-encoded in
// declaration order before hashing, so it must match what the venue rebuilds.

type orderAction struct {
	Type     string         `json:"type" msgpack:"type"`
	Orders   []orderPayload `json:"orders" msgpack:"orders"`
	Grouping string         `json:"grouping" msgpack:"grouping"`
}

type updateLeverageAction struct {
	Type     string `json:"type" msgpack:"type"`
	Asset    int    `json:"asset" msgpack:"asset"`
	IsCross  bool   `json:"isCross" msgpack:"isCross"`
	Leverage int    `json:"leverage" msgpack:"leverage"`
}

type orderPayload struct {
	Asset      int              `json:"a" msgpack:"a"`
	IsBuy      bool             `json:"b" msgpack:"b"`
	LimitPx    string           `json:"p" msgpack:"p"`
	Sz         string           `json:"s" msgpack:"s"`
	ReduceOnly bool             `json:"r" msgpack:"r"`
	OrderType  orderTypePayload `json:"t" msgpack:"t"`
	Cloid      string           `json:"c,omitempty" msgpack:"c,omitempty"`
}

type orderTypePayload struct {
	Limit   *limitOrderPayload   `json:"limit,omitempty" msgpack:"limit,omitempty"`
	Trigger *triggerOrderPayload `json:"trigger,omitempty" msgpack:"trigger,omitempty"`
}

type limitOrderPayload struct {
	TIF string `json:"tif" msgpack:"tif"`
}

type triggerOrderPayload struct {
	IsMarket  bool   `json:"isMarket" msgpack:"isMarket"`
	TriggerPx string `json:"triggerPx" msgpack:"triggerPx"`
	Tpsl      string `json:"tpsl" msgpack:"tpsl"`
}

const (
	groupingNone       = "na"
	groupingNormalTpsl = "normalTpsl"
	tifIOC             = "Ioc"
)

// exchangeRequest is the signed envelope posted to the exchange endpoint.
type exchangeRequest struct {
	Action       any       `json:"action"`
	Nonce        int64     `json:"nonce"`
	Signature    Signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress"`
}

// Signature holds the r/s/v components of an ECDSA signature.
type Signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

type metaAndAssetCtxsResponse struct {
	Universe  []assetUniverseEntry
	AssetCtxs []assetCtx
}

// UnmarshalJSON accepts the two-element array form returned by the info endpoint.
func (m *metaAndAssetCtxsResponse) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs decode: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs empty payload")
	}
	var meta struct {
		Universe []assetUniverseEntry `json:"universe"`
	}
	if err := json.Unmarshal(raw[0], &meta); err != nil {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs universe: %w", err)
	}
	m.Universe = meta.Universe
	if len(raw) > 1 {
		if err := json.Unmarshal(raw[1], &m.AssetCtxs); err != nil {
			return fmt.Errorf("hyperliquid: metaAndAssetCtxs assetCtxs: %w", err)
		}
	}
	return nil
}

type assetUniverseEntry struct {
	Name        string  `json:"name"`
	SzDecimals  int     `json:"szDecimals"`
	MaxLeverage float64 `json:"maxLeverage"`
	IsDelisted  bool    `json:"isDelisted"`
}

type assetCtx struct {
	MarkPx string `json:"markPx"`
	MidPx  string `json:"midPx"`
}

// AssetInfo is the cached directory entry for one perp.
type AssetInfo struct {
	Name        string
	Index       int
	SzDecimals  int
	MaxLeverage float64
	IsDelisted  bool
	MarkPx      string
}
