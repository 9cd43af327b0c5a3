package hyperliquid

import (
	"context"
	"fmt"
	"strings"
)

// AssetInfo resolves the directory entry for coin, refreshing the cache when stale or missing.
func (c *Client) AssetInfo(ctx context.Context, coin string) (AssetInfo, error) {
	key := canonicalAssetKey(coin)
	if key == "" {
		return AssetInfo{}, fmt.Errorf("hyperliquid: empty coin symbol")
	}
	if info, ok := c.cachedAsset(key); ok {
		return info, nil
	}
	if err := c.refreshAssetDirectory(ctx); err != nil {
		return AssetInfo{}, err
	}
	if info, ok := c.cachedAsset(key); ok {
		return info, nil
	}
	return AssetInfo{}, fmt.Errorf("hyperliquid: asset %s not found", key)
}

func (c *Client) cachedAsset(key string) (AssetInfo, bool) {
	c.assetMu.RLock()
	defer c.assetMu.RUnlock()
	if c.assetTTL > 0 && !c.assetRefresh.IsZero() && c.clock().Sub(c.assetRefresh) > c.assetTTL {
		return AssetInfo{}, false
	}
	info, ok := c.assets[key]
	return info, ok
}

func (c *Client) refreshAssetDirectory(ctx context.Context) error {
	var resp metaAndAssetCtxsResponse
	if err := c.doInfoRequest(ctx, infoRequest{Type: "metaAndAssetCtxs"}, &resp); err != nil {
		return err
	}
	if len(resp.Universe) == 0 {
		return fmt.Errorf("hyperliquid: metaAndAssetCtxs response contained no assets")
	}
	assets := make(map[string]AssetInfo, len(resp.Universe))
	for idx, entry := range resp.Universe {
		key := canonicalAssetKey(entry.Name)
		if key == "" {
			continue
		}
		info := AssetInfo{
			Name:        entry.Name,
			Index:       idx,
			SzDecimals:  entry.SzDecimals,
			MaxLeverage: entry.MaxLeverage,
			IsDelisted:  entry.IsDelisted,
		}
		if idx < len(resp.AssetCtxs) {
			info.MarkPx = resp.AssetCtxs[idx].MarkPx
		}
		assets[key] = info
	}
	c.assetMu.Lock()
	c.assets = assets
	c.assetRefresh = c.clock()
	c.assetMu.Unlock()
	return nil
}

func canonicalAssetKey(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
