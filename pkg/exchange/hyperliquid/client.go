package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zeromicro/go-zero/core/logx"
)

const (
	mainnetAPIURL = "https://api.hyperliquid.xyz"
	testnetAPIURL = "https://api.hyperliquid-testnet.xyz"

	defaultHTTPTimeout  = 10 * time.Second
	defaultRetryBackoff = 200 * time.Millisecond
	maxRetryAttempts    = 3
	defaultSlippage     = 0.05
	defaultAssetTTL     = 10 * time.Minute
)

// Client performs signed requests against the Hyperliquid info and exchange endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     Signer
	mainnet    bool
	vault      string
	clock      func() time.Time
	slippage   float64

	nonceMu   sync.Mutex
	lastNonce int64

	assetMu      sync.RWMutex
	assets       map[string]AssetInfo
	assetTTL     time.Duration
	assetRefresh time.Time
}

// ClientOption customises the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithBaseURL points the client at a different API host, e.g. a test server.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			c.baseURL = u
		}
	}
}

// WithVaultAddress signs on behalf of a vault or subaccount.
func WithVaultAddress(addr string) ClientOption {
	return func(c *Client) {
		if common.IsHexAddress(addr) {
			c.vault = strings.ToLower(common.HexToAddress(addr).Hex())
		}
	}
}

// WithClock overrides the nonce time source.
func WithClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithSlippage sets the marketable-limit offset (0.05 = 5%).
func WithSlippage(slippage float64) ClientOption {
	return func(c *Client) {
		if slippage > 0 && slippage < 1 {
			c.slippage = slippage
		}
	}
}

// WithAssetCacheTTL controls how long the asset directory is trusted.
func WithAssetCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl > 0 {
			c.assetTTL = ttl
		}
	}
}

// NewClient constructs a client from a hex private key.
func NewClient(privateKeyHex string, testnet bool, opts ...ClientOption) (*Client, error) {
	signer, err := NewPrivateKeySigner(privateKeyHex)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:    mainnetAPIURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
		signer:     signer,
		mainnet:    !testnet,
		clock:      time.Now,
		slippage:   defaultSlippage,
		assets:     make(map[string]AssetInfo),
		assetTTL:   defaultAssetTTL,
	}
	if testnet {
		c.baseURL = testnetAPIURL
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Address returns the signing wallet address.
func (c *Client) Address() string { return c.signer.Address() }

// nextNonce returns a strictly increasing millisecond nonce.
func (c *Client) nextNonce() int64 {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()
	n := c.clock().UnixMilli()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return n
}

// doInfoRequest queries the public info endpoint, retrying transient failures.
func (c *Client) doInfoRequest(ctx context.Context, req infoRequest, result any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("hyperliquid: encode info request: %w", err)
	}
	backoff := defaultRetryBackoff
	var lastErr error
	for attempt := 0; attempt < maxRetryAttempts; attempt++ {
		body, status, err := c.post(ctx, "/info", payload)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
		case status < http.StatusOK || status >= 300:
			lastErr = fmt.Errorf("hyperliquid: info http status %d: %s", status, string(body))
		default:
			if result == nil {
				return nil
			}
			if err := json.Unmarshal(body, result); err != nil {
				return fmt.Errorf("hyperliquid: decode info response: %w", err)
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return lastErr
}

// doExchangeRequest signs action and returns the raw response body.
func (c *Client) doExchangeRequest(ctx context.Context, action any) ([]byte, error) {
	signed, err := signL1Action(action, c.signer, c.nextNonce(), c.vault, c.mainnet)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(signed)
	if err != nil {
		return nil, fmt.Errorf("hyperliquid: encode exchange request: %w", err)
	}
	body, status, err := c.post(ctx, "/exchange", payload)
	if err != nil {
		return nil, err
	}
	if status < http.StatusOK || status >= 300 {
		return body, fmt.Errorf("hyperliquid: exchange http status %d: %s", status, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("hyperliquid: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("hyperliquid: read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// UpdateLeverage sets cross or isolated leverage for an asset.
func (c *Client) UpdateLeverage(ctx context.Context, asset int, isCross bool, leverage int) error {
	if leverage < 1 {
		leverage = 1
	}
	body, err := c.doExchangeRequest(ctx, updateLeverageAction{
		Type:     "updateLeverage",
		Asset:    asset,
		IsCross:  isCross,
		Leverage: leverage,
	})
	if err != nil {
		return err
	}
	var resp struct {
		Status   string          `json:"status"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("hyperliquid: decode leverage response: %w", err)
	}
	if !strings.EqualFold(resp.Status, "ok") {
		return fmt.Errorf("hyperliquid: update leverage rejected: %s", string(resp.Response))
	}
	return nil
}

// submitOrders posts an order action and returns the raw response body.
func (c *Client) submitOrders(ctx context.Context, orders []orderPayload, grouping string) ([]byte, error) {
	start := time.Now()
	body, err := c.doExchangeRequest(ctx, orderAction{Type: "order", Orders: orders, Grouping: grouping})
	if d := time.Since(start); d > 2*time.Second {
		logx.WithContext(ctx).Slowf("hyperliquid: order submission took %s", d)
	}
	return body, err
}
