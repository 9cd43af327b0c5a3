package exchange

import "context"

// Client is the uniform order contract every venue adapter implements.
// Implementations never return Go errors for venue failures; the outcome is
// always carried by the result value so callers on the trading loop cannot
// crash on a rejected order.
type Client interface {
	// Backend returns the registry name of the adapter ("hyperliquid", "binance_futures", ...).
	Backend() string
	// PlaceEntry opens a new position, attaching protective orders where the venue supports it.
	PlaceEntry(ctx context.Context, req EntryRequest) EntryResult
	// ClosePosition flattens an existing position with a reduce-only market order.
	ClosePosition(ctx context.Context, req CloseRequest) CloseResult
}

// TPSLUpdater is implemented by venues that can replace resting stop-loss and
// take-profit orders for an open position.
type TPSLUpdater interface {
	UpdateTPSL(ctx context.Context, req TPSLRequest) TPSLResult
}
