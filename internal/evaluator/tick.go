package evaluator

import (
	"context"
	"strings"

	"github.com/weqory/alertengine/internal/adapter"
	"github.com/weqory/alertengine/internal/model"
)

// HandleTick is the Tick Evaluator (component E), registered as a
// Fan-In subscriber callback. It runs on every event; the fire path
// itself is dispatched to a background goroutine so the event loop
// never blocks (§9: "async control flow").
func (e *Evaluator) HandleTick(ctx context.Context, tick model.PriceTick) {
	if !e.Cache.IsActiveExchangeMarket(tick.Exchange, tick.Market) {
		return
	}

	retention := e.Cache.MaxLookbackSec()
	e.Buffer.Append(tick.Exchange, tick.Market, tick.Prices, tick.TS, retention)

	entries := e.Cache.EntriesFor(tick.Exchange, tick.Market)
	if len(entries) == 0 {
		return
	}

	for symbol := range tick.Prices {
		canonical := canonicalTickSymbol(symbol)
		for _, entry := range entries {
			go e.evaluateSymbol(ctx, entry, canonical, tick.TS)
		}
	}
}

// canonicalTickSymbol maps a fan-in event symbol (which may already be a
// full symbol or carry a .P perpetual suffix) to the key the cache and
// ring buffer use, accepting SYMBOL and SYMBOL.P interchangeably (§4.E
// step 3).
func canonicalTickSymbol(raw string) string {
	s := adapter.NormalizeSymbol(raw)
	if strings.HasSuffix(strings.ToUpper(raw), ".P") {
		return s + ".P"
	}
	return s
}
