package adapter

import "encoding/json"

// tickerUpdate mirrors a Binance 24hr ticker stream event.
type tickerUpdate struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	LastPrice string `json:"c"`
}

// streamMessage wraps a combined-stream envelope.
type streamMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// subscribeMessage is a SUBSCRIBE/UNSUBSCRIBE control frame.
type subscribeMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

// exchangeInfoResponse is the subset of /exchangeInfo this adapter reads.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol string `json:"symbol"`
		Status string `json:"status"`
	} `json:"symbols"`
}

// restTickerPrice is one entry of /ticker/price.
type restTickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// restKline is one row of /klines, positionally decoded (Binance returns
// an array-of-arrays, not objects).
type restKline [12]interface{}
