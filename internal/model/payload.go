package model

import "time"

// TriggerHeader is the shared envelope for both payload variants (§9:
// "define explicit sum-typed variants with shared header").
type TriggerHeader struct {
	AlertID     int64
	UserID      int64
	Name        string
	Description string
	Triggered   bool
	TriggeredAt time.Time
}

// PricePayload is emitted by the Fast Price Alert Loop (§4.G) and the
// Klines Sweep (§4.H).
type PricePayload struct {
	TriggerHeader
	Symbol         string
	CurrentPrice   float64
	TargetValue    float64
	Condition      Condition
	AlertType      AlertType
}

// ComplexPayload is emitted by the Tick Evaluator (§4.E) and the
// Safety-Net Sweeper (§4.F).
type ComplexPayload struct {
	TriggerHeader
	Symbol         string
	Exchange       string
	Market         Market
	PctChange      float64
	BaselinePrice  float64
	CurrentPrice   float64
	WindowSeconds  int64
}

// TriggerEvent is the sum type the Trigger Sink consumes: exactly one
// of Price or Complex is non-nil.
type TriggerEvent struct {
	Price   *PricePayload   `json:"price,omitempty"`
	Complex *ComplexPayload `json:"complex,omitempty"`
}

// Header returns the shared envelope regardless of variant.
func (e TriggerEvent) Header() TriggerHeader {
	if e.Price != nil {
		return e.Price.TriggerHeader
	}
	if e.Complex != nil {
		return e.Complex.TriggerHeader
	}
	return TriggerHeader{}
}

// TriggerRecord is the durable row the Trigger Sink writes before its
// best-effort realtime/messenger steps (§12's "Trigger history"),
// flattened from whichever payload variant fired.
type TriggerRecord struct {
	AlertID        int64
	UserID         int64
	AlertType      AlertType
	Symbol         string
	Condition      string
	TargetValue    float64
	TriggeredPrice float64
	TriggeredAt    time.Time
}

// Record flattens the event into its durable history row.
func (e TriggerEvent) Record() TriggerRecord {
	header := e.Header()
	rec := TriggerRecord{AlertID: header.AlertID, UserID: header.UserID, TriggeredAt: header.TriggeredAt}

	switch {
	case e.Price != nil:
		rec.AlertType = e.Price.AlertType
		rec.Symbol = e.Price.Symbol
		rec.Condition = string(e.Price.Condition)
		rec.TargetValue = e.Price.TargetValue
		rec.TriggeredPrice = e.Price.CurrentPrice
	case e.Complex != nil:
		rec.AlertType = AlertTypeComplex
		rec.Symbol = e.Complex.Symbol
		rec.TargetValue = e.Complex.BaselinePrice
		rec.TriggeredPrice = e.Complex.CurrentPrice
		if e.Complex.PctChange < 0 {
			rec.Condition = string(ConditionBelow)
		} else {
			rec.Condition = string(ConditionAbove)
		}
	}
	return rec
}
