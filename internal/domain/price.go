package domain

import "time"

// PriceSample is the latest observed trade price of an instrument.
type PriceSample struct {
	Symbol       string
	Price        float64
	ObservedAt   time.Time // local receipt time, basis for staleness
	ExchangeTime time.Time // exchange event time if the source provides one
}
