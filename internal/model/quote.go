package model

import (
	"encoding/json"
	"time"
)

// Quote is the last observed price and 24h volume for a pair.
type Quote struct {
	Pair       string    `json:"pair"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	ObservedAt time.Time `json:"observed_at"`
}

// JSON returns the JSON-encoded quote.
func (q *Quote) JSON() []byte {
	b, _ := json.Marshal(q)
	return b
}
