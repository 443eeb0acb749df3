package domain

import "time"

// Tick is a single raw price observation, the input to the M1 Candle Builder.
type Tick struct {
	Symbol    string    `json:"symbol" gorm:"column:symbol;uniqueIndex:idx_ticks_key"`
	Timestamp time.Time `json:"timestamp" gorm:"column:timestamp;uniqueIndex:idx_ticks_key"`
	Price     float64   `json:"price" gorm:"column:price"`
	Volume    float64   `json:"volume" gorm:"column:volume"`
}

// TableName returns the table name for the Tick model.
func (Tick) TableName() string {
	return "ticks"
}
