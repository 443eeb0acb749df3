package domain

import (
	"time"

	"marketdata/pkg/apperrors"
)

// Candle is a single OHLCV bar for (symbol, timeframe, timestamp).
type Candle struct {
	Symbol    string    `json:"symbol" gorm:"column:symbol;uniqueIndex:idx_market_data_key"`
	Timeframe Timeframe `json:"timeframe" gorm:"column:timeframe;uniqueIndex:idx_market_data_key"`
	Timestamp time.Time `json:"timestamp" gorm:"column:timestamp;uniqueIndex:idx_market_data_key"`
	Open      float64   `json:"open" gorm:"column:open"`
	High      float64   `json:"high" gorm:"column:high"`
	Low       float64   `json:"low" gorm:"column:low"`
	Close     float64   `json:"close" gorm:"column:close"`
	Volume    float64   `json:"volume" gorm:"column:volume"`
	Spread    *float64  `json:"spread,omitempty" gorm:"column:spread"`
}

// TableName returns the table name for the Candle model.
func (Candle) TableName() string {
	return "market_data"
}

// Degenerate reports whether a candle's OHLC are all equal — the heuristic
// proxy for "this bucket is actually missing data".
func (c Candle) Degenerate() bool {
	return c.Open == c.High && c.High == c.Low && c.Low == c.Close
}

// Validate checks the invariants every stored candle must satisfy. A
// violation is an InvariantViolation error per the error taxonomy; callers
// drop the record and keep processing the rest of the batch.
func (c Candle) Validate() error {
	if c.Low > c.Open || c.Open > c.High {
		return apperrors.NewInvariantViolationError("candle open out of [low,high] bounds", nil)
	}
	if c.Low > c.Close || c.Close > c.High {
		return apperrors.NewInvariantViolationError("candle close out of [low,high] bounds", nil)
	}
	if c.Low > c.High {
		return apperrors.NewInvariantViolationError("candle low exceeds high", nil)
	}
	if c.Volume < 0 {
		return apperrors.NewInvariantViolationError("candle volume negative", nil)
	}
	if !c.Timestamp.Equal(Align(c.Timestamp, c.Timeframe)) {
		return apperrors.NewInvariantViolationError("candle timestamp not aligned to timeframe", nil)
	}
	return nil
}

// Merge applies upsertCandle's conflict-resolution rule: widen high, narrow
// low, keep the stored open, overwrite close, sum volume — except that a
// fully-formed incoming candle fully replaces a degenerate stored one.
func (stored Candle) Merge(incoming Candle) Candle {
	if stored.Degenerate() && !incoming.Degenerate() {
		return incoming
	}
	merged := stored
	merged.High = max(stored.High, incoming.High)
	merged.Low = min(stored.Low, incoming.Low)
	merged.Close = incoming.Close
	merged.Volume = stored.Volume + incoming.Volume
	if incoming.Spread != nil {
		merged.Spread = incoming.Spread
	}
	return merged
}
