package domain

import "time"

// IntegrityStatus summarizes the outcome of the most recent integrity check.
type IntegrityStatus string

const (
	IntegrityOK   IntegrityStatus = "ok"
	IntegrityGaps IntegrityStatus = "gaps"
)

// IntegrityRecord is the per-(symbol,timeframe,date) integrity ledger entry
// fullIntegrityCheck updates on every invocation.
type IntegrityRecord struct {
	Symbol            string          `json:"symbol" gorm:"column:symbol;uniqueIndex:idx_data_integrity_key"`
	Timeframe         Timeframe       `json:"timeframe" gorm:"column:timeframe;uniqueIndex:idx_data_integrity_key"`
	Date              time.Time       `json:"date" gorm:"column:date;uniqueIndex:idx_data_integrity_key"`
	ExpectedCandles   int             `json:"expected_candles" gorm:"column:expected_candles"`
	ActualCandles     int             `json:"actual_candles" gorm:"column:actual_candles"`
	MissingCandles    int             `json:"missing_candles" gorm:"column:missing_candles"`
	IncompleteCandles int             `json:"incomplete_candles" gorm:"column:incomplete_candles"`
	LastChecked       time.Time       `json:"last_checked" gorm:"column:last_checked"`
	Status            IntegrityStatus `json:"status" gorm:"column:status"`
}

// TableName returns the table name for the IntegrityRecord model.
func (IntegrityRecord) TableName() string {
	return "data_integrity"
}

// Coverage returns actual/expected, defined as 1.0 when nothing was expected.
func (r IntegrityRecord) Coverage() float64 {
	if r.ExpectedCandles == 0 {
		return 1.0
	}
	return float64(r.ActualCandles) / float64(r.ExpectedCandles)
}

// Healthy mirrors fullIntegrityCheck's health predicate: no gaps, no
// incomplete candles, coverage at or above 95%.
func (r IntegrityRecord) Healthy() bool {
	return r.MissingCandles == 0 && r.IncompleteCandles == 0 && r.Coverage() >= 0.95
}
