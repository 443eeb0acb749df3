package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandle_Validate(t *testing.T) {
	ts := time.Date(2025, 3, 4, 10, 5, 0, 0, time.UTC)

	good := Candle{Symbol: "EURUSD", Timeframe: M1, Timestamp: ts, Open: 1.08, High: 1.081, Low: 1.079, Close: 1.0805, Volume: 10}
	require.NoError(t, good.Validate())

	badBounds := good
	badBounds.Low = 1.082
	assert.Error(t, badBounds.Validate())

	badAlign := good
	badAlign.Timestamp = ts.Add(30 * time.Second)
	assert.Error(t, badAlign.Validate())

	badVolume := good
	badVolume.Volume = -1
	assert.Error(t, badVolume.Validate())
}

func TestCandle_Degenerate(t *testing.T) {
	flat := Candle{Open: 1.08, High: 1.08, Low: 1.08, Close: 1.08}
	assert.True(t, flat.Degenerate())

	real := Candle{Open: 1.08, High: 1.081, Low: 1.079, Close: 1.0805}
	assert.False(t, real.Degenerate())
}

func TestCandle_Merge_WidensAndSums(t *testing.T) {
	stored := Candle{Open: 1.08, High: 1.081, Low: 1.079, Close: 1.0805, Volume: 10}
	incoming := Candle{Open: 1.0805, High: 1.082, Low: 1.078, Close: 1.0795, Volume: 5}

	merged := stored.Merge(incoming)

	assert.Equal(t, 1.08, merged.Open, "open is kept from the stored candle")
	assert.Equal(t, 1.082, merged.High)
	assert.Equal(t, 1.078, merged.Low)
	assert.Equal(t, 1.0795, merged.Close)
	assert.Equal(t, 15.0, merged.Volume)
}

func TestCandle_Merge_ReplacesDegenerate(t *testing.T) {
	stored := Candle{Open: 1.08, High: 1.08, Low: 1.08, Close: 1.08, Volume: 0}
	incoming := Candle{Open: 1.08, High: 1.082, Low: 1.079, Close: 1.081, Volume: 5}

	merged := stored.Merge(incoming)

	assert.Equal(t, incoming, merged)
}
