package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAlign(t *testing.T) {
	cases := []struct {
		name string
		in   time.Time
		tf   Timeframe
		want time.Time
	}{
		{
			"M1 floors seconds",
			time.Date(2025, 3, 4, 10, 5, 42, 0, time.UTC),
			M1,
			time.Date(2025, 3, 4, 10, 5, 0, 0, time.UTC),
		},
		{
			"M5 floors to 5-minute boundary",
			time.Date(2025, 3, 4, 10, 7, 0, 0, time.UTC),
			M5,
			time.Date(2025, 3, 4, 10, 5, 0, 0, time.UTC),
		},
		{
			"H4 floors to 4-hour boundary",
			time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
			H4,
			time.Date(2025, 3, 4, 8, 0, 0, 0, time.UTC),
		},
		{
			"D1 anchors at 00:00 UTC",
			time.Date(2025, 3, 4, 23, 59, 0, 0, time.UTC),
			D1,
			time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.True(t, tc.want.Equal(Align(tc.in, tc.tf)), "got %v want %v", Align(tc.in, tc.tf), tc.want)
		})
	}
}

func TestSlots(t *testing.T) {
	from := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 4, 10, 10, 0, 0, time.UTC)

	slots := Slots(from, to, M1)
	assert.Len(t, slots, 10)
	assert.True(t, slots[0].Equal(from))
	assert.True(t, slots[len(slots)-1].Equal(to.Add(-time.Minute)))
}

func TestSlots_EmptyRange(t *testing.T) {
	at := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	assert.Nil(t, Slots(at, at, M1))
}
