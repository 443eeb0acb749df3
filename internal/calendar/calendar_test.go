package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketdata/internal/domain"
)

func TestForexMetalCalendar_WeekendClosure(t *testing.T) {
	cal := NewForexMetalCalendar(nil)

	cases := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"friday before close", time.Date(2025, 2, 14, 21, 59, 0, 0, time.UTC), true},
		{"friday at close", time.Date(2025, 2, 14, 22, 0, 0, 0, time.UTC), false},
		{"saturday", time.Date(2025, 2, 15, 12, 0, 0, 0, time.UTC), false},
		{"sunday before reopen", time.Date(2025, 2, 16, 21, 59, 0, 0, time.UTC), false},
		{"sunday at reopen", time.Date(2025, 2, 16, 22, 0, 0, 0, time.UTC), true},
		{"wednesday", time.Date(2025, 2, 12, 10, 0, 0, 0, time.UTC), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := cal.Open(domain.ClassForex, tc.at)
			assert.Equal(t, tc.open, d.Open)
		})
	}
}

func TestForexMetalCalendar_Holiday(t *testing.T) {
	hol := time.Date(2025, 12, 25, 0, 0, 0, 0, time.UTC)
	cal := NewForexMetalCalendar([]Holiday{{Class: domain.ClassForex, Date: hol, Name: "Christmas"}})

	d := cal.Open(domain.ClassForex, time.Date(2025, 12, 25, 10, 0, 0, 0, time.UTC))
	assert.False(t, d.Open)
	assert.Equal(t, "holiday", d.Reason)

	d2 := cal.Open(domain.ClassMetal, time.Date(2025, 12, 25, 10, 0, 0, 0, time.UTC))
	assert.True(t, d2.Open, "holiday scoped to forex class only")
}

func TestForexMetalCalendar_OpenRange_MidpointSampling(t *testing.T) {
	cal := NewForexMetalCalendar(nil)

	from := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 2, 15, 23, 59, 0, 0, time.UTC)
	d := cal.OpenRange(domain.ClassForex, from, to)
	assert.False(t, d.Open)

	empty := cal.OpenRange(domain.ClassForex, from, from)
	require.False(t, empty.Open)
	assert.Equal(t, "empty range", empty.Reason)
}

func TestForexMetalCalendar_StrictRange_CatchesBoundaryCrossing(t *testing.T) {
	cal := NewForexMetalCalendar(nil)

	from := time.Date(2025, 2, 14, 21, 0, 0, 0, time.UTC)
	to := time.Date(2025, 2, 14, 23, 0, 0, 0, time.UTC)

	midpoint := cal.OpenRange(domain.ClassForex, from, to)
	assert.False(t, midpoint.Open, "midpoint at 22:00 is closed")

	strict := cal.StrictRange(domain.ClassForex, from, to)
	assert.True(t, strict.Open, "strict mode finds the open minutes before 22:00")
}
