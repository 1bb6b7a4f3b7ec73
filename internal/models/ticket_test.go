package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReference(t *testing.T) {
	assert.Equal(t, "T-000042", Ticket{Number: 42}.Reference())
	assert.Equal(t, "T-1234567", FormatTicketNumber(1234567))
}

func TestNormalizeDueDate(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)

	// 02:00 UTC on the 19th is still the 18th in loc.
	got := NormalizeDueDate(time.Date(2026, 10, 19, 2, 0, 0, 0, time.UTC), loc)
	assert.Equal(t, time.Date(2026, 10, 18, 0, 0, 0, 0, loc), got)
}

func TestOpenStatuses(t *testing.T) {
	assert.True(t, TicketOpen.IsOpen())
	assert.True(t, TicketPending.IsOpen())
	assert.False(t, TicketResolved.IsOpen())
	assert.False(t, TicketClosed.IsOpen())
}
