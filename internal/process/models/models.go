package models

import (
	"time"
)

// Reservation is the outcome of asking the window for a slot. When Allowed is
// false, Token is empty and ResetAt is when the oldest entry leaves the window.
type Reservation struct {
	Allowed   bool
	Token     string
	Count     int
	Limit     int
	Remaining int
	ResetAt   time.Time
}
