package followup

import (
	"strings"
	"time"

	"github.com/ignite/outreach/internal/domain"
)

// WaitDuration converts a follow-up wait into a duration. Units match
// case-insensitively and unknown units are read as hours. Negative amounts
// count as zero.
func WaitDuration(amount int, unit domain.WaitUnit) time.Duration {
	if amount < 0 {
		amount = 0
	}
	n := time.Duration(amount)
	switch domain.WaitUnit(strings.ToLower(string(unit))) {
	case domain.WaitMinutes:
		return n * time.Minute
	case domain.WaitDays:
		return n * 24 * time.Hour
	case domain.WaitWeeks:
		return n * 7 * 24 * time.Hour
	default:
		return n * time.Hour
	}
}
