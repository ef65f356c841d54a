package publish

import (
	"time"

	"mirrorbird/internal/model"
)

// Fresh admits a post only when its age sits inside the configured window,
// inclusive on both ends. Too young may still be deleted by its author; too
// old is stale. Called before any ledger lookup or media fetch so
// out-of-window posts cost no network work.
func Fresh(p model.Post, now time.Time, minDelayHours, maxAgeHours float64) bool {
	age := now.Sub(p.Timestamp).Hours()
	return age >= minDelayHours && age <= maxAgeHours
}
