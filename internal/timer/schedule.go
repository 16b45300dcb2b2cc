package timer

import "time"

// NextDailyRun returns the next occurrence of hour:minute strictly after now,
// in now's location.
func NextDailyRun(now time.Time, hour, minute int) time.Time {
	run := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !now.Before(run) {
		run = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, now.Location())
	}
	return run
}
