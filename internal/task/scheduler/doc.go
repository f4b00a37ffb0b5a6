// Package scheduler triggers named jobs on cron or interval schedules.
//
// Each schedule runs at most once at a time: a trigger that fires while the
// previous run is still active is skipped and counted. Interval schedules get
// a small random startup spread so several processes do not fire together.
package scheduler
