package theta

import "sync"

// DiagCounts buckets the statuses one (generation, venue) label saw for a
// date. 204 and 472 are both "no data" from the caller's point of view; we
// keep 429 separate because it points at tier pressure, not data absence.
type DiagCounts struct {
	OK          int `json:"ok"`
	NoData      int `json:"no_data"`
	RateLimited int `json:"rate_limited"`
	Other       int `json:"other"`
}

// DiagTally accumulates per-date, per-label status counts. It is written
// by concurrent fetch workers and read by the monitoring API, so all
// access goes through the mutex.
type DiagTally struct {
	mu    sync.Mutex
	dates map[string]map[string]*DiagCounts
}

func NewDiagTally() *DiagTally {
	return &DiagTally{dates: make(map[string]map[string]*DiagCounts)}
}

// Record tallies one response status under (date, label).
func (d *DiagTally) Record(date, label string, status int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	labels, ok := d.dates[date]
	if !ok {
		labels = make(map[string]*DiagCounts)
		d.dates[date] = labels
	}
	counts, ok := labels[label]
	if !ok {
		counts = &DiagCounts{}
		labels[label] = counts
	}

	switch {
	case status == 200:
		counts.OK++
	case status == 204 || status == 472:
		counts.NoData++
	case status == 429:
		counts.RateLimited++
	default:
		counts.Other++
	}
}

// Snapshot returns a copy of one date's tallies. Nil when the date has no
// recorded traffic.
func (d *DiagTally) Snapshot(date string) map[string]DiagCounts {
	d.mu.Lock()
	defer d.mu.Unlock()

	labels, ok := d.dates[date]
	if !ok {
		return nil
	}
	out := make(map[string]DiagCounts, len(labels))
	for label, counts := range labels {
		out[label] = *counts
	}
	return out
}

// Reset drops one date's tallies after they have been persisted.
func (d *DiagTally) Reset(date string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.dates, date)
}
