package scheduler

import (
	"context"
	"time"
)

// Job is one scheduled unit of work.
type Job interface {
	Name() string

	Run(ctx context.Context) error

	// Schedule returns the cron expression, with seconds.
	// Example: "0 10 16 * * 1-5" (16:10 on weekdays)
	Schedule() string
}

// JobResult records one execution.
type JobResult struct {
	JobName   string        `json:"job_name"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
}

// JobHistory keeps the last executions of one job.
type JobHistory struct {
	Results []JobResult
}

// AddResult appends one result, keeping the last 100.
func (h *JobHistory) AddResult(result JobResult) {
	h.Results = append(h.Results, result)

	if len(h.Results) > 100 {
		h.Results = h.Results[len(h.Results)-100:]
	}
}

// GetLatestResults returns the latest N results.
func (h *JobHistory) GetLatestResults(n int) []JobResult {
	if n > len(h.Results) {
		n = len(h.Results)
	}

	if n == 0 {
		return []JobResult{}
	}

	return h.Results[len(h.Results)-n:]
}

// GetFailedResults returns all failed results.
func (h *JobHistory) GetFailedResults() []JobResult {
	failed := make([]JobResult, 0)
	for _, result := range h.Results {
		if !result.Success {
			failed = append(failed, result)
		}
	}
	return failed
}

// GetSuccessRate returns the success rate (0.0 - 1.0).
func (h *JobHistory) GetSuccessRate() float64 {
	if len(h.Results) == 0 {
		return 0.0
	}

	successCount := 0
	for _, result := range h.Results {
		if result.Success {
			successCount++
		}
	}

	return float64(successCount) / float64(len(h.Results))
}
