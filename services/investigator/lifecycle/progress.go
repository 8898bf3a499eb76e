// Copyright (C) 2025 InvestiGator Labs (eng@investigator-ai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lifecycle

import "math"

// TaskCounts summarizes the subtasks of one investigation by status.
type TaskCounts struct {
	Pending    int
	InProgress int
	Completed  int
	Failed     int
	Abandoned  int
}

// Total returns the number of tasks that count toward progress.
// Abandoned tasks are excluded: a redirect that drops half the plan
// should not make the investigation look half-finished.
func (c TaskCounts) Total() int {
	return c.Pending + c.InProgress + c.Completed + c.Failed
}

// Outstanding returns the number of tasks that still need a worker.
func (c TaskCounts) Outstanding() int {
	return c.Pending + c.InProgress
}

// Resolved reports whether no task is pending or in progress.
func (c TaskCounts) Resolved() bool {
	return c.Outstanding() == 0
}

// Progress computes the completion percentage for a set of task counts.
//
// The value is round(100 * completed / total) clamped to [0, 100], where
// total excludes abandoned tasks. An investigation with no countable
// tasks reports 0.
func Progress(c TaskCounts) int {
	total := c.Total()
	if total == 0 {
		return 0
	}
	pct := int(math.Round(100 * float64(c.Completed) / float64(total)))
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// AggregateConfidence derives an investigation's confidence score from the
// confidences of its completed subtasks: the arithmetic mean, clamped to
// [0, 1]. No completed work means no confidence yet, which is 0.
func AggregateConfidence(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		if v < 0 {
			v = 0
		}
		if v > 1 {
			v = 1
		}
		sum += v
	}
	mean := sum / float64(len(values))
	if mean < 0 {
		return 0
	}
	if mean > 1 {
		return 1
	}
	return mean
}
