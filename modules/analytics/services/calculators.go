package services

import (
	"math"
	"time"

	task "github.com/iota-uz/worktrack/modules/task/services"
)

// defaultEstimateSeconds stands in for tasks without an estimate: five
// working days.
const defaultEstimateSeconds = 432000

// EfficiencyScore rates finished work. Each assignment with both
// timestamps contributes min(estimated/actual, 2) multiplied by the
// task's priority weight; a non-positive actual duration counts as
// ratio 1. The final score is the mean of those samples scaled by 25.
// No samples means a score of 0.
func EfficiencyScore(snapshots []task.TaskSnapshot) float64 {
	var sum float64
	var samples int
	for _, snap := range snapshots {
		estimated := float64(defaultEstimateSeconds)
		if snap.Task.EstimatedDuration != nil {
			estimated = float64(*snap.Task.EstimatedDuration)
		}
		weight := snap.Task.Priority.Weight()
		for _, a := range snap.Assignments {
			if a.StartedAt == nil || a.CompletedAt == nil {
				continue
			}
			ratio := 1.0
			if actual := a.CompletedAt.Sub(*a.StartedAt).Seconds(); actual > 0 {
				ratio = math.Min(estimated/actual, 2)
			}
			sum += ratio * weight
			samples++
		}
	}
	if samples == 0 {
		return 0
	}
	return sum / float64(samples) * 25
}

// WorkloadScore rates how loaded a user is, given the priorities of the
// tasks behind their active assignments. base caps at 100 after ten
// tasks; the factor averages the per-task workload weights and caps at
// 2, so the score ranges 0..200.
func WorkloadScore(priorities []task.Priority) float64 {
	n := len(priorities)
	if n == 0 {
		return 0
	}
	base := math.Min(float64(n)*10, 100)
	var load float64
	for _, p := range priorities {
		load += float64(p.WorkloadWeight())
	}
	factor := math.Min(load/float64(n), 2)
	return base * factor
}

// Change reports the percentage change from previous to current. A rise
// from zero reads as 100%, staying at zero as 0%.
func Change(previous, current float64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return math.Round((current - previous) / previous * 100)
}

// AverageCompletionSeconds is the mean started-to-completed duration over
// assignments carrying both timestamps, 0 when none qualify.
func AverageCompletionSeconds(snapshots []task.TaskSnapshot) float64 {
	var sum time.Duration
	var samples int
	for _, snap := range snapshots {
		for _, a := range snap.Assignments {
			if a.StartedAt == nil || a.CompletedAt == nil {
				continue
			}
			sum += a.CompletedAt.Sub(*a.StartedAt)
			samples++
		}
	}
	if samples == 0 {
		return 0
	}
	return sum.Seconds() / float64(samples)
}
