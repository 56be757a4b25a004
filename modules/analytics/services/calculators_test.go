package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/worktrack/modules/analytics/services"
	task "github.com/iota-uz/worktrack/modules/task/services"
)

func completedAssignment(startedAgo, duration time.Duration) task.TaskAssignment {
	started := time.Now().UTC().Add(-startedAgo)
	completed := started.Add(duration)
	return task.TaskAssignment{
		Status:      task.StatusCompleted,
		Progress:    100,
		StartedAt:   &started,
		CompletedAt: &completed,
	}
}

func TestEfficiencyScore(t *testing.T) {
	hour := int64(3600)

	t.Run("no completed work scores zero", func(t *testing.T) {
		score := services.EfficiencyScore([]task.TaskSnapshot{
			{Task: task.Task{Priority: task.PriorityHigh}},
			{
				Task:        task.Task{Priority: task.PriorityLow},
				Assignments: []task.TaskAssignment{{Status: task.StatusInProgress}},
			},
		})
		require.Zero(t, score)
	})

	t.Run("critical task finished at double speed maxes out", func(t *testing.T) {
		// estimated 2h, actual 1h: ratio capped contribution 2 * weight 4
		// = 8, mean 8 * 25 = 200.
		est := 2 * hour
		score := services.EfficiencyScore([]task.TaskSnapshot{{
			Task:        task.Task{Priority: task.PriorityCritical, EstimatedDuration: &est},
			Assignments: []task.TaskAssignment{completedAssignment(2*time.Hour, time.Hour)},
		}})
		require.InDelta(t, 200.0, score, 1e-9)
	})

	t.Run("ratio caps at two", func(t *testing.T) {
		// 10h estimated vs 1h actual still contributes 2, not 10.
		est := 10 * hour
		score := services.EfficiencyScore([]task.TaskSnapshot{{
			Task:        task.Task{Priority: task.PriorityLow, EstimatedDuration: &est},
			Assignments: []task.TaskAssignment{completedAssignment(2*time.Hour, time.Hour)},
		}})
		require.InDelta(t, 50.0, score, 1e-9)
	})

	t.Run("on-time medium work", func(t *testing.T) {
		// estimated == actual: ratio 1 * weight 2, mean 2 * 25 = 50.
		est := hour
		score := services.EfficiencyScore([]task.TaskSnapshot{{
			Task:        task.Task{Priority: task.PriorityMedium, EstimatedDuration: &est},
			Assignments: []task.TaskAssignment{completedAssignment(time.Hour, time.Hour)},
		}})
		require.InDelta(t, 50.0, score, 1e-9)
	})

	t.Run("status does not gate the sample", func(t *testing.T) {
		// Still In Progress but carrying both timestamps: est 4h, actual
		// 2h, Critical -> ratio 2 * weight 4, mean 8 * 25 = 200.
		est := 4 * hour
		sample := completedAssignment(3*time.Hour, 2*time.Hour)
		sample.Status = task.StatusInProgress
		score := services.EfficiencyScore([]task.TaskSnapshot{{
			Task:        task.Task{Priority: task.PriorityCritical, EstimatedDuration: &est},
			Assignments: []task.TaskAssignment{sample},
		}})
		require.InDelta(t, 200.0, score, 1e-9)
	})

	t.Run("non-positive actual counts as ratio one", func(t *testing.T) {
		est := hour
		score := services.EfficiencyScore([]task.TaskSnapshot{{
			Task:        task.Task{Priority: task.PriorityMedium, EstimatedDuration: &est},
			Assignments: []task.TaskAssignment{completedAssignment(time.Hour, 0)},
		}})
		require.InDelta(t, 50.0, score, 1e-9)
	})

	t.Run("missing estimate falls back to five days", func(t *testing.T) {
		// actual 120h = 432000s exactly: ratio 1 * weight 1 * 25 = 25.
		score := services.EfficiencyScore([]task.TaskSnapshot{{
			Task:        task.Task{Priority: task.PriorityLow},
			Assignments: []task.TaskAssignment{completedAssignment(121*time.Hour, 120*time.Hour)},
		}})
		require.InDelta(t, 25.0, score, 1e-9)
	})
}

func TestWorkloadScore(t *testing.T) {
	mk := func(priority task.Priority, n int) []task.Priority {
		out := make([]task.Priority, n)
		for i := range out {
			out[i] = priority
		}
		return out
	}

	t.Run("no active tasks scores zero", func(t *testing.T) {
		require.Zero(t, services.WorkloadScore(nil))
	})

	t.Run("mixed priorities", func(t *testing.T) {
		// critical + high + medium: base 30, weighted load 3+2+1 = 5,
		// factor min(5/3, 2) = 1.667.
		priorities := []task.Priority{task.PriorityCritical, task.PriorityHigh, task.PriorityMedium}
		require.InDelta(t, 50.0, services.WorkloadScore(priorities), 1e-9)
	})

	t.Run("five medium tasks score fifty", func(t *testing.T) {
		// base = min(5*10, 100) = 50; factor = min(5/5, 2) = 1.
		require.InDelta(t, 50.0, services.WorkloadScore(mk(task.PriorityMedium, 5)), 1e-9)
	})

	t.Run("base caps at one hundred and factor at two", func(t *testing.T) {
		// 20 critical tasks: base 100, factor min(60/20, 2) = 2.
		require.InDelta(t, 200.0, services.WorkloadScore(mk(task.PriorityCritical, 20)), 1e-9)
	})

	t.Run("low-priority tasks drag the factor down", func(t *testing.T) {
		priorities := append(mk(task.PriorityLow, 3), task.PriorityCritical)
		// base 40, factor min(3/4, 2) = 0.75.
		require.InDelta(t, 30.0, services.WorkloadScore(priorities), 1e-9)
	})
}

func TestChange(t *testing.T) {
	require.InDelta(t, 100.0, services.Change(0, 42), 1e-9)
	require.Zero(t, services.Change(0, 0))
	require.InDelta(t, 50.0, services.Change(40, 60), 1e-9)
	require.InDelta(t, -25.0, services.Change(80, 60), 1e-9)
	require.InDelta(t, 33.0, services.Change(60, 80), 1e-9, "rounded to whole percent")
}

func TestAverageCompletionSeconds(t *testing.T) {
	snapshots := []task.TaskSnapshot{{
		Assignments: []task.TaskAssignment{
			completedAssignment(3*time.Hour, time.Hour),
			completedAssignment(4*time.Hour, 3*time.Hour),
			{Status: task.StatusInProgress},
		},
	}}
	require.InDelta(t, 7200.0, services.AverageCompletionSeconds(snapshots), 1e-9)
	require.Zero(t, services.AverageCompletionSeconds(nil))

	t.Run("timestamps qualify regardless of status", func(t *testing.T) {
		reopened := completedAssignment(2*time.Hour, time.Hour)
		reopened.Status = task.StatusUnderReview
		avg := services.AverageCompletionSeconds([]task.TaskSnapshot{{
			Assignments: []task.TaskAssignment{reopened},
		}})
		require.InDelta(t, 3600.0, avg, 1e-9)
	})
}
