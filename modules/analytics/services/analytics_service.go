package services

import (
	"context"
	"net/http"
	"sort"
	"time"

	task "github.com/iota-uz/worktrack/modules/task/services"
	"github.com/iota-uz/worktrack/pkg/composables"
	"github.com/iota-uz/worktrack/pkg/serrors"
)

// TaskPort is the slice of the task module analytics reads from.
type TaskPort interface {
	Snapshots(ctx context.Context, filter task.TaskFilter) ([]task.TaskSnapshot, error)
}

// HierarchyPort resolves scope and authorization for a subdepartment.
type HierarchyPort interface {
	DepartmentOf(ctx context.Context, subdepartmentID int64) (int64, error)
	DescendantIDs(ctx context.Context, subdepartmentID int64) ([]int64, error)
}

type AnalyticsService struct {
	tasks     TaskPort
	hierarchy HierarchyPort
	now       func() time.Time
}

func NewAnalyticsService(tasks TaskPort, hierarchy HierarchyPort) *AnalyticsService {
	return &AnalyticsService{tasks: tasks, hierarchy: hierarchy, now: time.Now}
}

// DepartmentStats is the aggregate snapshot for a subdepartment scope.
type DepartmentStats struct {
	TaskCount              int            `json:"task_count"`
	CompletedCount         int            `json:"completed_count"`
	OverdueCount           int            `json:"overdue_count"`
	CompletionRate         float64        `json:"completion_rate"`
	PriorityDistribution   map[string]int `json:"priority_distribution"`
	StatusDistribution     map[string]int `json:"status_distribution"`
	AvgCompletionSeconds   float64        `json:"avg_completion_seconds"`
	EfficiencyScore        float64        `json:"efficiency_score"`
	CompletionRateChange   float64        `json:"completion_rate_change"`
	PreviousCompletionRate float64        `json:"previous_completion_rate"`
}

// MemberWorkload describes one user's load inside the scope.
type MemberWorkload struct {
	UserID          int64          `json:"user_id"`
	AssignmentCount int            `json:"assignment_count"`
	ByStatus        map[string]int `json:"by_status"`
	WorkloadScore   float64        `json:"workload_score"`
}

// OverdueTask pairs a task with how far past due it is.
type OverdueTask struct {
	Task           task.Task `json:"task"`
	OverdueSeconds float64   `json:"overdue_seconds"`
}

// BacklogSnapshot summarizes the scope's unfinished work.
type BacklogSnapshot struct {
	OpenCount         int     `json:"open_count"`
	OverdueCount      int     `json:"overdue_count"`
	HighPriorityCount int     `json:"high_priority_count"`
	UnassignedCount   int     `json:"unassigned_count"`
	AvgOverdueSeconds float64 `json:"avg_overdue_seconds"`
}

func (s *AnalyticsService) scope(ctx context.Context, subdepartmentID int64, includeChildren bool) ([]int64, error) {
	p, err := composables.UsePrincipal(ctx)
	if err != nil {
		return nil, serrors.New(http.StatusUnauthorized, "WT_NO_PRINCIPAL", "principal is required", err)
	}
	departmentID, err := s.hierarchy.DepartmentOf(ctx, subdepartmentID)
	if err != nil {
		return nil, serrors.NotFound("subdepartment not found")
	}
	if p.Role != composables.RoleAdmin && p.DepartmentID != departmentID {
		return nil, serrors.NotFound("subdepartment not found")
	}
	ids := []int64{subdepartmentID}
	if includeChildren {
		descendants, err := s.hierarchy.DescendantIDs(ctx, subdepartmentID)
		if err != nil {
			return nil, err
		}
		ids = append(ids, descendants...)
	}
	return ids, nil
}

// Stats aggregates the scope's tasks: counts, distributions, average
// completion duration and the efficiency score. The change column
// compares the completion rate against tasks created before the given
// window start, when one is supplied.
func (s *AnalyticsService) Stats(ctx context.Context, subdepartmentID int64, includeChildren bool, since *time.Time) (DepartmentStats, error) {
	ids, err := s.scope(ctx, subdepartmentID, includeChildren)
	if err != nil {
		return DepartmentStats{}, err
	}
	snapshots, err := s.tasks.Snapshots(ctx, task.TaskFilter{SubdepartmentIDs: ids})
	if err != nil {
		return DepartmentStats{}, err
	}

	stats := DepartmentStats{
		PriorityDistribution: map[string]int{},
		StatusDistribution:   map[string]int{},
	}
	now := s.now().UTC()

	current := snapshots
	var previous []task.TaskSnapshot
	if since != nil {
		current = current[:0:0]
		for _, snap := range snapshots {
			if snap.Task.CreatedAt.Before(*since) {
				previous = append(previous, snap)
			} else {
				current = append(current, snap)
			}
		}
	}

	for _, snap := range current {
		stats.TaskCount++
		stats.PriorityDistribution[string(snap.Task.Priority)]++
		for _, a := range snap.Assignments {
			stats.StatusDistribution[string(a.Status)]++
		}
		if snap.Completed() {
			stats.CompletedCount++
		}
		if !snap.AnyCompleted() && snap.Task.DueDate != nil && snap.Task.DueDate.Before(now) {
			stats.OverdueCount++
		}
	}
	if stats.TaskCount > 0 {
		stats.CompletionRate = float64(stats.CompletedCount) / float64(stats.TaskCount) * 100
	}
	stats.AvgCompletionSeconds = AverageCompletionSeconds(current)
	stats.EfficiencyScore = EfficiencyScore(current)

	if since != nil {
		prevTotal, prevDone := 0, 0
		for _, snap := range previous {
			prevTotal++
			if snap.Completed() {
				prevDone++
			}
		}
		if prevTotal > 0 {
			stats.PreviousCompletionRate = float64(prevDone) / float64(prevTotal) * 100
		}
		stats.CompletionRateChange = Change(stats.PreviousCompletionRate, stats.CompletionRate)
	}
	return stats, nil
}

// Workload groups the scope's assignments by assignee and scores each.
func (s *AnalyticsService) Workload(ctx context.Context, subdepartmentID int64, includeChildren bool) ([]MemberWorkload, error) {
	ids, err := s.scope(ctx, subdepartmentID, includeChildren)
	if err != nil {
		return nil, err
	}
	snapshots, err := s.tasks.Snapshots(ctx, task.TaskFilter{SubdepartmentIDs: ids})
	if err != nil {
		return nil, err
	}

	byUser := map[int64][]task.TaskAssignment{}
	activePriorities := map[int64][]task.Priority{}
	for _, snap := range snapshots {
		for _, a := range snap.Assignments {
			byUser[a.AssignedTo] = append(byUser[a.AssignedTo], a)
			if a.Status.Active() {
				activePriorities[a.AssignedTo] = append(activePriorities[a.AssignedTo], snap.Task.Priority)
			}
		}
	}

	out := make([]MemberWorkload, 0, len(byUser))
	for userID, assignments := range byUser {
		w := MemberWorkload{
			UserID:          userID,
			AssignmentCount: len(assignments),
			ByStatus:        map[string]int{},
			WorkloadScore:   WorkloadScore(activePriorities[userID]),
		}
		for _, a := range assignments {
			w.ByStatus[string(a.Status)]++
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Overdue lists tasks past their due date with no completed assignment,
// most overdue first.
func (s *AnalyticsService) Overdue(ctx context.Context, subdepartmentID int64, includeChildren bool) ([]OverdueTask, error) {
	ids, err := s.scope(ctx, subdepartmentID, includeChildren)
	if err != nil {
		return nil, err
	}
	snapshots, err := s.tasks.Snapshots(ctx, task.TaskFilter{SubdepartmentIDs: ids})
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	out := make([]OverdueTask, 0)
	for _, snap := range snapshots {
		if snap.AnyCompleted() || snap.Task.DueDate == nil || !snap.Task.DueDate.Before(now) {
			continue
		}
		out = append(out, OverdueTask{
			Task:           snap.Task,
			OverdueSeconds: now.Sub(*snap.Task.DueDate).Seconds(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OverdueSeconds > out[j].OverdueSeconds })
	return out, nil
}

// Backlog condenses the scope's unfinished tasks into one snapshot:
// how many are open, overdue or unassigned, how many carry High or
// Critical priority, and the mean overdue age.
func (s *AnalyticsService) Backlog(ctx context.Context, subdepartmentID int64, includeChildren bool) (BacklogSnapshot, error) {
	ids, err := s.scope(ctx, subdepartmentID, includeChildren)
	if err != nil {
		return BacklogSnapshot{}, err
	}
	snapshots, err := s.tasks.Snapshots(ctx, task.TaskFilter{SubdepartmentIDs: ids})
	if err != nil {
		return BacklogSnapshot{}, err
	}
	now := s.now().UTC()
	var backlog BacklogSnapshot
	var overdueTotal float64
	for _, snap := range snapshots {
		if snap.Completed() {
			continue
		}
		backlog.OpenCount++
		if snap.Task.Priority == task.PriorityHigh || snap.Task.Priority == task.PriorityCritical {
			backlog.HighPriorityCount++
		}
		if len(snap.Assignments) == 0 {
			backlog.UnassignedCount++
		}
		if !snap.AnyCompleted() && snap.Task.DueDate != nil && snap.Task.DueDate.Before(now) {
			backlog.OverdueCount++
			overdueTotal += now.Sub(*snap.Task.DueDate).Seconds()
		}
	}
	if backlog.OverdueCount > 0 {
		backlog.AvgOverdueSeconds = overdueTotal / float64(backlog.OverdueCount)
	}
	return backlog, nil
}
