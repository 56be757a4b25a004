package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/iota-uz/worktrack/pkg/composables"
	"github.com/iota-uz/worktrack/pkg/eventbus"
	"github.com/iota-uz/worktrack/pkg/serrors"
)

type TaskService struct {
	repo      Repository
	hierarchy HierarchyPort
	bus       eventbus.EventBus
}

func NewTaskService(repo Repository, hierarchy HierarchyPort, bus eventbus.EventBus) *TaskService {
	return &TaskService{repo: repo, hierarchy: hierarchy, bus: bus}
}

// BulkResult reports a permissive batch outcome: Updated counts affected
// rows (status) or tasks (assign); Skipped lists the task ids that were
// missing or outside the caller's scope and were passed over.
type BulkResult struct {
	Updated int     `json:"updated"`
	Skipped []int64 `json:"skipped,omitempty"`
}

func (s *TaskService) publish(event any) {
	if s.bus != nil {
		s.bus.Publish(event)
	}
}

func (s *TaskService) requirePrincipal(ctx context.Context) (composables.Principal, error) {
	p, err := composables.UsePrincipal(ctx)
	if err != nil {
		return composables.Principal{}, serrors.New(http.StatusUnauthorized, "WT_NO_PRINCIPAL", "principal is required", err)
	}
	return p, nil
}

func (s *TaskService) departmentOf(ctx context.Context, subdepartmentID int64) (int64, error) {
	departmentID, err := s.hierarchy.DepartmentOf(ctx, subdepartmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, serrors.NotFound("subdepartment not found")
		}
		return 0, err
	}
	return departmentID, nil
}

func (s *TaskService) requireManager(ctx context.Context, departmentID int64) (composables.Principal, error) {
	p, err := s.requirePrincipal(ctx)
	if err != nil {
		return p, err
	}
	if !p.CanManageDepartment(departmentID) {
		return p, serrors.Forbidden("requires admin or department manager role")
	}
	return p, nil
}

// CreateTask creates the task row and one To Do assignment per assignee.
// A template id pre-fills any field the request leaves empty. The owning
// department is derived from the subdepartment when one is given.
func (s *TaskService) CreateTask(ctx context.Context, in TaskInsert) (TaskSnapshot, error) {
	if in.SubdepartmentID != nil {
		departmentID, err := s.departmentOf(ctx, *in.SubdepartmentID)
		if err != nil {
			return TaskSnapshot{}, err
		}
		in.DepartmentID = departmentID
	}
	if in.DepartmentID <= 0 {
		return TaskSnapshot{}, serrors.Validation("department_id or subdepartment_id is required")
	}
	p, err := s.requireManager(ctx, in.DepartmentID)
	if err != nil {
		return TaskSnapshot{}, err
	}
	in.CreatedBy = p.ID

	if in.TemplateID != nil {
		tpl, err := s.repo.GetTemplate(ctx, *in.TemplateID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return TaskSnapshot{}, serrors.NotFound("task template not found")
			}
			return TaskSnapshot{}, err
		}
		if strings.TrimSpace(in.Title) == "" {
			in.Title = tpl.Title
		}
		if in.Description == nil {
			in.Description = tpl.Description
		}
		if in.Priority == "" {
			in.Priority = tpl.Priority
		}
		if in.EstimatedDuration == nil {
			in.EstimatedDuration = tpl.EstimatedDuration
		}
	}

	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return TaskSnapshot{}, serrors.Validation("title is required")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return TaskSnapshot{}, serrors.Validation("priority must be one of Critical, High, Medium, Low")
	}
	if in.EstimatedDuration != nil && *in.EstimatedDuration <= 0 {
		return TaskSnapshot{}, serrors.Validation("estimated_duration must be positive")
	}
	assignees, err := uniquePositive(in.AssignedTo)
	if err != nil {
		return TaskSnapshot{}, err
	}

	var snapshot TaskSnapshot
	err = s.repo.InTx(ctx, func(txCtx context.Context) error {
		task, err := s.repo.InsertTask(txCtx, in)
		if err != nil {
			return err
		}
		snapshot.Task = task
		for _, userID := range assignees {
			a, err := s.repo.InsertAssignment(txCtx, task.ID, userID)
			if err != nil {
				return err
			}
			snapshot.Assignments = append(snapshot.Assignments, a)
		}
		return nil
	})
	if err != nil {
		return TaskSnapshot{}, err
	}
	if len(assignees) > 0 {
		s.publish(TaskAssignedEvent{Task: snapshot.Task, AssignedTo: assignees})
	}
	return snapshot, nil
}

// visibleTask loads the task and answers NotFound when it sits outside
// the caller's department, so foreign resources are indistinguishable
// from absent ones.
func (s *TaskService) visibleTask(ctx context.Context, id int64) (Task, composables.Principal, error) {
	task, err := s.repo.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Task{}, composables.Principal{}, serrors.NotFound("task not found")
		}
		return Task{}, composables.Principal{}, err
	}
	p, err := s.requirePrincipal(ctx)
	if err != nil {
		return Task{}, p, err
	}
	if p.Role != composables.RoleAdmin && p.DepartmentID != task.DepartmentID {
		return Task{}, p, serrors.NotFound("task not found")
	}
	return task, p, nil
}

func (s *TaskService) GetTask(ctx context.Context, id int64) (TaskSnapshot, []TaskDependency, error) {
	task, _, err := s.visibleTask(ctx, id)
	if err != nil {
		return TaskSnapshot{}, nil, err
	}
	assignments, err := s.repo.ListAssignmentsForTask(ctx, id)
	if err != nil {
		return TaskSnapshot{}, nil, err
	}
	deps, err := s.repo.ListDependencies(ctx, id)
	if err != nil {
		return TaskSnapshot{}, nil, err
	}
	return TaskSnapshot{Task: task, Assignments: assignments}, deps, nil
}

// ListTasks lists tasks scoped to a subdepartment (expanding the subtree
// when includeChildren is set) or, when subdepartmentID is zero, to a
// whole department including its unassigned tasks.
func (s *TaskService) ListTasks(ctx context.Context, departmentID, subdepartmentID int64, includeChildren bool, filter TaskFilter) ([]TaskSnapshot, error) {
	p, err := s.requirePrincipal(ctx)
	if err != nil {
		return nil, err
	}
	if subdepartmentID > 0 {
		departmentID, err = s.departmentOf(ctx, subdepartmentID)
		if err != nil {
			return nil, err
		}
	}
	if departmentID <= 0 {
		return nil, serrors.Validation("department_id or subdepartment_id is required")
	}
	if p.Role != composables.RoleAdmin && p.DepartmentID != departmentID {
		return nil, serrors.NotFound("department not found")
	}

	if subdepartmentID > 0 {
		scope := []int64{subdepartmentID}
		if includeChildren {
			descendants, err := s.hierarchy.DescendantIDs(ctx, subdepartmentID)
			if err != nil {
				return nil, err
			}
			scope = append(scope, descendants...)
		}
		filter.SubdepartmentIDs = scope
	} else {
		filter.DepartmentID = &departmentID
	}
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, serrors.Validation("unknown status filter")
	}
	if filter.Priority != nil && !filter.Priority.Valid() {
		return nil, serrors.Validation("unknown priority filter")
	}
	return s.repo.ListSnapshots(ctx, filter)
}

// UpdateTask applies the allow-listed patch under the task's optimistic
// version: a stale expectedVersion answers with a conflict and leaves the
// row untouched.
func (s *TaskService) UpdateTask(ctx context.Context, id, expectedVersion int64, patch TaskPatch) (Task, error) {
	task, _, err := s.visibleTask(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if _, err := s.requireManager(ctx, task.DepartmentID); err != nil {
		return Task{}, err
	}
	if patch.Title != nil {
		trimmed := strings.TrimSpace(*patch.Title)
		if trimmed == "" {
			return Task{}, serrors.Validation("title must not be empty")
		}
		patch.Title = &trimmed
	}
	if patch.Priority != nil && !patch.Priority.Valid() {
		return Task{}, serrors.Validation("priority must be one of Critical, High, Medium, Low")
	}
	if patch.EstimatedDuration != nil && *patch.EstimatedDuration <= 0 {
		return Task{}, serrors.Validation("estimated_duration must be positive")
	}
	updated, err := s.repo.UpdateTask(ctx, id, expectedVersion, patch)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			recordVersionConflict()
			return Task{}, serrors.Conflict("WT_VERSION_CONFLICT", "task was modified concurrently; refetch and retry")
		}
		if errors.Is(err, ErrNotFound) {
			return Task{}, serrors.NotFound("task not found")
		}
		return Task{}, err
	}
	return updated, nil
}

func (s *TaskService) DeleteTask(ctx context.Context, id int64) error {
	task, _, err := s.visibleTask(ctx, id)
	if err != nil {
		return err
	}
	if _, err := s.requireManager(ctx, task.DepartmentID); err != nil {
		return err
	}
	assignments, err := s.repo.ListAssignmentsForTask(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteTask(ctx, id); err != nil {
		return err
	}
	assignees := make([]int64, 0, len(assignments))
	for _, a := range assignments {
		assignees = append(assignees, a.AssignedTo)
	}
	s.publish(TaskDeletedEvent{Task: task, AssignedTo: assignees})
	return nil
}

// assignmentForWrite loads the assignment and its task and checks the
// caller may mutate the row.
func (s *TaskService) assignmentForWrite(ctx context.Context, assignmentID int64) (TaskAssignment, Task, error) {
	assignment, err := s.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TaskAssignment{}, Task{}, serrors.NotFound("assignment not found")
		}
		return TaskAssignment{}, Task{}, err
	}
	task, err := s.repo.GetTask(ctx, assignment.TaskID)
	if err != nil {
		return TaskAssignment{}, Task{}, err
	}
	p, err := s.requirePrincipal(ctx)
	if err != nil {
		return TaskAssignment{}, Task{}, err
	}
	if !p.CanActOnAssignment(task.DepartmentID, assignment.AssignedTo) {
		return TaskAssignment{}, Task{}, serrors.Forbidden("only the assignee or a department manager can update this assignment")
	}
	return assignment, task, nil
}

// UpdateAssignmentStatus performs the optimistic-concurrency status
// write. Progress is derived from the status; started_at and completed_at
// are filled at most once. A stale expectedVersion answers with a
// version conflict and no row change.
func (s *TaskService) UpdateAssignmentStatus(ctx context.Context, assignmentID, expectedVersion int64, status Status, comments *string) (TaskAssignment, error) {
	if !status.Valid() {
		return TaskAssignment{}, serrors.Validation("unknown status")
	}
	assignment, task, err := s.assignmentForWrite(ctx, assignmentID)
	if err != nil {
		return TaskAssignment{}, err
	}

	write := statusWrite(status, time.Now().UTC())
	write.Comments = comments
	previous := assignment.Status
	updated, err := s.repo.UpdateAssignmentStatus(ctx, assignmentID, expectedVersion, write)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			recordVersionConflict()
			return TaskAssignment{}, serrors.Conflict("WT_VERSION_CONFLICT", "assignment was modified concurrently; refetch and retry")
		}
		if errors.Is(err, ErrNotFound) {
			return TaskAssignment{}, serrors.NotFound("assignment not found")
		}
		return TaskAssignment{}, err
	}
	s.publish(AssignmentStatusChangedEvent{Task: task, Assignment: updated, Previous: previous})
	return updated, nil
}

// UpdateAssignmentProgress writes progress directly, without touching the
// status, under the same conditional-version protocol.
func (s *TaskService) UpdateAssignmentProgress(ctx context.Context, assignmentID, expectedVersion int64, progress int) (TaskAssignment, error) {
	if progress < 0 || progress > 100 {
		return TaskAssignment{}, serrors.Validation("progress must be between 0 and 100")
	}
	if _, _, err := s.assignmentForWrite(ctx, assignmentID); err != nil {
		return TaskAssignment{}, err
	}
	updated, err := s.repo.UpdateAssignmentProgress(ctx, assignmentID, expectedVersion, progress)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			recordVersionConflict()
			return TaskAssignment{}, serrors.Conflict("WT_VERSION_CONFLICT", "assignment was modified concurrently; refetch and retry")
		}
		if errors.Is(err, ErrNotFound) {
			return TaskAssignment{}, serrors.NotFound("assignment not found")
		}
		return TaskAssignment{}, err
	}
	return updated, nil
}

// AddAssignment attaches one more user to a task; the (task, user) pair
// is unique, a second row for the same user answers with a conflict.
func (s *TaskService) AddAssignment(ctx context.Context, taskID, userID int64) (TaskAssignment, error) {
	if userID <= 0 {
		return TaskAssignment{}, serrors.Validation("assignee ids must be positive")
	}
	task, _, err := s.visibleTask(ctx, taskID)
	if err != nil {
		return TaskAssignment{}, err
	}
	if _, err := s.requireManager(ctx, task.DepartmentID); err != nil {
		return TaskAssignment{}, err
	}
	existing, err := s.repo.ListAssignmentsForTask(ctx, taskID)
	if err != nil {
		return TaskAssignment{}, err
	}
	for _, a := range existing {
		if a.AssignedTo == userID {
			return TaskAssignment{}, serrors.Conflict("WT_CONFLICT", "user already holds an assignment for this task")
		}
	}
	row, err := s.repo.InsertAssignment(ctx, taskID, userID)
	if err != nil {
		return TaskAssignment{}, err
	}
	s.publish(TaskAssignedEvent{Task: task, AssignedTo: []int64{userID}})
	return row, nil
}

func (s *TaskService) RemoveAssignment(ctx context.Context, assignmentID int64) error {
	assignment, err := s.repo.GetAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return serrors.NotFound("assignment not found")
		}
		return err
	}
	task, _, err := s.visibleTask(ctx, assignment.TaskID)
	if err != nil {
		return err
	}
	if _, err := s.requireManager(ctx, task.DepartmentID); err != nil {
		return err
	}
	err = s.repo.DeleteAssignment(ctx, assignmentID)
	if errors.Is(err, ErrNotFound) {
		return serrors.NotFound("assignment not found")
	}
	return err
}

// BulkUpdateStatus rewrites every assignment of every listed task to one
// status. Versions still advance per row, but no expected version is
// checked. Missing or out-of-scope task ids are skipped, not fatal.
func (s *TaskService) BulkUpdateStatus(ctx context.Context, taskIDs []int64, status Status) (BulkResult, error) {
	if !status.Valid() {
		return BulkResult{}, serrors.Validation("unknown status")
	}
	p, err := s.requirePrincipal(ctx)
	if err != nil {
		return BulkResult{}, err
	}
	var result BulkResult
	now := time.Now().UTC()
	for _, taskID := range taskIDs {
		task, err := s.repo.GetTask(ctx, taskID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				result.Skipped = append(result.Skipped, taskID)
				continue
			}
			return result, err
		}
		if !p.CanManageDepartment(task.DepartmentID) {
			result.Skipped = append(result.Skipped, taskID)
			continue
		}
		updated, err := s.repo.BulkUpdateStatus(ctx, taskID, statusWrite(status, now))
		if err != nil {
			return result, err
		}
		result.Updated += updated
	}
	return result, nil
}

// BulkAssign is destructive: for every listed task, all existing
// assignment rows are removed, including their status and progress, and
// the target user gets a single fresh To Do assignment. Missing or
// out-of-scope task ids are skipped.
func (s *TaskService) BulkAssign(ctx context.Context, taskIDs []int64, userID int64) (BulkResult, error) {
	if userID <= 0 {
		return BulkResult{}, serrors.Validation("assignee ids must be positive")
	}
	p, err := s.requirePrincipal(ctx)
	if err != nil {
		return BulkResult{}, err
	}
	var result BulkResult
	for _, taskID := range taskIDs {
		task, err := s.repo.GetTask(ctx, taskID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				result.Skipped = append(result.Skipped, taskID)
				continue
			}
			return result, err
		}
		if !p.CanManageDepartment(task.DepartmentID) {
			result.Skipped = append(result.Skipped, taskID)
			continue
		}
		err = s.repo.InTx(ctx, func(txCtx context.Context) error {
			_, err := s.repo.ReplaceAssignments(txCtx, taskID, []int64{userID})
			return err
		})
		if err != nil {
			return result, err
		}
		result.Updated++
		s.publish(TaskAssignedEvent{Task: task, AssignedTo: []int64{userID}})
	}
	return result, nil
}

// AddDependency links taskID to dependsOn. Validation rejects only
// self-references and duplicates; longer cycles through intermediate
// tasks are stored as-is.
func (s *TaskService) AddDependency(ctx context.Context, taskID, dependsOn int64, depType string) (TaskDependency, error) {
	if taskID == dependsOn {
		return TaskDependency{}, serrors.Validation("a task cannot depend on itself")
	}
	task, _, err := s.visibleTask(ctx, taskID)
	if err != nil {
		return TaskDependency{}, err
	}
	if _, err := s.repo.GetTask(ctx, dependsOn); err != nil {
		if errors.Is(err, ErrNotFound) {
			return TaskDependency{}, serrors.NotFound("dependency task not found")
		}
		return TaskDependency{}, err
	}
	if _, err := s.requireManager(ctx, task.DepartmentID); err != nil {
		return TaskDependency{}, err
	}
	if depType == "" {
		depType = DefaultDependencyType
	}
	existing, err := s.repo.ListDependencies(ctx, taskID)
	if err != nil {
		return TaskDependency{}, err
	}
	for _, dep := range existing {
		if dep.DependsOn == dependsOn {
			return TaskDependency{}, serrors.Conflict("WT_CONFLICT", "dependency already exists")
		}
	}
	return s.repo.InsertDependency(ctx, taskID, dependsOn, depType)
}

func (s *TaskService) ListDependencies(ctx context.Context, taskID int64) ([]TaskDependency, error) {
	if _, _, err := s.visibleTask(ctx, taskID); err != nil {
		return nil, err
	}
	return s.repo.ListDependencies(ctx, taskID)
}

func (s *TaskService) RemoveDependency(ctx context.Context, id int64) error {
	err := s.repo.DeleteDependency(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return serrors.NotFound("dependency not found")
	}
	return err
}

func (s *TaskService) CreateTemplate(ctx context.Context, in TemplateInsert) (TaskTemplate, error) {
	p, err := s.requirePrincipal(ctx)
	if err != nil {
		return TaskTemplate{}, err
	}
	if p.Role == composables.RolePersonnel {
		return TaskTemplate{}, serrors.Forbidden("requires admin or department manager role")
	}
	in.Name = strings.TrimSpace(in.Name)
	in.Title = strings.TrimSpace(in.Title)
	if in.Name == "" || in.Title == "" {
		return TaskTemplate{}, serrors.Validation("name and title are required")
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return TaskTemplate{}, serrors.Validation("priority must be one of Critical, High, Medium, Low")
	}
	in.CreatedBy = p.ID
	return s.repo.InsertTemplate(ctx, in)
}

func (s *TaskService) GetTemplate(ctx context.Context, id int64) (TaskTemplate, error) {
	tpl, err := s.repo.GetTemplate(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return TaskTemplate{}, serrors.NotFound("task template not found")
	}
	return tpl, err
}

func (s *TaskService) ListTemplates(ctx context.Context) ([]TaskTemplate, error) {
	return s.repo.ListTemplates(ctx)
}

// DeleteTemplate refuses to remove a template that tasks still reference.
func (s *TaskService) DeleteTemplate(ctx context.Context, id int64) error {
	p, err := s.requirePrincipal(ctx)
	if err != nil {
		return err
	}
	if p.Role == composables.RolePersonnel {
		return serrors.Forbidden("requires admin or department manager role")
	}
	if _, err := s.repo.GetTemplate(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return serrors.NotFound("task template not found")
		}
		return err
	}
	inUse, err := s.repo.CountTasksFromTemplate(ctx, id)
	if err != nil {
		return err
	}
	if inUse > 0 {
		return serrors.Conflict("WT_CONFLICT", "template is referenced by existing tasks")
	}
	return s.repo.DeleteTemplate(ctx, id)
}

// CountByDepartment, CountBySubdepartments and ReassignSubdepartment make
// TaskService satisfy the hierarchy module's task port.
func (s *TaskService) CountByDepartment(ctx context.Context, departmentID int64) (int, error) {
	return s.repo.CountByDepartment(ctx, departmentID)
}

func (s *TaskService) CountBySubdepartments(ctx context.Context, subdepartmentIDs []int64) (int, int, error) {
	return s.repo.CountBySubdepartments(ctx, subdepartmentIDs)
}

func (s *TaskService) ReassignSubdepartment(ctx context.Context, fromID, toID int64) (int, error) {
	return s.repo.ReassignSubdepartment(ctx, fromID, toID)
}

// Snapshots exposes joined task data for the analytics module.
func (s *TaskService) Snapshots(ctx context.Context, filter TaskFilter) ([]TaskSnapshot, error) {
	return s.repo.ListSnapshots(ctx, filter)
}

func statusWrite(status Status, now time.Time) StatusWrite {
	write := StatusWrite{
		Status:   status,
		Progress: status.DerivedProgress(),
		Now:      now,
	}
	if status == StatusInProgress {
		write.StartedAt = &now
	}
	if status == StatusCompleted {
		write.CompletedAt = &now
	}
	return write
}

func uniquePositive(ids []int64) ([]int64, error) {
	seen := map[int64]struct{}{}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, serrors.Validation("assignee ids must be positive")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
