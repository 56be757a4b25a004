package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iota-uz/worktrack/modules/task/services"
)

// MemoryRepository is the DB_DRIVER=memory implementation of the task
// repository. Version checks and set-once timestamps behave exactly like
// the Postgres conditional updates.
type MemoryRepository struct {
	mu sync.RWMutex

	tasks        map[int64]services.Task
	assignments  map[int64]services.TaskAssignment
	dependencies map[int64]services.TaskDependency
	templates    map[int64]services.TaskTemplate
	nextID       int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tasks:        map[int64]services.Task{},
		assignments:  map[int64]services.TaskAssignment{},
		dependencies: map[int64]services.TaskDependency{},
		templates:    map[int64]services.TaskTemplate{},
		nextID:       1,
	}
}

func (r *MemoryRepository) allocate() int64 {
	id := r.nextID
	r.nextID++
	return id
}

func (r *MemoryRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *MemoryRepository) InsertTask(ctx context.Context, in services.TaskInsert) (services.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task := services.Task{
		ID:                r.allocate(),
		DepartmentID:      in.DepartmentID,
		SubdepartmentID:   in.SubdepartmentID,
		TemplateID:        in.TemplateID,
		Title:             in.Title,
		Description:       in.Description,
		Priority:          in.Priority,
		StartDate:         in.StartDate,
		DueDate:           in.DueDate,
		EstimatedDuration: in.EstimatedDuration,
		Version:           1,
		CreatedBy:         in.CreatedBy,
		CreatedAt:         time.Now().UTC(),
	}
	r.tasks[task.ID] = task
	return task, nil
}

func (r *MemoryRepository) GetTask(ctx context.Context, id int64) (services.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	task, ok := r.tasks[id]
	if !ok {
		return services.Task{}, services.ErrNotFound
	}
	return task, nil
}

func (r *MemoryRepository) UpdateTask(ctx context.Context, id, expectedVersion int64, patch services.TaskPatch) (services.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return services.Task{}, services.ErrNotFound
	}
	if task.Version != expectedVersion {
		return services.Task{}, services.ErrVersionConflict
	}
	if patch.Title != nil {
		task.Title = *patch.Title
	}
	if patch.Description != nil {
		task.Description = patch.Description
	}
	if patch.Priority != nil {
		task.Priority = *patch.Priority
	}
	if patch.StartDateSet {
		task.StartDate = patch.StartDate
	}
	if patch.DueDateSet {
		task.DueDate = patch.DueDate
	}
	if patch.EstimatedDuration != nil {
		task.EstimatedDuration = patch.EstimatedDuration
	}
	task.Version++
	r.tasks[id] = task
	return task, nil
}

// DeleteTask removes the task together with its assignment and
// dependency rows, mirroring the ON DELETE CASCADE constraints.
func (r *MemoryRepository) DeleteTask(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return services.ErrNotFound
	}
	delete(r.tasks, id)
	for aid, a := range r.assignments {
		if a.TaskID == id {
			delete(r.assignments, aid)
		}
	}
	for did, d := range r.dependencies {
		if d.TaskID == id || d.DependsOn == id {
			delete(r.dependencies, did)
		}
	}
	return nil
}

func (r *MemoryRepository) ListTasks(ctx context.Context, filter services.TaskFilter) ([]services.Task, error) {
	snapshots, err := r.ListSnapshots(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]services.Task, len(snapshots))
	for i, snap := range snapshots {
		out[i] = snap.Task
	}
	return out, nil
}

func (r *MemoryRepository) ListSnapshots(ctx context.Context, filter services.TaskFilter) ([]services.TaskSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scope := map[int64]struct{}{}
	for _, id := range filter.SubdepartmentIDs {
		scope[id] = struct{}{}
	}

	out := make([]services.TaskSnapshot, 0)
	for _, task := range r.tasks {
		if len(scope) > 0 {
			if task.SubdepartmentID == nil {
				continue
			}
			if _, ok := scope[*task.SubdepartmentID]; !ok {
				continue
			}
		}
		if filter.DepartmentID != nil && task.DepartmentID != *filter.DepartmentID {
			continue
		}
		if filter.Priority != nil && task.Priority != *filter.Priority {
			continue
		}
		snap := services.TaskSnapshot{Task: task, Assignments: r.assignmentsOf(task.ID)}
		if filter.AssignedTo != nil && !hasAssignee(snap.Assignments, *filter.AssignedTo) {
			continue
		}
		if filter.Status != nil && !hasStatus(snap.Assignments, *filter.Status) {
			continue
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Task.ID < out[j].Task.ID })
	return out, nil
}

func (r *MemoryRepository) assignmentsOf(taskID int64) []services.TaskAssignment {
	rows := make([]services.TaskAssignment, 0)
	for _, a := range r.assignments {
		if a.TaskID == taskID {
			rows = append(rows, a)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows
}

func hasAssignee(rows []services.TaskAssignment, userID int64) bool {
	for _, a := range rows {
		if a.AssignedTo == userID {
			return true
		}
	}
	return false
}

func hasStatus(rows []services.TaskAssignment, status services.Status) bool {
	for _, a := range rows {
		if a.Status == status {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) CountByDepartment(ctx context.Context, departmentID int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, task := range r.tasks {
		if task.DepartmentID == departmentID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) CountBySubdepartments(ctx context.Context, subdepartmentIDs []int64) (int, int, error) {
	snapshots, err := r.ListSnapshots(ctx, services.TaskFilter{SubdepartmentIDs: subdepartmentIDs})
	if err != nil {
		return 0, 0, err
	}
	completed := 0
	for _, snap := range snapshots {
		if snap.Completed() {
			completed++
		}
	}
	return len(snapshots), completed, nil
}

func (r *MemoryRepository) ReassignSubdepartment(ctx context.Context, fromID, toID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	moved := 0
	for id, task := range r.tasks {
		if task.SubdepartmentID != nil && *task.SubdepartmentID == fromID {
			to := toID
			task.SubdepartmentID = &to
			r.tasks[id] = task
			moved++
		}
	}
	return moved, nil
}

func (r *MemoryRepository) InsertAssignment(ctx context.Context, taskID, userID int64) (services.TaskAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	a := services.TaskAssignment{
		ID:         r.allocate(),
		TaskID:     taskID,
		AssignedTo: userID,
		Status:     services.StatusToDo,
		Progress:   0,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.assignments[a.ID] = a
	return a, nil
}

func (r *MemoryRepository) GetAssignment(ctx context.Context, id int64) (services.TaskAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.assignments[id]
	if !ok {
		return services.TaskAssignment{}, services.ErrNotFound
	}
	return a, nil
}

func (r *MemoryRepository) ListAssignmentsForTask(ctx context.Context, taskID int64) ([]services.TaskAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.assignmentsOf(taskID), nil
}

func (r *MemoryRepository) DeleteAssignment(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.assignments[id]; !ok {
		return services.ErrNotFound
	}
	delete(r.assignments, id)
	return nil
}

func (r *MemoryRepository) UpdateAssignmentStatus(ctx context.Context, id, expectedVersion int64, write services.StatusWrite) (services.TaskAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[id]
	if !ok {
		return services.TaskAssignment{}, services.ErrNotFound
	}
	if a.Version != expectedVersion {
		return services.TaskAssignment{}, services.ErrVersionConflict
	}
	r.assignments[id] = applyStatusWrite(a, write)
	return r.assignments[id], nil
}

func (r *MemoryRepository) UpdateAssignmentProgress(ctx context.Context, id, expectedVersion int64, progress int) (services.TaskAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[id]
	if !ok {
		return services.TaskAssignment{}, services.ErrNotFound
	}
	if a.Version != expectedVersion {
		return services.TaskAssignment{}, services.ErrVersionConflict
	}
	a.Progress = progress
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	r.assignments[id] = a
	return a, nil
}

func (r *MemoryRepository) BulkUpdateStatus(ctx context.Context, taskID int64, write services.StatusWrite) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	updated := 0
	for id, a := range r.assignments {
		if a.TaskID != taskID {
			continue
		}
		r.assignments[id] = applyStatusWrite(a, write)
		updated++
	}
	return updated, nil
}

func applyStatusWrite(a services.TaskAssignment, write services.StatusWrite) services.TaskAssignment {
	a.Status = write.Status
	a.Progress = write.Progress
	if write.Comments != nil {
		a.Comments = write.Comments
	}
	if a.StartedAt == nil && write.StartedAt != nil {
		a.StartedAt = write.StartedAt
	}
	if a.CompletedAt == nil && write.CompletedAt != nil {
		a.CompletedAt = write.CompletedAt
	}
	a.Version++
	a.UpdatedAt = write.Now
	return a
}

func (r *MemoryRepository) ReplaceAssignments(ctx context.Context, taskID int64, userIDs []int64) ([]services.TaskAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.assignments {
		if a.TaskID == taskID {
			delete(r.assignments, id)
		}
	}
	now := time.Now().UTC()
	rows := make([]services.TaskAssignment, 0, len(userIDs))
	for _, userID := range userIDs {
		a := services.TaskAssignment{
			ID:         r.allocate(),
			TaskID:     taskID,
			AssignedTo: userID,
			Status:     services.StatusToDo,
			Progress:   0,
			Version:    1,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		r.assignments[a.ID] = a
		rows = append(rows, a)
	}
	return rows, nil
}

func (r *MemoryRepository) InsertDependency(ctx context.Context, taskID, dependsOn int64, depType string) (services.TaskDependency, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := services.TaskDependency{ID: r.allocate(), TaskID: taskID, DependsOn: dependsOn, Type: depType}
	r.dependencies[d.ID] = d
	return d, nil
}

func (r *MemoryRepository) ListDependencies(ctx context.Context, taskID int64) ([]services.TaskDependency, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]services.TaskDependency, 0)
	for _, d := range r.dependencies {
		if d.TaskID == taskID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) DeleteDependency(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.dependencies[id]; !ok {
		return services.ErrNotFound
	}
	delete(r.dependencies, id)
	return nil
}

func (r *MemoryRepository) InsertTemplate(ctx context.Context, in services.TemplateInsert) (services.TaskTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tpl := services.TaskTemplate{
		ID:                r.allocate(),
		Name:              in.Name,
		Title:             in.Title,
		Description:       in.Description,
		Priority:          in.Priority,
		EstimatedDuration: in.EstimatedDuration,
		CreatedBy:         in.CreatedBy,
		CreatedAt:         time.Now().UTC(),
	}
	r.templates[tpl.ID] = tpl
	return tpl, nil
}

func (r *MemoryRepository) GetTemplate(ctx context.Context, id int64) (services.TaskTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tpl, ok := r.templates[id]
	if !ok {
		return services.TaskTemplate{}, services.ErrNotFound
	}
	return tpl, nil
}

func (r *MemoryRepository) ListTemplates(ctx context.Context) ([]services.TaskTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]services.TaskTemplate, 0, len(r.templates))
	for _, tpl := range r.templates {
		out = append(out, tpl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) DeleteTemplate(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.templates[id]; !ok {
		return services.ErrNotFound
	}
	delete(r.templates, id)
	return nil
}

func (r *MemoryRepository) CountTasksFromTemplate(ctx context.Context, templateID int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, task := range r.tasks {
		if task.TemplateID != nil && *task.TemplateID == templateID {
			n++
		}
	}
	return n, nil
}
