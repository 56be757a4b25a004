package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/worktrack/modules/task/services"
	"github.com/iota-uz/worktrack/pkg/composables"
)

const (
	taskColumns = `id, department_id, subdepartment_id, template_id, title, description,
		priority, start_date, due_date, estimated_duration, version, created_by, created_at`

	assignmentColumns = `id, task_id, assigned_to, status, progress, version, comments,
		started_at, completed_at, created_at, updated_at`

	insertTaskQuery = `
		INSERT INTO tasks (department_id, subdepartment_id, template_id, title, description,
			priority, start_date, due_date, estimated_duration, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + taskColumns

	selectTaskQuery = `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1`

	// Same conditional-version protocol as assignment writes: the version
	// predicate plus increment run in one statement.
	updateTaskQuery = `
		UPDATE tasks
		SET title              = COALESCE($3, title),
		    description        = CASE WHEN $4 THEN $5 ELSE description END,
		    priority           = COALESCE($6, priority),
		    start_date         = CASE WHEN $7 THEN $8 ELSE start_date END,
		    due_date           = CASE WHEN $9 THEN $10 ELSE due_date END,
		    estimated_duration = COALESCE($11, estimated_duration),
		    version            = version + 1
		WHERE id = $1 AND version = $2
		RETURNING ` + taskColumns

	deleteTaskQuery = `DELETE FROM tasks WHERE id = $1`

	listTasksQuery = `
		SELECT ` + taskColumns + `
		FROM tasks t
		WHERE ($1::bigint[] IS NULL OR t.subdepartment_id = ANY($1))
		  AND ($2::bigint IS NULL OR t.department_id = $2)
		  AND ($3::text IS NULL OR t.priority = $3)
		  AND ($4::bigint IS NULL OR EXISTS (
		        SELECT 1 FROM task_assignments a
		        WHERE a.task_id = t.id AND a.assigned_to = $4))
		  AND ($5::text IS NULL OR EXISTS (
		        SELECT 1 FROM task_assignments a
		        WHERE a.task_id = t.id AND a.status = $5))
		ORDER BY t.id`

	listAssignmentsByTasksQuery = `
		SELECT ` + assignmentColumns + `
		FROM task_assignments
		WHERE task_id = ANY($1)
		ORDER BY id`

	countByDepartmentQuery = `
		SELECT COUNT(*) FROM tasks WHERE department_id = $1`

	countBySubdepartmentsQuery = `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE a.total > 0 AND a.total = a.done)
		FROM tasks t
		LEFT JOIN LATERAL (
		    SELECT COUNT(*) AS total,
		           COUNT(*) FILTER (WHERE status = 'Completed') AS done
		    FROM task_assignments
		    WHERE task_id = t.id
		) a ON TRUE
		WHERE t.subdepartment_id = ANY($1)`

	reassignTasksQuery = `
		UPDATE tasks SET subdepartment_id = $2 WHERE subdepartment_id = $1`

	insertAssignmentQuery = `
		INSERT INTO task_assignments (task_id, assigned_to)
		VALUES ($1, $2)
		RETURNING ` + assignmentColumns

	selectAssignmentQuery = `
		SELECT ` + assignmentColumns + ` FROM task_assignments WHERE id = $1`

	listAssignmentsForTaskQuery = `
		SELECT ` + assignmentColumns + `
		FROM task_assignments
		WHERE task_id = $1
		ORDER BY id`

	deleteAssignmentQuery = `DELETE FROM task_assignments WHERE id = $1`

	// The version predicate plus version increment in one statement is
	// the whole optimistic concurrency story; timestamps fill at most
	// once via COALESCE, and comments only change when a value arrives.
	updateAssignmentStatusQuery = `
		UPDATE task_assignments
		SET status       = $3,
		    progress     = $4,
		    comments     = COALESCE($5, comments),
		    started_at   = COALESCE(started_at, $6),
		    completed_at = COALESCE(completed_at, $7),
		    version      = version + 1,
		    updated_at   = $8
		WHERE id = $1 AND version = $2
		RETURNING ` + assignmentColumns

	updateAssignmentProgressQuery = `
		UPDATE task_assignments
		SET progress   = $3,
		    version    = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $2
		RETURNING ` + assignmentColumns

	bulkUpdateStatusQuery = `
		UPDATE task_assignments
		SET status       = $2,
		    progress     = $3,
		    started_at   = COALESCE(started_at, $4),
		    completed_at = COALESCE(completed_at, $5),
		    version      = version + 1,
		    updated_at   = $6
		WHERE task_id = $1`

	deleteAssignmentsForTaskQuery = `DELETE FROM task_assignments WHERE task_id = $1`

	insertDependencyQuery = `
		INSERT INTO task_dependencies (task_id, depends_on, dependency_type)
		VALUES ($1, $2, $3)
		RETURNING id, task_id, depends_on, dependency_type`

	listDependenciesQuery = `
		SELECT id, task_id, depends_on, dependency_type
		FROM task_dependencies
		WHERE task_id = $1
		ORDER BY id`

	deleteDependencyQuery = `DELETE FROM task_dependencies WHERE id = $1`

	insertTemplateQuery = `
		INSERT INTO task_templates (name, title, description, priority, estimated_duration, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, name, title, description, priority, estimated_duration, created_by, created_at`

	selectTemplateQuery = `
		SELECT id, name, title, description, priority, estimated_duration, created_by, created_at
		FROM task_templates
		WHERE id = $1`

	listTemplatesQuery = `
		SELECT id, name, title, description, priority, estimated_duration, created_by, created_at
		FROM task_templates
		ORDER BY id`

	deleteTemplateQuery = `DELETE FROM task_templates WHERE id = $1`

	countTasksFromTemplateQuery = `
		SELECT COUNT(*) FROM tasks WHERE template_id = $1`

	taskExistsQuery       = `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`
	assignmentExistsQuery = `SELECT EXISTS (SELECT 1 FROM task_assignments WHERE id = $1)`
)

type PGRepository struct{}

func NewPGRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return composables.InTx(ctx, fn)
}

func (r *PGRepository) InsertTask(ctx context.Context, in services.TaskInsert) (services.Task, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.Task{}, err
	}
	return scanTask(tx.QueryRow(ctx, insertTaskQuery,
		in.DepartmentID, in.SubdepartmentID, in.TemplateID, in.Title, in.Description,
		in.Priority, in.StartDate, in.DueDate, in.EstimatedDuration, in.CreatedBy))
}

func (r *PGRepository) GetTask(ctx context.Context, id int64) (services.Task, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.Task{}, err
	}
	task, err := scanTask(tx.QueryRow(ctx, selectTaskQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return services.Task{}, services.ErrNotFound
	}
	return task, err
}

func (r *PGRepository) UpdateTask(ctx context.Context, id, expectedVersion int64, patch services.TaskPatch) (services.Task, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.Task{}, err
	}
	task, err := scanTask(tx.QueryRow(ctx, updateTaskQuery,
		id, expectedVersion,
		patch.Title,
		patch.Description != nil, patch.Description,
		patch.Priority,
		patch.StartDateSet, patch.StartDate,
		patch.DueDateSet, patch.DueDate,
		patch.EstimatedDuration))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, taskExistsQuery, id).Scan(&exists); err != nil {
			return services.Task{}, err
		}
		if exists {
			return services.Task{}, services.ErrVersionConflict
		}
		return services.Task{}, services.ErrNotFound
	}
	return task, err
}

func (r *PGRepository) DeleteTask(ctx context.Context, id int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, deleteTaskQuery, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return services.ErrNotFound
	}
	return nil
}

func (r *PGRepository) ListTasks(ctx context.Context, filter services.TaskFilter) ([]services.Task, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, listTasksQuery, filterArgs(filter)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]services.Task, 0)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, rows.Err()
}

func (r *PGRepository) ListSnapshots(ctx context.Context, filter services.TaskFilter) ([]services.TaskSnapshot, error) {
	tasks, err := r.ListTasks(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return []services.TaskSnapshot{}, nil
	}

	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(tasks))
	index := make(map[int64]int, len(tasks))
	snapshots := make([]services.TaskSnapshot, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
		index[task.ID] = i
		snapshots[i] = services.TaskSnapshot{Task: task}
	}

	rows, err := tx.Query(ctx, listAssignmentsByTasksQuery, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		i := index[a.TaskID]
		snapshots[i].Assignments = append(snapshots[i].Assignments, a)
	}
	return snapshots, rows.Err()
}

func filterArgs(filter services.TaskFilter) []any {
	var scope []int64
	if len(filter.SubdepartmentIDs) > 0 {
		scope = filter.SubdepartmentIDs
	}
	var priority, status *string
	if filter.Priority != nil {
		s := string(*filter.Priority)
		priority = &s
	}
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}
	return []any{scope, filter.DepartmentID, priority, filter.AssignedTo, status}
}

func (r *PGRepository) CountByDepartment(ctx context.Context, departmentID int64) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = tx.QueryRow(ctx, countByDepartmentQuery, departmentID).Scan(&n)
	return n, err
}

func (r *PGRepository) CountBySubdepartments(ctx context.Context, subdepartmentIDs []int64) (int, int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, 0, err
	}
	var total, completed int
	err = tx.QueryRow(ctx, countBySubdepartmentsQuery, subdepartmentIDs).Scan(&total, &completed)
	return total, completed, err
}

func (r *PGRepository) ReassignSubdepartment(ctx context.Context, fromID, toID int64) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, reassignTasksQuery, fromID, toID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PGRepository) InsertAssignment(ctx context.Context, taskID, userID int64) (services.TaskAssignment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.TaskAssignment{}, err
	}
	return scanAssignment(tx.QueryRow(ctx, insertAssignmentQuery, taskID, userID))
}

func (r *PGRepository) GetAssignment(ctx context.Context, id int64) (services.TaskAssignment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.TaskAssignment{}, err
	}
	a, err := scanAssignment(tx.QueryRow(ctx, selectAssignmentQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return services.TaskAssignment{}, services.ErrNotFound
	}
	return a, err
}

func (r *PGRepository) ListAssignmentsForTask(ctx context.Context, taskID int64) ([]services.TaskAssignment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, listAssignmentsForTaskQuery, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]services.TaskAssignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *PGRepository) DeleteAssignment(ctx context.Context, id int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, deleteAssignmentQuery, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return services.ErrNotFound
	}
	return nil
}

func (r *PGRepository) UpdateAssignmentStatus(ctx context.Context, id, expectedVersion int64, write services.StatusWrite) (services.TaskAssignment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.TaskAssignment{}, err
	}
	a, err := scanAssignment(tx.QueryRow(ctx, updateAssignmentStatusQuery,
		id, expectedVersion, write.Status, write.Progress, write.Comments,
		write.StartedAt, write.CompletedAt, write.Now))
	if errors.Is(err, pgx.ErrNoRows) {
		return services.TaskAssignment{}, r.assignmentWriteMiss(ctx, id)
	}
	return a, err
}

func (r *PGRepository) UpdateAssignmentProgress(ctx context.Context, id, expectedVersion int64, progress int) (services.TaskAssignment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.TaskAssignment{}, err
	}
	a, err := scanAssignment(tx.QueryRow(ctx, updateAssignmentProgressQuery, id, expectedVersion, progress))
	if errors.Is(err, pgx.ErrNoRows) {
		return services.TaskAssignment{}, r.assignmentWriteMiss(ctx, id)
	}
	return a, err
}

// assignmentWriteMiss disambiguates a zero-row conditional update: the
// row either exists at another version or is gone, so the caller can
// answer 409 versus 404.
func (r *PGRepository) assignmentWriteMiss(ctx context.Context, id int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	var exists bool
	if err := tx.QueryRow(ctx, assignmentExistsQuery, id).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return services.ErrVersionConflict
	}
	return services.ErrNotFound
}

func (r *PGRepository) BulkUpdateStatus(ctx context.Context, taskID int64, write services.StatusWrite) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, bulkUpdateStatusQuery,
		taskID, write.Status, write.Progress,
		write.StartedAt, write.CompletedAt, write.Now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PGRepository) ReplaceAssignments(ctx context.Context, taskID int64, userIDs []int64) ([]services.TaskAssignment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, deleteAssignmentsForTaskQuery, taskID); err != nil {
		return nil, err
	}
	rows := make([]services.TaskAssignment, 0, len(userIDs))
	for _, userID := range userIDs {
		a, err := scanAssignment(tx.QueryRow(ctx, insertAssignmentQuery, taskID, userID))
		if err != nil {
			return nil, err
		}
		rows = append(rows, a)
	}
	return rows, nil
}

func (r *PGRepository) InsertDependency(ctx context.Context, taskID, dependsOn int64, depType string) (services.TaskDependency, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.TaskDependency{}, err
	}
	var d services.TaskDependency
	err = tx.QueryRow(ctx, insertDependencyQuery, taskID, dependsOn, depType).
		Scan(&d.ID, &d.TaskID, &d.DependsOn, &d.Type)
	return d, err
}

func (r *PGRepository) ListDependencies(ctx context.Context, taskID int64) ([]services.TaskDependency, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, listDependenciesQuery, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]services.TaskDependency, 0)
	for rows.Next() {
		var d services.TaskDependency
		if err := rows.Scan(&d.ID, &d.TaskID, &d.DependsOn, &d.Type); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PGRepository) DeleteDependency(ctx context.Context, id int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, deleteDependencyQuery, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return services.ErrNotFound
	}
	return nil
}

func (r *PGRepository) InsertTemplate(ctx context.Context, in services.TemplateInsert) (services.TaskTemplate, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.TaskTemplate{}, err
	}
	return scanTemplate(tx.QueryRow(ctx, insertTemplateQuery,
		in.Name, in.Title, in.Description, in.Priority, in.EstimatedDuration, in.CreatedBy))
}

func (r *PGRepository) GetTemplate(ctx context.Context, id int64) (services.TaskTemplate, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.TaskTemplate{}, err
	}
	tpl, err := scanTemplate(tx.QueryRow(ctx, selectTemplateQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return services.TaskTemplate{}, services.ErrNotFound
	}
	return tpl, err
}

func (r *PGRepository) ListTemplates(ctx context.Context) ([]services.TaskTemplate, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, listTemplatesQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]services.TaskTemplate, 0)
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func (r *PGRepository) DeleteTemplate(ctx context.Context, id int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, deleteTemplateQuery, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return services.ErrNotFound
	}
	return nil
}

func (r *PGRepository) CountTasksFromTemplate(ctx context.Context, templateID int64) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = tx.QueryRow(ctx, countTasksFromTemplateQuery, templateID).Scan(&n)
	return n, err
}

func scanTask(row pgx.Row) (services.Task, error) {
	var t services.Task
	err := row.Scan(&t.ID, &t.DepartmentID, &t.SubdepartmentID, &t.TemplateID, &t.Title,
		&t.Description, &t.Priority, &t.StartDate, &t.DueDate, &t.EstimatedDuration,
		&t.Version, &t.CreatedBy, &t.CreatedAt)
	return t, err
}

func scanAssignment(row pgx.Row) (services.TaskAssignment, error) {
	var a services.TaskAssignment
	err := row.Scan(&a.ID, &a.TaskID, &a.AssignedTo, &a.Status, &a.Progress, &a.Version,
		&a.Comments, &a.StartedAt, &a.CompletedAt, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func scanTemplate(row pgx.Row) (services.TaskTemplate, error) {
	var t services.TaskTemplate
	err := row.Scan(&t.ID, &t.Name, &t.Title, &t.Description, &t.Priority,
		&t.EstimatedDuration, &t.CreatedBy, &t.CreatedAt)
	return t, err
}
