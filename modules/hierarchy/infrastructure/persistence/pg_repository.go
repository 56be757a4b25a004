package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/worktrack/modules/hierarchy/services"
	"github.com/iota-uz/worktrack/pkg/composables"
)

const (
	insertDepartmentQuery = `
		INSERT INTO departments (name, description, manager_id)
		VALUES ($1, $2, $3)
		RETURNING id, name, description, manager_id, created_at`

	selectDepartmentQuery = `
		SELECT id, name, description, manager_id, created_at
		FROM departments
		WHERE id = $1`

	listDepartmentsQuery = `
		SELECT id, name, description, manager_id, created_at
		FROM departments
		ORDER BY id`

	deleteDepartmentQuery = `DELETE FROM departments WHERE id = $1`

	countSubdepartmentsQuery = `
		SELECT COUNT(*) FROM subdepartments WHERE department_id = $1`

	insertSubdepartmentQuery = `
		INSERT INTO subdepartments (department_id, parent_id, name, description, manager_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, department_id, parent_id, name, description, manager_id, employee_count, created_at`

	selectSubdepartmentQuery = `
		SELECT id, department_id, parent_id, name, description, manager_id, employee_count, created_at
		FROM subdepartments
		WHERE id = $1`

	updateSubdepartmentQuery = `
		UPDATE subdepartments
		SET name        = COALESCE($2, name),
		    description = CASE WHEN $3 THEN $4 ELSE description END,
		    parent_id   = CASE WHEN $5 THEN $6 ELSE parent_id END,
		    manager_id  = CASE WHEN $7 THEN $8 ELSE manager_id END
		WHERE id = $1
		RETURNING id, department_id, parent_id, name, description, manager_id, employee_count, created_at`

	deleteSubdepartmentQuery = `DELETE FROM subdepartments WHERE id = $1`

	listChildrenQuery = `
		SELECT id, department_id, parent_id, name, description, manager_id, employee_count, created_at
		FROM subdepartments
		WHERE parent_id = $1
		ORDER BY id`

	listChildIDsQuery = `SELECT id FROM subdepartments WHERE parent_id = $1 ORDER BY id`

	listRootsQuery = `
		SELECT id, department_id, parent_id, name, description, manager_id, employee_count, created_at
		FROM subdepartments
		WHERE department_id = $1 AND parent_id IS NULL
		ORDER BY id`

	insertParticipationQuery = `
		INSERT INTO participations (subdepartment_id, user_id, role)
		VALUES ($1, $2, $3)
		RETURNING id, subdepartment_id, user_id, role, joined_at`

	selectParticipationQuery = `
		SELECT id, subdepartment_id, user_id, role, joined_at
		FROM participations
		WHERE id = $1`

	findParticipationQuery = `
		SELECT id, subdepartment_id, user_id, role, joined_at
		FROM participations
		WHERE subdepartment_id = $1 AND user_id = $2`

	updateParticipationRoleQuery = `
		UPDATE participations
		SET role = $2
		WHERE id = $1
		RETURNING id, subdepartment_id, user_id, role, joined_at`

	deleteParticipationQuery = `DELETE FROM participations WHERE id = $1`

	listParticipationsQuery = `
		SELECT id, subdepartment_id, user_id, role, joined_at
		FROM participations
		WHERE subdepartment_id = ANY($1)
		ORDER BY id`

	countMembersQuery = `
		SELECT COUNT(*) FROM participations WHERE subdepartment_id = ANY($1)`

	deleteDuplicateMembersQuery = `
		DELETE FROM participations
		WHERE subdepartment_id = $1
		  AND user_id IN (SELECT user_id FROM participations WHERE subdepartment_id = $2)`

	reassignMembersQuery = `
		UPDATE participations
		SET subdepartment_id = $2
		WHERE subdepartment_id = $1`

	refreshEmployeeCountQuery = `
		UPDATE subdepartments
		SET employee_count = (SELECT COUNT(*) FROM participations WHERE subdepartment_id = $1)
		WHERE id = $1`
)

// PGRepository backs HierarchyService with Postgres. Every method resolves
// its executor from the context, so the same code runs inside and outside
// a transaction.
type PGRepository struct{}

func NewPGRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return composables.InTx(ctx, fn)
}

func (r *PGRepository) InsertDepartment(ctx context.Context, in services.DepartmentInsert) (services.Department, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.Department{}, err
	}
	var dep services.Department
	err = tx.QueryRow(ctx, insertDepartmentQuery, in.Name, in.Description, in.ManagerID).
		Scan(&dep.ID, &dep.Name, &dep.Description, &dep.ManagerID, &dep.CreatedAt)
	return dep, err
}

func (r *PGRepository) GetDepartment(ctx context.Context, id int64) (services.Department, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.Department{}, err
	}
	var dep services.Department
	err = tx.QueryRow(ctx, selectDepartmentQuery, id).
		Scan(&dep.ID, &dep.Name, &dep.Description, &dep.ManagerID, &dep.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return services.Department{}, services.ErrNotFound
	}
	return dep, err
}

func (r *PGRepository) ListDepartments(ctx context.Context) ([]services.Department, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, listDepartmentsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]services.Department, 0)
	for rows.Next() {
		var dep services.Department
		if err := rows.Scan(&dep.ID, &dep.Name, &dep.Description, &dep.ManagerID, &dep.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, dep)
	}
	return out, rows.Err()
}

func (r *PGRepository) DeleteDepartment(ctx context.Context, id int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, deleteDepartmentQuery, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return services.ErrNotFound
	}
	return nil
}

func (r *PGRepository) CountSubdepartments(ctx context.Context, departmentID int64) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = tx.QueryRow(ctx, countSubdepartmentsQuery, departmentID).Scan(&n)
	return n, err
}

func (r *PGRepository) InsertSubdepartment(ctx context.Context, in services.SubdepartmentInsert) (services.Subdepartment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.Subdepartment{}, err
	}
	return scanSubdepartmentRow(tx.QueryRow(ctx, insertSubdepartmentQuery,
		in.DepartmentID, in.ParentID, in.Name, in.Description, in.ManagerID))
}

func (r *PGRepository) GetSubdepartment(ctx context.Context, id int64) (services.Subdepartment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.Subdepartment{}, err
	}
	sub, err := scanSubdepartmentRow(tx.QueryRow(ctx, selectSubdepartmentQuery, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return services.Subdepartment{}, services.ErrNotFound
	}
	return sub, err
}

func (r *PGRepository) UpdateSubdepartment(ctx context.Context, id int64, patch services.SubdepartmentPatch) (services.Subdepartment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.Subdepartment{}, err
	}
	descriptionSet := patch.Description != nil
	sub, err := scanSubdepartmentRow(tx.QueryRow(ctx, updateSubdepartmentQuery,
		id,
		patch.Name,
		descriptionSet, patch.Description,
		patch.ParentIDSet, patch.ParentID,
		patch.ManagerIDSet, patch.ManagerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return services.Subdepartment{}, services.ErrNotFound
	}
	return sub, err
}

func (r *PGRepository) DeleteSubdepartment(ctx context.Context, id int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, deleteSubdepartmentQuery, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return services.ErrNotFound
	}
	return nil
}

func (r *PGRepository) ListChildren(ctx context.Context, parentID int64) ([]services.Subdepartment, error) {
	return r.querySubdepartments(ctx, listChildrenQuery, parentID)
}

func (r *PGRepository) ListChildIDs(ctx context.Context, parentID int64) ([]int64, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, listChildIDsQuery, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PGRepository) ListRoots(ctx context.Context, departmentID int64) ([]services.Subdepartment, error) {
	return r.querySubdepartments(ctx, listRootsQuery, departmentID)
}

func (r *PGRepository) querySubdepartments(ctx context.Context, query string, args ...any) ([]services.Subdepartment, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]services.Subdepartment, 0)
	for rows.Next() {
		var sub services.Subdepartment
		if err := rows.Scan(&sub.ID, &sub.DepartmentID, &sub.ParentID, &sub.Name,
			&sub.Description, &sub.ManagerID, &sub.EmployeeCount, &sub.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (r *PGRepository) InsertParticipation(ctx context.Context, in services.ParticipationInsert) (services.Participation, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.Participation{}, err
	}
	var part services.Participation
	err = tx.QueryRow(ctx, insertParticipationQuery, in.SubdepartmentID, in.UserID, in.Role).
		Scan(&part.ID, &part.SubdepartmentID, &part.UserID, &part.Role, &part.JoinedAt)
	return part, err
}

func (r *PGRepository) GetParticipation(ctx context.Context, id int64) (services.Participation, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.Participation{}, err
	}
	var part services.Participation
	err = tx.QueryRow(ctx, selectParticipationQuery, id).
		Scan(&part.ID, &part.SubdepartmentID, &part.UserID, &part.Role, &part.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return services.Participation{}, services.ErrNotFound
	}
	return part, err
}

func (r *PGRepository) FindParticipation(ctx context.Context, subdepartmentID, userID int64) (services.Participation, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.Participation{}, err
	}
	var part services.Participation
	err = tx.QueryRow(ctx, findParticipationQuery, subdepartmentID, userID).
		Scan(&part.ID, &part.SubdepartmentID, &part.UserID, &part.Role, &part.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return services.Participation{}, services.ErrNotFound
	}
	return part, err
}

func (r *PGRepository) UpdateParticipationRole(ctx context.Context, id int64, role string) (services.Participation, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return services.Participation{}, err
	}
	var part services.Participation
	err = tx.QueryRow(ctx, updateParticipationRoleQuery, id, role).
		Scan(&part.ID, &part.SubdepartmentID, &part.UserID, &part.Role, &part.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return services.Participation{}, services.ErrNotFound
	}
	return part, err
}

func (r *PGRepository) DeleteParticipation(ctx context.Context, id int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, deleteParticipationQuery, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return services.ErrNotFound
	}
	return nil
}

func (r *PGRepository) ListParticipations(ctx context.Context, subdepartmentIDs []int64) ([]services.Participation, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, listParticipationsQuery, subdepartmentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]services.Participation, 0)
	for rows.Next() {
		var part services.Participation
		if err := rows.Scan(&part.ID, &part.SubdepartmentID, &part.UserID, &part.Role, &part.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, part)
	}
	return out, rows.Err()
}

func (r *PGRepository) CountMembers(ctx context.Context, subdepartmentIDs []int64) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = tx.QueryRow(ctx, countMembersQuery, subdepartmentIDs).Scan(&n)
	return n, err
}

// ReassignMembers moves every participation row from one subdepartment to
// another. Users already present in the target are dropped first so the
// (subdepartment_id, user_id) unique constraint holds.
func (r *PGRepository) ReassignMembers(ctx context.Context, fromID, toID int64) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, deleteDuplicateMembersQuery, fromID, toID); err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, reassignMembersQuery, fromID, toID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *PGRepository) RefreshEmployeeCount(ctx context.Context, subdepartmentID int64) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, refreshEmployeeCountQuery, subdepartmentID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return services.ErrNotFound
	}
	return nil
}

func scanSubdepartmentRow(row pgx.Row) (services.Subdepartment, error) {
	var sub services.Subdepartment
	err := row.Scan(&sub.ID, &sub.DepartmentID, &sub.ParentID, &sub.Name,
		&sub.Description, &sub.ManagerID, &sub.EmployeeCount, &sub.CreatedAt)
	return sub, err
}
