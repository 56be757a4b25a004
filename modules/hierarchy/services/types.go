package services

import (
	"context"
	"errors"
	"time"
)

// Department is a top-level organizational unit. Subdepartments nest under
// exactly one department for their whole lifetime.
type Department struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	ManagerID   *int64    `json:"manager_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Subdepartment struct {
	ID           int64     `json:"id"`
	DepartmentID int64     `json:"department_id"`
	ParentID     *int64    `json:"parent_id,omitempty"`
	Name         string    `json:"name"`
	Description  *string   `json:"description,omitempty"`
	ManagerID    *int64    `json:"manager_id,omitempty"`
	// EmployeeCount caches the number of direct participations and is
	// refreshed on membership writes.
	EmployeeCount int       `json:"employee_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// Participation is the membership edge of a user in a subdepartment.
// The (subdepartment_id, user_id) pair is unique.
type Participation struct {
	ID              int64     `json:"id"`
	SubdepartmentID int64     `json:"subdepartment_id"`
	UserID          int64     `json:"user_id"`
	Role            string    `json:"role"`
	JoinedAt        time.Time `json:"joined_at"`
}

type DepartmentInsert struct {
	Name        string
	Description *string
	ManagerID   *int64
}

type SubdepartmentInsert struct {
	DepartmentID int64
	ParentID     *int64
	Name         string
	Description  *string
	ManagerID    *int64
}

// SubdepartmentPatch is the allow-listed update shape. Nil fields are left
// untouched; ParentID/ManagerID use a set flag so they can be cleared.
type SubdepartmentPatch struct {
	Name         *string
	Description  *string
	ParentIDSet  bool
	ParentID     *int64
	ManagerIDSet bool
	ManagerID    *int64
}

type ParticipationInsert struct {
	SubdepartmentID int64
	UserID          int64
	Role            string
}

// SubtreeCounts aggregates a subdepartment scope for include_metrics reads.
type SubtreeCounts struct {
	TaskCount      int     `json:"total_tasks"`
	MemberCount    int     `json:"total_members"`
	CompletionRate float64 `json:"completion_rate"`
}

// ErrNotFound is the storage-level absence sentinel shared by both
// repository implementations.
var ErrNotFound = errors.New("record not found")

// Repository is the storage contract for the hierarchy module. Both the
// pgx and the in-memory implementation satisfy it.
type Repository interface {
	// InTx runs fn atomically. The in-memory implementation serializes
	// on its own lock instead of a database transaction.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	InsertDepartment(ctx context.Context, in DepartmentInsert) (Department, error)
	GetDepartment(ctx context.Context, id int64) (Department, error)
	ListDepartments(ctx context.Context) ([]Department, error)
	DeleteDepartment(ctx context.Context, id int64) error
	CountSubdepartments(ctx context.Context, departmentID int64) (int, error)

	InsertSubdepartment(ctx context.Context, in SubdepartmentInsert) (Subdepartment, error)
	GetSubdepartment(ctx context.Context, id int64) (Subdepartment, error)
	UpdateSubdepartment(ctx context.Context, id int64, patch SubdepartmentPatch) (Subdepartment, error)
	DeleteSubdepartment(ctx context.Context, id int64) error
	ListChildren(ctx context.Context, parentID int64) ([]Subdepartment, error)
	ListChildIDs(ctx context.Context, parentID int64) ([]int64, error)
	ListRoots(ctx context.Context, departmentID int64) ([]Subdepartment, error)

	InsertParticipation(ctx context.Context, in ParticipationInsert) (Participation, error)
	GetParticipation(ctx context.Context, id int64) (Participation, error)
	FindParticipation(ctx context.Context, subdepartmentID, userID int64) (Participation, error)
	UpdateParticipationRole(ctx context.Context, id int64, role string) (Participation, error)
	DeleteParticipation(ctx context.Context, id int64) error
	ListParticipations(ctx context.Context, subdepartmentIDs []int64) ([]Participation, error)
	CountMembers(ctx context.Context, subdepartmentIDs []int64) (int, error)
	ReassignMembers(ctx context.Context, fromID, toID int64) (int, error)
	RefreshEmployeeCount(ctx context.Context, subdepartmentID int64) error
}

// TaskPort is the narrow view of the assignment engine the hierarchy
// module needs: it counts and relocates tasks by scope, never touching
// task internals.
type TaskPort interface {
	CountByDepartment(ctx context.Context, departmentID int64) (int, error)
	// CountBySubdepartments returns total tasks and how many of them are
	// completed within the given scope.
	CountBySubdepartments(ctx context.Context, subdepartmentIDs []int64) (total int, completed int, err error)
	ReassignSubdepartment(ctx context.Context, fromID, toID int64) (int, error)
}
