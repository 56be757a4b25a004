package services

import (
	"context"
	"errors"
	"time"
)

// Status is the assignment workflow state. Transitions are not forward
// enforced: any status may overwrite any other, and the derived fields
// follow whatever was written last.
type Status string

const (
	StatusToDo        Status = "To Do"
	StatusInProgress  Status = "In Progress"
	StatusUnderReview Status = "Under Review"
	StatusCompleted   Status = "Completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusToDo, StatusInProgress, StatusUnderReview, StatusCompleted:
		return true
	}
	return false
}

// DerivedProgress maps a status onto its fixed progress percentage.
func (s Status) DerivedProgress() int {
	switch s {
	case StatusInProgress:
		return 25
	case StatusUnderReview:
		return 75
	case StatusCompleted:
		return 100
	default:
		return 0
	}
}

// Active reports whether an assignment in this status counts toward a
// user's workload.
func (s Status) Active() bool {
	return s == StatusToDo || s == StatusInProgress
}

type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityMedium   Priority = "Medium"
	PriorityLow      Priority = "Low"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Weight is the efficiency-score multiplier for the priority.
func (p Priority) Weight() float64 {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

// WorkloadWeight is the lighter weight variant the workload score sums
// over a user's active tasks.
func (p Priority) WorkloadWeight() int {
	switch p {
	case PriorityCritical:
		return 3
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	default:
		return 0
	}
}

type Task struct {
	ID                int64      `json:"id"`
	DepartmentID      int64      `json:"department_id"`
	SubdepartmentID   *int64     `json:"subdepartment_id,omitempty"`
	TemplateID        *int64     `json:"template_id,omitempty"`
	Title             string     `json:"title"`
	Description       *string    `json:"description,omitempty"`
	Priority          Priority   `json:"priority"`
	StartDate         *time.Time `json:"start_date,omitempty"`
	DueDate           *time.Time `json:"due_date,omitempty"`
	EstimatedDuration *int64     `json:"estimated_duration,omitempty"` // seconds
	Version           int64      `json:"version"`
	CreatedBy         int64      `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
}

type TaskAssignment struct {
	ID          int64      `json:"id"`
	TaskID      int64      `json:"task_id"`
	AssignedTo  int64      `json:"assigned_to"`
	Status      Status     `json:"status"`
	Progress    int        `json:"progress"`
	Version     int64      `json:"version"`
	Comments    *string    `json:"comments,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

const DefaultDependencyType = "blocks"

type TaskDependency struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	DependsOn int64  `json:"depends_on"`
	Type      string `json:"dependency_type"`
}

type TaskTemplate struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	Title             string    `json:"title"`
	Description       *string   `json:"description,omitempty"`
	Priority          Priority  `json:"priority"`
	EstimatedDuration *int64    `json:"estimated_duration,omitempty"`
	CreatedBy         int64     `json:"created_by"`
	CreatedAt         time.Time `json:"created_at"`
}

type TaskInsert struct {
	DepartmentID      int64
	SubdepartmentID   *int64
	TemplateID        *int64
	Title             string
	Description       *string
	Priority          Priority
	StartDate         *time.Time
	DueDate           *time.Time
	EstimatedDuration *int64
	CreatedBy         int64
	AssignedTo        []int64
}

// TaskPatch is the allow-listed mutable surface of a task. Nil fields are
// left untouched; the date fields carry a set flag so they can be cleared.
type TaskPatch struct {
	Title             *string
	Description       *string
	Priority          *Priority
	StartDateSet      bool
	StartDate         *time.Time
	DueDateSet        bool
	DueDate           *time.Time
	EstimatedDuration *int64
}

type TemplateInsert struct {
	Name              string
	Title             string
	Description       *string
	Priority          Priority
	EstimatedDuration *int64
	CreatedBy         int64
}

// StatusWrite carries everything a conditional assignment update needs.
// StartedAt and CompletedAt are candidate values applied with set-once
// semantics; the repository never overwrites an existing timestamp.
// Comments, when non-nil, replaces the stored comment text.
type StatusWrite struct {
	Status      Status
	Progress    int
	Comments    *string
	StartedAt   *time.Time
	CompletedAt *time.Time
	Now         time.Time
}

// TaskSnapshot joins a task with its assignment rows; the analytics
// module consumes these without reaching into the repository.
type TaskSnapshot struct {
	Task        Task             `json:"task"`
	Assignments []TaskAssignment `json:"assignments"`
}

// Completed reports whether the task counts as finished: at least one
// assignment exists and every assignment is in the Completed status.
func (s TaskSnapshot) Completed() bool {
	if len(s.Assignments) == 0 {
		return false
	}
	for _, a := range s.Assignments {
		if a.Status != StatusCompleted {
			return false
		}
	}
	return true
}

// AnyCompleted reports whether at least one assignment has reached
// Completed. A task is overdue only while this is false.
func (s TaskSnapshot) AnyCompleted() bool {
	for _, a := range s.Assignments {
		if a.Status == StatusCompleted {
			return true
		}
	}
	return false
}

type TaskFilter struct {
	DepartmentID     *int64
	SubdepartmentIDs []int64
	AssignedTo       *int64
	Status           *Status
	Priority         *Priority
}

var (
	ErrNotFound        = errors.New("task record not found")
	ErrVersionConflict = errors.New("version conflict")
)

type Repository interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	InsertTask(ctx context.Context, in TaskInsert) (Task, error)
	GetTask(ctx context.Context, id int64) (Task, error)
	// UpdateTask applies patch iff the stored version equals
	// expectedVersion, incrementing the version in the same statement.
	UpdateTask(ctx context.Context, id, expectedVersion int64, patch TaskPatch) (Task, error)
	DeleteTask(ctx context.Context, id int64) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)
	ListSnapshots(ctx context.Context, filter TaskFilter) ([]TaskSnapshot, error)

	CountByDepartment(ctx context.Context, departmentID int64) (int, error)
	CountBySubdepartments(ctx context.Context, subdepartmentIDs []int64) (total, completed int, err error)
	ReassignSubdepartment(ctx context.Context, fromID, toID int64) (int, error)

	InsertAssignment(ctx context.Context, taskID, userID int64) (TaskAssignment, error)
	GetAssignment(ctx context.Context, id int64) (TaskAssignment, error)
	ListAssignmentsForTask(ctx context.Context, taskID int64) ([]TaskAssignment, error)
	DeleteAssignment(ctx context.Context, id int64) error
	// UpdateAssignmentStatus applies write iff the stored version equals
	// expectedVersion, incrementing the version in the same statement.
	// Returns ErrVersionConflict when the row exists at another version.
	UpdateAssignmentStatus(ctx context.Context, id, expectedVersion int64, write StatusWrite) (TaskAssignment, error)
	// UpdateAssignmentProgress writes progress alone under the same
	// conditional-version protocol; status and timestamps are untouched.
	UpdateAssignmentProgress(ctx context.Context, id, expectedVersion int64, progress int) (TaskAssignment, error)
	// BulkUpdateStatus rewrites every assignment row of the task
	// unconditionally, with set-once timestamps per row.
	BulkUpdateStatus(ctx context.Context, taskID int64, write StatusWrite) (int, error)
	// ReplaceAssignments drops every assignment row of the task and
	// creates one fresh To Do row per user.
	ReplaceAssignments(ctx context.Context, taskID int64, userIDs []int64) ([]TaskAssignment, error)

	InsertDependency(ctx context.Context, taskID, dependsOn int64, depType string) (TaskDependency, error)
	ListDependencies(ctx context.Context, taskID int64) ([]TaskDependency, error)
	DeleteDependency(ctx context.Context, id int64) error

	InsertTemplate(ctx context.Context, in TemplateInsert) (TaskTemplate, error)
	GetTemplate(ctx context.Context, id int64) (TaskTemplate, error)
	ListTemplates(ctx context.Context) ([]TaskTemplate, error)
	DeleteTemplate(ctx context.Context, id int64) error
	CountTasksFromTemplate(ctx context.Context, templateID int64) (int, error)
}

// HierarchyPort is the slice of the hierarchy module the task service
// needs: resolving a subdepartment's department for authorization and
// expanding a subtree for scoped listings.
type HierarchyPort interface {
	DepartmentOf(ctx context.Context, subdepartmentID int64) (int64, error)
	DescendantIDs(ctx context.Context, subdepartmentID int64) ([]int64, error)
}
