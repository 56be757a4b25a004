package services

// TaskAssignedEvent fires when users gain an assignment, either at task
// creation or through a bulk reassignment.
type TaskAssignedEvent struct {
	Task       Task
	AssignedTo []int64
}

// AssignmentStatusChangedEvent fires after a status write succeeds.
type AssignmentStatusChangedEvent struct {
	Task       Task
	Assignment TaskAssignment
	Previous   Status
}

// TaskDeletedEvent fires after a task and its rows are removed.
type TaskDeletedEvent struct {
	Task       Task
	AssignedTo []int64
}
