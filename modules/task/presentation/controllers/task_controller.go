package controllers

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/iota-uz/worktrack/modules/task/services"
	"github.com/iota-uz/worktrack/pkg/composables"
	"github.com/iota-uz/worktrack/pkg/httpapi"
	"github.com/iota-uz/worktrack/pkg/serrors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type TaskController struct {
	svc *services.TaskService
}

func NewTaskController(svc *services.TaskService) *TaskController {
	return &TaskController{svc: svc}
}

func (c *TaskController) Key() string { return "/tasks" }

func (c *TaskController) Register(r *mux.Router) {
	r.HandleFunc("/tasks", c.createTask).Methods(http.MethodPost)
	r.HandleFunc("/tasks", c.listTasks).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}", c.getTask).Methods(http.MethodGet)
	r.HandleFunc("/tasks/{id}", c.updateTask).Methods(http.MethodPatch)
	r.HandleFunc("/tasks/{id}", c.deleteTask).Methods(http.MethodDelete)

	r.HandleFunc("/task-assignments/{id}/status", c.updateAssignmentStatus).Methods(http.MethodPatch)
	r.HandleFunc("/task-assignments/{id}/progress", c.updateAssignmentProgress).Methods(http.MethodPatch)
	r.HandleFunc("/task-assignments/{id}", c.removeAssignment).Methods(http.MethodDelete)
	r.HandleFunc("/tasks/{id}/assignments", c.addAssignment).Methods(http.MethodPost)
	r.HandleFunc("/tasks/bulk/status", c.bulkUpdateStatus).Methods(http.MethodPost)
	r.HandleFunc("/tasks/bulk/assign", c.bulkAssign).Methods(http.MethodPost)

	r.HandleFunc("/tasks/{id}/dependencies", c.addDependency).Methods(http.MethodPost)
	r.HandleFunc("/tasks/{id}/dependencies", c.listDependencies).Methods(http.MethodGet)
	r.HandleFunc("/dependencies/{id}", c.removeDependency).Methods(http.MethodDelete)

	r.HandleFunc("/task-templates", c.createTemplate).Methods(http.MethodPost)
	r.HandleFunc("/task-templates", c.listTemplates).Methods(http.MethodGet)
	r.HandleFunc("/task-templates/{id}", c.getTemplate).Methods(http.MethodGet)
	r.HandleFunc("/task-templates/{id}", c.deleteTemplate).Methods(http.MethodDelete)
}

type createTaskRequest struct {
	DepartmentID      int64      `json:"department_id" validate:"omitempty,gt=0"`
	SubdepartmentID   *int64     `json:"subdepartment_id" validate:"omitempty,gt=0"`
	TemplateID        *int64     `json:"template_id" validate:"omitempty,gt=0"`
	Title             string     `json:"title" validate:"omitempty,max=500"`
	Description       *string    `json:"description" validate:"omitempty,max=5000"`
	Priority          string     `json:"priority" validate:"omitempty,oneof=Critical High Medium Low"`
	StartDate         *time.Time `json:"start_date"`
	DueDate           *time.Time `json:"due_date"`
	EstimatedDuration *int64     `json:"estimated_duration" validate:"omitempty,gt=0"`
	AssignedTo        []int64    `json:"assigned_to" validate:"omitempty,dive,gt=0"`
}

func (c *TaskController) createTask(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	var body createTaskRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		httpapi.WriteServiceError(w, requestID, serrors.Validation(err.Error()))
		return
	}
	snap, err := c.svc.CreateTask(r.Context(), services.TaskInsert{
		DepartmentID:      body.DepartmentID,
		SubdepartmentID:   body.SubdepartmentID,
		TemplateID:        body.TemplateID,
		Title:             body.Title,
		Description:       body.Description,
		Priority:          services.Priority(body.Priority),
		StartDate:         body.StartDate,
		DueDate:           body.DueDate,
		EstimatedDuration: body.EstimatedDuration,
		AssignedTo:        body.AssignedTo,
	})
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, snap)
}

func (c *TaskController) listTasks(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	subdepartmentID, err := httpapi.QueryInt64(r, "subdepartment_id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	departmentID, err := httpapi.QueryInt64(r, "department_id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	includeChildren, err := httpapi.QueryBool(r, "include_children")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}

	var filter services.TaskFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := services.Status(raw)
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("priority"); raw != "" {
		priority := services.Priority(raw)
		filter.Priority = &priority
	}
	assignedTo, err := httpapi.QueryInt64(r, "assigned_to")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	filter.AssignedTo = assignedTo

	var depID, subID int64
	if departmentID != nil {
		depID = *departmentID
	}
	if subdepartmentID != nil {
		subID = *subdepartmentID
	}
	snapshots, err := c.svc.ListTasks(r.Context(), depID, subID, includeChildren, filter)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, snapshots)
}

type taskDetail struct {
	services.TaskSnapshot
	Dependencies []services.TaskDependency `json:"dependencies"`
}

func (c *TaskController) getTask(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	snap, deps, err := c.svc.GetTask(r.Context(), id)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, taskDetail{TaskSnapshot: snap, Dependencies: deps})
}

type updateTaskRequest struct {
	Version           int64      `json:"version" validate:"required,gt=0"`
	Title             *string    `json:"title" validate:"omitempty,max=500"`
	Description       *string    `json:"description" validate:"omitempty,max=5000"`
	Priority          *string    `json:"priority" validate:"omitempty,oneof=Critical High Medium Low"`
	StartDate         *time.Time `json:"start_date"`
	ClearStartDate    bool       `json:"clear_start_date"`
	DueDate           *time.Time `json:"due_date"`
	ClearDueDate      bool       `json:"clear_due_date"`
	EstimatedDuration *int64     `json:"estimated_duration" validate:"omitempty,gt=0"`
}

func (c *TaskController) updateTask(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	var body updateTaskRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		httpapi.WriteServiceError(w, requestID, serrors.Validation(err.Error()))
		return
	}
	patch := services.TaskPatch{
		Title:             body.Title,
		Description:       body.Description,
		EstimatedDuration: body.EstimatedDuration,
	}
	if body.Priority != nil {
		priority := services.Priority(*body.Priority)
		patch.Priority = &priority
	}
	if body.StartDate != nil || body.ClearStartDate {
		patch.StartDateSet = true
		if !body.ClearStartDate {
			patch.StartDate = body.StartDate
		}
	}
	if body.DueDate != nil || body.ClearDueDate {
		patch.DueDateSet = true
		if !body.ClearDueDate {
			patch.DueDate = body.DueDate
		}
	}
	task, err := c.svc.UpdateTask(r.Context(), id, body.Version, patch)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, task)
}

func (c *TaskController) deleteTask(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := c.svc.DeleteTask(r.Context(), id); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusNoContent, nil)
}

type updateStatusRequest struct {
	Status   string  `json:"status" validate:"required"`
	Version  int64   `json:"version" validate:"required,gt=0"`
	Comments *string `json:"comments" validate:"omitempty,max=5000"`
}

func (c *TaskController) updateAssignmentStatus(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	var body updateStatusRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		httpapi.WriteServiceError(w, requestID, serrors.Validation(err.Error()))
		return
	}
	assignment, err := c.svc.UpdateAssignmentStatus(r.Context(), id, body.Version, services.Status(body.Status), body.Comments)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, assignment)
}

type updateProgressRequest struct {
	Progress *int  `json:"progress" validate:"required,min=0,max=100"`
	Version  int64 `json:"version" validate:"required,gt=0"`
}

func (c *TaskController) updateAssignmentProgress(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	var body updateProgressRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		httpapi.WriteServiceError(w, requestID, serrors.Validation(err.Error()))
		return
	}
	assignment, err := c.svc.UpdateAssignmentProgress(r.Context(), id, body.Version, *body.Progress)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, assignment)
}

type addAssignmentRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

func (c *TaskController) addAssignment(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	var body addAssignmentRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		httpapi.WriteServiceError(w, requestID, serrors.Validation(err.Error()))
		return
	}
	row, err := c.svc.AddAssignment(r.Context(), id, body.UserID)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, row)
}

func (c *TaskController) removeAssignment(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := c.svc.RemoveAssignment(r.Context(), id); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusNoContent, nil)
}

type bulkStatusRequest struct {
	TaskIDs []int64 `json:"task_ids" validate:"required,min=1,dive,gt=0"`
	Status  string  `json:"status" validate:"required"`
}

func (c *TaskController) bulkUpdateStatus(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	var body bulkStatusRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		httpapi.WriteServiceError(w, requestID, serrors.Validation(err.Error()))
		return
	}
	result, err := c.svc.BulkUpdateStatus(r.Context(), body.TaskIDs, services.Status(body.Status))
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, result)
}

type bulkAssignRequest struct {
	TaskIDs []int64 `json:"task_ids" validate:"required,min=1,dive,gt=0"`
	UserID  int64   `json:"user_id" validate:"required,gt=0"`
}

func (c *TaskController) bulkAssign(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	var body bulkAssignRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		httpapi.WriteServiceError(w, requestID, serrors.Validation(err.Error()))
		return
	}
	result, err := c.svc.BulkAssign(r.Context(), body.TaskIDs, body.UserID)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, result)
}

type addDependencyRequest struct {
	DependsOn int64  `json:"depends_on" validate:"required,gt=0"`
	Type      string `json:"dependency_type" validate:"omitempty,max=32"`
}

func (c *TaskController) addDependency(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	var body addDependencyRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		httpapi.WriteServiceError(w, requestID, serrors.Validation(err.Error()))
		return
	}
	dep, err := c.svc.AddDependency(r.Context(), id, body.DependsOn, body.Type)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, dep)
}

func (c *TaskController) listDependencies(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	deps, err := c.svc.ListDependencies(r.Context(), id)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, deps)
}

func (c *TaskController) removeDependency(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := c.svc.RemoveDependency(r.Context(), id); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusNoContent, nil)
}

type createTemplateRequest struct {
	Name              string  `json:"name" validate:"required,max=255"`
	Title             string  `json:"title" validate:"required,max=500"`
	Description       *string `json:"description" validate:"omitempty,max=5000"`
	Priority          string  `json:"priority" validate:"omitempty,oneof=Critical High Medium Low"`
	EstimatedDuration *int64  `json:"estimated_duration" validate:"omitempty,gt=0"`
}

func (c *TaskController) createTemplate(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	var body createTemplateRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		httpapi.WriteServiceError(w, requestID, serrors.Validation(err.Error()))
		return
	}
	tpl, err := c.svc.CreateTemplate(r.Context(), services.TemplateInsert{
		Name:              body.Name,
		Title:             body.Title,
		Description:       body.Description,
		Priority:          services.Priority(body.Priority),
		EstimatedDuration: body.EstimatedDuration,
	})
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, tpl)
}

func (c *TaskController) listTemplates(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	templates, err := c.svc.ListTemplates(r.Context())
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, templates)
}

func (c *TaskController) getTemplate(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	tpl, err := c.svc.GetTemplate(r.Context(), id)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, tpl)
}

func (c *TaskController) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := c.svc.DeleteTemplate(r.Context(), id); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusNoContent, nil)
}
