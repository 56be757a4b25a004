package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/iota-uz/worktrack/modules/hierarchy/services"
	"github.com/iota-uz/worktrack/pkg/composables"
	"github.com/iota-uz/worktrack/pkg/httpapi"
	"github.com/iota-uz/worktrack/pkg/serrors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type HierarchyController struct {
	svc *services.HierarchyService
}

func NewHierarchyController(svc *services.HierarchyService) *HierarchyController {
	return &HierarchyController{svc: svc}
}

func (c *HierarchyController) Key() string { return "/hierarchy" }

func (c *HierarchyController) Register(r *mux.Router) {
	r.HandleFunc("/departments", c.createDepartment).Methods(http.MethodPost)
	r.HandleFunc("/departments", c.listDepartments).Methods(http.MethodGet)
	r.HandleFunc("/departments/{id}", c.getDepartment).Methods(http.MethodGet)
	r.HandleFunc("/departments/{id}", c.deleteDepartment).Methods(http.MethodDelete)

	r.HandleFunc("/subdepartments", c.createSubdepartment).Methods(http.MethodPost)
	r.HandleFunc("/subdepartments", c.listSubdepartments).Methods(http.MethodGet)
	r.HandleFunc("/subdepartments/{id}", c.getSubdepartment).Methods(http.MethodGet)
	r.HandleFunc("/subdepartments/{id}", c.updateSubdepartment).Methods(http.MethodPatch)
	r.HandleFunc("/subdepartments/{id}", c.deleteSubdepartment).Methods(http.MethodDelete)
	r.HandleFunc("/subdepartments/{id}/stats", c.subtreeStats).Methods(http.MethodGet)
	r.HandleFunc("/subdepartments/{id}/manager", c.assignManager).Methods(http.MethodPut)

	r.HandleFunc("/subdepartments/{id}/members", c.listMembers).Methods(http.MethodGet)
	r.HandleFunc("/subdepartments/{id}/members", c.addMember).Methods(http.MethodPost)
	r.HandleFunc("/participations/{id}", c.updateMemberRole).Methods(http.MethodPatch)
	r.HandleFunc("/participations/{id}", c.removeMember).Methods(http.MethodDelete)
}

type createDepartmentRequest struct {
	Name        string  `json:"name" validate:"required,min=1,max=255"`
	Description *string `json:"description" validate:"omitempty,max=2000"`
	ManagerID   *int64  `json:"manager_id" validate:"omitempty,gt=0"`
}

func (c *HierarchyController) createDepartment(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	var body createDepartmentRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		httpapi.WriteServiceError(w, requestID, serrors.Validation(err.Error()))
		return
	}
	dep, err := c.svc.CreateDepartment(r.Context(), services.DepartmentInsert{
		Name:        body.Name,
		Description: body.Description,
		ManagerID:   body.ManagerID,
	})
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, dep)
}

func (c *HierarchyController) listDepartments(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	deps, err := c.svc.ListDepartments(r.Context())
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, deps)
}

func (c *HierarchyController) getDepartment(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	dep, err := c.svc.GetDepartment(r.Context(), id)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, dep)
}

func (c *HierarchyController) deleteDepartment(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := c.svc.DeleteDepartment(r.Context(), id); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusNoContent, nil)
}

type createSubdepartmentRequest struct {
	DepartmentID int64   `json:"department_id" validate:"required,gt=0"`
	ParentID     *int64  `json:"parent_id" validate:"omitempty,gt=0"`
	Name         string  `json:"name" validate:"required,min=1,max=255"`
	Description  *string `json:"description" validate:"omitempty,max=2000"`
	ManagerID    *int64  `json:"manager_id" validate:"omitempty,gt=0"`
}

func (c *HierarchyController) createSubdepartment(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	var body createSubdepartmentRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		httpapi.WriteServiceError(w, requestID, serrors.Validation(err.Error()))
		return
	}
	sub, err := c.svc.CreateSubdepartment(r.Context(), services.SubdepartmentInsert{
		DepartmentID: body.DepartmentID,
		ParentID:     body.ParentID,
		Name:         body.Name,
		Description:  body.Description,
		ManagerID:    body.ManagerID,
	})
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, sub)
}

func (c *HierarchyController) listSubdepartments(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	departmentID, err := httpapi.QueryInt64(r, "department_id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if departmentID == nil {
		httpapi.WriteServiceError(w, requestID, serrors.Validation("department_id is required"))
		return
	}
	parentID, err := httpapi.QueryInt64(r, "parent_id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	subs, err := c.svc.ListSubdepartments(r.Context(), *departmentID, parentID)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, subs)
}

type subdepartmentDetail struct {
	services.Subdepartment
	ParentChain []services.Subdepartment `json:"parent_chain"`
	Children    []services.Subdepartment `json:"children"`
	Stats       *services.SubtreeCounts  `json:"stats,omitempty"`
}

func (c *HierarchyController) getSubdepartment(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	includeStats, err := httpapi.QueryBool(r, "include_stats")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}

	sub, err := c.svc.GetSubdepartment(r.Context(), id)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	chain, err := c.svc.ParentChain(r.Context(), id)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	children, err := c.svc.ListSubdepartments(r.Context(), sub.DepartmentID, &sub.ID)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}

	detail := subdepartmentDetail{Subdepartment: sub, ParentChain: chain, Children: children}
	if includeStats {
		counts, err := c.svc.SubtreeCounts(r.Context(), id, true)
		if err != nil {
			httpapi.WriteServiceError(w, requestID, err)
			return
		}
		detail.Stats = &counts
	}
	httpapi.WriteJSON(w, http.StatusOK, detail)
}

type updateSubdepartmentRequest struct {
	Name        *string       `json:"name" validate:"omitempty,min=1,max=255"`
	Description *string       `json:"description" validate:"omitempty,max=2000"`
	ParentID    optionalInt64 `json:"parent_id"`
	ManagerID   optionalInt64 `json:"manager_id"`
}

// optionalInt64 distinguishes "absent" from "explicitly null" so a PATCH
// can detach a subdepartment from its parent.
type optionalInt64 struct {
	Set   bool
	Value *int64
}

func (o *optionalInt64) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(data) == "null" {
		o.Value = nil
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

func (c *HierarchyController) updateSubdepartment(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	var body updateSubdepartmentRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		httpapi.WriteServiceError(w, requestID, serrors.Validation(err.Error()))
		return
	}
	sub, err := c.svc.UpdateSubdepartment(r.Context(), id, services.SubdepartmentPatch{
		Name:         body.Name,
		Description:  body.Description,
		ParentIDSet:  body.ParentID.Set,
		ParentID:     body.ParentID.Value,
		ManagerIDSet: body.ManagerID.Set,
		ManagerID:    body.ManagerID.Value,
	})
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, sub)
}

func (c *HierarchyController) deleteSubdepartment(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	reassignTo, err := httpapi.QueryInt64(r, "reassign_to")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := c.svc.DeleteSubdepartment(r.Context(), id, reassignTo); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusNoContent, nil)
}

func (c *HierarchyController) subtreeStats(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	includeChildren, err := httpapi.QueryBool(r, "include_children")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if _, err := c.svc.GetSubdepartment(r.Context(), id); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	counts, err := c.svc.SubtreeCounts(r.Context(), id, includeChildren)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, counts)
}

type assignManagerRequest struct {
	ManagerID *int64 `json:"manager_id" validate:"omitempty,gt=0"`
}

func (c *HierarchyController) assignManager(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	var body assignManagerRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	sub, err := c.svc.AssignManager(r.Context(), id, body.ManagerID)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, sub)
}

func (c *HierarchyController) listMembers(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	includeChildren, err := httpapi.QueryBool(r, "include_children")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	members, err := c.svc.Members(r.Context(), id, includeChildren)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, members)
}

type addMemberRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Role   string `json:"role" validate:"omitempty,oneof=member lead manager"`
}

func (c *HierarchyController) addMember(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	var body addMemberRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		httpapi.WriteServiceError(w, requestID, serrors.Validation(err.Error()))
		return
	}
	part, err := c.svc.AddMember(r.Context(), services.ParticipationInsert{
		SubdepartmentID: id,
		UserID:          body.UserID,
		Role:            body.Role,
	})
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusCreated, part)
}

type updateMemberRoleRequest struct {
	Role string `json:"role" validate:"required,oneof=member lead manager"`
}

func (c *HierarchyController) updateMemberRole(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	var body updateMemberRoleRequest
	if err := httpapi.DecodeJSON(r, &body); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := validate.Struct(body); err != nil {
		httpapi.WriteServiceError(w, requestID, serrors.Validation(err.Error()))
		return
	}
	part, err := c.svc.UpdateMemberRole(r.Context(), id, body.Role)
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, part)
}

func (c *HierarchyController) removeMember(w http.ResponseWriter, r *http.Request) {
	requestID := composables.UseRequestID(r.Context())
	id, err := httpapi.PathID(r, "id")
	if err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	if err := c.svc.RemoveMember(r.Context(), id); err != nil {
		httpapi.WriteServiceError(w, requestID, err)
		return
	}
	httpapi.WriteJSON(w, http.StatusNoContent, nil)
}
