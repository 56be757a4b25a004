package controllers_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/worktrack/modules/task/infrastructure/persistence"
	"github.com/iota-uz/worktrack/modules/task/presentation/controllers"
	"github.com/iota-uz/worktrack/modules/task/services"
	"github.com/iota-uz/worktrack/pkg/composables"
	"github.com/iota-uz/worktrack/pkg/eventbus"
	"github.com/iota-uz/worktrack/pkg/logging"
)

type flatHierarchy struct{}

func (flatHierarchy) DepartmentOf(_ context.Context, subdepartmentID int64) (int64, error) {
	if subdepartmentID == 10 {
		return 1, nil
	}
	return 0, services.ErrNotFound
}

func (flatHierarchy) DescendantIDs(context.Context, int64) ([]int64, error) {
	return nil, nil
}

func newTestRouter(t *testing.T) *mux.Router {
	t.Helper()
	log := logging.ConsoleLogger(logrus.PanicLevel)
	svc := services.NewTaskService(persistence.NewMemoryRepository(), flatHierarchy{}, eventbus.NewEventPublisher(log))
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := composables.WithPrincipal(req.Context(), composables.Principal{
				ID: 1, Role: composables.RoleManager, DepartmentID: 1,
			})
			ctx = composables.WithRequestID(ctx, "test-request")
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	controllers.NewTaskController(svc).Register(r)
	return r
}

func do(t *testing.T, r *mux.Router, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestTaskController_Lifecycle(t *testing.T) {
	r := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/tasks",
		`{"subdepartment_id":10,"title":"Ship release","priority":"High","assigned_to":[5,6]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var snap services.TaskSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Len(t, snap.Assignments, 2)
	require.EqualValues(t, 1, snap.Task.Version)

	assignment := snap.Assignments[0]

	t.Run("task patch carries the version", func(t *testing.T) {
		rec := do(t, r, http.MethodPatch, fmt.Sprintf("/tasks/%d", snap.Task.ID),
			`{"version":1,"title":"Ship the release"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		var task services.Task
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
		require.Equal(t, "Ship the release", task.Title)
		require.EqualValues(t, 2, task.Version)

		rec = do(t, r, http.MethodPatch, fmt.Sprintf("/tasks/%d", snap.Task.ID),
			`{"version":1,"title":"Lost update"}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Contains(t, rec.Body.String(), "WT_VERSION_CONFLICT")
	})

	t.Run("status write with current version", func(t *testing.T) {
		rec := do(t, r, http.MethodPatch, fmt.Sprintf("/task-assignments/%d/status", assignment.ID),
			`{"status":"In Progress","version":1,"comments":"picked up"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		var updated services.TaskAssignment
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
		require.Equal(t, 25, updated.Progress)
		require.EqualValues(t, 2, updated.Version)
		require.Equal(t, "picked up", *updated.Comments)
	})

	t.Run("stale version answers 409", func(t *testing.T) {
		rec := do(t, r, http.MethodPatch, fmt.Sprintf("/task-assignments/%d/status", assignment.ID),
			`{"status":"Completed","version":1}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		require.Contains(t, rec.Body.String(), "WT_VERSION_CONFLICT")
	})

	t.Run("progress write", func(t *testing.T) {
		rec := do(t, r, http.MethodPatch, fmt.Sprintf("/task-assignments/%d/progress", assignment.ID),
			`{"progress":60,"version":2}`)
		require.Equal(t, http.StatusOK, rec.Code)
		var updated services.TaskAssignment
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
		require.Equal(t, 60, updated.Progress)
		require.Equal(t, services.StatusInProgress, updated.Status, "status untouched")

		rec = do(t, r, http.MethodPatch, fmt.Sprintf("/task-assignments/%d/progress", assignment.ID),
			`{"progress":120,"version":3}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("add and remove assignment", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, fmt.Sprintf("/tasks/%d/assignments", snap.Task.ID),
			`{"user_id":7}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		var row services.TaskAssignment
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &row))

		rec = do(t, r, http.MethodPost, fmt.Sprintf("/tasks/%d/assignments", snap.Task.ID),
			`{"user_id":7}`)
		require.Equal(t, http.StatusConflict, rec.Code)

		rec = do(t, r, http.MethodDelete, fmt.Sprintf("/task-assignments/%d", row.ID), "")
		require.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("bulk status skips unknown ids", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/tasks/bulk/status",
			fmt.Sprintf(`{"task_ids":[%d,9999],"status":"Under Review"}`, snap.Task.ID))
		require.Equal(t, http.StatusOK, rec.Code)
		var result services.BulkResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		require.Equal(t, 2, result.Updated)
		require.Equal(t, []int64{9999}, result.Skipped)
	})

	t.Run("bulk assign replaces rows", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/tasks/bulk/assign",
			fmt.Sprintf(`{"task_ids":[%d],"user_id":7}`, snap.Task.ID))
		require.Equal(t, http.StatusOK, rec.Code)
		var result services.BulkResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
		require.Equal(t, 1, result.Updated)

		rec = do(t, r, http.MethodGet, fmt.Sprintf("/tasks/%d", snap.Task.ID), "")
		require.Equal(t, http.StatusOK, rec.Code)
		var detail services.TaskSnapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
		require.Len(t, detail.Assignments, 1)
		require.Equal(t, services.StatusToDo, detail.Assignments[0].Status)
	})

	t.Run("detail includes dependencies", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/tasks", `{"subdepartment_id":10,"title":"Blocker"}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		var other services.TaskSnapshot
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &other))

		rec = do(t, r, http.MethodPost, fmt.Sprintf("/tasks/%d/dependencies", snap.Task.ID),
			fmt.Sprintf(`{"depends_on":%d}`, other.Task.ID))
		require.Equal(t, http.StatusCreated, rec.Code)
		require.Contains(t, rec.Body.String(), `"dependency_type":"blocks"`)

		rec = do(t, r, http.MethodGet, fmt.Sprintf("/tasks/%d", snap.Task.ID), "")
		require.Equal(t, http.StatusOK, rec.Code)
		var detail struct {
			Dependencies []services.TaskDependency `json:"dependencies"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &detail))
		require.Len(t, detail.Dependencies, 1)
	})

	t.Run("invalid priority rejected", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/tasks", `{"subdepartment_id":10,"title":"x","priority":"Urgent"}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown field rejected", func(t *testing.T) {
		rec := do(t, r, http.MethodPost, "/tasks", `{"subdepartment_id":10,"title":"x","owner":1}`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "WT_INVALID_BODY")
	})

	t.Run("delete task", func(t *testing.T) {
		rec := do(t, r, http.MethodDelete, fmt.Sprintf("/tasks/%d", snap.Task.ID), "")
		require.Equal(t, http.StatusNoContent, rec.Code)

		rec = do(t, r, http.MethodGet, fmt.Sprintf("/tasks/%d", snap.Task.ID), "")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestTaskController_Templates(t *testing.T) {
	r := newTestRouter(t)

	rec := do(t, r, http.MethodPost, "/task-templates",
		`{"name":"onboarding","title":"Onboard new hire","priority":"Medium"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var tpl services.TaskTemplate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tpl))

	rec = do(t, r, http.MethodPost, "/tasks",
		fmt.Sprintf(`{"subdepartment_id":10,"template_id":%d}`, tpl.ID))
	require.Equal(t, http.StatusCreated, rec.Code)
	require.Contains(t, rec.Body.String(), "Onboard new hire")

	rec = do(t, r, http.MethodDelete, fmt.Sprintf("/task-templates/%d", tpl.ID), "")
	require.Equal(t, http.StatusConflict, rec.Code)
}
