package composables

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/iota-uz/worktrack/pkg/constants"
)

var ErrNoPrincipal = errors.New("no principal found in context")

// Role values supplied by the identity collaborator.
const (
	RoleAdmin     = "admin"
	RoleManager   = "manager"
	RolePersonnel = "personnel"
)

// Principal is the acting user as resolved by the upstream gateway. The
// core consumes it; it never authenticates anyone itself.
type Principal struct {
	ID           int64
	Role         string
	DepartmentID int64
}

// CanManageDepartment reports whether the principal may mutate resources
// belonging to the given department.
func (p Principal) CanManageDepartment(departmentID int64) bool {
	switch p.Role {
	case RoleAdmin:
		return true
	case RoleManager:
		return p.DepartmentID == departmentID
	default:
		return false
	}
}

// CanActOnAssignment reports whether the principal may mutate an
// assignment owned by assignedTo within departmentID.
func (p Principal) CanActOnAssignment(departmentID, assignedTo int64) bool {
	if p.CanManageDepartment(departmentID) {
		return true
	}
	return p.Role == RolePersonnel && p.ID == assignedTo
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, constants.PrincipalKey, p)
}

func UsePrincipal(ctx context.Context) (Principal, error) {
	v := ctx.Value(constants.PrincipalKey)
	if v == nil {
		return Principal{}, ErrNoPrincipal
	}
	return v.(Principal), nil
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, constants.RequestIDKey, id)
}

func UseRequestID(ctx context.Context) string {
	v, _ := ctx.Value(constants.RequestIDKey).(string)
	return v
}

func WithLogger(ctx context.Context, logger *logrus.Entry) context.Context {
	return context.WithValue(ctx, constants.LoggerKey, logger)
}

// UseLogger returns the request-scoped logger, falling back to the
// standard logger so callers never receive nil.
func UseLogger(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(constants.LoggerKey).(*logrus.Entry); ok {
		return entry
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
