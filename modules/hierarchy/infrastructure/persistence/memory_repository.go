package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iota-uz/worktrack/modules/hierarchy/services"
)

// MemoryRepository is the DB_DRIVER=memory implementation. It keeps the
// same observable behavior as the Postgres repository, including the
// not-found sentinel and the cached employee_count column.
type MemoryRepository struct {
	mu sync.RWMutex

	departments    map[int64]services.Department
	subdepartments map[int64]services.Subdepartment
	participations map[int64]services.Participation
	nextID         int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		departments:    map[int64]services.Department{},
		subdepartments: map[int64]services.Subdepartment{},
		participations: map[int64]services.Participation{},
		nextID:         1,
	}
}

func (r *MemoryRepository) allocate() int64 {
	id := r.nextID
	r.nextID++
	return id
}

// InTx runs the callback directly; each repository method takes the
// lock itself, so the steps of a multi-step mutation are individually
// atomic but not grouped. True rollback is not provided; callers
// validate before mutating, matching the service's usage.
func (r *MemoryRepository) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (r *MemoryRepository) InsertDepartment(ctx context.Context, in services.DepartmentInsert) (services.Department, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dep := services.Department{
		ID:          r.allocate(),
		Name:        in.Name,
		Description: in.Description,
		ManagerID:   in.ManagerID,
		CreatedAt:   time.Now().UTC(),
	}
	r.departments[dep.ID] = dep
	return dep, nil
}

func (r *MemoryRepository) GetDepartment(ctx context.Context, id int64) (services.Department, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dep, ok := r.departments[id]
	if !ok {
		return services.Department{}, services.ErrNotFound
	}
	return dep, nil
}

func (r *MemoryRepository) ListDepartments(ctx context.Context) ([]services.Department, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]services.Department, 0, len(r.departments))
	for _, dep := range r.departments {
		out = append(out, dep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) DeleteDepartment(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.departments[id]; !ok {
		return services.ErrNotFound
	}
	delete(r.departments, id)
	return nil
}

func (r *MemoryRepository) CountSubdepartments(ctx context.Context, departmentID int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, sub := range r.subdepartments {
		if sub.DepartmentID == departmentID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) InsertSubdepartment(ctx context.Context, in services.SubdepartmentInsert) (services.Subdepartment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub := services.Subdepartment{
		ID:           r.allocate(),
		DepartmentID: in.DepartmentID,
		ParentID:     in.ParentID,
		Name:         in.Name,
		Description:  in.Description,
		ManagerID:    in.ManagerID,
		CreatedAt:    time.Now().UTC(),
	}
	r.subdepartments[sub.ID] = sub
	return sub, nil
}

func (r *MemoryRepository) GetSubdepartment(ctx context.Context, id int64) (services.Subdepartment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subdepartments[id]
	if !ok {
		return services.Subdepartment{}, services.ErrNotFound
	}
	return sub, nil
}

func (r *MemoryRepository) UpdateSubdepartment(ctx context.Context, id int64, patch services.SubdepartmentPatch) (services.Subdepartment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subdepartments[id]
	if !ok {
		return services.Subdepartment{}, services.ErrNotFound
	}
	if patch.Name != nil {
		sub.Name = *patch.Name
	}
	if patch.Description != nil {
		sub.Description = patch.Description
	}
	if patch.ParentIDSet {
		sub.ParentID = patch.ParentID
	}
	if patch.ManagerIDSet {
		sub.ManagerID = patch.ManagerID
	}
	r.subdepartments[id] = sub
	return sub, nil
}

func (r *MemoryRepository) DeleteSubdepartment(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subdepartments[id]; !ok {
		return services.ErrNotFound
	}
	delete(r.subdepartments, id)
	return nil
}

func (r *MemoryRepository) ListChildren(ctx context.Context, parentID int64) ([]services.Subdepartment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]services.Subdepartment, 0)
	for _, sub := range r.subdepartments {
		if sub.ParentID != nil && *sub.ParentID == parentID {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) ListChildIDs(ctx context.Context, parentID int64) ([]int64, error) {
	children, err := r.ListChildren(ctx, parentID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(children))
	for i, child := range children {
		ids[i] = child.ID
	}
	return ids, nil
}

func (r *MemoryRepository) ListRoots(ctx context.Context, departmentID int64) ([]services.Subdepartment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]services.Subdepartment, 0)
	for _, sub := range r.subdepartments {
		if sub.DepartmentID == departmentID && sub.ParentID == nil {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) InsertParticipation(ctx context.Context, in services.ParticipationInsert) (services.Participation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	part := services.Participation{
		ID:              r.allocate(),
		SubdepartmentID: in.SubdepartmentID,
		UserID:          in.UserID,
		Role:            in.Role,
		JoinedAt:        time.Now().UTC(),
	}
	r.participations[part.ID] = part
	return part, nil
}

func (r *MemoryRepository) GetParticipation(ctx context.Context, id int64) (services.Participation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	part, ok := r.participations[id]
	if !ok {
		return services.Participation{}, services.ErrNotFound
	}
	return part, nil
}

func (r *MemoryRepository) FindParticipation(ctx context.Context, subdepartmentID, userID int64) (services.Participation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, part := range r.participations {
		if part.SubdepartmentID == subdepartmentID && part.UserID == userID {
			return part, nil
		}
	}
	return services.Participation{}, services.ErrNotFound
}

func (r *MemoryRepository) UpdateParticipationRole(ctx context.Context, id int64, role string) (services.Participation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	part, ok := r.participations[id]
	if !ok {
		return services.Participation{}, services.ErrNotFound
	}
	part.Role = role
	r.participations[id] = part
	return part, nil
}

func (r *MemoryRepository) DeleteParticipation(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participations[id]; !ok {
		return services.ErrNotFound
	}
	delete(r.participations, id)
	return nil
}

func (r *MemoryRepository) ListParticipations(ctx context.Context, subdepartmentIDs []int64) ([]services.Participation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	scope := map[int64]struct{}{}
	for _, id := range subdepartmentIDs {
		scope[id] = struct{}{}
	}
	out := make([]services.Participation, 0)
	for _, part := range r.participations {
		if _, ok := scope[part.SubdepartmentID]; ok {
			out = append(out, part)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepository) CountMembers(ctx context.Context, subdepartmentIDs []int64) (int, error) {
	parts, err := r.ListParticipations(ctx, subdepartmentIDs)
	if err != nil {
		return 0, err
	}
	return len(parts), nil
}

func (r *MemoryRepository) ReassignMembers(ctx context.Context, fromID, toID int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	moved := 0
	for id, part := range r.participations {
		if part.SubdepartmentID != fromID {
			continue
		}
		if r.hasParticipation(toID, part.UserID) {
			// Already a member of the target; drop the duplicate row.
			delete(r.participations, id)
		} else {
			part.SubdepartmentID = toID
			r.participations[id] = part
		}
		moved++
	}
	return moved, nil
}

func (r *MemoryRepository) hasParticipation(subdepartmentID, userID int64) bool {
	for _, part := range r.participations {
		if part.SubdepartmentID == subdepartmentID && part.UserID == userID {
			return true
		}
	}
	return false
}

func (r *MemoryRepository) RefreshEmployeeCount(ctx context.Context, subdepartmentID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subdepartments[subdepartmentID]
	if !ok {
		return services.ErrNotFound
	}
	n := 0
	for _, part := range r.participations {
		if part.SubdepartmentID == subdepartmentID {
			n++
		}
	}
	sub.EmployeeCount = n
	r.subdepartments[subdepartmentID] = sub
	return nil
}
