package services

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/iota-uz/worktrack/pkg/composables"
	"github.com/iota-uz/worktrack/pkg/serrors"
)

// maxTreeDepth bounds every ancestor/descendant walk. A well-formed tree
// never gets close; the cap defends against corrupted parent chains.
const maxTreeDepth = 512

type HierarchyService struct {
	repo  Repository
	tasks TaskPort
}

func NewHierarchyService(repo Repository, tasks TaskPort) *HierarchyService {
	return &HierarchyService{repo: repo, tasks: tasks}
}

func requireDepartmentAccess(ctx context.Context, departmentID int64) (composables.Principal, error) {
	p, err := composables.UsePrincipal(ctx)
	if err != nil {
		return composables.Principal{}, serrors.New(http.StatusUnauthorized, "WT_NO_PRINCIPAL", "principal is required", err)
	}
	if p.Role != composables.RoleAdmin && p.DepartmentID != departmentID {
		return p, serrors.NotFound("subdepartment not found")
	}
	return p, nil
}

func requireDepartmentManager(ctx context.Context, departmentID int64) (composables.Principal, error) {
	p, err := composables.UsePrincipal(ctx)
	if err != nil {
		return composables.Principal{}, serrors.New(http.StatusUnauthorized, "WT_NO_PRINCIPAL", "principal is required", err)
	}
	if !p.CanManageDepartment(departmentID) {
		return p, serrors.Forbidden("requires admin or department manager role")
	}
	return p, nil
}

func (s *HierarchyService) CreateDepartment(ctx context.Context, in DepartmentInsert) (Department, error) {
	p, err := composables.UsePrincipal(ctx)
	if err != nil {
		return Department{}, serrors.New(http.StatusUnauthorized, "WT_NO_PRINCIPAL", "principal is required", err)
	}
	if p.Role != composables.RoleAdmin {
		return Department{}, serrors.Forbidden("only administrators can create departments")
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Department{}, serrors.Validation("name is required")
	}
	return s.repo.InsertDepartment(ctx, in)
}

func (s *HierarchyService) GetDepartment(ctx context.Context, id int64) (Department, error) {
	dep, err := s.repo.GetDepartment(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Department{}, serrors.NotFound("department not found")
	}
	return dep, err
}

func (s *HierarchyService) ListDepartments(ctx context.Context) ([]Department, error) {
	return s.repo.ListDepartments(ctx)
}

// DeleteDepartment refuses to remove a department while any subdepartment
// or task still references it.
func (s *HierarchyService) DeleteDepartment(ctx context.Context, id int64) error {
	p, err := composables.UsePrincipal(ctx)
	if err != nil {
		return serrors.New(http.StatusUnauthorized, "WT_NO_PRINCIPAL", "principal is required", err)
	}
	if p.Role != composables.RoleAdmin {
		return serrors.Forbidden("only administrators can delete departments")
	}
	if _, err := s.repo.GetDepartment(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return serrors.NotFound("department not found")
		}
		return err
	}
	subCount, err := s.repo.CountSubdepartments(ctx, id)
	if err != nil {
		return err
	}
	taskCount, err := s.tasks.CountByDepartment(ctx, id)
	if err != nil {
		return err
	}
	if subCount > 0 || taskCount > 0 {
		return serrors.Conflict("WT_CONFLICT", "department still has subdepartments or tasks")
	}
	return s.repo.DeleteDepartment(ctx, id)
}

func (s *HierarchyService) CreateSubdepartment(ctx context.Context, in SubdepartmentInsert) (Subdepartment, error) {
	if _, err := requireDepartmentManager(ctx, in.DepartmentID); err != nil {
		return Subdepartment{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Subdepartment{}, serrors.Validation("name is required")
	}
	if _, err := s.repo.GetDepartment(ctx, in.DepartmentID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Subdepartment{}, serrors.NotFound("department not found")
		}
		return Subdepartment{}, err
	}
	if in.ParentID != nil {
		parent, err := s.repo.GetSubdepartment(ctx, *in.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return Subdepartment{}, serrors.NotFound("parent subdepartment not found")
			}
			return Subdepartment{}, err
		}
		if parent.DepartmentID != in.DepartmentID {
			return Subdepartment{}, serrors.Validation("parent subdepartment belongs to a different department")
		}
	}
	return s.repo.InsertSubdepartment(ctx, in)
}

func (s *HierarchyService) GetSubdepartment(ctx context.Context, id int64) (Subdepartment, error) {
	sub, err := s.repo.GetSubdepartment(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Subdepartment{}, serrors.NotFound("subdepartment not found")
	}
	if err != nil {
		return Subdepartment{}, err
	}
	if _, err := requireDepartmentAccess(ctx, sub.DepartmentID); err != nil {
		return Subdepartment{}, err
	}
	return sub, nil
}

// DepartmentOf resolves a subdepartment's owning department. No
// authorization applies; callers are other modules, not request
// handlers.
func (s *HierarchyService) DepartmentOf(ctx context.Context, id int64) (int64, error) {
	sub, err := s.repo.GetSubdepartment(ctx, id)
	if err != nil {
		return 0, err
	}
	return sub.DepartmentID, nil
}

// ListSubdepartments returns either the root subdepartments of a
// department or the direct children of a parent.
func (s *HierarchyService) ListSubdepartments(ctx context.Context, departmentID int64, parentID *int64) ([]Subdepartment, error) {
	if _, err := requireDepartmentAccess(ctx, departmentID); err != nil {
		return nil, err
	}
	if parentID != nil {
		return s.repo.ListChildren(ctx, *parentID)
	}
	return s.repo.ListRoots(ctx, departmentID)
}

// UpdateSubdepartment applies the allow-listed patch. A parent change runs
// the reparent cycle guard before anything is written.
func (s *HierarchyService) UpdateSubdepartment(ctx context.Context, id int64, patch SubdepartmentPatch) (Subdepartment, error) {
	sub, err := s.GetSubdepartment(ctx, id)
	if err != nil {
		return Subdepartment{}, err
	}
	if _, err := requireDepartmentManager(ctx, sub.DepartmentID); err != nil {
		return Subdepartment{}, err
	}
	if patch.Name != nil {
		trimmed := strings.TrimSpace(*patch.Name)
		if trimmed == "" {
			return Subdepartment{}, serrors.Validation("name must not be empty")
		}
		patch.Name = &trimmed
	}
	if patch.ParentIDSet && patch.ParentID != nil {
		if err := s.validateMove(ctx, sub, *patch.ParentID); err != nil {
			return Subdepartment{}, err
		}
	}
	updated, err := s.repo.UpdateSubdepartment(ctx, id, patch)
	if errors.Is(err, ErrNotFound) {
		return Subdepartment{}, serrors.NotFound("subdepartment not found")
	}
	return updated, err
}

// validateMove rejects self-parenting and any new parent that lies inside
// the moved node's own subtree. The check walks the ancestor chain of the
// prospective parent; finding the moved node on that chain means the move
// would close a cycle.
func (s *HierarchyService) validateMove(ctx context.Context, sub Subdepartment, newParentID int64) error {
	if newParentID == sub.ID {
		return serrors.BadRequest("WT_CYCLE", "subdepartment cannot be its own parent")
	}
	parent, err := s.repo.GetSubdepartment(ctx, newParentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return serrors.NotFound("parent subdepartment not found")
		}
		return err
	}
	if parent.DepartmentID != sub.DepartmentID {
		return serrors.Validation("parent subdepartment belongs to a different department")
	}

	seen := map[int64]struct{}{}
	current := parent
	for depth := 0; ; depth++ {
		if depth >= maxTreeDepth {
			return serrors.BadRequest("WT_CYCLE", "ancestor chain exceeds depth limit")
		}
		if current.ID == sub.ID {
			return serrors.BadRequest("WT_CYCLE", "cannot move a subdepartment under its own descendant")
		}
		if _, ok := seen[current.ID]; ok {
			return serrors.BadRequest("WT_CYCLE", "ancestor chain contains a cycle")
		}
		seen[current.ID] = struct{}{}
		if current.ParentID == nil {
			return nil
		}
		next, err := s.repo.GetSubdepartment(ctx, *current.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Dangling parent reference terminates the chain.
				return nil
			}
			return err
		}
		current = next
	}
}

// DeleteSubdepartment removes a node after relocating its direct members
// and tasks to reassignTo. Child subdepartments keep their parent_id and
// are deliberately not reparented; callers move them separately.
func (s *HierarchyService) DeleteSubdepartment(ctx context.Context, id int64, reassignTo *int64) error {
	sub, err := s.GetSubdepartment(ctx, id)
	if err != nil {
		return err
	}
	if _, err := requireDepartmentManager(ctx, sub.DepartmentID); err != nil {
		return err
	}

	memberCount, err := s.repo.CountMembers(ctx, []int64{id})
	if err != nil {
		return err
	}
	_, taskTotal, err := s.countTasks(ctx, []int64{id})
	if err != nil {
		return err
	}
	hasDependents := memberCount > 0 || taskTotal > 0

	if hasDependents && reassignTo == nil {
		return serrors.BadRequest("WT_CONFLICT", "subdepartment has members or tasks; reassign_to is required")
	}

	var target *Subdepartment
	if reassignTo != nil {
		t, err := s.repo.GetSubdepartment(ctx, *reassignTo)
		if err != nil || t.DepartmentID != sub.DepartmentID || t.ID == sub.ID {
			return serrors.NotFound("target subdepartment not found")
		}
		target = &t
	}

	return s.repo.InTx(ctx, func(txCtx context.Context) error {
		if target != nil {
			if _, err := s.repo.ReassignMembers(txCtx, id, target.ID); err != nil {
				return err
			}
			if _, err := s.tasks.ReassignSubdepartment(txCtx, id, target.ID); err != nil {
				return err
			}
			if err := s.repo.RefreshEmployeeCount(txCtx, target.ID); err != nil {
				return err
			}
		}
		return s.repo.DeleteSubdepartment(txCtx, id)
	})
}

// DescendantIDs computes the transitive closure of the parent_id relation
// under id. The walk is iterative and never revisits a node, so a latent
// cycle in stored data cannot loop it.
func (s *HierarchyService) DescendantIDs(ctx context.Context, id int64) ([]int64, error) {
	descendants := make([]int64, 0)
	visited := map[int64]struct{}{id: {}}

	type frame struct {
		id    int64
		depth int
	}
	stack := []frame{{id: id}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if top.depth >= maxTreeDepth {
			continue
		}
		childIDs, err := s.repo.ListChildIDs(ctx, top.id)
		if err != nil {
			return nil, err
		}
		for _, childID := range childIDs {
			if _, ok := visited[childID]; ok {
				continue
			}
			visited[childID] = struct{}{}
			descendants = append(descendants, childID)
			stack = append(stack, frame{id: childID, depth: top.depth + 1})
		}
	}
	return descendants, nil
}

// SubtreeCounts aggregates tasks and members over {id} or the full
// subtree. completion_rate is 0 when the scope holds no tasks.
func (s *HierarchyService) SubtreeCounts(ctx context.Context, id int64, includeChildren bool) (SubtreeCounts, error) {
	scope := []int64{id}
	if includeChildren {
		descendants, err := s.DescendantIDs(ctx, id)
		if err != nil {
			return SubtreeCounts{}, err
		}
		scope = append(scope, descendants...)
	}

	memberCount, err := s.repo.CountMembers(ctx, scope)
	if err != nil {
		return SubtreeCounts{}, err
	}
	completed, total, err := s.countTasks(ctx, scope)
	if err != nil {
		return SubtreeCounts{}, err
	}

	counts := SubtreeCounts{TaskCount: total, MemberCount: memberCount}
	if total > 0 {
		counts.CompletionRate = float64(completed) / float64(total) * 100
	}
	return counts, nil
}

func (s *HierarchyService) countTasks(ctx context.Context, scope []int64) (completed, total int, err error) {
	total, completed, err = s.tasks.CountBySubdepartments(ctx, scope)
	return completed, total, err
}

// ParentChain returns the ancestors of id, nearest first, bounded by the
// depth cap and guarded against stored cycles.
func (s *HierarchyService) ParentChain(ctx context.Context, id int64) ([]Subdepartment, error) {
	sub, err := s.repo.GetSubdepartment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, serrors.NotFound("subdepartment not found")
		}
		return nil, err
	}

	chain := make([]Subdepartment, 0)
	seen := map[int64]struct{}{sub.ID: {}}
	current := sub
	for depth := 0; current.ParentID != nil && depth < maxTreeDepth; depth++ {
		next, err := s.repo.GetSubdepartment(ctx, *current.ParentID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return nil, err
		}
		if _, ok := seen[next.ID]; ok {
			break
		}
		seen[next.ID] = struct{}{}
		chain = append(chain, next)
		current = next
	}
	return chain, nil
}

// Members lists participations of the subdepartment, optionally including
// every descendant's members.
func (s *HierarchyService) Members(ctx context.Context, id int64, includeChildren bool) ([]Participation, error) {
	if _, err := s.GetSubdepartment(ctx, id); err != nil {
		return nil, err
	}
	scope := []int64{id}
	if includeChildren {
		descendants, err := s.DescendantIDs(ctx, id)
		if err != nil {
			return nil, err
		}
		scope = append(scope, descendants...)
	}
	return s.repo.ListParticipations(ctx, scope)
}

func (s *HierarchyService) AddMember(ctx context.Context, in ParticipationInsert) (Participation, error) {
	sub, err := s.GetSubdepartment(ctx, in.SubdepartmentID)
	if err != nil {
		return Participation{}, err
	}
	if _, err := requireDepartmentManager(ctx, sub.DepartmentID); err != nil {
		return Participation{}, err
	}
	if in.Role == "" {
		in.Role = "member"
	}
	if _, err := s.repo.FindParticipation(ctx, in.SubdepartmentID, in.UserID); err == nil {
		return Participation{}, serrors.Conflict("WT_CONFLICT", "user already participates in this subdepartment")
	} else if !errors.Is(err, ErrNotFound) {
		return Participation{}, err
	}

	var created Participation
	err = s.repo.InTx(ctx, func(txCtx context.Context) error {
		var err error
		created, err = s.repo.InsertParticipation(txCtx, in)
		if err != nil {
			return err
		}
		return s.repo.RefreshEmployeeCount(txCtx, in.SubdepartmentID)
	})
	return created, err
}

func (s *HierarchyService) UpdateMemberRole(ctx context.Context, participationID int64, role string) (Participation, error) {
	part, err := s.repo.GetParticipation(ctx, participationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Participation{}, serrors.NotFound("participation not found")
		}
		return Participation{}, err
	}
	sub, err := s.GetSubdepartment(ctx, part.SubdepartmentID)
	if err != nil {
		return Participation{}, err
	}
	if _, err := requireDepartmentManager(ctx, sub.DepartmentID); err != nil {
		return Participation{}, err
	}
	if strings.TrimSpace(role) == "" {
		return Participation{}, serrors.Validation("role is required")
	}
	return s.repo.UpdateParticipationRole(ctx, participationID, role)
}

func (s *HierarchyService) RemoveMember(ctx context.Context, participationID int64) error {
	part, err := s.repo.GetParticipation(ctx, participationID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return serrors.NotFound("participation not found")
		}
		return err
	}
	sub, err := s.GetSubdepartment(ctx, part.SubdepartmentID)
	if err != nil {
		return err
	}
	if _, err := requireDepartmentManager(ctx, sub.DepartmentID); err != nil {
		return err
	}
	return s.repo.InTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.DeleteParticipation(txCtx, participationID); err != nil {
			return err
		}
		return s.repo.RefreshEmployeeCount(txCtx, part.SubdepartmentID)
	})
}

func (s *HierarchyService) AssignManager(ctx context.Context, subdepartmentID int64, managerID *int64) (Subdepartment, error) {
	return s.UpdateSubdepartment(ctx, subdepartmentID, SubdepartmentPatch{
		ManagerIDSet: true,
		ManagerID:    managerID,
	})
}
