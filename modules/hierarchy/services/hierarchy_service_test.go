package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/worktrack/modules/hierarchy/infrastructure/persistence"
	"github.com/iota-uz/worktrack/modules/hierarchy/services"
	"github.com/iota-uz/worktrack/pkg/composables"
)

type stubTaskPort struct {
	byDepartment    map[int64]int
	bySubdepartment map[int64][2]int // total, completed
	reassigned      [][2]int64
}

func (s *stubTaskPort) CountByDepartment(_ context.Context, departmentID int64) (int, error) {
	return s.byDepartment[departmentID], nil
}

func (s *stubTaskPort) CountBySubdepartments(_ context.Context, ids []int64) (int, int, error) {
	total, completed := 0, 0
	for _, id := range ids {
		total += s.bySubdepartment[id][0]
		completed += s.bySubdepartment[id][1]
	}
	return total, completed, nil
}

func (s *stubTaskPort) ReassignSubdepartment(_ context.Context, fromID, toID int64) (int, error) {
	s.reassigned = append(s.reassigned, [2]int64{fromID, toID})
	moved := s.bySubdepartment[fromID][0]
	delete(s.bySubdepartment, fromID)
	return moved, nil
}

func adminCtx() context.Context {
	return composables.WithPrincipal(context.Background(), composables.Principal{
		ID:   1,
		Role: composables.RoleAdmin,
	})
}

func personnelCtx(departmentID int64) context.Context {
	return composables.WithPrincipal(context.Background(), composables.Principal{
		ID:           77,
		Role:         composables.RolePersonnel,
		DepartmentID: departmentID,
	})
}

func newFixture(t *testing.T) (*services.HierarchyService, *persistence.MemoryRepository, *stubTaskPort) {
	t.Helper()
	repo := persistence.NewMemoryRepository()
	tasks := &stubTaskPort{
		byDepartment:    map[int64]int{},
		bySubdepartment: map[int64][2]int{},
	}
	return services.NewHierarchyService(repo, tasks), repo, tasks
}

// buildTree creates dep -> root -> mid -> leaf and returns their IDs.
func buildTree(t *testing.T, svc *services.HierarchyService) (dep, root, mid, leaf int64) {
	t.Helper()
	ctx := adminCtx()
	d, err := svc.CreateDepartment(ctx, services.DepartmentInsert{Name: "Engineering"})
	require.NoError(t, err)
	r, err := svc.CreateSubdepartment(ctx, services.SubdepartmentInsert{DepartmentID: d.ID, Name: "Platform"})
	require.NoError(t, err)
	m, err := svc.CreateSubdepartment(ctx, services.SubdepartmentInsert{DepartmentID: d.ID, ParentID: &r.ID, Name: "Infra"})
	require.NoError(t, err)
	l, err := svc.CreateSubdepartment(ctx, services.SubdepartmentInsert{DepartmentID: d.ID, ParentID: &m.ID, Name: "Networking"})
	require.NoError(t, err)
	return d.ID, r.ID, m.ID, l.ID
}

func TestCreateDepartment_RequiresAdmin(t *testing.T) {
	svc, _, _ := newFixture(t)

	_, err := svc.CreateDepartment(personnelCtx(1), services.DepartmentInsert{Name: "Ops"})
	requireServiceError(t, err, "WT_FORBIDDEN")

	_, err = svc.CreateDepartment(adminCtx(), services.DepartmentInsert{Name: "   "})
	requireServiceError(t, err, "WT_VALIDATION")
}

func TestCreateSubdepartment_ParentMustShareDepartment(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := adminCtx()

	depA, err := svc.CreateDepartment(ctx, services.DepartmentInsert{Name: "A"})
	require.NoError(t, err)
	depB, err := svc.CreateDepartment(ctx, services.DepartmentInsert{Name: "B"})
	require.NoError(t, err)
	rootA, err := svc.CreateSubdepartment(ctx, services.SubdepartmentInsert{DepartmentID: depA.ID, Name: "root-a"})
	require.NoError(t, err)

	_, err = svc.CreateSubdepartment(ctx, services.SubdepartmentInsert{
		DepartmentID: depB.ID,
		ParentID:     &rootA.ID,
		Name:         "cross",
	})
	requireServiceError(t, err, "WT_VALIDATION")
}

func TestUpdateSubdepartment_Reparent(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := adminCtx()
	_, root, mid, leaf := buildTree(t, svc)

	t.Run("self parent rejected", func(t *testing.T) {
		_, err := svc.UpdateSubdepartment(ctx, root, services.SubdepartmentPatch{
			ParentIDSet: true, ParentID: &root,
		})
		requireServiceError(t, err, "WT_CYCLE")
	})

	t.Run("descendant parent rejected", func(t *testing.T) {
		_, err := svc.UpdateSubdepartment(ctx, root, services.SubdepartmentPatch{
			ParentIDSet: true, ParentID: &leaf,
		})
		requireServiceError(t, err, "WT_CYCLE")
	})

	t.Run("sibling move accepted", func(t *testing.T) {
		moved, err := svc.UpdateSubdepartment(ctx, leaf, services.SubdepartmentPatch{
			ParentIDSet: true, ParentID: &root,
		})
		require.NoError(t, err)
		require.NotNil(t, moved.ParentID)
		require.Equal(t, root, *moved.ParentID)

		// mid no longer has children
		ids, err := svc.DescendantIDs(ctx, mid)
		require.NoError(t, err)
		require.Empty(t, ids)
	})

	t.Run("detach to root", func(t *testing.T) {
		moved, err := svc.UpdateSubdepartment(ctx, mid, services.SubdepartmentPatch{
			ParentIDSet: true, ParentID: nil,
		})
		require.NoError(t, err)
		require.Nil(t, moved.ParentID)
	})
}

func TestDescendantIDs_ToleratesStoredCycle(t *testing.T) {
	svc, repo, _ := newFixture(t)
	_, root, mid, leaf := buildTree(t, svc)

	// Corrupt the stored tree directly: root's parent becomes leaf.
	_, err := repo.UpdateSubdepartment(context.Background(), root, services.SubdepartmentPatch{
		ParentIDSet: true, ParentID: &leaf,
	})
	require.NoError(t, err)

	ids, err := svc.DescendantIDs(adminCtx(), root)
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{mid, leaf}, ids)
}

func TestSubtreeCounts(t *testing.T) {
	svc, _, tasks := newFixture(t)
	ctx := adminCtx()
	_, root, mid, leaf := buildTree(t, svc)

	tasks.bySubdepartment[root] = [2]int{2, 1}
	tasks.bySubdepartment[mid] = [2]int{3, 0}
	tasks.bySubdepartment[leaf] = [2]int{1, 1}

	_, err := svc.AddMember(ctx, services.ParticipationInsert{SubdepartmentID: mid, UserID: 10})
	require.NoError(t, err)
	_, err = svc.AddMember(ctx, services.ParticipationInsert{SubdepartmentID: leaf, UserID: 11})
	require.NoError(t, err)

	t.Run("subtree", func(t *testing.T) {
		counts, err := svc.SubtreeCounts(ctx, root, true)
		require.NoError(t, err)
		require.Equal(t, 6, counts.TaskCount)
		require.Equal(t, 2, counts.MemberCount)
		require.InDelta(t, 100.0/3.0, counts.CompletionRate, 1e-9)
	})

	t.Run("single node without tasks", func(t *testing.T) {
		empty, err := svc.CreateSubdepartment(ctx, services.SubdepartmentInsert{
			DepartmentID: 1, Name: "Empty",
		})
		require.NoError(t, err)
		counts, err := svc.SubtreeCounts(ctx, empty.ID, false)
		require.NoError(t, err)
		require.Zero(t, counts.TaskCount)
		require.Zero(t, counts.CompletionRate)
	})
}

func TestDeleteSubdepartment(t *testing.T) {
	t.Run("requires reassignment when occupied", func(t *testing.T) {
		svc, _, tasks := newFixture(t)
		_, root, _, _ := buildTree(t, svc)
		tasks.bySubdepartment[root] = [2]int{1, 0}

		err := svc.DeleteSubdepartment(adminCtx(), root, nil)
		requireServiceError(t, err, "WT_CONFLICT")
	})

	t.Run("moves members and tasks, keeps children", func(t *testing.T) {
		svc, _, tasks := newFixture(t)
		ctx := adminCtx()
		_, root, mid, leaf := buildTree(t, svc)
		tasks.bySubdepartment[mid] = [2]int{2, 0}
		_, err := svc.AddMember(ctx, services.ParticipationInsert{SubdepartmentID: mid, UserID: 5})
		require.NoError(t, err)

		require.NoError(t, svc.DeleteSubdepartment(ctx, mid, &root))

		_, err = svc.GetSubdepartment(ctx, mid)
		requireServiceError(t, err, "WT_NOT_FOUND")

		members, err := svc.Members(ctx, root, false)
		require.NoError(t, err)
		require.Len(t, members, 1)
		require.Equal(t, [2]int64{mid, root}, tasks.reassigned[0])

		// leaf still points at the deleted parent; it is not reparented.
		orphan, err := svc.GetSubdepartment(ctx, leaf)
		require.NoError(t, err)
		require.NotNil(t, orphan.ParentID)
		require.Equal(t, mid, *orphan.ParentID)
	})

	t.Run("rejects target outside the department", func(t *testing.T) {
		svc, _, tasks := newFixture(t)
		ctx := adminCtx()
		_, root, _, _ := buildTree(t, svc)
		other, err := svc.CreateDepartment(ctx, services.DepartmentInsert{Name: "Sales"})
		require.NoError(t, err)
		foreign, err := svc.CreateSubdepartment(ctx, services.SubdepartmentInsert{
			DepartmentID: other.ID, Name: "Field",
		})
		require.NoError(t, err)
		tasks.bySubdepartment[root] = [2]int{1, 0}

		err = svc.DeleteSubdepartment(ctx, root, &foreign.ID)
		requireServiceError(t, err, "WT_NOT_FOUND")
	})
}

func TestDeleteDepartment_BlockedWhileOccupied(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := adminCtx()
	dep, _, _, _ := buildTree(t, svc)

	err := svc.DeleteDepartment(ctx, dep)
	requireServiceError(t, err, "WT_CONFLICT")

	empty, err := svc.CreateDepartment(ctx, services.DepartmentInsert{Name: "Shell"})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteDepartment(ctx, empty.ID))
}

func TestMembers(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := adminCtx()
	_, root, mid, _ := buildTree(t, svc)

	created, err := svc.AddMember(ctx, services.ParticipationInsert{SubdepartmentID: mid, UserID: 9, Role: "lead"})
	require.NoError(t, err)
	require.Equal(t, "lead", created.Role)

	_, err = svc.AddMember(ctx, services.ParticipationInsert{SubdepartmentID: mid, UserID: 9})
	requireServiceError(t, err, "WT_CONFLICT")

	sub, err := svc.GetSubdepartment(ctx, mid)
	require.NoError(t, err)
	require.Equal(t, 1, sub.EmployeeCount)

	all, err := svc.Members(ctx, root, true)
	require.NoError(t, err)
	require.Len(t, all, 1)

	direct, err := svc.Members(ctx, root, false)
	require.NoError(t, err)
	require.Empty(t, direct)

	updated, err := svc.UpdateMemberRole(ctx, created.ID, "member")
	require.NoError(t, err)
	require.Equal(t, "member", updated.Role)

	require.NoError(t, svc.RemoveMember(ctx, created.ID))
	sub, err = svc.GetSubdepartment(ctx, mid)
	require.NoError(t, err)
	require.Zero(t, sub.EmployeeCount)
}

func TestGetSubdepartment_ScopedByDepartment(t *testing.T) {
	svc, _, _ := newFixture(t)
	dep, root, _, _ := buildTree(t, svc)

	_, err := svc.GetSubdepartment(personnelCtx(dep), root)
	require.NoError(t, err)

	_, err = svc.GetSubdepartment(personnelCtx(dep+100), root)
	requireServiceError(t, err, "WT_NOT_FOUND")
}

func TestParentChain(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := adminCtx()
	_, root, mid, leaf := buildTree(t, svc)

	chain, err := svc.ParentChain(ctx, leaf)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	require.Equal(t, mid, chain[0].ID)
	require.Equal(t, root, chain[1].ID)
}
