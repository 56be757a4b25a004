package persistence_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/worktrack/modules/task/infrastructure/persistence"
	"github.com/iota-uz/worktrack/modules/task/services"
)

// Many writers racing on the same version: exactly one conditional
// update may land, everyone else gets a version conflict.
func TestConcurrentStatusWrites_OneWinner(t *testing.T) {
	repo := persistence.NewMemoryRepository()
	ctx := context.Background()

	task, err := repo.InsertTask(ctx, services.TaskInsert{DepartmentID: 1, Title: "contended"})
	require.NoError(t, err)
	assignment, err := repo.InsertAssignment(ctx, task.ID, 5)
	require.NoError(t, err)

	const writers = 32
	var wg sync.WaitGroup
	conflicts := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			write := services.StatusWrite{Status: services.StatusInProgress, Progress: 25}
			_, conflicts[i] = repo.UpdateAssignmentStatus(ctx, assignment.ID, 1, write)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range conflicts {
		if err == nil {
			winners++
			continue
		}
		require.True(t, errors.Is(err, services.ErrVersionConflict))
	}
	require.Equal(t, 1, winners)

	row, err := repo.GetAssignment(ctx, assignment.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, row.Version, "exactly one write advanced the version")
	require.Equal(t, services.StatusInProgress, row.Status)
}

func TestConcurrentTaskPatches_OneWinner(t *testing.T) {
	repo := persistence.NewMemoryRepository()
	ctx := context.Background()

	task, err := repo.InsertTask(ctx, services.TaskInsert{DepartmentID: 1, Title: "original"})
	require.NoError(t, err)

	titles := []string{"first", "second", "third", "fourth"}
	var wg sync.WaitGroup
	results := make([]error, len(titles))
	for i := range titles {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = repo.UpdateTask(ctx, task.ID, 1, services.TaskPatch{Title: &titles[i]})
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			require.True(t, errors.Is(err, services.ErrVersionConflict))
		}
	}
	require.Equal(t, 1, winners)

	stored, err := repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, stored.Version)
	require.Contains(t, titles, stored.Title)
}
