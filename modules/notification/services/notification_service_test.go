package services_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/worktrack/modules/notification/infrastructure/persistence"
	"github.com/iota-uz/worktrack/modules/notification/services"
	task "github.com/iota-uz/worktrack/modules/task/services"
	"github.com/iota-uz/worktrack/pkg/composables"
	"github.com/iota-uz/worktrack/pkg/eventbus"
	"github.com/iota-uz/worktrack/pkg/logging"
)

func newFixture(t *testing.T) (*services.NotificationService, eventbus.EventBus) {
	t.Helper()
	log := logging.ConsoleLogger(logrus.PanicLevel)
	bus := eventbus.NewEventPublisher(log)
	svc := services.NewNotificationService(context.Background(), persistence.NewMemoryStore(), log)
	svc.Register(bus)
	return svc, bus
}

// publish pushes the event and waits for the async deliveries to land.
func publish(svc *services.NotificationService, bus eventbus.EventBus, event any) {
	bus.Publish(event)
	svc.Drain()
}

func userCtx(id int64) context.Context {
	return composables.WithPrincipal(context.Background(), composables.Principal{
		ID: id, Role: composables.RolePersonnel, DepartmentID: 1,
	})
}

func TestTaskEventsCreateNotifications(t *testing.T) {
	svc, bus := newFixture(t)

	publish(svc, bus, task.TaskAssignedEvent{
		Task:       task.Task{ID: 1, Title: "Patch fleet", CreatedBy: 1},
		AssignedTo: []int64{5, 6},
	})

	mine, err := svc.ListMine(userCtx(5), false)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, services.KindTaskAssigned, mine[0].Kind)
	require.Contains(t, mine[0].Message, "Patch fleet")

	theirs, err := svc.ListMine(userCtx(6), false)
	require.NoError(t, err)
	require.Len(t, theirs, 1)

	none, err := svc.ListMine(userCtx(7), false)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestStatusChangeNotifiesAuthor(t *testing.T) {
	svc, bus := newFixture(t)

	publish(svc, bus, task.AssignmentStatusChangedEvent{
		Task:       task.Task{ID: 2, Title: "Ship docs", CreatedBy: 1},
		Assignment: task.TaskAssignment{AssignedTo: 5, Status: task.StatusCompleted},
		Previous:   task.StatusUnderReview,
	})
	// A self-assigned author gets no echo.
	publish(svc, bus, task.AssignmentStatusChangedEvent{
		Task:       task.Task{ID: 3, Title: "Solo work", CreatedBy: 5},
		Assignment: task.TaskAssignment{AssignedTo: 5, Status: task.StatusCompleted},
		Previous:   task.StatusToDo,
	})

	mine, err := svc.ListMine(userCtx(1), false)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, services.KindStatusChanged, mine[0].Kind)

	self, err := svc.ListMine(userCtx(5), false)
	require.NoError(t, err)
	require.Empty(t, self)
}

func TestMarkRead(t *testing.T) {
	svc, bus := newFixture(t)

	publish(svc, bus, task.TaskAssignedEvent{
		Task:       task.Task{ID: 1, Title: "Patch fleet", CreatedBy: 1},
		AssignedTo: []int64{5},
	})

	mine, err := svc.ListMine(userCtx(5), true)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	read, err := svc.MarkRead(userCtx(5), mine[0].ID)
	require.NoError(t, err)
	require.NotNil(t, read.ReadAt)

	unread, err := svc.ListMine(userCtx(5), true)
	require.NoError(t, err)
	require.Empty(t, unread)

	t.Run("idempotent", func(t *testing.T) {
		again, err := svc.MarkRead(userCtx(5), read.ID)
		require.NoError(t, err)
		require.Equal(t, *read.ReadAt, *again.ReadAt)
	})

	t.Run("someone else's notification reads as missing", func(t *testing.T) {
		_, err := svc.MarkRead(userCtx(6), read.ID)
		require.Error(t, err)
	})
}

type ctxKey string

// recordingStore remembers the context each insert arrived on.
type recordingStore struct {
	services.Store
	ctx context.Context
}

func (s *recordingStore) Insert(ctx context.Context, n services.Notification) (services.Notification, error) {
	s.ctx = ctx
	return n, nil
}

func TestDeliveryUsesServiceContext(t *testing.T) {
	// The store must see the long-lived context handed to the service at
	// construction (the one carrying the database pool), not whatever
	// context the triggering event happened to be raised on.
	base := context.WithValue(context.Background(), ctxKey("origin"), "service")
	log := logging.ConsoleLogger(logrus.PanicLevel)
	store := &recordingStore{}
	svc := services.NewNotificationService(base, store, log)
	bus := eventbus.NewEventPublisher(log)
	svc.Register(bus)

	publish(svc, bus, task.TaskAssignedEvent{
		Task:       task.Task{ID: 1, Title: "Patch fleet", CreatedBy: 1},
		AssignedTo: []int64{5},
	})

	require.NotNil(t, store.ctx)
	require.Equal(t, "service", store.ctx.Value(ctxKey("origin")))
}

// gatedStore holds every insert until released.
type gatedStore struct {
	services.Store
	gate chan struct{}
	done chan struct{}
}

func (s *gatedStore) Insert(ctx context.Context, n services.Notification) (services.Notification, error) {
	<-s.gate
	close(s.done)
	return n, nil
}

func TestDeliveryDoesNotBlockPublisher(t *testing.T) {
	log := logging.ConsoleLogger(logrus.PanicLevel)
	store := &gatedStore{gate: make(chan struct{}), done: make(chan struct{})}
	svc := services.NewNotificationService(context.Background(), store, log)
	bus := eventbus.NewEventPublisher(log)
	svc.Register(bus)

	// Publish returns while the store is still stalled.
	bus.Publish(task.TaskAssignedEvent{
		Task:       task.Task{ID: 1, Title: "Patch fleet", CreatedBy: 1},
		AssignedTo: []int64{5},
	})
	select {
	case <-store.done:
		t.Fatal("insert finished before the gate opened")
	default:
	}

	close(store.gate)
	svc.Drain()
	<-store.done
}
