package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	task "github.com/iota-uz/worktrack/modules/task/services"
	"github.com/iota-uz/worktrack/pkg/composables"
	"github.com/iota-uz/worktrack/pkg/eventbus"
	"github.com/iota-uz/worktrack/pkg/serrors"
)

const (
	KindTaskAssigned  = "task_assigned"
	KindStatusChanged = "status_changed"
	KindTaskDeleted   = "task_deleted"
)

type Notification struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"user_id"`
	Kind      string     `json:"kind"`
	Message   string     `json:"message"`
	TaskID    *int64     `json:"task_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
}

var ErrNotFound = errors.New("notification not found")

type Store interface {
	Insert(ctx context.Context, n Notification) (Notification, error)
	ListForUser(ctx context.Context, userID int64, unreadOnly bool) ([]Notification, error)
	Get(ctx context.Context, id int64) (Notification, error)
	MarkRead(ctx context.Context, id int64, at time.Time) (Notification, error)
}

// NotificationService materializes task events into per-user
// notifications. Delivery is best effort: a failed insert is logged and
// dropped, never surfaced to the operation that raised the event.
//
// baseCtx is a long-lived context carrying whatever the store needs to
// execute (the pgx pool under the postgres driver). Deliveries run on it
// rather than on the request context, so they survive the request and
// never join its transaction.
type NotificationService struct {
	store   Store
	log     *logrus.Logger
	baseCtx context.Context
	wg      sync.WaitGroup
}

func NewNotificationService(baseCtx context.Context, store Store, log *logrus.Logger) *NotificationService {
	return &NotificationService{store: store, log: log, baseCtx: baseCtx}
}

// Register attaches the service to the bus. Call once at startup.
func (s *NotificationService) Register(bus eventbus.EventBus) {
	bus.Subscribe(s.onTaskAssigned)
	bus.Subscribe(s.onStatusChanged)
	bus.Subscribe(s.onTaskDeleted)
}

// deliver inserts asynchronously so a slow or failing store never blocks
// the operation that raised the event.
func (s *NotificationService) deliver(n Notification) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.store.Insert(s.baseCtx, n); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"user_id": n.UserID,
				"kind":    n.Kind,
			}).Warn("dropping notification")
		}
	}()
}

// Drain blocks until every in-flight delivery has settled. Called on
// shutdown and by tests.
func (s *NotificationService) Drain() {
	s.wg.Wait()
}

func (s *NotificationService) onTaskAssigned(e task.TaskAssignedEvent) {
	for _, userID := range e.AssignedTo {
		s.deliver(Notification{
			UserID:  userID,
			Kind:    KindTaskAssigned,
			Message: fmt.Sprintf("You were assigned to %q", e.Task.Title),
			TaskID:  &e.Task.ID,
		})
	}
}

func (s *NotificationService) onStatusChanged(e task.AssignmentStatusChangedEvent) {
	if e.Assignment.Status == e.Previous {
		return
	}
	// The task author hears about progress; the assignee already knows.
	if e.Task.CreatedBy == e.Assignment.AssignedTo {
		return
	}
	s.deliver(Notification{
		UserID: e.Task.CreatedBy,
		Kind:   KindStatusChanged,
		Message: fmt.Sprintf("%q moved from %s to %s",
			e.Task.Title, e.Previous, e.Assignment.Status),
		TaskID: &e.Task.ID,
	})
}

func (s *NotificationService) onTaskDeleted(e task.TaskDeletedEvent) {
	for _, userID := range e.AssignedTo {
		s.deliver(Notification{
			UserID:  userID,
			Kind:    KindTaskDeleted,
			Message: fmt.Sprintf("Task %q was deleted", e.Task.Title),
		})
	}
}

// ListMine returns the calling principal's notifications.
func (s *NotificationService) ListMine(ctx context.Context, unreadOnly bool) ([]Notification, error) {
	p, err := composables.UsePrincipal(ctx)
	if err != nil {
		return nil, serrors.New(http.StatusUnauthorized, "WT_NO_PRINCIPAL", "principal is required", err)
	}
	return s.store.ListForUser(ctx, p.ID, unreadOnly)
}

// MarkRead stamps the notification read. Only the recipient may do so.
func (s *NotificationService) MarkRead(ctx context.Context, id int64) (Notification, error) {
	p, err := composables.UsePrincipal(ctx)
	if err != nil {
		return Notification{}, serrors.New(http.StatusUnauthorized, "WT_NO_PRINCIPAL", "principal is required", err)
	}
	n, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Notification{}, serrors.NotFound("notification not found")
		}
		return Notification{}, err
	}
	if n.UserID != p.ID {
		return Notification{}, serrors.NotFound("notification not found")
	}
	if n.ReadAt != nil {
		return n, nil
	}
	return s.store.MarkRead(ctx, id, time.Now().UTC())
}
