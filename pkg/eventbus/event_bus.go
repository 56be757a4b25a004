package eventbus

import (
	"reflect"
	"sync"

	"github.com/sirupsen/logrus"
)

// EventBus is a minimal in-process publisher. Handlers are plain functions;
// a published event is delivered to every handler whose single parameter
// type matches the event's type.
type EventBus interface {
	Publish(event any)
	Subscribe(handler any)
	SubscribersCount() int
}

type publisherImpl struct {
	log *logrus.Logger

	mu          sync.RWMutex
	subscribers []any
}

func NewEventPublisher(log *logrus.Logger) EventBus {
	return &publisherImpl{log: log}
}

func (p *publisherImpl) Subscribe(handler any) {
	t := reflect.TypeOf(handler)
	if t == nil || t.Kind() != reflect.Func || t.NumIn() != 1 {
		panic("eventbus: handler must be a func with exactly one parameter")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, handler)
}

func (p *publisherImpl) Publish(event any) {
	eventType := reflect.TypeOf(event)
	p.mu.RLock()
	subscribers := make([]any, len(p.subscribers))
	copy(subscribers, p.subscribers)
	p.mu.RUnlock()

	handled := false
	for _, handler := range subscribers {
		v := reflect.ValueOf(handler)
		if !matches(v.Type().In(0), eventType) {
			continue
		}
		handled = true
		v.Call([]reflect.Value{reflect.ValueOf(event)})
	}
	if !handled && p.log != nil {
		p.log.WithField("event_type", eventType.String()).Debug("event published with no subscribers")
	}
}

func (p *publisherImpl) SubscribersCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers)
}

func matches(param, arg reflect.Type) bool {
	if arg == nil {
		return false
	}
	if param.Kind() == reflect.Interface {
		return arg.Implements(param)
	}
	return arg.AssignableTo(param)
}
