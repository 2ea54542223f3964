package labcore

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Observer is implemented by objects that want Manager notifications.
type Observer interface {
	// OnEvent is called when an event the observer subscribed to
	// occurs. Observers should return quickly; failures are logged,
	// not propagated.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier used for registration
	// tracking.
	ObserverID() string
}

// Subject is the notification surface the Manager exposes.
type Subject interface {
	// RegisterObserver adds an observer, optionally filtered to the
	// given event types. No filter means all events.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. Idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers delivers an event to all interested observers
	// without blocking the caller on observer work.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers describes the currently registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo describes a registered observer for debugging and
// monitoring surfaces.
type ObserverInfo struct {
	ID           string    `json:"id"`
	EventTypes   []string  `json:"eventTypes"`
	RegisteredAt time.Time `json:"registeredAt"`
}

// Event types emitted by the Manager, in reverse domain notation per
// the CloudEvents convention.
const (
	EventTypeConfigChanged  = "com.labcore.manager.config.changed"
	EventTypeModulesChanged = "com.labcore.manager.modules.changed"
	EventTypeModuleQuit     = "com.labcore.manager.module.quit"
	EventTypeBaseDirChanged = "com.labcore.manager.basedir.changed"
	EventTypeLogDirChanged  = "com.labcore.manager.logdir.changed"
	EventTypeAbortAll       = "com.labcore.manager.abort.all"
	EventTypeManagerQuit    = "com.labcore.manager.quit"
)

// NewEvent creates a CloudEvent with the required attributes set.
func NewEvent(eventType, source string, data any) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(newEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)
	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}
	return event
}

// newEventID generates a UUIDv7 event identifier; v7 embeds a
// timestamp so IDs are time-ordered. Falls back to v4 if v7 fails.
func newEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// FuncObserver adapts a function to the Observer interface.
type FuncObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFuncObserver creates an observer backed by handler.
func NewFuncObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) *FuncObserver {
	return &FuncObserver{id: id, handler: handler}
}

func (f *FuncObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

func (f *FuncObserver) ObserverID() string { return f.id }
