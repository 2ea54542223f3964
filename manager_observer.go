package labcore

import (
	"context"
	"sync"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// observerRegistration holds a registered observer and its filter.
type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool
	registeredAt time.Time
}

type observerSet struct {
	mu        sync.RWMutex
	observers map[string]*observerRegistration
}

// RegisterObserver adds an observer to receive Manager notifications,
// optionally filtered to the given event types.
func (m *Manager) RegisterObserver(observer Observer, eventTypes ...string) error {
	m.obs.mu.Lock()
	defer m.obs.mu.Unlock()

	filter := make(map[string]bool, len(eventTypes))
	for _, et := range eventTypes {
		filter[et] = true
	}
	m.obs.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   filter,
		registeredAt: time.Now(),
	}
	m.logger.Debug("Observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

// UnregisterObserver removes an observer. Idempotent.
func (m *Manager) UnregisterObserver(observer Observer) error {
	m.obs.mu.Lock()
	defer m.obs.mu.Unlock()
	delete(m.obs.observers, observer.ObserverID())
	return nil
}

// NotifyObservers delivers event to every interested observer. Each
// observer runs in its own goroutine so a slow or panicking observer
// cannot block Manager operations.
func (m *Manager) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	m.obs.mu.RLock()
	defer m.obs.mu.RUnlock()

	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}
	if err := event.Validate(); err != nil {
		m.logger.Error("Invalid event", "eventType", event.Type(), "error", err)
		return err
	}

	for _, reg := range m.obs.observers {
		if len(reg.eventTypes) > 0 && !reg.eventTypes[event.Type()] {
			continue
		}
		reg := reg
		go func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("Observer panicked", "observerID", reg.observer.ObserverID(), "event", event.Type(), "panic", r)
				}
			}()
			if err := reg.observer.OnEvent(ctx, event); err != nil {
				m.logger.Error("Observer error", "observerID", reg.observer.ObserverID(), "event", event.Type(), "error", err)
			}
		}()
	}
	return nil
}

// GetObservers describes the currently registered observers.
func (m *Manager) GetObservers() []ObserverInfo {
	m.obs.mu.RLock()
	defer m.obs.mu.RUnlock()

	info := make([]ObserverInfo, 0, len(m.obs.observers))
	for _, reg := range m.obs.observers {
		types := make([]string, 0, len(reg.eventTypes))
		for et := range reg.eventTypes {
			types = append(types, et)
		}
		info = append(info, ObserverInfo{
			ID:           reg.observer.ObserverID(),
			EventTypes:   types,
			RegisteredAt: reg.registeredAt,
		})
	}
	return info
}

// emit broadcasts a Manager event asynchronously.
func (m *Manager) emit(eventType string, data any) {
	event := NewEvent(eventType, "manager", data)
	go func() {
		if err := m.NotifyObservers(context.Background(), event); err != nil {
			m.logger.Error("Failed to notify observers", "event", eventType, "error", err)
		}
	}()
}
