package labcore

import (
	"context"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect returns an observer pushing received event types into a
// channel.
func collect(id string) (*FuncObserver, chan string) {
	ch := make(chan string, 16)
	obs := NewFuncObserver(id, func(ctx context.Context, event cloudevents.Event) error {
		ch <- event.Type()
		return nil
	})
	return obs, ch
}

func waitEvent(t *testing.T, ch chan string, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-ch:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func TestNotifyObservers(t *testing.T) {
	mgr := newTestManager(t)
	obs, ch := collect("test-observer")
	require.NoError(t, mgr.RegisterObserver(obs))

	event := NewEvent(EventTypeModulesChanged, "test", map[string]any{"name": "pump"})
	require.NoError(t, mgr.NotifyObservers(context.Background(), event))
	waitEvent(t, ch, EventTypeModulesChanged)
}

func TestObserverEventTypeFilter(t *testing.T) {
	mgr := newTestManager(t)
	obs, ch := collect("filtered")
	require.NoError(t, mgr.RegisterObserver(obs, EventTypeManagerQuit))

	ctx := context.Background()
	require.NoError(t, mgr.NotifyObservers(ctx, NewEvent(EventTypeModulesChanged, "test", nil)))
	require.NoError(t, mgr.NotifyObservers(ctx, NewEvent(EventTypeManagerQuit, "test", nil)))

	// only the subscribed type arrives
	waitEvent(t, ch, EventTypeManagerQuit)
	select {
	case got := <-ch:
		t.Fatalf("unexpected event %s", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnregisterObserver(t *testing.T) {
	mgr := newTestManager(t)
	obs, ch := collect("transient")
	require.NoError(t, mgr.RegisterObserver(obs))
	require.Len(t, mgr.GetObservers(), 1)

	require.NoError(t, mgr.UnregisterObserver(obs))
	assert.Empty(t, mgr.GetObservers())
	// unregistering again is fine
	require.NoError(t, mgr.UnregisterObserver(obs))

	require.NoError(t, mgr.NotifyObservers(context.Background(), NewEvent(EventTypeAbortAll, "test", nil)))
	select {
	case got := <-ch:
		t.Fatalf("unregistered observer received %s", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestManagerEmitsLifecycleEvents(t *testing.T) {
	mgr := newTestManager(t)
	obs, ch := collect("lifecycle")
	require.NoError(t, mgr.RegisterObserver(obs))

	mgr.Configure(map[string]any{
		"hardware": map[string]any{
			"pump": map[string]any{"module": "test.source"},
		},
	})
	waitEvent(t, ch, EventTypeConfigChanged)

	ctx := context.Background()
	require.NoError(t, mgr.LoadConfigureModule(CategoryHardware, "pump"))
	waitEvent(t, ch, EventTypeModulesChanged)

	require.NoError(t, mgr.ActivateModule(ctx, CategoryHardware, "pump"))
	waitEvent(t, ch, EventTypeModulesChanged)

	require.NoError(t, mgr.DeactivateModule(ctx, CategoryHardware, "pump"))
	waitEvent(t, ch, EventTypeModuleQuit)

	mgr.AbortAll()
	waitEvent(t, ch, EventTypeAbortAll)

	mgr.Quit(ctx)
	waitEvent(t, ch, EventTypeManagerQuit)
}

func TestNewEventAttributes(t *testing.T) {
	event := NewEvent(EventTypeConfigChanged, "manager", map[string]any{"k": "v"})
	assert.NoError(t, event.Validate())
	assert.Equal(t, EventTypeConfigChanged, event.Type())
	assert.Equal(t, "manager", event.Source())
	assert.NotEmpty(t, event.ID())
	assert.False(t, event.Time().IsZero())

	// IDs are unique per event
	other := NewEvent(EventTypeConfigChanged, "manager", nil)
	assert.NotEqual(t, event.ID(), other.ID())
}
