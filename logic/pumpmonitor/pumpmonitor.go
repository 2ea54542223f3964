// Package pumpmonitor periodically samples a vacuum pump controller
// and keeps the latest reading available for display modules.
package pumpmonitor

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openlabkit/labcore"
	"github.com/openlabkit/labcore/hardware/edwards"
)

// Default sampling schedule, overridable with the `schedule` option.
const defaultSchedule = "@every 30s"

// Sample is one pump controller snapshot.
type Sample struct {
	Time          time.Time          `json:"time"`
	Pressures     []float64          `json:"pressures"`
	TurboStatus   edwards.PumpStatus `json:"turboStatus"`
	BackingStatus edwards.PumpStatus `json:"backingStatus"`
}

// Source is the capability this module exposes on its `samples` out
// connector.
type Source interface {
	LastSample() (Sample, bool)
}

// SourceCapability is the typed capability for the `samples`
// connector.
var SourceCapability = labcore.Capability{
	Class: "PressureSource",
	Iface: reflect.TypeOf((*Source)(nil)).Elem(),
}

// Monitor polls the pump bound to its `pump` in connector.
type Monitor struct {
	name   string
	opts   labcore.Options
	logger labcore.Logger
	table  *labcore.ConnectorTable

	cron *cron.Cron

	mu      sync.RWMutex
	last    Sample
	sampled bool
}

var _ Source = (*Monitor)(nil)

// New constructs the monitor.
func New(mgr *labcore.Manager, name string, opts labcore.Options) (labcore.Module, error) {
	m := &Monitor{
		name:   name,
		opts:   opts,
		logger: mgr.Logger(),
		table:  labcore.NewConnectorTable(),
	}
	m.table.DeclareIn("pump", edwards.PumpCapability)
	m.table.DeclareOut("samples", SourceCapability)
	return m, nil
}

func (m *Monitor) Name() string                        { return m.name }
func (m *Monitor) Connectors() *labcore.ConnectorTable { return m.table }

// OnActivate starts the sampling schedule. The `pump` connector must
// have been wired first.
func (m *Monitor) OnActivate(ctx context.Context) error {
	pump, err := m.pump()
	if err != nil {
		return err
	}

	schedule, ok := m.opts.String("schedule")
	if !ok {
		schedule = defaultSchedule
	}
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { m.sample(pump) }); err != nil {
		return fmt.Errorf("pumpmonitor %s: bad schedule %q: %w", m.name, schedule, err)
	}
	c.Start()
	m.cron = c

	// Take one sample up front so consumers never start empty.
	m.sample(pump)
	m.logger.Info("Pump monitor started", "name", m.name, "schedule", schedule)
	return nil
}

// OnDeactivate stops the schedule and waits for a running sample to
// finish.
func (m *Monitor) OnDeactivate(ctx context.Context) error {
	if m.cron == nil {
		return nil
	}
	stopped := m.cron.Stop()
	m.cron = nil
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) pump() (edwards.Pump, error) {
	conn, ok := m.table.In["pump"]
	if !ok || !conn.Bound() {
		return nil, fmt.Errorf("pumpmonitor %s: pump connector not wired", m.name)
	}
	pump, ok := conn.Target().(edwards.Pump)
	if !ok {
		return nil, fmt.Errorf("pumpmonitor %s: bound target is not a pump", m.name)
	}
	return pump, nil
}

func (m *Monitor) sample(pump edwards.Pump) {
	pressures, err := pump.Pressures()
	if err != nil {
		m.logger.Warn("Pressure sample failed", "name", m.name, "error", err)
		return
	}
	turbo, err := pump.TurboStatus()
	if err != nil {
		m.logger.Warn("Turbo status failed", "name", m.name, "error", err)
		return
	}
	backing, err := pump.BackingStatus()
	if err != nil {
		m.logger.Warn("Backing status failed", "name", m.name, "error", err)
		return
	}

	m.mu.Lock()
	m.last = Sample{
		Time:          time.Now(),
		Pressures:     pressures,
		TurboStatus:   turbo,
		BackingStatus: backing,
	}
	m.sampled = true
	m.mu.Unlock()
}

// LastSample returns the most recent snapshot, if any was taken yet.
func (m *Monitor) LastSample() (Sample, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last, m.sampled
}
