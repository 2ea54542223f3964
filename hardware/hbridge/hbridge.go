// Package hbridge controls a custom switch board with four H bridges,
// typically used for slow optical path switching.
package hbridge

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/openlabkit/labcore"
	"github.com/openlabkit/labcore/internal/comm"
)

const switchCount = 4

// Coils switch faster than 0.5s, but the board gives no completion
// signal so the driver waits it out.
const defaultSwitchTime = 500 * time.Millisecond

// Switch is the capability this driver exposes on its `switch` out
// connector.
type Switch interface {
	SwitchCount() int
	SwitchState(n int) (bool, error)
	SwitchOn(n int) error
	SwitchOff(n int) error
	Calibration(n int, state string) (time.Duration, error)
	SetCalibration(n int, state string, value time.Duration) error
}

// SwitchCapability is the typed capability for the `switch` connector.
var SwitchCapability = labcore.Capability{
	Class: "Switch",
	Iface: reflect.TypeOf((*Switch)(nil)).Elem(),
}

// Device drives one H-bridge board.
type Device struct {
	name   string
	opts   labcore.Options
	logger labcore.Logger
	table  *labcore.ConnectorTable

	dial func(comm.Config) (*comm.Conn, error)

	mu         sync.Mutex
	conn       *comm.Conn
	switchTime [switchCount]time.Duration
	sleep      func(time.Duration)
}

var _ Switch = (*Device)(nil)

// New constructs the driver. The `interface` option is required.
func New(mgr *labcore.Manager, name string, opts labcore.Options) (labcore.Module, error) {
	if _, ok := opts.String("interface"); !ok {
		return nil, fmt.Errorf("hbridge %s: missing interface option", name)
	}
	d := &Device{
		name:   name,
		opts:   opts,
		logger: mgr.Logger(),
		table:  labcore.NewConnectorTable(),
		dial:   comm.Dial,
		sleep:  time.Sleep,
	}
	for i := range d.switchTime {
		d.switchTime[i] = defaultSwitchTime
	}
	d.table.DeclareOut("switch", SwitchCapability)
	return d, nil
}

func (d *Device) Name() string                        { return d.name }
func (d *Device) Connectors() *labcore.ConnectorTable { return d.table }

// OnActivate opens the board link.
func (d *Device) OnActivate(ctx context.Context) error {
	addr, _ := d.opts.String("interface")
	baud, _ := d.opts.Int("baud")
	conn, err := d.dial(comm.Config{Address: addr, Baud: baud, TxTerm: "\r\n", RxTerm: "\r\n"})
	if err != nil {
		return fmt.Errorf("hbridge %s: %w", d.name, err)
	}
	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	return nil
}

// OnDeactivate closes the board link.
func (d *Device) OnDeactivate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// SwitchCount reports how many switches the board carries.
func (d *Device) SwitchCount() int { return switchCount }

// SwitchState reports whether switch n (0 based) is on.
func (d *Device) SwitchState(n int) (bool, error) {
	if err := checkSwitch(n); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return false, fmt.Errorf("hbridge %s: not connected", d.name)
	}
	reply, err := d.conn.Ask("STATUS")
	if err != nil {
		return false, fmt.Errorf("hbridge %s: status: %w", d.name, err)
	}
	fields := strings.Fields(reply)
	if len(fields) < switchCount {
		return false, fmt.Errorf("hbridge %s: short status answer %q", d.name, reply)
	}
	v, err := strconv.Atoi(fields[n])
	if err != nil {
		return false, fmt.Errorf("hbridge %s: bad status field %q", d.name, fields[n])
	}
	return v != 0, nil
}

// SwitchOn energizes switch n. The board echoes the command on
// success.
func (d *Device) SwitchOn(n int) error {
	if err := d.setSwitch(n, 1); err != nil {
		return err
	}
	d.logger.Info("Switch on", "name", d.name, "switch", n)
	return nil
}

// SwitchOff de-energizes switch n.
func (d *Device) SwitchOff(n int) error {
	if err := d.setSwitch(n, 0); err != nil {
		return err
	}
	d.logger.Info("Switch off", "name", d.name, "switch", n)
	return nil
}

func (d *Device) setSwitch(n, state int) error {
	if err := checkSwitch(n); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn == nil {
		return fmt.Errorf("hbridge %s: not connected", d.name)
	}
	cmd := fmt.Sprintf("P%d=%d", n+1, state)
	reply, err := d.conn.Ask(cmd)
	if err != nil {
		return fmt.Errorf("hbridge %s: %s: %w", d.name, cmd, err)
	}
	if reply != cmd {
		return fmt.Errorf("hbridge %s: %s not confirmed, got %q", d.name, cmd, reply)
	}
	d.sleep(d.switchTime[n])
	return nil
}

// Calibration returns the drive time applied when switching n into
// the given state ("On" or "Off"). The board stores one time per
// switch, states share it.
func (d *Device) Calibration(n int, state string) (time.Duration, error) {
	if err := checkSwitch(n); err != nil {
		return 0, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.switchTime[n], nil
}

// SetCalibration sets the drive time for switch n.
func (d *Device) SetCalibration(n int, state string, value time.Duration) error {
	if err := checkSwitch(n); err != nil {
		return err
	}
	if value < 0 {
		return fmt.Errorf("hbridge %s: negative switch time", d.name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.switchTime[n] = value
	return nil
}

func checkSwitch(n int) error {
	if n < 0 || n >= switchCount {
		return fmt.Errorf("hbridge: no switch %d", n)
	}
	return nil
}
