package hbridge

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openlabkit/labcore"
	"github.com/openlabkit/labcore/internal/comm"
)

type tlogger struct{ t *testing.T }

func (l *tlogger) Info(msg string, args ...any)  { l.t.Log("INFO", msg, args) }
func (l *tlogger) Error(msg string, args ...any) { l.t.Log("ERROR", msg, args) }
func (l *tlogger) Warn(msg string, args ...any)  { l.t.Log("WARN", msg, args) }
func (l *tlogger) Debug(msg string, args ...any) { l.t.Log("DEBUG", msg, args) }

func testManager(t *testing.T) *labcore.Manager {
	t.Helper()
	return labcore.NewManager(labcore.NewTypeRegistry(), &tlogger{t})
}

// board emulates the switch board: echoes Pn= commands, answers
// STATUS with the current switch states.
func board(conn net.Conn) {
	states := []int{0, 0, 0, 0}
	go func() {
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			cmd := strings.TrimSuffix(line, "\r\n")
			switch {
			case cmd == "STATUS":
				fields := make([]string, len(states))
				for i, s := range states {
					fields[i] = string(rune('0' + s))
				}
				conn.Write([]byte(strings.Join(fields, " ") + "\r\n"))
			default:
				var coil, val int
				if _, err := fmt.Sscanf(cmd, "P%d=%d", &coil, &val); err == nil && coil >= 1 && coil <= 4 {
					states[coil-1] = val
					conn.Write([]byte(cmd + "\r\n"))
				}
			}
		}
	}()
}

func activeDevice(t *testing.T) *Device {
	t.Helper()
	mod, err := New(testManager(t), "flipper", labcore.Options{"interface": "/dev/ttyTEST"})
	require.NoError(t, err)
	d := mod.(*Device)
	d.sleep = func(time.Duration) {}

	client, server := net.Pipe()
	board(server)
	d.dial = func(cfg comm.Config) (*comm.Conn, error) {
		return comm.Wrap(client, cfg), nil
	}
	require.NoError(t, d.OnActivate(context.Background()))
	t.Cleanup(func() { d.OnDeactivate(context.Background()) })
	return d
}

func TestNewRequiresInterface(t *testing.T) {
	_, err := New(testManager(t), "flipper", labcore.Options{})
	assert.Error(t, err)
}

func TestConnectorSurface(t *testing.T) {
	mod, err := New(testManager(t), "flipper", labcore.Options{"interface": "COM1"})
	require.NoError(t, err)
	cap, ok := mod.Connectors().Out["switch"]
	require.True(t, ok)
	assert.Equal(t, "Switch", cap.Class)
	assert.Implements(t, (*Switch)(nil), mod)
}

func TestSwitchCount(t *testing.T) {
	d := activeDevice(t)
	assert.Equal(t, 4, d.SwitchCount())
}

func TestSwitchOnOff(t *testing.T) {
	d := activeDevice(t)

	on, err := d.SwitchState(1)
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, d.SwitchOn(1))
	on, err = d.SwitchState(1)
	require.NoError(t, err)
	assert.True(t, on)

	// the others stay untouched
	on, err = d.SwitchState(0)
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, d.SwitchOff(1))
	on, err = d.SwitchState(1)
	require.NoError(t, err)
	assert.False(t, on)
}

func TestSwitchRange(t *testing.T) {
	d := activeDevice(t)
	assert.Error(t, d.SwitchOn(-1))
	assert.Error(t, d.SwitchOn(4))
	assert.Error(t, d.SwitchOff(7))
	_, err := d.SwitchState(4)
	assert.Error(t, err)
}

func TestCalibration(t *testing.T) {
	d := activeDevice(t)

	v, err := d.Calibration(2, "On")
	require.NoError(t, err)
	assert.Equal(t, defaultSwitchTime, v)

	require.NoError(t, d.SetCalibration(2, "On", 100*time.Millisecond))
	v, err = d.Calibration(2, "On")
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, v)

	assert.Error(t, d.SetCalibration(2, "On", -time.Second))
	assert.Error(t, d.SetCalibration(9, "On", time.Second))
}

func TestNotConnected(t *testing.T) {
	mod, err := New(testManager(t), "flipper", labcore.Options{"interface": "COM1"})
	require.NoError(t, err)
	d := mod.(*Device)
	assert.Error(t, d.SwitchOn(0))
	_, err = d.SwitchState(0)
	assert.Error(t, err)
	assert.NoError(t, d.OnDeactivate(context.Background()))
}
