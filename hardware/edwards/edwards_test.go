package edwards

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"

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

// controller emulates a TIC answering register queries.
func controller(conn net.Conn, answers map[string]string) {
	go func() {
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\r')
			if err != nil {
				return
			}
			cmd := strings.TrimSuffix(line, "\r")
			if reply, ok := answers[cmd]; ok {
				conn.Write([]byte(reply + "\r"))
			} else {
				conn.Write([]byte("?ERR\r"))
			}
		}
	}()
}

var ticAnswers = map[string]string{
	"?V913": "=V913 1.0e-03;59;11;0;0",
	"?V914": "=V914 2.0e-03;59;11;4;1",
	"?V915": "=V915 3.0e-03;66;5;0;0",
	"?V904": "=V904 4;0;0",
	"?V905": "=V905 820.5;0;0",
	"?V906": "=V906 55.2;27;1",
	"?V910": "=V910 0;0;0",
	"?V911": "=V911 0;0;0",
	"?V912": "=V912 0;0;0",
}

func activeDevice(t *testing.T, answers map[string]string) *Device {
	t.Helper()
	mod, err := New(testManager(t), "pump", labcore.Options{"interface": "/dev/ttyTEST"})
	require.NoError(t, err)
	d := mod.(*Device)

	client, server := net.Pipe()
	controller(server, answers)
	d.dial = func(cfg comm.Config) (*comm.Conn, error) {
		return comm.Wrap(client, cfg), nil
	}
	require.NoError(t, d.OnActivate(context.Background()))
	t.Cleanup(func() { d.OnDeactivate(context.Background()) })
	return d
}

func TestNewRequiresInterface(t *testing.T) {
	_, err := New(testManager(t), "pump", labcore.Options{})
	assert.Error(t, err)
}

func TestConnectorSurface(t *testing.T) {
	mod, err := New(testManager(t), "pump", labcore.Options{"interface": "COM1"})
	require.NoError(t, err)
	cap, ok := mod.Connectors().Out["pump"]
	require.True(t, ok)
	assert.Equal(t, "Pump", cap.Class)
	assert.Implements(t, (*Pump)(nil), mod)
}

func TestPressures(t *testing.T) {
	d := activeDevice(t, ticAnswers)
	ps, err := d.Pressures()
	require.NoError(t, err)
	assert.Equal(t, []float64{1.0e-03, 2.0e-03, 3.0e-03}, ps)
}

func TestGauge(t *testing.T) {
	d := activeDevice(t, ticAnswers)

	g, err := d.Gauge(1)
	require.NoError(t, err)
	assert.Equal(t, GaugeReading{
		Value: 1.0e-03, Unit: "Pressure", State: "On", Alert: "No Alert", Priority: "OK",
	}, g)

	g, err = d.Gauge(2)
	require.NoError(t, err)
	assert.Equal(t, "Under Range", g.Alert)
	assert.Equal(t, "Warning", g.Priority)

	g, err = d.Gauge(3)
	require.NoError(t, err)
	assert.Equal(t, "Voltage", g.Unit)
	assert.Equal(t, "Off", g.State)

	_, err = d.Gauge(0)
	assert.Error(t, err)
	_, err = d.Gauge(4)
	assert.Error(t, err)
}

func TestTurboReadings(t *testing.T) {
	d := activeDevice(t, ticAnswers)

	st, err := d.TurboStatus()
	require.NoError(t, err)
	assert.Equal(t, PumpStatus{State: "Running", Alert: "No Alert", Priority: "OK"}, st)

	speed, err := d.TurboSpeed()
	require.NoError(t, err)
	assert.InDelta(t, 820.5, speed.Value, 1e-9)

	power, err := d.TurboPower()
	require.NoError(t, err)
	assert.InDelta(t, 55.2, power.Value, 1e-9)
	assert.Equal(t, "Run Hours High", power.Alert)
	assert.Equal(t, "Warning", power.Priority)
}

func TestBackingReadings(t *testing.T) {
	d := activeDevice(t, ticAnswers)

	st, err := d.BackingStatus()
	require.NoError(t, err)
	assert.Equal(t, "Stopped", st.State)

	speed, err := d.BackingSpeed()
	require.NoError(t, err)
	assert.Zero(t, speed.Value)
}

func TestMalformedAnswers(t *testing.T) {
	answers := map[string]string{
		"?V913": "=V999 1.0;59;11;0;0", // wrong register echoed
		"?V904": "=V904 4;0",           // short
		"?V905": "=V905 banana;0;0",    // non-numeric value
	}
	d := activeDevice(t, answers)

	_, err := d.Gauge(1)
	assert.Error(t, err)
	_, err = d.TurboStatus()
	assert.Error(t, err)
	_, err = d.TurboSpeed()
	assert.Error(t, err)
}

func TestLookupFallback(t *testing.T) {
	assert.Equal(t, "Running", lookup(pumpStateNames, 4))
	assert.Equal(t, "Unknown (99)", lookup(pumpStateNames, 99))
}

func TestNotConnected(t *testing.T) {
	mod, err := New(testManager(t), "pump", labcore.Options{"interface": "COM1"})
	require.NoError(t, err)
	d := mod.(*Device)
	_, err = d.Pressures()
	assert.Error(t, err)
	assert.NoError(t, d.OnDeactivate(context.Background()))
}
