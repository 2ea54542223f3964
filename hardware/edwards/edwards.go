// Package edwards reads operational parameters from Edwards Vacuum
// TIC series controllers for turbomolecular and backing pumps.
//
// The controller speaks an ASCII register protocol: `?Vnnn` queries
// register nnn, the reply is `=Vnnn v1;v2;...` with semicolon
// separated fields.
package edwards

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/openlabkit/labcore"
	"github.com/openlabkit/labcore/internal/comm"
)

// Register numbers for the values this driver reads.
const (
	regTurboStatus   = 904
	regTurboSpeed    = 905
	regTurboPower    = 906
	regBackingStatus = 910
	regBackingSpeed  = 911
	regBackingPower  = 912
	regGauge1        = 913
	regGauge2        = 914
	regGauge3        = 915
)

var priorityNames = map[int]string{
	0: "OK",
	1: "Warning",
	2: "Alarm",
	3: "Alarm",
}

var alertNames = map[int]string{
	0:  "No Alert",
	1:  "ADC Fault",
	2:  "ADC Not Ready",
	3:  "Over Range",
	4:  "Under Range",
	5:  "ADC Invalid",
	6:  "No Gauge",
	7:  "Unknown",
	8:  "Not Supported",
	9:  "New ID",
	10: "Over Range",
	11: "Under Range",
	12: "Over Range",
	13: "Ion Em Timeout",
	14: "Not Struck",
	15: "Filament Fail",
	16: "Mag Fail",
	17: "Striker Fail",
	18: "Not Struck",
	19: "Filament Fail",
	20: "Cal Error",
	21: "Initialising",
	22: "Emission Error",
	23: "Over Pressure",
	24: "ASG Cant Zero",
	25: "RampUp Timeout",
	26: "Droop Timeout",
	27: "Run Hours High",
	28: "SC Interlock",
	29: "ID Volts Error",
	30: "Serial ID Fail",
	31: "Upload Active",
	32: "DX Fault",
	33: "Temp Alert",
	34: "SYSI Inhibit",
	35: "Ext Inhibit",
	36: "Temp Inhibit",
	37: "No Reading",
	38: "No Message",
	39: "NOV Failure",
	40: "Upload Timeout",
	41: "Download Failed",
	42: "No Tube",
	43: "Use Gauges 4-6",
	44: "Degas Inhibited",
	45: "IGC Inhibited",
	46: "Brownout/Short",
	47: "Service due",
}

var gasTypeNames = map[int]string{
	0: "Nitrogen",
	1: "Helium",
	2: "Argon",
	3: "Carbon Dioxide",
	4: "Neon",
	5: "Krypton",
	6: "Voltage",
}

var gaugeTypeNames = map[int]string{
	0:  "Unknown Device",
	1:  "No Device",
	2:  "EXP_CM",
	3:  "EXP_STD",
	4:  "CMAN_S",
	5:  "CMAN_D",
	6:  "TURBO",
	7:  "APGM",
	8:  "APGL",
	9:  "APGXM",
	10: "APGXH",
	11: "APGXL",
	12: "ATCA",
	13: "ATCD",
	14: "ATCM",
	15: "WRG",
	16: "AIMC",
	17: "AIMN",
	18: "AIMS",
	19: "AIMX",
	20: "AIGC_I2R",
	21: "AIGC_2FIL",
	22: "ION_EB",
	23: "AIGXS",
	24: "USER",
	25: "ASG",
}

var gaugeStateNames = map[int]string{
	0:  "Gauge Not connected",
	1:  "Gauge Connected",
	2:  "New Gauge Id",
	3:  "Gauge Change",
	4:  "Gauge In Alert",
	5:  "Off",
	6:  "Striking",
	7:  "Initialising",
	8:  "Calibrating",
	9:  "Zeroing",
	10: "Degassing",
	11: "On",
	12: "Inhibited",
}

var gaugeUnitNames = map[int]string{
	66: "Voltage",
	59: "Pressure",
	81: "Percent",
}

var pumpStateNames = map[int]string{
	0: "Stopped",
	1: "Starting Delay",
	2: "Stopping Short Delay",
	3: "Stopping Normal Delay",
	4: "Running",
	5: "Accelerating",
	6: "Fault Braking",
	7: "Braking",
}

func lookup(table map[int]string, code int) string {
	if s, ok := table[code]; ok {
		return s
	}
	return fmt.Sprintf("Unknown (%d)", code)
}

// GaugeReading is one decoded pressure gauge answer.
type GaugeReading struct {
	Value    float64 `json:"value"`
	Unit     string  `json:"unit"`
	State    string  `json:"state"`
	Alert    string  `json:"alert"`
	Priority string  `json:"priority"`
}

// PumpStatus is one decoded pump state answer.
type PumpStatus struct {
	State    string `json:"state"`
	Alert    string `json:"alert"`
	Priority string `json:"priority"`
}

// PumpValue is one decoded numeric pump register, such as rotation
// speed or drive power.
type PumpValue struct {
	Value    float64 `json:"value"`
	Alert    string  `json:"alert"`
	Priority string  `json:"priority"`
}

// Pump is the capability this driver exposes on its `pump` out
// connector.
type Pump interface {
	Pressures() ([]float64, error)
	TurboStatus() (PumpStatus, error)
	TurboSpeed() (PumpValue, error)
	TurboPower() (PumpValue, error)
	BackingStatus() (PumpStatus, error)
	BackingSpeed() (PumpValue, error)
	BackingPower() (PumpValue, error)
	Gauge(n int) (GaugeReading, error)
}

// PumpCapability is the typed capability for the `pump` connector.
var PumpCapability = labcore.Capability{
	Class: "Pump",
	Iface: reflect.TypeOf((*Pump)(nil)).Elem(),
}

// Device drives one TIC controller.
type Device struct {
	name   string
	opts   labcore.Options
	logger labcore.Logger
	table  *labcore.ConnectorTable

	dial func(comm.Config) (*comm.Conn, error)
	conn *comm.Conn
}

var _ Pump = (*Device)(nil)

// New constructs the driver. The `interface` option names the serial
// port or tcp:// address of the controller.
func New(mgr *labcore.Manager, name string, opts labcore.Options) (labcore.Module, error) {
	if _, ok := opts.String("interface"); !ok {
		return nil, fmt.Errorf("edwards %s: missing interface option", name)
	}
	d := &Device{
		name:   name,
		opts:   opts,
		logger: mgr.Logger(),
		table:  labcore.NewConnectorTable(),
		dial:   comm.Dial,
	}
	d.table.DeclareOut("pump", PumpCapability)
	return d, nil
}

func (d *Device) Name() string                        { return d.name }
func (d *Device) Connectors() *labcore.ConnectorTable { return d.table }

// OnActivate opens the controller link.
func (d *Device) OnActivate(ctx context.Context) error {
	addr, _ := d.opts.String("interface")
	baud, _ := d.opts.Int("baud")
	conn, err := d.dial(comm.Config{Address: addr, Baud: baud, TxTerm: "\r"})
	if err != nil {
		return fmt.Errorf("edwards %s: %w", d.name, err)
	}
	d.conn = conn
	d.logger.Info("Edwards TIC connected", "name", d.name, "interface", addr)
	return nil
}

// OnDeactivate closes the controller link.
func (d *Device) OnDeactivate(ctx context.Context) error {
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// queryRegister asks `?Vnnn` and returns the semicolon separated
// fields of the matching `=Vnnn` answer.
func (d *Device) queryRegister(reg int) ([]string, error) {
	if d.conn == nil {
		return nil, fmt.Errorf("edwards %s: not connected", d.name)
	}
	reply, err := d.conn.Ask(fmt.Sprintf("?V%d", reg))
	if err != nil {
		return nil, fmt.Errorf("edwards %s: register %d: %w", d.name, reg, err)
	}
	parts := strings.Fields(reply)
	if len(parts) != 2 || parts[0] != fmt.Sprintf("=V%d", reg) {
		return nil, fmt.Errorf("edwards %s: register %d: malformed answer %q", d.name, reg, reply)
	}
	return strings.Split(parts[1], ";"), nil
}

func (d *Device) gauge(reg int) (GaugeReading, error) {
	fields, err := d.queryRegister(reg)
	if err != nil {
		return GaugeReading{}, err
	}
	if len(fields) < 5 {
		return GaugeReading{}, fmt.Errorf("edwards %s: register %d: short gauge answer", d.name, reg)
	}
	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return GaugeReading{}, fmt.Errorf("edwards %s: register %d: bad value %q", d.name, reg, fields[0])
	}
	codes, err := atois(fields[1:5])
	if err != nil {
		return GaugeReading{}, fmt.Errorf("edwards %s: register %d: %w", d.name, reg, err)
	}
	return GaugeReading{
		Value:    value,
		Unit:     lookup(gaugeUnitNames, codes[0]),
		State:    lookup(gaugeStateNames, codes[1]),
		Alert:    lookup(alertNames, codes[2]),
		Priority: lookup(priorityNames, codes[3]),
	}, nil
}

func (d *Device) pumpStatus(reg int) (PumpStatus, error) {
	fields, err := d.queryRegister(reg)
	if err != nil {
		return PumpStatus{}, err
	}
	if len(fields) < 3 {
		return PumpStatus{}, fmt.Errorf("edwards %s: register %d: short state answer", d.name, reg)
	}
	codes, err := atois(fields[:3])
	if err != nil {
		return PumpStatus{}, fmt.Errorf("edwards %s: register %d: %w", d.name, reg, err)
	}
	return PumpStatus{
		State:    lookup(pumpStateNames, codes[0]),
		Alert:    lookup(alertNames, codes[1]),
		Priority: lookup(priorityNames, codes[2]),
	}, nil
}

func (d *Device) pumpValue(reg int) (PumpValue, error) {
	fields, err := d.queryRegister(reg)
	if err != nil {
		return PumpValue{}, err
	}
	if len(fields) < 3 {
		return PumpValue{}, fmt.Errorf("edwards %s: register %d: short value answer", d.name, reg)
	}
	value, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return PumpValue{}, fmt.Errorf("edwards %s: register %d: bad value %q", d.name, reg, fields[0])
	}
	codes, err := atois(fields[1:3])
	if err != nil {
		return PumpValue{}, fmt.Errorf("edwards %s: register %d: %w", d.name, reg, err)
	}
	return PumpValue{
		Value:    value,
		Alert:    lookup(alertNames, codes[0]),
		Priority: lookup(priorityNames, codes[1]),
	}, nil
}

func atois(fields []string) ([]int, error) {
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("bad code %q", f)
		}
		out[i] = n
	}
	return out, nil
}

// Pressures returns the three gauge pressures in gauge order.
func (d *Device) Pressures() ([]float64, error) {
	ps := make([]float64, 0, 3)
	for _, reg := range []int{regGauge1, regGauge2, regGauge3} {
		g, err := d.gauge(reg)
		if err != nil {
			return nil, err
		}
		ps = append(ps, g.Value)
	}
	return ps, nil
}

// TurboStatus returns the turbopump drive state.
func (d *Device) TurboStatus() (PumpStatus, error) { return d.pumpStatus(regTurboStatus) }

// TurboSpeed returns the turbopump rotation speed register.
func (d *Device) TurboSpeed() (PumpValue, error) { return d.pumpValue(regTurboSpeed) }

// TurboPower returns the turbopump drive power register.
func (d *Device) TurboPower() (PumpValue, error) { return d.pumpValue(regTurboPower) }

// BackingStatus returns the backing pump drive state.
func (d *Device) BackingStatus() (PumpStatus, error) { return d.pumpStatus(regBackingStatus) }

// BackingSpeed returns the backing pump speed register.
func (d *Device) BackingSpeed() (PumpValue, error) { return d.pumpValue(regBackingSpeed) }

// BackingPower returns the backing pump power register.
func (d *Device) BackingPower() (PumpValue, error) { return d.pumpValue(regBackingPower) }

// Gauge returns the decoded reading of gauge n (1 to 3).
func (d *Device) Gauge(n int) (GaugeReading, error) {
	if n < 1 || n > 3 {
		return GaugeReading{}, fmt.Errorf("edwards %s: no gauge %d", d.name, n)
	}
	return d.gauge(regGauge1 + n - 1)
}
