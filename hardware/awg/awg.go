// Package awg drives a Tektronix AWG70k series arbitrary waveform
// generator. Control commands travel over a raw TCP socket speaking
// SCPI; waveform files are managed through the instrument's built-in
// FTP server.
package awg

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/openlabkit/labcore"
	"github.com/openlabkit/labcore/internal/comm"
)

// waveformDir is the instrument's FTP folder for waveform files.
const waveformDir = "/waves"

// The instrument needs a moment to compose replies after a query.
const replySettle = time.Second

// RunState reports the instrument's run state.
type RunState int

const (
	StateStopped RunState = 0
	StateWaiting RunState = 1
	StateRunning RunState = 2
	StateError   RunState = -1
)

// SequencerMode reports which sequencer the instrument is using.
type SequencerMode string

const (
	SequencerHardware SequencerMode = "Hardware-Sequencer"
	SequencerSoftware SequencerMode = "Software-Sequencer"
	SequencerUnknown  SequencerMode = "Request-Error"
)

// Run mode mnemonics accepted by SetRunMode.
var runModes = map[string]string{
	"C": "CONT",
	"T": "TRIG",
	"G": "GAT",
	"E": "ENH",
	"S": "SEQ",
}

// Generator is the capability this driver exposes on its `awg` out
// connector.
type Generator interface {
	Tell(cmd string) error
	Ask(query string) (string, error)
	Run() error
	Stop() error
	Status() (RunState, error)
	SequencerMode() (SequencerMode, error)
	SetRunMode(mode string) error
	SetSampleRate(ghz float64) error
	SetAmplitude(vpp float64, channel int) error
	SetOutput(on bool, channel int) error
	SetInterleave(on bool) error
	LoadFile(filename string, channel int) error
	UploadWaveform(name string, r io.Reader) error
	DeleteWaveforms(names ...string) error
	DeleteAllWaveforms() error
	ListWaveforms() ([]string, error)
	ClearWaveformMemory() error
	Reset() error
}

// GeneratorCapability is the typed capability for the `awg` connector.
var GeneratorCapability = labcore.Capability{
	Class: "AWG",
	Iface: reflect.TypeOf((*Generator)(nil)).Elem(),
}

// ftpClient is the slice of *ftp.ServerConn the driver uses,
// injectable for tests.
type ftpClient interface {
	Login(user, password string) error
	ChangeDir(path string) error
	Stor(path string, r io.Reader) error
	Delete(path string) error
	NameList(path string) ([]string, error)
	Quit() error
}

// Device drives one waveform generator.
type Device struct {
	name   string
	opts   labcore.Options
	logger labcore.Logger
	table  *labcore.ConnectorTable

	dial    func(comm.Config) (*comm.Conn, error)
	dialFTP func(addr string) (ftpClient, error)

	conn *comm.Conn
	ftp  ftpClient
}

var _ Generator = (*Device)(nil)

// New constructs the driver. Options: `address` (instrument IP),
// `port` (SCPI port), optional `ftp_user`/`ftp_password`.
func New(mgr *labcore.Manager, name string, opts labcore.Options) (labcore.Module, error) {
	if _, ok := opts.String("address"); !ok {
		return nil, fmt.Errorf("awg %s: missing address option", name)
	}
	if _, ok := opts.Int("port"); !ok {
		return nil, fmt.Errorf("awg %s: missing port option", name)
	}
	d := &Device{
		name:   name,
		opts:   opts,
		logger: mgr.Logger(),
		table:  labcore.NewConnectorTable(),
		dial:   comm.Dial,
		dialFTP: func(addr string) (ftpClient, error) {
			return ftp.Dial(addr, ftp.DialWithTimeout(5*time.Second))
		},
	}
	d.table.DeclareOut("awg", GeneratorCapability)
	return d, nil
}

func (d *Device) Name() string                        { return d.name }
func (d *Device) Connectors() *labcore.ConnectorTable { return d.table }

// OnActivate connects the SCPI socket and logs into the waveform FTP
// area.
func (d *Device) OnActivate(ctx context.Context) error {
	addr, _ := d.opts.String("address")
	port, _ := d.opts.Int("port")
	conn, err := d.dial(comm.Config{
		Address: fmt.Sprintf("tcp://%s:%d", addr, port),
		TxTerm:  "\n",
		RxTerm:  "\r\n",
		Settle:  replySettle,
	})
	if err != nil {
		return fmt.Errorf("awg %s: %w", d.name, err)
	}

	fc, err := d.dialFTP(addr + ":21")
	if err != nil {
		conn.Close()
		return fmt.Errorf("awg %s: ftp: %w", d.name, err)
	}
	user, _ := d.opts.String("ftp_user")
	if user == "" {
		user = "anonymous"
	}
	pass, _ := d.opts.String("ftp_password")
	if pass == "" {
		pass = "anonymous"
	}
	if err := fc.Login(user, pass); err != nil {
		conn.Close()
		fc.Quit()
		return fmt.Errorf("awg %s: ftp login: %w", d.name, err)
	}
	if err := fc.ChangeDir(waveformDir); err != nil {
		conn.Close()
		fc.Quit()
		return fmt.Errorf("awg %s: ftp cwd: %w", d.name, err)
	}

	d.conn = conn
	d.ftp = fc
	d.logger.Info("AWG connected", "name", d.name, "address", addr, "port", port)
	return nil
}

// OnDeactivate closes both channels.
func (d *Device) OnDeactivate(ctx context.Context) error {
	if d.ftp != nil {
		if err := d.ftp.Quit(); err != nil {
			d.logger.Warn("AWG ftp close failed", "name", d.name, "error", err)
		}
		d.ftp = nil
	}
	if d.conn == nil {
		return nil
	}
	err := d.conn.Close()
	d.conn = nil
	return err
}

// Tell sends a raw SCPI command.
func (d *Device) Tell(cmd string) error {
	if d.conn == nil {
		return fmt.Errorf("awg %s: not connected", d.name)
	}
	return d.conn.Tell(cmd)
}

// Ask sends a raw SCPI query and returns the reply.
func (d *Device) Ask(query string) (string, error) {
	if d.conn == nil {
		return "", fmt.Errorf("awg %s: not connected", d.name)
	}
	return d.conn.Ask(query)
}

// Run starts waveform output.
func (d *Device) Run() error { return d.Tell("AWGC:RUN") }

// Stop stops waveform output.
func (d *Device) Stop() error { return d.Tell("AWGC:STOP") }

// Status queries the run state.
func (d *Device) Status() (RunState, error) {
	reply, err := d.Ask("AWGC:RSTate?")
	if err != nil {
		return StateError, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(reply))
	if err != nil || n < 0 || n > 2 {
		return StateError, fmt.Errorf("awg %s: bad run state %q", d.name, reply)
	}
	return RunState(n), nil
}

// SequencerMode queries whether the hardware or software sequencer is
// active.
func (d *Device) SequencerMode() (SequencerMode, error) {
	reply, err := d.Ask("AWGControl:SEQuencer:TYPE?")
	if err != nil {
		return SequencerUnknown, err
	}
	switch {
	case strings.Contains(reply, "HARD"):
		return SequencerHardware, nil
	case strings.Contains(reply, "SOFT"):
		return SequencerSoftware, nil
	}
	return SequencerUnknown, fmt.Errorf("awg %s: bad sequencer mode %q", d.name, reply)
}

// SetRunMode selects the run mode: C continuous, T triggered, G
// gated, E enhanced, S sequence.
func (d *Device) SetRunMode(mode string) error {
	mn, ok := runModes[strings.ToUpper(mode)]
	if !ok {
		return fmt.Errorf("awg %s: unknown run mode %q", d.name, mode)
	}
	return d.Tell("AWGC:RMOD " + mn)
}

// SetSampleRate sets the output sampling rate in GHz.
func (d *Device) SetSampleRate(ghz float64) error {
	return d.Tell(fmt.Sprintf("SOUR:FREQ %.4GGHz", ghz))
}

// SetAmplitude sets the peak-to-peak output voltage. Channel is a bit
// mask: 1, 2 or 3 for both.
func (d *Device) SetAmplitude(vpp float64, channel int) error {
	if channel&1 != 0 {
		if err := d.Tell(fmt.Sprintf("SOUR1:VOLT %.4GV", vpp)); err != nil {
			return err
		}
	}
	if channel&2 != 0 {
		return d.Tell(fmt.Sprintf("SOUR2:VOLT %.4GV", vpp))
	}
	return nil
}

// SetOutput switches channel output on or off. Channel is a bit mask.
func (d *Device) SetOutput(on bool, channel int) error {
	v := 0
	if on {
		v = 1
	}
	if channel&1 != 0 {
		if err := d.Tell(fmt.Sprintf("OUTP1 %d", v)); err != nil {
			return err
		}
	}
	if channel&2 != 0 {
		return d.Tell(fmt.Sprintf("OUTP2 %d", v))
	}
	return nil
}

// SetInterleave turns interleave mode on or off.
func (d *Device) SetInterleave(on bool) error {
	v := 0
	if on {
		v = 1
	}
	return d.Tell(fmt.Sprintf("AWGC:INT:STAT %d", v))
}

// LoadFile loads a previously uploaded waveform or sequence file into
// instrument RAM. Channel is a bit mask; dual channel sequences must
// go to channel 1.
func (d *Device) LoadFile(filename string, channel int) error {
	path := `C:\InetPub\ftproot\waves`
	if channel&1 != 0 {
		if err := d.Tell(fmt.Sprintf("SOUR1:FUNC:USER \"%s/%s\"", path, filename)); err != nil {
			return err
		}
	}
	if channel&2 != 0 {
		return d.Tell(fmt.Sprintf("SOUR2:FUNC:USER \"%s/%s\"", path, filename))
	}
	return nil
}

// UploadWaveform stores a waveform file in the instrument's waveform
// folder.
func (d *Device) UploadWaveform(name string, r io.Reader) error {
	if d.ftp == nil {
		return fmt.Errorf("awg %s: ftp not connected", d.name)
	}
	if err := d.ftp.Stor(name, r); err != nil {
		return fmt.Errorf("awg %s: upload %s: %w", d.name, name, err)
	}
	d.logger.Debug("Waveform uploaded", "name", d.name, "file", name)
	return nil
}

// DeleteWaveforms removes the named waveform files.
func (d *Device) DeleteWaveforms(names ...string) error {
	if d.ftp == nil {
		return fmt.Errorf("awg %s: ftp not connected", d.name)
	}
	for _, name := range names {
		if err := d.ftp.Delete(name); err != nil {
			return fmt.Errorf("awg %s: delete %s: %w", d.name, name, err)
		}
	}
	return nil
}

// DeleteAllWaveforms removes every file in the waveform folder.
func (d *Device) DeleteAllWaveforms() error {
	names, err := d.ListWaveforms()
	if err != nil {
		return err
	}
	return d.DeleteWaveforms(names...)
}

// ListWaveforms returns the file names in the waveform folder.
func (d *Device) ListWaveforms() ([]string, error) {
	if d.ftp == nil {
		return nil, fmt.Errorf("awg %s: ftp not connected", d.name)
	}
	names, err := d.ftp.NameList("")
	if err != nil {
		return nil, fmt.Errorf("awg %s: list: %w", d.name, err)
	}
	return names, nil
}

// ClearWaveformMemory deletes all waveforms from instrument RAM.
func (d *Device) ClearWaveformMemory() error { return d.Tell("WLIS:WAV:DEL ALL") }

// Reset issues an instrument reset.
func (d *Device) Reset() error { return d.Tell("*RST") }
