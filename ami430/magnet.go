/*Package ami430 controls American Magnetics Model 430 power supplies driving
superconducting solenoids, alone or combined into 2D and 3D vector magnets.

A Magnet drives one solenoid.  Ramps block until the supply reports the ramp
finished, and refuse to start while the magnet is quenched, persistent,
under manual control, zeroing, or switching its persistent switch heater.
Refusals are returned as a *PreconditionError, and nothing is sent to the
supply.

Vector2D and Vector3D compose Magnets into a vector field given as an
amplitude and angles.  They order the per-axis ramps so that the vector sum
never exceeds the rating of the active mode at any instant.
*/
package ami430

import (
	"context"
	"io"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gotmc/query"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/magnetlab/golab/comm"
	"github.com/magnetlab/golab/scpi"
	"github.com/magnetlab/golab/util"
)

// Port is the TCP port the supply listens on
const Port = 7180

// zeroField is the largest field, T, treated as no field at all
const zeroField = 1e-6

// Transport carries commands to a supply.  *scpi.SCPI and *MockSupply
// satisfy it.
type Transport interface {
	Write(cmds ...string) error
	Query(cmd string) (string, error)
}

// AxisState is a snapshot of a single supply
type AxisState struct {
	Name          string    `json:"name"`
	Field         float64   `json:"field"`
	SetPoint      float64   `json:"setPoint"`
	RampRate      float64   `json:"rampRate"`
	RampState     RampState `json:"rampState"`
	PSwitch       bool      `json:"pSwitch"`
	Persistent    bool      `json:"persistent"`
	Quench        bool      `json:"quench"`
	Error         string    `json:"error"`
	OffsetEnabled bool      `json:"offsetEnabled"`
	OffsetField   float64   `json:"offsetField"`
	TotalField    float64   `json:"totalField"`
}

// Magnet is a single solenoid driven by one supply
type Magnet struct {
	name   string
	cfg    AxisConfig
	timing Timing
	t      Transport
	log    *log.Logger

	// op serializes everything that ramps or switches
	op sync.Mutex

	mu            sync.Mutex
	offsetEnabled bool
	offset        float64
	persField     float64
	persKnown     bool

	// unread is an error Status took off the supply's queue
	unread string
}

// Option configures a Magnet
type Option func(*Magnet)

// WithName names the magnet in log messages and errors
func WithName(name string) Option {
	return func(m *Magnet) {
		m.name = name
	}
}

// WithTiming replaces DefaultTiming
func WithTiming(t Timing) Option {
	return func(m *Magnet) {
		m.timing = t
	}
}

// WithLogger replaces the default logger, which writes to stderr
func WithLogger(l *log.Logger) Option {
	return func(m *Magnet) {
		m.log = l
	}
}

// WithTransport makes the magnet talk over t instead of dialing addr
func WithTransport(t Transport) Option {
	return func(m *Magnet) {
		m.t = t
	}
}

// NewMagnet creates a new Magnet.  addr is host:port for a network
// connection (the port defaults to 7180), or a serial device such as
// /dev/ttyS0 if serial is true.  The connection is opened on first use and
// the greeting the supply prints on connect is discarded.
func NewMagnet(addr string, serial bool, cfg AxisConfig, opts ...Option) *Magnet {
	m := &Magnet{name: addr, cfg: cfg, timing: DefaultTiming()}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = log.New(os.Stderr, "ami430 "+m.name+": ", log.LstdFlags)
	}
	if m.t == nil {
		var maker comm.CreationFunc
		if serial {
			maker = comm.SerialConnMaker(SerialConf(addr))
		} else {
			if !strings.Contains(addr, ":") {
				addr = addr + ":" + strconv.Itoa(Port)
			}
			maker = comm.BackingOffTCPConnMaker(addr, time.Second)
		}
		maker = comm.SkipGreeting(maker, 2, '\n', 600*time.Millisecond)
		pool := comm.NewPool(1, time.Minute, maker)
		m.t = scpi.New(pool, m.timing.CommandDelay)
	}
	return m
}

// Name returns the name of the magnet
func (m *Magnet) Name() string {
	return m.name
}

// Config returns the ratings of the magnet
func (m *Magnet) Config() AxisConfig {
	return m.cfg
}

// SwitchPresent is true if the magnet has a persistent switch
func (m *Magnet) SwitchPresent() bool {
	return m.cfg.SwitchPresent
}

// SetLogger replaces the logger
func (m *Magnet) SetLogger(l *log.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = l
}

// Close closes the connection to the supply, if it has one
func (m *Magnet) Close() error {
	if s, ok := m.t.(*scpi.SCPI); ok {
		return s.Pool.Close()
	}
	if c, ok := m.t.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (m *Magnet) logger() *log.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.log
}

func (m *Magnet) refuse(op string, v interface{}, reason error) error {
	err := &PreconditionError{Op: op, Value: v, Err: reason}
	m.logger().Println(err)
	return err
}

func (m *Magnet) rampFailed(op string, v float64, st RampState) error {
	err := &RampError{Op: op, Value: v, State: st}
	m.logger().Println(err)
	return err
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (m *Magnet) write(cmd string) error {
	err := m.t.Write(cmd)
	return errors.Wrapf(err, "ami430 %s: %s", m.name, cmd)
}

func (m *Magnet) queryFloat(cmd string) (float64, error) {
	f, err := query.Float64(m.t, cmd)
	return f, errors.Wrapf(err, "ami430 %s: %s", m.name, cmd)
}

func (m *Magnet) queryInt(cmd string) (int, error) {
	i, err := query.Int(m.t, cmd)
	return i, errors.Wrapf(err, "ami430 %s: %s", m.name, cmd)
}

func (m *Magnet) queryString(cmd string) (string, error) {
	s, err := query.String(m.t, cmd)
	return strings.TrimSpace(s), errors.Wrapf(err, "ami430 %s: %s", m.name, cmd)
}

func (m *Magnet) offsetState() (bool, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offsetEnabled, m.offset
}

// Raw sends a command to the supply and returns the response if it was a
// query, else a blank string.  No safety checks are made.
func (m *Magnet) Raw(cmd string) (string, error) {
	if strings.Contains(cmd, "?") {
		return m.queryString(cmd)
	}
	return "", m.write(cmd)
}

// RampState queries the ramp state
func (m *Magnet) RampState() (RampState, error) {
	i, err := m.queryInt("STATE?")
	return RampState(i), err
}

// Ramp issues RAMP; the supply starts ramping to the programmed target
func (m *Magnet) Ramp() error {
	return m.write("RAMP")
}

// Pause issues PAUSE; the supply stops ramping immediately
func (m *Magnet) Pause() error {
	return m.write("PAUSE")
}

// Zero issues ZERO; the supply ramps to zero regardless of an earlier PAUSE
func (m *Magnet) Zero() error {
	return m.write("ZERO")
}

// TotalField returns the field the supply reads, with no offset removed
func (m *Magnet) TotalField() (float64, error) {
	return m.queryFloat("FIELD:MAG?")
}

// Field returns the measured field, less the offset if offset mode is enabled.
// For the programmed target, see SetPoint.
func (m *Magnet) Field() (float64, error) {
	f, err := m.TotalField()
	if err != nil {
		return 0, err
	}
	if en, off := m.offsetState(); en {
		f -= off
	}
	return f, nil
}

// SetPoint returns the programmed target, less the offset if enabled
func (m *Magnet) SetPoint() (float64, error) {
	f, err := m.queryFloat("FIELD:TARG?")
	if err != nil {
		return 0, err
	}
	if en, off := m.offsetState(); en {
		f -= off
	}
	return f, nil
}

// RampRate returns the ramp rate of the first (and only used) segment, T/s
func (m *Magnet) RampRate() (float64, error) {
	s, err := m.queryString("RAMP:RATE:FIELD:1?")
	if err != nil {
		return 0, err
	}
	// the segment's upper bound follows the rate
	f, err := strconv.ParseFloat(strings.SplitN(s, ",", 2)[0], 64)
	return f, errors.Wrapf(err, "ami430 %s: parsing ramp rate %q", m.name, s)
}

// SetRampRate sets the ramp rate in T/s.  A single segment spanning the
// whole field range is used.
func (m *Magnet) SetRampRate(rate float64) error {
	if !m.cfg.RampRateLimits().Check(rate) {
		return m.refuse("set ramp rate", rate, ErrOutOfRange)
	}
	m.op.Lock()
	defer m.op.Unlock()
	return m.write("CONF:RAMP:RATE:FIELD 1," + formatFloat(rate) + "," + formatFloat(m.cfg.FieldRating()))
}

// PSwitch returns true if the persistent switch heater is on.
// A magnet without a switch always reports false.
func (m *Magnet) PSwitch() (bool, error) {
	if !m.cfg.SwitchPresent {
		return false, nil
	}
	i, err := m.queryInt("PS?")
	return i == 1, err
}

// SetPSwitch turns the persistent switch heater on or off and waits for it
// to finish heating or cooling.  There is no check that the supply current
// matches the magnet current; turning the heater on with a mismatch will
// quench the magnet.
func (m *Magnet) SetPSwitch(on bool) error {
	if !m.cfg.SwitchPresent {
		return m.refuse("set persistent switch", on, ErrNoSwitch)
	}
	m.op.Lock()
	defer m.op.Unlock()
	return m.setPSwitch(on)
}

// setPSwitch does nothing if the heater already is on or off.  Turning it off
// records the field the magnet keeps.
func (m *Magnet) setPSwitch(on bool) error {
	cur, err := m.PSwitch()
	if err != nil {
		return err
	}
	if cur == on {
		return nil
	}
	cmd, wait := "PS 0", CoolingSwitch
	if on {
		cmd, wait = "PS 1", HeatingSwitch
	} else {
		f, err := m.TotalField()
		if err != nil {
			return err
		}
		m.mu.Lock()
		m.persField, m.persKnown = f, true
		m.mu.Unlock()
	}
	if err := m.write(cmd); err != nil {
		return err
	}
	sleep(m.timing.SwitchStart)
	if _, err := m.awaitLeave(wait); err != nil {
		return err
	}
	if on {
		m.mu.Lock()
		m.persKnown = false
		m.mu.Unlock()
	}
	return nil
}

// persistentAtZero is true if the switch was closed with no current in the
// magnet, so there is no field to lose by ramping
func (m *Magnet) persistentAtZero() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.persKnown && math.Abs(m.persField) < zeroField
}

// Persistent returns true if the magnet is in persistent mode.
// A magnet without a switch is never persistent.
func (m *Magnet) Persistent() (bool, error) {
	if !m.cfg.SwitchPresent {
		return false, nil
	}
	i, err := m.queryInt("PERS?")
	return i == 1, err
}

// Quench returns true if the supply has detected a quench
func (m *Magnet) Quench() (bool, error) {
	i, err := m.queryInt("QU?")
	return i == 1, err
}

// ResetQuench clears the quench condition.  It bypasses every safety check;
// only use it if the cause of the quench is understood.
func (m *Magnet) ResetQuench() error {
	m.logger().Println("resetting quench")
	return m.write("QU 0")
}

// Error pops the oldest error from the supply's error queue.  An error that
// Status already read is returned first.
func (m *Magnet) Error() (string, error) {
	m.mu.Lock()
	e := m.unread
	m.unread = ""
	m.mu.Unlock()
	if e != "" {
		return e, nil
	}
	return m.queryString("SYST:ERR?")
}

// peekError returns the oldest error without consuming it
func (m *Magnet) peekError() (string, error) {
	m.mu.Lock()
	e := m.unread
	m.mu.Unlock()
	if e != "" {
		return e, nil
	}
	e, err := m.queryString("SYST:ERR?")
	if err != nil || noError(e) {
		return e, err
	}
	m.mu.Lock()
	m.unread = e
	m.mu.Unlock()
	return e, nil
}

func noError(e string) bool {
	e = strings.TrimSpace(e)
	return e == "0" || strings.HasPrefix(e, "0,")
}

// FieldBounds returns the range SetField and RampTo accept.  With offset mode
// enabled it is shifted so that the physical field stays within the rating.
func (m *Magnet) FieldBounds() util.Limiter {
	l := m.cfg.FieldLimits()
	if en, off := m.offsetState(); en {
		l = l.Shift(-off)
	}
	return l
}

// OffsetBounds returns the range SetOffsetField accepts at the present field
func (m *Magnet) OffsetBounds() (util.Limiter, error) {
	f, err := m.Field()
	if err != nil {
		return util.Limiter{}, err
	}
	return m.cfg.FieldLimits().Shift(-f), nil
}

// readiness checks whether a ramp may be started.  reason is one of the
// Err* sentinels when it may not; err is a failure to talk to the supply.
// pers allows ramping a magnet that is in persistent mode, which is only
// done when leaving persistent mode.
func (m *Magnet) readiness(pers bool) (reason, err error) {
	q, err := m.Quench()
	if err != nil {
		return nil, err
	}
	if q {
		return ErrQuenched, nil
	}
	if m.cfg.SwitchPresent && !pers {
		p, err := m.Persistent()
		if err != nil {
			return nil, err
		}
		if p && !m.persistentAtZero() {
			return ErrPersistentMode, nil
		}
	}
	st, err := m.RampState()
	if err != nil {
		return nil, err
	}
	switch st {
	case ManualUp, ManualDown:
		return ErrManualRamp, nil
	case RampingToZero:
		return ErrRampingToZero, nil
	case HeatingSwitch, CoolingSwitch:
		return ErrSwitchTransition, nil
	case QuenchDetected:
		return ErrQuenched, nil
	case Ramping:
		if !m.cfg.SwitchPresent {
			return nil, nil
		}
		on, err := m.PSwitch()
		if err != nil {
			return nil, err
		}
		if !on {
			return ErrSwitchOff, nil
		}
		return nil, nil
	case Holding, Paused, AtZero:
		return nil, nil
	}
	return ErrUnknownState, nil
}

// awaitLeave polls the ramp state until it is no longer st
func (m *Magnet) awaitLeave(st RampState) (RampState, error) {
	for {
		cur, err := m.RampState()
		if err != nil || cur != st {
			return cur, err
		}
		sleep(m.timing.PollInterval)
	}
}

// program pauses the supply, programs raw as the target and starts the ramp.
// The switch heater is turned on first unless pers is true.
func (m *Magnet) program(raw float64, pers bool) error {
	if err := m.Pause(); err != nil {
		return err
	}
	if err := m.write("CONF:FIELD:TARG " + formatFloat(raw)); err != nil {
		return err
	}
	if m.cfg.SwitchPresent && !pers {
		on, err := m.PSwitch()
		if err != nil {
			return err
		}
		if !on {
			if err := m.setPSwitch(true); err != nil {
				return err
			}
		}
	}
	return m.Ramp()
}

// drive ramps the supply to raw and blocks until the ramp finished and the
// field settled.  The ramp succeeded if the supply then holds; it is paused.
// v is the value reported in errors.
func (m *Magnet) drive(op string, v, raw float64, pers bool) error {
	if err := m.program(raw, pers); err != nil {
		return err
	}
	sleep(m.timing.RampStart)
	if _, err := m.awaitLeave(Ramping); err != nil {
		return err
	}
	sleep(m.timing.Settle)
	st, err := m.RampState()
	if err != nil {
		return err
	}
	if st != Holding {
		return m.rampFailed(op, v, st)
	}
	return m.Pause()
}

// SetField ramps to target, in T, and blocks until the ramp has finished
func (m *Magnet) SetField(target float64) error {
	m.op.Lock()
	defer m.op.Unlock()
	return m.setField("set field", target, false)
}

func (m *Magnet) setField(op string, target float64, pers bool) error {
	if !m.FieldBounds().Check(target) {
		return m.refuse(op, target, ErrOutOfRange)
	}
	reason, err := m.readiness(pers)
	if err != nil {
		return err
	}
	if reason != nil {
		return m.refuse(op, target, reason)
	}
	raw := target
	if en, off := m.offsetState(); en {
		raw += off
	}
	return m.drive(op, target, raw, pers)
}

// RampTo starts a ramp to target and returns without waiting for it to
// finish, e.g. to measure while ramping.  Use WaitForRamp or RampState to
// follow the ramp.
func (m *Magnet) RampTo(target float64) error {
	m.op.Lock()
	defer m.op.Unlock()
	if !m.FieldBounds().Check(target) {
		return m.refuse("ramp to", target, ErrOutOfRange)
	}
	reason, err := m.readiness(false)
	if err != nil {
		return err
	}
	if reason != nil {
		return m.refuse("ramp to", target, reason)
	}
	raw := target
	if en, off := m.offsetState(); en {
		raw += off
	}
	return m.program(raw, false)
}

// WaitForRamp polls until the supply is no longer ramping, or ctx is done,
// and returns the last state seen
func (m *Magnet) WaitForRamp(ctx context.Context) (RampState, error) {
	ticker := time.NewTicker(m.timing.PollInterval + time.Microsecond)
	defer ticker.Stop()
	for {
		st, err := m.RampState()
		if err != nil || st != Ramping {
			return st, err
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

// SetPersistent moves the magnet into or out of persistent mode.
//
// Entering requires the magnet to hold or be paused.  The switch heater is
// turned off and the supply ramps to zero; it succeeds once the supply is at
// zero.  Leaving requires it to hold, be paused or be at zero.  The supply
// ramps back to the field recorded when persistence was entered and the heater
// is turned on again.  Either direction is a no-op when already there.
func (m *Magnet) SetPersistent(enable bool) error {
	if !m.cfg.SwitchPresent {
		return m.refuse("set persistent", enable, ErrNoSwitch)
	}
	m.op.Lock()
	defer m.op.Unlock()
	pers, err := m.Persistent()
	if err != nil {
		return err
	}
	if pers == enable {
		return nil
	}
	st, err := m.RampState()
	if err != nil {
		return err
	}
	if enable {
		if st != Holding && st != Paused {
			return m.refuse("set persistent", enable, errors.Wrapf(ErrNotIdle, "status %s", st))
		}
		return m.enterPersistent()
	}
	if !st.Idle() {
		return m.refuse("set driven", enable, errors.Wrapf(ErrNotIdle, "status %s", st))
	}
	return m.leavePersistent()
}

func (m *Magnet) enterPersistent() error {
	f, err := m.TotalField()
	if err != nil {
		return err
	}
	if err := m.setPSwitch(false); err != nil {
		return err
	}
	if err := m.Zero(); err != nil {
		return err
	}
	sleep(m.timing.RampStart)
	if _, err := m.awaitLeave(RampingToZero); err != nil {
		return err
	}
	sleep(m.timing.Settle)
	st, err := m.RampState()
	if err != nil {
		return err
	}
	if st != AtZero {
		return m.rampFailed("set persistent", f, st)
	}
	return nil
}

func (m *Magnet) leavePersistent() error {
	m.mu.Lock()
	raw, known := m.persField, m.persKnown
	m.mu.Unlock()
	if !known {
		// made persistent by someone else, the supply is all we have
		f, err := m.TotalField()
		if err != nil {
			return err
		}
		raw = f
	}
	reason, err := m.readiness(true)
	if err != nil {
		return err
	}
	if reason != nil {
		return m.refuse("set driven", raw, reason)
	}
	if err := m.drive("set driven", raw, raw, true); err != nil {
		return err
	}
	return m.setPSwitch(true)
}

// OffsetEnabled returns true if offset mode is enabled
func (m *Magnet) OffsetEnabled() bool {
	en, _ := m.offsetState()
	return en
}

// SetOffsetEnabled turns offset mode on or off.  In offset mode Field and
// SetField work relative to an offset field, set with SetOffsetField, which
// is superposed by the same supply.  Disabling ramps to the equivalent
// physical field and drops the offset.
func (m *Magnet) SetOffsetEnabled(on bool) error {
	m.op.Lock()
	defer m.op.Unlock()
	if m.OffsetEnabled() == on {
		return nil
	}
	op := "enable offset"
	if !on {
		op = "disable offset"
	}
	reason, err := m.readiness(false)
	if err != nil {
		return err
	}
	if reason != nil {
		return m.refuse(op, on, reason)
	}
	if on {
		m.mu.Lock()
		m.offsetEnabled, m.offset = true, 0
		m.mu.Unlock()
		return nil
	}
	total, err := m.TotalField()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.offsetEnabled, m.offset = false, 0
	m.mu.Unlock()
	return m.setField(op, total, false)
}

// OffsetField returns the offset field, T
func (m *Magnet) OffsetField() (float64, error) {
	en, off := m.offsetState()
	if !en {
		return 0, m.refuse("get offset field", "", ErrOffsetDisabled)
	}
	return off, nil
}

// SetOffsetField changes the offset field.  The supply ramps by the change
// so that Field is unaffected.
func (m *Magnet) SetOffsetField(v float64) error {
	m.op.Lock()
	defer m.op.Unlock()
	en, off := m.offsetState()
	if !en {
		return m.refuse("set offset field", v, ErrOffsetDisabled)
	}
	bounds, err := m.OffsetBounds()
	if err != nil {
		return err
	}
	if !bounds.Check(v) {
		return m.refuse("set offset field", v, ErrOutOfRange)
	}
	reason, err := m.readiness(false)
	if err != nil {
		return err
	}
	if reason != nil {
		return m.refuse("set offset field", v, reason)
	}
	total, err := m.TotalField()
	if err != nil {
		return err
	}
	if err := m.drive("set offset field", v, total+v-off, false); err != nil {
		return err
	}
	m.mu.Lock()
	m.offset = v
	m.mu.Unlock()
	return nil
}

// Status reads everything there is to know about the supply.  It leaves the
// error it reports for Error to return.
func (m *Magnet) Status() (AxisState, error) {
	var (
		s    = AxisState{Name: m.name}
		errs error
		err  error
	)
	s.OffsetEnabled, s.OffsetField = m.offsetState()
	s.TotalField, err = m.TotalField()
	errs = multierr.Append(errs, err)
	s.Field = s.TotalField - s.OffsetField
	s.SetPoint, err = m.SetPoint()
	errs = multierr.Append(errs, err)
	s.RampRate, err = m.RampRate()
	errs = multierr.Append(errs, err)
	s.RampState, err = m.RampState()
	errs = multierr.Append(errs, err)
	s.PSwitch, err = m.PSwitch()
	errs = multierr.Append(errs, err)
	s.Persistent, err = m.Persistent()
	errs = multierr.Append(errs, err)
	s.Quench, err = m.Quench()
	errs = multierr.Append(errs, err)
	s.Error, err = m.peekError()
	errs = multierr.Append(errs, err)
	return s, errs
}
