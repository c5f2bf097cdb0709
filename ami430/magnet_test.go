package ami430

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"math"
	"strings"
	"testing"
	"time"
)

const tol = 1e-9

func quiet() Option {
	return WithLogger(log.New(io.Discard, "", 0))
}

func near(a, b float64) bool {
	return math.Abs(a-b) < tol
}

func TestFieldRatingIsDerived(t *testing.T) {
	c := DefaultAxisConfig()
	if !near(c.FieldRating(), 0.1107*81.33) {
		t.Errorf("field rating %g", c.FieldRating())
	}
	if !near(c.FieldRampLimit(), 0.1107*0.08) {
		t.Errorf("field ramp limit %g", c.FieldRampLimit())
	}
	c.CurrentRating = 10
	if l := c.FieldLimits(); !near(l.Max, 1.107) || !near(l.Min, -1.107) {
		t.Errorf("field limits did not follow the current rating: %+v", l)
	}
}

func TestSetFieldRampsAndPauses(t *testing.T) {
	m, s := NewMock("test", DefaultAxisConfig(), quiet())
	if err := m.SetField(1.5); err != nil {
		t.Fatal(err)
	}
	f, err := m.Field()
	if err != nil {
		t.Fatal(err)
	}
	if !near(f, 1.5) {
		t.Errorf("expected 1.5 T, got %g", f)
	}
	cmds := s.Commands()
	want := []string{"PAUSE", "CONF:FIELD:TARG 1.5", "RAMP"}
	i := 0
	for _, c := range cmds {
		if i < len(want) && c == want[i] {
			i++
		}
	}
	if i != len(want) {
		t.Errorf("expected %v in order, got %v", want, cmds)
	}
	if last := cmds[len(cmds)-2]; last != "PAUSE" {
		t.Errorf("a finished ramp should end paused, got %v", cmds)
	}
}

func TestQuenchedAxisSendsNoRamp(t *testing.T) {
	buf := &bytes.Buffer{}
	m, s := NewMock("test", DefaultAxisConfig(), WithLogger(log.New(buf, "", 0)))
	s.Quench()
	s.ClearCommands()
	err := m.SetField(1)
	if !errors.Is(err, ErrQuenched) {
		t.Fatalf("expected ErrQuenched, got %v", err)
	}
	if !IsPrecondition(err) {
		t.Error("a quench refusal should be a precondition error")
	}
	for _, prefix := range []string{"RAMP", "CONF:FIELD:TARG", "PAUSE", "PS "} {
		if n := s.Count(prefix); n != 0 {
			t.Errorf("%d %s commands sent to a quenched supply", n, prefix)
		}
	}
	if !strings.Contains(buf.String(), "quench") {
		t.Errorf("refusal was not logged with its reason: %q", buf.String())
	}
}

func TestReadinessRefusals(t *testing.T) {
	cases := []struct {
		state RampState
		want  error
	}{
		{ManualUp, ErrManualRamp},
		{ManualDown, ErrManualRamp},
		{RampingToZero, ErrRampingToZero},
		{HeatingSwitch, ErrSwitchTransition},
		{CoolingSwitch, ErrSwitchTransition},
		{RampState(42), ErrUnknownState},
	}
	for _, c := range cases {
		t.Run(c.state.String(), func(t *testing.T) {
			m, s := NewMock("test", DefaultAxisConfig(), quiet())
			s.ForceState(c.state)
			if err := m.SetField(1); !errors.Is(err, c.want) {
				t.Errorf("expected %v, got %v", c.want, err)
			}
			if err := m.RampTo(1); !errors.Is(err, c.want) {
				t.Errorf("RampTo: expected %v, got %v", c.want, err)
			}
			if n := s.Count("CONF:FIELD:TARG"); n != 0 {
				t.Errorf("target programmed %d times", n)
			}
		})
	}
}

func TestRampingWithHeaterOffIsRefused(t *testing.T) {
	m, s := NewMock("test", DefaultAxisConfig(), quiet())
	if err := m.SetPSwitch(false); err != nil {
		t.Fatal(err)
	}
	s.ForceState(Ramping)
	if err := m.SetField(1); !errors.Is(err, ErrSwitchOff) {
		t.Errorf("expected ErrSwitchOff, got %v", err)
	}
}

func TestRampingWithHeaterOnMayRetarget(t *testing.T) {
	m, s := NewMock("test", DefaultAxisConfig(), quiet())
	s.ForceState(Ramping)
	if err := m.SetField(0.5); err != nil {
		t.Errorf("a ramp with the heater on may be retargeted, got %v", err)
	}
}

func TestOutOfRangeSendsNothing(t *testing.T) {
	m, s := NewMock("test", DefaultAxisConfig(), quiet())
	err := m.SetField(100)
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if cmds := s.Commands(); len(cmds) != 0 {
		t.Errorf("expected no traffic, got %v", cmds)
	}
}

func TestRampEndingElsewhereIsAnError(t *testing.T) {
	m, s := NewMock("test", DefaultAxisConfig(), quiet())
	s.FailNextRamp(Paused)
	err := m.SetField(1)
	var re *RampError
	if !errors.As(err, &re) {
		t.Fatalf("expected a RampError, got %v", err)
	}
	if re.State != Paused || !near(re.Value, 1) {
		t.Errorf("unexpected ramp error %+v", re)
	}
	if IsPrecondition(err) {
		t.Error("a failed ramp is not a refusal")
	}
}

func TestQuenchDuringRamp(t *testing.T) {
	m, s := NewMock("test", DefaultAxisConfig(), quiet())
	s.FailNextRamp(QuenchDetected)
	var re *RampError
	if err := m.SetField(2); !errors.As(err, &re) || re.State != QuenchDetected {
		t.Fatalf("expected a RampError in QuenchDetected, got %v", err)
	}
	if q, _ := m.Quench(); !q {
		t.Error("supply should report the quench")
	}
	if err := m.SetField(0); !errors.Is(err, ErrQuenched) {
		t.Errorf("expected ErrQuenched after the quench, got %v", err)
	}
	if err := m.ResetQuench(); err != nil {
		t.Fatal(err)
	}
	if err := m.SetField(0); err != nil {
		t.Errorf("ramp after reset: %v", err)
	}
}

func TestSetPersistentTwiceZeroesOnce(t *testing.T) {
	m, s := NewMock("test", DefaultAxisConfig(), quiet())
	if err := m.SetField(1); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := m.SetPersistent(true); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if n := s.Count("ZERO"); n != 1 {
		t.Errorf("expected the supply to be zeroed once, got %d", n)
	}
	if n := s.Count("PS 0"); n != 1 {
		t.Errorf("expected the heater to be turned off once, got %d", n)
	}
	if p, _ := m.Persistent(); !p {
		t.Error("magnet should be persistent")
	}
	if !near(s.MagnetField(), 1) {
		t.Errorf("magnet should keep 1 T, has %g", s.MagnetField())
	}
	if f, _ := m.TotalField(); !near(f, 0) {
		t.Errorf("supply output should be zero, is %g", f)
	}
	if err := m.SetField(2); !errors.Is(err, ErrPersistentMode) {
		t.Errorf("expected ErrPersistentMode, got %v", err)
	}
}

func TestPersistentAtZeroField(t *testing.T) {
	m, s := NewMock("test", DefaultAxisConfig(), quiet())
	for i := 0; i < 2; i++ {
		if err := m.SetPersistent(true); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if n := s.Count("ZERO"); n != 1 {
		t.Errorf("expected the supply to be zeroed once, got %d", n)
	}
	if p, _ := m.Persistent(); !p {
		t.Fatal("magnet should be persistent at 0 T")
	}
	if err := m.SetPersistent(false); err != nil {
		t.Fatal(err)
	}
	if !s.Heater() {
		t.Error("heater should be on again")
	}
	if p, _ := m.Persistent(); p {
		t.Error("magnet should be driven")
	}
	if q, _ := m.Quench(); q {
		t.Error("leaving persistent mode at 0 T quenched the magnet")
	}
}

func TestSwitchClosedAtZeroAllowsRamp(t *testing.T) {
	m, s := NewMock("test", DefaultAxisConfig(), quiet())
	if err := m.SetPSwitch(false); err != nil {
		t.Fatal(err)
	}
	if p, _ := m.Persistent(); !p {
		t.Fatal("heater off should read persistent")
	}
	if err := m.SetField(0.5); err != nil {
		t.Fatalf("ramp with no field held: %v", err)
	}
	if !s.Heater() || !near(s.MagnetField(), 0.5) {
		t.Errorf("heater %t, magnet at %g", s.Heater(), s.MagnetField())
	}
}

func TestLeavingPersistentRestoresField(t *testing.T) {
	m, s := NewMock("test", DefaultAxisConfig(), quiet())
	if err := m.SetField(1.25); err != nil {
		t.Fatal(err)
	}
	if err := m.SetPersistent(true); err != nil {
		t.Fatal(err)
	}
	if err := m.SetPersistent(false); err != nil {
		t.Fatal(err)
	}
	if q, _ := m.Quench(); q {
		t.Fatal("leaving persistent mode quenched the magnet")
	}
	if p, _ := m.Persistent(); p {
		t.Error("magnet should be driven")
	}
	if !s.Heater() {
		t.Error("heater should be on again")
	}
	if f, _ := m.Field(); !near(f, 1.25) {
		t.Errorf("expected 1.25 T, got %g", f)
	}
	if err := m.SetPersistent(false); err != nil {
		t.Errorf("leaving twice: %v", err)
	}
}

func TestSetPersistentNeedsIdleSupply(t *testing.T) {
	m, s := NewMock("test", DefaultAxisConfig(), quiet())
	s.ForceState(Ramping)
	if err := m.SetPersistent(true); !errors.Is(err, ErrNotIdle) {
		t.Errorf("expected ErrNotIdle, got %v", err)
	}
	if n := s.Count("ZERO"); n != 0 {
		t.Errorf("zeroed a ramping supply")
	}
}

func TestHeaterOnWithMismatchQuenches(t *testing.T) {
	m, s := NewMock("test", DefaultAxisConfig(), quiet())
	if err := m.SetField(1); err != nil {
		t.Fatal(err)
	}
	if err := m.SetPersistent(true); err != nil {
		t.Fatal(err)
	}
	// the supply is at zero and the magnet at 1 T
	if err := m.SetPSwitch(true); err != nil {
		t.Fatal(err)
	}
	if q, _ := m.Quench(); !q {
		t.Error("expected a quench")
	}
	if s.MagnetField() != 0 {
		t.Error("a quench dumps the field")
	}
}

func TestNoSwitch(t *testing.T) {
	cfg := DefaultAxisConfig()
	cfg.SwitchPresent = false
	m, s := NewMock("test", cfg, quiet())
	if err := m.SetPersistent(true); !errors.Is(err, ErrNoSwitch) {
		t.Errorf("expected ErrNoSwitch, got %v", err)
	}
	if err := m.SetPSwitch(true); !errors.Is(err, ErrNoSwitch) {
		t.Errorf("expected ErrNoSwitch, got %v", err)
	}
	if on, err := m.PSwitch(); on || err != nil {
		t.Errorf("PSwitch = %t, %v", on, err)
	}
	if err := m.SetField(-2); err != nil {
		t.Fatal(err)
	}
	if n := s.Count("PS "); n != 0 {
		t.Errorf("sent %d heater commands to a magnet without a switch", n)
	}
	if f, _ := m.Field(); !near(f, -2) {
		t.Errorf("expected -2 T, got %g", f)
	}
}

func TestRampRate(t *testing.T) {
	m, s := NewMock("test", DefaultAxisConfig(), quiet())
	if err := m.SetRampRate(0.005); err != nil {
		t.Fatal(err)
	}
	want := "CONF:RAMP:RATE:FIELD 1,0.005," + formatFloat(DefaultAxisConfig().FieldRating())
	if s.Count(want) != 1 {
		t.Errorf("expected %q, got %v", want, s.Commands())
	}
	r, err := m.RampRate()
	if err != nil {
		t.Fatal(err)
	}
	if !near(r, 0.005) {
		t.Errorf("expected 0.005 T/s, got %g", r)
	}
	if err := m.SetRampRate(1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange above the limit, got %v", err)
	}
	if err := m.SetRampRate(-0.001); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected ErrOutOfRange for a negative rate, got %v", err)
	}
}

func TestOffsetMode(t *testing.T) {
	m, _ := NewMock("test", DefaultAxisConfig(), quiet())
	rating := DefaultAxisConfig().FieldRating()
	if err := m.SetField(1); err != nil {
		t.Fatal(err)
	}
	if _, err := m.OffsetField(); !errors.Is(err, ErrOffsetDisabled) {
		t.Errorf("expected ErrOffsetDisabled, got %v", err)
	}
	if err := m.SetOffsetEnabled(true); err != nil {
		t.Fatal(err)
	}
	if err := m.SetOffsetField(0.5); err != nil {
		t.Fatal(err)
	}
	f, _ := m.Field()
	total, _ := m.TotalField()
	if !near(f, 1) || !near(total, 1.5) {
		t.Errorf("expected field 1 and total 1.5, got %g and %g", f, total)
	}
	if b := m.FieldBounds(); !near(b.Max, rating-0.5) || !near(b.Min, -rating-0.5) {
		t.Errorf("field bounds did not shift: %+v", b)
	}
	if err := m.SetField(rating); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected the shifted bound to refuse %g, got %v", rating, err)
	}
	if err := m.SetField(2); err != nil {
		t.Fatal(err)
	}
	if total, _ := m.TotalField(); !near(total, 2.5) {
		t.Errorf("offset not superposed, total %g", total)
	}
	if err := m.SetOffsetEnabled(false); err != nil {
		t.Fatal(err)
	}
	if f, _ := m.Field(); !near(f, 2.5) {
		t.Errorf("disabling should keep the physical field, got %g", f)
	}
}

func TestRampToAndWait(t *testing.T) {
	m, _ := NewMock("test", DefaultAxisConfig(), quiet())
	if err := m.RampTo(2); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	st, err := m.WaitForRamp(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st != Holding {
		t.Errorf("expected Holding, got %s", st)
	}
	if sp, _ := m.SetPoint(); !near(sp, 2) {
		t.Errorf("expected set point 2, got %g", sp)
	}
}

func TestStatusAndRaw(t *testing.T) {
	m, _ := NewMock("test", DefaultAxisConfig(), quiet())
	if err := m.SetField(0.25); err != nil {
		t.Fatal(err)
	}
	st, err := m.Status()
	if err != nil {
		t.Fatal(err)
	}
	if !near(st.Field, 0.25) || st.RampState != Paused || !st.PSwitch || st.Persistent || st.Quench {
		t.Errorf("unexpected status %+v", st)
	}
	if !strings.HasPrefix(st.Error, "0,") {
		t.Errorf("expected an empty error queue, got %q", st.Error)
	}
	idn, err := m.Raw("*IDN?")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(idn, "MODEL 430") {
		t.Errorf("unexpected identity %q", idn)
	}
}

type brokenTransport struct{}

func (brokenTransport) Write(...string) error { return errors.New("link down") }
func (brokenTransport) Query(string) (string, error) { return "", errors.New("link down") }

func TestTransportErrorsCarryTheCommand(t *testing.T) {
	m := NewMagnet("bench", false, DefaultAxisConfig(), WithTransport(brokenTransport{}), quiet())
	_, err := m.Field()
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "FIELD:MAG?") || !strings.Contains(err.Error(), "link down") {
		t.Errorf("error lacks context: %v", err)
	}
	if IsPrecondition(err) {
		t.Error("a transport failure is not a refusal")
	}
	if err := m.SetField(1); err == nil || IsPrecondition(err) {
		t.Errorf("expected a transport failure, got %v", err)
	}
}
