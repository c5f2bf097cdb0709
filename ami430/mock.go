package ami430

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

const (
	// mockRampPolls is the number of STATE? polls a ramp, zeroing or switch
	// transition lasts on a MockSupply
	mockRampPolls = 2

	mockTol = 1e-9
)

// MockSupply simulates a Model 430 and the magnet it drives.  It satisfies
// Transport, so a Magnet can be built on it with WithTransport; use NewMock
// for the usual case.
//
// Time is counted in STATE? polls rather than seconds: a ramp, a zeroing or a
// switch heater transition finishes after a fixed number of polls.  With the
// heater off the magnet is persistent, whatever field it holds, and keeps that
// field while the supply output moves freely.  Turning the heater on with the
// two mismatched quenches the magnet.
type MockSupply struct {
	mu sync.Mutex

	cfg     AxisConfig
	state   RampState
	output  float64
	magnet  float64
	target  float64
	rate    float64
	heater  bool
	quench  bool
	pending int
	after   RampState
	settle  func()
	failAs  RampState
	errq    []string
	cmds    []string
}

// NewMockSupply returns a simulated supply at zero field, paused, with the
// switch heater on
func NewMockSupply(cfg AxisConfig) *MockSupply {
	return &MockSupply{
		cfg:    cfg,
		state:  Paused,
		heater: cfg.SwitchPresent,
		rate:   cfg.FieldRampLimit(),
	}
}

// NewMock returns a Magnet on a fresh MockSupply with FastTiming.
// opts are applied after those, and may override them.
func NewMock(name string, cfg AxisConfig, opts ...Option) (*Magnet, *MockSupply) {
	s := NewMockSupply(cfg)
	opts = append([]Option{WithName(name), WithTransport(s), WithTiming(FastTiming())}, opts...)
	return NewMagnet(name, false, cfg, opts...), s
}

// drives is true when the supply output reaches the magnet
func (s *MockSupply) drives() bool {
	return s.heater || !s.cfg.SwitchPresent
}

func (s *MockSupply) pushErr(e string) {
	s.errq = append(s.errq, e)
}

func (s *MockSupply) transition(st, after RampState, settle func()) {
	s.state, s.after, s.settle, s.pending = st, after, settle, mockRampPolls
}

func (s *MockSupply) doQuench() {
	s.quench = true
	s.state = QuenchDetected
	s.pending = 0
	s.output, s.magnet = 0, 0
}

// Write executes one or more commands
func (s *MockSupply) Write(cmds ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cmds {
		for _, cmd := range strings.Split(c, ";") {
			s.exec(strings.TrimSpace(cmd))
		}
	}
	return nil
}

func (s *MockSupply) exec(cmd string) {
	s.cmds = append(s.cmds, cmd)
	word, arg := cmd, ""
	if i := strings.IndexByte(cmd, ' '); i >= 0 {
		word, arg = cmd[:i], strings.TrimSpace(cmd[i+1:])
	}
	switch strings.ToUpper(word) {
	case "RAMP":
		if s.quench {
			return
		}
		s.transition(Ramping, Holding, func() {
			s.output = s.target
			if s.drives() {
				s.magnet = s.output
			}
		})
		if s.failAs != 0 {
			fail := s.failAs
			s.failAs = 0
			s.after = fail
			if fail == QuenchDetected {
				s.settle = s.doQuench
			}
		}
	case "PAUSE":
		if s.state != QuenchDetected {
			s.state, s.pending = Paused, 0
		}
	case "ZERO":
		if s.quench {
			return
		}
		s.transition(RampingToZero, AtZero, func() {
			s.output = 0
			if s.drives() {
				s.magnet = 0
			}
		})
	case "CONF:FIELD:TARG":
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil || math.Abs(f) > s.cfg.FieldRating()+mockTol {
			s.pushErr("-151,Invalid parameter")
			return
		}
		s.target = f
	case "CONF:RAMP:RATE:FIELD":
		parts := strings.Split(arg, ",")
		if len(parts) != 3 {
			s.pushErr("-152,Missing parameter")
			return
		}
		f, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			s.pushErr("-151,Invalid parameter")
			return
		}
		s.rate = f
	case "PS":
		if !s.cfg.SwitchPresent {
			s.pushErr("-203,Persistent switch not installed")
			return
		}
		prev := s.state
		if arg == "1" {
			s.transition(HeatingSwitch, prev, func() {
				s.heater = true
				if math.Abs(s.output-s.magnet) > mockTol {
					s.doQuench()
				}
			})
		} else {
			s.transition(CoolingSwitch, prev, func() {
				s.heater = false
			})
		}
	case "QU":
		if arg == "0" {
			s.quench = false
			if s.state == QuenchDetected {
				s.state = Paused
			}
		}
	default:
		s.pushErr("-101,Unrecognized command")
	}
}

// Query executes a query and returns the response
func (s *MockSupply) Query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd = strings.TrimSpace(cmd)
	s.cmds = append(s.cmds, cmd)
	switch strings.ToUpper(cmd) {
	case "STATE?":
		st := s.state
		if s.pending > 0 {
			s.pending--
			if s.pending == 0 {
				s.state = s.after
				if s.settle != nil {
					s.settle()
					s.settle = nil
				}
			}
		}
		return strconv.Itoa(int(st)), nil
	case "FIELD:MAG?":
		return formatFloat(s.output), nil
	case "FIELD:TARG?":
		return formatFloat(s.target), nil
	case "RAMP:RATE:FIELD:1?":
		return formatFloat(s.rate) + "," + formatFloat(s.cfg.FieldRating()), nil
	case "PS?":
		return boolInt(s.heater), nil
	case "PERS?":
		return boolInt(s.cfg.SwitchPresent && !s.heater), nil
	case "QU?":
		return boolInt(s.quench), nil
	case "SYST:ERR?":
		if len(s.errq) == 0 {
			return "0,No error", nil
		}
		e := s.errq[0]
		s.errq = s.errq[1:]
		return e, nil
	case "*IDN?":
		return "AMERICAN MAGNETICS INC.,MODEL 430,MOCK,1.0", nil
	}
	s.pushErr("-101,Unrecognized command")
	return "", fmt.Errorf("mock supply: unrecognized query %q", cmd)
}

func boolInt(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Close satisfies io.Closer
func (s *MockSupply) Close() error {
	return nil
}

// Commands returns every command and query received, oldest first
func (s *MockSupply) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.cmds))
	copy(out, s.cmds)
	return out
}

// Count returns the number of commands received that begin with prefix
func (s *MockSupply) Count(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.cmds {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// ClearCommands forgets the command history
func (s *MockSupply) ClearCommands() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = nil
}

// Quench makes the magnet quench now
func (s *MockSupply) Quench() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doQuench()
}

// FailNextRamp makes the next ramp end in st instead of Holding.
// QuenchDetected also quenches the magnet.
func (s *MockSupply) FailNextRamp(st RampState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAs = st
}

// ForceState puts the supply in st, e.g. ManualUp
func (s *MockSupply) ForceState(st RampState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state, s.pending = st, 0
}

// SetField puts both the supply output and the magnet at f, as if they had
// been ramped there
func (s *MockSupply) SetField(f float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output, s.magnet, s.target = f, f, f
}

// MagnetField returns the field in the magnet, which differs from the supply
// output in persistent mode
func (s *MockSupply) MagnetField() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.magnet
}

// Heater returns the state of the switch heater
func (s *MockSupply) Heater() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heater
}
