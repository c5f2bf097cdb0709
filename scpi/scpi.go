// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"context"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/magnetlab/golab/comm"
)

const (
	// DefaultTimeout is the per-exchange deadline used when Timeout is zero
	DefaultTimeout = 5 * time.Second

	tcpFrameSize = 1500
)

// SCPI is a type for encapsulating SCPI communication.
// Commands and responses are newline terminated.
type SCPI struct {
	Pool *comm.Pool

	// Pace, when not nil, gates every exchange.  Some instruments drop
	// commands that arrive too close together.
	Pace *rate.Limiter

	// Timeout is the deadline for a single exchange
	Timeout time.Duration
}

// New returns an SCPI on pool, allowing one exchange per interval.
// An interval of zero disables pacing.
func New(pool *comm.Pool, interval time.Duration) *SCPI {
	s := &SCPI{Pool: pool, Timeout: DefaultTimeout}
	if interval > 0 {
		s.Pace = rate.NewLimiter(rate.Every(interval), 1)
	}
	return s
}

func (s *SCPI) wait() {
	if s.Pace != nil {
		s.Pace.Wait(context.Background())
	}
}

func (s *SCPI) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultTimeout
	}
	return s.Timeout
}

// Write sends one or more commands to the device, joined by semicolons.
// No response is read.
func (s *SCPI) Write(cmds ...string) error {
	s.wait()
	conn, err := s.Pool.Get()
	if err != nil {
		return errors.Wrap(err, "scpi write")
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTerminator(comm.NewTimeout(conn, s.timeout()), '\n', '\n')
	_, err = io.WriteString(wrap, strings.Join(cmds, ";"))
	if err != nil {
		return errors.Wrapf(err, "scpi write %q", cmds)
	}
	return nil
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) ([]byte, error) {
	s.wait()
	conn, err := s.Pool.Get()
	if err != nil {
		return nil, errors.Wrap(err, "scpi query")
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTerminator(comm.NewTimeout(conn, s.timeout()), '\n', '\n')
	_, err = io.WriteString(wrap, strings.Join(cmds, ";"))
	if err != nil {
		return nil, errors.Wrapf(err, "scpi query %q", cmds)
	}
	buf := make([]byte, tcpFrameSize)
	n, err := wrap.Read(buf)
	if err != nil {
		return nil, errors.Wrapf(err, "scpi query %q", cmds)
	}
	return buf[:n], nil
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(resp)), nil
}

// Query satisfies query.Querier
func (s *SCPI) Query(cmd string) (string, error) {
	return s.ReadString(cmd)
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(resp, 64)
	return f, errors.Wrapf(err, "parsing response to %q", cmds)
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(resp)
	return i, errors.Wrapf(err, "parsing response to %q", cmds)
}

// Raw sends a command to the device and returns a response if it was a query,
// else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Write(str)
}
