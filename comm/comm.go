/*Package comm provides connection plumbing for communication with lab hardware.

Most usages of this package will boil down to:
	1.  pick a CreationFunc for the link: BackingOffTCPConnMaker for ethernet,
		SerialConnMaker for RS-232.  Wrap it with SkipGreeting if the device
		says hello when a connection is opened.
	2.  hand the CreationFunc to NewPool.  A pool of size one gives the device
		exclusive use of a single connection, which is reopened on demand.
	3.  for every exchange, Get a connection, wrap it with NewTimeout and
		NewTerminator, write and read, then ReturnWithError.

A minimal example for a sensor that responds to "RD?" with a float:

	maker := comm.BackingOffTCPConnMaker("192.168.1.10:7180", time.Second)
	pool := comm.NewPool(1, time.Minute, maker)
	conn, err := pool.Get()
	if err != nil {
		return 0, err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTerminator(comm.NewTimeout(conn, time.Second), '\n', '\n')
	_, err = io.WriteString(wrap, "RD?")
	...
*/
package comm

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

var (
	// ErrTerminatorNotFound is generated when the buffer fills before the
	// termination byte is seen
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// CreationFunc is a function which returns a new "connection" to something
// a closure should be used to encapsulate the variables and functions needed
type CreationFunc func() (io.ReadWriteCloser, error)

// TCPSetup opens a new TCP connection and sets a timeout on connect
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("tcp", addr, timeout)
}

// BackingOffTCPConnMaker returns a CreationFunc that dials addr with an
// exponential backoff.  Refused connections end the retry immediately, since
// nothing is listening and retrying only thrashes the remote.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		op := func() error {
			c, err := TCPSetup(addr, timeout)
			if err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "refused") {
					return backoff.Permanent(err)
				}
				return err
			}
			conn = c
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err != nil {
			return nil, fmt.Errorf("connection to %s failed: %w", addr, err)
		}
		return conn, nil
	}
}

// SerialConnMaker returns a CreationFunc that opens a serial port
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.OpenPort(conf)
	}
}

// SkipGreeting wraps a CreationFunc so that up to lines lines of unsolicited
// text the remote sends on connect are read and discarded.  A device that
// stays silent for timeout is assumed to have no (further) greeting.
func SkipGreeting(maker CreationFunc, lines int, term byte, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		conn, err := maker()
		if err != nil {
			return nil, err
		}
		d, ok := conn.(deadliner)
		if !ok {
			return conn, nil
		}
		d.SetReadDeadline(time.Now().Add(timeout))
		defer d.SetReadDeadline(time.Time{})
		rd := NewTerminator(conn, term, term)
		buf := make([]byte, 256)
		for i := 0; i < lines; i++ {
			_, err := rd.Read(buf)
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					break
				}
				if err == ErrTerminatorNotFound {
					continue
				}
				conn.Close()
				return nil, err
			}
		}
		return conn, nil
	}
}

type deadliner interface {
	SetDeadline(time.Time) error
	SetReadDeadline(time.Time) error
}

// NewTimeout sets a deadline d from now on rw if it supports deadlines
// (net.Conn does, a serial port uses its configured ReadTimeout instead)
// and returns rw
func NewTimeout(rw io.ReadWriter, d time.Duration) io.ReadWriter {
	if dl, ok := rw.(deadliner); ok {
		dl.SetDeadline(time.Now().Add(d))
	}
	return rw
}

// Terminator wraps a ReadWriter, appending Tx to every Write and reading
// until Rx on every Read.  The terminator, and a carriage return before it,
// are stripped from what Read returns.
//
// Read pulls one byte at a time from the underlying connection so that nothing
// past the terminator is consumed; the next exchange on the same connection
// starts clean.
type Terminator struct {
	rw     io.ReadWriter
	rx, tx byte
}

// NewTerminator returns a new Terminator around rw
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rw: rw, rx: rx, tx: tx}
}

// Write writes p followed by the Tx terminator
func (t *Terminator) Write(p []byte) (int, error) {
	buf := make([]byte, 0, len(p)+1)
	buf = append(buf, p...)
	buf = append(buf, t.tx)
	n, err := t.rw.Write(buf)
	if n > len(p) {
		n = len(p)
	}
	return n, err
}

// Read reads into p until the Rx terminator is seen.  If p fills first,
// ErrTerminatorNotFound is returned with the partial data.
func (t *Terminator) Read(p []byte) (int, error) {
	one := make([]byte, 1)
	n := 0
	for n < len(p) {
		_, err := io.ReadFull(t.rw, one)
		if err != nil {
			return n, err
		}
		if one[0] == t.rx {
			if n > 0 && p[n-1] == '\r' && t.rx != '\r' {
				n--
			}
			return n, nil
		}
		p[n] = one[0]
		n++
	}
	return n, ErrTerminatorNotFound
}
