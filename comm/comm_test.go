package comm_test

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/magnetlab/golab/comm"
)

func tcpEchoServer(t *testing.T, greeting string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal("could not listen, test aborted:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				if greeting != "" {
					io.WriteString(conn, greeting)
				}
				io.Copy(conn, conn)
			}()
		}
	}()
	return ln.Addr().String()
}

func dialer(addr string) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
}

func TestPoolReusesReturnedConnections(t *testing.T) {
	addr := tcpEchoServer(t, "")
	made := 0
	maker := func() (io.ReadWriteCloser, error) {
		made++
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(1, time.Second, maker)
	defer pool.Close()
	for i := 0; i < 5; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal(err)
		}
		pool.Put(conn)
	}
	if made != 1 {
		t.Errorf("expected a single connection to be made, got %d", made)
	}
	if pool.Size() != 1 {
		t.Errorf("expected pool size 1, got %d", pool.Size())
	}
}

func TestPoolBlocksAtCapacity(t *testing.T) {
	addr := tcpEchoServer(t, "")
	pool := comm.NewPool(1, time.Second, dialer(addr))
	defer pool.Close()
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	got := make(chan struct{})
	go func() {
		c, err := pool.Get()
		if err == nil {
			pool.Put(c)
		}
		close(got)
	}()
	select {
	case <-got:
		t.Fatal("second Get returned while the pool was at capacity")
	case <-time.After(50 * time.Millisecond):
	}
	pool.Put(conn)
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("second Get did not return after Put")
	}
}

func TestPoolReturnWithErrorDestroys(t *testing.T) {
	addr := tcpEchoServer(t, "")
	pool := comm.NewPool(2, time.Second, dialer(addr))
	defer pool.Close()
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.ReturnWithError(conn, io.ErrUnexpectedEOF)
	if pool.Size() != 0 {
		t.Errorf("expected broken connection to be dropped, pool size %d", pool.Size())
	}
}

func TestPoolIdleExpiry(t *testing.T) {
	addr := tcpEchoServer(t, "")
	pool := comm.NewPool(2, 10*time.Millisecond, dialer(addr))
	defer pool.Close()
	conn, err := pool.Get()
	if err != nil {
		t.Fatal(err)
	}
	pool.Put(conn)
	time.Sleep(100 * time.Millisecond)
	if pool.Size() != 0 {
		t.Errorf("expected idle connections to be closed, pool size %d", pool.Size())
	}
}

func TestPoolClosedRejectsGet(t *testing.T) {
	addr := tcpEchoServer(t, "")
	pool := comm.NewPool(1, time.Second, dialer(addr))
	pool.Close()
	if _, err := pool.Get(); err != comm.ErrPoolClosed {
		t.Errorf("expected ErrPoolClosed, got %v", err)
	}
}

func TestTerminatorRoundTrip(t *testing.T) {
	addr := tcpEchoServer(t, "")
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	wrap := comm.NewTerminator(comm.NewTimeout(conn, time.Second), '\n', '\n')
	if _, err := io.WriteString(wrap, "FIELD:MAG?"); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 64)
	n, err := wrap.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(buf[:n]); got != "FIELD:MAG?" {
		t.Errorf("expected echo of FIELD:MAG?, got %q", got)
	}
}

type bufRW struct {
	*bytes.Buffer
}

func TestTerminatorStripsCarriageReturn(t *testing.T) {
	rw := bufRW{bytes.NewBufferString("0.125\r\n2\r\n")}
	term := comm.NewTerminator(rw, '\n', '\n')
	buf := make([]byte, 16)
	n, err := term.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(buf[:n]); got != "0.125" {
		t.Errorf("expected 0.125, got %q", got)
	}
	n, err = term.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(buf[:n]); got != "2" {
		t.Errorf("expected the second line untouched, got %q", got)
	}
}

func TestTerminatorShortBuffer(t *testing.T) {
	rw := bufRW{bytes.NewBufferString("123456789\n")}
	term := comm.NewTerminator(rw, '\n', '\n')
	buf := make([]byte, 4)
	_, err := term.Read(buf)
	if err != comm.ErrTerminatorNotFound {
		t.Errorf("expected ErrTerminatorNotFound, got %v", err)
	}
}

func TestSkipGreetingDrainsBanner(t *testing.T) {
	addr := tcpEchoServer(t, "American Magnetics Model 430 IP Interface\r\nHello.\r\n")
	maker := comm.SkipGreeting(dialer(addr), 2, '\n', 200*time.Millisecond)
	conn, err := maker()
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	wrap := comm.NewTerminator(comm.NewTimeout(conn, time.Second), '\n', '\n')
	io.WriteString(wrap, "*IDN?")
	buf := make([]byte, 64)
	n, err := wrap.Read(buf)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(buf[:n]); got != "*IDN?" {
		t.Errorf("expected the banner to be consumed, first reply was %q", got)
	}
}

func TestSkipGreetingSilentDevice(t *testing.T) {
	addr := tcpEchoServer(t, "")
	maker := comm.SkipGreeting(dialer(addr), 2, '\n', 20*time.Millisecond)
	conn, err := maker()
	if err != nil {
		t.Fatal("a device with no banner should still connect:", err)
	}
	conn.Close()
}

func TestBackingOffTCPConnMakerRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	start := time.Now()
	_, err = comm.BackingOffTCPConnMaker(addr, 100*time.Millisecond)()
	if err == nil {
		t.Fatal("expected an error dialing a closed port")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("refused connection was retried for too long")
	}
}
