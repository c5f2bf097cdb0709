package comm

import (
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// ErrPoolClosed is returned by Get after the pool has been closed
var ErrPoolClosed = errors.New("connection pool is closed")

// Pool is a pool of connections which are created on demand by a
// CreationFunc.  At most maxSize connections are ever checked out at once;
// Get blocks until one is available.  When every connection has been returned
// and none is taken for timeout, the idle connections are closed.  They will be
// reopened by the next Get.
type Pool struct {
	sem     chan struct{}
	maker   CreationFunc
	timeout time.Duration

	mu     sync.Mutex
	idle   []io.ReadWriteCloser
	active int
	timer  *time.Timer
	closed bool
}

// NewPool creates a new pool
func NewPool(maxSize int, timeout time.Duration, maker CreationFunc) *Pool {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Pool{
		sem:     make(chan struct{}, maxSize),
		maker:   maker,
		timeout: timeout,
	}
}

// Get returns an idle connection, or opens a new one
func (p *Pool) Get() (io.ReadWriteCloser, error) {
	p.sem <- struct{}{}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return nil, ErrPoolClosed
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if n := len(p.idle); n > 0 {
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.active++
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	conn, err := p.maker()
	if err != nil {
		<-p.sem
		return nil, err
	}
	p.mu.Lock()
	p.active++
	p.mu.Unlock()
	return conn, nil
}

// Put returns a healthy connection to the pool
func (p *Pool) Put(conn io.ReadWriteCloser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active--
	if p.closed {
		conn.Close()
	} else {
		p.idle = append(p.idle, conn)
		if p.active == 0 && p.timeout > 0 {
			p.timer = time.AfterFunc(p.timeout, p.closeIdle)
		}
	}
	<-p.sem
}

// Destroy closes a connection which is broken and frees its slot
func (p *Pool) Destroy(conn io.ReadWriteCloser) {
	conn.Close()
	p.mu.Lock()
	p.active--
	p.mu.Unlock()
	<-p.sem
}

// ReturnWithError returns conn to the pool if err is nil, otherwise it is
// destroyed.  It is shaped for use in a defer:
//
//	defer func() { pool.ReturnWithError(conn, err) }()
func (p *Pool) ReturnWithError(conn io.ReadWriteCloser, err error) {
	if err != nil {
		p.Destroy(conn)
		return
	}
	p.Put(conn)
}

// Close closes all idle connections and rejects further Gets.  Connections
// checked out at the time are closed when they are returned.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	var err error
	for _, c := range p.idle {
		err = multierr.Append(err, c.Close())
	}
	p.idle = nil
	return err
}

// Size is the number of connections held open, idle or checked out
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle) + p.active
}

// Active is the number of checked out connections
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pool) closeIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != 0 {
		return
	}
	for _, c := range p.idle {
		c.Close()
	}
	p.idle = nil
	p.timer = nil
}
