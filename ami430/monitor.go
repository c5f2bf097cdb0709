package ami430

import (
	"context"
	"sync"
	"time"
)

// Reading is one status snapshot of one axis
type Reading struct {
	Axis  string    `json:"axis"`
	State AxisState `json:"state"`
	Err   error     `json:"-"`
	Time  time.Time `json:"time"`
}

// Monitor polls the status of every axis each period, one goroutine per axis,
// and sends the readings on the returned channel.  The channel is closed once
// ctx is done and every poller has returned.  A slow reader delays the
// pollers; readings are not dropped.
func Monitor(ctx context.Context, period time.Duration, axes ...Axis) <-chan Reading {
	out := make(chan Reading, len(axes))
	wg := sync.WaitGroup{}
	wg.Add(len(axes))
	for _, a := range axes {
		go func(a Axis) {
			defer wg.Done()
			ticker := time.NewTicker(period)
			defer ticker.Stop()
			for {
				st, err := a.Status()
				r := Reading{Axis: a.Name(), State: st, Err: err, Time: time.Now()}
				select {
				case out <- r:
				case <-ctx.Done():
					return
				}
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return
				}
			}
		}(a)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// WatchQuench calls onQuench once for each axis that reports a quench, each
// time it starts quenching, until ctx is done
func WatchQuench(ctx context.Context, period time.Duration, onQuench func(Reading), axes ...Axis) {
	quenched := map[string]bool{}
	for r := range Monitor(ctx, period, axes...) {
		if r.Err != nil {
			continue
		}
		if r.State.Quench && !quenched[r.Axis] {
			onQuench(r)
		}
		quenched[r.Axis] = r.State.Quench
	}
}
