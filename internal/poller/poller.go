// Package poller runs a task on a fixed period until it is stopped.
//
// Every tick gets a sequence number that increases for the lifetime of the
// Poller, so a consumer can drop results that resolve after a newer one.
// Ticks are not serialized: a slow task may still be running when the next
// tick fires. Stop cancels the context handed to every in-flight task.
package poller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Task is invoked once per tick with the tick's sequence number.
type Task func(ctx context.Context, seq uint64)

// Poller is a cancellable scheduled task.
type Poller struct {
	interval time.Duration
	task     Task

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	seq      atomic.Uint64
	inflight sync.WaitGroup
}

// New creates a stopped Poller.
func New(interval time.Duration, task Task) *Poller {
	return &Poller{
		interval: interval,
		task:     task,
	}
}

// Interval returns the tick period.
func (p *Poller) Interval() time.Duration {
	return p.interval
}

// Start begins ticking. It returns false if the poller is already running.
func (p *Poller) Start(parent context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return false
	}

	ctx, cancel := context.WithCancel(parent)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.run(ctx, p.done)
	return true
}

// Stop cancels the loop and every in-flight task, then waits for them to return.
// Stopping a stopped poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.cancel = nil
	p.done = nil
	p.mu.Unlock()

	cancel()
	<-done
	p.inflight.Wait()
}

// Running reports whether the poller is ticking.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// LastSeq returns the sequence number of the most recent tick.
func (p *Poller) LastSeq() uint64 {
	return p.seq.Load()
}

func (p *Poller) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			seq := p.seq.Add(1)
			p.inflight.Add(1)
			go func() {
				defer p.inflight.Done()
				p.task(ctx, seq)
			}()
		}
	}
}
