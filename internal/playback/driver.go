package playback

import (
	"context"
	"math"
	"sync"
	"time"
)

// TickSource delivers the wall time elapsed between successive ticks. The
// channel is closed when the source stops or ctx is done.
type TickSource interface {
	Start(ctx context.Context) <-chan time.Duration
}

// TickerSource ticks at a fixed interval of wall-clock time. The elapsed
// value of each tick is measured, not assumed, so a slow consumer receives
// the full time it missed on its next tick.
type TickerSource struct {
	interval time.Duration
	nowFunc  func() time.Time // injectable clock for testing
}

// NewTickerSource returns a source ticking every interval.
func NewTickerSource(interval time.Duration) *TickerSource {
	return &TickerSource{interval: interval, nowFunc: time.Now}
}

// Start begins ticking until ctx is done.
func (s *TickerSource) Start(ctx context.Context) <-chan time.Duration {
	ch := make(chan time.Duration)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		last := s.nowFunc()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			now := s.nowFunc()
			select {
			case ch <- now.Sub(last):
				last = now
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

// ManualSource is a TickSource driven by explicit Advance calls.
type ManualSource struct {
	ch   chan time.Duration
	once sync.Once
}

// NewManualSource returns an unstarted manual source.
func NewManualSource() *ManualSource {
	return &ManualSource{ch: make(chan time.Duration)}
}

// Start returns the tick channel. ctx is ignored; call Close to end the stream.
func (s *ManualSource) Start(context.Context) <-chan time.Duration {
	return s.ch
}

// Advance delivers one tick and blocks until the driver has received it.
func (s *ManualSource) Advance(elapsed time.Duration) {
	s.ch <- elapsed
}

// Close ends the tick stream.
func (s *ManualSource) Close() {
	s.once.Do(func() { close(s.ch) })
}

// TickHook is called on the driver goroutine after every tick and command.
// res is the zero TickResult after a command.
type TickHook func(e *Engine, res TickResult, err error)

// Driver owns an Engine and serializes ticks and commands onto one
// goroutine, so the engine itself needs no locking.
type Driver struct {
	engine *Engine
	source TickSource
	hook   TickHook
	cmds   chan command
}

type command struct {
	fn   func(*Engine)
	done chan struct{}
}

// NewDriver returns a driver for e fed by source. hook may be nil.
func NewDriver(e *Engine, source TickSource, hook TickHook) *Driver {
	return &Driver{
		engine: e,
		source: source,
		hook:   hook,
		cmds:   make(chan command),
	}
}

// Run processes ticks and commands until ctx is done or the tick source is
// exhausted. Engine errors are not returned; they are held by the engine and
// reported through the hook.
func (d *Driver) Run(ctx context.Context) error {
	ticks := d.source.Start(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case elapsed, ok := <-ticks:
			if !ok {
				return nil
			}
			res, err := d.engine.Tick(elapsed)
			if d.hook != nil {
				d.hook(d.engine, res, err)
			}
		case c := <-d.cmds:
			c.fn(d.engine)
			close(c.done)
			if d.hook != nil {
				d.hook(d.engine, TickResult{Mode: d.engine.Mode()}, nil)
			}
		}
	}
}

// Do runs fn on the driver goroutine and waits for it to finish. fn must not
// retain the engine.
func (d *Driver) Do(ctx context.Context, fn func(*Engine)) error {
	c := command{fn: fn, done: make(chan struct{})}
	select {
	case d.cmds <- c:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunHeadless plays e to completion on a virtual clock: every tick pays for
// exactly MaxPerTick units, so no wall time passes. It returns the engine
// error that stopped the run, if any, or ctx.Err() if cancelled.
func RunHeadless(ctx context.Context, e *Engine) error {
	if err := e.Start(); err != nil {
		return err
	}
	ns := math.Ceil(float64(e.MaxPerTick()) * float64(time.Second) / e.Rate())
	step := time.Duration(1)
	switch {
	case ns >= float64(math.MaxInt64/2):
		step = time.Duration(math.MaxInt64 / 2)
	case ns > 1:
		step = time.Duration(ns)
	}
	for e.Mode() == ModeRunning {
		if err := ctx.Err(); err != nil {
			e.Pause()
			return err
		}
		if _, err := e.Tick(step); err != nil {
			return err
		}
	}
	return nil
}
