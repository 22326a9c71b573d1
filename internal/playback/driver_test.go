package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nvandessel/stochsim/internal/models"
)

func TestDriverSerializesTicksAndCommands(t *testing.T) {
	p := smallParams()
	p.Paths = 50
	e := newTestEngine(t, models.ProcessWiener, p, Options{Rate: 1000})

	var mu sync.Mutex
	var hookSteps int
	src := NewManualSource()
	d := NewDriver(e, src, func(_ *Engine, res TickResult, err error) {
		mu.Lock()
		defer mu.Unlock()
		hookSteps += res.Steps
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	if err := d.Do(ctx, func(e *Engine) { _ = e.Start() }); err != nil {
		t.Fatal(err)
	}
	src.Advance(7 * time.Millisecond)
	src.Advance(3 * time.Millisecond)

	var n int64
	var mode Mode
	if err := d.Do(ctx, func(e *Engine) { n, mode = e.TotalSteps(), e.Mode() }); err != nil {
		t.Fatal(err)
	}
	if n != 10 || mode != ModeRunning {
		t.Errorf("after ticks: steps %d mode %v", n, mode)
	}

	src.Close()
	if err := <-done; err != nil {
		t.Errorf("Run() after source closed = %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if hookSteps != 10 {
		t.Errorf("hook saw %d steps, want 10", hookSteps)
	}
}

func TestDriverStopsOnCancel(t *testing.T) {
	e := newTestEngine(t, models.ProcessWiener, smallParams(), Options{})
	d := NewDriver(e, NewManualSource(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if err := d.Do(ctx, func(*Engine) {}); !errors.Is(err, context.Canceled) {
		t.Errorf("Do() on stopped driver = %v", err)
	}
}

func TestTickerSourceMeasuresElapsed(t *testing.T) {
	src := NewTickerSource(time.Millisecond)
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	src.nowFunc = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(10 * time.Millisecond)
		return now
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := src.Start(ctx)
	for i := 0; i < 3; i++ {
		select {
		case d := <-ticks:
			if d != 10*time.Millisecond {
				t.Errorf("tick %d elapsed = %v, want 10ms", i, d)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("no tick received")
		}
	}
	cancel()
	for range ticks {
	}
}

func TestRunHeadless(t *testing.T) {
	p := models.DefaultParams()
	p.Paths = 500
	e := newTestEngine(t, models.ProcessGBM, p, Options{})
	if err := RunHeadless(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if e.N() != p.Paths || e.Mode() != ModeIdle || !e.Complete() {
		t.Errorf("N = %d, mode = %v, complete = %v", e.N(), e.Mode(), e.Complete())
	}

	term := newTestEngine(t, models.ProcessGBMTerminal, p, Options{})
	if err := RunHeadless(context.Background(), term); err != nil {
		t.Fatal(err)
	}
	if term.N() != p.Paths {
		t.Errorf("terminal N = %d", term.N())
	}
}

func TestRunHeadlessCancelled(t *testing.T) {
	e := newTestEngine(t, models.ProcessWiener, models.DefaultParams(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := RunHeadless(ctx, e); !errors.Is(err, context.Canceled) {
		t.Errorf("RunHeadless() = %v, want context.Canceled", err)
	}
	if e.Mode() != ModePaused {
		t.Errorf("mode = %v, want paused", e.Mode())
	}
}

func TestRunHeadlessError(t *testing.T) {
	p := smallParams()
	p.Mu = 1e308
	e := newTestEngine(t, models.ProcessGBM, p, Options{})
	if err := RunHeadless(context.Background(), e); !errors.Is(err, models.ErrComputation) {
		t.Errorf("RunHeadless() = %v, want ErrComputation", err)
	}
}
