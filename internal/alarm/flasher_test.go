package alarm

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeLine struct {
	mu     sync.Mutex
	values []int
	closed bool
	setCh  chan int
}

func (l *fakeLine) SetValue(v int) error {
	l.mu.Lock()
	l.values = append(l.values, v)
	l.mu.Unlock()
	select {
	case l.setCh <- v:
	default:
	}
	return nil
}

func (l *fakeLine) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

func withFakeLine(t *testing.T, ln *fakeLine, err error) *int {
	t.Helper()
	opens := 0
	old := openLineFn
	openLineFn = func(pin int) (line, error) {
		opens++
		if err != nil {
			return nil, err
		}
		return ln, nil
	}
	t.Cleanup(func() { openLineFn = old })
	return &opens
}

func TestFlasher_TogglesUntilStopped(t *testing.T) {
	ln := &fakeLine{setCh: make(chan int, 16)}
	opens := withFakeLine(t, ln, nil)

	f := New(Config{Enable: true, GPIOPin: 17, Period: 5 * time.Millisecond})
	f.Start()
	f.Start()

	want := []int{1, 0, 1}
	for i, w := range want {
		select {
		case v := <-ln.setCh:
			if v != w {
				t.Fatalf("toggle %d value=%d want %d", i, v, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for toggle %d", i)
		}
	}
	if !f.Snapshot().Active || !f.Snapshot().GPIO {
		t.Fatalf("snapshot=%+v want active with gpio", f.Snapshot())
	}

	f.Stop()
	f.Stop()
	ln.mu.Lock()
	last := ln.values[len(ln.values)-1]
	ln.mu.Unlock()
	if last != 0 {
		t.Fatalf("last value=%d want 0 after stop", last)
	}
	if f.Snapshot().Active {
		t.Fatalf("still active after stop")
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !ln.closed {
		t.Fatalf("line not closed")
	}
	if *opens != 1 {
		t.Fatalf("opens=%d want 1", *opens)
	}
}

func TestFlasher_DisabledNeverOpensGPIO(t *testing.T) {
	opens := withFakeLine(t, &fakeLine{}, nil)
	f := New(Config{Enable: false})
	f.Start()
	if !f.Snapshot().Active {
		t.Fatalf("want active")
	}
	f.Stop()
	if *opens != 0 {
		t.Fatalf("opens=%d want 0", *opens)
	}
}

func TestFlasher_OpenFailureIsLogOnly(t *testing.T) {
	withFakeLine(t, nil, errors.New("busy"))
	f := New(Config{Enable: true, GPIOPin: 17})
	f.Start()
	snap := f.Snapshot()
	if !snap.Active || snap.GPIO || snap.LastError == "" {
		t.Fatalf("snapshot=%+v", snap)
	}
	f.Stop()
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestNew_DefaultPeriod(t *testing.T) {
	if f := New(Config{}); f.cfg.Period != 250*time.Millisecond {
		t.Fatalf("period=%s want 250ms", f.cfg.Period)
	}
}
