// Package alarm drives the panic indicator: an LED or buzzer on a GPIO line
// toggled at a fixed period while the alarm is active.
package alarm

import (
	"log"
	"sync"
	"time"
)

// line is the minimal output the flasher needs from a GPIO backend.
type line interface {
	SetValue(v int) error
	Close() error
}

var openLineFn = openLine

const DefaultPeriod = 250 * time.Millisecond

type Config struct {
	Enable bool

	// GPIOPin is BCM numbering.
	GPIOPin int
	Period  time.Duration
}

type Snapshot struct {
	Active    bool   `json:"active"`
	GPIO      bool   `json:"gpio"`
	Toggles   int64  `json:"toggles"`
	LastError string `json:"last_error,omitempty"`
}

// Flasher toggles its line every Period between Start and Stop. Start and
// Stop are idempotent and safe from any goroutine.
type Flasher struct {
	cfg Config

	mu     sync.Mutex
	ln     line
	opened bool
	stopCh chan struct{}
	wg     sync.WaitGroup
	snap   Snapshot
}

func New(cfg Config) *Flasher {
	if cfg.Period <= 0 {
		cfg.Period = DefaultPeriod
	}
	return &Flasher{cfg: cfg}
}

func (f *Flasher) openLocked() {
	if f.opened || !f.cfg.Enable {
		return
	}
	f.opened = true
	ln, err := openLineFn(f.cfg.GPIOPin)
	if err != nil {
		f.snap.LastError = err.Error()
		log.Printf("alarm: gpio unavailable, alarm is log-only: %v", err)
		return
	}
	f.ln = ln
	f.snap.GPIO = true
}

func (f *Flasher) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopCh != nil {
		return
	}
	f.openLocked()
	f.snap.Active = true
	log.Printf("alarm: started period=%s", f.cfg.Period)

	stop := make(chan struct{})
	f.stopCh = stop
	ln := f.ln
	if ln == nil {
		return
	}
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.run(ln, stop)
	}()
}

func (f *Flasher) run(ln line, stop <-chan struct{}) {
	t := time.NewTicker(f.cfg.Period)
	defer t.Stop()
	v := 0
	for {
		select {
		case <-stop:
			_ = ln.SetValue(0)
			return
		case <-t.C:
			v ^= 1
			err := ln.SetValue(v)
			f.mu.Lock()
			f.snap.Toggles++
			if err != nil {
				f.snap.LastError = err.Error()
			}
			f.mu.Unlock()
		}
	}
}

func (f *Flasher) Stop() {
	f.mu.Lock()
	stop := f.stopCh
	f.stopCh = nil
	f.snap.Active = false
	f.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	f.wg.Wait()
	log.Printf("alarm: stopped")
}

// Close stops the alarm and releases the GPIO line.
func (f *Flasher) Close() error {
	f.Stop()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ln == nil {
		return nil
	}
	err := f.ln.Close()
	f.ln = nil
	f.snap.GPIO = false
	return err
}

func (f *Flasher) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}
