package web

import (
	"sync/atomic"
	"time"

	"skyferry/internal/alarm"
	"skyferry/internal/arbiter"
	"skyferry/internal/behavior"
	"skyferry/internal/command"
	"skyferry/internal/geometry"
	"skyferry/internal/telemetry"
)

// LoopStatus is what the control loop reports after each tick.
type LoopStatus struct {
	Behavior behavior.Status     `json:"behavior"`
	Arbiter  arbiter.State       `json:"arbiter"`
	Sensors  telemetry.Ages      `json:"sensor_ages"`
	Attitude *geometry.RPY       `json:"attitude,omitempty"`
	Alarm    alarm.Snapshot      `json:"alarm"`
	Sent     *command.Arbitrated `json:"sent,omitempty"`
	Downlink string              `json:"downlink,omitempty"`
}

type Status struct {
	runID         string
	startUnixNano int64
	ticks         uint64
	lastTickNano  int64
	loop          atomic.Value // LoopStatus
	subs          *broadcaster
}

func NewStatus(runID string) *Status {
	s := &Status{runID: runID, subs: newBroadcaster()}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.loop.Store(LoopStatus{})
	return s
}

type StatusSnapshot struct {
	Service     string `json:"service"`
	RunID       string `json:"run_id"`
	NowUTC      string `json:"now_utc"`
	UptimeSec   int64  `json:"uptime_sec"`
	Ticks       uint64 `json:"ticks"`
	LastTickUTC string `json:"last_tick_utc,omitempty"`
	LoopStatus
}

// Publish records one tick and fans the resulting snapshot out to stream
// subscribers.
func (s *Status) Publish(nowUTC time.Time, ls LoopStatus) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	s.loop.Store(ls)
	atomic.StoreInt64(&s.lastTickNano, nowUTC.UnixNano())
	atomic.AddUint64(&s.ticks, 1)
	s.subs.publish(s.Snapshot(nowUTC))
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	lastTick := atomic.LoadInt64(&s.lastTickNano)

	snap := StatusSnapshot{
		Service:    "skyferry",
		RunID:      s.runID,
		NowUTC:     nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:  int64(nowUTC.Sub(start).Seconds()),
		Ticks:      atomic.LoadUint64(&s.ticks),
		LoopStatus: s.loop.Load().(LoopStatus),
	}
	if lastTick != 0 {
		snap.LastTickUTC = time.Unix(0, lastTick).UTC().Format(time.RFC3339Nano)
	}
	return snap
}

// Subscribe returns a channel of snapshots; the latest one, if any, is
// delivered immediately.
func (s *Status) Subscribe(buffer int) (int, <-chan StatusSnapshot) {
	return s.subs.subscribe(buffer)
}

func (s *Status) Unsubscribe(id int) { s.subs.unsubscribe(id) }

// Close ends every stream subscription.
func (s *Status) Close() { s.subs.close() }
