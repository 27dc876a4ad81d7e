// Package telemetry keeps the latest sensor readings from the vehicle link
// and hands the control loop a consistent snapshot of them.
package telemetry

import (
	"sync"
	"time"

	"skyferry/internal/behavior"
	"skyferry/internal/geometry"
)

// DefaultSmoothing is the weight of the newest finite-difference velocity.
const DefaultSmoothing = 0.5

// Seconds converts a wall-clock time to the float seconds used by the
// behaviors.
func Seconds(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

// Ages reports how old each reading is in seconds; -1 means never received.
type Ages struct {
	Tag      float64 `json:"tag"`
	Vehicle  float64 `json:"vehicle"`
	Boat     float64 `json:"boat"`
	Attitude float64 `json:"attitude"`
}

// Store is written by the link goroutine and read by the control loop.
// Readers get the most recent value of each reading; fixes are not
// guaranteed to be from the same instant.
type Store struct {
	mu sync.RWMutex

	alpha float64

	tag     geometry.Pose
	tagVel  geometry.Velocity
	haveTag bool

	vehicle   geometry.Fix
	height    float64
	vehicleAt time.Time

	boat   geometry.Fix
	boatAt time.Time

	attitude   geometry.RPY
	attitudeAt time.Time
}

func New(smoothing float64) *Store {
	if smoothing <= 0 || smoothing > 1 {
		smoothing = DefaultSmoothing
	}
	return &Store{alpha: smoothing}
}

// SetTag records a tag pose and updates the tag velocity estimate. Poses
// with a timestamp not after the previous one only replace the pose.
func (s *Store) SetTag(p geometry.Pose) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.haveTag {
		dt := p.T - s.tag.T
		if dt > 0 {
			a := s.alpha
			s.tagVel = geometry.Velocity{
				T: p.T,
				X: a*(p.X-s.tag.X)/dt + (1-a)*s.tagVel.X,
				Y: a*(p.Y-s.tag.Y)/dt + (1-a)*s.tagVel.Y,
				Z: a*(p.Z-s.tag.Z)/dt + (1-a)*s.tagVel.Z,
			}
		}
	} else {
		s.tagVel = geometry.Velocity{T: p.T}
	}
	s.tag = p
	s.haveTag = true
}

func (s *Store) SetVehicleFix(fix geometry.Fix, height float64, at time.Time) {
	s.mu.Lock()
	s.vehicle = fix
	s.height = height
	s.vehicleAt = at
	s.mu.Unlock()
}

func (s *Store) SetBoatFix(fix geometry.Fix, at time.Time) {
	s.mu.Lock()
	s.boat = fix
	s.boatAt = at
	s.mu.Unlock()
}

func (s *Store) SetAttitude(rpy geometry.RPY, at time.Time) {
	s.mu.Lock()
	s.attitude = rpy
	s.attitudeAt = at
	s.mu.Unlock()
}

func (s *Store) Attitude() (geometry.RPY, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attitude, !s.attitudeAt.IsZero()
}

// Snapshot returns the behavior view of the latest readings at now.
func (s *Store) Snapshot(now time.Time) behavior.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return behavior.Snapshot{
		Now:     Seconds(now),
		Tag:     s.tag,
		TagVel:  s.tagVel,
		Vehicle: s.vehicle,
		Boat:    s.boat,
		Height:  s.height,
	}
}

func (s *Store) Ages(now time.Time) Ages {
	s.mu.RLock()
	defer s.mu.RUnlock()
	age := func(at time.Time) float64 {
		if at.IsZero() {
			return -1
		}
		return now.Sub(at).Seconds()
	}
	tagAge := -1.0
	if s.haveTag {
		tagAge = Seconds(now) - s.tag.T
	}
	return Ages{
		Tag:      tagAge,
		Vehicle:  age(s.vehicleAt),
		Boat:     age(s.boatAt),
		Attitude: age(s.attitudeAt),
	}
}
