// Package geometry holds the stateless pose and angle helpers shared by the
// behaviors and the command arbiter. Everything here is a pure function.
package geometry

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// Pose is a timestamped position plus yaw (W). T is seconds; T == 0 means no
// reading has arrived yet.
type Pose struct {
	T float64 `json:"t"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

type Velocity struct {
	T float64 `json:"t"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// NormSq returns the squared magnitude.
func (v Velocity) NormSq() float64 {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

// Fix is a GPS position in degrees.
type Fix struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type Quaternion struct {
	X, Y, Z, W float64
}

// RPY is roll, pitch and yaw in radians.
type RPY struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

func RPYFromQuaternion(q Quaternion) RPY {
	sinrCosp := 2 * (q.W*q.X + q.Y*q.Z)
	cosrCosp := 1 - 2*(q.X*q.X+q.Y*q.Y)
	roll := math.Atan2(sinrCosp, cosrCosp)

	sinp := 2 * (q.W*q.Y - q.Z*q.X)
	var pitch float64
	if math.Abs(sinp) >= 1 {
		pitch = math.Copysign(math.Pi/2, sinp)
	} else {
		pitch = math.Asin(sinp)
	}

	return RPY{Roll: roll, Pitch: pitch, Yaw: YawFromQuaternion(q)}
}

// YawFromQuaternion returns yaw in [-π, π).
func YawFromQuaternion(q Quaternion) float64 {
	sinyCosp := 2 * (q.W*q.Z + q.X*q.Y)
	cosyCosp := 1 - 2*(q.Y*q.Y+q.Z*q.Z)
	yaw := math.Atan2(sinyCosp, cosyCosp)
	if yaw >= math.Pi {
		yaw -= 2 * math.Pi
	}
	return yaw
}

func QuaternionFromRPY(r RPY) Quaternion {
	cr, sr := math.Cos(r.Roll/2), math.Sin(r.Roll/2)
	cp, sp := math.Cos(r.Pitch/2), math.Sin(r.Pitch/2)
	cy, sy := math.Cos(r.Yaw/2), math.Sin(r.Yaw/2)
	return Quaternion{
		W: cr*cp*cy + sr*sp*sy,
		X: sr*cp*cy - cr*sp*sy,
		Y: cr*sp*cy + sr*cp*sy,
		Z: cr*cp*sy - sr*sp*cy,
	}
}

// RotateVector rotates (x, y) counter-clockwise by theta radians.
func RotateVector(x, y, theta float64) (float64, float64) {
	c, s := math.Cos(theta), math.Sin(theta)
	return x*c - y*s, x*s + y*c
}

// AngularDistance returns the signed shortest rotation from start to stop,
// counter-clockwise positive. The result is in (-π, π] when radians is true,
// otherwise (-180, 180]. start=170, stop=-170 (degrees) gives +20.
func AngularDistance(start, stop float64, radians bool) float64 {
	full := 360.0
	if radians {
		full = 2 * math.Pi
	}
	half := full / 2

	d := math.Mod(stop-start, full)
	if d > half {
		d -= full
	} else if d <= -half {
		d += full
	}
	return d
}

// GreatCircleDistance returns the haversine distance in meters.
func GreatCircleDistance(lat1, lon1, lat2, lon2 float64) float64 {
	return geo.DistanceHaversine(orb.Point{lon1, lat1}, orb.Point{lon2, lat2})
}

// EastNorth returns the signed east and north offsets in meters from `from`
// toward `to`, each measured along a single axis.
func EastNorth(from, to Fix) (east, north float64) {
	east = GreatCircleDistance(0, to.Lon, 0, from.Lon)
	north = GreatCircleDistance(to.Lat, 0, from.Lat, 0)
	if to.Lon < from.Lon {
		east = -east
	}
	if to.Lat < from.Lat {
		north = -north
	}
	return east, north
}

// Clip saturates x into [low, high].
func Clip(x, low, high float64) float64 {
	if x > high {
		return high
	}
	if x < low {
		return low
	}
	return x
}
