package behavior

import (
	"skyferry/internal/command"
	"skyferry/internal/geometry"
)

// Axes holds one value per controlled axis; W is yaw.
type Axes struct {
	X, Y, Z, W float64
}

// Pose turns a goal into a pose for error computations.
func (a Axes) Pose() geometry.Pose {
	return geometry.Pose{X: a.X, Y: a.Y, Z: a.Z, W: a.W}
}

type FollowConfig struct {
	Kp, Ki, Kd Axes
	Goal       Axes
}

// LandConfig describes the landing approach. The readiness box is in the tag
// frame and is open on every side.
type LandConfig struct {
	Kp, Ki, Kd Axes
	Goal       Axes

	LowX, HighX float64
	LowY, HighY float64
	LowZ, HighZ float64

	VelThreshSqr float64
	AngleThresh  float64
}

// Ready reports whether the vehicle is placed and steady enough to land.
func (c LandConfig) Ready(tag geometry.Pose, vel geometry.Velocity) bool {
	inX := c.LowX < tag.X && tag.X < c.HighX
	inY := c.LowY < tag.Y && tag.Y < c.HighY
	inZ := c.LowZ < tag.Z && tag.Z < c.HighZ
	still := vel.NormSq() < c.VelThreshSqr
	yawErr := geometry.AngularDistance(tag.W, c.Goal.W, true)
	aligned := yawErr < c.AngleThresh && -yawErr < c.AngleThresh
	return inX && inY && inZ && still && aligned
}

type ReturnConfig struct {
	GotoHeight          float64
	FinalHeight         float64
	DownRadius          float64
	SettleRadiusSquared float64
	TagTime             float64
	TagLossThresh       float64
}

type LeaveConfig struct {
	Command command.Axis
}

type Config struct {
	Follow FollowConfig
	Land   LandConfig
	Return ReturnConfig
	Leave  LeaveConfig
}
