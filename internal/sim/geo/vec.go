package geo

import "math"

// Vec3 is a position or displacement in world units. Y is up.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vec3) Scale(s float64) Vec3 { return Vec3{v.X * s, v.Y * s, v.Z * s} }

func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

func (v Vec3) Len() float64 { return math.Sqrt(v.Dot(v)) }

func (v Vec3) LenSq() float64 { return v.Dot(v) }

func (v Vec3) Dist(o Vec3) float64 { return v.Sub(o).Len() }

func (v Vec3) DistSq(o Vec3) float64 { return v.Sub(o).LenSq() }

// Flat drops the vertical component. Waypoints and range checks work on the
// ground plane.
func (v Vec3) Flat() Vec3 { return Vec3{v.X, 0, v.Z} }

func (v Vec3) HorizDist(o Vec3) float64 { return v.Flat().Dist(o.Flat()) }

func (v Vec3) HorizDistSq(o Vec3) float64 { return v.Flat().DistSq(o.Flat()) }

// Norm returns the unit vector, or the zero vector when v is (near) zero.
func (v Vec3) Norm() Vec3 {
	l := v.Len()
	if l < 1e-9 {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

func (v Vec3) IsZero() bool { return v.X == 0 && v.Y == 0 && v.Z == 0 }

// YawTo returns the heading from v to o on the ground plane, in radians.
// Zero yaw faces +Z, positive turns toward +X.
func (v Vec3) YawTo(o Vec3) float64 {
	d := o.Sub(v)
	return math.Atan2(d.X, d.Z)
}

// Heading returns the unit forward vector on the ground plane for a yaw.
func Heading(yaw float64) Vec3 {
	return Vec3{math.Sin(yaw), 0, math.Cos(yaw)}
}

// WrapYaw normalizes an angle into (-pi, pi].
func WrapYaw(a float64) float64 {
	for a > math.Pi {
		a -= 2 * math.Pi
	}
	for a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
