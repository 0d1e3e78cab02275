// Package spatialmath defines spatial mathematical operations for rigid
// transforms, quaternions, and the weighted point-set superposition used by
// the IK solver.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a rotation followed by a translation. The zero
// value is not a valid pose; use NewZeroPose.
type Pose struct {
	Orientation quat.Number
	Point       r3.Vector
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return Pose{Orientation: quat.Number{Real: 1}}
}

// NewPose returns a pose with the given rotation and translation.
func NewPose(o quat.Number, pt r3.Vector) Pose {
	return Pose{Orientation: Normalize(o), Point: pt}
}

// NewPoseFromPoint returns a pure translation.
func NewPoseFromPoint(pt r3.Vector) Pose {
	return Pose{Orientation: quat.Number{Real: 1}, Point: pt}
}

// Compose returns the pose equivalent to applying b in a's frame, i.e.
// (a ∘ b)(x) = a(b(x)).
func Compose(a, b Pose) Pose {
	return Pose{
		Orientation: Normalize(quat.Mul(a.Orientation, b.Orientation)),
		Point:       a.Point.Add(QuatRotate(a.Orientation, b.Point)),
	}
}

// PoseInverse returns the pose q such that Compose(p, q) is the identity.
func PoseInverse(p Pose) Pose {
	inv := quat.Conj(p.Orientation)
	return Pose{
		Orientation: inv,
		Point:       QuatRotate(inv, p.Point).Mul(-1),
	}
}

// TransformPoint applies the pose to a point.
func (p Pose) TransformPoint(v r3.Vector) r3.Vector {
	return QuatRotate(p.Orientation, v).Add(p.Point)
}

// AxisX returns the pose's rotated x basis vector.
func (p Pose) AxisX() r3.Vector {
	return QuatRotate(p.Orientation, r3.Vector{X: 1})
}

// AxisY returns the pose's rotated y basis vector.
func (p Pose) AxisY() r3.Vector {
	return QuatRotate(p.Orientation, r3.Vector{Y: 1})
}

// AxisZ returns the pose's rotated z basis vector.
func (p Pose) AxisZ() r3.Vector {
	return QuatRotate(p.Orientation, r3.Vector{Z: 1})
}

// Axis returns basis vector i (0 = x, 1 = y, 2 = z).
func (p Pose) Axis(i int) r3.Vector {
	switch i {
	case 0:
		return p.AxisX()
	case 1:
		return p.AxisY()
	default:
		return p.AxisZ()
	}
}

// PoseAlmostEqual returns whether two poses are within epsilon of one another
// in both rotation (quaternion dot, sign-insensitive) and translation.
func PoseAlmostEqual(a, b Pose, epsilon float64) bool {
	dot := a.Orientation.Real*b.Orientation.Real +
		a.Orientation.Imag*b.Orientation.Imag +
		a.Orientation.Jmag*b.Orientation.Jmag +
		a.Orientation.Kmag*b.Orientation.Kmag
	if 1-math.Abs(dot) > epsilon {
		return false
	}
	return a.Point.Sub(b.Point).Norm() <= epsilon
}

// PoseIsFinite returns whether every component of the pose is a finite number.
func PoseIsFinite(p Pose) bool {
	for _, f := range []float64{
		p.Orientation.Real, p.Orientation.Imag, p.Orientation.Jmag, p.Orientation.Kmag,
		p.Point.X, p.Point.Y, p.Point.Z,
	} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
