package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

const defaultAngleEpsilon = 1e-8

// Normalize returns the unit quaternion with the same direction as q. A
// zero-norm input maps to the identity.
func Normalize(q quat.Number) quat.Number {
	length := math.Sqrt(q.Real*q.Real + q.Imag*q.Imag + q.Jmag*q.Jmag + q.Kmag*q.Kmag)
	if length == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Number{Real: q.Real / length, Imag: q.Imag / length, Jmag: q.Jmag / length, Kmag: q.Kmag / length}
}

// Flip returns the same rotation with all signs negated.
func Flip(q quat.Number) quat.Number {
	return quat.Number{Real: -q.Real, Imag: -q.Imag, Jmag: -q.Jmag, Kmag: -q.Kmag}
}

// Canonicalize returns the representation of q with a non-negative scalar
// part.
func Canonicalize(q quat.Number) quat.Number {
	if q.Real < 0 {
		return Flip(q)
	}
	return q
}

// QuatRotate rotates vector v by unit quaternion q.
func QuatRotate(q quat.Number, v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// NewQuatFromAxisAngle returns the quaternion rotating by angle radians about
// the given axis. The axis need not be normalized; a zero axis yields the
// identity.
func NewQuatFromAxisAngle(axis r3.Vector, angle float64) quat.Number {
	norm := axis.Norm()
	if norm == 0 {
		return quat.Number{Real: 1}
	}
	axis = axis.Mul(1 / norm)
	s, c := math.Sincos(angle / 2)
	return quat.Number{Real: c, Imag: axis.X * s, Jmag: axis.Y * s, Kmag: axis.Z * s}
}

// RotationBetween returns the shortest-arc rotation carrying direction from
// onto direction to. Antiparallel inputs rotate π about an arbitrary
// perpendicular axis.
func RotationBetween(from, to r3.Vector) quat.Number {
	fromNorm := from.Norm()
	toNorm := to.Norm()
	if fromNorm == 0 || toNorm == 0 {
		return quat.Number{Real: 1}
	}
	from = from.Mul(1 / fromNorm)
	to = to.Mul(1 / toNorm)

	d := from.Dot(to)
	if d >= 1-defaultAngleEpsilon {
		return quat.Number{Real: 1}
	}
	if d <= -1+defaultAngleEpsilon {
		return NewQuatFromAxisAngle(Orthogonal(from), math.Pi)
	}
	cross := from.Cross(to)
	return Normalize(quat.Number{Real: 1 + d, Imag: cross.X, Jmag: cross.Y, Kmag: cross.Z})
}

// Orthogonal returns an arbitrary vector perpendicular to v.
func Orthogonal(v r3.Vector) r3.Vector {
	x, y, z := math.Abs(v.X), math.Abs(v.Y), math.Abs(v.Z)
	var other r3.Vector
	switch {
	case x < y && x < z:
		other = r3.Vector{X: 1}
	case y < z:
		other = r3.Vector{Y: 1}
	default:
		other = r3.Vector{Z: 1}
	}
	return v.Cross(other)
}

// ClampToQuadranceAngle limits the rotation magnitude of q so that the cosine
// of its half-angle is at least cosHalfAngle, preserving the rotation axis.
// The result is always in canonical (non-negative scalar) form.
func ClampToQuadranceAngle(q quat.Number, cosHalfAngle float64) quat.Number {
	q = Canonicalize(q)
	previousCoefficient := 1 - q.Real*q.Real
	if cosHalfAngle <= q.Real || previousCoefficient == 0 {
		return q
	}
	compositeCoefficient := math.Sqrt((1 - cosHalfAngle*cosHalfAngle) / previousCoefficient)
	return quat.Number{
		Real: cosHalfAngle,
		Imag: q.Imag * compositeCoefficient,
		Jmag: q.Jmag * compositeCoefficient,
		Kmag: q.Kmag * compositeCoefficient,
	}
}

// SwingTwist decomposes q into a twist about the given axis and the residual
// swing, such that q = Mul(swing, twist).
func SwingTwist(q quat.Number, axis r3.Vector) (swing, twist quat.Number) {
	axis = axis.Normalize()
	proj := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}.Dot(axis)
	twist = Normalize(quat.Number{Real: q.Real, Imag: axis.X * proj, Jmag: axis.Y * proj, Kmag: axis.Z * proj})
	swing = quat.Mul(q, quat.Conj(twist))
	return swing, twist
}

// SignedTwistAngle returns the signed rotation of q about the given axis in
// (−π, π], recovered by swing/twist decomposition.
func SignedTwistAngle(q quat.Number, axis r3.Vector) float64 {
	_, twist := SwingTwist(q, axis)
	twist = Canonicalize(twist)
	sin := r3.Vector{X: twist.Imag, Y: twist.Jmag, Z: twist.Kmag}.Dot(axis.Normalize())
	return 2 * math.Atan2(sin, twist.Real)
}

// ToTau maps an angle onto [0, 2π).
func ToTau(angle float64) float64 {
	result := math.Mod(angle, 2*math.Pi)
	if result < 0 {
		result += 2 * math.Pi
		// A tiny negative input rounds up to exactly 2π.
		if result >= 2*math.Pi {
			result = 0
		}
	}
	return result
}

// SignedAngleDifference returns the smallest signed angle carrying from onto
// to, in (−π, π].
func SignedAngleDifference(from, to float64) float64 {
	d := math.Mod(to-from, 2*math.Pi)
	switch {
	case d > math.Pi:
		d -= 2 * math.Pi
	case d <= -math.Pi:
		d += 2 * math.Pi
	}
	return d
}
