package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
)

// Ray is the line through two points, used by the constraint tangent-circle
// construction. Intersection queries treat it as infinite in both directions.
type Ray struct {
	P1, P2 r3.Vector
}

// Heading returns the direction from P1 to P2.
func (r Ray) Heading() r3.Vector {
	return r.P2.Sub(r.P1)
}

// IntersectsPlane intersects the ray with the plane through ta, tb, and tc.
// It reports false when the ray is parallel to the plane.
func (r Ray) IntersectsPlane(ta, tb, tc r3.Vector) (r3.Vector, bool) {
	u := tb.Sub(ta)
	v := tc.Sub(ta)
	n := u.Cross(v)
	dir := r.Heading()
	b := n.Dot(dir)
	if b == 0 {
		return r3.Vector{}, false
	}
	w0 := r.P1.Sub(ta)
	t := -n.Dot(w0) / b
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return r3.Vector{}, false
	}
	return r.P1.Add(dir.Mul(t)), true
}

// IntersectsSphere intersects the ray with a sphere of the given radius
// centered at the origin. It returns the two intersection points ordered
// along the ray heading and the number of intersections (0 or 2; tangency
// counts as 2 coincident points).
func (r Ray) IntersectsSphere(radius float64) (s1, s2 r3.Vector, n int) {
	e := r.Heading()
	norm := e.Norm()
	if norm == 0 {
		return r3.Vector{}, r3.Vector{}, 0
	}
	e = e.Mul(1 / norm)
	h := r.P1.Mul(-1)
	lf := e.Dot(h)
	s := radius*radius - h.Norm2() + lf*lf
	if s < 0 {
		return r3.Vector{}, r3.Vector{}, 0
	}
	s = math.Sqrt(s)
	s1 = r.P1.Add(e.Mul(lf - s))
	s2 = r.P1.Add(e.Mul(lf + s))
	return s1, s2, 2
}
