package boneik

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/boneik/spatialmath"
)

// minConeRadius keeps a cone from degenerating to a zero-measure cap, which
// would break the tangent-circle construction.
const minConeRadius = 1e-8

// limitCone is a spherical cap bounding the swing region: a unit control
// direction in the constraint frame and a half-angle radius. When the cone
// sits in a sequence it additionally caches the tangent-circle data joining
// it to the next cone, along with the two spherical triangles used by the
// containment test.
type limitCone struct {
	controlPoint r3.Vector
	radius       float64
	radiusCos    float64

	tangentCircleCenterNext1 r3.Vector
	tangentCircleCenterNext2 r3.Vector
	tangentCircleRadiusNext  float64
	tangentRadiusCos         float64

	firstTriangleNext  [3]r3.Vector
	secondTriangleNext [3]r3.Vector
}

func newLimitCone(controlPoint r3.Vector, radius float64) *limitCone {
	radius = math.Max(minConeRadius, math.Min(radius, math.Pi))
	return &limitCone{
		controlPoint: controlPoint.Normalize(),
		radius:       radius,
		radiusCos:    math.Cos(radius),
	}
}

// closestToCone reports whether the unit input direction lies within this
// cone; if not, it returns the closest point on the cone's boundary, found by
// rotating the control point toward the input by exactly the cone radius.
func (c *limitCone) closestToCone(input r3.Vector) (r3.Vector, bool) {
	if input.Dot(c.controlPoint) > c.radiusCos {
		return input, true
	}
	axis := c.controlPoint.Cross(input)
	rot := spatialmath.NewQuatFromAxisAngle(axis, c.radius)
	return spatialmath.QuatRotate(rot, c.controlPoint), false
}

// onGreatTangentTriangle checks the input against the tangent band between
// this cone and the next. If the input lies inside one of the two spherical
// triangles bounding the band, it is either accepted as in-bounds or, when it
// has strayed into the forbidden tangent circle, projected back onto the
// circle's rim; the second return reports whether the band claimed the point
// at all.
func (c *limitCone) onGreatTangentTriangle(next *limitCone, input r3.Vector) (r3.Vector, bool) {
	c1xc2 := c.controlPoint.Cross(next.controlPoint)
	if input.Dot(c1xc2) < 0 {
		c1xt1 := c.controlPoint.Cross(c.tangentCircleCenterNext1)
		t1xc2 := c.tangentCircleCenterNext1.Cross(next.controlPoint)
		if input.Dot(c1xt1) <= 0 || input.Dot(t1xc2) <= 0 {
			return r3.Vector{}, false
		}
		if input.Dot(c.tangentCircleCenterNext1) > c.tangentRadiusCos {
			planeNormal := c.tangentCircleCenterNext1.Cross(input)
			rot := spatialmath.NewQuatFromAxisAngle(planeNormal, c.tangentCircleRadiusNext)
			return spatialmath.QuatRotate(rot, c.tangentCircleCenterNext1), true
		}
		return input, true
	}

	t2xc1 := c.tangentCircleCenterNext2.Cross(c.controlPoint)
	c2xt2 := next.controlPoint.Cross(c.tangentCircleCenterNext2)
	if input.Dot(t2xc1) <= 0 || input.Dot(c2xt2) <= 0 {
		return r3.Vector{}, false
	}
	if input.Dot(c.tangentCircleCenterNext2) > c.tangentRadiusCos {
		planeNormal := c.tangentCircleCenterNext2.Cross(input)
		rot := spatialmath.NewQuatFromAxisAngle(planeNormal, c.tangentCircleRadiusNext)
		return spatialmath.QuatRotate(rot, c.tangentCircleCenterNext2), true
	}
	return input, true
}

// onPathSequence returns the point on the great-arc path between this cone's
// center and the next cone's center closest to the input, if the input falls
// within the band between them.
func (c *limitCone) onPathSequence(next *limitCone, input r3.Vector) (r3.Vector, bool) {
	c1xc2 := c.controlPoint.Cross(next.controlPoint)
	var tangentCenter r3.Vector
	if input.Dot(c1xc2) < 0 {
		c1xt1 := c.controlPoint.Cross(c.tangentCircleCenterNext1)
		t1xc2 := c.tangentCircleCenterNext1.Cross(next.controlPoint)
		if input.Dot(c1xt1) <= 0 || input.Dot(t1xc2) <= 0 {
			return r3.Vector{}, false
		}
		tangentCenter = c.tangentCircleCenterNext1
	} else {
		t2xc1 := c.tangentCircleCenterNext2.Cross(c.controlPoint)
		c2xt2 := next.controlPoint.Cross(c.tangentCircleCenterNext2)
		if input.Dot(t2xc1) <= 0 || input.Dot(c2xt2) <= 0 {
			return r3.Vector{}, false
		}
		tangentCenter = c.tangentCircleCenterNext2
	}
	ray := spatialmath.Ray{P1: tangentCenter, P2: input}
	result, ok := ray.IntersectsPlane(r3.Vector{}, c.controlPoint, next.controlPoint)
	if !ok {
		return r3.Vector{}, false
	}
	return result.Normalize(), true
}

// closestCone returns whichever of the two adjacent cone centers is nearer to
// the input.
func (c *limitCone) closestCone(next *limitCone, input r3.Vector) r3.Vector {
	if input.Dot(c.controlPoint) > input.Dot(next.controlPoint) {
		return c.controlPoint
	}
	return next.controlPoint
}

// updateTangentHandles computes the tangent-circle data joining this cone to
// the next one. The two tangent-circle centers fall out of intersecting, on
// the unit sphere, the planes through each cone's rim offset by the tangent
// radius. A trailing cone (nil next) gets placeholder orthogonal tangent
// directions so the containment test's invariants hold.
func (c *limitCone) updateTangentHandles(next *limitCone) {
	c.controlPoint = c.controlPoint.Normalize()
	if next == nil {
		c.tangentCircleCenterNext1 = spatialmath.Orthogonal(c.controlPoint).Normalize()
		c.tangentCircleCenterNext2 = c.tangentCircleCenterNext1.Mul(-1)
		c.tangentCircleRadiusNext = 0
		c.tangentRadiusCos = 1
		return
	}

	radA := c.radius
	radB := next.radius
	a := c.controlPoint
	b := next.controlPoint
	arcNormal := a.Cross(b)

	// The tangent circle's diameter equals the largest gap the two cone rims
	// can span, so its radius is half the leftover arc.
	tRadius := (math.Pi - radA - radB) / 2

	boundaryPlusTangentRadiusA := radA + tRadius
	boundaryPlusTangentRadiusB := radB + tRadius

	scaledAxisA := a.Mul(math.Cos(boundaryPlusTangentRadiusA))
	planeDir1A := spatialmath.QuatRotate(spatialmath.NewQuatFromAxisAngle(arcNormal, boundaryPlusTangentRadiusA), a)
	planeDir2A := spatialmath.QuatRotate(spatialmath.NewQuatFromAxisAngle(a, math.Pi/2), planeDir1A)

	scaledAxisB := b.Mul(math.Cos(boundaryPlusTangentRadiusB))
	planeDir1B := spatialmath.QuatRotate(spatialmath.NewQuatFromAxisAngle(arcNormal, boundaryPlusTangentRadiusB), b)
	planeDir2B := spatialmath.QuatRotate(spatialmath.NewQuatFromAxisAngle(b, math.Pi/2), planeDir1B)

	r1B := spatialmath.Ray{P1: planeDir1B, P2: scaledAxisB}
	r2B := spatialmath.Ray{P1: planeDir1B, P2: planeDir2B}

	intersection1, ok1 := r1B.IntersectsPlane(scaledAxisA, planeDir1A, planeDir2A)
	intersection2, ok2 := r2B.IntersectsPlane(scaledAxisA, planeDir1A, planeDir2A)
	if ok1 && ok2 {
		intersectionRay := spatialmath.Ray{P1: intersection1, P2: intersection2}
		s1, s2, n := intersectionRay.IntersectsSphere(1)
		if n > 0 {
			c.tangentCircleCenterNext1 = s1
			c.tangentCircleCenterNext2 = s2
		}
	}
	// The containment test picks tangent circle 1 for inputs on the negative
	// side of the A×B plane; the two centers mirror across that plane, so
	// order them to match.
	if c.tangentCircleCenterNext1.Dot(arcNormal) > 0 {
		c.tangentCircleCenterNext1, c.tangentCircleCenterNext2 = c.tangentCircleCenterNext2, c.tangentCircleCenterNext1
	}
	if c.tangentCircleCenterNext1.Norm2() < floatEpsilon {
		c.tangentCircleCenterNext1 = spatialmath.Orthogonal(c.controlPoint).Normalize()
	}
	if c.tangentCircleCenterNext2.Norm2() < floatEpsilon {
		c.tangentCircleCenterNext2 = c.tangentCircleCenterNext1.Mul(-1)
	}
	c.tangentCircleRadiusNext = tRadius
	c.tangentRadiusCos = math.Cos(tRadius)

	c.firstTriangleNext = [3]r3.Vector{
		c.controlPoint,
		c.tangentCircleCenterNext1.Normalize(),
		next.controlPoint,
	}
	c.secondTriangleNext = [3]r3.Vector{
		c.controlPoint,
		c.tangentCircleCenterNext2.Normalize(),
		next.controlPoint,
	}
}

