package boneik

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/boneik/spatialmath"
)

// Kusudama is a swing-plus-twist constraint: an ordered sequence of open
// cones describing the directions the bone may swing through, joined by
// tangent bands so adjacent cones form one smoothly connected region, plus a
// twist range about the constraint frame's Y axis. Either half may be enabled
// independently.
type Kusudama struct {
	cones []*limitCone

	minAxialAngle float64
	angularRange  float64

	orientationallyConstrained bool
	axiallyConstrained         bool

	// resistance in [0, 1] is how strongly the bone is pulled back toward
	// the interior of the allowed region between solve passes.
	resistance float64

	rotationalFreedom float64
}

// NewKusudama returns an unconstrained Kusudama: no cones, full twist range,
// both halves disabled.
func NewKusudama() *Kusudama {
	return &Kusudama{
		angularRange:      2 * math.Pi,
		rotationalFreedom: 1,
	}
}

// AddCone appends an open cone to the swing sequence. The center is
// normalized and the radius clamped to (0, π].
func (k *Kusudama) AddCone(center r3.Vector, radius float64) {
	k.cones = append(k.cones, newLimitCone(center, radius))
	k.orientationallyConstrained = true
	k.updateTangentRadii()
	k.updateRotationalFreedom()
}

// SetTwistLimits sets the twist window: minAngle is the start of the allowed
// range about the constraint Y axis and inRange its extent. The range is
// clamped to [0, 2π].
func (k *Kusudama) SetTwistLimits(minAngle, inRange float64) {
	k.minAxialAngle = spatialmath.ToTau(minAngle)
	k.angularRange = math.Max(0, math.Min(inRange, 2*math.Pi))
	k.axiallyConstrained = true
	k.updateRotationalFreedom()
}

// SetResistance sets how strongly the bone returns toward the interior of
// the allowed region, clamped to [0, 1].
func (k *Kusudama) SetResistance(resistance float64) {
	k.resistance = math.Max(0, math.Min(1, resistance))
}

// Resistance returns the configured return strength.
func (k *Kusudama) Resistance() float64 {
	return k.resistance
}

// EnableOrientationalLimits turns the swing half of the constraint on.
func (k *Kusudama) EnableOrientationalLimits() {
	k.orientationallyConstrained = true
}

// DisableOrientationalLimits turns the swing half of the constraint off.
func (k *Kusudama) DisableOrientationalLimits() {
	k.orientationallyConstrained = false
}

// EnableAxialLimits turns the twist half of the constraint on.
func (k *Kusudama) EnableAxialLimits() {
	k.axiallyConstrained = true
}

// DisableAxialLimits turns the twist half of the constraint off.
func (k *Kusudama) DisableAxialLimits() {
	k.axiallyConstrained = false
}

// RotationalFreedom approximates the fraction of orientation space the
// constraint leaves reachable, refreshed whenever the cones or twist range
// change.
func (k *Kusudama) RotationalFreedom() float64 {
	return k.rotationalFreedom
}

func (k *Kusudama) updateTangentRadii() {
	for i, cone := range k.cones {
		var next *limitCone
		if i < len(k.cones)-1 {
			next = k.cones[i+1]
		}
		cone.updateTangentHandles(next)
	}
}

func (k *Kusudama) updateRotationalFreedom() {
	axialFreedom := 1.
	if k.axiallyConstrained {
		axialFreedom = k.angularRange / (2 * math.Pi)
	}
	orientationFreedom := 1.
	if k.orientationallyConstrained && len(k.cones) > 0 {
		totalConeRatio := 0.
		for _, cone := range k.cones {
			totalConeRatio += cone.radius * 2 / (2 * math.Pi)
		}
		orientationFreedom = math.Min(totalConeRatio, 1)
	}
	k.rotationalFreedom = axialFreedom * orientationFreedom
}

// PointInLimits returns the closest in-region direction to the given unit
// direction, expressed in the constraint frame, and whether the input was
// already inside the swing region. With no cones (or the swing half
// disabled) it is the identity on its input.
func (k *Kusudama) PointInLimits(point r3.Vector) (r3.Vector, bool) {
	if !k.orientationallyConstrained || len(k.cones) == 0 {
		return point, true
	}
	point = point.Normalize()

	var closest r3.Vector
	closestCos := -2.
	haveClosest := false

	for _, cone := range k.cones {
		collision, inside := cone.closestToCone(point)
		if inside {
			return point, true
		}
		if cos := collision.Dot(point); !haveClosest || cos > closestCos {
			closest = collision
			closestCos = cos
			haveClosest = true
		}
	}
	for i := 0; i < len(k.cones)-1; i++ {
		collision, claimed := k.cones[i].onGreatTangentTriangle(k.cones[i+1], point)
		if !claimed {
			continue
		}
		cos := collision.Dot(point)
		if cos >= 1-floatEpsilon {
			return point, true
		}
		if cos > closestCos {
			closest = collision
			closestCos = cos
		}
	}
	return closest, false
}

// pointOnPathSequence returns the point, in the constraint frame, on the
// path joining the cone centers that is closest to the given direction. Used
// by the return-toward-region pull.
func (k *Kusudama) pointOnPathSequence(point r3.Vector) r3.Vector {
	point = point.Normalize()
	if len(k.cones) == 1 {
		return k.cones[0].controlPoint
	}
	closestDot := -2.
	result := point
	for i := 0; i < len(k.cones)-1; i++ {
		next := k.cones[i+1]
		pathPoint, ok := k.cones[i].onPathSequence(next, point)
		if !ok {
			pathPoint = k.cones[i].closestCone(next, point)
		}
		if d := pathPoint.Dot(point); d > closestDot {
			result = pathPoint
			closestDot = d
		}
	}
	return result
}

// SnapToOrientationLimit projects the bone's current direction back into the
// swing region. The correcting rotation is clamped to cosHalfDampen and
// applied, in the global frame, to the bone transform.
func (k *Kusudama) SnapToOrientationLimit(boneDirection, boneTransform, orientationFrame *transformNode, cosHalfDampen float64) {
	if !k.orientationallyConstrained || len(k.cones) == 0 {
		return
	}
	frame := orientationFrame.globalPose()
	globalDir := boneDirection.globalPose().AxisY()
	localDir := spatialmath.QuatRotate(quat.Conj(frame.Orientation), globalDir)

	corrected, inside := k.PointInLimits(localDir)
	if inside {
		return
	}
	correctedGlobal := spatialmath.QuatRotate(frame.Orientation, corrected)
	rectified := spatialmath.RotationBetween(globalDir, correctedGlobal)
	rectified = spatialmath.ClampToQuadranceAngle(rectified, cosHalfDampen)
	boneTransform.rotateLocalWithGlobal(rectified)
}

// boneTwist measures the bone's rotation about the twist frame's Y axis,
// mapped onto [0, 2π).
func (k *Kusudama) boneTwist(boneTransform, twistFrame *transformNode) float64 {
	alignRot := quat.Mul(quat.Conj(twistFrame.globalPose().Orientation), boneTransform.globalPose().Orientation)
	return spatialmath.ToTau(spatialmath.SignedTwistAngle(alignRot, r3.Vector{Y: 1}))
}

// SnapToTwistLimit rotates the bone about the constraint Y axis by the
// minimal angle bringing its twist back inside the allowed window, and
// returns the magnitude of the applied correction (0 when already inside).
// Snapping is idempotent: a bone sitting on an endpoint is left alone.
func (k *Kusudama) SnapToTwistLimit(boneTransform, twistFrame *transformNode) float64 {
	if !k.axiallyConstrained {
		return 0
	}
	twist := k.boneTwist(boneTransform, twistFrame)
	fromMin := spatialmath.ToTau(twist - k.minAxialAngle)
	if fromMin <= k.angularRange {
		return 0
	}

	distToMin := 2*math.Pi - fromMin
	distToMax := fromMin - k.angularRange
	var turn float64
	if distToMin < distToMax {
		turn = distToMin
	} else {
		turn = -distToMax
	}
	axis := twistFrame.globalPose().AxisY()
	boneTransform.rotateLocalWithGlobal(spatialmath.NewQuatFromAxisAngle(axis, turn))
	return math.Abs(turn)
}

// angleToTwistCenter is the signed rotation about the twist axis carrying the
// bone to the middle of the allowed twist window.
func (k *Kusudama) angleToTwistCenter(boneTransform, twistFrame *transformNode) float64 {
	if !k.axiallyConstrained {
		return 0
	}
	twist := k.boneTwist(boneTransform, twistFrame)
	center := spatialmath.ToTau(k.minAxialAngle + k.angularRange/2)
	return spatialmath.SignedAngleDifference(twist, center)
}

// setAxesToReturnfulled pulls the bone toward the interior of the allowed
// region: the swing half toward the cone-center path, the twist half toward
// the middle of the twist window, both clamped by the per-iteration return
// damp.
func (k *Kusudama) setAxesToReturnfulled(
	boneDirection, boneTransform, orientationFrame, twistFrame *transformNode,
	cosHalfReturnDamp, returnDamp float64,
) {
	if k.resistance <= 0 {
		return
	}
	if k.orientationallyConstrained && len(k.cones) > 0 {
		frame := orientationFrame.globalPose()
		globalDir := boneDirection.globalPose().AxisY()
		localDir := spatialmath.QuatRotate(quat.Conj(frame.Orientation), globalDir)
		pathPoint := k.pointOnPathSequence(localDir)
		pathGlobal := spatialmath.QuatRotate(frame.Orientation, pathPoint)
		toClamp := spatialmath.RotationBetween(globalDir, pathGlobal)
		toClamp = spatialmath.ClampToQuadranceAngle(toClamp, cosHalfReturnDamp)
		boneTransform.rotateLocalWithGlobal(toClamp)
	}
	if k.axiallyConstrained {
		toCenter := k.angleToTwistCenter(boneTransform, twistFrame)
		clamped := math.Max(-returnDamp, math.Min(returnDamp, toCenter))
		if clamped != 0 {
			axis := twistFrame.globalPose().AxisY()
			boneTransform.rotateLocalWithGlobal(spatialmath.NewQuatFromAxisAngle(axis, clamped))
		}
	}
}
