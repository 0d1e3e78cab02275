package boneik

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/boneik/spatialmath"
)

// returnDampFalloff shapes how quickly the per-iteration return clamp decays
// over the outer iteration schedule.
const returnDampFalloff = 0.2

const floatEpsilon = 1e-12

// bone is one joint in the solver's shadow copy of the skeleton. It owns the
// transform chain used during solving: the skeleton-aligned transform being
// updated, a bone-direction frame whose Y axis points at the child centroid,
// and the two constraint frames anchored to the parent's aligned transform.
type bone struct {
	id       int
	name     string
	parent   *bone
	children []*bone

	aligned               *transformNode
	boneDirection         *transformNode
	constraintOrientation *transformNode
	constraintTwist       *transformNode

	constraint *Kusudama
	effector   *effector

	defaultDamp   float64
	dampening     float64
	cosHalfDampen float64
	stiffness     float64

	// Per-outer-iteration clamps for the pull back toward the constraint
	// interior, sized to the iteration schedule at rebuild.
	halfReturnDampened    []float64
	cosHalfReturnDampened []float64
}

func newBone(id int, name string, parent *bone, defaultDamp float64) *bone {
	b := &bone{
		id:          id,
		name:        name,
		defaultDamp: defaultDamp,
	}
	b.aligned = newTransformNode(nil)
	b.boneDirection = newTransformNode(b.aligned)
	b.constraintOrientation = newTransformNode(nil)
	b.constraintTwist = newTransformNode(nil)
	if parent != nil {
		b.setParent(parent)
	}
	b.dampening = defaultDamp
	if parent == nil {
		b.dampening = math.Pi
	}
	b.cosHalfDampen = math.Cos(b.dampening / 2)
	return b
}

func (b *bone) setParent(parent *bone) {
	b.parent = parent
	parent.children = append(parent.children, b)
	b.aligned.setParent(parent.aligned)
	b.constraintOrientation.setParent(parent.aligned)
	b.constraintTwist.setParent(parent.aligned)
}

func (b *bone) isPinned() bool {
	return b.effector != nil
}

func (b *bone) isOrientationallyConstrained() bool {
	return b.constraint != nil && b.constraint.orientationallyConstrained
}

func (b *bone) isAxiallyConstrained() bool {
	return b.constraint != nil && b.constraint.axiallyConstrained
}

// pose is the bone's local transform relative to its parent bone.
func (b *bone) pose() spatialmath.Pose {
	return b.aligned.localPose()
}

func (b *bone) setPose(p spatialmath.Pose) {
	b.aligned.setLocalPose(p)
}

func (b *bone) globalPose() spatialmath.Pose {
	return b.aligned.globalPose()
}

// setGlobalPose moves the aligned transform and keeps the orientation
// constraint frame's origin riding along with it.
func (b *bone) setGlobalPose(p spatialmath.Pose) {
	b.aligned.setGlobalPose(p)
	frame := b.constraintOrientation.localPose()
	frame.Point = b.aligned.localPose().Point
	b.constraintOrientation.setLocalPose(frame)
}

func (b *bone) boneDirectionGlobalPose() spatialmath.Pose {
	return b.boneDirection.globalPose()
}

// alignBoneDirection orients the bone-direction frame so its Y axis points
// at the centroid of the bone's children. Leaf bones fall back to the
// external skeleton's children (bones the shadow tree did not materialize).
// Bones with no children in either keep their current direction; a bone
// whose child centroid coincides with its own origin takes the parent's
// direction.
func (b *bone) alignBoneDirection(skeletonChildren []int, restGlobalOrigin func(id int) r3.Vector) {
	var centroid r3.Vector
	childCount := 0

	for _, child := range b.children {
		centroid = centroid.Add(child.aligned.globalPose().Point)
		childCount++
	}
	if childCount == 0 {
		for _, childID := range skeletonChildren {
			centroid = centroid.Add(restGlobalOrigin(childID))
			childCount++
		}
	}
	if childCount == 0 {
		return
	}
	centroid = centroid.Mul(1 / float64(childCount))
	centroid = centroid.Sub(b.aligned.globalPose().Point)

	if centroid.Norm2() < floatEpsilon {
		if b.parent != nil {
			centroid = b.parent.boneDirection.globalPose().AxisY()
		} else {
			centroid = b.boneDirection.globalPose().AxisY()
		}
	}
	if centroid.Norm2() < floatEpsilon {
		return
	}
	forward := b.boneDirection.globalPose().AxisY()
	b.boneDirection.rotateLocalWithGlobal(spatialmath.RotationBetween(forward, centroid))
}

// parentAlignedPose is the parent's aligned global pose re-originated at this
// bone's direction frame.
func (b *bone) parentAlignedPose() spatialmath.Pose {
	if b.parent == nil {
		return spatialmath.NewZeroPose()
	}
	p := b.parent.aligned.globalPose()
	p.Point = b.boneDirection.globalPose().Point
	return p
}

// alignConstraintFrames anchors the orientation and twist frames to the
// parent-aligned pose and points the twist frame's Y axis at the
// radius-weighted mean of the constraint's cone centers (or at the bone
// direction when the constraint has no cones).
func (b *bone) alignConstraintFrames() {
	if b.parent != nil {
		b.constraintOrientation.setGlobalPose(b.parentAlignedPose())
	}
	twistPose := b.constraintOrientation.globalPose()
	b.constraintTwist.setGlobalPose(twistPose)

	if b.constraint == nil {
		return
	}

	var direction r3.Vector
	if len(b.constraint.cones) == 0 {
		direction = b.boneDirection.globalPose().AxisY()
	} else {
		totalRadius := 0.
		for _, cone := range b.constraint.cones {
			totalRadius += cone.radius
		}
		for _, cone := range b.constraint.cones {
			direction = direction.Add(cone.controlPoint.Mul(cone.radius / totalRadius))
		}
		direction = direction.Normalize()
		direction = spatialmath.QuatRotate(b.constraintOrientation.globalPose().Orientation, direction)
	}

	twistAxis := twistPose.AxisY()
	b.constraintTwist.rotateLocalWithGlobal(spatialmath.RotationBetween(twistAxis, direction))
}

// computeReturnDampTables sizes the per-iteration return clamps to the outer
// iteration count. Early iterations allow a larger pull toward the constraint
// interior; the clamp decays over the schedule and is smallest, though not
// zero, at the final iteration.
func (b *bone) computeReturnDampTables(iterations int) {
	b.halfReturnDampened = make([]float64, iterations)
	b.cosHalfReturnDampened = make([]float64, iterations)

	returnfulness := 0.
	if b.constraint != nil {
		returnfulness = b.constraint.resistance
	}
	predamp := 1 - b.stiffness
	dampening := b.dampening
	if b.parent != nil {
		dampening = predamp * b.defaultDamp
	}
	iterationsPow := math.Pow(float64(iterations), returnDampFalloff*float64(iterations)*returnfulness)
	for i := 0; i < iterations; i++ {
		iterationScalar := (iterationsPow - math.Pow(float64(i), returnDampFalloff*float64(iterations)*returnfulness)) / iterationsPow
		returnClamp := iterationScalar * returnfulness * dampening
		b.halfReturnDampened[i] = returnClamp
		b.cosHalfReturnDampened[i] = math.Cos(returnClamp / 2)
	}
}
