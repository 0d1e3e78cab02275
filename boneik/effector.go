package boneik

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/boneik/spatialmath"
)

// GoalSource supplies an effector's goal pose, in the skeleton's local frame,
// for the current frame. It is called once per Solve.
type GoalSource func() spatialmath.Pose

// effector tags a bone as a goal. Besides the goal pose it carries the
// weighting knobs that shape the heading rows it contributes to the QCP
// point sets: a scalar weight, per-axis direction priorities, and the
// passthrough factor that scales its influence on ancestor segments.
type effector struct {
	forBone *bone
	goal    GoalSource

	// targetGlobal is the goal pose in the skeleton's local frame, refreshed
	// at the start of each frame.
	targetGlobal spatialmath.Pose

	weight              float64
	directionPriorities r3.Vector
	passthroughFactor   float64
}

func newEffector(forBone *bone, goal GoalSource) *effector {
	return &effector{
		forBone:      forBone,
		goal:         goal,
		targetGlobal: forBone.boneDirectionGlobalPose(),
		weight:       1,
	}
}

// updateTargetGlobal pulls the goal pose for this frame. A nil goal source
// leaves the previous target in place.
func (e *effector) updateTargetGlobal() {
	if e.goal == nil {
		return
	}
	pose := e.goal()
	if spatialmath.PoseIsFinite(pose) {
		e.targetGlobal = pose
	}
}

func (e *effector) priority(axis int) float64 {
	switch axis {
	case 0:
		return e.directionPriorities.X
	case 1:
		return e.directionPriorities.Y
	default:
		return e.directionPriorities.Z
	}
}

// headingCount is the number of rows this effector contributes: one position
// heading plus a +/- pair per prioritized axis.
func (e *effector) headingCount() int {
	n := 1
	for axis := 0; axis < 3; axis++ {
		if e.priority(axis) > 0 {
			n += 2
		}
	}
	return n
}

// updateTargetHeadings writes this effector's target rows starting at index,
// relative to the solved bone's direction-frame origin, and returns the next
// free index. Axis rows are scaled by their heading weight.
func (e *effector) updateTargetHeadings(forBone *bone, headings []r3.Vector, weights []float64, index int) int {
	boneOrigin := forBone.boneDirectionGlobalPose().Point
	headings[index] = e.targetGlobal.Point.Sub(boneOrigin)
	index++
	for axis := 0; axis < 3; axis++ {
		p := e.priority(axis)
		if p <= 0 {
			continue
		}
		w := weights[index]
		column := e.targetGlobal.Axis(axis).Mul(p)
		headings[index] = column.Add(e.targetGlobal.Point).Sub(boneOrigin).Mul(w)
		index++
		headings[index] = e.targetGlobal.Point.Sub(column).Sub(boneOrigin).Mul(w)
		index++
	}
	return index
}

// updateTipHeadings writes the matching rows measured from the effector
// bone's current pose. Axis rows are scaled by the clamped distance to the
// goal so the superposition balances reaching against aligning.
func (e *effector) updateTipHeadings(forBone *bone, headings []r3.Vector, index int) int {
	tipPose := e.forBone.boneDirectionGlobalPose()
	boneOrigin := forBone.boneDirectionGlobalPose().Point
	headings[index] = tipPose.Point.Sub(boneOrigin)
	index++
	scaleBy := math.Min(e.targetGlobal.Point.Sub(boneOrigin).Norm(), 1)
	for axis := 0; axis < 3; axis++ {
		p := e.priority(axis)
		if p <= 0 {
			continue
		}
		column := tipPose.Axis(axis).Mul(p)
		headings[index] = column.Add(tipPose.Point).Sub(boneOrigin).Mul(scaleBy)
		index++
		headings[index] = tipPose.Point.Sub(column).Sub(boneOrigin).Mul(scaleBy)
		index++
	}
	return index
}
