package boneik

import (
	"math"

	"github.com/golang/geo/r3"

	"go.viam.com/boneik/spatialmath"
)

// deviationSlack tolerates float noise in the stabilization gate: a pass is
// accepted if it did not make the tracked deviation meaningfully worse.
const deviationSlack = 1.0001

// segment is a chain of bones from a root bone down to a tip that is either
// an effector or a branching point with two or more effector-bearing
// subtrees. It owns the per-frame QCP + constraint loop for its bones and
// the heading buffers shared by them.
type segment struct {
	rootBone *bone
	tipBone  *bone

	// bones holds the segment's own bones ordered tip to root, the order
	// they are solved in.
	bones []*bone

	parentSegment *segment
	childSegments []*segment

	// effectors lists every effector whose influence reaches this segment:
	// the tip's own, then descendants whose cumulative passthrough is
	// positive, in segment-tree preorder. The heading buffers are laid out
	// in the same order.
	effectors []*effector

	targetHeadings     []r3.Vector
	tipHeadings        []r3.Vector
	tipHeadingsUniform []r3.Vector
	headingWeights     []float64

	stabilizingPassCount int
	previousDeviation    float64
	lastRMSD             float64
}

func (sg *segment) isPinned() bool {
	return sg.tipBone != nil && sg.tipBone.isPinned()
}

// buildEffectorList fills the effector list for this segment and,
// recursively, its children. The tip's own effector comes first; child
// segments contribute theirs only when the tip's passthrough lets influence
// propagate upward.
func (sg *segment) buildEffectorList() {
	for _, child := range sg.childSegments {
		child.buildEffectorList()
	}
	sg.effectors = sg.effectors[:0]
	passthrough := 1.
	if sg.isPinned() {
		sg.effectors = append(sg.effectors, sg.tipBone.effector)
		passthrough = sg.tipBone.effector.passthroughFactor
	}
	if passthrough > 0 {
		for _, child := range sg.childSegments {
			sg.effectors = append(sg.effectors, child.effectors...)
		}
	}
}

// createHeadingArrays sizes the heading buffers once per rebuild: each
// effector contributes one position row plus a +/- pair per prioritized
// axis, weighted by its weight, the axis priority relative to the largest
// one, and the cumulative passthrough falloff down the segment tree.
func (sg *segment) createHeadingArrays() {
	var weightGroups [][]float64
	appendPenaltyWeights(sg, &weightGroups, 1)

	total := 0
	for _, group := range weightGroups {
		total += len(group)
	}
	sg.targetHeadings = make([]r3.Vector, total)
	sg.tipHeadings = make([]r3.Vector, total)
	sg.tipHeadingsUniform = make([]r3.Vector, total)
	sg.headingWeights = make([]float64, 0, total)
	for _, group := range weightGroups {
		sg.headingWeights = append(sg.headingWeights, group...)
	}
}

func appendPenaltyWeights(sg *segment, out *[][]float64, falloff float64) {
	if falloff <= 0 {
		return
	}
	currentFalloff := 1.
	if sg.isPinned() {
		pin := sg.tipBone.effector
		group := []float64{pin.weight * falloff}

		maxPinWeight := math.Max(pin.directionPriorities.X, math.Max(pin.directionPriorities.Y, pin.directionPriorities.Z))
		if maxPinWeight == 0 {
			maxPinWeight = 1
		}
		for axis := 0; axis < 3; axis++ {
			priority := pin.priority(axis)
			if priority > 0 {
				subTargetWeight := pin.weight * (priority / maxPinWeight) * falloff
				group = append(group, subTargetWeight, subTargetWeight)
			}
		}
		*out = append(*out, group)
		currentFalloff = pin.passthroughFactor
	}
	for _, child := range sg.childSegments {
		appendPenaltyWeights(child, out, falloff*currentFalloff)
	}
}

func (sg *segment) updateTargetHeadings(forBone *bone) {
	index := 0
	for _, e := range sg.effectors {
		index = e.updateTargetHeadings(forBone, sg.targetHeadings, sg.headingWeights, index)
	}
}

func (sg *segment) updateTipHeadings(forBone *bone, headings []r3.Vector) {
	index := 0
	for _, e := range sg.effectors {
		index = e.updateTipHeadings(forBone, headings, index)
	}
}

// manualMSD is the weighted squared deviation between two heading sets,
// Σ wᵢ‖dᵢ‖² divided by the squared total weight (Σw)², used by the
// stabilization gate and the RMSD diagnostic.
func manualMSD(tips, targets []r3.Vector, weights []float64) float64 {
	var msd, wSum float64
	for i := range targets {
		d := targets[i].Sub(tips[i])
		msd += weights[i] * d.Norm2()
		wSum += weights[i]
	}
	if wSum == 0 {
		return 0
	}
	return msd / (wSum * wSum)
}

// segmentSolver runs one outer iteration over this segment, children first.
// The root segment solves with unconstrained damping and is the only one
// allowed to translate.
func (sg *segment) segmentSolver(st *frameState) {
	for _, child := range sg.childSegments {
		child.segmentSolver(st)
	}
	isRoot := sg.parentSegment == nil
	defaultDamp := st.defaultDamp
	if isRoot {
		defaultDamp = math.Pi
	}
	for _, b := range sg.bones {
		damp := defaultDamp
		if !isRoot {
			if override, ok := st.boneDamps[b.id]; ok && override < damp {
				damp = override
			}
		}
		sg.updateOptimalRotation(b, damp, isRoot, st)
	}
}

// updateOptimalRotation runs the stabilization loop for one bone: an
// optional pull back toward the constraint interior, the QCP rotation
// (damped), the constraint snaps, and, when stabilization passes are
// enabled, the got-closer gate that reverts a pass that increased the
// tracked deviation.
func (sg *segment) updateOptimalRotation(b *bone, damp float64, translate bool, st *frameState) {
	cosHalfDamp := math.Cos(damp / 2)

	for attempt := 0; attempt <= sg.stabilizingPassCount; attempt++ {
		prevPose := b.pose()

		if !st.constraintMode && b.parent != nil && b.constraint != nil && b.constraint.resistance > 0 &&
			len(b.cosHalfReturnDampened) > 0 {
			idx := st.iteration
			if idx >= len(b.cosHalfReturnDampened) {
				idx = len(b.cosHalfReturnDampened) - 1
			}
			b.constraint.setAxesToReturnfulled(
				b.boneDirection, b.aligned, b.constraintOrientation, b.constraintTwist,
				b.cosHalfReturnDampened[idx], b.halfReturnDampened[idx],
			)
		}

		sg.updateTargetHeadings(b)
		sg.updateTipHeadings(b, sg.tipHeadings)

		if !st.constraintMode {
			result, err := st.qcp.WeightedSuperpose(sg.tipHeadings, sg.targetHeadings, sg.headingWeights, translate)
			if err != nil {
				// The result is the identity either way; a degenerate eigen
				// solve is worth one warning per solve, bad input is not.
				st.noteSuperposeError(err)
			}
			rotation := spatialmath.ClampToQuadranceAngle(result.Rotation, cosHalfDamp)
			b.aligned.rotateLocalWithGlobal(rotation)
			if translate {
				globalPose := b.globalPose()
				globalPose.Point = globalPose.Point.Add(result.Translation)
				b.setGlobalPose(globalPose)
			}
		}

		if b.parent != nil && b.isOrientationallyConstrained() {
			b.constraint.SnapToOrientationLimit(b.boneDirection, b.aligned, b.constraintOrientation, b.cosHalfDampen)
		}
		if b.parent != nil && b.isAxiallyConstrained() {
			b.constraint.SnapToTwistLimit(b.aligned, b.constraintTwist)
		}

		if sg.stabilizingPassCount == 0 {
			break
		}
		sg.updateTipHeadings(b, sg.tipHeadingsUniform)
		msd := manualMSD(sg.tipHeadingsUniform, sg.targetHeadings, sg.headingWeights)
		if msd <= sg.previousDeviation*deviationSlack {
			sg.previousDeviation = msd
			break
		}
		b.setPose(prevPose)
	}

	if b == sg.rootBone {
		sg.previousDeviation = math.Inf(1)
	}
}

// updateLastRMSD records the segment's residual deviation at its tip for the
// diagnostic surface, then recurses into children.
func (sg *segment) updateLastRMSD() {
	if len(sg.effectors) > 0 {
		sg.updateTargetHeadings(sg.tipBone)
		sg.updateTipHeadings(sg.tipBone, sg.tipHeadingsUniform)
		sg.lastRMSD = manualMSD(sg.tipHeadingsUniform, sg.targetHeadings, sg.headingWeights)
	}
	for _, child := range sg.childSegments {
		child.updateLastRMSD()
	}
}
