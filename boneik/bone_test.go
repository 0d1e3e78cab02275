package boneik

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/boneik/spatialmath"
)

func TestAlignBoneDirection(t *testing.T) {
	root := newBone(0, "root", nil, defaultDamp)
	child := newBone(1, "child", root, defaultDamp)
	child.setPose(spatialmath.NewPoseFromPoint(r3.Vector{X: 1}))

	root.alignBoneDirection(nil, nil)
	forward := root.boneDirection.globalPose().AxisY()
	test.That(t, forward.Sub(r3.Vector{X: 1}).Norm(), test.ShouldBeLessThan, 1e-9)

	// A leaf bone falls back to the skeleton children it has no shadow
	// bones for.
	child.alignBoneDirection([]int{7}, func(int) r3.Vector { return r3.Vector{X: 1, Y: 1} })
	leafForward := child.boneDirection.globalPose().AxisY()
	test.That(t, leafForward.Sub(r3.Vector{Y: 1}).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestReturnDampTables(t *testing.T) {
	root := newBone(0, "root", nil, defaultDamp)
	b := newBone(1, "b", root, defaultDamp)

	// Without a constraint there is nothing to return toward.
	b.computeReturnDampTables(10)
	for _, v := range b.halfReturnDampened {
		test.That(t, v, test.ShouldEqual, 0.)
	}
	for _, v := range b.cosHalfReturnDampened {
		test.That(t, v, test.ShouldEqual, 1.)
	}

	b.constraint = NewKusudama()
	b.constraint.SetResistance(0.6)
	b.computeReturnDampTables(10)
	test.That(t, b.halfReturnDampened, test.ShouldHaveLength, 10)
	// The pull budget decays over the iteration schedule.
	test.That(t, b.halfReturnDampened[0], test.ShouldBeGreaterThan, b.halfReturnDampened[9])
	test.That(t, b.halfReturnDampened[9], test.ShouldBeGreaterThanOrEqualTo, 0.)
	for i, half := range b.halfReturnDampened {
		test.That(t, b.cosHalfReturnDampened[i], test.ShouldAlmostEqual, math.Cos(half/2), 1e-12)
	}
}

func TestEffectorHeadingCount(t *testing.T) {
	root := newBone(0, "root", nil, defaultDamp)
	e := newEffector(root, nil)
	test.That(t, e.headingCount(), test.ShouldEqual, 1)
	e.directionPriorities = r3.Vector{X: 1, Z: 0.5}
	test.That(t, e.headingCount(), test.ShouldEqual, 5)
	e.directionPriorities = r3.Vector{X: 1, Y: 1, Z: 1}
	test.That(t, e.headingCount(), test.ShouldEqual, 7)
}

func TestEffectorHeadings(t *testing.T) {
	root := newBone(0, "root", nil, defaultDamp)
	tip := newBone(1, "tip", root, defaultDamp)
	tip.setPose(spatialmath.NewPoseFromPoint(r3.Vector{Y: 1}))

	e := newEffector(tip, nil)
	e.weight = 1
	e.targetGlobal = spatialmath.NewPoseFromPoint(r3.Vector{X: 2, Y: 1})

	headings := make([]r3.Vector, 1)
	weights := []float64{1}
	next := e.updateTargetHeadings(root, headings, weights, 0)
	test.That(t, next, test.ShouldEqual, 1)
	// Goal position relative to the solved bone's origin.
	test.That(t, headings[0].Sub(r3.Vector{X: 2, Y: 1}).Norm(), test.ShouldBeLessThan, 1e-9)

	next = e.updateTipHeadings(root, headings, 0)
	test.That(t, next, test.ShouldEqual, 1)
	test.That(t, headings[0].Sub(r3.Vector{Y: 1}).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestEffectorAxisHeadingScale(t *testing.T) {
	root := newBone(0, "root", nil, defaultDamp)
	tip := newBone(1, "tip", root, defaultDamp)
	tip.setPose(spatialmath.NewPoseFromPoint(r3.Vector{Y: 1}))

	e := newEffector(tip, nil)
	e.weight = 1
	e.directionPriorities = r3.Vector{X: 1}
	// A goal within one unit scales the axis rows by the actual distance so
	// near goals favor position over orientation.
	e.targetGlobal = spatialmath.NewPoseFromPoint(r3.Vector{Y: 0.5})

	headings := make([]r3.Vector, 3)
	e.updateTipHeadings(root, headings, 0)
	scaleBy := 0.5
	wantPlus := r3.Vector{X: 1, Y: 1}.Mul(scaleBy)
	test.That(t, headings[1].Sub(wantPlus).Norm(), test.ShouldBeLessThan, 1e-9)
	wantMinus := r3.Vector{X: -1, Y: 1}.Mul(scaleBy)
	test.That(t, headings[2].Sub(wantMinus).Norm(), test.ShouldBeLessThan, 1e-9)
}
