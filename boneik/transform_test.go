package boneik

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/boneik/spatialmath"
)

func TestTransformNodeComposition(t *testing.T) {
	parent := newTransformNode(nil)
	child := newTransformNode(parent)

	parent.setLocalPose(spatialmath.NewPose(
		spatialmath.NewQuatFromAxisAngle(r3.Vector{Z: 1}, math.Pi/2),
		r3.Vector{X: 1},
	))
	child.setLocalPose(spatialmath.NewPoseFromPoint(r3.Vector{Y: 1}))

	// Parent rotates π/2 about Z, so the child's +Y offset lands at -X,
	// cancelling the parent's +X translation.
	global := child.globalPose()
	test.That(t, global.Point.Norm(), test.ShouldAlmostEqual, 0, 1e-9)
	// The child's global X axis points where the parent's rotation carried it.
	test.That(t, global.AxisX().Sub(r3.Vector{Y: 1}).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestTransformNodeLazyRefresh(t *testing.T) {
	parent := newTransformNode(nil)
	child := newTransformNode(parent)
	child.setLocalPose(spatialmath.NewPoseFromPoint(r3.Vector{Y: 2}))

	first := child.globalPose()
	test.That(t, first.Point, test.ShouldResemble, r3.Vector{Y: 2})

	// Moving the parent is picked up on the next read without any explicit
	// invalidation of the child.
	parent.setLocalPose(spatialmath.NewPoseFromPoint(r3.Vector{X: 3}))
	second := child.globalPose()
	test.That(t, second.Point, test.ShouldResemble, r3.Vector{X: 3, Y: 2})
}

func TestTransformNodeDeepChainRefresh(t *testing.T) {
	root := newTransformNode(nil)
	mid := newTransformNode(root)
	leaf := newTransformNode(mid)
	mid.setLocalPose(spatialmath.NewPoseFromPoint(r3.Vector{Y: 1}))
	leaf.setLocalPose(spatialmath.NewPoseFromPoint(r3.Vector{Y: 1}))
	test.That(t, leaf.globalPose().Point, test.ShouldResemble, r3.Vector{Y: 2})

	root.setLocalPose(spatialmath.NewPose(
		spatialmath.NewQuatFromAxisAngle(r3.Vector{Z: 1}, math.Pi),
		r3.Vector{},
	))
	refreshed := leaf.globalPose()
	test.That(t, refreshed.Point.Sub(r3.Vector{Y: -2}).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestTransformNodeSetGlobalPose(t *testing.T) {
	parent := newTransformNode(nil)
	parent.setLocalPose(spatialmath.NewPose(
		spatialmath.NewQuatFromAxisAngle(r3.Vector{Y: 1}, 1.1),
		r3.Vector{X: -2, Z: 1},
	))
	child := newTransformNode(parent)

	want := spatialmath.NewPose(
		spatialmath.NewQuatFromAxisAngle(r3.Vector{X: 1}, 0.4),
		r3.Vector{X: 1, Y: 1, Z: 1},
	)
	child.setGlobalPose(want)
	test.That(t, spatialmath.PoseAlmostEqual(child.globalPose(), want, 1e-9), test.ShouldBeTrue)
}

func TestTransformNodeSetParentPreservesGlobal(t *testing.T) {
	a := newTransformNode(nil)
	a.setLocalPose(spatialmath.NewPoseFromPoint(r3.Vector{X: 5}))
	b := newTransformNode(nil)
	b.setLocalPose(spatialmath.NewPose(
		spatialmath.NewQuatFromAxisAngle(r3.Vector{Z: 1}, 0.7),
		r3.Vector{Y: 3},
	))

	node := newTransformNode(a)
	node.setLocalPose(spatialmath.NewPoseFromPoint(r3.Vector{Z: 2}))
	before := node.globalPose()

	node.setParent(b)
	after := node.globalPose()
	test.That(t, spatialmath.PoseAlmostEqual(before, after, 1e-9), test.ShouldBeTrue)
}

func TestTransformNodeRotateLocalWithGlobal(t *testing.T) {
	parent := newTransformNode(nil)
	parent.setLocalPose(spatialmath.NewPose(
		spatialmath.NewQuatFromAxisAngle(r3.Vector{X: 1}, 0.9),
		r3.Vector{Y: 1},
	))
	child := newTransformNode(parent)
	child.setLocalPose(spatialmath.NewPoseFromPoint(r3.Vector{Y: 1}))

	// Applying a global-frame rotation must rotate the node's global
	// orientation by exactly that rotation.
	rot := spatialmath.NewQuatFromAxisAngle(r3.Vector{Z: 1}, math.Pi/3)
	wantY := spatialmath.QuatRotate(rot, child.globalPose().AxisY())
	child.rotateLocalWithGlobal(rot)
	test.That(t, child.globalPose().AxisY().Sub(wantY).Norm(), test.ShouldBeLessThan, 1e-9)
}
