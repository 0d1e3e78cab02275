// Package boneik is an inverse-kinematics library for articulated skeletons.
// It segments a skeleton into chains rooted at its parentless bones, then
// iteratively aligns each chain's effector bones with world-space goals using
// QCP weighted superposition, subject to per-bone swing/twist (Kusudama)
// constraints.
package boneik

import (
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/boneik/spatialmath"
)

// transformNode is one coordinate frame in the solver's shadow tree: a local
// pose relative to an optional parent plus a lazily refreshed global cache.
// The cache is validated on read by comparing the parent's current global
// pose against the one captured when the cache was built, so a mutation
// anywhere up the chain is picked up without a subscriber registry.
type transformNode struct {
	parent *transformNode
	local  spatialmath.Pose
	global spatialmath.Pose

	// parentStamp is the parent global pose this node's cache was composed
	// against; a mismatch on read means an ancestor moved.
	parentStamp spatialmath.Pose
	dirty       bool
}

func newTransformNode(parent *transformNode) *transformNode {
	return &transformNode{
		parent: parent,
		local:  spatialmath.NewZeroPose(),
		dirty:  true,
	}
}

func (t *transformNode) localPose() spatialmath.Pose {
	return t.local
}

func (t *transformNode) setLocalPose(p spatialmath.Pose) {
	t.local = p
	t.dirty = true
}

// globalPose refreshes and returns the node's global pose. A detached node
// uses its local pose as its global.
func (t *transformNode) globalPose() spatialmath.Pose {
	if t.parent == nil {
		if t.dirty {
			t.global = t.local
			t.dirty = false
		}
		return t.global
	}
	parentGlobal := t.parent.globalPose()
	if t.dirty || parentGlobal != t.parentStamp {
		t.global = spatialmath.Compose(parentGlobal, t.local)
		t.parentStamp = parentGlobal
		t.dirty = false
	}
	return t.global
}

// setGlobalPose recomputes the local pose so that the node's global pose
// equals p.
func (t *transformNode) setGlobalPose(p spatialmath.Pose) {
	if t.parent == nil {
		t.local = p
	} else {
		t.local = spatialmath.Compose(spatialmath.PoseInverse(t.parent.globalPose()), p)
	}
	t.dirty = true
}

// setParent re-parents the node, preserving its current global pose.
func (t *transformNode) setParent(parent *transformNode) {
	global := t.globalPose()
	t.parent = parent
	t.setGlobalPose(global)
}

// rotateLocalWithGlobal applies a rotation expressed in the global frame to
// the node's local transform.
func (t *transformNode) rotateLocalWithGlobal(q quat.Number) {
	if t.parent == nil {
		t.local.Orientation = spatialmath.Normalize(quat.Mul(q, t.local.Orientation))
	} else {
		parentOrientation := t.parent.globalPose().Orientation
		localized := quat.Mul(quat.Mul(quat.Conj(parentOrientation), q), parentOrientation)
		t.local.Orientation = spatialmath.Normalize(quat.Mul(localized, t.local.Orientation))
	}
	t.dirty = true
}
