package boneik

import (
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/boneik/skeleton"
	"go.viam.com/boneik/spatialmath"
)

// humanoidUpperBody is a skeleton with two effector-bearing arms plus two
// chains with no effectors at all.
func humanoidUpperBody(t *testing.T) *skeleton.SimpleSkeleton {
	t.Helper()
	skel, err := skeleton.New([]skeleton.BoneDefinition{
		{Name: "root"},
		{Name: "chest", Parent: "root", LocalPose: spatialmath.NewPoseFromPoint(r3.Vector{Y: 1})},
		{Name: "lShoulder", Parent: "chest", LocalPose: spatialmath.NewPoseFromPoint(r3.Vector{X: -1, Y: 0.5})},
		{Name: "lHand", Parent: "lShoulder", LocalPose: spatialmath.NewPoseFromPoint(r3.Vector{X: -1})},
		{Name: "rShoulder", Parent: "chest", LocalPose: spatialmath.NewPoseFromPoint(r3.Vector{X: 1, Y: 0.5})},
		{Name: "rHand", Parent: "rShoulder", LocalPose: spatialmath.NewPoseFromPoint(r3.Vector{X: 1})},
		{Name: "head", Parent: "chest", LocalPose: spatialmath.NewPoseFromPoint(r3.Vector{Y: 1})},
		{Name: "leg", Parent: "root", LocalPose: spatialmath.NewPoseFromPoint(r3.Vector{Y: -1})},
	})
	test.That(t, err, test.ShouldBeNil)
	return skel
}

func TestSegmentationCoverage(t *testing.T) {
	logger := golog.NewTestLogger(t)
	skel := humanoidUpperBody(t)
	s, err := NewSolver(skel, logger, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.AddEffector(EffectorConfig{BoneName: "lHand", Weight: 1}, nil), test.ShouldBeNil)
	test.That(t, s.AddEffector(EffectorConfig{BoneName: "rHand", Weight: 1}, nil), test.ShouldBeNil)
	s.rebuild()

	// Exactly the effector bones and their ancestors are materialized.
	want := []string{"root", "chest", "lShoulder", "lHand", "rShoulder", "rHand"}
	test.That(t, len(s.boneMap), test.ShouldEqual, len(want))
	for _, name := range want {
		test.That(t, s.boneMap[skel.FindBone(name)], test.ShouldNotBeNil)
	}
	test.That(t, s.boneMap[skel.FindBone("head")], test.ShouldBeNil)
	test.That(t, s.boneMap[skel.FindBone("leg")], test.ShouldBeNil)

	// One root segment ending at the branch, with one child chain per arm.
	test.That(t, s.segments, test.ShouldHaveLength, 1)
	root := s.segments[0]
	test.That(t, root.rootBone.name, test.ShouldEqual, "root")
	test.That(t, root.tipBone.name, test.ShouldEqual, "chest")
	test.That(t, root.childSegments, test.ShouldHaveLength, 2)
	for _, child := range root.childSegments {
		test.That(t, child.bones, test.ShouldHaveLength, 2)
		test.That(t, child.isPinned(), test.ShouldBeTrue)
	}
}

func TestSegmentationEffectorSplitsChain(t *testing.T) {
	logger := golog.NewTestLogger(t)
	skel, err := skeleton.New([]skeleton.BoneDefinition{
		{Name: "a"},
		{Name: "b", Parent: "a", LocalPose: spatialmath.NewPoseFromPoint(r3.Vector{Y: 1})},
		{Name: "c", Parent: "b", LocalPose: spatialmath.NewPoseFromPoint(r3.Vector{Y: 1})},
	})
	test.That(t, err, test.ShouldBeNil)
	s, err := NewSolver(skel, logger, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.AddEffector(EffectorConfig{BoneName: "b", Weight: 1}, nil), test.ShouldBeNil)
	test.That(t, s.AddEffector(EffectorConfig{BoneName: "c", Weight: 1}, nil), test.ShouldBeNil)
	s.rebuild()

	// The mid-chain effector ends the first segment.
	test.That(t, s.segments, test.ShouldHaveLength, 1)
	root := s.segments[0]
	test.That(t, root.tipBone.name, test.ShouldEqual, "b")
	test.That(t, root.childSegments, test.ShouldHaveLength, 1)
	test.That(t, root.childSegments[0].rootBone.name, test.ShouldEqual, "c")
	test.That(t, root.childSegments[0].tipBone.name, test.ShouldEqual, "c")
}

func TestEffectorListPassthrough(t *testing.T) {
	logger := golog.NewTestLogger(t)
	build := func(passthrough float64) *segment {
		skel, err := skeleton.New([]skeleton.BoneDefinition{
			{Name: "a"},
			{Name: "b", Parent: "a", LocalPose: spatialmath.NewPoseFromPoint(r3.Vector{Y: 1})},
			{Name: "c", Parent: "b", LocalPose: spatialmath.NewPoseFromPoint(r3.Vector{Y: 1})},
		})
		test.That(t, err, test.ShouldBeNil)
		s, err := NewSolver(skel, logger, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, s.AddEffector(EffectorConfig{BoneName: "b", Weight: 1, PassthroughFactor: passthrough}, nil), test.ShouldBeNil)
		test.That(t, s.AddEffector(EffectorConfig{BoneName: "c", Weight: 1}, nil), test.ShouldBeNil)
		s.rebuild()
		return s.segments[0]
	}

	// A zero passthrough keeps the descendant effector out of the ancestor
	// segment.
	blocked := build(0)
	test.That(t, blocked.effectors, test.ShouldHaveLength, 1)
	test.That(t, blocked.effectors[0].forBone.name, test.ShouldEqual, "b")
	test.That(t, len(blocked.headingWeights), test.ShouldEqual, 1)

	open := build(1)
	test.That(t, open.effectors, test.ShouldHaveLength, 2)
	test.That(t, len(open.headingWeights), test.ShouldEqual, 2)
}

func TestHeadingArraySizing(t *testing.T) {
	logger := golog.NewTestLogger(t)
	skel, err := skeleton.New([]skeleton.BoneDefinition{
		{Name: "root"},
		{Name: "tip", Parent: "root", LocalPose: spatialmath.NewPoseFromPoint(r3.Vector{Y: 1})},
	})
	test.That(t, err, test.ShouldBeNil)
	s, err := NewSolver(skel, logger, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.AddEffector(EffectorConfig{
		BoneName:            "tip",
		Weight:              0.8,
		DirectionPriorities: r3.Vector{X: 1, Y: 0.5},
	}, nil), test.ShouldBeNil)
	s.rebuild()

	sg := s.segments[0]
	// One position row plus a pair per prioritized axis.
	test.That(t, sg.headingWeights, test.ShouldHaveLength, 5)
	test.That(t, sg.targetHeadings, test.ShouldHaveLength, 5)
	test.That(t, sg.tipHeadings, test.ShouldHaveLength, 5)
	test.That(t, sg.headingWeights[0], test.ShouldAlmostEqual, 0.8, 1e-12)
	test.That(t, sg.headingWeights[1], test.ShouldAlmostEqual, 0.8, 1e-12)
	test.That(t, sg.headingWeights[2], test.ShouldAlmostEqual, 0.8, 1e-12)
	test.That(t, sg.headingWeights[3], test.ShouldAlmostEqual, 0.4, 1e-12)
	test.That(t, sg.headingWeights[4], test.ShouldAlmostEqual, 0.4, 1e-12)
}

func TestManualMSD(t *testing.T) {
	tips := []r3.Vector{{X: 1}, {Y: 2}}
	targets := []r3.Vector{{X: 1}, {Y: 0}}
	weights := []float64{1, 1}
	// Σ wᵢ·dᵢ² / (Σw)² = 4 / 4.
	test.That(t, manualMSD(tips, targets, weights), test.ShouldAlmostEqual, 1, 1e-12)
	test.That(t, manualMSD(tips, tips, weights), test.ShouldEqual, 0.)
	test.That(t, manualMSD(tips, targets, []float64{0, 0}), test.ShouldEqual, 0.)
}

func TestStabilizationStillConverges(t *testing.T) {
	logger := golog.NewTestLogger(t)
	skel, err := skeleton.New([]skeleton.BoneDefinition{
		{Name: "root"},
		{Name: "mid", Parent: "root", LocalPose: spatialmath.NewPoseFromPoint(r3.Vector{Y: 1})},
		{Name: "tip", Parent: "mid", LocalPose: spatialmath.NewPoseFromPoint(r3.Vector{Y: 1})},
	})
	test.That(t, err, test.ShouldBeNil)
	opts := NewBasicOptions()
	opts.StabilizationPasses = 2
	opts.IterationsPerFrame = 10
	s, err := NewSolver(skel, logger, opts)
	test.That(t, err, test.ShouldBeNil)
	goal := spatialmath.NewPoseFromPoint(r3.Vector{X: 1, Y: 1})
	test.That(t, s.AddEffector(EffectorConfig{BoneName: "tip", Weight: 1}, func() spatialmath.Pose {
		return goal
	}), test.ShouldBeNil)

	test.That(t, s.Solve(), test.ShouldBeNil)
	// With stabilization enabled the solve still converges on the goal.
	tip := skel.GlobalBonePose(skel.FindBone("tip"))
	test.That(t, tip.Point.Sub(goal.Point).Norm(), test.ShouldBeLessThan, 0.01)
}
