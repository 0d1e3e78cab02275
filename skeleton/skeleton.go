// Package skeleton describes the articulated skeleton the IK solver reads
// poses from and writes poses back to. The solver consumes only the Skeleton
// interface; hosts with their own scene graph implement it, and
// SimpleSkeleton serves hosts without one (and tests).
package skeleton

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/boneik/spatialmath"
)

// NoBone is returned by lookups that find no bone.
const NoBone = -1

// Skeleton is a tree of rigid bones addressed by dense integer ids. Bone
// poses are rigid local transforms relative to the parent bone; scale is not
// represented.
type Skeleton interface {
	// BoneCount returns the number of bones.
	BoneCount() int
	// BoneName returns the name of the given bone.
	BoneName(id int) string
	// FindBone returns the id of the named bone, or NoBone.
	FindBone(name string) int
	// BoneParent returns the parent id of the given bone, or NoBone for a
	// parentless bone.
	BoneParent(id int) int
	// BoneChildren returns the ids of the bone's children.
	BoneChildren(id int) []int
	// ParentlessBones returns the ids of all parentless bones.
	ParentlessBones() []int
	// BonePose returns the bone's local pose.
	BonePose(id int) spatialmath.Pose
	// SetBonePose replaces the bone's local pose.
	SetBonePose(id int, pose spatialmath.Pose)
}

// BoneDefinition declares one bone of a SimpleSkeleton. Parent names a bone
// declared earlier in the list; an empty Parent makes the bone parentless.
type BoneDefinition struct {
	Name   string `json:"name"`
	Parent string `json:"parent,omitempty"`

	// LocalPose is the bone's rest pose relative to its parent.
	LocalPose spatialmath.Pose `json:"-"`
}

// SimpleSkeleton is a parent-table Skeleton implementation.
type SimpleSkeleton struct {
	names    []string
	nameToID map[string]int
	parents  []int
	children [][]int
	poses    []spatialmath.Pose
}

// New builds a SimpleSkeleton from bone definitions, validating that names
// are unique and non-empty and that every parent reference resolves to an
// earlier bone.
func New(definitions []BoneDefinition) (*SimpleSkeleton, error) {
	if len(definitions) == 0 {
		return nil, errors.New("skeleton must have at least one bone")
	}
	s := &SimpleSkeleton{
		names:    make([]string, len(definitions)),
		nameToID: make(map[string]int, len(definitions)),
		parents:  make([]int, len(definitions)),
		children: make([][]int, len(definitions)),
		poses:    make([]spatialmath.Pose, len(definitions)),
	}
	var err error
	for i, def := range definitions {
		if def.Name == "" {
			err = multierr.Append(err, errors.Errorf("bone %d has no name", i))
			continue
		}
		if _, ok := s.nameToID[def.Name]; ok {
			err = multierr.Append(err, errors.Errorf("duplicate bone name %q", def.Name))
			continue
		}
		s.names[i] = def.Name
		s.nameToID[def.Name] = i
		s.parents[i] = NoBone
		pose := def.LocalPose
		if !spatialmath.PoseIsFinite(pose) {
			err = multierr.Append(err, errors.Errorf("bone %q has a non-finite pose", def.Name))
			continue
		}
		// A zero-value orientation normalizes to the identity, so rest poses
		// may be declared with just a translation.
		s.poses[i] = spatialmath.NewPose(pose.Orientation, pose.Point)
		if def.Parent == "" {
			continue
		}
		parentID, ok := s.nameToID[def.Parent]
		if !ok {
			err = multierr.Append(err, errors.Errorf("bone %q references parent %q not declared before it", def.Name, def.Parent))
			continue
		}
		s.parents[i] = parentID
		s.children[parentID] = append(s.children[parentID], i)
	}
	if err != nil {
		return nil, errors.Wrap(err, "invalid skeleton definition")
	}
	return s, nil
}

// BoneCount returns the number of bones.
func (s *SimpleSkeleton) BoneCount() int {
	return len(s.names)
}

// BoneName returns the name of the given bone, or "" when out of range.
func (s *SimpleSkeleton) BoneName(id int) string {
	if id < 0 || id >= len(s.names) {
		return ""
	}
	return s.names[id]
}

// FindBone returns the id of the named bone, or NoBone.
func (s *SimpleSkeleton) FindBone(name string) int {
	if id, ok := s.nameToID[name]; ok {
		return id
	}
	return NoBone
}

// BoneParent returns the parent id of the given bone, or NoBone.
func (s *SimpleSkeleton) BoneParent(id int) int {
	if id < 0 || id >= len(s.parents) {
		return NoBone
	}
	return s.parents[id]
}

// BoneChildren returns the ids of the bone's children.
func (s *SimpleSkeleton) BoneChildren(id int) []int {
	if id < 0 || id >= len(s.children) {
		return nil
	}
	return s.children[id]
}

// ParentlessBones returns the ids of all parentless bones.
func (s *SimpleSkeleton) ParentlessBones() []int {
	var roots []int
	for id, parent := range s.parents {
		if parent == NoBone {
			roots = append(roots, id)
		}
	}
	return roots
}

// BonePose returns the bone's local pose.
func (s *SimpleSkeleton) BonePose(id int) spatialmath.Pose {
	if id < 0 || id >= len(s.poses) {
		return spatialmath.NewZeroPose()
	}
	return s.poses[id]
}

// SetBonePose replaces the bone's local pose. Out-of-range ids are ignored.
func (s *SimpleSkeleton) SetBonePose(id int, pose spatialmath.Pose) {
	if id < 0 || id >= len(s.poses) {
		return
	}
	s.poses[id] = pose
}

// GlobalBonePose composes the bone's pose with its ancestors' poses.
func (s *SimpleSkeleton) GlobalBonePose(id int) spatialmath.Pose {
	if id < 0 || id >= len(s.poses) {
		return spatialmath.NewZeroPose()
	}
	pose := s.poses[id]
	for parent := s.parents[id]; parent != NoBone; parent = s.parents[parent] {
		pose = spatialmath.Compose(s.poses[parent], pose)
	}
	return pose
}
