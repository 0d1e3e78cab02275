package boneik

import (
	"math"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/boneik/skeleton"
	"go.viam.com/boneik/spatialmath"
)

// Solver owns the shadow copy of a skeleton and drives the per-frame solve:
// it pulls the skeleton's local poses and the effector goals in, runs the
// configured number of outer iterations over the segment forest, and writes
// the resulting local poses back. A Solver is not safe for concurrent use;
// run one Solver per skeleton.
type Solver struct {
	logger  golog.Logger
	skel    skeleton.Skeleton
	opts    Options
	enabled bool
	dirty   bool

	pins        []*pinTemplate
	constraints map[string]ConstraintConfig
	boneDamps   map[string]float64

	segments []*segment
	boneList []*bone
	boneMap  map[int]*bone
	qcp      *spatialmath.QCP
}

// pinTemplate is a configured effector waiting to be bound to a shadow bone
// at the next rebuild.
type pinTemplate struct {
	config EffectorConfig
	goal   GoalSource
}

// frameState carries the per-solve parameters and scratch shared by every
// segment during one frame.
type frameState struct {
	qcp              *spatialmath.QCP
	logger           golog.Logger
	defaultDamp      float64
	boneDamps        map[int]float64
	constraintMode   bool
	iteration        int
	totalIterations  int
	warnedDegenerate bool
}

// noteSuperposeError records a QCP failure. A degenerate eigen solve is
// logged once per frame; invalid input (e.g. all-zero weights) is silent
// since the identity result already makes the pass a no-op.
func (st *frameState) noteSuperposeError(err error) {
	if errors.Is(err, spatialmath.ErrSuperposeDegenerate) && !st.warnedDegenerate {
		st.warnedDegenerate = true
		if st.logger != nil {
			st.logger.Warnw("weighted superposition was numerically degenerate; treating pass as a no-op", "error", err)
		}
	}
}

// NewSolver binds a solver to a skeleton. A nil opts uses the defaults.
func NewSolver(skel skeleton.Skeleton, logger golog.Logger, opts *Options) (*Solver, error) {
	if skel == nil {
		return nil, errors.New("solver requires a skeleton")
	}
	if opts == nil {
		opts = NewBasicOptions()
	}
	return &Solver{
		logger:      logger,
		skel:        skel,
		opts:        opts.clamped(),
		enabled:     true,
		dirty:       true,
		constraints: map[string]ConstraintConfig{},
		boneDamps:   map[string]float64{},
		boneMap:     map[int]*bone{},
		qcp:         spatialmath.NewQCP(),
	}, nil
}

// SetOptions replaces the solver options and schedules a rebuild.
func (s *Solver) SetOptions(opts *Options) {
	if opts == nil {
		return
	}
	s.opts = opts.clamped()
	s.dirty = true
}

// Options returns a copy of the active options.
func (s *Solver) Options() Options {
	return s.opts
}

// SetEnabled turns the whole solver on or off; a disabled solver's Solve is
// a no-op.
func (s *Solver) SetEnabled(enabled bool) {
	s.enabled = enabled
}

// Enabled reports whether the solver is active.
func (s *Solver) Enabled() bool {
	return s.enabled
}

// SetIterationsPerFrame sets the outer iteration count, at least 1.
func (s *Solver) SetIterationsPerFrame(iterations int) {
	if iterations < 1 {
		iterations = 1
	}
	s.opts.IterationsPerFrame = iterations
	s.dirty = true
}

// SetDefaultDamp sets the default per-pass rotation limit, clamped to
// (0, π] radians.
func (s *Solver) SetDefaultDamp(damp float64) {
	if damp <= 0 || math.IsNaN(damp) {
		damp = defaultDamp
	}
	if damp > math.Pi {
		damp = math.Pi
	}
	s.opts.DefaultDamp = damp
	s.dirty = true
}

// SetStabilizationPasses sets the retry pass count, at least 0.
func (s *Solver) SetStabilizationPasses(passes int) {
	if passes < 0 {
		passes = 0
	}
	s.opts.StabilizationPasses = passes
	s.dirty = true
}

// SetConstraintMode toggles constraint-only solving: the rotation search is
// skipped and only the snap-to-limit branches run.
func (s *Solver) SetConstraintMode(enabled bool) {
	s.opts.ConstraintMode = enabled
}

// AddEffector tags the configured bone as a goal. The goal source is called
// once per Solve for the goal pose in the skeleton's local frame; a nil goal
// freezes the effector at the bone's pose as of the most recent rebuild.
// Adding an effector for a bone that already has one replaces it.
func (s *Solver) AddEffector(config EffectorConfig, goal GoalSource) error {
	if config.BoneName == "" {
		return errors.New("effector requires a bone name")
	}
	if s.skel.FindBone(config.BoneName) == skeleton.NoBone {
		return errors.Errorf("effector bone %q not found in skeleton", config.BoneName)
	}
	pin := &pinTemplate{config: config.clamped(), goal: goal}
	for i, existing := range s.pins {
		if existing.config.BoneName == config.BoneName {
			s.pins[i] = pin
			s.dirty = true
			return nil
		}
	}
	s.pins = append(s.pins, pin)
	s.dirty = true
	return nil
}

// RemoveEffector removes the effector on the named bone, reporting whether
// one was present.
func (s *Solver) RemoveEffector(boneName string) bool {
	for i, pin := range s.pins {
		if pin.config.BoneName == boneName {
			s.pins = append(s.pins[:i], s.pins[i+1:]...)
			s.dirty = true
			return true
		}
	}
	return false
}

// SetConstraint attaches (or replaces) a Kusudama constraint on the named
// bone.
func (s *Solver) SetConstraint(boneName string, config ConstraintConfig) error {
	if s.skel.FindBone(boneName) == skeleton.NoBone {
		return errors.Errorf("constraint bone %q not found in skeleton", boneName)
	}
	s.constraints[boneName] = config
	s.dirty = true
	return nil
}

// RemoveConstraint removes the constraint on the named bone.
func (s *Solver) RemoveConstraint(boneName string) {
	delete(s.constraints, boneName)
	s.dirty = true
}

// SetBoneDamp overrides the per-pass rotation limit for one bone, clamped to
// (0, π]. The effective limit is the smaller of this and the default damp.
func (s *Solver) SetBoneDamp(boneName string, damp float64) error {
	if s.skel.FindBone(boneName) == skeleton.NoBone {
		return errors.Errorf("damp bone %q not found in skeleton", boneName)
	}
	if damp <= 0 || math.IsNaN(damp) {
		damp = s.opts.DefaultDamp
	}
	if damp > math.Pi {
		damp = math.Pi
	}
	s.boneDamps[boneName] = damp
	return nil
}

// Solve runs one frame: rebuild the shadow forest if configuration changed,
// pull skeleton poses and effector goals, iterate the segment solvers, and
// write the solved local poses back to the skeleton. An unconfigured solver
// (no effectors) is a silent no-op.
func (s *Solver) Solve() error {
	if !s.enabled || len(s.pins) == 0 {
		return nil
	}
	if s.dirty {
		s.rebuild()
	}
	if len(s.segments) == 0 {
		return nil
	}

	for i := len(s.boneList) - 1; i >= 0; i-- {
		b := s.boneList[i]
		b.setPose(s.skel.BonePose(b.id))
		if b.isPinned() {
			b.effector.updateTargetGlobal()
		}
	}

	st := &frameState{
		qcp:             s.qcp,
		logger:          s.logger,
		defaultDamp:     s.opts.DefaultDamp,
		boneDamps:       s.resolveBoneDamps(),
		constraintMode:  s.opts.ConstraintMode,
		totalIterations: s.opts.IterationsPerFrame,
	}
	for i := 0; i < s.opts.IterationsPerFrame; i++ {
		st.iteration = i
		for _, sg := range s.segments {
			sg.segmentSolver(st)
		}
	}

	for i := len(s.boneList) - 1; i >= 0; i-- {
		b := s.boneList[i]
		pose := b.pose()
		if !spatialmath.PoseIsFinite(pose) {
			pose = spatialmath.NewPoseFromPoint(pose.Point)
		}
		s.skel.SetBonePose(b.id, pose)
	}

	for _, sg := range s.segments {
		sg.updateLastRMSD()
	}
	return nil
}

func (s *Solver) resolveBoneDamps() map[int]float64 {
	resolved := make(map[int]float64, len(s.boneDamps))
	for name, damp := range s.boneDamps {
		if id := s.skel.FindBone(name); id != skeleton.NoBone {
			resolved[id] = damp
		}
	}
	return resolved
}

// rebuild reconstructs the shadow forest and segment tree from the current
// skeleton topology, effector set, and constraint set.
func (s *Solver) rebuild() {
	s.dirty = false
	s.segments = nil
	s.boneList = nil
	s.boneMap = map[int]*bone{}

	pinsByID := make(map[int]*pinTemplate, len(s.pins))
	for _, pin := range s.pins {
		id := s.skel.FindBone(pin.config.BoneName)
		if id == skeleton.NoBone {
			if s.logger != nil {
				s.logger.Warnw("effector bone not found in skeleton; skipping", "bone", pin.config.BoneName)
			}
			continue
		}
		pinsByID[id] = pin
	}
	if len(pinsByID) == 0 {
		return
	}

	effectorDescendants := map[int]bool{}
	var hasEffectorDescendant func(id int) bool
	hasEffectorDescendant = func(id int) bool {
		if has, ok := effectorDescendants[id]; ok {
			return has
		}
		has := pinsByID[id] != nil
		for _, child := range s.skel.BoneChildren(id) {
			if hasEffectorDescendant(child) {
				has = true
			}
		}
		effectorDescendants[id] = has
		return has
	}

	for _, root := range s.skel.ParentlessBones() {
		if !hasEffectorDescendant(root) {
			continue
		}
		sg := s.buildSegment(root, nil, nil, pinsByID, hasEffectorDescendant)
		s.segments = append(s.segments, sg)
		s.collectBones(sg)
	}

	// Shadow poses must reflect the skeleton before the direction and
	// constraint frames can be aligned.
	for i := len(s.boneList) - 1; i >= 0; i-- {
		b := s.boneList[i]
		b.setPose(s.skel.BonePose(b.id))
	}
	for _, b := range s.boneList {
		b.alignBoneDirection(s.skel.BoneChildren(b.id), func(id int) r3.Vector {
			return s.skeletonGlobalPose(id).Point
		})
	}
	// Effectors without a goal source hold their bone's pose as of this
	// rebuild.
	for _, b := range s.boneList {
		if b.isPinned() && b.effector.goal == nil {
			b.effector.targetGlobal = b.boneDirectionGlobalPose()
		}
	}

	for name, config := range s.constraints {
		id := s.skel.FindBone(name)
		b := s.boneMap[id]
		if b == nil {
			continue
		}
		k := NewKusudama()
		for _, cone := range config.Cones {
			k.AddCone(cone.Center, cone.Radius)
		}
		if config.TwistRange > 0 {
			k.SetTwistLimits(config.TwistFrom, config.TwistRange)
		}
		k.SetResistance(config.Resistance)
		b.constraint = k
	}

	for _, b := range s.boneList {
		b.alignConstraintFrames()
		b.computeReturnDampTables(s.opts.IterationsPerFrame)
	}

	for _, sg := range s.segments {
		sg.buildEffectorList()
		createHeadingArraysFor(sg)
	}

	if s.logger != nil {
		s.logger.Debugf("rebuilt shadow forest: %d segments, %d bones, %d effectors", len(s.segments), len(s.boneList), len(pinsByID))
	}
}

func createHeadingArraysFor(sg *segment) {
	sg.createHeadingArrays()
	for _, child := range sg.childSegments {
		createHeadingArraysFor(child)
	}
}

// buildSegment walks down from rootID, absorbing bones into one segment
// while exactly one child leads toward an effector and the current bone is
// not itself an effector; the walk ends at an effector or branching bone,
// which becomes the tip, and recurses into each effector-bearing child.
func (s *Solver) buildSegment(
	rootID int,
	parentSeg *segment,
	parentBone *bone,
	pins map[int]*pinTemplate,
	hasEffectorDescendant func(id int) bool,
) *segment {
	sg := &segment{
		parentSegment:        parentSeg,
		stabilizingPassCount: s.opts.StabilizationPasses,
		previousDeviation:    math.Inf(1),
	}
	current := s.newShadowBone(rootID, parentBone, pins)
	sg.rootBone = current

	for {
		var effectorChildren []int
		for _, child := range s.skel.BoneChildren(current.id) {
			if hasEffectorDescendant(child) {
				effectorChildren = append(effectorChildren, child)
			}
		}
		if current.isPinned() || len(effectorChildren) != 1 {
			sg.tipBone = current
			for _, childID := range effectorChildren {
				child := s.buildSegment(childID, sg, current, pins, hasEffectorDescendant)
				sg.childSegments = append(sg.childSegments, child)
			}
			break
		}
		current = s.newShadowBone(effectorChildren[0], current, pins)
	}

	for b := sg.tipBone; ; b = b.parent {
		sg.bones = append(sg.bones, b)
		if b == sg.rootBone {
			break
		}
	}
	return sg
}

func (s *Solver) newShadowBone(id int, parentBone *bone, pins map[int]*pinTemplate) *bone {
	b := newBone(id, s.skel.BoneName(id), parentBone, s.opts.DefaultDamp)
	if pin := pins[id]; pin != nil {
		e := newEffector(b, pin.goal)
		e.weight = pin.config.Weight
		e.directionPriorities = pin.config.DirectionPriorities
		e.passthroughFactor = pin.config.PassthroughFactor
		b.effector = e
	}
	s.boneMap[id] = b
	return b
}

// collectBones flattens a segment tree into the solve-order bone list:
// child segments first, then the segment's own bones tip to root.
func (s *Solver) collectBones(sg *segment) {
	for _, child := range sg.childSegments {
		s.collectBones(child)
	}
	s.boneList = append(s.boneList, sg.bones...)
}

// skeletonGlobalPose composes the skeleton's rest pose for a bone up through
// its ancestors.
func (s *Solver) skeletonGlobalPose(id int) spatialmath.Pose {
	pose := s.skel.BonePose(id)
	for parent := s.skel.BoneParent(id); parent != skeleton.NoBone; parent = s.skel.BoneParent(parent) {
		pose = spatialmath.Compose(s.skel.BonePose(parent), pose)
	}
	return pose
}
