package boneik

import (
	"encoding/json"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// default values for solver options.
const (
	// Number of outer solver iterations run per frame.
	defaultIterationsPerFrame = 15

	// Maximum per-bone rotation per pass, in radians (5 degrees).
	defaultDamp = 5 * math.Pi / 180

	// Extra retry passes around each bone's QCP + snap sequence.
	defaultStabilizationPasses = 0
)

// Options configures the per-frame behavior of a Solver. Out-of-range values
// are clamped into their documented ranges when the options are applied, so
// a bad configuration degrades rather than failing.
type Options struct {
	// IterationsPerFrame is the outer iteration count, at least 1.
	IterationsPerFrame int `json:"iterations_per_frame"`

	// DefaultDamp is the maximum rotation a single pass may apply to a
	// bone, in radians, in (0, π].
	DefaultDamp float64 `json:"default_damp"`

	// StabilizationPasses is the number of retry passes around each bone's
	// update; a pass that increases the tracked deviation is reverted.
	StabilizationPasses int `json:"stabilization_passes"`

	// ConstraintMode disables the rotation search and runs only the
	// constraint snaps, for previewing constraint behavior.
	ConstraintMode bool `json:"constraint_mode"`
}

// NewBasicOptions returns the default solver options.
func NewBasicOptions() *Options {
	return &Options{
		IterationsPerFrame:  defaultIterationsPerFrame,
		DefaultDamp:         defaultDamp,
		StabilizationPasses: defaultStabilizationPasses,
	}
}

// NewOptionsFromMap loads options from a loosely typed configuration map,
// applying defaults for absent keys.
func NewOptionsFromMap(config map[string]interface{}) (*Options, error) {
	opts := NewBasicOptions()
	if len(config) == 0 {
		return opts, nil
	}
	raw, err := json.Marshal(config)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode solver configuration")
	}
	if err := json.Unmarshal(raw, opts); err != nil {
		return nil, errors.Wrap(err, "failed to parse solver configuration")
	}
	return opts, nil
}

// clamped returns a copy with every field forced into range.
func (o *Options) clamped() Options {
	out := *o
	if out.IterationsPerFrame < 1 {
		out.IterationsPerFrame = defaultIterationsPerFrame
	}
	if out.DefaultDamp <= 0 {
		out.DefaultDamp = defaultDamp
	}
	if out.DefaultDamp > math.Pi {
		out.DefaultDamp = math.Pi
	}
	if out.StabilizationPasses < 0 {
		out.StabilizationPasses = defaultStabilizationPasses
	}
	return out
}

// EffectorConfig tags a bone as a goal and shapes its influence.
type EffectorConfig struct {
	// BoneName is the bone the goal applies to.
	BoneName string `json:"bone_name"`

	// Weight scales this effector's heading rows, in [0, 1].
	Weight float64 `json:"weight"`

	// DirectionPriorities weight how strongly each of the goal's basis
	// axes should be matched, per component in [0, 1]. A zero vector
	// matches position only.
	DirectionPriorities r3.Vector `json:"direction_priorities"`

	// PassthroughFactor is how much of this effector's influence
	// propagates to ancestor segments beyond its own chain, in [0, 1].
	PassthroughFactor float64 `json:"passthrough_factor"`
}

func (c EffectorConfig) clamped() EffectorConfig {
	out := c
	out.Weight = clamp01(out.Weight)
	out.DirectionPriorities.X = clamp01(out.DirectionPriorities.X)
	out.DirectionPriorities.Y = clamp01(out.DirectionPriorities.Y)
	out.DirectionPriorities.Z = clamp01(out.DirectionPriorities.Z)
	out.PassthroughFactor = clamp01(out.PassthroughFactor)
	return out
}

// ConeConfig declares one open cone of a bone's swing region, in the bone's
// constraint frame.
type ConeConfig struct {
	Center r3.Vector `json:"center"`
	Radius float64   `json:"radius"`
}

// ConstraintConfig declares a bone's Kusudama constraint.
type ConstraintConfig struct {
	// TwistFrom is the start of the allowed twist window about the
	// constraint frame's Y axis, in radians.
	TwistFrom float64 `json:"twist_from"`

	// TwistRange is the extent of the twist window, clamped to [0, 2π]. A
	// zero range leaves twist unconstrained.
	TwistRange float64 `json:"twist_range"`

	// Cones is the ordered swing-cone sequence; empty leaves swing
	// unconstrained.
	Cones []ConeConfig `json:"cones,omitempty"`

	// Resistance is how strongly the bone is pulled back toward the
	// interior of the allowed region, in [0, 1].
	Resistance float64 `json:"resistance,omitempty"`
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
