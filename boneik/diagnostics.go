package boneik

// SegmentLayout is a read-only snapshot of one segment of the solver's
// shadow forest, for inspection and debugging.
type SegmentLayout struct {
	// RootBone and TipBone name the segment's first and last bones.
	RootBone string
	TipBone  string

	// Effectors names the bones whose effectors influence this segment, in
	// heading-buffer order: the tip's own first, then descendants in
	// segment-tree preorder.
	Effectors []string

	// RMSD is the segment's weighted squared deviation at its tip, as
	// computed by manualMSD, after the last solve.
	RMSD float64

	// Children are the segments rooted at this segment's tip.
	Children []SegmentLayout
}

// SegmentLayouts snapshots the current segment forest, one entry per
// skeleton root with effector descendants. The snapshot is empty until the
// first Solve; after a configuration change it shows the previous forest
// until the next Solve rebuilds it.
func (s *Solver) SegmentLayouts() []SegmentLayout {
	layouts := make([]SegmentLayout, 0, len(s.segments))
	for _, sg := range s.segments {
		layouts = append(layouts, layoutFor(sg))
	}
	return layouts
}

func layoutFor(sg *segment) SegmentLayout {
	layout := SegmentLayout{
		RootBone: sg.rootBone.name,
		TipBone:  sg.tipBone.name,
		RMSD:     sg.lastRMSD,
	}
	for _, e := range sg.effectors {
		layout.Effectors = append(layout.Effectors, e.forBone.name)
	}
	for _, child := range sg.childSegments {
		layout.Children = append(layout.Children, layoutFor(child))
	}
	return layout
}
