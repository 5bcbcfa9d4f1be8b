// Package gate restricts where inference runs: a proposer looks at a frame
// and yields the sub-regions worth feeding to the model, which may be none.
package gate

import "image"

// Proposer looks at a frame and proposes regions to run inference on. Regions
// are in the frame's own pixel coordinate space, so for a frame whose Bounds
// has a nonzero Min (a sub-image) proposals carry that offset, exactly as the
// full-frame proposal does. An empty result means inference is skipped for
// the frame entirely.
type Proposer interface {
	Propose(frame image.Image) ([]image.Rectangle, error)
}

// nullProposer proposes the full frame, for plain ungated detection.
type nullProposer struct{}

// NewNullProposer returns a proposer that always yields one region equal to
// the full frame.
func NewNullProposer() Proposer {
	return nullProposer{}
}

func (nullProposer) Propose(frame image.Image) ([]image.Rectangle, error) {
	return []image.Rectangle{frame.Bounds()}, nil
}

// dropDegenerate silently removes zero-width or zero-height regions.
func dropDegenerate(regions []image.Rectangle) []image.Rectangle {
	out := regions[:0]
	for _, r := range regions {
		if r.Dx() > 0 && r.Dy() > 0 {
			out = append(out, r)
		}
	}
	return out
}
