package gate

import (
	"image"
	"math"

	"github.com/pkg/errors"
)

// MotionConfig holds the tuning knobs for the motion proposer.
type MotionConfig struct {
	// Alpha is the exponential moving average weight of each new frame in
	// the background estimate.
	Alpha float64 `json:"alpha"`
	// DiffThreshold is the grayscale delta (0-255) above which a pixel
	// counts as moving.
	DiffThreshold float64 `json:"diff_threshold"`
	// MinArea is the minimum pixel count of a motion blob worth proposing.
	MinArea int `json:"min_area"`
}

// Defaults for the motion proposer. MinArea in particular is a guess that
// depends on frame resolution and should usually be set by the caller.
const (
	DefaultMotionAlpha         = 0.05
	DefaultMotionDiffThreshold = 25.0
	DefaultMotionMinArea       = 500
)

// motionProposer keeps a running background estimate of the scene and
// proposes a region per connected blob of pixels that differ from it.
// The background is owned by the instance; independent sessions can each
// have their own.
type motionProposer struct {
	cfg        MotionConfig
	background []float64
	width      int
	height     int
}

// NewMotionProposer returns a proposer gated on frame-to-frame motion.
// The first frame only seeds the background and proposes nothing.
func NewMotionProposer(cfg MotionConfig) (Proposer, error) {
	if cfg.Alpha <= 0 || cfg.Alpha > 1 {
		return nil, errors.Errorf("motion alpha must be in (0, 1], got %f", cfg.Alpha)
	}
	if cfg.DiffThreshold <= 0 {
		cfg.DiffThreshold = DefaultMotionDiffThreshold
	}
	if cfg.MinArea <= 0 {
		cfg.MinArea = DefaultMotionMinArea
	}
	return &motionProposer{cfg: cfg}, nil
}

func (m *motionProposer) Propose(frame image.Image) ([]image.Rectangle, error) {
	w, h := frame.Bounds().Dx(), frame.Bounds().Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("motion proposer got an empty frame")
	}
	gray := toGray(frame)

	if m.background == nil || m.width != w || m.height != h {
		m.background = gray
		m.width, m.height = w, h
		return nil, nil
	}

	moving := make([]bool, w*h)
	for i, v := range gray {
		if math.Abs(v-m.background[i]) > m.cfg.DiffThreshold {
			moving[i] = true
		}
	}

	// the background adapts every frame so lighting drift does not
	// accumulate into false motion
	alpha := m.cfg.Alpha
	for i, v := range gray {
		m.background[i] = (1-alpha)*m.background[i] + alpha*v
	}

	regions := m.findBlobs(moving, w, h)
	// blob indices are origin-relative; proposals go out in the frame's own
	// coordinate space
	min := frame.Bounds().Min
	for i := range regions {
		regions[i] = regions[i].Add(min)
	}
	return dropDegenerate(regions), nil
}

// findBlobs finds the bounding boxes of 4-connected moving regions with at
// least MinArea pixels.
func (m *motionProposer) findBlobs(moving []bool, w, h int) []image.Rectangle {
	seen := make([]bool, w*h)
	var regions []image.Rectangle
	var queue []image.Point
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x
			if seen[idx] || !moving[idx] {
				seen[idx] = true
				continue
			}
			seen[idx] = true
			queue = append(queue[:0], image.Point{x, y})
			x0, y0, x1, y1 := x, y, x, y
			area := 0
			for len(queue) != 0 {
				pt := queue[0]
				queue = queue[1:]
				area++
				if pt.X < x0 {
					x0 = pt.X
				}
				if pt.X > x1 {
					x1 = pt.X
				}
				if pt.Y < y0 {
					y0 = pt.Y
				}
				if pt.Y > y1 {
					y1 = pt.Y
				}
				for _, n := range [4]image.Point{{pt.X, pt.Y - 1}, {pt.X, pt.Y + 1}, {pt.X - 1, pt.Y}, {pt.X + 1, pt.Y}} {
					if n.X < 0 || n.Y < 0 || n.X >= w || n.Y >= h {
						continue
					}
					nIdx := n.Y*w + n.X
					if seen[nIdx] {
						continue
					}
					seen[nIdx] = true
					if moving[nIdx] {
						queue = append(queue, n)
					}
				}
			}
			if area >= m.cfg.MinArea {
				regions = append(regions, image.Rect(x0, y0, x1+1, y1+1))
			}
		}
	}
	return regions
}

// toGray flattens a frame into per-pixel luminance values in [0, 255].
func toGray(img image.Image) []float64 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			out[y*w+x] = 0.299*float64(r>>8) + 0.587*float64(g>>8) + 0.114*float64(b>>8)
		}
	}
	return out
}
