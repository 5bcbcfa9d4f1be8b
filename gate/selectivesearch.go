package gate

import (
	"image"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
)

// SelectiveSearchConfig holds the tuning knobs for the selective-search
// proposer.
type SelectiveSearchConfig struct {
	// MaxProposals caps how many ranked regions are fed downstream, since
	// every proposal costs one inference call.
	MaxProposals int `json:"max_proposals"`
	// CellSize is the edge length in pixels of the initial segmentation
	// grid that the hierarchical merge starts from.
	CellSize int `json:"cell_size"`
}

// Defaults for the selective-search proposer.
const (
	DefaultMaxProposals = 10
	DefaultCellSize     = 16
)

// selectiveSearchProposer produces ranked region proposals by hierarchically
// merging an initial grid segmentation by color and size similarity. It is a
// simplified take on selective search: good enough to focus inference, cheap
// enough to run per frame.
type selectiveSearchProposer struct {
	cfg SelectiveSearchConfig
}

// NewSelectiveSearchProposer returns a proposer that yields at most
// cfg.MaxProposals ranked sub-regions per frame.
func NewSelectiveSearchProposer(cfg SelectiveSearchConfig) (Proposer, error) {
	if cfg.MaxProposals <= 0 {
		cfg.MaxProposals = DefaultMaxProposals
	}
	if cfg.CellSize <= 0 {
		cfg.CellSize = DefaultCellSize
	}
	return &selectiveSearchProposer{cfg: cfg}, nil
}

// segment is one region of the evolving segmentation: a bounding box, a pixel
// count, and a mean RGB color.
type segment struct {
	bounds image.Rectangle
	size   int
	color  [3]float64
}

type merge struct {
	bounds     image.Rectangle
	similarity float64
}

func (s *selectiveSearchProposer) Propose(frame image.Image) ([]image.Rectangle, error) {
	bounds := frame.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("selective search got an empty frame")
	}

	cols := (w + s.cfg.CellSize - 1) / s.cfg.CellSize
	rows := (h + s.cfg.CellSize - 1) / s.cfg.CellSize
	segs := s.seedGrid(frame, cols, rows)

	// greedy hierarchical merge: repeatedly fuse the most similar pair of
	// neighboring segments, recording each fused bounding box as a proposal
	frameArea := float64(w * h)
	var merges []merge
	parent := make([]int, len(segs))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		for parent[i] != i {
			parent[i] = parent[parent[i]]
			i = parent[i]
		}
		return i
	}

	for round := 0; round < len(segs)-1; round++ {
		bestA, bestB, bestSim := -1, -1, -1.0
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				i := find(r*cols + c)
				neighbors := make([]int, 0, 2)
				if c+1 < cols {
					neighbors = append(neighbors, r*cols+c+1)
				}
				if r+1 < rows {
					neighbors = append(neighbors, (r+1)*cols+c)
				}
				for _, n := range neighbors {
					j := find(n)
					if i == j {
						continue
					}
					sim := similarity(segs[i], segs[j], frameArea)
					if sim > bestSim {
						bestA, bestB, bestSim = i, j, sim
					}
				}
			}
		}
		if bestA < 0 {
			break
		}
		merged := fuse(segs[bestA], segs[bestB])
		parent[bestB] = bestA
		segs[bestA] = merged
		if merged.bounds.Dx() > 0 && merged.bounds.Dy() > 0 {
			merges = append(merges, merge{bounds: merged.bounds, similarity: bestSim})
		}
	}

	sort.SliceStable(merges, func(i, j int) bool {
		return merges[i].similarity > merges[j].similarity
	})
	regions := make([]image.Rectangle, 0, s.cfg.MaxProposals)
	seenBoxes := map[image.Rectangle]bool{}
	for _, m := range merges {
		if len(regions) >= s.cfg.MaxProposals {
			break
		}
		if seenBoxes[m.bounds] {
			continue
		}
		seenBoxes[m.bounds] = true
		regions = append(regions, m.bounds)
	}
	return dropDegenerate(regions), nil
}

// seedGrid splits the frame into cells and measures each cell's mean color.
func (s *selectiveSearchProposer) seedGrid(frame image.Image, cols, rows int) []segment {
	bounds := frame.Bounds()
	segs := make([]segment, 0, cols*rows)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x0 := bounds.Min.X + c*s.cfg.CellSize
			y0 := bounds.Min.Y + r*s.cfg.CellSize
			x1, y1 := x0+s.cfg.CellSize, y0+s.cfg.CellSize
			if x1 > bounds.Max.X {
				x1 = bounds.Max.X
			}
			if y1 > bounds.Max.Y {
				y1 = bounds.Max.Y
			}
			var sum [3]float64
			n := 0
			for y := y0; y < y1; y++ {
				for x := x0; x < x1; x++ {
					pr, pg, pb, _ := frame.At(x, y).RGBA()
					sum[0] += float64(pr >> 8)
					sum[1] += float64(pg >> 8)
					sum[2] += float64(pb >> 8)
					n++
				}
			}
			if n > 0 {
				for i := range sum {
					sum[i] /= float64(n)
				}
			}
			segs = append(segs, segment{
				bounds: image.Rect(x0, y0, x1, y1),
				size:   n,
				color:  sum,
			})
		}
	}
	return segs
}

// similarity scores a candidate merge in [0, 2]: close mean colors and small
// combined size both push a pair earlier in the merge order.
func similarity(a, b segment, frameArea float64) float64 {
	colorDist := floats.Distance(a.color[:], b.color[:], 2)
	maxDist := floats.Distance([]float64{0, 0, 0}, []float64{255, 255, 255}, 2)
	colorSim := 1 - colorDist/maxDist
	sizeSim := 1 - float64(a.size+b.size)/frameArea
	return colorSim + sizeSim
}

func fuse(a, b segment) segment {
	total := a.size + b.size
	var c [3]float64
	if total > 0 {
		for i := range c {
			c[i] = (a.color[i]*float64(a.size) + b.color[i]*float64(b.size)) / float64(total)
		}
	}
	return segment{
		bounds: a.bounds.Union(b.bounds),
		size:   total,
		color:  c,
	}
}
