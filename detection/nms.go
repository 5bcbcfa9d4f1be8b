package detection

import "sort"

// DefaultNMSThreshold is the IoU above which two same-class detections are
// considered duplicates. The value comes from the YOLO tooling this module's
// anchor tables were taken from.
const DefaultNMSThreshold = 0.213

// SortByScore stable-sorts detections by descending score, keeping the
// original order of equal-score detections.
func SortByScore(in []Detection) []Detection {
	out := make([]Detection, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score() > out[j].Score()
	})
	return out
}

// NewNMSFilter returns a Postprocessor that performs greedy per-class
// non-max suppression: within one class, any detection whose IoU with an
// already accepted higher-scoring detection exceeds iouThreshold is dropped.
// Different classes never suppress each other. The output is sorted by
// descending score; ties keep their input order.
func NewNMSFilter(iouThreshold float64) Postprocessor {
	return func(in []Detection) []Detection {
		ranked := SortByScore(in)
		suppressed := make([]bool, len(ranked))
		out := make([]Detection, 0, len(ranked))
		for i, d := range ranked {
			if suppressed[i] {
				continue
			}
			out = append(out, d)
			for j := i + 1; j < len(ranked); j++ {
				if suppressed[j] || ranked[j].ClassID() != d.ClassID() {
					continue
				}
				if d.Box().IoU(ranked[j].Box()) > iouThreshold {
					suppressed[j] = true
				}
			}
		}
		return out
	}
}
