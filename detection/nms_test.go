package detection

import (
	"testing"

	"go.viam.com/test"
)

func TestNMSSuppressesSameClassOverlap(t *testing.T) {
	// two heavily overlapping detections of one class, scores 0.9 and 0.7
	a := NewDetection(Box{0.1, 0.1, 0.5, 0.5}, 0.9, 0, "person")
	b := NewDetection(Box{0.1, 0.1, 0.5, 0.45}, 0.7, 0, "person")
	test.That(t, a.Box().IoU(b.Box()), test.ShouldBeGreaterThan, 0.5)

	out := NewNMSFilter(0.5)([]Detection{b, a})
	test.That(t, out, test.ShouldHaveLength, 1)
	test.That(t, out[0].Score(), test.ShouldEqual, 0.9)
}

func TestNMSKeepsDifferentClasses(t *testing.T) {
	a := NewDetection(Box{0.1, 0.1, 0.5, 0.5}, 0.9, 0, "person")
	b := NewDetection(Box{0.1, 0.1, 0.5, 0.5}, 0.7, 1, "bicycle")
	out := NewNMSFilter(0.5)([]Detection{a, b})
	test.That(t, out, test.ShouldHaveLength, 2)
}

func TestNMSKeepsDistantSameClass(t *testing.T) {
	a := NewDetection(Box{0.1, 0.1, 0.3, 0.3}, 0.9, 0, "person")
	b := NewDetection(Box{0.6, 0.6, 0.8, 0.8}, 0.7, 0, "person")
	out := NewNMSFilter(0.5)([]Detection{a, b})
	test.That(t, out, test.ShouldHaveLength, 2)
	// descending score order
	test.That(t, out[0].Score(), test.ShouldEqual, 0.9)
	test.That(t, out[1].Score(), test.ShouldEqual, 0.7)
}

func TestNMSOutputPairwiseIoUBound(t *testing.T) {
	const iouThreshold = 0.4
	in := []Detection{
		NewDetection(Box{0.10, 0.10, 0.50, 0.50}, 0.9, 0, "person"),
		NewDetection(Box{0.12, 0.12, 0.52, 0.52}, 0.8, 0, "person"),
		NewDetection(Box{0.30, 0.30, 0.70, 0.70}, 0.7, 0, "person"),
		NewDetection(Box{0.32, 0.28, 0.68, 0.72}, 0.6, 0, "person"),
		NewDetection(Box{0.60, 0.60, 0.90, 0.90}, 0.5, 0, "person"),
	}
	out := NewNMSFilter(iouThreshold)(in)
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			test.That(t, out[i].Box().IoU(out[j].Box()), test.ShouldBeLessThanOrEqualTo, iouThreshold)
		}
	}
}

func TestNMSTieKeepsInputOrder(t *testing.T) {
	first := NewDetection(Box{0.1, 0.1, 0.3, 0.3}, 0.8, 0, "a")
	second := NewDetection(Box{0.6, 0.6, 0.8, 0.8}, 0.8, 0, "b")
	out := NewNMSFilter(0.5)([]Detection{first, second})
	test.That(t, out, test.ShouldHaveLength, 2)
	test.That(t, out[0].Label(), test.ShouldEqual, "a")
	test.That(t, out[1].Label(), test.ShouldEqual, "b")
}

func TestSortByScoreStable(t *testing.T) {
	in := []Detection{
		NewDetection(Box{0.1, 0.1, 0.2, 0.2}, 0.5, 0, "a"),
		NewDetection(Box{0.3, 0.3, 0.4, 0.4}, 0.9, 0, "b"),
		NewDetection(Box{0.5, 0.5, 0.6, 0.6}, 0.5, 0, "c"),
	}
	out := SortByScore(in)
	test.That(t, out[0].Label(), test.ShouldEqual, "b")
	test.That(t, out[1].Label(), test.ShouldEqual, "a")
	test.That(t, out[2].Label(), test.ShouldEqual, "c")
	// input untouched
	test.That(t, in[0].Label(), test.ShouldEqual, "a")
}
