package decode

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/blue-cosmos/object-detection-tflite/detection"
)

const (
	yoloInput   = 416
	numClasses  = 2
	anchorCount = 3
	rejectLogit = -30.0 // sigmoid(-30) is effectively zero
	acceptLogit = 30.0  // sigmoid(30) is effectively one
)

// emptyScale returns a grid tensor whose every objectness logit rejects.
func emptyScale(grid int) Tensor {
	channels := anchorCount * (5 + numClasses)
	data := make([]float32, grid*grid*channels)
	for i := range data {
		data[i] = rejectLogit
	}
	return Tensor{Shape: []int{1, grid, grid, channels}, Data: data}
}

// logit is the inverse of sigmoid.
func logit(p float64) float32 {
	return float32(math.Log(p / (1 - p)))
}

func TestYOLODecodeRoundTrip(t *testing.T) {
	d, err := NewYOLODecoder(YOLOv3Tiny, yoloInput, yoloInput)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, d.NeedsNMS(), test.ShouldBeTrue)
	test.That(t, d.InputType(), test.ShouldEqual, TypeFloat32)

	// plant one detection at cell (5, 7) of the 13x13 scale, anchor 1
	// (23x27 px), centered in the cell with the anchor's exact size
	scale0 := emptyScale(13)
	stride := 5 + numClasses
	cx, cy, anchor := 5, 7, 1
	off := ((cy*13+cx)*anchorCount + anchor) * stride
	scale0.Data[off+0] = logit(0.5) // tx: center of cell
	scale0.Data[off+1] = logit(0.5) // ty
	scale0.Data[off+2] = 0          // tw: exp(0) leaves the anchor size
	scale0.Data[off+3] = 0          // th
	scale0.Data[off+4] = acceptLogit
	scale0.Data[off+5] = acceptLogit // class 0

	dets, err := d.Decode(RawOutput{scale0, emptyScale(26)}, LabelTable{"person", "bicycle"}, 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 1)

	got := dets[0]
	test.That(t, got.ClassID(), test.ShouldEqual, 0)
	test.That(t, got.Label(), test.ShouldEqual, "person")
	test.That(t, got.Score(), test.ShouldAlmostEqual, 1.0, 1e-5)

	wantCenterX := (float64(cx) + 0.5) / 13
	wantCenterY := (float64(cy) + 0.5) / 13
	wantW := 23.0 / yoloInput
	wantH := 27.0 / yoloInput
	box := got.Box()
	test.That(t, (box.XMin+box.XMax)/2, test.ShouldAlmostEqual, wantCenterX, 1e-5)
	test.That(t, (box.YMin+box.YMax)/2, test.ShouldAlmostEqual, wantCenterY, 1e-5)
	test.That(t, box.XMax-box.XMin, test.ShouldAlmostEqual, wantW, 1e-5)
	test.That(t, box.YMax-box.YMin, test.ShouldAlmostEqual, wantH, 1e-5)
}

func TestYOLOObjectnessEarlyReject(t *testing.T) {
	d, err := NewYOLODecoder(YOLOv3Tiny, yoloInput, yoloInput)
	test.That(t, err, test.ShouldBeNil)

	// high class logits everywhere, but objectness rejects every cell
	scale0 := emptyScale(13)
	stride := 5 + numClasses
	for i := 0; i < len(scale0.Data); i += stride {
		scale0.Data[i+5] = acceptLogit
		scale0.Data[i+6] = acceptLogit
	}
	dets, err := d.Decode(RawOutput{scale0, emptyScale(26)}, LabelTable{"person", "bicycle"}, 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 0)
}

func TestYOLOExpOverflowClamped(t *testing.T) {
	d, err := NewYOLODecoder(YOLOv3Tiny, yoloInput, yoloInput)
	test.That(t, err, test.ShouldBeNil)

	scale0 := emptyScale(13)
	stride := 5 + numClasses
	off := ((6*13 + 6) * anchorCount) * stride
	scale0.Data[off+0] = logit(0.5)
	scale0.Data[off+1] = logit(0.5)
	scale0.Data[off+2] = 1000 // would overflow exp without clamping
	scale0.Data[off+3] = 1000
	scale0.Data[off+4] = acceptLogit
	scale0.Data[off+5] = acceptLogit

	dets, err := d.Decode(RawOutput{scale0, emptyScale(26)}, LabelTable{"person", "bicycle"}, 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 1)
	box := dets[0].Box()
	// capped at the image bounds, never infinite or inverted
	test.That(t, box.Valid(), test.ShouldBeTrue)
	test.That(t, box.XMin, test.ShouldBeGreaterThanOrEqualTo, 0.0)
	test.That(t, box.XMax, test.ShouldBeLessThanOrEqualTo, 1.0)
}

func TestYOLODecodeShapeMismatch(t *testing.T) {
	d, err := NewYOLODecoder(YOLOv3Tiny, yoloInput, yoloInput)
	test.That(t, err, test.ShouldBeNil)

	// wrong scale count for the variant
	_, err = d.Decode(RawOutput{emptyScale(13)}, LabelTable{"person", "bicycle"}, 0.5)
	test.That(t, errors.Is(err, ErrDecode), test.ShouldBeTrue)

	// channels not divisible by the anchor count
	bad := Tensor{Shape: []int{1, 13, 13, 20}, Data: make([]float32, 13*13*20)}
	_, err = d.Decode(RawOutput{bad, emptyScale(26)}, LabelTable{"person", "bicycle"}, 0.5)
	test.That(t, errors.Is(err, ErrDecode), test.ShouldBeTrue)

	// truncated data caught before indexing
	short := emptyScale(13)
	short.Data = short.Data[:10]
	_, err = d.Decode(RawOutput{short, emptyScale(26)}, LabelTable{"person", "bicycle"}, 0.5)
	test.That(t, errors.Is(err, ErrDecode), test.ShouldBeTrue)
}

func TestYOLOUnknownVariant(t *testing.T) {
	_, err := NewYOLODecoder(YOLOVariant("yolov9"), yoloInput, yoloInput)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestYOLOThenNMSKeepsBestOfOverlap(t *testing.T) {
	d, err := NewYOLODecoder(YOLOv3Tiny, yoloInput, yoloInput)
	test.That(t, err, test.ShouldBeNil)

	// two anchors of the same cell fire on the same class with nearly the
	// same box; the scores differ
	scale0 := emptyScale(13)
	stride := 5 + numClasses
	base := ((6*13 + 6) * anchorCount) * stride
	for a, classLogit := range map[int]float32{1: logit(0.9), 2: logit(0.7)} {
		off := base + a*stride
		scale0.Data[off+0] = logit(0.5)
		scale0.Data[off+1] = logit(0.5)
		// size both anchors to the same 100x100 px box so they overlap fully
		scale0.Data[off+2] = float32(math.Log(100.0 / anchorSets[YOLOv3Tiny].Scales[0][a].W))
		scale0.Data[off+3] = float32(math.Log(100.0 / anchorSets[YOLOv3Tiny].Scales[0][a].H))
		scale0.Data[off+4] = acceptLogit
		scale0.Data[off+5] = classLogit
	}

	dets, err := d.Decode(RawOutput{scale0, emptyScale(26)}, LabelTable{"person", "bicycle"}, 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 2)
	test.That(t, dets[0].Box().IoU(dets[1].Box()), test.ShouldBeGreaterThan, 0.5)

	kept := detection.NewNMSFilter(0.5)(dets)
	test.That(t, kept, test.ShouldHaveLength, 1)
	test.That(t, kept[0].Score(), test.ShouldAlmostEqual, 0.9, 1e-5)
}
