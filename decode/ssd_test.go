package decode

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/blue-cosmos/object-detection-tflite/detection"
)

var cocoStart = LabelTable{"person", "bicycle", "car"}

// ssdRaw builds the four-tensor postprocessed layout: boxes are
// (ymin, xmin, ymax, xmax) per detection.
func ssdRaw(boxes [][4]float32, classes, scores []float32) RawOutput {
	flat := make([]float32, 0, len(boxes)*4)
	for _, b := range boxes {
		flat = append(flat, b[:]...)
	}
	return RawOutput{
		{Shape: []int{1, len(boxes), 4}, Data: flat},
		{Shape: []int{1, len(classes)}, Data: classes},
		{Shape: []int{1, len(scores)}, Data: scores},
		{Shape: []int{1}, Data: []float32{float32(len(boxes))}},
	}
}

func TestSSDDecodeSingleBox(t *testing.T) {
	d := NewSSDDecoder()
	test.That(t, d.NeedsNMS(), test.ShouldBeFalse)
	test.That(t, d.InputType(), test.ShouldEqual, TypeUInt8)

	raw := ssdRaw([][4]float32{{0.1, 0.1, 0.5, 0.5}}, []float32{0}, []float32{0.9})
	dets, err := d.Decode(raw, cocoStart, 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 1)
	test.That(t, dets[0].Label(), test.ShouldEqual, "person")
	test.That(t, dets[0].Score(), test.ShouldAlmostEqual, 0.9, 1e-6)
	test.That(t, dets[0].Box(), test.ShouldResemble, detection.Box{XMin: 0.1, YMin: 0.1, XMax: 0.5, YMax: 0.5})
}

func TestSSDDecodeThreshold(t *testing.T) {
	raw := ssdRaw(
		[][4]float32{{0.1, 0.1, 0.5, 0.5}, {0.2, 0.2, 0.6, 0.6}},
		[]float32{0, 1},
		[]float32{0.9, 0.3},
	)
	dets, err := NewSSDDecoder().Decode(raw, cocoStart, 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 1)
	for _, d := range dets {
		test.That(t, d.Score(), test.ShouldBeGreaterThanOrEqualTo, 0.5)
	}
}

func TestSSDDecodeShapeMismatch(t *testing.T) {
	d := NewSSDDecoder()
	// wrong tensor count
	_, err := d.Decode(RawOutput{{Shape: []int{1}, Data: []float32{0}}}, cocoStart, 0.5)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrDecode), test.ShouldBeTrue)

	// count claims more detections than the tensors hold
	raw := ssdRaw([][4]float32{{0.1, 0.1, 0.5, 0.5}}, []float32{0}, []float32{0.9})
	raw[3].Data[0] = 10
	_, err = d.Decode(raw, cocoStart, 0.5)
	test.That(t, errors.Is(err, ErrDecode), test.ShouldBeTrue)
}

func TestSSDDecodeDropsDegenerateBoxes(t *testing.T) {
	raw := ssdRaw([][4]float32{{0.5, 0.5, 0.5, 0.5}}, []float32{0}, []float32{0.9})
	dets, err := NewSSDDecoder().Decode(raw, cocoStart, 0.5)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dets, test.ShouldHaveLength, 0)
}
