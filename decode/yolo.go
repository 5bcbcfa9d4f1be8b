package decode

import (
	"math"

	"github.com/pkg/errors"

	"github.com/blue-cosmos/object-detection-tflite/detection"
)

// Anchor is one predefined (width, height) box template, in pixels of the
// model's input resolution.
type Anchor struct {
	W, H float64
}

// AnchorSet holds the anchor templates for each output scale of a YOLO
// variant, outermost scale first, matching the model's output tensor order.
type AnchorSet struct {
	Scales   [][]Anchor
	XYScales []float64
}

// YOLOVariant names a supported raw-YOLO model family.
type YOLOVariant string

// The set of supported YOLO variants.
const (
	YOLOv3Tiny = YOLOVariant("yolov3-tiny")
	YOLOv3     = YOLOVariant("yolov3")
	YOLOv4     = YOLOVariant("yolov4")
)

// anchorSets are the fixed anchor tables for each variant, keyed the same way
// the models were trained.
var anchorSets = map[YOLOVariant]AnchorSet{
	YOLOv3Tiny: {
		Scales: [][]Anchor{
			{{10, 14}, {23, 27}, {37, 58}},
			{{81, 82}, {135, 169}, {344, 319}},
		},
		XYScales: []float64{1.0, 1.0},
	},
	YOLOv3: {
		Scales: [][]Anchor{
			{{10, 13}, {16, 30}, {33, 23}},
			{{30, 61}, {62, 45}, {59, 119}},
			{{116, 90}, {156, 198}, {373, 326}},
		},
		XYScales: []float64{1.0, 1.0, 1.0},
	},
	YOLOv4: {
		Scales: [][]Anchor{
			{{12, 16}, {19, 36}, {40, 28}},
			{{36, 75}, {76, 55}, {72, 146}},
			{{142, 110}, {192, 243}, {459, 401}},
		},
		XYScales: []float64{1.2, 1.1, 1.05},
	},
}

// yoloDecoder decodes raw grid tensors from YOLO models that have no
// postprocessing baked into the graph.
type yoloDecoder struct {
	anchors        AnchorSet
	inputW, inputH int
}

// NewYOLODecoder returns a decoder for the given raw YOLO variant. The model's
// input resolution is needed to scale the pixel-space anchor templates into
// normalized box sizes.
func NewYOLODecoder(variant YOLOVariant, inputW, inputH int) (Decoder, error) {
	anchors, ok := anchorSets[variant]
	if !ok {
		return nil, errors.Errorf("unknown YOLO variant %q", variant)
	}
	if inputW <= 0 || inputH <= 0 {
		return nil, errors.Errorf("invalid YOLO input size %dx%d", inputW, inputH)
	}
	return &yoloDecoder{anchors: anchors, inputW: inputW, inputH: inputH}, nil
}

func (d *yoloDecoder) NeedsNMS() bool {
	return true
}

func (d *yoloDecoder) InputType() TensorType {
	return TypeFloat32
}

// Decode expects one tensor per scale, each shaped (1, gridH, gridW,
// anchors*(5+numClasses)); the 5 are tx, ty, tw, th and the objectness logit.
func (d *yoloDecoder) Decode(raw RawOutput, labels LabelTable, threshold float64) ([]detection.Detection, error) {
	if len(raw) != len(d.anchors.Scales) {
		return nil, decodeErrorf("yolo expects %d output scales, got %d", len(d.anchors.Scales), len(raw))
	}
	var detections []detection.Detection
	for scale, t := range raw {
		scaleDets, err := d.decodeScale(t, scale, labels, threshold)
		if err != nil {
			return nil, err
		}
		detections = append(detections, scaleDets...)
	}
	return detections, nil
}

func (d *yoloDecoder) decodeScale(t Tensor, scale int, labels LabelTable, threshold float64) ([]detection.Detection, error) {
	anchors := d.anchors.Scales[scale]
	xyScale := d.anchors.XYScales[scale]

	if len(t.Shape) != 4 || t.Shape[0] != 1 {
		return nil, decodeErrorf("yolo scale %d has shape %v, want (1, gridH, gridW, channels)", scale, t.Shape)
	}
	gridH, gridW, channels := t.Shape[1], t.Shape[2], t.Shape[3]
	if gridH <= 0 || gridW <= 0 || channels%len(anchors) != 0 {
		return nil, decodeErrorf("yolo scale %d has %d channels, not divisible by %d anchors", scale, channels, len(anchors))
	}
	stride := channels / len(anchors)
	numClasses := stride - 5
	if numClasses < 1 {
		return nil, decodeErrorf("yolo scale %d has %d values per anchor, need at least 6", scale, stride)
	}
	if len(t.Data) < t.Elems() {
		return nil, decodeErrorf("yolo scale %d tensor has %d values, shape %v needs %d", scale, len(t.Data), t.Shape, t.Elems())
	}

	var detections []detection.Detection
	for cy := 0; cy < gridH; cy++ {
		for cx := 0; cx < gridW; cx++ {
			for a := range anchors {
				off := ((cy*gridW+cx)*len(anchors) + a) * stride
				// early reject on objectness, grids can have thousands of cells
				objectness := sigmoid(float64(t.Data[off+4]))
				if objectness < threshold {
					continue
				}
				bestClass, bestScore := -1, 0.0
				for c := 0; c < numClasses; c++ {
					score := sigmoid(float64(t.Data[off+5+c])) * objectness
					if score > bestScore {
						bestClass, bestScore = c, score
					}
				}
				if bestClass < 0 || bestScore < threshold {
					continue
				}
				box := d.decodeBox(t.Data[off:off+4], cx, cy, gridW, gridH, anchors[a], xyScale)
				if !box.Valid() {
					continue
				}
				detections = append(detections,
					detection.NewDetection(box, bestScore, bestClass, labels.Name(bestClass)))
			}
		}
	}
	return detections, nil
}

// decodeBox turns the four raw box values of one (cell, anchor) pair into a
// normalized corner box. Centers come from the sigmoid of tx, ty offset into
// the cell; sizes from the anchor template scaled by exp(tw), exp(th).
func (d *yoloDecoder) decodeBox(txywh []float32, cx, cy, gridW, gridH int, anchor Anchor, xyScale float64) detection.Box {
	centerX := (float64(cx) + xyScale*sigmoid(float64(txywh[0])) - 0.5*(xyScale-1)) / float64(gridW)
	centerY := (float64(cy) + xyScale*sigmoid(float64(txywh[1])) - 0.5*(xyScale-1)) / float64(gridH)
	// clampedExp keeps a wild tw/th logit from overflowing; NewBox then caps
	// the corners at the image bounds.
	w := anchor.W * clampedExp(float64(txywh[2])) / float64(d.inputW)
	h := anchor.H * clampedExp(float64(txywh[3])) / float64(d.inputH)
	return detection.NewBox(centerX-w/2, centerY-h/2, centerX+w/2, centerY+h/2)
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// clampedExp bounds the exponent so exp never overflows to +Inf; e^20 already
// corresponds to a box far larger than any input image.
func clampedExp(x float64) float64 {
	if x > 20 {
		x = 20
	}
	return math.Exp(x)
}
