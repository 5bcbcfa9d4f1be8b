package decode

import (
	"github.com/blue-cosmos/object-detection-tflite/detection"
)

// ssdDecoder handles SSD-style models with an on-device postprocess op.
// The model emits four parallel tensors: boxes, class indices, scores, and a
// valid-count scalar. Boxes are already sorted, thresholded and de-duplicated
// by the device-side NMS, so no decode math is needed here.
type ssdDecoder struct{}

// NewSSDDecoder returns a decoder for SSD models with built-in postprocessing.
func NewSSDDecoder() Decoder {
	return &ssdDecoder{}
}

func (d *ssdDecoder) NeedsNMS() bool {
	return false
}

func (d *ssdDecoder) InputType() TensorType {
	return TypeUInt8
}

// Decode expects raw = [boxes(count,4 as ymin,xmin,ymax,xmax), classes(count),
// scores(count), count(1)], the standard TFLite detection postprocess layout.
func (d *ssdDecoder) Decode(raw RawOutput, labels LabelTable, threshold float64) ([]detection.Detection, error) {
	if len(raw) != 4 {
		return nil, decodeErrorf("ssd expects 4 output tensors, got %d", len(raw))
	}
	boxes, classes, scores, countT := raw[0], raw[1], raw[2], raw[3]
	if len(countT.Data) < 1 {
		return nil, decodeErrorf("ssd count tensor is empty")
	}
	count := int(countT.Data[0])
	if count < 0 || len(boxes.Data) < 4*count || len(classes.Data) < count || len(scores.Data) < count {
		return nil, decodeErrorf(
			"ssd count %d exceeds tensor capacity (boxes %d, classes %d, scores %d)",
			count, len(boxes.Data), len(classes.Data), len(scores.Data))
	}

	detections := make([]detection.Detection, 0, count)
	for i := 0; i < count; i++ {
		score := float64(scores.Data[i])
		if score < threshold {
			continue
		}
		classID := int(classes.Data[i])
		yMin, xMin := float64(boxes.Data[4*i]), float64(boxes.Data[4*i+1])
		yMax, xMax := float64(boxes.Data[4*i+2]), float64(boxes.Data[4*i+3])
		box := detection.NewBox(xMin, yMin, xMax, yMax)
		if !box.Valid() {
			continue
		}
		detections = append(detections, detection.NewDetection(box, score, classID, labels.Name(classID)))
	}
	return detections, nil
}
