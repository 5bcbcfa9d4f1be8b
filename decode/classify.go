package decode

import (
	"sort"

	"github.com/blue-cosmos/object-detection-tflite/detection"
)

// classificationDecoder handles whole-image classification models used for
// motion-gated or region-gated recognition. The model emits a single score
// vector over the class space; the "box" of each result is the full extent of
// whatever region was fed to the model.
type classificationDecoder struct {
	topK      int
	inputType TensorType
}

// NewClassificationDecoder returns a decoder that keeps the topK highest
// scoring labels (topK defaults to 1 when non-positive).
func NewClassificationDecoder(topK int, inputType TensorType) Decoder {
	if topK < 1 {
		topK = 1
	}
	return &classificationDecoder{topK: topK, inputType: inputType}
}

func (d *classificationDecoder) NeedsNMS() bool {
	return false
}

func (d *classificationDecoder) InputType() TensorType {
	return d.inputType
}

// Decode expects a single tensor holding one score per class in [0, 1].
func (d *classificationDecoder) Decode(raw RawOutput, labels LabelTable, threshold float64) ([]detection.Detection, error) {
	if len(raw) != 1 {
		return nil, decodeErrorf("classification expects 1 output tensor, got %d", len(raw))
	}
	scores := raw[0].Data
	if len(scores) == 0 {
		return nil, decodeErrorf("classification score tensor is empty")
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return scores[order[i]] > scores[order[j]]
	})

	detections := make([]detection.Detection, 0, d.topK)
	k := d.topK
	if k > len(order) {
		k = len(order)
	}
	for _, classID := range order[:k] {
		score := float64(scores[classID])
		if score < threshold {
			break
		}
		detections = append(detections,
			detection.NewDetection(detection.UnitBox, score, classID, labels.Name(classID)))
	}
	return detections, nil
}
