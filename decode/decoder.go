// Package decode converts the raw output tensors of a TFLite model into
// unified detections, with one decoder per supported model output convention.
package decode

import (
	"github.com/pkg/errors"

	"github.com/blue-cosmos/object-detection-tflite/detection"
)

// TensorType is the element type a model expects for its input tensor.
type TensorType string

// The set of input tensor types.
const (
	TypeUInt8   = TensorType("uint8")
	TypeFloat32 = TensorType("float32")
)

// Tensor is one raw output tensor from an inference call. Data is stored
// flattened in row-major order; Shape describes the logical dimensions.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Elems returns the number of elements the shape describes.
func (t Tensor) Elems() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// RawOutput is the full set of output tensors from one inference call,
// in the model's declared output order.
type RawOutput []Tensor

// ErrDecode is the sentinel wrapped by all tensor-layout decode failures.
// A decode failure is fatal for the frame, not for the session.
var ErrDecode = errors.New("raw output does not match decoder layout")

func decodeErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrDecode, format, args...)
}

// Decoder turns the raw output of one model family into detections.
// A decoder is selected once from configuration; it never inspects tensor
// shapes to guess the model family, only to validate them.
type Decoder interface {
	// Decode converts raw tensors into detections with scores of at least
	// threshold. Boxes are normalized to the inference input's extent.
	Decode(raw RawOutput, labels LabelTable, threshold float64) ([]detection.Detection, error)
	// NeedsNMS reports whether the decoder's output still contains
	// overlapping duplicates that require non-max suppression.
	NeedsNMS() bool
	// InputType returns the element type the model family expects as input.
	InputType() TensorType
}
