// Package backend wraps model execution: images in, raw tensors out. The
// execution mode (CPU float or quantized, or an accelerator delegate) is a
// construction-time choice and never changes what the tensors mean.
package backend

import (
	"context"
	"image"

	"github.com/blue-cosmos/object-detection-tflite/decode"
)

// ExecutionMode selects the numeric precision / execution target for a model.
type ExecutionMode string

// The set of allowed execution modes.
const (
	ModeFloat32 = ExecutionMode("float32")
	ModeFloat16 = ExecutionMode("float16")
	ModeUInt8   = ExecutionMode("uint8")
	ModeEdgeTPU = ExecutionMode("edgetpu")
)

// Backend runs inference on a single image sized to the model's input shape.
// Implementations are not safe for concurrent Infer calls; the pipeline runs
// frame-synchronously against one Backend instance.
type Backend interface {
	// Infer runs the model on img and returns the raw output tensors.
	// An execution failure is fatal for the session.
	Infer(ctx context.Context, img image.Image) (decode.RawOutput, error)
	// InputSize returns the width and height the model expects.
	InputSize() (w, h int)
	// Close releases the model and interpreter.
	Close() error
}

// ImageToUInt8Buffer reads an image into a flat RGB byte buffer, left to
// right, row by row.
func ImageToUInt8Buffer(img image.Image) []uint8 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]uint8, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			base := (y*w + x) * 3
			out[base] = uint8(r >> 8)
			out[base+1] = uint8(g >> 8)
			out[base+2] = uint8(b >> 8)
		}
	}
	return out
}

// ImageToFloat32Buffer reads an image into a flat RGB float buffer with each
// channel scaled to [0, 1].
func ImageToFloat32Buffer(img image.Image) []float32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	out := make([]float32, w*h*3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			base := (y*w + x) * 3
			out[base] = float32(r>>8) / 255.0
			out[base+1] = float32(g>>8) / 255.0
			out[base+2] = float32(b>>8) / 255.0
		}
	}
	return out
}
