package backend

import (
	"context"
	"image"
	"runtime"

	"github.com/edaniels/golog"
	tflite "github.com/mattn/go-tflite"
	"github.com/mattn/go-tflite/delegates"
	"github.com/mattn/go-tflite/delegates/edgetpu"
	"github.com/pkg/errors"

	"github.com/blue-cosmos/object-detection-tflite/decode"
)

// TFLiteConfig specifies the fields necessary for creating a TFLite backend.
type TFLiteConfig struct {
	ModelPath  string        `json:"model_path"`
	Mode       ExecutionMode `json:"mode"`
	NumThreads int           `json:"num_threads"`
}

// TFLite runs a .tflite model through the TFLite C interpreter, optionally
// behind an EdgeTPU delegate.
type TFLite struct {
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	delegate    delegates.Delegater
	inputW      int
	inputH      int
	inputType   tflite.TensorType
	logger      golog.Logger
}

// NewTFLite loads the model at cfg.ModelPath and prepares an interpreter for
// it. With ModeEdgeTPU an attached accelerator is required.
func NewTFLite(cfg TFLiteConfig, logger golog.Logger) (*TFLite, error) {
	model := tflite.NewModelFromFile(cfg.ModelPath)
	if model == nil {
		return nil, errors.Errorf("failed to load model %q", cfg.ModelPath)
	}

	options := tflite.NewInterpreterOptions()
	if options == nil {
		model.Delete()
		return nil, errors.New("interpreter options failed to be created")
	}
	numThreads := cfg.NumThreads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	options.SetNumThread(numThreads)
	options.SetErrorReporter(func(msg string, userData interface{}) {
		logger.Errorw("tflite runtime error", "error", msg)
	}, nil)

	var delegate delegates.Delegater
	if cfg.Mode == ModeEdgeTPU {
		devices, err := edgetpu.DeviceList()
		if err != nil {
			options.Delete()
			model.Delete()
			return nil, errors.Wrap(err, "could not list EdgeTPU devices")
		}
		if len(devices) == 0 {
			options.Delete()
			model.Delete()
			return nil, errors.New("no EdgeTPU device attached")
		}
		delegate = edgetpu.New(devices[0])
		if delegate == nil {
			options.Delete()
			model.Delete()
			return nil, errors.New("failed to create EdgeTPU delegate")
		}
		options.AddDelegate(delegate)
	}

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.New("failed to create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, errors.New("failed to allocate tensors")
	}

	input := interpreter.GetInputTensor(0)
	if input.NumDims() != 4 {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, errors.Errorf("model input has %d dims, want 4 (1, h, w, 3)", input.NumDims())
	}
	t := &TFLite{
		model:       model,
		options:     options,
		interpreter: interpreter,
		delegate:    delegate,
		inputH:      input.Dim(1),
		inputW:      input.Dim(2),
		inputType:   input.Type(),
		logger:      logger,
	}
	return t, nil
}

// InputSize returns the width and height the model expects its input to be.
func (t *TFLite) InputSize() (int, int) {
	return t.inputW, t.inputH
}

// Infer fills the input tensor from img, invokes the interpreter, and copies
// out every output tensor as float32 data (dequantizing uint8 outputs).
func (t *TFLite) Infer(ctx context.Context, img image.Image) (decode.RawOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if img.Bounds().Dx() != t.inputW || img.Bounds().Dy() != t.inputH {
		return nil, errors.Errorf("image is %dx%d, model wants %dx%d",
			img.Bounds().Dx(), img.Bounds().Dy(), t.inputW, t.inputH)
	}

	input := t.interpreter.GetInputTensor(0)
	switch t.inputType {
	case tflite.UInt8:
		copy(input.UInt8s(), ImageToUInt8Buffer(img))
	case tflite.Float32:
		copy(input.Float32s(), ImageToFloat32Buffer(img))
	default:
		return nil, errors.Errorf("unsupported model input type %v", t.inputType)
	}

	if status := t.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.New("interpreter invoke failed")
	}

	count := t.interpreter.GetOutputTensorCount()
	raw := make(decode.RawOutput, 0, count)
	for i := 0; i < count; i++ {
		out := t.interpreter.GetOutputTensor(i)
		shape := make([]int, out.NumDims())
		for d := range shape {
			shape[d] = out.Dim(d)
		}
		var data []float32
		switch out.Type() {
		case tflite.Float32:
			src := out.Float32s()
			data = make([]float32, len(src))
			copy(data, src)
		case tflite.UInt8:
			params := out.QuantizationParams()
			scale, zero := params.Scale, params.ZeroPoint
			if scale == 0 {
				// quantized output without params, assume full-range scores
				scale, zero = 1.0/255.0, 0
			}
			src := out.UInt8s()
			data = make([]float32, len(src))
			for j, v := range src {
				data[j] = float32(scale * float64(int(v)-zero))
			}
		default:
			return nil, errors.Errorf("unsupported output tensor type %v", out.Type())
		}
		raw = append(raw, decode.Tensor{Shape: shape, Data: data})
	}
	return raw, nil
}

// Close releases the interpreter, its options, the delegate and the model.
func (t *TFLite) Close() error {
	t.interpreter.Delete()
	if t.delegate != nil {
		t.delegate.Delete()
	}
	t.options.Delete()
	t.model.Delete()
	return nil
}
