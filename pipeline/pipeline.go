package pipeline

import (
	"context"
	"image"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/blue-cosmos/object-detection-tflite/backend"
	"github.com/blue-cosmos/object-detection-tflite/decode"
	"github.com/blue-cosmos/object-detection-tflite/detection"
	"github.com/blue-cosmos/object-detection-tflite/gate"
)

// Pipeline turns frames into labeled, scored, de-duplicated detections in
// frame-normalized coordinates. It is stateless between frames except for the
// motion gate's background estimate, which belongs to the gate instance.
type Pipeline struct {
	cfg      Config
	backend  backend.Backend
	decoder  decode.Decoder
	proposer gate.Proposer
	suppress detection.Postprocessor
	labels   decode.LabelTable
	logger   golog.Logger
}

// New builds a pipeline from configuration. The decoder variant is fixed here,
// once; tensor shapes are validated per frame against it, never sniffed. All
// configuration mistakes surface from this call, before the first frame.
func New(cfg Config, b backend.Backend, labels decode.LabelTable, logger golog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, configErrorf("pipeline must have a backend")
	}
	if err := cfg.checkLabels(labels); err != nil {
		return nil, err
	}

	inputW, inputH := b.InputSize()
	var decoder decode.Decoder
	var err error
	switch cfg.Family {
	case FamilySSD:
		decoder = decode.NewSSDDecoder()
	case FamilyYOLOv3Tiny, FamilyYOLOv3, FamilyYOLOv4:
		decoder, err = decode.NewYOLODecoder(decode.YOLOVariant(cfg.Family), inputW, inputH)
		if err != nil {
			return nil, errors.Wrap(ErrConfig, err.Error())
		}
	case FamilyClassification:
		inType := decode.TypeFloat32
		if cfg.Mode == backend.ModeUInt8 || cfg.Mode == backend.ModeEdgeTPU {
			inType = decode.TypeUInt8
		}
		decoder = decode.NewClassificationDecoder(cfg.TopK, inType)
	}

	var proposer gate.Proposer
	switch cfg.Gate {
	case GateMotion:
		proposer, err = gate.NewMotionProposer(cfg.Motion)
	case GateSelectiveSearch:
		proposer, err = gate.NewSelectiveSearchProposer(cfg.SelectiveSearch)
	default:
		proposer = gate.NewNullProposer()
	}
	if err != nil {
		return nil, errors.Wrap(ErrConfig, err.Error())
	}

	return &Pipeline{
		cfg:      cfg,
		backend:  b,
		decoder:  decoder,
		proposer: proposer,
		suppress: detection.NewNMSFilter(cfg.NMSThreshold),
		labels:   labels,
		logger:   logger,
	}, nil
}

// Detect runs the full gate, infer, decode, suppress sequence on one frame.
// Returned boxes are normalized to the full frame, highest score first. A
// tensor-layout mismatch skips the frame with a log line instead of ending
// the session; a backend execution failure is fatal and propagates.
func (p *Pipeline) Detect(ctx context.Context, frame image.Image) ([]detection.Detection, error) {
	regions, err := p.proposer.Propose(frame)
	if err != nil {
		return nil, errors.Wrap(err, "region proposal failed")
	}
	if len(regions) == 0 {
		// nothing moved, inference skipped for the whole frame
		return nil, nil
	}

	inputW, inputH := p.backend.InputSize()
	frameBounds := frame.Bounds()
	var all []detection.Detection
	for _, region := range regions {
		region = region.Intersect(frameBounds)
		if region.Dx() <= 0 || region.Dy() <= 0 {
			continue
		}
		cropped := imaging.Crop(frame, region)
		input := resize.Resize(uint(inputW), uint(inputH), cropped, resize.Bilinear)
		raw, err := p.backend.Infer(ctx, input)
		if err != nil {
			return nil, errors.Wrap(err, "inference failed")
		}
		dets, err := p.decoder.Decode(raw, p.labels, p.cfg.ScoreThreshold)
		if err != nil {
			if errors.Is(err, decode.ErrDecode) {
				p.logger.Errorw("skipping frame, raw output did not match decoder", "error", err)
				return nil, nil
			}
			return nil, err
		}
		all = append(all, remapToFrame(dets, region, frameBounds)...)
	}

	if p.decoder.NeedsNMS() {
		all = p.suppress(all)
	}
	return detection.SortByScore(all), nil
}

// Close releases the backend.
func (p *Pipeline) Close() error {
	return p.backend.Close()
}

// remapToFrame converts region-local normalized boxes into frame-normalized
// ones: offset by the region's origin, scaled by the region's share of the
// frame.
func remapToFrame(dets []detection.Detection, region, frame image.Rectangle) []detection.Detection {
	if region.Min == frame.Min && region.Max == frame.Max {
		return dets
	}
	frameW, frameH := float64(frame.Dx()), float64(frame.Dy())
	offX := float64(region.Min.X-frame.Min.X) / frameW
	offY := float64(region.Min.Y-frame.Min.Y) / frameH
	scaleX := float64(region.Dx()) / frameW
	scaleY := float64(region.Dy()) / frameH
	out := make([]detection.Detection, 0, len(dets))
	for _, d := range dets {
		b := d.Box()
		remapped := detection.NewBox(
			offX+b.XMin*scaleX,
			offY+b.YMin*scaleY,
			offX+b.XMax*scaleX,
			offY+b.YMax*scaleY,
		)
		if !remapped.Valid() {
			continue
		}
		out = append(out, detection.NewDetection(remapped, d.Score(), d.ClassID(), d.Label()))
	}
	return out
}
