// Package pipeline orchestrates gating, inference, decoding and suppression
// into a single frame-in, detections-out call.
package pipeline

import (
	"github.com/pkg/errors"

	"github.com/blue-cosmos/object-detection-tflite/backend"
	"github.com/blue-cosmos/object-detection-tflite/decode"
	"github.com/blue-cosmos/object-detection-tflite/detection"
	"github.com/blue-cosmos/object-detection-tflite/gate"
)

// ModelFamily defines what model output conventions are known.
type ModelFamily string

// The set of allowed model families.
const (
	FamilySSD            = ModelFamily("ssd")
	FamilyYOLOv3Tiny     = ModelFamily("yolov3-tiny")
	FamilyYOLOv3         = ModelFamily("yolov3")
	FamilyYOLOv4         = ModelFamily("yolov4")
	FamilyClassification = ModelFamily("classification")
)

// GateMode selects which region proposer runs ahead of inference.
type GateMode string

// The set of allowed gate modes.
const (
	GateNone            = GateMode("none")
	GateMotion          = GateMode("motion")
	GateSelectiveSearch = GateMode("selective-search")
)

// ErrConfig is the sentinel wrapped by all construction-time configuration
// failures; it is always surfaced before the first frame.
var ErrConfig = errors.New("invalid pipeline configuration")

func configErrorf(format string, args ...interface{}) error {
	return errors.Wrapf(ErrConfig, format, args...)
}

// Config specifies how to build a detection pipeline.
type Config struct {
	Family ModelFamily           `json:"family"`
	Mode   backend.ExecutionMode `json:"mode"`

	// ScoreThreshold is the minimum confidence for an accepted detection.
	ScoreThreshold float64 `json:"score_threshold"`
	// NMSThreshold is the IoU above which same-class detections are merged.
	NMSThreshold float64 `json:"nms_threshold"`
	// ClassCount, when non-zero, is the class count the model declares; the
	// label table must match it exactly.
	ClassCount int `json:"class_count"`
	// TopK bounds how many classification results one region yields.
	TopK int `json:"top_k"`

	Gate            GateMode                   `json:"gate"`
	Motion          gate.MotionConfig          `json:"motion"`
	SelectiveSearch gate.SelectiveSearchConfig `json:"selective_search"`
}

// DefaultScoreThreshold is the score below which detections are discarded
// when the config leaves the threshold unset.
const DefaultScoreThreshold = 0.5

// Validate fills defaults and errors on unusable combinations.
func (c *Config) Validate() error {
	switch c.Family {
	case FamilySSD, FamilyYOLOv3Tiny, FamilyYOLOv3, FamilyYOLOv4, FamilyClassification:
	default:
		return configErrorf("unknown model family %q", c.Family)
	}
	switch c.Mode {
	case backend.ModeFloat32, backend.ModeFloat16, backend.ModeUInt8, backend.ModeEdgeTPU, "":
	default:
		return configErrorf("unknown execution mode %q", c.Mode)
	}
	switch c.Gate {
	case GateNone, GateMotion, GateSelectiveSearch, "":
	default:
		return configErrorf("unknown gate mode %q", c.Gate)
	}
	if c.ScoreThreshold == 0 {
		c.ScoreThreshold = DefaultScoreThreshold
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return configErrorf("score threshold %f not in [0, 1]", c.ScoreThreshold)
	}
	if c.NMSThreshold == 0 {
		c.NMSThreshold = detection.DefaultNMSThreshold
	}
	if c.NMSThreshold < 0 || c.NMSThreshold > 1 {
		return configErrorf("NMS IoU threshold %f not in [0, 1]", c.NMSThreshold)
	}
	if c.Motion.Alpha == 0 {
		c.Motion.Alpha = gate.DefaultMotionAlpha
	}
	return nil
}

// checkLabels errors when the label table does not cover the model's declared
// class space. A mismatched table would silently mislabel every detection.
func (c *Config) checkLabels(labels decode.LabelTable) error {
	if c.ClassCount > 0 && labels.Len() != c.ClassCount {
		return configErrorf("label table has %d entries, model declares %d classes",
			labels.Len(), c.ClassCount)
	}
	return nil
}
