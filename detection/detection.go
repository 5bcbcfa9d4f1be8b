// Package detection defines the unified detection result type shared by all
// model decoders, along with postprocessing filters and non-max suppression.
package detection

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

// Box is an axis-aligned bounding box in frame-normalized coordinates.
// All four values are in [0, 1] with XMin < XMax and YMin < YMax.
type Box struct {
	XMin, YMin, XMax, YMax float64
}

// NewBox clamps the given corners to [0, 1] and returns the resulting box.
func NewBox(xMin, yMin, xMax, yMax float64) Box {
	return Box{
		XMin: clamp(xMin, 0, 1),
		YMin: clamp(yMin, 0, 1),
		XMax: clamp(xMax, 0, 1),
		YMax: clamp(yMax, 0, 1),
	}
}

// UnitBox is the full extent of a frame or region.
var UnitBox = Box{0, 0, 1, 1}

// Valid returns whether the box has positive area and lies within [0, 1].
func (b Box) Valid() bool {
	return b.XMin < b.XMax && b.YMin < b.YMax &&
		b.XMin >= 0 && b.YMin >= 0 && b.XMax <= 1 && b.YMax <= 1
}

// Area returns the area of the box in normalized units.
func (b Box) Area() float64 {
	if b.XMax <= b.XMin || b.YMax <= b.YMin {
		return 0
	}
	return (b.XMax - b.XMin) * (b.YMax - b.YMin)
}

// IoU returns the intersection-over-union of two boxes, 0 if they are disjoint.
func (b Box) IoU(other Box) float64 {
	interW := math.Min(b.XMax, other.XMax) - math.Max(b.XMin, other.XMin)
	interH := math.Min(b.YMax, other.YMax) - math.Max(b.YMin, other.YMin)
	if interW <= 0 || interH <= 0 {
		return 0
	}
	inter := interW * interH
	union := b.Area() + other.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Detection returns a bounding box around an object, along with the class of
// the object and the confidence score of the detection.
type Detection interface {
	// Box returns the bounding box in frame-normalized coordinates.
	Box() Box
	// Score returns the confidence of the detection, between 0 and 1.
	Score() float64
	// ClassID returns the model's class index for the detection.
	ClassID() int
	// Label returns the label of the class of the detection.
	Label() string
}

// detection2D is a simple struct for storing 2D detections.
type detection2D struct {
	box     Box
	score   float64
	classID int
	label   string
}

// NewDetection creates a detection from a normalized box, score, class index and label.
func NewDetection(box Box, score float64, classID int, label string) Detection {
	return &detection2D{box: box, score: score, classID: classID, label: label}
}

// Box returns the bounding box of the detection.
func (d *detection2D) Box() Box {
	return d.box
}

// Score returns a confidence score of the detection between 0.0 and 1.0.
func (d *detection2D) Score() float64 {
	return d.score
}

// ClassID returns the class index of the detection.
func (d *detection2D) ClassID() int {
	return d.classID
}

// Label returns the class label of the detection.
func (d *detection2D) Label() string {
	return d.label
}

func (d *detection2D) String() string {
	return fmt.Sprintf("Label: %s, Score: %.2f, Box: (%.3f,%.3f)-(%.3f,%.3f)",
		d.label, d.score, d.box.XMin, d.box.YMin, d.box.XMax, d.box.YMax)
}

// CheckValid errors if the detection's box is degenerate or out of range.
func CheckValid(d Detection) error {
	if !d.Box().Valid() {
		return errors.Errorf("detection %q has invalid bounding box (%v)", d.Label(), d.Box())
	}
	return nil
}

func clamp(v, low, high float64) float64 {
	return math.Max(low, math.Min(high, v))
}
