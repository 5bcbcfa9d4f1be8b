// Package render draws detection results onto frames.
package render

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/blue-cosmos/object-detection-tflite/detection"
)

var font *truetype.Font

// init sets up the font we want to use.
func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

const (
	fontSize  = 16.0
	lineWidth = 2.0
)

// cold-to-hot endpoints for the score gradient
var (
	coldColor, _ = colorful.Hex("#2040c0")
	hotColor, _  = colorful.Hex("#e03020")
)

// scoreColor maps a score in [threshold, 1] onto a cold-to-hot gradient, so a
// barely accepted detection and a confident one read differently at a glance.
func scoreColor(score, threshold float64) color.Color {
	t := 0.0
	if threshold < 1 {
		t = (score - threshold) / (1 - threshold)
	}
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	return coldColor.BlendLuv(hotColor, t)
}

// Overlay draws each detection's box, label and score onto a copy of the
// frame. Boxes arrive frame-normalized and are scaled to pixels here.
func Overlay(frame image.Image, detections []detection.Detection, threshold float64) (image.Image, error) {
	bounds := frame.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, errors.New("cannot overlay onto an empty frame")
	}
	dc := gg.NewContext(w, h)
	dc.DrawImage(frame, 0, 0)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: fontSize}))

	for _, d := range detections {
		box := d.Box()
		c := scoreColor(d.Score(), threshold)
		x := box.XMin * float64(w)
		y := box.YMin * float64(h)
		dc.SetColor(c)
		dc.SetLineWidth(lineWidth)
		dc.DrawRectangle(x, y, (box.XMax-box.XMin)*float64(w), (box.YMax-box.YMin)*float64(h))
		dc.Stroke()
		dc.DrawString(d.Label(), x+5, y+fontSize+2)
		dc.DrawString(fmt.Sprintf("%.3f", d.Score()), x+5, y+2*fontSize+4)
	}
	return dc.Image(), nil
}

// DrawStats writes the elapsed processing time and detection count into the
// top-left corner of an already overlaid image.
func DrawStats(img image.Image, elapsedMS float64, count int) image.Image {
	bounds := img.Bounds()
	dc := gg.NewContext(bounds.Dx(), bounds.Dy())
	dc.DrawImage(img, 0, 0)
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: fontSize}))
	dc.SetColor(color.White)
	dc.DrawString(fmt.Sprintf("Elapsed Time: %.1f[ms]", elapsedMS), 5, 5+fontSize)
	dc.DrawString(fmt.Sprintf("Detected Objects: %d", count), 5, 5+2*fontSize)
	return dc.Image()
}
