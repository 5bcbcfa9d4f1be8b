// detect runs a TFLite detection model over images or an image sequence and
// writes the frames back out with boxes and labels drawn on.
package main

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/blue-cosmos/object-detection-tflite/backend"
	"github.com/blue-cosmos/object-detection-tflite/decode"
	"github.com/blue-cosmos/object-detection-tflite/pipeline"
	"github.com/blue-cosmos/object-detection-tflite/render"
)

func main() {
	logger := golog.NewLogger("detect")
	app := &cli.App{
		Name:  "detect",
		Usage: "run object detection over images with a TFLite model",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "model", Required: true, Usage: "path to the .tflite model"},
			&cli.StringFlag{Name: "labels", Required: true, Usage: "path to the newline-delimited label file"},
			&cli.StringFlag{
				Name:  "family",
				Value: "ssd",
				Usage: "model family: ssd, yolov3-tiny, yolov3, yolov4, classification",
			},
			&cli.BoolFlag{Name: "tpu", Usage: "run on an attached EdgeTPU accelerator"},
			&cli.Float64Flag{Name: "threshold", Value: pipeline.DefaultScoreThreshold, Usage: "minimum detection score"},
			&cli.Float64Flag{Name: "nms-iou", Usage: "IoU threshold for non-max suppression"},
			&cli.StringFlag{Name: "gate", Value: "none", Usage: "region gate: none, motion, selective-search"},
			&cli.IntFlag{Name: "min-area", Usage: "minimum motion blob area in pixels"},
			&cli.IntFlag{Name: "proposal-cap", Usage: "maximum selective-search proposals per frame"},
			&cli.IntFlag{Name: "stride", Value: 1, Usage: "process every Nth frame"},
			&cli.IntFlag{Name: "top-k", Value: 1, Usage: "classification results to keep per region"},
			&cli.BoolFlag{Name: "hflip", Usage: "flip frames horizontally before detection"},
			&cli.BoolFlag{Name: "vflip", Usage: "flip frames vertically before detection"},
			&cli.StringFlag{Name: "out", Value: ".", Usage: "directory for overlaid output frames"},
		},
		ArgsUsage: "<image file or directory>",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return errors.New("expected exactly one image file or directory argument")
			}
			return run(c, logger)
		},
	}
	if err := app.Run(os.Args); err != nil {
		logger.Fatal(err)
	}
}

func run(c *cli.Context, logger golog.Logger) error {
	mode := backend.ModeFloat32
	if c.Bool("tpu") {
		mode = backend.ModeEdgeTPU
	}
	b, err := backend.NewTFLite(backend.TFLiteConfig{
		ModelPath: c.String("model"),
		Mode:      mode,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logger.Errorw("could not close backend", "error", err)
		}
	}()

	labels, err := decode.LoadLabels(c.String("labels"))
	if err != nil {
		return err
	}

	cfg := pipeline.Config{
		Family:         pipeline.ModelFamily(c.String("family")),
		Mode:           mode,
		ScoreThreshold: c.Float64("threshold"),
		NMSThreshold:   c.Float64("nms-iou"),
		TopK:           c.Int("top-k"),
		Gate:           pipeline.GateMode(c.String("gate")),
	}
	cfg.Motion.MinArea = c.Int("min-area")
	cfg.SelectiveSearch.MaxProposals = c.Int("proposal-cap")
	p, err := pipeline.New(cfg, b, labels, logger)
	if err != nil {
		return err
	}

	frames, err := newImageSource(c.Args().First(), c.Bool("hflip"), c.Bool("vflip"))
	if err != nil {
		return err
	}
	src := pipeline.NewSource(frames, pipeline.SourceConfig{Stride: c.Int("stride")}, nil, logger)
	defer func() {
		if err := src.Close(); err != nil {
			logger.Errorw("could not close frame source", "error", err)
		}
	}()

	ctx := context.Background()
	outDir := c.String("out")
	for i := 0; ; i++ {
		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		start := time.Now()
		dets, err := p.Detect(ctx, frame)
		if err != nil {
			return err
		}
		elapsed := float64(time.Since(start).Microseconds()) / 1000.0
		logger.Infow("processed frame", "frame", i, "detections", len(dets), "elapsed_ms", elapsed)
		for _, d := range dets {
			logger.Infof("  %v", d)
		}

		overlaid, err := render.Overlay(frame, dets, cfg.ScoreThreshold)
		if err != nil {
			return err
		}
		overlaid = render.DrawStats(overlaid, elapsed, len(dets))
		outPath := filepath.Join(outDir, fmt.Sprintf("detection_%04d.png", i))
		if err := imaging.Save(overlaid, outPath); err != nil {
			return errors.Wrapf(err, "could not save %q", outPath)
		}
	}
}

// imageSource feeds a fixed list of image files as frames, flipped as
// configured, and returns io.EOF when exhausted.
type imageSource struct {
	paths        []string
	idx          int
	hflip, vflip bool
}

func newImageSource(path string, hflip, vflip bool) (*imageSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	var paths []string
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			switch strings.ToLower(filepath.Ext(e.Name())) {
			case ".png", ".jpg", ".jpeg":
				paths = append(paths, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(paths)
		if len(paths) == 0 {
			return nil, errors.Errorf("no images found in %q", path)
		}
	} else {
		paths = []string{path}
	}
	return &imageSource{paths: paths, hflip: hflip, vflip: vflip}, nil
}

func (s *imageSource) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.idx >= len(s.paths) {
		return nil, io.EOF
	}
	f, err := os.Open(s.paths[s.idx])
	if err != nil {
		return nil, err
	}
	defer f.Close()
	s.idx++
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode %q", s.paths[s.idx-1])
	}
	if s.hflip {
		img = imaging.FlipH(img)
	}
	if s.vflip {
		img = imaging.FlipV(img)
	}
	return img, nil
}
