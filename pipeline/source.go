package pipeline

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// FrameSource supplies frames one at a time. Flipping and orientation are the
// source's concern; the pipeline consumes frames as given. Sources signal
// exhaustion with io.EOF.
type FrameSource interface {
	Next(ctx context.Context) (image.Image, error)
}

// SourceConfig chooses the feeding policy between the frame source and the
// pipeline. Live capture and offline media differ only in these fields, not
// in the pipeline itself.
type SourceConfig struct {
	// DropStale, when true, keeps only the freshest frame while the
	// pipeline is busy: live detection is latency-sensitive, not
	// completeness-sensitive. When false every frame is handed over in
	// order.
	DropStale bool `json:"drop_stale"`
	// Stride processes every Stride-th frame and is only honored when
	// DropStale is false; 0 and 1 both mean every frame.
	Stride int `json:"stride"`
	// PollInterval paces the producer in DropStale mode. Zero polls as
	// fast as the source delivers.
	PollInterval time.Duration `json:"poll_interval"`
}

// Source feeds frames from a FrameSource into a detection session. In
// DropStale mode a producer goroutine fills a single-slot buffer, overwriting
// any frame the pipeline has not picked up yet; otherwise frames are pulled
// synchronously in lockstep.
type Source struct {
	src    FrameSource
	cfg    SourceConfig
	clk    clock.Clock
	logger golog.Logger

	latest     chan image.Image
	done       chan struct{}
	cancel     context.CancelFunc
	err        error
	frameIndex int
}

// NewSource wraps src with the given feeding policy. The clock paces the
// producer and exists so tests can drive time themselves.
func NewSource(src FrameSource, cfg SourceConfig, clk clock.Clock, logger golog.Logger) *Source {
	if clk == nil {
		clk = clock.New()
	}
	s := &Source{
		src:    src,
		cfg:    cfg,
		clk:    clk,
		logger: logger,
	}
	if cfg.DropStale {
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.latest = make(chan image.Image, 1)
		s.done = make(chan struct{})
		go s.produce(ctx)
	}
	return s
}

// produce keeps the single-slot buffer holding the freshest frame. A frame
// already in the slot is dropped, not queued.
func (s *Source) produce(ctx context.Context) {
	defer close(s.done)
	var ticker *clock.Ticker
	if s.cfg.PollInterval > 0 {
		ticker = s.clk.Ticker(s.cfg.PollInterval)
		defer ticker.Stop()
	}
	for {
		if ticker != nil {
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			}
		} else if ctx.Err() != nil {
			return
		}
		frame, err := s.src.Next(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.err = err
				if !errors.Is(err, io.EOF) && s.logger != nil {
					s.logger.Errorw("frame source ended", "error", err)
				}
			}
			return
		}
		select {
		case s.latest <- frame:
		default:
			select {
			case <-s.latest:
			default:
			}
			s.latest <- frame
		}
	}
}

// Next returns the next frame to process. In DropStale mode that is the
// freshest frame the producer has buffered; otherwise the next frame of the
// media, honoring the configured stride.
func (s *Source) Next(ctx context.Context) (image.Image, error) {
	if !s.cfg.DropStale {
		return s.nextLockstep(ctx)
	}
	select {
	case frame := <-s.latest:
		return frame, nil
	case <-s.done:
		select {
		case frame := <-s.latest:
			return frame, nil
		default:
		}
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Source) nextLockstep(ctx context.Context) (image.Image, error) {
	stride := s.cfg.Stride
	if stride < 1 {
		stride = 1
	}
	for {
		frame, err := s.src.Next(ctx)
		if err != nil {
			return nil, err
		}
		idx := s.frameIndex
		s.frameIndex++
		if idx%stride == 0 {
			return frame, nil
		}
	}
}

// Close stops the producer and closes the underlying source if it is a
// Closer.
func (s *Source) Close() error {
	var err error
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
	if closer, ok := s.src.(io.Closer); ok {
		err = multierr.Append(err, closer.Close())
	}
	return err
}
