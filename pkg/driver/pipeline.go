// Package driver connects image I/O to the morphology engine: it probes the input header,
// dispatches on dimensionality and pixel type, runs the filter and writes the result.
// It also holds the command line front ends shared by the labelmorph binaries.
package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"labelmorph/internal/models"
	"labelmorph/pkg/labelset"
	"labelmorph/pkg/logging"
	"labelmorph/pkg/stats"
	"labelmorph/pkg/visualization"
	"labelmorph/pkg/volumeio"
)

var (
	// ErrOpen reports that the input header could not be read.
	ErrOpen = errors.New("failed to open")

	// ErrUnsupportedDimension reports an input that is neither 2D nor 3D.
	ErrUnsupportedDimension = errors.New("unsupported dimension")
)

// Params holds the parameters of one filter run.
type Params struct {
	// Input and Output are image paths; the format follows the extension
	Input  string
	Output string

	// Operation applied to the input
	Operation labelset.Operation

	// Radius is a single value or one value per axis
	Radius []float64

	// UseImageSpacing interprets Radius in physical units
	UseImageSpacing bool

	// Workers is the number of goroutines used by the filter
	Workers int

	// Compression applies to .lbl outputs
	Compression volumeio.Compression

	// PreviewDir receives colored PNG slices of the output along z when set
	PreviewDir string

	// PreviewScale magnifies the preview slices
	PreviewScale int

	// Verify measures how far each label moved: nearest-seed growth after a dilation and
	// lost seed voxels after a closing
	Verify bool
}

// Result summarizes a completed run.
type Result struct {
	Header      models.Header
	Before      map[uint32]int
	After       map[uint32]int
	OutputBytes int64
	Duration    time.Duration

	// Summary describes the output labels
	Summary stats.Summary

	// MaxGrowth and Violations are filled when Params.Verify is set
	MaxGrowth  map[uint32]float64
	Violations []stats.Violation
}

// Pipeline runs one filter invocation from file to file.
type Pipeline struct {
	params *Params
	logger *logging.Logger
	result Result
}

// NewPipeline creates a pipeline. A nil logger discards messages.
func NewPipeline(params *Params, logger *logging.Logger) *Pipeline {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pipeline{params: params, logger: logger}
}

// Result returns the summary of the last successful Process call.
func (p *Pipeline) Result() Result {
	return p.result
}

// Options returns the engine options derived from the parameters.
func (p *Pipeline) Options() labelset.Options {
	return labelset.Options{
		Radius:          p.params.Radius,
		UseImageSpacing: p.params.UseImageSpacing,
		Workers:         p.params.Workers,
	}
}

// Process reads the input, applies the operation and writes the output.
func (p *Pipeline) Process(ctx context.Context) error {
	start := time.Now()

	h, err := volumeio.ReadInfo(p.params.Input)
	if err != nil {
		return fmt.Errorf("%w %s: %w", ErrOpen, p.params.Input, err)
	}
	p.logger.Debugf("%s: %dD %v image, size %v, spacing %v", p.params.Input, h.Dim, h.Component, h.Size, h.Spacing)

	if h.Dim != 2 && h.Dim != 3 {
		return fmt.Errorf("%w %d", ErrUnsupportedDimension, h.Dim)
	}
	if err := p.Options().Validate(h.Dim); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}

	switch h.Component {
	case models.Uint8:
		err = run[uint8](ctx, p)
	case models.Uint16:
		err = run[uint16](ctx, p)
	case models.Uint32:
		err = run[uint32](ctx, p)
	default:
		err = fmt.Errorf("%w: %s stores %v pixels", volumeio.ErrUnsupportedComponent, p.params.Input, h.Component)
	}
	if err != nil {
		return err
	}

	p.result.Header = h
	p.result.Duration = time.Since(start)
	p.logger.Debugf("%s %s -> %s in %s (%s)", p.params.Operation, p.params.Input, p.params.Output,
		p.result.Duration.Round(time.Millisecond), humanize.Bytes(uint64(p.result.OutputBytes)))
	return nil
}

func run[L models.Label](ctx context.Context, p *Pipeline) error {
	vol, err := volumeio.Read[L](p.params.Input)
	if err != nil {
		return fmt.Errorf("could not read %s: %w", p.params.Input, err)
	}

	out, err := labelset.Apply(ctx, p.params.Operation, vol, p.Options())
	if err != nil {
		return fmt.Errorf("%s failed: %w", p.params.Operation, err)
	}

	if err := volumeio.Write(p.params.Output, out, volumeio.WriteOptions{Compression: p.params.Compression}); err != nil {
		return fmt.Errorf("could not write %s: %w", p.params.Output, err)
	}

	if p.params.PreviewDir != "" {
		if err := savePreview(out, p.params.PreviewDir, p.params.PreviewScale); err != nil {
			return fmt.Errorf("could not save preview: %w", err)
		}
		p.logger.Debugf("saved preview slices to %s", p.params.PreviewDir)
	}

	p.result.Before = stats.Widen(stats.Count(vol))
	p.result.After = stats.Widen(stats.Count(out))
	p.result.Summary = stats.Summarize(out)
	if p.params.Verify {
		verify(p, vol, out)
	}
	if fi, err := os.Stat(p.params.Output); err == nil {
		p.result.OutputBytes = fi.Size()
	}
	return nil
}

func verify[L models.Label](p *Pipeline, vol, out *models.Volume[L]) {
	switch p.params.Operation {
	case labelset.Dilate:
		p.result.MaxGrowth = stats.MaxGrowth(vol, out, p.params.UseImageSpacing)
		for l, d := range p.result.MaxGrowth {
			p.logger.Debugf("label %d grew by at most %.3f", l, d)
		}
	case labelset.Close:
		p.result.Violations = stats.RoundTrip(vol, out)
		if n := len(p.result.Violations); n > 0 {
			v := p.result.Violations[0]
			p.logger.Warningf("closing changed %d seed voxels, first at %v (%d -> %d)", n, v.Coord, v.Want, v.Got)
		}
	}
}

func savePreview[L models.Label](vol *models.Volume[L], dir string, scale int) error {
	viewer, err := visualization.NewViewer(vol)
	if err != nil {
		return err
	}
	viewer.SetScale(scale)
	return viewer.SaveSliceSequence("z", dir)
}
