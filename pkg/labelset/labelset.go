// Package labelset implements morphological dilation and erosion of label images.
//
// Every nonzero value of a labeled mask is treated as an independent binary region.
// Dilation grows each region into the background by a radius, with contested voxels
// going to the nearest region (the smaller label on exact ties). Erosion removes every
// voxel that has a voxel of a different value within the radius. Radii are given in
// pixels or, when spacing-aware, in the physical units of the image spacing.
package labelset

import (
	"context"
	"fmt"
	"math"
	"strings"

	"labelmorph/internal/models"
)

// Operation selects the morphological filter to apply
type Operation int

const (
	Dilate Operation = iota
	Erode
	Open
	Close
)

func (op Operation) String() string {
	switch op {
	case Dilate:
		return "dilate"
	case Erode:
		return "erode"
	case Open:
		return "open"
	case Close:
		return "close"
	default:
		return fmt.Sprintf("operation(%d)", int(op))
	}
}

// ParseOperation converts a name such as "dilate" into an Operation.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dilate", "dilation":
		return Dilate, nil
	case "erode", "erosion":
		return Erode, nil
	case "open", "opening":
		return Open, nil
	case "close", "closing":
		return Close, nil
	}
	return 0, fmt.Errorf("unknown operation %q", s)
}

// MarshalText lets operations appear by name in YAML and JSON documents.
func (op Operation) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

func (op *Operation) UnmarshalText(text []byte) error {
	parsed, err := ParseOperation(string(text))
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}

// Options controls the structuring neighborhood and the parallelism of a filter run.
type Options struct {
	// Radius is either a single value applied to every axis or one value per axis.
	Radius []float64

	// UseImageSpacing interprets Radius in physical units, converted per axis
	// using the voxel spacing. When false the radius is in whole pixels.
	UseImageSpacing bool

	// Workers is the number of goroutines sweeping image lines. 0 means 1.
	Workers int
}

// Validate checks the options against an image of the given dimensionality.
func (o Options) Validate(dim int) error {
	if len(o.Radius) != 1 && len(o.Radius) != dim {
		return fmt.Errorf("radius must have 1 or %d values, got %d", dim, len(o.Radius))
	}
	for i, r := range o.Radius {
		if math.IsNaN(r) || math.IsInf(r, 0) || r < 0 {
			return fmt.Errorf("radius[%d] = %g is not a non-negative finite number", i, r)
		}
	}
	if o.Workers < 0 {
		return fmt.Errorf("workers must be non-negative, got %d", o.Workers)
	}
	return nil
}

// AxisRadii expands the radius to one value per axis.
func (o Options) AxisRadii(dim int) []float64 {
	radii := make([]float64, dim)
	for i := range radii {
		if len(o.Radius) == 1 {
			radii[i] = o.Radius[0]
		} else {
			radii[i] = o.Radius[i]
		}
	}
	return radii
}

func (o Options) workers() int {
	if o.Workers < 1 {
		return 1
	}
	return o.Workers
}

// DilateVolume grows every label into the background. Labeled voxels never change.
func DilateVolume[L models.Label](ctx context.Context, vol *models.Volume[L], opts Options) (*models.Volume[L], error) {
	axes, err := prepare(vol, opts)
	if err != nil {
		return nil, err
	}
	return dilate(ctx, vol, axes, opts.workers())
}

// ErodeVolume shrinks every label away from voxels of any other value. Voxels outside
// the image do not erode.
func ErodeVolume[L models.Label](ctx context.Context, vol *models.Volume[L], opts Options) (*models.Volume[L], error) {
	axes, err := prepare(vol, opts)
	if err != nil {
		return nil, err
	}
	return erode(ctx, vol, axes, opts.workers())
}

// OpenVolume erodes then dilates, removing label structures thinner than the radius.
func OpenVolume[L models.Label](ctx context.Context, vol *models.Volume[L], opts Options) (*models.Volume[L], error) {
	eroded, err := ErodeVolume(ctx, vol, opts)
	if err != nil {
		return nil, err
	}
	return DilateVolume(ctx, eroded, opts)
}

// CloseVolume dilates then erodes, filling gaps narrower than the radius.
func CloseVolume[L models.Label](ctx context.Context, vol *models.Volume[L], opts Options) (*models.Volume[L], error) {
	dilated, err := DilateVolume(ctx, vol, opts)
	if err != nil {
		return nil, err
	}
	return ErodeVolume(ctx, dilated, opts)
}

// Apply runs the requested operation.
func Apply[L models.Label](ctx context.Context, op Operation, vol *models.Volume[L], opts Options) (*models.Volume[L], error) {
	switch op {
	case Dilate:
		return DilateVolume(ctx, vol, opts)
	case Erode:
		return ErodeVolume(ctx, vol, opts)
	case Open:
		return OpenVolume(ctx, vol, opts)
	case Close:
		return CloseVolume(ctx, vol, opts)
	}
	return nil, fmt.Errorf("unsupported operation %v", op)
}
