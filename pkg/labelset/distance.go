package labelset

import (
	"context"
	"fmt"
	"math"

	"labelmorph/internal/models"
)

// threshold is the normalized squared distance of the neighborhood boundary. The
// slack absorbs rounding in radius/spacing ratios such as 0.3/0.1.
const threshold = 1 + 1e-9

// tieTolerance is the relative difference below which two accumulated distances are the
// same distance. Offsets that split differently across axes, such as (0,5) and (3,4),
// sum their weights in different orders and can land one ulp apart.
const tieTolerance = 1e-12

// sameDistance reports whether a and b are equal up to accumulated rounding.
func sameDistance(a, b float64) bool {
	if math.IsInf(a, 1) || math.IsInf(b, 1) {
		return a == b
	}
	return math.Abs(a-b) <= tieTolerance*math.Max(a, b)
}

// axisParam describes the sweep along one axis.
//
// A voxel at pixel offset d along the axis contributes weights[d] = d*d*(s/r)^2 to the
// normalized squared distance, so the neighborhood is every offset whose summed weight
// does not exceed 1.
type axisParam struct {
	axis    int
	window  int
	weights []float64
}

// prepare validates inputs and precomputes the per-axis sweep parameters.
func prepare[L models.Label](vol *models.Volume[L], opts Options) ([]axisParam, error) {
	if vol == nil {
		return nil, fmt.Errorf("nil volume")
	}
	if err := vol.Validate(); err != nil {
		return nil, fmt.Errorf("invalid volume: %w", err)
	}
	if err := opts.Validate(vol.Dim()); err != nil {
		return nil, err
	}

	radii := opts.AxisRadii(vol.Dim())
	axes := make([]axisParam, vol.Dim())
	for k := range axes {
		spacing := 1.0
		if opts.UseImageSpacing {
			spacing = vol.Spacing[k]
		}
		p := axisParam{axis: k}
		if radii[k] > 0 {
			p.window = int(math.Floor(radii[k]/spacing + 1e-9))
			if p.window > vol.Size[k]-1 {
				p.window = vol.Size[k] - 1
			}
			scale := spacing / radii[k]
			scale *= scale
			p.weights = make([]float64, p.window+1)
			for d := range p.weights {
				p.weights[d] = float64(d*d) * scale
			}
		} else {
			p.weights = []float64{0}
		}
		axes[k] = p
	}
	return axes, nil
}

// lineGeometry enumerates the 1D lines of a volume along one axis. Line j starts at
// (j / stride) * stride * n + j % stride and advances by stride.
type lineGeometry struct {
	n      int
	stride int
	count  int
}

func linesAlong(size []int, axis int) lineGeometry {
	stride := 1
	for k := 0; k < axis; k++ {
		stride *= size[k]
	}
	total := 1
	for _, s := range size {
		total *= s
	}
	return lineGeometry{n: size[axis], stride: stride, count: total / size[axis]}
}

func (g lineGeometry) start(j int) int {
	return (j/g.stride)*g.stride*g.n + j%g.stride
}

// dilate propagates (distance, label) pairs along each axis in turn. Pairs are ordered
// by distance, then by label, which keeps the separable minimum identical to the global
// nearest-label minimum, ties included. Distances within tieTolerance compare equal.
func dilate[L models.Label](ctx context.Context, vol *models.Volume[L], axes []axisParam, workers int) (*models.Volume[L], error) {
	n := len(vol.Data)
	dist := make([]float64, n)
	labels := make([]L, n)
	inf := math.Inf(1)
	for i, v := range vol.Data {
		labels[i] = v
		if v == 0 {
			dist[i] = inf
		}
	}

	for _, p := range axes {
		if p.window == 0 {
			continue
		}
		lines := linesAlong(vol.Size, p.axis)
		err := forEachLine(ctx, workers, lines.count, func(lo, hi int) {
			gBuf := make([]float64, lines.n)
			lBuf := make([]L, lines.n)
			for j := lo; j < hi; j++ {
				base := lines.start(j)
				for x := 0; x < lines.n; x++ {
					gBuf[x] = dist[base+x*lines.stride]
					lBuf[x] = labels[base+x*lines.stride]
				}
				for x := 0; x < lines.n; x++ {
					best, bestLabel := gBuf[x], lBuf[x]
					for d := 1; d <= p.window; d++ {
						w := p.weights[d]
						if w > threshold || (w > best && !sameDistance(w, best)) {
							break
						}
						for _, i := range [2]int{x - d, x + d} {
							if i < 0 || i >= lines.n {
								continue
							}
							cand := gBuf[i] + w
							if cand > threshold {
								continue
							}
							switch {
							case sameDistance(cand, best):
								if lBuf[i] < bestLabel {
									best, bestLabel = math.Min(cand, best), lBuf[i]
								}
							case cand < best:
								best, bestLabel = cand, lBuf[i]
							}
						}
					}
					idx := base + x*lines.stride
					dist[idx] = best
					labels[idx] = bestLabel
				}
			}
		})
		if err != nil {
			return nil, err
		}
	}

	out := vol.EmptyLike()
	for i, v := range vol.Data {
		switch {
		case v != 0:
			out.Data[i] = v
		case dist[i] <= threshold:
			out.Data[i] = labels[i]
		}
	}
	return out, nil
}

// erode computes, for every labeled voxel, the normalized squared distance to the nearest
// voxel holding a different value. Within a sweep a voxel with a different value than the
// line position being updated contributes distance zero at its own location, which is the
// exact restriction of that distance to the axes processed so far.
func erode[L models.Label](ctx context.Context, vol *models.Volume[L], axes []axisParam, workers int) (*models.Volume[L], error) {
	n := len(vol.Data)
	dist := make([]float64, n)
	inf := math.Inf(1)
	for i := range dist {
		dist[i] = inf
	}

	for _, p := range axes {
		if p.window == 0 {
			continue
		}
		lines := linesAlong(vol.Size, p.axis)
		err := forEachLine(ctx, workers, lines.count, func(lo, hi int) {
			gBuf := make([]float64, lines.n)
			vBuf := make([]L, lines.n)
			for j := lo; j < hi; j++ {
				base := lines.start(j)
				for x := 0; x < lines.n; x++ {
					gBuf[x] = dist[base+x*lines.stride]
					vBuf[x] = vol.Data[base+x*lines.stride]
				}
				for x := 0; x < lines.n; x++ {
					own := vBuf[x]
					if own == 0 {
						continue
					}
					best := gBuf[x]
					for d := 1; d <= p.window && best > 0; d++ {
						w := p.weights[d]
						if w > threshold || w >= best {
							break
						}
						for _, i := range [2]int{x - d, x + d} {
							if i < 0 || i >= lines.n {
								continue
							}
							cand := w
							if vBuf[i] == own {
								cand += gBuf[i]
							}
							if cand < best {
								best = cand
							}
						}
					}
					if best > threshold {
						best = inf
					}
					dist[base+x*lines.stride] = best
				}
			}
		})
		if err != nil {
			return nil, err
		}
	}

	out := vol.EmptyLike()
	for i, v := range vol.Data {
		if v != 0 && dist[i] > threshold {
			out.Data[i] = v
		}
	}
	return out, nil
}
