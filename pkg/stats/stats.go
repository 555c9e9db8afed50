// Package stats measures label volumes and checks the results of morphology runs.
package stats

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"labelmorph/internal/models"
)

// Count returns the number of voxels carrying each nonzero label.
func Count[L models.Label](vol *models.Volume[L]) map[L]int {
	counts := make(map[L]int)
	for _, v := range vol.Data {
		if v != 0 {
			counts[v]++
		}
	}
	return counts
}

// Widen converts label counts to the widest label type so they can be reported
// independently of the image component.
func Widen[L models.Label](counts map[L]int) map[uint32]int {
	wide := make(map[uint32]int, len(counts))
	for l, n := range counts {
		wide[uint32(l)] = n
	}
	return wide
}

// BoundingBox is the inclusive voxel extent of a label.
type BoundingBox struct {
	Min []int `yaml:"min"`
	Max []int `yaml:"max"`
}

// LabelStats describes a single label
type LabelStats struct {
	Label uint32 `yaml:"label"`

	// Voxels is the number of voxels carrying the label
	Voxels int `yaml:"voxels"`

	// PhysicalVolume is Voxels times the voxel volume
	PhysicalVolume float64 `yaml:"physicalVolume"`

	Bounds BoundingBox `yaml:"bounds"`
}

// Summary holds per-label statistics sorted by label, plus the distribution of label sizes.
type Summary struct {
	Labels     []LabelStats `yaml:"labels"`
	Background int          `yaml:"background"`

	// MeanVoxels and StdDevVoxels describe the label sizes
	MeanVoxels   float64 `yaml:"meanVoxels"`
	StdDevVoxels float64 `yaml:"stdDevVoxels"`
}

// Summarize computes the statistics of every label in vol.
func Summarize[L models.Label](vol *models.Volume[L]) Summary {
	voxelVolume := 1.0
	for _, s := range vol.Spacing {
		voxelVolume *= s
	}

	byLabel := make(map[L]*LabelStats)
	var sum Summary
	coord := make([]int, vol.Dim())
	for idx, v := range vol.Data {
		if v == 0 {
			sum.Background++
			continue
		}
		// unravel without allocating
		rem := idx
		for i, s := range vol.Size {
			coord[i] = rem % s
			rem /= s
		}

		ls, ok := byLabel[v]
		if !ok {
			ls = &LabelStats{
				Label: uint32(v),
				Bounds: BoundingBox{
					Min: append([]int(nil), coord...),
					Max: append([]int(nil), coord...),
				},
			}
			byLabel[v] = ls
		}
		ls.Voxels++
		for i, c := range coord {
			if c < ls.Bounds.Min[i] {
				ls.Bounds.Min[i] = c
			}
			if c > ls.Bounds.Max[i] {
				ls.Bounds.Max[i] = c
			}
		}
	}

	sizes := make([]float64, 0, len(byLabel))
	for _, ls := range byLabel {
		ls.PhysicalVolume = float64(ls.Voxels) * voxelVolume
		sum.Labels = append(sum.Labels, *ls)
	}
	sort.Slice(sum.Labels, func(i, j int) bool { return sum.Labels[i].Label < sum.Labels[j].Label })
	for _, ls := range sum.Labels {
		sizes = append(sizes, float64(ls.Voxels))
	}

	switch len(sizes) {
	case 0:
	case 1:
		sum.MeanVoxels = sizes[0]
	default:
		sum.MeanVoxels, sum.StdDevVoxels = stat.MeanStdDev(sizes, nil)
	}
	return sum
}

// Violation is a voxel whose original label did not survive processing.
type Violation struct {
	Coord []int
	Want  uint32
	Got   uint32
}

// RoundTrip lists every voxel labeled in orig whose label differs in processed. An empty
// result means processing kept every original label in place, as dilating then eroding
// by the same radius should.
func RoundTrip[L models.Label](orig, processed *models.Volume[L]) []Violation {
	var out []Violation
	n := len(orig.Data)
	if len(processed.Data) < n {
		n = len(processed.Data)
	}
	for i := 0; i < n; i++ {
		if orig.Data[i] != 0 && processed.Data[i] != orig.Data[i] {
			out = append(out, Violation{
				Coord: orig.Coord(i),
				Want:  uint32(orig.Data[i]),
				Got:   uint32(processed.Data[i]),
			})
		}
	}
	return out
}

// physical returns the position of voxel idx, scaled by spacing when requested.
func physical[L models.Label](vol *models.Volume[L], idx int, useSpacing bool) voxelPoint {
	var xyz [3]float64
	for i, s := range vol.Size {
		c := float64(idx % s)
		idx /= s
		if useSpacing {
			c *= vol.Spacing[i]
		}
		if i < 3 {
			xyz[i] = c
		}
	}
	return voxelPoint(xyz)
}

// MaxGrowth returns, per label of after, the largest distance from one of its voxels to
// the nearest voxel of the same label in before. Labels absent from before get +Inf.
// Distances are physical when useSpacing is set and in pixels otherwise.
func MaxGrowth[L models.Label](before, after *models.Volume[L], useSpacing bool) map[uint32]float64 {
	seeds := make(map[L][]voxelPoint)
	for idx, v := range before.Data {
		if v != 0 {
			seeds[v] = append(seeds[v], physical(before, idx, useSpacing))
		}
	}
	trees := make(map[L]*labelTree, len(seeds))
	for l, pts := range seeds {
		trees[l] = newLabelTree(pts)
	}

	growth := make(map[uint32]float64)
	for idx, v := range after.Data {
		if v == 0 {
			continue
		}
		tree, ok := trees[v]
		if !ok {
			growth[uint32(v)] = math.Inf(1)
			continue
		}
		d := tree.nearest(physical(after, idx, useSpacing))
		if d > growth[uint32(v)] {
			growth[uint32(v)] = d
		}
	}
	return growth
}
