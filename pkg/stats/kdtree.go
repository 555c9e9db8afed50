package stats

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
)

// voxelPoint is a voxel position, physical or in pixels. 2D volumes leave the third
// coordinate at zero.
type voxelPoint [3]float64

func (p voxelPoint) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	return p[d] - c.(voxelPoint)[d]
}

func (p voxelPoint) Dims() int { return len(p) }

// Distance is the squared Euclidean distance, as kdtree expects.
func (p voxelPoint) Distance(c kdtree.Comparable) float64 {
	q := c.(voxelPoint)
	var sum float64
	for k := range p {
		sum += (p[k] - q[k]) * (p[k] - q[k])
	}
	return sum
}

// voxelPoints holds the seeds of one label and orders them along any axis, serving as
// both kdtree.Interface and the kdtree.SortSlicer used for pivoting.
type voxelPoints struct {
	pts  []voxelPoint
	axis kdtree.Dim
}

func (s voxelPoints) Index(i int) kdtree.Comparable { return s.pts[i] }
func (s voxelPoints) Len() int                      { return len(s.pts) }
func (s voxelPoints) Less(i, j int) bool            { return s.pts[i][s.axis] < s.pts[j][s.axis] }
func (s voxelPoints) Swap(i, j int)                 { s.pts[i], s.pts[j] = s.pts[j], s.pts[i] }

func (s voxelPoints) Slice(start, end int) kdtree.Interface {
	return voxelPoints{pts: s.pts[start:end], axis: s.axis}
}

func (s voxelPoints) Pivot(d kdtree.Dim) int {
	along := alongAxis{voxelPoints{pts: s.pts, axis: d}}
	return kdtree.Partition(along, kdtree.MedianOfRandoms(along, 100))
}

// alongAxis narrows Slice to the kdtree.SortSlicer signature.
type alongAxis struct{ voxelPoints }

func (a alongAxis) Slice(start, end int) kdtree.SortSlicer {
	return alongAxis{voxelPoints{pts: a.pts[start:end], axis: a.axis}}
}

// labelTree indexes the voxels of one label.
type labelTree struct {
	tree *kdtree.Tree
}

func newLabelTree(pts []voxelPoint) *labelTree {
	return &labelTree{tree: kdtree.New(voxelPoints{pts: pts}, false)}
}

// nearest returns the Euclidean distance from q to the closest indexed voxel.
func (t *labelTree) nearest(q voxelPoint) float64 {
	_, d := t.tree.Nearest(q)
	return math.Sqrt(d)
}
