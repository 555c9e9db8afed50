package labelset

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"labelmorph/internal/models"
)

// createRandomVolume scatters a few labels over a volume with the given spacing
func createRandomVolume(seed int64, spacing []float64, size ...int) *models.Volume[uint8] {
	rng := rand.New(rand.NewSource(seed))
	v := models.NewVolume[uint8](size...)
	copy(v.Spacing, spacing)
	for i := range v.Data {
		if rng.Float64() < 0.08 {
			v.Data[i] = uint8(1 + rng.Intn(4))
		}
	}
	return v
}

// normalizedDistance computes the neighborhood distance between two voxels the same way
// the sweeps accumulate it, returning false when the offset falls outside the window.
func normalizedDistance(axes []axisParam, a, b []int) (float64, bool) {
	sum := 0.0
	for k, p := range axes {
		d := a[k] - b[k]
		if d < 0 {
			d = -d
		}
		if d > p.window {
			return 0, false
		}
		sum += p.weights[d]
	}
	return sum, true
}

// bruteDilateDistances returns, per voxel, the smallest distance to any labeled voxel and
// the set of labels achieving it.
func bruteDilateDistances(vol *models.Volume[uint8], axes []axisParam) ([]float64, []map[uint8]bool) {
	n := vol.NumVoxels()
	dist := make([]float64, n)
	best := make([]map[uint8]bool, n)
	for x := 0; x < n; x++ {
		dist[x] = math.Inf(1)
		cx := vol.Coord(x)
		for y := 0; y < n; y++ {
			if vol.Data[y] == 0 {
				continue
			}
			d, ok := normalizedDistance(axes, cx, vol.Coord(y))
			if !ok || d > threshold {
				continue
			}
			switch {
			case sameDistance(d, dist[x]):
				best[x][vol.Data[y]] = true
				dist[x] = math.Min(d, dist[x])
			case d < dist[x]:
				dist[x] = d
				best[x] = map[uint8]bool{vol.Data[y]: true}
			}
		}
	}
	return dist, best
}

func bruteErode(vol *models.Volume[uint8], axes []axisParam) *models.Volume[uint8] {
	out := vol.EmptyLike()
	n := vol.NumVoxels()
	for x := 0; x < n; x++ {
		if vol.Data[x] == 0 {
			continue
		}
		cx := vol.Coord(x)
		keep := true
		for y := 0; y < n && keep; y++ {
			if vol.Data[y] == vol.Data[x] {
				continue
			}
			if d, ok := normalizedDistance(axes, cx, vol.Coord(y)); ok && d <= threshold {
				keep = false
			}
		}
		if keep {
			out.Data[x] = vol.Data[x]
		}
	}
	return out
}

var referenceCases = []struct {
	name    string
	size    []int
	spacing []float64
	opts    Options
}{
	{"2D radius 1", []int{17, 13}, []float64{1, 1}, Options{Radius: []float64{1}}},
	{"2D radius 2.5", []int{20, 16}, []float64{1, 1}, Options{Radius: []float64{2.5}}},
	{"2D anisotropic spacing", []int{18, 14}, []float64{0.5, 1.5}, Options{Radius: []float64{2}, UseImageSpacing: true}},
	{"2D per-axis radius", []int{15, 15}, []float64{1, 1}, Options{Radius: []float64{3, 1}}},
	{"2D zero radius on one axis", []int{12, 12}, []float64{1, 1}, Options{Radius: []float64{0, 2}}},
	{"3D radius 2", []int{9, 8, 7}, []float64{1, 1, 1}, Options{Radius: []float64{2}}},
	{"3D spacing aware", []int{8, 9, 6}, []float64{1, 1, 2.5}, Options{Radius: []float64{3}, UseImageSpacing: true, Workers: 3}},
	{"3D spacing ignored", []int{8, 9, 6}, []float64{1, 1, 2.5}, Options{Radius: []float64{1.5}, Workers: 2}},
}

// TestDilateMatchesBruteForce compares the separable sweeps against an exhaustive search
func TestDilateMatchesBruteForce(t *testing.T) {
	ctx := context.Background()
	for i, tc := range referenceCases {
		t.Run(tc.name, func(t *testing.T) {
			vol := createRandomVolume(int64(100+i), tc.spacing, tc.size...)
			axes, err := prepare(vol, tc.opts)
			if err != nil {
				t.Fatalf("prepare failed: %v", err)
			}

			out, err := DilateVolume(ctx, vol, tc.opts)
			if err != nil {
				t.Fatalf("DilateVolume failed: %v", err)
			}

			dist, labels := bruteDilateDistances(vol, axes)
			for x := range out.Data {
				reachable := !math.IsInf(dist[x], 1)
				switch {
				case vol.Data[x] != 0:
					if out.Data[x] != vol.Data[x] {
						t.Fatalf("voxel %v: labeled voxel changed %d -> %d", vol.Coord(x), vol.Data[x], out.Data[x])
					}
				case !reachable:
					if out.Data[x] != 0 {
						t.Fatalf("voxel %v: expected background, got %d", vol.Coord(x), out.Data[x])
					}
				default:
					if !labels[x][out.Data[x]] {
						t.Fatalf("voxel %v: label %d is not among the nearest labels %v", vol.Coord(x), out.Data[x], labels[x])
					}
					if len(labels[x]) > 1 {
						smallest := uint8(math.MaxUint8)
						for l := range labels[x] {
							smallest = min(smallest, l)
						}
						if out.Data[x] != smallest {
							t.Errorf("voxel %v: tie between %v resolved to %d", vol.Coord(x), labels[x], out.Data[x])
						}
					}
				}
			}
		})
	}
}

// TestErodeMatchesBruteForce compares erosion against an exhaustive search
func TestErodeMatchesBruteForce(t *testing.T) {
	ctx := context.Background()
	for i, tc := range referenceCases {
		t.Run(tc.name, func(t *testing.T) {
			// Denser labels so that erosion has something to keep
			vol := createRandomVolume(int64(200+i), tc.spacing, tc.size...)
			for j := range vol.Data {
				if vol.Data[j] == 0 && (j/3)%4 != 0 {
					vol.Data[j] = uint8(1 + (j/11)%3)
				}
			}
			axes, err := prepare(vol, tc.opts)
			if err != nil {
				t.Fatalf("prepare failed: %v", err)
			}

			out, err := ErodeVolume(ctx, vol, tc.opts)
			if err != nil {
				t.Fatalf("ErodeVolume failed: %v", err)
			}

			expected := bruteErode(vol, axes)
			if diff := cmp.Diff(expected.Data, out.Data); diff != "" {
				t.Errorf("erosion mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// TestDilateTieBreak verifies that equidistant labels resolve to the smaller value
func TestDilateTieBreak(t *testing.T) {
	vol := models.NewVolume[uint8](5, 1)
	vol.Set(5, 0, 0)
	vol.Set(3, 4, 0)

	out, err := DilateVolume(context.Background(), vol, Options{Radius: []float64{2}})
	if err != nil {
		t.Fatalf("DilateVolume failed: %v", err)
	}

	expected := []uint8{5, 5, 3, 3, 3}
	if diff := cmp.Diff(expected, out.Data); diff != "" {
		t.Errorf("unexpected dilation (-want +got):\n%s", diff)
	}
}

// integerDilate dilates with unit spacing and an integer radius using exact integer
// squared distances, resolving ties to the smallest label.
func integerDilate(vol *models.Volume[uint8], radius int) []uint8 {
	n := vol.NumVoxels()
	out := make([]uint8, n)
	for x := 0; x < n; x++ {
		if vol.Data[x] != 0 {
			out[x] = vol.Data[x]
			continue
		}
		cx := vol.Coord(x)
		bestDist := radius*radius + 1
		for y := 0; y < n; y++ {
			if vol.Data[y] == 0 {
				continue
			}
			d := 0
			for k, c := range vol.Coord(y) {
				d += (c - cx[k]) * (c - cx[k])
			}
			switch {
			case d < bestDist:
				bestDist, out[x] = d, vol.Data[y]
			case d == bestDist && vol.Data[y] < out[x]:
				out[x] = vol.Data[y]
			}
		}
	}
	return out
}

// TestDilateTieAcrossAxes places labels at equal distance along different axis splits
func TestDilateTieAcrossAxes(t *testing.T) {
	testCases := []struct {
		name    string
		size    []int
		spacing []float64
		radius  float64
		center  []int
		seeds   [][]int
	}{
		{"2D (0,5) and (3,4) radius 7", []int{16, 16}, []float64{1, 1}, 7, []int{5, 5}, [][]int{{5, 10}, {8, 9}}},
		{"2D (0,5) and (3,4) radius 13", []int{16, 16}, []float64{1, 1}, 13, []int{5, 5}, [][]int{{5, 10}, {8, 9}}},
		{"2D (5,0) and (4,3) radius 5", []int{16, 16}, []float64{1, 1}, 5, []int{2, 2}, [][]int{{7, 2}, {6, 5}}},
		{"2D anisotropic spacing", []int{12, 12}, []float64{1, 2}, 4, []int{5, 5}, [][]int{{7, 5}, {5, 6}}},
		{"3D three-way tie", []int{12, 12, 12}, []float64{1, 1, 1}, 6, []int{3, 3, 3}, [][]int{{3, 3, 8}, {6, 7, 3}, {3, 6, 7}}},
		{"3D anisotropic spacing", []int{10, 10, 10}, []float64{0.5, 1, 1.5}, 3, []int{4, 4, 4}, [][]int{{7, 4, 4}, {4, 4, 5}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// Rotate the label values over the seeds so each seed position wins once
			for shift := range tc.seeds {
				vol := models.NewVolume[uint8](tc.size...)
				copy(vol.Spacing, tc.spacing)
				for i, s := range tc.seeds {
					if !vol.InBounds(s...) {
						t.Fatalf("seed %v outside %v", s, tc.size)
					}
					vol.Set(uint8(1+(i+shift)%len(tc.seeds)), s...)
				}

				out, err := DilateVolume(context.Background(), vol, Options{Radius: []float64{tc.radius}, UseImageSpacing: true})
				if err != nil {
					t.Fatalf("DilateVolume failed: %v", err)
				}
				if got := out.At(tc.center...); got != 1 {
					t.Errorf("shift %d: voxel %v got label %d, expected the smaller label 1", shift, tc.center, got)
				}
			}
		})
	}
}

// TestDilateMatchesIntegerDistances checks unit-spacing dilation against exact integer
// distances, where ties are unambiguous
func TestDilateMatchesIntegerDistances(t *testing.T) {
	testCases := []struct {
		size   []int
		radius int
	}{
		{[]int{20, 18}, 3},
		{[]int{24, 24}, 5},
		{[]int{16, 16}, 7},
		{[]int{10, 9, 8}, 3},
		{[]int{9, 9, 9}, 5},
	}

	for i, tc := range testCases {
		vol := createRandomVolume(int64(300+i), nil, tc.size...)
		// Sparse seeds leave room for distant ties
		for j := range vol.Data {
			if j%5 != 0 {
				vol.Data[j] = 0
			}
		}

		out, err := DilateVolume(context.Background(), vol, Options{Radius: []float64{float64(tc.radius)}, Workers: 2})
		if err != nil {
			t.Fatalf("DilateVolume failed: %v", err)
		}
		if diff := cmp.Diff(integerDilate(vol, tc.radius), out.Data); diff != "" {
			t.Errorf("size %v radius %d: mismatch with integer distances (-want +got):\n%s", tc.size, tc.radius, diff)
		}
	}
}

// TestDiskShape checks the 2D neighborhood is a Euclidean disk
func TestDiskShape(t *testing.T) {
	vol := models.NewVolume[uint16](11, 11)
	vol.Set(1, 5, 5)

	out, err := DilateVolume(context.Background(), vol, Options{Radius: []float64{3}})
	if err != nil {
		t.Fatalf("DilateVolume failed: %v", err)
	}

	for y := 0; y < 11; y++ {
		for x := 0; x < 11; x++ {
			dx, dy := x-5, y-5
			inside := dx*dx+dy*dy <= 9
			if got := out.At(x, y) == 1; got != inside {
				t.Errorf("(%d,%d): expected inside=%v, got label %d", x, y, inside, out.At(x, y))
			}
		}
	}
}

// TestSpacingAwareRadius verifies physical radii are converted per axis
func TestSpacingAwareRadius(t *testing.T) {
	vol := models.NewVolume[uint8](9, 9)
	vol.Spacing = []float64{1, 2}
	vol.Set(4, 4, 4)

	opts := Options{Radius: []float64{2}, UseImageSpacing: true}
	out, err := DilateVolume(context.Background(), vol, opts)
	if err != nil {
		t.Fatalf("DilateVolume failed: %v", err)
	}

	// Two pixels along x, one pixel along y
	for _, p := range [][2]int{{2, 4}, {6, 4}, {4, 3}, {4, 5}} {
		if out.At(p[0], p[1]) != 4 {
			t.Errorf("expected (%d,%d) inside the neighborhood", p[0], p[1])
		}
	}
	for _, p := range [][2]int{{1, 4}, {4, 2}, {4, 6}, {5, 5}} {
		if out.At(p[0], p[1]) != 0 {
			t.Errorf("expected (%d,%d) outside the neighborhood", p[0], p[1])
		}
	}

	opts.UseImageSpacing = false
	out, err = DilateVolume(context.Background(), vol, opts)
	if err != nil {
		t.Fatalf("DilateVolume failed: %v", err)
	}
	if out.At(4, 2) != 4 {
		t.Errorf("pixel radius should reach two rows along y")
	}
}

// TestZeroRadiusIsIdentity checks the degenerate radius
func TestZeroRadiusIsIdentity(t *testing.T) {
	vol := createRandomVolume(7, []float64{1, 1, 1}, 6, 6, 6)
	opts := Options{Radius: []float64{0}}

	for _, op := range []Operation{Dilate, Erode, Open, Close} {
		out, err := Apply(context.Background(), op, vol, opts)
		if err != nil {
			t.Fatalf("%v failed: %v", op, err)
		}
		if diff := cmp.Diff(vol.Data, out.Data); diff != "" {
			t.Errorf("%v with radius 0 changed the volume:\n%s", op, diff)
		}
	}
}

// TestWorkerCountDoesNotChangeResult runs the same filter with several worker counts
func TestWorkerCountDoesNotChangeResult(t *testing.T) {
	vol := createRandomVolume(11, []float64{0.8, 1, 1.3}, 24, 20, 12)
	base, err := DilateVolume(context.Background(), vol, Options{Radius: []float64{2}, UseImageSpacing: true})
	if err != nil {
		t.Fatalf("DilateVolume failed: %v", err)
	}

	for _, workers := range []int{2, 3, 8} {
		out, err := DilateVolume(context.Background(), vol, Options{Radius: []float64{2}, UseImageSpacing: true, Workers: workers})
		if err != nil {
			t.Fatalf("DilateVolume with %d workers failed: %v", workers, err)
		}
		if diff := cmp.Diff(base.Data, out.Data); diff != "" {
			t.Errorf("%d workers produced a different result", workers)
		}
	}
}

// TestBorderDoesNotErode verifies the image border is not treated as background
func TestBorderDoesNotErode(t *testing.T) {
	vol := models.NewVolume[uint8](6, 6)
	for i := range vol.Data {
		vol.Data[i] = 2
	}

	out, err := ErodeVolume(context.Background(), vol, Options{Radius: []float64{2}})
	if err != nil {
		t.Fatalf("ErodeVolume failed: %v", err)
	}
	if diff := cmp.Diff(vol.Data, out.Data); diff != "" {
		t.Errorf("uniform label eroded at the border:\n%s", diff)
	}
}

// TestErodeNeighbouringLabels checks that touching labels erode each other
func TestErodeNeighbouringLabels(t *testing.T) {
	vol := models.NewVolume[uint8](8, 1)
	copy(vol.Data, []uint8{1, 1, 1, 1, 2, 2, 2, 2})

	out, err := ErodeVolume(context.Background(), vol, Options{Radius: []float64{1}})
	if err != nil {
		t.Fatalf("ErodeVolume failed: %v", err)
	}

	expected := []uint8{1, 1, 1, 0, 0, 2, 2, 2}
	if diff := cmp.Diff(expected, out.Data); diff != "" {
		t.Errorf("unexpected erosion (-want +got):\n%s", diff)
	}
}

// TestMonotoneInRadius checks dilation grows and erosion shrinks with the radius
func TestMonotoneInRadius(t *testing.T) {
	vol := createRandomVolume(3, []float64{1, 1}, 30, 30)
	ctx := context.Background()

	count := func(v *models.Volume[uint8]) int {
		n := 0
		for _, l := range v.Data {
			if l != 0 {
				n++
			}
		}
		return n
	}

	prevDilated, prevEroded := count(vol), count(vol)
	for _, r := range []float64{0.5, 1, 1.5, 2, 3} {
		d, err := DilateVolume(ctx, vol, Options{Radius: []float64{r}})
		if err != nil {
			t.Fatalf("DilateVolume failed: %v", err)
		}
		e, err := ErodeVolume(ctx, vol, Options{Radius: []float64{r}})
		if err != nil {
			t.Fatalf("ErodeVolume failed: %v", err)
		}
		if c := count(d); c < prevDilated {
			t.Errorf("radius %g: dilation shrank from %d to %d voxels", r, prevDilated, c)
		} else {
			prevDilated = c
		}
		if c := count(e); c > prevEroded {
			t.Errorf("radius %g: erosion grew from %d to %d voxels", r, prevEroded, c)
		} else {
			prevEroded = c
		}
	}
}

// TestCloseKeepsIsolatedLabel verifies dilate-then-erode does not shrink a lone region
func TestCloseKeepsIsolatedLabel(t *testing.T) {
	vol := models.NewVolume[uint8](20, 20, 5)
	for z := 1; z < 4; z++ {
		for y := 6; y < 14; y++ {
			for x := 5; x < 12; x++ {
				vol.Set(9, x, y, z)
			}
		}
	}

	out, err := CloseVolume(context.Background(), vol, Options{Radius: []float64{2}})
	if err != nil {
		t.Fatalf("CloseVolume failed: %v", err)
	}
	for i, l := range vol.Data {
		if l != 0 && out.Data[i] != l {
			t.Fatalf("voxel %v lost its label after closing", vol.Coord(i))
		}
	}
}

// TestOptionsValidate covers option errors
func TestOptionsValidate(t *testing.T) {
	testCases := []struct {
		name  string
		opts  Options
		valid bool
	}{
		{"scalar", Options{Radius: []float64{1}}, true},
		{"per axis", Options{Radius: []float64{1, 2}}, true},
		{"missing", Options{}, false},
		{"wrong length", Options{Radius: []float64{1, 2, 3}}, false},
		{"negative", Options{Radius: []float64{-1}}, false},
		{"nan", Options{Radius: []float64{math.NaN()}}, false},
		{"negative workers", Options{Radius: []float64{1}, Workers: -2}, false},
	}

	for _, tc := range testCases {
		err := tc.opts.Validate(2)
		if (err == nil) != tc.valid {
			t.Errorf("%s: expected valid=%v, got err=%v", tc.name, tc.valid, err)
		}
	}
}

// TestCancelledContext verifies filters stop when the context is cancelled
func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	vol := createRandomVolume(5, []float64{1, 1}, 16, 16)
	for _, workers := range []int{1, 4} {
		_, err := DilateVolume(ctx, vol, Options{Radius: []float64{1}, Workers: workers})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("workers=%d: expected context.Canceled, got %v", workers, err)
		}
	}
}

// TestParseOperation checks operation names
func TestParseOperation(t *testing.T) {
	for _, op := range []Operation{Dilate, Erode, Open, Close} {
		parsed, err := ParseOperation(op.String())
		if err != nil || parsed != op {
			t.Errorf("ParseOperation(%q) = %v, %v", op.String(), parsed, err)
		}
	}
	if op, err := ParseOperation(" Erosion "); err != nil || op != Erode {
		t.Errorf("expected erosion alias to parse, got %v, %v", op, err)
	}
	if _, err := ParseOperation("thin"); err == nil {
		t.Errorf("expected an error for an unknown operation")
	}
}
