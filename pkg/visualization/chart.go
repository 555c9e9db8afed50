package visualization

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// maxChartLabels bounds the number of bar groups; larger label sets keep the labels
// with the most voxels after processing.
const maxChartLabels = 40

// chartLabels returns the labels shown by CountChart in ascending order and whether
// some labels were left out.
func chartLabels(before, after map[uint32]int) ([]uint32, bool) {
	seen := make(map[uint32]bool)
	var labels []uint32
	for _, m := range []map[uint32]int{before, after} {
		for l := range m {
			if !seen[l] {
				seen[l] = true
				labels = append(labels, l)
			}
		}
	}

	truncated := len(labels) > maxChartLabels
	if truncated {
		sort.Slice(labels, func(i, j int) bool {
			if after[labels[i]] != after[labels[j]] {
				return after[labels[i]] > after[labels[j]]
			}
			return labels[i] < labels[j]
		})
		labels = labels[:maxChartLabels]
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels, truncated
}

// CountChart saves a grouped bar chart of the voxel count of every label before and
// after processing. The image format follows the extension of path.
func CountChart(before, after map[uint32]int, path string) error {
	labels, truncated := chartLabels(before, after)
	if len(labels) == 0 {
		return errors.New("no labels to chart")
	}

	p := plot.New()
	p.Title.Text = "Voxels per label"
	if truncated {
		p.Title.Text = fmt.Sprintf("Voxels per label (%d largest)", maxChartLabels)
	}
	p.X.Label.Text = "label"
	p.Y.Label.Text = "voxels"

	names := make([]string, len(labels))
	vb := make(plotter.Values, len(labels))
	va := make(plotter.Values, len(labels))
	for i, l := range labels {
		names[i] = strconv.FormatUint(uint64(l), 10)
		vb[i] = float64(before[l])
		va[i] = float64(after[l])
	}

	w := vg.Points(8)
	barsBefore, err := plotter.NewBarChart(vb, w)
	if err != nil {
		return fmt.Errorf("could not build chart: %w", err)
	}
	barsBefore.LineStyle.Width = vg.Length(0)
	barsBefore.Color = plotutil.Color(0)
	barsBefore.Offset = -w / 2

	barsAfter, err := plotter.NewBarChart(va, w)
	if err != nil {
		return fmt.Errorf("could not build chart: %w", err)
	}
	barsAfter.LineStyle.Width = vg.Length(0)
	barsAfter.Color = plotutil.Color(1)
	barsAfter.Offset = w / 2

	p.Add(barsBefore, barsAfter)
	p.Legend.Add("before", barsBefore)
	p.Legend.Add("after", barsAfter)
	p.Legend.Top = true
	p.NominalX(names...)

	width := vg.Length(len(labels))*3*w + 2*vg.Inch
	if width < 4*vg.Inch {
		width = 4 * vg.Inch
	}
	if err := p.Save(width, 3*vg.Inch, path); err != nil {
		return fmt.Errorf("could not save chart %s: %w", path, err)
	}
	return nil
}
