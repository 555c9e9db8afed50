package visualization

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"labelmorph/internal/models"
)

// createLayeredVolume gives every z slice its own label
func createLayeredVolume(width, height, depth int) *models.Volume[uint16] {
	vol := models.NewVolume[uint16](width, height, depth)
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				vol.Set(uint16(z*100), x, y, z)
			}
		}
	}
	return vol
}

// TestNewViewer verifies that a new viewer is created with the correct dimensions
func TestNewViewer(t *testing.T) {
	width, height, depth := 10, 8, 5
	viewer, err := NewViewer(createLayeredVolume(width, height, depth))
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	if viewer.width != width || viewer.height != height || viewer.depth != depth {
		t.Errorf("Expected %dx%dx%d, got %dx%dx%d", width, height, depth,
			viewer.width, viewer.height, viewer.depth)
	}
	if viewer.labels[viewer.width*viewer.height*2] != 200 {
		t.Errorf("Expected label 200 at the start of slice 2, got %d", viewer.labels[viewer.width*viewer.height*2])
	}

	flat, err := NewViewer(models.NewVolume[uint8](4, 3))
	if err != nil {
		t.Fatalf("NewViewer failed for 2D volume: %v", err)
	}
	if flat.depth != 1 {
		t.Errorf("Expected depth 1 for a 2D volume, got %d", flat.depth)
	}

	if _, err := NewViewer(models.NewVolume[uint8](2, 2, 2, 2)); err == nil {
		t.Error("Expected error for a 4D volume, got nil")
	}
}

func TestLabelColor(t *testing.T) {
	if c := LabelColor(0); c.R != 0 || c.G != 0 || c.B != 0 || c.A != 255 {
		t.Errorf("Background should be opaque black, got %v", c)
	}

	seen := make(map[[3]uint8]uint32)
	for l := uint32(1); l <= 50; l++ {
		c := LabelColor(l)
		if c.R < 0x40 || c.G < 0x40 || c.B < 0x40 {
			t.Errorf("Label %d color %v is too dark", l, c)
		}
		if c != LabelColor(l) {
			t.Errorf("Label %d color is not deterministic", l)
		}
		key := [3]uint8{c.R, c.G, c.B}
		if other, ok := seen[key]; ok {
			t.Errorf("Labels %d and %d share color %v", other, l, c)
		}
		seen[key] = l
	}
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 8, 5
	viewer, err := NewViewer(createLayeredVolume(width, height, depth))
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		rgba, ok := img.(*image.NRGBA)
		if !ok {
			t.Fatalf("Expected *image.NRGBA, got %T", img)
		}
		if got, want := rgba.NRGBAAt(width/2, height/2), LabelColor(uint32(z*100)); got != want {
			t.Errorf("Expected color %v at center of slice %d, got %v", want, z, got)
		}
	}

	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != depth || b.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", depth, height, b.Dx(), b.Dy())
	}

	imgY, err := viewer.ExtractSlice("Y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != width || b.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", width, depth, b.Dx(), b.Dy())
	}
	// row z of a y slice carries the label of layer z
	if got, want := imgY.(*image.NRGBA).NRGBAAt(0, 3), LabelColor(300); got != want {
		t.Errorf("Expected color %v in row 3 of Y slice, got %v", want, got)
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
	if _, err := viewer.ExtractSlice("z", depth); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
	if _, err := viewer.ExtractSlice("x", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

func TestExtractSliceScaled(t *testing.T) {
	vol := models.NewVolume[uint8](3, 2)
	vol.Set(7, 2, 1)
	viewer, err := NewViewer(vol)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}
	viewer.SetScale(4)

	img, err := viewer.ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 12 || b.Dy() != 8 {
		t.Fatalf("Expected 12x8 scaled slice, got %dx%d", b.Dx(), b.Dy())
	}
	rgba := img.(*image.NRGBA)
	for y := 4; y < 8; y++ {
		for x := 8; x < 12; x++ {
			if rgba.NRGBAAt(x, y) != LabelColor(7) {
				t.Errorf("Pixel (%d,%d) should show label 7", x, y)
			}
		}
	}
	if rgba.NRGBAAt(7, 4) != LabelColor(0) {
		t.Errorf("Pixel (7,4) should be background")
	}
}

// TestExtractRegion verifies that 3D regions are correctly extracted
func TestExtractRegion(t *testing.T) {
	width, height, depth := 10, 10, 5
	vol := models.NewVolume[uint32](width, height, depth)
	for i := range vol.Data {
		vol.Data[i] = uint32(i)
	}
	viewer, err := NewViewer(vol)
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	startX, startY, startZ := 2, 3, 1
	sizeX, sizeY, sizeZ := 4, 3, 2

	region, err := viewer.ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ)
	if err != nil {
		t.Fatalf("Failed to extract region: %v", err)
	}

	if len(region) != sizeX*sizeY*sizeZ {
		t.Errorf("Expected region size %d, got %d", sizeX*sizeY*sizeZ, len(region))
	}

	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				got := region[z*sizeX*sizeY+y*sizeX+x]
				want := vol.At(startX+x, startY+y, startZ+z)
				if got != want {
					t.Errorf("Region value mismatch at (%d,%d,%d): expected %d, got %d", x, y, z, want, got)
				}
			}
		}
	}

	if _, err := viewer.ExtractRegion(-1, 0, 0, 1, 1, 1); err == nil {
		t.Error("Expected error for negative start coordinate, got nil")
	}
	if _, err := viewer.ExtractRegion(0, 0, 0, 0, 1, 1); err == nil {
		t.Error("Expected error for zero size, got nil")
	}
	if _, err := viewer.ExtractRegion(width-1, 0, 0, 2, 1, 1); err == nil {
		t.Error("Expected error for region extending beyond volume, got nil")
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved and decoded
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	width, height, depth := 5, 4, 3
	viewer, err := NewViewer(createLayeredVolume(width, height, depth))
	if err != nil {
		t.Fatalf("NewViewer failed: %v", err)
	}

	outputDir := filepath.Join(t.TempDir(), "slices")
	if err := viewer.SaveSliceSequence("z", outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}

	for z := 0; z < depth; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.png", z))
		f, err := os.Open(filename)
		if err != nil {
			t.Errorf("Expected slice file does not exist: %s", filename)
			continue
		}
		img, err := png.Decode(f)
		f.Close()
		if err != nil {
			t.Errorf("Failed to decode %s: %v", filename, err)
			continue
		}
		if b := img.Bounds(); b.Dx() != width || b.Dy() != height {
			t.Errorf("%s: expected %dx%d, got %dx%d", filename, width, height, b.Dx(), b.Dy())
		}
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}

func TestCountChart(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	before := map[uint32]int{1: 40, 2: 12, 9: 3}
	after := map[uint32]int{1: 70, 2: 30, 9: 11}
	path := filepath.Join(t.TempDir(), "counts.png")
	if err := CountChart(before, after, path); err != nil {
		t.Fatalf("CountChart failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Chart was not written: %v", err)
	}
	defer f.Close()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("Chart is not a valid PNG: %v", err)
	}

	if err := CountChart(nil, nil, path); err == nil {
		t.Error("Expected error for an empty chart, got nil")
	}
}

func TestChartLabels(t *testing.T) {
	labels, truncated := chartLabels(map[uint32]int{5: 1, 2: 1}, map[uint32]int{2: 3, 7: 1})
	if truncated || fmt.Sprint(labels) != "[2 5 7]" {
		t.Errorf("Expected [2 5 7] untruncated, got %v %v", labels, truncated)
	}

	after := make(map[uint32]int)
	for l := uint32(1); l <= 100; l++ {
		after[l] = int(l)
	}
	labels, truncated = chartLabels(nil, after)
	if !truncated || len(labels) != maxChartLabels {
		t.Fatalf("Expected %d labels, got %d (truncated %v)", maxChartLabels, len(labels), truncated)
	}
	if labels[0] != 61 || labels[len(labels)-1] != 100 {
		t.Errorf("Expected the largest labels 61..100, got %d..%d", labels[0], labels[len(labels)-1])
	}
}
