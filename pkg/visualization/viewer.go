package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"labelmorph/internal/models"
)

// Viewer renders label volumes as colored slices for visual inspection of
// dilation and erosion results.
type Viewer struct {
	// labels holds the volume in x-fastest order, widened to uint32
	labels []uint32

	// dimensions of the volume; 2D images have depth 1
	width  int
	height int
	depth  int

	// scale is the integer magnification applied to extracted slices
	scale int
}

// NewViewer creates a viewer over a 2D or 3D label volume
func NewViewer[L models.Label](vol *models.Volume[L]) (*Viewer, error) {
	if vol.Dim() != 2 && vol.Dim() != 3 {
		return nil, fmt.Errorf("cannot view a %dD volume", vol.Dim())
	}
	v := &Viewer{
		labels: make([]uint32, len(vol.Data)),
		width:  vol.Size[0],
		height: vol.Size[1],
		depth:  1,
		scale:  1,
	}
	if vol.Dim() == 3 {
		v.depth = vol.Size[2]
	}
	for i, l := range vol.Data {
		v.labels[i] = uint32(l)
	}
	return v, nil
}

// SetScale sets the nearest neighbor magnification of extracted slices
func (v *Viewer) SetScale(scale int) {
	if scale < 1 {
		scale = 1
	}
	v.scale = scale
}

// LabelColor returns the display color of a label. Background is black and every
// other label maps to a fixed, reasonably bright color.
func LabelColor(label uint32) color.NRGBA {
	if label == 0 {
		return color.NRGBA{A: 255}
	}
	h := label * 2654435761
	return color.NRGBA{
		R: uint8(h>>24) | 0x40,
		G: uint8(h>>16) | 0x40,
		B: uint8(h>>8) | 0x40,
		A: 255,
	}
}

func (v *Viewer) at(x, y, z int) uint32 {
	return v.labels[z*v.width*v.height+y*v.width+x]
}

// ExtractSlice extracts a 2D slice of the volume along the specified axis
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	var img *image.NRGBA

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= v.width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, v.width)
		}
		img = image.NewNRGBA(image.Rect(0, 0, v.depth, v.height))
		for y := 0; y < v.height; y++ {
			for z := 0; z < v.depth; z++ {
				img.SetNRGBA(z, y, LabelColor(v.at(position, y, z)))
			}
		}

	case "y", "Y":
		// XZ plane
		if position >= v.height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, v.height)
		}
		img = image.NewNRGBA(image.Rect(0, 0, v.width, v.depth))
		for z := 0; z < v.depth; z++ {
			for x := 0; x < v.width; x++ {
				img.SetNRGBA(x, z, LabelColor(v.at(x, position, z)))
			}
		}

	case "z", "Z":
		// XY plane
		if position >= v.depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, v.depth)
		}
		img = image.NewNRGBA(image.Rect(0, 0, v.width, v.height))
		for y := 0; y < v.height; y++ {
			for x := 0; x < v.width; x++ {
				img.SetNRGBA(x, y, LabelColor(v.at(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	if v.scale == 1 {
		return img, nil
	}
	b := img.Bounds()
	scaled := image.NewNRGBA(image.Rect(0, 0, b.Dx()*v.scale, b.Dy()*v.scale))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)
	return scaled, nil
}

// ExtractRegion extracts the labels of a 3D subregion. 2D volumes only have z = 0.
func (v *Viewer) ExtractRegion(startX, startY, startZ, sizeX, sizeY, sizeZ int) ([]uint32, error) {
	if startX < 0 || startY < 0 || startZ < 0 {
		return nil, fmt.Errorf("start coordinates must be non-negative")
	}
	if sizeX <= 0 || sizeY <= 0 || sizeZ <= 0 {
		return nil, fmt.Errorf("size dimensions must be positive")
	}
	if startX+sizeX > v.width || startY+sizeY > v.height || startZ+sizeZ > v.depth {
		return nil, fmt.Errorf("region extends beyond volume boundaries")
	}

	region := make([]uint32, sizeX*sizeY*sizeZ)
	for z := 0; z < sizeZ; z++ {
		for y := 0; y < sizeY; y++ {
			for x := 0; x < sizeX; x++ {
				region[z*sizeX*sizeY+y*sizeX+x] = v.at(startX+x, startY+y, startZ+z)
			}
		}
	}
	return region, nil
}

// SaveSlice saves an extracted slice as a PNG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return err
	}
	return file.Close()
}

// SaveSliceSequence extracts and saves every slice along the specified axis
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.width
	case "y", "Y":
		maxPos = v.height
	case "z", "Z":
		maxPos = v.depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
