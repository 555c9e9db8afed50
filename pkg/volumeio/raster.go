package volumeio

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"labelmorph/internal/models"
)

// rasterCodec adapts a 2D image codec to the Format interface. Label images map to
// Gray (uint8) and Gray16 (uint16); paletted images contribute their palette indices.
type rasterCodec struct {
	name         string
	exts         []string
	decode       func(io.Reader) (image.Image, error)
	decodeConfig func(io.Reader) (image.Config, error)
	encode       func(io.Writer, image.Image) error
	max          models.ComponentType
}

var (
	pngFormat = rasterCodec{
		name: "png", exts: []string{".png"},
		decode: png.Decode, decodeConfig: png.DecodeConfig,
		encode: png.Encode, max: models.Uint16,
	}
	tiffFormat = rasterCodec{
		name: "tiff", exts: []string{".tif", ".tiff"},
		decode: tiff.Decode, decodeConfig: tiff.DecodeConfig,
		encode: func(w io.Writer, m image.Image) error {
			return tiff.Encode(w, m, &tiff.Options{Compression: tiff.Deflate})
		},
		max: models.Uint16,
	}
	bmpFormat = rasterCodec{
		name: "bmp", exts: []string{".bmp"},
		decode: bmp.Decode, decodeConfig: bmp.DecodeConfig,
		encode: bmp.Encode, max: models.Uint8,
	}
)

func (c rasterCodec) Name() string         { return c.name }
func (c rasterCodec) Extensions() []string { return c.exts }

func (c rasterCodec) ReadInfo(path string) (models.Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return models.Header{}, err
	}
	defer file.Close()

	cfg, err := c.decodeConfig(bufio.NewReader(file))
	if err != nil {
		return models.Header{}, fmt.Errorf("%w: %s: %v", ErrBadHeader, path, err)
	}
	component := models.Uint8
	if cfg.ColorModel == color.Gray16Model {
		component = models.Uint16
	}
	return rasterHeader(cfg.Width, cfg.Height, component), nil
}

func (c rasterCodec) Read(path string) (models.Header, []uint32, error) {
	file, err := os.Open(path)
	if err != nil {
		return models.Header{}, nil, err
	}
	defer file.Close()

	img, err := c.decode(bufio.NewReader(file))
	if err != nil {
		return models.Header{}, nil, fmt.Errorf("%w: %s: %v", ErrBadHeader, path, err)
	}
	h, data := imageToLabels(img)
	return h, data, nil
}

func (c rasterCodec) Write(path string, h models.Header, data []uint32, opts WriteOptions) error {
	if h.Dim != 2 {
		return fmt.Errorf("%s images are 2D only, got %d dimensions", c.name, h.Dim)
	}
	if h.Component.Bits() > c.max.Bits() || h.Component == models.Unknown {
		return fmt.Errorf("%w: %s cannot store %v labels", ErrUnsupportedComponent, c.name, h.Component)
	}

	img := labelsToImage(h, data)
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	if err := c.encode(w, img); err != nil {
		return fmt.Errorf("error encoding %s: %w", path, err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return file.Close()
}

func rasterHeader(width, height int, c models.ComponentType) models.Header {
	return models.Header{
		Dim:       2,
		Size:      []int{width, height},
		Spacing:   unitSpacing(2),
		Origin:    make([]float64, 2),
		Component: c,
	}
}

// imageToLabels extracts label values from a decoded image
func imageToLabels(img image.Image) (models.Header, []uint32) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	data := make([]uint32, width*height)

	component := models.Uint8
	switch m := img.(type) {
	case *image.Gray:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				data[y*width+x] = uint32(m.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
	case *image.Gray16:
		component = models.Uint16
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				data[y*width+x] = uint32(m.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
	case *image.Paletted:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				data[y*width+x] = uint32(m.ColorIndexAt(bounds.Min.X+x, bounds.Min.Y+y))
			}
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				r, _, _, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
				data[y*width+x] = r >> 8
			}
		}
	}
	return rasterHeader(width, height, component), data
}

// labelsToImage builds a grayscale image holding the labels
func labelsToImage(h models.Header, data []uint32) image.Image {
	width, height := h.Size[0], h.Size[1]
	rect := image.Rect(0, 0, width, height)
	if h.Component == models.Uint16 {
		img := image.NewGray16(rect)
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				img.SetGray16(x, y, color.Gray16{Y: uint16(data[y*width+x])})
			}
		}
		return img
	}
	img := image.NewGray(rect)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(data[y*width+x])})
		}
	}
	return img
}
