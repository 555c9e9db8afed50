// Package volumeio reads and writes labeled mask images.
//
// Formats are chosen from the file extension: NIfTI-1 (.nii, .nii.gz), the native
// compressed label format (.lbl), and the 2D raster formats PNG, TIFF and BMP. Voxel data
// travels between formats as uint32 labels and is narrowed to the caller's label type.
package volumeio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"labelmorph/internal/models"
)

var (
	// ErrNoFormat is returned when no registered format handles a file name.
	ErrNoFormat = errors.New("no image format for file")

	// ErrUnsupportedComponent is returned for pixel types that cannot hold labels.
	ErrUnsupportedComponent = errors.New("unsupported pixel component type")

	// ErrBadHeader is returned when a file header cannot be parsed.
	ErrBadHeader = errors.New("malformed image header")

	// ErrChecksum is returned when stored voxel data fails its integrity check.
	ErrChecksum = errors.New("voxel data checksum mismatch")
)

// Format is one image file format.
type Format interface {
	// Name is a short identifier such as "nifti".
	Name() string

	// Extensions lists the lower-case file suffixes handled, including the dot.
	Extensions() []string

	// ReadInfo parses only the header.
	ReadInfo(path string) (models.Header, error)

	// Read decodes header and voxel data.
	Read(path string) (models.Header, []uint32, error)

	// Write encodes voxel data stored with the header's component type.
	Write(path string, h models.Header, data []uint32, opts WriteOptions) error
}

// WriteOptions tunes encoders that support it.
type WriteOptions struct {
	// Compression applies to the native label format.
	Compression Compression
}

var formats = []Format{niftiFormat{}, lblFormat{}, pngFormat, tiffFormat, bmpFormat}

// Formats returns the registered formats.
func Formats() []Format {
	return append([]Format(nil), formats...)
}

// Extensions lists every recognized extension, sorted.
func Extensions() []string {
	var exts []string
	for _, f := range formats {
		exts = append(exts, f.Extensions()...)
	}
	sort.Strings(exts)
	return exts
}

// FormatFor picks the format handling path by its extension. Longer suffixes win, so
// ".nii.gz" is matched before any ".gz" handler.
func FormatFor(path string) (Format, error) {
	name := strings.ToLower(filepath.Base(path))
	var best Format
	bestLen := 0
	for _, f := range formats {
		for _, ext := range f.Extensions() {
			if strings.HasSuffix(name, ext) && len(ext) > bestLen {
				best, bestLen = f, len(ext)
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFormat, path)
	}
	return best, nil
}

// ReadInfo returns the header of the image at path without decoding voxels.
func ReadInfo(path string) (models.Header, error) {
	f, err := FormatFor(path)
	if err != nil {
		return models.Header{}, err
	}
	h, err := f.ReadInfo(path)
	if err != nil {
		return models.Header{}, err
	}
	return h, nil
}

// Read loads the image at path as a volume of labels of type L. The stored component
// must fit into L.
func Read[L models.Label](path string) (*models.Volume[L], error) {
	f, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	h, data, err := f.Read(path)
	if err != nil {
		return nil, err
	}
	want := models.ComponentOf[L]()
	if h.Component.Bits() > want.Bits() {
		return nil, fmt.Errorf("%w: %s holds %v labels, cannot read as %v",
			ErrUnsupportedComponent, path, h.Component, want)
	}
	if len(data) != h.NumVoxels() {
		return nil, fmt.Errorf("%w: %s has %d voxels, header says %d", ErrBadHeader, path, len(data), h.NumVoxels())
	}

	vol := models.NewVolumeFromHeader[L](h)
	for i, v := range data {
		vol.Data[i] = L(v)
	}
	return vol, nil
}

// Write saves vol at path, creating parent directories as needed.
func Write[L models.Label](path string, vol *models.Volume[L], opts WriteOptions) error {
	f, err := FormatFor(path)
	if err != nil {
		return err
	}
	if err := vol.Validate(); err != nil {
		return fmt.Errorf("refusing to write invalid volume: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating output directory: %w", err)
		}
	}

	data := make([]uint32, len(vol.Data))
	for i, v := range vol.Data {
		data[i] = uint32(v)
	}
	return f.Write(path, vol.Header(), data, opts)
}

// checkHeader validates geometry read from a file.
func checkHeader(path string, h models.Header) error {
	if h.Dim < 1 || len(h.Size) != h.Dim {
		return fmt.Errorf("%w: %s: dimension %d with %d sizes", ErrBadHeader, path, h.Dim, len(h.Size))
	}
	width := max(h.Component.Bits()/8, 1)
	total := width
	for i, s := range h.Size {
		if s <= 0 {
			return fmt.Errorf("%w: %s: axis %d has size %d", ErrBadHeader, path, i, s)
		}
		if total > math.MaxInt/s {
			return fmt.Errorf("%w: %s: size %v overflows", ErrBadHeader, path, h.Size)
		}
		total *= s
	}
	return nil
}

// unitSpacing returns n ones.
func unitSpacing(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}
