package models

import (
	"fmt"
	"math"
)

// Label is the set of pixel types a labeled mask may be stored in.
type Label interface {
	~uint8 | ~uint16 | ~uint32
}

// ComponentType identifies the on-disk pixel type of a label image
type ComponentType int

const (
	Unknown ComponentType = iota
	Uint8
	Uint16
	Uint32
)

func (c ComponentType) String() string {
	switch c {
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	default:
		return "unknown"
	}
}

// Bits returns the width of the component in bits, or 0 if unknown.
func (c ComponentType) Bits() int {
	switch c {
	case Uint8:
		return 8
	case Uint16:
		return 16
	case Uint32:
		return 32
	default:
		return 0
	}
}

// MaxLabel returns the largest label value the component can hold.
func (c ComponentType) MaxLabel() uint32 {
	switch c {
	case Uint8:
		return math.MaxUint8
	case Uint16:
		return math.MaxUint16
	case Uint32:
		return math.MaxUint32
	default:
		return 0
	}
}

// ParseComponentType is the inverse of ComponentType.String.
func ParseComponentType(s string) (ComponentType, error) {
	switch s {
	case "uint8":
		return Uint8, nil
	case "uint16":
		return Uint16, nil
	case "uint32":
		return Uint32, nil
	}
	return Unknown, fmt.Errorf("unknown component type %q", s)
}

// ComponentOf returns the component type matching the label type L.
func ComponentOf[L Label]() ComponentType {
	switch uint64(^L(0)) {
	case math.MaxUint8:
		return Uint8
	case math.MaxUint16:
		return Uint16
	default:
		return Uint32
	}
}

// Header describes an image file without its voxel data
type Header struct {
	// Dim is the number of dimensions recorded in the file
	Dim int

	// Size is the extent along each axis, x first
	Size []int

	// Spacing is the physical size of a voxel along each axis
	Spacing []float64

	// Origin is the physical position of the first voxel
	Origin []float64

	// Component is the stored pixel type
	Component ComponentType
}

// NumVoxels returns the product of the header sizes.
func (h Header) NumVoxels() int {
	if len(h.Size) == 0 {
		return 0
	}
	n := 1
	for _, s := range h.Size {
		n *= s
	}
	return n
}

// Volume is an N-dimensional labeled mask stored in row-major order with x varying fastest.
// Label 0 is background; every other value identifies one region.
type Volume[L Label] struct {
	// Size is the extent along each axis
	Size []int

	// Spacing is the physical voxel size along each axis
	Spacing []float64

	// Origin is the physical coordinate of voxel (0, 0, ...)
	Origin []float64

	// Data holds the labels
	Data []L
}

// NewVolume allocates a zero-filled volume with unit spacing and zero origin.
func NewVolume[L Label](size ...int) *Volume[L] {
	v := &Volume[L]{
		Size:    append([]int(nil), size...),
		Spacing: make([]float64, len(size)),
		Origin:  make([]float64, len(size)),
	}
	for i := range v.Spacing {
		v.Spacing[i] = 1
	}
	v.Data = make([]L, v.NumVoxels())
	return v
}

// NewVolumeFromHeader allocates a volume with the geometry described by h.
func NewVolumeFromHeader[L Label](h Header) *Volume[L] {
	v := NewVolume[L](h.Size...)
	copy(v.Spacing, h.Spacing)
	copy(v.Origin, h.Origin)
	return v
}

// Dim returns the number of axes.
func (v *Volume[L]) Dim() int { return len(v.Size) }

// NumVoxels returns the total number of voxels.
func (v *Volume[L]) NumVoxels() int {
	if len(v.Size) == 0 {
		return 0
	}
	n := 1
	for _, s := range v.Size {
		n *= s
	}
	return n
}

// Strides returns the linear index step along each axis.
func (v *Volume[L]) Strides() []int {
	strides := make([]int, len(v.Size))
	step := 1
	for i, s := range v.Size {
		strides[i] = step
		step *= s
	}
	return strides
}

// Index converts a coordinate to a linear index. The coordinate is assumed in bounds.
func (v *Volume[L]) Index(coord ...int) int {
	idx := 0
	step := 1
	for i, c := range coord {
		idx += c * step
		step *= v.Size[i]
	}
	return idx
}

// Coord converts a linear index back to a coordinate.
func (v *Volume[L]) Coord(idx int) []int {
	coord := make([]int, len(v.Size))
	for i, s := range v.Size {
		coord[i] = idx % s
		idx /= s
	}
	return coord
}

// InBounds reports whether coord lies inside the volume.
func (v *Volume[L]) InBounds(coord ...int) bool {
	if len(coord) != len(v.Size) {
		return false
	}
	for i, c := range coord {
		if c < 0 || c >= v.Size[i] {
			return false
		}
	}
	return true
}

func (v *Volume[L]) At(coord ...int) L {
	return v.Data[v.Index(coord...)]
}

func (v *Volume[L]) Set(value L, coord ...int) {
	v.Data[v.Index(coord...)] = value
}

// Header returns the geometry of the volume together with its component type.
func (v *Volume[L]) Header() Header {
	return Header{
		Dim:       v.Dim(),
		Size:      append([]int(nil), v.Size...),
		Spacing:   append([]float64(nil), v.Spacing...),
		Origin:    append([]float64(nil), v.Origin...),
		Component: ComponentOf[L](),
	}
}

// Clone returns a deep copy.
func (v *Volume[L]) Clone() *Volume[L] {
	return &Volume[L]{
		Size:    append([]int(nil), v.Size...),
		Spacing: append([]float64(nil), v.Spacing...),
		Origin:  append([]float64(nil), v.Origin...),
		Data:    append([]L(nil), v.Data...),
	}
}

// EmptyLike returns a zero-filled volume with the same geometry.
func (v *Volume[L]) EmptyLike() *Volume[L] {
	return &Volume[L]{
		Size:    append([]int(nil), v.Size...),
		Spacing: append([]float64(nil), v.Spacing...),
		Origin:  append([]float64(nil), v.Origin...),
		Data:    make([]L, len(v.Data)),
	}
}

// SameGeometry reports whether both volumes share size, spacing and origin.
func (v *Volume[L]) SameGeometry(o *Volume[L]) bool {
	if len(v.Size) != len(o.Size) {
		return false
	}
	for i := range v.Size {
		if v.Size[i] != o.Size[i] || v.Spacing[i] != o.Spacing[i] || v.Origin[i] != o.Origin[i] {
			return false
		}
	}
	return true
}

// Validate checks the internal consistency of the volume.
func (v *Volume[L]) Validate() error {
	if len(v.Size) == 0 {
		return fmt.Errorf("volume has no dimensions")
	}
	if len(v.Spacing) != len(v.Size) || len(v.Origin) != len(v.Size) {
		return fmt.Errorf("spacing/origin length mismatch: size %d, spacing %d, origin %d",
			len(v.Size), len(v.Spacing), len(v.Origin))
	}
	for i, s := range v.Size {
		if s <= 0 {
			return fmt.Errorf("axis %d has non-positive size %d", i, s)
		}
		if !(v.Spacing[i] > 0) || math.IsInf(v.Spacing[i], 0) {
			return fmt.Errorf("axis %d has invalid spacing %g", i, v.Spacing[i])
		}
	}
	if len(v.Data) != v.NumVoxels() {
		return fmt.Errorf("data length %d does not match %d voxels", len(v.Data), v.NumVoxels())
	}
	return nil
}
