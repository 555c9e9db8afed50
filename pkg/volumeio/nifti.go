package volumeio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"

	"labelmorph/internal/models"
)

// NIfTI-1 datatype codes
const (
	niftiUint8  = 2
	niftiInt16  = 4
	niftiInt32  = 8
	niftiInt8   = 256
	niftiUint16 = 512
	niftiUint32 = 768

	niftiHeaderSize = 348
	niftiVoxOffset  = 352
)

// nifti1Header mirrors the 348-byte NIfTI-1 header.
type nifti1Header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	GLMax         int32
	GLMin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QOffsetX      float32
	QOffsetY      float32
	QOffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

type niftiFormat struct{}

func (niftiFormat) Name() string         { return "nifti" }
func (niftiFormat) Extensions() []string { return []string{".nii", ".nii.gz"} }

func (f niftiFormat) ReadInfo(path string) (models.Header, error) {
	r, _, closer, err := openNifti(path)
	if err != nil {
		return models.Header{}, err
	}
	defer closer()

	hdr, _, err := readNiftiHeader(r)
	if err != nil {
		return models.Header{}, fmt.Errorf("%s: %w", path, err)
	}
	h, err := niftiToHeader(path, hdr)
	if err != nil {
		return models.Header{}, err
	}
	return h, nil
}

func (f niftiFormat) Read(path string) (models.Header, []uint32, error) {
	r, fileSize, closer, err := openNifti(path)
	if err != nil {
		return models.Header{}, nil, err
	}
	defer closer()

	hdr, order, err := readNiftiHeader(r)
	if err != nil {
		return models.Header{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	h, err := niftiToHeader(path, hdr)
	if err != nil {
		return models.Header{}, nil, err
	}
	if h.Component == models.Unknown {
		return models.Header{}, nil, fmt.Errorf("%w: %s has NIfTI datatype %d", ErrUnsupportedComponent, path, hdr.Datatype)
	}

	// Skip the extension block up to the voxel offset
	offset := int64(hdr.VoxOffset)
	if offset < niftiHeaderSize {
		offset = niftiVoxOffset
	}
	if _, err := io.CopyN(io.Discard, r, offset-niftiHeaderSize); err != nil {
		return models.Header{}, nil, fmt.Errorf("%w: %s: truncated before voxel data: %v", ErrBadHeader, path, err)
	}

	n := h.NumVoxels()
	want := int64(n) * int64(h.Component.Bits()/8)
	var raw []byte
	if fileSize >= 0 {
		if offset+want > fileSize {
			return models.Header{}, nil, fmt.Errorf("%w: %s: header claims %d voxels but the file holds %d bytes",
				ErrBadHeader, path, n, fileSize)
		}
		raw = make([]byte, want)
		_, err = io.ReadFull(r, raw)
	} else {
		// compressed size says nothing about the payload; grow the buffer as data arrives
		raw, err = io.ReadAll(io.LimitReader(r, want))
		if err == nil && int64(len(raw)) != want {
			err = io.ErrUnexpectedEOF
		}
	}
	if err != nil {
		return models.Header{}, nil, fmt.Errorf("%w: %s: reading %d voxels: %v", ErrBadHeader, path, n, err)
	}
	return h, decodeLabels(raw, h.Component, order), nil
}

func (f niftiFormat) Write(path string, h models.Header, data []uint32, opts WriteOptions) error {
	hdr := nifti1Header{
		SizeofHdr: niftiHeaderSize,
		Regular:   'r',
		VoxOffset: niftiVoxOffset,
		XYZTUnits: 2, // millimetres
		QformCode: 1,
		Magic:     [4]byte{'n', '+', '1', 0},
	}
	if h.Dim > 7 {
		return fmt.Errorf("NIfTI supports at most 7 dimensions, got %d", h.Dim)
	}
	switch h.Component {
	case models.Uint8:
		hdr.Datatype, hdr.Bitpix = niftiUint8, 8
	case models.Uint16:
		hdr.Datatype, hdr.Bitpix = niftiUint16, 16
	case models.Uint32:
		hdr.Datatype, hdr.Bitpix = niftiUint32, 32
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedComponent, h.Component)
	}

	hdr.Dim[0] = int16(h.Dim)
	hdr.Pixdim[0] = 1
	for i := 0; i < h.Dim; i++ {
		if h.Size[i] > math.MaxInt16 {
			return fmt.Errorf("axis %d size %d exceeds the NIfTI-1 limit", i, h.Size[i])
		}
		hdr.Dim[i+1] = int16(h.Size[i])
		hdr.Pixdim[i+1] = float32(h.Spacing[i])
	}
	for i := h.Dim + 1; i < len(hdr.Dim); i++ {
		hdr.Dim[i] = 1
	}
	origin := [3]float32{}
	for i := 0; i < len(h.Origin) && i < 3; i++ {
		origin[i] = float32(h.Origin[i])
	}
	hdr.QOffsetX, hdr.QOffsetY, hdr.QOffsetZ = origin[0], origin[1], origin[2]
	copy(hdr.Descrip[:], "labelmorph")

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("error encoding NIfTI header: %w", err)
	}
	buf.Write(make([]byte, niftiVoxOffset-niftiHeaderSize))
	buf.Write(encodeLabels(data, h.Component, binary.LittleEndian))

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if isGzipped(path) {
		zw := gzip.NewWriter(file)
		if _, err := zw.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("error compressing %s: %w", path, err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("error compressing %s: %w", path, err)
		}
	} else if _, err := file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return file.Close()
}

func isGzipped(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

// openNifti returns a reader positioned at the start of the header, decompressing
// .nii.gz transparently. The size is that of an uncompressed file, or -1 for .nii.gz.
func openNifti(path string) (io.Reader, int64, func(), error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, nil, err
	}
	if !isGzipped(path) {
		fi, err := file.Stat()
		if err != nil {
			file.Close()
			return nil, 0, nil, err
		}
		return bufio.NewReader(file), fi.Size(), func() { file.Close() }, nil
	}
	zr, err := gzip.NewReader(bufio.NewReader(file))
	if err != nil {
		file.Close()
		return nil, 0, nil, fmt.Errorf("%w: %s: %v", ErrBadHeader, path, err)
	}
	return zr, -1, func() { zr.Close(); file.Close() }, nil
}

// readNiftiHeader decodes the header, detecting byte order from sizeof_hdr.
func readNiftiHeader(r io.Reader) (*nifti1Header, binary.ByteOrder, error) {
	raw := make([]byte, niftiHeaderSize)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, nil, fmt.Errorf("%w: short NIfTI header: %v", ErrBadHeader, err)
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(raw) == niftiHeaderSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(raw) == niftiHeaderSize:
		order = binary.BigEndian
	default:
		return nil, nil, fmt.Errorf("%w: sizeof_hdr is not %d", ErrBadHeader, niftiHeaderSize)
	}

	hdr := &nifti1Header{}
	if err := binary.Read(bytes.NewReader(raw), order, hdr); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	return hdr, order, nil
}

// niftiToHeader converts the file header. Trailing axes of extent 1 beyond the third
// are dropped, so a 4D file with one time point reads as 3D while a single-slice 3D
// file stays 3D.
func niftiToHeader(path string, hdr *nifti1Header) (models.Header, error) {
	ndim := int(hdr.Dim[0])
	if ndim < 1 || ndim > 7 {
		return models.Header{}, fmt.Errorf("%w: %s: dim[0] = %d", ErrBadHeader, path, ndim)
	}
	for ndim > 3 && hdr.Dim[ndim] == 1 {
		ndim--
	}

	h := models.Header{
		Dim:     ndim,
		Size:    make([]int, ndim),
		Spacing: make([]float64, ndim),
		Origin:  make([]float64, ndim),
	}
	for i := 0; i < ndim; i++ {
		h.Size[i] = int(hdr.Dim[i+1])
		h.Spacing[i] = float64(hdr.Pixdim[i+1])
		if !(h.Spacing[i] > 0) {
			h.Spacing[i] = 1
		}
	}
	offsets := []float32{hdr.QOffsetX, hdr.QOffsetY, hdr.QOffsetZ}
	for i := 0; i < ndim && i < 3; i++ {
		h.Origin[i] = float64(offsets[i])
	}

	switch hdr.Datatype {
	case niftiUint8:
		h.Component = models.Uint8
	case niftiUint16:
		h.Component = models.Uint16
	case niftiUint32:
		h.Component = models.Uint32
	default:
		h.Component = models.Unknown
	}

	if err := checkHeader(path, h); err != nil {
		return models.Header{}, err
	}
	return h, nil
}

// decodeLabels unpacks fixed-width unsigned integers.
func decodeLabels(raw []byte, c models.ComponentType, order binary.ByteOrder) []uint32 {
	width := c.Bits() / 8
	data := make([]uint32, len(raw)/width)
	for i := range data {
		b := raw[i*width:]
		switch c {
		case models.Uint8:
			data[i] = uint32(b[0])
		case models.Uint16:
			data[i] = uint32(order.Uint16(b))
		case models.Uint32:
			data[i] = order.Uint32(b)
		}
	}
	return data
}

// encodeLabels is the inverse of decodeLabels.
func encodeLabels(data []uint32, c models.ComponentType, order binary.ByteOrder) []byte {
	width := c.Bits() / 8
	raw := make([]byte, len(data)*width)
	for i, v := range data {
		b := raw[i*width:]
		switch c {
		case models.Uint8:
			b[0] = uint8(v)
		case models.Uint16:
			order.PutUint16(b, uint16(v))
		case models.Uint32:
			order.PutUint32(b, v)
		}
	}
	return raw
}
