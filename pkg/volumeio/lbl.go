package volumeio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"strings"

	"github.com/blang/semver"
	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"labelmorph/internal/models"
)

// Compression is the payload compression of the native label format.
// NOTE: Should be no more than 8 (3 bits) of compression types.
type Compression uint8

const (
	Uncompressed Compression = iota
	Snappy
	Zstd
)

func (c Compression) String() string {
	switch c {
	case Uncompressed:
		return "none"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompression accepts the names produced by Compression.String.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "uncompressed":
		return Uncompressed, nil
	case "snappy":
		return Snappy, nil
	case "zstd":
		return Zstd, nil
	}
	return Uncompressed, fmt.Errorf("unknown compression %q", s)
}

// Checksum is the integrity check applied to the uncompressed payload.
// NOTE: Should be no more than 4 (2 bits) of checksum types.
type Checksum uint8

const (
	NoChecksum Checksum = iota
	CRC32
)

// lblVersion is written into every file. Readers accept any file with the same major version.
var lblVersion = semver.MustParse("1.0.0")

var lblMagic = [4]byte{'L', 'B', 'L', 'V'}

// encodeFormat packs compression and checksum into one byte, compression in the top
// three bits and checksum in the next two.
func encodeFormat(c Compression, sum Checksum) uint8 {
	return (uint8(c)&0x07)<<5 | (uint8(sum)&0x03)<<3
}

func decodeFormat(b uint8) (Compression, Checksum) {
	return Compression(b >> 5), Checksum((b >> 3) & 0x03)
}

// lblFormat is the native label volume format:
//
//	magic "LBLV" | version len u8 | version | format u8 | dim u8 | component u8 |
//	size u32 x dim | spacing f64 x dim | origin f64 x dim |
//	checksum u32 | payload len u64 | payload
//
// All integers are little endian. The payload is the label array at the component width,
// possibly compressed; the checksum covers the uncompressed bytes.
type lblFormat struct{}

func (lblFormat) Name() string         { return "lbl" }
func (lblFormat) Extensions() []string { return []string{".lbl"} }

type lblHeader struct {
	header      models.Header
	compression Compression
	checksum    Checksum
	sum         uint32
	payloadLen  uint64
}

func (f lblFormat) ReadInfo(path string) (models.Header, error) {
	file, err := os.Open(path)
	if err != nil {
		return models.Header{}, err
	}
	defer file.Close()

	lh, err := readLblHeader(bufio.NewReader(file))
	if err != nil {
		return models.Header{}, fmt.Errorf("%s: %w", path, err)
	}
	if err := checkHeader(path, lh.header); err != nil {
		return models.Header{}, err
	}
	return lh.header, nil
}

func (f lblFormat) Read(path string) (models.Header, []uint32, error) {
	file, err := os.Open(path)
	if err != nil {
		return models.Header{}, nil, err
	}
	defer file.Close()

	r := bufio.NewReader(file)
	lh, err := readLblHeader(r)
	if err != nil {
		return models.Header{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	h := lh.header
	if err := checkHeader(path, h); err != nil {
		return models.Header{}, nil, err
	}

	expected := uint64(h.NumVoxels() * h.Component.Bits() / 8)
	fi, err := file.Stat()
	if err != nil {
		return models.Header{}, nil, err
	}
	if lh.payloadLen > 2*expected+1024 || lh.payloadLen > uint64(fi.Size()) {
		return models.Header{}, nil, fmt.Errorf("%w: %s: payload of %d bytes for %d voxels in a %d byte file",
			ErrBadHeader, path, lh.payloadLen, h.NumVoxels(), fi.Size())
	}
	payload := make([]byte, lh.payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return models.Header{}, nil, fmt.Errorf("%w: %s: truncated payload: %v", ErrBadHeader, path, err)
	}

	raw, err := decompress(payload, lh.compression, expected)
	if err != nil {
		return models.Header{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	if uint64(len(raw)) != expected {
		return models.Header{}, nil, fmt.Errorf("%w: %s: %d payload bytes, expected %d", ErrBadHeader, path, len(raw), expected)
	}
	if lh.checksum == CRC32 && crc32.ChecksumIEEE(raw) != lh.sum {
		return models.Header{}, nil, fmt.Errorf("%w: %s", ErrChecksum, path)
	}
	return h, decodeLabels(raw, h.Component, binary.LittleEndian), nil
}

func (f lblFormat) Write(path string, h models.Header, data []uint32, opts WriteOptions) error {
	if h.Component == models.Unknown {
		return fmt.Errorf("%w: %v", ErrUnsupportedComponent, h.Component)
	}
	if h.Dim > math.MaxUint8 {
		return fmt.Errorf("too many dimensions: %d", h.Dim)
	}

	raw := encodeLabels(data, h.Component, binary.LittleEndian)
	payload, err := compress(raw, opts.Compression)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Write(lblMagic[:])
	version := lblVersion.String()
	buf.WriteByte(uint8(len(version)))
	buf.WriteString(version)
	buf.WriteByte(encodeFormat(opts.Compression, CRC32))
	buf.WriteByte(uint8(h.Dim))
	buf.WriteByte(uint8(h.Component))
	for _, s := range h.Size {
		binary.Write(&buf, binary.LittleEndian, uint32(s))
	}
	for _, s := range h.Spacing {
		binary.Write(&buf, binary.LittleEndian, s)
	}
	for _, o := range h.Origin {
		binary.Write(&buf, binary.LittleEndian, o)
	}
	binary.Write(&buf, binary.LittleEndian, crc32.ChecksumIEEE(raw))
	binary.Write(&buf, binary.LittleEndian, uint64(len(payload)))
	buf.Write(payload)

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

func readLblHeader(r io.Reader) (*lblHeader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil || magic != lblMagic {
		return nil, fmt.Errorf("%w: not a label volume", ErrBadHeader)
	}

	var vlen [1]byte
	if _, err := io.ReadFull(r, vlen[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	vbuf := make([]byte, vlen[0])
	if _, err := io.ReadFull(r, vbuf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	ver, err := semver.Parse(string(vbuf))
	if err != nil {
		return nil, fmt.Errorf("%w: bad version %q: %v", ErrBadHeader, vbuf, err)
	}
	if ver.Major != lblVersion.Major {
		return nil, fmt.Errorf("%w: label volume version %s is not compatible with %s", ErrBadHeader, ver, lblVersion)
	}

	var fixed [3]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	lh := &lblHeader{}
	lh.compression, lh.checksum = decodeFormat(fixed[0])
	dim := int(fixed[1])
	lh.header = models.Header{
		Dim:       dim,
		Size:      make([]int, dim),
		Spacing:   make([]float64, dim),
		Origin:    make([]float64, dim),
		Component: models.ComponentType(fixed[2]),
	}
	if lh.header.Component.Bits() == 0 {
		return nil, fmt.Errorf("%w: component code %d", ErrUnsupportedComponent, fixed[2])
	}

	sizes := make([]uint32, dim)
	if err := binary.Read(r, binary.LittleEndian, sizes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	for i, s := range sizes {
		lh.header.Size[i] = int(s)
	}
	if err := binary.Read(r, binary.LittleEndian, lh.header.Spacing); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if err := binary.Read(r, binary.LittleEndian, lh.header.Origin); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &lh.sum); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	if err := binary.Read(r, binary.LittleEndian, &lh.payloadLen); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	return lh, nil
}

// zstdMinMemory bounds frames without a content size.
const zstdMinMemory = 64 << 20

func compress(raw []byte, c Compression) ([]byte, error) {
	switch c {
	case Uncompressed:
		return raw, nil
	case Snappy:
		return snappy.Encode(nil, raw), nil
	case Zstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("error creating zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(raw, nil), nil
	}
	return nil, fmt.Errorf("unsupported compression %v", c)
}

// decompress inflates payload, refusing to produce more than limit bytes.
func decompress(payload []byte, c Compression, limit uint64) ([]byte, error) {
	switch c {
	case Uncompressed:
		return payload, nil
	case Snappy:
		n, err := snappy.DecodedLen(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrChecksum, err)
		}
		if uint64(n) != limit {
			return nil, fmt.Errorf("%w: snappy payload decodes to %d bytes, expected %d", ErrBadHeader, n, limit)
		}
		raw, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrChecksum, err)
		}
		return raw, nil
	case Zstd:
		var zh zstd.Header
		if err := zh.Decode(payload); err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrChecksum, err)
		}
		if zh.HasFCS && zh.FrameContentSize != limit {
			return nil, fmt.Errorf("%w: zstd payload decodes to %d bytes, expected %d", ErrBadHeader, zh.FrameContentSize, limit)
		}
		// the floor keeps room for the encoder's default window on small payloads
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(max(limit, zstdMinMemory)))
		if err != nil {
			return nil, fmt.Errorf("error creating zstd decoder: %w", err)
		}
		defer dec.Close()
		raw, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrChecksum, err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("%w: unknown compression code %d", ErrBadHeader, c)
}
