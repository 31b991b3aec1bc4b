// Package chunkstore implements the chunk binary codec and the Endpoint
// adapter that serializes a Cell to storage and reads it back.
package chunkstore

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/klauspost/compress/zstd"

	"github.com/wkalt/ept/schema"
)

// Magic identifies a chunk file: "EWCK".
var Magic = [4]byte{'E', 'W', 'C', 'K'} // nolint:gochecknoglobals

const (
	currentVersion = uint16(0)

	flagZstd = uint16(1 << 0)

	headerSize = 24 // magic(4) + version(2) + flags(2) + pointCount(4) + uncompressedSize(4) + compressedSize(4) + reserved(4)
)

// Corrupt is returned when a chunk fails header validation on read.
type Corrupt struct {
	Reason string
}

func (e Corrupt) Error() string { return fmt.Sprintf("chunk corrupt: %s", e.Reason) }

func (e Corrupt) Is(target error) bool {
	_, ok := target.(Corrupt)
	return ok
}

// header describes the fixed leading 24 bytes of a chunk.
type header struct {
	version          uint16
	flags            uint16
	pointCount       uint32
	uncompressedSize uint32
	compressedSize   uint32
}

func (h header) compressed() bool { return h.flags&flagZstd != 0 }

var encoderPool, _ = zstd.NewWriter(nil) // nolint:gochecknoglobals

// Encode serializes points under s into a chunk file body, compressing with
// Zstandard when compress is true.
func Encode(points []schema.Point, s schema.Schema, compress bool) ([]byte, error) {
	body := make([]byte, 0, len(points)*s.PointSize())
	rowBuf := make([]byte, s.PointSize())
	for _, p := range points {
		n := packPoint(rowBuf, p, s)
		body = append(body, rowBuf[:n]...)
	}
	uncompressedSize := len(body)

	payload := body
	flags := uint16(0)
	if compress {
		payload = encoderPool.EncodeAll(body, nil)
		flags |= flagZstd
	}

	buf := make([]byte, headerSize+len(payload))
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint16(buf[4:6], currentVersion)
	binary.LittleEndian.PutUint16(buf[6:8], flags)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(points)))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(uncompressedSize))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(len(payload)))
	// bytes [20:24] reserved, left zero.
	copy(buf[headerSize:], payload)
	return buf, nil
}

// Decode parses a chunk file body back into points under s. A header
// mismatch (bad magic, short buffer, or a point count/size inconsistency)
// is reported as a Corrupt error.
func Decode(data []byte, s schema.Schema) ([]schema.Point, error) {
	h, body, err := parseHeader(data)
	if err != nil {
		return nil, err
	}

	raw := body
	if h.compressed() {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		defer dec.Close()
		raw, err = dec.DecodeAll(body, make([]byte, 0, h.uncompressedSize))
		if err != nil {
			return nil, Corrupt{Reason: fmt.Sprintf("zstd decode: %v", err)}
		}
	}

	if uint32(len(raw)) != h.uncompressedSize {
		return nil, Corrupt{Reason: "uncompressed size mismatch"}
	}

	rowSize := s.PointSize()
	if rowSize == 0 || uint32(len(raw)) != h.pointCount*uint32(rowSize) {
		return nil, Corrupt{Reason: "point count does not match body size"}
	}

	points := make([]schema.Point, 0, h.pointCount)
	for off := 0; off < len(raw); off += rowSize {
		points = append(points, unpackPoint(raw[off:off+rowSize], s))
	}
	return points, nil
}

func parseHeader(data []byte) (header, []byte, error) {
	if len(data) < headerSize {
		return header{}, nil, Corrupt{Reason: "short header"}
	}
	if string(data[0:4]) != string(Magic[:]) {
		return header{}, nil, Corrupt{Reason: "bad magic"}
	}
	h := header{
		version:          binary.LittleEndian.Uint16(data[4:6]),
		flags:            binary.LittleEndian.Uint16(data[6:8]),
		pointCount:       binary.LittleEndian.Uint32(data[8:12]),
		uncompressedSize: binary.LittleEndian.Uint32(data[12:16]),
		compressedSize:   binary.LittleEndian.Uint32(data[16:20]),
	}
	if h.version != currentVersion {
		return header{}, nil, Corrupt{Reason: fmt.Sprintf("unsupported chunk version %d", h.version)}
	}
	body := data[headerSize:]
	if uint32(len(body)) != h.compressedSize {
		return header{}, nil, Corrupt{Reason: "compressed size mismatch"}
	}
	return h, body, nil
}

// PackPoint writes p's dimensions into dst in schema order (the same row
// layout used inside an encoded chunk body) and returns the number of
// bytes written. Exposed for source readers that ingest raw, unheadered
// fixed-width point dumps in this wire format.
func PackPoint(dst []byte, p schema.Point, s schema.Schema) int {
	return packPoint(dst, p, s)
}

// UnpackPoint reverses PackPoint.
func UnpackPoint(src []byte, s schema.Schema) schema.Point {
	return unpackPoint(src, s)
}

// packPoint writes p's dimensions into dst in schema order and returns the
// number of bytes written.
func packPoint(dst []byte, p schema.Point, s schema.Schema) int {
	values := make([]float64, len(s.Dims))
	values[0], values[1], values[2] = p.X, p.Y, p.Z
	for i, v := range p.Aux {
		if i+3 < len(values) {
			values[i+3] = v
		}
	}

	off := 0
	for i, d := range s.Dims {
		off += writeDim(dst[off:], values[i], d)
	}
	return off
}

func unpackPoint(src []byte, s schema.Schema) schema.Point {
	values := make([]float64, len(s.Dims))
	off := 0
	for i, d := range s.Dims {
		v, n := readDim(src[off:], d)
		values[i] = v
		off += n
	}
	p := schema.Point{X: values[0], Y: values[1], Z: values[2]}
	if len(values) > 3 {
		p.Aux = append([]float64(nil), values[3:]...)
	}
	return p
}

func writeDim(dst []byte, v float64, d schema.Dimension) int {
	switch d.Type {
	case schema.Float64:
		binary.LittleEndian.PutUint64(dst, math.Float64bits(v))
		return 8
	case schema.Float32:
		binary.LittleEndian.PutUint32(dst, math.Float32bits(float32(v)))
		return 4
	case schema.Int32:
		binary.LittleEndian.PutUint32(dst, uint32(schema.Quantize(v, d)))
		return 4
	case schema.Uint32:
		binary.LittleEndian.PutUint32(dst, uint32(v))
		return 4
	case schema.Int16:
		binary.LittleEndian.PutUint16(dst, uint16(int16(v)))
		return 2
	case schema.Uint16:
		binary.LittleEndian.PutUint16(dst, uint16(v))
		return 2
	case schema.Int8, schema.Uint8:
		dst[0] = byte(v)
		return 1
	case schema.Int64, schema.Uint64:
		binary.LittleEndian.PutUint64(dst, uint64(int64(v)))
		return 8
	default:
		return 0
	}
}

func readDim(src []byte, d schema.Dimension) (float64, int) {
	switch d.Type {
	case schema.Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(src)), 8
	case schema.Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(src))), 4
	case schema.Int32:
		return schema.Dequantize(int64(int32(binary.LittleEndian.Uint32(src))), d), 4
	case schema.Uint32:
		return float64(binary.LittleEndian.Uint32(src)), 4
	case schema.Int16:
		return float64(int16(binary.LittleEndian.Uint16(src))), 2
	case schema.Uint16:
		return float64(binary.LittleEndian.Uint16(src)), 2
	case schema.Int8:
		return float64(int8(src[0])), 1
	case schema.Uint8:
		return float64(src[0]), 1
	case schema.Int64:
		return float64(int64(binary.LittleEndian.Uint64(src))), 8
	case schema.Uint64:
		return float64(binary.LittleEndian.Uint64(src)), 8
	default:
		return 0, 0
	}
}
