package testutils

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

/*
General purpose test utilitites.
*/

////////////////////////////////////////////////////////////////////////////////

// GetOpenPort returns an open port that can be used for testing.
func GetOpenPort() (int, error) {
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		return 0, fmt.Errorf("failed to get open port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// Flatten concatenates slices of the same type.
func Flatten[T any](slices ...[]T) []T {
	result := []T{}
	for _, s := range slices {
		result = append(result, s...)
	}
	return result
}

// U8b returns a byte slice containing a single uint8 value.
func U8b(v uint8) []byte {
	return []byte{v}
}

// U16b returns a byte slice containing a single uint16 value.
func U16b(v uint16) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, v)
	return buf
}

// U32b returns a byte slice containing a single uint32 value.
func U32b(v uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, v)
	return buf
}

func U64b(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func F32b(v float32) []byte {
	return U32b(math.Float32bits(v))
}

func F64b(v float64) []byte {
	return U64b(math.Float64bits(v))
}

// Boolb returns a byte slice containing a single bool value.
func Boolb(v bool) []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// I8b returns a byte slice containing a single int8 value.
func I8b(v int8) []byte {
	return U8b(uint8(v))
}

// I16b returns a byte slice containing a single int16 value.
func I16b(v int16) []byte {
	return U16b(uint16(v))
}

// I32b returns a byte slice containing a single int32 value.
func I32b(v int32) []byte {
	return U32b(uint32(v))
}

// I64b returns a byte slice containing a single int64 value.
func I64b(v int64) []byte {
	return U64b(uint64(v))
}

// PrefixedString returns a length-prefixed encoding of s.
func PrefixedString(s string) []byte {
	buf := make([]byte, 4+len(s))
	binary.LittleEndian.PutUint32(buf, uint32(len(s)))
	copy(buf[4:], s)
	return buf
}

// ReadPrefixedString decodes a length-prefixed string from in.
func ReadPrefixedString(t *testing.T, in []byte) string {
	t.Helper()
	require.GreaterOrEqual(t, len(in), 4)
	length := binary.LittleEndian.Uint32(in)
	require.GreaterOrEqual(t, len(in), int(4+length))
	return string(in[4 : 4+length])
}

// StripSpace removes leading and trailing whitespace from s.
func StripSpace(s string) string {
	return strings.TrimSpace(s)
}

// TrimLeadingSpace removes leading whitespace from each line of s.
func TrimLeadingSpace(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimLeft(line, " \t")
	}
	return strings.Join(lines, "\n")
}
