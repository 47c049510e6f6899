package comm

import (
	"encoding/binary"
	"math"
)

// Wire helpers for the little-endian payload formats shared by the
// summation kernels.

// AppendUint64 appends v in little-endian order.
func AppendUint64(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(b, v)
}

// Uint64 reads a little-endian u64 from the front of b.
func Uint64(b []byte) uint64 {
	return binary.LittleEndian.Uint64(b)
}

// EncodeFloat64s packs vals as consecutive little-endian f64 words.
func EncodeFloat64s(vals []float64) []byte {
	b := make([]byte, 0, 8*len(vals))
	for _, v := range vals {
		b = binary.LittleEndian.AppendUint64(b, math.Float64bits(v))
	}
	return b
}

// DecodeFloat64s unpacks n little-endian f64 words from b into out.
func DecodeFloat64s(b []byte, out []float64) {
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:]))
	}
}
