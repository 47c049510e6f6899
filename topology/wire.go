package topology

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Coordinates travel as packed little-endian (u64 x, u32 y) pairs.
const coordinateWireSize = 12

// EncodeCoordinates packs coords for an OUTGOING message.
func EncodeCoordinates(coords []Coordinate) []byte {
	b := make([]byte, 0, coordinateWireSize*len(coords))
	for _, c := range coords {
		b = binary.LittleEndian.AppendUint64(b, c.X)
		b = binary.LittleEndian.AppendUint32(b, c.Y)
	}
	return b
}

// DecodeCoordinates unpacks an OUTGOING payload of count coordinates.
func DecodeCoordinates(b []byte, count uint64) ([]Coordinate, error) {
	if uint64(len(b)) != count*coordinateWireSize {
		return nil, errors.Errorf(
			"topology: coordinate payload is %d bytes, want %d for %d entries",
			len(b), count*coordinateWireSize, count)
	}
	coords := make([]Coordinate, count)
	for i := range coords {
		off := i * coordinateWireSize
		coords[i].X = binary.LittleEndian.Uint64(b[off:])
		coords[i].Y = binary.LittleEndian.Uint32(b[off+8:])
	}
	return coords, nil
}
