// Package sumio reads the two input formats of the sum tool: .psllh
// files hold ASCII doubles, one per line, and .binpsllh files hold a
// raw little-endian f64 stream.
package sumio

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrUnknownFormat reports a file name with an unsupported extension.
var ErrUnknownFormat = errors.New("sumio: file must end in .psllh or .binpsllh")

// ReadFile loads an input array, dispatching on the file extension.
func ReadFile(path string) ([]float64, error) {
	switch {
	case strings.HasSuffix(path, ".binpsllh"):
		return readWith(path, ReadBinPSLLH)
	case strings.HasSuffix(path, ".psllh"):
		return readWith(path, ReadPSLLH)
	default:
		return nil, ErrUnknownFormat
	}
}

func readWith(path string, read func(io.Reader) ([]float64, error)) ([]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "sumio")
	}
	defer f.Close()
	values, err := read(bufio.NewReader(f))
	return values, errors.Wrapf(err, "sumio: %s", path)
}

// ReadPSLLH parses ASCII doubles, one per line. Blank lines are
// permitted at the end of the file.
func ReadPSLLH(r io.Reader) ([]float64, error) {
	var values []float64
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}
		values = append(values, v)
	}
	return values, scanner.Err()
}

// ReadBinPSLLH reads a raw stream of little-endian f64 words.
func ReadBinPSLLH(r io.Reader) ([]float64, error) {
	var values []float64
	var word [8]byte
	for {
		_, err := io.ReadFull(r, word[:])
		if err == io.EOF {
			return values, nil
		}
		if err != nil {
			// An odd trailing chunk means the file is not a pure
			// f64 stream.
			return nil, errors.Wrap(err, "truncated f64 word")
		}
		values = append(values, math.Float64frombits(binary.LittleEndian.Uint64(word[:])))
	}
}

// WriteBinPSLLH writes values as a raw little-endian f64 stream.
func WriteBinPSLLH(w io.Writer, values []float64) error {
	var word [8]byte
	for _, v := range values {
		binary.LittleEndian.PutUint64(word[:], math.Float64bits(v))
		if _, err := w.Write(word[:]); err != nil {
			return errors.Wrap(err, "sumio")
		}
	}
	return nil
}
