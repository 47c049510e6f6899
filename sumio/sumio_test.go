package sumio

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadPSLLH(t *testing.T) {
	input := "1.5\n-2.25e-3\n1000\n\n"
	values, err := ReadPSLLH(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, -2.25e-3, 1000}, values)
}

func TestReadPSLLHBadLine(t *testing.T) {
	_, err := ReadPSLLH(strings.NewReader("1.0\nnot-a-number\n"))
	assert.ErrorContains(t, err, "line 2")
}

func TestBinPSLLHRoundTrip(t *testing.T) {
	values := []float64{0, 1.5, -3.25, 1e300, 5e-324}
	var buf bytes.Buffer
	require.NoError(t, WriteBinPSLLH(&buf, values))

	decoded, err := ReadBinPSLLH(&buf)
	require.NoError(t, err)
	assert.Equal(t, values, decoded)
}

func TestReadBinPSLLHTruncated(t *testing.T) {
	_, err := ReadBinPSLLH(bytes.NewReader(make([]byte, 12)))
	assert.Error(t, err)
}

func TestReadFileDispatch(t *testing.T) {
	dir := t.TempDir()

	ascii := filepath.Join(dir, "values.psllh")
	require.NoError(t, os.WriteFile(ascii, []byte("1\n2\n3\n"), 0o644))
	values, err := ReadFile(ascii)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, values)

	bin := filepath.Join(dir, "values.binpsllh")
	var buf bytes.Buffer
	require.NoError(t, WriteBinPSLLH(&buf, []float64{4, 5}))
	require.NoError(t, os.WriteFile(bin, buf.Bytes(), 0o644))
	values, err = ReadFile(bin)
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 5}, values)

	_, err = ReadFile(filepath.Join(dir, "values.csv"))
	assert.ErrorIs(t, err, ErrUnknownFormat)
}
