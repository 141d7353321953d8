package vectorcodec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	in := []float32{0.25, -1.5, 0, 3.14159, math.MaxFloat32}
	out, err := Decode(Encode(in))
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestEncode_LittleEndian(t *testing.T) {
	// 1.0 as IEEE-754 float32 is 0x3f800000.
	require.Equal(t, []byte{0x00, 0x00, 0x80, 0x3f}, Encode([]float32{1.0}))
}

func TestDecode_RejectsRaggedLength(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestCombine_SingleVectorUnchanged(t *testing.T) {
	v := []float32{0.6, 0.8}
	out, err := Combine([][]float32{v}, []float64{0.2})
	require.NoError(t, err)
	require.Equal(t, v, out)
}

func TestCombine_WeightedAverageIsUnitLength(t *testing.T) {
	out, err := Combine([][]float32{{1, 0}, {0, 1}}, []float64{3, 1})
	require.NoError(t, err)
	require.Len(t, out, 2)
	norm := math.Sqrt(float64(out[0])*float64(out[0]) + float64(out[1])*float64(out[1]))
	require.InDelta(t, 1.0, norm, 1e-6)
	// Weight 3:1 tilts the result toward the first axis.
	require.Greater(t, out[0], out[1])
}

func TestCombine_ZeroWeightsFallBackToUniform(t *testing.T) {
	out, err := Combine([][]float32{{1, 0}, {0, 1}}, []float64{0, 0})
	require.NoError(t, err)
	require.InDelta(t, float64(out[0]), float64(out[1]), 1e-6)
}

func TestCombine_DimensionMismatch(t *testing.T) {
	_, err := Combine([][]float32{{1, 0}, {0, 1, 0}}, nil)
	require.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	require.InDelta(t, 1.0, CosineSimilarity(0), 1e-9)
	require.InDelta(t, 0.5, CosineSimilarity(1), 1e-9)
	require.InDelta(t, 0.0, CosineSimilarity(2), 1e-9)
}
