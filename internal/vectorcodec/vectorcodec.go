// Package vectorcodec converts embedding vectors between []float32 and the
// little-endian IEEE-754 binary form the vector index stores, and provides
// the weighted combination used for multi-vector queries.
package vectorcodec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Encode serializes a vector as little-endian float32 bytes.
func Encode(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// Decode deserializes little-endian float32 bytes into a vector.
// The byte length must be a multiple of 4.
func Decode(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("vector byte length %d is not a multiple of 4", len(data))
	}
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector, nil
}

// Combine merges multiple vectors into one by weighted average and
// renormalizes the result to unit length. All vectors must share the same
// dimension. A single vector is returned unchanged; if every weight is zero
// the vectors are averaged uniformly.
func Combine(vectors [][]float32, weights []float64) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no vectors to combine")
	}
	if len(vectors) == 1 {
		return vectors[0], nil
	}
	dim := len(vectors[0])
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
	}

	var totalWeight float64
	for i := range vectors {
		if i < len(weights) {
			totalWeight += weights[i]
		}
	}

	combined := make([]float64, dim)
	for i, v := range vectors {
		w := 1.0 / float64(len(vectors))
		if totalWeight > 0 && i < len(weights) {
			w = weights[i] / totalWeight
		}
		for j, x := range v {
			combined[j] += w * float64(x)
		}
	}

	out := make([]float32, dim)
	norm := 0.0
	for _, x := range combined {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	for j, x := range combined {
		if norm > 0 {
			x /= norm
		}
		out[j] = float32(x)
	}
	return out, nil
}

// CosineSimilarity converts a cosine distance (domain [0,2]) to a similarity
// score in [0,1].
func CosineSimilarity(distance float64) float64 {
	return 1 - distance/2
}
