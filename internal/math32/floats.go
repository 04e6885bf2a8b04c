// Package math32 provides float32 vector kernels shared by the distance
// and quantization packages. This is an internal package - external users
// should use the distance package.
package math32

import "math"

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var ret float32
	for i := range a {
		ret += a[i] * b[i]
	}

	return ret
}

// SquaredL2 calculates the squared L2 distance between two vectors.
// Assumes vectors are the same length (caller's responsibility).
func SquaredL2(a, b []float32) float32 {
	var distance float32
	for i := range a {
		distance += (a[i] - b[i]) * (a[i] - b[i])
	}

	return distance
}

// Sqrt is a float32 square root.
func Sqrt(x float32) float32 {
	return float32(math.Sqrt(float64(x)))
}

// ScaleInPlace multiplies all elements of a by scalar.
//
// This is primarily used by distance normalization.
func ScaleInPlace(a []float32, scalar float32) {
	for i := range a {
		a[i] *= scalar
	}
}

// PqAdcLookup sums table entries addressed by the given codes.
// table is a flattened [m][k] distance table; codes holds one centroid
// index per subvector.
func PqAdcLookup(table []float32, codes []byte, numCentroids int) float32 {
	var sum float32
	for m, c := range codes {
		sum += table[m*numCentroids+int(c)]
	}

	return sum
}
