package vector

import "math"

// InnerProduct returns the inner product of two equal-length vectors.
func InnerProduct(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float64 {
	return math.Sqrt(InnerProduct(x, x))
}

// Cosine returns the cosine similarity of a and b given their norms.
// A zero vector has similarity 0 with everything.
func Cosine(a, b []float32, normA, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	return InnerProduct(a, b) / (normA * normB)
}

// L2Distance returns the Euclidean distance between a and b.
func L2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
