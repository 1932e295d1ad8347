package vectorstore

import (
	"math"

	"localrag/internal/domain"
)

// Storage is a vector store the application owns and must close.
type Storage interface {
	domain.VectorStore
	Close() error
}

// Cosine returns (a·b)/(‖a‖‖b‖). A zero-norm operand yields 0.
// Callers guarantee equal lengths.
func Cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
