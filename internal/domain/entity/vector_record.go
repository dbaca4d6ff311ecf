package entity

import "fmt"

// VectorRecord is the unit handed to the vector index.
type VectorRecord struct {
	ID       string
	Values   []float32
	Metadata map[string]any
}

// NewVectorRecord creates a vector record and checks its dimensionality.
func NewVectorRecord(id string, values []float32, dimensions int, metadata map[string]any) (VectorRecord, error) {
	if id == "" {
		return VectorRecord{}, NewDomainError("vector record id cannot be empty", "INVALID_VECTOR")
	}
	if len(values) != dimensions {
		return VectorRecord{}, NewDomainError(
			fmt.Sprintf("vector %s has %d dimensions, expected %d", id, len(values), dimensions),
			"INVALID_VECTOR_DIMENSIONS",
		)
	}
	if metadata == nil {
		metadata = map[string]any{}
	}
	return VectorRecord{ID: id, Values: values, Metadata: metadata}, nil
}
