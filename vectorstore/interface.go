package vectorstore

import "context"

// Index is a technology-agnostic handle on an external vector index.
// Implementations can use Qdrant, Redis Stack, Supabase Vector, etc.
//
// Drivers never compute similarity themselves; ranking, persistence and
// dimension checks belong to the service behind the handle.
type Index interface {
	// EnsureIndex creates the index when it does not exist yet and waits
	// briefly for it to become ready. Reports whether it was created.
	EnsureIndex(ctx context.Context, spec IndexSpec) (bool, error)

	// Upsert inserts or fully replaces records in the namespace.
	Upsert(ctx context.Context, namespace string, records []Record) error

	// Query returns the nearest neighbours of req.Vector, best first.
	Query(ctx context.Context, req QueryRequest) ([]Match, error)

	// Fetch returns the records found for ids. Absent ids are omitted.
	Fetch(ctx context.Context, namespace string, ids []string) (map[string]Record, error)

	// Delete removes records by id. Deleting an absent id is not an error.
	Delete(ctx context.Context, namespace string, ids []string) error

	// Close releases any resources held by the index.
	Close() error
}

// Metric is the similarity metric an index ranks by.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricDot       Metric = "dotproduct"
	MetricEuclidean Metric = "euclidean"
)

// IndexSpec describes the index a store binds to.
type IndexSpec struct {
	Name      string
	Dimension int
	Metric    Metric
}

// Record is a stored vector with its metadata.
type Record struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// QueryRequest defines a nearest-neighbour search.
type QueryRequest struct {
	Vector    []float32
	TopK      int
	Namespace string

	// Filter restricts results to records whose metadata equals every
	// key-value pair. Nil means unrestricted.
	Filter map[string]any

	IncludeMetadata bool
}

// Match is a single search hit.
type Match struct {
	ID string

	// Score is the similarity reported by the service, higher is closer.
	Score float32

	Metadata map[string]any
}
