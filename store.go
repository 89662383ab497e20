package discussions

import (
	"context"
	"fmt"
	"log"

	"github.com/creastat/discussions/vectorstore"
)

// Metadata keys with a meaning to the Store.
const (
	KeyDiscussionID = "discussion_id"
	KeyUserID       = "user_id"
)

// unknownOwner is reported when a record carries no usable user_id.
const unknownOwner = "unknown"

// Result is one query hit, best first.
type Result struct {
	ID         string         `json:"id"`
	Similarity float32        `json:"similarity"`
	Metadata   map[string]any `json:"metadata"`
}

// Store keeps discussion vectors in an external vector index and enforces
// per-user ownership on queries and deletes.
//
// A Store is bound to one index and namespace at construction and is safe
// for concurrent use as far as the underlying driver is.
type Store struct {
	index     vectorstore.Index
	namespace string
	logger    *log.Logger
	newID     func() string
}

// Open validates cfg, connects to the configured driver and ensures the
// index exists. Configuration problems are reported as ErrConfiguration
// before any network call; everything else as ErrDatabaseConnection.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := applyOptions(opts)
	index, err := openIndex(cfg, o.logger)
	if err != nil {
		o.logger.Printf("Failed to initialize %s: %v", cfg.Driver, err)
		return nil, newOperationError(ErrDatabaseConnection, fmt.Sprintf("failed to initialize %s", cfg.Driver), err)
	}

	s, err := bind(ctx, cfg, index, o)
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	return s, nil
}

// New binds a Store to a caller-supplied index, creating the index when it
// does not exist. Credentials in cfg are not required.
func New(ctx context.Context, cfg Config, index vectorstore.Index, opts ...Option) (*Store, error) {
	cfg = cfg.WithDefaults()
	if cfg.Dimension <= 0 {
		return nil, &OperationError{Kind: ErrConfiguration, Msg: fmt.Sprintf("dimension must be positive, got %d", cfg.Dimension)}
	}
	if index == nil {
		return nil, &OperationError{Kind: ErrConfiguration, Msg: "index is required"}
	}
	return bind(ctx, cfg, index, applyOptions(opts))
}

func applyOptions(opts []Option) *storeOptions {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func bind(ctx context.Context, cfg Config, index vectorstore.Index, o *storeOptions) (*Store, error) {
	created, err := index.EnsureIndex(ctx, vectorstore.IndexSpec{
		Name:      cfg.IndexName,
		Dimension: cfg.Dimension,
		Metric:    vectorstore.MetricCosine,
	})
	if err != nil {
		o.logger.Printf("Failed to initialize index %s: %v", cfg.IndexName, err)
		return nil, newOperationError(ErrDatabaseConnection, fmt.Sprintf("failed to initialize index %s", cfg.IndexName), err)
	}
	if created {
		o.logger.Printf("Created index %s with dimension %d", cfg.IndexName, cfg.Dimension)
	}

	return &Store{
		index:     index,
		namespace: cfg.Namespace,
		logger:    o.logger,
		newID:     o.newID,
	}, nil
}

// Namespace returns the namespace every operation is scoped to.
func (s *Store) Namespace() string {
	return s.namespace
}

// StoreVector upserts vector with metadata and returns the record id.
// The id is metadata["discussion_id"] when set, otherwise a fresh UUID.
// An empty-string discussion_id counts as unset and also gets a fresh UUID
// instead of keying the record on "".
// Storing an existing id replaces the whole record.
func (s *Store) StoreVector(ctx context.Context, vector []float32, metadata map[string]any) (string, error) {
	id := recordID(metadata)
	if id == "" {
		id = s.newID()
	}

	err := s.index.Upsert(ctx, s.namespace, []vectorstore.Record{{
		ID:       id,
		Vector:   vector,
		Metadata: metadata,
	}})
	if err != nil {
		s.logger.Printf("Failed to store vector %s: %v", id, err)
		return "", newOperationError(ErrStoreVector, "failed to store vector", err)
	}
	return id, nil
}

// recordID reads discussion_id from metadata. Non-string values are
// formatted; nil and empty values mean "generate one".
func recordID(metadata map[string]any) string {
	v, ok := metadata[KeyDiscussionID]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

// QueryVectors returns the topK records closest to vector. A non-empty
// userID restricts results to that user's discussions; an empty userID
// searches everything.
func (s *Store) QueryVectors(ctx context.Context, vector []float32, userID string, topK int) ([]Result, error) {
	var filter map[string]any
	if userID != "" {
		filter = map[string]any{KeyUserID: userID}
	}

	matches, err := s.index.Query(ctx, vectorstore.QueryRequest{
		Vector:          vector,
		TopK:            topK,
		Namespace:       s.namespace,
		Filter:          filter,
		IncludeMetadata: true,
	})
	if err != nil {
		s.logger.Printf("Failed to query vectors: %v", err)
		return nil, newOperationError(ErrQueryVector, "failed to query vectors", err)
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{ID: m.ID, Similarity: m.Score, Metadata: m.Metadata}
	}
	return results, nil
}

// DeleteVector removes a discussion. With a non-empty userID the record
// must exist and belong to that user, otherwise a *DiscussionNotFoundError
// or *UserDiscussionAccessError is returned and nothing is deleted. An empty
// userID skips the check.
func (s *Store) DeleteVector(ctx context.Context, discussionID, userID string) (bool, error) {
	if userID != "" {
		if err := s.checkOwner(ctx, discussionID, userID); err != nil {
			return false, err
		}
	}

	if err := s.index.Delete(ctx, s.namespace, []string{discussionID}); err != nil {
		s.logger.Printf("Failed to delete vector %s: %v", discussionID, err)
		return false, newOperationError(ErrDeleteVector, "failed to delete vector", err)
	}
	return true, nil
}

func (s *Store) checkOwner(ctx context.Context, discussionID, userID string) error {
	records, err := s.index.Fetch(ctx, s.namespace, []string{discussionID})
	if err != nil {
		s.logger.Printf("Failed to fetch vector %s: %v", discussionID, err)
		return newOperationError(ErrDeleteVector, "failed to delete vector", err)
	}

	record, ok := records[discussionID]
	if !ok {
		return &DiscussionNotFoundError{DiscussionID: discussionID}
	}

	owner, ok := record.Metadata[KeyUserID].(string)
	if !ok {
		owner = unknownOwner
	}
	if !ok || owner != userID {
		return &UserDiscussionAccessError{UserID: userID, OwnerID: owner, DiscussionID: discussionID}
	}
	return nil
}

// Close releases the underlying index client.
func (s *Store) Close() error {
	return s.index.Close()
}
