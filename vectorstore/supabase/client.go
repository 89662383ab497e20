// Package supabase stores vectors in a Supabase (pgvector) table.
//
// PostgREST cannot create tables, so the schema must exist before use.
// For an index named "composio-discussions" with dimension 16:
//
//	create extension if not exists vector;
//
//	create table "composio-discussions" (
//	    namespace text not null,
//	    id        text not null,
//	    user_id   text,
//	    embedding vector(16) not null,
//	    metadata  jsonb not null default '{}',
//	    primary key (namespace, id)
//	);
//
//	create function "match_composio-discussions" (
//	    query_embedding vector(16),
//	    match_count int,
//	    filter_namespace text,
//	    filter jsonb default '{}'
//	) returns table (id text, similarity float, metadata jsonb)
//	language sql stable as $$
//	    select id, 1 - (embedding <=> query_embedding), metadata
//	    from "composio-discussions"
//	    where namespace = filter_namespace and metadata @> filter
//	    order by embedding <=> query_embedding
//	    limit match_count;
//	$$;
package supabase

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/creastat/discussions/vectorstore"
	"github.com/supabase-community/supabase-go"
)

// Config holds Supabase connection configuration
type Config struct {
	URL    string
	APIKey string
}

// Client implements vectorstore.Index using a Supabase table and match RPC
type Client struct {
	client *supabase.Client
	table  string
}

// row is the table layout
type row struct {
	Namespace string         `json:"namespace"`
	ID        string         `json:"id"`
	UserID    *string        `json:"user_id"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata"`
}

// rpcMatch is one row returned by the match function
type rpcMatch struct {
	ID         string         `json:"id"`
	Similarity float32        `json:"similarity"`
	Metadata   map[string]any `json:"metadata"`
}

// rpcError is the PostgREST error body
type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint"`
}

// New creates a new Supabase client
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("supabase API key is required")
	}

	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{client: client}, nil
}

// EnsureIndex probes the table; it cannot create it
func (c *Client) EnsureIndex(ctx context.Context, spec vectorstore.IndexSpec) (bool, error) {
	if spec.Metric != "" && spec.Metric != vectorstore.MetricCosine {
		return false, fmt.Errorf("unsupported metric %q: the match function ranks by cosine distance", spec.Metric)
	}
	c.table = spec.Name

	_, _, err := c.client.From(c.table).
		Select("id", "exact", true).
		Limit(1, "").
		Execute()
	if err != nil {
		return false, fmt.Errorf("table %q is not reachable, create it with the schema in the package documentation: %w", c.table, err)
	}
	return false, nil
}

// Upsert inserts or replaces rows keyed by (namespace, id)
func (c *Client) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	rows := make([]row, len(records))
	for i, r := range records {
		rows[i] = toRow(namespace, r)
	}

	_, _, err := c.client.From(c.table).
		Upsert(rows, "namespace,id", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to upsert rows: %w", err)
	}
	return nil
}

// Query calls the match function
func (c *Client) Query(ctx context.Context, req vectorstore.QueryRequest) ([]vectorstore.Match, error) {
	filter := req.Filter
	if filter == nil {
		filter = map[string]any{}
	}

	body := c.client.Rpc(c.matchFunction(), "", map[string]any{
		"query_embedding":  req.Vector,
		"match_count":      req.TopK,
		"filter_namespace": req.Namespace,
		"filter":           filter,
	})

	matches, err := parseMatches(body)
	if err != nil {
		return nil, err
	}
	if !req.IncludeMetadata {
		for i := range matches {
			matches[i].Metadata = nil
		}
	}
	return matches, nil
}

// Fetch retrieves rows by id
func (c *Client) Fetch(ctx context.Context, namespace string, ids []string) (map[string]vectorstore.Record, error) {
	if len(ids) == 0 {
		return map[string]vectorstore.Record{}, nil
	}

	var rows []row
	_, err := c.client.From(c.table).
		Select("namespace,id,user_id,metadata", "", false).
		Eq("namespace", namespace).
		In("id", ids).
		ExecuteTo(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch rows: %w", err)
	}

	out := make(map[string]vectorstore.Record, len(rows))
	for _, r := range rows {
		out[r.ID] = vectorstore.Record{ID: r.ID, Metadata: vectorstore.CloneMetadata(r.Metadata)}
	}
	return out, nil
}

// Delete removes rows by id
func (c *Client) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	_, _, err := c.client.From(c.table).
		Delete("minimal", "").
		Eq("namespace", namespace).
		In("id", ids).
		Execute()
	if err != nil {
		return fmt.Errorf("failed to delete rows: %w", err)
	}
	return nil
}

// Close closes the Supabase client
func (c *Client) Close() error {
	// Supabase client doesn't require explicit close
	return nil
}

func (c *Client) matchFunction() string {
	return "match_" + c.table
}

func toRow(namespace string, r vectorstore.Record) row {
	out := row{
		Namespace: namespace,
		ID:        r.ID,
		Embedding: r.Vector,
		Metadata:  vectorstore.CloneMetadata(r.Metadata),
	}
	if uid, ok := r.Metadata["user_id"].(string); ok {
		out.UserID = &uid
	}
	return out
}

// parseMatches decodes the RPC body. The RPC helper reports transport
// failures as an empty body and server failures as an error object.
func parseMatches(body string) ([]vectorstore.Match, error) {
	if body == "" {
		return nil, fmt.Errorf("match rpc returned no response")
	}

	var rows []rpcMatch
	if err := json.Unmarshal([]byte(body), &rows); err != nil {
		var rpcErr rpcError
		if json.Unmarshal([]byte(body), &rpcErr) == nil && rpcErr.Message != "" {
			return nil, fmt.Errorf("match rpc failed: %s (code %s)", rpcErr.Message, rpcErr.Code)
		}
		return nil, fmt.Errorf("failed to decode match rpc response: %w", err)
	}

	matches := make([]vectorstore.Match, len(rows))
	for i, r := range rows {
		matches[i] = vectorstore.Match{
			ID:       r.ID,
			Score:    r.Similarity,
			Metadata: vectorstore.CloneMetadata(r.Metadata),
		}
	}
	return matches, nil
}

// Compile-time check that Client implements Index
var _ vectorstore.Index = (*Client)(nil)
