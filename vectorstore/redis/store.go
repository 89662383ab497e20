package redis

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"
	"strings"

	"github.com/creastat/discussions/vectorstore"
	"github.com/redis/go-redis/v9"
)

const (
	fieldID        = "_id"
	fieldNamespace = "namespace"
	fieldUserID    = "user_id"
	fieldMetadata  = "metadata"
	fieldVector    = "vector"
	fieldScore     = "__score"
)

// indexedTags are the hash fields declared as TAG in the search schema.
// Only these can be used as query filters.
var indexedTags = map[string]bool{fieldUserID: true}

// Config holds Redis Stack connection configuration.
type Config struct {
	// Addr is "host:port" or a redis:// / rediss:// URL.
	Addr string

	// Password authenticates against the server.
	Password string

	// Logger receives index lifecycle messages. Defaults to log.Default().
	Logger *log.Logger
}

// Store implements vectorstore.Index on a RediSearch vector index over hashes.
type Store struct {
	client *redis.Client
	index  string
	prefix string
	logger *log.Logger
}

// New creates a Redis-backed index handle.
func New(cfg Config) (*Store, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opts, err := parseOptions(cfg.Addr)
	if err != nil {
		return nil, err
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	// FT.SEARCH replies are decoded from the RESP2 array layout.
	opts.Protocol = 2

	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Store{
		client: redis.NewClient(opts),
		logger: cfg.Logger,
	}, nil
}

// NewWithClient wraps an existing client. The client must be configured
// with Protocol 2, since FT.SEARCH replies are decoded from RESP2 arrays.
func NewWithClient(client *redis.Client, logger *log.Logger) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if p := client.Options().Protocol; p != 2 {
		return nil, fmt.Errorf("redis client must use protocol 2, got %d", p)
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Store{client: client, logger: logger}, nil
}

func parseOptions(addr string) (*redis.Options, error) {
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: addr}, nil
}

// EnsureIndex implements vectorstore.Index.
func (s *Store) EnsureIndex(ctx context.Context, spec vectorstore.IndexSpec) (bool, error) {
	metric, err := distanceFor(spec.Metric)
	if err != nil {
		return false, err
	}
	s.index = spec.Name
	s.prefix = spec.Name + ":"

	err = s.client.Do(ctx, "FT.INFO", s.index).Err()
	if err == nil {
		return false, nil
	}
	if !isUnknownIndex(err) {
		return false, fmt.Errorf("check index: %w", err)
	}

	s.logger.Printf("Creating Redis index: %s with dimension %d", spec.Name, spec.Dimension)
	if err = s.client.Do(ctx, createArgs(s.index, s.prefix, spec.Dimension, metric)...).Err(); err != nil {
		return false, fmt.Errorf("create index: %w", err)
	}
	return true, nil
}

func createArgs(index, prefix string, dim int, metric string) []any {
	return []any{
		"FT.CREATE", index, "ON", "HASH", "PREFIX", "1", prefix,
		"SCHEMA",
		fieldNamespace, "TAG",
		fieldUserID, "TAG",
		fieldVector, "VECTOR", "FLAT", "6",
		"TYPE", "FLOAT32",
		"DIM", strconv.Itoa(dim),
		"DISTANCE_METRIC", metric,
	}
}

func isUnknownIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown index") || strings.Contains(msg, "no such index")
}

// Upsert implements vectorstore.Index.
// Each record is deleted and rewritten in one transaction so stale
// metadata fields never survive an overwrite.
func (s *Store) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range records {
			fields, err := toHash(namespace, r)
			if err != nil {
				return err
			}
			key := s.key(namespace, r.ID)
			pipe.Del(ctx, key)
			pipe.HSet(ctx, key, fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis upsert failed: %w", err)
	}
	return nil
}

// Query implements vectorstore.Index.
func (s *Store) Query(ctx context.Context, req vectorstore.QueryRequest) ([]vectorstore.Match, error) {
	q, err := buildQuery(req.Namespace, req.Filter, req.TopK)
	if err != nil {
		return nil, err
	}

	args := []any{
		"FT.SEARCH", s.index, q,
		"PARAMS", "2", "vec", encodeVector(req.Vector),
		"SORTBY", fieldScore,
		"RETURN", "3", fieldID, fieldMetadata, fieldScore,
		"LIMIT", "0", strconv.Itoa(req.TopK),
		"DIALECT", "2",
	}
	reply, err := s.client.Do(ctx, args...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis search failed: %w", err)
	}

	matches, err := parseSearchReply(reply)
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

// Fetch implements vectorstore.Index.
func (s *Store) Fetch(ctx context.Context, namespace string, ids []string) (map[string]vectorstore.Record, error) {
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, s.key(namespace, id))
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("redis fetch failed: %w", err)
	}

	out := make(map[string]vectorstore.Record, len(ids))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		md, err := decodeMetadata(fields[fieldMetadata])
		if err != nil {
			return nil, err
		}
		out[ids[i]] = vectorstore.Record{
			ID:       ids[i],
			Vector:   decodeVector([]byte(fields[fieldVector])),
			Metadata: md,
		}
	}
	return out, nil
}

// Delete implements vectorstore.Index.
func (s *Store) Delete(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(namespace, id)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Close implements vectorstore.Index.
func (s *Store) Close() error {
	return s.client.Close()
}

// key constructs the hash key for a record.
func (s *Store) key(namespace, id string) string {
	return s.prefix + namespace + ":" + id
}

func distanceFor(m vectorstore.Metric) (string, error) {
	switch m {
	case vectorstore.MetricCosine, "":
		return "COSINE", nil
	case vectorstore.MetricDot:
		return "IP", nil
	case vectorstore.MetricEuclidean:
		return "L2", nil
	default:
		return "", fmt.Errorf("unsupported metric %q", m)
	}
}

// toHash lays a record out as hash fields. Metadata is kept whole as JSON;
// user_id is duplicated into a TAG field so it can be filtered on.
func toHash(namespace string, r vectorstore.Record) (map[string]any, error) {
	md, err := json.Marshal(vectorstore.CloneMetadata(r.Metadata))
	if err != nil {
		return nil, fmt.Errorf("invalid metadata for %q: %w", r.ID, err)
	}
	fields := map[string]any{
		fieldID:        r.ID,
		fieldNamespace: namespace,
		fieldMetadata:  string(md),
		fieldVector:    encodeVector(r.Vector),
	}
	if uid, ok := r.Metadata[fieldUserID].(string); ok {
		fields[fieldUserID] = uid
	}
	return fields, nil
}

// buildQuery renders a KNN query restricted to the namespace and tag filters.
// topK is passed through as given; FT.SEARCH rejects values it cannot serve.
func buildQuery(namespace string, filter map[string]any, topK int) (string, error) {
	clauses := []string{fmt.Sprintf("@%s:{%s}", fieldNamespace, escapeTag(namespace))}
	for key, value := range filter {
		if !indexedTags[key] {
			return "", fmt.Errorf("filter on %q is not supported: field is not indexed", key)
		}
		str, ok := value.(string)
		if !ok {
			return "", fmt.Errorf("filter on %q must be a string, got %T", key, value)
		}
		clauses = append(clauses, fmt.Sprintf("@%s:{%s}", key, escapeTag(str)))
	}

	return fmt.Sprintf("(%s)=>[KNN %d @%s $vec AS %s]", strings.Join(clauses, " "), topK, fieldVector, fieldScore), nil
}

// escapeTag backslash-escapes every character RediSearch treats as a
// tag separator or query operator.
func escapeTag(s string) string {
	var b strings.Builder
	for _, r := range s {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r > 127) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// parseSearchReply decodes a RESP2 FT.SEARCH reply:
// [total, key1, [field, value, ...], key2, [...], ...].
func parseSearchReply(reply any) ([]vectorstore.Match, error) {
	items, ok := reply.([]any)
	if !ok || len(items) == 0 {
		return nil, fmt.Errorf("unexpected search reply %T", reply)
	}

	matches := make([]vectorstore.Match, 0, (len(items)-1)/2)
	for i := 1; i+1 < len(items); i += 2 {
		fields, ok := items[i+1].([]any)
		if !ok {
			return nil, fmt.Errorf("unexpected search document %T", items[i+1])
		}

		doc := make(map[string]string, len(fields)/2)
		for j := 0; j+1 < len(fields); j += 2 {
			doc[fmt.Sprint(fields[j])] = fmt.Sprint(fields[j+1])
		}

		distance, err := strconv.ParseFloat(doc[fieldScore], 32)
		if err != nil {
			return nil, fmt.Errorf("invalid score for %v: %w", items[i], err)
		}
		md, err := decodeMetadata(doc[fieldMetadata])
		if err != nil {
			return nil, err
		}

		matches = append(matches, vectorstore.Match{
			ID:       doc[fieldID],
			Score:    float32(1 - distance),
			Metadata: md,
		})
	}
	return matches, nil
}

func decodeMetadata(raw string) (map[string]any, error) {
	md := make(map[string]any)
	if raw == "" {
		return md, nil
	}
	if err := json.Unmarshal([]byte(raw), &md); err != nil {
		return nil, fmt.Errorf("invalid stored metadata: %w", err)
	}
	return md, nil
}

// encodeVector packs a vector as little-endian FLOAT32, the layout
// RediSearch expects for VECTOR fields and query parameters.
func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

// Compile-time check that Store implements Index.
var _ vectorstore.Index = (*Store)(nil)
