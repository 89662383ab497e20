package qdrant

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/creastat/discussions/vectorstore"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	// Reserved payload keys. Qdrant only accepts UUID or integer point ids,
	// so the caller's record id travels in the payload.
	payloadID        = "_id"
	payloadNamespace = "_namespace"

	defaultPort         = 6334
	defaultReadyTimeout = time.Second
	readyPollInterval   = 100 * time.Millisecond
)

// pointNamespace seeds the UUIDv5 ids derived from (namespace, record id).
var pointNamespace = uuid.MustParse("5b0cf3f2-3d2b-4c3f-9a59-0f0f1d2c6a11")

// Config holds Qdrant connection configuration.
type Config struct {
	// URL is the Qdrant cluster endpoint (e.g., "https://xyz.eu-central.aws.cloud.qdrant.io:6334").
	URL string

	// APIKey authenticates against the cluster.
	APIKey string

	// ReadyTimeout bounds the wait for a freshly created collection.
	ReadyTimeout time.Duration

	// Logger receives index lifecycle messages. Defaults to log.Default().
	Logger *log.Logger
}

// Client implements vectorstore.Index for Qdrant. One Qdrant collection is
// one index; namespaces are payload partitions inside it.
type Client struct {
	client       *qdrant.Client
	collection   string
	readyTimeout time.Duration
	logger       *log.Logger
}

// New creates a new Qdrant client. The collection is bound by EnsureIndex.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}

	host, port, useTLS, err := parseEndpoint(cfg.URL)
	if err != nil {
		return nil, err
	}

	qdrantClient, err := qdrant.NewClient(clientConfig(host, port, cfg.APIKey, useTLS))
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	return &Client{
		client:       qdrantClient,
		readyTimeout: cfg.ReadyTimeout,
		logger:       cfg.Logger,
	}, nil
}

// parseEndpoint splits a cluster address into host, port and TLS flag.
// Bare hosts are treated as https, matching Qdrant Cloud.
func parseEndpoint(raw string) (string, int, bool, error) {
	parsedURL := raw
	if !strings.HasPrefix(parsedURL, "http://") && !strings.HasPrefix(parsedURL, "https://") {
		parsedURL = "https://" + parsedURL
	}

	u, err := url.Parse(parsedURL)
	if err != nil {
		return "", 0, false, fmt.Errorf("failed to parse qdrant url: %w", err)
	}
	if u.Hostname() == "" {
		return "", 0, false, fmt.Errorf("qdrant url %q has no host", raw)
	}

	port := defaultPort
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return "", 0, false, fmt.Errorf("invalid port: %w", err)
		}
		port = p
	}

	return u.Hostname(), port, u.Scheme == "https", nil
}

// EnsureIndex implements vectorstore.Index.
func (c *Client) EnsureIndex(ctx context.Context, spec vectorstore.IndexSpec) (bool, error) {
	distance, err := distanceFor(spec.Metric)
	if err != nil {
		return false, err
	}
	c.collection = spec.Name

	exists, err := c.client.CollectionExists(ctx, spec.Name)
	if err != nil {
		return false, fmt.Errorf("check collection: %w", err)
	}
	if exists {
		return false, nil
	}

	c.logger.Printf("Creating Qdrant collection: %s with dimension %d", spec.Name, spec.Dimension)
	if err = c.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: spec.Name,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(spec.Dimension),
					Distance: distance,
				},
			},
		},
	}); err != nil {
		return false, fmt.Errorf("create collection: %w", err)
	}

	c.waitReady(ctx, spec.Name)
	return true, nil
}

// waitReady polls the collection status until it turns green or the ready
// timeout elapses. A slow collection is not an error; writes will simply
// queue on the server.
func (c *Client) waitReady(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(ctx, c.readyTimeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		info, err := c.client.GetCollectionInfo(ctx, name)
		if err == nil && info.GetStatus() == qdrant.CollectionStatus_Green {
			return
		}
		select {
		case <-ctx.Done():
			c.logger.Printf("Qdrant collection %s not ready after %s, continuing", name, c.readyTimeout)
			return
		case <-ticker.C:
		}
	}
}

// Upsert implements vectorstore.Index.
func (c *Client) Upsert(ctx context.Context, namespace string, records []vectorstore.Record) error {
	pts := make([]*qdrant.PointStruct, len(records))

	for i, r := range records {
		payload, err := toPayload(namespace, r)
		if err != nil {
			return err
		}
		pts[i] = &qdrant.PointStruct{
			Id:      pointID(namespace, r.ID),
			Vectors: qdrant.NewVectors(r.Vector...),
			Payload: payload,
		}
	}

	wait := true
	_, err := c.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.collection,
		Wait:           &wait,
		Points:         pts,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

// Query implements vectorstore.Index.
func (c *Client) Query(ctx context.Context, req vectorstore.QueryRequest) ([]vectorstore.Match, error) {
	limit := queryLimit(req.TopK)
	points, err := c.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: c.collection,
		Query:          qdrant.NewQuery(req.Vector...),
		Limit:          &limit,
		Filter:         buildQdrantFilter(req.Namespace, req.Filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	results := make([]vectorstore.Match, 0, len(points))
	for _, point := range points {
		id, md := fromPayload(point.GetPayload())
		m := vectorstore.Match{ID: id, Score: point.GetScore()}
		if req.IncludeMetadata {
			m.Metadata = md
		}
		results = append(results, m)
	}
	return results, nil
}

// Fetch implements vectorstore.Index.
func (c *Client) Fetch(ctx context.Context, namespace string, ids []string) (map[string]vectorstore.Record, error) {
	points, err := c.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: c.collection,
		Ids:            pointIDs(namespace, ids),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant fetch failed: %w", err)
	}

	out := make(map[string]vectorstore.Record, len(points))
	for _, point := range points {
		id, md := fromPayload(point.GetPayload())
		out[id] = vectorstore.Record{ID: id, Metadata: md}
	}
	return out, nil
}

// Delete implements vectorstore.Index.
func (c *Client) Delete(ctx context.Context, namespace string, ids []string) error {
	wait := true
	_, err := c.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: c.collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelector(pointIDs(namespace, ids)...),
	})
	if err != nil {
		return fmt.Errorf("qdrant delete failed: %w", err)
	}
	return nil
}

// Close implements vectorstore.Index.
func (c *Client) Close() error {
	return c.client.Close()
}

func distanceFor(m vectorstore.Metric) (qdrant.Distance, error) {
	switch m {
	case vectorstore.MetricCosine, "":
		return qdrant.Distance_Cosine, nil
	case vectorstore.MetricDot:
		return qdrant.Distance_Dot, nil
	case vectorstore.MetricEuclidean:
		return qdrant.Distance_Euclid, nil
	default:
		return 0, fmt.Errorf("unsupported metric %q", m)
	}
}

// pointID derives a stable point id so that the same record id in two
// namespaces never collides.
func pointID(namespace, id string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(namespace+"/"+id)).String())
}

func pointIDs(namespace string, ids []string) []*qdrant.PointId {
	out := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		out[i] = pointID(namespace, id)
	}
	return out
}

// toPayload converts record metadata plus the reserved keys to a Qdrant payload.
func toPayload(namespace string, r vectorstore.Record) (map[string]*qdrant.Value, error) {
	payload := vectorstore.CloneMetadata(r.Metadata)
	payload[payloadID] = r.ID
	payload[payloadNamespace] = namespace

	values, err := qdrant.TryValueMap(payload)
	if err != nil {
		return nil, fmt.Errorf("invalid metadata for %q: %w", r.ID, err)
	}
	return values, nil
}

// fromPayload recovers the record id and the caller-visible metadata.
func fromPayload(payload map[string]*qdrant.Value) (string, map[string]any) {
	md := make(map[string]any, len(payload))
	for k, v := range payload {
		md[k] = extractValue(v)
	}
	id, _ := md[payloadID].(string)
	delete(md, payloadID)
	delete(md, payloadNamespace)
	return id, md
}

// buildQdrantFilter scopes a search to the namespace plus equality conditions.
func buildQdrantFilter(namespace string, filter map[string]any) *qdrant.Filter {
	conditions := []*qdrant.Condition{buildMatchCondition(payloadNamespace, namespace)}
	for key, value := range filter {
		conditions = append(conditions, buildMatchCondition(key, value))
	}
	return &qdrant.Filter{Must: conditions}
}

// buildMatchCondition creates a match condition for a key-value pair.
func buildMatchCondition(key string, value any) *qdrant.Condition {
	var match *qdrant.Match

	switch v := value.(type) {
	case string:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: v}}
	case int:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: int64(v)}}
	case int64:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Integer{Integer: v}}
	case bool:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Boolean{Boolean: v}}
	default:
		match = &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: fmt.Sprintf("%v", v)}}
	}

	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: match,
			},
		},
	}
}

// extractValue extracts a Go value from a Qdrant Value.
func extractValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}

	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_ListValue:
		out := make([]any, len(val.ListValue.GetValues()))
		for i, lv := range val.ListValue.GetValues() {
			out[i] = extractValue(lv)
		}
		return out
	case *qdrant.Value_StructValue:
		out := make(map[string]any, len(val.StructValue.GetFields()))
		for k, fv := range val.StructValue.GetFields() {
			out[k] = extractValue(fv)
		}
		return out
	default:
		return nil
	}
}

// clientConfig builds the gRPC client settings. The version probe is skipped
// because it logs through slog.Default() instead of the configured logger.
func clientConfig(host string, port int, apiKey string, useTLS bool) *qdrant.Config {
	return &qdrant.Config{
		Host:                   host,
		Port:                   port,
		APIKey:                 apiKey,
		UseTLS:                 useTLS,
		SkipCompatibilityCheck: true,
	}
}

// queryLimit maps topK onto the unsigned limit field. Negative values are
// sent as 0 so the server rejects them instead of seeing MaxUint64.
func queryLimit(topK int) uint64 {
	if topK < 0 {
		return 0
	}
	return uint64(topK)
}

// Compile-time check that Client implements Index.
var _ vectorstore.Index = (*Client)(nil)
