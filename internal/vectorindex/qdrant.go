package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// originalIDField carries the caller's doc_id in the point payload: Qdrant
// only accepts UUIDs or positive integers as point IDs, so doc_ids that
// aren't already UUID-shaped get a deterministic UUID assigned and their
// original value stashed here.
const originalIDField = "_original_id"

const collectionPrefix = "kela_mem_"

// qdrantIndex is a single shared *qdrant.Client scoped to one collection
// per user_id, so the process-wide singleton never leaks data across users
// (spec.md section 5): every method takes user_id and derives the
// collection name from it, nothing is cached by a bare doc_id.
type qdrantIndex struct {
	client    *qdrant.Client
	dimension int
	metric    string

	mu   sync.Mutex
	seen map[string]struct{} // collections already ensured via Init
}

// NewQdrant dials the Qdrant gRPC endpoint described by dsn (scheme://host:port,
// optional ?api_key=...). dimension must be > 0; metric is one of
// cosine|l2|euclidean|ip|dot|manhattan, defaulting to cosine.
func NewQdrant(dsn string, dimension int, metric string) (Index, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("vectorindex: qdrant requires dimension > 0")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: create qdrant client: %w", err)
	}
	return &qdrantIndex{
		client:    client,
		dimension: dimension,
		metric:    strings.ToLower(strings.TrimSpace(metric)),
		seen:      make(map[string]struct{}),
	}, nil
}

func collectionFor(userID string) string {
	return collectionPrefix + userID
}

func (q *qdrantIndex) distance() qdrant.Distance {
	switch q.metric {
	case "l2", "euclidean":
		return qdrant.Distance_Euclid
	case "ip", "dot":
		return qdrant.Distance_Dot
	case "manhattan":
		return qdrant.Distance_Manhattan
	default:
		return qdrant.Distance_Cosine
	}
}

func (q *qdrantIndex) Init(ctx context.Context, userID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	coll := collectionFor(userID)
	if _, ok := q.seen[coll]; ok {
		return nil
	}
	exists, err := q.client.CollectionExists(ctx, coll)
	if err != nil {
		return fmt.Errorf("vectorindex: check collection exists: %w", err)
	}
	if !exists {
		err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: coll,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(q.dimension),
				Distance: q.distance(),
			}),
		})
		if err != nil {
			return fmt.Errorf("vectorindex: create collection: %w", err)
		}
	}
	q.seen[coll] = struct{}{}
	return nil
}

func pointID(docID string) (string, bool) {
	if _, err := uuid.Parse(docID); err == nil {
		return docID, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(docID)).String(), true
}

func (q *qdrantIndex) Upsert(ctx context.Context, userID, docID string, vector []float32, metadata map[string]string) error {
	if err := q.Init(ctx, userID); err != nil {
		return err
	}
	uuidStr, remapped := pointID(docID)
	payload := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		payload[k] = v
	}
	if remapped {
		payload[originalIDField] = docID
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	points := []*qdrant.PointStruct{{
		Id:      qdrant.NewIDUUID(uuidStr),
		Vectors: qdrant.NewVectorsDense(vec),
		Payload: qdrant.NewValueMap(payload),
	}}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: collectionFor(userID), Points: points})
	return err
}

func (q *qdrantIndex) Delete(ctx context.Context, userID, docID string) (bool, error) {
	_, exists, err := q.GetVector(ctx, userID, docID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, nil
	}
	uuidStr, _ := pointID(docID)
	_, err = q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collectionFor(userID),
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(uuidStr)),
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *qdrantIndex) GetVector(ctx context.Context, userID, docID string) ([]float32, bool, error) {
	uuidStr, _ := pointID(docID)
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: collectionFor(userID),
		Ids:            []*qdrant.PointId{qdrant.NewIDUUID(uuidStr)},
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, false, err
	}
	if len(points) == 0 {
		return nil, false, nil
	}
	dense := points[0].GetVectors().GetVector().GetData()
	vec := make([]float32, len(dense))
	copy(vec, dense)
	return vec, true, nil
}

// scrollPageSize bounds a single Scroll call; GetAll pages through the full
// collection rather than assuming it fits in one response.
const scrollPageSize = 1000

func (q *qdrantIndex) GetAll(ctx context.Context, userID string) ([]Result, error) {
	var out []Result
	var offset *qdrant.PointId
	limit := uint32(scrollPageSize)
	for {
		resp, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: collectionFor(userID),
			Offset:         offset,
			Limit:          &limit,
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return nil, err
		}
		if len(resp) == 0 {
			break
		}
		for _, pt := range resp {
			out = append(out, Result{DocID: resolveDocID(pt.GetId(), pt.GetPayload()), Metadata: metadataFromPayload(pt.GetPayload())})
		}
		if len(resp) < scrollPageSize {
			break
		}
		offset = resp[len(resp)-1].GetId()
	}
	return out, nil
}

func (q *qdrantIndex) Search(ctx context.Context, userID string, queryVector []float32, limit int, threshold float64, typeFilter string) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := make([]float32, len(queryVector))
	copy(vec, queryVector)
	var filter *qdrant.Filter
	if typeFilter != "" {
		filter = &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch("type", typeFilter)}}
	}
	lim := uint64(limit)
	scoreThreshold := float32(threshold)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collectionFor(userID),
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &lim,
		Filter:         filter,
		ScoreThreshold: &scoreThreshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		out = append(out, Result{
			DocID:    resolveDocID(hit.GetId(), hit.GetPayload()),
			Score:    float64(hit.GetScore()),
			Metadata: metadataFromPayload(hit.GetPayload()),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].DocID < out[j].DocID
	})
	return out, nil
}

func resolveDocID(id *qdrant.PointId, payload map[string]*qdrant.Value) string {
	if payload != nil {
		if v, ok := payload[originalIDField]; ok {
			if s := v.GetStringValue(); s != "" {
				return s
			}
		}
	}
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return id.String()
}

func metadataFromPayload(payload map[string]*qdrant.Value) map[string]string {
	md := make(map[string]string, len(payload))
	for k, v := range payload {
		if k == originalIDField {
			continue
		}
		md[k] = v.GetStringValue()
	}
	return md
}

// Close releases the underlying gRPC connection.
func (q *qdrantIndex) Close() error { return q.client.Close() }
