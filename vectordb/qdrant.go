package vectordb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	VectorSize uint64
}

type QdrantMemoryDB struct {
	Client     *qdrant.Client
	Collection string
	VectorSize uint64
}

// payload keys that get an index
var keywordIndexes = []string{"userId", "kind", "personalFacts_category", "guideId", "shape"}
var floatIndexes = []string{"importance"}
var integerIndexes = []string{"lastUpdatedAt"}

const scrollPage = 256

func NewQdrantMemoryDB(cfg QdrantConfig) (*QdrantMemoryDB, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(32 << 20)),
		},
	})
	if err != nil {
		slog.Error("Got this error while trying to intialise the qdrant memory db!", "error", err)
		return nil, err
	}
	return &QdrantMemoryDB{
		Client:     client,
		Collection: cfg.Collection,
		VectorSize: cfg.VectorSize,
	}, nil
}

// Probe checks the server and creates the collection and payload indexes on
// first use.
func (qdb *QdrantMemoryDB) Probe(ctx context.Context) error {
	if _, err := qdb.Client.HealthCheck(ctx); err != nil {
		return classify(err)
	}
	exists, err := qdb.Client.CollectionExists(ctx, qdb.Collection)
	if err != nil {
		return classify(err)
	}
	if exists {
		return nil
	}
	slog.Info("new collection being created!", "collection", qdb.Collection, "size", qdb.VectorSize)
	err = qdb.Client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: qdb.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     qdb.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return classify(err)
	}
	for _, field := range keywordIndexes {
		qdb.createIndex(ctx, field, qdrant.FieldType_FieldTypeKeyword)
	}
	for _, field := range floatIndexes {
		qdb.createIndex(ctx, field, qdrant.FieldType_FieldTypeFloat)
	}
	for _, field := range integerIndexes {
		qdb.createIndex(ctx, field, qdrant.FieldType_FieldTypeInteger)
	}
	return nil
}

func (qdb *QdrantMemoryDB) createIndex(ctx context.Context, field string, fieldType qdrant.FieldType) {
	_, err := qdb.Client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: qdb.Collection,
		FieldName:      field,
		FieldType:      &fieldType,
	})
	if err != nil {
		slog.Error("Got this error while trying to create a field index", "field", field, "error", err)
	}
}

func (qdb *QdrantMemoryDB) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	qpoints := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		payload, err := qdrant.TryValueMap(p.Payload)
		if err != nil {
			return fmt.Errorf("payload for %s: %w", p.ID, err)
		}
		qpoints = append(qpoints, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(p.ID),
			Vectors: qdrant.NewVectorsDense(p.Vector),
			Payload: payload,
		})
	}
	_, err := qdb.Client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qdb.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qpoints,
	})
	if err != nil {
		slog.Error("Got this error while upserting qdrant points", "error", err)
		return classify(err)
	}
	return nil
}

func (qdb *QdrantMemoryDB) Get(ctx context.Context, ids []string) ([]Point, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pointIds := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIds = append(pointIds, qdrant.NewIDUUID(id))
	}
	res, err := qdb.Client.Get(ctx, &qdrant.GetPoints{
		CollectionName: qdb.Collection,
		Ids:            pointIds,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, classify(err)
	}
	out := make([]Point, 0, len(res))
	for _, r := range res {
		out = append(out, Point{ID: r.GetId().GetUuid(), Payload: fromPayload(r.GetPayload())})
	}
	return out, nil
}

func (qdb *QdrantMemoryDB) Query(ctx context.Context, vector []float32, filter Filter, topK int, minScore float32) ([]ScoredPoint, error) {
	req := &qdrant.QueryPoints{
		CollectionName: qdb.Collection,
		Query:          qdrant.NewQueryDense(vector),
		Filter:         toQdrantFilter(filter),
		Limit:          qdrant.PtrOf(uint64(topK)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if minScore > 0 {
		req.ScoreThreshold = &minScore
	}
	res, err := qdb.Client.Query(ctx, req)
	if err != nil {
		slog.Error("Got this error while trying to get similar memories", "error", err)
		return nil, classify(err)
	}
	out := make([]ScoredPoint, 0, len(res))
	for _, r := range res {
		out = append(out, ScoredPoint{
			Point: Point{ID: r.GetId().GetUuid(), Payload: fromPayload(r.GetPayload())},
			Score: r.GetScore(),
		})
	}
	return out, nil
}

func (qdb *QdrantMemoryDB) Scroll(ctx context.Context, filter Filter, limit int) ([]Point, error) {
	var (
		out    []Point
		offset *qdrant.PointId
	)
	for {
		page := scrollPage
		if limit > 0 && limit-len(out) < page {
			page = limit - len(out)
		}
		// one extra point tells us where the next page starts
		res, err := qdb.Client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: qdb.Collection,
			Filter:         toQdrantFilter(filter),
			Offset:         offset,
			Limit:          qdrant.PtrOf(uint32(page + 1)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			slog.Error("Got this error while scrolling qdrant points", "error", err)
			return nil, classify(err)
		}
		offset = nil
		if len(res) > page {
			offset = res[page].GetId()
			res = res[:page]
		}
		for _, r := range res {
			out = append(out, Point{ID: r.GetId().GetUuid(), Payload: fromPayload(r.GetPayload())})
		}
		if offset == nil || (limit > 0 && len(out) >= limit) {
			return out, nil
		}
	}
}

func (qdb *QdrantMemoryDB) Delete(ctx context.Context, filter Filter) error {
	_, err := qdb.Client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qdb.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(toQdrantFilter(filter)),
	})
	if err != nil {
		slog.Error("Got this error while Deleting Memories", "error", err)
		return classify(err)
	}
	return nil
}

func (qdb *QdrantMemoryDB) Close() error {
	return qdb.Client.Close()
}

func toQdrantFilter(f Filter) *qdrant.Filter {
	if len(f.Must) == 0 {
		return nil
	}
	conds := make([]*qdrant.Condition, 0, len(f.Must))
	for _, c := range f.Must {
		switch {
		case c.Gte != nil:
			conds = append(conds, qdrant.NewRange(c.Key, &qdrant.Range{Gte: c.Gte}))
		case len(c.AnyOf) > 0:
			conds = append(conds, qdrant.NewMatchKeywords(c.Key, c.AnyOf...))
		default:
			conds = append(conds, qdrant.NewMatch(c.Key, c.Equals))
		}
	}
	return &qdrant.Filter{Must: conds}
}

func fromPayload(payload map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = kind.StringValue
		case *qdrant.Value_DoubleValue:
			out[k] = kind.DoubleValue
		case *qdrant.Value_IntegerValue:
			out[k] = kind.IntegerValue
		case *qdrant.Value_BoolValue:
			out[k] = kind.BoolValue
		}
	}
	return out
}

// classify maps transport failures onto ErrUnavailable so callers can tell
// an outage from a bad request.
func classify(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Unauthenticated, codes.PermissionDenied, codes.NotFound:
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}
