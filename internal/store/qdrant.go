package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/proto"

	"coderag/internal/types"
)

// prefixOverfetch widens a search when a path prefix has to be applied
// client side, since Qdrant keyword matches are exact.
const prefixOverfetch = 4

// metaID is the point holding collection metadata in every Qdrant
// collection.
var metaID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("coderag:collection-meta")).String()

type pendingCollection struct {
	model     string
	createdAt time.Time
}

// QdrantIndex implements Index on a Qdrant server, one Qdrant collection per
// index collection. Qdrant needs the vector size up front, so a collection
// initialized before its first upsert is held in memory until then.
type QdrantIndex struct {
	conn        *grpc.ClientConn
	points      qdrant.PointsClient
	collections qdrant.CollectionsClient
	log         *zap.Logger

	mu      sync.Mutex
	pending map[string]pendingCollection
}

var _ Index = (*QdrantIndex)(nil)

// OpenQdrant connects to the Qdrant gRPC endpoint at addr (host:port).
func OpenQdrant(addr string, log *zap.Logger) (*QdrantIndex, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect qdrant %s: %w", addr, err)
	}
	q := NewQdrantFromClients(qdrant.NewPointsClient(conn), qdrant.NewCollectionsClient(conn), log)
	q.conn = conn
	return q, nil
}

// NewQdrantFromClients builds an index on existing gRPC clients.
func NewQdrantFromClients(points qdrant.PointsClient, collections qdrant.CollectionsClient, log *zap.Logger) *QdrantIndex {
	if log == nil {
		log = zap.NewNop()
	}
	return &QdrantIndex{
		points:      points,
		collections: collections,
		log:         log.Named("qdrant"),
		pending:     make(map[string]pendingCollection),
	}
}

func (q *QdrantIndex) exists(ctx context.Context, name string) (bool, error) {
	resp, err := q.collections.CollectionExists(ctx, &qdrant.CollectionExistsRequest{CollectionName: name})
	if err != nil {
		return false, fmt.Errorf("check collection %s: %w", name, err)
	}
	return resp.GetResult().GetExists(), nil
}

func (q *QdrantIndex) Initialize(ctx context.Context, name, model string) (*types.Collection, error) {
	if name == "" || model == "" {
		return nil, fmt.Errorf("%w: collection name and model are required", types.ErrInvalidInput)
	}
	ok, err := q.exists(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		q.mu.Lock()
		p, held := q.pending[name]
		if !held {
			p = pendingCollection{model: model, createdAt: time.Now().UTC()}
			q.pending[name] = p
		}
		q.mu.Unlock()
		if p.model != model {
			return nil, fmt.Errorf("%w: collection %q was initialized with %q, configured model is %q",
				types.ErrModelMismatch, name, p.model, model)
		}
		return &types.Collection{Name: name, Model: model, CreatedAt: p.createdAt}, nil
	}

	col, err := q.GetCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	if col.Model != "" && col.Model != model {
		return nil, fmt.Errorf("%w: collection %q was built with %q, configured model is %q",
			types.ErrModelMismatch, name, col.Model, model)
	}
	return col, nil
}

// create makes the Qdrant collection for a pending entry and writes its
// metadata point.
func (q *QdrantIndex) create(ctx context.Context, name string, dim int) error {
	q.mu.Lock()
	p, ok := q.pending[name]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrCollectionNotFound, name)
	}

	_, err := q.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}

	unit := make([]float32, dim)
	unit[0] = 1
	_, err = q.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           proto.Bool(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(metaID),
			Vectors: denseVectors(unit),
			Payload: map[string]*qdrant.Value{
				"coderag_meta": qdrant.NewValueBool(true),
				"model":        qdrant.NewValueString(p.model),
				"created_at":   qdrant.NewValueInt(p.createdAt.Unix()),
			},
		}},
	})
	if err != nil {
		return fmt.Errorf("write collection metadata: %w", err)
	}

	q.mu.Lock()
	delete(q.pending, name)
	q.mu.Unlock()
	q.log.Info("created qdrant collection", zap.String("collection", name), zap.Int("dimension", dim))
	return nil
}

func (q *QdrantIndex) dimension(ctx context.Context, name string) (int, error) {
	resp, err := q.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		return 0, fmt.Errorf("get collection %s: %w", name, err)
	}
	return int(resp.GetResult().GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()), nil
}

func (q *QdrantIndex) Upsert(ctx context.Context, collection string, chunks []types.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks with %d vectors", types.ErrInvalidInput, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	ok, err := q.exists(ctx, collection)
	if err != nil {
		return err
	}
	want := len(vectors[0])
	if ok {
		if want, err = q.dimension(ctx, collection); err != nil {
			return err
		}
	}
	for i, v := range vectors {
		if len(v) == 0 || len(v) != want {
			return fmt.Errorf("%w: chunk %s has %d dimensions, collection %q expects %d",
				types.ErrDimensionMismatch, chunks[i].ID, len(v), collection, want)
		}
	}
	if !ok {
		if err := q.create(ctx, collection, want); err != nil {
			return err
		}
	}

	pts := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		pts[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(c.ID),
			Vectors: denseVectors(vectors[i]),
			Payload: chunkPayload(c),
		}
	}
	_, err = q.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Wait:           proto.Bool(true),
		Points:         pts,
	})
	if err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

func (q *QdrantIndex) Search(ctx context.Context, collection string, vector []float32, topK int, filter types.Filter) ([]types.Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", types.ErrInvalidInput, topK)
	}
	ok, err := q.exists(ctx, collection)
	if err != nil {
		return nil, err
	}
	if !ok {
		if q.isPending(collection) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", types.ErrCollectionNotFound, collection)
	}
	dim, err := q.dimension(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(vector) != dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, collection %q expects %d",
			types.ErrDimensionMismatch, len(vector), collection, dim)
	}

	limit := topK
	if filter.PathPrefix != "" {
		limit = topK * prefixOverfetch
	}
	resp, err := q.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: collection,
		Vector:         vector,
		Limit:          uint64(limit),
		Filter:         searchFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var out []types.Match
	for _, hit := range resp.GetResult() {
		c := payloadChunk(hit.GetPayload())
		c.ID = hit.GetId().GetUuid()
		c.Collection = collection
		if filter.PathPrefix != "" && !strings.HasPrefix(c.FilePath, filter.PathPrefix) {
			continue
		}
		out = append(out, types.Match{Chunk: c, Score: float64(hit.GetScore())})
		if len(out) == topK {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Chunk.FilePath != out[j].Chunk.FilePath {
			return out[i].Chunk.FilePath < out[j].Chunk.FilePath
		}
		return out[i].Chunk.StartLine < out[j].Chunk.StartLine
	})
	return out, nil
}

func (q *QdrantIndex) PruneFile(ctx context.Context, collection, path string, keepIDs []string) (int, error) {
	ok, err := q.exists(ctx, collection)
	if err != nil || !ok {
		return 0, err
	}
	f := &qdrant.Filter{Must: []*qdrant.Condition{keyword("path", path)}}
	if len(keepIDs) > 0 {
		ids := make([]*qdrant.PointId, len(keepIDs))
		for i, id := range keepIDs {
			ids[i] = qdrant.NewID(id)
		}
		f.MustNot = []*qdrant.Condition{hasID(ids...)}
	}

	count, err := q.points.Count(ctx, &qdrant.CountPoints{CollectionName: collection, Filter: f, Exact: proto.Bool(true)})
	if err != nil {
		return 0, fmt.Errorf("count stale points: %w", err)
	}
	n := int(count.GetResult().GetCount())
	if n == 0 {
		return 0, nil
	}
	_, err = q.points.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Wait:           proto.Bool(true),
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: f},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", path, err)
	}
	return n, nil
}

func (q *QdrantIndex) DeleteCollection(ctx context.Context, name string) error {
	if q.dropPending(name) {
		return nil
	}
	ok, err := q.exists(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", types.ErrCollectionNotFound, name)
	}
	if _, err := q.collections.Delete(ctx, &qdrant.DeleteCollection{CollectionName: name}); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	return nil
}

func (q *QdrantIndex) ListCollections(ctx context.Context) ([]types.Collection, error) {
	resp, err := q.collections.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	var out []types.Collection
	seen := make(map[string]bool)
	for _, d := range resp.GetCollections() {
		col, err := q.GetCollection(ctx, d.GetName())
		if err != nil {
			return nil, err
		}
		seen[col.Name] = true
		out = append(out, *col)
	}
	q.mu.Lock()
	for name, p := range q.pending {
		if !seen[name] {
			out = append(out, types.Collection{Name: name, Model: p.model, CreatedAt: p.createdAt})
		}
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (q *QdrantIndex) GetCollection(ctx context.Context, name string) (*types.Collection, error) {
	q.mu.Lock()
	p, held := q.pending[name]
	q.mu.Unlock()
	if held {
		return &types.Collection{Name: name, Model: p.model, CreatedAt: p.createdAt}, nil
	}

	info, err := q.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		ok, xerr := q.exists(ctx, name)
		if xerr == nil && !ok {
			return nil, fmt.Errorf("%w: %s", types.ErrCollectionNotFound, name)
		}
		return nil, fmt.Errorf("get collection %s: %w", name, err)
	}
	res := info.GetResult()
	col := &types.Collection{
		Name:      name,
		Dimension: int(res.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()),
	}

	meta, err := q.points.Get(ctx, &qdrant.GetPoints{
		CollectionName: name,
		Ids:            []*qdrant.PointId{qdrant.NewID(metaID)},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("read collection metadata: %w", err)
	}
	points := int(res.GetPointsCount())
	if found := meta.GetResult(); len(found) > 0 {
		payload := found[0].GetPayload()
		col.Model = payload["model"].GetStringValue()
		col.CreatedAt = time.Unix(payload["created_at"].GetIntegerValue(), 0).UTC()
		points--
	}
	col.Chunks = max(points, 0)
	return col, nil
}

func (q *QdrantIndex) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

func (q *QdrantIndex) isPending(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[name]
	return ok
}

func (q *QdrantIndex) dropPending(name string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.pending[name]; !ok {
		return false
	}
	delete(q.pending, name)
	return true
}

func chunkPayload(c types.Chunk) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		"path":         qdrant.NewValueString(c.FilePath),
		"language":     qdrant.NewValueString(c.Language),
		"kind":         qdrant.NewValueString(string(c.Kind)),
		"name":         qdrant.NewValueString(c.Name),
		"start_line":   qdrant.NewValueInt(int64(c.StartLine)),
		"end_line":     qdrant.NewValueInt(int64(c.EndLine)),
		"content":      qdrant.NewValueString(c.Content),
		"content_hash": qdrant.NewValueString(c.ContentHash),
		"strategy":     qdrant.NewValueString(string(c.Strategy)),
		"tokens":       qdrant.NewValueInt(int64(c.Tokens)),
	}
}

func payloadChunk(p map[string]*qdrant.Value) types.Chunk {
	return types.Chunk{
		FilePath:    p["path"].GetStringValue(),
		Language:    p["language"].GetStringValue(),
		Kind:        types.ChunkKind(p["kind"].GetStringValue()),
		Name:        p["name"].GetStringValue(),
		StartLine:   int(p["start_line"].GetIntegerValue()),
		EndLine:     int(p["end_line"].GetIntegerValue()),
		Content:     p["content"].GetStringValue(),
		ContentHash: p["content_hash"].GetStringValue(),
		Strategy:    types.Strategy(p["strategy"].GetStringValue()),
		Tokens:      int(p["tokens"].GetIntegerValue()),
	}
}

// searchFilter translates exact-match predicates and always excludes the
// metadata point.
func searchFilter(f types.Filter) *qdrant.Filter {
	out := &qdrant.Filter{MustNot: []*qdrant.Condition{hasID(qdrant.NewID(metaID))}}
	for key, val := range map[string]string{
		"path":     f.FilePath,
		"kind":     string(f.Kind),
		"language": f.Language,
		"name":     f.Name,
	} {
		if val != "" {
			out.Must = append(out.Must, keyword(key, val))
		}
	}
	sort.Slice(out.Must, func(i, j int) bool {
		return out.Must[i].GetField().GetKey() < out.Must[j].GetField().GetKey()
	})
	return out
}

func denseVectors(v []float32) *qdrant.Vectors {
	return &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: v}}}
}

func keyword(key, val string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: val}},
			},
		},
	}
}

func hasID(ids ...*qdrant.PointId) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_HasId{HasId: &qdrant.HasIdCondition{HasId: ids}},
	}
}
