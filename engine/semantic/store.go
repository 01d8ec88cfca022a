// Package semantic indexes post content in Qdrant for similarity search.
package semantic

import (
	"context"
	"errors"
	"fmt"
	"sync"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/brother-wolf/scrapers-lib/engine/timeline"
)

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore owns all Qdrant operations. Point ids are post ids.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// New creates a VectorStore connected to Qdrant at the given gRPC address.
func New(addr string, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients builds a store over existing clients.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection, if any.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			return nil
		}
	}

	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	return nil
}

// Upsert stores records keyed by post id; rewriting a post replaces its point.
func (v *VectorStore) Upsert(ctx context.Context, records []VectorRecord) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Num{Num: r.Post.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: payload(r.Post),
		}
	}

	wait := true
	_, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Search performs k-NN similarity search.
func (v *VectorStore) Search(ctx context.Context, embedding []float32, topK int) ([]SearchResult, error) {
	resp, err := v.points.Search(ctx, &pb.SearchPoints{
		CollectionName: v.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		p := r.GetPayload()
		results[i] = SearchResult{
			Post: timeline.Post{
				ID:       r.GetId().GetNum(),
				Epoch:    p["epoch"].GetIntegerValue(),
				DateTime: p["date_time"].GetStringValue(),
				Content:  p["content"].GetStringValue(),
			},
			Score: r.GetScore(),
		}
	}
	return results, nil
}

func payload(p timeline.Post) map[string]*pb.Value {
	return map[string]*pb.Value{
		"epoch":     {Kind: &pb.Value_IntegerValue{IntegerValue: p.Epoch}},
		"date_time": {Kind: &pb.Value_StringValue{StringValue: p.DateTime}},
		"content":   {Kind: &pb.Value_StringValue{StringValue: p.Content}},
	}
}

// Index embeds post content and writes it to a VectorStore. The collection
// is created on first write, sized to the first embedding.
type Index struct {
	store    *VectorStore
	embedder Embedder

	mu    sync.Mutex
	ready bool
}

// NewIndex creates an Index.
func NewIndex(store *VectorStore, embedder Embedder) *Index {
	return &Index{store: store, embedder: embedder}
}

// Write embeds and upserts posts.
func (x *Index) Write(ctx context.Context, posts []timeline.Post) error {
	if len(posts) == 0 {
		return nil
	}
	records := make([]VectorRecord, len(posts))
	for i, p := range posts {
		vec, err := x.embedder.Embed(ctx, p.Content)
		if err != nil {
			return fmt.Errorf("semantic: embed post %d: %w", p.ID, err)
		}
		records[i] = VectorRecord{Post: p, Embedding: vec}
	}
	if err := x.ensure(ctx, len(records[0].Embedding)); err != nil {
		return err
	}
	return x.store.Upsert(ctx, records)
}

// ensure creates the collection once; a failed attempt is retried on the
// next write.
func (x *Index) ensure(ctx context.Context, dim int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ready {
		return nil
	}
	if err := x.store.EnsureCollection(ctx, dim); err != nil {
		return err
	}
	x.ready = true
	return nil
}

// Query returns the topK posts closest to text.
func (x *Index) Query(ctx context.Context, text string, topK int) ([]SearchResult, error) {
	if text == "" {
		return nil, errors.New("semantic: empty query")
	}
	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("semantic: embed query: %w", err)
	}
	return x.store.Search(ctx, vec, topK)
}

func (x *Index) Close() error { return x.store.Close() }
