package semantic

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"

	"github.com/brother-wolf/scrapers-lib/engine/timeline"
)

type mockPoints struct {
	upserted  *pb.UpsertPoints
	upsertErr error
	searched  *pb.SearchPoints
	searchRes *pb.SearchResponse
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upserted = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searched = in
	return m.searchRes, nil
}

type mockCollections struct {
	existing []string
	created  []*pb.CreateCollection
	listErr  error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	resp := &pb.ListCollectionsResponse{}
	for _, n := range m.existing {
		resp.Collections = append(resp.Collections, &pb.CollectionDescription{Name: n})
	}
	return resp, nil
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = append(m.created, in)
	return &pb.CollectionOperationResponse{Result: true}, nil
}

// lenEmbedder embeds text as [len(text), 1].
type lenEmbedder struct{ err error }

func (e lenEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func TestEnsureCollection(t *testing.T) {
	cols := &mockCollections{existing: []string{"timeline_posts"}}
	vs := NewWithClients(&mockPoints{}, cols, "timeline_posts")
	require.NoError(t, vs.EnsureCollection(context.Background(), 4))
	assert.Empty(t, cols.created)

	cols = &mockCollections{}
	vs = NewWithClients(&mockPoints{}, cols, "timeline_posts")
	require.NoError(t, vs.EnsureCollection(context.Background(), 4))
	require.Len(t, cols.created, 1)
	assert.Equal(t, uint64(4), cols.created[0].GetVectorsConfig().GetParams().GetSize())
}

func TestUpsertUsesPostIDs(t *testing.T) {
	pts := &mockPoints{}
	vs := NewWithClients(pts, &mockCollections{}, "c")
	post := timeline.NewPost(18446744073709551615, 1000, "hello")
	require.NoError(t, vs.Upsert(context.Background(), []VectorRecord{{Post: post, Embedding: []float32{1, 2}}}))

	require.Len(t, pts.upserted.GetPoints(), 1)
	p := pts.upserted.GetPoints()[0]
	assert.Equal(t, uint64(18446744073709551615), p.GetId().GetNum())
	assert.Equal(t, "hello", p.GetPayload()["content"].GetStringValue())
	assert.Equal(t, int64(1000), p.GetPayload()["epoch"].GetIntegerValue())
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	pts := &mockPoints{}
	require.NoError(t, NewWithClients(pts, &mockCollections{}, "c").Upsert(context.Background(), nil))
	assert.Nil(t, pts.upserted)
}

func TestSearchDecodesPosts(t *testing.T) {
	post := timeline.NewPost(7, 2000, "runway 27R")
	pts := &mockPoints{searchRes: &pb.SearchResponse{Result: []*pb.ScoredPoint{{
		Id:      &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: 7}},
		Score:   0.9,
		Payload: payload(post),
	}}}}
	res, err := NewWithClients(pts, &mockCollections{}, "c").Search(context.Background(), []float32{1}, 3)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, post, res[0].Post)
	assert.Equal(t, float32(0.9), res[0].Score)
	assert.Equal(t, uint64(3), pts.searched.GetLimit())
}

func TestIndexWrite(t *testing.T) {
	pts := &mockPoints{}
	cols := &mockCollections{}
	idx := NewIndex(NewWithClients(pts, cols, "c"), lenEmbedder{})
	posts := []timeline.Post{timeline.NewPost(1, 1, "abc"), timeline.NewPost(2, 2, "de")}

	require.NoError(t, idx.Write(context.Background(), posts))
	require.NoError(t, idx.Write(context.Background(), posts[:1]))
	assert.Len(t, cols.created, 1, "collection created once")
	assert.Len(t, pts.upserted.GetPoints(), 1)
	assert.NoError(t, idx.Close())
}

func TestIndexWriteRetriesFailedCollectionSetup(t *testing.T) {
	pts := &mockPoints{}
	cols := &mockCollections{listErr: errors.New("unavailable")}
	idx := NewIndex(NewWithClients(pts, cols, "c"), lenEmbedder{})
	posts := []timeline.Post{timeline.NewPost(1, 1, "abc")}

	assert.ErrorContains(t, idx.Write(context.Background(), posts), "unavailable")
	assert.Nil(t, pts.upserted)

	cols.listErr = nil
	require.NoError(t, idx.Write(context.Background(), posts))
	require.NoError(t, idx.Write(context.Background(), posts))
	assert.Len(t, cols.created, 1)
	assert.Len(t, pts.upserted.GetPoints(), 1)
}

func TestIndexWriteEmbedError(t *testing.T) {
	idx := NewIndex(NewWithClients(&mockPoints{}, &mockCollections{}, "c"), lenEmbedder{err: errors.New("model down")})
	err := idx.Write(context.Background(), []timeline.Post{timeline.NewPost(1, 1, "x")})
	assert.ErrorContains(t, err, "model down")
}

func TestIndexQuery(t *testing.T) {
	pts := &mockPoints{searchRes: &pb.SearchResponse{}}
	idx := NewIndex(NewWithClients(pts, &mockCollections{}, "c"), lenEmbedder{})

	_, err := idx.Query(context.Background(), "", 5)
	assert.Error(t, err)

	_, err = idx.Query(context.Background(), "abcd", 5)
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 1}, pts.searched.GetVector())
}
