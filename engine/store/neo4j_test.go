package store

import (
	"context"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brother-wolf/scrapers-lib/engine/timeline"
	"github.com/brother-wolf/scrapers-lib/pkg/repo"
)

type memRepo struct {
	byID map[string]timeline.Post
	opts repo.ListOpts
}

func (m *memRepo) Get(_ context.Context, id string) (timeline.Post, error) {
	p, ok := m.byID[id]
	if !ok {
		return timeline.Post{}, repo.ErrNotFound
	}
	return p, nil
}

func (m *memRepo) List(_ context.Context, opts repo.ListOpts) ([]timeline.Post, error) {
	m.opts = opts
	var out []timeline.Post
	for _, p := range m.byID {
		out = append(out, p)
	}
	return out, nil
}

func (m *memRepo) Upsert(_ context.Context, posts []timeline.Post) error {
	for _, p := range posts {
		m.byID[postToMap(p)["id"].(string)] = p
	}
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	delete(m.byID, id)
	return nil
}

func TestNeo4jSinkUsesRepo(t *testing.T) {
	r := &memRepo{byID: map[string]timeline.Post{}}
	n := &Neo4j{repo: r}
	ctx := context.Background()

	require.NoError(t, n.Write(ctx, samplePosts))
	require.NoError(t, n.Write(ctx, samplePosts))
	assert.Len(t, r.byID, 2)
	assert.Equal(t, samplePosts[1], r.byID["18446744073709551615"])

	_, err := n.Recent(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, repo.ListOpts{Limit: 5, OrderBy: "epoch"}, r.opts)
	assert.NoError(t, n.Close())
}

func TestPostNodeRoundTrip(t *testing.T) {
	p := samplePosts[1]
	rec := &neo4j.Record{
		Keys:   []string{"n"},
		Values: []any{neo4j.Node{Labels: []string{PostLabel}, Props: postToMap(p)}},
	}
	got, err := postFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestPostFromRecordErrors(t *testing.T) {
	_, err := postFromRecord(&neo4j.Record{Keys: []string{"m"}, Values: []any{1}})
	assert.Error(t, err)

	_, err = postFromRecord(&neo4j.Record{Keys: []string{"n"}, Values: []any{"not a node"}})
	assert.Error(t, err)

	bad := neo4j.Node{Props: map[string]any{"id": "-1"}}
	_, err = postFromRecord(&neo4j.Record{Keys: []string{"n"}, Values: []any{bad}})
	assert.Error(t, err)
}
