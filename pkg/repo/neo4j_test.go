package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type mockResult struct {
	records []*neo4j.Record
	idx     int
	err     error
}

func (m *mockResult) Next(ctx context.Context) bool {
	if m.idx < len(m.records) {
		m.idx++
		return true
	}
	return false
}

func (m *mockResult) Record() *neo4j.Record { return m.records[m.idx-1] }
func (m *mockResult) Err() error            { return m.err }

type mockRunner struct {
	result  *mockResult
	err     error
	cyphers []string
	params  []map[string]any
	closed  int
}

func (m *mockRunner) Run(ctx context.Context, cypher string, params map[string]any) (result, error) {
	m.cyphers = append(m.cyphers, cypher)
	m.params = append(m.params, params)
	if m.err != nil {
		return nil, m.err
	}
	if m.result == nil {
		return &mockResult{}, nil
	}
	return m.result, nil
}

func (m *mockRunner) Close(ctx context.Context) error { m.closed++; return nil }

type entity struct {
	ID   string
	Name string
}

func makeRecord(id, name string) *neo4j.Record {
	return &neo4j.Record{
		Values: []any{map[string]any{"id": id, "name": name}},
		Keys:   []string{"n"},
	}
}

func newTestRepo(r *mockRunner) *Neo4jRepo[entity, string] {
	repo := NewNeo4jRepo[entity, string](
		nil, "Entity",
		func(e entity) map[string]any { return map[string]any{"id": e.ID, "name": e.Name} },
		func(rec *neo4j.Record) (entity, error) {
			m, ok := rec.Values[0].(map[string]any)
			if !ok {
				return entity{}, errors.New("bad type")
			}
			return entity{ID: m["id"].(string), Name: m["name"].(string)}, nil
		},
	)
	repo.newSession = func(ctx context.Context) runner { return r }
	return repo
}

func TestNewNeo4jRepoOptions(t *testing.T) {
	r := NewNeo4jRepo[entity, string](nil, "Node", nil, nil,
		WithIDKey[entity, string]("uuid"), WithDatabase[entity, string]("posts"))
	if r.idKey != "uuid" || r.database != "posts" {
		t.Fatalf("options not applied: idKey=%s database=%s", r.idKey, r.database)
	}
	if NewNeo4jRepo[entity, string](nil, "Node", nil, nil).idKey != "id" {
		t.Fatal("expected default idKey=id")
	}
}

func TestGet(t *testing.T) {
	mr := &mockRunner{result: &mockResult{records: []*neo4j.Record{makeRecord("1", "a")}}}
	got, err := newTestRepo(mr).Get(context.Background(), "1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "a" {
		t.Fatalf("got %+v", got)
	}
	if mr.closed != 1 {
		t.Fatalf("session not closed")
	}
}

func TestGetNotFound(t *testing.T) {
	_, err := newTestRepo(&mockRunner{}).Get(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetResultError(t *testing.T) {
	boom := errors.New("stream broke")
	_, err := newTestRepo(&mockRunner{result: &mockResult{err: boom}}).Get(context.Background(), "1")
	if !errors.Is(err, boom) {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestListOrdering(t *testing.T) {
	mr := &mockRunner{result: &mockResult{records: []*neo4j.Record{makeRecord("1", "a"), makeRecord("2", "b")}}}
	items, err := newTestRepo(mr).List(context.Background(), ListOpts{OrderBy: "epoch", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if !strings.Contains(mr.cyphers[0], "ORDER BY n.epoch DESC") {
		t.Fatalf("missing order clause: %s", mr.cyphers[0])
	}
	if mr.params[0]["limit"] != 5 {
		t.Fatalf("limit not passed: %v", mr.params[0])
	}
}

func TestListDefaultLimit(t *testing.T) {
	mr := &mockRunner{}
	if _, err := newTestRepo(mr).List(context.Background(), ListOpts{}); err != nil {
		t.Fatal(err)
	}
	if mr.params[0]["limit"] != 100 {
		t.Fatalf("expected default limit 100, got %v", mr.params[0]["limit"])
	}
}

func TestUpsertMerges(t *testing.T) {
	mr := &mockRunner{}
	err := newTestRepo(mr).Upsert(context.Background(), []entity{{"1", "a"}, {"2", "b"}})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(mr.cyphers[0], "MERGE (n:Entity {id: row.id})") {
		t.Fatalf("unexpected cypher: %s", mr.cyphers[0])
	}
	rows := mr.params[0]["rows"].([]any)
	if len(rows) != 2 || rows[1].(map[string]any)["name"] != "b" {
		t.Fatalf("unexpected rows: %v", rows)
	}
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	mr := &mockRunner{}
	if err := newTestRepo(mr).Upsert(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(mr.cyphers) != 0 {
		t.Fatal("expected no query")
	}
}

func TestRunErrorsPropagate(t *testing.T) {
	boom := errors.New("down")
	repo := newTestRepo(&mockRunner{err: boom})
	ctx := context.Background()
	if err := repo.Upsert(ctx, []entity{{"1", "a"}}); !errors.Is(err, boom) {
		t.Fatalf("Upsert: %v", err)
	}
	if err := repo.Delete(ctx, "1"); !errors.Is(err, boom) {
		t.Fatalf("Delete: %v", err)
	}
	if err := repo.EnsureConstraint(ctx); !errors.Is(err, boom) {
		t.Fatalf("EnsureConstraint: %v", err)
	}
}
