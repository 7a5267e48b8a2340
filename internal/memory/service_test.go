package memory

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/relaydesk/relaydesk/internal/backend"
)

type mockGenerator struct {
	GenerateFunc func(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float32) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float32) (string, error) {
	return m.GenerateFunc(ctx, systemPrompt, userPrompt, maxTokens, temperature)
}

type mockEmbedder struct {
	EmbedFunc func(ctx context.Context, input string) ([]float32, error)
}

func (m *mockEmbedder) Embed(ctx context.Context, input string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, input)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *mockEmbedder) Dimensions() int { return 3 }

type mockClient struct {
	SelectFunc func(ctx context.Context, table string, q backend.Query) ([]backend.Row, error)
	InsertFunc func(ctx context.Context, table string, rows ...backend.Row) ([]backend.Row, error)
	DeleteFunc func(ctx context.Context, table string, q backend.Query) error
	RPCFunc    func(ctx context.Context, name string, args map[string]any) ([]backend.Row, error)
}

func (m *mockClient) Select(ctx context.Context, table string, q backend.Query) ([]backend.Row, error) {
	if m.SelectFunc != nil {
		return m.SelectFunc(ctx, table, q)
	}
	return nil, nil
}

func (m *mockClient) Insert(ctx context.Context, table string, rows ...backend.Row) ([]backend.Row, error) {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, table, rows...)
	}
	return rows, nil
}

func (m *mockClient) Update(ctx context.Context, table string, q backend.Query, changes backend.Row) ([]backend.Row, error) {
	return nil, nil
}

func (m *mockClient) Delete(ctx context.Context, table string, q backend.Query) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, table, q)
	}
	return nil
}

func (m *mockClient) RPC(ctx context.Context, name string, args map[string]any) ([]backend.Row, error) {
	if m.RPCFunc != nil {
		return m.RPCFunc(ctx, name, args)
	}
	return nil, nil
}

func TestStoreInsertsPerCandidate(t *testing.T) {
	generator := &mockGenerator{
		GenerateFunc: func(context.Context, string, string, int, float32) (string, error) {
			return `{"memories": [{"content": "Name is Dana", "structured_data": {"name": "Dana"}}, {"content": "Lives in Lisbon"}]}`, nil
		},
	}
	var inserted []backend.Row
	client := &mockClient{
		InsertFunc: func(_ context.Context, table string, rows ...backend.Row) ([]backend.Row, error) {
			if table != memoriesTable {
				t.Fatalf("unexpected table %q", table)
			}
			inserted = append(inserted, rows...)
			return rows, nil
		},
	}
	svc := NewService(slog.Default(), generator, &mockEmbedder{})

	count, err := svc.Store(context.Background(), client, "hi, my name is Dana and I live in Lisbon", "subject-1", "msg-1")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if count != 2 || len(inserted) != 2 {
		t.Fatalf("expected 2 inserts, got count=%d rows=%d", count, len(inserted))
	}
	if inserted[0]["subject_id"] != "subject-1" || inserted[0]["message_id"] != "msg-1" {
		t.Fatalf("row missing subject/message ids: %+v", inserted[0])
	}
}

func TestStoreSkipsFailedCandidates(t *testing.T) {
	generator := &mockGenerator{
		GenerateFunc: func(context.Context, string, string, int, float32) (string, error) {
			return `{"memories": [{"content": "fact a"}, {"content": "fact b"}]}`, nil
		},
	}
	calls := 0
	embedder := &mockEmbedder{
		EmbedFunc: func(context.Context, string) ([]float32, error) {
			calls++
			if calls == 1 {
				return nil, errors.New("embedding down")
			}
			return []float32{1}, nil
		},
	}
	svc := NewService(slog.Default(), generator, embedder)

	count, err := svc.Store(context.Background(), &mockClient{}, "two facts", "s", "")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	// First candidate fails its embedding but the batch continues.
	if count != 1 {
		t.Fatalf("expected 1 stored, got %d", count)
	}
}

func TestStoreEmptyExtraction(t *testing.T) {
	generator := &mockGenerator{
		GenerateFunc: func(context.Context, string, string, int, float32) (string, error) {
			return "```json\n{\"memories\": []}\n```", nil
		},
	}
	svc := NewService(slog.Default(), generator, &mockEmbedder{})

	count, err := svc.Store(context.Background(), &mockClient{}, "hi", "s", "")
	if err != nil || count != 0 {
		t.Fatalf("expected 0 stored, got %d, %v", count, err)
	}
}

func TestRetrieveVectorHit(t *testing.T) {
	client := &mockClient{
		RPCFunc: func(_ context.Context, name string, args map[string]any) ([]backend.Row, error) {
			if name != matchMemoriesFn {
				t.Fatalf("unexpected rpc %q", name)
			}
			if args["match_threshold"] != matchThreshold {
				t.Fatalf("unexpected threshold %v", args["match_threshold"])
			}
			return []backend.Row{{"id": "m1", "content": "Prefers email", "similarity": 0.82}}, nil
		},
	}
	svc := NewService(slog.Default(), nil, &mockEmbedder{})

	result, err := svc.Retrieve(context.Background(), client, "subject-1", "contact preference", 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(result.Memories) != 1 || result.Memories[0].Similarity != 0.82 {
		t.Fatalf("unexpected memories: %+v", result.Memories)
	}
}

func TestRetrievePreferenceFallbackBeforeLocation(t *testing.T) {
	recencyFetches := 0
	keywordFetches := 0
	client := &mockClient{
		RPCFunc: func(context.Context, string, map[string]any) ([]backend.Row, error) {
			return nil, nil // zero vector hits
		},
		SelectFunc: func(_ context.Context, table string, q backend.Query) ([]backend.Row, error) {
			if table == contactsTable {
				return nil, nil
			}
			for _, f := range q.Filters {
				if f.Op == backend.OpILike {
					keywordFetches++
					return nil, nil
				}
			}
			recencyFetches++
			return []backend.Row{{"id": "m1", "content": "Favorite color is green"}}, nil
		},
	}
	svc := NewService(slog.Default(), nil, &mockEmbedder{})

	// "my favorite color" carries preference keywords; even though a query
	// could loosely match location terms too, the preference tier runs first.
	result, err := svc.Retrieve(context.Background(), client, "subject-1", "what is my favorite color", 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if recencyFetches == 0 || keywordFetches != 0 {
		t.Fatalf("expected preference fallback only: recency=%d keyword=%d", recencyFetches, keywordFetches)
	}
	if len(result.Memories) != 1 {
		t.Fatalf("expected fallback memories, got %+v", result.Memories)
	}
}

func TestRetrieveLocationFallback(t *testing.T) {
	client := &mockClient{
		SelectFunc: func(_ context.Context, table string, q backend.Query) ([]backend.Row, error) {
			if table != memoriesTable {
				return nil, nil
			}
			for _, f := range q.Filters {
				if f.Op == backend.OpILike {
					return []backend.Row{{"id": "m1", "content": "Lives in Lisbon"}}, nil
				}
			}
			return nil, nil
		},
	}
	embedder := &mockEmbedder{
		EmbedFunc: func(context.Context, string) ([]float32, error) {
			return nil, errors.New("embeddings down")
		},
	}
	svc := NewService(slog.Default(), nil, embedder)

	result, err := svc.Retrieve(context.Background(), client, "subject-1", "where does the customer reside", 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(result.Memories) != 1 || result.Memories[0].Content != "Lives in Lisbon" {
		t.Fatalf("expected keyword fallback hit, got %+v", result.Memories)
	}
}

func TestResolveSubjectNameFromMemories(t *testing.T) {
	client := &mockClient{
		RPCFunc: func(context.Context, string, map[string]any) ([]backend.Row, error) {
			return []backend.Row{{"id": "m1", "content": "my name is Dana"}}, nil
		},
	}
	svc := NewService(slog.Default(), nil, &mockEmbedder{})

	result, err := svc.Retrieve(context.Background(), client, "subject-1", "greeting", 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if result.SubjectName != "Dana" {
		t.Fatalf("expected name Dana, got %q", result.SubjectName)
	}
}

func TestResolveSubjectNameFromProfile(t *testing.T) {
	client := &mockClient{
		SelectFunc: func(_ context.Context, table string, q backend.Query) ([]backend.Row, error) {
			if table == contactsTable {
				return []backend.Row{{"name": "Sam", "notes": "VIP customer"}}, nil
			}
			return nil, nil
		},
	}
	svc := NewService(slog.Default(), nil, &mockEmbedder{})

	result, err := svc.Retrieve(context.Background(), client, "subject-1", "hello", 5)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if result.SubjectName != "Sam" || result.SubjectInfo != "VIP customer" {
		t.Fatalf("expected profile fallback, got %q/%q", result.SubjectName, result.SubjectInfo)
	}
}

func TestDeleteForMessage(t *testing.T) {
	var gotTable string
	var gotQuery backend.Query
	client := &mockClient{
		DeleteFunc: func(_ context.Context, table string, q backend.Query) error {
			gotTable = table
			gotQuery = q
			return nil
		},
	}
	svc := NewService(slog.Default(), nil, &mockEmbedder{})

	if err := svc.DeleteForMessage(context.Background(), client, "msg-9"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if gotTable != memoriesTable {
		t.Fatalf("unexpected table %q", gotTable)
	}
	if len(gotQuery.Filters) != 1 || gotQuery.Filters[0].Column != "message_id" || gotQuery.Filters[0].Value != "msg-9" {
		t.Fatalf("unexpected query %+v", gotQuery)
	}
}

func TestNameFromContent(t *testing.T) {
	cases := map[string]string{
		"my name is Dana":        "Dana",
		"Please call me Sam":     "Sam",
		"nothing name-like here": "",
	}
	for in, want := range cases {
		if got := nameFromContent(in); got != want {
			t.Errorf("nameFromContent(%q) = %q, want %q", in, got, want)
		}
	}
}
