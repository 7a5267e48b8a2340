package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	var gotAuth string
	var gotReq chatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "hello back"}},
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(slog.Default(), server.URL, "key", "test-model", time.Second)
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), "be nice", "hello", 256, 0.7)
	require.NoError(t, err)
	require.Equal(t, "hello back", out)
	require.Equal(t, "Bearer key", gotAuth)
	require.Equal(t, "test-model", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	require.Equal(t, "system", gotReq.Messages[0].Role)
}

func TestGenerateErrorSurfacesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(slog.Default(), server.URL, "key", "m", time.Second)
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "", "hi", 0, 0)
	require.ErrorContains(t, err, "model overloaded")
}

func TestRemoveCodeBlocks(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n[]\n```":            "[]",
		`{"plain":true}`:          `{"plain":true}`,
	}
	for in, want := range cases {
		require.Equal(t, want, RemoveCodeBlocks(in))
	}
}
