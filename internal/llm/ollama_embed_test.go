package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOllamaEmbeddingClientEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		vec := make([]float32, 4)
		for i := range vec {
			vec[i] = float32(len(req.Input) + i)
		}
		json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{vec}})
	}))
	defer srv.Close()

	os.Setenv("OLLAMA_EMBED_URL", srv.URL)
	defer os.Unsetenv("OLLAMA_EMBED_URL")

	client := NewOllamaEmbeddingClient(4)
	vecs, err := client.Embed(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		require.Len(t, v, 4)
	}
}

func TestOllamaEmbeddingClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer srv.Close()

	os.Setenv("OLLAMA_EMBED_URL", srv.URL)
	defer os.Unsetenv("OLLAMA_EMBED_URL")

	client := NewOllamaEmbeddingClient(4)
	_, err := client.Embed(context.Background(), []string{"a"})
	require.Error(t, err)
}
